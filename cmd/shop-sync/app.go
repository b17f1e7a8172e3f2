package main

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/BearBump/ShopTrack/config"
	"github.com/BearBump/ShopTrack/internal/api/shopapi"
	"github.com/BearBump/ShopTrack/internal/broker/kafka"
	"github.com/BearBump/ShopTrack/internal/broker/messages"
	"github.com/BearBump/ShopTrack/internal/cache/rediscache"
	"github.com/BearBump/ShopTrack/internal/cache/trackingcache"
	"github.com/BearBump/ShopTrack/internal/eventbus"
	"github.com/BearBump/ShopTrack/internal/integrations/provider"
	"github.com/BearBump/ShopTrack/internal/integrations/provider/fake"
	"github.com/BearBump/ShopTrack/internal/integrations/provider/httpprovider"
	"github.com/BearBump/ShopTrack/internal/integrations/provider/track24http"
	"github.com/BearBump/ShopTrack/internal/notifications"
	"github.com/BearBump/ShopTrack/internal/services/orders"
	"github.com/BearBump/ShopTrack/internal/services/poller"
	"github.com/BearBump/ShopTrack/internal/storage/pgorders"
	"github.com/BearBump/ShopTrack/internal/storage/redisstate"
	"github.com/BearBump/ShopTrack/internal/storage/sqlitestate"
	"github.com/BearBump/ShopTrack/internal/webhook"
	"github.com/pkg/errors"
)

const (
	defaultHTTPAddr    = ":8080"
	defaultStatePath   = "data/shop-sync.db"
	defaultSwaggerPath = "api/shop-sync.swagger.json"
)

type orderStorage interface {
	orders.Repository
	Ping(ctx context.Context) error
}

type statePersister interface {
	notifications.Persister
	Ping(ctx context.Context) error
}

type cacheBackend interface {
	trackingcache.SnapshotStore
	orders.BytesCache
	Ping(ctx context.Context) error
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

// appFactories собирают внешние зависимости; в тестах подменяются на фейки.
// newCache, newProducer, newRateLimiter и newConsumer могут вернуть nil,
// если соответствующий сервис не настроен.
type appFactories struct {
	newOrderStorage   func(ctx context.Context, cfg *config.Config) (repo orderStorage, closeFn func(), err error)
	newStatePersister func(ctx context.Context, cfg *config.Config) (p statePersister, closeFn func(), err error)
	newCache          func(cfg *config.Config) cacheBackend
	newProducer       func(cfg *config.Config) poller.Producer
	newRateLimiter    func(cfg *config.Config) poller.RateLimiter
	newConsumer       func(cfg *config.Config) kafkaConsumer
	newProviderClient func(cfg *config.Config) provider.Client
}

func defaultAppFactories() appFactories {
	return appFactories{
		newOrderStorage: func(ctx context.Context, cfg *config.Config) (orderStorage, func(), error) {
			st, err := pgorders.New(ctx, cfg.PostgresDSN())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newStatePersister: func(ctx context.Context, cfg *config.Config) (statePersister, func(), error) {
			switch cfg.ShopTrack.StateBackend {
			case "redis":
				addr := cfg.RedisAddr()
				if addr == "" {
					return nil, nil, errors.New("state_backend redis requires redis host")
				}
				st := redisstate.New(addr)
				return st, func() { _ = st.Close() }, nil
			case "", "sqlite":
				path := cfg.ShopTrack.StatePath
				if path == "" {
					path = defaultStatePath
				}
				st, err := sqlitestate.Open(ctx, path)
				if err != nil {
					return nil, nil, err
				}
				return st, func() { _ = st.Close() }, nil
			default:
				return nil, nil, errors.Errorf("unknown state backend %q", cfg.ShopTrack.StateBackend)
			}
		},
		newCache: func(cfg *config.Config) cacheBackend {
			addr := cfg.RedisAddr()
			if addr == "" {
				return nil
			}
			ttl := time.Duration(cfg.ShopTrack.SnapshotTTLHours) * time.Hour
			return rediscache.New(addr).WithSnapshotTTL(ttl)
		},
		newProducer: func(cfg *config.Config) poller.Producer {
			brokers := cfg.KafkaBrokers()
			if len(brokers) == 0 {
				return nil
			}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) poller.RateLimiter {
			addr := cfg.RedisAddr()
			if addr == "" {
				return nil
			}
			return rediscache.NewRateLimiter(addr)
		},
		newConsumer: func(cfg *config.Config) kafkaConsumer {
			brokers := cfg.KafkaBrokers()
			if len(brokers) == 0 {
				return nil
			}
			topic := cfg.Kafka.OrderChangedTopicName
			if topic == "" {
				topic = "order.changed"
			}
			group := cfg.ShopTrack.KafkaConsumerGroup
			if group == "" {
				group = "shop-sync"
			}
			return kafka.NewConsumer(brokers, topic, group)
		},
		newProviderClient: func(cfg *config.Config) provider.Client {
			s := cfg.ShopTrack
			timeout := time.Duration(s.ProviderTimeoutSeconds) * time.Second
			// Без base_url работаем на локальном fake: удобно для демо и тестов.
			if s.ProviderBaseURL == "" {
				return fake.New()
			}
			switch s.ProviderMode {
			case "http":
				return httpprovider.New(s.ProviderBaseURL, s.ProviderAPIKey, timeout)
			case "track24":
				return track24http.New(s.ProviderBaseURL, s.ProviderAPIKey, s.ProviderDomain, timeout)
			default:
				return fake.New()
			}
		},
	}
}

type runOpts struct {
	onListen func(httpAddr string)
	// onReady is called once the store is loaded and the sweep has run.
	onReady func(a *app)
}

// app holds the wired components; exposed to tests through runOpts.onReady.
type app struct {
	bus     *eventbus.Bus
	store   *notifications.Store
	tracker *trackingcache.Cache
	orders  *orders.Service
	poller  *poller.Poller
	emitter *webhook.Emitter
}

// newWebhookEmitter отключает вебхук, если секрет для подписи не задан:
// неподписанные запросы получатель не сможет проверить.
func newWebhookEmitter(cfg *config.Config) *webhook.Emitter {
	s := cfg.ShopTrack
	url := s.WebhookURL
	secret := cfg.WebhookSecret()
	if url != "" && secret == "" {
		slog.Warn("webhook disabled: signing secret is empty", "url", url, "secret_env", s.WebhookSecretEnv)
		url = ""
	}
	return webhook.NewEmitter(url, webhook.NewSigner(secret), time.Duration(s.WebhookTimeoutSeconds)*time.Second)
}

func plannerConfig(s config.ShopTrackConfig) poller.PlannerConfig {
	return poller.PlannerConfig{
		TerminalMaxAge:   time.Duration(s.FreshTerminalSeconds) * time.Second,
		InProgressMinAge: time.Duration(s.FreshInProgressMinSeconds) * time.Second,
		InProgressMaxAge: time.Duration(s.FreshInProgressMaxSeconds) * time.Second,
		OnHoldMaxAge:     time.Duration(s.FreshOnHoldSeconds) * time.Second,
	}
}

func RunShopSync(ctx context.Context, cfg *config.Config, f appFactories, opts runOpts) error {
	s := cfg.ShopTrack

	topic := cfg.Kafka.TrackingUpdatedTopicName
	if topic == "" {
		topic = "tracking.updated"
	}
	httpAddr := s.HTTPAddr
	if httpAddr == "" {
		httpAddr = defaultHTTPAddr
	}
	swaggerPath := s.SwaggerPath
	if swaggerPath == "" {
		swaggerPath = defaultSwaggerPath
	}
	dedup, err := notifications.ParseDedupMode(s.DedupMode)
	if err != nil {
		return err
	}

	repo, closeRepo, err := f.newOrderStorage(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "open orders storage")
	}
	if closeRepo != nil {
		defer closeRepo()
	}

	persister, closeState, err := f.newStatePersister(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "open state storage")
	}
	if closeState != nil {
		defer closeState()
	}

	cache := f.newCache(cfg)
	var snapshots trackingcache.SnapshotStore
	if cache != nil {
		snapshots = cache
	}

	a := &app{bus: eventbus.New()}

	a.tracker = trackingcache.New(f.newProviderClient(cfg), snapshots)
	if n, err := a.tracker.Load(ctx); err != nil {
		// Кэш снапшотов необязателен: стартуем с пустым.
		slog.Warn("warm tracking cache", "error", err.Error())
	} else {
		slog.Info("tracking cache warmed", "snapshots", n)
	}

	a.store = notifications.New(persister).
		WithCap(s.NotificationLogCap).
		WithDedupMode(dedup)
	if err := a.store.Load(ctx); err != nil {
		return errors.Wrap(err, "load notifications")
	}
	unsubscribe := a.bus.Subscribe(a.store.Handle)
	defer unsubscribe()

	a.emitter = newWebhookEmitter(cfg)

	a.orders = orders.New(repo, a.bus, a.emitter).
		WithLookback(time.Duration(s.OpenOrderLookbackDays) * 24 * time.Hour).
		WithTracker(a.tracker)
	if cache != nil {
		a.orders = a.orders.WithListCache(cache, time.Duration(s.OpenOrdersCacheSeconds)*time.Second)
	}

	if cfg.InitialSweepEnabled() {
		candidates, err := a.orders.SweepCandidates(ctx)
		if err != nil {
			slog.Warn("initial sweep skipped", "error", err.Error())
		} else if _, _, err := a.store.InitialSweep(ctx, candidates); err != nil {
			slog.Warn("initial sweep", "error", err.Error())
		}
	}

	a.poller = poller.New(a.tracker, a.orders, a.bus, f.newProducer(cfg), f.newRateLimiter(cfg), topic).
		WithSettings(
			time.Duration(s.PollIntervalSeconds)*time.Second,
			s.PollConcurrency,
			int64(s.RateLimitPerMinute),
		).
		WithPlanner(plannerConfig(s))

	checks := []shopapi.ReadyCheck{
		{Name: "orders_db", Check: repo.Ping},
		{Name: "state", Check: persister.Ping},
	}
	if cache != nil {
		checks = append(checks, shopapi.ReadyCheck{Name: "redis", Check: cache.Ping})
	}
	api := shopapi.New(shopapi.Options{
		Notifications: a.store,
		Trackings:     a.tracker,
		Orders:        a.orders,
		Poller:        a.poller,
		ReadyChecks:   checks,
		SwaggerPath:   swaggerPath,
	})

	lis, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(runCtx, lis, api.Routes())
	}()

	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		slog.Info("poller started", "topic", topic)
		// Первый цикл сразу после старта, не дожидаясь тика.
		a.poller.Trigger()
		_ = a.poller.Run(runCtx)
	}()

	consumeDone := make(chan struct{})
	if consumer := f.newConsumer(cfg); consumer != nil {
		go func() {
			defer close(consumeDone)
			slog.Info("kafka consumer started", "topic", cfg.Kafka.OrderChangedTopicName, "group", s.KafkaConsumerGroup)
			err := consumer.Consume(runCtx, kafka.OrderChangedHandler(runCtx, a.applyOrderChanged))
			if err != nil && runCtx.Err() == nil {
				slog.Error("kafka consumer stopped", "error", err.Error())
			}
		}()
	} else {
		close(consumeDone)
	}

	if opts.onReady != nil {
		opts.onReady(a)
	}

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-httpErr:
		runErr = err
	}

	stop()
	<-pollDone
	<-consumeDone
	a.shutdown()
	return runErr
}

func (a *app) applyOrderChanged(ctx context.Context, m messages.OrderChanged) error {
	err := a.orders.HandleMutation(ctx, m.Action, m.Order, m.Actor)
	if errors.Is(err, orders.ErrInvalidMutation) {
		return errors.Wrap(kafka.ErrMalformed, err.Error())
	}
	return err
}

// shutdown дожидается фоновых вебхуков и записи состояния.
func (a *app) shutdown() {
	a.emitter.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.Flush(ctx); err != nil {
		slog.Error("flush notifications", "error", err.Error())
	}
}
