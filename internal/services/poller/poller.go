package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/ShopTrack/internal/broker/messages"
	"github.com/BearBump/ShopTrack/internal/cache/trackingcache"
	"github.com/BearBump/ShopTrack/internal/eventbus"
	"github.com/BearBump/ShopTrack/internal/metrics"
	"github.com/BearBump/ShopTrack/internal/models"
	"github.com/BearBump/ShopTrack/internal/status"
	"github.com/pkg/errors"
)

type Tracker interface {
	Get(parcelCode string) (models.TrackingSnapshot, bool)
	Update(ctx context.Context, parcelCode string) (trackingcache.Update, error)
}

type OrderSource interface {
	OpenOrders(ctx context.Context) ([]models.Order, error)
}

type Publisher interface {
	Publish(ctx context.Context, ev eventbus.Event)
}

type Producer interface {
	PublishJSON(ctx context.Context, topic, key string, v any) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

const ActorPoller = "poller"

type Poller struct {
	tracker  Tracker
	orders   OrderSource
	bus      Publisher
	producer Producer
	rl       RateLimiter

	topic string

	planner *Planner
	now     func() time.Time

	pollInterval       time.Duration
	concurrency        int
	rateLimitPerMinute int64

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalCycles         atomic.Int64
	totalRefreshed      atomic.Int64
	totalChanged        atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

// New creates a poller. bus, producer and rl may be nil.
func New(tracker Tracker, orders OrderSource, bus Publisher, producer Producer, rl RateLimiter, topic string) *Poller {
	return &Poller{
		tracker: tracker, orders: orders, bus: bus, producer: producer, rl: rl, topic: topic,
		planner:           DefaultPlanner(),
		now:               func() time.Time { return time.Now().UTC() },
		pollInterval:      60 * time.Second,
		concurrency:       6,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (p *Poller) WithSettings(pollInterval time.Duration, concurrency int, rlPerMin int64) *Poller {
	if pollInterval > 0 {
		p.pollInterval = pollInterval
	}
	if concurrency > 0 {
		p.concurrency = concurrency
	}
	if rlPerMin > 0 {
		p.rateLimitPerMinute = rlPerMin
	}
	return p
}

func (p *Poller) WithPlanner(cfg PlannerConfig) *Poller {
	p.planner = NewPlanner(cfg, nil)
	return p
}

func (p *Poller) WithClock(now func() time.Time) *Poller {
	if now != nil {
		p.now = now
	}
	return p
}

// Trigger forces an immediate poll cycle (best-effort, non-blocking).
func (p *Poller) Trigger() {
	p.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalCycles    int64      `json:"totalCycles"`
	TotalRefreshed int64      `json:"totalRefreshed"`
	TotalChanged   int64      `json:"totalChanged"`
	TotalErrors    int64      `json:"totalErrors"`
	InFlight       int64      `json:"inFlight"`
	Concurrency    int        `json:"concurrency"`
	LastError      string     `json:"lastError,omitempty"`
}

func (p *Poller) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, p.startedAtUnixNano).UTC(),
		TotalCycles:    p.totalCycles.Load(),
		TotalRefreshed: p.totalRefreshed.Load(),
		TotalChanged:   p.totalChanged.Load(),
		TotalErrors:    p.totalErrors.Load(),
		InFlight:       p.inFlight.Load(),
		Concurrency:    p.concurrency,
	}
	if n := p.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := p.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	p.lastErrorMu.Lock()
	st.LastError = p.lastError
	p.lastErrorMu.Unlock()
	return st
}

func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.cycle(ctx)
		case <-p.triggerCh:
			p.cycle(ctx)
		}
	}
}

func (p *Poller) cycle(ctx context.Context) {
	if _, err := p.RunOnce(ctx); err != nil {
		p.setLastError(err)
		slog.Error("poll cycle", "error", err.Error())
	}
}

// Result summarizes one PollAll call.
type Result struct {
	Requested   int
	Fresh       int
	Refreshed   int
	Failed      int
	RateLimited int
	Changed     []trackingcache.Update
}

// PollAll refreshes every code that is not cached or whose snapshot is
// stale. At most concurrency fetches are in flight; a failed fetch keeps the
// previous snapshot and does not affect the others.
func (p *Poller) PollAll(ctx context.Context, parcelCodes []string) Result {
	codes := uniqueCodes(parcelCodes)
	res := Result{Requested: len(codes)}
	now := p.now()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		sem     = make(chan struct{}, p.concurrency)
		limited bool
	)
	for _, code := range codes {
		if snap, ok := p.tracker.Get(code); ok && !p.planner.Due(snap, now) {
			res.Fresh++
			continue
		}
		if limited || !p.allow(ctx, now) {
			limited = true
			res.RateLimited++
			metrics.TrackingRefreshes.WithLabelValues("rate_limited").Inc()
			continue
		}
		if ctx.Err() != nil {
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		p.inFlight.Add(1)
		metrics.PollInFlight.Inc()
		go func(code string) {
			defer func() {
				p.inFlight.Add(-1)
				metrics.PollInFlight.Dec()
				<-sem
				wg.Done()
			}()

			u, err := p.tracker.Update(ctx, code)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				p.totalErrors.Add(1)
				p.setLastError(err)
				if errors.Is(err, trackingcache.ErrNotFound) {
					metrics.TrackingRefreshes.WithLabelValues("not_found").Inc()
				} else {
					metrics.TrackingRefreshes.WithLabelValues("unavailable").Inc()
				}
				slog.Warn("refresh tracking", "parcel_code", code, "error", err.Error())
				return
			}
			res.Refreshed++
			p.totalRefreshed.Add(1)
			if u.Changed() {
				res.Changed = append(res.Changed, u)
				p.totalChanged.Add(1)
				metrics.TrackingRefreshes.WithLabelValues("changed").Inc()
			} else {
				metrics.TrackingRefreshes.WithLabelValues("ok").Inc()
			}
		}(code)
	}
	wg.Wait()

	sort.Slice(res.Changed, func(i, j int) bool {
		return res.Changed[i].Snapshot.ParcelCode < res.Changed[j].Snapshot.ParcelCode
	})
	return res
}

// RunOnce polls the parcels of all currently open orders and publishes a
// status_change event for every order whose provider status changed.
func (p *Poller) RunOnce(ctx context.Context) (Result, error) {
	now := p.now()
	p.lastCycleUnixNano.Store(now.UnixNano())

	orders, err := p.orders.OpenOrders(ctx)
	if err != nil {
		return Result{}, errors.Wrap(err, "list open orders")
	}

	byCode := make(map[string][]models.Order, len(orders))
	codes := make([]string, 0, len(orders))
	for _, o := range orders {
		if !o.HasParcel() {
			continue
		}
		if _, ok := byCode[o.ParcelCode]; !ok {
			codes = append(codes, o.ParcelCode)
		}
		byCode[o.ParcelCode] = append(byCode[o.ParcelCode], o)
	}

	res := p.PollAll(ctx, codes)
	for _, u := range res.Changed {
		p.announce(ctx, u, byCode[u.Snapshot.ParcelCode])
	}

	p.totalCycles.Add(1)
	metrics.PollCycles.Inc()
	slog.Info("poll cycle done",
		"open_orders", len(orders),
		"parcels", res.Requested,
		"fresh", res.Fresh,
		"refreshed", res.Refreshed,
		"changed", len(res.Changed),
		"failed", res.Failed,
		"rate_limited", res.RateLimited,
	)
	return res, nil
}

func (p *Poller) announce(ctx context.Context, u trackingcache.Update, orders []models.Order) {
	ids := make([]string, 0, len(orders))
	if p.bus != nil {
		for _, o := range orders {
			ids = append(ids, o.ID)
			p.bus.Publish(ctx, eventbus.Event{
				EntityType: eventbus.EntityOrder,
				Action:     string(models.ActionStatusChange),
				Entity:     o.WithTracking(u.Snapshot),
				Actor:      ActorPoller,
			})
		}
	} else {
		for _, o := range orders {
			ids = append(ids, o.ID)
		}
	}

	if p.producer == nil || p.topic == "" {
		return
	}
	stage, terminal := status.ClassifySnapshot(u.Snapshot)
	msg := messages.TrackingUpdated{
		ParcelCode:        u.Snapshot.ParcelCode,
		OrderIDs:          ids,
		CheckedAt:         u.Snapshot.LastFetchedAt,
		DeliveryStatus:    u.Snapshot.DeliveryStatus,
		SecondaryStatus:   u.Snapshot.SecondaryStatus,
		PaymentStatus:     u.Snapshot.PaymentStatus,
		PaymentStatusText: u.Snapshot.PaymentStatusText,
		Stage:             stage,
		Terminal:          terminal,
	}
	if u.Previous != nil {
		prev := u.Previous.DeliveryStatus
		msg.PreviousStatus = &prev
	}
	// Kafka может быть не готова сразу после старта docker compose: пара попыток.
	var err error
	for i := 0; i < 3; i++ {
		if err = p.producer.PublishJSON(ctx, p.topic, msg.ParcelCode, msg); err == nil {
			return
		}
		if ctx.Err() != nil || i == 2 {
			break
		}
		time.Sleep(time.Duration(150*(i+1)) * time.Millisecond)
	}
	p.setLastError(err)
	slog.Error("publish tracking updated", "parcel_code", msg.ParcelCode, "error", err.Error())
}

func (p *Poller) allow(ctx context.Context, now time.Time) bool {
	if p.rl == nil || p.rateLimitPerMinute <= 0 {
		return true
	}
	minuteKey := fmt.Sprintf("rl:provider:%s", now.Format("200601021504"))
	allowed, n, err := p.rl.Allow(ctx, minuteKey, p.rateLimitPerMinute, 70*time.Second)
	if err != nil {
		// Redis недоступен: не блокируем опрос.
		slog.Warn("rate limiter", "error", err.Error())
		return true
	}
	if !allowed {
		slog.Warn("rate limit exceeded", "count", n, "limit", p.rateLimitPerMinute)
	}
	return allowed
}

func (p *Poller) setLastError(err error) {
	p.lastErrorMu.Lock()
	p.lastError = err.Error()
	p.lastErrorMu.Unlock()
}

func uniqueCodes(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, c := range in {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
