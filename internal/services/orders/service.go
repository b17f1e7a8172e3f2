// Package orders is the mutation site for shop orders: it turns order
// changes into bus events and webhook calls and lists the orders in flight.
package orders

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/BearBump/ShopTrack/internal/eventbus"
	"github.com/BearBump/ShopTrack/internal/models"
	"github.com/BearBump/ShopTrack/internal/status"
	"github.com/BearBump/ShopTrack/internal/webhook"
	"github.com/pkg/errors"
)

var ErrInvalidMutation = errors.New("invalid order mutation")

type Repository interface {
	ListOrders(ctx context.Context, since time.Time) ([]models.Order, error)
}

type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type Publisher interface {
	Publish(ctx context.Context, ev eventbus.Event)
}

type Emitter interface {
	Go(ctx context.Context, p webhook.Payload)
}

type SnapshotReader interface {
	Get(parcelCode string) (models.TrackingSnapshot, bool)
}

const openOrdersKey = "orders:open"

type Service struct {
	repo    Repository
	cache   BytesCache
	bus     Publisher
	emitter Emitter
	tracker SnapshotReader

	lookback time.Duration
	listTTL  time.Duration
	now      func() time.Time
}

// New creates the service. cache, emitter and tracker may be nil.
func New(repo Repository, bus Publisher, emitter Emitter) *Service {
	return &Service{
		repo:     repo,
		bus:      bus,
		emitter:  emitter,
		lookback: 30 * 24 * time.Hour,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithLookback(d time.Duration) *Service {
	if d > 0 {
		s.lookback = d
	}
	return s
}

// WithListCache кэширует список открытых заказов, чтобы частые опросы и
// ручные trigger не ходили в базу каждый раз.
func (s *Service) WithListCache(c BytesCache, ttl time.Duration) *Service {
	if c != nil && ttl > 0 {
		s.cache = c
		s.listTTL = ttl
	}
	return s
}

func (s *Service) WithTracker(t SnapshotReader) *Service {
	s.tracker = t
	return s
}

// HandleMutation publishes an order change on the bus and mirrors it to the
// provider webhook. Webhook failures never reach the caller.
func (s *Service) HandleMutation(ctx context.Context, action string, o models.Order, actor string) error {
	if o.ID == "" {
		return errors.Wrap(ErrInvalidMutation, "order id is required")
	}
	switch models.NotificationAction(action) {
	case models.ActionCreate, models.ActionUpdate, models.ActionStatusChange:
	default:
		return errors.Wrapf(ErrInvalidMutation, "unknown action %q", action)
	}

	if s.bus != nil {
		s.bus.Publish(ctx, eventbus.Event{
			EntityType: eventbus.EntityOrder,
			Action:     action,
			Entity:     o,
			Actor:      actor,
		})
	}
	if s.emitter != nil {
		s.emitter.Go(ctx, webhook.Payload{
			OrderID:    o.ID,
			ParcelCode: o.ParcelCode,
			NewStatus:  o.RawStatus,
			Timestamp:  s.now(),
			Action:     action,
			Actor:      actor,
		})
	}
	slog.Info("order mutation", "order_id", o.ID, "action", action, "actor", actor)
	return nil
}

// OpenOrders returns the non-terminal orders inside the lookback window,
// judged by their local status.
func (s *Service) OpenOrders(ctx context.Context) ([]models.Order, error) {
	if s.cache != nil {
		if b, ok, err := s.cache.Get(ctx, openOrdersKey); err == nil && ok {
			var cached []models.Order
			if json.Unmarshal(b, &cached) == nil {
				return cached, nil
			}
		}
	}

	all, err := s.repo.ListOrders(ctx, s.now().Add(-s.lookback))
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	out := make([]models.Order, 0, len(all))
	for _, o := range all {
		if status.IsOpen(o) {
			out = append(out, o)
		}
	}

	if s.cache != nil {
		if b, err := json.Marshal(out); err == nil {
			if err := s.cache.Set(ctx, openOrdersKey, b, s.listTTL); err != nil {
				slog.Warn("cache open orders", "error", err.Error())
			}
		}
	}
	return out, nil
}

// SweepCandidates returns open orders with the latest cached provider status
// applied, oldest first.
func (s *Service) SweepCandidates(ctx context.Context) ([]models.Order, error) {
	open, err := s.OpenOrders(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Order, 0, len(open))
	for _, o := range open {
		if s.tracker != nil && o.HasParcel() {
			if snap, ok := s.tracker.Get(o.ParcelCode); ok {
				o = o.WithTracking(snap)
			}
		}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
