// Package notifications keeps the deduplicated, persisted notification feed.
package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/ShopTrack/internal/eventbus"
	"github.com/BearBump/ShopTrack/internal/metrics"
	"github.com/BearBump/ShopTrack/internal/models"
	"github.com/BearBump/ShopTrack/internal/status"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrNotFound  = errors.New("notification not found")
	ErrNotLoaded = errors.New("notification store is not loaded")
)

const DefaultCap = 50

type DedupMode string

const (
	// DedupOrderStage: at most one notification per (order, stage).
	DedupOrderStage DedupMode = "order_stage"
	// DedupOrder: at most one notification per order, whatever the stage.
	DedupOrder DedupMode = "order"
)

func ParseDedupMode(s string) (DedupMode, error) {
	switch DedupMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", DedupOrderStage:
		return DedupOrderStage, nil
	case DedupOrder:
		return DedupOrder, nil
	default:
		return "", errors.Errorf("unknown dedup mode %q", s)
	}
}

type Filter struct {
	OnlyInProgress bool
}

type pendingWrite struct {
	gen     uint64
	records map[string][]byte
}

// Store is the single owner of the notification log and the notified set.
// Mutations are serialized on mu; persistence runs after mu is released and
// is ordered by generation, so a slow write never blocks readers.
type Store struct {
	persister      Persister
	cap            int
	mode           DedupMode
	now            func() time.Time
	persistTimeout time.Duration

	mu      sync.Mutex
	loaded  bool
	log     []models.Notification // newest first
	keys    map[models.NotifiedKey]struct{}
	gen     uint64
	lastAt  time.Time
	pending sync.WaitGroup

	persistMu    sync.Mutex
	persistedGen uint64

	swept atomic.Bool
}

// New creates an empty store. A nil persister keeps state in memory only.
func New(p Persister) *Store {
	return &Store{
		persister:      p,
		cap:            DefaultCap,
		mode:           DedupOrderStage,
		now:            time.Now,
		persistTimeout: 5 * time.Second,
		keys:           make(map[models.NotifiedKey]struct{}),
	}
}

func (s *Store) WithCap(n int) *Store {
	if n > 0 {
		s.cap = n
	}
	return s
}

func (s *Store) WithDedupMode(m DedupMode) *Store {
	if m != "" {
		s.mode = m
	}
	return s
}

func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Store) WithPersistTimeout(d time.Duration) *Store {
	if d > 0 {
		s.persistTimeout = d
	}
	return s
}

// Load reads both records and makes the store ready for events. Records in
// an older format are rewritten in the current one right away.
func (s *Store) Load(ctx context.Context) error {
	var (
		log        []models.Notification
		keys       []models.NotifiedKey
		logVersion = CurrentVersion
		keyVersion = CurrentVersion
	)
	if s.persister != nil {
		recs, err := s.persister.LoadRecords(ctx, RecordLog, RecordKeys)
		if err != nil {
			return errors.Wrap(err, "load notification state")
		}
		if log, logVersion, err = decodeLog(recs[RecordLog]); err != nil {
			return err
		}
		if keys, keyVersion, err = decodeKeys(recs[RecordKeys]); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.keys = make(map[models.NotifiedKey]struct{}, len(keys)+len(log))
	for _, k := range keys {
		s.keys[s.normalizeKey(k)] = struct{}{}
	}
	// Ключи всех уведомлений из лога тоже считаются отправленными: если два
	// рекорда когда-то разъехались, повторного алерта не будет.
	for _, n := range log {
		s.keys[s.keyFor(n.OrderID, n.Stage)] = struct{}{}
	}
	sort.SliceStable(log, func(i, j int) bool { return log[i].CreatedAt.After(log[j].CreatedAt) })
	if len(log) > s.cap {
		log = log[:s.cap]
	}
	s.log = log
	if len(log) > 0 && log[0].CreatedAt.After(s.lastAt) {
		s.lastAt = log[0].CreatedAt
	}
	s.loaded = true
	var w *pendingWrite
	if logVersion < CurrentVersion || keyVersion < CurrentVersion {
		w = s.commitLocked()
	}
	s.mu.Unlock()

	if w != nil {
		slog.Info("migrating notification state", "log_version", logVersion, "keys_version", keyVersion)
		s.persist(ctx, w)
	}
	slog.Info("notification state loaded", "notifications", len(log), "notified_keys", len(s.keysSnapshot()))
	return nil
}

// OnEvent applies one bus event and persists the result before returning.
// created is false when the event was not notification-worthy or was a repeat.
func (s *Store) OnEvent(ctx context.Context, ev eventbus.Event) (models.Notification, bool, error) {
	n, w, err := s.apply(ev)
	if err != nil || w == nil {
		return n, false, err
	}
	s.persist(ctx, w)
	return n, true, nil
}

// Handle is the bus subscriber. The in-memory commit is synchronous; the
// write to the persister happens in the background so other subscribers of
// the same publish are not held up by storage latency.
func (s *Store) Handle(ctx context.Context, ev eventbus.Event) {
	n, w, err := s.apply(ev)
	if err != nil {
		slog.Error("notification event", "event_id", ev.ID, "action", ev.Action, "error", err.Error())
		return
	}
	if w == nil {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		s.persist(ctx, w)
	}()
	slog.Debug("notification created", "id", n.ID, "order_id", n.OrderID, "stage", string(n.Stage))
}

func (s *Store) apply(ev eventbus.Event) (models.Notification, *pendingWrite, error) {
	if ev.EntityType != eventbus.EntityOrder {
		return models.Notification{}, nil, nil
	}
	o, err := orderFromEntity(ev.Entity)
	if err != nil {
		return models.Notification{}, nil, err
	}

	stage, terminal := status.ClassifyOrder(o)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return models.Notification{}, nil, ErrNotLoaded
	}
	if terminal {
		metrics.NotificationsDropped.WithLabelValues("terminal").Inc()
		return models.Notification{}, nil, nil
	}
	key := s.keyFor(o.ID, stage)
	if s.notifiedLocked(key) {
		metrics.NotificationsDropped.WithLabelValues("duplicate").Inc()
		return models.Notification{}, nil, nil
	}

	n := s.newNotificationLocked(o, stage, actionOf(ev.Action))
	s.appendLocked(n, key)
	return n, s.commitLocked(), nil
}

// InitialSweep notifies every open order whose key is not in the notified set
// yet. It runs at most once per Store; ran is false on every later call.
func (s *Store) InitialSweep(ctx context.Context, orders []models.Order) (created int, ran bool, err error) {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return 0, false, ErrNotLoaded
	}
	if !s.swept.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return 0, false, nil
	}

	sorted := make([]models.Order, len(orders))
	copy(sorted, orders)
	// Старые заказы первыми, чтобы самый свежий оказался наверху ленты.
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	for _, o := range sorted {
		stage, terminal := status.ClassifyOrder(o)
		if terminal {
			continue
		}
		key := s.keyFor(o.ID, stage)
		if s.notifiedLocked(key) {
			continue
		}
		s.appendLocked(s.newNotificationLocked(o, stage, models.ActionStatusChange), key)
		created++
	}
	var w *pendingWrite
	if created > 0 {
		w = s.commitLocked()
	}
	s.mu.Unlock()

	if w != nil {
		s.persist(ctx, w)
	}
	slog.Info("initial notification sweep", "orders", len(orders), "created", created)
	return created, true, nil
}

func (s *Store) MarkRead(ctx context.Context, id string) error {
	return s.mutate(ctx, func() error {
		for i := range s.log {
			if s.log[i].ID == id {
				s.log[i].Read = true
				return nil
			}
		}
		return errors.Wrapf(ErrNotFound, "id %s", id)
	})
}

func (s *Store) MarkAllRead(ctx context.Context) error {
	return s.mutate(ctx, func() error {
		for i := range s.log {
			s.log[i].Read = true
		}
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.mutate(ctx, func() error {
		for i := range s.log {
			if s.log[i].ID == id {
				s.log = append(s.log[:i], s.log[i+1:]...)
				return nil
			}
		}
		return errors.Wrapf(ErrNotFound, "id %s", id)
	})
}

// ClearAll empties the log and the notified set, so orders still in
// progress can be notified again.
func (s *Store) ClearAll(ctx context.Context) error {
	return s.mutate(ctx, func() error {
		s.log = nil
		s.keys = make(map[models.NotifiedKey]struct{})
		return nil
	})
}

func (s *Store) mutate(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return ErrNotLoaded
	}
	if err := fn(); err != nil {
		s.mu.Unlock()
		return err
	}
	w := s.commitLocked()
	s.mu.Unlock()

	s.persist(ctx, w)
	return nil
}

// List returns notifications newest first. OnlyInProgress uses the stage
// stored with each notification, never a fresh classification.
func (s *Store) List(f Filter) []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Notification, 0, len(s.log))
	for _, n := range s.log {
		if f.OnlyInProgress && n.Stage.Terminal() {
			continue
		}
		out = append(out, n)
	}
	return out
}

func (s *Store) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cnt := 0
	for _, n := range s.log {
		if !n.Read {
			cnt++
		}
	}
	return cnt
}

func (s *Store) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Flush waits for background writes and persists the current state if it
// has not been written yet. The returned error is the persister's.
func (s *Store) Flush(ctx context.Context) error {
	s.pending.Wait()

	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return nil
	}
	w := s.encodeLocked()
	s.mu.Unlock()
	if w == nil {
		return errors.New("encode notification state")
	}
	return s.persist(ctx, w)
}

func (s *Store) appendLocked(n models.Notification, key models.NotifiedKey) {
	s.log = append([]models.Notification{n}, s.log...)
	if len(s.log) > s.cap {
		s.log = s.log[:s.cap]
	}
	s.keys[key] = struct{}{}
	metrics.NotificationsCreated.WithLabelValues(string(n.Action)).Inc()
}

func (s *Store) commitLocked() *pendingWrite {
	s.gen++
	return s.encodeLocked()
}

func (s *Store) encodeLocked() *pendingWrite {
	logRec, err := encodeLog(s.log)
	if err != nil {
		slog.Error("encode notification log", "error", err.Error())
		return nil
	}
	keyRec, err := encodeKeys(s.sortedKeysLocked())
	if err != nil {
		slog.Error("encode notified keys", "error", err.Error())
		return nil
	}
	return &pendingWrite{gen: s.gen, records: map[string][]byte{RecordLog: logRec, RecordKeys: keyRec}}
}

// persist writes w unless a newer generation is already stored. Failures are
// logged; the in-memory state stays authoritative.
func (s *Store) persist(ctx context.Context, w *pendingWrite) error {
	if s.persister == nil || w == nil {
		return nil
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if w.gen < s.persistedGen || (w.gen == s.persistedGen && w.gen != 0) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()
	if err := s.persister.SaveRecords(ctx, w.records); err != nil {
		metrics.PersistFailures.Inc()
		slog.Error("persist notification state", "generation", w.gen, "error", err.Error())
		return errors.Wrap(err, "persist notification state")
	}
	s.persistedGen = w.gen
	return nil
}

func (s *Store) newNotificationLocked(o models.Order, stage models.Stage, action models.NotificationAction) models.Notification {
	at := s.now().UTC()
	if !at.After(s.lastAt) {
		at = s.lastAt.Add(time.Microsecond)
	}
	s.lastAt = at

	return models.Notification{
		ID:        newID(at),
		OrderID:   o.ID,
		Category:  models.CategoryOrder,
		Action:    action,
		Stage:     stage,
		RawStatus: o.RawStatus,
		Message:   message(o, stage),
		Details: models.Details{
			ClientName: o.ReceiverName,
			Phone:      o.ReceiverPhone,
			City:       o.City,
			Price:      o.Price,
		},
		CreatedAt: at,
	}
}

func (s *Store) keyFor(orderID string, stage models.Stage) models.NotifiedKey {
	if s.mode == DedupOrder {
		return models.NotifiedKey{OrderID: orderID}
	}
	return models.NotifiedKey{OrderID: orderID, Stage: stage}
}

func (s *Store) normalizeKey(k models.NotifiedKey) models.NotifiedKey {
	return s.keyFor(k.OrderID, k.Stage)
}

// Ключ без стадии остался от старого формата и гасит все стадии заказа.
func (s *Store) notifiedLocked(k models.NotifiedKey) bool {
	if _, ok := s.keys[k]; ok {
		return true
	}
	_, ok := s.keys[models.NotifiedKey{OrderID: k.OrderID}]
	return ok
}

func (s *Store) sortedKeysLocked() []models.NotifiedKey {
	out := make([]models.NotifiedKey, 0, len(s.keys))
	for k := range s.keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (s *Store) keysSnapshot() []models.NotifiedKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedKeysLocked()
}

func orderFromEntity(e any) (models.Order, error) {
	switch v := e.(type) {
	case models.Order:
		return v, nil
	case *models.Order:
		if v == nil {
			return models.Order{}, errors.New("nil order entity")
		}
		return *v, nil
	default:
		return models.Order{}, errors.Errorf("unexpected order entity %T", e)
	}
}

func actionOf(a string) models.NotificationAction {
	switch models.NotificationAction(a) {
	case models.ActionCreate:
		return models.ActionCreate
	case models.ActionStatusChange:
		return models.ActionStatusChange
	default:
		return models.ActionUpdate
	}
}

func newID(at time.Time) string {
	u := uuid.New()
	return fmt.Sprintf("%d-%x", at.UnixMilli(), u[:4])
}

var stagePhrases = map[models.Stage]string{
	models.StageCreated:        "was created",
	models.StageConfirmed:      "is confirmed",
	models.StagePickedUp:       "was picked up by the courier",
	models.StageInTransit:      "is in transit",
	models.StageOutForDelivery: "is out for delivery",
	models.StageOnHold:         "is on hold",
}

func message(o models.Order, stage models.Stage) string {
	phrase, ok := stagePhrases[stage]
	if !ok {
		phrase = strings.ToLower(string(stage))
	}
	msg := fmt.Sprintf("Order #%s %s", o.ID, phrase)
	if o.RawStatus != "" {
		msg += ": " + o.RawStatus
	}
	if o.ReceiverName != "" {
		msg += " (" + o.ReceiverName + ")"
	}
	return msg
}
