// Package eventbus is a process-local publish/subscribe channel for
// "entity changed" events.
package eventbus

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const EntityOrder = "order"

type Event struct {
	ID         string
	EntityType string
	Action     string
	Entity     any
	Actor      string
	OccurredAt time.Time
}

type Handler func(ctx context.Context, ev Event)

// Bus dispatches synchronously to the subscribers present at publish time.
// Nothing is buffered for late subscribers.
type Bus struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]Handler
}

func New() *Bus {
	return &Bus{subs: make(map[uint64]Handler)}
}

// Subscribe registers h and returns a func that removes it. Calling the
// returned func more than once is a no-op.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

func (b *Bus) Publish(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	b.mu.RLock()
	ids := make([]uint64, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	handlers := make([]Handler, 0, len(ids))
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		handlers = append(handlers, b.subs[id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		dispatch(ctx, h, ev)
	}
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Паника одного подписчика не должна ломать остальных.
func dispatch(ctx context.Context, h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked", "event_id", ev.ID, "entity_type", ev.EntityType, "panic", r)
		}
	}()
	h(ctx, ev)
}
