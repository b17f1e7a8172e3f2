// Package trackingcache keeps the latest provider snapshot per parcel code.
package trackingcache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BearBump/ShopTrack/internal/integrations/provider"
	"github.com/BearBump/ShopTrack/internal/models"
	"github.com/pkg/errors"
)

var (
	ErrNotFound    = errors.New("tracking not found")
	ErrUnavailable = errors.New("tracking unavailable")
)

// SnapshotStore persists snapshots across restarts (optional).
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, s models.TrackingSnapshot) error
	LoadSnapshots(ctx context.Context) ([]models.TrackingSnapshot, error)
}

// Update is the outcome of one successful refresh.
type Update struct {
	Snapshot models.TrackingSnapshot
	Previous *models.TrackingSnapshot
}

// Changed reports whether the provider content differs from what was cached.
func (u Update) Changed() bool {
	return u.Previous == nil || !u.Previous.SameContent(u.Snapshot)
}

type Cache struct {
	client provider.Client
	store  SnapshotStore
	now    func() time.Time

	mu    sync.RWMutex
	items map[string]*models.TrackingSnapshot
}

func New(client provider.Client, store SnapshotStore) *Cache {
	return &Cache{
		client: client,
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		items:  make(map[string]*models.TrackingSnapshot),
	}
}

// Get never touches the network. Absent means "unknown".
func (c *Cache) Get(parcelCode string) (models.TrackingSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.items[parcelCode]
	if !ok {
		return models.TrackingSnapshot{}, false
	}
	return *s, true
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Refresh fetches the parcel once and overwrites the cached snapshot.
// On failure the previous snapshot is kept.
func (c *Cache) Refresh(ctx context.Context, parcelCode string) (models.TrackingSnapshot, error) {
	u, err := c.Update(ctx, parcelCode)
	if err != nil {
		return models.TrackingSnapshot{}, err
	}
	return u.Snapshot, nil
}

func (c *Cache) Update(ctx context.Context, parcelCode string) (Update, error) {
	if parcelCode == "" {
		return Update{}, errors.Wrap(ErrNotFound, "empty parcel code")
	}

	// Сеть строго вне блокировки.
	res, err := c.client.FetchTracking(ctx, parcelCode)
	if err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			return Update{}, errors.Wrap(ErrNotFound, err.Error())
		}
		return Update{}, errors.Wrap(ErrUnavailable, err.Error())
	}

	snap := &models.TrackingSnapshot{
		ParcelCode:        parcelCode,
		DeliveryStatus:    res.DeliveryStatus,
		SecondaryStatus:   res.SecondaryStatus,
		PaymentStatus:     res.PaymentStatus,
		PaymentStatusText: res.PaymentStatusText,
		LastFetchedAt:     c.now(),
	}

	c.mu.Lock()
	prev := c.items[parcelCode]
	c.items[parcelCode] = snap
	c.mu.Unlock()

	u := Update{Snapshot: *snap}
	if prev != nil {
		p := *prev
		u.Previous = &p
	}

	if c.store != nil {
		if err := c.store.SaveSnapshot(ctx, *snap); err != nil {
			slog.Warn("persist tracking snapshot", "parcel_code", parcelCode, "error", err.Error())
		}
	}
	return u, nil
}

// Load warms the cache from the snapshot store. Newer in-memory entries win.
func (c *Cache) Load(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	snaps, err := c.store.LoadSnapshots(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "load snapshots")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for i := range snaps {
		s := snaps[i]
		if cur, ok := c.items[s.ParcelCode]; ok && !cur.LastFetchedAt.Before(s.LastFetchedAt) {
			continue
		}
		c.items[s.ParcelCode] = &s
		n++
	}
	return n, nil
}
