package trackingcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/ShopTrack/internal/integrations/provider"
	"github.com/BearBump/ShopTrack/internal/integrations/provider/fake"
	"github.com/BearBump/ShopTrack/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu     sync.Mutex
	saved  []models.TrackingSnapshot
	loaded []models.TrackingSnapshot
	err    error
}

func (s *memStore) SaveSnapshot(ctx context.Context, snap models.TrackingSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, snap)
	return s.err
}

func (s *memStore) LoadSnapshots(ctx context.Context) ([]models.TrackingSnapshot, error) {
	return s.loaded, nil
}

type failingClient struct{ err error }

func (c failingClient) FetchTracking(ctx context.Context, parcelCode string) (provider.TrackingResult, error) {
	return provider.TrackingResult{}, c.err
}

func TestCache_GetAbsent(t *testing.T) {
	c := New(fake.New(), nil)
	_, ok := c.Get("MKS001")
	require.False(t, ok)
}

func TestCache_RefreshStoresAndOverwrites(t *testing.T) {
	fc := fake.New()
	fc.Set("MKS001", provider.TrackingResult{DeliveryStatus: "Distribution"})
	store := &memStore{}
	c := New(fc, store)

	u, err := c.Update(context.Background(), "MKS001")
	require.NoError(t, err)
	require.True(t, u.Changed())
	require.Nil(t, u.Previous)

	got, ok := c.Get("MKS001")
	require.True(t, ok)
	require.Equal(t, "Distribution", got.DeliveryStatus)
	require.False(t, got.LastFetchedAt.IsZero())

	u, err = c.Update(context.Background(), "MKS001")
	require.NoError(t, err)
	require.False(t, u.Changed())

	fc.Set("MKS001", provider.TrackingResult{DeliveryStatus: "Livré"})
	snap, err := c.Refresh(context.Background(), "MKS001")
	require.NoError(t, err)
	require.Equal(t, "Livré", snap.DeliveryStatus)
	require.Len(t, store.saved, 3)
}

func TestCache_RefreshFailureKeepsStale(t *testing.T) {
	fc := fake.New()
	fc.Set("A", provider.TrackingResult{DeliveryStatus: "Distribution"})
	c := New(fc, nil)
	_, err := c.Refresh(context.Background(), "A")
	require.NoError(t, err)

	c.client = failingClient{err: provider.Unavailable(errors.New("boom"), "test")}
	_, err = c.Refresh(context.Background(), "A")
	require.True(t, errors.Is(err, ErrUnavailable))

	got, ok := c.Get("A")
	require.True(t, ok)
	require.Equal(t, "Distribution", got.DeliveryStatus)
}

func TestCache_RefreshNotFound(t *testing.T) {
	fc := fake.New()
	fc.SetMissing("Z")
	c := New(fc, nil)
	_, err := c.Refresh(context.Background(), "Z")
	require.True(t, errors.Is(err, ErrNotFound))
	_, ok := c.Get("Z")
	require.False(t, ok)
}

func TestCache_RefreshEmptyCodeNeverFetches(t *testing.T) {
	fc := fake.New()
	c := New(fc, nil)
	_, err := c.Refresh(context.Background(), "")
	require.True(t, errors.Is(err, ErrNotFound))
	require.Equal(t, 0, fc.Calls(""))
}

func TestCache_PersistFailureIsNotFatal(t *testing.T) {
	fc := fake.New()
	fc.Set("A", provider.TrackingResult{DeliveryStatus: "Distribution"})
	c := New(fc, &memStore{err: errors.New("redis down")})
	_, err := c.Refresh(context.Background(), "A")
	require.NoError(t, err)
	_, ok := c.Get("A")
	require.True(t, ok)
}

func TestCache_LoadKeepsNewer(t *testing.T) {
	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &memStore{loaded: []models.TrackingSnapshot{
		{ParcelCode: "A", DeliveryStatus: "old", LastFetchedAt: old},
		{ParcelCode: "B", DeliveryStatus: "Livré", LastFetchedAt: old},
	}}
	fc := fake.New()
	fc.Set("A", provider.TrackingResult{DeliveryStatus: "new"})
	c := New(fc, store)
	_, err := c.Refresh(context.Background(), "A")
	require.NoError(t, err)

	n, err := c.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	a, _ := c.Get("A")
	require.Equal(t, "new", a.DeliveryStatus)
	b, ok := c.Get("B")
	require.True(t, ok)
	require.Equal(t, "Livré", b.DeliveryStatus)
	require.Equal(t, 2, c.Len())
}

func TestCache_ConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	fc := fake.New()
	fc.Set("A", provider.TrackingResult{DeliveryStatus: "Distribution", SecondaryStatus: "x"})
	c := New(fc, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = c.Refresh(context.Background(), "A")
		}()
		go func() {
			defer wg.Done()
			if s, ok := c.Get("A"); ok {
				require.Equal(t, "x", s.SecondaryStatus)
			}
		}()
	}
	wg.Wait()
}
