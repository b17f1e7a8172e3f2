package rediscache

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/ShopTrack/internal/models"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_GetSet(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	b, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), b)

	_, ok, err = c.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCache_Snapshots(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr()).WithSnapshotTTL(time.Hour)
	ctx := context.Background()

	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, c.SaveSnapshot(ctx, models.TrackingSnapshot{ParcelCode: "A", DeliveryStatus: "Distribution", LastFetchedAt: at}))
	require.NoError(t, c.SaveSnapshot(ctx, models.TrackingSnapshot{ParcelCode: "B", DeliveryStatus: "Livré", LastFetchedAt: at}))
	require.NoError(t, c.Set(ctx, snapshotPrefix+"broken", []byte("{"), time.Hour))

	got, err := c.LoadSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	byCode := map[string]models.TrackingSnapshot{}
	for _, s := range got {
		byCode[s.ParcelCode] = s
	}
	require.Equal(t, "Distribution", byCode["A"].DeliveryStatus)
	require.True(t, at.Equal(byCode["B"].LastFetchedAt))
	require.Equal(t, time.Hour, mr.TTL(snapshotPrefix+"A"))
}

func TestRateLimiter_FixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())
	ctx := context.Background()

	for i := int64(1); i <= 2; i++ {
		ok, n, err := rl.Allow(ctx, "rl:provider:202503011000", 2, 70*time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, i, n)
	}

	ok, n, err := rl.Allow(ctx, "rl:provider:202503011000", 2, 70*time.Second)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, int64(3), n)
	require.Equal(t, 70*time.Second, mr.TTL(defaultLimiterPrefix+"rl:provider:202503011000"))

	// Следующая минута: новый счётчик.
	ok, _, err = rl.Allow(ctx, "rl:provider:202503011001", 2, 70*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(71 * time.Second)
	require.False(t, mr.Exists(defaultLimiterPrefix+"rl:provider:202503011000"))
}

func TestRateLimiter_UnlimitedSkipsRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr()).WithPrefix("x:")
	mr.Close()

	ok, n, err := rl.Allow(context.Background(), "k", 0, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, n)

	_, _, err = rl.Allow(context.Background(), "k", 1, time.Minute)
	require.Error(t, err)
}

func TestRedisCache_Ping(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	require.NoError(t, c.Ping(context.Background()))
	mr.Close()
	require.Error(t, c.Ping(context.Background()))
}
