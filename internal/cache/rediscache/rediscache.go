package rediscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/ShopTrack/internal/models"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const snapshotPrefix = "tracking:snapshot:"

type RedisCache struct {
	c           *redis.Client
	snapshotTTL time.Duration
}

func New(addr string) *RedisCache {
	return NewWithClient(redis.NewClient(&redis.Options{
		Addr: addr,
	}))
}

func NewWithClient(c *redis.Client) *RedisCache {
	return &RedisCache{c: c, snapshotTTL: 30 * 24 * time.Hour}
}

// WithSnapshotTTL задаёт, сколько живёт снапшот посылки, которую больше не опрашивают.
func (r *RedisCache) WithSnapshotTTL(ttl time.Duration) *RedisCache {
	if ttl > 0 {
		r.snapshotTTL = ttl
	}
	return r
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis get")
	}
	return val, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.c.Set(ctx, key, value, ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

func (r *RedisCache) SaveSnapshot(ctx context.Context, s models.TrackingSnapshot) error {
	b, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}
	return r.Set(ctx, snapshotPrefix+s.ParcelCode, b, r.snapshotTTL)
}

// LoadSnapshots reads every persisted snapshot. Broken entries are skipped.
func (r *RedisCache) LoadSnapshots(ctx context.Context) ([]models.TrackingSnapshot, error) {
	var out []models.TrackingSnapshot
	iter := r.c.Scan(ctx, 0, snapshotPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		b, ok, err := r.Get(ctx, iter.Val())
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var s models.TrackingSnapshot
		if json.Unmarshal(b, &s) != nil || s.ParcelCode == "" {
			continue
		}
		out = append(out, s)
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "redis scan")
	}
	return out, nil
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.c.Ping(ctx).Err()
}

func (r *RedisCache) Close() error {
	return r.c.Close()
}
