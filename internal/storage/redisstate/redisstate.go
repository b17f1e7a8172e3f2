// Package redisstate stores named records as Redis strings.
package redisstate

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "shopsync:state:"

type Store struct {
	c      *redis.Client
	prefix string
}

func New(addr string) *Store {
	return NewWithClient(redis.NewClient(&redis.Options{Addr: addr}))
}

func NewWithClient(c *redis.Client) *Store {
	return &Store{c: c, prefix: defaultPrefix}
}

func (s *Store) WithPrefix(p string) *Store {
	if p != "" {
		s.prefix = p
	}
	return s
}

func (s *Store) LoadRecords(ctx context.Context, names ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(names))
	if len(names) == 0 {
		return out, nil
	}
	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = s.prefix + n
	}
	vals, err := s.c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis mget")
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		out[names[i]] = []byte(str)
	}
	return out, nil
}

// SaveRecords writes all records inside one MULTI/EXEC.
func (s *Store) SaveRecords(ctx context.Context, records map[string][]byte) error {
	if len(records) == 0 {
		return nil
	}
	_, err := s.c.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for name, v := range records {
			p.Set(ctx, s.prefix+name, v, 0)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "redis multi set")
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return errors.Wrap(s.c.Ping(ctx).Err(), "redis ping")
}

func (s *Store) Close() error {
	return s.c.Close()
}
