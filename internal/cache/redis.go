package cache

import (
	"context"
	"errors"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

// Redis implementa Client sobre un Redis compartido.
type Redis struct {
	c      *rdb.Client
	prefix string
}

// NewRedis crea un cliente contra addr/db. prefix se antepone a todas las keys.
func NewRedis(addr string, db int, prefix string) *Redis {
	if prefix == "" {
		prefix = "authcore:"
	}
	return &Redis{
		c:      rdb.NewClient(&rdb.Options{Addr: addr, DB: db}),
		prefix: prefix,
	}
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.c.Get(ctx, r.prefix+key).Result()
	if err != nil {
		if errors.Is(err, rdb.Nil) {
			return "", ErrNotFound
		}
		return "", err
	}
	return v, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.c.Set(ctx, r.prefix+key, value, ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.c.Del(ctx, r.prefix+key).Err()
}

func (r *Redis) Close() error { return r.c.Close() }
