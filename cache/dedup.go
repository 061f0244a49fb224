// Package cache remembers webhook deliveries that already reached a terminal outcome, so gateway
// redeliveries can be acknowledged without re-entering the engine.
package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultTTL = 24 * time.Hour
	keyPrefix  = "payments:webhook:"
)

type Dedup interface {
	Seen(ctx context.Context, deliveryKey string) (bool, error)
	Mark(ctx context.Context, deliveryKey string) error
}

type RedisDedup struct {
	client *redis.Client
	ttl    time.Duration
}

// ConnectRedis parses a redis:// URL and pings the server.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "invalid redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "failed to ping redis")
	}
	log.WithField("addr", opts.Addr).Info("redis connected")
	return client, nil
}

func NewRedisDedup(client *redis.Client, ttl time.Duration) *RedisDedup {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisDedup{client: client, ttl: ttl}
}

func (d *RedisDedup) Seen(ctx context.Context, deliveryKey string) (bool, error) {
	n, err := d.client.Exists(ctx, keyPrefix+deliveryKey).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis exists")
	}
	return n == 1, nil
}

func (d *RedisDedup) Mark(ctx context.Context, deliveryKey string) error {
	if err := d.client.Set(ctx, keyPrefix+deliveryKey, time.Now().UTC().Format(time.RFC3339), d.ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

// Noop never reports a delivery as seen.
type Noop struct{}

func (Noop) Seen(ctx context.Context, deliveryKey string) (bool, error) { return false, nil }

func (Noop) Mark(ctx context.Context, deliveryKey string) error { return nil }
