package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"IdeaRadar/internal/ports"
)

// RedisLimiter shares the per-domain fixed window across processes.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	period time.Duration
	prefix string
}

var _ ports.DomainLimiter = (*RedisLimiter)(nil)

// NewRedisLimiter wires an existing client; keys are namespaced by prefix.
func NewRedisLimiter(client *redis.Client, limit int, period time.Duration, prefix string) *RedisLimiter {
	if period <= 0 {
		period = time.Second
	}
	if prefix == "" {
		prefix = "idearadar:ratelimit"
	}
	return &RedisLimiter{client: client, limit: limit, period: period, prefix: prefix}
}

// Wait increments the host counter for the current window and sleeps into the
// next window when the limit is exhausted.
func (l *RedisLimiter) Wait(ctx context.Context, host string) error {
	if l.limit <= 0 || l.client == nil {
		return nil
	}
	host = strings.ToLower(host)
	for {
		now := time.Now()
		slot := now.UnixNano() / int64(l.period)
		key := fmt.Sprintf("%s:%s:%d", l.prefix, host, slot)

		count, err := l.client.Incr(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("rate limit incr: %w", err)
		}
		if count == 1 {
			if err := l.client.Expire(ctx, key, 2*l.period).Err(); err != nil {
				return fmt.Errorf("rate limit expire: %w", err)
			}
		}
		if count <= int64(l.limit) {
			return nil
		}

		next := time.Unix(0, (slot+1)*int64(l.period))
		if err := sleep(ctx, next.Sub(now)); err != nil {
			return err
		}
	}
}
