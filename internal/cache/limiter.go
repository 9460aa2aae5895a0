package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const REDIS_KEY_WARN_PREFIX = "intake:warn:"

// WarnLimiter throttles repeated user warnings through Redis so the cooldown
// holds across instances. Satisfies the intake flow's RateLimiter.
type WarnLimiter struct {
	client   *redis.Client
	cooldown time.Duration
}

func NewWarnLimiter(client *redis.Client, cooldown time.Duration) *WarnLimiter {
	return &WarnLimiter{client: client, cooldown: cooldown}
}

// Allow reports whether a warning keyed by key may go out now. When Redis is
// unreachable it errs on the side of warning.
func (l *WarnLimiter) Allow(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ok, err := l.client.SetNX(ctx, REDIS_KEY_WARN_PREFIX+key, 1, l.cooldown).Result()
	if err != nil {
		return true
	}
	return ok
}
