package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Decision is the outcome of one Allow call. RetryAfter is only meaningful
// when Allowed is false.
type Decision struct {
	Allowed    bool
	Count      int64
	RetryAfter time.Duration
}

// Limiter is a fixed-window counter on redis INCR + EXPIRE. When redis is
// unreachable it fails open: the request is allowed and the outage is logged.
type Limiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	logger zerolog.Logger
}

// NewLimiter builds a limiter. A nil client disables limiting entirely
// (every request allowed).
func NewLimiter(client *redis.Client, limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		client: client,
		limit:  int64(limit),
		window: window,
		logger: log.With().Str("component", "ratelimit").Logger(),
	}
}

func (l *Limiter) Allow(ctx context.Context, key string) Decision {
	if l == nil || l.client == nil || key == "" {
		return Decision{Allowed: true}
	}
	count, err := l.client.Incr(ctx, "ratelimit:"+key).Result()
	if err != nil {
		l.logger.Warn().Err(err).Str("key", key).Msg("redis unreachable, failing open")
		return Decision{Allowed: true}
	}
	if count == 1 {
		if err := l.client.Expire(ctx, "ratelimit:"+key, l.window).Err(); err != nil {
			l.logger.Warn().Err(err).Str("key", key).Msg("failed to set window expiry")
		}
	}
	if count > l.limit {
		ttl, err := l.client.TTL(ctx, "ratelimit:"+key).Result()
		if err != nil || ttl < 0 {
			ttl = l.window
		}
		return Decision{Allowed: false, Count: count, RetryAfter: ttl}
	}
	return Decision{Allowed: true, Count: count}
}
