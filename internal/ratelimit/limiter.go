package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Rule defines a fixed-window policy: key prefix, allowed count and window length.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

// Limiter counts realtime events per user in Redis.
type Limiter struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewLimiter creates a Limiter backed by the given Redis client. A nil client allows everything.
func NewLimiter(client *redis.Client, channelBase string, logger zerolog.Logger) *Limiter {
	prefix := "rl:"
	if channelBase != "" {
		prefix = channelBase + ":rl:"
	}
	return &Limiter{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("component", "rate_limiter").Logger(),
	}
}

// Allow increments the identifier's counter for the rule and reports whether it is within the limit.
// Redis failures fail open.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) bool {
	if l == nil || l.client == nil || rule.Limit <= 0 {
		return true
	}

	key := l.prefix + rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn().Err(err).Str("key", key).Msg("rate limit check failed, allowing")
		return true
	}

	// The first hit opens the window.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			l.logger.Warn().Err(err).Str("key", key).Msg("rate limit expiry failed, allowing")
			l.client.Del(ctx, key)
			return true
		}
	}

	return count <= int64(rule.Limit)
}
