package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds login throttle tuning. MaxAttempts <= 0 disables throttling.
type Config struct {
	MaxAttempts int
	Cooldown    time.Duration
	// PerIP also counts failures per client address.
	PerIP bool
	// Prefix namespaces keys as "<prefix>:al:<username>".
	Prefix string
}

// Limiter counts failed logins per username (and optionally per IP) in
// fixed windows backed by Redis.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a Limiter backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// Enabled reports whether the limiter enforces anything.
func (l *Limiter) Enabled() bool {
	return l != nil && l.config.MaxAttempts > 0
}

// Check returns ErrRateLimited when username or ip has used up its failure
// budget for the current window.
func (l *Limiter) Check(ctx context.Context, username, ip string) error {
	if !l.Enabled() {
		return nil
	}
	for _, key := range l.keys(username, ip) {
		if err := l.checkCounter(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// RecordFailure counts one failed login. It returns ErrRateLimited once the
// failure exceeds the budget.
func (l *Limiter) RecordFailure(ctx context.Context, username, ip string) error {
	if !l.Enabled() {
		return nil
	}
	var limited bool
	for _, key := range l.keys(username, ip) {
		count, err := l.incrementWithTTL(ctx, key)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxAttempts) {
			limited = true
		}
	}
	if limited {
		return ErrRateLimited
	}
	return nil
}

// Reset clears the failure counters after a successful login.
func (l *Limiter) Reset(ctx context.Context, username, ip string) error {
	if !l.Enabled() {
		return nil
	}
	if err := l.redis.Del(ctx, l.keys(username, ip)...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Attempts returns the failure count for username in the current window.
func (l *Limiter) Attempts(ctx context.Context, username string) (int, error) {
	count, err := l.redis.Get(ctx, l.userKey(username)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) keys(username, ip string) []string {
	keys := []string{l.userKey(username)}
	if l.config.PerIP && ip != "" {
		keys = append(keys, l.key("ali:"+ip))
	}
	return keys
}

func (l *Limiter) userKey(username string) string {
	return l.key("al:" + username)
}

func (l *Limiter) key(k string) string {
	if l.config.Prefix == "" {
		return k
	}
	return l.config.Prefix + ":" + k
}

func (l *Limiter) checkCounter(ctx context.Context, key string) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(l.config.MaxAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed window: the TTL is set on the first hit only.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Cooldown).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
