// Package ratelimit provides Redis-backed fixed-window rate limiting using
// INCR + EXPIRE. Limits are per caller and per rule so that several
// matchmaker replicas share one budget.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/codepair/matchmaker/internal/metrics"
)

// Rule defines a rate limiting policy: a name used in metrics, the Redis key
// prefix, the maximum number of requests allowed in the window and the
// window duration.
type Rule struct {
	Name   string
	Key    string        // Redis key prefix (e.g., "rl:presence:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

var (
	// RuleCodeNow allows 30 "code now" presence marks per minute per user.
	RuleCodeNow = Rule{Name: "code_now", Key: "rl:presence:", Limit: 30, Window: time.Minute}

	// RuleAffinities allows 60 candidate rankings per minute per user.
	RuleAffinities = Rule{Name: "affinities", Key: "rl:affinity:", Limit: 60, Window: time.Minute}

	// RuleAvailability allows 60 availability lookups per minute per user.
	RuleAvailability = Rule{Name: "availability", Key: "rl:avail:", Limit: 60, Window: time.Minute}

	// RuleConnect allows 10 WebSocket connections per minute per IP.
	RuleConnect = Rule{Name: "ws_connect", Key: "rl:conn:", Limit: 10, Window: time.Minute}

	// RuleHeartbeat allows 20 WebSocket heartbeats per 10 seconds per
	// connection.
	RuleHeartbeat = Rule{Name: "ws_heartbeat", Key: "rl:hb:", Limit: 20, Window: 10 * time.Second}

	// RuleRebuild allows 6 schedule rebuild requests per minute per IP. Every
	// accepted request makes each replica scan the whole user table.
	RuleRebuild = Rule{Name: "schedule_rebuild", Key: "rl:rebuild:", Limit: 6, Window: time.Minute}
)

// Limiter performs rate limiting checks against Redis. A nil *Limiter allows
// everything, which is how the server runs without Redis.
type Limiter struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client, logger zerolog.Logger) *Limiter {
	return &Limiter{
		client: client,
		log:    logger.With().Str("component", "ratelimit").Logger(),
	}
}

// Allow checks whether identifier is within the limit defined by rule. It
// increments the counter in Redis and sets the expiry on first access.
//
// Returns true if the request is allowed, false if rate limited. On Redis
// errors the method fails open (returns true) so that a Redis outage does not
// block legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	if l == nil {
		return true, nil
	}
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("redis INCR failed, failing open")
		return true, err
	}

	// The first increment opens the window.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			l.log.Warn().Err(err).Str("key", key).Msg("redis EXPIRE failed, failing open")
			// A key without TTL would block the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	if int(count) > rule.Limit {
		metrics.RateLimited.WithLabelValues(rule.Name).Inc()
		return false, nil
	}
	return true, nil
}

// Remaining returns the number of requests identifier has left in the
// current window for rule. Returns the full limit if the key does not exist
// yet. On Redis errors it returns the full limit (fail open).
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	if l == nil {
		return rule.Limit, nil
	}
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return rule.Limit, nil
	}
	if err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("redis GET failed, failing open")
		return rule.Limit, err
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
