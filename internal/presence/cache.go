// Package presence tracks which users are currently active. Entries expire
// lazily: a touch that observes the clear interval has elapsed sweeps every
// entry older than the TTL. There are no per-entry timers.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/codepair/matchmaker/internal/metrics"
	"github.com/codepair/matchmaker/internal/user"
)

const (
	// DefaultTTL is how long a user stays active after their last touch.
	DefaultTTL = 60 * time.Second

	// DefaultClearInterval is the minimum time between two sweeps.
	DefaultClearInterval = 30 * time.Second
)

// Entry is one active user.
type Entry struct {
	LastSeen time.Time
	Profile  user.PublicProfile
}

// Cache is a TTL map from user id to Entry. It is safe for concurrent use.
// Reads may observe entries up to TTL + clear interval old.
type Cache struct {
	mu            sync.RWMutex
	entries       map[uuid.UUID]Entry
	lastSweep     time.Time
	ttl           time.Duration
	clearInterval time.Duration
	now           func() time.Time
	log           zerolog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithClearInterval overrides DefaultClearInterval.
func WithClearInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.clearInterval = d
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger attaches a logger for sweep diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache) {
		c.log = l.With().Str("component", "presence").Logger()
	}
}

// NewCache creates an empty cache.
func NewCache(opts ...Option) *Cache {
	c := &Cache{
		entries:       make(map[uuid.UUID]Entry),
		ttl:           DefaultTTL,
		clearInterval: DefaultClearInterval,
		now:           time.Now,
		log:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lastSweep = c.now()
	return c
}

// Touch marks the profile's user active now, replacing any previous entry
// for the same id. It sweeps first when the clear interval has elapsed.
// It returns true when the user was not held before the call.
func (c *Cache) Touch(p user.PublicProfile) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.lastSweep) > c.clearInterval {
		c.sweepLocked(now)
	}

	_, held := c.entries[p.ID]
	c.entries[p.ID] = Entry{LastSeen: now, Profile: p}
	metrics.OnlineUsers.Set(float64(len(c.entries)))
	return !held
}

// Contains reports whether id is held. It does not refresh the entry.
func (c *Cache) Contains(id uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[id]
	return ok
}

// Snapshot returns the profiles of every held entry, most recently seen
// first. It does not sweep.
func (c *Cache) Snapshot() []user.PublicProfile {
	c.mu.RLock()
	entries := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].LastSeen.Equal(entries[j].LastSeen) {
			return entries[i].LastSeen.After(entries[j].LastSeen)
		}
		return entries[i].Profile.ID.String() < entries[j].Profile.ID.String()
	})

	out := make([]user.PublicProfile, len(entries))
	for i, e := range entries {
		out[i] = e.Profile
	}
	return out
}

// Len returns the number of held entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes every entry older than the TTL regardless of the clear
// interval and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(c.now())
}

func (c *Cache) sweepLocked(now time.Time) int {
	removed := 0
	for id, e := range c.entries {
		if now.Sub(e.LastSeen) > c.ttl {
			delete(c.entries, id)
			removed++
		}
	}
	c.lastSweep = now

	metrics.PresenceSweeps.Inc()
	metrics.PresenceEvictions.Add(float64(removed))
	metrics.OnlineUsers.Set(float64(len(c.entries)))
	if removed > 0 {
		c.log.Debug().Int("evicted", removed).Int("remaining", len(c.entries)).Msg("presence sweep")
	}
	return removed
}
