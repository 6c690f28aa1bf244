package presence

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/codepair/matchmaker/internal/user"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func profile(name string) user.PublicProfile {
	return user.PublicProfile{ID: uuid.New(), Username: name, DisplayName: name}
}

func TestTouchThenContains(t *testing.T) {
	c := NewCache(WithClock(newFakeClock().Now))
	p := profile("alice")

	if c.Contains(p.ID) {
		t.Fatal("empty cache should not contain alice")
	}
	if newly := c.Touch(p); !newly {
		t.Error("first touch should report a newly active user")
	}
	if !c.Contains(p.ID) {
		t.Error("expected alice after touch")
	}
}

func TestTouchIsIdempotentOnIdentity(t *testing.T) {
	clock := newFakeClock()
	c := NewCache(WithClock(clock.Now))
	p := profile("alice")

	c.Touch(p)
	clock.Advance(5 * time.Second)
	p.DisplayName = "Alice L."
	if newly := c.Touch(p); newly {
		t.Error("second touch should not report a newly active user")
	}

	if c.Len() != 1 {
		t.Fatalf("expected a single entry, got %d", c.Len())
	}
	snap := c.Snapshot()
	if len(snap) != 1 || snap[0].DisplayName != "Alice L." {
		t.Errorf("expected refreshed profile data, got %+v", snap)
	}
}

func TestExpiredEntryEvictedOnSweepingTouch(t *testing.T) {
	clock := newFakeClock()
	c := NewCache(WithClock(clock.Now))
	alice, bob := profile("alice"), profile("bob")

	c.Touch(alice)
	clock.Advance(DefaultTTL + time.Second)

	// Not yet swept: reads tolerate staleness.
	if !c.Contains(alice.ID) {
		t.Error("entry should linger until a sweep runs")
	}

	// Elapsed time exceeds the clear interval, so this touch sweeps first.
	c.Touch(bob)
	if c.Contains(alice.ID) {
		t.Error("expected alice to be evicted by the sweep")
	}
	if !c.Contains(bob.ID) {
		t.Error("expected bob to be held")
	}
}

func TestNoSweepWithinClearInterval(t *testing.T) {
	clock := newFakeClock()
	c := NewCache(WithClock(clock.Now), WithTTL(time.Second), WithClearInterval(time.Minute))
	alice, bob := profile("alice"), profile("bob")

	c.Touch(alice)
	clock.Advance(10 * time.Second)
	c.Touch(bob)

	if !c.Contains(alice.ID) {
		t.Error("no sweep should run before the clear interval elapses")
	}

	if removed := c.Sweep(); removed != 1 {
		t.Errorf("explicit sweep: expected 1 eviction, got %d", removed)
	}
	if c.Contains(alice.ID) {
		t.Error("expected alice evicted by explicit sweep")
	}
}

func TestFreshEntriesSurviveSweep(t *testing.T) {
	clock := newFakeClock()
	c := NewCache(WithClock(clock.Now))
	alice, bob := profile("alice"), profile("bob")

	c.Touch(alice)
	clock.Advance(DefaultTTL - time.Second)
	c.Touch(alice) // refresh last_seen
	clock.Advance(DefaultClearInterval + time.Second)
	c.Touch(bob)

	if !c.Contains(alice.ID) {
		t.Error("refreshed entry must survive the sweep")
	}
}

func TestSnapshotOrderAndBound(t *testing.T) {
	clock := newFakeClock()
	c := NewCache(WithClock(clock.Now))

	names := []string{"a", "b", "c"}
	profiles := make([]user.PublicProfile, len(names))
	for i, n := range names {
		profiles[i] = profile(n)
		c.Touch(profiles[i])
		clock.Advance(time.Second)
	}
	// Touch "a" again; it becomes the most recent.
	c.Touch(profiles[0])

	snap := c.Snapshot()
	if len(snap) != len(names) {
		t.Fatalf("snapshot length %d exceeds distinct users %d", len(snap), len(names))
	}
	if snap[0].ID != profiles[0].ID {
		t.Errorf("expected most recently seen first, got %s", snap[0].Username)
	}
	if snap[1].ID != profiles[2].ID || snap[2].ID != profiles[1].ID {
		t.Errorf("unexpected order: %s, %s", snap[1].Username, snap[2].Username)
	}
}

func TestConcurrentTouches(t *testing.T) {
	c := NewCache()
	users := make([]user.PublicProfile, 50)
	for i := range users {
		users[i] = profile(fmt.Sprintf("user-%d", i))
	}

	var wg sync.WaitGroup
	for round := 0; round < 4; round++ {
		for _, p := range users {
			wg.Add(2)
			go func(p user.PublicProfile) {
				defer wg.Done()
				c.Touch(p)
			}(p)
			go func(p user.PublicProfile) {
				defer wg.Done()
				_ = c.Contains(p.ID)
				_ = c.Snapshot()
			}(p)
		}
	}
	wg.Wait()

	if c.Len() != len(users) {
		t.Errorf("expected %d entries, got %d", len(users), c.Len())
	}
}
