package schedule

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Source supplies the availability of every known user. It is implemented by
// the user repository.
type Source interface {
	Availabilities(ctx context.Context) (map[uuid.UUID]Availability, error)
}

// Snapshot is an immutable view of the population's weekly availability: for
// each of the 168 slots, the sorted ids of users available then. It is never
// mutated after construction.
type Snapshot struct {
	slots   [DaysPerWeek][HoursPerDay][]uuid.UUID
	users   int
	builtAt time.Time
}

// NewSnapshot aggregates availabilities into per-slot user sets. Users whose
// availability is Never are skipped.
func NewSnapshot(avail map[uuid.UUID]Availability, builtAt time.Time) *Snapshot {
	s := &Snapshot{builtAt: builtAt}
	for id, a := range avail {
		w, ok := a.Week()
		if !ok {
			continue
		}
		s.users++
		for d := 0; d < DaysPerWeek; d++ {
			for h := 0; h < HoursPerDay; h++ {
				if w[d][h] {
					s.slots[d][h] = append(s.slots[d][h], id)
				}
			}
		}
	}
	for d := range s.slots {
		for h := range s.slots[d] {
			sortIDs(s.slots[d][h])
		}
	}
	return s
}

// Users returns the ids available at (weekday, hour). The slice is shared
// with the snapshot and must not be modified.
func (s *Snapshot) Users(wd time.Weekday, hour int) []uuid.UUID {
	if s == nil || hour < 0 || hour >= HoursPerDay {
		return nil
	}
	return s.slots[DayIndex(wd)][hour]
}

// Size returns the number of users with a weekly schedule.
func (s *Snapshot) Size() int {
	if s == nil {
		return 0
	}
	return s.users
}

// BuiltAt returns when the snapshot was aggregated.
func (s *Snapshot) BuiltAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.builtAt
}

// Matrix holds the current Snapshot behind a read-write lock. Rebuilds
// replace the whole snapshot; readers take a reference under the read lock
// and release it immediately.
type Matrix struct {
	mu   sync.RWMutex
	snap *Snapshot
}

// NewMatrix returns a matrix holding an empty snapshot.
func NewMatrix() *Matrix {
	return &Matrix{snap: NewSnapshot(nil, time.Time{})}
}

// Snapshot returns the current snapshot.
func (m *Matrix) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// Replace swaps in s unless the current snapshot was built after it, so
// overlapping rebuilds that finish out of order never regress the matrix.
// It reports whether s was installed.
func (m *Matrix) Replace(s *Snapshot) bool {
	if s == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.builtAt.Before(m.snap.builtAt) {
		return false
	}
	m.snap = s
	return true
}

// Rebuild reads every availability from src and swaps in a fresh snapshot
// stamped with now. On error the previous snapshot is kept. It returns the
// snapshot in place afterwards, which is newer than the one built here when
// a later rebuild already won.
func (m *Matrix) Rebuild(ctx context.Context, src Source, now time.Time) (*Snapshot, error) {
	avail, err := src.Availabilities(ctx)
	if err != nil {
		return nil, fmt.Errorf("schedule: rebuild: %w", err)
	}
	s := NewSnapshot(avail, now)
	if !m.Replace(s) {
		return m.Snapshot(), nil
	}
	return s, nil
}

// FindMatches runs FindMatches against the current snapshot.
func (m *Matrix) FindMatches(anchor time.Time, requester Availability) []Slot {
	return FindMatches(anchor, requester, m.Snapshot())
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
}
