package schedule

import (
	"time"

	"github.com/google/uuid"
)

// Slot is one upcoming hour where the requester and at least one other user
// are available.
type Slot struct {
	At    time.Time   `json:"at"`
	Users []uuid.UUID `json:"user_ids"`
}

// FindMatches walks one week forward from anchor, hour by hour, and returns
// every hour the requester is available and the snapshot has users for the
// same weekday and hour. The walk starts at anchor truncated to the hour in
// UTC and covers exactly SlotsPerWeek hours, so no slot is later than
// anchor + 167h. Results are in increasing time order.
//
// The requester's own id is not known here; callers must remove it from the
// returned sets.
func FindMatches(anchor time.Time, requester Availability, snap *Snapshot) []Slot {
	week, ok := requester.Week()
	if !ok || snap == nil {
		return nil
	}

	start := anchor.UTC().Truncate(time.Hour)
	var out []Slot
	for i := 0; i < SlotsPerWeek; i++ {
		at := start.Add(time.Duration(i) * time.Hour)
		wd, hour := at.Weekday(), at.Hour()
		if !week.Available(wd, hour) {
			continue
		}
		users := snap.Users(wd, hour)
		if len(users) == 0 {
			continue
		}
		ids := make([]uuid.UUID, len(users))
		copy(ids, users)
		out = append(out, Slot{At: at, Users: ids})
	}
	return out
}

// Without returns slots with id removed from every user set. Slots left
// empty are dropped.
func Without(slots []Slot, id uuid.UUID) []Slot {
	out := make([]Slot, 0, len(slots))
	for _, s := range slots {
		users := make([]uuid.UUID, 0, len(s.Users))
		for _, u := range s.Users {
			if u != id {
				users = append(users, u)
			}
		}
		if len(users) == 0 {
			continue
		}
		out = append(out, Slot{At: s.At, Users: users})
	}
	return out
}
