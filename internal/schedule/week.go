// Package schedule models recurring weekly availability on a 168-slot UTC
// grid (7 days Monday-first, 24 hours each), aggregates the whole population
// into a per-slot matrix and finds upcoming overlapping slots.
package schedule

import (
	"fmt"
	"strings"
	"time"
)

const (
	DaysPerWeek  = 7
	HoursPerDay  = 24
	SlotsPerWeek = DaysPerWeek * HoursPerDay
)

// DaySchedule marks which UTC hours of a day are available.
type DaySchedule [HoursPerDay]bool

// Hours returns the number of available hours.
func (d DaySchedule) Hours() int {
	n := 0
	for _, ok := range d {
		if ok {
			n++
		}
	}
	return n
}

// WeekSchedule holds seven DaySchedules, index 0 is Monday.
type WeekSchedule [DaysPerWeek]DaySchedule

// Always returns a schedule with every slot available.
func Always() WeekSchedule {
	var w WeekSchedule
	for d := range w {
		for h := range w[d] {
			w[d][h] = true
		}
	}
	return w
}

// Day returns the schedule of a Go weekday.
func (w WeekSchedule) Day(wd time.Weekday) DaySchedule {
	return w[DayIndex(wd)]
}

// Available reports whether the slot at (weekday, hour) is open.
func (w WeekSchedule) Available(wd time.Weekday, hour int) bool {
	if hour < 0 || hour >= HoursPerDay {
		return false
	}
	return w[DayIndex(wd)][hour]
}

// Set marks (weekday, hour) as available or not.
func (w *WeekSchedule) Set(wd time.Weekday, hour int, available bool) {
	if hour < 0 || hour >= HoursPerDay {
		return
	}
	w[DayIndex(wd)][hour] = available
}

// Count returns the number of available slots in the week.
func (w WeekSchedule) Count() int {
	n := 0
	for _, d := range w {
		n += d.Hours()
	}
	return n
}

// String encodes the week as 168 characters of '0'/'1', Monday 00:00 UTC
// first. This is the persisted and wire form.
func (w WeekSchedule) String() string {
	var b strings.Builder
	b.Grow(SlotsPerWeek)
	for _, d := range w {
		for _, ok := range d {
			if ok {
				b.WriteByte('1')
			} else {
				b.WriteByte('0')
			}
		}
	}
	return b.String()
}

// ParseWeek decodes the 168-character form produced by String.
func ParseWeek(s string) (WeekSchedule, error) {
	var w WeekSchedule
	if len(s) != SlotsPerWeek {
		return w, fmt.Errorf("schedule: week must have %d slots, got %d", SlotsPerWeek, len(s))
	}
	for i := 0; i < SlotsPerWeek; i++ {
		switch s[i] {
		case '1':
			w[i/HoursPerDay][i%HoursPerDay] = true
		case '0':
		default:
			return WeekSchedule{}, fmt.Errorf("schedule: invalid slot %q at %d", s[i], i)
		}
	}
	return w, nil
}

func (w WeekSchedule) MarshalText() ([]byte, error) {
	return []byte(w.String()), nil
}

func (w *WeekSchedule) UnmarshalText(b []byte) error {
	v, err := ParseWeek(string(b))
	if err != nil {
		return err
	}
	*w = v
	return nil
}

// DayIndex maps a Go weekday (Sunday=0) to the Monday-first index.
func DayIndex(wd time.Weekday) int {
	return (int(wd) + 6) % DaysPerWeek
}

// Availability is either Never (no recurring schedule configured) or a
// weekly schedule. The zero value is Never.
type Availability struct {
	week *WeekSchedule
}

// Never returns an availability that never appears in time-based matching.
func Never() Availability {
	return Availability{}
}

// Weekly wraps a week schedule.
func Weekly(w WeekSchedule) Availability {
	return Availability{week: &w}
}

// Week returns the schedule and true, or false when the availability is Never.
func (a Availability) Week() (WeekSchedule, bool) {
	if a.week == nil {
		return WeekSchedule{}, false
	}
	return *a.week, true
}

// IsNever reports whether no schedule is configured.
func (a Availability) IsNever() bool {
	return a.week == nil
}

// MarshalText encodes Never as an empty string and Weekly as its 168-slot form.
func (a Availability) MarshalText() ([]byte, error) {
	if a.week == nil {
		return []byte{}, nil
	}
	return a.week.MarshalText()
}

func (a *Availability) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*a = Never()
		return nil
	}
	w, err := ParseWeek(string(b))
	if err != nil {
		return err
	}
	*a = Weekly(w)
	return nil
}
