package language

import (
	"fmt"
	"sort"
)

// Level is a self-rated proficiency. Values are totally ordered.
type Level uint8

const (
	Novice     Level = 1
	Proficient Level = 2
	Expert     Level = 3
)

// Number returns the numeric proficiency (1..3) used by the level score.
func (l Level) Number() int {
	if l < Novice || l > Expert {
		return int(Novice)
	}
	return int(l)
}

func (l Level) String() string {
	switch l {
	case Novice:
		return "novice"
	case Proficient:
		return "proficient"
	case Expert:
		return "expert"
	default:
		return fmt.Sprintf("level(%d)", uint8(l))
	}
}

// ParseLevel decodes a level name.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "novice":
		return Novice, nil
	case "proficient":
		return Proficient, nil
	case "expert":
		return Expert, nil
	}
	return 0, fmt.Errorf("language: unknown level %q", s)
}

func (l Level) MarshalText() ([]byte, error) {
	if l < Novice || l > Expert {
		return nil, fmt.Errorf("language: invalid level %d", uint8(l))
	}
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Priority is a user's willingness to pair in a language. No means the
// language is known but not offered for pairing.
type Priority uint8

const (
	No   Priority = 0
	Low  Priority = 1
	High Priority = 2
)

// Score returns the priority weight: No=0, Low=1, High=2.
func (p Priority) Score() int {
	if p > High {
		return 0
	}
	return int(p)
}

func (p Priority) String() string {
	switch p {
	case No:
		return "no"
	case Low:
		return "low"
	case High:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", uint8(p))
	}
}

// ParsePriority decodes a priority name.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "no":
		return No, nil
	case "low":
		return Low, nil
	case "high":
		return High, nil
	}
	return 0, fmt.Errorf("language: unknown priority %q", s)
}

func (p Priority) MarshalText() ([]byte, error) {
	if p > High {
		return nil, fmt.Errorf("language: invalid priority %d", uint8(p))
	}
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Preference is a user's level and pairing priority for one language.
type Preference struct {
	Level    Level    `json:"level"`
	Priority Priority `json:"priority"`
}

// DefaultPreference is returned for languages a user has not configured.
var DefaultPreference = Preference{Level: Novice, Priority: No}

// Offered reports whether the language is available for pairing.
func (p Preference) Offered() bool {
	return p.Priority > No
}

// PreferenceSet maps languages to preferences. It encodes to JSON as an
// object keyed by language slug.
type PreferenceSet map[Language]Preference

// Get returns the preference for l, or DefaultPreference when absent.
func (s PreferenceSet) Get(l Language) Preference {
	if p, ok := s[l]; ok {
		return p
	}
	return DefaultPreference
}

// Has reports whether l is present in the set, regardless of priority.
func (s PreferenceSet) Has(l Language) bool {
	_, ok := s[l]
	return ok
}

// Offers reports whether l is present with a priority above No.
func (s PreferenceSet) Offers(l Language) bool {
	p, ok := s[l]
	return ok && p.Offered()
}

// Languages returns the keys in ascending id order.
func (s PreferenceSet) Languages() []Language {
	out := make([]Language, 0, len(s))
	for l := range s {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns an independent copy.
func (s PreferenceSet) Clone() PreferenceSet {
	out := make(PreferenceSet, len(s))
	for l, p := range s {
		out[l] = p
	}
	return out
}

// Validate checks that every key, level and priority is in range.
func (s PreferenceSet) Validate() error {
	for l, p := range s {
		if !l.Valid() {
			return fmt.Errorf("language: invalid language id %d", uint8(l))
		}
		if p.Level < Novice || p.Level > Expert {
			return fmt.Errorf("language: %s: invalid level %d", l, uint8(p.Level))
		}
		if p.Priority > High {
			return fmt.Errorf("language: %s: invalid priority %d", l, uint8(p.Priority))
		}
	}
	return nil
}
