package language

import (
	"encoding/json"
	"testing"
)

func TestParse_KnownAndUnknown(t *testing.T) {
	l, err := Parse("Rust")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l != Rust {
		t.Errorf("expected Rust, got %v", l)
	}

	if _, err := Parse("cobol"); err == nil {
		t.Error("expected error for unknown language")
	}
}

func TestAll_StableOrder(t *testing.T) {
	all := All()
	if len(all) == 0 {
		t.Fatal("catalogue should not be empty")
	}
	for i := 1; i < len(all); i++ {
		if all[i-1] >= all[i] {
			t.Fatalf("languages not in ascending id order at %d: %v >= %v", i, all[i-1], all[i])
		}
	}
	for _, l := range all {
		back, err := Parse(l.String())
		if err != nil || back != l {
			t.Errorf("slug round trip failed for %d: got %v, %v", l, back, err)
		}
	}
}

func TestPreferenceSet_GetDefaults(t *testing.T) {
	s := PreferenceSet{Go: {Level: Expert, Priority: High}}

	if got := s.Get(Go); got.Level != Expert || got.Priority != High {
		t.Errorf("unexpected preference for go: %+v", got)
	}
	if got := s.Get(Rust); got != DefaultPreference {
		t.Errorf("expected default preference for absent language, got %+v", got)
	}
	if s.Offers(Rust) {
		t.Error("absent language should not be offered")
	}
}

func TestPreferenceSet_LanguagesSorted(t *testing.T) {
	s := PreferenceSet{
		Zig:    {Level: Novice, Priority: Low},
		C:      {Level: Expert, Priority: No},
		Python: {Level: Proficient, Priority: High},
	}
	got := s.Languages()
	want := []Language{C, Python, Zig}
	if len(got) != len(want) {
		t.Fatalf("expected %d languages, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestPreferenceSet_JSON(t *testing.T) {
	input := []byte(`{"rust":{"level":"expert","priority":"high"},"go":{"level":"novice","priority":"no"}}`)

	var s PreferenceSet
	if err := json.Unmarshal(input, &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := s[Rust]; got.Level != Expert || got.Priority != High {
		t.Errorf("unexpected rust preference: %+v", got)
	}
	if got := s[Go]; got.Level != Novice || got.Priority != No {
		t.Errorf("unexpected go preference: %+v", got)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestPreferenceSet_JSONRejectsUnknown(t *testing.T) {
	cases := []string{
		`{"cobol":{"level":"expert","priority":"high"}}`,
		`{"rust":{"level":"guru","priority":"high"}}`,
		`{"rust":{"level":"expert","priority":"always"}}`,
	}
	for _, c := range cases {
		var s PreferenceSet
		if err := json.Unmarshal([]byte(c), &s); err == nil {
			t.Errorf("expected error for %s", c)
		}
	}
}

func TestPreferenceSet_ValidateOutOfRange(t *testing.T) {
	s := PreferenceSet{Go: {Level: 9, Priority: Low}}
	if err := s.Validate(); err == nil {
		t.Error("expected validation error for level 9")
	}
	s = PreferenceSet{Language(200): {Level: Novice, Priority: Low}}
	if err := s.Validate(); err == nil {
		t.Error("expected validation error for unknown language id")
	}
}

func TestPriorityScore(t *testing.T) {
	cases := map[Priority]int{No: 0, Low: 1, High: 2}
	for p, want := range cases {
		if got := p.Score(); got != want {
			t.Errorf("%v: expected %d, got %d", p, want, got)
		}
	}
}
