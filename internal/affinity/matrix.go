package affinity

import (
	"sort"

	"github.com/google/uuid"

	"github.com/codepair/matchmaker/internal/language"
)

// Pair is one unordered entry of the affinity matrix. I < J always.
type Pair struct {
	I, J  int
	Score Affinity
}

// Matrix scores every unordered pair of the population, upper-triangular
// only: N*(N-1)/2 entries, no self pairs.
func Matrix(sets []language.PreferenceSet) []Pair {
	n := len(sets)
	if n < 2 {
		return nil
	}
	out := make([]Pair, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			out = append(out, Pair{I: i, J: j, Score: Score(sets[i], sets[j])})
		}
	}
	return out
}

// Candidate is anything that can be ranked against a focal user.
type Candidate struct {
	ID          uuid.UUID
	Preferences language.PreferenceSet
}

// Ranked is a candidate with its score and the language that drove it.
type Ranked struct {
	Index    int // position of the candidate in the input pool
	ID       uuid.UUID
	Score    Affinity
	Language language.Language
}

// Rank scores the focal preferences against each candidate and returns the
// viable ones sorted by descending score, then ascending id. When filter is
// non-zero only candidates offering that language (and a focal set that
// offers it too) are kept. Candidates with the focal id and zero scores are
// dropped.
func Rank(focalID uuid.UUID, focal language.PreferenceSet, pool []Candidate, filter language.Language) []Ranked {
	if filter != 0 && !focal.Offers(filter) {
		return nil
	}

	out := make([]Ranked, 0, len(pool))
	for i, c := range pool {
		if c.ID == focalID {
			continue
		}
		if filter != 0 && !c.Preferences.Offers(filter) {
			continue
		}
		ex := Explain(focal, c.Preferences)
		if ex.Score == None {
			continue
		}
		out = append(out, Ranked{Index: i, ID: c.ID, Score: ex.Score, Language: ex.Best})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}
