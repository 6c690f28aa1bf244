// Package affinity scores how well two developers' language preferences fit
// together for pair programming. Scoring is pure and safe for concurrent use.
package affinity

import (
	"github.com/codepair/matchmaker/internal/language"
)

// Affinity is a similarity score in the closed range [None, Max]. It is an
// integer so that scores stay totally ordered and exact across encodings.
type Affinity int

const (
	None Affinity = 0
	Max  Affinity = 1000
)

const (
	maxLevelDistance  = 3  // level score = 3 - |levelA - levelB|
	maxPerLanguage    = 12 // High*High priority (4) times identical level (3)
	bestLanguageShare = 0.8
	breadthShare      = 0.2
)

// Explanation carries the score together with the shared language that
// produced the best per-language affinity.
type Explanation struct {
	Score    Affinity
	Best     language.Language // zero when Score is None
	Shared   []language.Language
	Combined int // size of the union of both sets
}

// Score computes the affinity between two preference sets. It is symmetric
// and returns None when no language is offered by both sides.
func Score(a, b language.PreferenceSet) Affinity {
	return Explain(a, b).Score
}

// Explain computes the score and reports which language drove it.
//
// A language is shared when both sides offer it (priority above No). For each
// shared language the pair priority (product of priority weights) is
// multiplied by the pair level (3 minus the level distance). The best such
// value, normalised to [0,1], weighs 80%; the fraction of all known languages
// that are shared weighs 20%. Ties on the best language go to the lowest
// language id.
func Explain(a, b language.PreferenceSet) Explanation {
	shared := sharedLanguages(a, b)
	if len(shared) == 0 {
		return Explanation{Score: None, Combined: unionSize(a, b)}
	}

	var (
		best      language.Language
		bestValue = -1
	)
	for _, l := range shared {
		v := perLanguage(a.Get(l), b.Get(l))
		if v > bestValue {
			best, bestValue = l, v
		}
	}

	union := unionSize(a, b)
	bestRatio := float64(bestValue) / maxPerLanguage
	matchRatio := float64(len(shared)) / float64(union)

	score := Affinity((bestLanguageShare*bestRatio + breadthShare*matchRatio) * float64(Max))
	if score > Max {
		score = Max
	}
	if score < None {
		score = None
	}

	return Explanation{
		Score:    score,
		Best:     best,
		Shared:   shared,
		Combined: union,
	}
}

// perLanguage returns the per-language affinity in [0,12].
func perLanguage(pa, pb language.Preference) int {
	priority := pa.Priority.Score() * pb.Priority.Score()
	distance := pa.Level.Number() - pb.Level.Number()
	if distance < 0 {
		distance = -distance
	}
	return priority * (maxLevelDistance - distance)
}

// sharedLanguages returns, in ascending id order, the languages both sides offer.
func sharedLanguages(a, b language.PreferenceSet) []language.Language {
	small, large := a, b
	if len(large) < len(small) {
		small, large = large, small
	}
	var out []language.Language
	for _, l := range small.Languages() {
		if small.Offers(l) && large.Offers(l) {
			out = append(out, l)
		}
	}
	return out
}

func unionSize(a, b language.PreferenceSet) int {
	n := len(a)
	for l := range b {
		if !a.Has(l) {
			n++
		}
	}
	return n
}
