package align

import (
	"math"
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/cuecard/internal/script"
)

// WindowMatcher compares the whole normalised transcript against a few
// sentences around the pointer and selects the closest one ahead of it.
//
// Restricting the search to a window keeps recurring phrases later in the
// script from capturing the pointer. Dividing the distance by the sentence
// length lets one threshold serve short and long sentences alike.
type WindowMatcher struct {
	threshold float64
	behind    int
	ahead     int
}

// Compile-time interface assertion.
var _ Matcher = (*WindowMatcher)(nil)

// NewWindowMatcher returns a [WindowMatcher]. [WithThreshold] and [WithWindow]
// apply.
func NewWindowMatcher(opts ...Option) *WindowMatcher {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &WindowMatcher{
		threshold: o.threshold,
		behind:    o.behind,
		ahead:     o.ahead,
	}
}

// Unit returns [script.UnitSentence].
func (m *WindowMatcher) Unit() script.Unit { return script.UnitSentence }

// Match implements [Matcher] by calling [WindowMatcher.FindBestMatch].
func (m *WindowMatcher) Match(units []string, snapshot string, current int) int {
	return m.FindBestMatch(units, snapshot, current)
}

// FindBestMatch scores every sentence in [current-behind, current+ahead)
// against snapshot.
//
// A candidate qualifies when its distance relative to the sentence length is
// below the threshold; among qualifying candidates the one with the smallest
// absolute distance wins, the earlier index on ties. Sentences that normalise
// to nothing never qualify. The winner is returned only if it lies ahead of
// current.
//
// The threshold and the ranking use different measures, so a short sentence
// with a worse relative score can beat a long one. Whether ranking should use
// the relative score as well is still an open product question.
func (m *WindowMatcher) FindBestMatch(sentences []string, snapshot string, current int) int {
	if current < -1 || current >= len(sentences) {
		return current
	}
	transcript := Normalize(snapshot)
	if transcript == "" {
		return current
	}

	start := max(0, current-m.behind)
	end := min(len(sentences), current+m.ahead)

	best := current
	bestDistance := math.MaxInt
	for i := start; i < end; i++ {
		sentence := Normalize(sentences[i])
		length := utf8.RuneCountInString(sentence)
		if length == 0 {
			continue
		}
		distance := matchr.Levenshtein(sentence, transcript)
		relative := float64(distance) / float64(length)
		if relative < m.threshold && distance < bestDistance {
			bestDistance = distance
			best = i
		}
	}

	if best > current {
		return best
	}
	return current
}
