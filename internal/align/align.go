// Package align implements the reading-progress alignment engine.
//
// Given the cumulative transcript of everything a reader has said since
// listening began, a [Matcher] decides how far through a fixed reference
// script the reader has progressed. Two strategies share one contract
// (script units, snapshot, current index) -> index:
//
//   - [TokenMatcher] walks the word sequence one token per spoken word using
//     permissive substring containment.
//   - [WindowMatcher] scores a small window of sentences around the pointer by
//     normalised Levenshtein distance and jumps to the best one ahead.
//
// Matchers are stateless between calls and safe for concurrent use. They never
// return errors: degenerate inputs (empty snapshot, empty script, exhausted or
// out-of-range pointer) yield the current index unchanged, and the returned
// index is never lower than the one passed in.
package align

import (
	"fmt"

	"github.com/MrWong99/cuecard/internal/script"
)

// Strategy names an alignment algorithm.
type Strategy string

const (
	// StrategyToken selects the [TokenMatcher].
	StrategyToken Strategy = "token"

	// StrategySentence selects the [WindowMatcher].
	StrategySentence Strategy = "sentence"
)

// IsValid reports whether s is a recognised strategy.
func (s Strategy) IsValid() bool {
	return s == StrategyToken || s == StrategySentence
}

// Unit returns the script granularity the strategy indexes into.
func (s Strategy) Unit() script.Unit {
	if s == StrategySentence {
		return script.UnitSentence
	}
	return script.UnitWord
}

// Matcher advances a progress pointer through script units.
type Matcher interface {
	// Unit reports whether Match expects words or sentences.
	Unit() script.Unit

	// Match returns the new pointer for units given the cumulative snapshot
	// and the current pointer (-1 when nothing has been read yet). The result
	// is always >= current.
	Match(units []string, snapshot string, current int) int
}

const (
	defaultStripChars = ".,"
	defaultThreshold  = 0.6
	defaultBehind     = 1
	defaultAhead      = 3
)

// Option tunes a matcher. Options that do not apply to a strategy are ignored.
type Option func(*options)

type options struct {
	stripChars string
	threshold  float64
	behind     int
	ahead      int
	soundsLike float64
}

func defaultOptions() options {
	return options{
		stripChars: defaultStripChars,
		threshold:  defaultThreshold,
		behind:     defaultBehind,
		ahead:      defaultAhead,
	}
}

// WithStripChars sets the characters removed from script tokens before the
// token matcher compares them. Default: ".,".
func WithStripChars(chars string) Option {
	return func(o *options) { o.stripChars = chars }
}

// WithSoundsAlike lets the token matcher also accept a spoken word that is
// pronounced like the expected script word: their Double Metaphone codes must
// overlap and their Jaro-Winkler similarity must reach minSimilarity. This
// catches recognisers spelling out names they do not know ("cathrin" for
// "Kathryn"). Disabled by default; values outside (0, 1] disable it.
func WithSoundsAlike(minSimilarity float64) Option {
	return func(o *options) {
		if minSimilarity > 0 && minSimilarity <= 1 {
			o.soundsLike = minSimilarity
		} else {
			o.soundsLike = 0
		}
	}
}

// WithThreshold sets the maximum relative edit distance (exclusive) a sentence
// may have and still be accepted by the window matcher. Default: 0.6.
func WithThreshold(threshold float64) Option {
	return func(o *options) {
		if threshold > 0 {
			o.threshold = threshold
		}
	}
}

// WithWindow sets how many sentences behind the pointer and how far ahead of it
// the window matcher searches. The window is [current-behind, current+ahead).
// Default: 1 behind, 3 ahead.
func WithWindow(behind, ahead int) Option {
	return func(o *options) {
		if behind >= 0 {
			o.behind = behind
		}
		if ahead > 0 {
			o.ahead = ahead
		}
	}
}

// New returns the matcher for strategy s.
func New(s Strategy, opts ...Option) (Matcher, error) {
	switch s {
	case StrategyToken:
		return NewTokenMatcher(opts...), nil
	case StrategySentence:
		return NewWindowMatcher(opts...), nil
	default:
		return nil, fmt.Errorf("align: unknown strategy %q", s)
	}
}
