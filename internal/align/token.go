package align

import (
	"strings"

	"github.com/MrWong99/cuecard/internal/script"
)

// TokenMatcher advances through script words one token at a time. Each spoken
// word may tick off at most the next expected script word, so a single call
// never skips over a script word that was not heard.
//
// Matching is bidirectional substring containment ("play" matches "playing"
// and vice versa). This tolerates recogniser inflection errors but lets short
// words such as "a" or "i" match almost anything.
type TokenMatcher struct {
	strip      string
	soundsLike float64
}

// Compile-time interface assertion.
var _ Matcher = (*TokenMatcher)(nil)

// NewTokenMatcher returns a [TokenMatcher]. [WithStripChars] and
// [WithSoundsAlike] apply.
func NewTokenMatcher(opts ...Option) *TokenMatcher {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &TokenMatcher{strip: o.stripChars, soundsLike: o.soundsLike}
}

// Unit returns [script.UnitWord].
func (m *TokenMatcher) Unit() script.Unit { return script.UnitWord }

// Match implements [Matcher] by calling [TokenMatcher.Advance].
func (m *TokenMatcher) Match(units []string, snapshot string, current int) int {
	return m.Advance(units, snapshot, current)
}

// Advance scans every word of snapshot in order against the script word after
// the working cursor, which starts at current. It returns the cursor if it
// moved past current and current otherwise.
func (m *TokenMatcher) Advance(scriptTokens []string, snapshot string, current int) int {
	if current < -1 || current >= len(scriptTokens)-1 {
		return current
	}
	spoken := Tokenize(snapshot)
	if len(spoken) == 0 {
		return current
	}

	cursor := current
	for _, word := range spoken {
		next := cursor + 1
		if next >= len(scriptTokens) {
			break
		}
		expected := normalizeToken(scriptTokens[next], m.strip)
		if m.matches(word, expected) {
			cursor = next
		}
	}

	if cursor > current {
		return cursor
	}
	return current
}

func (m *TokenMatcher) matches(word, expected string) bool {
	if strings.Contains(word, expected) || strings.Contains(expected, word) {
		return true
	}
	return m.soundsLike > 0 && soundsAlike(word, expected, m.soundsLike)
}
