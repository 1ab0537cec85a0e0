package align_test

import (
	"testing"

	"github.com/MrWong99/cuecard/internal/align"
)

func TestTokenMatcher_Advance(t *testing.T) {
	t.Parallel()

	skyPort := []string{"the", "sky", "above", "the", "port"}

	tests := []struct {
		name     string
		tokens   []string
		snapshot string
		current  int
		want     int
	}{
		{
			name:     "exact sequence",
			tokens:   skyPort,
			snapshot: "the sky above",
			current:  -1,
			want:     2,
		},
		{
			name:     "spoken word contains expected",
			tokens:   []string{"play", "music"},
			snapshot: "playing",
			current:  -1,
			want:     0,
		},
		{
			name:     "expected contains spoken word",
			tokens:   []string{"playing", "music"},
			snapshot: "play",
			current:  -1,
			want:     0,
		},
		{
			name:     "case and punctuation ignored",
			tokens:   []string{"The", "sky,", "above."},
			snapshot: "THE Sky ABOVE",
			current:  -1,
			want:     2,
		},
		{
			name:     "unmatched words are skipped without advancing",
			tokens:   skyPort,
			snapshot: "um the uh sky",
			current:  -1,
			want:     1,
		},
		{
			name:     "one script token per spoken token",
			tokens:   []string{"go", "go", "go"},
			snapshot: "go",
			current:  -1,
			want:     0,
		},
		{
			name:     "rescans cumulative snapshot from current pointer",
			tokens:   skyPort,
			snapshot: "the sky above the port",
			current:  2,
			want:     4,
		},
		{
			name:     "stops at end of script",
			tokens:   []string{"the", "end"},
			snapshot: "the end the end the end",
			current:  -1,
			want:     1,
		},
		{
			name:     "no match keeps pointer",
			tokens:   skyPort,
			snapshot: "completely different words",
			current:  1,
			want:     1,
		},
		{
			name:     "short words false positive",
			tokens:   []string{"a", "dead", "channel"},
			snapshot: "banana",
			current:  -1,
			want:     0,
		},
		{
			name:     "token that strips to nothing is consumed by any word",
			tokens:   []string{"wait", ",", "what"},
			snapshot: "wait hmm what",
			current:  -1,
			want:     2,
		},
		{
			name:     "out of range pointer unchanged",
			tokens:   skyPort,
			snapshot: "the sky",
			current:  -5,
			want:     -5,
		},
		{
			name:     "pointer beyond script unchanged",
			tokens:   skyPort,
			snapshot: "the sky",
			current:  10,
			want:     10,
		},
	}

	m := align.NewTokenMatcher()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := m.Advance(tc.tokens, tc.snapshot, tc.current); got != tc.want {
				t.Errorf("Advance(%q, %q, %d) = %d, want %d", tc.tokens, tc.snapshot, tc.current, got, tc.want)
			}
		})
	}
}

func TestTokenMatcher_WithStripChars(t *testing.T) {
	t.Parallel()

	tokens := []string{"stop!", "now"}

	// "!" is not stripped by default, so "stop" does not contain "stop!" but
	// "stop!" contains "stop" and still matches.
	if got := align.NewTokenMatcher().Advance(tokens, "stop now", -1); got != 1 {
		t.Errorf("default strip: got %d, want 1", got)
	}

	// With nothing stripped, "port," is not a substring of "port" but the
	// reverse containment still holds.
	m := align.NewTokenMatcher(align.WithStripChars(""))
	if got := m.Advance([]string{"port,", "was"}, "port was", -1); got != 1 {
		t.Errorf("empty strip set: got %d, want 1", got)
	}

	// Stripping the hyphen lets a recogniser's joined word match.
	m = align.NewTokenMatcher(align.WithStripChars("-"))
	if got := m.Advance([]string{"well-known"}, "wellknown", -1); got != 0 {
		t.Errorf("custom strip set: got %d, want 0", got)
	}
}

func TestTokenMatcher_WithSoundsAlike(t *testing.T) {
	t.Parallel()

	tokens := []string{"ask", "Kathryn", "today"}
	spoken := "ask cathrin today"

	if got := align.NewTokenMatcher().Advance(tokens, spoken, -1); got != 0 {
		t.Errorf("without sounds-alike: got %d, want 0 (misspelt name blocks progress)", got)
	}

	m := align.NewTokenMatcher(align.WithSoundsAlike(0.7))
	if got := m.Advance(tokens, spoken, -1); got != 2 {
		t.Errorf("with sounds-alike: got %d, want 2", got)
	}

	// Different consonant skeleton: no phonetic overlap.
	if got := m.Advance(tokens, "ask kitten today", -1); got != 0 {
		t.Errorf("kitten: got %d, want 0", got)
	}

	// Out-of-range similarity disables the comparison.
	m = align.NewTokenMatcher(align.WithSoundsAlike(1.5))
	if got := m.Advance(tokens, spoken, -1); got != 0 {
		t.Errorf("disabled: got %d, want 0", got)
	}
}
