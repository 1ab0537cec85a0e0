package script_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/cuecard/internal/script"
)

func TestParse_Words(t *testing.T) {
	t.Parallel()

	s := script.Parse("  The sky above the port,\n was the color\tof television.  ")
	want := []string{"The", "sky", "above", "the", "port,", "was", "the", "color", "of", "television."}
	if got := s.Words(); !slices.Equal(got, want) {
		t.Errorf("Words() = %q, want %q", got, want)
	}
	if s.Len(script.UnitWord) != len(want) {
		t.Errorf("Len(UnitWord) = %d, want %d", s.Len(script.UnitWord), len(want))
	}
}

func TestParse_Sentences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "terminators",
			raw:  "Hello world. Foo bar! Hello world again?",
			want: []string{"Hello world.", "Foo bar!", "Hello world again?"},
		},
		{
			name: "closing quote stays with sentence",
			raw:  `He said "stop." Then he left.`,
			want: []string{`He said "stop."`, "Then he left."},
		},
		{
			name: "decimal point does not split",
			raw:  "Pi is 3.14 roughly. Done",
			want: []string{"Pi is 3.14 roughly.", "Done"},
		},
		{
			name: "ellipsis and repeated marks",
			raw:  "Wait… What?! Fine",
			want: []string{"Wait…", "What?!", "Fine"},
		},
		{
			name: "blank line ends a sentence",
			raw:  "Verse one without stop\n\nVerse two\nstill two",
			want: []string{"Verse one without stop", "Verse two still two"},
		},
		{
			name: "empty",
			raw:  "   \n\n ",
			want: nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := script.Parse(tc.raw).Sentences()
			if !slices.Equal(got, tc.want) {
				t.Errorf("Sentences() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestScript_AccessorsReturnCopies(t *testing.T) {
	t.Parallel()

	s := script.Parse("one two. three")
	w := s.Words()
	w[0] = "mutated"
	if s.Words()[0] != "one" {
		t.Error("mutating Words() result changed the script")
	}
	u := s.Units(script.UnitSentence)
	u[0] = "mutated"
	if s.Sentences()[0] != "one two." {
		t.Error("mutating Units() result changed the script")
	}
}

func TestScript_Empty(t *testing.T) {
	t.Parallel()

	var nilScript *script.Script
	if !nilScript.IsEmpty() {
		t.Error("nil script should be empty")
	}
	if nilScript.Len(script.UnitSentence) != 0 {
		t.Error("nil script should have zero length")
	}
	if !script.Parse(" \t").IsEmpty() {
		t.Error("whitespace script should be empty")
	}
}

func TestUnit_String(t *testing.T) {
	t.Parallel()

	if script.UnitWord.String() != "word" || script.UnitSentence.String() != "sentence" {
		t.Errorf("unexpected unit names %q %q", script.UnitWord, script.UnitSentence)
	}
}

func TestScript_Keywords(t *testing.T) {
	t.Parallel()

	s := script.Parse(`The ship left Chiba at dawn. "Case," said Molly, "stay close to Case."
I know.`)

	got := s.Keywords(0)
	want := []string{"Chiba", "Molly", "Case"}
	if !slices.Equal(got, want) {
		t.Errorf("Keywords(0) = %q, want %q", got, want)
	}
	if got := s.Keywords(1); len(got) != 1 || got[0] != "Chiba" {
		t.Errorf("Keywords(1) = %q", got)
	}
	if got := (*script.Script)(nil).Keywords(3); got != nil {
		t.Errorf("nil script Keywords = %q", got)
	}
}
