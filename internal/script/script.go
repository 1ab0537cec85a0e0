// Package script holds the reference text a reader follows.
//
// A [Script] is parsed once from free-form input and is immutable afterwards:
// the alignment engine indexes into its word or sentence sequence, so the
// tokenisation must not change while a reading session is running. Accessors
// return copies for that reason.
package script

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Unit selects the granularity a progress pointer indexes into.
type Unit int

const (
	// UnitWord indexes whitespace-separated tokens.
	UnitWord Unit = iota

	// UnitSentence indexes sentences.
	UnitSentence
)

// String returns the configuration name of the unit.
func (u Unit) String() string {
	switch u {
	case UnitWord:
		return "word"
	case UnitSentence:
		return "sentence"
	default:
		return "unknown"
	}
}

// MarshalText encodes the unit by name.
func (u Unit) MarshalText() ([]byte, error) { return []byte(u.String()), nil }

// Script is a frozen reference text. The zero value is an empty script.
type Script struct {
	raw       string
	words     []string
	sentences []string
}

// Parse tokenises raw into words and sentences.
func Parse(raw string) *Script {
	return &Script{
		raw:       raw,
		words:     strings.Fields(raw),
		sentences: splitSentences(raw),
	}
}

// Raw returns the text the script was parsed from.
func (s *Script) Raw() string { return s.raw }

// IsEmpty reports whether the script contains no words.
func (s *Script) IsEmpty() bool { return s == nil || len(s.words) == 0 }

// Words returns the whitespace-separated tokens with their original casing and
// punctuation.
func (s *Script) Words() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.words...)
}

// Sentences returns the sentence sequence. Whitespace inside a sentence is
// collapsed to single spaces.
func (s *Script) Sentences() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.sentences...)
}

// Units returns Words or Sentences depending on u.
func (s *Script) Units(u Unit) []string {
	if u == UnitSentence {
		return s.Sentences()
	}
	return s.Words()
}

// Len returns the number of units of kind u.
func (s *Script) Len(u Unit) int {
	if s == nil {
		return 0
	}
	if u == UnitSentence {
		return len(s.sentences)
	}
	return len(s.words)
}

// Keywords returns up to limit distinct capitalised words that do not open a
// sentence, such as names, with surrounding punctuation removed. Recognisers
// can be primed with them. A limit <= 0 means no limit.
func (s *Script) Keywords(limit int) []string {
	if s == nil {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, sentence := range s.sentences {
		words := strings.Fields(sentence)
		for i, w := range words {
			if i == 0 {
				continue
			}
			w = strings.TrimFunc(w, func(r rune) bool {
				return !unicode.IsLetter(r) && !unicode.IsDigit(r)
			})
			first, _ := utf8.DecodeRuneInString(w)
			if w == "" || !unicode.IsUpper(first) || seen[w] {
				continue
			}
			seen[w] = true
			out = append(out, w)
			if limit > 0 && len(out) == limit {
				return out
			}
		}
	}
	return out
}

// splitSentences cuts raw after every run of terminal punctuation (plus any
// closing quotes or brackets) that is followed by whitespace or the end of the
// text. A blank line always ends the current sentence.
func splitSentences(raw string) []string {
	var (
		out []string
		b   strings.Builder
	)
	flush := func() {
		if s := strings.Join(strings.Fields(b.String()), " "); s != "" {
			out = append(out, s)
		}
		b.Reset()
	}

	rs := []rune(raw)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if r == '\n' && blankLineAhead(rs, i+1) {
			flush()
			continue
		}
		b.WriteRune(r)
		if !isTerminator(r) {
			continue
		}

		j := i + 1
		for j < len(rs) && (isTerminator(rs[j]) || isCloser(rs[j])) {
			b.WriteRune(rs[j])
			j++
		}
		i = j - 1
		if j == len(rs) || unicode.IsSpace(rs[j]) {
			flush()
		}
	}
	flush()
	return out
}

// blankLineAhead reports whether rs[from:] starts with optional horizontal
// whitespace followed by another line break.
func blankLineAhead(rs []rune, from int) bool {
	for i := from; i < len(rs); i++ {
		switch rs[i] {
		case ' ', '\t', '\r':
			continue
		case '\n':
			return true
		default:
			return false
		}
	}
	return false
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '»':
		return true
	}
	return false
}
