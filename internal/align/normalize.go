package align

import (
	"strings"
	"unicode"
)

// Normalize lowercases text, drops every character that is neither an ASCII
// letter, digit nor whitespace (underscores and apostrophes included) and
// collapses whitespace runs to single spaces. Script sentences and transcripts
// must go through the same routine before they are compared.
func Normalize(text string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return ' '
		case isASCIIAlnum(r):
			return r
		default:
			return -1
		}
	}, strings.ToLower(text))
	return strings.Join(strings.Fields(cleaned), " ")
}

// Tokenize lowercases a transcript and splits it on whitespace, keeping the
// order in which words were recognised.
func Tokenize(transcript string) []string {
	return strings.Fields(strings.ToLower(transcript))
}

// normalizeToken lowercases a script token and removes every rune in strip.
func normalizeToken(token, strip string) string {
	token = strings.ToLower(token)
	if strip == "" {
		return token
	}
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(strip, r) {
			return -1
		}
		return r
	}, token)
}

func isASCIIAlnum(r rune) bool {
	return ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9')
}
