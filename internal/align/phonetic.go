package align

import "github.com/antzucaro/matchr"

// soundsAlike reports whether a and b share a Double Metaphone code and are
// at least minSimilarity alike by Jaro-Winkler. Words whose encoding is empty
// (no consonants) never sound alike.
func soundsAlike(a, b string, minSimilarity float64) bool {
	if !codesOverlap(a, b) {
		return false
	}
	return matchr.JaroWinkler(a, b, false) >= minSimilarity
}

func codesOverlap(a, b string) bool {
	ap, as := matchr.DoubleMetaphone(a)
	bp, bs := matchr.DoubleMetaphone(b)
	for _, x := range [...]string{ap, as} {
		if x == "" {
			continue
		}
		if x == bp || x == bs {
			return true
		}
	}
	return false
}
