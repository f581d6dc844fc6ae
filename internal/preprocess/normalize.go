// Package preprocess normalizes raw chat text before it reaches the spam gate
// and the classifier.
package preprocess

import (
	"strings"
	"unicode"
)

// keptPunct is the punctuation that survives symbol stripping.
const keptPunct = ".,;:!?'\"()-/%$@#&+"

// Normalize collapses 3+ repeated '!' or '?' into one, drops emoji and other
// symbols, collapses whitespace, lowercases and trims. Pure; never fails.
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(text))

	runes := []rune(text)
	space, letter := false, false
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if r == '!' || r == '?' {
			j := i
			for j < len(runes) && runes[j] == r {
				j++
			}
			n := j - i
			if n >= 3 {
				n = 1
			}
			for k := 0; k < n; k++ {
				b.WriteRune(r)
			}
			space, letter = false, false
			i = j - 1
			continue
		}

		switch {
		case unicode.IsSpace(r):
			if !space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space, letter = true, false
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			space, letter = false, true
			continue
		case r < unicode.MaxASCII && strings.ContainsRune(keptPunct, r):
			b.WriteRune(r)
		case letter && unicode.Is(unicode.Mn, r) && !unicode.Is(unicode.Variation_Selector, r):
			// combining accents from decomposed input stay attached to their letter
			b.WriteRune(r)
			continue
		default:
			// emoji, pictographs, variation selectors, ZWJ and other symbols
			letter = false
			continue
		}
		space, letter = false, false
	}

	return strings.TrimSpace(b.String())
}
