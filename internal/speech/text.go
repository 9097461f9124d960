package speech

import (
	"strings"
	"unicode"
)

// CleanUtterance prepares text for a speech producer: emoji and symbol glyphs
// are dropped, control runes removed, and whitespace collapsed to single
// spaces. The transform is deterministic so every producer receives the same
// cleaned text.
func CleanUtterance(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(raw))
	prevSpace := true

	for _, r := range raw {
		switch {
		case r == '\u200d' || r == '\ufe0f' || r == '\u20e3':
			// Joiners, variation selectors and keycaps left behind by emoji.
			continue
		case unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsControl(r):
			continue
		case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk, unicode.Co):
			// Emoji and symbol-heavy glyphs sound unnatural when spoken.
			continue
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}

	return strings.TrimSpace(b.String())
}
