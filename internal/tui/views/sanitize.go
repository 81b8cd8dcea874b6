package views

import "strings"

// sanitizeForTerminal drops runes that tcell renders badly or that a peer
// could use to drive the terminal. Emoji sequences collapse to their base
// glyph, e.g. a thumbs up with a skin tone renders as a plain thumbs up.
func sanitizeForTerminal(s string) string {
	return strings.Map(func(r rune) rune {
		if dropRune(r) {
			return -1
		}
		return r
	}, s)
}

func dropRune(r rune) bool {
	switch {
	case r == '\n' || r == '\t':
		return false
	case r < 0x20 || r == 0x7f: // control characters, including ESC
		return true
	case r >= 0x80 && r <= 0x9f: // C1 controls
		return true
	case r >= 0x1F3FB && r <= 0x1F3FF: // skin tone modifiers
		return true
	case r == 0x200D: // zero width joiner
		return true
	case r >= 0xFE00 && r <= 0xFE0F, r >= 0xE0100 && r <= 0xE01EF: // variation selectors
		return true
	default:
		return false
	}
}
