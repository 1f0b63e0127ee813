package views

import (
	"strings"
	"unicode"

	"github.com/mattn/go-runewidth"
)

const tabWidth = 4

// sanitizeForTerminal prepares chat text for a tview cell. Runes that join
// or modify emoji (ZWJ, variation selectors, skin tones) are dropped so each
// emoji occupies the cells tcell expects. Tabs become spaces and other
// control characters are removed; newlines are kept.
func sanitizeForTerminal(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n':
			b.WriteRune(r)
		case r == '\t':
			b.WriteString(strings.Repeat(" ", tabWidth))
		case unicode.IsControl(r), joinsEmoji(r):
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// joinsEmoji reports zero-width runes that combine with a neighbour into a
// single glyph, plus the skin tone modifiers that render as a second emoji.
func joinsEmoji(r rune) bool {
	switch {
	case r >= 0x1F3FB && r <= 0x1F3FF:
		return true
	case r == 0x200D, r >= 0xFE00 && r <= 0xFE0F, r >= 0xE0100 && r <= 0xE01EF:
		return true
	}
	return false
}

// cellWidth is the display width of s after sanitizing.
func cellWidth(s string) int {
	return runewidth.StringWidth(sanitizeForTerminal(s))
}
