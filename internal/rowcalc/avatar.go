package rowcalc

import (
	"hash/fnv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lucasb-eyer/go-colorful"
)

const paletteSize = 16

// palette is a fixed set of evenly spaced hues.
var palette = func() []string {
	out := make([]string, paletteSize)
	for i := range out {
		hue := float64(i) * 360 / paletteSize
		out[i] = colorful.Hsl(hue, 0.55, 0.50).Hex()
	}
	return out
}()

// Initials returns the upper-cased leading characters of the first two
// words of name, or "?" for an empty name.
func Initials(name string) string {
	var b strings.Builder
	n := 0
	for _, word := range strings.Fields(name) {
		r, _ := utf8.DecodeRuneInString(word)
		if r == utf8.RuneError {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
		if n++; n == 2 {
			break
		}
	}
	if n == 0 {
		return "?"
	}
	return b.String()
}

// AvatarColor maps a display name to a palette color. The same initials
// always get the same color.
func AvatarColor(name string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(Initials(name)))
	return palette[h.Sum32()%uint32(len(palette))]
}
