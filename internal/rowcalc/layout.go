package rowcalc

import (
	"math"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/reflow/wrap"
)

// Size is a width/height pair in layout points.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Metrics converts terminal cells into layout points.
type Metrics struct {
	CellWidth  float64
	LineHeight float64
}

// DefaultMetrics matches a monospaced 13pt font.
var DefaultMetrics = Metrics{CellWidth: 8, LineHeight: 18}

// Layout constants, in points.
const (
	bubblePaddingH = 12.0
	bubblePaddingV = 8.0
	rowSpacing     = 4.0
	runSpacing     = 8.0
	footerHeight   = 14.0
	senderHeight   = 16.0

	replyLabelWidth  = 64.0
	replyIconWidth   = 20.0
	replyImageWidth  = 40.0
	replyBlockHeight = 44.0
	replyCapRatio    = 0.6

	forwardLabelWidth  = 72.0
	forwardBlockHeight = 30.0

	bubbleWidthRatio = 0.75

	videoHeight    = 180.0
	audioHeight    = 48.0
	fileHeight     = 56.0
	mapHeight      = 150.0
	progressHeight = 6.0

	callBannerHeight   = 40.0
	systemBannerHeight = 28.0
	dividerHeight      = 30.0
)

// Width of the longest line of s.
func (mt Metrics) Width(s string) float64 {
	w := 0
	for _, line := range strings.Split(s, "\n") {
		if lw := runewidth.StringWidth(line); lw > w {
			w = lw
		}
	}
	return float64(w) * mt.CellWidth
}

// Wrap breaks s into lines no wider than maxWidth points. Words longer than
// a line are split.
func (mt Metrics) Wrap(s string, maxWidth float64) []string {
	if s == "" {
		return nil
	}
	cols := int(math.Floor(maxWidth / mt.CellWidth))
	if cols < 1 {
		cols = 1
	}
	wrapped := wrap.String(wordwrap.String(s, cols), cols)
	return strings.Split(wrapped, "\n")
}

// TextBlock measures s wrapped into maxWidth.
func (mt Metrics) TextBlock(s string, maxWidth float64) ([]string, Size) {
	lines := mt.Wrap(s, maxWidth)
	w := 0.0
	for _, l := range lines {
		if lw := float64(runewidth.StringWidth(l)) * mt.CellWidth; lw > w {
			w = lw
		}
	}
	return lines, Size{Width: w, Height: float64(len(lines)) * mt.LineHeight}
}
