package ui

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"

	"github.com/matheus3301/threadline/internal/rowcalc"
)

// Theme is the set of colors every widget draws with.
type Theme struct {
	BgColor           tcell.Color
	FgColor           tcell.Color
	BorderColor       tcell.Color
	TitleColor        tcell.Color
	CounterColor      tcell.Color
	PromptBorderColor tcell.Color

	TableHeaderFg tcell.Color
	TableHeaderBg tcell.Color
	TableCursorFg tcell.Color
	TableCursorBg tcell.Color

	CrumbActiveFg   tcell.Color
	CrumbActiveBg   tcell.Color
	CrumbInactiveFg tcell.Color
	CrumbInactiveBg tcell.Color

	MenuKeyColor    tcell.Color
	NumericKeyColor tcell.Color

	Flash [3]tcell.Color
}

// palette names the handful of colors a theme is derived from.
type palette struct {
	bg, fg, accent, highlight, emphasis, soft tcell.Color
	warn, err                                 tcell.Color
}

func (p palette) theme() *Theme {
	return &Theme{
		BgColor:           p.bg,
		FgColor:           p.fg,
		BorderColor:       p.accent,
		TitleColor:        p.emphasis,
		CounterColor:      p.soft,
		PromptBorderColor: p.accent,
		TableHeaderFg:     p.fg,
		TableHeaderBg:     p.bg,
		TableCursorFg:     p.bg,
		TableCursorBg:     p.highlight,
		CrumbActiveFg:     p.bg,
		CrumbActiveBg:     p.warn,
		CrumbInactiveFg:   p.bg,
		CrumbInactiveBg:   p.highlight,
		MenuKeyColor:      p.accent,
		NumericKeyColor:   p.emphasis,
		Flash:             [3]tcell.Color{FlashInfo: p.soft, FlashWarn: p.warn, FlashErr: p.err},
	}
}

var themes = map[string]palette{
	"dark": {
		bg: tcell.ColorBlack, fg: tcell.ColorCadetBlue,
		accent: tcell.ColorDodgerBlue, highlight: tcell.ColorAqua,
		emphasis: tcell.ColorFuchsia, soft: tcell.ColorNavajoWhite,
		warn: tcell.ColorOrange, err: tcell.ColorOrangeRed,
	},
	"light": {
		bg: tcell.ColorWhite, fg: tcell.ColorDarkSlateGray,
		accent: tcell.ColorNavy, highlight: tcell.ColorLightBlue,
		emphasis: tcell.ColorPurple, soft: tcell.ColorSaddleBrown,
		warn: tcell.ColorDarkOrange, err: tcell.ColorFireBrick,
	},
}

// DefaultTheme returns the dark theme.
func DefaultTheme() *Theme {
	return themes["dark"].theme()
}

// ThemeByName looks a theme up by its config name. An empty name is the
// default theme.
func ThemeByName(name string) (*Theme, error) {
	if name == "" {
		return DefaultTheme(), nil
	}
	p, ok := themes[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown theme %q", name)
	}
	return p.theme(), nil
}

// FlashColor is the color of a notice at level.
func (t *Theme) FlashColor(level FlashLevel) tcell.Color {
	if level < 0 || int(level) >= len(t.Flash) {
		return t.FgColor
	}
	return t.Flash[level]
}

// SenderColor returns the avatar palette color for a display name, so a
// sender keeps one color across views.
func SenderColor(name string) tcell.Color {
	return tcell.GetColor(rowcalc.AvatarColor(name))
}
