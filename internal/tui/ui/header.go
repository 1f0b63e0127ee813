package ui

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Logo displays the application name.
type Logo struct {
	*tview.TextView
}

// NewLogo creates a new logo component.
func NewLogo(theme *Theme) *Logo {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(1, 0, 1, 0)
	_, _ = fmt.Fprintf(tv,
		"[%s::b]┌┬┐┬ ┬┬─┐┌─┐┌─┐┌┬┐[-:-:-]\n"+
			"[%s::b] │ ├─┤├┬┘├┤ ├─┤ ││[-:-:-]\n"+
			"[%s::b] ┴ ┴ ┴┴└─└─┘┴ ┴─┴┘[-:-:-]\n"+
			"[%s]line[-:-:-]",
		colorName(theme.TitleColor), colorName(theme.TitleColor), colorName(theme.TitleColor), colorName(theme.FgColor),
	)
	return &Logo{TextView: tv}
}

// Menu displays keyboard shortcut hints in a vertical list.
type Menu struct {
	*tview.TextView
	theme *Theme
}

// NewMenu creates a new menu hint list.
func NewMenu(theme *Theme) *Menu {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 2, 0)
	return &Menu{TextView: tv, theme: theme}
}

// Update renders menu hints, one per line.
func (m *Menu) Update(hints []MenuHint) {
	m.Clear()
	_, _ = fmt.Fprint(m, FormatHints(m.theme, hints))
}

// FormatHints renders hints as tview-tagged lines.
func FormatHints(theme *Theme, hints []MenuHint) string {
	var b strings.Builder
	for _, h := range hints {
		kc := colorName(theme.MenuKeyColor)
		if h.Numeric {
			kc = colorName(theme.NumericKeyColor)
		}
		fmt.Fprintf(&b, "[%s::b]<%s>[-:-:-] %s\n", kc, h.Key, h.Description)
	}
	return b.String()
}

// Crumbs is a breadcrumb bar showing the page stack.
type Crumbs struct {
	*tview.TextView
	theme *Theme
}

// NewCrumbs creates a new breadcrumb bar.
func NewCrumbs(theme *Theme) *Crumbs {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	return &Crumbs{TextView: tv, theme: theme}
}

// Update renders the breadcrumb trail; the last entry is the active one.
func (c *Crumbs) Update(stack []string) {
	c.Clear()
	parts := make([]string, len(stack))
	for i, name := range stack {
		fg, bg, attr := c.theme.CrumbInactiveFg, c.theme.CrumbInactiveBg, ""
		if i == len(stack)-1 {
			fg, bg, attr = c.theme.CrumbActiveFg, c.theme.CrumbActiveBg, "b"
		}
		parts[i] = fmt.Sprintf("[%s:%s:%s] %s [-:-:-]", colorName(fg), colorName(bg), attr, tview.Escape(name))
	}
	_, _ = fmt.Fprint(c, strings.Join(parts, " > "))
}

// colorName returns a tview-compatible color name string.
func colorName(c tcell.Color) string {
	for name, val := range tcell.ColorNames {
		if val == c {
			return name
		}
	}
	return fmt.Sprintf("#%06x", c.Hex())
}
