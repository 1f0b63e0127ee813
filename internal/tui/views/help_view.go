package views

import (
	"fmt"

	"github.com/mattn/go-runewidth"
	"github.com/rivo/tview"

	"github.com/matheus3301/threadline/internal/tui/keys"
	"github.com/matheus3301/threadline/internal/tui/ui"
)

// HelpSection is one titled block of the help page.
type HelpSection struct {
	Title   string
	Entries []keys.Entry
}

// HelpView lists key bindings and commands.
type HelpView struct {
	*tview.TextView
	theme *ui.Theme
}

func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)
	return &HelpView{TextView: tv, theme: theme}
}

func (hv *HelpView) Name() string { return "Help" }

func (hv *HelpView) Start() { hv.ScrollToBeginning() }

func (hv *HelpView) Stop() {}

func (hv *HelpView) Hints() []ui.MenuHint {
	return []ui.MenuHint{{Key: "Esc", Description: "Back"}}
}

// SetSections replaces the page. Keys are padded to the widest key of the
// whole page so descriptions line up across sections.
func (hv *HelpView) SetSections(sections []HelpSection) {
	hv.Clear()
	width := 0
	for _, sec := range sections {
		for _, e := range sec.Entries {
			width = max(width, runewidth.StringWidth(e.Key))
		}
	}
	kc := fmt.Sprintf("#%06x", hv.theme.MenuKeyColor.Hex())
	for _, sec := range sections {
		if len(sec.Entries) == 0 {
			continue
		}
		_, _ = fmt.Fprintf(hv, "\n  [::b]%s[-:-:-]\n\n", tview.Escape(sec.Title))
		for _, e := range sec.Entries {
			pad := runewidth.FillRight(e.Key, width)
			_, _ = fmt.Fprintf(hv, "  [%s]%s[-:-:-]  %s\n", kc, tview.Escape(pad), tview.Escape(e.Help))
		}
	}
}
