package views

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"
	"github.com/rivo/tview"

	"github.com/matheus3301/threadline/internal/entity"
	"github.com/matheus3301/threadline/internal/tui/ui"
)

const snippetWidth = 80

// SearchView runs a query against the open conversation and lists the
// hits. Choosing a hit jumps the thread to it.
type SearchView struct {
	*tview.Flex
	theme    *ui.Theme
	input    *tview.InputField
	results  *tview.Table
	hits     []entity.Message
	query    string
	onQuery  func(query string)
	onSelect func(m entity.Message)
}

func NewSearchView(theme *ui.Theme) *SearchView {
	sv := &SearchView{
		theme:   theme,
		input:   tview.NewInputField(),
		results: tview.NewTable(),
	}

	sv.input.SetLabel(" Search thread: ").
		SetFieldWidth(0).
		SetFieldBackgroundColor(theme.BgColor).
		SetFieldTextColor(theme.FgColor).
		SetLabelColor(theme.MenuKeyColor).
		SetBackgroundColor(theme.BgColor)
	sv.input.SetDoneFunc(sv.inputDone)

	sv.results.SetSelectable(true, false).
		SetFixed(1, 0).
		SetSelectedStyle(tcell.StyleDefault.Foreground(theme.TableCursorFg).Background(theme.TableCursorBg)).
		SetSelectedFunc(func(row, _ int) {
			if m, ok := sv.hit(row); ok && sv.onSelect != nil {
				sv.onSelect(m)
			}
		})
	sv.results.SetBorder(true).
		SetTitleColor(theme.TitleColor).
		SetBorderColor(theme.BorderColor).
		SetBackgroundColor(theme.BgColor)

	sv.Flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(sv.input, 1, 0, true).
		AddItem(sv.results, 0, 1, false)
	sv.Update(nil)
	return sv
}

func (sv *SearchView) Name() string { return "Search" }
func (sv *SearchView) Start() {}
func (sv *SearchView) Stop() {}

func (sv *SearchView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Search/Open"},
		{Key: "Tab", Description: "Results"},
		{Key: "Esc", Description: "Back"},
	}
}

// SetOnQuery is called with each submitted query.
func (sv *SearchView) SetOnQuery(fn func(query string)) { sv.onQuery = fn }

// SetOnSelect is called when a hit is chosen.
func (sv *SearchView) SetOnSelect(fn func(m entity.Message)) { sv.onSelect = fn }

// Query starts a search for q as if it had been typed.
func (sv *SearchView) Query(q string) {
	sv.input.SetText(q)
	sv.submit(q)
}

func (sv *SearchView) inputDone(key tcell.Key) {
	switch key {
	case tcell.KeyEnter:
		sv.submit(sv.input.GetText())
	case tcell.KeyTab, tcell.KeyDown:
		if len(sv.hits) > 0 {
			sv.results.Select(1, 0)
		}
	}
}

func (sv *SearchView) submit(q string) {
	sv.query = strings.TrimSpace(q)
	if sv.onQuery != nil {
		sv.onQuery(sv.query)
	}
}

// Update lists hits for the last submitted query. A nil slice clears them.
func (sv *SearchView) Update(hits []entity.Message) {
	sv.hits = hits
	sv.results.Clear()
	for col, h := range []string{" FROM", " TEXT", " TIME"} {
		sv.results.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(sv.theme.TableHeaderFg).
			SetBackgroundColor(sv.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold))
	}
	for i, m := range hits {
		from := m.SenderName
		if from == "" {
			from = m.ParticipantID
		}
		cell := func(text string) *tview.TableCell {
			return tview.NewTableCell(" " + text).SetTextColor(sv.theme.FgColor)
		}
		sv.results.SetCell(i+1, 0, cell(tview.Escape(sanitizeForTerminal(from))).SetMaxWidth(25))
		sv.results.SetCell(i+1, 1, cell(highlight(m.Text, sv.query, snippetWidth)).SetExpansion(1))
		sv.results.SetCell(i+1, 2, cell(formatTimestamp(m.Time)).SetMaxWidth(12))
	}

	title := " Results "
	if sv.query != "" {
		title = fmt.Sprintf(" %d results for %q ", len(hits), sv.query)
	}
	sv.results.SetTitle(tview.Escape(title))
}

func (sv *SearchView) hit(row int) (entity.Message, bool) {
	if i := row - 1; i >= 0 && i < len(sv.hits) {
		return sv.hits[i], true
	}
	return entity.Message{}, false
}

func (sv *SearchView) Input() *tview.InputField { return sv.input }

// snippet returns the first line of s, cut to n terminal cells.
func snippet(s string, n int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = sanitizeForTerminal(s)
	if cellWidth(s) <= n {
		return s
	}
	return runewidth.Truncate(s, n, "…")
}

// matchWindow cuts s to about n cells around the first case-insensitive
// match of q. ok is false when q does not occur in s.
func matchWindow(s, q string, n int) (lead, match, rest string, ok bool) {
	s = strings.Join(strings.Fields(sanitizeForTerminal(s)), " ")
	lower := strings.ToLower(s)
	i := strings.Index(lower, strings.ToLower(q))
	// Lowering can change byte lengths outside ASCII; offsets are only
	// usable when it did not.
	if q == "" || i < 0 || len(lower) != len(s) {
		return "", "", "", false
	}
	lead, match, rest = s[:i], s[i:i+len(q)], s[i+len(q):]

	if budget := n / 3; cellWidth(lead) > budget {
		r := []rune(lead)
		for len(r) > 0 && runewidth.StringWidth(string(r)) > budget-1 {
			r = r[1:]
		}
		lead = "…" + string(r)
	}
	if left := n - cellWidth(lead) - cellWidth(match); cellWidth(rest) > left {
		rest = runewidth.Truncate(rest, max(left, 1), "…")
	}
	return lead, match, rest, true
}

// highlight renders a result line with the query underlined.
func highlight(s, q string, n int) string {
	lead, match, rest, ok := matchWindow(s, q, n)
	if !ok {
		return tview.Escape(snippet(s, n))
	}
	return tview.Escape(lead) + "[::u]" + tview.Escape(match) + "[::-]" + tview.Escape(rest)
}
