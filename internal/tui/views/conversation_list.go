package views

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/threadline/internal/api"
	"github.com/matheus3301/threadline/internal/tui/ui"
)

// ConversationList is the table of conversations, newest activity first.
// The cursor follows the selected conversation across refreshes.
type ConversationList struct {
	*tview.Table
	theme  *ui.Theme
	convs  []api.Conversation
	shown  []api.Conversation
	filter listFilter
	now    func() time.Time
}

var listColumns = []struct {
	title  string
	expand int
	align  int
}{
	{" NAME", 1, tview.AlignLeft},
	{" UNREAD", 0, tview.AlignRight},
	{" TIME", 0, tview.AlignRight},
	{" TYPE", 0, tview.AlignRight},
}

func NewConversationList(theme *ui.Theme) *ConversationList {
	cl := &ConversationList{Table: tview.NewTable(), theme: theme, now: time.Now}
	cl.SetSelectable(true, false).
		SetFixed(1, 0).
		SetSelectedStyle(tcell.StyleDefault.Foreground(theme.TableCursorFg).Background(theme.TableCursorBg))
	cl.SetBorder(true).
		SetTitleColor(theme.TitleColor).
		SetBorderColor(theme.BorderColor).
		SetBackgroundColor(theme.BgColor)
	cl.render()
	return cl
}

func (cl *ConversationList) Name() string { return "Conversations" }
func (cl *ConversationList) Start() {}
func (cl *ConversationList) Stop() {}

func (cl *ConversationList) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "/", Description: "Filter"},
		{Key: "R", Description: "Reload"},
		{Key: ":", Description: "Command"},
		{Key: "?", Description: "Help"},
		{Key: "q", Description: "Quit"},
		{Key: "0-9", Description: "Jump", Numeric: true},
	}
}

func (cl *ConversationList) Update(convs []api.Conversation) {
	cl.convs = convs
	cl.render()
}

// SetFilter narrows the list. Words must all appear in the name or id;
// is:group, is:dm, is:channel and is:unread restrict by kind.
func (cl *ConversationList) SetFilter(filter string) {
	cl.filter = parseListFilter(filter)
	cl.render()
}

func (cl *ConversationList) ClearFilter() { cl.SetFilter("") }

type listFilter struct {
	raw   string
	words []string
	kinds []string
}

func parseListFilter(s string) listFilter {
	f := listFilter{raw: strings.TrimSpace(s)}
	for _, w := range strings.Fields(strings.ToLower(s)) {
		if kind, ok := strings.CutPrefix(w, "is:"); ok && kind != "" {
			f.kinds = append(f.kinds, kind)
			continue
		}
		f.words = append(f.words, w)
	}
	return f
}

func (f listFilter) match(c api.Conversation) bool {
	hay := strings.ToLower(displayName(c) + " " + c.ID)
	for _, w := range f.words {
		if !strings.Contains(hay, w) {
			return false
		}
	}
	for _, k := range f.kinds {
		if k == "unread" {
			if c.UnreadCount == 0 {
				return false
			}
			continue
		}
		if conversationKind(c) != k {
			return false
		}
	}
	return true
}

func conversationKind(c api.Conversation) string {
	switch {
	case c.IsChannel:
		return "channel"
	case c.IsGroup:
		return "group"
	}
	return "dm"
}

func displayName(c api.Conversation) string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

func (cl *ConversationList) render() {
	keep, _ := cl.Selected()
	cl.Clear()
	for col, h := range listColumns {
		cl.SetCell(0, col, tview.NewTableCell(h.title).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetBackgroundColor(cl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.expand))
	}

	cl.shown = cl.shown[:0]
	for _, c := range cl.convs {
		if cl.filter.match(c) {
			cl.shown = append(cl.shown, c)
		}
	}

	selectRow := 1
	for i, c := range cl.shown {
		unread := ""
		if c.UnreadCount > 0 {
			unread = strconv.Itoa(c.UnreadCount)
		}
		values := []string{
			" " + tview.Escape(sanitizeForTerminal(displayName(c))),
			unread,
			relativeTime(c.LastMessageAt, cl.now()),
			strings.ToUpper(conversationKind(c)),
		}
		for col, v := range values {
			color := cl.theme.FgColor
			switch {
			case col == 0 && c.UnreadCount > 0:
				color = ui.SenderColor(displayName(c))
			case col == 1:
				color = cl.theme.CounterColor
			}
			cl.SetCell(i+1, col, tview.NewTableCell(v).
				SetTextColor(color).
				SetAlign(listColumns[col].align).
				SetExpansion(listColumns[col].expand))
		}
		if c.ID == keep.ID {
			selectRow = i + 1
		}
	}
	if len(cl.shown) > 0 {
		cl.Select(selectRow, 0)
	}

	if cl.filter.raw != "" {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d/%d) filter: %s ", len(cl.shown), len(cl.convs), tview.Escape(cl.filter.raw)))
	} else {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d) ", len(cl.convs)))
	}
}

// Selected returns the conversation under the cursor.
func (cl *ConversationList) Selected() (api.Conversation, bool) {
	row, _ := cl.GetSelection()
	return cl.ByIndex(row)
}

// ByIndex returns the Nth visible conversation, counting from 1.
func (cl *ConversationList) ByIndex(n int) (api.Conversation, bool) {
	if n < 1 || n > len(cl.shown) {
		return api.Conversation{}, false
	}
	return cl.shown[n-1], true
}

// relativeTime shows the clock for today, the weekday within the last
// week and the date before that.
func relativeTime(ms int64, now time.Time) string {
	if ms == 0 {
		return ""
	}
	t := time.UnixMilli(ms).In(now.Location())
	y1, m1, d1 := t.Date()
	y2, m2, d2 := now.Date()
	switch {
	case y1 == y2 && m1 == m2 && d1 == d2:
		return t.Format("15:04")
	case now.Sub(t) < 6*24*time.Hour && t.Before(now):
		return t.Format("Mon")
	case y1 == y2:
		return t.Format("Jan 2")
	}
	return t.Format("2006-01-02")
}

func formatTimestamp(ms int64) string {
	return relativeTime(ms, time.Now())
}
