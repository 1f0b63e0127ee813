package views

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/threadline/internal/reconcile"
	"github.com/matheus3301/threadline/internal/thread"
	"github.com/matheus3301/threadline/internal/tui/ui"
)

// MessageThread displays the rows of one open conversation and a composer.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	rows     *tview.Table
	composer *Composer
	opts     RenderOptions

	name   string
	lines  []Line
	follow bool
}

// NewMessageThread creates a new message thread view.
func NewMessageThread(theme *ui.Theme, width int) *MessageThread {
	rows := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	rows.SetBorder(true)
	rows.SetBorderColor(theme.BorderColor)
	rows.SetBackgroundColor(theme.BgColor)
	rows.SetTitleColor(theme.TitleColor)
	rows.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))

	composer := NewComposer(theme)
	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(rows, 0, 1, true).
		AddItem(composer, 3, 0, false)

	return &MessageThread{
		Flex:     flex,
		theme:    theme,
		rows:     rows,
		composer: composer,
		opts:     RenderOptions{Width: width},
		follow:   true,
	}
}

// Name implements Component.
func (mt *MessageThread) Name() string {
	if mt.name != "" {
		return mt.name
	}
	return "Messages"
}

// Start implements Component.
func (mt *MessageThread) Start() {}

// Stop implements Component.
func (mt *MessageThread) Stop() {}

// Hints implements Component.
func (mt *MessageThread) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "i", Description: "Compose"},
		{Key: "r", Description: "Reply"},
		{Key: "e", Description: "Edit"},
		{Key: "p", Description: "Pin/Unpin"},
		{Key: "x", Description: "Delete"},
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
	}
}

// SetChatName updates the conversation name shown in the title.
func (mt *MessageThread) SetChatName(name string) {
	mt.name = name
	mt.setTitle(reconcile.State{})
}

func (mt *MessageThread) setTitle(st reconcile.State) {
	var flags []string
	switch {
	case st.LoadingCenter:
		flags = append(flags, "loading")
	case st.LoadingTop:
		flags = append(flags, "loading older")
	case st.LoadingBottom:
		flags = append(flags, "loading newer")
	}
	if st.Searching {
		flags = append(flags, "searching")
	}
	if st.UnreadCount > 0 {
		flags = append(flags, fmt.Sprintf("%d unread", st.UnreadCount))
	}
	title := " " + tview.Escape(mt.Name()) + " "
	if len(flags) > 0 {
		title += "(" + strings.Join(flags, ", ") + ") "
	}
	mt.rows.SetTitle(title)
}

// Update re-renders the thread from snap. The selected row is kept; when
// the view was scrolled to the end it follows new rows.
func (mt *MessageThread) Update(snap *thread.Snapshot) {
	selected := mt.SelectedToken()
	mt.follow = mt.atEnd()
	mt.lines = Lines(snap, mt.opts)
	mt.rows.Clear()

	selRow := -1
	for i, l := range mt.lines {
		cell := tview.NewTableCell(" " + l.Text + " ").
			SetExpansion(1).
			SetTextColor(mt.theme.FgColor).
			SetSelectable(l.Token != "")
		if l.Right {
			cell.SetAlign(tview.AlignRight)
		}
		mt.rows.SetCell(i, 0, cell)
		if selRow < 0 && selected != "" && l.Token == selected {
			selRow = i
		}
	}
	if snap != nil {
		mt.setTitle(snap.State)
	}

	switch {
	case mt.follow || selRow < 0:
		mt.rows.ScrollToEnd()
		if last := mt.lastSelectable(); last >= 0 {
			mt.rows.Select(last, 0)
		}
	default:
		mt.rows.Select(selRow, 0)
	}
}

func (mt *MessageThread) atEnd() bool {
	if len(mt.lines) == 0 {
		return true
	}
	row, _ := mt.rows.GetSelection()
	return row >= mt.lastSelectable()
}

func (mt *MessageThread) lastSelectable() int {
	for i := len(mt.lines) - 1; i >= 0; i-- {
		if mt.lines[i].Token != "" {
			return i
		}
	}
	return -1
}

// SelectedToken returns the token of the selected row, or "".
func (mt *MessageThread) SelectedToken() string {
	row, _ := mt.rows.GetSelection()
	if row < 0 || row >= len(mt.lines) {
		return ""
	}
	return mt.lines[row].Token
}

// Select moves the selection to the first line of the row with token.
func (mt *MessageThread) Select(token string) bool {
	for i, l := range mt.lines {
		if l.Token == token {
			mt.rows.Select(i, 0)
			return true
		}
	}
	return false
}

// VisibleTokens returns the distinct tokens of the rows on screen, in
// thread order. It is only accurate after the table has been drawn.
func (mt *MessageThread) VisibleTokens() []string {
	offset, _ := mt.rows.GetOffset()
	_, _, _, height := mt.rows.GetInnerRect()
	return visibleTokens(mt.lines, offset, height)
}

func visibleTokens(lines []Line, offset, height int) []string {
	var out []string
	seen := map[string]bool{}
	for i := max(offset, 0); i < len(lines) && i < offset+height; i++ {
		tok := lines[i].Token
		if tok == "" || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// Rows returns the rows table (for focus management).
func (mt *MessageThread) Rows() *tview.Table {
	return mt.rows
}

// Composer returns the composer.
func (mt *MessageThread) Composer() *Composer {
	return mt.composer
}
