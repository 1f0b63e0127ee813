package views

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rivo/tview"

	"github.com/matheus3301/threadline/internal/api"
	"github.com/matheus3301/threadline/internal/thread"
	"github.com/matheus3301/threadline/internal/tui/ui"
)

// ConversationInfo shows what the daemon knows about a conversation and,
// below it, the state of the open thread.
type ConversationInfo struct {
	*tview.TextView
	theme *ui.Theme
}

func NewConversationInfo(theme *ui.Theme) *ConversationInfo {
	ci := &ConversationInfo{TextView: tview.NewTextView(), theme: theme}
	ci.SetDynamicColors(true).SetTextColor(theme.FgColor)
	ci.SetBorder(true).
		SetTitle(" Conversation Details ").
		SetTitleColor(theme.TitleColor).
		SetBorderColor(theme.BorderColor).
		SetBackgroundColor(theme.BgColor)
	return ci
}

func (ci *ConversationInfo) Name() string { return "Details" }
func (ci *ConversationInfo) Start() {}
func (ci *ConversationInfo) Stop() {}

func (ci *ConversationInfo) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
		{Key: "?", Description: "Help"},
	}
}

type infoRow struct{ label, value string }

// Update redraws the details. snap may be nil when no thread is open.
func (ci *ConversationInfo) Update(c api.Conversation, snap *thread.Snapshot) {
	ci.Clear()
	ci.SetTitle(fmt.Sprintf(" %s ", tview.Escape(displayName(c))))

	ci.section("Conversation", []infoRow{
		{"Name", displayName(c)},
		{"ID", c.ID},
		{"Type", strings.ToUpper(conversationKind(c))},
		{"Unread", strconv.Itoa(c.UnreadCount)},
		{"Last active", orDefault(formatTimestamp(c.LastMessageAt), "-")},
		{"Last seen", orDefault(formatTimestamp(c.LastSeenTime), "-")},
	})
	if snap != nil {
		ci.section("Thread", threadRows(snap))
	}
}

func threadRows(snap *thread.Snapshot) []infoRow {
	pending := 0
	for _, sec := range snap.Sections {
		for _, r := range sec.Rows {
			if r.Message.IsPending() {
				pending++
			}
		}
	}
	st := snap.State
	activity := "idle"
	switch {
	case st.Searching:
		activity = "searching"
	case st.Loading():
		activity = "loading"
	}
	return []infoRow{
		{"Loaded", fmt.Sprintf("%d messages over %d days", snap.Len(), len(snap.Sections))},
		{"Sending", strconv.Itoa(pending)},
		{"Unread here", strconv.Itoa(st.UnreadCount)},
		{"Older pages", yesNo(st.HasMoreTop)},
		{"Newer pages", yesNo(st.HasMoreBottom)},
		{"Activity", activity},
	}
}

func (ci *ConversationInfo) section(title string, rows []infoRow) {
	label := colorNameFromTheme(ci.theme.FgColor)
	value := colorNameFromTheme(ci.theme.CounterColor)
	_, _ = fmt.Fprintf(ci, "\n [%s::u]%s[-:-:-]\n", colorNameFromTheme(ci.theme.TitleColor), title)
	for _, r := range rows {
		_, _ = fmt.Fprintf(ci, " [%s::b]%-13s[-:-:-] [%s]%s[-]\n", label, r.label, value, tview.Escape(r.value))
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func colorNameFromTheme(c interface{ Hex() int32 }) string {
	return fmt.Sprintf("#%06x", c.Hex())
}
