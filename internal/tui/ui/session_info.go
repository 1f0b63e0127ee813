package ui

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/matheus3301/threadline/internal/api"
)

// SessionData holds session information for display.
type SessionData struct {
	Session           string
	Phone             string
	Self              string
	State             string
	ConversationCount int64
	MessageCount      int64
	Uptime            time.Duration
}

// SessionDataFrom converts a daemon status answer.
func SessionDataFrom(s *api.StatusResponse) *SessionData {
	if s == nil {
		return nil
	}
	self := s.SelfName
	if self == "" {
		self = s.SelfID
	}
	return &SessionData{
		Session:           s.Session,
		Phone:             s.PhoneNumber,
		Self:              self,
		State:             s.State,
		ConversationCount: s.ConversationCount,
		MessageCount:      s.MessageCount,
		Uptime:            time.Duration(s.UptimeMs) * time.Millisecond,
	}
}

// SessionInfo displays session metadata in the header.
type SessionInfo struct {
	*tview.TextView
	theme *Theme
}

// NewSessionInfo creates a new session info panel.
func NewSessionInfo(theme *Theme) *SessionInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)

	return &SessionInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders the session info.
func (si *SessionInfo) Update(data *SessionData) {
	si.Clear()
	if data == nil {
		return
	}

	fg := colorName(si.theme.FgColor)
	ct := colorName(si.theme.CounterColor)
	row := func(label, value string) {
		_, _ = fmt.Fprintf(si, "[%s::b]%-8s[-:-:-] [%s]%s[-]\n", fg, label+":", ct, tview.Escape(value))
	}
	row("Session", data.Session)
	row("Phone", orDash(data.Phone))
	row("Self", orDash(data.Self))
	row("State", data.State)
	row("Convs", fmt.Sprintf("%d", data.ConversationCount))
	row("Msgs", fmt.Sprintf("%d", data.MessageCount))
	row("Uptime", formatDuration(data.Uptime))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
