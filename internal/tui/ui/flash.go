package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/rivo/tview"
)

// FlashLevel is the severity of a notice.
type FlashLevel int

const (
	FlashInfo FlashLevel = iota
	FlashWarn
	FlashErr
)

var flashLifetime = [...]time.Duration{
	FlashInfo: 5 * time.Second,
	FlashWarn: 8 * time.Second,
	FlashErr:  10 * time.Second,
}

// FlashMessage is one notice. Repeat counts identical notices raised while
// the previous one was still showing.
type FlashMessage struct {
	Text    string
	Level   FlashLevel
	Repeat  int
	Expires time.Time
}

// FlashModel keeps the latest notice. Notices are also pushed to Watch; a
// slow watcher misses some of them and should fall back to GetMessage.
type FlashModel struct {
	mu      sync.Mutex
	current FlashMessage
	out     chan FlashMessage
	now     func() time.Time
}

func NewFlashModel() *FlashModel {
	return &FlashModel{out: make(chan FlashMessage, 8), now: time.Now}
}

func (f *FlashModel) Info(msg string) { f.raise(FlashInfo, msg) }
func (f *FlashModel) Warn(msg string) { f.raise(FlashWarn, msg) }
func (f *FlashModel) Err(err error) { f.raise(FlashErr, err.Error()) }

func (f *FlashModel) Errorf(format string, args ...any) {
	f.raise(FlashErr, fmt.Sprintf(format, args...))
}

func (f *FlashModel) raise(level FlashLevel, text string) {
	now := f.now()
	f.mu.Lock()
	repeat := 1
	if f.current.Text == text && f.current.Level == level && now.Before(f.current.Expires) {
		repeat = f.current.Repeat + 1
	}
	f.current = FlashMessage{Text: text, Level: level, Repeat: repeat, Expires: now.Add(flashLifetime[level])}
	msg := f.current
	f.mu.Unlock()

	select {
	case f.out <- msg:
	default:
	}
}

// GetMessage returns the live notice, or nil once it has expired.
func (f *FlashModel) GetMessage() *FlashMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current.Text == "" || !f.now().Before(f.current.Expires) {
		return nil
	}
	msg := f.current
	return &msg
}

func (f *FlashModel) Watch() <-chan FlashMessage {
	return f.out
}

// FlashBar is the one-line notice area under the crumbs.
type FlashBar struct {
	*tview.TextView
	theme *Theme
}

func NewFlashBar(theme *Theme) *FlashBar {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	return &FlashBar{TextView: tv, theme: theme}
}

// Update shows msg, or blanks the bar when msg is nil.
func (fb *FlashBar) Update(msg *FlashMessage) {
	fb.Clear()
	if msg == nil {
		return
	}
	text := tview.Escape(msg.Text)
	if msg.Repeat > 1 {
		text = fmt.Sprintf("%s (x%d)", text, msg.Repeat)
	}
	_, _ = fmt.Fprintf(fb, " [%s]%s[-]", colorName(fb.theme.FlashColor(msg.Level)), text)
}
