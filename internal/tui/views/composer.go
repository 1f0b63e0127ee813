package views

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/threadline/internal/tui/ui"
)

// Composer is the text input for sending messages. It labels the message
// being replied to or edited, if any.
type Composer struct {
	*tview.InputField
	onSend   func(text string)
	onCancel func()
}

// NewComposer creates a new message composer.
func NewComposer(theme *ui.Theme) *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	input.SetBorder(true)
	input.SetBorderColor(theme.BorderColor)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)
	input.SetTitleColor(theme.TitleColor)

	c := &Composer{InputField: input}
	c.SetMode("")

	input.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			text := c.GetText()
			if text != "" && c.onSend != nil {
				c.onSend(text)
				c.SetText("")
			}
		case tcell.KeyEscape:
			c.SetText("")
			c.SetMode("")
			if c.onCancel != nil {
				c.onCancel()
			}
		}
	})
	return c
}

// SetOnSend sets the callback when a message is submitted.
func (c *Composer) SetOnSend(fn func(text string)) {
	c.onSend = fn
}

// SetOnCancel sets the callback when composing is abandoned.
func (c *Composer) SetOnCancel(fn func()) {
	c.onCancel = fn
}

// SetMode titles the composer, e.g. "reply to Ann". Empty resets it.
func (c *Composer) SetMode(mode string) {
	if mode == "" {
		c.SetTitle(" Compose (i to focus) ")
		return
	}
	c.SetTitle(" " + tview.Escape(mode) + " ")
}
