package ui

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// PromptMode selects what the prompt is collecting.
type PromptMode int

const (
	PromptCommand PromptMode = iota
	PromptFilter
)

var promptLooks = map[PromptMode]struct{ label, title string }{
	PromptCommand: {":", " Command "},
	PromptFilter:  {"/", " Filter "},
}

const historySize = 50

// Prompt is the input bar under the header. In command mode it keeps a
// history walked with the arrow keys and completes command names. In
// filter mode every keystroke is reported so lists can narrow as you type.
type Prompt struct {
	*tview.InputField
	mode     PromptMode
	words    []string
	onSubmit func(mode PromptMode, text string)
	onChange func(mode PromptMode, text string)
	onCancel func()

	history []string
	cursor  int
}

func NewPrompt(theme *Theme) *Prompt {
	p := &Prompt{InputField: tview.NewInputField()}
	p.SetFieldBackgroundColor(theme.BgColor).
		SetFieldTextColor(theme.FgColor).
		SetLabelColor(theme.MenuKeyColor)
	p.SetBorder(true).
		SetBorderColor(theme.PromptBorderColor).
		SetBackgroundColor(theme.BgColor)

	p.SetDoneFunc(p.done)
	p.SetChangedFunc(func(text string) {
		if p.mode == PromptFilter && p.onChange != nil {
			p.onChange(p.mode, text)
		}
	})
	p.SetAutocompleteFunc(p.complete)
	p.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if p.mode != PromptCommand {
			return ev
		}
		step := 0
		switch ev.Key() {
		case tcell.KeyUp:
			step = -1
		case tcell.KeyDown:
			step = 1
		default:
			return ev
		}
		p.SetText(p.recall(step))
		return nil
	})
	return p
}

func (p *Prompt) done(key tcell.Key) {
	text := strings.TrimSpace(p.GetText())
	p.SetText("")
	switch key {
	case tcell.KeyEnter:
		if text == "" {
			return
		}
		if p.mode == PromptCommand {
			p.remember(text)
		}
		if p.onSubmit != nil {
			p.onSubmit(p.mode, text)
		}
	case tcell.KeyEscape:
		if p.onCancel != nil {
			p.onCancel()
		}
	}
}

// complete offers command names matching the first word typed so far.
func (p *Prompt) complete(text string) []string {
	if p.mode != PromptCommand || text == "" || strings.Contains(text, " ") {
		return nil
	}
	var out []string
	for _, w := range p.words {
		if strings.HasPrefix(w, text) && w != text {
			out = append(out, w)
		}
	}
	return out
}

func (p *Prompt) remember(cmd string) {
	if n := len(p.history); n == 0 || p.history[n-1] != cmd {
		p.history = append(p.history, cmd)
		if len(p.history) > historySize {
			p.history = p.history[1:]
		}
	}
	p.cursor = len(p.history)
}

// recall moves through the history; past the newest entry it yields "".
func (p *Prompt) recall(step int) string {
	p.cursor = min(max(p.cursor+step, 0), len(p.history))
	if p.cursor == len(p.history) {
		return ""
	}
	return p.history[p.cursor]
}

// SetCommands sets the names offered for completion in command mode.
func (p *Prompt) SetCommands(words []string) { p.words = words }

func (p *Prompt) SetOnSubmit(fn func(mode PromptMode, text string)) { p.onSubmit = fn }

// SetOnChange is called on every edit while filtering.
func (p *Prompt) SetOnChange(fn func(mode PromptMode, text string)) { p.onChange = fn }

func (p *Prompt) SetOnCancel(fn func()) { p.onCancel = fn }

// Activate clears the bar and switches it to mode.
func (p *Prompt) Activate(mode PromptMode) {
	p.mode = mode
	p.cursor = len(p.history)
	look := promptLooks[mode]
	p.SetLabel(look.label)
	p.SetTitle(look.title)
	p.SetText("")
}

func (p *Prompt) Mode() PromptMode { return p.mode }
