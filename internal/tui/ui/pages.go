package ui

import (
	"slices"

	"github.com/rivo/tview"
)

// Pages keeps mounted components on a navigation stack. Only the top page
// is visible and running.
type Pages struct {
	*tview.Pages
	mounted  map[string]Component
	stack    []string
	running  string
	onChange func(stack []string, top Component)
}

func NewPages() *Pages {
	return &Pages{Pages: tview.NewPages(), mounted: make(map[string]Component)}
}

// Mount registers c under name without showing it.
func (p *Pages) Mount(name string, c Component) {
	p.mounted[name] = c
	p.AddPage(name, c, true, false)
}

// SetOnChange registers fn to run after every stack change, once the new
// top page has been started.
func (p *Pages) SetOnChange(fn func(stack []string, top Component)) {
	p.onChange = fn
}

// Push shows name on top of the stack. A page already on the stack is
// popped back to instead of being pushed twice.
func (p *Pages) Push(name string) {
	switch {
	case p.Current() == name:
		return
	case p.Contains(name):
		p.PopTo(name)
		return
	}
	p.stack = append(p.stack, name)
	p.settle()
}

// Pop removes the top page and returns its name, or "" on an empty stack.
func (p *Pages) Pop() string {
	top := p.Current()
	if top == "" {
		return ""
	}
	p.stack = p.stack[:len(p.stack)-1]
	p.settle()
	return top
}

// PopTo drops every page above name. Unknown names are ignored.
func (p *Pages) PopTo(name string) {
	i := slices.Index(p.stack, name)
	if i < 0 {
		return
	}
	p.stack = p.stack[:i+1]
	p.settle()
}

// Reset replaces the whole stack with name.
func (p *Pages) Reset(name string) {
	p.stack = []string{name}
	p.settle()
}

func (p *Pages) Contains(name string) bool { return slices.Contains(p.stack, name) }

func (p *Pages) Current() string {
	if len(p.stack) == 0 {
		return ""
	}
	return p.stack[len(p.stack)-1]
}

func (p *Pages) Stack() []string { return slices.Clone(p.stack) }

func (p *Pages) Depth() int { return len(p.stack) }

// settle makes the top of the stack the only visible page and moves the
// Start/Stop lifecycle along with it.
func (p *Pages) settle() {
	top := p.Current()
	if top != p.running {
		if c := p.mounted[p.running]; c != nil {
			c.Stop()
		}
		for name := range p.mounted {
			if name != top {
				p.HidePage(name)
			}
		}
		p.running = top
		if top != "" {
			p.ShowPage(top)
			p.SendToFront(top)
		}
		if c := p.mounted[top]; c != nil {
			c.Start()
		}
	}
	if p.onChange != nil {
		p.onChange(p.Stack(), p.mounted[top])
	}
}
