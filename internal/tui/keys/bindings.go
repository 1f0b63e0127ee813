// Package keys maps key events to named actions, globally or per page.
package keys

import "github.com/gdamore/tcell/v2"

// Action represents a keybinding action.
type Action struct {
	Key         tcell.Key
	Rune        rune
	Description string
	// Help is the longer text for the help page. Actions without it are
	// left off.
	Help    string
	Handler func()
	Visible bool
}

// Label names the key the way the help page prints it.
func (a *Action) Label() string {
	if a.Key == tcell.KeyRune {
		return string(a.Rune)
	}
	if name, ok := tcell.KeyNames[a.Key]; ok {
		return name
	}
	return "?"
}

// Matches returns true if the event matches this action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	return a.matches(ev.Key(), ev.Rune())
}

func (a *Action) matches(key tcell.Key, r rune) bool {
	if a.Key != tcell.KeyRune {
		return key == a.Key
	}
	return key == tcell.KeyRune && r == a.Rune
}

type binding struct {
	name   string
	action *Action
}

// scope keeps bindings in registration order; re-registering a name
// replaces the action in place.
type scope []binding

func (s scope) add(name string, a *Action) scope {
	for i := range s {
		if s[i].name == name {
			s[i].action = a
			return s
		}
	}
	return append(s, binding{name: name, action: a})
}

func (s scope) match(key tcell.Key, r rune) *Action {
	for _, b := range s {
		if b.action.matches(key, r) {
			return b.action
		}
	}
	return nil
}

// Registry holds keybindings organized by scope.
type Registry struct {
	global scope
	views  map[string]scope
}

// NewRegistry creates a new keybinding registry.
func NewRegistry() *Registry {
	return &Registry{views: make(map[string]scope)}
}

// AddGlobal registers a global keybinding.
func (r *Registry) AddGlobal(name string, action *Action) {
	r.global = r.global.add(name, action)
}

// AddView registers a view-specific keybinding.
func (r *Registry) AddView(view, name string, action *Action) {
	r.views[view] = r.views[view].add(name, action)
}

// Hints returns visible keybinding descriptions for a view: view bindings
// first, then global ones, each in registration order.
func (r *Registry) Hints(view string) []string {
	var hints []string
	for _, s := range []scope{r.views[view], r.global} {
		for _, b := range s {
			if b.action.Visible {
				hints = append(hints, b.action.Description)
			}
		}
	}
	return hints
}

// Entry is one line of the help page.
type Entry struct {
	Key  string
	Help string
}

// Table lists the bindings of a view that carry help text. An empty view
// lists the global bindings.
func (r *Registry) Table(view string) []Entry {
	s := r.global
	if view != "" {
		s = r.views[view]
	}
	var out []Entry
	for _, b := range s {
		if b.action.Help != "" {
			out = append(out, Entry{Key: b.action.Label(), Help: b.action.Help})
		}
	}
	return out
}

// HandleEvent dispatches a key event to the matching action in the given
// view, falling back to global bindings. Returns true if a handler matched.
func (r *Registry) HandleEvent(view string, ev *tcell.EventKey) bool {
	return r.handle(view, ev.Key(), ev.Rune())
}

func (r *Registry) handle(view string, key tcell.Key, ch rune) bool {
	a := r.views[view].match(key, ch)
	if a == nil {
		a = r.global.match(key, ch)
	}
	if a == nil {
		return false
	}
	a.Handler()
	return true
}
