package ui

import "github.com/rivo/tview"

// MenuHint is one key shown in the header menu. Numeric hints are the
// digit shortcuts and get their own color.
type MenuHint struct {
	Key         string
	Description string
	Numeric     bool
}

// Component is a page that can sit on the Pages stack. Start runs each
// time it becomes the top page and Stop when something covers or pops it.
type Component interface {
	tview.Primitive
	Name() string
	Start()
	Stop()
	Hints() []MenuHint
}
