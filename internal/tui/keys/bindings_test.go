package keys

import (
	"strings"
	"testing"

	"github.com/gdamore/tcell/v2"
)

func TestHandleEventPrefersView(t *testing.T) {
	r := NewRegistry()
	var got []string
	r.AddGlobal("quit", &Action{Key: tcell.KeyRune, Rune: 'q', Handler: func() { got = append(got, "global") }})
	r.AddView("thread", "quote", &Action{Key: tcell.KeyRune, Rune: 'q', Handler: func() { got = append(got, "view") }})
	r.AddGlobal("back", &Action{Key: tcell.KeyEscape, Handler: func() { got = append(got, "esc") }})

	if !r.handle("thread", tcell.KeyRune, 'q') {
		t.Fatal("expected a match")
	}
	r.handle("conversations", tcell.KeyRune, 'q')
	r.handle("thread", tcell.KeyEscape, 0)
	if r.handle("thread", tcell.KeyRune, 'z') {
		t.Error("unbound key matched")
	}
	if strings.Join(got, ",") != "view,global,esc" {
		t.Errorf("handlers ran %v", got)
	}
}

func TestHintsOrder(t *testing.T) {
	r := NewRegistry()
	r.AddGlobal("quit", &Action{Rune: 'q', Key: tcell.KeyRune, Description: "q:quit", Visible: true})
	r.AddGlobal("hidden", &Action{Rune: 'h', Key: tcell.KeyRune, Description: "h", Visible: false})
	r.AddView("thread", "reply", &Action{Rune: 'r', Key: tcell.KeyRune, Description: "r:reply", Visible: true})
	r.AddView("thread", "edit", &Action{Rune: 'e', Key: tcell.KeyRune, Description: "e:edit", Visible: true})
	r.AddView("thread", "reply", &Action{Rune: 'R', Key: tcell.KeyRune, Description: "R:reply", Visible: true})

	if got := strings.Join(r.Hints("thread"), " "); got != "R:reply e:edit q:quit" {
		t.Errorf("Hints(thread) = %q", got)
	}
	if got := strings.Join(r.Hints("other"), " "); got != "q:quit" {
		t.Errorf("Hints(other) = %q", got)
	}
}

func TestTable(t *testing.T) {
	r := NewRegistry()
	r.AddGlobal("quit", &Action{Key: tcell.KeyRune, Rune: 'q', Help: "Quit"})
	r.AddGlobal("back", &Action{Key: tcell.KeyEscape, Help: "Go back"})
	r.AddGlobal("secret", &Action{Key: tcell.KeyRune, Rune: 'z'})
	r.AddView("thread", "reply", &Action{Key: tcell.KeyRune, Rune: 'r', Help: "Reply"})

	global := r.Table("")
	want := []Entry{{Key: "q", Help: "Quit"}, {Key: "Esc", Help: "Go back"}}
	if len(global) != len(want) {
		t.Fatalf("Table(\"\") = %v", global)
	}
	for i := range want {
		if global[i] != want[i] {
			t.Errorf("entry %d = %v, want %v", i, global[i], want[i])
		}
	}
	if got := r.Table("thread"); len(got) != 1 || got[0].Key != "r" {
		t.Errorf("Table(thread) = %v", got)
	}
	if got := r.Table("missing"); got != nil {
		t.Errorf("Table(missing) = %v", got)
	}
}
