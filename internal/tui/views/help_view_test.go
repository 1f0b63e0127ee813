package views

import (
	"strings"
	"testing"

	"github.com/matheus3301/threadline/internal/tui/keys"
	"github.com/matheus3301/threadline/internal/tui/ui"
)

func TestHelpViewAlignsKeys(t *testing.T) {
	hv := NewHelpView(ui.DefaultTheme())
	hv.SetSections([]HelpSection{
		{Title: "Global", Entries: []keys.Entry{{Key: "q", Help: "Quit"}}},
		{Title: "Empty"},
		{Title: "Commands", Entries: []keys.Entry{{Key: ":search <query>", Help: "Search"}}},
	})
	text := hv.GetText(true)
	if strings.Contains(text, "Empty") {
		t.Error("section without entries was rendered")
	}
	quit, search := -1, -1
	for _, line := range strings.Split(text, "\n") {
		if i := strings.Index(line, "Quit"); i >= 0 {
			quit = i
		}
		if i := strings.Index(line, "Search"); i >= 0 {
			search = i
		}
	}
	if quit < 0 || quit != search {
		t.Errorf("descriptions start at %d and %d, want equal columns in\n%s", quit, search, text)
	}
}
