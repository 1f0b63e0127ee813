package views

import (
	"strings"
	"testing"

	"github.com/matheus3301/threadline/internal/entity"
	"github.com/matheus3301/threadline/internal/tui/ui"
)

func TestMatchWindow(t *testing.T) {
	tests := []struct {
		name             string
		text, query      string
		n                int
		lead, match, end string
		ok               bool
	}{
		{"short", "hello world", "WORLD", 40, "hello ", "world", "", true},
		{"cut both sides", "the quick brown fox jumps", "fox", 12, "…wn ", "fox", " jum…", true},
		{"newlines fold", "line one\nline two", "two", 60, "line one line ", "two", "", true},
		{"missing", "hello", "bye", 40, "", "", "", false},
		{"empty query", "hello", "", 40, "", "", "", false},
	}
	for _, tt := range tests {
		lead, match, end, ok := matchWindow(tt.text, tt.query, tt.n)
		if ok != tt.ok || lead != tt.lead || match != tt.match || end != tt.end {
			t.Errorf("%s: matchWindow = (%q, %q, %q, %v), want (%q, %q, %q, %v)",
				tt.name, lead, match, end, ok, tt.lead, tt.match, tt.end, tt.ok)
		}
	}
}

func TestHighlight(t *testing.T) {
	if got := highlight("say [hi] now", "hi", 40); !strings.Contains(got, "[::u]hi[::-]") {
		t.Errorf("highlight = %q", got)
	}
	if got := highlight("first\nsecond", "zzz", 40); got != "first" {
		t.Errorf("no match should fall back to the first line, got %q", got)
	}
}

func TestSearchViewQueryAndHits(t *testing.T) {
	sv := NewSearchView(ui.DefaultTheme())
	var asked string
	sv.SetOnQuery(func(q string) { asked = q })

	sv.Query("  lunch ")
	if asked != "lunch" {
		t.Errorf("query = %q, want trimmed lunch", asked)
	}

	hits := []entity.Message{
		{UniqueToken: "a", SenderName: "Ana", Text: "lunch at noon?"},
		{UniqueToken: "b", ParticipantID: "bob@s", Text: "no lunch today"},
	}
	sv.Update(hits)
	if sv.results.GetRowCount() != 3 {
		t.Fatalf("rows = %d, want header plus 2", sv.results.GetRowCount())
	}
	if got := sv.results.GetCell(2, 0).Text; got != " bob@s" {
		t.Errorf("sender falls back to participant, got %q", got)
	}
	if m, ok := sv.hit(2); !ok || m.UniqueToken != "b" {
		t.Errorf("hit(2) = %+v, %v", m, ok)
	}
	if _, ok := sv.hit(0); ok {
		t.Error("the header row is not a hit")
	}
}
