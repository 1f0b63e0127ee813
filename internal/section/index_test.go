package section

import (
	"fmt"
	"testing"
	"time"

	"github.com/matheus3301/threadline/internal/entity"
	"pgregory.net/rapid"
)

var base = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC).UnixMilli()

func msg(token string, id int64, at int64) *entity.Message {
	return &entity.Message{
		ServerID:       id,
		UniqueToken:    token,
		ConversationID: "42",
		ParticipantID:  "ann",
		Time:           at,
		Text:           "text " + token,
		Body:           entity.Text{},
	}
}

func tokens(ix *Index) [][]string {
	var out [][]string
	for _, s := range ix.Sections() {
		var row []string
		for _, r := range s.Rows {
			row = append(row, r.UniqueToken)
		}
		out = append(out, row)
	}
	return out
}

func TestDayBucketing(t *testing.T) {
	ix := New("42")
	ix.InsertOrUpdate(msg("m1", 1, base))
	ix.InsertOrUpdate(msg("m2", 2, base+1000))
	ix.InsertOrUpdate(msg("m3", 3, base+24*time.Hour.Milliseconds()))

	got := fmt.Sprint(tokens(ix))
	if want := "[[m1 m2] [m3]]"; got != want {
		t.Fatalf("sections = %s, want %s", got, want)
	}

	if out := ix.InsertOrUpdate(msg("m2", 2, base+1000)); out != Unchanged {
		t.Errorf("reinsert outcome = %s, want unchanged", out)
	}
	if ix.Len() != 3 {
		t.Errorf("len = %d, want 3", ix.Len())
	}
}

func TestOtherConversationIgnored(t *testing.T) {
	ix := New("42")
	m := msg("x", 1, base)
	m.ConversationID = "43"
	if out := ix.InsertOrUpdate(m); out != Ignored {
		t.Errorf("outcome = %s, want ignored", out)
	}
	if ix.Len() != 0 {
		t.Errorf("len = %d, want 0", ix.Len())
	}
}

func TestAckMergesIntoPendingRow(t *testing.T) {
	ix := New("42")
	ix.InsertOrUpdate(msg("abc", 0, base))

	ack := msg("abc", 555, base)
	ack.Delivery = entity.Delivery{Sent: true}
	if out := ix.InsertOrUpdate(ack); out != Updated {
		t.Fatalf("outcome = %s, want updated", out)
	}
	if ix.Len() != 1 {
		t.Fatalf("len = %d, want 1", ix.Len())
	}
	byID, ok := ix.Lookup(entity.Ref{ServerID: 555})
	if !ok || byID.UniqueToken != "abc" {
		t.Fatalf("lookup by id = %v, %v", byID, ok)
	}
	if p, ok := ix.IndicesFor(entity.Ref{Token: "abc"}); !ok || p != (Path{}) {
		t.Errorf("IndicesFor = %v, %v", p, ok)
	}
}

func TestTokenAndIDConflictDeduplicates(t *testing.T) {
	ix := New("42")
	ix.InsertOrUpdate(msg("local", 0, base))
	ix.InsertOrUpdate(msg("srv-9", 9, base+10))

	ix.InsertOrUpdate(msg("local", 9, base))
	if ix.Len() != 1 {
		t.Fatalf("len = %d, want 1 after dedupe: %v", ix.Len(), tokens(ix))
	}
	m, _ := ix.Lookup(entity.Ref{ServerID: 9})
	if m.UniqueToken != "local" {
		t.Errorf("surviving token = %q, want local", m.UniqueToken)
	}
}

func TestConflictingServerIDKeepsBothRows(t *testing.T) {
	ix := New("42")
	ix.InsertOrUpdate(msg("a", 5, base))
	ix.InsertOrUpdate(msg("b", 9, base+10))

	ix.InsertOrUpdate(msg("a", 9, base))
	if ix.MessageCount() != 2 {
		t.Fatalf("rows = %v, want both kept", tokens(ix))
	}
	if m, ok := ix.Lookup(entity.Ref{ServerID: 9}); !ok || m.UniqueToken != "b" {
		t.Errorf("id 9 resolves to %+v", m)
	}
	if m, ok := ix.Lookup(entity.Ref{ServerID: 5}); !ok || m.UniqueToken != "a" {
		t.Errorf("id 5 resolves to %+v", m)
	}
}

func TestEdgeCursors(t *testing.T) {
	ix := New("42")
	if _, ok := ix.TopCursor(); ok {
		t.Error("empty index has a top cursor")
	}
	ix.InsertOrUpdate(msg("c", 30, base))
	ix.InsertOrUpdate(msg("a", 10, base))
	ix.InsertOrUpdate(msg("p", 0, base))
	ix.InsertOrUpdate(msg("z", 50, base+1))
	ix.InsertOrUpdate(msg("y", 40, base+1))

	if c, _ := ix.TopCursor(); c != (Cursor{Time: base, ID: 10}) {
		t.Errorf("top = %+v", c)
	}
	if c, _ := ix.BottomCursor(); c != (Cursor{Time: base + 1, ID: 50}) {
		t.Errorf("bottom = %+v", c)
	}
}

func TestTimeChangeMovesRow(t *testing.T) {
	ix := New("42")
	ix.InsertOrUpdate(msg("a", 1, base))
	ix.InsertOrUpdate(msg("b", 2, base+1000))

	moved := msg("a", 1, base+2000)
	if out := ix.InsertOrUpdate(moved); out != Moved {
		t.Fatalf("outcome = %s, want moved", out)
	}
	if got := fmt.Sprint(tokens(ix)); got != "[[b a]]" {
		t.Errorf("order = %s, want [[b a]]", got)
	}
}

func TestRemoveDropsEmptySection(t *testing.T) {
	ix := New("42")
	ix.InsertOrUpdate(msg("a", 1, base))
	ix.InsertOrUpdate(msg("b", 2, base+48*time.Hour.Milliseconds()))

	if _, ok := ix.RemoveByID(2); !ok {
		t.Fatal("RemoveByID(2) not found")
	}
	if len(ix.Sections()) != 1 {
		t.Errorf("sections = %d, want 1", len(ix.Sections()))
	}
	if _, ok := ix.RemoveByToken("a"); !ok {
		t.Fatal("RemoveByToken(a) not found")
	}
	if len(ix.Sections()) != 0 {
		t.Errorf("sections = %d, want 0", len(ix.Sections()))
	}
	if _, ok := ix.RemoveByToken("a"); ok {
		t.Error("second remove should report not found")
	}
}

func TestTiesKeepInsertionOrder(t *testing.T) {
	ix := New("42")
	for _, tok := range []string{"x", "y", "z"} {
		ix.InsertOrUpdate(msg(tok, 0, base))
	}
	ix.SortAll()
	if got := fmt.Sprint(tokens(ix)); got != "[[x y z]]" {
		t.Errorf("order = %s, want [[x y z]]", got)
	}
}

func TestDividerPlacement(t *testing.T) {
	ix := New("42")
	ix.InsertOrUpdate(msg("a", 1, base))
	ix.InsertOrUpdate(msg("b", 2, base+1000))
	ix.InsertOrUpdate(msg("c", 3, base+2000))

	if !ix.InsertUnreadDivider(entity.Ref{ServerID: 1}, 2) {
		t.Fatal("divider not inserted")
	}
	if got := fmt.Sprint(tokens(ix)); got != "[[a unread-divider b c]]" {
		t.Fatalf("order = %s", got)
	}

	// Moving the anchor drags the divider with it.
	ix.InsertOrUpdate(msg("a", 1, base+1500))
	if got := fmt.Sprint(tokens(ix)); got != "[[b a unread-divider c]]" {
		t.Fatalf("order after move = %s", got)
	}

	ix.SortAll()
	if got := fmt.Sprint(tokens(ix)); got != "[[b a unread-divider c]]" {
		t.Fatalf("order after SortAll = %s", got)
	}

	ix.RemoveByToken("a")
	if _, _, ok := ix.Divider(); ok {
		t.Error("divider should go with its anchor")
	}
}

func TestDividerNotAfterLastRow(t *testing.T) {
	ix := New("42")
	ix.InsertOrUpdate(msg("a", 1, base))
	if ix.InsertUnreadDivider(entity.Ref{Token: "a"}, 0) {
		t.Error("divider after the last row should not be inserted")
	}
	if ix.InsertUnreadDivider(entity.Ref{Token: "missing"}, 0) {
		t.Error("divider with unknown anchor should not be inserted")
	}
}

// op is one random mutation applied by the property tests.
type op struct {
	kind  int
	token int
	id    int64
	at    int64
}

func genOps(t *rapid.T) []op {
	return rapid.SliceOfN(rapid.Custom(func(t *rapid.T) op {
		return op{
			kind:  rapid.IntRange(0, 4).Draw(t, "kind"),
			token: rapid.IntRange(0, 12).Draw(t, "token"),
			id:    rapid.Int64Range(0, 12).Draw(t, "id"),
			at:    base + rapid.Int64Range(0, 4*24*3600).Draw(t, "sec")*1000,
		}
	}), 1, 60).Draw(t, "ops")
}

func apply(ix *Index, o op) {
	tok := fmt.Sprintf("t%d", o.token)
	switch o.kind {
	case 0, 1:
		ix.InsertOrUpdate(msg(tok, o.id, o.at))
	case 2:
		ix.RemoveByToken(tok)
	case 3:
		ix.InsertUnreadDivider(entity.Ref{Token: tok}, 1)
	case 4:
		ix.SortAll()
	}
}

func checkInvariants(t *rapid.T, ix *Index) {
	seenTok := map[string]bool{}
	seenID := map[int64]bool{}
	dividers := 0
	for si, s := range ix.Sections() {
		if len(s.Rows) == 0 {
			t.Fatalf("section %d is empty", si)
		}
		if si > 0 && ix.Sections()[si-1].Day >= s.Day {
			t.Fatalf("sections out of order at %d", si)
		}
		var prev *entity.Message
		for _, r := range s.Rows {
			if r.Kind() == entity.KindDivider {
				dividers++
				if prev == nil || !prev.Matches(ix.dividerAnchor) {
					t.Fatalf("divider not right after its anchor")
				}
				continue
			}
			if DayOf(r.Time) != s.Day {
				t.Fatalf("row %s in wrong day", r.UniqueToken)
			}
			if prev != nil && prev.Kind() != entity.KindDivider && less(r, prev) {
				t.Fatalf("rows out of order: %s before %s", prev.UniqueToken, r.UniqueToken)
			}
			if seenTok[r.UniqueToken] {
				t.Fatalf("duplicate token %s", r.UniqueToken)
			}
			seenTok[r.UniqueToken] = true
			if r.ServerID != 0 {
				if seenID[r.ServerID] {
					t.Fatalf("duplicate server id %d", r.ServerID)
				}
				seenID[r.ServerID] = true
			}
			prev = r
		}
	}
	if dividers > 1 {
		t.Fatalf("%d dividers", dividers)
	}
}

func TestIndexInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ix := New("42")
		for _, o := range genOps(t) {
			apply(ix, o)
			checkInvariants(t, ix)
		}
	})
}

func TestInsertIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ix := New("42")
		for _, o := range genOps(t) {
			apply(ix, o)
		}
		m := msg(fmt.Sprintf("t%d", rapid.IntRange(0, 20).Draw(t, "tok")), rapid.Int64Range(0, 20).Draw(t, "id"), base)
		ix.InsertOrUpdate(m)
		before := fmt.Sprint(tokens(ix))
		versions := snapshotVersions(ix)

		if out := ix.InsertOrUpdate(m); out != Unchanged && out != Ignored {
			t.Fatalf("second insert outcome = %s", out)
		}
		if after := fmt.Sprint(tokens(ix)); after != before {
			t.Fatalf("index changed: %s -> %s", before, after)
		}
		if fmt.Sprint(snapshotVersions(ix)) != fmt.Sprint(versions) {
			t.Fatal("versions changed on idempotent insert")
		}
	})
}

func snapshotVersions(ix *Index) []uint64 {
	var out []uint64
	ix.Walk(func(_ Path, m *entity.Message) bool {
		out = append(out, m.Version)
		return true
	})
	return out
}

func TestSortAllChronological(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ix := New("42")
		for _, o := range genOps(t) {
			apply(ix, o)
		}
		ix.SortAll()
		var prev *entity.Message
		ix.Walk(func(_ Path, m *entity.Message) bool {
			if m.Kind() == entity.KindDivider {
				return true
			}
			if prev != nil && (m.Time < prev.Time || m.Time == prev.Time && m.Seq < prev.Seq) {
				t.Fatalf("%s (%d) after %s (%d)", m.UniqueToken, m.Time, prev.UniqueToken, prev.Time)
			}
			prev = m
			return true
		})
	})
}
