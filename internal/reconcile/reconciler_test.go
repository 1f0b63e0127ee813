package reconcile

import (
	"fmt"
	"testing"
	"time"

	"github.com/matheus3301/threadline/internal/chatsdk"
	"github.com/matheus3301/threadline/internal/entity"
	"github.com/matheus3301/threadline/internal/pending"
	"github.com/matheus3301/threadline/internal/section"
	"go.uber.org/zap/zaptest"
)

var t0 = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC).UnixMilli()

func newReconciler(t *testing.T, timeout time.Duration) *Reconciler {
	t.Helper()
	reg := pending.New[Request](timeout, zaptest.NewLogger(t))
	t.Cleanup(reg.CancelAll)
	return New(Config{ConversationID: "42", SelfID: "me", PageSize: 3}, section.New("42"), reg, zaptest.NewLogger(t))
}

func rec(id int64, who string, at int64) entity.Record {
	return entity.Record{
		ServerID:       id,
		UniqueToken:    fmt.Sprintf("tok-%d", id),
		ConversationID: "42",
		ParticipantID:  who,
		Kind:           "text",
		Text:           fmt.Sprintf("message %d", id),
		Time:           at,
	}
}

func page(key pending.Key, cached, more bool, recs ...entity.Record) chatsdk.HistoryPage {
	return chatsdk.HistoryPage{Key: string(key), ConversationID: "42", Cached: cached, HasMore: more, Records: recs}
}

func order(ix *section.Index) []string {
	var out []string
	ix.Walk(func(_ section.Path, m *entity.Message) bool {
		out = append(out, m.UniqueToken)
		return true
	})
	return out
}

// primeLatest loads a first page so older pages can be requested.
func primeLatest(t *testing.T, r *Reconciler, recs ...entity.Record) {
	t.Helper()
	req := r.RequestLatest()
	r.HandleEvent(page(req.Key, false, true, recs...))
	if r.State().LoadingCenter {
		t.Fatal("latest page did not settle")
	}
}

func TestCachedReplayThenAuthoritative(t *testing.T) {
	r := newReconciler(t, time.Second)
	primeLatest(t, r, rec(10, "ann", t0+10_000))

	req, ok := r.RequestHistoryBefore(section.Cursor{Time: t0 + 10_000})
	if !ok {
		t.Fatal("older page not requested")
	}
	if !r.State().LoadingTop {
		t.Fatal("LoadingTop should be set")
	}

	r.HandleEvent(page(req.Key, true, true, rec(1, "ann", t0), rec(2, "bob", t0+1000)))
	if got := r.Index().MessageCount(); got != 3 {
		t.Fatalf("rows after cache = %d, want 3", got)
	}
	if !r.State().LoadingTop {
		t.Error("cache replay should keep LoadingTop")
	}
	if _, ok := r.registry.Peek(req.Key); !ok {
		t.Error("cache replay should keep the pending entry")
	}

	r.HandleEvent(page(req.Key, false, false, rec(1, "ann", t0), rec(2, "bob", t0+1000), rec(3, "ann", t0+2000)))
	if got := r.Index().MessageCount(); got != 4 {
		t.Fatalf("rows after server = %d, want 4: %v", got, order(r.Index()))
	}
	st := r.State()
	if st.LoadingTop || st.HasMoreTop {
		t.Errorf("state = %+v, want not loading and no more", st)
	}
	if _, ok := r.registry.Peek(req.Key); ok {
		t.Error("authoritative page should resolve the entry")
	}
	if r.LoadState(FlowTop) != Idle {
		t.Errorf("top flow = %s, want idle", r.LoadState(FlowTop))
	}
}

func TestUnsolicitedPageMergesWithoutFlags(t *testing.T) {
	r := newReconciler(t, time.Second)
	primeLatest(t, r, rec(10, "ann", t0+10_000))

	req, _ := r.RequestHistoryBefore(section.Cursor{Time: t0 + 10_000})
	r.HandleEvent(page(pending.NewKey(pending.KindMoreTop), false, false, rec(4, "ann", t0)))

	if r.Index().MessageCount() != 2 {
		t.Errorf("rows = %d, want 2", r.Index().MessageCount())
	}
	st := r.State()
	if !st.LoadingTop || !st.HasMoreTop {
		t.Errorf("stale page touched flags: %+v", st)
	}
	if _, ok := r.registry.Peek(req.Key); !ok {
		t.Error("pending key was removed by an unrelated page")
	}
}

func TestOtherConversationIgnored(t *testing.T) {
	r := newReconciler(t, time.Second)
	other := rec(1, "ann", t0)
	other.ConversationID = "43"
	r.HandleEvent(chatsdk.NewMessage{Record: other})
	r.HandleEvent(chatsdk.HistoryPage{ConversationID: "43", Records: []entity.Record{other}})
	if r.Index().Len() != 0 {
		t.Errorf("rows = %d, want 0", r.Index().Len())
	}
}

func TestOpenCaughtUpLoadsLatest(t *testing.T) {
	r := newReconciler(t, time.Second)
	last := Position{Ref: entity.Ref{ServerID: 5}, Time: t0}
	reqs := r.Open(OpenParams{LastSeen: last, LastMessage: last})
	if len(reqs) != 1 || reqs[0].Key.Kind() != pending.KindHistory {
		t.Fatalf("requests = %+v, want one history request", reqs)
	}
	if !reqs[0].Fetch.Window.Newest {
		t.Error("latest page should be taken from the newest end")
	}
}

func TestOpenWithUnreadMovesAroundLastSeen(t *testing.T) {
	r := newReconciler(t, time.Second)
	seen := Position{Ref: entity.Ref{ServerID: 2, Token: "tok-2"}, Time: t0 + 1000}
	reqs := r.Open(OpenParams{
		LastSeen:    seen,
		LastMessage: Position{Ref: entity.Ref{ServerID: 4}, Time: t0 + 3000},
		UnreadCount: 2,
	})
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}
	before, after := reqs[0], reqs[1]
	if before.Key.Kind() != pending.KindMoveBefore || after.Key.Kind() != pending.KindMoveAfter {
		t.Fatalf("kinds = %s, %s", before.Key.Kind(), after.Key.Kind())
	}
	if before.Fetch.Window.To != seen.Time || after.Fetch.Window.From != seen.Time+1 {
		t.Errorf("windows = %+v / %+v", before.Fetch.Window, after.Fetch.Window)
	}

	out := r.HandleEvent(page(before.Key, false, true, rec(1, "ann", t0), rec(2, "ann", t0+1000)))
	if out.Highlight != nil {
		t.Fatal("highlight before both pages settled")
	}
	if _, _, ok := r.Index().Divider(); ok {
		t.Fatal("divider placed before both pages settled")
	}

	out = r.HandleEvent(page(after.Key, false, false, rec(3, "bob", t0+2000), rec(4, "bob", t0+3000)))
	if out.Highlight == nil || out.Highlight.ServerID != 2 {
		t.Fatalf("highlight = %v, want message 2", out.Highlight)
	}
	got := fmt.Sprint(order(r.Index()))
	if want := "[tok-1 tok-2 unread-divider tok-3 tok-4]"; got != want {
		t.Errorf("order = %s, want %s", got, want)
	}
	st := r.State()
	if st.LoadingCenter || !st.HasMoreTop || st.HasMoreBottom {
		t.Errorf("state = %+v", st)
	}
}

func TestMoveGroupHighlightsAfterExpiry(t *testing.T) {
	r := newReconciler(t, time.Second)
	reqs := r.MoveToTime(t0, entity.Ref{ServerID: 1})
	r.HandleEvent(page(reqs[0].Key, false, false, rec(1, "ann", t0)))

	entry, ok := r.registry.Resolve(reqs[1].Key)
	if !ok {
		t.Fatal("after request missing")
	}
	out := r.Expired(reqs[1].Key, entry)
	if out.Highlight == nil {
		t.Error("highlight should run once the group settles, even by timeout")
	}
	if r.State().LoadingCenter {
		t.Error("LoadingCenter still set")
	}
}

func TestTimeoutSafetyNet(t *testing.T) {
	r := newReconciler(t, 40*time.Millisecond)
	expired := make(chan Request, 1)
	r.registry.OnExpire(func(_ pending.Key, req Request) { expired <- req })

	req := r.RequestLatest()
	if !r.State().LoadingCenter {
		t.Fatal("LoadingCenter not set")
	}

	select {
	case got := <-expired:
		r.Expired(got.Key, got)
	case <-time.After(time.Second):
		t.Fatal("request never expired")
	}
	if r.State().Loading() {
		t.Errorf("state after timeout = %+v", r.State())
	}
	if r.LoadState(FlowCenter) != Idle {
		t.Errorf("center flow = %s, want idle", r.LoadState(FlowCenter))
	}
	if r.Index().Len() != 0 {
		t.Error("timeout must not add rows")
	}

	// A late response merges but leaves the flags alone.
	r.HandleEvent(page(req.Key, false, true, rec(1, "ann", t0)))
	if r.Index().MessageCount() != 1 || r.State().HasMoreTop {
		t.Errorf("late page: rows=%d state=%+v", r.Index().MessageCount(), r.State())
	}
}

func TestResponseJustBeforeTimeout(t *testing.T) {
	r := newReconciler(t, 200*time.Millisecond)
	fired := make(chan struct{}, 1)
	r.registry.OnExpire(func(pending.Key, Request) { fired <- struct{}{} })

	req := r.RequestLatest()
	time.Sleep(150 * time.Millisecond)
	r.HandleEvent(page(req.Key, false, false, rec(1, "ann", t0)))

	if r.State().LoadingCenter {
		t.Error("LoadingCenter still set")
	}
	select {
	case <-fired:
		t.Error("expiry fired for a resolved request")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestSendAckMergesOptimisticRow(t *testing.T) {
	r := newReconciler(t, time.Second)
	r.Index().InsertOrUpdate(&entity.Message{
		UniqueToken: "abc", ConversationID: "42", ParticipantID: "me", Time: t0, Text: "hi", Body: entity.Text{},
	})

	r.HandleEvent(chatsdk.Sent{ConversationID: "42", UniqueToken: "abc", ServerID: 555, Time: t0 + 5})
	echo := entity.Record{ServerID: 555, UniqueToken: "abc", ConversationID: "42", ParticipantID: "me", Kind: "text", Text: "hi", Time: t0 + 5}
	r.HandleEvent(chatsdk.NewMessage{Record: echo})

	if r.Index().MessageCount() != 1 {
		t.Fatalf("rows = %d, want 1: %v", r.Index().MessageCount(), order(r.Index()))
	}
	m, ok := r.Index().Lookup(entity.Ref{ServerID: 555})
	if !ok || m.UniqueToken != "abc" || !m.Delivery.Sent {
		t.Errorf("row = %+v", m)
	}
}

func TestEditBeforeCreateIsReplayed(t *testing.T) {
	r := newReconciler(t, time.Second)
	r.HandleEvent(chatsdk.Edited{ConversationID: "42", Ref: entity.Ref{ServerID: 7}, Text: "fixed"})
	r.HandleEvent(chatsdk.PinChanged{ConversationID: "42", Ref: entity.Ref{ServerID: 7}, Pinned: true, Time: t0})
	r.HandleEvent(chatsdk.NewMessage{Record: rec(7, "ann", t0)})

	m, ok := r.Index().Lookup(entity.Ref{ServerID: 7})
	if !ok {
		t.Fatal("message missing")
	}
	if m.Text != "fixed" || !m.Edited || !m.Pinned {
		t.Errorf("parked mutations not replayed: %+v", m)
	}
}

func TestDeleteLeavesTombstone(t *testing.T) {
	r := newReconciler(t, time.Second)
	r.HandleEvent(chatsdk.NewMessage{Record: rec(8, "ann", t0)})
	r.HandleEvent(chatsdk.Deleted{ConversationID: "42", Ref: entity.Ref{ServerID: 8}})
	if r.Index().Len() != 0 {
		t.Fatal("message not removed")
	}

	r.HandleEvent(chatsdk.HistoryPage{ConversationID: "42", Records: []entity.Record{rec(8, "ann", t0)}})
	if r.Index().Len() != 0 {
		t.Error("late page resurrected a deleted message")
	}

	// Delete before create.
	r.HandleEvent(chatsdk.Deleted{ConversationID: "42", Ref: entity.Ref{ServerID: 9}})
	r.HandleEvent(chatsdk.NewMessage{Record: rec(9, "ann", t0)})
	if r.Index().Len() != 0 {
		t.Error("message deleted before create was inserted")
	}
}

func TestSeenCascadesToEarlierOwnMessages(t *testing.T) {
	r := newReconciler(t, time.Second)
	for i, who := range []string{"me", "ann", "me", "me"} {
		r.HandleEvent(chatsdk.NewMessage{Record: rec(int64(i+1), who, t0+int64(i)*1000)})
	}
	r.HandleEvent(chatsdk.Seen{ConversationID: "42", Ref: entity.Ref{ServerID: 3}})

	want := map[int64]bool{1: true, 2: false, 3: true, 4: false}
	for id, seen := range want {
		m, _ := r.Index().Lookup(entity.Ref{ServerID: id})
		if m.Delivery.Seen != seen {
			t.Errorf("message %d seen = %v, want %v", id, m.Delivery.Seen, seen)
		}
		if seen && !m.Delivery.Delivered {
			t.Errorf("message %d seen but not delivered", id)
		}
	}

	// Delivered after seen must not regress.
	r.HandleEvent(chatsdk.Delivered{ConversationID: "42", Ref: entity.Ref{ServerID: 3}})
	if m, _ := r.Index().Lookup(entity.Ref{ServerID: 3}); !m.Delivery.Seen {
		t.Error("delivered regressed seen")
	}
}

func TestDividerAbsentWhenSelfWroteLast(t *testing.T) {
	r := newReconciler(t, time.Second)
	r.HandleEvent(chatsdk.NewMessage{Record: rec(1, "ann", t0)})
	r.HandleEvent(chatsdk.NewMessage{Record: rec(2, "ann", t0+1000)})
	r.HandleEvent(chatsdk.LastSeenUpdated{ConversationID: "42", Ref: entity.Ref{ServerID: 1}, Time: t0})

	if _, _, ok := r.Index().Divider(); !ok {
		t.Fatal("divider missing with unread incoming message")
	}

	r.HandleEvent(chatsdk.NewMessage{Record: rec(3, "me", t0+2000)})
	if _, _, ok := r.Index().Divider(); ok {
		t.Error("divider should go once the local user wrote the last message")
	}
}

func TestSearchDoesNotTouchIndex(t *testing.T) {
	r := newReconciler(t, time.Second)
	req := r.Search("lunch")
	if req.Fetch.Query != "lunch" || !r.State().Searching {
		t.Fatalf("search request = %+v, state = %+v", req, r.State())
	}
	out := r.HandleEvent(page(req.Key, false, false, rec(1, "ann", t0)))
	if !out.Search || len(out.SearchResults) != 1 {
		t.Fatalf("outcome = %+v", out)
	}
	if r.Index().Len() != 0 {
		t.Error("search results entered the index")
	}
	if r.State().Searching {
		t.Error("Searching still set")
	}
}

func TestUploadLifecycle(t *testing.T) {
	r := newReconciler(t, time.Second)
	r.Index().InsertOrUpdate(&entity.Message{
		UniqueToken: "up", ConversationID: "42", ParticipantID: "me", Time: t0,
		Body: entity.Upload{LocalPath: "/tmp/cat.png", Media: entity.MediaImage},
	})
	r.HandleEvent(chatsdk.UploadProgress{ConversationID: "42", UniqueToken: "up", Progress: 0.4})
	r.HandleEvent(chatsdk.UploadProgress{ConversationID: "42", UniqueToken: "up", Progress: 0.2})

	m, _ := r.Index().Lookup(entity.Ref{Token: "up"})
	if p := m.Body.(entity.Upload).Progress; p != 0.4 {
		t.Errorf("progress = %v, want 0.4", p)
	}

	r.HandleEvent(chatsdk.UploadFinished{ConversationID: "42", UniqueToken: "up", Err: "quota"})
	if !m.Failed {
		t.Error("failed upload not marked")
	}
}

func TestLatePageOfAbandonedWindowDropped(t *testing.T) {
	r := newReconciler(t, time.Second)
	primeLatest(t, r, rec(10, "ann", t0+10_000), rec(11, "bob", t0+11_000), rec(12, "ann", t0+12_000))

	top, ok := r.RequestHistoryBefore(section.Cursor{Time: t0 + 10_000, ID: 10})
	if !ok {
		t.Fatal("older page not requested")
	}
	entry, ok := r.registry.Resolve(top.Key)
	if !ok {
		t.Fatal("older request missing")
	}
	r.Expired(top.Key, entry)

	later := t0 + 30*24*time.Hour.Milliseconds()
	reqs := r.MoveToTime(later, entity.Ref{})
	r.HandleEvent(page(reqs[0].Key, false, true, rec(100, "ann", later)))
	r.HandleEvent(page(reqs[1].Key, false, false, rec(101, "bob", later+1000)))

	r.HandleEvent(page(top.Key, false, false, rec(7, "ann", t0+7000), rec(8, "bob", t0+8000)))
	if got := fmt.Sprint(order(r.Index())); got != "[tok-100 tok-101]" {
		t.Errorf("rows after late page = %s", got)
	}
	if st := r.State(); !st.HasMoreTop {
		t.Errorf("late page touched flags: %+v", st)
	}
}

func TestPagingCursorIsExclusive(t *testing.T) {
	r := newReconciler(t, time.Second)
	primeLatest(t, r, rec(20, "ann", t0), rec(21, "bob", t0), rec(22, "ann", t0))

	c, ok := r.Index().TopCursor()
	if !ok || c != (section.Cursor{Time: t0, ID: 20}) {
		t.Fatalf("top cursor = %+v", c)
	}
	req, ok := r.RequestHistoryBefore(c)
	if !ok {
		t.Fatal("older page not requested")
	}
	if w := req.Fetch.Window; w.To != t0 || w.ToID != 20 || !w.Newest {
		t.Errorf("window = %+v", w)
	}
}
