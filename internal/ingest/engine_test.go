package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/threadline/internal/bus"
	"github.com/matheus3301/threadline/internal/chatsdk"
	"github.com/matheus3301/threadline/internal/entity"
	"github.com/matheus3301/threadline/internal/store"
	"go.uber.org/zap/zaptest"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newEngine(t *testing.T) (*Engine, *store.DB, *bus.Bus[Inbound], *bus.Bus[chatsdk.Event]) {
	t.Helper()
	db := testDB(t)
	in := bus.New[Inbound]()
	out := bus.New[chatsdk.Event]()
	return NewEngine(db, in, out, zaptest.NewLogger(t)), db, in, out
}

func inbound(ext, text string, at int64) Message {
	return Message{
		ExternalID: ext,
		PushName:   "Bob",
		Record: entity.Record{
			ConversationID: "chat@s",
			ParticipantID:  "bob@s",
			SenderName:     "Bob",
			Kind:           "text",
			Text:           text,
			Time:           at,
		},
	}
}

func next(t *testing.T, ch <-chan chatsdk.Event) chatsdk.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

func TestIngestMessage(t *testing.T) {
	e, db, _, out := newEngine(t)
	ch, unsub := out.Subscribe("chat@s", 10)
	defer unsub()

	r, err := e.IngestMessage(inbound("M1", "hello", 1000))
	if err != nil {
		t.Fatal(err)
	}
	if r.ServerID == 0 || r.UniqueToken != "wa-M1" {
		t.Fatalf("record = %+v", r)
	}

	// Conversation was auto-created.
	c, err := db.GetConversation("chat@s")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.LastMessageAt != 1000 {
		t.Fatalf("conversation = %+v", c)
	}
	p, err := db.GetParticipant("bob@s")
	if err != nil || p == nil || p.PushName != "Bob" {
		t.Fatalf("participant = %v, %v", p, err)
	}

	evt := next(t, ch)
	nm, ok := evt.(chatsdk.NewMessage)
	if !ok || nm.Record.ServerID != r.ServerID || nm.Record.Text != "hello" {
		t.Fatalf("event = %#v", evt)
	}
}

func TestIngestMessageIdempotent(t *testing.T) {
	e, db, _, _ := newEngine(t)

	first, err := e.IngestMessage(inbound("M1", "v1", 1000))
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.IngestMessage(inbound("M1", "v2", 1000))
	if err != nil {
		t.Fatal(err)
	}
	if first.ServerID != second.ServerID {
		t.Fatalf("server ids differ: %d vs %d", first.ServerID, second.ServerID)
	}
	count, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestEchoOfOwnMessageKeepsClientToken(t *testing.T) {
	e, db, _, _ := newEngine(t)

	// The outbox stored the sent message under its client token.
	id, err := db.UpsertMessage(entity.Record{
		UniqueToken: "client-1", ConversationID: "chat@s", ParticipantID: "me@s",
		Kind: "text", Text: "hi", Time: 1000, Sent: true,
	}, "OWN1")
	if err != nil {
		t.Fatal(err)
	}

	echo := inbound("OWN1", "hi", 1000)
	echo.FromMe = true
	r, err := e.IngestMessage(echo)
	if err != nil {
		t.Fatal(err)
	}
	if r.ServerID != id || r.UniqueToken != "client-1" {
		t.Errorf("echo = %+v, want id %d token client-1", r, id)
	}
}

func TestReplyResolvesQuotedMessage(t *testing.T) {
	e, _, _, _ := newEngine(t)

	quoted, err := e.IngestMessage(inbound("Q1", "original", 1000))
	if err != nil {
		t.Fatal(err)
	}
	reply := inbound("R1", "answer", 2000)
	reply.QuotedExternalID = "Q1"
	r, err := e.IngestMessage(reply)
	if err != nil {
		t.Fatal(err)
	}
	if r.Kind != "reply" || r.ReplyTo == nil || r.ReplyTo.ServerID != quoted.ServerID {
		t.Errorf("reply = %+v", r)
	}
}

func TestEditBeforeCreateUsesStableToken(t *testing.T) {
	e, _, _, out := newEngine(t)
	ch, unsub := out.Subscribe("chat@s", 10)
	defer unsub()

	if err := e.ApplyEdit(Edit{ConversationID: "chat@s", TargetExternalID: "LATE", Text: "fixed"}); err != nil {
		t.Fatal(err)
	}
	ed, ok := next(t, ch).(chatsdk.Edited)
	if !ok || ed.Ref != (entity.Ref{Token: TokenFor("LATE")}) {
		t.Fatalf("edit event = %+v", ed)
	}

	r, err := e.IngestMessage(inbound("LATE", "typo", 1000))
	if err != nil {
		t.Fatal(err)
	}
	if r.UniqueToken != ed.Ref.Token {
		t.Errorf("token = %q, want %q", r.UniqueToken, ed.Ref.Token)
	}
}

func TestRevokeAndPin(t *testing.T) {
	e, db, _, out := newEngine(t)

	r, err := e.IngestMessage(inbound("M1", "hello", 1000))
	if err != nil {
		t.Fatal(err)
	}
	ch, unsub := out.Subscribe("chat@s", 10)
	defer unsub()

	if err := e.ApplyPin(Pin{ConversationID: "chat@s", TargetExternalID: "M1", Pinned: true, Time: 2000}); err != nil {
		t.Fatal(err)
	}
	pin, ok := next(t, ch).(chatsdk.PinChanged)
	if !ok || !pin.Pinned || pin.Ref.ServerID != r.ServerID {
		t.Fatalf("pin event = %+v", pin)
	}

	if err := e.ApplyRevoke(Revoke{ConversationID: "chat@s", TargetExternalID: "M1"}); err != nil {
		t.Fatal(err)
	}
	del, ok := next(t, ch).(chatsdk.Deleted)
	if !ok || del.Ref.ServerID != r.ServerID {
		t.Fatalf("delete event = %+v", del)
	}
	sm, err := db.MessageByID(r.ServerID)
	if err != nil {
		t.Fatal(err)
	}
	if sm != nil {
		t.Error("revoked message still stored")
	}
}

func TestReceipts(t *testing.T) {
	e, db, _, out := newEngine(t)

	r, err := e.IngestMessage(inbound("M1", "hello", 1000))
	if err != nil {
		t.Fatal(err)
	}
	ch, unsub := out.Subscribe("chat@s", 10)
	defer unsub()

	if err := e.ApplyReceipt(Receipt{ConversationID: "chat@s", ExternalIDs: []string{"M1"}, Delivery: entity.Delivery{Seen: true}}); err != nil {
		t.Fatal(err)
	}
	if _, ok := next(t, ch).(chatsdk.Seen); !ok {
		t.Fatal("expected seen event")
	}

	if err := e.ApplyReceipt(Receipt{ConversationID: "chat@s", ExternalIDs: []string{"M1"}, ByMe: true}); err != nil {
		t.Fatal(err)
	}
	ls, ok := next(t, ch).(chatsdk.LastSeenUpdated)
	if !ok || ls.Ref.ServerID != r.ServerID || ls.Time != 1000 {
		t.Fatalf("last seen event = %+v", ls)
	}
	if u, ok := next(t, ch).(chatsdk.UnreadCountChanged); !ok || u.Count != 0 {
		t.Fatalf("unread event = %+v", u)
	}
	c, err := db.GetConversation("chat@s")
	if err != nil {
		t.Fatal(err)
	}
	if c.LastSeen.ServerID != r.ServerID {
		t.Errorf("watermark = %+v", c.LastSeen)
	}
}

func TestMembershipAddsSystemRows(t *testing.T) {
	e, db, _, out := newEngine(t)
	ch, unsub := out.Subscribe("group@g", 10)
	defer unsub()

	if err := e.ApplyMembership(Membership{ConversationID: "group@g", ParticipantIDs: []string{"ann@s"}, Time: 5000}); err != nil {
		t.Fatal(err)
	}
	nm, ok := next(t, ch).(chatsdk.NewMessage)
	if !ok || nm.Record.System == nil || nm.Record.System.Event != "joined" {
		t.Fatalf("system row = %+v", nm)
	}
	if pc, ok := next(t, ch).(chatsdk.ParticipantChanged); !ok || pc.ParticipantID != "ann@s" || pc.Left {
		t.Fatalf("participant event = %+v", pc)
	}
	page, err := db.ListLatest("group@g", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Records) != 1 || entity.Decode(page.Records[0]).Kind() != entity.KindSystem {
		t.Errorf("stored = %+v", page.Records)
	}
}

func TestIngestHistoryBatch(t *testing.T) {
	e, db, _, _ := newEngine(t)

	h := History{
		Conversations: []HistoryConversation{{ID: "chat@s", Name: "Chat", UnreadCount: 2}},
	}
	for i, ext := range []string{"H1", "H2", "H3"} {
		h.Messages = append(h.Messages, inbound(ext, "old", int64(1000*(i+1))))
	}
	if err := e.IngestHistory(h); err != nil {
		t.Fatal(err)
	}
	// Replaying the batch is idempotent.
	if err := e.IngestHistory(h); err != nil {
		t.Fatal(err)
	}
	count, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
	c, err := db.GetConversation("chat@s")
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "Chat" || c.UnreadCount != 2 || c.LastMessageAt != 3000 {
		t.Errorf("conversation = %+v", c)
	}
}

func TestEngineConsumesBus(t *testing.T) {
	e, _, in, out := newEngine(t)
	ch, unsub := out.Subscribe("chat@s", 10)
	defer unsub()

	e.Start(context.Background())
	defer e.Stop()

	// Wait for the engine goroutine to subscribe.
	deadline := time.Now().Add(time.Second)
	for in.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	in.Publish(inbound("M1", "hello", 1000))

	if _, ok := next(t, ch).(chatsdk.NewMessage); !ok {
		t.Fatal("expected new message event")
	}
}

func TestContactUpdatesParticipant(t *testing.T) {
	e, db, _, _ := newEngine(t)
	e.handle(Contact{ID: "bob@s", PushName: "Bobby"})
	e.handle(Contact{ID: "bob@s", Name: "Robert"})

	p, err := db.GetParticipant("bob@s")
	if err != nil {
		t.Fatal(err)
	}
	if p == nil || p.Name != "Robert" || p.PushName != "Bobby" {
		t.Errorf("participant = %+v", p)
	}
}
