package outbox

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/threadline/internal/bus"
	"github.com/matheus3301/threadline/internal/chatsdk"
	"github.com/matheus3301/threadline/internal/entity"
	"github.com/matheus3301/threadline/internal/store"
	"go.uber.org/zap/zaptest"
)

// mockSender records calls and returns configurable results.
type mockSender struct {
	mu    sync.Mutex
	calls []sendCall
	err   error
}

type sendCall struct {
	Conversation string
	Text         string
	Quote        *Quote
}

func (m *mockSender) SendText(_ context.Context, conv, text string, quote *Quote) (string, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, sendCall{Conversation: conv, Text: text, Quote: quote})
	if m.err != nil {
		return "", time.Time{}, m.err
	}
	return fmt.Sprintf("WA%d", len(m.calls)), time.UnixMilli(5000), nil
}

func (m *mockSender) snapshot() []sendCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sendCall(nil), m.calls...)
}

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

func me() (string, string) { return "me@s", "Me" }

func TestSenderProcessesPendingMessages(t *testing.T) {
	db := testDB(t)
	b := bus.New[chatsdk.Event]()
	mock := &mockSender{}
	s := NewSender(db, mock, b, me, zaptest.NewLogger(t))

	// Subscribe to ack events.
	ch, unsub := b.Subscribe("chat@s", 10)
	defer unsub()

	s.Start(context.Background())
	defer s.Stop()

	if err := s.Enqueue("c1", "chat@s", "hello", 0); err != nil {
		t.Fatal(err)
	}

	var sent chatsdk.Sent
	select {
	case evt := <-ch:
		var ok bool
		if sent, ok = evt.(chatsdk.Sent); !ok {
			t.Fatalf("event = %#v, want Sent", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for sent event")
	}
	if sent.UniqueToken != "c1" || sent.ServerID == 0 || sent.Time != 5000 {
		t.Errorf("sent = %+v", sent)
	}

	calls := mock.snapshot()
	if len(calls) != 1 || calls[0].Conversation != "chat@s" || calls[0].Text != "hello" {
		t.Fatalf("calls = %+v", calls)
	}

	// Verify outbox is drained (no more pending).
	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending, want 0 after send", len(pending))
	}

	sm, err := db.MessageByExternalID("chat@s", "WA1")
	if err != nil {
		t.Fatal(err)
	}
	if sm == nil || sm.Record.UniqueToken != "c1" || sm.Record.ParticipantID != "me@s" || sm.Record.ServerID != sent.ServerID {
		t.Errorf("stored = %+v", sm)
	}

	select {
	case evt := <-ch:
		if nm, ok := evt.(chatsdk.NewMessage); !ok || nm.Record.UniqueToken != "c1" {
			t.Errorf("event = %#v, want NewMessage for c1", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for new message event")
	}
}

func TestSenderHandlesFailure(t *testing.T) {
	db := testDB(t)
	b := bus.New[chatsdk.Event]()
	mock := &mockSender{err: fmt.Errorf("network error")}
	s := NewSender(db, mock, b, me, zaptest.NewLogger(t))

	ch, unsub := b.Subscribe("chat@s", 10)
	defer unsub()

	if err := db.QueueOutbox("c1", "chat@s", "hello", 0); err != nil {
		t.Fatal(err)
	}

	s.Start(context.Background())
	defer s.Stop()

	select {
	case evt := <-ch:
		f, ok := evt.(chatsdk.SendFailed)
		if !ok || f.UniqueToken != "c1" || f.Reason != "network error" {
			t.Errorf("event = %#v, want SendFailed", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for send failure")
	}

	// Verify outbox entry is no longer pending (marked failed).
	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending, want 0 (should be marked failed)", len(pending))
	}
	count, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("failed send stored %d messages", count)
	}
}

func TestSenderQuotesReply(t *testing.T) {
	db := testDB(t)
	b := bus.New[chatsdk.Event]()
	mock := &mockSender{}
	s := NewSender(db, mock, b, me, zaptest.NewLogger(t))

	quotedID, err := db.UpsertMessage(entity.Record{
		UniqueToken: "q", ConversationID: "chat@s", ParticipantID: "bob@s", SenderName: "Bob",
		Kind: "text", Text: "question", Time: 1000,
	}, "WAQ")
	if err != nil {
		t.Fatal(err)
	}

	ch, unsub := b.Subscribe("chat@s", 10)
	defer unsub()

	s.Start(context.Background())
	defer s.Stop()
	if err := s.Enqueue("c2", "chat@s", "answer", quotedID); err != nil {
		t.Fatal(err)
	}

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for send")
	}
	calls := mock.snapshot()
	if len(calls) != 1 || calls[0].Quote == nil || calls[0].Quote.ExternalID != "WAQ" {
		t.Fatalf("calls = %+v", calls)
	}
	sm, err := db.MessageByToken("chat@s", "c2")
	if err != nil {
		t.Fatal(err)
	}
	if sm == nil || sm.Record.Kind != "reply" || sm.Record.ReplyTo == nil || sm.Record.ReplyTo.ServerID != quotedID {
		t.Errorf("stored reply = %+v", sm)
	}
}

func TestSenderResumesInterruptedSend(t *testing.T) {
	db := testDB(t)
	b := bus.New[chatsdk.Event]()
	mock := &mockSender{}
	s := NewSender(db, mock, b, me, zaptest.NewLogger(t))

	ch, unsub := b.Subscribe("chat@s", 10)
	defer unsub()

	// A previous daemon claimed the entry and died before sending it.
	if err := db.QueueOutbox("c1", "chat@s", "hello", 0); err != nil {
		t.Fatal(err)
	}
	if ok, err := db.ClaimOutbox("c1"); err != nil || !ok {
		t.Fatalf("ClaimOutbox() = %v, %v", ok, err)
	}

	s.Start(context.Background())
	defer s.Stop()

	select {
	case evt := <-ch:
		if sent, ok := evt.(chatsdk.Sent); !ok || sent.UniqueToken != "c1" {
			t.Errorf("event = %#v, want Sent for c1", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("interrupted send was not resumed")
	}
	if calls := mock.snapshot(); len(calls) != 1 {
		t.Errorf("sent %d times, want 1", len(calls))
	}
}
