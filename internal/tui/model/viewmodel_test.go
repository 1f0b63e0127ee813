package model

import (
	"context"
	"errors"
	"testing"

	"github.com/matheus3301/threadline/internal/api"
	"github.com/matheus3301/threadline/internal/chatsdk"
	"github.com/matheus3301/threadline/internal/entity"
)

type fakeSource struct {
	status *api.StatusResponse
	convs  []api.Conversation
	err    error
	limit  int
}

func (f *fakeSource) Status(context.Context) (*api.StatusResponse, error) {
	return f.status, f.err
}

func (f *fakeSource) ListConversations(_ context.Context, limit int) ([]api.Conversation, error) {
	f.limit = limit
	return f.convs, f.err
}

func loaded(t *testing.T) (*ViewModel, *fakeSource) {
	t.Helper()
	src := &fakeSource{
		status: &api.StatusResponse{Session: "main", State: "READY", SelfID: "me"},
		convs: []api.Conversation{
			{ID: "a", Name: "Ann", LastMessageAt: 300},
			{ID: "b", Name: "Bob", LastMessageAt: 200},
		},
	}
	vm := NewViewModel(src)
	if err := vm.LoadStatus(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := vm.LoadConversations(context.Background()); err != nil {
		t.Fatal(err)
	}
	return vm, src
}

func TestLoad(t *testing.T) {
	vm, src := loaded(t)
	if src.limit != conversationLimit {
		t.Errorf("limit = %d", src.limit)
	}
	if got := vm.Status().State; got != "READY" {
		t.Errorf("state = %q", got)
	}
	if c, ok := vm.Conversation("b"); !ok || c.Name != "Bob" {
		t.Errorf("Conversation(b) = %+v, %v", c, ok)
	}
	if _, ok := vm.Conversation("zzz"); ok {
		t.Error("unknown conversation found")
	}
	select {
	case <-vm.RefreshCh():
	default:
		t.Error("no refresh signalled")
	}
}

func TestLoadError(t *testing.T) {
	boom := errors.New("boom")
	vm := NewViewModel(&fakeSource{err: boom})
	if err := vm.LoadConversations(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if vm.Status() != nil {
		t.Error("status set after failure")
	}
}

func TestApplyNewMessageReorders(t *testing.T) {
	vm, _ := loaded(t)
	changed := vm.Apply(chatsdk.NewMessage{Record: entity.Record{ConversationID: "b", ParticipantID: "bob", Time: 400}})
	if !changed {
		t.Fatal("not applied")
	}
	convs := vm.Conversations()
	if convs[0].ID != "b" || convs[0].UnreadCount != 1 {
		t.Errorf("head = %+v", convs[0])
	}
}

func TestApplyUnreadRules(t *testing.T) {
	tests := []struct {
		name   string
		active string
		sender string
		want   int
	}{
		{"other conversation", "", "bob", 1},
		{"open conversation", "b", "bob", 0},
		{"own message", "", "me", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm, _ := loaded(t)
			vm.SetActive(tt.active)
			vm.Apply(chatsdk.NewMessage{Record: entity.Record{ConversationID: "b", ParticipantID: tt.sender, Time: 500}})
			c, _ := vm.Conversation("b")
			if c.UnreadCount != tt.want {
				t.Errorf("unread = %d, want %d", c.UnreadCount, tt.want)
			}
		})
	}
}

func TestApplyIgnoresStaleAndUnknown(t *testing.T) {
	vm, _ := loaded(t)
	if vm.Apply(chatsdk.NewMessage{Record: entity.Record{ConversationID: "a", Time: 100}}) {
		t.Error("older message applied")
	}
	if vm.Apply(chatsdk.NewMessage{Record: entity.Record{ConversationID: "x", Time: 900}}) {
		t.Error("unknown conversation applied")
	}
	if vm.Apply(chatsdk.Delivered{ConversationID: "a"}) {
		t.Error("delivery applied")
	}
}

func TestApplyWatermark(t *testing.T) {
	vm, _ := loaded(t)
	if !vm.Apply(chatsdk.UnreadCountChanged{ConversationID: "a", Count: 4}) {
		t.Fatal("unread not applied")
	}
	if vm.Apply(chatsdk.UnreadCountChanged{ConversationID: "a", Count: 4}) {
		t.Error("same count applied twice")
	}
	vm.Apply(chatsdk.LastSeenUpdated{ConversationID: "a", Ref: entity.Ref{ServerID: 9}, Time: 250})
	c, _ := vm.Conversation("a")
	if c.UnreadCount != 4 || c.LastSeen.ServerID != 9 || c.LastSeenTime != 250 {
		t.Errorf("conversation = %+v", c)
	}
}
