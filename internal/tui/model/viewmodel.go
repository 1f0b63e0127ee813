// Package model holds the application state the TUI shows outside an open
// thread: the daemon status and the conversation list.
package model

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/matheus3301/threadline/internal/api"
	"github.com/matheus3301/threadline/internal/chatsdk"
)

const conversationLimit = 200

// Source is the part of the history API the model reads from.
type Source interface {
	Status(ctx context.Context) (*api.StatusResponse, error)
	ListConversations(ctx context.Context, limit int) ([]api.Conversation, error)
}

// ViewModel caches daemon state and signals UI refreshes.
type ViewModel struct {
	mu sync.RWMutex

	src           Source
	status        *api.StatusResponse
	conversations []api.Conversation
	active        string

	refreshCh chan struct{}
}

// NewViewModel creates a view model reading from src.
func NewViewModel(src Source) *ViewModel {
	return &ViewModel{
		src:       src,
		refreshCh: make(chan struct{}, 1),
	}
}

// RefreshCh returns the channel that signals UI refresh.
func (vm *ViewModel) RefreshCh() <-chan struct{} {
	return vm.refreshCh
}

func (vm *ViewModel) signalRefresh() {
	select {
	case vm.refreshCh <- struct{}{}:
	default:
	}
}

// LoadStatus fetches the daemon status.
func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	st, err := vm.src.Status(ctx)
	if err != nil {
		return fmt.Errorf("load status: %w", err)
	}
	vm.mu.Lock()
	vm.status = st
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// LoadConversations fetches the conversation list.
func (vm *ViewModel) LoadConversations(ctx context.Context) error {
	convs, err := vm.src.ListConversations(ctx, conversationLimit)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}
	vm.mu.Lock()
	vm.conversations = convs
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// Status returns the last loaded status, or nil.
func (vm *ViewModel) Status() *api.StatusResponse {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status
}

// Conversations returns a copy of the conversation list, newest first.
func (vm *ViewModel) Conversations() []api.Conversation {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return append([]api.Conversation(nil), vm.conversations...)
}

// Conversation looks up one conversation by id.
func (vm *ViewModel) Conversation(id string) (api.Conversation, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for _, c := range vm.conversations {
		if c.ID == id {
			return c, true
		}
	}
	return api.Conversation{}, false
}

// SetActive records the open conversation. Its unread count is not bumped
// by new messages.
func (vm *ViewModel) SetActive(id string) {
	vm.mu.Lock()
	vm.active = id
	vm.mu.Unlock()
}

// Active returns the open conversation id, or "".
func (vm *ViewModel) Active() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.active
}

// Apply folds a live event into the list and reports whether it changed.
// Conversations the list has not loaded yet are ignored until the next
// refresh.
func (vm *ViewModel) Apply(evt chatsdk.Event) bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	i := vm.indexOf(evt.Conversation())
	if i < 0 {
		return false
	}
	c := &vm.conversations[i]
	switch e := evt.(type) {
	case chatsdk.NewMessage:
		if e.Record.Time <= c.LastMessageAt {
			return false
		}
		c.LastMessageAt = e.Record.Time
		if c.ID != vm.active && !vm.isSelfLocked(e.Record.ParticipantID) {
			c.UnreadCount++
		}
		vm.sortLocked()
	case chatsdk.UnreadCountChanged:
		if c.UnreadCount == e.Count {
			return false
		}
		c.UnreadCount = e.Count
	case chatsdk.LastSeenUpdated:
		c.LastSeen = e.Ref
		c.LastSeenTime = e.Time
	default:
		return false
	}
	vm.signalRefresh()
	return true
}

func (vm *ViewModel) isSelfLocked(participant string) bool {
	return vm.status != nil && vm.status.SelfID != "" && participant == vm.status.SelfID
}

func (vm *ViewModel) indexOf(id string) int {
	for i, c := range vm.conversations {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (vm *ViewModel) sortLocked() {
	sort.SliceStable(vm.conversations, func(i, j int) bool {
		return vm.conversations[i].LastMessageAt > vm.conversations[j].LastMessageAt
	})
}

// RPCSource adapts the history client to Source.
type RPCSource struct {
	RPC *api.HistoryClient
}

// Status implements Source.
func (s RPCSource) Status(ctx context.Context) (*api.StatusResponse, error) {
	return s.RPC.Status(ctx, &api.StatusRequest{})
}

// ListConversations implements Source.
func (s RPCSource) ListConversations(ctx context.Context, limit int) ([]api.Conversation, error) {
	resp, err := s.RPC.ListConversations(ctx, &api.ListConversationsRequest{Limit: limit})
	if err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}
