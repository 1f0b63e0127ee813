package api

import (
	"github.com/matheus3301/threadline/internal/chatsdk"
	"github.com/matheus3301/threadline/internal/entity"
	"github.com/matheus3301/threadline/internal/store"
)

// FetchPageRequest asks for one page of history, or for search results
// when Query is set.
type FetchPageRequest struct {
	ConversationID string         `json:"conversation_id"`
	Window         chatsdk.Window `json:"window"`
	Query          string         `json:"query,omitempty"`
}

// FetchPageResponse is one page of records, oldest first.
type FetchPageResponse struct {
	Records []entity.Record `json:"records"`
	HasMore bool            `json:"has_more,omitempty"`
}

// ConversationRequest addresses one conversation.
type ConversationRequest struct {
	ID string `json:"id"`
}

// Conversation is the wire form of a stored conversation.
type Conversation struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	IsGroup       bool       `json:"is_group,omitempty"`
	IsChannel     bool       `json:"is_channel,omitempty"`
	UnreadCount   int        `json:"unread_count"`
	LastSeen      entity.Ref `json:"last_seen"`
	LastSeenTime  int64      `json:"last_seen_time,omitempty"`
	LastMessageAt int64      `json:"last_message_at,omitempty"`
}

// ConversationResponse wraps one conversation.
type ConversationResponse struct {
	Conversation Conversation `json:"conversation"`
}

// ListConversationsRequest pages through conversations.
type ListConversationsRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// ListConversationsResponse is one page of conversations, newest first.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
}

// Ack acknowledges an accepted request. Results arrive on Watch.
type Ack struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// StatusRequest asks for the daemon status.
type StatusRequest struct{}

// StatusResponse describes the daemon session.
type StatusResponse struct {
	Session           string `json:"session"`
	State             string `json:"state"`
	PhoneNumber       string `json:"phone_number,omitempty"`
	SelfID            string `json:"self_id,omitempty"`
	SelfName          string `json:"self_name,omitempty"`
	UptimeMs          int64  `json:"uptime_ms"`
	ConversationCount int64  `json:"conversation_count"`
	MessageCount      int64  `json:"message_count"`
	DroppedEvents     uint64 `json:"dropped_events,omitempty"`
}

// WatchRequest subscribes to one conversation, or to all when empty.
type WatchRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
}

// AuthRequest starts QR pairing.
type AuthRequest struct{}

func conversationToWire(c *store.Conversation) Conversation {
	return Conversation{
		ID:            c.ID,
		Name:          c.Name,
		IsGroup:       c.IsGroup,
		IsChannel:     c.IsChannel,
		UnreadCount:   c.UnreadCount,
		LastSeen:      c.LastSeen,
		LastSeenTime:  c.LastSeenTime,
		LastMessageAt: c.LastMessageAt,
	}
}
