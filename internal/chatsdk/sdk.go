// Package chatsdk describes the chat network collaborator the history engine
// talks to: requests it issues, events it receives, and the file transfer
// service it hands uploads to.
package chatsdk

import (
	"context"

	"github.com/matheus3301/threadline/internal/entity"
)

// Window bounds a history fetch. From and To are inclusive unix millisecond
// bounds, zero meaning unbounded. When Newest is set the page is taken from
// the To end of the range, otherwise from the From end. Records are always
// returned oldest first.
//
// FromID and ToID turn a bound into an exclusive keyset position: rows of
// the bound millisecond are only taken past that server id. Paging from a
// loaded edge this way never refetches it.
type Window struct {
	From   int64 `json:"from,omitempty"`
	FromID int64 `json:"from_id,omitempty"`
	To     int64 `json:"to,omitempty"`
	ToID   int64 `json:"to_id,omitempty"`
	Limit  int   `json:"limit,omitempty"`
	Newest bool  `json:"newest,omitempty"`
}

// FetchRequest asks for one history page. Key correlates the response.
type FetchRequest struct {
	Key            string `json:"key"`
	ConversationID string `json:"conversation_id"`
	Window         Window `json:"window"`
	Query          string `json:"query,omitempty"`
}

// SendRequest sends a text message. UniqueToken is the client token of the
// optimistic row.
type SendRequest struct {
	ConversationID string      `json:"conversation_id"`
	UniqueToken    string      `json:"unique_token"`
	Text           string      `json:"text"`
	ReplyTo        *entity.Ref `json:"reply_to,omitempty"`
}

// EditRequest replaces the text of a message.
type EditRequest struct {
	RequestID      string     `json:"request_id"`
	ConversationID string     `json:"conversation_id"`
	Ref            entity.Ref `json:"ref"`
	Text           string     `json:"text"`
}

// RefRequest addresses one message for delete, pin, unpin and seen.
type RefRequest struct {
	RequestID      string     `json:"request_id"`
	ConversationID string     `json:"conversation_id"`
	Ref            entity.Ref `json:"ref"`
}

// Transport issues requests. Every method returns once the request is
// accepted; results arrive later as events.
type Transport interface {
	FetchHistory(ctx context.Context, req FetchRequest) error
	Send(ctx context.Context, req SendRequest) error
	Edit(ctx context.Context, req EditRequest) error
	Delete(ctx context.Context, req RefRequest) error
	Pin(ctx context.Context, req RefRequest) error
	Unpin(ctx context.Context, req RefRequest) error
	MarkSeen(ctx context.Context, req RefRequest) error
}

// Events is the conversation-scoped event source. An empty conversation id
// subscribes to every conversation.
type Events interface {
	Subscribe(conversationID string, buf int) (<-chan Event, func())
}

// Transfers moves local files to the server. Progress and completion arrive
// as UploadProgress and UploadFinished events keyed by the message token.
type Transfers interface {
	Register(ctx context.Context, m *entity.Message) error
	Cancel(token string)
}
