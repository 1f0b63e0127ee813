package chatsdk

import "github.com/matheus3301/threadline/internal/entity"

// Event is something the chat network reports about a conversation.
type Event interface {
	Conversation() string
	Kind() string
}

// HistoryPage answers a FetchRequest. Cached pages are local replays sent
// ahead of the authoritative page under the same key.
type HistoryPage struct {
	Key            string          `json:"key"`
	ConversationID string          `json:"conversation_id"`
	Cached         bool            `json:"cached,omitempty"`
	Records        []entity.Record `json:"records"`
	HasMore        bool            `json:"has_more,omitempty"`
}

// NewMessage is a message created elsewhere, or the server copy of ours.
type NewMessage struct {
	Record entity.Record `json:"record"`
}

// Sent acknowledges a send.
type Sent struct {
	ConversationID string `json:"conversation_id"`
	UniqueToken    string `json:"unique_token"`
	ServerID       int64  `json:"server_id"`
	Time           int64  `json:"time"`
}

// SendFailed reports a send the server refused.
type SendFailed struct {
	ConversationID string `json:"conversation_id"`
	UniqueToken    string `json:"unique_token"`
	Reason         string `json:"reason,omitempty"`
}

// Delivered reports that a message reached the recipient.
type Delivered struct {
	ConversationID string     `json:"conversation_id"`
	Ref            entity.Ref `json:"ref"`
}

// Seen reports that a message was read by the recipient.
type Seen struct {
	ConversationID string     `json:"conversation_id"`
	Ref            entity.Ref `json:"ref"`
}

// Edited carries the new text of a message.
type Edited struct {
	ConversationID string     `json:"conversation_id"`
	Ref            entity.Ref `json:"ref"`
	Text           string     `json:"text"`
}

// Deleted reports a removed message.
type Deleted struct {
	ConversationID string     `json:"conversation_id"`
	Ref            entity.Ref `json:"ref"`
}

// PinChanged reports a pin or unpin.
type PinChanged struct {
	ConversationID string     `json:"conversation_id"`
	Ref            entity.Ref `json:"ref"`
	Pinned         bool       `json:"pinned"`
	Time           int64      `json:"time,omitempty"`
}

// ParticipantChanged reports a participant joining, leaving or renaming.
type ParticipantChanged struct {
	ConversationID string `json:"conversation_id"`
	ParticipantID  string `json:"participant_id"`
	Name           string `json:"name,omitempty"`
	Left           bool   `json:"left,omitempty"`
}

// UnreadCountChanged carries the server unread counter.
type UnreadCountChanged struct {
	ConversationID string `json:"conversation_id"`
	Count          int    `json:"count"`
}

// LastSeenUpdated moves the read watermark of the local user.
type LastSeenUpdated struct {
	ConversationID string     `json:"conversation_id"`
	Ref            entity.Ref `json:"ref"`
	Time           int64      `json:"time"`
}

// UploadProgress reports transfer progress in [0, 1].
type UploadProgress struct {
	ConversationID string  `json:"conversation_id"`
	UniqueToken    string  `json:"unique_token"`
	Progress       float64 `json:"progress"`
}

// UploadFinished ends a transfer. A non-empty Err means it failed.
type UploadFinished struct {
	ConversationID string `json:"conversation_id"`
	UniqueToken    string `json:"unique_token"`
	Err            string `json:"err,omitempty"`
}

func (e HistoryPage) Conversation() string        { return e.ConversationID }
func (e NewMessage) Conversation() string         { return e.Record.ConversationID }
func (e Sent) Conversation() string               { return e.ConversationID }
func (e SendFailed) Conversation() string         { return e.ConversationID }
func (e Delivered) Conversation() string          { return e.ConversationID }
func (e Seen) Conversation() string               { return e.ConversationID }
func (e Edited) Conversation() string             { return e.ConversationID }
func (e Deleted) Conversation() string            { return e.ConversationID }
func (e PinChanged) Conversation() string         { return e.ConversationID }
func (e ParticipantChanged) Conversation() string { return e.ConversationID }
func (e UnreadCountChanged) Conversation() string { return e.ConversationID }
func (e LastSeenUpdated) Conversation() string    { return e.ConversationID }
func (e UploadProgress) Conversation() string     { return e.ConversationID }
func (e UploadFinished) Conversation() string     { return e.ConversationID }

func (HistoryPage) Kind() string        { return "history.page" }
func (NewMessage) Kind() string         { return "message.new" }
func (Sent) Kind() string               { return "message.sent" }
func (SendFailed) Kind() string         { return "message.send_failed" }
func (Delivered) Kind() string          { return "message.delivered" }
func (Seen) Kind() string               { return "message.seen" }
func (Edited) Kind() string             { return "message.edited" }
func (Deleted) Kind() string            { return "message.deleted" }
func (PinChanged) Kind() string         { return "message.pin" }
func (ParticipantChanged) Kind() string { return "conversation.participant" }
func (UnreadCountChanged) Kind() string { return "conversation.unread" }
func (LastSeenUpdated) Kind() string    { return "conversation.last_seen" }
func (UploadProgress) Kind() string     { return "upload.progress" }
func (UploadFinished) Kind() string     { return "upload.finished" }
