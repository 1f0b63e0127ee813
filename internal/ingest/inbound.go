package ingest

import "github.com/matheus3301/threadline/internal/entity"

// Inbound is a raw network event waiting to be ingested. Conversation ids
// are the network's chat ids; message ids are the network's message ids.
type Inbound interface {
	Conversation() string
}

// Message is a created message. Record carries everything but the server
// id and token, which ingestion assigns.
type Message struct {
	ExternalID       string
	FromMe           bool
	PushName         string
	QuotedExternalID string
	Record           entity.Record
}

// History is a batch of past messages plus conversation metadata.
type History struct {
	Conversations []HistoryConversation
	Messages      []Message
}

// HistoryConversation is the metadata a history batch carries per conversation.
type HistoryConversation struct {
	ID          string
	Name        string
	IsGroup     bool
	UnreadCount int
}

// Edit replaces the text of an earlier message.
type Edit struct {
	ConversationID   string
	TargetExternalID string
	Text             string
	Time             int64
}

// Revoke deletes an earlier message for everyone.
type Revoke struct {
	ConversationID   string
	TargetExternalID string
}

// Pin pins or unpins an earlier message.
type Pin struct {
	ConversationID   string
	TargetExternalID string
	Pinned           bool
	Time             int64
}

// Receipt reports delivery or read state of messages. ByMe means the local
// user read them from another device.
type Receipt struct {
	ConversationID string
	ExternalIDs    []string
	Delivery       entity.Delivery
	ByMe           bool
	Time           int64
}

// Membership reports participants joining or leaving a group.
type Membership struct {
	ConversationID string
	ParticipantIDs []string
	Left           bool
	Actor          string
	Time           int64
}

// Unread carries the unread counter of a conversation.
type Unread struct {
	ConversationID string
	Count          int
}

// Contact carries the names the network knows for a participant.
type Contact struct {
	ID       string
	Name     string
	PushName string
}

func (m Message) Conversation() string    { return m.Record.ConversationID }
func (History) Conversation() string      { return "" }
func (e Edit) Conversation() string       { return e.ConversationID }
func (e Revoke) Conversation() string     { return e.ConversationID }
func (e Pin) Conversation() string        { return e.ConversationID }
func (e Receipt) Conversation() string    { return e.ConversationID }
func (e Membership) Conversation() string { return e.ConversationID }
func (e Unread) Conversation() string     { return e.ConversationID }
func (Contact) Conversation() string      { return "" }

// TokenFor is the client token given to network messages that were not
// sent from here. It is stable, so events that reference a message before
// it is stored still address the right row once it is.
func TokenFor(externalID string) string { return "wa-" + externalID }
