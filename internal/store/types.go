package store

import "github.com/matheus3301/threadline/internal/entity"

// Conversation is a stored conversation with its read watermark.
type Conversation struct {
	ID            string
	Name          string
	IsGroup       bool
	IsChannel     bool
	UnreadCount   int
	LastSeen      entity.Ref
	LastSeenTime  int64
	LastMessageAt int64
}

// Participant is a known sender.
type Participant struct {
	ID       string
	Name     string
	PushName string
}

// DisplayName returns the best name known for the participant.
func (p Participant) DisplayName() string {
	switch {
	case p.Name != "":
		return p.Name
	case p.PushName != "":
		return p.PushName
	default:
		return p.ID
	}
}

// Alias maps an alternate conversation id to its canonical one.
type Alias struct {
	Alias     string
	Canonical string
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID             int64
	UniqueToken    string
	ConversationID string
	Body           string
	ReplyToID      int64
	Status         OutboxStatus
	ErrorMessage   string
	ServerID       int64
}

// Page is one slice of history, oldest first. HasMore reports whether the
// window holds more messages beyond the returned end.
type Page struct {
	Records []entity.Record
	HasMore bool
}

// StoredMessage is a record with the external network id it was stored
// under.
type StoredMessage struct {
	Record     entity.Record
	ExternalID string
}
