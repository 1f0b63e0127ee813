// Package entity defines the message model shared by the history index, the
// row calculation engine and the stores.
package entity

import "fmt"

// Ref addresses a message by server id, unique token, or both.
type Ref struct {
	ServerID int64  `json:"server_id,omitempty"`
	Token    string `json:"token,omitempty"`
}

// IsZero reports whether the ref carries no identity at all.
func (r Ref) IsZero() bool { return r.ServerID == 0 && r.Token == "" }

func (r Ref) String() string {
	switch {
	case r.Token != "" && r.ServerID != 0:
		return fmt.Sprintf("%s#%d", r.Token, r.ServerID)
	case r.Token != "":
		return r.Token
	default:
		return fmt.Sprintf("#%d", r.ServerID)
	}
}

// Message is a single row of a conversation.
//
// ServerID is zero until the server acknowledges the message. UniqueToken is
// assigned by the creating client and never changes. Seq is the insertion
// sequence assigned by the owning index and breaks ordering ties.
type Message struct {
	ServerID       int64
	UniqueToken    string
	ConversationID string
	ParticipantID  string
	SenderName     string

	Time int64 // unix milliseconds
	Seq  uint64

	Text     string
	Edited   bool
	Pinned   bool
	PinTime  int64
	Failed   bool
	Delivery Delivery

	// Metadata is the raw attachment metadata as received.
	Metadata string
	Body     Body

	Version uint64
}

// Kind returns the discriminator of the message body.
func (m *Message) Kind() Kind {
	if m.Body == nil {
		return KindText
	}
	return m.Body.Kind()
}

// Ref returns the message identity.
func (m *Message) Ref() Ref {
	return Ref{ServerID: m.ServerID, Token: m.UniqueToken}
}

// Matches reports whether r addresses m by token or by server id.
func (m *Message) Matches(r Ref) bool {
	if r.Token != "" && r.Token == m.UniqueToken {
		return true
	}
	return r.ServerID != 0 && r.ServerID == m.ServerID
}

// Clone returns a copy that shares nothing mutable with m.
func (m *Message) Clone() *Message {
	c := *m
	return &c
}

// IsPending reports whether the message still waits for a server identity.
func (m *Message) IsPending() bool { return m.ServerID == 0 }

// sameState compares everything a merge can change.
func (m *Message) sameState(o *Message) bool {
	return m.ServerID == o.ServerID &&
		m.ParticipantID == o.ParticipantID &&
		m.SenderName == o.SenderName &&
		m.Time == o.Time &&
		m.Text == o.Text &&
		m.Edited == o.Edited &&
		m.Pinned == o.Pinned &&
		m.PinTime == o.PinTime &&
		m.Failed == o.Failed &&
		m.Delivery == o.Delivery &&
		m.Metadata == o.Metadata &&
		m.Body == o.Body
}

// MergeFrom folds the state carried by in into m. Identity fields are only
// filled when absent here. The edited flag never regresses, and neither does
// the delivery state, and pin state only moves to a change at least as recent.
// A pending upload body is swapped for the canonical body
// of the echo.
//
// It returns whether anything changed and whether the ordering key moved.
// Version is bumped when anything changed.
func (m *Message) MergeFrom(in *Message) (changed, reordered bool) {
	before := *m

	if m.ServerID == 0 && in.ServerID != 0 {
		m.ServerID = in.ServerID
	}
	if m.UniqueToken == "" {
		m.UniqueToken = in.UniqueToken
	}
	if in.ParticipantID != "" {
		m.ParticipantID = in.ParticipantID
	}
	if in.SenderName != "" {
		m.SenderName = in.SenderName
	}
	if in.Time != 0 {
		m.Time = in.Time
	}
	if in.Text != "" && (in.Edited || !m.Edited) {
		m.Text = in.Text
	}
	m.Edited = m.Edited || in.Edited
	if in.PinTime >= m.PinTime {
		m.Pinned = in.Pinned
		m.PinTime = in.PinTime
	}
	m.Delivery = m.Delivery.Merge(in.Delivery)
	if in.ServerID != 0 || in.Delivery.Sent {
		m.Failed = in.Failed
	}
	if in.Metadata != "" {
		m.Metadata = in.Metadata
	}
	m.Body = mergeBody(m.Body, in.Body)

	if m.sameState(&before) {
		return false, false
	}
	m.Version++
	return true, m.Time != before.Time
}

func mergeBody(cur, in Body) Body {
	if in == nil {
		return cur
	}
	if cur == nil {
		return in
	}
	curUp, curIsUpload := cur.(Upload)
	inUp, inIsUpload := in.(Upload)
	switch {
	case curIsUpload && inIsUpload:
		if inUp.Progress < curUp.Progress {
			inUp.Progress = curUp.Progress
		}
		return inUp
	case inIsUpload:
		// A replayed upload never replaces a canonical body.
		return cur
	default:
		return in
	}
}
