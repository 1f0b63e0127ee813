package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedMetadata is returned when attachment metadata cannot be decoded.
var ErrMalformedMetadata = errors.New("malformed attachment metadata")

// Record is the flat, serializable form of a message as exchanged with the
// chat network collaborator and persisted by the stores.
type Record struct {
	ServerID       int64  `json:"server_id,omitempty"`
	UniqueToken    string `json:"unique_token,omitempty"`
	ConversationID string `json:"conversation_id"`
	ParticipantID  string `json:"participant_id,omitempty"`
	SenderName     string `json:"sender_name,omitempty"`
	Kind           string `json:"kind"`
	Text           string `json:"text,omitempty"`
	Time           int64  `json:"time"`

	Sent      bool  `json:"sent,omitempty"`
	Delivered bool  `json:"delivered,omitempty"`
	Seen      bool  `json:"seen,omitempty"`
	Edited    bool  `json:"edited,omitempty"`
	Pinned    bool  `json:"pinned,omitempty"`
	PinTime   int64 `json:"pin_time,omitempty"`
	Failed    bool  `json:"failed,omitempty"`

	Metadata string         `json:"metadata,omitempty"`
	ReplyTo  *ReplyRecord   `json:"reply_to,omitempty"`
	Forward  *ForwardRecord `json:"forward,omitempty"`
	System   *SystemRecord  `json:"system,omitempty"`
	Upload   *UploadRecord  `json:"upload,omitempty"`
}

type ReplyRecord struct {
	ServerID   int64  `json:"server_id,omitempty"`
	Token      string `json:"token,omitempty"`
	SenderName string `json:"sender_name,omitempty"`
	Text       string `json:"text,omitempty"`
	IsImage    bool   `json:"is_image,omitempty"`
}

type ForwardRecord struct {
	OriginSender string `json:"origin_sender,omitempty"`
	OriginText   string `json:"origin_text,omitempty"`
}

type SystemRecord struct {
	Event string `json:"event"`
	Actor string `json:"actor,omitempty"`
}

type UploadRecord struct {
	LocalPath string  `json:"local_path"`
	FileName  string  `json:"file_name,omitempty"`
	Media     string  `json:"media,omitempty"`
	Size      int64   `json:"size,omitempty"`
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
	Progress  float64 `json:"progress,omitempty"`
}

// ParseAttachment decodes attachment metadata. Empty metadata is not an error.
func ParseAttachment(metadata string) (Attachment, error) {
	var a Attachment
	if strings.TrimSpace(metadata) == "" {
		return a, nil
	}
	if err := json.Unmarshal([]byte(metadata), &a); err != nil {
		return Attachment{}, fmt.Errorf("%w: %v", ErrMalformedMetadata, err)
	}
	if a.Width < 0 || a.Height < 0 || a.Size < 0 {
		return Attachment{}, fmt.Errorf("%w: negative dimension", ErrMalformedMetadata)
	}
	return a, nil
}

// EncodeAttachment is the inverse of ParseAttachment.
func EncodeAttachment(a Attachment) string {
	if a.Media == MediaNone {
		return ""
	}
	b, err := json.Marshal(a)
	if err != nil {
		return ""
	}
	return string(b)
}

// Decode builds a message from its record form. Malformed metadata leaves
// the attachment empty and keeps the rest of the message.
func Decode(r Record) *Message {
	m := &Message{
		ServerID:       r.ServerID,
		UniqueToken:    r.UniqueToken,
		ConversationID: r.ConversationID,
		ParticipantID:  r.ParticipantID,
		SenderName:     r.SenderName,
		Time:           r.Time,
		Text:           r.Text,
		Edited:         r.Edited,
		Pinned:         r.Pinned,
		PinTime:        r.PinTime,
		Failed:         r.Failed,
		Metadata:       r.Metadata,
		Delivery: Delivery{
			Sent:      r.Sent || r.ServerID != 0,
			Delivered: r.Delivered,
			Seen:      r.Seen,
		}.normalize(),
	}
	if m.UniqueToken == "" && m.ServerID != 0 {
		m.UniqueToken = fmt.Sprintf("srv-%d", m.ServerID)
	}

	att, _ := ParseAttachment(r.Metadata)

	switch ParseKind(r.Kind) {
	case KindUpload:
		if r.Upload == nil {
			m.Body = Text{Attachment: att}
			break
		}
		m.Body = Upload{
			LocalPath: r.Upload.LocalPath,
			FileName:  r.Upload.FileName,
			Media:     MediaType(r.Upload.Media),
			Size:      r.Upload.Size,
			Width:     r.Upload.Width,
			Height:    r.Upload.Height,
			Progress:  r.Upload.Progress,
		}
	case KindForward:
		f := Forward{Attachment: att}
		if r.Forward != nil {
			f.OriginSender = r.Forward.OriginSender
			f.OriginText = r.Forward.OriginText
		}
		m.Body = f
	case KindReply:
		rp := Reply{Attachment: att}
		if r.ReplyTo != nil {
			rp.To = Ref{ServerID: r.ReplyTo.ServerID, Token: r.ReplyTo.Token}
			rp.SenderName = r.ReplyTo.SenderName
			rp.Text = r.ReplyTo.Text
			rp.IsImage = r.ReplyTo.IsImage
		}
		m.Body = rp
	case KindSystem:
		s := System{}
		if r.System != nil {
			s.Event = SystemEvent(r.System.Event)
			s.Actor = r.System.Actor
		}
		m.Body = s
	case KindDivider:
		// Dividers are local to an index and never travel as records.
		m.Body = Text{}
	default:
		m.Body = Text{Attachment: att}
	}
	return m
}

// Ref returns the identity pair of the record.
func (r Record) Ref() Ref { return Ref{ServerID: r.ServerID, Token: r.UniqueToken} }

// Record is the inverse of Decode.
func (m *Message) Record() Record {
	r := Record{
		ServerID:       m.ServerID,
		UniqueToken:    m.UniqueToken,
		ConversationID: m.ConversationID,
		ParticipantID:  m.ParticipantID,
		SenderName:     m.SenderName,
		Kind:           m.Kind().String(),
		Text:           m.Text,
		Time:           m.Time,
		Sent:           m.Delivery.Sent,
		Delivered:      m.Delivery.Delivered,
		Seen:           m.Delivery.Seen,
		Edited:         m.Edited,
		Pinned:         m.Pinned,
		PinTime:        m.PinTime,
		Failed:         m.Failed,
		Metadata:       m.Metadata,
	}
	switch b := m.Body.(type) {
	case Upload:
		r.Upload = &UploadRecord{
			LocalPath: b.LocalPath,
			FileName:  b.FileName,
			Media:     string(b.Media),
			Size:      b.Size,
			Width:     b.Width,
			Height:    b.Height,
			Progress:  b.Progress,
		}
	case Forward:
		r.Forward = &ForwardRecord{OriginSender: b.OriginSender, OriginText: b.OriginText}
	case Reply:
		r.ReplyTo = &ReplyRecord{
			ServerID:   b.To.ServerID,
			Token:      b.To.Token,
			SenderName: b.SenderName,
			Text:       b.Text,
			IsImage:    b.IsImage,
		}
	case System:
		r.System = &SystemRecord{Event: string(b.Event), Actor: b.Actor}
	}
	return r
}
