package wa

import (
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/matheus3301/threadline/internal/entity"
	"github.com/matheus3301/threadline/internal/ingest"
)

// NormalizeJID strips device and agent suffixes so that every device of a
// user maps to one conversation id.
func NormalizeJID(s string) string {
	if s == "" {
		return ""
	}
	jid, err := types.ParseJID(s)
	if err != nil {
		return s
	}
	return jid.ToNonAD().String()
}

// ParseMessage normalizes a message into its ingest form. Conversation and
// sender ids are taken as given; callers resolve aliases first.
func ParseMessage(chat, sender string, info types.MessageInfo, msg *waE2E.Message) ingest.Message {
	att := extractAttachment(msg)
	r := entity.Record{
		ConversationID: NormalizeJID(chat),
		ParticipantID:  NormalizeJID(sender),
		SenderName:     info.PushName,
		Kind:           entity.KindText.String(),
		Text:           extractTextBody(msg),
		Time:           info.Timestamp.UnixMilli(),
		Sent:           true,
	}
	if att.Media != entity.MediaNone {
		r.Metadata = entity.EncodeAttachment(att)
	}

	out := ingest.Message{
		ExternalID: info.ID,
		FromMe:     info.IsFromMe,
		PushName:   info.PushName,
	}
	if ctx := contextInfo(msg); ctx != nil {
		switch {
		case ctx.GetStanzaID() != "":
			out.QuotedExternalID = ctx.GetStanzaID()
			quoted := ctx.GetQuotedMessage()
			r.Kind = entity.KindReply.String()
			r.ReplyTo = &entity.ReplyRecord{
				Text:    extractTextBody(quoted),
				IsImage: quoted.GetImageMessage() != nil,
			}
		case ctx.GetIsForwarded():
			r.Kind = entity.KindForward.String()
			r.Forward = &entity.ForwardRecord{OriginText: r.Text}
		}
	}
	out.Record = r
	return out
}

// ParseLiveMessage normalizes a live whatsmeow message event.
func ParseLiveMessage(evt *events.Message) ingest.Message {
	return ParseMessage(evt.Info.Chat.String(), evt.Info.Sender.String(), evt.Info, evt.Message)
}

func contextInfo(msg *waE2E.Message) *waE2E.ContextInfo {
	if msg == nil {
		return nil
	}
	switch {
	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetContextInfo()
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetContextInfo()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetContextInfo()
	case msg.GetAudioMessage() != nil:
		return msg.GetAudioMessage().GetContextInfo()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetContextInfo()
	}
	return nil
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	switch {
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetCaption()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetCaption()
	case msg.GetContactMessage() != nil:
		return msg.GetContactMessage().GetDisplayName()
	}
	return ""
}

func extractAttachment(msg *waE2E.Message) entity.Attachment {
	if msg == nil {
		return entity.Attachment{}
	}
	switch {
	case msg.GetImageMessage() != nil:
		m := msg.GetImageMessage()
		return entity.Attachment{Media: entity.MediaImage, Width: int(m.GetWidth()), Height: int(m.GetHeight()),
			Size: int64(m.GetFileLength()), MimeType: m.GetMimetype()}
	case msg.GetStickerMessage() != nil:
		m := msg.GetStickerMessage()
		return entity.Attachment{Media: entity.MediaImage, Width: int(m.GetWidth()), Height: int(m.GetHeight()),
			Size: int64(m.GetFileLength()), MimeType: m.GetMimetype()}
	case msg.GetVideoMessage() != nil:
		m := msg.GetVideoMessage()
		return entity.Attachment{Media: entity.MediaVideo, Width: int(m.GetWidth()), Height: int(m.GetHeight()),
			Duration: int(m.GetSeconds()), Size: int64(m.GetFileLength()), MimeType: m.GetMimetype()}
	case msg.GetAudioMessage() != nil:
		m := msg.GetAudioMessage()
		return entity.Attachment{Media: entity.MediaAudio, Duration: int(m.GetSeconds()),
			Size: int64(m.GetFileLength()), MimeType: m.GetMimetype()}
	case msg.GetDocumentMessage() != nil:
		m := msg.GetDocumentMessage()
		return entity.Attachment{Media: entity.MediaFile, FileName: m.GetFileName(),
			Size: int64(m.GetFileLength()), MimeType: m.GetMimetype()}
	case msg.GetLocationMessage() != nil:
		m := msg.GetLocationMessage()
		return entity.Attachment{Media: entity.MediaLocation, Latitude: m.GetDegreesLatitude(), Longitude: m.GetDegreesLongitude()}
	}
	return entity.Attachment{}
}

func detectMessageType(msg *waE2E.Message) string {
	if msg == nil {
		return "unknown"
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return "text"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetContactMessage() != nil:
		return "contact"
	case msg.GetLocationMessage() != nil:
		return "location"
	case msg.GetProtocolMessage() != nil:
		return "protocol"
	case msg.GetPinInChatMessage() != nil:
		return "pin"
	default:
		return "unknown"
	}
}
