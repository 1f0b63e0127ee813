package wa

import (
	"context"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"

	"github.com/matheus3301/threadline/internal/bus"
	"github.com/matheus3301/threadline/internal/entity"
	"github.com/matheus3301/threadline/internal/ingest"
	"github.com/matheus3301/threadline/internal/status"
)

// EventHandler processes whatsmeow events, drives the state machine and
// publishes normalized inbound events. It does not touch the store; the
// ingest engine subscribes to the inbound bus independently.
type EventHandler struct {
	inbound *bus.Bus[ingest.Inbound]
	machine *status.SessionMachine
	adapter *Adapter
	logger  *zap.Logger
}

// NewEventHandler creates a new event handler. adapter may be nil, in which
// case alias ids are not resolved to phone numbers.
func NewEventHandler(inbound *bus.Bus[ingest.Inbound], machine *status.SessionMachine, adapter *Adapter, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		inbound: inbound,
		machine: machine,
		adapter: adapter,
		logger:  logger,
	}
}

// Handle is the main whatsmeow event handler function.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		h.handleMessage(evt)
	case *events.Receipt:
		h.handleReceipt(evt)
	case *events.GroupInfo:
		h.handleGroupInfo(evt)
	case *events.MarkChatAsRead:
		if evt.Action.GetRead() {
			h.inbound.Publish(ingest.Unread{ConversationID: h.resolveJID(evt.JID), Count: 0})
		}
	case *events.PushName:
		h.inbound.Publish(ingest.Contact{ID: h.resolveJID(evt.JID), PushName: evt.NewPushName})
	case *events.HistorySync:
		h.handleHistorySync(evt)
	case *events.Connected:
		h.logger.Info("WhatsApp connected")
		current := h.machine.Current()
		if current == status.AuthRequired || current == status.Reconnecting || current == status.Booting {
			_ = h.machine.Transition(status.Connecting)
		}
		_ = h.machine.Transition(status.Syncing)
	case *events.Disconnected:
		h.logger.Warn("WhatsApp disconnected")
		_ = h.machine.Transition(status.Reconnecting)
	case *events.LoggedOut:
		h.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		_ = h.machine.Transition(status.AuthRequired)
	}
}

func (h *EventHandler) handleMessage(evt *events.Message) {
	if h.machine.Current() == status.Syncing {
		_ = h.machine.Transition(status.Ready)
	}
	chat := h.resolveJID(evt.Info.Chat)
	if in := h.classify(chat, evt.Info.Timestamp, evt.Message); in != nil {
		h.inbound.Publish(in)
		return
	}
	if detectMessageType(evt.Message) == "unknown" {
		h.logger.Debug("skipping unsupported message", zap.String("id", evt.Info.ID))
		return
	}
	m := ParseMessage(chat, h.resolveJID(evt.Info.Sender), evt.Info, evt.Message)
	h.inbound.Publish(m)
}

// classify turns protocol messages into the events they carry. It returns
// nil for regular content.
func (h *EventHandler) classify(chat string, at time.Time, msg *waE2E.Message) ingest.Inbound {
	if proto := msg.GetProtocolMessage(); proto != nil {
		target := proto.GetKey().GetID()
		switch proto.GetType() {
		case waE2E.ProtocolMessage_REVOKE:
			return ingest.Revoke{ConversationID: chat, TargetExternalID: target}
		case waE2E.ProtocolMessage_MESSAGE_EDIT:
			return ingest.Edit{
				ConversationID:   chat,
				TargetExternalID: target,
				Text:             extractTextBody(proto.GetEditedMessage()),
				Time:             at.UnixMilli(),
			}
		}
		return nil
	}
	if pin := msg.GetPinInChatMessage(); pin != nil {
		pinAt := pin.GetSenderTimestampMS()
		if pinAt == 0 {
			pinAt = at.UnixMilli()
		}
		return ingest.Pin{
			ConversationID:   chat,
			TargetExternalID: pin.GetKey().GetID(),
			Pinned:           pin.GetType() == waE2E.PinInChatMessage_PIN_FOR_ALL,
			Time:             pinAt,
		}
	}
	return nil
}

func (h *EventHandler) handleReceipt(evt *events.Receipt) {
	r := ingest.Receipt{
		ConversationID: h.resolveJID(evt.Chat),
		ExternalIDs:    append([]string(nil), evt.MessageIDs...),
		Time:           evt.Timestamp.UnixMilli(),
	}
	switch evt.Type {
	case types.ReceiptTypeDelivered:
		r.Delivery = entity.Delivery{Sent: true, Delivered: true}
	case types.ReceiptTypeRead, types.ReceiptTypePlayed:
		r.Delivery = entity.Delivery{Sent: true, Delivered: true, Seen: true}
	case types.ReceiptTypeReadSelf, types.ReceiptTypePlayedSelf:
		r.ByMe = true
		r.Delivery = entity.Delivery{Seen: true}
	default:
		return
	}
	h.inbound.Publish(r)
}

func (h *EventHandler) handleGroupInfo(evt *events.GroupInfo) {
	conv := h.resolveJID(evt.JID)
	actor := ""
	if evt.Sender != nil {
		actor = h.resolveJID(*evt.Sender)
	}
	publish := func(jids []types.JID, left bool) {
		if len(jids) == 0 {
			return
		}
		ids := make([]string, len(jids))
		for i, j := range jids {
			ids[i] = h.resolveJID(j)
		}
		h.inbound.Publish(ingest.Membership{
			ConversationID: conv,
			ParticipantIDs: ids,
			Left:           left,
			Actor:          actor,
			Time:           evt.Timestamp.UnixMilli(),
		})
	}
	publish(evt.Join, false)
	publish(evt.Leave, true)
}

func (h *EventHandler) handleHistorySync(evt *events.HistorySync) {
	data := evt.Data
	if data == nil {
		return
	}

	var batch ingest.History
	self := h.selfID()
	for _, conv := range data.GetConversations() {
		chatJID, err := types.ParseJID(conv.GetID())
		if err != nil {
			h.logger.Warn("skipping history conversation", zap.String("id", conv.GetID()), zap.Error(err))
			continue
		}
		chat := h.resolveJID(chatJID)
		batch.Conversations = append(batch.Conversations, ingest.HistoryConversation{
			ID:          chat,
			Name:        conv.GetName(),
			IsGroup:     chatJID.Server == types.GroupServer,
			UnreadCount: int(conv.GetUnreadCount()),
		})

		for _, hm := range conv.GetMessages() {
			wmsg := hm.GetMessage()
			if wmsg == nil || wmsg.GetMessage() == nil {
				continue
			}
			content := wmsg.GetMessage()
			switch detectMessageType(content) {
			case "unknown", "protocol", "pin":
				continue
			}
			key := wmsg.GetKey()
			sender := key.GetParticipant()
			if sender == "" {
				sender = wmsg.GetParticipant()
			}
			if sender == "" {
				if key.GetFromMe() {
					sender = self
				} else {
					sender = chat
				}
			} else if jid, err := types.ParseJID(sender); err == nil {
				sender = h.resolveJID(jid)
			}
			info := types.MessageInfo{
				MessageSource: types.MessageSource{IsFromMe: key.GetFromMe()},
				ID:            key.GetID(),
				PushName:      wmsg.GetPushName(),
				Timestamp:     time.Unix(int64(wmsg.GetMessageTimestamp()), 0),
			}
			batch.Messages = append(batch.Messages, ParseMessage(chat, sender, info, content))
		}
	}

	if len(batch.Messages) > 0 || len(batch.Conversations) > 0 {
		h.inbound.Publish(batch)
	}
}

// resolveJID normalizes a jid, mapping alias ids to phone numbers when the
// device store knows the mapping.
func (h *EventHandler) resolveJID(jid types.JID) string {
	if h.adapter != nil {
		jid = h.adapter.ResolveLID(context.Background(), jid)
	}
	return jid.ToNonAD().String()
}

func (h *EventHandler) selfID() string {
	if h.adapter == nil {
		return ""
	}
	return h.adapter.SelfID()
}
