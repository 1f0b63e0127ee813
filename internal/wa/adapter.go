package wa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/matheus3301/threadline/internal/outbox"
	"github.com/matheus3301/threadline/internal/session"
	"github.com/matheus3301/threadline/internal/store"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotLoggedIn is returned by network operations before pairing.
var ErrNotLoggedIn = errors.New("not logged in")

// Target addresses an existing network message.
type Target struct {
	ConversationID string
	ExternalID     string
	SenderID       string
	FromMe         bool
}

// Adapter wraps the whatsmeow client and manages the WhatsApp connection.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	logger    *zap.Logger
	session   string
}

// NewAdapter creates a new WhatsApp adapter for the given session.
func NewAdapter(ctx context.Context, sessionName string, logger *zap.Logger) (*Adapter, error) {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("threadline", [3]uint32{0, 1, 0})

	dbPath := session.SessionDBPath(sessionName)

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	return &Adapter{
		client:    whatsmeow.NewClient(deviceStore, nil),
		container: container,
		logger:    logger,
		session:   sessionName,
	}, nil
}

// Client returns the underlying whatsmeow client.
func (a *Adapter) Client() *whatsmeow.Client {
	return a.client
}

// IsLoggedIn returns whether the adapter has valid credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client != nil && a.client.Store != nil && a.client.Store.ID != nil
}

// Connect initiates the WhatsApp connection.
func (a *Adapter) Connect() error {
	a.logger.Info("connecting to WhatsApp")
	return a.client.Connect()
}

// Disconnect terminates the WhatsApp connection.
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting from WhatsApp")
	a.client.Disconnect()
}

// Logout invalidates the session and removes credentials.
func (a *Adapter) Logout(ctx context.Context) error {
	return a.client.Logout(ctx)
}

// RegisterEventHandler adds a handler for whatsmeow events.
func (a *Adapter) RegisterEventHandler(handler whatsmeow.EventHandler) {
	a.client.AddEventHandler(handler)
}

// SelfID returns the normalized jid of the logged in account, or "".
func (a *Adapter) SelfID() string {
	if !a.IsLoggedIn() {
		return ""
	}
	return a.client.Store.ID.ToNonAD().String()
}

// SelfName returns the push name of the logged in account.
func (a *Adapter) SelfName() string {
	if !a.IsLoggedIn() {
		return ""
	}
	return a.client.Store.PushName
}

// PhoneNumber returns the phone number from the device store, or empty string.
func (a *Adapter) PhoneNumber() string {
	if !a.IsLoggedIn() {
		return ""
	}
	return a.client.Store.ID.User
}

// SendText sends a text message, quoting another one when quote is set.
// It returns the network message id and the server timestamp.
func (a *Adapter) SendText(ctx context.Context, conversationID, text string, quote *outbox.Quote) (string, time.Time, error) {
	if !a.IsLoggedIn() {
		return "", time.Time{}, ErrNotLoggedIn
	}
	to, err := types.ParseJID(conversationID)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("parse JID: %w", err)
	}

	msg := &waE2E.Message{Conversation: proto.String(text)}
	if quote != nil {
		msg = &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String(text),
			ContextInfo: &waE2E.ContextInfo{
				StanzaID:      proto.String(quote.ExternalID),
				Participant:   proto.String(quote.ParticipantID),
				QuotedMessage: &waE2E.Message{Conversation: proto.String(quote.Text)},
			},
		}}
	}
	resp, err := a.client.SendMessage(ctx, to, msg)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("send message: %w", err)
	}
	return resp.ID, resp.Timestamp, nil
}

// Edit replaces the text of one of our own messages.
func (a *Adapter) Edit(ctx context.Context, t Target, text string) error {
	chat, err := a.chatOf(t)
	if err != nil {
		return err
	}
	edit := a.client.BuildEdit(chat, t.ExternalID, &waE2E.Message{Conversation: proto.String(text)})
	if _, err := a.client.SendMessage(ctx, chat, edit); err != nil {
		return fmt.Errorf("send edit: %w", err)
	}
	return nil
}

// Revoke deletes a message for everyone. Messages of other participants can
// only be revoked by group admins.
func (a *Adapter) Revoke(ctx context.Context, t Target) error {
	chat, err := a.chatOf(t)
	if err != nil {
		return err
	}
	sender := types.EmptyJID
	if !t.FromMe && t.SenderID != "" {
		if sender, err = types.ParseJID(t.SenderID); err != nil {
			return fmt.Errorf("parse sender JID: %w", err)
		}
	}
	revoke := a.client.BuildRevoke(chat, sender, t.ExternalID)
	if _, err := a.client.SendMessage(ctx, chat, revoke); err != nil {
		return fmt.Errorf("send revoke: %w", err)
	}
	return nil
}

// Pin pins or unpins a message for everyone in the chat.
func (a *Adapter) Pin(ctx context.Context, t Target, pinned bool) error {
	chat, err := a.chatOf(t)
	if err != nil {
		return err
	}
	key := &waCommon.MessageKey{
		RemoteJID: proto.String(chat.String()),
		FromMe:    proto.Bool(t.FromMe),
		ID:        proto.String(t.ExternalID),
	}
	if !t.FromMe && t.SenderID != "" && chat.Server == types.GroupServer {
		key.Participant = proto.String(t.SenderID)
	}
	kind := waE2E.PinInChatMessage_PIN_FOR_ALL
	if !pinned {
		kind = waE2E.PinInChatMessage_UNPIN_FOR_ALL
	}
	msg := &waE2E.Message{PinInChatMessage: &waE2E.PinInChatMessage{
		Key:               key,
		Type:              kind.Enum(),
		SenderTimestampMS: proto.Int64(time.Now().UnixMilli()),
	}}
	if _, err := a.client.SendMessage(ctx, chat, msg); err != nil {
		return fmt.Errorf("send pin: %w", err)
	}
	return nil
}

// MarkRead sends read receipts for messages of one sender.
func (a *Adapter) MarkRead(ctx context.Context, t Target, at time.Time) error {
	chat, err := a.chatOf(t)
	if err != nil {
		return err
	}
	sender := types.EmptyJID
	if chat.Server == types.GroupServer && t.SenderID != "" {
		if sender, err = types.ParseJID(t.SenderID); err != nil {
			return fmt.Errorf("parse sender JID: %w", err)
		}
	}
	if err := a.client.MarkRead(ctx, []types.MessageID{t.ExternalID}, at, chat, sender); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (a *Adapter) chatOf(t Target) (types.JID, error) {
	if !a.IsLoggedIn() {
		return types.EmptyJID, ErrNotLoggedIn
	}
	chat, err := types.ParseJID(t.ConversationID)
	if err != nil {
		return types.EmptyJID, fmt.Errorf("parse JID: %w", err)
	}
	return chat, nil
}

// GetQRChannel returns the QR channel for pairing. Must be called before Connect.
func (a *Adapter) GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	if a.IsLoggedIn() {
		return nil, fmt.Errorf("already logged in")
	}
	ch, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("get QR channel: %w", err)
	}
	return ch, nil
}

// Participants returns every contact of the device store as a participant.
func (a *Adapter) Participants(ctx context.Context) []store.Participant {
	if !a.IsLoggedIn() || a.client.Store.Contacts == nil {
		return nil
	}
	all, err := a.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		a.logger.Warn("failed to get contacts from device store", zap.Error(err))
		return nil
	}
	out := make([]store.Participant, 0, len(all))
	for jid, info := range all {
		out = append(out, store.Participant{
			ID:       jid.ToNonAD().String(),
			Name:     info.FullName,
			PushName: info.PushName,
		})
	}
	return out
}

// Aliases returns the known hidden-id to phone-number mappings. There is no
// bulk mapping API, so contacts are resolved one at a time.
func (a *Adapter) Aliases(ctx context.Context) []store.Alias {
	if !a.IsLoggedIn() || a.client.Store.LIDs == nil || a.client.Store.Contacts == nil {
		return nil
	}
	all, err := a.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil
	}
	var out []store.Alias
	for jid := range all {
		pn := jid.ToNonAD()
		if pn.Server != types.DefaultUserServer {
			continue
		}
		lid, err := a.client.Store.LIDs.GetLIDForPN(ctx, pn)
		if err == nil && !lid.IsEmpty() {
			out = append(out, store.Alias{Alias: lid.ToNonAD().String(), Canonical: pn.String()})
		}
	}
	return out
}

// ResolveLID resolves a hidden-user jid to its phone number jid using the
// device store mapping. Other jids, and unresolvable ones, pass through.
func (a *Adapter) ResolveLID(ctx context.Context, jid types.JID) types.JID {
	if jid.Server != types.HiddenUserServer && jid.Server != types.HostedLIDServer {
		return jid
	}
	if a.client == nil || a.client.Store == nil || a.client.Store.LIDs == nil {
		return jid
	}
	pn, err := a.client.Store.LIDs.GetPNForLID(ctx, jid)
	if err != nil || pn.IsEmpty() {
		return jid
	}
	return pn
}
