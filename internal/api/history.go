// Package api serves the history of one session over gRPC.
package api

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/threadline/internal/bus"
	"github.com/matheus3301/threadline/internal/chatsdk"
	"github.com/matheus3301/threadline/internal/entity"
	"github.com/matheus3301/threadline/internal/ingest"
	"github.com/matheus3301/threadline/internal/outbox"
	"github.com/matheus3301/threadline/internal/status"
	"github.com/matheus3301/threadline/internal/store"
	"github.com/matheus3301/threadline/internal/wa"
)

// Network performs actions on existing messages and pairs the device.
type Network interface {
	Edit(ctx context.Context, t wa.Target, text string) error
	Revoke(ctx context.Context, t wa.Target) error
	Pin(ctx context.Context, t wa.Target, pinned bool) error
	MarkRead(ctx context.Context, t wa.Target, at time.Time) error
	StartQRAuth(ctx context.Context) (<-chan wa.AuthEvent, error)
	PhoneNumber() string
	SelfID() string
	SelfName() string
}

// Deps are the collaborators of the History service. Network may be nil.
type Deps struct {
	SessionName string
	DB          *store.DB
	Events      *bus.Bus[chatsdk.Event]
	Engine      *ingest.Engine
	Outbox      *outbox.Sender
	Network     Network
	Machine     *status.SessionMachine
	Logger      *zap.Logger
}

// HistoryService implements HistoryServer on top of the history store.
type HistoryService struct {
	Deps
	startedAt time.Time
	clock     func() time.Time
}

// NewHistoryService creates the service.
func NewHistoryService(deps Deps) *HistoryService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &HistoryService{Deps: deps, startedAt: time.Now(), clock: time.Now}
}

func internalErr(op string, err error) error {
	return grpcstatus.Errorf(codes.Internal, "%s: %v", op, err)
}

func (s *HistoryService) FetchPage(_ context.Context, req *FetchPageRequest) (*FetchPageResponse, error) {
	if req.ConversationID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "conversation id is required")
	}
	conv, err := s.DB.Canonical(req.ConversationID)
	if err != nil {
		return nil, internalErr("resolve conversation", err)
	}

	var page *store.Page
	if q := strings.TrimSpace(req.Query); q != "" {
		page, err = s.DB.SearchMessages(conv, q, req.Window.Limit)
	} else {
		page, err = s.DB.ListWindow(conv, req.Window)
	}
	if err != nil {
		return nil, internalErr("list messages", err)
	}
	return &FetchPageResponse{Records: page.Records, HasMore: page.HasMore}, nil
}

func (s *HistoryService) Conversation(_ context.Context, req *ConversationRequest) (*ConversationResponse, error) {
	c, err := s.DB.GetConversation(req.ID)
	if err != nil {
		return nil, internalErr("get conversation", err)
	}
	if c == nil {
		return nil, grpcstatus.Errorf(codes.NotFound, "conversation %q not found", req.ID)
	}
	return &ConversationResponse{Conversation: conversationToWire(c)}, nil
}

func (s *HistoryService) ListConversations(_ context.Context, req *ListConversationsRequest) (*ListConversationsResponse, error) {
	convs, err := s.DB.ListConversations(req.Limit, req.Offset)
	if err != nil {
		return nil, internalErr("list conversations", err)
	}
	resp := &ListConversationsResponse{Conversations: make([]Conversation, 0, len(convs))}
	for i := range convs {
		resp.Conversations = append(resp.Conversations, conversationToWire(&convs[i]))
	}
	return resp, nil
}

func (s *HistoryService) Send(_ context.Context, req *chatsdk.SendRequest) (*Ack, error) {
	if req.ConversationID == "" || req.UniqueToken == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "conversation id and token are required")
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "text is empty")
	}
	var replyTo int64
	if req.ReplyTo != nil {
		sm, err := s.lookup(req.ConversationID, *req.ReplyTo)
		if err != nil {
			return nil, err
		}
		replyTo = sm.Record.ServerID
	}
	if err := s.Outbox.Enqueue(req.UniqueToken, req.ConversationID, req.Text, replyTo); err != nil {
		return nil, internalErr("queue send", err)
	}
	return &Ack{Accepted: true, Message: "queued"}, nil
}

func (s *HistoryService) Edit(ctx context.Context, req *chatsdk.EditRequest) (*Ack, error) {
	sm, t, err := s.networkTarget(chatsdk.RefRequest{ConversationID: req.ConversationID, Ref: req.Ref})
	if err != nil {
		return nil, err
	}
	if !t.FromMe {
		return nil, grpcstatus.Error(codes.PermissionDenied, "only own messages can be edited")
	}
	if err := s.Network.Edit(ctx, t, req.Text); err != nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "edit: %v", err)
	}
	err = s.Engine.ApplyEdit(ingest.Edit{
		ConversationID:   sm.Record.ConversationID,
		TargetExternalID: sm.ExternalID,
		Text:             req.Text,
		Time:             s.clock().UnixMilli(),
	})
	if err != nil {
		return nil, internalErr("apply edit", err)
	}
	return &Ack{Accepted: true}, nil
}

func (s *HistoryService) Delete(ctx context.Context, req *chatsdk.RefRequest) (*Ack, error) {
	sm, t, err := s.networkTarget(*req)
	if err != nil {
		return nil, err
	}
	if err := s.Network.Revoke(ctx, t); err != nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "revoke: %v", err)
	}
	if err := s.Engine.ApplyRevoke(ingest.Revoke{ConversationID: sm.Record.ConversationID, TargetExternalID: sm.ExternalID}); err != nil {
		return nil, internalErr("apply revoke", err)
	}
	return &Ack{Accepted: true}, nil
}

func (s *HistoryService) Pin(ctx context.Context, req *chatsdk.RefRequest) (*Ack, error) {
	return s.setPinned(ctx, req, true)
}

func (s *HistoryService) Unpin(ctx context.Context, req *chatsdk.RefRequest) (*Ack, error) {
	return s.setPinned(ctx, req, false)
}

func (s *HistoryService) setPinned(ctx context.Context, req *chatsdk.RefRequest, pinned bool) (*Ack, error) {
	sm, t, err := s.networkTarget(*req)
	if err != nil {
		return nil, err
	}
	if err := s.Network.Pin(ctx, t, pinned); err != nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "pin: %v", err)
	}
	err = s.Engine.ApplyPin(ingest.Pin{
		ConversationID:   sm.Record.ConversationID,
		TargetExternalID: sm.ExternalID,
		Pinned:           pinned,
		Time:             s.clock().UnixMilli(),
	})
	if err != nil {
		return nil, internalErr("apply pin", err)
	}
	return &Ack{Accepted: true}, nil
}

// MarkSeen moves the read watermark to the message. Read receipts are only
// sent for messages of other participants.
func (s *HistoryService) MarkSeen(ctx context.Context, req *chatsdk.RefRequest) (*Ack, error) {
	sm, err := s.lookup(req.ConversationID, req.Ref)
	if err != nil {
		return nil, err
	}
	if s.Network != nil && sm.ExternalID != "" && sm.Record.ParticipantID != s.Network.SelfID() {
		t := s.targetOf(sm)
		if err := s.Network.MarkRead(ctx, t, time.UnixMilli(sm.Record.Time)); err != nil {
			s.Logger.Warn("failed to send read receipt", zap.String("conversation", req.ConversationID), zap.Error(err))
		}
	}
	if err := s.Engine.MarkSeen(sm.Record.ConversationID, sm.Record.Ref(), sm.Record.Time); err != nil {
		return nil, internalErr("mark seen", err)
	}
	return &Ack{Accepted: true}, nil
}

func (s *HistoryService) Status(_ context.Context, _ *StatusRequest) (*StatusResponse, error) {
	resp := &StatusResponse{
		Session:  s.SessionName,
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
	}
	if s.Machine != nil {
		resp.State = string(s.Machine.Current())
	}
	if s.Network != nil {
		resp.PhoneNumber = s.Network.PhoneNumber()
		resp.SelfID = s.Network.SelfID()
		resp.SelfName = s.Network.SelfName()
	}
	if n, err := s.DB.ConversationCount(); err == nil {
		resp.ConversationCount = n
	}
	if n, err := s.DB.MessageCount(); err == nil {
		resp.MessageCount = n
	}
	if s.Events != nil {
		resp.DroppedEvents = s.Events.Dropped()
	}
	return resp, nil
}

// Watch streams the events of one conversation, or of all of them.
func (s *HistoryService) Watch(req *WatchRequest, stream grpc.ServerStreamingServer[chatsdk.Envelope]) error {
	ch, unsub := s.Events.Subscribe(req.ConversationID, 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			env, err := chatsdk.Encode(evt)
			if err != nil {
				s.Logger.Warn("dropping unencodable event", zap.String("kind", evt.Kind()), zap.Error(err))
				continue
			}
			if err := stream.Send(&env); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

// Auth runs QR pairing and streams its events.
func (s *HistoryService) Auth(_ *AuthRequest, stream grpc.ServerStreamingServer[wa.AuthEvent]) error {
	if s.Network == nil {
		return grpcstatus.Error(codes.Unavailable, "adapter not initialized")
	}
	authCh, err := s.Network.StartQRAuth(stream.Context())
	if err != nil {
		return grpcstatus.Errorf(codes.FailedPrecondition, "start auth: %v", err)
	}
	for evt := range authCh {
		if err := stream.Send(&evt); err != nil {
			return err
		}
	}
	return nil
}

// lookup resolves a reference to a stored message.
func (s *HistoryService) lookup(conv string, ref entity.Ref) (*store.StoredMessage, error) {
	if conv == "" || ref.IsZero() {
		return nil, grpcstatus.Error(codes.InvalidArgument, "conversation id and message reference are required")
	}
	sm, err := s.DB.MessageByRef(conv, ref)
	if err != nil {
		return nil, internalErr("lookup message", err)
	}
	if sm == nil {
		return nil, grpcstatus.Errorf(codes.NotFound, "message %s not found", ref)
	}
	return sm, nil
}

// networkTarget resolves a request to a network message.
func (s *HistoryService) networkTarget(req chatsdk.RefRequest) (*store.StoredMessage, wa.Target, error) {
	if s.Network == nil {
		return nil, wa.Target{}, grpcstatus.Error(codes.Unavailable, "adapter not initialized")
	}
	sm, err := s.lookup(req.ConversationID, req.Ref)
	if err != nil {
		return nil, wa.Target{}, err
	}
	if sm.ExternalID == "" {
		return nil, wa.Target{}, grpcstatus.Error(codes.FailedPrecondition, "message has no network id yet")
	}
	return sm, s.targetOf(sm), nil
}

func (s *HistoryService) targetOf(sm *store.StoredMessage) wa.Target {
	self := ""
	if s.Network != nil {
		self = s.Network.SelfID()
	}
	return wa.Target{
		ConversationID: sm.Record.ConversationID,
		ExternalID:     sm.ExternalID,
		SenderID:       sm.Record.ParticipantID,
		FromMe:         self != "" && sm.Record.ParticipantID == self,
	}
}
