// Package outbox drains queued sends to the network and acknowledges them
// to the threads that created them.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/threadline/internal/bus"
	"github.com/matheus3301/threadline/internal/chatsdk"
	"github.com/matheus3301/threadline/internal/entity"
	"github.com/matheus3301/threadline/internal/store"
	"go.uber.org/zap"
)

// Quote is the message a send replies to.
type Quote struct {
	ExternalID    string
	ParticipantID string
	Text          string
}

// TextSender sends text messages to the network.
type TextSender interface {
	SendText(ctx context.Context, conversationID, text string, quote *Quote) (externalID string, at time.Time, err error)
}

// Identity reports who the local user is.
type Identity func() (participantID, name string)

// Sender drains the outbox and sends messages through the network adapter.
type Sender struct {
	db       *store.DB
	sender   TextSender
	events   *bus.Bus[chatsdk.Event]
	identity Identity
	logger   *zap.Logger
	interval time.Duration
	wake     chan struct{}
	cancel   context.CancelFunc
}

// NewSender creates a new outbox sender. identity may be nil.
func NewSender(db *store.DB, sender TextSender, events *bus.Bus[chatsdk.Event], identity Identity, logger *zap.Logger) *Sender {
	if identity == nil {
		identity = func() (string, string) { return "", "" }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:       db,
		sender:   sender,
		events:   events,
		identity: identity,
		logger:   logger,
		interval: 500 * time.Millisecond,
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue queues a send and wakes the loop.
func (s *Sender) Enqueue(token, conversationID, text string, replyTo int64) error {
	if err := s.db.QueueOutbox(token, conversationID, text, replyTo); err != nil {
		return fmt.Errorf("queue outbox: %w", err)
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Start requeues sends a previous run left half done and begins polling
// the outbox.
func (s *Sender) Start(ctx context.Context) {
	if n, err := s.db.RequeueSending(); err != nil {
		s.logger.Warn("failed to requeue interrupted sends", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("requeued interrupted sends", zap.Int64("count", n))
	}
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-s.wake:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) quote(entry store.OutboxEntry) (*Quote, *entity.ReplyRecord) {
	if entry.ReplyToID == 0 {
		return nil, nil
	}
	sm, err := s.db.MessageByID(entry.ReplyToID)
	if err != nil || sm == nil {
		s.logger.Warn("quoted message not found", zap.Int64("reply_to", entry.ReplyToID), zap.Error(err))
		return nil, nil
	}
	return &Quote{ExternalID: sm.ExternalID, ParticipantID: sm.Record.ParticipantID, Text: sm.Record.Text},
		&entity.ReplyRecord{
			ServerID:   sm.Record.ServerID,
			Token:      sm.Record.UniqueToken,
			SenderName: sm.Record.SenderName,
			Text:       sm.Record.Text,
		}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if ctx.Err() != nil {
			return
		}
		claimed, err := s.db.ClaimOutbox(entry.UniqueToken)
		if err != nil {
			s.logger.Error("failed to claim outbox entry", zap.Error(err), zap.String("token", entry.UniqueToken))
			continue
		}
		if claimed {
			s.send(ctx, entry)
		}
	}
}

func (s *Sender) send(ctx context.Context, entry store.OutboxEntry) {
	quote, reply := s.quote(entry)
	externalID, at, err := s.sender.SendText(ctx, entry.ConversationID, entry.Body, quote)
	if err != nil {
		s.logger.Error("failed to send message", zap.Error(err), zap.String("token", entry.UniqueToken))
		_ = s.db.MarkOutboxFailed(entry.UniqueToken, err.Error())
		s.events.Publish(chatsdk.SendFailed{
			ConversationID: entry.ConversationID,
			UniqueToken:    entry.UniqueToken,
			Reason:         err.Error(),
		})
		return
	}

	self, name := s.identity()
	r := entity.Record{
		UniqueToken:    entry.UniqueToken,
		ConversationID: entry.ConversationID,
		ParticipantID:  self,
		SenderName:     name,
		Kind:           entity.KindText.String(),
		Text:           entry.Body,
		Time:           at.UnixMilli(),
		Sent:           true,
		ReplyTo:        reply,
	}
	if reply != nil {
		r.Kind = entity.KindReply.String()
	}
	id, err := s.db.UpsertMessage(r, externalID)
	if err != nil {
		s.logger.Error("failed to store sent message", zap.Error(err), zap.String("token", entry.UniqueToken))
		_ = s.db.MarkOutboxFailed(entry.UniqueToken, err.Error())
		s.events.Publish(chatsdk.SendFailed{ConversationID: entry.ConversationID, UniqueToken: entry.UniqueToken, Reason: err.Error()})
		return
	}
	r.ServerID = id
	if err := s.db.MarkOutboxSent(entry.UniqueToken, id); err != nil {
		s.logger.Error("failed to mark sent", zap.Error(err), zap.String("token", entry.UniqueToken))
	}
	if err := s.db.TouchConversation(entry.ConversationID, r.Time); err != nil {
		s.logger.Warn("failed to touch conversation", zap.Error(err))
	}

	s.logger.Info("message sent", zap.String("token", entry.UniqueToken), zap.Int64("server_id", id), zap.String("external_id", externalID))
	s.events.Publish(chatsdk.Sent{
		ConversationID: entry.ConversationID,
		UniqueToken:    entry.UniqueToken,
		ServerID:       id,
		Time:           r.Time,
	})
	s.events.Publish(chatsdk.NewMessage{Record: r})
}
