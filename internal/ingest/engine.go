// Package ingest persists raw network events into the history store and
// republishes them as conversation events addressed by server id and token.
package ingest

import (
	"context"
	"fmt"

	"github.com/matheus3301/threadline/internal/bus"
	"github.com/matheus3301/threadline/internal/chatsdk"
	"github.com/matheus3301/threadline/internal/entity"
	"github.com/matheus3301/threadline/internal/store"
	"go.uber.org/zap"
)

// Engine handles idempotent ingestion of network events into the store.
// It subscribes to every inbound event on the inbound bus.
type Engine struct {
	db      *store.DB
	inbound *bus.Bus[Inbound]
	events  *bus.Bus[chatsdk.Event]
	logger  *zap.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewEngine creates a new ingest engine.
func NewEngine(db *store.DB, inbound *bus.Bus[Inbound], events *bus.Bus[chatsdk.Event], logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:      db,
		inbound: inbound,
		events:  events,
		logger:  logger,
	}
}

// Start subscribes to inbound events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, unsub := e.inbound.Subscribe("", 256)

	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handle(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and waits for the current event to finish.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handle(evt Inbound) {
	var err error
	switch v := evt.(type) {
	case Message:
		_, err = e.IngestMessage(v)
	case History:
		err = e.IngestHistory(v)
		if err == nil {
			e.logger.Info("history batch ingested",
				zap.Int("messages", len(v.Messages)), zap.Int("conversations", len(v.Conversations)))
		}
	case Edit:
		err = e.ApplyEdit(v)
	case Revoke:
		err = e.ApplyRevoke(v)
	case Pin:
		err = e.ApplyPin(v)
	case Receipt:
		err = e.ApplyReceipt(v)
	case Membership:
		err = e.ApplyMembership(v)
	case Unread:
		err = e.ApplyUnread(v)
	case Contact:
		err = e.db.UpsertParticipant(&store.Participant{ID: v.ID, Name: v.Name, PushName: v.PushName})
	}
	if err != nil {
		e.logger.Error("failed to ingest event", zap.String("conversation", evt.Conversation()),
			zap.String("type", fmt.Sprintf("%T", evt)), zap.Error(err))
	}
}

// resolve fills in the token and reply reference of an inbound message.
func resolve(lookup func(conv, ext string) (*store.StoredMessage, error), m Message) (entity.Record, error) {
	r := m.Record
	existing, err := lookup(r.ConversationID, m.ExternalID)
	if err != nil {
		return r, fmt.Errorf("lookup %s: %w", m.ExternalID, err)
	}
	if existing != nil {
		r.UniqueToken = existing.Record.UniqueToken
	} else {
		r.UniqueToken = TokenFor(m.ExternalID)
	}
	if m.QuotedExternalID != "" {
		quoted, err := lookup(r.ConversationID, m.QuotedExternalID)
		if err != nil {
			return r, fmt.Errorf("lookup quoted %s: %w", m.QuotedExternalID, err)
		}
		if r.ReplyTo == nil {
			r.ReplyTo = &entity.ReplyRecord{}
		}
		if quoted != nil {
			r.ReplyTo.ServerID = quoted.Record.ServerID
			r.ReplyTo.Token = quoted.Record.UniqueToken
			if r.ReplyTo.SenderName == "" {
				r.ReplyTo.SenderName = quoted.Record.SenderName
			}
		} else {
			r.ReplyTo.Token = TokenFor(m.QuotedExternalID)
		}
		if r.Kind == "" || r.Kind == entity.KindText.String() {
			r.Kind = entity.KindReply.String()
		}
	}
	r.Sent = true
	return r, nil
}

// IngestMessage stores a message (idempotent) and publishes it. It returns
// the stored record.
func (e *Engine) IngestMessage(m Message) (entity.Record, error) {
	r, err := resolve(e.db.MessageByExternalID, m)
	if err != nil {
		return r, err
	}
	if err := e.db.TouchConversation(r.ConversationID, r.Time); err != nil {
		return r, fmt.Errorf("touch conversation: %w", err)
	}
	if m.PushName != "" && r.ParticipantID != "" {
		if err := e.db.UpsertParticipant(&store.Participant{ID: r.ParticipantID, PushName: m.PushName}); err != nil {
			return r, fmt.Errorf("upsert participant: %w", err)
		}
	}
	id, err := e.db.UpsertMessage(r, m.ExternalID)
	if err != nil {
		return r, err
	}
	stored, err := e.db.MessageByID(id)
	if err != nil || stored == nil {
		return r, fmt.Errorf("read back message %d: %w", id, err)
	}
	e.events.Publish(chatsdk.NewMessage{Record: stored.Record})
	return stored.Record, nil
}

// IngestHistory stores a history batch in one transaction. Live threads
// pick history up through their page requests, so nothing is published
// except unread counters.
func (e *Engine) IngestHistory(h History) error {
	err := e.db.InTx(func(tx *store.Tx) error {
		for _, c := range h.Conversations {
			if err := tx.UpsertConversation(&store.Conversation{
				ID: c.ID, Name: c.Name, IsGroup: c.IsGroup, UnreadCount: c.UnreadCount,
			}); err != nil {
				return fmt.Errorf("upsert conversation in batch: %w", err)
			}
		}
		for _, m := range h.Messages {
			r, err := resolve(tx.MessageByExternalID, m)
			if err != nil {
				return err
			}
			if err := tx.TouchConversation(r.ConversationID, r.Time); err != nil {
				return fmt.Errorf("touch conversation in batch: %w", err)
			}
			if _, err := tx.UpsertMessage(r, m.ExternalID); err != nil {
				return fmt.Errorf("upsert message in batch: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, c := range h.Conversations {
		e.events.Publish(chatsdk.UnreadCountChanged{ConversationID: c.ID, Count: c.UnreadCount})
	}
	return nil
}

// target resolves a network id to a reference. Unknown messages are
// addressed by their stable token only.
func (e *Engine) target(conv, ext string) (entity.Ref, *store.StoredMessage, error) {
	sm, err := e.db.MessageByExternalID(conv, ext)
	if err != nil {
		return entity.Ref{}, nil, fmt.Errorf("lookup %s: %w", ext, err)
	}
	if sm == nil {
		return entity.Ref{Token: TokenFor(ext)}, nil, nil
	}
	return sm.Record.Ref(), sm, nil
}

// ApplyEdit stores and publishes an edit.
func (e *Engine) ApplyEdit(ed Edit) error {
	ref, sm, err := e.target(ed.ConversationID, ed.TargetExternalID)
	if err != nil {
		return err
	}
	if sm != nil {
		if err := e.db.ApplyEdit(sm.Record.ServerID, ed.Text); err != nil {
			return fmt.Errorf("apply edit: %w", err)
		}
	}
	e.events.Publish(chatsdk.Edited{ConversationID: ed.ConversationID, Ref: ref, Text: ed.Text})
	return nil
}

// ApplyRevoke deletes and publishes a revoked message.
func (e *Engine) ApplyRevoke(rv Revoke) error {
	ref, sm, err := e.target(rv.ConversationID, rv.TargetExternalID)
	if err != nil {
		return err
	}
	if sm != nil {
		if _, err := e.db.DeleteMessage(sm.Record.ServerID); err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
	}
	e.events.Publish(chatsdk.Deleted{ConversationID: rv.ConversationID, Ref: ref})
	return nil
}

// ApplyPin stores and publishes a pin change.
func (e *Engine) ApplyPin(p Pin) error {
	ref, sm, err := e.target(p.ConversationID, p.TargetExternalID)
	if err != nil {
		return err
	}
	if sm != nil {
		if err := e.db.SetPinned(sm.Record.ServerID, p.Pinned, p.Time); err != nil {
			return fmt.Errorf("set pinned: %w", err)
		}
	}
	e.events.Publish(chatsdk.PinChanged{ConversationID: p.ConversationID, Ref: ref, Pinned: p.Pinned, Time: p.Time})
	return nil
}

// ApplyReceipt applies delivery state, or moves the read watermark when
// the local user read the messages elsewhere.
func (e *Engine) ApplyReceipt(rc Receipt) error {
	var newest *store.StoredMessage
	for _, ext := range rc.ExternalIDs {
		ref, sm, err := e.target(rc.ConversationID, ext)
		if err != nil {
			return err
		}
		if rc.ByMe {
			if sm != nil && (newest == nil || sm.Record.Time > newest.Record.Time) {
				newest = sm
			}
			continue
		}
		if sm != nil {
			if err := e.db.ApplyDelivery(sm.Record.ServerID, rc.Delivery); err != nil {
				return fmt.Errorf("apply delivery: %w", err)
			}
		}
		if rc.Delivery.Seen {
			e.events.Publish(chatsdk.Seen{ConversationID: rc.ConversationID, Ref: ref})
		} else if rc.Delivery.Delivered {
			e.events.Publish(chatsdk.Delivered{ConversationID: rc.ConversationID, Ref: ref})
		}
	}
	if newest != nil {
		return e.MarkSeen(rc.ConversationID, newest.Record.Ref(), newest.Record.Time)
	}
	return nil
}

// MarkSeen moves the read watermark of a conversation, clears its unread
// counter and publishes both.
func (e *Engine) MarkSeen(conv string, ref entity.Ref, at int64) error {
	if err := e.db.SetLastSeen(conv, ref, at); err != nil {
		return fmt.Errorf("set last seen: %w", err)
	}
	if err := e.db.SetUnreadCount(conv, 0); err != nil {
		return fmt.Errorf("clear unread: %w", err)
	}
	e.events.Publish(chatsdk.LastSeenUpdated{ConversationID: conv, Ref: ref, Time: at})
	e.events.Publish(chatsdk.UnreadCountChanged{ConversationID: conv})
	return nil
}

// ApplyMembership stores a system row per participant and publishes the
// participant change.
func (e *Engine) ApplyMembership(mb Membership) error {
	event := entity.SystemJoined
	if mb.Left {
		event = entity.SystemLeft
	}
	for _, pid := range mb.ParticipantIDs {
		r := entity.Record{
			UniqueToken:    fmt.Sprintf("sys-%s-%d-%s", event, mb.Time, pid),
			ConversationID: mb.ConversationID,
			ParticipantID:  pid,
			Kind:           entity.KindSystem.String(),
			Time:           mb.Time,
			Sent:           true,
			System:         &entity.SystemRecord{Event: string(event), Actor: mb.Actor},
		}
		id, err := e.db.UpsertMessage(r, "")
		if err != nil {
			return err
		}
		r.ServerID = id
		name := ""
		if p, err := e.db.GetParticipant(pid); err == nil && p != nil {
			name = p.DisplayName()
		}
		e.events.Publish(chatsdk.NewMessage{Record: r})
		e.events.Publish(chatsdk.ParticipantChanged{ConversationID: mb.ConversationID, ParticipantID: pid, Name: name, Left: mb.Left})
	}
	return nil
}

// ApplyUnread stores and publishes the unread counter.
func (e *Engine) ApplyUnread(u Unread) error {
	if err := e.db.SetUnreadCount(u.ConversationID, u.Count); err != nil {
		return fmt.Errorf("set unread count: %w", err)
	}
	e.events.Publish(chatsdk.UnreadCountChanged{ConversationID: u.ConversationID, Count: u.Count})
	return nil
}
