package thread

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/matheus3301/threadline/internal/chatsdk"
	"github.com/matheus3301/threadline/internal/entity"
	"github.com/matheus3301/threadline/internal/reconcile"
	"github.com/matheus3301/threadline/internal/section"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// UploadRequest describes a local file to send.
type UploadRequest struct {
	LocalPath string
	FileName  string
	Media     entity.MediaType
	Size      int64
	Width     int
	Height    int
	Caption   string
}

// Open loads the conversation around its read watermark.
func (vm *ViewModel) Open(ctx context.Context, p reconcile.OpenParams) error {
	return vm.do(ctx, func() error {
		vm.pass(func() reconcile.Outcome {
			vm.issue(vm.rec.Open(p)...)
			return reconcile.Outcome{}
		})
		return nil
	})
}

// LoadMoreTop asks for the page before the oldest loaded row.
func (vm *ViewModel) LoadMoreTop(ctx context.Context) error {
	return vm.do(ctx, func() error {
		vm.pass(func() reconcile.Outcome {
			vm.loadMoreTop()
			return reconcile.Outcome{}
		})
		return nil
	})
}

// LoadMoreBottom asks for the page after the newest loaded row.
func (vm *ViewModel) LoadMoreBottom(ctx context.Context) error {
	return vm.do(ctx, func() error {
		vm.pass(func() reconcile.Outcome {
			vm.loadMoreBottom()
			return reconcile.Outcome{}
		})
		return nil
	})
}

func (vm *ViewModel) loadMoreTop() {
	first, ok := vm.index.TopCursor()
	if !ok {
		return
	}
	if req, ok := vm.rec.RequestHistoryBefore(first); ok {
		vm.issue(req)
	}
}

func (vm *ViewModel) loadMoreBottom() {
	last, ok := vm.index.BottomCursor()
	if !ok {
		return
	}
	if req, ok := vm.rec.RequestHistoryAfter(last); ok {
		vm.issue(req)
	}
}

// MoveToMessage highlights a message, loading the pages around it when it
// is not in the thread yet. at is the message timestamp.
func (vm *ViewModel) MoveToMessage(ctx context.Context, ref entity.Ref, at int64) error {
	return vm.do(ctx, func() error {
		vm.pass(func() reconcile.Outcome {
			if _, ok := vm.index.Lookup(ref); ok {
				return reconcile.Outcome{Highlight: &ref}
			}
			vm.issue(vm.rec.MoveToTime(at, ref)...)
			return reconcile.Outcome{}
		})
		return nil
	})
}

// Search asks for messages matching query. Results arrive on a delta with
// Search set and leave the thread untouched.
func (vm *ViewModel) Search(ctx context.Context, query string) error {
	return vm.do(ctx, func() error {
		vm.pass(func() reconcile.Outcome {
			vm.issue(vm.rec.Search(query))
			return reconcile.Outcome{}
		})
		return nil
	})
}

// issue sends history requests without blocking the actor. Requests are
// paced by the limiter and run concurrently.
func (vm *ViewModel) issue(reqs ...reconcile.Request) {
	if len(reqs) == 0 {
		return
	}
	ctx := vm.ctx
	go func() {
		var g errgroup.Group
		for _, req := range reqs {
			g.Go(func() error {
				if err := vm.limiter.Wait(ctx); err != nil {
					return nil
				}
				if err := vm.transport.FetchHistory(ctx, req.Fetch); err != nil {
					vm.post(func() {
						vm.pass(func() reconcile.Outcome { return vm.rec.IssueFailed(req.Key) })
					})
					return fmt.Errorf("fetch %s: %w", req.Key, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil && ctx.Err() == nil {
			vm.logger.Warn("history request failed", zap.Error(err))
		}
	}()
}

// async runs a transport call off the actor. onErr runs on the actor.
func (vm *ViewModel) async(op string, call func(ctx context.Context) error, onErr func(error)) {
	ctx := vm.ctx
	go func() {
		if err := call(ctx); err != nil && ctx.Err() == nil {
			vm.logger.Warn("request failed", zap.String("op", op), zap.Error(err))
			if onErr != nil {
				vm.post(func() { onErr(err) })
			}
		}
	}()
}

// Send adds an optimistic message and sends it. It returns the message token.
func (vm *ViewModel) Send(ctx context.Context, text string, replyTo *entity.Ref) (string, error) {
	token := uuid.NewString()
	err := vm.do(ctx, func() error {
		m := vm.newLocal(token, text)
		if replyTo != nil {
			quoted, ok := vm.index.Lookup(*replyTo)
			if !ok {
				return fmt.Errorf("reply to %s: %w", replyTo, ErrNotFound)
			}
			att, _ := entity.AttachmentOf(quoted.Body)
			m.Body = entity.Reply{
				To:         quoted.Ref(),
				SenderName: quoted.SenderName,
				Text:       quoted.Text,
				IsImage:    att.Media == entity.MediaImage,
			}
		}
		vm.pass(func() reconcile.Outcome {
			vm.index.InsertOrUpdate(m)
			return reconcile.Outcome{}
		})

		req := chatsdk.SendRequest{ConversationID: vm.cfg.ConversationID, UniqueToken: token, Text: text, ReplyTo: replyTo}
		vm.async("send", func(ctx context.Context) error {
			return vm.transport.Send(ctx, req)
		}, func(err error) {
			vm.pass(func() reconcile.Outcome {
				return vm.rec.HandleEvent(chatsdk.SendFailed{ConversationID: vm.cfg.ConversationID, UniqueToken: token, Reason: err.Error()})
			})
		})
		return nil
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// SendFile adds an optimistic upload row and hands it to the transfer
// service. It returns the message token.
func (vm *ViewModel) SendFile(ctx context.Context, up UploadRequest) (string, error) {
	if vm.transfers == nil {
		return "", ErrNoTransfers
	}
	token := uuid.NewString()
	err := vm.do(ctx, func() error {
		m := vm.newLocal(token, up.Caption)
		m.Body = entity.Upload{
			LocalPath: up.LocalPath,
			FileName:  up.FileName,
			Media:     up.Media,
			Size:      up.Size,
			Width:     up.Width,
			Height:    up.Height,
		}
		vm.pass(func() reconcile.Outcome {
			vm.index.InsertOrUpdate(m)
			return reconcile.Outcome{}
		})
		snapshot := m.Clone()
		vm.async("upload", func(ctx context.Context) error {
			return vm.transfers.Register(ctx, snapshot)
		}, func(err error) {
			vm.pass(func() reconcile.Outcome {
				return vm.rec.HandleEvent(chatsdk.UploadFinished{ConversationID: vm.cfg.ConversationID, UniqueToken: token, Err: err.Error()})
			})
		})
		return nil
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// CancelUpload stops a transfer and removes its row.
func (vm *ViewModel) CancelUpload(ctx context.Context, token string) error {
	return vm.do(ctx, func() error {
		m, ok := vm.index.Lookup(entity.Ref{Token: token})
		if !ok {
			return ErrNotFound
		}
		if m.Kind() != entity.KindUpload {
			return fmt.Errorf("cancel upload: %s is a %s message", token, m.Kind())
		}
		if vm.transfers != nil {
			vm.transfers.Cancel(token)
		}
		vm.pass(func() reconcile.Outcome {
			vm.index.RemoveByToken(token)
			return reconcile.Outcome{}
		})
		return nil
	})
}

func (vm *ViewModel) newLocal(token, text string) *entity.Message {
	return &entity.Message{
		UniqueToken:    token,
		ConversationID: vm.cfg.ConversationID,
		ParticipantID:  vm.cfg.SelfID,
		SenderName:     vm.cfg.SelfName,
		Time:           vm.clock().UnixMilli(),
		Text:           text,
		Body:           entity.Text{},
	}
}

// Edit changes the text of a message locally and on the server.
func (vm *ViewModel) Edit(ctx context.Context, ref entity.Ref, text string) error {
	return vm.do(ctx, func() error {
		m, ok := vm.index.Lookup(ref)
		if !ok {
			return ErrNotFound
		}
		ref = m.Ref()
		vm.pass(func() reconcile.Outcome {
			return vm.rec.HandleEvent(chatsdk.Edited{ConversationID: vm.cfg.ConversationID, Ref: ref, Text: text})
		})
		req := chatsdk.EditRequest{RequestID: uuid.NewString(), ConversationID: vm.cfg.ConversationID, Ref: ref, Text: text}
		vm.async("edit", func(ctx context.Context) error { return vm.transport.Edit(ctx, req) }, nil)
		return nil
	})
}

// Delete removes a message. Pending uploads are cancelled; pending sends are
// dropped locally; acknowledged messages are deleted on the server too.
func (vm *ViewModel) Delete(ctx context.Context, ref entity.Ref) error {
	return vm.do(ctx, func() error {
		m, ok := vm.index.Lookup(ref)
		if !ok {
			return ErrNotFound
		}
		ref = m.Ref()
		if m.Kind() == entity.KindUpload && vm.transfers != nil {
			vm.transfers.Cancel(m.UniqueToken)
		}
		vm.pass(func() reconcile.Outcome {
			return vm.rec.HandleEvent(chatsdk.Deleted{ConversationID: vm.cfg.ConversationID, Ref: ref})
		})
		if ref.ServerID == 0 {
			return nil
		}
		req := chatsdk.RefRequest{RequestID: uuid.NewString(), ConversationID: vm.cfg.ConversationID, Ref: ref}
		vm.async("delete", func(ctx context.Context) error { return vm.transport.Delete(ctx, req) }, nil)
		return nil
	})
}

// Pin pins a message. The row changes when the server confirms.
func (vm *ViewModel) Pin(ctx context.Context, ref entity.Ref) error {
	return vm.refRequest(ctx, "pin", ref, vm.transport.Pin)
}

// Unpin unpins a message. The row changes when the server confirms.
func (vm *ViewModel) Unpin(ctx context.Context, ref entity.Ref) error {
	return vm.refRequest(ctx, "unpin", ref, vm.transport.Unpin)
}

func (vm *ViewModel) refRequest(ctx context.Context, op string, ref entity.Ref, call func(context.Context, chatsdk.RefRequest) error) error {
	return vm.do(ctx, func() error {
		m, ok := vm.index.Lookup(ref)
		if !ok || m.IsPending() {
			return ErrNotFound
		}
		req := chatsdk.RefRequest{RequestID: uuid.NewString(), ConversationID: vm.cfg.ConversationID, Ref: m.Ref()}
		vm.async(op, func(ctx context.Context) error { return call(ctx, req) }, nil)
		return nil
	})
}

// RowVisible tells the thread a row is on screen. It computes the row model
// if missing, sends a seen receipt for unseen incoming messages and
// paginates at either end.
func (vm *ViewModel) RowVisible(ctx context.Context, ref entity.Ref) error {
	return vm.do(ctx, func() error {
		m, ok := vm.index.Lookup(ref)
		if !ok {
			return nil
		}
		rs := vm.rows[m.UniqueToken]
		if rs == nil || rs.model == nil {
			vm.schedule([]string{m.UniqueToken})
			rs = vm.rows[m.UniqueToken]
		}
		if rs != nil {
			rs.visible = true
		}

		if vm.shouldMarkSeen(m) {
			vm.seenSent[m.UniqueToken] = true
			req := chatsdk.RefRequest{RequestID: uuid.NewString(), ConversationID: vm.cfg.ConversationID, Ref: m.Ref()}
			vm.async("seen", func(ctx context.Context) error { return vm.transport.MarkSeen(ctx, req) }, nil)
		}

		vm.pass(func() reconcile.Outcome {
			if m == vm.index.First() {
				vm.loadMoreTop()
			}
			if m == vm.index.Last() {
				vm.loadMoreBottom()
			}
			return reconcile.Outcome{}
		})
		return nil
	})
}

func (vm *ViewModel) shouldMarkSeen(m *entity.Message) bool {
	switch m.Kind() {
	case entity.KindDivider, entity.KindSystem:
		return false
	}
	return !m.IsPending() && !m.Delivery.Seen && m.ParticipantID != vm.cfg.SelfID && !vm.seenSent[m.UniqueToken]
}

// RowHidden tells the thread a row left the screen.
func (vm *ViewModel) RowHidden(ctx context.Context, ref entity.Ref) error {
	return vm.do(ctx, func() error {
		if m, ok := vm.index.Lookup(ref); ok {
			if rs := vm.rows[m.UniqueToken]; rs != nil {
				rs.visible = false
			}
		}
		return nil
	})
}

// Visible returns the tokens of the rows on screen, in thread order.
func (vm *ViewModel) Visible(ctx context.Context) ([]string, error) {
	var out []string
	err := vm.do(ctx, func() error {
		vm.index.Walk(func(_ section.Path, m *entity.Message) bool {
			if rs := vm.rows[m.UniqueToken]; rs != nil && rs.visible {
				out = append(out, m.UniqueToken)
			}
			return true
		})
		return nil
	})
	return out, err
}
