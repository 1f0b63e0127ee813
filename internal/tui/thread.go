package tui

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/matheus3301/threadline/internal/api"
	"github.com/matheus3301/threadline/internal/entity"
	"github.com/matheus3301/threadline/internal/reconcile"
	"github.com/matheus3301/threadline/internal/thread"
)

const intentQueue = 64

type composeMode int

const (
	composeSend composeMode = iota
	composeReply
	composeEdit
)

type composeState struct {
	mode composeMode
	ref  entity.Ref
}

// openThread is the conversation on screen. Intents are queued to a single
// worker so they reach the view model in the order they were issued.
type openThread struct {
	conv    api.Conversation
	vm      *thread.ViewModel
	intents chan intent
	cancel  context.CancelFunc
	done    chan struct{}
	logger  *zap.Logger

	// UI goroutine only.
	visible map[string]bool
	compose composeState
}

type intent struct {
	op   string
	call func(ctx context.Context) error
}

// run queues an intent. A full queue drops it with a warning.
func (ot *openThread) run(op string, call func(ctx context.Context) error) {
	select {
	case ot.intents <- intent{op: op, call: call}:
	default:
		ot.logger.Warn("intent queue full", zap.String("op", op))
	}
}

func (a *App) selfID() (id, name string) {
	if st := a.vm.Status(); st != nil {
		id, name = st.SelfID, st.SelfName
	}
	if a.cfg.Thread.SelfID != "" {
		id = a.cfg.Thread.SelfID
	}
	return id, name
}

// open refreshes the conversation's watermark from the daemon and shows it.
func (a *App) open(c api.Conversation) {
	go func() {
		resp, err := a.client.RPC().Conversation(a.ctx, &api.ConversationRequest{ID: c.ID})
		if err != nil {
			a.logger.Warn("conversation lookup failed, using list copy", zap.String("conversation", c.ID), zap.Error(err))
		} else {
			c = resp.Conversation
		}
		a.app.QueueUpdateDraw(func() { a.showThread(c) })
	}()
}

func (a *App) showThread(c api.Conversation) {
	a.closeThread()

	selfID, selfName := a.selfID()
	t := a.cfg.Thread
	vm := thread.New(thread.Config{
		ConversationID: c.ID,
		SelfID:         selfID,
		SelfName:       selfName,
		IsGroup:        c.IsGroup,
		IsChannel:      c.IsChannel,
		PageSize:       t.PageSize,
		PendingTimeout: t.PendingTimeoutDuration(),
		PaceInterval:   t.PaceIntervalDuration(),
		PaceBurst:      t.PaceBurst,
		Workers:        t.Workers,
		ThreadWidth:    a.cfg.Layout.ThreadWidth,
		MaxImageWidth:  a.cfg.Layout.MaxImageWidth,
	}, thread.Deps{
		Transport: a.client,
		Events:    a.client,
		Engine:    a.engine,
		Logger:    a.logger,
	})

	ctx, cancel := context.WithCancel(a.ctx)
	ot := &openThread{
		conv:    c,
		vm:      vm,
		intents: make(chan intent, intentQueue),
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  a.logger.With(zap.String("conversation", c.ID)),
		visible: make(map[string]bool),
	}
	vm.Start(ctx)
	a.current = ot
	a.vm.SetActive(c.ID)

	a.thread.SetChatName(conversationTitle(c))
	a.thread.Composer().SetMode("")
	a.thread.Update(vm.Snapshot())
	a.searchV.Update(nil)
	a.pages.PopTo(pageConversations)
	a.pages.Push(pageThread)

	go a.pumpDeltas(ot)
	go a.runIntents(ctx, ot)

	params := reconcile.OpenParams{
		LastSeen:    reconcile.Position{Ref: c.LastSeen, Time: c.LastSeenTime},
		LastMessage: reconcile.Position{Time: c.LastMessageAt},
		UnreadCount: c.UnreadCount,
	}
	ot.run("open", func(ctx context.Context) error { return vm.Open(ctx, params) })
}

func conversationTitle(c api.Conversation) string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// closeThread tears down the open thread, if any.
func (a *App) closeThread() {
	ot := a.current
	if ot == nil {
		return
	}
	a.current = nil
	a.vm.SetActive("")
	ot.cancel()
	ot.vm.Stop()
	<-ot.done
}

func (a *App) runIntents(ctx context.Context, ot *openThread) {
	defer close(ot.done)
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-ot.intents:
			err := in.call(ctx)
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, thread.ErrClosed) {
				continue
			}
			a.logger.Warn("thread intent failed", zap.String("op", in.op), zap.Error(err))
			a.flash.Errorf("%s failed: %v", in.op, err)
		}
	}
}

// pumpDeltas redraws the thread for each published change until the view
// model closes its delta channel.
func (a *App) pumpDeltas(ot *openThread) {
	for d := range ot.vm.Deltas() {
		a.app.QueueUpdateDraw(func() {
			if a.current != ot {
				return
			}
			snap := ot.vm.Snapshot()
			a.thread.Update(snap)
			if d.Highlight != nil {
				if row, ok := snap.At(*d.Highlight); ok {
					a.thread.Select(row.Message.UniqueToken)
				}
			}
			if d.Search {
				a.searchV.Update(d.SearchResults)
			}
			if a.pages.Current() == pageInfo {
				a.info.Update(ot.conv, snap)
			}
		})
	}
}

// trackVisibility reports rows scrolling in and out of view. It runs after
// every draw on the UI goroutine.
func (a *App) trackVisibility() {
	ot := a.current
	if ot == nil || a.pages.Current() != pageThread {
		return
	}
	now := make(map[string]bool)
	var shown, hidden []string
	for _, tok := range a.thread.VisibleTokens() {
		now[tok] = true
		if !ot.visible[tok] {
			shown = append(shown, tok)
		}
	}
	for tok := range ot.visible {
		if !now[tok] {
			hidden = append(hidden, tok)
		}
	}
	if len(shown) == 0 && len(hidden) == 0 {
		return
	}
	ot.visible = now
	ot.run("visibility", func(ctx context.Context) error {
		for _, tok := range hidden {
			if err := ot.vm.RowHidden(ctx, entity.Ref{Token: tok}); err != nil && !errors.Is(err, thread.ErrNotFound) {
				return err
			}
		}
		for _, tok := range shown {
			if err := ot.vm.RowVisible(ctx, entity.Ref{Token: tok}); err != nil && !errors.Is(err, thread.ErrNotFound) {
				return err
			}
		}
		return nil
	})
}

// selected returns the message under the cursor.
func (a *App) selected() (*openThread, entity.Message, bool) {
	ot := a.current
	if ot == nil {
		return nil, entity.Message{}, false
	}
	tok := a.thread.SelectedToken()
	if tok == "" {
		return ot, entity.Message{}, false
	}
	snap := ot.vm.Snapshot()
	p, ok := snap.Find(entity.Ref{Token: tok})
	if !ok {
		return ot, entity.Message{}, false
	}
	row, ok := snap.At(p)
	return ot, row.Message, ok
}

func (a *App) isMine(m entity.Message) bool {
	self, _ := a.selfID()
	return self != "" && m.ParticipantID == self
}

func (a *App) focusComposer(ot *openThread, st composeState, title, text string) {
	ot.compose = st
	c := a.thread.Composer()
	c.SetMode(title)
	c.SetText(text)
	a.app.SetFocus(c)
}

func (a *App) compose() {
	if ot := a.current; ot != nil {
		a.focusComposer(ot, composeState{}, "message", "")
	}
}

func (a *App) reply() {
	ot, m, ok := a.selected()
	if !ok {
		return
	}
	who := m.SenderName
	if who == "" {
		who = m.ParticipantID
	}
	a.focusComposer(ot, composeState{mode: composeReply, ref: m.Ref()}, "reply to "+who, "")
}

func (a *App) edit() {
	ot, m, ok := a.selected()
	if !ok {
		return
	}
	if !a.isMine(m) {
		a.flash.Warn("only your own messages can be edited")
		return
	}
	if m.IsPending() {
		a.flash.Warn("message is not sent yet")
		return
	}
	a.focusComposer(ot, composeState{mode: composeEdit, ref: m.Ref()}, "edit message", m.Text)
}

func (a *App) submitComposer(text string) {
	ot := a.current
	if ot == nil {
		return
	}
	st := ot.compose
	ot.compose = composeState{}
	a.thread.Composer().SetMode("")
	a.app.SetFocus(a.thread.Rows())

	switch st.mode {
	case composeEdit:
		ot.run("edit", func(ctx context.Context) error { return ot.vm.Edit(ctx, st.ref, text) })
	case composeReply:
		ref := st.ref
		ot.run("reply", func(ctx context.Context) error {
			_, err := ot.vm.Send(ctx, text, &ref)
			return err
		})
	default:
		ot.run("send", func(ctx context.Context) error {
			_, err := ot.vm.Send(ctx, text, nil)
			return err
		})
	}
}

func (a *App) togglePin() {
	ot, m, ok := a.selected()
	if !ok {
		return
	}
	ref := m.Ref()
	if m.Pinned {
		ot.run("unpin", func(ctx context.Context) error { return ot.vm.Unpin(ctx, ref) })
		return
	}
	ot.run("pin", func(ctx context.Context) error { return ot.vm.Pin(ctx, ref) })
}

func (a *App) deleteSelected() {
	ot, m, ok := a.selected()
	if !ok {
		return
	}
	if !a.isMine(m) {
		a.flash.Warn("only your own messages can be deleted")
		return
	}
	ref := m.Ref()
	ot.run("delete", func(ctx context.Context) error { return ot.vm.Delete(ctx, ref) })
}

func (a *App) loadMore(older bool) {
	ot := a.current
	if ot == nil {
		return
	}
	if older {
		ot.run("load older", ot.vm.LoadMoreTop)
		return
	}
	ot.run("load newer", ot.vm.LoadMoreBottom)
}

func (a *App) showSearch() {
	if a.current == nil {
		return
	}
	a.pages.Push(pageSearch)
}

func (a *App) showInfo() {
	ot := a.current
	if ot == nil {
		a.flash.Warn("no conversation open")
		return
	}
	a.info.Update(ot.conv, ot.vm.Snapshot())
	a.pages.Push(pageInfo)
}
