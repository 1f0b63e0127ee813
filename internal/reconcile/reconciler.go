// Package reconcile merges history pages, live events and local optimistic
// messages into a section index.
package reconcile

import (
	"github.com/google/uuid"
	"github.com/matheus3301/threadline/internal/chatsdk"
	"github.com/matheus3301/threadline/internal/entity"
	"github.com/matheus3301/threadline/internal/pending"
	"github.com/matheus3301/threadline/internal/section"
	"go.uber.org/zap"
)

// DefaultPageSize is the number of messages asked per page.
const DefaultPageSize = 50

// Request is the payload kept in the pending registry: the fetch as issued
// plus what to do once it settles.
type Request struct {
	Key       pending.Key
	Fetch     chatsdk.FetchRequest
	Highlight entity.Ref
	Group     string
	// Window is the index window the request was issued for.
	Window uint64
}

// Position is a message and its timestamp.
type Position struct {
	Ref  entity.Ref
	Time int64
}

// OpenParams describes the conversation when it is opened.
type OpenParams struct {
	LastSeen    Position
	LastMessage Position
	UnreadCount int
}

// State is the thread-level state exposed to the presentation layer.
type State struct {
	LoadingCenter bool `json:"loading_center"`
	LoadingTop    bool `json:"loading_top"`
	LoadingBottom bool `json:"loading_bottom"`
	Searching     bool `json:"searching"`
	HasMoreTop    bool `json:"has_more_top"`
	HasMoreBottom bool `json:"has_more_bottom"`

	UnreadCount  int        `json:"unread_count"`
	LastSeen     entity.Ref `json:"last_seen"`
	LastSeenTime int64      `json:"last_seen_time,omitempty"`
}

// Loading reports whether any page is in flight.
func (s State) Loading() bool {
	return s.LoadingCenter || s.LoadingTop || s.LoadingBottom
}

// Outcome is what a reconciliation pass produced besides index mutations.
type Outcome struct {
	Highlight     *entity.Ref
	Search        bool
	SearchResults []*entity.Message
}

// Config configures a reconciler.
type Config struct {
	ConversationID string
	SelfID         string
	PageSize       int
}

type moveGroup struct {
	remaining int
	highlight entity.Ref
}

// Reconciler owns the sequencing of one conversation. It is not safe for
// concurrent use; the thread actor serializes every call.
type Reconciler struct {
	cfg      Config
	index    *section.Index
	registry *pending.Registry[Request]
	flows    map[Flow]*flow
	groups   map[string]*moveGroup
	parked   *parking
	window   uint64
	// issued remembers the window of every page request so a page that
	// outlived its registry entry can still be placed.
	issued *fifo[uint64]
	logger   *zap.Logger

	hasMoreTop    bool
	hasMoreBottom bool
	unread        int
	lastSeen      Position
	participants  map[string]string
}

// New creates a reconciler over index. Expired registry entries must be fed
// back through Expired.
func New(cfg Config, index *section.Index, registry *pending.Registry[Request], logger *zap.Logger) *Reconciler {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		cfg:      cfg,
		index:    index,
		registry: registry,
		flows: map[Flow]*flow{
			FlowCenter: newFlow(),
			FlowTop:    newFlow(),
			FlowBottom: newFlow(),
			FlowSearch: newFlow(),
		},
		groups:       make(map[string]*moveGroup),
		parked:       newParking(),
		issued:       newFIFO[uint64](maxIssued),
		participants: make(map[string]string),
		logger:       logger.With(zap.String("conversation", cfg.ConversationID)),
	}
}

// Index returns the index the reconciler mutates.
func (r *Reconciler) Index() *section.Index { return r.index }

// State returns a copy of the thread state.
func (r *Reconciler) State() State {
	return State{
		LoadingCenter: r.flows[FlowCenter].loading(),
		LoadingTop:    r.flows[FlowTop].loading(),
		LoadingBottom: r.flows[FlowBottom].loading(),
		Searching:     r.flows[FlowSearch].loading(),
		HasMoreTop:    r.hasMoreTop,
		HasMoreBottom: r.hasMoreBottom,
		UnreadCount:   r.unread,
		LastSeen:      r.lastSeen.Ref,
		LastSeenTime:  r.lastSeen.Time,
	}
}

// Participant returns the last known display name of a participant.
func (r *Reconciler) Participant(id string) (string, bool) {
	name, ok := r.participants[id]
	return name, ok
}

// LoadState returns the state machine position of a flow.
func (r *Reconciler) LoadState(f Flow) LoadState {
	return r.flows[f].machine.Current()
}

func (r *Reconciler) register(kind pending.Kind, w chatsdk.Window, query string) Request {
	key := pending.NewKey(kind)
	return Request{
		Key: key,
		Fetch: chatsdk.FetchRequest{
			Key:            string(key),
			ConversationID: r.cfg.ConversationID,
			Window:         w,
			Query:          query,
		},
		Window: r.window,
	}
}

func (r *Reconciler) track(req Request) Request {
	r.registry.Register(req.Key, req)
	if req.Key.Kind() != pending.KindSearch {
		r.issued.put(string(req.Key), req.Window)
	}
	r.flows[flowOf(req.Key.Kind())].begin()
	return req
}

// Open decides how to load a freshly opened conversation. When everything
// is read it loads the latest page; otherwise it moves to the last seen
// message so the unread divider lands between the two pages.
func (r *Reconciler) Open(p OpenParams) []Request {
	r.lastSeen = p.LastSeen
	r.unread = p.UnreadCount

	caughtUp := p.LastSeen.Ref.IsZero() || p.LastMessage.Ref.IsZero() ||
		sameRef(p.LastSeen.Ref, p.LastMessage.Ref)
	r.logger.Info("open conversation", zap.Bool("caught_up", caughtUp), zap.Int("unread", p.UnreadCount))
	if caughtUp {
		return []Request{r.RequestLatest()}
	}
	return r.MoveToTime(p.LastSeen.Time, p.LastSeen.Ref)
}

func sameRef(a, b entity.Ref) bool {
	return a.Token != "" && a.Token == b.Token || a.ServerID != 0 && a.ServerID == b.ServerID
}

// RequestLatest asks for the newest page.
func (r *Reconciler) RequestLatest() Request {
	return r.track(r.register(pending.KindHistory, chatsdk.Window{Limit: r.cfg.PageSize, Newest: true}, ""))
}

// RequestHistoryBefore asks for the page ending just before c. It reports
// false when an older page is already loading or there is nothing older.
func (r *Reconciler) RequestHistoryBefore(c section.Cursor) (Request, bool) {
	if r.flows[FlowTop].loading() || !r.hasMoreTop {
		return Request{}, false
	}
	w := chatsdk.Window{To: c.Time, ToID: c.ID, Limit: r.cfg.PageSize, Newest: true}
	return r.track(r.register(pending.KindMoreTop, w, "")), true
}

// RequestHistoryAfter asks for the page starting just after c.
func (r *Reconciler) RequestHistoryAfter(c section.Cursor) (Request, bool) {
	if r.flows[FlowBottom].loading() || !r.hasMoreBottom {
		return Request{}, false
	}
	w := chatsdk.Window{From: c.Time, FromID: c.ID, Limit: r.cfg.PageSize}
	return r.track(r.register(pending.KindMoreBottom, w, "")), true
}

// MoveToTime replaces the window with the pages around ts. highlight is
// reported once both pages settled.
func (r *Reconciler) MoveToTime(ts int64, highlight entity.Ref) []Request {
	r.index.Reset()
	r.window++
	group := uuid.NewString()
	r.groups[group] = &moveGroup{remaining: 2, highlight: highlight}

	before := r.register(pending.KindMoveBefore, chatsdk.Window{To: ts, Limit: r.cfg.PageSize, Newest: true}, "")
	after := r.register(pending.KindMoveAfter, chatsdk.Window{From: ts + 1, Limit: r.cfg.PageSize}, "")
	before.Group, after.Group = group, group
	before.Highlight, after.Highlight = highlight, highlight
	return []Request{r.track(before), r.track(after)}
}

// Search asks for messages matching query. Results never enter the index.
func (r *Reconciler) Search(query string) Request {
	return r.track(r.register(pending.KindSearch, chatsdk.Window{Limit: r.cfg.PageSize, Newest: true}, query))
}

// IssueFailed settles a request the transport could not send.
func (r *Reconciler) IssueFailed(key pending.Key) Outcome {
	req, ok := r.registry.Resolve(key)
	if !ok {
		return Outcome{}
	}
	r.logger.Warn("request not issued", zap.String("key", string(key)))
	out := r.settle(req, TimedOut)
	r.recomputeDivider()
	return out
}

// Expired settles a request whose response never came. The index is left
// as it is.
func (r *Reconciler) Expired(key pending.Key, req Request) Outcome {
	r.logger.Warn("request timed out", zap.String("key", string(key)))
	out := r.settle(req, TimedOut)
	r.recomputeDivider()
	return out
}

// Reset cancels every pending request and empties the index.
func (r *Reconciler) Reset() {
	r.registry.CancelAll()
	for f := range r.flows {
		r.flows[f] = newFlow()
	}
	r.groups = make(map[string]*moveGroup)
	r.index.Reset()
}

func (r *Reconciler) settle(req Request, outcome LoadState) Outcome {
	var out Outcome
	r.flows[flowOf(req.Key.Kind())].end(outcome)
	if req.Group == "" {
		return out
	}
	g, ok := r.groups[req.Group]
	if !ok {
		return out
	}
	if g.remaining--; g.remaining > 0 {
		return out
	}
	delete(r.groups, req.Group)
	if !g.highlight.IsZero() {
		h := g.highlight
		out.Highlight = &h
	}
	return out
}

// HandleEvent applies one event and returns what the pass produced.
// Events of other conversations are ignored.
func (r *Reconciler) HandleEvent(evt chatsdk.Event) Outcome {
	if evt.Conversation() != r.cfg.ConversationID {
		r.logger.Debug("event for other conversation ignored", zap.String("kind", evt.Kind()))
		return Outcome{}
	}
	var out Outcome
	if page, ok := evt.(chatsdk.HistoryPage); ok {
		out = r.handlePage(page)
	} else {
		r.applyLive(evt)
	}
	r.recomputeDivider()
	return out
}

func (r *Reconciler) handlePage(p chatsdk.HistoryPage) Outcome {
	key := pending.Key(p.Key)
	var (
		req Request
		ok  bool
	)
	if p.Cached {
		req, ok = r.registry.Peek(key)
	} else {
		req, ok = r.registry.Resolve(key)
	}

	if key.Kind() == pending.KindSearch {
		if !ok {
			return Outcome{}
		}
		out := Outcome{Search: true}
		for _, rec := range p.Records {
			m := entity.Decode(rec)
			if m.ConversationID == r.cfg.ConversationID && !r.parked.buried(m.Ref()) {
				out.SearchResults = append(out.SearchResults, m)
			}
		}
		if !p.Cached {
			r.settle(req, ServerResponded)
		}
		return out
	}

	window, known := req.Window, ok
	if !ok {
		window, known = r.issued.get(string(key))
	}
	// Pages of a window left behind by a move would open a gap, even when
	// they arrive after their request expired.
	if known && window != r.window {
		r.logger.Debug("page of abandoned window dropped", zap.String("key", p.Key), zap.Bool("pending", ok))
		if ok && !p.Cached {
			r.settle(req, ServerResponded)
		}
		return Outcome{}
	}

	for _, rec := range p.Records {
		r.merge(entity.Decode(rec))
	}
	r.index.SortAll()

	if !ok {
		r.logger.Debug("page without pending request merged", zap.String("key", p.Key), zap.Bool("cached", p.Cached))
		return Outcome{}
	}
	if p.Cached {
		return Outcome{}
	}

	switch key.Kind() {
	case pending.KindHistory:
		r.hasMoreTop = p.HasMore
		r.hasMoreBottom = false
	case pending.KindMoreTop, pending.KindMoveBefore:
		r.hasMoreTop = p.HasMore
	case pending.KindMoreBottom, pending.KindMoveAfter:
		r.hasMoreBottom = p.HasMore
	}
	return r.settle(req, ServerResponded)
}

// merge inserts m unless it was deleted, then replays mutations that
// arrived before it.
func (r *Reconciler) merge(m *entity.Message) section.Outcome {
	if r.parked.buried(m.Ref()) {
		r.logger.Debug("deleted message not resurrected", zap.String("token", m.UniqueToken))
		return section.Ignored
	}
	out := r.index.InsertOrUpdate(m)
	if out == section.Ignored {
		return out
	}
	if stored, ok := r.index.Lookup(m.Ref()); ok {
		for _, e := range r.parked.release(stored.Ref()) {
			r.applyLive(e)
		}
	}
	return out
}

func (r *Reconciler) applyLive(evt chatsdk.Event) {
	switch e := evt.(type) {
	case chatsdk.NewMessage:
		r.merge(entity.Decode(e.Record))

	case chatsdk.Sent:
		out := r.index.Update(entity.Ref{Token: e.UniqueToken}, func(m *entity.Message) bool {
			before := *m
			if m.ServerID == 0 {
				m.ServerID = e.ServerID
			}
			if e.Time != 0 {
				m.Time = e.Time
			}
			m.Delivery = m.Delivery.MarkSent()
			m.Failed = false
			return before.ServerID != m.ServerID || before.Time != m.Time ||
				before.Delivery != m.Delivery || before.Failed
		})
		if out != section.Ignored {
			for _, pe := range r.parked.release(entity.Ref{ServerID: e.ServerID}) {
				r.applyLive(pe)
			}
		}

	case chatsdk.SendFailed:
		r.index.Update(entity.Ref{Token: e.UniqueToken}, func(m *entity.Message) bool {
			if m.Failed || m.ServerID != 0 {
				return false
			}
			m.Failed = true
			return true
		})

	case chatsdk.Delivered:
		r.applyDelivery(e.Ref, entity.Delivery{Sent: true, Delivered: true}, evt)

	case chatsdk.Seen:
		r.applyDelivery(e.Ref, entity.Delivery{Sent: true, Delivered: true, Seen: true}, evt)

	case chatsdk.Edited:
		r.mutateOrPark(e.Ref, evt, func(m *entity.Message) bool {
			if m.Text == e.Text && m.Edited {
				return false
			}
			m.Text = e.Text
			m.Edited = true
			return true
		})

	case chatsdk.Deleted:
		r.parked.bury(e.Ref)
		if m, ok := r.index.Remove(e.Ref); ok {
			r.parked.bury(m.Ref())
		}

	case chatsdk.PinChanged:
		r.mutateOrPark(e.Ref, evt, func(m *entity.Message) bool {
			if m.Pinned == e.Pinned && m.PinTime == e.Time {
				return false
			}
			m.Pinned = e.Pinned
			m.PinTime = e.Time
			return true
		})

	case chatsdk.ParticipantChanged:
		if e.Left {
			delete(r.participants, e.ParticipantID)
		} else {
			r.participants[e.ParticipantID] = e.Name
		}

	case chatsdk.UnreadCountChanged:
		r.unread = e.Count

	case chatsdk.LastSeenUpdated:
		r.lastSeen = Position{Ref: e.Ref, Time: e.Time}

	case chatsdk.UploadProgress:
		r.index.Update(entity.Ref{Token: e.UniqueToken}, func(m *entity.Message) bool {
			up, ok := m.Body.(entity.Upload)
			if !ok || e.Progress <= up.Progress {
				return false
			}
			up.Progress = min(e.Progress, 1)
			m.Body = up
			return true
		})

	case chatsdk.UploadFinished:
		r.index.Update(entity.Ref{Token: e.UniqueToken}, func(m *entity.Message) bool {
			up, ok := m.Body.(entity.Upload)
			if !ok {
				return false
			}
			if e.Err != "" {
				m.Failed = true
				return true
			}
			up.Progress = 1
			m.Body = up
			return true
		})
	}
}

func (r *Reconciler) mutateOrPark(ref entity.Ref, evt chatsdk.Event, fn func(*entity.Message) bool) {
	if r.index.Update(ref, fn) == section.Ignored {
		if r.parked.buried(ref) {
			return
		}
		r.logger.Debug("parked event for unknown message", zap.String("kind", evt.Kind()), zap.Stringer("ref", ref))
		r.parked.park(ref, evt)
	}
}

// applyDelivery advances the target and every earlier message of ours.
func (r *Reconciler) applyDelivery(ref entity.Ref, d entity.Delivery, evt chatsdk.Event) {
	target, ok := r.index.Lookup(ref)
	if !ok {
		r.parked.park(ref, evt)
		return
	}
	var refs []entity.Ref
	cutoff := target.Time
	r.index.Walk(func(_ section.Path, m *entity.Message) bool {
		if m.Time > cutoff {
			return false
		}
		if m == target || (m.ParticipantID == r.cfg.SelfID && r.cfg.SelfID != "" && !m.IsPending()) {
			if m.Delivery.Merge(d) != m.Delivery {
				refs = append(refs, m.Ref())
			}
		}
		return true
	})
	for _, ref := range refs {
		r.index.Update(ref, func(m *entity.Message) bool {
			m.Delivery = m.Delivery.Merge(d)
			return true
		})
	}
}

// recomputeDivider places the unread divider after the last seen message,
// once per pass. It is withheld while a move is in flight and when the
// local user wrote the newest message.
func (r *Reconciler) recomputeDivider() {
	last := r.index.Last()
	if last == nil || r.lastSeen.Ref.IsZero() || len(r.groups) > 0 ||
		(r.cfg.SelfID != "" && last.ParticipantID == r.cfg.SelfID) {
		r.index.RemoveUnreadDivider()
		return
	}
	if _, anchor, ok := r.index.Divider(); ok && sameRef(anchor, r.lastSeen.Ref) {
		return
	}
	r.index.InsertUnreadDivider(r.lastSeen.Ref, r.unread)
}
