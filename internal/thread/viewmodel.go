// Package thread runs one open conversation: it owns the section index and
// the reconciler on a single actor goroutine, issues requests through the
// chat transport, schedules row calculations and publishes deltas.
package thread

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/matheus3301/threadline/internal/chatsdk"
	"github.com/matheus3301/threadline/internal/entity"
	"github.com/matheus3301/threadline/internal/pending"
	"github.com/matheus3301/threadline/internal/reconcile"
	"github.com/matheus3301/threadline/internal/rowcalc"
	"github.com/matheus3301/threadline/internal/section"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrClosed is returned by intents on a stopped view model.
	ErrClosed = errors.New("thread closed")
	// ErrNoTransfers is returned when uploads are requested without a
	// transfer service.
	ErrNoTransfers = errors.New("no transfer service configured")
	// ErrNotFound is returned for intents on messages the thread does not hold.
	ErrNotFound = errors.New("message not in thread")
)

// Config configures a view model.
type Config struct {
	ConversationID string
	SelfID         string
	SelfName       string
	IsGroup        bool
	IsChannel      bool

	PageSize       int
	PendingTimeout time.Duration
	// PaceInterval is the minimum spacing between issued history requests.
	PaceInterval time.Duration
	PaceBurst    int
	Workers      int

	ThreadWidth   float64
	MaxImageWidth float64

	EventBuffer int
	DeltaBuffer int
}

func (c *Config) defaults() {
	if c.PaceInterval <= 0 {
		c.PaceInterval = 250 * time.Millisecond
	}
	if c.PaceBurst <= 0 {
		c.PaceBurst = 1
	}
	if c.ThreadWidth <= 0 {
		c.ThreadWidth = 640
	}
	if c.MaxImageWidth <= 0 {
		c.MaxImageWidth = 300
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
	if c.DeltaBuffer <= 0 {
		c.DeltaBuffer = 64
	}
}

// Deps are the collaborators of a view model. Transfers may be nil.
type Deps struct {
	Transport chatsdk.Transport
	Events    chatsdk.Events
	Transfers chatsdk.Transfers
	Engine    *rowcalc.Engine
	Clock     func() time.Time
	Logger    *zap.Logger
}

type rowState struct {
	generation uint64
	model      *rowcalc.Model
	visible    bool
}

type expiry struct {
	key pending.Key
	req reconcile.Request
}

// ViewModel is the presentation-facing state of one conversation.
type ViewModel struct {
	cfg       Config
	transport chatsdk.Transport
	events    chatsdk.Events
	transfers chatsdk.Transfers
	clock     func() time.Time
	logger    *zap.Logger

	index     *section.Index
	registry  *pending.Registry[reconcile.Request]
	rec       *reconcile.Reconciler
	scheduler *rowcalc.Scheduler
	limiter   *rate.Limiter

	mailbox chan func()
	expired chan expiry
	results chan rowcalc.Result
	deltas  chan Delta

	// Actor-owned state.
	epoch     uint64
	rows      map[string]*rowState
	layout    layout
	lastState reconcile.State
	seenSent  map[string]bool
	search    []entity.Message
	resync    bool

	snapshot atomic.Pointer[Snapshot]
	dropped  atomic.Uint64

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
}

// New creates a view model. Call Start before issuing intents.
func New(cfg Config, deps Deps) *ViewModel {
	cfg.defaults()
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Engine == nil {
		deps.Engine = rowcalc.NewEngine(rowcalc.Metrics{})
	}
	logger := deps.Logger.With(zap.String("conversation", cfg.ConversationID))

	index := section.New(cfg.ConversationID)
	registry := pending.New[reconcile.Request](cfg.PendingTimeout, logger)
	vm := &ViewModel{
		cfg:       cfg,
		transport: deps.Transport,
		events:    deps.Events,
		transfers: deps.Transfers,
		clock:     deps.Clock,
		logger:    logger,
		index:     index,
		registry:  registry,
		rec: reconcile.New(reconcile.Config{
			ConversationID: cfg.ConversationID,
			SelfID:         cfg.SelfID,
			PageSize:       cfg.PageSize,
		}, index, registry, logger),
		scheduler: rowcalc.NewScheduler(deps.Engine, cfg.Workers, logger),
		limiter:   rate.NewLimiter(rate.Every(cfg.PaceInterval), cfg.PaceBurst),
		mailbox:   make(chan func(), 64),
		expired:   make(chan expiry, 16),
		results:   make(chan rowcalc.Result, 256),
		deltas:    make(chan Delta, cfg.DeltaBuffer),
		rows:      make(map[string]*rowState),
		seenSent:  make(map[string]bool),
		epoch:     1,
		done:      make(chan struct{}),
	}
	vm.snapshot.Store(&Snapshot{Epoch: vm.epoch})
	return vm
}

// Start subscribes to the conversation and starts the actor.
func (vm *ViewModel) Start(ctx context.Context) {
	if !vm.started.CompareAndSwap(false, true) {
		return
	}
	vm.ctx, vm.cancel = context.WithCancel(ctx)
	events, unsubscribe := vm.events.Subscribe(vm.cfg.ConversationID, vm.cfg.EventBuffer)

	vm.registry.OnExpire(func(k pending.Key, req reconcile.Request) {
		select {
		case vm.expired <- expiry{key: k, req: req}:
		case <-vm.ctx.Done():
		}
	})

	go vm.loop(events, unsubscribe)
}

// Stop tears the thread down: pending requests are cancelled, in-flight
// calculations are abandoned and the delta channel is closed.
func (vm *ViewModel) Stop() {
	if !vm.started.Load() {
		return
	}
	vm.cancel()
	<-vm.done
}

// Deltas returns the channel deltas are published on. It is closed by Stop.
func (vm *ViewModel) Deltas() <-chan Delta { return vm.deltas }

// Snapshot returns the latest published state. It is safe to call from any
// goroutine.
func (vm *ViewModel) Snapshot() *Snapshot { return vm.snapshot.Load() }

// Dropped returns how many deltas were dropped on a full channel.
func (vm *ViewModel) Dropped() uint64 { return vm.dropped.Load() }

func (vm *ViewModel) loop(events <-chan chatsdk.Event, unsubscribe func()) {
	defer close(vm.done)
	defer close(vm.deltas)
	defer unsubscribe()

	for {
		select {
		case <-vm.ctx.Done():
			vm.teardown()
			return
		case fn := <-vm.mailbox:
			fn()
		case evt := <-events:
			vm.pass(func() reconcile.Outcome { return vm.rec.HandleEvent(evt) })
		case exp := <-vm.expired:
			vm.pass(func() reconcile.Outcome { return vm.rec.Expired(exp.key, exp.req) })
		case res := <-vm.results:
			vm.applyResults(res)
		}
	}
}

func (vm *ViewModel) teardown() {
	vm.epoch++
	vm.rec.Reset()
	vm.scheduler.Forget()
	vm.logger.Info("thread closed")
}

// do runs fn on the actor and waits for its result.
func (vm *ViewModel) do(ctx context.Context, fn func() error) error {
	if !vm.started.Load() {
		return ErrClosed
	}
	errc := make(chan error, 1)
	select {
	case vm.mailbox <- func() { errc <- fn() }:
	case <-vm.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-vm.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn on the actor without waiting.
func (vm *ViewModel) post(fn func()) {
	select {
	case vm.mailbox <- fn:
	case <-vm.ctx.Done():
	}
}

// pass runs one reconciliation step and publishes what it changed.
func (vm *ViewModel) pass(fn func() reconcile.Outcome) {
	before := vm.layout
	out := fn()
	after := capture(vm.index)
	vm.layout = after
	c := diff(before, after)

	for _, tok := range c.gone {
		delete(vm.rows, tok)
	}
	vm.schedule(c.touched)

	d := Delta{
		Epoch:            vm.epoch,
		InsertedSections: c.insertedSections,
		RemovedSections:  c.removedSections,
		Inserted:         c.inserted,
		Removed:          c.removed,
		Updated:          c.updated,
		State:            vm.rec.State(),
	}
	if out.Highlight != nil {
		if p, ok := vm.index.IndicesFor(*out.Highlight); ok {
			d.Highlight = &p
		}
	}
	if out.Search {
		vm.search = vm.search[:0]
		for _, m := range out.SearchResults {
			vm.search = append(vm.search, *m)
		}
		d.Search = true
		d.SearchResults = append([]entity.Message(nil), vm.search...)
	}
	if c.empty() && d.Highlight == nil && !d.Search && d.State == vm.lastState {
		return
	}
	vm.lastState = d.State
	vm.publish(d)
}

func (vm *ViewModel) threadContext() rowcalc.ThreadContext {
	return rowcalc.ThreadContext{
		ThreadWidth:   vm.cfg.ThreadWidth,
		MaxImageWidth: vm.cfg.MaxImageWidth,
		IsChannel:     vm.cfg.IsChannel,
		IsGroup:       vm.cfg.IsGroup,
		SelfID:        vm.cfg.SelfID,
		Now:           vm.clock(),
	}
}

// schedule bumps the generation of each row and queues its calculation.
func (vm *ViewModel) schedule(tokens []string) {
	if len(tokens) == 0 {
		return
	}
	tc := vm.threadContext()
	jobs := make([]rowcalc.Job, 0, len(tokens))
	for _, tok := range tokens {
		p, ok := vm.index.IndicesFor(entity.Ref{Token: tok})
		if !ok {
			continue
		}
		m, _ := vm.index.At(p)
		prev, next := vm.index.Neighbors(p)
		rs := vm.rows[tok]
		if rs == nil {
			rs = &rowState{}
			vm.rows[tok] = rs
		}
		rs.generation++
		jobs = append(jobs, rowcalc.Job{
			Epoch:      vm.epoch,
			Generation: rs.generation,
			Message:    m.Clone(),
			Neighbors:  rowcalc.Neighbors{Prev: cloneOrNil(prev), Next: cloneOrNil(next)},
			Context:    tc,
		})
	}
	vm.scheduler.Submit(vm.ctx, jobs, func(r rowcalc.Result) {
		select {
		case vm.results <- r:
		case <-vm.ctx.Done():
		}
	})
}

func cloneOrNil(m *entity.Message) *entity.Message {
	if m == nil {
		return nil
	}
	return m.Clone()
}

// applyResults stores fresh models and drops stale ones.
func (vm *ViewModel) applyResults(first rowcalc.Result) {
	batch := []rowcalc.Result{first}
	for len(vm.results) > 0 {
		batch = append(batch, <-vm.results)
	}

	var updated []section.Path
	stale := 0
	for _, res := range batch {
		rs := vm.rows[res.Model.Key.Token]
		if res.Epoch != vm.epoch || rs == nil || rs.generation != res.Generation {
			stale++
			continue
		}
		m := res.Model
		rs.model = &m
		if p, ok := vm.index.IndicesFor(entity.Ref{Token: m.Key.Token}); ok {
			updated = append(updated, p)
		}
	}
	if stale > 0 {
		vm.logger.Debug("stale row results dropped", zap.Int("count", stale))
	}
	if len(updated) == 0 {
		return
	}
	sortPaths(updated)
	vm.publish(Delta{Epoch: vm.epoch, Updated: updated, State: vm.rec.State()})
}

func (vm *ViewModel) publish(d Delta) {
	vm.snapshot.Store(vm.buildSnapshot())
	if vm.resync {
		d.Resync = true
	}
	select {
	case vm.deltas <- d:
		vm.resync = false
	default:
		vm.dropped.Add(1)
		vm.resync = true
	}
}
