package reconcile

import (
	"github.com/matheus3301/threadline/internal/pending"
	"github.com/matheus3301/threadline/internal/status"
)

// LoadState is the state of one loading flow.
type LoadState string

const (
	Idle            LoadState = "idle"
	Requested       LoadState = "requested"
	ServerResponded LoadState = "responded"
	TimedOut        LoadState = "timed_out"
)

var loadTransitions = status.Table[LoadState]{
	Idle:            {Requested},
	Requested:       {Requested, ServerResponded, TimedOut},
	ServerResponded: {Idle, Requested},
	TimedOut:        {Idle, Requested},
}

// Flow groups request kinds that share a loading flag.
type Flow int

const (
	FlowCenter Flow = iota
	FlowTop
	FlowBottom
	FlowSearch
)

func flowOf(k pending.Kind) Flow {
	switch k {
	case pending.KindMoreTop:
		return FlowTop
	case pending.KindMoreBottom:
		return FlowBottom
	case pending.KindSearch:
		return FlowSearch
	default:
		return FlowCenter
	}
}

// flow counts in-flight requests; the machine stays in Requested until the
// last one settles.
type flow struct {
	machine  *status.Machine[LoadState]
	inflight int
}

func newFlow() *flow {
	return &flow{machine: status.New(Idle, loadTransitions, nil)}
}

func (f *flow) begin() {
	f.inflight++
	_ = f.machine.Transition(Requested)
}

func (f *flow) end(outcome LoadState) {
	if f.inflight == 0 {
		return
	}
	f.inflight--
	if f.inflight > 0 {
		return
	}
	_ = f.machine.Transition(outcome)
	_ = f.machine.Transition(Idle)
}

func (f *flow) loading() bool { return f.machine.Is(Requested) }
