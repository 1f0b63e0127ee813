package reconcile

import (
	"strconv"

	"github.com/matheus3301/threadline/internal/chatsdk"
	"github.com/matheus3301/threadline/internal/entity"
)

const (
	maxParked     = 512
	maxTombstones = 1024
	maxIssued     = 256
)

// identityKeys returns the lookup keys of a ref.
func identityKeys(r entity.Ref) []string {
	keys := make([]string, 0, 2)
	if r.Token != "" {
		keys = append(keys, "t:"+r.Token)
	}
	if r.ServerID != 0 {
		keys = append(keys, "i:"+strconv.FormatInt(r.ServerID, 10))
	}
	return keys
}

// fifo is a bounded map that evicts its oldest keys first.
type fifo[V any] struct {
	limit int
	seq   uint64
	items map[string]fifoItem[V]
	order []fifoSlot
}

type fifoItem[V any] struct {
	v   V
	seq uint64
}

type fifoSlot struct {
	key string
	seq uint64
}

func newFIFO[V any](limit int) *fifo[V] {
	return &fifo[V]{limit: limit, items: make(map[string]fifoItem[V])}
}

func (f *fifo[V]) get(k string) (V, bool) {
	it, ok := f.items[k]
	return it.v, ok
}

func (f *fifo[V]) put(k string, v V) {
	if it, ok := f.items[k]; ok {
		f.items[k] = fifoItem[V]{v: v, seq: it.seq}
		return
	}
	f.seq++
	f.items[k] = fifoItem[V]{v: v, seq: f.seq}
	f.order = append(f.order, fifoSlot{key: k, seq: f.seq})
	for len(f.items) > f.limit && len(f.order) > 0 {
		oldest := f.order[0]
		f.order = f.order[1:]
		// Slots of taken keys are stale.
		if it, ok := f.items[oldest.key]; ok && it.seq == oldest.seq {
			delete(f.items, oldest.key)
		}
	}
	if len(f.order) > 2*f.limit {
		live := f.order[:0]
		for _, s := range f.order {
			if it, ok := f.items[s.key]; ok && it.seq == s.seq {
				live = append(live, s)
			}
		}
		f.order = live
	}
}

func (f *fifo[V]) take(k string) (V, bool) {
	it, ok := f.items[k]
	if ok {
		delete(f.items, k)
	}
	return it.v, ok
}

func (f *fifo[V]) len() int { return len(f.items) }

// parking holds mutations for messages the index does not know yet, and
// tombstones of deleted messages so late pages cannot bring them back.
type parking struct {
	events     *fifo[[]chatsdk.Event]
	tombstones *fifo[struct{}]
}

func newParking() *parking {
	return &parking{
		events:     newFIFO[[]chatsdk.Event](maxParked),
		tombstones: newFIFO[struct{}](maxTombstones),
	}
}

func (p *parking) park(r entity.Ref, e chatsdk.Event) {
	keys := identityKeys(r)
	if len(keys) == 0 {
		return
	}
	// Park under the strongest key only so the event replays once.
	k := keys[0]
	evs, _ := p.events.get(k)
	p.events.put(k, append(evs, e))
}

// release returns the events parked for r, in arrival order.
func (p *parking) release(r entity.Ref) []chatsdk.Event {
	var out []chatsdk.Event
	for _, k := range identityKeys(r) {
		if evs, ok := p.events.take(k); ok {
			out = append(out, evs...)
		}
	}
	return out
}

func (p *parking) bury(r entity.Ref) {
	for _, k := range identityKeys(r) {
		p.tombstones.put(k, struct{}{})
	}
}

func (p *parking) buried(r entity.Ref) bool {
	for _, k := range identityKeys(r) {
		if _, ok := p.tombstones.get(k); ok {
			return true
		}
	}
	return false
}
