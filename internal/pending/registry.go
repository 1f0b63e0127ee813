// Package pending tracks in-flight requests until their authoritative
// response arrives or a timeout expires.
package pending

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// DefaultTimeout is how long an entry waits for its response.
const DefaultTimeout = 5 * time.Second

// Kind namespaces pending keys.
type Kind string

const (
	KindHistory    Kind = "history"
	KindMoveBefore Kind = "move-before"
	KindMoveAfter  Kind = "move-after"
	KindMoreTop    Kind = "more-top"
	KindMoreBottom Kind = "more-bottom"
	KindSearch     Kind = "search"
)

// Key is a correlation id of the form "<kind>:<uuid>".
type Key string

// NewKey returns a fresh key of the given kind.
func NewKey(kind Kind) Key {
	return Key(string(kind) + ":" + uuid.NewString())
}

// Kind returns the namespace of the key.
func (k Key) Kind() Kind {
	kind, _, _ := strings.Cut(string(k), ":")
	return Kind(kind)
}

type entry[P any] struct {
	payload    P
	registered time.Time
	generation uint64
	settled    atomic.Bool
}

// Registry holds pending entries with a per-entry expiry.
// Expired entries are reported through the expire callback exactly once;
// resolved or cancelled entries never are.
type Registry[P any] struct {
	cache      *gocache.Cache
	timeout    time.Duration
	generation atomic.Uint64
	logger     *zap.Logger

	mu       sync.RWMutex
	onExpire func(Key, P)
}

// New creates a registry. A zero timeout means DefaultTimeout.
func New[P any](timeout time.Duration, logger *zap.Logger) *Registry[P] {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	janitor := timeout / 10
	if janitor < 5*time.Millisecond {
		janitor = 5 * time.Millisecond
	}
	r := &Registry[P]{
		cache:   gocache.New(timeout, janitor),
		timeout: timeout,
		logger:  logger,
	}
	r.cache.OnEvicted(r.evicted)
	return r
}

// OnExpire sets the callback run when an entry times out. It runs on the
// registry's janitor goroutine.
func (r *Registry[P]) OnExpire(fn func(Key, P)) {
	r.mu.Lock()
	r.onExpire = fn
	r.mu.Unlock()
}

// Timeout returns the per-entry timeout.
func (r *Registry[P]) Timeout() time.Duration { return r.timeout }

// Register records payload under key and starts its timer.
func (r *Registry[P]) Register(key Key, payload P) {
	e := &entry[P]{
		payload:    payload,
		registered: time.Now(),
		generation: r.generation.Load(),
	}
	r.cache.Set(string(key), e, r.timeout)
}

// Resolve removes the entry and returns its payload. It reports false when
// the key is unknown, already resolved, or expired.
func (r *Registry[P]) Resolve(key Key) (P, bool) {
	var zero P
	v, ok := r.cache.Get(string(key))
	if !ok {
		return zero, false
	}
	e := v.(*entry[P])
	if !e.settled.CompareAndSwap(false, true) {
		return zero, false
	}
	r.cache.Delete(string(key))
	r.logger.Debug("pending resolved", zap.String("key", string(key)), zap.Duration("after", time.Since(e.registered)))
	return e.payload, true
}

// Peek returns the payload without removing it.
func (r *Registry[P]) Peek(key Key) (P, bool) {
	var zero P
	v, ok := r.cache.Get(string(key))
	if !ok {
		return zero, false
	}
	e := v.(*entry[P])
	if e.settled.Load() {
		return zero, false
	}
	return e.payload, true
}

// Pending reports whether any live entry of the kind exists.
func (r *Registry[P]) Pending(kind Kind) bool {
	for k, item := range r.cache.Items() {
		if Key(k).Kind() == kind && !item.Object.(*entry[P]).settled.Load() {
			return true
		}
	}
	return false
}

// Len returns the number of live entries.
func (r *Registry[P]) Len() int {
	return len(r.cache.Items())
}

// CancelAll drops every entry without running the expire callback.
func (r *Registry[P]) CancelAll() {
	r.generation.Add(1)
	for _, item := range r.cache.Items() {
		item.Object.(*entry[P]).settled.Store(true)
	}
	r.cache.Flush()
}

func (r *Registry[P]) evicted(key string, v interface{}) {
	e, ok := v.(*entry[P])
	if !ok || e.generation != r.generation.Load() {
		return
	}
	if !e.settled.CompareAndSwap(false, true) {
		return
	}
	r.logger.Warn("pending operation expired", zap.String("key", key), zap.Duration("timeout", r.timeout))

	r.mu.RLock()
	fn := r.onExpire
	r.mu.RUnlock()
	if fn != nil {
		fn(Key(key), e.payload)
	}
}
