package pending

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type req struct{ name string }

func TestNewKeyKind(t *testing.T) {
	k := NewKey(KindMoveBefore)
	if !strings.HasPrefix(string(k), "move-before:") {
		t.Errorf("key = %q", k)
	}
	if k.Kind() != KindMoveBefore {
		t.Errorf("Kind() = %q, want move-before", k.Kind())
	}
	if NewKey(KindHistory) == NewKey(KindHistory) {
		t.Error("keys must be unique")
	}
}

func TestResolveBeforeTimeout(t *testing.T) {
	r := New[req](200*time.Millisecond, zaptest.NewLogger(t))
	expired := make(chan Key, 1)
	r.OnExpire(func(k Key, _ req) { expired <- k })

	k := NewKey(KindHistory)
	r.Register(k, req{"latest"})

	time.Sleep(150 * time.Millisecond)
	p, ok := r.Resolve(k)
	if !ok || p.name != "latest" {
		t.Fatalf("Resolve = %v, %v", p, ok)
	}

	select {
	case k := <-expired:
		t.Fatalf("expire fired for resolved key %s", k)
	case <-time.After(300 * time.Millisecond):
	}

	if _, ok := r.Resolve(k); ok {
		t.Error("second Resolve should fail")
	}
}

func TestExpiryFiresOnce(t *testing.T) {
	r := New[req](50*time.Millisecond, zaptest.NewLogger(t))
	expired := make(chan Key, 4)
	r.OnExpire(func(k Key, _ req) { expired <- k })

	k := NewKey(KindMoreTop)
	r.Register(k, req{"older"})

	select {
	case got := <-expired:
		if got != k {
			t.Errorf("expired %s, want %s", got, k)
		}
	case <-time.After(time.Second):
		t.Fatal("expire callback never fired")
	}
	if _, ok := r.Resolve(k); ok {
		t.Error("Resolve after expiry should fail")
	}
	select {
	case <-expired:
		t.Error("expire fired twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPeekKeepsEntry(t *testing.T) {
	r := New[req](time.Second, nil)
	k := NewKey(KindMoveAfter)
	r.Register(k, req{"after"})

	if _, ok := r.Peek(k); !ok {
		t.Fatal("Peek missed live entry")
	}
	if !r.Pending(KindMoveAfter) {
		t.Error("Pending(move-after) = false")
	}
	if r.Pending(KindSearch) {
		t.Error("Pending(search) = true")
	}
	if _, ok := r.Resolve(k); !ok {
		t.Fatal("Resolve after Peek failed")
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestCancelAllSkipsExpiry(t *testing.T) {
	r := New[req](50*time.Millisecond, nil)
	expired := make(chan Key, 4)
	r.OnExpire(func(k Key, _ req) { expired <- k })

	r.Register(NewKey(KindHistory), req{})
	r.Register(NewKey(KindSearch), req{})
	r.CancelAll()

	if r.Len() != 0 {
		t.Errorf("Len = %d after CancelAll", r.Len())
	}
	select {
	case k := <-expired:
		t.Errorf("expire fired for cancelled %s", k)
	case <-time.After(200 * time.Millisecond):
	}
}
