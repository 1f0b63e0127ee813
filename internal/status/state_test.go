package status

import (
	"testing"
)

func TestInitialState(t *testing.T) {
	m := NewSessionMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, AuthRequired},
		{Booting, Connecting},
		{Booting, Error},
		{AuthRequired, Connecting},
		{Connecting, Syncing},
		{Syncing, Ready},
		{Ready, Reconnecting},
		{Reconnecting, Connecting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewSessionMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewSessionMachine(nil)
	if m.Can(Ready) {
		t.Error("Can(READY) from BOOTING should be false")
	}
	if err := m.Transition(Ready); err == nil {
		t.Error("Transition(BOOTING -> READY) should fail")
	}
}

func TestTransitionCallback(t *testing.T) {
	var from, to State
	m := NewSessionMachine(func(f, t State) { from, to = f, t })
	if err := m.Transition(AuthRequired); err != nil {
		t.Fatal(err)
	}
	if from != Booting || to != AuthRequired {
		t.Errorf("change = %v -> %v, want BOOTING -> AUTH_REQUIRED", from, to)
	}
}

// TestAuthToSyncingRequiresConnecting verifies that AUTH_REQUIRED cannot jump
// directly to SYNCING; the Connected handler must pass through CONNECTING.
func TestAuthToSyncingRequiresConnecting(t *testing.T) {
	m := NewSessionMachine(nil)
	_ = m.Transition(AuthRequired)

	if err := m.Transition(Syncing); err == nil {
		t.Fatal("Transition(AUTH_REQUIRED -> SYNCING) should fail; must go through CONNECTING first")
	}
	if m.Current() != AuthRequired {
		t.Errorf("state = %s, want AUTH_REQUIRED (should not have changed)", m.Current())
	}
	if err := m.Walk(Connecting, Syncing); err != nil {
		t.Fatal(err)
	}
}

func TestLifecycles(t *testing.T) {
	tests := []struct {
		name  string
		start State
		steps []State
	}{
		{"first run with QR", Booting, []State{AuthRequired, Connecting, Syncing, Ready}},
		{"returning user", Booting, []State{Connecting, Syncing, Ready}},
		{"reconnect cycle", Ready, []State{Reconnecting, Connecting, Syncing, Ready}},
		{"logged out", Ready, []State{AuthRequired}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewSessionMachine(nil)
			walkTo(t, m, tt.start)
			if err := m.Walk(tt.steps...); err != nil {
				t.Fatalf("%v (current: %s)", err, m.Current())
			}
			if want := tt.steps[len(tt.steps)-1]; m.Current() != want {
				t.Errorf("final state = %s, want %s", m.Current(), want)
			}
		})
	}
}

type light int

const (
	red light = iota
	green
	amber
)

func TestGenericTable(t *testing.T) {
	m := New(red, Table[light]{red: {green}, green: {amber}, amber: {red}}, nil)
	if err := m.Walk(green, amber, red); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(amber); err == nil {
		t.Error("red -> amber should fail")
	}
	if !m.Is(red) {
		t.Errorf("state = %v, want red", m.Current())
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *SessionMachine, target State) {
	t.Helper()
	paths := map[State][]State{
		Booting:      {},
		AuthRequired: {AuthRequired},
		Connecting:   {AuthRequired, Connecting},
		Syncing:      {Connecting, Syncing},
		Ready:        {Connecting, Syncing, Ready},
		Reconnecting: {Connecting, Syncing, Ready, Reconnecting},
		Degraded:     {Connecting, Syncing, Degraded},
		Error:        {Error},
	}
	if err := m.Walk(paths[target]...); err != nil {
		t.Fatalf("walkTo(%s): %v", target, err)
	}
}
