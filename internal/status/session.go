package status

// State represents a daemon runtime state.
type State string

const (
	Booting      State = "BOOTING"
	AuthRequired State = "AUTH_REQUIRED"
	Connecting   State = "CONNECTING"
	Syncing      State = "SYNCING"
	Ready        State = "READY"
	Reconnecting State = "RECONNECTING"
	Degraded     State = "DEGRADED"
	Error        State = "ERROR"
)

// SessionTransitions defines allowed daemon state transitions.
var SessionTransitions = Table[State]{
	Booting:      {AuthRequired, Connecting, Error},
	AuthRequired: {Connecting, Error},
	Connecting:   {Syncing, AuthRequired, Reconnecting, Error},
	Syncing:      {Ready, Reconnecting, Degraded, Error},
	Ready:        {Reconnecting, Degraded, AuthRequired, Error},
	Reconnecting: {Connecting, Degraded, Error},
	Degraded:     {Connecting, Reconnecting, Ready, Error},
	Error:        {Booting},
}

// SessionMachine is the daemon runtime state machine.
type SessionMachine = Machine[State]

// NewSessionMachine creates a daemon state machine starting in Booting.
func NewSessionMachine(onChange func(from, to State)) *SessionMachine {
	return New(Booting, SessionTransitions, onChange)
}
