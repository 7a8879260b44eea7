package gcunified

import "github.com/gcunified/client/internal/conn"

// State mirrors the connection supervisor's position in its lifecycle.
// It is re-exported here so callers never need to import internal/conn.
type State = conn.State

const (
	StateStopped   = conn.StateStopped
	StateOpening   = conn.StateOpening
	StateOpened    = conn.StateOpened
	StateClosing   = conn.StateClosing
	StateClosed    = conn.StateClosed
	StateReopening = conn.StateReopening
	StateFailed    = conn.StateFailed
)

// EventKind classifies an Event delivered on Client.Events(). The four
// kinds collapse the supervisor's finer-grained internal transitions down
// to the vocabulary callers actually need to branch on.
type EventKind string

const (
	// EventKindState fires on any transitional state change that isn't
	// itself a successful connect or a close (e.g. entering opening or
	// reopening).
	EventKindState EventKind = "state"
	// EventKindConnect fires once the connection is usable.
	EventKindConnect EventKind = "connect"
	// EventKindClose fires when the connection is deliberately or
	// permanently torn down.
	EventKindClose EventKind = "close"
	// EventKindError fires when the supervisor gives up on the
	// connection (connection-timeout included: a timed-out dial surfaces
	// here as an error event carrying CodeTimedOut, rather than as its
	// own connection state).
	EventKindError EventKind = "error"
)

// Event is published on Client.Events() whenever the underlying
// connection's lifecycle changes.
type Event struct {
	Kind  EventKind
	State State
	Err   error
}

// translateEvent maps the supervisor's six internal event kinds onto the
// four the facade exposes.
func translateEvent(ev conn.Event) Event {
	out := Event{State: ev.State, Err: ev.Err}
	switch ev.Kind {
	case conn.EventConnecting, conn.EventReconnecting:
		out.Kind = EventKindState
	case conn.EventConnected:
		out.Kind = EventKindConnect
	case conn.EventDisconnected, conn.EventClosed:
		out.Kind = EventKindClose
	case conn.EventFailed:
		out.Kind = EventKindError
	default:
		out.Kind = EventKindState
	}
	return out
}
