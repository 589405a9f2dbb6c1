package session

import "encoding/json"

// State is the session state.
type State uint8

const (
	StateClosed State = iota
	StateOpening
	StateOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpening:
		return "OPENING"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// EventKind identifies a session event.
type EventKind uint8

const (
	// EventOpened is raised when a connection is established.
	EventOpened EventKind = iota + 1

	// EventClosed is raised when a connection attempt fails or an
	// established connection is lost. Close does not raise it.
	EventClosed

	// EventDataReceived carries one inbound JSON object.
	EventDataReceived
)

// String returns the event name.
func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "OPENED"
	case EventClosed:
		return "CLOSED"
	case EventDataReceived:
		return "DATA_RECEIVED"
	default:
		return "UNKNOWN"
	}
}

// Event is delivered to the session's handler.
type Event struct {
	Kind EventKind

	// ConnectionID identifies the connection the event belongs to. Empty
	// for a failed dial.
	ConnectionID string

	// Document is the decoded frame for EventDataReceived.
	Document map[string]json.RawMessage
}
