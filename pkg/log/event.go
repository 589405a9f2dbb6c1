package log

import "time"

// MaxFrameCapture is the largest frame payload stored in a FrameEvent.
// Longer frames are truncated and flagged.
const MaxFrameCapture = 1024

// Event is a single captured occurrence at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the websocket connection (UUID). Empty for
	// link and update events.
	ConnectionID string `cbor:"2,keyasint,omitempty"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// DeviceID is the station MAC in lowercase hex.
	DeviceID string `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the portal or firmware server address.
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (at most one is set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Close       *CloseEvent       `cbor:"13,keyasint,omitempty"`
	Progress    *ProgressEvent    `cbor:"14,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"15,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates data received from the portal or server.
	DirectionIn Direction = 0
	// DirectionOut indicates data sent by the device.
	DirectionOut Direction = 1
	// DirectionLocal indicates a local state change with no peer involved.
	DirectionLocal Direction = 2
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	case DirectionLocal:
		return "LOCAL"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which component captured the event.
type Layer uint8

const (
	// LayerLink is the wireless association layer.
	LayerLink Layer = 0
	// LayerSession is the websocket layer (raw frames).
	LayerSession Layer = 1
	// LayerProtocol is the portal command layer (decoded messages).
	LayerProtocol Layer = 2
	// LayerUpdate is the firmware update pipeline.
	LayerUpdate Layer = 3
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerLink:
		return "LINK"
	case LayerSession:
		return "SESSION"
	case LayerProtocol:
		return "PROTOCOL"
	case LayerUpdate:
		return "UPDATE"
	default:
		return "UNKNOWN"
	}
}

// ParseLayer converts a layer name (case-sensitive, as printed by String)
// back into a Layer.
func ParseLayer(s string) (Layer, bool) {
	for _, l := range []Layer{LayerLink, LayerSession, LayerProtocol, LayerUpdate} {
		if l.String() == s {
			return l, true
		}
	}
	return 0, false
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a data frame or portal command.
	CategoryMessage Category = 0
	// CategoryControl indicates a websocket control frame (close).
	CategoryControl Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryProgress indicates an update phase transition.
	CategoryProgress Category = 3
	// CategoryError indicates an error event.
	CategoryError Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryProgress:
		return "PROGRESS"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures a raw websocket text frame.
type FrameEvent struct {
	// Size is the full frame payload size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the frame payload, truncated to MaxFrameCapture.
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// NewFrameEvent builds a FrameEvent, truncating long payloads.
func NewFrameEvent(data []byte) *FrameEvent {
	fe := &FrameEvent{Size: len(data)}
	if len(data) > MaxFrameCapture {
		fe.Data = append([]byte(nil), data[:MaxFrameCapture]...)
		fe.Truncated = true
	} else {
		fe.Data = append([]byte(nil), data...)
	}
	return fe
}

// MessageEvent captures a decoded portal command.
type MessageEvent struct {
	// Command is the wire command name ("authenticate", "sync", ...).
	// Authorisation replies are recorded as "authorised".
	Command string `cbor:"1,keyasint"`

	// Payload is the decoded message value.
	Payload any `cbor:"2,keyasint,omitempty"`

	// Handled reports whether a registered handler accepted an inbound
	// message. Always false for outbound messages.
	Handled bool `cbor:"3,keyasint,omitempty"`
}

// StateChangeEvent captures link, session and update lifecycle changes.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityLink indicates a LinkState change.
	StateEntityLink StateEntity = 0
	// StateEntitySession indicates a SessionState change.
	StateEntitySession StateEntity = 1
	// StateEntityClient indicates authentication or recovery changes.
	StateEntityClient StateEntity = 2
	// StateEntityBoot indicates boot slot or verification changes.
	StateEntityBoot StateEntity = 3
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityLink:
		return "LINK"
	case StateEntitySession:
		return "SESSION"
	case StateEntityClient:
		return "CLIENT"
	case StateEntityBoot:
		return "BOOT"
	default:
		return "UNKNOWN"
	}
}

// CloseEvent captures a websocket close frame.
type CloseEvent struct {
	// Code is the 2-byte close status.
	Code uint16 `cbor:"1,keyasint"`

	// Text is the optional close reason.
	Text string `cbor:"2,keyasint,omitempty"`
}

// ProgressEvent captures a firmware update phase.
type ProgressEvent struct {
	// Phase is the update phase name.
	Phase string `cbor:"1,keyasint"`

	// Version is the incoming image version, once known.
	Version string `cbor:"2,keyasint,omitempty"`

	// BytesWritten is the cumulative number of bytes written to the slot.
	BytesWritten int64 `cbor:"3,keyasint,omitempty"`

	// Slot is the target slot name.
	Slot string `cbor:"4,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
