package update

import (
	"errors"
	"fmt"
)

// Update errors.
var (
	// ErrSameVersion is returned when the image is the running version.
	ErrSameVersion = errors.New("image version is already running")

	// ErrInvalidVersion is returned when the image is the version that
	// last failed validation or was rolled back.
	ErrInvalidVersion = errors.New("image version previously failed")

	// ErrHTTPStatus is returned for a non-200 response.
	ErrHTTPStatus = errors.New("unexpected http status")

	// ErrIdleTimeout is returned when the server stops sending.
	ErrIdleTimeout = errors.New("download stalled")
)

// Phase is a step of an update attempt.
type Phase string

// Update phases, in order.
const (
	PhaseConnecting Phase = "connecting"
	PhaseChecking   Phase = "checking"
	PhaseWriting    Phase = "writing"
	PhaseFinalizing Phase = "finalizing"
	PhaseComplete   Phase = "complete"
)

// Error reports the phase in which an update attempt ended.
type Error struct {
	Phase Phase
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("update %s: %v", e.Phase, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Declined reports whether err is a deliberate refusal to install rather
// than a failure.
func Declined(err error) bool {
	return errors.Is(err, ErrSameVersion) || errors.Is(err, ErrInvalidVersion)
}
