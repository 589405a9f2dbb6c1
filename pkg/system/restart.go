// Package system holds process-level actions on the host.
package system

import (
	"log/slog"
	"os"
	"sync"
)

// RestartExitCode is the exit status that asks the service supervisor to
// start the process again.
const RestartExitCode = 75

// ExitRestarter restarts the device by exiting the process. The supervisor
// then starts it from the slot the boot pointer selects.
type ExitRestarter struct {
	logger *slog.Logger
	once   sync.Once

	// exit is os.Exit outside tests.
	exit func(code int)
}

// NewExitRestarter creates an ExitRestarter.
func NewExitRestarter(logger *slog.Logger) *ExitRestarter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ExitRestarter{logger: logger, exit: os.Exit}
}

// Restart logs reason and exits. Only the first call has an effect.
func (r *ExitRestarter) Restart(reason string) {
	r.once.Do(func() {
		r.logger.Warn("restarting device", "reason", reason)
		r.exit(RestartExitCode)
	})
}
