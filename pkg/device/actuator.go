package device

import (
	"log/slog"
	"sync/atomic"
)

// Actuator drives the door hardware.
type Actuator interface {
	Unlock()
	Lock()

	// Alert signals a refused card.
	Alert()

	// Buzz acknowledges a swipe.
	Buzz()
}

// LogActuator logs outputs instead of driving hardware.
type LogActuator struct {
	logger   *slog.Logger
	unlocked atomic.Bool
}

// NewLogActuator returns an actuator that writes to logger.
func NewLogActuator(logger *slog.Logger) *LogActuator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LogActuator{logger: logger.With("component", "actuator")}
}

func (a *LogActuator) Unlock() {
	a.unlocked.Store(true)
	a.logger.Info("lock released")
}

func (a *LogActuator) Lock() {
	a.unlocked.Store(false)
	a.logger.Info("lock engaged")
}

func (a *LogActuator) Alert() { a.logger.Warn("alert") }
func (a *LogActuator) Buzz()  { a.logger.Debug("buzz") }

// Unlocked reports whether the lock is released.
func (a *LogActuator) Unlocked() bool {
	return a.unlocked.Load()
}

var _ Actuator = (*LogActuator)(nil)
