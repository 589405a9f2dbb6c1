package update

import (
	"fmt"
	"log/slog"
)

// VerifyBoot settles a pending-verify image at startup. If diagnostics
// passed the image is trusted permanently; otherwise the boot pointer
// returns to the previous slot and the device restarts immediately.
// It reports whether a rollback was performed.
func VerifyBoot(bv BootVerifier, diagnosticsPassed bool, r Restarter, logger *slog.Logger) (bool, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if !bv.PendingVerify() {
		return false, nil
	}

	if diagnosticsPassed {
		if err := bv.MarkValid(); err != nil {
			return false, fmt.Errorf("update: mark valid: %w", err)
		}
		logger.Info("new firmware verified")
		return false, nil
	}

	logger.Error("new firmware failed diagnostics, rolling back")
	if err := bv.Rollback(); err != nil {
		return false, fmt.Errorf("update: rollback: %w", err)
	}
	r.Restart("diagnostics failed, rolled back")
	return true, nil
}
