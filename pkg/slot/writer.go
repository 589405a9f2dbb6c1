package slot

import (
	"errors"
	"fmt"
	"os"

	"github.com/accessnode/accessnode-go/pkg/firmware"
)

// writer streams an image into a slot's partial file while verifying it.
type writer struct {
	s    *FileSlots
	slot string
	f    *os.File
	v    *firmware.Verifier
	done bool
}

// Write streams p into the partial file. An image that overruns its
// declared size is recorded as invalid; the caller still has to Abort.
func (w *writer) Write(p []byte) (int, error) {
	if w.done {
		return 0, ErrWriterClosed
	}
	if _, err := w.v.Write(p); err != nil {
		var verr *firmware.VerificationError
		if h := w.v.Header(); h != nil && errors.As(err, &verr) {
			w.s.rejected(h.Version)
		}
		return 0, err
	}
	return w.f.Write(p)
}

// Finalize verifies the image and moves it into place. A verification
// failure records the image version as invalid.
func (w *writer) Finalize() error {
	if w.done {
		return ErrWriterClosed
	}
	w.done = true
	defer w.s.release()

	partial := w.f.Name()
	if err := w.v.Verify(); err != nil {
		w.f.Close()
		os.Remove(partial)
		if h := w.v.Header(); h != nil {
			w.s.rejected(h.Version)
		}
		return err
	}

	if err := w.f.Sync(); err != nil {
		w.f.Close()
		os.Remove(partial)
		return fmt.Errorf("slot: sync %s: %w", w.slot, err)
	}
	if err := w.f.Close(); err != nil {
		os.Remove(partial)
		return fmt.Errorf("slot: close %s: %w", w.slot, err)
	}
	if err := os.Rename(partial, w.s.Path(w.slot)); err != nil {
		os.Remove(partial)
		return fmt.Errorf("slot: commit %s: %w", w.slot, err)
	}

	version := w.v.Header().Version
	if err := w.s.committed(w.slot, version); err != nil {
		return fmt.Errorf("slot: save state: %w", err)
	}
	w.s.logger.Info("image committed", "slot", w.slot, "version", version)
	return nil
}

// Abort discards the partial file. Aborting a finished writer is a no-op.
func (w *writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	defer w.s.release()

	err := w.f.Close()
	if rmErr := os.Remove(w.f.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		return rmErr
	}
	return err
}
