package log

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writeCapture(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "device.cap")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func readAll(t *testing.T, path string, filter Filter) []Event {
	t.Helper()
	r, err := NewFilteredReader(path, filter)
	if err != nil {
		t.Fatalf("NewFilteredReader: %v", err)
	}
	defer r.Close()

	var out []Event
	for {
		e, err := r.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, e)
	}
}

func TestFileLoggerAppendsAcrossOpens(t *testing.T) {
	path := writeCapture(t, []Event{{ConnectionID: "first", Layer: LayerSession}})

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	logger.Log(Event{ConnectionID: "second", Layer: LayerSession})
	logger.Close()

	got := readAll(t, path, Filter{})
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].ConnectionID != "first" || got[1].ConnectionID != "second" {
		t.Errorf("order = %q, %q", got[0].ConnectionID, got[1].ConnectionID)
	}
}

func TestFileLoggerIgnoresLogAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.cap")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	logger.Close()
	logger.Log(Event{ConnectionID: "late"})
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Errorf("file size = %d, want 0", info.Size())
	}
}

func TestFileLoggerConcurrentWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.cap")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				logger.Log(Event{Timestamp: time.Now(), Layer: LayerProtocol, Message: &MessageEvent{Command: "ping"}})
			}
		}()
	}
	wg.Wait()
	logger.Close()

	if got := len(readAll(t, path, Filter{})); got != 200 {
		t.Errorf("got %d events, want 200", got)
	}
}

func TestReaderFilters(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	path := writeCapture(t, []Event{
		{Timestamp: base, ConnectionID: "a", Direction: DirectionIn, Layer: LayerSession, Category: CategoryMessage},
		{Timestamp: base.Add(time.Second), ConnectionID: "a", Direction: DirectionOut, Layer: LayerProtocol, Category: CategoryMessage},
		{Timestamp: base.Add(2 * time.Second), Direction: DirectionLocal, Layer: LayerLink, Category: CategoryState, DeviceID: "aabbccddeeff"},
		{Timestamp: base.Add(3 * time.Second), ConnectionID: "b", Direction: DirectionIn, Layer: LayerProtocol, Category: CategoryMessage},
	})

	out := DirectionOut
	proto := LayerProtocol
	state := CategoryState
	start := base.Add(time.Second)
	end := base.Add(3 * time.Second)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"All", Filter{}, 4},
		{"ConnectionID", Filter{ConnectionID: "a"}, 2},
		{"Direction", Filter{Direction: &out}, 1},
		{"Layer", Filter{Layer: &proto}, 2},
		{"Category", Filter{Category: &state}, 1},
		{"DeviceID", Filter{DeviceID: "aabbccddeeff"}, 1},
		{"TimeRange", Filter{TimeStart: &start, TimeEnd: &end}, 2},
		{"Combined", Filter{ConnectionID: "b", Layer: &proto}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(readAll(t, path, tt.filter)); got != tt.want {
				t.Errorf("got %d events, want %d", got, tt.want)
			}
		})
	}
}

func TestReaderTreatsTruncatedTailAsEOF(t *testing.T) {
	path := writeCapture(t, []Event{
		{ConnectionID: "ok", Layer: LayerSession},
		{ConnectionID: "partial", Layer: LayerSession, Frame: NewFrameEvent([]byte("0123456789"))},
	})
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(path, info.Size()-4); err != nil {
		t.Fatal(err)
	}

	got := readAll(t, path, Filter{})
	if len(got) != 1 || got[0].ConnectionID != "ok" {
		t.Errorf("got %+v, want only the complete event", got)
	}
}

func TestScan(t *testing.T) {
	layer := LayerUpdate
	path := writeCapture(t, []Event{
		{Layer: LayerLink},
		{Layer: LayerUpdate, Progress: &ProgressEvent{Phase: "connecting"}},
		{Layer: LayerUpdate, Progress: &ProgressEvent{Phase: "writing"}},
	})

	t.Run("matching events in order", func(t *testing.T) {
		var phases []string
		err := Scan(path, Filter{Layer: &layer}, func(e Event) error {
			phases = append(phases, e.Progress.Phase)
			return nil
		})
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		if len(phases) != 2 || phases[0] != "connecting" || phases[1] != "writing" {
			t.Errorf("phases = %v, want [connecting writing]", phases)
		}
	})

	t.Run("stops on callback error", func(t *testing.T) {
		stop := errors.New("stop")
		calls := 0
		err := Scan(path, Filter{}, func(Event) error {
			calls++
			return stop
		})
		if !errors.Is(err, stop) {
			t.Errorf("Scan() error = %v, want %v", err, stop)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		err := Scan(filepath.Join(t.TempDir(), "none.cap"), Filter{}, func(Event) error { return nil })
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("Scan() error = %v, want not-exist", err)
		}
	})
}
