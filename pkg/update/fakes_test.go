package update

import (
	"bytes"
	"errors"
	"sync"

	"github.com/accessnode/accessnode-go/pkg/firmware"
	"github.com/accessnode/accessnode-go/pkg/link"
)

// memSlots is an in-memory Slots implementation.
type memSlots struct {
	mu          sync.Mutex
	running     string
	lastInvalid string
	nextErr     error
	boot        string
	begun       []string
	image       bytes.Buffer
	aborted     int
	finalized   int
}

func newMemSlots(running string) *memSlots {
	return &memSlots{running: running, boot: "a"}
}

func (s *memSlots) RunningVersion() string     { return s.running }
func (s *memSlots) LastInvalidVersion() string { return s.lastInvalid }

func (s *memSlots) NextUpdateSlot() (string, error) {
	if s.nextErr != nil {
		return "", s.nextErr
	}
	return "b", nil
}

func (s *memSlots) Begin(slot string) (SlotWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begun = append(s.begun, slot)
	s.image.Reset()
	return &memWriter{slots: s, verifier: firmware.NewVerifier()}, nil
}

func (s *memSlots) SetBoot(slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boot = slot
	return nil
}

func (s *memSlots) bootSlot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boot
}

type memWriter struct {
	slots    *memSlots
	verifier *firmware.Verifier
}

func (w *memWriter) Write(p []byte) (int, error) {
	if _, err := w.verifier.Write(p); err != nil {
		return 0, err
	}
	w.slots.mu.Lock()
	defer w.slots.mu.Unlock()
	return w.slots.image.Write(p)
}

func (w *memWriter) Finalize() error {
	if err := w.verifier.Verify(); err != nil {
		return err
	}
	w.slots.mu.Lock()
	w.slots.finalized++
	w.slots.mu.Unlock()
	return nil
}

func (w *memWriter) Abort() error {
	w.slots.mu.Lock()
	w.slots.aborted++
	w.slots.mu.Unlock()
	return nil
}

type fakeRestarter struct {
	mu      sync.Mutex
	reasons []string
}

func (r *fakeRestarter) Restart(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func (r *fakeRestarter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reasons)
}

// fakeSubscriber keeps callbacks so tests can fire link events.
type fakeSubscriber struct {
	mu     sync.Mutex
	fns    map[int]func()
	nextID int
	calls  int
	err    error
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{fns: make(map[int]func())}
}

func (s *fakeSubscriber) Subscribe(kind link.EventKind, fn func()) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if kind != link.EventConnected {
		return nil, errors.New("unexpected kind")
	}
	s.nextID++
	id := s.nextID
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.fns, id)
		s.mu.Unlock()
	}, nil
}

func (s *fakeSubscriber) fire() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *fakeSubscriber) subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fns)
}

// fakeBoot is a BootVerifier.
type fakeBoot struct {
	pending    bool
	marked     bool
	rolledBack bool
	err        error
}

func (b *fakeBoot) PendingVerify() bool { return b.pending }

func (b *fakeBoot) MarkValid() error {
	if b.err != nil {
		return b.err
	}
	b.marked = true
	b.pending = false
	return nil
}

func (b *fakeBoot) Rollback() error {
	if b.err != nil {
		return b.err
	}
	b.rolledBack = true
	b.pending = false
	return nil
}
