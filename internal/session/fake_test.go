package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// fakeTransport is an in-memory Transport that records binds and lets tests
// drive client counts and fatal failures.
type fakeTransport struct {
	mu sync.Mutex

	// bindErr, when set, makes every Bind fail.
	bindErr error

	binds     []BindOptions
	handles   []*fakeHandle
	active    int
	maxActive int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (t *fakeTransport) Bind(opts BindOptions) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bindErr != nil {
		return nil, t.bindErr
	}
	if t.active > 0 {
		return nil, fmt.Errorf("port %d: address already in use", opts.Port)
	}

	h := &fakeHandle{transport: t, opts: opts, done: make(chan error, 1)}
	t.binds = append(t.binds, opts)
	t.handles = append(t.handles, h)
	t.active++
	if t.active > t.maxActive {
		t.maxActive = t.active
	}
	return h, nil
}

func (t *fakeTransport) setBindErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bindErr = err
}

func (t *fakeTransport) bindCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.binds)
}

func (t *fakeTransport) activeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *fakeTransport) maxActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxActive
}

// last returns the most recent handle, or nil.
func (t *fakeTransport) last() *fakeHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.handles) == 0 {
		return nil
	}
	return t.handles[len(t.handles)-1]
}

// fakeHandle is one bound session of fakeTransport.
type fakeHandle struct {
	transport *fakeTransport
	opts      BindOptions

	mu          sync.Mutex
	shutdowns   int
	released    bool
	shutdownErr error
	done        chan error
	doneClosed  bool
}

func (h *fakeHandle) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.shutdowns++
	if !h.released {
		h.released = true
		h.transport.mu.Lock()
		h.transport.active--
		h.transport.mu.Unlock()
	}
	if !h.doneClosed {
		h.doneClosed = true
		close(h.done)
	}
	return h.shutdownErr
}

func (h *fakeHandle) Done() <-chan error {
	return h.done
}

// fail simulates the transport's run loop crashing.
func (h *fakeHandle) fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.doneClosed {
		return
	}
	h.done <- err
}

func (h *fakeHandle) shutdownCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.shutdowns
}

// fixedCodes hands out a predetermined sequence of codes.
type fixedCodes struct {
	mu    sync.Mutex
	codes []string
}

func (f *fixedCodes) Generate() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.codes) == 0 {
		return "", errors.New("no codes left")
	}
	code := f.codes[0]
	f.codes = f.codes[1:]
	return code, nil
}

// eventLog is a Recorder that keeps events in memory.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Record(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	kinds := make([]EventKind, len(l.events))
	for i, ev := range l.events {
		kinds[i] = ev.Kind
	}
	return kinds
}
