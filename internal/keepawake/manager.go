package keepawake

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/deckyboard/host/internal/errors"
)

// Manager owns the inhibitor and its state.
type Manager struct {
	mu sync.Mutex

	adapter Adapter
	now     func() time.Time

	status Status
	handle Handle
	closed bool

	// gen increments whenever handle changes so a watcher of an old handle
	// cannot report it lost.
	gen uint64
}

// NewManager creates a Manager in the OFF state.
func NewManager(adapter Adapter, opts Options) *Manager {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		adapter: adapter,
		now:     now,
		status:  Status{State: StateOff, UpdatedAt: now()},
	}
}

// Status returns a copy of the current state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Enable acquires the inhibitor unless one is already held. A held
// inhibitor that exited on its own is replaced.
func (m *Manager) Enable(ctx context.Context) Status {
	m.mu.Lock()
	if m.closed {
		defer m.mu.Unlock()
		return m.status
	}
	if m.handle != nil {
		select {
		case <-m.handle.Done():
			m.dropLostLocked(m.handle)
		default:
			defer m.mu.Unlock()
			return m.status
		}
	}
	m.status.Wanted = true
	m.transitionLocked(StatePending, "", "")
	m.mu.Unlock()

	h, err := m.adapter.Acquire(ctx)

	m.mu.Lock()
	if err != nil {
		reason := DegradedReasonAcquireFailed
		if apperrors.IsCode(err, apperrors.CodeKeepAwakeUnsupported) {
			reason = DegradedReasonUnsupported
		}
		m.transitionLocked(StateDegraded, reason, err.Error())
		defer m.mu.Unlock()
		return m.status
	}

	// Disable or Close ran while acquiring.
	if !m.status.Wanted || m.closed || m.handle != nil {
		st := m.status
		m.mu.Unlock()
		h.Release(context.Background())
		return st
	}

	m.handle = h
	m.gen++
	gen := m.gen
	m.transitionLocked(StateOn, "", "")
	st := m.status
	m.mu.Unlock()

	go m.watch(h, gen)
	return st
}

// Disable releases the inhibitor. A release error is kept in LastError but
// the state still settles at OFF.
func (m *Manager) Disable(ctx context.Context) Status {
	m.mu.Lock()
	if m.closed {
		defer m.mu.Unlock()
		return m.status
	}
	h := m.takeLocked()
	st := m.status
	m.mu.Unlock()

	if h == nil {
		return st
	}
	if err := h.Release(ctx); err != nil {
		m.mu.Lock()
		m.noteErrorLocked(err)
		st = m.status
		m.mu.Unlock()
	}
	return st
}

// Close releases the inhibitor and makes later Enable calls no-ops.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	h := m.takeLocked()
	m.mu.Unlock()

	if h == nil {
		return nil
	}
	if err := h.Release(ctx); err != nil {
		m.mu.Lock()
		m.noteErrorLocked(err)
		m.mu.Unlock()
		return err
	}
	return nil
}

// takeLocked detaches the handle and moves to OFF.
func (m *Manager) takeLocked() Handle {
	h := m.handle
	m.handle = nil
	m.gen++
	m.status.Wanted = false
	m.transitionLocked(StateOff, "", "")
	return h
}

func (m *Manager) watch(h Handle, gen uint64) {
	<-h.Done()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle != h || m.gen != gen || m.closed {
		return
	}
	m.dropLostLocked(h)
}

func (m *Manager) dropLostLocked(h Handle) {
	msg := "inhibitor exited unexpectedly"
	if err := h.Err(); err != nil {
		msg = err.Error()
	}
	m.handle = nil
	m.gen++
	m.transitionLocked(StateDegraded, DegradedReasonLost, msg)
}

func (m *Manager) transitionLocked(next State, reason DegradedReason, lastErr string) {
	m.status.State = next
	m.status.Reason = reason
	m.status.LastError = lastErr
	m.status.UpdatedAt = m.now()
	m.status.Revision++
}

func (m *Manager) noteErrorLocked(err error) {
	m.status.LastError = err.Error()
	m.status.UpdatedAt = m.now()
	m.status.Revision++
}
