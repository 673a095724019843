// Package keepawake holds a sleep inhibitor while a keyboard session runs.
//
// A Manager reconciles a wanted on/off value against an OS inhibitor. The
// SessionHook drives the Manager from session lifecycle events so the
// device stays awake exactly while the keyboard server is Running.
package keepawake

import (
	"context"
	"time"
)

// State is the inhibitor runtime state.
type State string

const (
	StateOff      State = "OFF"
	StatePending  State = "PENDING"
	StateOn       State = "ON"
	StateDegraded State = "DEGRADED"
)

// DegradedReason says why a wanted inhibitor is not held.
type DegradedReason string

const (
	// DegradedReasonUnsupported means the host has no inhibitor tool.
	DegradedReasonUnsupported DegradedReason = "unsupported"
	// DegradedReasonAcquireFailed means the inhibitor failed to start.
	DegradedReasonAcquireFailed DegradedReason = "acquire_failed"
	// DegradedReasonLost means a held inhibitor exited on its own.
	DegradedReasonLost DegradedReason = "lost"
)

// Status is a snapshot of the Manager.
type Status struct {
	State     State
	Wanted    bool
	Reason    DegradedReason // set when State is DEGRADED
	LastError string
	UpdatedAt time.Time
	Revision  int64 // increments on every transition
}

// Handle is an acquired inhibitor.
type Handle interface {
	// Done is closed when the inhibitor exits.
	Done() <-chan struct{}
	// Err returns the exit error after Done closes. A released inhibitor
	// exits with a nil error.
	Err() error
	// Release asks the inhibitor to exit and waits for it.
	Release(ctx context.Context) error
}

// Adapter acquires OS inhibitors.
type Adapter interface {
	Acquire(ctx context.Context) (Handle, error)
}

// Options configures a Manager.
type Options struct {
	// Now returns the current time. Default: time.Now.
	Now func() time.Time
}
