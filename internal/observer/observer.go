// Package observer keeps a client-side cache of the keyboard server's
// status in step with the backend.
//
// An Observer polls get_server_status on a fixed interval and after every
// start/stop action. The cache only ever changes on a successful status
// call; RPC failures are logged and the previous snapshot is kept until the
// next scheduled poll.
package observer

import (
	"context"
	"io"
	"log"
	"sync"
	"time"
)

// DefaultInterval is the polling period.
const DefaultInterval = 2 * time.Second

// Snapshot is the last known server status. It is a cache, never the
// authority.
type Snapshot struct {
	Running bool
	Code    string
	Clients int
}

// Visible returns the fields a view may render. Code and Clients mean
// nothing while the server is stopped, so they are blanked.
func (s Snapshot) Visible() Snapshot {
	if !s.Running {
		return Snapshot{}
	}
	return s
}

// StartReply is the backend's answer to start_server.
type StartReply struct {
	Success bool
	Code    string
	Port    int
}

// StopReply is the backend's answer to stop_server.
type StopReply struct {
	Success bool
}

// Backend is the control RPC surface. An error means the call itself
// failed (transport, timeout, bad response); backend-side outcomes are
// reported through the Success flags.
type Backend interface {
	Start(ctx context.Context, port int) (StartReply, error)
	Stop(ctx context.Context) (StopReply, error)
	Status(ctx context.Context) (Snapshot, error)
}

// Config holds configuration for an Observer.
type Config struct {
	// Backend serves the control RPCs. Required.
	Backend Backend

	// Interval is the polling period.
	// Default: 2 seconds.
	Interval time.Duration

	// OnChange is called after a successful status call that changed the
	// snapshot. It runs on the goroutine that made the call.
	OnChange func(Snapshot)

	// Logger receives RPC failures. If nil, logs are discarded.
	Logger *log.Logger
}

// Observer maintains the cached Snapshot.
type Observer struct {
	config Config

	// statusMu is held for the duration of every status call. Scheduled
	// polls skip when it is taken; out-of-band refreshes wait for it.
	statusMu sync.Mutex

	mu       sync.RWMutex
	snapshot Snapshot
	synced   bool

	// lifecycle for Activate/Deactivate
	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an Observer. It issues no RPCs until Run or Activate.
func New(config Config) *Observer {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Logger == nil {
		config.Logger = log.New(io.Discard, "", 0)
	}
	return &Observer{config: config}
}

// Run polls immediately and then every Interval until ctx is done.
// Cancelling ctx is the only way to stop it.
func (o *Observer) Run(ctx context.Context) {
	o.poll(ctx)

	ticker := time.NewTicker(o.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

// Activate starts Run in a background goroutine. Calling Activate on an
// active observer does nothing.
func (o *Observer) Activate(parent context.Context) {
	o.lifeMu.Lock()
	defer o.lifeMu.Unlock()

	if o.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	o.cancel = cancel
	o.done = done

	go func() {
		defer close(done)
		o.Run(ctx)
	}()
}

// Deactivate cancels the background poll and waits for it to exit. No
// RPCs are issued by the poll loop after Deactivate returns.
func (o *Observer) Deactivate() {
	o.lifeMu.Lock()
	cancel, done := o.cancel, o.done
	o.cancel, o.done = nil, nil
	o.lifeMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Snapshot returns the cached status.
func (o *Observer) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snapshot
}

// Synced reports whether at least one status call has succeeded.
func (o *Observer) Synced() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.synced
}

// Refresh issues an out-of-band status call, waiting for any in-flight
// call to finish first. On failure the cache is left unchanged and the
// error is returned alongside the cached snapshot.
func (o *Observer) Refresh(ctx context.Context) (Snapshot, error) {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()
	return o.fetch(ctx)
}

// StartServer asks the backend to start on port. Only a successful start
// triggers an immediate refresh; the periodic poll continues regardless.
func (o *Observer) StartServer(ctx context.Context, port int) (StartReply, error) {
	reply, err := o.config.Backend.Start(ctx, port)
	if err != nil {
		o.config.Logger.Printf("observer: start_server failed: %v", err)
		return StartReply{}, err
	}
	if reply.Success {
		o.Refresh(ctx)
	}
	return reply, nil
}

// StopServer asks the backend to stop and refreshes whatever the reply
// said, so a stop that silently did nothing cannot leave a stale
// "running" on screen.
func (o *Observer) StopServer(ctx context.Context) (StopReply, error) {
	reply, err := o.config.Backend.Stop(ctx)
	if err != nil {
		o.config.Logger.Printf("observer: stop_server failed: %v", err)
		return StopReply{}, err
	}
	o.Refresh(ctx)
	return reply, nil
}

// poll is one scheduled tick. It is skipped if a status call from this
// observer is still outstanding.
func (o *Observer) poll(ctx context.Context) {
	if !o.statusMu.TryLock() {
		return
	}
	defer o.statusMu.Unlock()
	o.fetch(ctx)
}

// fetch performs the status call. Must be called with statusMu held.
func (o *Observer) fetch(ctx context.Context) (Snapshot, error) {
	snap, err := o.config.Backend.Status(ctx)
	if err != nil {
		o.config.Logger.Printf("observer: get_server_status failed: %v", err)
		return o.Snapshot(), err
	}
	if snap.Clients < 0 {
		snap.Clients = 0
	}

	o.mu.Lock()
	changed := !o.synced || snap != o.snapshot
	o.snapshot = snap
	o.synced = true
	o.mu.Unlock()

	if changed && o.config.OnChange != nil {
		o.config.OnChange(snap)
	}
	return snap, nil
}
