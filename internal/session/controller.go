// Package session owns the keyboard server's lifecycle: the Stopped/Running
// state machine, pairing-code issuance and the connected-client count.
//
// A Controller holds exactly one session at a time. Start and Stop are
// serialized against each other; Status is a lock-protected read that never
// waits on the transport, so a slow bind or shutdown cannot stall polling.
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deckyboard/host/internal/auth"
	apperrors "github.com/deckyboard/host/internal/errors"
)

// DefaultShutdownTimeout bounds how long Stop waits for the transport.
const DefaultShutdownTimeout = 5 * time.Second

// State is the lifecycle state of the session.
type State int

const (
	StateStopped State = iota
	StateRunning
)

// String returns a lowercase name for logs.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// StartResult is returned by Start. Code and Port are set only on success.
type StartResult struct {
	Success bool
	Code    string
	Port    int
}

// StopResult is returned by Stop.
type StopResult struct {
	Success bool
}

// Status is a consistent snapshot of the session. Code is empty when the
// session is stopped.
type Status struct {
	Running bool
	Code    string
	Clients int
}

// Config holds the controller's collaborators.
type Config struct {
	// Transport brings the keyboard server up and down. Required.
	Transport Transport

	// Codes issues pairing codes.
	// Default: auth.NewCodeGenerator with the default policy.
	Codes CodeSource

	// Recorder receives lifecycle events. Optional.
	Recorder Recorder

	// ShutdownTimeout bounds each transport shutdown.
	// Default: 5 seconds.
	ShutdownTimeout time.Duration

	// TimeNow returns the current time. Useful for testing.
	// Default: time.Now.
	TimeNow func() time.Time
}

// Controller is the session state machine.
type Controller struct {
	config Config

	// opMu serializes Start, Stop and forced stops. It is held across
	// transport Bind and Shutdown calls.
	opMu sync.Mutex

	// mu guards the session fields below. It is never held while the
	// transport is doing work.
	mu sync.RWMutex

	state     State
	port      int
	code      string
	clients   int
	sessionID string
	handle    Handle

	// epoch increments on every successful start. Reporters and watchers
	// carry the epoch of their session so stale updates are dropped.
	epoch uint64
}

// NewController creates a stopped controller.
func NewController(config Config) *Controller {
	if config.Codes == nil {
		config.Codes = auth.NewCodeGenerator(auth.CodeGeneratorConfig{})
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}
	if config.TimeNow == nil {
		config.TimeNow = time.Now
	}
	return &Controller{config: config}
}

// Start brings the transport up on port and opens a new session.
//
// A Start while Running is a redundant operation: it returns Success=false
// and leaves the running session, its code and its transport untouched.
// A bind failure also returns Success=false with the session still stopped.
func (c *Controller) Start(port int) StartResult {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.RLock()
	running, runningPort, epoch := c.state == StateRunning, c.port, c.epoch
	c.mu.RUnlock()

	if running {
		log.Printf("session: start ignored: %v", apperrors.AlreadyRunning(runningPort))
		return StartResult{Success: false}
	}

	code, err := c.config.Codes.Generate()
	if err != nil {
		log.Printf("session: start failed: %v", apperrors.Wrap(apperrors.CodePairingGenerateFailed, "pairing code unavailable", err))
		return StartResult{Success: false}
	}

	next := epoch + 1
	handle, err := c.config.Transport.Bind(BindOptions{
		Port:     port,
		Code:     code,
		Reporter: &epochReporter{controller: c, epoch: next},
	})
	if err != nil {
		log.Printf("session: start failed: %v", apperrors.BindFailed(port, err))
		return StartResult{Success: false}
	}

	sessionID := uuid.NewString()

	c.mu.Lock()
	c.state = StateRunning
	c.port = port
	c.code = code
	c.clients = 0
	c.sessionID = sessionID
	c.handle = handle
	c.epoch = next
	c.mu.Unlock()

	go c.watch(next, handle)

	log.Printf("session: started %s on port %d", sessionID, port)
	c.record(Event{SessionID: sessionID, Kind: EventStarted, Port: port})

	return StartResult{Success: true, Code: code, Port: port}
}

// Stop shuts the transport down and clears the session. It always succeeds:
// a Stop while Stopped is a no-op, and a transport that fails to shut down
// cleanly is logged but the session is still cleared. When Stop returns,
// a subsequent Status reports Running=false.
func (c *Controller) Stop() StopResult {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.RLock()
	running, handle := c.state == StateRunning, c.handle
	c.mu.RUnlock()

	if !running {
		return StopResult{Success: true}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.config.ShutdownTimeout)
	defer cancel()
	if err := handle.Shutdown(ctx); err != nil {
		log.Printf("session: %v", apperrors.ShutdownFailed(err))
	}

	sessionID, port, clients := c.clear()

	log.Printf("session: stopped %s on port %d", sessionID, port)
	c.record(Event{SessionID: sessionID, Kind: EventStopped, Port: port, Clients: clients})

	return StopResult{Success: true}
}

// Status returns the current session snapshot.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != StateRunning {
		return Status{}
	}
	return Status{
		Running: true,
		Code:    c.code,
		Clients: c.clients,
	}
}

// Port returns the port of the running session, or 0 when stopped.
func (c *Controller) Port() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.port
}

// Close stops any running session. It is meant for process shutdown.
func (c *Controller) Close() {
	c.Stop()
}

// clear resets the session to Stopped and returns what it held.
// Must be called with opMu held.
func (c *Controller) clear() (sessionID string, port, clients int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sessionID, port, clients = c.sessionID, c.port, c.clients
	c.state = StateStopped
	c.port = 0
	c.code = ""
	c.clients = 0
	c.sessionID = ""
	c.handle = nil
	return sessionID, port, clients
}

// watch waits for the transport of session epoch to die on its own and
// forces that session to Stopped. A clean shutdown closes Done and watch
// returns without touching state.
func (c *Controller) watch(epoch uint64, handle Handle) {
	err, ok := <-handle.Done()
	if !ok {
		return
	}
	c.forceStop(epoch, handle, err)
}

// forceStop handles a transport fatal failure.
func (c *Controller) forceStop(epoch uint64, handle Handle, cause error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.RLock()
	current := c.state == StateRunning && c.epoch == epoch
	c.mu.RUnlock()

	if !current {
		return
	}

	fatal := apperrors.TransportFatal(cause)
	log.Printf("session: %v", fatal)

	// Release whatever the dead transport still holds.
	ctx, cancel := context.WithTimeout(context.Background(), c.config.ShutdownTimeout)
	defer cancel()
	if err := handle.Shutdown(ctx); err != nil {
		log.Printf("session: cleanup after failure: %v", err)
	}

	sessionID, port, clients := c.clear()
	c.record(Event{SessionID: sessionID, Kind: EventFailed, Port: port, Clients: clients, Reason: fatal.Error()})
}

// setClients applies a count reported by the transport of session epoch.
// Updates from a previous session, or arriving after the session stopped,
// are dropped.
func (c *Controller) setClients(epoch uint64, n int) {
	if n < 0 {
		n = 0
	}

	c.mu.Lock()
	if c.state != StateRunning || c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	prev := c.clients
	c.clients = n
	sessionID, port := c.sessionID, c.port
	c.mu.Unlock()

	switch {
	case n > prev:
		c.record(Event{SessionID: sessionID, Kind: EventClientConnected, Port: port, Clients: n})
	case n < prev:
		c.record(Event{SessionID: sessionID, Kind: EventClientDisconnected, Port: port, Clients: n})
	}
}

func (c *Controller) record(ev Event) {
	if c.config.Recorder == nil {
		return
	}
	ev.At = c.config.TimeNow()
	c.config.Recorder.Record(ev)
}

// epochReporter routes a transport's client counts to the session it was
// bound for.
type epochReporter struct {
	controller *Controller
	epoch      uint64
}

func (r *epochReporter) SetClients(n int) {
	r.controller.setClients(r.epoch, n)
}
