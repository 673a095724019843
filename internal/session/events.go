package session

import "time"

// EventKind names a lifecycle transition or client change.
type EventKind string

const (
	EventStarted            EventKind = "started"
	EventStopped            EventKind = "stopped"
	EventFailed             EventKind = "failed"
	EventClientConnected    EventKind = "client_connected"
	EventClientDisconnected EventKind = "client_disconnected"
)

// Event describes one transition of the session. Pairing codes are never
// part of an event.
type Event struct {
	SessionID string
	Kind      EventKind
	Port      int
	Clients   int
	Reason    string
	At        time.Time
}

// Recorder persists session events. Failures are the recorder's problem;
// the controller never changes state because a record could not be written.
type Recorder interface {
	Record(ev Event)
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ev Event)

// Record calls f(ev).
func (f RecorderFunc) Record(ev Event) {
	f(ev)
}

// Recorders fans each event out to every recorder in order.
type Recorders []Recorder

// Record calls Record on each recorder.
func (rs Recorders) Record(ev Event) {
	for _, r := range rs {
		r.Record(ev)
	}
}
