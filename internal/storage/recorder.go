package storage

import (
	"log"
	"sync"

	apperrors "github.com/deckyboard/host/internal/errors"
	"github.com/deckyboard/host/internal/session"
)

// recorderQueueSize bounds events waiting to be written.
const recorderQueueSize = 128

// EventRecorder writes session events to the store from a background
// goroutine. It implements session.Recorder.
//
// Record never blocks on the database: the controller calls it from the
// transport's reporting path. When the queue is full the event is dropped
// and logged.
type EventRecorder struct {
	store   *SQLiteStore
	maxRows int

	queue chan session.Event
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

var _ session.Recorder = (*EventRecorder)(nil)

// NewEventRecorder starts a recorder that keeps at most maxRows events.
func NewEventRecorder(store *SQLiteStore, maxRows int) *EventRecorder {
	r := &EventRecorder{
		store:   store,
		maxRows: maxRows,
		queue:   make(chan session.Event, recorderQueueSize),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Record queues ev for writing.
func (r *EventRecorder) Record(ev session.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- ev:
	default:
		log.Printf("storage: event queue full, dropping %s for session %s", ev.Kind, ev.SessionID)
	}
}

// Close writes any queued events and stops the recorder.
func (r *EventRecorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *EventRecorder) run() {
	defer r.wg.Done()
	for ev := range r.queue {
		entry := &SessionEvent{
			SessionID: ev.SessionID,
			Kind:      string(ev.Kind),
			Port:      ev.Port,
			Clients:   ev.Clients,
			Reason:    ev.Reason,
			At:        ev.At,
		}
		if err := r.store.SaveAndPruneSessionEvent(entry, r.maxRows); err != nil {
			log.Printf("storage: %v", apperrors.Wrap(apperrors.CodeStorageSaveFailed, "failed to record session event", err))
		}
	}
}
