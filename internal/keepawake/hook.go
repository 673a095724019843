package keepawake

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/deckyboard/host/internal/session"
)

// releaseTimeout bounds each inhibitor release.
const releaseTimeout = 3 * time.Second

// SessionHook enables the Manager while a session is Running. It
// implements session.Recorder; Record never blocks on the inhibitor.
type SessionHook struct {
	manager *Manager

	mu     sync.Mutex
	wanted bool

	notify    chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

var _ session.Recorder = (*SessionHook)(nil)

// NewSessionHook starts the hook's worker.
func NewSessionHook(m *Manager) *SessionHook {
	h := &SessionHook{
		manager: m,
		notify:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go h.run()
	return h
}

// Record maps lifecycle events to the wanted inhibitor state. Client
// events do not change it.
func (h *SessionHook) Record(ev session.Event) {
	switch ev.Kind {
	case session.EventStarted:
		h.set(true)
	case session.EventStopped, session.EventFailed:
		h.set(false)
	}
}

func (h *SessionHook) set(wanted bool) {
	h.mu.Lock()
	h.wanted = wanted
	h.mu.Unlock()

	select {
	case h.notify <- struct{}{}:
	default:
	}
}

// run applies the latest wanted value; intermediate values are skipped.
func (h *SessionHook) run() {
	defer close(h.done)
	for {
		select {
		case <-h.stop:
			return
		case <-h.notify:
		}

		h.mu.Lock()
		wanted := h.wanted
		h.mu.Unlock()

		if wanted {
			st := h.manager.Enable(context.Background())
			if st.State == StateDegraded {
				log.Printf("keepawake: inhibitor not held (%s): %s", st.Reason, st.LastError)
			} else {
				log.Printf("keepawake: holding sleep inhibitor")
			}
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		st := h.manager.Disable(ctx)
		cancel()
		if st.LastError != "" {
			log.Printf("keepawake: release: %s", st.LastError)
		}
	}
}

// Close stops the worker and releases any held inhibitor.
func (h *SessionHook) Close() {
	h.closeOnce.Do(func() {
		close(h.stop)
		<-h.done

		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := h.manager.Close(ctx); err != nil {
			log.Printf("keepawake: close: %v", err)
		}
	})
}
