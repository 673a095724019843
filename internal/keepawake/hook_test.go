package keepawake

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deckyboard/host/internal/session"
)

func TestSessionHookFollowsLifecycle(t *testing.T) {
	var acquired atomic.Int32
	m := NewManager(&fakeAdapter{acquire: func(context.Context) (Handle, error) {
		acquired.Add(1)
		return newFakeHandle(), nil
	}}, Options{})
	hook := NewSessionHook(m)
	defer hook.Close()

	hook.Record(session.Event{Kind: session.EventStarted})
	waitState(t, m, StateOn)

	hook.Record(session.Event{Kind: session.EventClientConnected, Clients: 1})
	time.Sleep(20 * time.Millisecond)
	if st := m.Status(); st.State != StateOn {
		t.Fatalf("client events must not change state, got %s", st.State)
	}

	hook.Record(session.Event{Kind: session.EventStopped})
	waitState(t, m, StateOff)

	hook.Record(session.Event{Kind: session.EventStarted})
	waitState(t, m, StateOn)
	hook.Record(session.Event{Kind: session.EventFailed})
	waitState(t, m, StateOff)

	if n := acquired.Load(); n != 2 {
		t.Errorf("acquire calls = %d, want 2", n)
	}
}

func TestSessionHookCloseReleases(t *testing.T) {
	h := newFakeHandle()
	m := NewManager(handleAdapter(h), Options{})
	hook := NewSessionHook(m)

	hook.Record(session.Event{Kind: session.EventStarted})
	waitState(t, m, StateOn)

	hook.Close()
	hook.Close()

	select {
	case <-h.Done():
	default:
		t.Fatal("Close should release the inhibitor")
	}
	if st := m.Status(); st.State != StateOff {
		t.Fatalf("state = %s, want OFF", st.State)
	}
}

func TestSessionHookWithController(t *testing.T) {
	m := NewManager(handleAdapter(newFakeHandle()), Options{})
	hook := NewSessionHook(m)
	defer hook.Close()

	c := session.NewController(session.Config{
		Transport: nopTransport{},
		Recorder:  hook,
	})

	if res := c.Start(8765); !res.Success {
		t.Fatal("start failed")
	}
	waitState(t, m, StateOn)

	c.Stop()
	waitState(t, m, StateOff)
}

type nopTransport struct{}

func (nopTransport) Bind(session.BindOptions) (session.Handle, error) {
	return &nopHandle{done: make(chan error)}, nil
}

type nopHandle struct {
	done chan error
	once sync.Once
}

func (h *nopHandle) Shutdown(context.Context) error {
	h.once.Do(func() { close(h.done) })
	return nil
}

func (h *nopHandle) Done() <-chan error { return h.done }
