package session

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

func newTestController(t *testing.T, codes ...string) (*Controller, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	cfg := Config{Transport: tr}
	if len(codes) > 0 {
		cfg.Codes = &fixedCodes{codes: codes}
	}
	c := NewController(cfg)
	t.Cleanup(c.Close)
	return c, tr
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestController_InitialState(t *testing.T) {
	c, _ := newTestController(t)

	if got := c.Status(); got != (Status{}) {
		t.Errorf("initial Status() = %+v, want zero", got)
	}
	if c.Port() != 0 {
		t.Errorf("initial Port() = %d, want 0", c.Port())
	}
}

// TestController_StartRoundTrip checks that Status reports exactly what a
// successful Start returned.
func TestController_StartRoundTrip(t *testing.T) {
	c, tr := newTestController(t, "AB12")

	res := c.Start(8765)
	want := StartResult{Success: true, Code: "AB12", Port: 8765}
	if res != want {
		t.Fatalf("Start() = %+v, want %+v", res, want)
	}

	if got := c.Status(); got != (Status{Running: true, Code: "AB12", Clients: 0}) {
		t.Errorf("Status() = %+v", got)
	}
	if c.Port() != 8765 {
		t.Errorf("Port() = %d, want 8765", c.Port())
	}

	h := tr.last()
	if h == nil {
		t.Fatal("transport was not bound")
	}
	if h.opts.Port != 8765 || h.opts.Code != "AB12" || h.opts.Reporter == nil {
		t.Errorf("unexpected bind options: %+v", h.opts)
	}
}

// TestController_RedundantStart verifies a second Start while Running fails
// without touching the running session.
func TestController_RedundantStart(t *testing.T) {
	c, tr := newTestController(t, "AAAAAA", "BBBBBB")

	if res := c.Start(8765); !res.Success {
		t.Fatal("first Start should succeed")
	}
	if res := c.Start(9000); res.Success || res.Code != "" || res.Port != 0 {
		t.Errorf("second Start() = %+v, want bare failure", res)
	}

	if c.Port() != 8765 {
		t.Errorf("Port() = %d, want 8765", c.Port())
	}
	if got := c.Status().Code; got != "AAAAAA" {
		t.Errorf("code changed to %q", got)
	}
	if tr.bindCount() != 1 {
		t.Errorf("transport bound %d times, want 1", tr.bindCount())
	}
}

func TestController_BindFailure(t *testing.T) {
	c, tr := newTestController(t)
	tr.setBindErr(errors.New("listen tcp :8765: bind: address already in use"))

	if res := c.Start(8765); res.Success {
		t.Fatalf("Start() = %+v, want failure", res)
	}
	if got := c.Status(); got.Running || got.Code != "" {
		t.Errorf("Status() after bind failure = %+v", got)
	}

	// The caller may retry once the port frees up.
	tr.setBindErr(nil)
	if res := c.Start(8765); !res.Success {
		t.Error("retry after bind failure should succeed")
	}
}

func TestController_CodeGenerationFailure(t *testing.T) {
	c, tr := newTestController(t, "ONLYONE")

	c.Start(8765)
	c.Stop()

	if res := c.Start(8765); res.Success {
		t.Error("Start should fail when no code can be generated")
	}
	if tr.bindCount() != 1 {
		t.Errorf("transport should not be bound without a code, binds = %d", tr.bindCount())
	}
}

// TestController_StopIdempotent verifies repeated Stops all succeed.
func TestController_StopIdempotent(t *testing.T) {
	c, _ := newTestController(t)

	if res := c.Stop(); !res.Success {
		t.Error("Stop on a stopped controller should succeed")
	}
	if c.Status().Running {
		t.Error("Status should still be stopped")
	}

	c.Start(8765)
	if res := c.Stop(); !res.Success {
		t.Error("first Stop should succeed")
	}
	before := c.Status()
	if res := c.Stop(); !res.Success {
		t.Error("second Stop should succeed")
	}
	if after := c.Status(); after != before {
		t.Errorf("second Stop changed state: %+v -> %+v", before, after)
	}
}

// TestController_StopReleasesTransport verifies Stop shuts the transport
// down before returning.
func TestController_StopReleasesTransport(t *testing.T) {
	c, tr := newTestController(t)

	c.Start(8765)
	h := tr.last()

	c.Stop()

	if h.shutdownCount() != 1 {
		t.Errorf("Shutdown called %d times, want 1", h.shutdownCount())
	}
	if tr.activeCount() != 0 {
		t.Errorf("transport still holds %d bindings after Stop", tr.activeCount())
	}
	if got := c.Status(); got != (Status{}) {
		t.Errorf("Status() after Stop = %+v", got)
	}
	if c.Port() != 0 {
		t.Errorf("Port() after Stop = %d", c.Port())
	}
}

func TestController_StopClearsEvenWhenShutdownFails(t *testing.T) {
	c, tr := newTestController(t)

	c.Start(8765)
	tr.last().shutdownErr = errors.New("close: bad file descriptor")

	if res := c.Stop(); !res.Success {
		t.Error("Stop should report success")
	}
	if c.Status().Running {
		t.Error("session should be cleared after a failed shutdown")
	}
}

// TestController_ClientScenario walks the start, connect, stop sequence.
func TestController_ClientScenario(t *testing.T) {
	c, tr := newTestController(t, "X1Y2")

	if res := c.Start(8765); !res.Success || res.Code != "X1Y2" {
		t.Fatalf("Start() = %+v", res)
	}
	if got := c.Status(); got != (Status{Running: true, Code: "X1Y2", Clients: 0}) {
		t.Fatalf("Status() = %+v", got)
	}

	reporter := tr.last().opts.Reporter
	reporter.SetClients(1)
	reporter.SetClients(2)

	if got := c.Status(); got.Clients != 2 {
		t.Fatalf("Clients = %d, want 2", got.Clients)
	}

	if res := c.Stop(); !res.Success {
		t.Fatal("Stop should succeed")
	}
	if got := c.Status(); got != (Status{Running: false, Code: "", Clients: 0}) {
		t.Errorf("Status() after Stop = %+v", got)
	}
}

func TestController_NegativeClientCountClamped(t *testing.T) {
	c, tr := newTestController(t)
	c.Start(8765)

	tr.last().opts.Reporter.SetClients(-3)

	if got := c.Status().Clients; got != 0 {
		t.Errorf("Clients = %d, want 0", got)
	}
}

// TestController_LateClientUpdatesDropped verifies counts from a stopped
// session never leak into the next one.
func TestController_LateClientUpdatesDropped(t *testing.T) {
	c, tr := newTestController(t)

	c.Start(8765)
	oldReporter := tr.last().opts.Reporter
	oldReporter.SetClients(3)
	c.Stop()

	oldReporter.SetClients(5)
	if got := c.Status(); got.Clients != 0 {
		t.Errorf("late update applied to stopped session: %+v", got)
	}

	c.Start(8765)
	oldReporter.SetClients(7)
	if got := c.Status().Clients; got != 0 {
		t.Errorf("previous session's reporter changed new session: clients = %d", got)
	}

	tr.last().opts.Reporter.SetClients(1)
	if got := c.Status().Clients; got != 1 {
		t.Errorf("current reporter ignored: clients = %d", got)
	}
}

// TestController_TransportFatalFailure verifies a crashed transport forces
// the session to Stopped.
func TestController_TransportFatalFailure(t *testing.T) {
	log := &eventLog{}
	tr := newFakeTransport()
	c := NewController(Config{Transport: tr, Recorder: log})
	defer c.Close()

	c.Start(8765)
	h := tr.last()
	h.opts.Reporter.SetClients(2)

	h.fail(errors.New("accept: too many open files"))

	waitFor(t, func() bool { return !c.Status().Running })

	if got := c.Status(); got != (Status{}) {
		t.Errorf("Status() after fatal failure = %+v", got)
	}
	if tr.activeCount() != 0 {
		t.Error("failed transport should be released")
	}

	want := []EventKind{EventStarted, EventClientConnected, EventFailed}
	waitFor(t, func() bool { return len(log.kinds()) == len(want) })
	if got := log.kinds(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}

	// The controller can start again afterwards.
	if res := c.Start(8765); !res.Success {
		t.Error("Start after fatal failure should succeed")
	}
}

// TestController_StaleFailureIgnored verifies a failure from a handle that
// was already replaced does not stop the current session.
func TestController_StaleFailureIgnored(t *testing.T) {
	c, tr := newTestController(t)

	c.Start(8765)
	first := tr.last()
	c.Stop()
	c.Start(8765)

	// Shutdown closed first's done channel, so fail is a no-op; call
	// forceStop directly with the stale epoch as the watcher would.
	c.forceStop(1, first, errors.New("late crash"))

	if !c.Status().Running {
		t.Error("stale failure stopped the current session")
	}
}

// TestController_ConcurrentStart verifies racing starts produce exactly one
// session and one code.
func TestController_ConcurrentStart(t *testing.T) {
	c, tr := newTestController(t)

	const n = 32
	results := make([]StartResult, n)
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = c.Start(8765)
		}(i)
	}
	close(start)
	wg.Wait()

	successes := 0
	var code string
	for _, r := range results {
		if r.Success {
			successes++
			code = r.Code
		}
	}

	if successes != 1 {
		t.Errorf("%d starts succeeded, want 1", successes)
	}
	if tr.bindCount() != 1 || tr.maxActiveCount() != 1 {
		t.Errorf("binds = %d, max active = %d, want 1/1", tr.bindCount(), tr.maxActiveCount())
	}
	if got := c.Status().Code; got != code {
		t.Errorf("Status code %q does not match winning start %q", got, code)
	}
}

// TestController_StatusConsistentUnderChurn checks that readers never see
// a half-applied session while start and stop race.
func TestController_StatusConsistentUnderChurn(t *testing.T) {
	c, _ := newTestController(t)

	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			c.Start(8765)
			c.Stop()
		}
		close(stop)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				st := c.Status()
				if st.Running != (st.Code != "") {
					t.Errorf("inconsistent status: %+v", st)
					return
				}
				if !st.Running && st.Clients != 0 {
					t.Errorf("stopped status with clients: %+v", st)
					return
				}
			}
		}()
	}

	wg.Wait()
}

// TestController_CodesDistinctAcrossSessions verifies each start gets a new
// code from the default generator.
func TestController_CodesDistinctAcrossSessions(t *testing.T) {
	c, _ := newTestController(t)
	seen := make(map[string]bool)

	for i := 0; i < 50; i++ {
		res := c.Start(8765)
		if !res.Success {
			t.Fatalf("Start #%d failed", i)
		}
		if res.Code == "" || seen[res.Code] {
			t.Fatalf("code %q empty or reused", res.Code)
		}
		seen[res.Code] = true
		c.Stop()
	}
}

func TestController_RecordsLifecycleEvents(t *testing.T) {
	log := &eventLog{}
	tr := newFakeTransport()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	c := NewController(Config{
		Transport: tr,
		Recorder:  log,
		TimeNow:   func() time.Time { return now },
	})

	c.Start(8765)
	tr.last().opts.Reporter.SetClients(1)
	tr.last().opts.Reporter.SetClients(1)
	tr.last().opts.Reporter.SetClients(0)
	c.Start(9000)
	c.Stop()
	c.Stop()

	want := []EventKind{EventStarted, EventClientConnected, EventClientDisconnected, EventStopped}
	if got := log.kinds(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}

	first := log.events[0]
	if first.SessionID == "" || first.Port != 8765 || !first.At.Equal(now) {
		t.Errorf("unexpected started event: %+v", first)
	}
	if last := log.events[3]; last.SessionID != first.SessionID {
		t.Errorf("stopped event session %q, want %q", last.SessionID, first.SessionID)
	}
}

func TestState_String(t *testing.T) {
	if StateStopped.String() != "stopped" || StateRunning.String() != "running" {
		t.Error("unexpected state names")
	}
	if State(9).String() != "unknown" {
		t.Error("unknown state should print as unknown")
	}
}
