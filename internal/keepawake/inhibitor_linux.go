//go:build linux

package keepawake

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	apperrors "github.com/deckyboard/host/internal/errors"
)

// NewDefaultAdapter returns an adapter that holds a systemd-inhibit lock.
func NewDefaultAdapter() Adapter {
	return &systemdAdapter{execCmd: exec.Command}
}

type systemdAdapter struct {
	execCmd func(name string, args ...string) *exec.Cmd
}

func (a *systemdAdapter) Acquire(ctx context.Context) (Handle, error) {
	// The lock lives as long as the child; sleep infinity keeps it open
	// until Release signals the process group.
	cmd := a.execCmd("systemd-inhibit",
		"--what=idle:sleep",
		"--who=deckyboard",
		"--why=Remote keyboard session active",
		"--mode=block",
		"sleep", "infinity")
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}

	if err := cmd.Start(); err != nil {
		var ex *exec.Error
		if errors.As(err, &ex) || errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.Wrap(apperrors.CodeKeepAwakeUnsupported, "systemd-inhibit is unavailable", err)
		}
		return nil, apperrors.Wrap(apperrors.CodeKeepAwakeAcquireFailed, "failed to start systemd-inhibit", err)
	}

	h := &processHandle{cmd: cmd, done: make(chan struct{})}
	go h.wait()
	return h, nil
}

// processHandle is an inhibitor held by a child process group.
type processHandle struct {
	cmd *exec.Cmd

	mu       sync.Mutex
	done     chan struct{}
	err      error
	released bool
	once     sync.Once
}

func (h *processHandle) wait() {
	err := h.cmd.Wait()

	h.mu.Lock()
	if h.released {
		err = nil
	}
	h.err = err
	h.mu.Unlock()

	close(h.done)
}

func (h *processHandle) Done() <-chan struct{} {
	return h.done
}

func (h *processHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *processHandle) Release(ctx context.Context) error {
	if h.cmd == nil || h.cmd.Process == nil {
		return nil
	}
	pid := h.cmd.Process.Pid

	h.once.Do(func() {
		h.mu.Lock()
		h.released = true
		h.mu.Unlock()
		signalGroup(pid, syscall.SIGTERM)
	})

	select {
	case <-ctx.Done():
		signalGroup(pid, syscall.SIGKILL)
		select {
		case <-h.done:
		case <-time.After(200 * time.Millisecond):
		}
		return fmt.Errorf("release timed out waiting for inhibitor exit: %w", ctx.Err())
	case <-h.done:
		return nil
	}
}

// signalGroup signals the process group led by pid, falling back to the
// process itself when it did not get its own group.
func signalGroup(pid int, sig syscall.Signal) {
	if err := syscall.Kill(-pid, sig); err != nil {
		syscall.Kill(pid, sig)
	}
}
