package keyboard

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"
	"unicode/utf8"
)

// KeyEvent is a single key transition reported by a browser client.
type KeyEvent struct {
	// Key is the DOM KeyboardEvent.key value ("Enter", "a", "ArrowUp").
	Key string

	// Modifiers lists held modifiers ("ctrl", "alt", "shift"). The ydotool
	// injector does not apply them; browsers already fold shift into Key.
	Modifiers []string

	// Press is true for keydown and false for keyup.
	Press bool
}

// Injector delivers key events to the local input system.
type Injector interface {
	Inject(ctx context.Context, ev KeyEvent) error
}

// InjectorFunc adapts a function to Injector.
type InjectorFunc func(ctx context.Context, ev KeyEvent) error

// Inject calls f.
func (f InjectorFunc) Inject(ctx context.Context, ev KeyEvent) error {
	return f(ctx, ev)
}

// KeyCodes maps named DOM keys to Linux input event codes.
var KeyCodes = map[string]int{
	"Enter":      28,
	"Backspace":  14,
	"Tab":        15,
	"Escape":     1,
	"ArrowUp":    103,
	"ArrowDown":  108,
	"ArrowLeft":  105,
	"ArrowRight": 106,
	"Delete":     111,
	"Home":       102,
	"End":        107,
	"PageUp":     104,
	"PageDown":   109,
	"Insert":     110,
	"Space":      57,
}

// DefaultYdotoolPath is looked up on PATH.
const DefaultYdotoolPath = "ydotool"

// defaultCommandTimeout bounds a single ydotool invocation.
const defaultCommandTimeout = 2 * time.Second

// Ydotool injects keys by running the ydotool CLI.
//
// Named keys become "ydotool key <code>:<1|0>" for both press and release.
// Any other single character is typed with "ydotool type <char>" on press
// only. Everything else is ignored.
type Ydotool struct {
	// Path is the ydotool binary. Empty means DefaultYdotoolPath.
	Path string

	// Timeout bounds each invocation. Zero means two seconds.
	Timeout time.Duration

	// run executes the command; tests replace it.
	run func(ctx context.Context, name string, args ...string) error
}

// NewYdotool creates an injector that runs the ydotool binary at path.
func NewYdotool(path string) *Ydotool {
	return &Ydotool{Path: path}
}

// Args returns the ydotool arguments for ev, or nil if ev injects nothing.
func (y *Ydotool) Args(ev KeyEvent) []string {
	if code, ok := KeyCodes[ev.Key]; ok {
		action := "0"
		if ev.Press {
			action = "1"
		}
		return []string{"key", strconv.Itoa(code) + ":" + action}
	}
	if ev.Press && utf8.RuneCountInString(ev.Key) == 1 {
		return []string{"type", ev.Key}
	}
	return nil
}

// Inject implements Injector.
func (y *Ydotool) Inject(ctx context.Context, ev KeyEvent) error {
	args := y.Args(ev)
	if args == nil {
		return nil
	}

	timeout := y.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	run := y.run
	if run == nil {
		run = runCommand
	}
	return run(ctx, y.path(), args...)
}

func (y *Ydotool) path() string {
	if y.Path == "" {
		return DefaultYdotoolPath
	}
	return y.Path
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return fmt.Errorf("%s %v: %w: %s", name, args, err, msg)
		}
		return fmt.Errorf("%s %v: %w", name, args, err)
	}
	return nil
}
