package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/deckyboard/host/internal/config"
)

func runWithArgs(args []string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// isolateHome points HOME at a temp dir so no real config is read.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

// shortTempDir returns a directory short enough for a Unix socket path.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "dkb-cmd-")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestRunUsage(t *testing.T) {
	code, out, _ := runWithArgs([]string{"deckyboard"})
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(out, "Usage:") {
		t.Fatalf("expected usage output, got %q", out)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	code, out, _ := runWithArgs([]string{"deckyboard", "nope"})
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(out, "Unknown command") {
		t.Fatalf("expected unknown command output, got %q", out)
	}
}

func TestRunVersion(t *testing.T) {
	code, out, _ := runWithArgs([]string{"deckyboard", "version"})
	if code != 0 || !strings.Contains(out, Version) {
		t.Fatalf("version: code=%d out=%q", code, out)
	}
}

func TestSubcommandHelp(t *testing.T) {
	for _, cmd := range []string{"serve", "start", "stop", "status", "panel", "events", "discover", "init", "doctor"} {
		t.Run(cmd, func(t *testing.T) {
			code, _, errOut := runWithArgs([]string{"deckyboard", cmd, "--help"})
			if code != 0 {
				t.Fatalf("expected exit code 0, got %d", code)
			}
			if !strings.Contains(errOut, "Usage: deckyboard "+cmd) {
				t.Fatalf("expected %s usage, got %q", cmd, errOut)
			}
		})
	}
}

func TestSubcommandInvalidFlag(t *testing.T) {
	code, _, errOut := runWithArgs([]string{"deckyboard", "start", "--port=bad"})
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if errOut == "" {
		t.Fatal("expected error output for invalid flag")
	}
}

func TestStatusBackendUnavailable(t *testing.T) {
	isolateHome(t)
	socket := filepath.Join(shortTempDir(t), "missing.sock")

	code, _, errOut := runWithArgs([]string{"deckyboard", "status", "--socket", socket})
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(errOut, "deckyboard serve") {
		t.Errorf("expected a hint about the backend, got %q", errOut)
	}
}

func TestStartRejectsOutOfRangePort(t *testing.T) {
	isolateHome(t)
	code, _, errOut := runWithArgs([]string{"deckyboard", "start", "--port", "70000"})
	if code != 1 || !strings.Contains(errOut, "out of range") {
		t.Fatalf("code=%d stderr=%q", code, errOut)
	}
}

func TestMergeServeConfig(t *testing.T) {
	file := &config.Config{
		Port:        9000,
		Hostname:    "deck.lan",
		MdnsEnabled: true,
		AutoStart:   true,
	}

	// Unset flags keep file values.
	cfg := mergeServeConfig(serveFlags{}, map[string]bool{}, file)
	if cfg.Port != 9000 || cfg.Hostname != "deck.lan" || !cfg.MdnsEnabled || !cfg.AutoStart {
		t.Errorf("file values lost: %+v", cfg)
	}

	// Explicit flags win, including an explicit false.
	cfg = mergeServeConfig(
		serveFlags{Port: 8000, Mdns: false, AutoStart: false},
		map[string]bool{"port": true, "mdns": true},
		file,
	)
	if cfg.Port != 8000 {
		t.Errorf("Port = %d, want 8000", cfg.Port)
	}
	if cfg.MdnsEnabled {
		t.Error("explicit --mdns=false should override the file")
	}
	if !cfg.AutoStart {
		t.Error("unset --auto-start should keep the file value")
	}

	if file.Port != 9000 {
		t.Error("merge must not modify the file config")
	}
}

func TestServeStartStatusStopEvents(t *testing.T) {
	home := isolateHome(t)
	dir := shortTempDir(t)
	socket := filepath.Join(dir, "control.sock")
	db := filepath.Join(home, "audit", "events.db")
	port := freePort(t)

	cfg := &config.Config{
		ListenHost:    "127.0.0.1",
		ControlSocket: socket,
		AuditDB:       db,
	}
	cfg.ApplyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	var serveOut bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, cfg, true, &serveOut)
	}()
	var (
		stopOnce sync.Once
		serveErr error
	)
	stopServe := func() error {
		stopOnce.Do(func() {
			cancel()
			serveErr = <-done
		})
		return serveErr
	}
	defer stopServe()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(socket); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("control socket never appeared")
		}
		time.Sleep(10 * time.Millisecond)
	}

	code, out, errOut := runWithArgs([]string{"deckyboard", "start", "--socket", socket, "--port", strconv.Itoa(port)})
	if code != 0 {
		t.Fatalf("start: code=%d stderr=%q", code, errOut)
	}
	if !strings.Contains(out, "http://steamdeck.local:"+strconv.Itoa(port)) {
		t.Errorf("start output missing URL: %q", out)
	}

	code, out, errOut = runWithArgs([]string{"deckyboard", "status", "--socket", socket, "--json"})
	if code != 0 {
		t.Fatalf("status: code=%d stderr=%q", code, errOut)
	}
	var status struct {
		Running bool    `json:"running"`
		Code    *string `json:"code"`
		Clients int     `json:"clients"`
	}
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("status json: %v (%q)", err, out)
	}
	if !status.Running || status.Code == nil || len(*status.Code) != 6 {
		t.Errorf("status = %+v, want running with a 6-char code", status)
	}

	// A second start is a no-op that reports the running server.
	code, out, errOut = runWithArgs([]string{"deckyboard", "start", "--socket", socket, "--port", strconv.Itoa(port)})
	if code != 0 {
		t.Errorf("redundant start exit code = %d, want 0 (stderr %q)", code, errOut)
	}
	if !strings.Contains(out, "already running") || !strings.Contains(out, FormatCodeWithSpaces(*status.Code)) {
		t.Errorf("redundant start should show the running server, got %q", out)
	}
	if strings.Contains(errOut, "Error") {
		t.Errorf("redundant start must not print an error, got %q", errOut)
	}

	// A start on a port someone else holds fails while stopped.
	code, _, _ = runWithArgs([]string{"deckyboard", "stop", "--socket", socket})
	if code != 0 {
		t.Fatalf("stop before bind failure: code=%d", code)
	}
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	busyPort := busy.Addr().(*net.TCPAddr).Port
	code, _, errOut = runWithArgs([]string{"deckyboard", "start", "--socket", socket, "--port", strconv.Itoa(busyPort)})
	busy.Close()
	if code != 1 || !strings.Contains(errOut, "unavailable") {
		t.Errorf("bind failure: code=%d stderr=%q, want 1 and an unavailable error", code, errOut)
	}
	code, _, _ = runWithArgs([]string{"deckyboard", "start", "--socket", socket, "--port", strconv.Itoa(port)})
	if code != 0 {
		t.Fatalf("restart: code=%d", code)
	}

	code, out, _ = runWithArgs([]string{"deckyboard", "stop", "--socket", socket})
	if code != 0 || !strings.Contains(out, "stopped") {
		t.Fatalf("stop: code=%d out=%q", code, out)
	}

	code, out, _ = runWithArgs([]string{"deckyboard", "status", "--socket", socket})
	if code != 0 || !strings.Contains(out, "stopped") {
		t.Fatalf("status after stop: code=%d out=%q", code, out)
	}

	if err := stopServe(); err != nil {
		t.Fatalf("serve returned %v", err)
	}

	if _, err := os.Stat(socket); !os.IsNotExist(err) {
		t.Error("control socket should be removed on shutdown")
	}

	code, out, errOut = runWithArgs([]string{"deckyboard", "events", "--audit-db", db, "--json"})
	if code != 0 {
		t.Fatalf("events: code=%d stderr=%q", code, errOut)
	}
	var events []eventJSON
	if err := json.Unmarshal([]byte(out), &events); err != nil {
		t.Fatalf("events json: %v (%q)", err, out)
	}
	// Two sessions, newest first; the failed bind records nothing.
	wantKinds := []string{"stopped", "started", "stopped", "started"}
	if len(events) != len(wantKinds) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(wantKinds), events)
	}
	for i, kind := range wantKinds {
		if events[i].Kind != kind {
			t.Errorf("events[%d].Kind = %q, want %q", i, events[i].Kind, kind)
		}
		if events[i].Port != port {
			t.Errorf("events[%d].Port = %d, want %d", i, events[i].Port, port)
		}
	}
}

func TestEventsMissingDatabase(t *testing.T) {
	isolateHome(t)
	code, _, errOut := runWithArgs([]string{"deckyboard", "events", "--audit-db", filepath.Join(t.TempDir(), "none.db")})
	if code != 1 || !strings.Contains(errOut, "no audit database") {
		t.Fatalf("code=%d stderr=%q", code, errOut)
	}
}

func TestInitWritesConfig(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "config.toml")

	code, out, _ := runWithArgs([]string{"deckyboard", "init", "--config", path})
	if code != 0 || !strings.Contains(out, "Wrote") {
		t.Fatalf("init: code=%d out=%q", code, out)
	}
	if _, err := config.Load(path); err != nil {
		t.Fatalf("written config does not load: %v", err)
	}

	code, out, _ = runWithArgs([]string{"deckyboard", "init", "--config", path})
	if code != 0 || !strings.Contains(out, "already exists") {
		t.Fatalf("second init: code=%d out=%q", code, out)
	}
}

func TestFormatCodeWithSpaces(t *testing.T) {
	if got := FormatCodeWithSpaces("AB23CD"); got != "AB2 3CD" {
		t.Errorf("got %q", got)
	}
	if got := FormatCodeWithSpaces("ABC"); got != "ABC" {
		t.Errorf("got %q", got)
	}
}
