// This file implements the `deckyboard doctor` diagnostic command.
//
// The doctor command runs a sequence of preflight checks against the local
// environment and reports remediation guidance for any issues. It supports
// both human-readable (default) and machine-readable (--json) output.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/exec"

	"github.com/deckyboard/host/internal/config"
	"github.com/deckyboard/host/internal/control"
	"github.com/deckyboard/host/internal/observer"
	"github.com/deckyboard/host/internal/storage"
)

// DoctorResult is the top-level JSON output for `deckyboard doctor --json`.
type DoctorResult struct {
	// Version is the doctor output schema version. Always "1".
	Version string `json:"version"`

	Checks  []DoctorCheck `json:"checks"`
	Summary DoctorSummary `json:"summary"`
}

// DoctorCheck is one diagnostic check in the doctor output.
type DoctorCheck struct {
	// ID is a stable, machine-readable identifier (e.g., "injector.ydotool").
	ID string `json:"id"`

	// Status is "pass", "warn", or "fail".
	Status string `json:"status"`

	Message    string `json:"message"`
	NextAction string `json:"next_action"`
}

// DoctorSummary holds aggregate counts of check outcomes.
type DoctorSummary struct {
	Pass int `json:"pass"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

// Stable check IDs. These are part of the CLI contract.
const (
	checkIDConfig   = "config.file"
	checkIDInjector = "injector.ydotool"
	checkIDBackend  = "backend.socket"
	checkIDListen   = "network.listen"
	checkIDAudit    = "audit.database"
	checkIDAwake    = "keepawake.inhibitor"
)

const (
	statusPass = "pass"
	statusWarn = "warn"
	statusFail = "fail"
)

// Function-variable seams for testability.
var (
	// doctorLookPath resolves the injector binary.
	doctorLookPath = exec.LookPath

	// doctorQueryBackend asks the backend for its status over the control socket.
	doctorQueryBackend = defaultQueryBackend

	// doctorOpenAudit opens the audit database read-write to check its schema.
	doctorOpenAudit = defaultOpenAudit
)

func defaultQueryBackend(socketPath string) (observer.Snapshot, error) {
	return control.NewClient(socketPath).Status(context.Background())
}

func defaultOpenAudit(path string) error {
	// Opening would create the database; doctor only inspects.
	if _, err := os.Stat(path); err != nil {
		return err
	}
	prev := log.Writer()
	log.SetOutput(io.Discard)
	defer log.SetOutput(prev)

	store, err := storage.NewSQLiteStore(path)
	if err != nil {
		return err
	}
	return store.Close()
}

// runDoctor evaluates preflight checks and reports results. It returns 0
// when no check fails.
func runDoctor(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("doctor", "deckyboard doctor [options]", stderr)
	configPath := fs.String("config", "", "Path to config file (default: ~/.deckyboard/config.toml)")
	socket := fs.String("socket", "", "Control socket path override")
	jsonMode := fs.Bool("json", false, "Emit machine-readable JSON to stdout")

	if code, stop := parseFlags(fs, args); stop {
		return code
	}

	// A broken config is itself a finding; the remaining checks run
	// against defaults.
	cfg, cfgErr := config.Load(*configPath)
	if cfgErr != nil {
		cfg = &config.Config{}
	}
	if *socket != "" {
		cfg.ControlSocket = *socket
	}
	cfg.ApplyDefaults()

	checks := []DoctorCheck{
		evalConfig(*configPath, cfgErr),
		evalInjector(cfg.YdotoolPath),
		evalBackend(cfg.ControlSocket),
		evalListenHost(cfg.ListenHost),
		evalAudit(cfg.AuditDB),
		evalKeepAwake(cfg.KeepAwake),
	}

	summary := DoctorSummary{}
	for _, c := range checks {
		switch c.Status {
		case statusPass:
			summary.Pass++
		case statusWarn:
			summary.Warn++
		case statusFail:
			summary.Fail++
		}
	}

	result := DoctorResult{
		Version: "1",
		Checks:  checks,
		Summary: summary,
	}

	if *jsonMode {
		if err := renderDoctorJSON(stdout, result); err != nil {
			fmt.Fprintf(stderr, "Error: failed to encode JSON: %v\n", err)
			return 1
		}
	} else {
		renderDoctorHuman(stdout, result)
	}

	if summary.Fail > 0 {
		return 1
	}
	return 0
}

func evalConfig(path string, err error) DoctorCheck {
	check := DoctorCheck{ID: checkIDConfig}
	if err != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("Config error: %v", err)
		check.NextAction = "Fix the config file or regenerate it with `deckyboard init`."
		return check
	}
	if path == "" {
		path = "default location"
	}
	check.Status = statusPass
	check.Message = fmt.Sprintf("Config loaded (%s).", path)
	check.NextAction = "No action required."
	return check
}

// evalInjector checks that keystrokes can reach the desktop.
func evalInjector(path string) DoctorCheck {
	check := DoctorCheck{ID: checkIDInjector}
	resolved, err := doctorLookPath(path)
	if err != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("ydotool not found (%s).", path)
		check.NextAction = "Install ydotool and start ydotoold, or set `ydotool_path` in the config."
		return check
	}
	check.Status = statusPass
	check.Message = fmt.Sprintf("ydotool found at %s.", resolved)
	check.NextAction = "No action required."
	return check
}

// evalBackend checks the control socket.
// Decision table:
//   - RPC fails -> fail
//   - backend answers, server stopped -> pass
//   - backend answers, server running -> pass, with client count
func evalBackend(socketPath string) DoctorCheck {
	check := DoctorCheck{ID: checkIDBackend}
	snap, err := doctorQueryBackend(socketPath)
	if err != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("Backend not reachable at %s.", socketPath)
		check.NextAction = "Start the backend with `deckyboard serve`."
		return check
	}
	check.Status = statusPass
	if snap.Running {
		check.Message = fmt.Sprintf("Backend is up; keyboard server running with %d client(s).", snap.Clients)
	} else {
		check.Message = "Backend is up; keyboard server stopped."
	}
	check.NextAction = "No action required."
	return check
}

// evalListenHost warns when browsers on the LAN could never connect.
func evalListenHost(host string) DoctorCheck {
	check := DoctorCheck{ID: checkIDListen}
	if host == "" {
		check.Status = statusPass
		check.Message = "Keyboard server binds all interfaces."
		check.NextAction = "No action required."
		return check
	}
	if isLoopback(host) {
		check.Status = statusWarn
		check.Message = fmt.Sprintf("Keyboard server binds loopback (%s).", host)
		check.NextAction = "Clear `listen_host` so phones and laptops on the LAN can connect."
		return check
	}
	check.Status = statusPass
	check.Message = fmt.Sprintf("Keyboard server binds %s.", host)
	check.NextAction = "No action required."
	return check
}

func evalAudit(path string) DoctorCheck {
	check := DoctorCheck{ID: checkIDAudit}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		check.Status = statusWarn
		check.Message = fmt.Sprintf("No audit database at %s.", path)
		check.NextAction = "It is created the first time `deckyboard serve` runs."
		return check
	}
	if err := doctorOpenAudit(path); err != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("Audit database error: %v", err)
		check.NextAction = "Move the database aside; serve recreates it."
		return check
	}
	check.Status = statusPass
	check.Message = fmt.Sprintf("Audit database OK at %s.", path)
	check.NextAction = "No action required."
	return check
}

// evalKeepAwake warns when keep_awake is on but no inhibitor can be held.
func evalKeepAwake(enabled bool) DoctorCheck {
	check := DoctorCheck{ID: checkIDAwake}
	if !enabled {
		check.Status = statusPass
		check.Message = "Keep-awake is disabled."
		check.NextAction = "No action required."
		return check
	}
	if _, err := doctorLookPath("systemd-inhibit"); err != nil {
		check.Status = statusWarn
		check.Message = "keep_awake is set but systemd-inhibit was not found."
		check.NextAction = "Install systemd or turn off `keep_awake`; the device may sleep mid-session."
		return check
	}
	check.Status = statusPass
	check.Message = "Keep-awake will hold a systemd-inhibit lock while the server runs."
	check.NextAction = "No action required."
	return check
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}

func renderDoctorJSON(w io.Writer, result DoctorResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func renderDoctorHuman(w io.Writer, result DoctorResult) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Deckyboard Doctor")
	fmt.Fprintln(w, "=================")
	fmt.Fprintln(w, "")

	for _, c := range result.Checks {
		fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(c.Status), c.ID, c.Message)
		if c.Status != statusPass {
			fmt.Fprintf(w, "    -> %s\n", c.NextAction)
		}
	}

	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Summary: %d passed, %d warnings, %d failures\n",
		result.Summary.Pass, result.Summary.Warn, result.Summary.Fail)
	fmt.Fprintln(w, "")
}

func statusIcon(status string) string {
	switch status {
	case statusPass:
		return "[PASS]"
	case statusWarn:
		return "[WARN]"
	case statusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}
