package main

import (
	"context"
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/deckyboard/host/internal/observer"
	"github.com/deckyboard/host/internal/panel"
)

// runPanel opens the interactive terminal panel.
func runPanel(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("panel", "deckyboard panel [options]", stderr)
	var flags clientFlags
	flags.register(fs)
	port := fs.Int("port", 0, "Port the start key uses (default: config port or 8765)")
	showQR := fs.Bool("qr", false, "Show the QR code on open")

	if code, stop := parseFlags(fs, args); stop {
		return code
	}

	cfg, err := flags.resolve()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *port != 0 {
		cfg.Port = *port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var program *tea.Program
	obs := observer.New(observer.Config{
		Backend:  flags.client(cfg),
		Interval: time.Duration(cfg.PollIntervalMs) * time.Millisecond,
		OnChange: func(s observer.Snapshot) {
			program.Send(panel.SnapshotMsg(s))
		},
	})

	model := panel.New(ctx, obs, panel.Options{
		Port:     cfg.Port,
		Hostname: cfg.Hostname,
		ShowQR:   *showQR,
	})
	program = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx), tea.WithOutput(stdout))

	// Polling runs only while the panel is on screen.
	obs.Activate(ctx)
	defer obs.Deactivate()

	if _, err := program.Run(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
