package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/deckyboard/host/internal/config"
	"github.com/deckyboard/host/internal/panel"
)

// runStart asks the backend to start the keyboard server.
func runStart(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("start", "deckyboard start [options]", stderr)
	var flags clientFlags
	flags.register(fs)
	port := fs.Int("port", 0, "Port to listen on (default: config port or 8765)")
	showQR := fs.Bool("qr", false, "Print a QR code of the connect URL")

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
	if cfg.Port < 1 || cfg.Port > 65535 {
		fmt.Fprintf(stderr, "Error: port %d out of range\n", cfg.Port)
		return 1
	}

	client := flags.client(cfg)
	reply, err := client.Start(context.Background(), cfg.Port)
	if err != nil {
		return unreachable(stderr, cfg.ControlSocket, err)
	}

	if !reply.Success {
		// A refused start is a bind failure unless the server is already
		// running, which is not an error.
		snap, err := client.Status(context.Background())
		if err != nil {
			return unreachable(stderr, cfg.ControlSocket, err)
		}
		if snap.Running {
			if flags.JSON {
				writeJSON(stdout, map[string]interface{}{
					"success": false,
					"running": true,
					"code":    nullable(snap.Code),
					"clients": snap.Clients,
				})
				return 0
			}
			fmt.Fprintln(stdout, "Keyboard server already running")
			fmt.Fprintf(stdout, "  Code:    %s\n", FormatCodeWithSpaces(snap.Code))
			fmt.Fprintf(stdout, "  Clients: %d\n", snap.Clients)
			return 0
		}
	}

	if flags.JSON {
		writeJSON(stdout, map[string]interface{}{
			"success": reply.Success,
			"code":    nullable(reply.Code),
			"port":    reply.Port,
		})
		if !reply.Success {
			return 1
		}
		return 0
	}

	if !reply.Success {
		fmt.Fprintf(stderr, "Error: server not started (port %d unavailable)\n", cfg.Port)
		return 1
	}
	printStarted(stdout, cfg.Hostname, reply.Port, reply.Code)
	if *showQR {
		printQR(stdout, stderr, config.ServerURL(cfg.Hostname, reply.Port))
	}
	return 0
}

// runStop asks the backend to stop the keyboard server.
func runStop(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("stop", "deckyboard stop [options]", stderr)
	var flags clientFlags
	flags.register(fs)

	if code, stop := parseFlags(fs, args); stop {
		return code
	}

	cfg, err := flags.resolve()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	reply, err := flags.client(cfg).Stop(context.Background())
	if err != nil {
		return unreachable(stderr, cfg.ControlSocket, err)
	}

	if flags.JSON {
		writeJSON(stdout, map[string]interface{}{"success": reply.Success})
		return 0
	}
	fmt.Fprintln(stdout, "Keyboard server stopped")
	return 0
}

// runStatus prints the backend's current status.
func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("status", "deckyboard status [options]", stderr)
	var flags clientFlags
	flags.register(fs)
	showQR := fs.Bool("qr", false, "Print a QR code of the connect URL when running")

	if code, stop := parseFlags(fs, args); stop {
		return code
	}

	cfg, err := flags.resolve()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	snap, err := flags.client(cfg).Status(context.Background())
	if err != nil {
		return unreachable(stderr, cfg.ControlSocket, err)
	}
	snap = snap.Visible()

	if flags.JSON {
		writeJSON(stdout, map[string]interface{}{
			"running": snap.Running,
			"code":    nullable(snap.Code),
			"clients": snap.Clients,
		})
		return 0
	}

	if !snap.Running {
		fmt.Fprintln(stdout, "Status:  stopped")
		return 0
	}
	url := config.ServerURL(cfg.Hostname, cfg.Port)
	fmt.Fprintln(stdout, "Status:  running")
	fmt.Fprintf(stdout, "Code:    %s\n", FormatCodeWithSpaces(snap.Code))
	fmt.Fprintf(stdout, "Connect: %s\n", url)
	fmt.Fprintf(stdout, "Clients: %d\n", snap.Clients)
	if *showQR {
		printQR(stdout, stderr, url)
	}
	return 0
}

func printQR(stdout, stderr io.Writer, url string) {
	qr, err := panel.QRCode(url)
	if err != nil {
		fmt.Fprintf(stderr, "Warning: could not render QR code: %v\n", err)
		return
	}
	fmt.Fprintln(stdout)
	fmt.Fprint(stdout, qr)
}

func writeJSON(w io.Writer, v interface{}) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// nullable maps an empty string to JSON null.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
