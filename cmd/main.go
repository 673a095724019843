package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.1.0" ./cmd
var Version = "dev"

const usage = `deckyboard - type on your Steam Deck from any browser on the LAN

Usage:
  deckyboard <command> [options]

Commands:
  serve         Run the backend (controller, control socket, keyboard transport)
  start         Start the keyboard server and print its pairing code
  stop          Stop the keyboard server
  status        Show whether the server is running, its code and clients
  panel         Interactive terminal panel
  events        List recorded session events
  discover      Find keyboard servers advertised on the local network
  init          Write a default config file
  doctor        Check ydotool, the backend and the audit log
Run 'deckyboard <command> --help' for more information on a command.
`

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stdout, usage)
		return 0
	}

	switch args[1] {
	case "serve":
		return runServe(args[2:], stdout, stderr)
	case "start":
		return runStart(args[2:], stdout, stderr)
	case "stop":
		return runStop(args[2:], stdout, stderr)
	case "status":
		return runStatus(args[2:], stdout, stderr)
	case "panel":
		return runPanel(args[2:], stdout, stderr)
	case "events":
		return runEvents(args[2:], stdout, stderr)
	case "discover":
		return runDiscover(args[2:], stdout, stderr)
	case "init":
		return runInit(args[2:], stdout, stderr)
	case "doctor":
		return runDoctor(args[2:], stdout, stderr)
	case "--help", "-h", "help":
		fmt.Fprint(stdout, usage)
		return 0
	case "--version", "-v", "version":
		fmt.Fprintf(stdout, "deckyboard %s\n", Version)
		return 0
	default:
		fmt.Fprintf(stdout, "Unknown command: %s\n", args[1])
		fmt.Fprint(stdout, usage)
		return 1
	}
}
