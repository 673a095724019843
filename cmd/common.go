package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/deckyboard/host/internal/config"
	"github.com/deckyboard/host/internal/control"
	apperrors "github.com/deckyboard/host/internal/errors"
)

// clientFlags are shared by the one-shot RPC commands.
type clientFlags struct {
	Config string
	Socket string
	JSON   bool
}

func (c *clientFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.Config, "config", "", "Path to config file (default: ~/.deckyboard/config.toml)")
	fs.StringVar(&c.Socket, "socket", "", "Control socket path (default: ~/.deckyboard/control.sock)")
	fs.BoolVar(&c.JSON, "json", false, "Output in JSON format")
}

// resolve loads the config file, applies the socket override and defaults.
func (c *clientFlags) resolve() (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	if c.Socket != "" {
		cfg.ControlSocket = c.Socket
	}
	cfg.ApplyDefaults()
	if cfg.ControlSocket == "" {
		return nil, fmt.Errorf("cannot determine control socket path; pass --socket")
	}
	return cfg, nil
}

func (c *clientFlags) client(cfg *config.Config) *control.Client {
	return control.NewClient(cfg.ControlSocket)
}

// parseFlags parses args and reports whether the command should stop with
// the returned exit code.
func parseFlags(fs *flag.FlagSet, args []string) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0, true
		}
		return 1, true
	}
	return 0, false
}

func newFlagSet(name, usageLine string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: %s\n\nOptions:\n", usageLine)
		fs.PrintDefaults()
	}
	return fs
}

// FormatCodeWithSpaces spaces out a pairing code for display: "AB23CD" -> "AB2 3CD".
func FormatCodeWithSpaces(code string) string {
	if len(code) != 6 {
		return code
	}
	return code[:3] + " " + code[3:]
}

func explicitFlags(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return set
}

func unreachable(stderr io.Writer, socket string, err error) int {
	fmt.Fprintf(stderr, "Error: %v\n", err)
	if apperrors.IsCode(err, apperrors.CodeRPCFailed) {
		fmt.Fprintf(stderr, "Is 'deckyboard serve' running? (socket: %s)\n", socket)
	}
	return 1
}
