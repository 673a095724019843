package main

import (
	"fmt"
	"io"
	"os"

	"github.com/deckyboard/host/internal/config"
)

// runInit writes a commented default config file.
func runInit(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("init", "deckyboard init [options]", stderr)
	path := fs.String("config", "", "Where to write the config (default: ~/.deckyboard/config.toml)")

	if code, stop := parseFlags(fs, args); stop {
		return code
	}

	target := *path
	if target == "" {
		p, err := config.DefaultConfigPath()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		target = p
	}

	if _, err := os.Stat(target); err == nil {
		fmt.Fprintf(stdout, "Config already exists at %s\n", target)
		return 0
	}

	if err := config.WriteDefault(target); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Wrote %s\n", target)
	return 0
}
