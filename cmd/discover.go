package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/deckyboard/host/internal/mdns"
)

// runDiscover browses the local network for advertised keyboard servers.
func runDiscover(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("discover", "deckyboard discover [options]", stderr)
	timeout := fs.Duration("timeout", 3*time.Second, "How long to browse")
	jsonOut := fs.Bool("json", false, "Output in JSON format")

	if code, stop := parseFlags(fs, args); stop {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	hosts, err := mdns.Discover(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		out := make([]map[string]interface{}, 0, len(hosts))
		for _, h := range hosts {
			out = append(out, map[string]interface{}{
				"name":    h.Name,
				"url":     h.URL(),
				"version": h.Version,
			})
		}
		writeJSON(stdout, out)
		return 0
	}

	if len(hosts) == 0 {
		fmt.Fprintln(stdout, "No keyboard servers found.")
		return 0
	}
	for _, h := range hosts {
		fmt.Fprintf(stdout, "%s\t%s\n", h.Name, h.URL())
	}
	return 0
}
