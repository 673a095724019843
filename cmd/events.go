package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/deckyboard/host/internal/config"
	"github.com/deckyboard/host/internal/storage"
)

// eventJSON is the --json shape of one session event.
type eventJSON struct {
	ID        int64  `json:"id"`
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"`
	Port      int    `json:"port"`
	Clients   int    `json:"clients"`
	Reason    string `json:"reason,omitempty"`
	At        string `json:"at"`
}

// runEvents lists recorded session events, newest first.
func runEvents(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("events", "deckyboard events [options]", stderr)
	configPath := fs.String("config", "", "Path to config file (default: ~/.deckyboard/config.toml)")
	dbPath := fs.String("audit-db", "", "Session event database (default: ~/.deckyboard/deckyboard.db)")
	sessionID := fs.String("session", "", "Only show events for this session ID")
	limit := fs.Int("limit", 20, "Maximum number of events to show (0 for all)")
	jsonOut := fs.Bool("json", false, "Output in JSON format")

	if code, stop := parseFlags(fs, args); stop {
		return code
	}
	if *limit < 0 {
		fmt.Fprintln(stderr, "Error: --limit must not be negative")
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *dbPath != "" {
		cfg.AuditDB = *dbPath
	}
	cfg.ApplyDefaults()

	if _, err := os.Stat(cfg.AuditDB); os.IsNotExist(err) {
		fmt.Fprintf(stderr, "Error: no audit database at %s\n", cfg.AuditDB)
		return 1
	}

	// Storage logs are noise on a one-shot listing.
	prev := log.Writer()
	log.SetOutput(io.Discard)
	defer log.SetOutput(prev)

	store, err := storage.NewSQLiteStore(cfg.AuditDB)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	events, err := store.ListSessionEvents(storage.EventFilter{SessionID: *sessionID, Limit: *limit})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		out := make([]eventJSON, 0, len(events))
		for _, ev := range events {
			out = append(out, eventJSON{
				ID:        ev.ID,
				SessionID: ev.SessionID,
				Kind:      ev.Kind,
				Port:      ev.Port,
				Clients:   ev.Clients,
				Reason:    ev.Reason,
				At:        ev.At.UTC().Format(time.RFC3339),
			})
		}
		writeJSON(stdout, out)
		return 0
	}

	if len(events) == 0 {
		fmt.Fprintln(stdout, "No session events recorded.")
		return 0
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSESSION\tEVENT\tPORT\tCLIENTS\tREASON")
	for _, ev := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			ev.At.Local().Format("2006-01-02 15:04:05"),
			shortID(ev.SessionID), ev.Kind, ev.Port, ev.Clients, ev.Reason)
	}
	tw.Flush()
	return 0
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
