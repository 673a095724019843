package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/deckyboard/host/internal/config"
	"github.com/deckyboard/host/internal/control"
	apperrors "github.com/deckyboard/host/internal/errors"
	"github.com/deckyboard/host/internal/keepawake"
	"github.com/deckyboard/host/internal/keyboard"
	"github.com/deckyboard/host/internal/session"
	"github.com/deckyboard/host/internal/storage"
)

// serveFlags holds the command-line flags for serve.
type serveFlags struct {
	Config        string
	Port          int
	Hostname      string
	ListenHost    string
	ControlSocket string
	AuditDB       string
	NoAudit       bool
	Mdns          bool
	MdnsName      string
	AutoStart     bool
	KeepAwake     bool
	Ydotool       string
	LogFile       string
}

// runServe runs the backend until it receives a termination signal.
func runServe(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("serve", "deckyboard serve [options]", stderr)

	var flags serveFlags
	fs.StringVar(&flags.Config, "config", "", "Path to config file (default: ~/.deckyboard/config.toml)")
	fs.IntVar(&flags.Port, "port", 0, "Port used by --auto-start (default: 8765)")
	fs.StringVar(&flags.Hostname, "hostname", "", "Hostname printed in the connect URL (default: steamdeck.local)")
	fs.StringVar(&flags.ListenHost, "listen-host", "", "Interface the keyboard server binds (default: all)")
	fs.StringVar(&flags.ControlSocket, "socket", "", "Control socket path (default: ~/.deckyboard/control.sock)")
	fs.StringVar(&flags.AuditDB, "audit-db", "", "Session event database (default: ~/.deckyboard/deckyboard.db)")
	fs.BoolVar(&flags.NoAudit, "no-audit", false, "Do not record session events")
	fs.BoolVar(&flags.Mdns, "mdns", false, "Advertise the keyboard server via mDNS")
	fs.StringVar(&flags.MdnsName, "mdns-name", "", "mDNS instance name (default: hostname)")
	fs.BoolVar(&flags.AutoStart, "auto-start", false, "Start the keyboard server immediately")
	fs.BoolVar(&flags.KeepAwake, "keep-awake", false, "Block idle sleep while the keyboard server runs")
	fs.StringVar(&flags.Ydotool, "ydotool", "", "Path to the ydotool binary (default: ydotool on PATH)")
	fs.StringVar(&flags.LogFile, "log-file", "", "Append logs to this file instead of stderr")

	if code, stop := parseFlags(fs, args); stop {
		return code
	}

	explicit := explicitFlags(fs)

	fileCfg, err := config.Load(flags.Config)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	cfg := mergeServeConfig(flags, explicit, fileCfg)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to open log file: %v\n", err)
			return 1
		}
		defer f.Close()
		log.SetOutput(f)
		defer log.SetOutput(os.Stderr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(stdout, "\nReceived %v, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := serve(ctx, cfg, !flags.NoAudit, stdout); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// mergeServeConfig layers explicit flags over the config file. String and
// int flags win when non-empty; booleans win only when set on the command
// line so a file value of true survives an unset flag.
func mergeServeConfig(flags serveFlags, explicit map[string]bool, file *config.Config) *config.Config {
	cfg := *file

	if flags.Port != 0 {
		cfg.Port = flags.Port
	}
	if flags.Hostname != "" {
		cfg.Hostname = flags.Hostname
	}
	if flags.ListenHost != "" {
		cfg.ListenHost = flags.ListenHost
	}
	if flags.ControlSocket != "" {
		cfg.ControlSocket = flags.ControlSocket
	}
	if flags.AuditDB != "" {
		cfg.AuditDB = flags.AuditDB
	}
	if flags.MdnsName != "" {
		cfg.MdnsName = flags.MdnsName
	}
	if flags.Ydotool != "" {
		cfg.YdotoolPath = flags.Ydotool
	}
	if flags.LogFile != "" {
		cfg.LogFile = flags.LogFile
	}
	if explicit["mdns"] {
		cfg.MdnsEnabled = flags.Mdns
	}
	if explicit["auto-start"] {
		cfg.AutoStart = flags.AutoStart
	}
	if explicit["keep-awake"] {
		cfg.KeepAwake = flags.KeepAwake
	}
	return &cfg
}

// serve wires the controller to its transport, audit log and control
// socket, and blocks until ctx is done.
func serve(ctx context.Context, cfg *config.Config, audit bool, stdout io.Writer) error {
	var (
		recorders session.Recorders
		events    *storage.EventRecorder
		store     *storage.SQLiteStore
		awake     *keepawake.SessionHook
	)
	if audit && cfg.AuditDB != "" {
		var err error
		store, err = openAuditStore(cfg.AuditDB)
		if err != nil {
			// The keyboard works without an audit log.
			log.Printf("serve: warning: %v", apperrors.Wrap(apperrors.CodeStorageOpenFailed, "audit log disabled", err))
		} else {
			events = storage.NewEventRecorder(store, cfg.AuditMaxEvents)
			recorders = append(recorders, events)
		}
	}
	if cfg.KeepAwake {
		awake = keepawake.NewSessionHook(keepawake.NewManager(keepawake.NewDefaultAdapter(), keepawake.Options{}))
		recorders = append(recorders, awake)
	}
	var recorder session.Recorder
	if len(recorders) > 0 {
		recorder = recorders
	}

	transport := keyboard.NewTransport(keyboard.Config{
		Injector:    keyboard.NewYdotool(cfg.YdotoolPath),
		ListenHost:  cfg.ListenHost,
		Advertise:   cfg.MdnsEnabled,
		ServiceName: cfg.MdnsName,
	})
	controller := session.NewController(session.Config{
		Transport: transport,
		Recorder:  recorder,
	})

	socket := control.NewSocketServer(cfg.ControlSocket, control.NewHandler(controller), log.Default())
	if err := socket.Start(); err != nil {
		controller.Close()
		closeRecorders(awake, events, store)
		return err
	}
	fmt.Fprintf(stdout, "Control socket: %s\n", socket.Path())

	if cfg.AutoStart {
		res := controller.Start(cfg.Port)
		if res.Success {
			printStarted(stdout, cfg.Hostname, res.Port, res.Code)
		} else {
			fmt.Fprintf(stdout, "Auto-start failed: port %d unavailable\n", cfg.Port)
		}
	}

	fmt.Fprintln(stdout, "Backend ready. Press Ctrl+C to exit.")
	<-ctx.Done()

	if err := socket.Stop(); err != nil {
		log.Printf("serve: control socket stop: %v", err)
	}
	controller.Close()
	closeRecorders(awake, events, store)
	return nil
}

func openAuditStore(path string) (*storage.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	return storage.NewSQLiteStore(path)
}

func closeRecorders(awake *keepawake.SessionHook, events *storage.EventRecorder, store *storage.SQLiteStore) {
	if awake != nil {
		awake.Close()
	}
	if events != nil {
		events.Close()
	}
	if store != nil {
		store.Close()
	}
}

func printStarted(w io.Writer, hostname string, port int, code string) {
	fmt.Fprintf(w, "Keyboard server running\n")
	fmt.Fprintf(w, "  Connect: %s\n", config.ServerURL(hostname, port))
	fmt.Fprintf(w, "  Code:    %s\n", FormatCodeWithSpaces(code))
}
