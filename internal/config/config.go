// Package config provides TOML configuration file loading for deckyboard.
// The configuration file lives at ~/.deckyboard/config.toml by default, but can be
// overridden with the --config flag. CLI flags always take precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML files
// via struct tags.
type Config struct {
	// Port is the keyboard server port used by start and auto-start.
	// Default: 8765
	Port int `toml:"port"`

	// Hostname is the name shown to users in the server URL.
	// Default: steamdeck.local
	Hostname string `toml:"hostname"`

	// ListenHost is the interface the keyboard server binds.
	// Default: empty (all interfaces)
	ListenHost string `toml:"listen_host"`

	// ControlSocket is the Unix socket the backend serves the control RPCs on.
	// Default: ~/.deckyboard/control.sock
	ControlSocket string `toml:"control_socket"`

	// AuditDB is the SQLite database for session events.
	// Default: ~/.deckyboard/deckyboard.db
	AuditDB string `toml:"audit_db"`

	// AuditMaxEvents bounds the number of retained session events.
	// Default: 1000
	AuditMaxEvents int `toml:"audit_max_events"`

	// PollIntervalMs is how often the panel polls server status.
	// Default: 2000
	PollIntervalMs int `toml:"poll_interval_ms"`

	// MdnsEnabled advertises the running keyboard server as _deckyboard._tcp.
	// Discovery only reveals presence; the pairing code is still required.
	// Default: false
	MdnsEnabled bool `toml:"mdns_enabled"`

	// MdnsName is the advertised instance name.
	// Default: system hostname
	MdnsName string `toml:"mdns_name"`

	// AutoStart starts the keyboard server when the backend starts.
	// Default: false
	AutoStart bool `toml:"auto_start"`

	// KeepAwake holds a sleep inhibitor while the keyboard server runs, so the
	// device does not suspend mid-session.
	// Default: false
	KeepAwake bool `toml:"keep_awake"`

	// YdotoolPath is the ydotool binary used for key injection.
	// Default: ydotool (looked up on PATH)
	YdotoolPath string `toml:"ydotool_path"`

	// LogFile redirects backend logs to a file.
	// Default: empty (stderr)
	LogFile string `toml:"log_file"`
}

// DefaultDir returns ~/.deckyboard.
// Returns an error only if the user's home directory cannot be determined.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".deckyboard"), nil
}

// DefaultConfigPath returns the default config file location: ~/.deckyboard/config.toml.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ApplyDefaults fills every unset field with its default. Paths under the
// home directory are left empty if it cannot be determined.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Hostname == "" {
		c.Hostname = DefaultHostname
	}
	if c.AuditMaxEvents == 0 {
		c.AuditMaxEvents = DefaultAuditMaxEvents
	}
	if c.PollIntervalMs == 0 {
		c.PollIntervalMs = DefaultPollIntervalMs
	}
	if c.YdotoolPath == "" {
		c.YdotoolPath = DefaultYdotoolPath
	}

	dir, err := DefaultDir()
	if err != nil {
		return
	}
	if c.ControlSocket == "" {
		c.ControlSocket = filepath.Join(dir, DefaultControlSocketName)
	}
	if c.AuditDB == "" {
		c.AuditDB = filepath.Join(dir, DefaultAuditDBName)
	}
}

// Validate reports values that can never work.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.PollIntervalMs < 0 {
		return fmt.Errorf("poll_interval_ms must not be negative")
	}
	if c.AuditMaxEvents < 0 {
		return fmt.Errorf("audit_max_events must not be negative")
	}
	return nil
}

// WriteDefault creates a commented config file at the given path.
//
// Behavior:
//   - If the file already exists, returns without error (does not overwrite).
//   - Creates the parent directory if it doesn't exist.
//   - Returns an error if the file cannot be written.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(`# Deckyboard configuration

# Keyboard server port and the hostname shown in its URL
port = %d
hostname = %q

# Advertise the running server on the local network
mdns_enabled = false

# Start the keyboard server together with the backend
auto_start = false

# Block idle sleep while the keyboard server is running (systemd-inhibit)
keep_awake = false

# Panel refresh interval
poll_interval_ms = %d
`, DefaultPort, DefaultHostname, DefaultPollIntervalMs)

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load reads a TOML config file from the given path and returns a Config.
//
// Behavior:
//   - If path is empty, attempts to load from the default location (~/.deckyboard/config.toml).
//     Returns an empty Config without error if the default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed, or has keys
//     this version does not know.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %q in config file %s", undecoded[0].String(), path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}
