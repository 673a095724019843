package config

import "strconv"

// DefaultPort is the keyboard server port.
const DefaultPort = 8765

// DefaultHostname is the host shown in the server URL.
const DefaultHostname = "steamdeck.local"

// DefaultPollIntervalMs is the panel's status poll interval.
const DefaultPollIntervalMs = 2000

// DefaultAuditMaxEvents bounds the session event log.
const DefaultAuditMaxEvents = 1000

// DefaultYdotoolPath is resolved on PATH.
const DefaultYdotoolPath = "ydotool"

// File names under the deckyboard directory.
const (
	DefaultControlSocketName = "control.sock"
	DefaultAuditDBName       = "deckyboard.db"
)

// ServerURL formats the address users type into a browser.
func ServerURL(hostname string, port int) string {
	return "http://" + hostname + ":" + strconv.Itoa(port)
}
