// Package mdns advertises a running keyboard server on the local network.
//
// The advertisement uses DNS-SD with service type _deckyboard._tcp and TXT
// records carrying the protocol version, a display name and the path of the
// client page. Discovery only reveals presence; the pairing code is still
// required to type anything.
package mdns

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service type for keyboard servers.
const ServiceType = "_deckyboard._tcp"

// ProtocolVersion identifies the browser message protocol.
const ProtocolVersion = "1"

// Config holds configuration for mDNS advertisement.
type Config struct {
	// Port is the keyboard server port to advertise.
	Port int

	// Name is the instance name. Defaults to the system hostname.
	Name string
}

// Advertiser manages mDNS/DNS-SD service registration.
type Advertiser struct {
	config Config
	server shutdowner
	mu     sync.Mutex

	// register is swapped out in tests.
	register func(instance, service, domain string, port int, text []string) (shutdowner, error)
}

type shutdowner interface {
	Shutdown()
}

// NewAdvertiser creates a new mDNS advertiser with the given configuration.
func NewAdvertiser(cfg Config) *Advertiser {
	return &Advertiser{
		config:   cfg,
		register: registerZeroconf,
	}
}

func registerZeroconf(instance, service, domain string, port int, text []string) (shutdowner, error) {
	// nil interfaces means all of them.
	return zeroconf.Register(instance, service, domain, port, text, nil)
}

// Start begins advertising. Calling Start while already advertising is a
// no-op.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}
	if a.config.Port <= 0 {
		return fmt.Errorf("mdns: invalid port %d", a.config.Port)
	}

	name := instanceName(a.config.Name)
	server, err := a.register(name, ServiceType, "local.", a.config.Port, TXTRecords(name))
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}

	a.server = server
	return nil
}

// Stop unregisters the service. Safe to call repeatedly or before Start.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// IsRunning reports whether the service is currently registered.
func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// TXTRecords builds the TXT records advertised for an instance name.
func TXTRecords(name string) []string {
	return []string{
		"version=" + ProtocolVersion,
		"name=" + name,
		"path=/",
	}
}

func instanceName(name string) string {
	if name != "" {
		return name
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "deckyboard"
	}
	return hostname
}

// DiscoveredHost is a keyboard server found on the local network.
type DiscoveredHost struct {
	Name    string
	Host    string
	Port    int
	Version string
	Path    string
}

// URL returns the browser address of the discovered server.
func (h DiscoveredHost) URL() string {
	path := h.Path
	if path == "" {
		path = "/"
	}
	host := h.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("http://%s:%d%s", host, h.Port, path)
}

// Discover browses for keyboard servers until ctx is done.
func Discover(ctx context.Context) ([]DiscoveredHost, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	var (
		hosts []DiscoveredHost
		mu    sync.Mutex
		wg    sync.WaitGroup
	)

	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			host := parseEntry(entry.Instance, entry.Port, entry.Text)
			if len(entry.AddrIPv4) > 0 {
				host.Host = entry.AddrIPv4[0].String()
			} else if len(entry.AddrIPv6) > 0 {
				host.Host = entry.AddrIPv6[0].String()
			}

			mu.Lock()
			hosts = append(hosts, host)
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	<-ctx.Done()

	// zeroconf closes entries once ctx is done.
	wg.Wait()

	return hosts, nil
}

func parseEntry(instance string, port int, text []string) DiscoveredHost {
	host := DiscoveredHost{Name: instance, Port: port}
	for _, txt := range text {
		key, value, ok := strings.Cut(txt, "=")
		if !ok {
			continue
		}
		switch key {
		case "version":
			host.Version = value
		case "name":
			host.Name = value
		case "path":
			host.Path = value
		}
	}
	return host
}
