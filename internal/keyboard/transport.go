// Package keyboard implements the keyboard-forwarding transport.
//
// A bound Server listens on a TCP port and serves a small browser page at
// "/" and a WebSocket endpoint at "/ws". Browsers authenticate with the
// session's pairing code; afterwards every keydown/keyup message is handed
// to an Injector and acknowledged. The number of authenticated connections
// is reported to the session controller through its Reporter.
package keyboard

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/deckyboard/host/internal/mdns"
	"github.com/deckyboard/host/internal/session"
)

// Default limits. Auth attempts are limited per server, keystrokes per
// connection.
const (
	DefaultAuthRate  = rate.Limit(1)
	DefaultAuthBurst = 5
	DefaultKeyRate   = rate.Limit(100)
	DefaultKeyBurst  = 50
)

// Config configures a Transport.
type Config struct {
	// Injector receives authenticated key events. Defaults to ydotool on PATH.
	Injector Injector

	// ListenHost is the interface to bind. Empty binds all interfaces.
	ListenHost string

	// Advertise enables mDNS advertisement while a server is bound.
	Advertise bool

	// ServiceName is the mDNS instance name. Empty uses the hostname.
	ServiceName string

	AuthRate  rate.Limit
	AuthBurst int
	KeyRate   rate.Limit
	KeyBurst  int
}

// Transport binds keyboard servers. It implements session.Transport.
type Transport struct {
	config Config
}

var _ session.Transport = (*Transport)(nil)

// NewTransport creates a transport, filling zero config fields with
// defaults.
func NewTransport(cfg Config) *Transport {
	if cfg.Injector == nil {
		cfg.Injector = NewYdotool("")
	}
	if cfg.AuthRate == 0 {
		cfg.AuthRate = DefaultAuthRate
	}
	if cfg.AuthBurst == 0 {
		cfg.AuthBurst = DefaultAuthBurst
	}
	if cfg.KeyRate == 0 {
		cfg.KeyRate = DefaultKeyRate
	}
	if cfg.KeyBurst == 0 {
		cfg.KeyBurst = DefaultKeyBurst
	}
	return &Transport{config: cfg}
}

// Bind listens on opts.Port and starts serving. The listener is open when
// Bind returns, so a port conflict is reported here rather than later.
func (t *Transport) Bind(opts session.BindOptions) (session.Handle, error) {
	addr := net.JoinHostPort(t.config.ListenHost, strconv.Itoa(opts.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := newServer(t.config, opts, listener)
	s.start()
	return s, nil
}

// Server is one bound keyboard server. It implements session.Handle.
type Server struct {
	code     string
	reporter session.Reporter
	injector Injector
	keyRate  rate.Limit
	keyBurst int

	listener net.Listener
	http     *http.Server
	upgrader websocket.Upgrader

	authLimiter *rate.Limiter
	advertiser  *mdns.Advertiser

	// mu guards clients and closed.
	mu      sync.Mutex
	clients map[*Client]bool
	closed  bool

	// pumps tracks client goroutines so Shutdown can wait for them.
	pumps sync.WaitGroup

	done chan error
}

func newServer(cfg Config, opts session.BindOptions, listener net.Listener) *Server {
	s := &Server{
		code:        opts.Code,
		reporter:    opts.Reporter,
		injector:    cfg.Injector,
		keyRate:     cfg.KeyRate,
		keyBurst:    cfg.KeyBurst,
		listener:    listener,
		authLimiter: rate.NewLimiter(cfg.AuthRate, cfg.AuthBurst),
		clients:     make(map[*Client]bool),
		done:        make(chan error, 1),
		upgrader: websocket.Upgrader{
			// The page is served by this same server, but browsers on the
			// LAN may reach it under any hostname or address.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	mux := http.NewServeMux()
	mux.Handle("/", pageHandler())
	mux.HandleFunc("/ws", s.handleWebSocket)
	s.http = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Advertise {
		s.advertiser = mdns.NewAdvertiser(mdns.Config{
			Port: listener.Addr().(*net.TCPAddr).Port,
			Name: cfg.ServiceName,
		})
	}
	return s
}

func (s *Server) start() {
	go func() {
		err := s.http.Serve(s.listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("keyboard: server stopped: %v", err)
			s.fail(err)
		}
	}()

	if s.advertiser != nil {
		if err := s.advertiser.Start(); err != nil {
			// Discovery is a convenience; the URL is still shown.
			log.Printf("keyboard: mdns advertisement failed: %v", err)
		}
	}

	log.Printf("keyboard: listening on %s", s.listener.Addr())
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Done delivers a fatal serve error, or is closed after Shutdown.
func (s *Server) Done() <-chan error {
	return s.done
}

// ClientCount returns the number of authenticated clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticatedLocked()
}

// Shutdown closes every client, stops the HTTP server and releases the
// port. The listener is closed before Shutdown returns, even when ctx
// expires while waiting for clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	if s.advertiser != nil {
		s.advertiser.Stop()
	}

	// Hijacked WebSocket connections are invisible to http.Server, so close
	// them here.
	for _, c := range clients {
		c.closeSend()
	}

	err := s.http.Shutdown(ctx)
	if err != nil {
		// Force the listener and any idle connections closed.
		_ = s.http.Close()
	}

	waited := make(chan struct{})
	go func() {
		s.pumps.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		for _, c := range clients {
			_ = c.conn.Close()
		}
		if err == nil {
			err = ctx.Err()
		}
	}

	close(s.done)
	log.Printf("keyboard: server on %s stopped", s.listener.Addr())

	if err != nil {
		return fmt.Errorf("keyboard shutdown: %w", err)
	}
	return nil
}

func (s *Server) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.done <- err:
	default:
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("keyboard: websocket upgrade failed: %v", err)
		return
	}

	client := newClient(s, conn)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.clients[client] = true
	s.pumps.Add(2)
	s.mu.Unlock()

	log.Printf("keyboard: connection %s from %s", client.id, r.RemoteAddr)

	go func() {
		defer s.pumps.Done()
		client.writePump()
	}()
	go func() {
		defer s.pumps.Done()
		client.readPump()
	}()
}

// checkCode compares a submitted code against the session's code.
func (s *Server) checkCode(code string) bool {
	return subtle.ConstantTimeCompare([]byte(code), []byte(s.code)) == 1
}

// authenticate marks c as a counted client and reports the new total.
// Reports happen under mu so the reporter sees counts in order.
func (s *Server) authenticate(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.clients[c] {
		return
	}
	c.authenticated = true
	s.report(s.authenticatedLocked())
}

// unregister removes c and reports the new total if c was counted.
func (s *Server) unregister(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.clients[c] {
		return
	}
	delete(s.clients, c)
	if c.authenticated && !s.closed {
		s.report(s.authenticatedLocked())
	}
}

func (s *Server) authenticatedLocked() int {
	n := 0
	for c := range s.clients {
		if c.authenticated {
			n++
		}
	}
	return n
}

func (s *Server) report(n int) {
	if s.reporter != nil {
		s.reporter.SetClients(n)
	}
}
