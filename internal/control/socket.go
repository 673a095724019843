// Package control exposes the session controller's start/stop/status
// operations as a small JSON-over-HTTP RPC on a Unix socket, and provides
// the matching client.
//
// The socket is created 0600 inside a 0700 directory, so only the user who
// runs the backend can start or stop the keyboard server.
package control

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SocketServer serves an http.Handler over a Unix socket.
type SocketServer struct {
	// path is the filesystem location of the Unix socket.
	path string

	// handler is the HTTP handler served over the socket.
	handler http.Handler

	// server is the HTTP server serving the handler.
	server *http.Server

	// listener is the Unix socket listener.
	listener net.Listener

	// logger emits background errors from the server.
	logger *log.Logger

	// mu guards start/stop operations.
	mu sync.Mutex
}

// NewSocketServer creates a control socket server for the given path.
// If logger is nil, logs are discarded.
func NewSocketServer(path string, handler http.Handler, logger *log.Logger) *SocketServer {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &SocketServer{
		path:    path,
		handler: handler,
		logger:  logger,
	}
}

// Path returns the socket path.
func (s *SocketServer) Path() string {
	return s.path
}

// Start begins listening on the configured Unix socket.
// It removes stale socket files, but fails if another backend is active.
func (s *SocketServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return fmt.Errorf("control socket already started")
	}
	if s.path == "" {
		return fmt.Errorf("control socket path is empty")
	}
	if err := validateSocketPath(s.path); err != nil {
		return err
	}
	if s.handler == nil {
		return fmt.Errorf("control socket handler is nil")
	}

	if err := s.prepareSocketDir(); err != nil {
		return err
	}

	if err := s.ensureSocketAvailable(); err != nil {
		return err
	}

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("failed to listen on control socket: %w", err)
	}

	if err := os.Chmod(s.path, 0600); err != nil {
		listener.Close()
		_ = os.Remove(s.path)
		return fmt.Errorf("failed to set control socket permissions: %w", err)
	}

	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.listener = listener
	s.server = server

	// Stop may clear s.server before the goroutine is scheduled.
	go func() {
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("control socket server stopped: %v", err)
		}
	}()

	return nil
}

// Stop shuts down the server and removes the socket file.
func (s *SocketServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stopErr error
	if s.server != nil {
		if err := s.server.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			stopErr = fmt.Errorf("failed to stop control socket server: %w", err)
		}
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.path != "" && s.server != nil {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) && stopErr == nil {
			stopErr = fmt.Errorf("failed to remove control socket: %w", err)
		}
	}

	s.server = nil
	s.listener = nil

	return stopErr
}

func (s *SocketServer) prepareSocketDir() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create control socket directory: %w", err)
	}
	if err := os.Chmod(dir, 0700); err != nil {
		return fmt.Errorf("failed to set control socket directory permissions: %w", err)
	}
	return nil
}

func (s *SocketServer) ensureSocketAvailable() error {
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat control socket: %w", err)
	}

	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("control socket path is not a socket: %s", s.path)
	}

	conn, err := net.DialTimeout("unix", s.path, 200*time.Millisecond)
	if err == nil {
		_ = conn.Close()
		return fmt.Errorf("control socket already in use: %s", s.path)
	}
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("permission denied accessing control socket: %w", err)
	}

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale control socket: %w", err)
	}

	return nil
}
