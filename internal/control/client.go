package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	apperrors "github.com/deckyboard/host/internal/errors"
	"github.com/deckyboard/host/internal/observer"
)

// DefaultCallTimeout bounds each RPC. Start and stop include a transport
// bind or shutdown on the far side, so this is generous.
const DefaultCallTimeout = 10 * time.Second

// Client calls the control RPCs over a Unix socket. It implements
// observer.Backend.
type Client struct {
	socketPath string
	http       *http.Client
}

var _ observer.Backend = (*Client)(nil)

// NewClient creates a client for the socket at path.
func NewClient(path string) *Client {
	return &Client{
		socketPath: path,
		http: &http.Client{
			Timeout: DefaultCallTimeout,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					var dialer net.Dialer
					return dialer.DialContext(ctx, "unix", path)
				},
			},
		},
	}
}

// Start calls start_server.
func (c *Client) Start(ctx context.Context, port int) (observer.StartReply, error) {
	var resp StartResponse
	if err := c.call(ctx, http.MethodPost, PathStartServer, StartRequest{Port: port}, &resp); err != nil {
		return observer.StartReply{}, apperrors.RPCFailed("start_server", err)
	}
	return observer.StartReply{Success: resp.Success, Code: resp.Code, Port: resp.Port}, nil
}

// Stop calls stop_server.
func (c *Client) Stop(ctx context.Context) (observer.StopReply, error) {
	var resp StopResponse
	if err := c.call(ctx, http.MethodPost, PathStopServer, nil, &resp); err != nil {
		return observer.StopReply{}, apperrors.RPCFailed("stop_server", err)
	}
	return observer.StopReply{Success: resp.Success}, nil
}

// Status calls get_server_status.
func (c *Client) Status(ctx context.Context) (observer.Snapshot, error) {
	var resp StatusResponse
	if err := c.call(ctx, http.MethodGet, PathStatus, nil, &resp); err != nil {
		return observer.Snapshot{}, apperrors.RPCFailed("get_server_status", err)
	}
	snap := observer.Snapshot{Running: resp.Running, Clients: resp.Clients}
	if resp.Code != nil {
		snap.Code = *resp.Code
	}
	return snap, nil
}

func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	// The host part is ignored; DialContext always targets the socket.
	req, err := http.NewRequestWithContext(ctx, method, "http://unix"+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("could not reach backend at %s: %w", c.socketPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
