package keyboard

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	apperrors "github.com/deckyboard/host/internal/errors"
)

const (
	// sendBufferSize is the number of outbound messages queued per client.
	sendBufferSize = 64

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	// maxMessageBytes caps inbound frames; key messages are tiny.
	maxMessageBytes = 4096
)

// Client is one browser WebSocket connection.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server

	send     chan OutboundMessage
	done     chan struct{}
	sendOnce sync.Once

	keyLimiter *rate.Limiter

	// authenticated is guarded by server.mu.
	authenticated bool
}

func newClient(s *Server, conn *websocket.Conn) *Client {
	return &Client{
		id:         uuid.NewString(),
		conn:       conn,
		server:     s,
		send:       make(chan OutboundMessage, sendBufferSize),
		done:       make(chan struct{}),
		keyLimiter: rate.NewLimiter(s.keyRate, s.keyBurst),
	}
}

// closeSend signals the write pump to flush and close, exactly once.
func (c *Client) closeSend() {
	c.sendOnce.Do(func() {
		close(c.done)
	})
}

// enqueue queues msg unless the client is closing. A full queue drops the
// message rather than stalling the read loop.
func (c *Client) enqueue(msg OutboundMessage) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- msg:
	default:
		log.Printf("keyboard: client %s send queue full, dropping %s", c.id, msg.Type)
	}
}

// writePump writes queued messages and pings. On shutdown it flushes what
// is queued, sends a close frame and closes the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.flush()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				log.Printf("keyboard: client %s write error: %v", c.id, err)
				c.closeSend()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.closeSend()
				return
			}
		}
	}
}

func (c *Client) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(msg OutboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// readPump handles inbound messages until the connection fails, the client
// fails authentication or the server shuts down.
func (c *Client) readPump() {
	defer func() {
		c.server.unregister(c)
		c.closeSend()
		log.Printf("keyboard: connection %s closed", c.id)
	}()

	c.conn.SetReadLimit(maxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	authed := false
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				log.Printf("keyboard: client %s read error: %v", c.id, err)
			}
			return
		}

		var msg InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.enqueue(errorMessage(apperrors.CodeKeyboardInvalidMessage, "invalid message format"))
			continue
		}

		if !authed {
			// Anything but auth is ignored until the client authenticates.
			if msg.Type != MessageTypeAuth {
				continue
			}
			if !c.handleAuth(msg) {
				return
			}
			authed = true
			continue
		}

		switch msg.Type {
		case MessageTypeKeyDown:
			c.handleKey(msg, true)
		case MessageTypeKeyUp:
			c.handleKey(msg, false)
		case MessageTypeAuth:
			// Already authenticated; a repeat is harmless.
			c.enqueue(authSuccess())
		default:
			c.enqueue(errorMessage(apperrors.CodeKeyboardInvalidMessage, "unknown message type: "+msg.Type))
		}
	}
}

// handleAuth checks the pairing code. It returns false when the connection
// must close.
func (c *Client) handleAuth(msg InboundMessage) bool {
	if !c.server.authLimiter.Allow() {
		log.Printf("keyboard: client %s auth rate limited", c.id)
		c.enqueue(errorMessage(apperrors.CodeKeyboardRateLimited, "too many attempts, try again shortly"))
		return false
	}
	if !c.server.checkCode(msg.Code) {
		log.Printf("keyboard: client %s authentication failed", c.id)
		c.enqueue(authFailed())
		return false
	}

	c.server.authenticate(c)
	c.enqueue(authSuccess())
	log.Printf("keyboard: client %s authenticated (%d connected)", c.id, c.server.ClientCount())
	return true
}

func (c *Client) handleKey(msg InboundMessage, press bool) {
	if msg.Key == "" {
		c.enqueue(errorMessage(apperrors.CodeKeyboardInvalidMessage, "missing key"))
		return
	}
	if !c.keyLimiter.Allow() {
		c.enqueue(errorMessage(apperrors.CodeKeyboardRateLimited, "rate limit exceeded"))
		return
	}

	ev := KeyEvent{Key: msg.Key, Modifiers: msg.Modifiers, Press: press}
	if err := c.server.injector.Inject(context.Background(), ev); err != nil {
		// Injection failures are logged only; the client still gets its ack.
		log.Printf("keyboard: %v", apperrors.InjectFailed(msg.Key, err))
	}
	c.enqueue(ack(msg.Key))
}
