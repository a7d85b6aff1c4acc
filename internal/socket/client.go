package socket

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/logger"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/types"
)

const (
	OutboundChanBuffer = 256

	// CloseAuthenticationFailed is sent with the reason when a connection
	// moves to the rejected state.
	CloseAuthenticationFailed = 4401

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

type ConnState int

const (
	StateUnauthenticated ConnState = iota
	StateAuthenticated
	StateRejected
)

func (s ConnState) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateRejected:
		return "rejected"
	}
	return "unauthenticated"
}

// Client is one websocket connection. Its read pump is the only goroutine
// that handles its inbound events; its write pump is the only writer of
// data frames.
type Client struct {
	ID  uuid.UUID
	log *logger.Logger

	conn     *websocket.Conn
	outbound chan []byte
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}

	mu          sync.Mutex
	state       ConnState
	identity    *types.Identity
	closed      bool
	closeCode   int
	closeReason string
}

func NewClient(conn *websocket.Conn, log *logger.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New()
	return &Client{
		ID:        id,
		log:       log.With("conn", id),
		conn:      conn,
		outbound:  make(chan []byte, OutboundChanBuffer),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		closeCode: websocket.CloseNormalClosure,
	}
}

// Context is cancelled once the connection is gone.
func (c *Client) Context() context.Context { return c.ctx }

func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Identity() *types.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// authenticate moves the connection out of the unauthenticated state. It
// succeeds at most once.
func (c *Client) authenticate(identity *types.Identity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUnauthenticated {
		return false
	}
	c.state = StateAuthenticated
	c.identity = identity
	c.log = c.log.With("userID", identity.UserID, "role", identity.Role)
	return true
}

func (c *Client) reject() {
	c.mu.Lock()
	c.state = StateRejected
	c.mu.Unlock()
}

// Send queues a frame without blocking. It reports false when the
// connection is closed or its buffer is full.
func (c *Client) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.outbound <- frame:
		return true
	default:
		return false
	}
}

// Close stops accepting frames. The write pump flushes what is queued, then
// sends a close frame with code and reason. Safe to call more than once.
func (c *Client) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.outbound)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// wait blocks until the write pump has exited or timeout passes, then drops
// the socket.
func (c *Client) wait(timeout time.Duration) {
	select {
	case <-c.done:
	case <-time.After(timeout):
	}
	c.cancel()
	_ = c.conn.Close()
}

// readPump delivers each inbound data frame to handle, one at a time.
// Unauthenticated connections get authDeadline to finish the handshake.
func (c *Client) readPump(authDeadline time.Time, handle func(raw []byte)) error {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(authDeadline)
	c.conn.SetPongHandler(func(string) error {
		if c.State() == StateAuthenticated {
			return c.conn.SetReadDeadline(time.Now().Add(pongWait))
		}
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		handle(data)
		if c.State() == StateRejected || c.isClosed() {
			return nil
		}
	}
}

func (c *Client) extendReadDeadline() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.mu.Lock()
		if !c.closed {
			c.closed = true
			close(c.outbound)
		}
		c.mu.Unlock()
		c.cancel()
		_ = c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case frame, ok := <-c.outbound:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.mu.Lock()
				code, reason := c.closeCode, c.closeReason
				c.mu.Unlock()
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug("Write failed, closing connection", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug("Ping failed, closing connection", "error", err)
				return
			}
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
