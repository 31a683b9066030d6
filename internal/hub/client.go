package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Session is the authenticated identity and ephemeral chat state bound to a
// connection. It exists only after a successful auth frame.
type Session struct {
	UserID      string
	DisplayName string
	CommunityID string
	Role        string
	IsTyping    bool
}

// Client is one live duplex connection plus its (optional) session.
type Client struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu           sync.RWMutex
	session      *Session
	channels     map[string]bool
	lastActivity time.Time
	closed       bool
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		ID:           uuid.NewString(),
		hub:          h,
		conn:         conn,
		send:         make(chan []byte, h.cfg.SendBuffer),
		channels:     make(map[string]bool),
		lastActivity: time.Now(),
	}
}

// Session returns the current session or nil when unauthenticated.
func (c *Client) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	copied := *c.session
	return &copied
}

func (c *Client) setSession(s *Session) {
	c.mu.Lock()
	c.session = s
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// touch refreshes the liveness timestamp.
func (c *Client) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// LastActivity returns the liveness timestamp maintained by the heartbeat
// supervisor and frame handlers.
func (c *Client) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// setTyping flips the typing flag and reports whether the value changed.
// Setting typing also refreshes lastActivity; clearing does not, so the
// sweeper's staleness check stays anchored to the last positive signal.
func (c *Client) setTyping(typing bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.IsTyping == typing {
		return false
	}
	c.session.IsTyping = typing
	if typing {
		c.lastActivity = time.Now()
	}
	return true
}

// clearStaleTyping clears the typing flag only when it is set and the last
// activity is older than ttl. Returns the session for the stop broadcast.
func (c *Client) clearStaleTyping(ttl time.Duration) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || !c.session.IsTyping {
		return nil
	}
	if time.Since(c.lastActivity) <= ttl {
		return nil
	}
	c.session.IsTyping = false
	copied := *c.session
	return &copied
}

func (c *Client) subscribe(channel string) {
	c.mu.Lock()
	c.channels[channel] = true
	c.mu.Unlock()
}

func (c *Client) unsubscribe(channel string) {
	c.mu.Lock()
	delete(c.channels, channel)
	c.mu.Unlock()
}

func (c *Client) subscribedTo(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[channel]
}

// enqueue places a payload on the send queue without blocking. A full queue
// or a closed client drops the payload: delivery is at-most-once.
func (c *Client) enqueue(data []byte) bool {
	if data == nil {
		return false
	}

	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// sendFrame encodes and enqueues an outbound frame to this client only.
func (c *Client) sendFrame(frameType string, payload interface{}) bool {
	return c.enqueue(encodeFrame(frameType, payload))
}

// sendError sends the sender-only error reply.
func (c *Client) sendError(err error) {
	payload := ErrorPayload{
		Code:    errorCode(err),
		Message: err.Error(),
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		payload.RetryAfter = rl.RetryAfter
	}
	c.sendFrame(FrameError, payload)
}

// markClosed flips the closed flag once; the second caller gets false.
func (c *Client) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}

// readPump reads frames from the connection and dispatches them strictly in
// order: the next frame is not read until the current handler, including any
// store calls it awaits, has completed.
func (c *Client) readPump() {
	defer func() {
		c.hub.cleanupClient(c)
		c.conn.Close()
	}()

	readWait := 2 * c.hub.cfg.HeartbeatInterval
	c.conn.SetReadLimit(int64(c.hub.cfg.MaxMessageLength) + 1024)
	c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readWait))
		c.touch()
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read failed", "client_id", c.ID, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(readWait))

		if !c.hub.handleFrame(c, data) {
			return
		}
	}
}

// writePump drains the send queue to the connection and runs the
// per-connection heartbeat timer.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
