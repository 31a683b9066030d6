package hub

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleWebSocket upgrades the one reserved path to a websocket connection
// and starts the pumps. All other paths never reach this handler; the router
// owns that separation.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := newClient(h, conn)
	h.metrics.ConnectionsOpen.Inc()
	h.log.Info("client connected", "client_id", c.ID, "remote", r.RemoteAddr)

	go c.writePump()

	// Initial liveness probe.
	c.sendFrame(FramePing, PingPayload{Time: time.Now()})

	go c.readPump()
}

// handleFrame dispatches one inbound frame. It returns false when the
// connection must close (auth failures only). Malformed frames get an error
// reply and the connection stays open; a panic in one handler is contained
// to an error reply so one connection cannot take down the hub.
func (h *Hub) handleFrame(c *Client, data []byte) (keepOpen bool) {
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error("frame handler panicked", "client_id", c.ID, "panic", rec)
			c.sendError(errors.New("internal error"))
			keepOpen = true
		}
	}()

	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type == "" {
		c.sendError(ErrMalformedFrame)
		return true
	}

	h.metrics.FramesReceived.WithLabelValues(frame.Type).Inc()

	var err error
	switch frame.Type {
	case FrameAuth:
		err = h.handleAuth(c, frame.Payload)

	case FramePing:
		c.touch()
		c.sendFrame(FramePong, PingPayload{Time: time.Now()})
		return true

	case FrameMessage:
		err = h.handleChatMessage(c, frame.Payload)

	case FrameTyping:
		err = h.handleTyping(c, true)

	case FrameTypingStop:
		err = h.handleTyping(c, false)

	case FrameSubscribe:
		err = h.handleSubscribe(c, frame.Payload, true)

	case FrameUnsubscribe:
		err = h.handleSubscribe(c, frame.Payload, false)

	default:
		err = ErrUnknownFrameType
	}

	if err == nil {
		return true
	}

	c.sendError(err)
	if closesConnection(err) {
		h.log.Warn("closing connection after auth failure",
			"client_id", c.ID, "error", err)
		return false
	}
	return true
}

// handleSubscribe mutates the connection's notification channel set.
func (h *Hub) handleSubscribe(c *Client, raw json.RawMessage, subscribe bool) error {
	if c.Session() == nil {
		return ErrNotAuthenticated
	}

	var payload ChannelPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ErrMalformedFrame
	}
	if payload.Channel == "" {
		return ErrEmptyChannel
	}

	if subscribe {
		c.subscribe(payload.Channel)
		c.sendFrame(FrameSubscribed, ChannelPayload{Channel: payload.Channel})
	} else {
		c.unsubscribe(payload.Channel)
		c.sendFrame(FrameUnsubscribed, ChannelPayload{Channel: payload.Channel})
	}
	return nil
}
