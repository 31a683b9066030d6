// Package hub implements the realtime presence, chat-broadcast and
// notification subsystem: it authenticates websocket connections, tracks who
// is present in which community room, enforces per-room send policy and fans
// payloads out to live recipients. Persistence lives behind the narrow store
// interfaces in stores.go.
package hub

import (
	"context"
	"time"

	"commune/internal/config"
)

// Hub owns the registry, the broadcaster and the background sweepers. It is
// constructed and shut down explicitly and injected into the gateway; there
// is no package-level state.
type Hub struct {
	cfg     config.HubConfig
	stores  Stores
	reg     *Registry
	caster  *Broadcaster
	log     Logger
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a hub. deliver may be nil for local in-process delivery;
// a non-nil deliver swaps the broadcast send primitive (the multi-instance
// extension point).
func New(cfg config.HubConfig, stores Stores, log Logger, deliver DeliverFunc) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		cfg:     cfg,
		stores:  stores,
		reg:     NewRegistry(),
		log:     log,
		metrics: NewMetrics(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	h.caster = NewBroadcaster(h.reg, h.metrics, deliver)
	return h
}

// Run starts the typing sweeper and blocks until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	ticker := time.NewTicker(h.cfg.TypingSweep)
	defer ticker.Stop()

	h.log.Info("hub started",
		"heartbeat", h.cfg.HeartbeatInterval,
		"typing_ttl", h.cfg.TypingTTL,
		"history_limit", h.cfg.HistoryLimit)

	for {
		select {
		case <-ticker.C:
			h.sweepTyping()
		case <-h.ctx.Done():
			h.log.Info("hub stopping")
			return
		}
	}
}

// Shutdown stops the sweeper and closes every connection. Safe to call more
// than once.
func (h *Hub) Shutdown() {
	h.cancel()
	<-h.done

	for _, c := range h.reg.AllClients() {
		h.cleanupClient(c)
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// cleanupClient removes every index entry referencing the connection and
// announces the departure. Idempotent: the second invocation for the same
// connection is a no-op.
func (h *Hub) cleanupClient(c *Client) {
	first := c.markClosed()

	dep := h.reg.Deregister(c, c.Session())
	if !dep.Removed {
		if first {
			h.metrics.ConnectionsOpen.Dec()
		}
		return
	}

	h.metrics.ConnectionsOpen.Dec()
	h.log.Info("client disconnected",
		"client_id", c.ID,
		"user_id", dep.UserID,
		"community_id", dep.CommunityID)

	if dep.UserLeft {
		h.caster.Broadcast(dep.CommunityID, FrameUserLeft, PresencePayload{
			CommunityID: dep.CommunityID,
			UserID:      dep.UserID,
			DisplayName: dep.DisplayName,
		}, nil)
	}
}

// sweepTyping force-clears typing flags whose last refresh is older than the
// TTL, bounding staleness even for ungraceful disconnects.
func (h *Hub) sweepTyping() {
	for _, c := range h.reg.AllClients() {
		s := c.clearStaleTyping(h.cfg.TypingTTL)
		if s == nil || s.CommunityID == "" {
			continue
		}
		h.metrics.TypingExpired.Inc()
		h.caster.Broadcast(s.CommunityID, FrameTypingStatus, TypingStatusPayload{
			CommunityID: s.CommunityID,
			UserID:      s.UserID,
			DisplayName: s.DisplayName,
			IsTyping:    false,
		}, nil)
	}
}

// storeCtx derives the per-call deadline for external store calls.
func (h *Hub) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(h.ctx, h.cfg.StoreTimeout)
}

// Stats returns current index sizes.
func (h *Hub) Stats() Stats {
	return h.reg.Stats()
}

// Metrics exposes the prometheus collectors for the HTTP layer.
func (h *Hub) Metrics() *Metrics {
	return h.metrics
}

// OnlineUsers resolves the presence snapshot of a community.
func (h *Hub) OnlineUsers(ctx context.Context, communityID string) ([]OnlineUser, error) {
	return h.reg.OnlineUsers(ctx, communityID, h.stores.Users, h.stores.Memberships)
}

// SendNotificationToUser pushes a notification to all of a user's
// connections subscribed to the notifications channel. Fire-and-forget: the
// caller never blocks on delivery outcome.
func (h *Hub) SendNotificationToUser(userID string, n Notification) {
	sent := h.caster.SendToUser(userID, FrameNotification, n, NotificationChannel)
	h.metrics.Notifications.Add(float64(sent))
}

// BroadcastNotificationToCommunity pushes a notification to every connected
// member of a community subscribed to the notifications channel.
func (h *Hub) BroadcastNotificationToCommunity(communityID string, n Notification) {
	sent := h.caster.BroadcastToSubscribed(communityID, FrameNotification, n, NotificationChannel)
	h.metrics.Notifications.Add(float64(sent))
}

// PinMessage flips the pinned flag on a persisted message and announces the
// change to the room.
func (h *Hub) PinMessage(ctx context.Context, communityID, messageID string, pinned bool) error {
	if err := h.stores.Messages.SetPinned(ctx, messageID, pinned); err != nil {
		return err
	}
	h.caster.Broadcast(communityID, FrameChatMessage, map[string]interface{}{
		"id":        messageID,
		"is_pinned": pinned,
	}, nil)
	return nil
}

// DeleteMessage soft-deletes a persisted message and announces the removal.
func (h *Hub) DeleteMessage(ctx context.Context, communityID, messageID string) error {
	if err := h.stores.Messages.SoftDelete(ctx, messageID); err != nil {
		return err
	}
	h.caster.Broadcast(communityID, FrameChatMessage, map[string]interface{}{
		"id":         messageID,
		"is_deleted": true,
	}, nil)
	return nil
}
