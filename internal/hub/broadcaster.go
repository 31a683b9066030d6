package hub

// DeliverFunc is the broadcaster's send primitive. The default delivers to
// the local send queue; a multi-instance deployment can swap in a pub/sub
// backed implementation without touching the policy engine or the registry.
type DeliverFunc func(c *Client, data []byte) bool

// Broadcaster fans payloads out to live connections. Delivery is best-effort
// and at-most-once: dead or saturated connections are silently skipped.
type Broadcaster struct {
	registry *Registry
	metrics  *Metrics
	deliver  DeliverFunc
}

func NewBroadcaster(registry *Registry, metrics *Metrics, deliver DeliverFunc) *Broadcaster {
	if deliver == nil {
		deliver = func(c *Client, data []byte) bool { return c.enqueue(data) }
	}
	return &Broadcaster{registry: registry, metrics: metrics, deliver: deliver}
}

// Broadcast sends a frame to every connection scoped to the community,
// except the excluded one. Recipients see the payload in iteration order of
// one dispatch pass; concurrent broadcasts are unordered relative to each
// other.
func (b *Broadcaster) Broadcast(communityID, frameType string, payload interface{}, exclude *Client) int {
	data := encodeFrame(frameType, payload)
	if data == nil {
		return 0
	}

	sent := 0
	for _, c := range b.registry.RoomSnapshot(communityID) {
		if c == exclude {
			continue
		}
		if b.deliver(c, data) {
			sent++
		} else {
			b.metrics.DroppedSends.Inc()
		}
	}
	b.metrics.BroadcastRecipients.Add(float64(sent))
	return sent
}

// SendToUser sends a frame to all of a user's live connections. When channel
// is non-empty only connections subscribed to that channel receive it.
func (b *Broadcaster) SendToUser(userID, frameType string, payload interface{}, channel string) int {
	data := encodeFrame(frameType, payload)
	if data == nil {
		return 0
	}

	sent := 0
	for _, c := range b.registry.UserSnapshot(userID) {
		if channel != "" && !c.subscribedTo(channel) {
			continue
		}
		if b.deliver(c, data) {
			sent++
		} else {
			b.metrics.DroppedSends.Inc()
		}
	}
	return sent
}

// BroadcastToSubscribed sends a frame to every connection in the room that is
// subscribed to the given channel.
func (b *Broadcaster) BroadcastToSubscribed(communityID, frameType string, payload interface{}, channel string) int {
	data := encodeFrame(frameType, payload)
	if data == nil {
		return 0
	}

	sent := 0
	for _, c := range b.registry.RoomSnapshot(communityID) {
		if channel != "" && !c.subscribedTo(channel) {
			continue
		}
		if b.deliver(c, data) {
			sent++
		} else {
			b.metrics.DroppedSends.Inc()
		}
	}
	return sent
}
