package hub

// handleTyping updates the session's typing flag and broadcasts the status
// change to the room. Repeated typing frames refresh lastActivity so the
// sweeper does not expire an active typist, but only transitions broadcast.
func (h *Hub) handleTyping(c *Client, typing bool) error {
	session := c.Session()
	if session == nil {
		return ErrNotAuthenticated
	}
	if session.CommunityID == "" {
		// No room to announce to; treat as a liveness signal.
		c.touch()
		return nil
	}

	changed := c.setTyping(typing)
	if typing {
		c.touch()
	}
	if !changed {
		return nil
	}

	h.caster.Broadcast(session.CommunityID, FrameTypingStatus, TypingStatusPayload{
		CommunityID: session.CommunityID,
		UserID:      session.UserID,
		DisplayName: session.DisplayName,
		IsTyping:    typing,
	}, c)

	return nil
}
