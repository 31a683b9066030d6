package hub

import (
	"encoding/json"
	"fmt"
)

// handleAuth runs the authentication pipeline: token resolve, identity
// lookup, membership gate, community policy fetch, then registration and the
// welcome sequence (auth_success, presence snapshot, history replay,
// user_joined announcement).
func (h *Hub) handleAuth(c *Client, raw json.RawMessage) error {
	if c.Session() != nil {
		return ErrAlreadyAuthed
	}

	var payload AuthPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Token == "" {
		return fmt.Errorf("%w: auth payload", ErrMalformedFrame)
	}

	ctx, cancel := h.storeCtx()
	defer cancel()

	userID, err := h.stores.Sessions.Resolve(ctx, payload.Token)
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}
	if userID == "" {
		return ErrInvalidToken
	}

	user, err := h.stores.Users.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		return ErrInvalidToken
	}

	session := &Session{
		UserID:      user.ID,
		DisplayName: user.DisplayName,
	}

	var community *Community
	if payload.CommunityID != "" {
		membership, err := h.stores.Memberships.GetMembership(ctx, payload.CommunityID, userID)
		if err != nil {
			return fmt.Errorf("lookup membership: %w", err)
		}
		if membership == nil || membership.Status != MembershipApproved {
			return ErrNotMember
		}

		community, err = h.stores.Communities.GetCommunity(ctx, payload.CommunityID)
		if err != nil {
			return fmt.Errorf("lookup community: %w", err)
		}
		if community == nil {
			return ErrMissingCommunity
		}

		session.CommunityID = community.ID
		session.Role = membership.Role
	}

	c.setSession(session)
	joined := h.reg.Register(c, session)

	h.log.Info("client authenticated",
		"client_id", c.ID,
		"user_id", session.UserID,
		"community_id", session.CommunityID,
		"role", session.Role)

	c.sendFrame(FrameAuthSuccess, AuthSuccessPayload{
		UserID:      session.UserID,
		DisplayName: session.DisplayName,
		CommunityID: session.CommunityID,
		Role:        session.Role,
	})

	if community == nil {
		return nil
	}

	// Presence snapshot for the new connection only.
	online, err := h.OnlineUsers(ctx, community.ID)
	if err != nil {
		h.log.Error("presence snapshot failed", "community_id", community.ID, "error", err)
	} else {
		c.sendFrame(FrameOnlineUsers, OnlineUsersPayload{
			CommunityID: community.ID,
			Users:       online,
		})
	}

	h.replayHistory(c, community.ID)

	if joined {
		h.caster.Broadcast(community.ID, FrameUserJoined, PresencePayload{
			CommunityID: community.ID,
			UserID:      session.UserID,
			DisplayName: session.DisplayName,
			Role:        session.Role,
		}, c)
	}

	return nil
}

// replayHistory sends the most recent persisted messages to the new
// connection only, oldest first.
func (h *Hub) replayHistory(c *Client, communityID string) {
	if h.cfg.HistoryLimit == 0 {
		return
	}

	ctx, cancel := h.storeCtx()
	defer cancel()

	messages, err := h.stores.Messages.History(ctx, communityID, h.cfg.HistoryLimit, 0)
	if err != nil {
		h.log.Error("history replay failed", "community_id", communityID, "error", err)
		return
	}

	c.sendFrame(FrameMessageHistory, HistoryPayload{
		CommunityID: communityID,
		Messages:    messages,
	})
}
