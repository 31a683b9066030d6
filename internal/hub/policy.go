package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// handleChatMessage runs the per-send pipeline, short-circuiting on the
// first failure: auth check, permission check, rate check, persist,
// broadcast. Failures produce a sender-only error reply; nothing is ever
// partially broadcast.
func (h *Hub) handleChatMessage(c *Client, raw json.RawMessage) error {
	session := c.Session()
	if session == nil {
		return ErrNotAuthenticated
	}
	if session.CommunityID == "" {
		return ErrNotInCommunity
	}

	var payload MessagePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("%w: message payload", ErrMalformedFrame)
	}

	content := strings.TrimSpace(payload.Content)
	if content == "" {
		return ErrEmptyMessage
	}
	if len(content) > h.cfg.MaxMessageLength {
		return ErrMessageTooLong
	}

	ctx, cancel := h.storeCtx()
	defer cancel()

	community, err := h.stores.Communities.GetCommunity(ctx, session.CommunityID)
	if err != nil {
		return fmt.Errorf("lookup community: %w", err)
	}
	if community == nil {
		return ErrCommunityNotFound
	}

	if err := checkSendPermission(community.ChatMode, session.Role); err != nil {
		return err
	}
	if payload.IsAnnouncement && !isPrivileged(session.Role) {
		return fmt.Errorf("%w: announcements require owner or moderator", ErrRoleNotAllowed)
	}

	if err := h.checkSlowmode(ctx, community, session); err != nil {
		return err
	}

	msg, err := h.stores.Messages.Append(ctx, AppendMessage{
		CommunityID:    community.ID,
		AuthorID:       session.UserID,
		AuthorName:     session.DisplayName,
		Content:        content,
		IsAnnouncement: payload.IsAnnouncement,
	})
	if err != nil {
		return fmt.Errorf("persist message: %w", err)
	}
	h.metrics.MessagesPersisted.Inc()

	exclude := c
	if h.cfg.MessageEcho {
		exclude = nil
	}
	h.caster.Broadcast(community.ID, FrameChatMessage, msg, exclude)

	// A successful send supersedes any typing indicator.
	if c.setTyping(false) {
		h.caster.Broadcast(community.ID, FrameTypingStatus, TypingStatusPayload{
			CommunityID: community.ID,
			UserID:      session.UserID,
			DisplayName: session.DisplayName,
			IsTyping:    false,
		}, nil)
	}

	return nil
}

// checkSendPermission applies the chatMode x role matrix.
func checkSendPermission(chatMode, role string) error {
	switch chatMode {
	case ChatModeDisabled:
		return ErrChatDisabled
	case ChatModeOwnerOnly:
		if role != RoleOwner {
			return ErrRoleNotAllowed
		}
	case ChatModeModeratorsOnly:
		if !isPrivileged(role) {
			return ErrRoleNotAllowed
		}
	case ChatModeAllMembers:
		// any approved member
	default:
		return ErrChatDisabled
	}
	return nil
}

func isPrivileged(role string) bool {
	return role == RoleOwner || role == RoleModerator
}

// checkSlowmode enforces the minimum delay between consecutive messages for
// non-privileged members. The last send is looked up in the message store so
// correctness survives process restarts.
func (h *Hub) checkSlowmode(ctx context.Context, community *Community, session *Session) error {
	if community.SlowmodeSeconds <= 0 || isPrivileged(session.Role) {
		return nil
	}

	last, err := h.stores.Messages.LastMessageBy(ctx, community.ID, session.UserID)
	if err != nil {
		return fmt.Errorf("lookup last message: %w", err)
	}
	if last == nil {
		return nil
	}

	window := time.Duration(community.SlowmodeSeconds) * time.Second
	elapsed := time.Since(last.CreatedAt)
	if elapsed >= window {
		return nil
	}

	remaining := window - elapsed
	wait := int((remaining + time.Second - 1) / time.Second)
	return &RateLimitError{RetryAfter: wait}
}
