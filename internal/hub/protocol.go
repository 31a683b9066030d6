package hub

import (
	"encoding/json"
	"time"
)

// Frame is the wire envelope: every inbound and outbound message is
// {"type": ..., "payload": ...}.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound frame types.
const (
	FrameAuth        = "auth"
	FrameMessage     = "message"
	FrameTyping      = "typing"
	FrameTypingStop  = "typing_stop"
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
)

// Outbound frame types.
const (
	FramePong           = "pong"
	FrameAuthSuccess    = "auth_success"
	FrameError          = "error"
	FrameOnlineUsers    = "online_users"
	FrameUserJoined     = "user_joined"
	FrameUserLeft       = "user_left"
	FrameChatMessage    = "message"
	FrameMessageHistory = "message_history"
	FrameTypingStatus   = "typing_status"
	FrameNotification   = "notification"
	FrameSubscribed     = "subscribed"
	FrameUnsubscribed   = "unsubscribed"
)

// NotificationChannel is the channel a connection must be subscribed to
// before out-of-band notifications are delivered to it.
const NotificationChannel = "notifications"

// AuthPayload is the client's first frame after connecting.
type AuthPayload struct {
	Token       string `json:"token"`
	CommunityID string `json:"community_id,omitempty"`
}

// AuthSuccessPayload confirms a registered session.
type AuthSuccessPayload struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	CommunityID string `json:"community_id,omitempty"`
	Role        string `json:"role,omitempty"`
}

// MessagePayload is an inbound chat send request.
type MessagePayload struct {
	Content        string `json:"content"`
	IsAnnouncement bool   `json:"is_announcement,omitempty"`
}

// ChannelPayload names a notification channel to subscribe or unsubscribe.
type ChannelPayload struct {
	Channel string `json:"channel"`
}

// ErrorPayload is the sender-only error reply.
type ErrorPayload struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// OnlineUser is one entry of the presence snapshot.
type OnlineUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role,omitempty"`
}

// OnlineUsersPayload is the presence snapshot sent after auth.
type OnlineUsersPayload struct {
	CommunityID string       `json:"community_id"`
	Users       []OnlineUser `json:"users"`
}

// PresencePayload announces a user joining or leaving a room.
type PresencePayload struct {
	CommunityID string `json:"community_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role,omitempty"`
}

// HistoryPayload replays recent messages, oldest first.
type HistoryPayload struct {
	CommunityID string         `json:"community_id"`
	Messages    []*ChatMessage `json:"messages"`
}

// TypingStatusPayload broadcasts a typing state change.
type TypingStatusPayload struct {
	CommunityID string `json:"community_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	IsTyping    bool   `json:"is_typing"`
}

// PingPayload carries the probe timestamp.
type PingPayload struct {
	Time time.Time `json:"time"`
}

func encodeFrame(frameType string, payload interface{}) []byte {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil
		}
		raw = data
	}

	data, err := json.Marshal(Frame{Type: frameType, Payload: raw})
	if err != nil {
		return nil
	}
	return data
}
