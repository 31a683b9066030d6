package hub

import (
	"context"
	"time"
)

// Chat modes a community can be in. The mode decides which roles may send.
const (
	ChatModeDisabled       = "disabled"
	ChatModeOwnerOnly      = "owner_only"
	ChatModeModeratorsOnly = "moderators_only"
	ChatModeAllMembers     = "all_members"
)

// Membership roles and the one status that grants access.
const (
	RoleOwner     = "owner"
	RoleModerator = "moderator"
	RoleMember    = "member"

	MembershipApproved = "approved"
)

// User is the identity record resolved from the user store.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Membership binds a user to a community with a role.
type Membership struct {
	Role   string `json:"role"`
	Status string `json:"status"`
}

// Community carries the chat policy fields the hub enforces.
type Community struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	ChatMode        string `json:"chat_mode"`
	SlowmodeSeconds int    `json:"slowmode_seconds"`
}

// ChatMessage is the persisted chat record. The message store owns the
// storage format; the hub only appends, replays and broadcasts.
type ChatMessage struct {
	ID             string    `json:"id"`
	CommunityID    string    `json:"community_id"`
	AuthorID       string    `json:"author_id"`
	AuthorName     string    `json:"author_name"`
	Content        string    `json:"content"`
	IsAnnouncement bool      `json:"is_announcement"`
	IsPinned       bool      `json:"is_pinned"`
	IsDeleted      bool      `json:"is_deleted"`
	CreatedAt      time.Time `json:"created_at"`
}

// AppendMessage is the input to MessageStore.Append.
type AppendMessage struct {
	CommunityID    string
	AuthorID       string
	AuthorName     string
	Content        string
	IsAnnouncement bool
}

// Notification is the ephemeral payload pushed to subscribed connections.
// The durable copy lives in the notification store owned by the REST layer.
type Notification struct {
	Type      string                 `json:"type"`
	Title     string                 `json:"title"`
	Body      string                 `json:"body,omitempty"`
	ActionURL string                 `json:"action_url,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// SessionStore resolves bearer tokens to user ids. An empty id with a nil
// error means the token is unknown or expired.
type SessionStore interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// UserStore looks up identity records. Nil result with nil error means not found.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*User, error)
	GetUsers(ctx context.Context, ids []string) (map[string]*User, error)
}

// MembershipStore looks up community memberships. Nil result with nil error
// means the user is not a member.
type MembershipStore interface {
	GetMembership(ctx context.Context, communityID, userID string) (*Membership, error)
	GetMemberships(ctx context.Context, communityID string, userIDs []string) (map[string]*Membership, error)
}

// CommunityStore looks up community chat policy.
type CommunityStore interface {
	GetCommunity(ctx context.Context, id string) (*Community, error)
}

// MessageStore is the external message persistence collaborator. History
// fetches the newest messages and returns them oldest first.
type MessageStore interface {
	Append(ctx context.Context, msg AppendMessage) (*ChatMessage, error)
	History(ctx context.Context, communityID string, limit, offset int) ([]*ChatMessage, error)
	LastMessageBy(ctx context.Context, communityID, userID string) (*ChatMessage, error)
	SetPinned(ctx context.Context, id string, pinned bool) error
	SoftDelete(ctx context.Context, id string) error
}

// Stores bundles every external collaborator the hub consumes.
type Stores struct {
	Sessions    SessionStore
	Users       UserStore
	Memberships MembershipStore
	Communities CommunityStore
	Messages    MessageStore
}

// Logger is the narrow logging interface the hub depends on; satisfied by
// pkg/logger.Logger and by slog.Logger.
type Logger interface {
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}
