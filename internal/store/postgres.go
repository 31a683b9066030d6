// Package store implements the external collaborators the hub consumes:
// Postgres-backed user, membership, community, message and notification
// stores, and the Redis-backed session store.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"commune/internal/hub"
)

// Postgres implements the hub's user, membership, community and message
// store interfaces over one pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// GetUser looks up one identity record. Returns nil, nil when absent.
func (s *Postgres) GetUser(ctx context.Context, id string) (*hub.User, error) {
	var u hub.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, display_name FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.DisplayName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetUsers batch-resolves identity records by id.
func (s *Postgres) GetUsers(ctx context.Context, ids []string) (map[string]*hub.User, error) {
	out := make(map[string]*hub.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, display_name FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u hub.User
		if err := rows.Scan(&u.ID, &u.DisplayName); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out[u.ID] = &u
	}
	return out, rows.Err()
}

// GetMembership returns nil, nil when the user is not a member.
func (s *Postgres) GetMembership(ctx context.Context, communityID, userID string) (*hub.Membership, error) {
	var m hub.Membership
	err := s.pool.QueryRow(ctx,
		`SELECT role, status FROM community_members WHERE community_id = $1 AND user_id = $2`,
		communityID, userID,
	).Scan(&m.Role, &m.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return &m, nil
}

// GetMemberships batch-resolves memberships for one community.
func (s *Postgres) GetMemberships(ctx context.Context, communityID string, userIDs []string) (map[string]*hub.Membership, error) {
	out := make(map[string]*hub.Membership, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT user_id, role, status FROM community_members
		 WHERE community_id = $1 AND user_id = ANY($2)`,
		communityID, userIDs)
	if err != nil {
		return nil, fmt.Errorf("get memberships: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID string
		var m hub.Membership
		if err := rows.Scan(&userID, &m.Role, &m.Status); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out[userID] = &m
	}
	return out, rows.Err()
}

// GetCommunity returns nil, nil when the community does not exist.
func (s *Postgres) GetCommunity(ctx context.Context, id string) (*hub.Community, error) {
	var c hub.Community
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, chat_mode, slowmode_seconds FROM communities WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.ChatMode, &c.SlowmodeSeconds)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get community: %w", err)
	}
	return &c, nil
}

// Append persists a chat message and returns the stored record.
func (s *Postgres) Append(ctx context.Context, msg hub.AppendMessage) (*hub.ChatMessage, error) {
	var stored hub.ChatMessage
	err := s.pool.QueryRow(ctx,
		`INSERT INTO chat_messages (community_id, author_id, author_name, content, is_announcement)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, community_id, author_id, author_name, content,
		           is_announcement, is_pinned, is_deleted, created_at`,
		msg.CommunityID, msg.AuthorID, msg.AuthorName, msg.Content, msg.IsAnnouncement,
	).Scan(&stored.ID, &stored.CommunityID, &stored.AuthorID, &stored.AuthorName,
		&stored.Content, &stored.IsAnnouncement, &stored.IsPinned, &stored.IsDeleted,
		&stored.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return &stored, nil
}

// History fetches the newest non-deleted messages and returns them oldest
// first.
func (s *Postgres) History(ctx context.Context, communityID string, limit, offset int) ([]*hub.ChatMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, community_id, author_id, author_name, content,
		        is_announcement, is_pinned, is_deleted, created_at
		 FROM chat_messages
		 WHERE community_id = $1 AND is_deleted = FALSE
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		communityID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var newestFirst []*hub.ChatMessage
	for rows.Next() {
		var m hub.ChatMessage
		if err := rows.Scan(&m.ID, &m.CommunityID, &m.AuthorID, &m.AuthorName,
			&m.Content, &m.IsAnnouncement, &m.IsPinned, &m.IsDeleted, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		newestFirst = append(newestFirst, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	out := make([]*hub.ChatMessage, len(newestFirst))
	for i, m := range newestFirst {
		out[len(newestFirst)-1-i] = m
	}
	return out, nil
}

// LastMessageBy returns the author's most recent message in the community,
// or nil, nil when they have never sent one.
func (s *Postgres) LastMessageBy(ctx context.Context, communityID, userID string) (*hub.ChatMessage, error) {
	var m hub.ChatMessage
	err := s.pool.QueryRow(ctx,
		`SELECT id, community_id, author_id, author_name, content,
		        is_announcement, is_pinned, is_deleted, created_at
		 FROM chat_messages
		 WHERE community_id = $1 AND author_id = $2
		 ORDER BY created_at DESC
		 LIMIT 1`,
		communityID, userID,
	).Scan(&m.ID, &m.CommunityID, &m.AuthorID, &m.AuthorName,
		&m.Content, &m.IsAnnouncement, &m.IsPinned, &m.IsDeleted, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last message by: %w", err)
	}
	return &m, nil
}

// SetPinned flips the pinned flag on a message.
func (s *Postgres) SetPinned(ctx context.Context, id string, pinned bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE chat_messages SET is_pinned = $2 WHERE id = $1`, id, pinned)
	if err != nil {
		return fmt.Errorf("set pinned: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return hub.ErrMessageNotFound
	}
	return nil
}

// SoftDelete marks a message deleted without removing the row.
func (s *Postgres) SoftDelete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE chat_messages SET is_deleted = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("soft delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return hub.ErrMessageNotFound
	}
	return nil
}

// SaveNotification persists the durable copy of a notification before the
// hub pushes the ephemeral one.
func (s *Postgres) SaveNotification(ctx context.Context, userID, communityID string, n hub.Notification) (string, error) {
	metadata := n.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	var user, community interface{}
	if userID != "" {
		user = userID
	}
	if communityID != "" {
		community = communityID
	}

	var id string
	err = s.pool.QueryRow(ctx,
		`INSERT INTO notifications (user_id, community_id, type, title, body, action_url, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		user, community, n.Type, n.Title, n.Body, n.ActionURL, raw,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("save notification: %w", err)
	}
	return id, nil
}
