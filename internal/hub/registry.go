package hub

import (
	"context"
	"sort"
	"sync"
)

// Registry holds the authoritative in-memory presence indices:
// connection id -> client, user -> connections, community -> room members and
// per-user connection counts. Every mutation runs under one mutex so the
// mutation and the index prune are atomic end-to-end; reads hand out
// snapshots.
type Registry struct {
	mu        sync.RWMutex
	clients   map[string]*Client
	userConns map[string]map[*Client]bool
	rooms     map[string]map[*Client]bool
	presence  map[string]map[string]int
}

func NewRegistry() *Registry {
	return &Registry{
		clients:   make(map[string]*Client),
		userConns: make(map[string]map[*Client]bool),
		rooms:     make(map[string]map[*Client]bool),
		presence:  make(map[string]map[string]int),
	}
}

// Register indexes an authenticated client. It reports whether this is the
// user's first connection in the community, which drives the single
// user_joined announcement.
func (r *Registry) Register(c *Client, s *Session) (joined bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clients[c.ID] = c

	if r.userConns[s.UserID] == nil {
		r.userConns[s.UserID] = make(map[*Client]bool)
	}
	r.userConns[s.UserID][c] = true

	if s.CommunityID == "" {
		return false
	}

	if r.rooms[s.CommunityID] == nil {
		r.rooms[s.CommunityID] = make(map[*Client]bool)
	}
	r.rooms[s.CommunityID][c] = true

	if r.presence[s.CommunityID] == nil {
		r.presence[s.CommunityID] = make(map[string]int)
	}
	r.presence[s.CommunityID][s.UserID]++

	return r.presence[s.CommunityID][s.UserID] == 1
}

// Departure describes what a deregistration removed, so the hub can emit
// exactly one user_left event per presence transition.
type Departure struct {
	Removed     bool
	UserID      string
	DisplayName string
	CommunityID string
	UserLeft    bool
}

// Deregister removes every index entry referencing the client and prunes
// now-empty entries. Calling it for an unknown or never-registered client is
// a no-op, which keeps connection cleanup idempotent.
func (r *Registry) Deregister(c *Client, s *Session) Departure {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c.ID]; !ok {
		return Departure{}
	}
	delete(r.clients, c.ID)

	if s == nil {
		return Departure{Removed: true}
	}

	dep := Departure{
		Removed:     true,
		UserID:      s.UserID,
		DisplayName: s.DisplayName,
		CommunityID: s.CommunityID,
	}

	if conns, ok := r.userConns[s.UserID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(r.userConns, s.UserID)
		}
	}

	if s.CommunityID == "" {
		return dep
	}

	if room, ok := r.rooms[s.CommunityID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(r.rooms, s.CommunityID)
		}
	}

	if users, ok := r.presence[s.CommunityID]; ok {
		users[s.UserID]--
		if users[s.UserID] <= 0 {
			delete(users, s.UserID)
			dep.UserLeft = true
		}
		if len(users) == 0 {
			delete(r.presence, s.CommunityID)
		}
	}

	return dep
}

// Contains reports whether the client id is indexed.
func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[id]
	return ok
}

// RoomSnapshot returns the clients currently scoped to a community.
func (r *Registry) RoomSnapshot(communityID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[communityID]
	out := make([]*Client, 0, len(room))
	for c := range room {
		out = append(out, c)
	}
	return out
}

// UserSnapshot returns all live connections of a user.
func (r *Registry) UserSnapshot(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.userConns[userID]
	out := make([]*Client, 0, len(conns))
	for c := range conns {
		out = append(out, c)
	}
	return out
}

// AllClients returns every indexed client.
func (r *Registry) AllClients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// OnlineUserIDs returns the ids of users considered online in a community,
// sorted for deterministic snapshots.
func (r *Registry) OnlineUserIDs(communityID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := r.presence[communityID]
	out := make([]string, 0, len(users))
	for id := range users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Stats reports index sizes for the system endpoints.
type Stats struct {
	Connections int `json:"connections"`
	Users       int `json:"users"`
	Rooms       int `json:"rooms"`
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Connections: len(r.clients),
		Users:       len(r.userConns),
		Rooms:       len(r.rooms),
	}
}

// OnlineUsers resolves the presence snapshot to identities and roles with
// batched store lookups.
func (r *Registry) OnlineUsers(ctx context.Context, communityID string, users UserStore, memberships MembershipStore) ([]OnlineUser, error) {
	ids := r.OnlineUserIDs(communityID)
	if len(ids) == 0 {
		return []OnlineUser{}, nil
	}

	records, err := users.GetUsers(ctx, ids)
	if err != nil {
		return nil, err
	}
	roles, err := memberships.GetMemberships(ctx, communityID, ids)
	if err != nil {
		return nil, err
	}

	out := make([]OnlineUser, 0, len(ids))
	for _, id := range ids {
		entry := OnlineUser{ID: id}
		if u := records[id]; u != nil {
			entry.DisplayName = u.DisplayName
		}
		if m := roles[id]; m != nil {
			entry.Role = m.Role
		}
		out = append(out, entry)
	}
	return out, nil
}
