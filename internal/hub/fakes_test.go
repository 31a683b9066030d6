package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"commune/internal/config"
)

func newTestLogger() Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func testHubConfig() config.HubConfig {
	return config.HubConfig{
		HeartbeatInterval: 30 * time.Second,
		TypingTTL:         5 * time.Second,
		TypingSweep:       5 * time.Second,
		HistoryLimit:      50,
		MaxMessageLength:  2000,
		MessageEcho:       false,
		SendBuffer:        64,
		StoreTimeout:      5 * time.Second,
	}
}

// --- Fake external collaborators ---

type fakeSessions struct {
	tokens map[string]string
}

func (f *fakeSessions) Resolve(_ context.Context, token string) (string, error) {
	return f.tokens[token], nil
}

type fakeUsers struct {
	users map[string]*User
}

func (f *fakeUsers) GetUser(_ context.Context, id string) (*User, error) {
	return f.users[id], nil
}

func (f *fakeUsers) GetUsers(_ context.Context, ids []string) (map[string]*User, error) {
	out := make(map[string]*User)
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

type fakeMemberships struct {
	// communityID -> userID -> membership
	members map[string]map[string]*Membership
}

func (f *fakeMemberships) GetMembership(_ context.Context, communityID, userID string) (*Membership, error) {
	return f.members[communityID][userID], nil
}

func (f *fakeMemberships) GetMemberships(_ context.Context, communityID string, userIDs []string) (map[string]*Membership, error) {
	out := make(map[string]*Membership)
	for _, id := range userIDs {
		if m, ok := f.members[communityID][id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

type fakeCommunities struct {
	communities map[string]*Community
}

func (f *fakeCommunities) GetCommunity(_ context.Context, id string) (*Community, error) {
	return f.communities[id], nil
}

type fakeMessages struct {
	mu       sync.Mutex
	messages []*ChatMessage
}

func (f *fakeMessages) Append(_ context.Context, msg AppendMessage) (*ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := &ChatMessage{
		ID:             uuid.NewString(),
		CommunityID:    msg.CommunityID,
		AuthorID:       msg.AuthorID,
		AuthorName:     msg.AuthorName,
		Content:        msg.Content,
		IsAnnouncement: msg.IsAnnouncement,
		CreatedAt:      time.Now(),
	}
	f.messages = append(f.messages, stored)
	return stored, nil
}

func (f *fakeMessages) History(_ context.Context, communityID string, limit, offset int) ([]*ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var all []*ChatMessage
	for _, m := range f.messages {
		if m.CommunityID == communityID && !m.IsDeleted {
			all = append(all, m)
		}
	}

	// Newest window, returned oldest first.
	end := len(all) - offset
	if end < 0 {
		end = 0
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	out := make([]*ChatMessage, end-start)
	copy(out, all[start:end])
	return out, nil
}

func (f *fakeMessages) LastMessageBy(_ context.Context, communityID, userID string) (*ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.messages) - 1; i >= 0; i-- {
		m := f.messages[i]
		if m.CommunityID == communityID && m.AuthorID == userID {
			return m, nil
		}
	}
	return nil, nil
}

func (f *fakeMessages) SetPinned(_ context.Context, id string, pinned bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			m.IsPinned = pinned
			return nil
		}
	}
	return ErrMessageNotFound
}

func (f *fakeMessages) SoftDelete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			m.IsDeleted = true
			return nil
		}
	}
	return ErrMessageNotFound
}

// --- Test fixture ---

type fixture struct {
	hub      *Hub
	sessions *fakeSessions
	users    *fakeUsers
	members  *fakeMemberships
	comms    *fakeCommunities
	messages *fakeMessages
}

func newFixture() *fixture {
	f := &fixture{
		sessions: &fakeSessions{tokens: make(map[string]string)},
		users:    &fakeUsers{users: make(map[string]*User)},
		members:  &fakeMemberships{members: make(map[string]map[string]*Membership)},
		comms:    &fakeCommunities{communities: make(map[string]*Community)},
		messages: &fakeMessages{},
	}
	f.hub = New(testHubConfig(), Stores{
		Sessions:    f.sessions,
		Users:       f.users,
		Memberships: f.members,
		Communities: f.comms,
		Messages:    f.messages,
	}, newTestLogger(), nil)
	return f
}

// addUser registers a user with a session token "token-<id>".
func (f *fixture) addUser(id, displayName string) {
	f.users.users[id] = &User{ID: id, DisplayName: displayName}
	f.sessions.tokens["token-"+id] = id
}

func (f *fixture) addCommunity(id, chatMode string, slowmode int) {
	f.comms.communities[id] = &Community{
		ID:              id,
		Name:            id,
		ChatMode:        chatMode,
		SlowmodeSeconds: slowmode,
	}
	if f.members.members[id] == nil {
		f.members.members[id] = make(map[string]*Membership)
	}
}

func (f *fixture) addMember(communityID, userID, role, status string) {
	if f.members.members[communityID] == nil {
		f.members.members[communityID] = make(map[string]*Membership)
	}
	f.members.members[communityID][userID] = &Membership{Role: role, Status: status}
}

// connect creates a client and authenticates it, failing the test on any
// error frame.
func (f *fixture) connect(t *testing.T, userID, communityID string) *Client {
	t.Helper()
	c := newClient(f.hub, nil)

	payload, _ := json.Marshal(AuthPayload{Token: "token-" + userID, CommunityID: communityID})
	frame, _ := json.Marshal(Frame{Type: FrameAuth, Payload: payload})

	if keepOpen := f.hub.handleFrame(c, frame); !keepOpen {
		t.Fatalf("auth closed the connection for user %s", userID)
	}

	first := readFrame(t, c)
	if first.Type != FrameAuthSuccess {
		t.Fatalf("expected auth_success, got %s", first.Type)
	}
	return c
}

// sendFrame drives one inbound frame through the dispatch path.
func sendFrame(t *testing.T, h *Hub, c *Client, frameType string, payload interface{}) bool {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		raw = data
	}
	frame, err := json.Marshal(Frame{Type: frameType, Payload: raw})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return h.handleFrame(c, frame)
}

// readFrame pops the next queued outbound frame.
func readFrame(t *testing.T, c *Client) Frame {
	t.Helper()
	select {
	case data := <-c.send:
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("unmarshal outbound frame: %v", err)
		}
		return f
	case <-time.After(time.Second):
		t.Fatalf("no outbound frame queued")
		return Frame{}
	}
}

// tryReadFrame pops the next queued frame, or reports none without failing.
func tryReadFrame(t *testing.T, c *Client) (Frame, bool) {
	t.Helper()
	select {
	case data := <-c.send:
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("unmarshal outbound frame: %v", err)
		}
		return f, true
	default:
		return Frame{}, false
	}
}

// drain empties a client's send queue.
func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

// decodePayload unmarshals a frame payload into dst.
func decodePayload(t *testing.T, f Frame, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(f.Payload, dst); err != nil {
		t.Fatalf("decode %s payload: %v", f.Type, err)
	}
}

// expectFrame reads frames until one of the given type appears, failing after
// the queue runs dry.
func expectFrame(t *testing.T, c *Client, frameType string) Frame {
	t.Helper()
	for {
		f, ok := tryReadFrame(t, c)
		if !ok {
			t.Fatalf("expected %s frame, queue empty", frameType)
		}
		if f.Type == frameType {
			return f
		}
	}
}
