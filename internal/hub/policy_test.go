package hub

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSendPermissionMatrix(t *testing.T) {
	cases := []struct {
		name     string
		chatMode string
		role     string
		wantErr  error
	}{
		{"disabled blocks owner", ChatModeDisabled, RoleOwner, ErrChatDisabled},
		{"disabled blocks member", ChatModeDisabled, RoleMember, ErrChatDisabled},
		{"owner_only allows owner", ChatModeOwnerOnly, RoleOwner, nil},
		{"owner_only blocks moderator", ChatModeOwnerOnly, RoleModerator, ErrRoleNotAllowed},
		{"owner_only blocks member", ChatModeOwnerOnly, RoleMember, ErrRoleNotAllowed},
		{"moderators_only allows owner", ChatModeModeratorsOnly, RoleOwner, nil},
		{"moderators_only allows moderator", ChatModeModeratorsOnly, RoleModerator, nil},
		{"moderators_only blocks member", ChatModeModeratorsOnly, RoleMember, ErrRoleNotAllowed},
		{"all_members allows member", ChatModeAllMembers, RoleMember, nil},
		{"all_members allows owner", ChatModeAllMembers, RoleOwner, nil},
		{"unknown mode blocks", "weird", RoleOwner, ErrChatDisabled},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := checkSendPermission(tc.chatMode, tc.role)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("checkSendPermission(%s, %s) = %v, want %v", tc.chatMode, tc.role, err, tc.wantErr)
			}
		})
	}
}

func TestChatMessageDeliveredToRoomNotSender(t *testing.T) {
	f := newFixture()
	f.addUser("u1", "Ada")
	f.addUser("u2", "Grace")
	f.addCommunity("comm1", ChatModeAllMembers, 0)
	f.addMember("comm1", "u1", RoleMember, MembershipApproved)
	f.addMember("comm1", "u2", RoleMember, MembershipApproved)

	sender := f.connect(t, "u1", "comm1")
	receiver := f.connect(t, "u2", "comm1")
	drain(sender)
	drain(receiver)

	if keepOpen := sendFrame(t, f.hub, sender, FrameMessage, MessagePayload{Content: "hello"}); !keepOpen {
		t.Fatalf("valid send must keep the connection open")
	}

	frame := expectFrame(t, receiver, FrameChatMessage)
	var msg ChatMessage
	decodePayload(t, frame, &msg)
	if msg.Content != "hello" || msg.AuthorID != "u1" || msg.AuthorName != "Ada" {
		t.Errorf("unexpected delivered message: %+v", msg)
	}
	if msg.ID == "" || msg.CommunityID != "comm1" {
		t.Errorf("delivered message missing persisted fields: %+v", msg)
	}

	if frame, ok := tryReadFrame(t, sender); ok && frame.Type == FrameChatMessage {
		t.Errorf("sender must not receive its own message when echo is off")
	}

	if len(f.messages.messages) != 1 {
		t.Errorf("expected 1 persisted message, got %d", len(f.messages.messages))
	}
}

func TestChatMessageEchoConfigurable(t *testing.T) {
	f := newFixture()
	f.hub.cfg.MessageEcho = true
	f.addUser("u1", "Ada")
	f.addCommunity("comm1", ChatModeAllMembers, 0)
	f.addMember("comm1", "u1", RoleMember, MembershipApproved)

	sender := f.connect(t, "u1", "comm1")
	drain(sender)

	sendFrame(t, f.hub, sender, FrameMessage, MessagePayload{Content: "hi"})
	frame := expectFrame(t, sender, FrameChatMessage)
	var msg ChatMessage
	decodePayload(t, frame, &msg)
	if msg.Content != "hi" {
		t.Errorf("echoed message content = %q, want %q", msg.Content, "hi")
	}
}

func TestChatMessageRejectedByRole(t *testing.T) {
	f := newFixture()
	f.addUser("u1", "Ada")
	f.addCommunity("comm1", ChatModeModeratorsOnly, 0)
	f.addMember("comm1", "u1", RoleMember, MembershipApproved)

	c := f.connect(t, "u1", "comm1")
	drain(c)

	if keepOpen := sendFrame(t, f.hub, c, FrameMessage, MessagePayload{Content: "nope"}); !keepOpen {
		t.Fatalf("permission error must not close the connection")
	}

	reply := readFrame(t, c)
	if reply.Type != FrameError {
		t.Fatalf("expected error frame, got %s", reply.Type)
	}
	var errPayload ErrorPayload
	decodePayload(t, reply, &errPayload)
	if errPayload.Code != CodePermissionErr {
		t.Errorf("expected %s, got %s", CodePermissionErr, errPayload.Code)
	}
	if len(f.messages.messages) != 0 {
		t.Errorf("rejected message must not be persisted")
	}
}

func TestChatMessageValidation(t *testing.T) {
	f := newFixture()
	f.addUser("u1", "Ada")
	f.addCommunity("comm1", ChatModeAllMembers, 0)
	f.addMember("comm1", "u1", RoleMember, MembershipApproved)

	c := f.connect(t, "u1", "comm1")
	drain(c)

	cases := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"whitespace only", "   \n\t "},
		{"too long", strings.Repeat("a", f.hub.cfg.MaxMessageLength+1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sendFrame(t, f.hub, c, FrameMessage, MessagePayload{Content: tc.content})
			reply := readFrame(t, c)
			var errPayload ErrorPayload
			decodePayload(t, reply, &errPayload)
			if errPayload.Code != CodeProtocolError {
				t.Errorf("expected %s, got %s", CodeProtocolError, errPayload.Code)
			}
		})
	}
}

func TestChatMessageUnauthenticated(t *testing.T) {
	f := newFixture()
	c := newClient(f.hub, nil)

	if keepOpen := sendFrame(t, f.hub, c, FrameMessage, MessagePayload{Content: "hi"}); keepOpen {
		t.Fatalf("sending before auth must close the connection")
	}
	reply := readFrame(t, c)
	var errPayload ErrorPayload
	decodePayload(t, reply, &errPayload)
	if errPayload.Code != CodeAuthError {
		t.Errorf("expected %s, got %s", CodeAuthError, errPayload.Code)
	}
}

func TestSlowmodeRejectsWithRetryAfter(t *testing.T) {
	f := newFixture()
	f.addUser("u1", "Ada")
	f.addCommunity("comm1", ChatModeAllMembers, 10)
	f.addMember("comm1", "u1", RoleMember, MembershipApproved)

	c := f.connect(t, "u1", "comm1")
	drain(c)

	// First send passes, then backdate it 3s to simulate elapsed time.
	sendFrame(t, f.hub, c, FrameMessage, MessagePayload{Content: "first"})
	if len(f.messages.messages) != 1 {
		t.Fatalf("first message should persist")
	}
	f.messages.messages[0].CreatedAt = time.Now().Add(-3 * time.Second)
	drain(c)

	sendFrame(t, f.hub, c, FrameMessage, MessagePayload{Content: "second"})
	reply := readFrame(t, c)
	if reply.Type != FrameError {
		t.Fatalf("expected error frame, got %s", reply.Type)
	}
	var errPayload ErrorPayload
	decodePayload(t, reply, &errPayload)
	if errPayload.Code != CodeRateLimitError {
		t.Errorf("expected %s, got %s", CodeRateLimitError, errPayload.Code)
	}
	if errPayload.RetryAfter != 7 {
		t.Errorf("retry_after = %d, want 7", errPayload.RetryAfter)
	}
	if len(f.messages.messages) != 1 {
		t.Errorf("slowmoded message must not be persisted")
	}
}

func TestSlowmodeExemptsPrivilegedRoles(t *testing.T) {
	f := newFixture()
	f.addUser("u1", "Ada")
	f.addCommunity("comm1", ChatModeAllMembers, 10)
	f.addMember("comm1", "u1", RoleOwner, MembershipApproved)

	c := f.connect(t, "u1", "comm1")
	drain(c)

	sendFrame(t, f.hub, c, FrameMessage, MessagePayload{Content: "one"})
	sendFrame(t, f.hub, c, FrameMessage, MessagePayload{Content: "two"})

	if len(f.messages.messages) != 2 {
		t.Errorf("owner must bypass slowmode, persisted %d of 2", len(f.messages.messages))
	}
	for {
		frame, ok := tryReadFrame(t, c)
		if !ok {
			break
		}
		if frame.Type == FrameError {
			t.Errorf("owner send rejected: %s", frame.Payload)
		}
	}
}

func TestSlowmodeAllowsAfterWindow(t *testing.T) {
	f := newFixture()
	f.addUser("u1", "Ada")
	f.addCommunity("comm1", ChatModeAllMembers, 5)
	f.addMember("comm1", "u1", RoleMember, MembershipApproved)

	c := f.connect(t, "u1", "comm1")
	drain(c)

	sendFrame(t, f.hub, c, FrameMessage, MessagePayload{Content: "first"})
	f.messages.messages[0].CreatedAt = time.Now().Add(-6 * time.Second)
	drain(c)

	sendFrame(t, f.hub, c, FrameMessage, MessagePayload{Content: "second"})
	if len(f.messages.messages) != 2 {
		t.Errorf("send after the window must pass, persisted %d of 2", len(f.messages.messages))
	}
}

func TestAnnouncementRequiresPrivilege(t *testing.T) {
	f := newFixture()
	f.addUser("u1", "Ada")
	f.addUser("u2", "Grace")
	f.addCommunity("comm1", ChatModeAllMembers, 0)
	f.addMember("comm1", "u1", RoleMember, MembershipApproved)
	f.addMember("comm1", "u2", RoleModerator, MembershipApproved)

	member := f.connect(t, "u1", "comm1")
	mod := f.connect(t, "u2", "comm1")
	drain(member)
	drain(mod)

	sendFrame(t, f.hub, member, FrameMessage, MessagePayload{Content: "psst", IsAnnouncement: true})
	reply := readFrame(t, member)
	var errPayload ErrorPayload
	decodePayload(t, reply, &errPayload)
	if errPayload.Code != CodePermissionErr {
		t.Errorf("member announcement should be rejected, got %s", errPayload.Code)
	}

	sendFrame(t, f.hub, mod, FrameMessage, MessagePayload{Content: "heads up", IsAnnouncement: true})
	frame := expectFrame(t, member, FrameChatMessage)
	var msg ChatMessage
	decodePayload(t, frame, &msg)
	if !msg.IsAnnouncement {
		t.Errorf("moderator announcement should carry the announcement flag")
	}
}

func TestChatMessageClearsTypingIndicator(t *testing.T) {
	f := newFixture()
	f.addUser("u1", "Ada")
	f.addUser("u2", "Grace")
	f.addCommunity("comm1", ChatModeAllMembers, 0)
	f.addMember("comm1", "u1", RoleMember, MembershipApproved)
	f.addMember("comm1", "u2", RoleMember, MembershipApproved)

	sender := f.connect(t, "u1", "comm1")
	observer := f.connect(t, "u2", "comm1")
	drain(sender)
	drain(observer)

	sendFrame(t, f.hub, sender, FrameTyping, nil)
	typing := expectFrame(t, observer, FrameTypingStatus)
	var status TypingStatusPayload
	decodePayload(t, typing, &status)
	if !status.IsTyping {
		t.Fatalf("expected typing=true broadcast")
	}

	sendFrame(t, f.hub, sender, FrameMessage, MessagePayload{Content: "done"})
	expectFrame(t, observer, FrameChatMessage)
	stop := expectFrame(t, observer, FrameTypingStatus)
	decodePayload(t, stop, &status)
	if status.IsTyping {
		t.Errorf("successful send must broadcast typing=false")
	}
}

func TestPinAndDeleteMessage(t *testing.T) {
	f := newFixture()
	f.addUser("u1", "Ada")
	f.addCommunity("comm1", ChatModeAllMembers, 0)
	f.addMember("comm1", "u1", RoleMember, MembershipApproved)

	ctx := context.Background()
	msg, err := f.messages.Append(ctx, AppendMessage{CommunityID: "comm1", AuthorID: "u1", AuthorName: "Ada", Content: "keep me"})
	if err != nil {
		t.Fatalf("seed message: %v", err)
	}

	c := f.connect(t, "u1", "comm1")
	drain(c)

	if err := f.hub.PinMessage(ctx, "comm1", msg.ID, true); err != nil {
		t.Fatalf("pin: %v", err)
	}
	if !msg.IsPinned {
		t.Errorf("pin flag not set in store")
	}
	expectFrame(t, c, FrameChatMessage)

	if err := f.hub.DeleteMessage(ctx, "comm1", msg.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !msg.IsDeleted {
		t.Errorf("delete flag not set in store")
	}

	if err := f.hub.PinMessage(ctx, "comm1", "nope", true); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("pinning unknown message = %v, want ErrMessageNotFound", err)
	}
}
