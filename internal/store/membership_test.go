package store

import (
	"context"
	"testing"

	"github.com/wtchat/wtchat/internal/api"
	"github.com/wtchat/wtchat/internal/errs"
)

func newTestMembership(t *testing.T, f *fakeClient) (*MembershipController, *ChatDirectory) {
	t.Helper()
	d := NewChatDirectory(f, selfUser, nil, nil)
	return NewMembershipController(d, f, nil), d
}

func seedChatMembers(t *testing.T, d *ChatDirectory, f *fakeClient, chatID int64, members ...api.User) *MessageStore {
	t.Helper()
	st := d.Open(chatID)
	f.getChatFn = func(int64, int, int) (*api.ChatDetails, error) {
		return &api.ChatDetails{Name: "general", Members: members}, nil
	}
	if err := st.Refresh(context.Background()); err != nil {
		t.Fatalf("seed chat: %v", err)
	}
	f.getChatFn = nil
	return st
}

func memberIDs(members []User) []int64 {
	out := make([]int64, 0, len(members))
	for _, m := range members {
		out = append(out, m.ID)
	}
	return out
}

func TestAddMemberRefreshesFromServer(t *testing.T) {
	f := &fakeClient{}
	m, d := newTestMembership(t, f)
	st := seedChatMembers(t, d, f, 1, api.User{UserID: 1, FirstName: "Self"})

	f.addMemberFn = func(chatID, userID int64) error {
		if got := memberIDs(st.Members()); len(got) != 2 || got[1] != 2 {
			t.Errorf("optimistic member not visible in flight: %v", got)
		}
		return nil
	}
	f.getChatFn = func(int64, int, int) (*api.ChatDetails, error) {
		return &api.ChatDetails{
			Name:    "general",
			Members: []api.User{{UserID: 1, FirstName: "Self"}, {UserID: 2, FirstName: "Ada", LastName: "Lovelace"}},
		}, nil
	}

	if err := m.AddMember(context.Background(), 1, User{ID: 2}); err != nil {
		t.Fatalf("add member: %v", err)
	}

	members := st.Members()
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %v", memberIDs(members))
	}
	// The sparse optimistic record is replaced by the server's full one.
	if members[1].FirstName != "Ada" || members[1].LastName != "Lovelace" {
		t.Fatalf("member record not refreshed from server: %+v", members[1])
	}
	if c, _ := d.Chat(1); len(c.Members) != 2 {
		t.Fatalf("directory members not synced: %v", memberIDs(c.Members))
	}
}

func TestAddMemberRollsBackOnRejection(t *testing.T) {
	f := &fakeClient{}
	m, d := newTestMembership(t, f)
	st := seedChatMembers(t, d, f, 1, api.User{UserID: 1, FirstName: "Self"})

	f.addMemberFn = func(int64, int64) error {
		return errs.New(errs.Forbidden, "only members can add members")
	}

	err := m.AddMember(context.Background(), 1, User{ID: 2})
	if !errs.IsKind(err, errs.Forbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if got := memberIDs(st.Members()); len(got) != 1 {
		t.Fatalf("failed add left the member in the list: %v", got)
	}
	if f.count("get_chat") != 1 {
		t.Fatal("failed add triggered a refresh")
	}
}

func TestAddExistingMemberIsRejectedLocally(t *testing.T) {
	f := &fakeClient{}
	m, d := newTestMembership(t, f)
	seedChatMembers(t, d, f, 1, api.User{UserID: 1}, api.User{UserID: 2})

	err := m.AddMember(context.Background(), 1, User{ID: 2})
	if !errs.IsKind(err, errs.Conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if f.count("add_member") != 0 {
		t.Fatal("duplicate add reached the network")
	}
}

func TestRemoveMemberRestoresOnFailure(t *testing.T) {
	f := &fakeClient{}
	m, d := newTestMembership(t, f)
	st := seedChatMembers(t, d, f, 1, api.User{UserID: 1}, api.User{UserID: 2, FirstName: "Ada"})

	f.removeMemberFn = func(int64, int64) error {
		if got := memberIDs(st.Members()); len(got) != 1 {
			t.Errorf("optimistic removal not visible in flight: %v", got)
		}
		return errs.New(errs.Server, "internal server error")
	}

	err := m.RemoveMember(context.Background(), 1, 2)
	if !errs.IsKind(err, errs.Server) {
		t.Fatalf("expected server error, got %v", err)
	}
	members := st.Members()
	if len(members) != 2 || members[1].FirstName != "Ada" {
		t.Fatalf("member record not restored: %+v", members)
	}
}

func TestRemoveMemberConfirmed(t *testing.T) {
	f := &fakeClient{}
	m, d := newTestMembership(t, f)
	st := seedChatMembers(t, d, f, 1, api.User{UserID: 1}, api.User{UserID: 2})

	if err := m.RemoveMember(context.Background(), 1, 2); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	if got := memberIDs(st.Members()); len(got) != 1 || got[0] != 1 {
		t.Fatalf("member not removed: %v", got)
	}
	if c, _ := d.Chat(1); len(c.Members) != 1 {
		t.Fatalf("directory members not synced: %v", memberIDs(c.Members))
	}
}

func TestMembershipPushKeepsSummaryProjection(t *testing.T) {
	f := &fakeClient{}
	m, d := newTestMembership(t, f)
	f.listChatsFn = func() ([]api.ChatSummary, error) {
		return []api.ChatSummary{{ChatID: 5, Name: "general", LastMessage: payload(7, 70, "latest", 2)}}, nil
	}
	if _, err := d.List(context.Background()); err != nil {
		t.Fatalf("list: %v", err)
	}

	// A failing add on a chat whose store never loaded pushes metadata twice
	// (optimistic append, then rollback) with an empty message view.
	f.addMemberFn = func(int64, int64) error {
		return errs.New(errs.Server, "internal server error")
	}
	if err := m.AddMember(context.Background(), 5, User{ID: 2}); !errs.IsKind(err, errs.Server) {
		t.Fatalf("expected server error, got %v", err)
	}

	c, ok := d.Chat(5)
	if !ok || c.LastMessage == nil || c.LastMessage.ID != 7 {
		t.Fatalf("membership push clobbered the summary projection: %+v", c.LastMessage)
	}
}

func TestRemoveUnknownMember(t *testing.T) {
	f := &fakeClient{}
	m, d := newTestMembership(t, f)
	seedChatMembers(t, d, f, 1, api.User{UserID: 1})

	if err := m.RemoveMember(context.Background(), 1, 9); !errs.IsKind(err, errs.NotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if f.count("remove_member") != 0 {
		t.Fatal("unknown member removal reached the network")
	}
}
