package store

import (
	"context"
	"sync"
	"testing"

	"github.com/wtchat/wtchat/internal/api"
	"github.com/wtchat/wtchat/internal/errs"
)

func newTestContacts(t *testing.T, f *fakeClient) *ContactDirectory {
	t.Helper()
	return NewContactDirectory(f, selfUser.ID, nil, nil)
}

func seedContacts(t *testing.T, d *ContactDirectory, f *fakeClient, users ...api.User) {
	t.Helper()
	f.contactsFn = func() ([]api.User, error) { return users, nil }
	if _, err := d.LoadContacts(context.Background()); err != nil {
		t.Fatalf("seed contacts: %v", err)
	}
	f.contactsFn = nil
}

func contactIDs(list []Contact) []int64 {
	out := make([]int64, 0, len(list))
	for _, c := range list {
		out = append(out, c.UserID)
	}
	return out
}

func hasContact(list []Contact, id int64) bool {
	for _, c := range list {
		if c.UserID == id {
			return true
		}
	}
	return false
}

func TestContactsSuppressBlockedIDs(t *testing.T) {
	f := &fakeClient{}
	d := newTestContacts(t, f)
	seedContacts(t, d, f, api.User{UserID: 2, FirstName: "Ada"}, api.User{UserID: 3, FirstName: "Ben"})

	f.blockedFn = func() ([]api.User, error) {
		return []api.User{{UserID: 3, FirstName: "Ben"}}, nil
	}
	if _, err := d.LoadBlocked(context.Background()); err != nil {
		t.Fatalf("load blocked: %v", err)
	}

	active := d.Contacts()
	if hasContact(active, 3) {
		t.Fatalf("blocked id reported as active contact: %v", contactIDs(active))
	}
	if !hasContact(active, 2) {
		t.Fatalf("unblocked contact missing: %v", contactIDs(active))
	}
	if !hasContact(d.Blocked(), 3) {
		t.Fatal("blocked list missing the blocked id")
	}
}

func TestBlockNeverShowsBothViews(t *testing.T) {
	f := &fakeClient{}
	d := newTestContacts(t, f)
	seedContacts(t, d, f, api.User{UserID: 2, FirstName: "Ada"})

	checkDisjoint := func(when string) {
		active, blocked := d.Contacts(), d.Blocked()
		for _, c := range active {
			if hasContact(blocked, c.UserID) {
				t.Errorf("%s: user %d in both views", when, c.UserID)
			}
		}
	}

	f.blockFn = func(int64) error {
		if hasContact(d.Contacts(), 2) {
			t.Error("in-flight block still shows user as active contact")
		}
		if !hasContact(d.Blocked(), 2) {
			t.Error("in-flight block does not show user as blocked")
		}
		checkDisjoint("in flight")
		return nil
	}

	if err := d.Block(context.Background(), 2); err != nil {
		t.Fatalf("block: %v", err)
	}
	checkDisjoint("after confirm")
	if hasContact(d.Contacts(), 2) || !hasContact(d.Blocked(), 2) {
		t.Fatal("confirmed block did not settle in the blocked view")
	}
}

func TestBlockRollbackRestoresBothSides(t *testing.T) {
	f := &fakeClient{}
	d := newTestContacts(t, f)
	seedContacts(t, d, f, api.User{UserID: 2, FirstName: "Ada"}, api.User{UserID: 3, FirstName: "Ben"})

	f.blockFn = func(int64) error {
		return errs.New(errs.Server, "internal server error")
	}

	err := d.Block(context.Background(), 2)
	if !errs.IsKind(err, errs.Server) {
		t.Fatalf("expected server error, got %v", err)
	}
	if got := contactIDs(d.Contacts()); len(got) != 2 || got[0] != 2 {
		t.Fatalf("contact not restored at its old position: %v", got)
	}
	if hasContact(d.Blocked(), 2) {
		t.Fatal("failed block left the user in the blocked list")
	}
}

func TestBlockUserWhoIsNotAContact(t *testing.T) {
	f := &fakeClient{}
	d := newTestContacts(t, f)

	if err := d.Block(context.Background(), 7); err != nil {
		t.Fatalf("block: %v", err)
	}
	if !hasContact(d.Blocked(), 7) {
		t.Fatal("blocked list missing the user")
	}
	if err := d.Block(context.Background(), 7); !errs.IsKind(err, errs.Conflict) {
		t.Fatalf("expected conflict on double block, got %v", err)
	}
}

func TestUnblockDoesNotRestoreContact(t *testing.T) {
	f := &fakeClient{}
	d := newTestContacts(t, f)
	seedContacts(t, d, f, api.User{UserID: 2, FirstName: "Ada"})

	if err := d.Block(context.Background(), 2); err != nil {
		t.Fatalf("block: %v", err)
	}
	if err := d.Unblock(context.Background(), 2); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if hasContact(d.Blocked(), 2) {
		t.Fatal("unblock left the user blocked")
	}
	// The contact edge was dropped by the block; unblocking does not revive it.
	if hasContact(d.Contacts(), 2) {
		t.Fatal("unblock re-added the contact")
	}
}

func TestUnblockRestoresOnFailure(t *testing.T) {
	f := &fakeClient{}
	d := newTestContacts(t, f)
	if err := d.Block(context.Background(), 7); err != nil {
		t.Fatalf("block: %v", err)
	}

	f.unblockFn = func(int64) error {
		return errs.New(errs.Server, "internal server error")
	}
	if err := d.Unblock(context.Background(), 7); !errs.IsKind(err, errs.Server) {
		t.Fatalf("expected server error, got %v", err)
	}
	if !hasContact(d.Blocked(), 7) {
		t.Fatal("failed unblock removed the user from the blocked list")
	}
}

func TestRemoveSelfIsRejectedLocally(t *testing.T) {
	f := &fakeClient{}
	d := newTestContacts(t, f)

	err := d.Remove(context.Background(), selfUser.ID)
	if !errs.IsKind(err, errs.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if f.count("remove_contact") != 0 {
		t.Fatal("self removal reached the network")
	}
}

func TestAddSelfIsRejectedLocally(t *testing.T) {
	f := &fakeClient{}
	d := newTestContacts(t, f)

	err := d.Add(context.Background(), selfUser)
	if !errs.IsKind(err, errs.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if f.count("add_contact") != 0 {
		t.Fatal("self add reached the network")
	}
}

func TestAddRollsBackOnRejection(t *testing.T) {
	f := &fakeClient{}
	d := newTestContacts(t, f)

	f.addContactFn = func(int64) error {
		if !hasContact(d.Contacts(), 2) {
			t.Error("in-flight add not visible")
		}
		return errs.New(errs.NotFound, "user not found")
	}

	err := d.Add(context.Background(), User{ID: 2, FirstName: "Ada"})
	if !errs.IsKind(err, errs.NotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if hasContact(d.Contacts(), 2) {
		t.Fatal("failed add left the contact in the list")
	}
}

func TestAddBlockedUserIsRejected(t *testing.T) {
	f := &fakeClient{}
	d := newTestContacts(t, f)
	if err := d.Block(context.Background(), 5); err != nil {
		t.Fatalf("block: %v", err)
	}

	err := d.Add(context.Background(), User{ID: 5})
	if !errs.IsKind(err, errs.Conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if f.count("add_contact") != 0 {
		t.Fatal("blocked add reached the network")
	}
}

func TestRemoveRestoresContactAtOldPosition(t *testing.T) {
	f := &fakeClient{}
	d := newTestContacts(t, f)
	seedContacts(t, d, f,
		api.User{UserID: 2, FirstName: "Ada"},
		api.User{UserID: 3, FirstName: "Ben"},
		api.User{UserID: 4, FirstName: "Cyd"})

	f.removeContactFn = func(int64) error {
		return errs.New(errs.Server, "internal server error")
	}
	if err := d.Remove(context.Background(), 3); !errs.IsKind(err, errs.Server) {
		t.Fatalf("expected server error, got %v", err)
	}

	want := []int64{2, 3, 4}
	got := contactIDs(d.Contacts())
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("contact order after rollback %v, want %v", got, want)
		}
	}
}

func TestPhotoFetchedOnceAndCached(t *testing.T) {
	f := &fakeClient{}
	d := newTestContacts(t, f)
	f.photoFn = func(int64) ([]byte, string, error) {
		return []byte{0x89, 0x50}, "image/png", nil
	}

	for i := 0; i < 3; i++ {
		a, err := d.FetchPhoto(context.Background(), 2)
		if err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		if a.Missing || a.ContentType != "image/png" {
			t.Fatalf("fetch %d returned %+v", i, a)
		}
	}
	if f.count("photo") != 1 {
		t.Fatalf("photo fetched %d times, want 1", f.count("photo"))
	}
}

func TestMissingPhotoCachedAsSentinel(t *testing.T) {
	f := &fakeClient{}
	d := newTestContacts(t, f)
	f.photoFn = func(int64) ([]byte, string, error) {
		return nil, "", errs.New(errs.NotFound, "photo not found")
	}

	for i := 0; i < 2; i++ {
		a, err := d.FetchPhoto(context.Background(), 2)
		if err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		if !a.Missing {
			t.Fatalf("fetch %d: expected missing sentinel, got %+v", i, a)
		}
	}
	if f.count("photo") != 1 {
		t.Fatalf("absent photo fetched %d times, want 1", f.count("photo"))
	}
}

func TestPhotoFetchErrorNotCached(t *testing.T) {
	f := &fakeClient{}
	d := newTestContacts(t, f)
	f.photoFn = func(int64) ([]byte, string, error) {
		return nil, "", errs.New(errs.Network, "connection refused")
	}

	if _, err := d.FetchPhoto(context.Background(), 2); !errs.IsKind(err, errs.Network) {
		t.Fatalf("expected network error, got %v", err)
	}

	f.photoFn = func(int64) ([]byte, string, error) {
		return []byte{1}, "image/jpeg", nil
	}
	a, err := d.FetchPhoto(context.Background(), 2)
	if err != nil {
		t.Fatalf("retry fetch: %v", err)
	}
	if a.Missing || a.ContentType != "image/jpeg" {
		t.Fatalf("retry returned %+v", a)
	}
}

func TestConcurrentPhotoFetchesCollapse(t *testing.T) {
	f := &fakeClient{}
	d := newTestContacts(t, f)
	release := make(chan struct{})
	f.photoFn = func(int64) ([]byte, string, error) {
		<-release
		return []byte{1}, "image/png", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.FetchPhoto(context.Background(), 2); err != nil {
				t.Errorf("fetch: %v", err)
			}
		}()
	}
	close(release)
	wg.Wait()

	if f.count("photo") != 1 {
		t.Fatalf("photo fetched %d times, want 1", f.count("photo"))
	}
}

func TestInvalidatePhotoForcesRefetch(t *testing.T) {
	f := &fakeClient{}
	d := newTestContacts(t, f)
	f.photoFn = func(int64) ([]byte, string, error) {
		return []byte{1}, "image/png", nil
	}

	if _, err := d.FetchPhoto(context.Background(), 2); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	d.InvalidatePhoto(2)
	if _, err := d.FetchPhoto(context.Background(), 2); err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if f.count("photo") != 2 {
		t.Fatalf("photo fetched %d times after invalidation, want 2", f.count("photo"))
	}
}
