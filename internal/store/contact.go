package store

import (
	"context"
	"strconv"
	"sync"

	"github.com/wtchat/wtchat/internal/api"
	"github.com/wtchat/wtchat/internal/bus"
	"github.com/wtchat/wtchat/internal/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ContactAPI is the slice of the REST client the contact directory needs.
type ContactAPI interface {
	Contacts(ctx context.Context) ([]api.User, error)
	Blocked(ctx context.Context) ([]api.User, error)
	AddContact(ctx context.Context, userID int64) error
	RemoveContact(ctx context.Context, userID int64) error
	BlockUser(ctx context.Context, userID int64) error
	UnblockUser(ctx context.Context, userID int64) error
	UserPhoto(ctx context.Context, userID int64) ([]byte, string, error)
}

// ContactDirectory holds the contact list, the blocked list, and the photo
// cache for the logged-in user. A user id is never reported as both an
// active contact and blocked, not even while a block is in flight.
type ContactDirectory struct {
	client ContactAPI
	selfID int64
	bus    *bus.Bus
	logger *zap.Logger

	mu       sync.Mutex
	contacts []Contact
	blocked  []Contact
	photos   map[int64]*PhotoAsset
	fences   *fences

	photoGroup singleflight.Group
}

// NewContactDirectory creates a directory for the logged-in user selfID.
func NewContactDirectory(client ContactAPI, selfID int64, b *bus.Bus, logger *zap.Logger) *ContactDirectory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContactDirectory{
		client: client,
		selfID: selfID,
		bus:    b,
		logger: logger,
		photos: make(map[int64]*PhotoAsset),
		fences: newFences(),
	}
}

// LoadContacts fetches the contact list and warms the photo cache for each
// contact. A contact whose photo fetch fails simply has no cached photo;
// nothing retries it.
func (d *ContactDirectory) LoadContacts(ctx context.Context) ([]Contact, error) {
	users, err := d.client.Contacts(ctx)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.contacts = contactsFromUsers(users)
	d.mu.Unlock()
	d.publish(bus.KindContactsLoaded, 0)

	for _, u := range users {
		if _, err := d.FetchPhoto(ctx, u.UserID); err != nil {
			d.logger.Debug("photo warm-up failed", zap.Int64("user_id", u.UserID), zap.Error(err))
		}
	}
	return d.Contacts(), nil
}

// LoadBlocked fetches the blocked list. It is independent of LoadContacts;
// the active-contacts view suppresses any id present in both.
func (d *ContactDirectory) LoadBlocked(ctx context.Context) ([]Contact, error) {
	users, err := d.client.Blocked(ctx)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.blocked = contactsFromUsers(users)
	d.mu.Unlock()
	d.publish(bus.KindContactsLoaded, 0)
	return d.Blocked(), nil
}

// Contacts returns the active contacts: the contact list minus any id that
// is also blocked.
func (d *ContactDirectory) Contacts() []Contact {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Contact, 0, len(d.contacts))
	for _, c := range d.contacts {
		if d.blockedIndexLocked(c.UserID) == -1 {
			out = append(out, c)
		}
	}
	return out
}

// Blocked returns a copy of the blocked list.
func (d *ContactDirectory) Blocked() []Contact {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Contact(nil), d.blocked...)
}

// Add optimistically appends user to the contact list and confirms with the
// server, removing it again if the server rejects.
func (d *ContactDirectory) Add(ctx context.Context, user User) error {
	if user.ID == d.selfID {
		return errs.New(errs.Validation, "cannot add self as a contact")
	}

	d.mu.Lock()
	if d.blockedIndexLocked(user.ID) != -1 {
		d.mu.Unlock()
		return errs.Newf(errs.Conflict, "user %d is blocked", user.ID)
	}
	if d.contactIndexLocked(user.ID) != -1 {
		d.mu.Unlock()
		return errs.Newf(errs.Conflict, "user %d is already a contact", user.ID)
	}
	token := d.fences.issue(user.ID)
	mut := beginMutation()
	d.contacts = append(d.contacts, Contact{UserID: user.ID, DisplayName: user.DisplayName()})
	d.mu.Unlock()

	d.publish(bus.KindContactUpdated, user.ID)

	err := d.client.AddContact(ctx, user.ID)

	d.mu.Lock()
	if d.fences.stale(user.ID, token) {
		d.mu.Unlock()
		return errs.Newf(errs.Conflict, "contact mutation for user %d superseded", user.ID)
	}
	if err != nil {
		if i := d.contactIndexLocked(user.ID); i != -1 {
			d.contacts = append(d.contacts[:i], d.contacts[i+1:]...)
		}
		_ = mut.rollback()
		d.mu.Unlock()
		d.publish(bus.KindContactRolledBack, user.ID)
		return err
	}
	_ = mut.commit()
	d.mu.Unlock()

	d.publish(bus.KindContactUpdated, user.ID)
	return nil
}

// Remove optimistically drops the contact and confirms with the server,
// restoring it at its old position if the server rejects. Removing oneself
// is rejected locally and never reaches the network.
func (d *ContactDirectory) Remove(ctx context.Context, userID int64) error {
	if userID == d.selfID {
		return errs.New(errs.Validation, "cannot remove self")
	}

	d.mu.Lock()
	idx := d.contactIndexLocked(userID)
	if idx == -1 {
		d.mu.Unlock()
		return errs.Newf(errs.NotFound, "user %d is not a contact", userID)
	}
	token := d.fences.issue(userID)
	mut := beginMutation()
	removed := d.contacts[idx]
	d.contacts = append(d.contacts[:idx], d.contacts[idx+1:]...)
	d.mu.Unlock()

	d.publish(bus.KindContactUpdated, userID)

	err := d.client.RemoveContact(ctx, userID)

	d.mu.Lock()
	if d.fences.stale(userID, token) {
		d.mu.Unlock()
		return errs.Newf(errs.Conflict, "contact mutation for user %d superseded", userID)
	}
	if err != nil {
		d.contacts = insertContact(d.contacts, removed, idx)
		_ = mut.rollback()
		d.mu.Unlock()
		d.publish(bus.KindContactRolledBack, userID)
		return err
	}
	_ = mut.commit()
	d.mu.Unlock()

	d.publish(bus.KindContactUpdated, userID)
	return nil
}

// Block removes the user from the contacts and adds it to the blocked list
// as one local step, then issues the single block call; the server drops the
// contact edge itself. On failure both sides are restored together, so the
// dual invariant is never observably violated.
func (d *ContactDirectory) Block(ctx context.Context, userID int64) error {
	if userID == d.selfID {
		return errs.New(errs.Validation, "cannot block self")
	}

	d.mu.Lock()
	if d.blockedIndexLocked(userID) != -1 {
		d.mu.Unlock()
		return errs.Newf(errs.Conflict, "user %d is already blocked", userID)
	}
	token := d.fences.issue(userID)
	mut := beginMutation()
	var removedContact *Contact
	removedAt := -1
	display := ""
	if i := d.contactIndexLocked(userID); i != -1 {
		c := d.contacts[i]
		removedContact = &c
		removedAt = i
		display = c.DisplayName
		d.contacts = append(d.contacts[:i], d.contacts[i+1:]...)
	}
	d.blocked = append(d.blocked, Contact{UserID: userID, DisplayName: display})
	d.mu.Unlock()

	d.publish(bus.KindContactUpdated, userID)

	err := d.client.BlockUser(ctx, userID)

	d.mu.Lock()
	if d.fences.stale(userID, token) {
		d.mu.Unlock()
		return errs.Newf(errs.Conflict, "contact mutation for user %d superseded", userID)
	}
	if err != nil {
		if i := d.blockedIndexLocked(userID); i != -1 {
			d.blocked = append(d.blocked[:i], d.blocked[i+1:]...)
		}
		if removedContact != nil {
			d.contacts = insertContact(d.contacts, *removedContact, removedAt)
		}
		_ = mut.rollback()
		d.mu.Unlock()
		d.publish(bus.KindContactRolledBack, userID)
		return err
	}
	_ = mut.commit()
	d.mu.Unlock()

	d.publish(bus.KindContactUpdated, userID)
	return nil
}

// Unblock removes the user from the blocked list. It does not re-add the
// contact relation; the two edges are distinct.
func (d *ContactDirectory) Unblock(ctx context.Context, userID int64) error {
	d.mu.Lock()
	idx := d.blockedIndexLocked(userID)
	if idx == -1 {
		d.mu.Unlock()
		return errs.Newf(errs.NotFound, "user %d is not blocked", userID)
	}
	token := d.fences.issue(userID)
	mut := beginMutation()
	removed := d.blocked[idx]
	d.blocked = append(d.blocked[:idx], d.blocked[idx+1:]...)
	d.mu.Unlock()

	d.publish(bus.KindContactUpdated, userID)

	err := d.client.UnblockUser(ctx, userID)

	d.mu.Lock()
	if d.fences.stale(userID, token) {
		d.mu.Unlock()
		return errs.Newf(errs.Conflict, "contact mutation for user %d superseded", userID)
	}
	if err != nil {
		d.blocked = insertContact(d.blocked, removed, idx)
		_ = mut.rollback()
		d.mu.Unlock()
		d.publish(bus.KindContactRolledBack, userID)
		return err
	}
	_ = mut.commit()
	d.mu.Unlock()

	d.publish(bus.KindContactUpdated, userID)
	return nil
}

// FetchPhoto returns the user's cached photo, fetching it once if absent.
// A 404 caches the "no photo" sentinel so the absence is not re-fetched.
// Concurrent calls for the same user collapse into one request. Callers must
// not mutate the returned asset.
func (d *ContactDirectory) FetchPhoto(ctx context.Context, userID int64) (*PhotoAsset, error) {
	d.mu.Lock()
	if a, ok := d.photos[userID]; ok {
		d.mu.Unlock()
		return a, nil
	}
	d.mu.Unlock()

	v, err, _ := d.photoGroup.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		d.mu.Lock()
		if a, ok := d.photos[userID]; ok {
			d.mu.Unlock()
			return a, nil
		}
		d.mu.Unlock()

		data, contentType, err := d.client.UserPhoto(ctx, userID)
		if err != nil {
			if errs.IsKind(err, errs.NotFound) {
				asset := &PhotoAsset{OwnerID: userID, Missing: true}
				d.mu.Lock()
				d.photos[userID] = asset
				d.mu.Unlock()
				return asset, nil
			}
			return nil, err
		}
		asset := &PhotoAsset{OwnerID: userID, Data: data, ContentType: contentType}
		d.mu.Lock()
		d.photos[userID] = asset
		d.mu.Unlock()
		return asset, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*PhotoAsset), nil
}

// InvalidatePhoto drops the cached photo for a user, typically after an
// upload changed it. The next FetchPhoto re-fetches.
func (d *ContactDirectory) InvalidatePhoto(userID int64) {
	d.mu.Lock()
	delete(d.photos, userID)
	d.mu.Unlock()
}

func (d *ContactDirectory) contactIndexLocked(userID int64) int {
	for i, c := range d.contacts {
		if c.UserID == userID {
			return i
		}
	}
	return -1
}

func (d *ContactDirectory) blockedIndexLocked(userID int64) int {
	for i, c := range d.blocked {
		if c.UserID == userID {
			return i
		}
	}
	return -1
}

func contactsFromUsers(users []api.User) []Contact {
	out := make([]Contact, 0, len(users))
	for _, u := range users {
		out = append(out, Contact{UserID: u.UserID, DisplayName: userFromAPI(u).DisplayName()})
	}
	return out
}

func insertContact(list []Contact, c Contact, at int) []Contact {
	if at < 0 || at > len(list) {
		at = len(list)
	}
	list = append(list, Contact{})
	copy(list[at+1:], list[at:])
	list[at] = c
	return list
}

func (d *ContactDirectory) publish(kind string, userID int64) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(kind, ContactEvent{UserID: userID})
}
