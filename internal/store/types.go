package store

import (
	"strings"

	"github.com/wtchat/wtchat/internal/api"
)

// DefaultPageSize matches the message window the original client requests.
const DefaultPageSize = 20

// MaxMessageLen is the server-side message length limit, enforced locally so
// oversized messages never reach the network.
const MaxMessageLen = 1000

// User is the domain view of a server user record.
type User struct {
	ID        int64
	FirstName string
	LastName  string
	Email     string
}

// DisplayName renders "First Last", tolerating missing parts.
func (u User) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func userFromAPI(u api.User) User {
	return User{ID: u.UserID, FirstName: u.FirstName, LastName: u.LastName, Email: u.Email}
}

func usersFromAPI(us []api.User) []User {
	out := make([]User, 0, len(us))
	for _, u := range us {
		out = append(out, userFromAPI(u))
	}
	return out
}

// Contact is a user in the contact or blocked list of the logged-in user.
type Contact struct {
	UserID      int64
	DisplayName string
}

// PhotoAsset is a cached profile photo. Missing marks the "no photo" sentinel
// cached after a 404 so the same absent photo is not fetched again.
type PhotoAsset struct {
	OwnerID     int64
	Data        []byte
	ContentType string
	Missing     bool
}

// SyncState marks a message's confirmation status relative to the server.
type SyncState string

const (
	StateCommitted     SyncState = "committed"
	StatePendingCreate SyncState = "pending_create"
	StatePendingEdit   SyncState = "pending_edit"
	StatePendingDelete SyncState = "pending_delete"
	StateFailed        SyncState = "failed"
)

// Message is one message in a chat's ordered view. ID is the server-assigned
// id and stays zero while the message is a local PendingCreate, which is
// addressed by LocalID instead.
type Message struct {
	ID        int64
	LocalID   string
	ChatID    int64
	Author    User
	Text      string
	Timestamp int64
	State     SyncState

	// prevText holds the committed text while an edit is pending, for rollback.
	prevText string
	// seq is a local insertion counter used as the final ordering tie-break
	// between entries that have no server id yet.
	seq uint64
}

// Pending reports whether the message has an unconfirmed mutation.
func (m *Message) Pending() bool {
	switch m.State {
	case StatePendingCreate, StatePendingEdit, StatePendingDelete:
		return true
	}
	return false
}

// compareMessages orders by (timestamp, message_id) ascending. Entries
// without a server id sort after confirmed ones at the same timestamp, in
// insertion order.
func compareMessages(a, b *Message) int {
	if a.Timestamp != b.Timestamp {
		if a.Timestamp < b.Timestamp {
			return -1
		}
		return 1
	}
	switch {
	case a.ID != 0 && b.ID != 0:
		if a.ID != b.ID {
			if a.ID < b.ID {
				return -1
			}
			return 1
		}
		return 0
	case a.ID != 0:
		return -1
	case b.ID != 0:
		return 1
	default:
		if a.seq != b.seq {
			if a.seq < b.seq {
				return -1
			}
			return 1
		}
		return 0
	}
}

// Chat summarizes one chat in the directory. LastMessage is a projection of
// the highest-ordered live message in the chat's message store, nil for a
// chat with no messages.
type Chat struct {
	ID          int64
	Name        string
	Creator     User
	Members     []User
	LastMessage *Message
}

// ChatMeta is the metadata a MessageStore pushes to its directory after a
// load or membership change. Loaded marks that the store has fetched its
// chat at least once, making its (possibly empty) message view
// authoritative for the last-message projection.
type ChatMeta struct {
	ChatID  int64
	Name    string
	Creator User
	Members []User
	Loaded  bool
}

// MessageEvent is the bus payload for message.* events.
type MessageEvent struct {
	ChatID    int64
	MessageID int64
	LocalID   string
}

// ChatEvent is the bus payload for chat.* events.
type ChatEvent struct {
	ChatID int64
}

// ContactEvent is the bus payload for contact.* events.
type ContactEvent struct {
	UserID int64
}
