package bus

import "time"

// Event kinds published by the stores. Subscribers filter on a namespace
// prefix, so "message." matches every message event and so on.
const (
	KindMessagePending    = "message.pending"
	KindMessageCommitted  = "message.committed"
	KindMessageFailed     = "message.failed"
	KindMessageRolledBack = "message.rolled_back"
	KindMessageDeleted    = "message.deleted"
	KindMessagesLoaded    = "message.loaded"

	KindChatListed     = "chat.listed"
	KindChatCreated    = "chat.created"
	KindChatUpdated    = "chat.updated"
	KindChatRolledBack = "chat.rolled_back"

	KindContactsLoaded    = "contact.loaded"
	KindContactUpdated    = "contact.updated"
	KindContactRolledBack = "contact.rolled_back"

	KindSessionEstablished = "session.established"
	KindSessionInvalidated = "session.invalidated"
)

// Event is a notification that local state changed. The payload identifies
// what changed; consumers re-read the owning store for current state.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
