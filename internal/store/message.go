package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wtchat/wtchat/internal/api"
	"github.com/wtchat/wtchat/internal/bus"
	"github.com/wtchat/wtchat/internal/errs"
	"go.uber.org/zap"
)

// MessageAPI is the slice of the REST client a MessageStore needs.
type MessageAPI interface {
	GetChat(ctx context.Context, chatID int64, limit, offset int) (*api.ChatDetails, error)
	SendMessage(ctx context.Context, chatID int64, text string) (*api.SendReceipt, error)
	EditMessage(ctx context.Context, chatID, messageID int64, text string) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
}

// MessageStore holds the ordered message view of one chat and applies
// optimistic mutations against it. Local state changes are atomic with
// respect to readers; network calls never happen under the state lock.
type MessageStore struct {
	chatID int64
	self   User
	client MessageAPI
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time

	// loadMu serializes Load calls so two overlapping page fetches cannot
	// interleave their merges.
	loadMu sync.Mutex

	mu           sync.Mutex
	name         string
	creator      User
	members      []User
	loaded       bool
	msgs         []*Message
	msgFences    *fences
	memberFences *fences
	seq          uint64
	onSync       func(meta ChatMeta, newest *Message)
}

// NewMessageStore creates a store for one chat. self is the logged-in user,
// used as the author of optimistic sends.
func NewMessageStore(chatID int64, self User, client MessageAPI, b *bus.Bus, logger *zap.Logger) *MessageStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageStore{
		chatID:       chatID,
		self:         self,
		client:       client,
		bus:          b,
		logger:       logger,
		now:          time.Now,
		msgFences:    newFences(),
		memberFences: newFences(),
	}
}

// ChatID returns the chat this store belongs to.
func (s *MessageStore) ChatID() int64 {
	return s.chatID
}

// Name returns the chat name from the last load.
func (s *MessageStore) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Creator returns the chat creator from the last load.
func (s *MessageStore) Creator() User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creator
}

// Members returns a copy of the chat's member list.
func (s *MessageStore) Members() []User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]User(nil), s.members...)
}

// Messages returns a copy of the message view in ascending
// (timestamp, message_id) order, pending entries included.
func (s *MessageStore) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, 0, len(s.msgs))
	for _, m := range s.msgs {
		out = append(out, *m)
	}
	return out
}

// Load fetches the window [offset, offset+limit) of the chat's messages,
// newest-first per the server contract, and merges it into the local view.
// Loading the same window twice yields the same set. Concurrent calls are
// queued, not interleaved.
func (s *MessageStore) Load(ctx context.Context, offset, limit int) error {
	if offset < 0 {
		return errs.New(errs.Validation, "offset must not be negative")
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	details, err := s.client.GetChat(ctx, s.chatID, limit, offset)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.loaded = true
	s.name = details.Name
	s.creator = userFromAPI(details.Creator)
	s.members = usersFromAPI(details.Members)
	for _, p := range details.Messages {
		if p.MessageID == 0 {
			// Empty projection for a chat with no messages.
			continue
		}
		s.mergeLocked(p)
	}
	s.sortLocked()
	s.mu.Unlock()

	s.publish(bus.KindMessagesLoaded, &Message{ChatID: s.chatID})
	s.pushSync()
	return nil
}

// Refresh reloads the newest page.
func (s *MessageStore) Refresh(ctx context.Context) error {
	return s.Load(ctx, 0, DefaultPageSize)
}

// mergeLocked upserts a fetched message. An entry with a pending local
// mutation wins over the fetched copy; everything else takes the server value.
func (s *MessageStore) mergeLocked(p api.MessagePayload) {
	for _, m := range s.msgs {
		if m.ID == p.MessageID {
			if m.State == StateCommitted {
				m.Text = p.Message
				m.Timestamp = p.Timestamp
				m.Author = userFromAPI(p.Author)
			}
			return
		}
	}
	s.seq++
	s.msgs = append(s.msgs, &Message{
		ID:        p.MessageID,
		ChatID:    s.chatID,
		Author:    userFromAPI(p.Author),
		Text:      p.Message,
		Timestamp: p.Timestamp,
		State:     StateCommitted,
		seq:       s.seq,
	})
}

// Send validates text locally, appends a PendingCreate entry, then issues
// the create request. On confirmation the entry takes the server-assigned id
// and timestamp; on failure it stays visible, tagged Failed.
func (s *MessageStore) Send(ctx context.Context, text string) (Message, error) {
	if err := validateMessageText(text); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	s.seq++
	entry := &Message{
		LocalID:   uuid.NewString(),
		ChatID:    s.chatID,
		Author:    s.self,
		Text:      text,
		Timestamp: s.now().UnixMilli(),
		State:     StatePendingCreate,
		seq:       s.seq,
	}
	mut := beginMutation()
	s.msgs = append(s.msgs, entry)
	s.sortLocked()
	s.mu.Unlock()

	s.publish(bus.KindMessagePending, entry)
	s.pushSync()

	receipt, err := s.client.SendMessage(ctx, s.chatID, text)

	s.mu.Lock()
	if err != nil {
		entry.State = StateFailed
		_ = mut.rollback()
		out := *entry
		s.mu.Unlock()
		s.logger.Warn("send failed", zap.Int64("chat_id", s.chatID), zap.Error(err))
		s.publish(bus.KindMessageFailed, entry)
		s.pushSync()
		return out, err
	}
	if receipt != nil && receipt.MessageID != 0 {
		entry.ID = receipt.MessageID
		if receipt.Timestamp != 0 {
			entry.Timestamp = receipt.Timestamp
		}
		entry.State = StateCommitted
		s.dropTwinLocked(entry)
		s.sortLocked()
		_ = mut.commit()
		out := *entry
		s.mu.Unlock()
		s.publish(bus.KindMessageCommitted, entry)
		s.pushSync()
		return out, nil
	}
	s.mu.Unlock()

	// The deployment answered with an empty receipt; reconcile the pending
	// entry against a reload of the newest page.
	return s.adoptAfterReload(ctx, entry, mut)
}

// adoptAfterReload resolves a confirmed send whose receipt carried no id.
// The reload brings in the committed copy; the optimistic entry is dropped
// in its favor.
func (s *MessageStore) adoptAfterReload(ctx context.Context, entry *Message, mut *mutation) (Message, error) {
	if err := s.Refresh(ctx); err != nil {
		// The send itself succeeded; leave the entry pending rather than
		// reporting a failure that did not happen.
		s.mu.Lock()
		out := *entry
		s.mu.Unlock()
		return out, err
	}

	s.mu.Lock()
	var twin *Message
	for i := len(s.msgs) - 1; i >= 0; i-- {
		m := s.msgs[i]
		if m.State == StateCommitted && m.Author.ID == entry.Author.ID && m.Text == entry.Text {
			twin = m
			break
		}
	}
	if twin == nil {
		out := *entry
		s.mu.Unlock()
		return out, nil
	}
	s.removeLocked(entry)
	_ = mut.commit()
	out := *twin
	s.mu.Unlock()

	s.publish(bus.KindMessageCommitted, twin)
	s.pushSync()
	return out, nil
}

// Edit sets the message's text optimistically and confirms with the server,
// rolling the text back if the server rejects it. Author enforcement is
// remote; a foreign message comes back as a forbidden error and rolls back
// the same way.
func (s *MessageStore) Edit(ctx context.Context, messageID int64, text string) error {
	if err := validateMessageText(text); err != nil {
		return err
	}
	if messageID <= 0 {
		return errs.New(errs.Validation, "message id must be positive")
	}

	s.mu.Lock()
	entry := s.byIDLocked(messageID)
	if entry == nil {
		s.mu.Unlock()
		return errs.Newf(errs.NotFound, "message %d not in local view", messageID)
	}
	if entry.State != StateCommitted {
		s.mu.Unlock()
		return errs.Newf(errs.Conflict, "message %d has a mutation in flight", messageID)
	}
	token := s.msgFences.issue(messageID)
	mut := beginMutation()
	entry.prevText = entry.Text
	entry.Text = text
	entry.State = StatePendingEdit
	s.mu.Unlock()

	s.publish(bus.KindMessagePending, entry)
	s.pushSync()

	err := s.client.EditMessage(ctx, s.chatID, messageID, text)

	s.mu.Lock()
	if s.msgFences.stale(messageID, token) {
		// A newer mutation owns this message; this response must not touch it.
		s.mu.Unlock()
		return errs.Newf(errs.Conflict, "edit of message %d superseded by a newer operation", messageID)
	}
	if err != nil {
		entry.Text = entry.prevText
		entry.prevText = ""
		entry.State = StateCommitted
		_ = mut.rollback()
		s.mu.Unlock()
		s.publish(bus.KindMessageRolledBack, entry)
		s.pushSync()
		return err
	}
	entry.prevText = ""
	entry.State = StateCommitted
	_ = mut.commit()
	s.mu.Unlock()

	s.publish(bus.KindMessageCommitted, entry)
	s.pushSync()
	return nil
}

// Delete marks the message PendingDelete (still visible) and issues the
// delete. On confirmation the entry leaves the view; on failure it is
// restored to Committed.
func (s *MessageStore) Delete(ctx context.Context, messageID int64) error {
	if messageID <= 0 {
		return errs.New(errs.Validation, "message id must be positive")
	}

	s.mu.Lock()
	entry := s.byIDLocked(messageID)
	if entry == nil {
		s.mu.Unlock()
		return errs.Newf(errs.NotFound, "message %d not in local view", messageID)
	}
	if entry.State == StatePendingDelete {
		s.mu.Unlock()
		return errs.Newf(errs.Conflict, "message %d is already being deleted", messageID)
	}
	token := s.msgFences.issue(messageID)
	mut := beginMutation()
	entry.State = StatePendingDelete
	s.mu.Unlock()

	s.publish(bus.KindMessagePending, entry)

	err := s.client.DeleteMessage(ctx, s.chatID, messageID)

	s.mu.Lock()
	if s.msgFences.stale(messageID, token) {
		s.mu.Unlock()
		return errs.Newf(errs.Conflict, "delete of message %d superseded by a newer operation", messageID)
	}
	if err != nil {
		// Restore the last committed text; an edit that was superseded by
		// this delete never resolved.
		if entry.prevText != "" {
			entry.Text = entry.prevText
			entry.prevText = ""
		}
		entry.State = StateCommitted
		_ = mut.rollback()
		s.mu.Unlock()
		s.publish(bus.KindMessageRolledBack, entry)
		s.pushSync()
		return err
	}
	s.removeLocked(entry)
	_ = mut.commit()
	s.mu.Unlock()

	s.publish(bus.KindMessageDeleted, entry)
	s.pushSync()
	return nil
}

func validateMessageText(text string) error {
	if len(strings.TrimSpace(text)) == 0 {
		return errs.New(errs.Validation, "message must not be empty")
	}
	if len(text) > MaxMessageLen {
		return errs.Newf(errs.Validation, "message exceeds %d characters", MaxMessageLen)
	}
	return nil
}

func (s *MessageStore) byIDLocked(messageID int64) *Message {
	for _, m := range s.msgs {
		if m.ID == messageID {
			return m
		}
	}
	return nil
}

func (s *MessageStore) removeLocked(entry *Message) {
	for i, m := range s.msgs {
		if m == entry {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			return
		}
	}
}

// dropTwinLocked removes a committed duplicate of entry that a concurrent
// load merged in before the send confirmation arrived.
func (s *MessageStore) dropTwinLocked(entry *Message) {
	for i, m := range s.msgs {
		if m != entry && m.ID == entry.ID {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			return
		}
	}
}

func (s *MessageStore) sortLocked() {
	slices.SortStableFunc(s.msgs, compareMessages)
}

// newestLocked returns the highest-ordered message that is committed or
// pending. Failed entries never feed the last-message projection.
func (s *MessageStore) newestLocked() *Message {
	for i := len(s.msgs) - 1; i >= 0; i-- {
		if m := s.msgs[i]; m.State != StateFailed {
			return m
		}
	}
	return nil
}

// setOnSync registers the directory callback receiving metadata and
// last-message pushes.
func (s *MessageStore) setOnSync(cb func(meta ChatMeta, newest *Message)) {
	s.mu.Lock()
	s.onSync = cb
	s.mu.Unlock()
}

// setName mirrors an optimistic chat rename into the store's metadata.
func (s *MessageStore) setName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

// addMemberLocal optimistically appends a member. Returns false if the user
// is already in the list.
func (s *MessageStore) addMemberLocal(user User) bool {
	s.mu.Lock()
	for _, m := range s.members {
		if m.ID == user.ID {
			s.mu.Unlock()
			return false
		}
	}
	s.members = append(s.members, user)
	s.mu.Unlock()
	s.pushSync()
	return true
}

// removeMemberLocal optimistically removes a member, returning the removed
// record for restoration on rollback.
func (s *MessageStore) removeMemberLocal(userID int64) (User, bool) {
	s.mu.Lock()
	for i, m := range s.members {
		if m.ID == userID {
			removed := m
			s.members = append(s.members[:i], s.members[i+1:]...)
			s.mu.Unlock()
			s.pushSync()
			return removed, true
		}
	}
	s.mu.Unlock()
	return User{}, false
}

func (s *MessageStore) fenceMember(userID int64) uint64 {
	return s.memberFences.issue(userID)
}

func (s *MessageStore) memberFenceStale(userID int64, token uint64) bool {
	return s.memberFences.stale(userID, token)
}

// pushSync delivers the current metadata and last-message projection to the
// directory callback, outside the state lock.
func (s *MessageStore) pushSync() {
	s.mu.Lock()
	cb := s.onSync
	if cb == nil {
		s.mu.Unlock()
		return
	}
	meta := ChatMeta{
		ChatID:  s.chatID,
		Name:    s.name,
		Creator: s.creator,
		Members: append([]User(nil), s.members...),
		Loaded:  s.loaded,
	}
	var newest *Message
	if n := s.newestLocked(); n != nil {
		cp := *n
		newest = &cp
	}
	s.mu.Unlock()
	cb(meta, newest)
}

func (s *MessageStore) publish(kind string, m *Message) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(kind, MessageEvent{ChatID: s.chatID, MessageID: m.ID, LocalID: m.LocalID})
}
