package store

import (
	"context"
	"strings"
	"sync"

	"github.com/wtchat/wtchat/internal/api"
	"github.com/wtchat/wtchat/internal/bus"
	"github.com/wtchat/wtchat/internal/errs"
	"go.uber.org/zap"
)

// ChatAPI is the slice of the REST client the chat directory needs.
type ChatAPI interface {
	ListChats(ctx context.Context) ([]api.ChatSummary, error)
	CreateChat(ctx context.Context, name string) (int64, error)
	RenameChat(ctx context.Context, chatID int64, name string) error
}

// DirectoryAPI combines the chat-level calls with the per-chat message calls
// the directory hands to the stores it opens.
type DirectoryAPI interface {
	ChatAPI
	MessageAPI
}

// ChatDirectory holds the list of chats the user belongs to, each summarized
// by its most recent message. It owns one MessageStore per open chat and
// receives last-message pushes from them.
type ChatDirectory struct {
	client DirectoryAPI
	self   User
	bus    *bus.Bus
	logger *zap.Logger

	mu              sync.Mutex
	chats           []*Chat
	stores          map[int64]*MessageStore
	renameFences    *fences
	renamesInFlight map[int64]int
}

// NewChatDirectory creates a directory for the logged-in user self.
func NewChatDirectory(client DirectoryAPI, self User, b *bus.Bus, logger *zap.Logger) *ChatDirectory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatDirectory{
		client:          client,
		self:            self,
		bus:             b,
		logger:          logger,
		stores:          make(map[int64]*MessageStore),
		renameFences:    newFences(),
		renamesInFlight: make(map[int64]int),
	}
}

// List fetches every chat the user belongs to and rebuilds the local list in
// server order, deriving each last-message projection from the embedded
// payload. A chat with no messages gets a nil projection.
func (d *ChatDirectory) List(ctx context.Context) ([]Chat, error) {
	summaries, err := d.client.ListChats(ctx)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	prev := make(map[int64]*Chat, len(d.chats))
	for _, c := range d.chats {
		prev[c.ID] = c
	}
	chats := make([]*Chat, 0, len(summaries))
	for _, s := range summaries {
		c := &Chat{ID: s.ChatID, Name: s.Name, Creator: userFromAPI(s.Creator)}
		if old, ok := prev[s.ChatID]; ok {
			// The list endpoint carries no member records; keep what the
			// chat's store has already loaded.
			c.Members = old.Members
		}
		if s.LastMessage.MessageID != 0 {
			c.LastMessage = &Message{
				ID:        s.LastMessage.MessageID,
				ChatID:    s.ChatID,
				Author:    userFromAPI(s.LastMessage.Author),
				Text:      s.LastMessage.Message,
				Timestamp: s.LastMessage.Timestamp,
				State:     StateCommitted,
			}
		}
		chats = append(chats, c)
	}
	d.chats = chats
	out := d.snapshotLocked()
	d.mu.Unlock()

	d.publish(bus.KindChatListed, 0)
	return out, nil
}

// Chats returns a copy of the current chat list.
func (d *ChatDirectory) Chats() []Chat {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

// Chat returns one chat by id.
func (d *ChatDirectory) Chat(chatID int64) (Chat, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c := d.byIDLocked(chatID); c != nil {
		return copyChat(c), true
	}
	return Chat{}, false
}

// Create makes a new chat. Local state is untouched until the server
// confirms; the confirmed chat is inserted at the head of the list.
func (d *ChatDirectory) Create(ctx context.Context, name string) (Chat, error) {
	if strings.TrimSpace(name) == "" {
		return Chat{}, errs.New(errs.Validation, "chat name must not be empty")
	}

	id, err := d.client.CreateChat(ctx, name)
	if err != nil {
		return Chat{}, err
	}

	d.mu.Lock()
	c := &Chat{ID: id, Name: name, Creator: d.self, Members: []User{d.self}}
	d.chats = append([]*Chat{c}, d.chats...)
	out := copyChat(c)
	d.mu.Unlock()

	d.publish(bus.KindChatCreated, id)
	return out, nil
}

// Rename sets the chat name optimistically and confirms with the server,
// restoring the old name if the server rejects it.
func (d *ChatDirectory) Rename(ctx context.Context, chatID int64, name string) error {
	if strings.TrimSpace(name) == "" {
		return errs.New(errs.Validation, "chat name must not be empty")
	}

	d.mu.Lock()
	c := d.byIDLocked(chatID)
	if c == nil {
		d.mu.Unlock()
		return errs.Newf(errs.NotFound, "chat %d not in local view", chatID)
	}
	token := d.renameFences.issue(chatID)
	mut := beginMutation()
	prev := c.Name
	c.Name = name
	d.renamesInFlight[chatID]++
	st := d.stores[chatID]
	d.mu.Unlock()

	if st != nil {
		st.setName(name)
	}
	d.publish(bus.KindChatUpdated, chatID)

	err := d.client.RenameChat(ctx, chatID, name)

	d.mu.Lock()
	d.renamesInFlight[chatID]--
	if d.renameFences.stale(chatID, token) {
		d.mu.Unlock()
		return errs.Newf(errs.Conflict, "rename of chat %d superseded by a newer operation", chatID)
	}
	if err != nil {
		c.Name = prev
		_ = mut.rollback()
		d.mu.Unlock()
		if st != nil {
			st.setName(prev)
		}
		d.publish(bus.KindChatRolledBack, chatID)
		return err
	}
	_ = mut.commit()
	d.mu.Unlock()

	d.publish(bus.KindChatUpdated, chatID)
	return nil
}

// Open returns the chat's MessageStore, creating and wiring it on first use.
// One store exists per open chat for the life of the directory.
func (d *ChatDirectory) Open(chatID int64) *MessageStore {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.stores[chatID]; ok {
		return st
	}
	st := NewMessageStore(chatID, d.self, d.client, d.bus, d.logger)
	st.setOnSync(d.applySync)
	d.stores[chatID] = st
	if d.byIDLocked(chatID) == nil {
		d.chats = append(d.chats, &Chat{ID: chatID})
	}
	return st
}

// applySync receives a store's metadata and last-message projection after it
// changed. This is the only path by which a chat's MessageStore affects the
// directory's state.
func (d *ChatDirectory) applySync(meta ChatMeta, newest *Message) {
	d.mu.Lock()
	c := d.byIDLocked(meta.ChatID)
	if c == nil {
		c = &Chat{ID: meta.ChatID}
		d.chats = append(d.chats, c)
	}
	// A load finishing mid-rename must not clobber the optimistic name.
	if meta.Name != "" && d.renamesInFlight[meta.ChatID] == 0 {
		c.Name = meta.Name
	}
	if meta.Creator.ID != 0 {
		c.Creator = meta.Creator
	}
	if meta.Members != nil {
		c.Members = meta.Members
	}
	// A store that has never fetched its chat pushes metadata-only updates
	// (membership edits); those must not clear a projection the directory
	// derived from the list summary.
	if meta.Loaded || newest != nil {
		c.LastMessage = newest
	}
	d.mu.Unlock()

	d.publish(bus.KindChatUpdated, meta.ChatID)
}

func (d *ChatDirectory) byIDLocked(chatID int64) *Chat {
	for _, c := range d.chats {
		if c.ID == chatID {
			return c
		}
	}
	return nil
}

func (d *ChatDirectory) snapshotLocked() []Chat {
	out := make([]Chat, 0, len(d.chats))
	for _, c := range d.chats {
		out = append(out, copyChat(c))
	}
	return out
}

func copyChat(c *Chat) Chat {
	cp := *c
	cp.Members = append([]User(nil), c.Members...)
	if c.LastMessage != nil {
		lm := *c.LastMessage
		cp.LastMessage = &lm
	}
	return cp
}

func (d *ChatDirectory) publish(kind string, chatID int64) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(kind, ChatEvent{ChatID: chatID})
}
