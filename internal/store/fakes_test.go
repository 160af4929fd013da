package store

import (
	"context"
	"sync"

	"github.com/wtchat/wtchat/internal/api"
)

// fakeClient implements the store-facing API interfaces with overridable
// behavior per call, plus call counting so tests can assert which requests
// were (or were not) issued.
type fakeClient struct {
	mu    sync.Mutex
	calls map[string]int

	getChatFn       func(chatID int64, limit, offset int) (*api.ChatDetails, error)
	sendFn          func(chatID int64, text string) (*api.SendReceipt, error)
	editFn          func(chatID, messageID int64, text string) error
	deleteFn        func(chatID, messageID int64) error
	listChatsFn     func() ([]api.ChatSummary, error)
	createChatFn    func(name string) (int64, error)
	renameFn        func(chatID int64, name string) error
	contactsFn      func() ([]api.User, error)
	blockedFn       func() ([]api.User, error)
	addContactFn    func(userID int64) error
	removeContactFn func(userID int64) error
	blockFn         func(userID int64) error
	unblockFn       func(userID int64) error
	photoFn         func(userID int64) ([]byte, string, error)
	addMemberFn     func(chatID, userID int64) error
	removeMemberFn  func(chatID, userID int64) error
}

func (f *fakeClient) bump(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
}

func (f *fakeClient) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeClient) GetChat(_ context.Context, chatID int64, limit, offset int) (*api.ChatDetails, error) {
	f.bump("get_chat")
	if f.getChatFn != nil {
		return f.getChatFn(chatID, limit, offset)
	}
	return &api.ChatDetails{}, nil
}

func (f *fakeClient) SendMessage(_ context.Context, chatID int64, text string) (*api.SendReceipt, error) {
	f.bump("send")
	if f.sendFn != nil {
		return f.sendFn(chatID, text)
	}
	return &api.SendReceipt{}, nil
}

func (f *fakeClient) EditMessage(_ context.Context, chatID, messageID int64, text string) error {
	f.bump("edit")
	if f.editFn != nil {
		return f.editFn(chatID, messageID, text)
	}
	return nil
}

func (f *fakeClient) DeleteMessage(_ context.Context, chatID, messageID int64) error {
	f.bump("delete")
	if f.deleteFn != nil {
		return f.deleteFn(chatID, messageID)
	}
	return nil
}

func (f *fakeClient) ListChats(_ context.Context) ([]api.ChatSummary, error) {
	f.bump("list_chats")
	if f.listChatsFn != nil {
		return f.listChatsFn()
	}
	return nil, nil
}

func (f *fakeClient) CreateChat(_ context.Context, name string) (int64, error) {
	f.bump("create_chat")
	if f.createChatFn != nil {
		return f.createChatFn(name)
	}
	return 1, nil
}

func (f *fakeClient) RenameChat(_ context.Context, chatID int64, name string) error {
	f.bump("rename_chat")
	if f.renameFn != nil {
		return f.renameFn(chatID, name)
	}
	return nil
}

func (f *fakeClient) Contacts(_ context.Context) ([]api.User, error) {
	f.bump("contacts")
	if f.contactsFn != nil {
		return f.contactsFn()
	}
	return nil, nil
}

func (f *fakeClient) Blocked(_ context.Context) ([]api.User, error) {
	f.bump("blocked")
	if f.blockedFn != nil {
		return f.blockedFn()
	}
	return nil, nil
}

func (f *fakeClient) AddContact(_ context.Context, userID int64) error {
	f.bump("add_contact")
	if f.addContactFn != nil {
		return f.addContactFn(userID)
	}
	return nil
}

func (f *fakeClient) RemoveContact(_ context.Context, userID int64) error {
	f.bump("remove_contact")
	if f.removeContactFn != nil {
		return f.removeContactFn(userID)
	}
	return nil
}

func (f *fakeClient) BlockUser(_ context.Context, userID int64) error {
	f.bump("block")
	if f.blockFn != nil {
		return f.blockFn(userID)
	}
	return nil
}

func (f *fakeClient) UnblockUser(_ context.Context, userID int64) error {
	f.bump("unblock")
	if f.unblockFn != nil {
		return f.unblockFn(userID)
	}
	return nil
}

func (f *fakeClient) UserPhoto(_ context.Context, userID int64) ([]byte, string, error) {
	f.bump("photo")
	if f.photoFn != nil {
		return f.photoFn(userID)
	}
	return nil, "", nil
}

func (f *fakeClient) AddChatMember(_ context.Context, chatID, userID int64) error {
	f.bump("add_member")
	if f.addMemberFn != nil {
		return f.addMemberFn(chatID, userID)
	}
	return nil
}

func (f *fakeClient) RemoveChatMember(_ context.Context, chatID, userID int64) error {
	f.bump("remove_member")
	if f.removeMemberFn != nil {
		return f.removeMemberFn(chatID, userID)
	}
	return nil
}

func payload(id, ts int64, text string, authorID int64) api.MessagePayload {
	return api.MessagePayload{
		MessageID: id,
		Timestamp: ts,
		Message:   text,
		Author:    api.User{UserID: authorID, FirstName: "User", LastName: "Name"},
	}
}

var selfUser = User{ID: 1, FirstName: "Self", LastName: "User"}
