package store

import (
	"context"

	"github.com/wtchat/wtchat/internal/errs"
	"go.uber.org/zap"
)

// MembershipAPI is the slice of the REST client membership changes need.
type MembershipAPI interface {
	AddChatMember(ctx context.Context, chatID, userID int64) error
	RemoveChatMember(ctx context.Context, chatID, userID int64) error
}

// MembershipController changes a chat's member list, layered on the chat
// directory: optimistic edits go to the chat's MessageStore metadata and a
// confirmed add is followed by a full refresh, since the server's member
// records carry fields the optimistic entry lacks.
type MembershipController struct {
	chats  *ChatDirectory
	client MembershipAPI
	logger *zap.Logger
}

// NewMembershipController creates a controller over the given directory.
func NewMembershipController(chats *ChatDirectory, client MembershipAPI, logger *zap.Logger) *MembershipController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MembershipController{chats: chats, client: client, logger: logger}
}

// AddMember optimistically appends user to the chat's member list and
// confirms with the server. On success the chat is reloaded so the member
// record is the server's; on failure the optimistic entry is removed.
func (m *MembershipController) AddMember(ctx context.Context, chatID int64, user User) error {
	st := m.chats.Open(chatID)
	if !st.addMemberLocal(user) {
		return errs.Newf(errs.Conflict, "user %d is already a member of chat %d", user.ID, chatID)
	}
	token := st.fenceMember(user.ID)
	mut := beginMutation()

	err := m.client.AddChatMember(ctx, chatID, user.ID)

	if st.memberFenceStale(user.ID, token) {
		return errs.Newf(errs.Conflict, "membership change for user %d superseded", user.ID)
	}
	if err != nil {
		st.removeMemberLocal(user.ID)
		_ = mut.rollback()
		return err
	}
	_ = mut.commit()

	if err := st.Refresh(ctx); err != nil {
		// The membership change stuck; only the authoritative reload failed.
		m.logger.Warn("member added but refresh failed",
			zap.Int64("chat_id", chatID),
			zap.Int64("user_id", user.ID),
			zap.Error(err))
	}
	return nil
}

// RemoveMember optimistically removes the member and confirms with the
// server, restoring the member record on failure.
func (m *MembershipController) RemoveMember(ctx context.Context, chatID, userID int64) error {
	st := m.chats.Open(chatID)
	removed, ok := st.removeMemberLocal(userID)
	if !ok {
		return errs.Newf(errs.NotFound, "user %d is not a member of chat %d", userID, chatID)
	}
	token := st.fenceMember(userID)
	mut := beginMutation()

	err := m.client.RemoveChatMember(ctx, chatID, userID)

	if st.memberFenceStale(userID, token) {
		return errs.Newf(errs.Conflict, "membership change for user %d superseded", userID)
	}
	if err != nil {
		st.addMemberLocal(removed)
		_ = mut.rollback()
		return err
	}
	_ = mut.commit()
	return nil
}
