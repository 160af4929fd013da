package api

// Wire types for the WhatsThat REST API (/api/1.0.0). Field names follow the
// server's JSON exactly; domain conversions live in the store package.

// User is the server's user record.
type User struct {
	UserID    int64  `json:"user_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// LoginResponse is returned by POST /login.
type LoginResponse struct {
	ID    int64  `json:"id"`
	Token string `json:"token"`
}

// RegisterResponse is returned by POST /user.
type RegisterResponse struct {
	UserID int64 `json:"user_id"`
}

// UserUpdate carries the editable profile fields for PATCH /user/{uid}.
// Empty fields are omitted so the server only touches what was set.
type UserUpdate struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Password  string `json:"password,omitempty"`
}

// MessagePayload is the server's message record. The server sometimes embeds
// an empty object where a message would go (a chat with no messages), which
// decodes to the zero value; callers treat MessageID == 0 as absent.
type MessagePayload struct {
	MessageID int64  `json:"message_id"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
	Author    User   `json:"author"`
}

// ChatSummary is one entry of GET /chat.
type ChatSummary struct {
	ChatID      int64          `json:"chat_id"`
	Name        string         `json:"name"`
	Creator     User           `json:"creator"`
	LastMessage MessagePayload `json:"last_message"`
}

// ChatDetails is the body of GET /chat/{id}. Messages are newest-first,
// windowed by the limit/offset query parameters.
type ChatDetails struct {
	Name     string           `json:"name"`
	Creator  User             `json:"creator"`
	Members  []User           `json:"members"`
	Messages []MessagePayload `json:"messages"`
}

// CreateChatResponse is returned by POST /chat.
type CreateChatResponse struct {
	ChatID int64 `json:"chat_id"`
}

// SendReceipt is the server's confirmation of POST /chat/{id}/message.
// Either field may be zero when the deployment returns an empty body; the
// message store then reconciles with a targeted reload.
type SendReceipt struct {
	MessageID int64 `json:"message_id"`
	Timestamp int64 `json:"timestamp"`
}
