package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wtchat/wtchat/internal/errs"
	"go.uber.org/zap"
)

const authHeader = "X-Authorization"

// Credentials supplies the session token attached to every request and is
// told to invalidate itself whenever the server answers 401.
type Credentials interface {
	Token() (string, bool)
	Invalidate(reason string)
}

// Config holds client construction parameters.
type Config struct {
	// BaseURL including the API prefix, e.g. http://localhost:3333/api/1.0.0.
	BaseURL string
	// Timeout per request. Zero means 10 seconds.
	Timeout time.Duration
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client is a typed client for the WhatsThat REST API. It performs requests
// and classifies failures; it holds no chat state of its own.
type Client struct {
	base   string
	http   *http.Client
	creds  Credentials
	logger *zap.Logger
}

// New creates a Client. creds may not be nil; logger may be nil.
func New(cfg Config, creds Credentials, logger *zap.Logger) (*Client, error) {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if _, err := url.Parse(base); err != nil || base == "" {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{base: base, http: hc, creds: creds, logger: logger}, nil
}

// do performs a JSON request. in and out may be nil. Non-2xx statuses come
// back as classified errors; a 401 additionally invalidates the credentials.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.send(ctx, op, method, path, query, body, "application/json")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.checkStatus(op, resp); err != nil {
		return err
	}
	if out != nil {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return errs.Wrap(errs.Network, op, err)
		}
		if len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, op, method, path string, query url.Values, body io.Reader, contentType string) (*http.Response, error) {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if token, ok := c.creds.Token(); ok {
		req.Header.Set(authHeader, token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("request failed", zap.String("op", op), zap.Error(err))
		return nil, errs.Wrap(errs.Network, op, err)
	}
	return resp, nil
}

func (c *Client) checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode == http.StatusUnauthorized {
		c.creds.Invalidate("unauthorized")
	}
	c.logger.Warn("request rejected",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode))
	return errs.FromStatus(op, resp.StatusCode, strings.TrimSpace(string(snippet)))
}

// Login authenticates and returns the identity the server issued. The caller
// is responsible for establishing it on the session.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var out LoginResponse
	in := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, "login", http.MethodPost, "/login", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout tells the server to discard the session token.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, "logout", http.MethodPost, "/logout", nil, nil, nil)
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, firstName, lastName, email, password string) (*RegisterResponse, error) {
	var out RegisterResponse
	in := map[string]string{
		"first_name": firstName,
		"last_name":  lastName,
		"email":      email,
		"password":   password,
	}
	if err := c.do(ctx, "register", http.MethodPost, "/user", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetUser fetches a user's profile.
func (c *Client) GetUser(ctx context.Context, userID int64) (*User, error) {
	var out User
	if err := c.do(ctx, "get user", http.MethodGet, "/user/"+itoa(userID), nil, nil, &out); err != nil {
		return nil, err
	}
	if out.UserID == 0 {
		out.UserID = userID
	}
	return &out, nil
}

// UpdateUser patches the editable fields of a profile.
func (c *Client) UpdateUser(ctx context.Context, userID int64, update UserUpdate) error {
	return c.do(ctx, "update user", http.MethodPatch, "/user/"+itoa(userID), nil, update, nil)
}

// SearchUsers queries the user directory. searchIn is "all" or "contacts".
func (c *Client) SearchUsers(ctx context.Context, q, searchIn string, limit, offset int) ([]User, error) {
	query := url.Values{}
	query.Set("q", q)
	if searchIn != "" {
		query.Set("search_in", searchIn)
	}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))
	var out []User
	if err := c.do(ctx, "search users", http.MethodGet, "/search", query, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListChats returns every chat the current user belongs to.
func (c *Client) ListChats(ctx context.Context) ([]ChatSummary, error) {
	var out []ChatSummary
	if err := c.do(ctx, "list chats", http.MethodGet, "/chat", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateChat creates a chat and returns its id.
func (c *Client) CreateChat(ctx context.Context, name string) (int64, error) {
	var out CreateChatResponse
	in := map[string]string{"name": name}
	if err := c.do(ctx, "create chat", http.MethodPost, "/chat", nil, in, &out); err != nil {
		return 0, err
	}
	return out.ChatID, nil
}

// GetChat fetches a chat's details with a window of its messages,
// newest-first, per the server's pagination contract.
func (c *Client) GetChat(ctx context.Context, chatID int64, limit, offset int) (*ChatDetails, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))
	var out ChatDetails
	if err := c.do(ctx, "get chat", http.MethodGet, "/chat/"+itoa(chatID), query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RenameChat updates a chat's name.
func (c *Client) RenameChat(ctx context.Context, chatID int64, name string) error {
	in := map[string]string{"name": name}
	return c.do(ctx, "rename chat", http.MethodPatch, "/chat/"+itoa(chatID), nil, in, nil)
}

// SendMessage posts a message and returns the server's receipt, which may be
// empty on deployments that answer with no body.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) (*SendReceipt, error) {
	var out SendReceipt
	in := map[string]string{"message": text}
	if err := c.do(ctx, "send message", http.MethodPost, "/chat/"+itoa(chatID)+"/message", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EditMessage replaces a message's text.
func (c *Client) EditMessage(ctx context.Context, chatID, messageID int64, text string) error {
	in := map[string]string{"message": text}
	return c.do(ctx, "edit message", http.MethodPatch, "/chat/"+itoa(chatID)+"/message/"+itoa(messageID), nil, in, nil)
}

// DeleteMessage removes a message.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return c.do(ctx, "delete message", http.MethodDelete, "/chat/"+itoa(chatID)+"/message/"+itoa(messageID), nil, nil, nil)
}

// AddChatMember adds a user to a chat.
func (c *Client) AddChatMember(ctx context.Context, chatID, userID int64) error {
	return c.do(ctx, "add member", http.MethodPost, "/chat/"+itoa(chatID)+"/user/"+itoa(userID), nil, nil, nil)
}

// RemoveChatMember removes a user from a chat.
func (c *Client) RemoveChatMember(ctx context.Context, chatID, userID int64) error {
	return c.do(ctx, "remove member", http.MethodDelete, "/chat/"+itoa(chatID)+"/user/"+itoa(userID), nil, nil, nil)
}

// Contacts returns the current user's contact list.
func (c *Client) Contacts(ctx context.Context) ([]User, error) {
	var out []User
	if err := c.do(ctx, "list contacts", http.MethodGet, "/contacts", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Blocked returns the current user's blocked list.
func (c *Client) Blocked(ctx context.Context) ([]User, error) {
	var out []User
	if err := c.do(ctx, "list blocked", http.MethodGet, "/blocked", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddContact adds a user to the contact list.
func (c *Client) AddContact(ctx context.Context, userID int64) error {
	return c.do(ctx, "add contact", http.MethodPost, "/user/"+itoa(userID)+"/contact", nil, nil, nil)
}

// RemoveContact removes a user from the contact list.
func (c *Client) RemoveContact(ctx context.Context, userID int64) error {
	return c.do(ctx, "remove contact", http.MethodDelete, "/user/"+itoa(userID)+"/contact", nil, nil, nil)
}

// BlockUser blocks a user. The server drops the contact edge as part of the
// same call.
func (c *Client) BlockUser(ctx context.Context, userID int64) error {
	return c.do(ctx, "block user", http.MethodPost, "/user/"+itoa(userID)+"/block", nil, nil, nil)
}

// UnblockUser removes a user from the blocked list.
func (c *Client) UnblockUser(ctx context.Context, userID int64) error {
	return c.do(ctx, "unblock user", http.MethodDelete, "/user/"+itoa(userID)+"/block", nil, nil, nil)
}

// UserPhoto fetches a user's profile photo. Returns the raw bytes and the
// Content-Type the server reported.
func (c *Client) UserPhoto(ctx context.Context, userID int64) ([]byte, string, error) {
	op := "fetch photo"
	resp, err := c.send(ctx, op, http.MethodGet, "/user/"+itoa(userID)+"/photo", nil, nil, "")
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := c.checkStatus(op, resp); err != nil {
		return nil, "", err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", errs.Wrap(errs.Network, op, err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// UploadPhoto replaces the user's profile photo. contentType is image/png or
// image/jpeg.
func (c *Client) UploadPhoto(ctx context.Context, userID int64, data []byte, contentType string) error {
	op := "upload photo"
	resp, err := c.send(ctx, op, http.MethodPost, "/user/"+itoa(userID)+"/photo", nil, bytes.NewReader(data), contentType)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return c.checkStatus(op, resp)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
