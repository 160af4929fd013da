// Package wttest provides an in-memory WhatsThat server for tests. It
// implements the subset of the REST surface the client exercises and lets
// tests inject failures per endpoint.
package wttest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/wtchat/wtchat/internal/api"
)

// Token is the session token the fake server issues on login.
const Token = "wttest-token"

type chat struct {
	id       int64
	name     string
	creator  int64
	members  map[int64]bool
	messages []api.MessagePayload
}

// Server is a fake WhatsThat API backed by in-memory maps.
type Server struct {
	HTTP *httptest.Server

	mu       sync.Mutex
	users    map[int64]api.User
	photos   map[int64][]byte
	chats    map[int64]*chat
	contacts map[int64]bool
	blocked  map[int64]bool
	selfID   int64
	nextID   int64

	failStatus int
	failCount  int

	// Requests counts handled requests per method+path pattern.
	Requests map[string]int
}

// NewServer starts a fake server. Call Close when done.
func NewServer() *Server {
	s := &Server{
		users:    make(map[int64]api.User),
		photos:   make(map[int64][]byte),
		chats:    make(map[int64]*chat),
		contacts: make(map[int64]bool),
		blocked:  make(map[int64]bool),
		selfID:   1,
		nextID:   100,
		Requests: make(map[string]int),
	}
	s.users[1] = api.User{UserID: 1, FirstName: "Self", LastName: "User", Email: "self@example.com"}

	r := chi.NewRouter()
	r.Use(s.intercept)

	r.Post("/login", s.handleLogin)
	r.Post("/logout", s.ok)
	r.Post("/user", s.handleRegister)
	r.Get("/user/{uid}", s.handleGetUser)
	r.Patch("/user/{uid}", s.ok)
	r.Get("/user/{uid}/photo", s.handleGetPhoto)
	r.Post("/user/{uid}/photo", s.handleUploadPhoto)
	r.Post("/user/{uid}/contact", s.handleAddContact)
	r.Delete("/user/{uid}/contact", s.handleRemoveContact)
	r.Post("/user/{uid}/block", s.handleBlock)
	r.Delete("/user/{uid}/block", s.handleUnblock)
	r.Get("/search", s.handleSearch)
	r.Get("/contacts", s.handleContacts)
	r.Get("/blocked", s.handleBlocked)
	r.Get("/chat", s.handleListChats)
	r.Post("/chat", s.handleCreateChat)
	r.Get("/chat/{id}", s.handleGetChat)
	r.Patch("/chat/{id}", s.handleRenameChat)
	r.Post("/chat/{id}/message", s.handleSendMessage)
	r.Patch("/chat/{id}/message/{mid}", s.handleEditMessage)
	r.Delete("/chat/{id}/message/{mid}", s.handleDeleteMessage)
	r.Post("/chat/{id}/user/{uid}", s.handleAddMember)
	r.Delete("/chat/{id}/user/{uid}", s.handleRemoveMember)

	s.HTTP = httptest.NewServer(r)
	return s
}

// Close shuts the server down.
func (s *Server) Close() {
	s.HTTP.Close()
}

// URL returns the server's base URL.
func (s *Server) URL() string {
	return s.HTTP.URL
}

// FailNext makes the next n requests fail with the given status before any
// handler runs.
func (s *Server) FailNext(status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = status
	s.failCount = n
}

// SeedUser registers a user.
func (s *Server) SeedUser(u api.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.UserID] = u
}

// SeedContact marks a user as a contact of the logged-in user.
func (s *Server) SeedContact(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[userID] = true
}

// SeedPhoto sets a user's profile photo.
func (s *Server) SeedPhoto(userID int64, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.photos[userID] = data
}

// SeedChat creates a chat with the given messages (any order).
func (s *Server) SeedChat(id int64, name string, msgs ...api.MessagePayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[id] = &chat{
		id:       id,
		name:     name,
		creator:  s.selfID,
		members:  map[int64]bool{s.selfID: true},
		messages: msgs,
	}
}

func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.Requests[r.Method+" "+r.URL.Path]++
		if s.failCount > 0 {
			s.failCount--
			status := s.failStatus
			s.mu.Unlock()
			w.WriteHeader(status)
			return
		}
		s.mu.Unlock()

		// Everything except login and register requires the session token.
		if !(r.URL.Path == "/login" || (r.URL.Path == "/user" && r.Method == http.MethodPost)) {
			if r.Header.Get("X-Authorization") != Token {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) ok(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func pathID(r *http.Request, key string) int64 {
	id, _ := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	return id
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Email == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	id := s.selfID
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, api.LoginResponse{ID: id, Token: Token})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in struct {
		FirstName string `json:"first_name"`
		Email     string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Email == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.users[id] = api.User{UserID: id, FirstName: in.FirstName, Email: in.Email}
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, api.RegisterResponse{UserID: id})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	u, ok := s.users[pathID(r, "uid")]
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleGetPhoto(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	data, ok := s.photos[pathID(r, "uid")]
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleUploadPhoto(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.photos[pathID(r, "uid")] = data
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	s.mu.Lock()
	var out []api.User
	for _, u := range s.users {
		if q == "" || containsFold(u.FirstName, q) || containsFold(u.LastName, q) || containsFold(u.Email, q) {
			out = append(out, u)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleContacts(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	out := s.userList(s.contacts)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBlocked(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	out := s.userList(s.blocked)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

// userList must be called with s.mu held.
func (s *Server) userList(ids map[int64]bool) []api.User {
	out := []api.User{}
	for id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (s *Server) handleAddContact(w http.ResponseWriter, r *http.Request) {
	uid := pathID(r, "uid")
	s.mu.Lock()
	defer s.mu.Unlock()
	if uid == s.selfID {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if _, ok := s.users[uid]; !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	s.contacts[uid] = true
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRemoveContact(w http.ResponseWriter, r *http.Request) {
	uid := pathID(r, "uid")
	s.mu.Lock()
	defer s.mu.Unlock()
	if uid == s.selfID {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if !s.contacts[uid] {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	delete(s.contacts, uid)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	uid := pathID(r, "uid")
	s.mu.Lock()
	defer s.mu.Unlock()
	if uid == s.selfID {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	// Blocking drops the contact edge in the same call.
	delete(s.contacts, uid)
	s.blocked[uid] = true
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	uid := pathID(r, "uid")
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.blocked[uid] {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	delete(s.blocked, uid)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleListChats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	out := []api.ChatSummary{}
	for _, c := range s.chats {
		summary := api.ChatSummary{ChatID: c.id, Name: c.name, Creator: s.users[c.creator]}
		if len(c.messages) > 0 {
			newest := c.messages[0]
			for _, m := range c.messages[1:] {
				if m.Timestamp > newest.Timestamp || (m.Timestamp == newest.Timestamp && m.MessageID > newest.MessageID) {
					newest = m
				}
			}
			summary.LastMessage = newest
		}
		out = append(out, summary)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Name == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.chats[id] = &chat{id: id, name: in.Name, creator: s.selfID, members: map[int64]bool{s.selfID: true}}
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, api.CreateChatResponse{ChatID: id})
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = 20
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[pathID(r, "id")]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	// Newest first, then the requested window.
	msgs := append([]api.MessagePayload(nil), c.messages...)
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp > msgs[j].Timestamp
		}
		return msgs[i].MessageID > msgs[j].MessageID
	})
	if offset > len(msgs) {
		offset = len(msgs)
	}
	end := offset + limit
	if end > len(msgs) {
		end = len(msgs)
	}

	out := api.ChatDetails{
		Name:     c.name,
		Creator:  s.users[c.creator],
		Members:  []api.User{},
		Messages: msgs[offset:end],
	}
	for id := range c.members {
		if u, ok := s.users[id]; ok {
			out.Members = append(out.Members, u)
		}
	}
	sort.Slice(out.Members, func(i, j int) bool { return out.Members[i].UserID < out.Members[j].UserID })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRenameChat(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Name == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[pathID(r, "id")]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	c.name = in.Name
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Message == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[pathID(r, "id")]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	s.nextID++
	msg := api.MessagePayload{
		MessageID: s.nextID,
		Timestamp: int64(len(c.messages)+1) * 1000,
		Message:   in.Message,
		Author:    s.users[s.selfID],
	}
	c.messages = append(c.messages, msg)
	writeJSON(w, http.StatusOK, api.SendReceipt{MessageID: msg.MessageID, Timestamp: msg.Timestamp})
}

func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Message == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[pathID(r, "id")]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	mid := pathID(r, "mid")
	for i := range c.messages {
		if c.messages[i].MessageID == mid {
			c.messages[i].Message = in.Message
			w.WriteHeader(http.StatusOK)
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[pathID(r, "id")]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	mid := pathID(r, "mid")
	for i := range c.messages {
		if c.messages[i].MessageID == mid {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			w.WriteHeader(http.StatusOK)
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[pathID(r, "id")]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	uid := pathID(r, "uid")
	if _, ok := s.users[uid]; !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	c.members[uid] = true
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[pathID(r, "id")]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	uid := pathID(r, "uid")
	if !c.members[uid] {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	delete(c.members, uid)
	w.WriteHeader(http.StatusOK)
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
