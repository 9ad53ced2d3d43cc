package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/operator-relay/internal/middleware"
	"github.com/capitalize-ai/operator-relay/internal/model"
	"github.com/capitalize-ai/operator-relay/pkg/logger"
)

// ConversationReader is the read side of the conversation store.
type ConversationReader interface {
	Stats() model.Stats
	Users() []model.User
	User(userID int64) (model.User, bool)
	Conversation(userID int64) []model.Message
}

// UserResponse is one user on the admin API.
type UserResponse struct {
	ID             int64     `json:"id"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name,omitempty"`
	Username       string    `json:"username,omitempty"`
	LastActive     time.Time `json:"last_active"`
	Mode           string    `json:"mode,omitempty"`
	ThreadHeaderID int       `json:"thread_header_id,omitempty"`
	MessageCount   int       `json:"message_count"`
}

// ListUsersResponse is the response for GET /api/v1/users.
type ListUsersResponse struct {
	Users []UserResponse `json:"users"`
	Total int            `json:"total"`
}

// ConversationResponse is the response for GET /api/v1/users/{id}/conversation.
type ConversationResponse struct {
	UserID   int64           `json:"user_id"`
	Messages []model.Message `json:"messages"`
	Retained int             `json:"retained"`
}

// StatsResponse is the response for GET /api/v1/stats.
type StatsResponse struct {
	Users            int `json:"users"`
	MessageCount     int `json:"message_count"`
	AnonymousCount   int `json:"anonymous_count"`
	NamedCount       int `json:"named_count"`
	Threads          int `json:"threads"`
	RetainedMessages int `json:"retained_messages"`
	IndexedLinks     int `json:"indexed_links"`
}

// AdminHandler serves the read-only admin API.
type AdminHandler struct {
	store  ConversationReader
	logger *logger.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(store ConversationReader, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		store:  store,
		logger: log,
	}
}

// Stats handles GET /api/v1/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	s := h.store.Stats()
	writeJSON(w, http.StatusOK, StatsResponse{
		Users:            s.Users,
		MessageCount:     s.MessageCount,
		AnonymousCount:   s.AnonymousCount,
		NamedCount:       s.NamedCount,
		Threads:          s.Threads,
		RetainedMessages: s.RetainedMessages,
		IndexedLinks:     s.IndexedLinks,
	})
}

// ListUsers handles GET /api/v1/users
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit, err := middleware.ValidateLimit(r.URL.Query().Get("limit"), 50)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	users := h.store.Users()
	resp := ListUsersResponse{Total: len(users), Users: make([]UserResponse, 0, limit)}
	for i, u := range users {
		if i == limit {
			break
		}
		resp.Users = append(resp.Users, toUserResponse(u))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetUser handles GET /api/v1/users/{id}
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.ValidateUserID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	u, ok := h.store.User(userID)
	if !ok {
		writeError(w, r, http.StatusNotFound, "user not found")
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// GetConversation handles GET /api/v1/users/{id}/conversation
// Supports ?limit=N to return only the most recent N messages.
func (h *AdminHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.ValidateUserID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if _, ok := h.store.User(userID); !ok {
		writeError(w, r, http.StatusNotFound, "user not found")
		return
	}

	limit, err := middleware.ValidateLimit(r.URL.Query().Get("limit"), middleware.MaxListLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	msgs := h.store.Conversation(userID)
	retained := len(msgs)
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	writeJSON(w, http.StatusOK, ConversationResponse{
		UserID:   userID,
		Messages: msgs,
		Retained: retained,
	})
}

func toUserResponse(u model.User) UserResponse {
	return UserResponse{
		ID:             u.ID,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		Username:       u.Username,
		LastActive:     u.LastActive,
		Mode:           string(u.Mode),
		ThreadHeaderID: u.ThreadHeaderID,
		MessageCount:   u.MessageCount,
	}
}
