package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/operator-relay/internal/model"
	"github.com/capitalize-ai/operator-relay/internal/service"
	"github.com/capitalize-ai/operator-relay/pkg/logger"
)

type fakeReader struct {
	users map[int64]model.User
	convs map[int64][]model.Message
}

func (f *fakeReader) Stats() model.Stats {
	return model.Stats{
		Users: len(f.users), MessageCount: 3, AnonymousCount: 2, NamedCount: 1,
		Threads: 1, RetainedMessages: 3, IndexedLinks: 2,
	}
}

func (f *fakeReader) Users() []model.User {
	out := make([]model.User, 0, len(f.users))
	for _, id := range []int64{222, 111} {
		if u, ok := f.users[id]; ok {
			out = append(out, u)
		}
	}
	return out
}

func (f *fakeReader) User(id int64) (model.User, bool) {
	u, ok := f.users[id]
	return u, ok
}

func (f *fakeReader) Conversation(id int64) []model.Message {
	return f.convs[id]
}

func newAdminRouter() http.Handler {
	reader := &fakeReader{
		users: map[int64]model.User{
			111: {ID: 111, FirstName: "Ann", Username: "ann", ThreadHeaderID: 41, MessageCount: 3},
			222: {ID: 222, FirstName: "Bob"},
		},
		convs: map[int64][]model.Message{
			111: {
				{Sender: model.SenderUser, Text: "one", UserMessageID: 1, OwnerMessageID: 42},
				{Sender: model.SenderOwner, Text: "two", UserMessageID: 2, OwnerMessageID: 43},
				{Sender: model.SenderUser, Text: "three", UserMessageID: 3, OwnerMessageID: 44},
			},
		},
	}
	h := NewAdminHandler(reader, logger.NewNop())

	r := chi.NewRouter()
	r.Get("/stats", h.Stats)
	r.Get("/users", h.ListUsers)
	r.Get("/users/{id}", h.GetUser)
	r.Get("/users/{id}/conversation", h.GetConversation)
	return r
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestAdminStats(t *testing.T) {
	rec := get(t, newAdminRouter(), "/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Users)
	assert.Equal(t, 2, resp.IndexedLinks)
	assert.Equal(t, 2, resp.AnonymousCount)
	assert.Equal(t, 1, resp.NamedCount)
}

func TestAdminListUsers(t *testing.T) {
	rec := get(t, newAdminRouter(), "/users?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListUsersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	require.Len(t, resp.Users, 1)
	assert.Equal(t, int64(222), resp.Users[0].ID)

	rec = get(t, newAdminRouter(), "/users?limit=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminGetUser(t *testing.T) {
	router := newAdminRouter()

	rec := get(t, router, "/users/111")
	require.Equal(t, http.StatusOK, rec.Code)
	var u UserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &u))
	assert.Equal(t, 41, u.ThreadHeaderID)

	assert.Equal(t, http.StatusNotFound, get(t, router, "/users/333").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, router, "/users/abc").Code)
}

func TestAdminGetConversation(t *testing.T) {
	rec := get(t, newAdminRouter(), "/users/111/conversation?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ConversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Retained)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "two", resp.Messages[0].Text)
	assert.Equal(t, 44, resp.Messages[1].OwnerMessageID)
}

func TestHealthAndReady(t *testing.T) {
	ok := NewHealthHandler(ReadinessCheck{Name: "store", Check: func(ctx context.Context) error { return nil }})
	rec := httptest.NewRecorder()
	ok.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	down := NewHealthHandler(ReadinessCheck{Name: "nats", Check: func(ctx context.Context) error {
		return errors.New("not connected")
	}})
	rec = httptest.NewRecorder()
	down.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "nats: not connected")

	rec = httptest.NewRecorder()
	down.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type fakeSubmitter struct {
	mu      sync.Mutex
	updates []tgbotapi.Update
}

func (s *fakeSubmitter) Submit(ctx context.Context, u tgbotapi.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
}

const updateBody = `{"update_id":7,"message":{"message_id":5,"date":0,` +
	`"from":{"id":111,"is_bot":false,"first_name":"Ann"},` +
	`"chat":{"id":111,"type":"private"},"text":"hello"}}`

func TestWebhookAcceptsSignedUpdate(t *testing.T) {
	sub := &fakeSubmitter{}
	h := NewWebhookHandler("s3cret", sub, logger.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(updateBody))
	req.Header.Set(SecretTokenHeader, "s3cret")
	rec := httptest.NewRecorder()
	h.Receive(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sub.updates, 1)
	assert.Equal(t, 7, sub.updates[0].UpdateID)
	assert.Equal(t, "hello", sub.updates[0].Message.Text)
}

func TestWebhookRejectsBadSecretAndBody(t *testing.T) {
	sub := &fakeSubmitter{}
	h := NewWebhookHandler("s3cret", sub, logger.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(updateBody))
	req.Header.Set(SecretTokenHeader, "wrong")
	rec := httptest.NewRecorder()
	h.Receive(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader("{"))
	req.Header.Set(SecretTokenHeader, "s3cret")
	rec = httptest.NewRecorder()
	h.Receive(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, sub.updates)
}

func TestWebhookWithoutSecretRejectsEverything(t *testing.T) {
	sub := &fakeSubmitter{}
	h := NewWebhookHandler("", sub, logger.NewNop())

	operatorReply := `{"update_id":8,"message":{"message_id":6,"date":0,` +
		`"from":{"id":999,"is_bot":false,"first_name":"Op"},` +
		`"chat":{"id":999,"type":"private"},"text":"hi",` +
		`"reply_to_message":{"message_id":42,"date":0,"chat":{"id":999,"type":"private"}}}}`

	for _, header := range []string{"", "anything"} {
		req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(operatorReply))
		if header != "" {
			req.Header.Set(SecretTokenHeader, header)
		}
		rec := httptest.NewRecorder()
		h.Receive(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	assert.Empty(t, sub.updates)
}

func TestStreamReplaysHistory(t *testing.T) {
	hub := service.NewHub(10, logger.NewNop())
	require.NoError(t, hub.Publish(context.Background(), &model.RelayEvent{
		ID:        "evt-1",
		Direction: model.DirectionInbound,
		Status:    "forwarded",
		UserID:    111,
		CreatedAt: time.Now(),
	}))

	h := NewStreamHandler(hub, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Stream(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events/stream", nil).WithContext(ctx))

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, body, "id: evt-1\nevent: relay\n")
	assert.Contains(t, body, "event: replay_complete")
	assert.Equal(t, 0, hub.Subscribers())
}
