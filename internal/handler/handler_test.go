package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync/internal/auth"
	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/pubsub/memory"
	"github.com/chatsync/internal/service"
	storemem "github.com/chatsync/internal/storage/memory"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store := storemem.New(uuid.NewString).Store()
	broker := memory.NewBroker(0)
	t.Cleanup(func() { _ = broker.Close() })
	chats := service.NewChatService(store, broker)
	cfg := &config.Config{
		PublicWSURL:    "ws://localhost:8090/ws",
		ResyncInterval: 30 * time.Second,
		RateLimit:      config.RateLimitConfig{RPS: 1000, Burst: 1000},
	}
	return NewRouter(Deps{
		Config:  cfg,
		Auth:    service.NewAuthService(store, auth.NewTokens("test-secret", time.Hour), broker),
		Chats:   chats,
		Friends: service.NewFriendService(store, broker, chats),
	})
}

func call(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func signUp(t *testing.T, h http.Handler, name string) service.Session {
	t.Helper()
	rec := call(t, h, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"name": name, "email": name + "@example.com", "password": "secret1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeAs[service.Session](t, rec)
}

func TestSignUpSetsCookieAndLoginErrors(t *testing.T) {
	h := newTestRouter(t)
	rec := call(t, h, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"name": "alice", "email": "alice@example.com", "password": "secret1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, auth.CookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	rec = call(t, h, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"name": "alice2", "email": "alice@example.com", "password": "secret1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "email", decodeAs[errorResponse](t, rec).Error)

	rec = call(t, h, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "alice@example.com", "password": "nope123"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "password", decodeAs[errorResponse](t, rec).Error)

	rec = call(t, h, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "ghost@example.com", "password": "secret1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "email", decodeAs[errorResponse](t, rec).Error)

	rec = call(t, h, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "ALICE@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, rec.Code)
	sess := decodeAs[service.Session](t, rec)
	assert.Equal(t, "alice", sess.User.Name)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	h := newTestRouter(t)
	rec := call(t, h, http.MethodGet, "/api/chats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = call(t, h, http.MethodGet, "/api/chats", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	alice := signUp(t, h, "alice")
	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: alice.Token})
	out := httptest.NewRecorder()
	h.ServeHTTP(out, req)
	require.Equal(t, http.StatusOK, out.Code)
	assert.Equal(t, alice.User.ID, decodeAs[model.UserPublic](t, out).ID)
}

func TestChatAndMessageRoutes(t *testing.T) {
	h := newTestRouter(t)
	alice, bob, carol := signUp(t, h, "alice"), signUp(t, h, "bob"), signUp(t, h, "carol")

	rec := call(t, h, http.MethodPost, "/api/chats", alice.Token, map[string]any{"participantIds": []string{bob.User.ID}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	chat := decodeAs[model.Chat](t, rec)
	assert.False(t, chat.IsGroup)

	rec = call(t, h, http.MethodPost, "/api/chats", bob.Token, map[string]any{"participantIds": []string{alice.User.ID}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, chat.ID, decodeAs[model.Chat](t, rec).ID)

	rec = call(t, h, http.MethodPost, "/api/messages/"+chat.ID, alice.Token, map[string]string{"text": "  hi bob  "})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	msg := decodeAs[model.Message](t, rec)
	assert.Equal(t, "hi bob", msg.Text)
	require.NotNil(t, msg.Author)
	assert.Equal(t, "alice", msg.Author.Name)

	rec = call(t, h, http.MethodPost, "/api/messages/"+chat.ID, alice.Token, map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "text", decodeAs[errorResponse](t, rec).Error)

	rec = call(t, h, http.MethodPost, "/api/messages/"+chat.ID, carol.Token, map[string]string{"text": "let me in"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(t, h, http.MethodGet, "/api/messages/nope", alice.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = call(t, h, http.MethodPut, "/api/messages/"+chat.ID+"/"+msg.ID, bob.Token, map[string]string{"text": "hijack"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(t, h, http.MethodPut, "/api/messages/"+chat.ID+"/"+msg.ID, alice.Token, map[string]string{"text": "hi Bob"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, decodeAs[model.Message](t, rec).EditedAt)

	// сообщение из другого чата по чужому chatId не находится
	rec = call(t, h, http.MethodPost, "/api/chats", alice.Token, map[string]any{"participantIds": []string{carol.User.ID}})
	require.Equal(t, http.StatusCreated, rec.Code)
	other := decodeAs[model.Chat](t, rec)
	rec = call(t, h, http.MethodPut, "/api/messages/"+other.ID+"/"+msg.ID, alice.Token, map[string]string{"text": "elsewhere"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = call(t, h, http.MethodDelete, "/api/messages/"+other.ID+"/"+msg.ID, alice.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = call(t, h, http.MethodPost, "/api/messages/"+chat.ID+"/"+msg.ID+"/react", bob.Token, map[string]string{"emoji": "👍"})
	require.Equal(t, http.StatusOK, rec.Code)
	react := decodeAs[reactResponse](t, rec)
	assert.Equal(t, "added", react.Result)
	require.Len(t, react.Message.Reactions, 1)

	rec = call(t, h, http.MethodGet, "/api/messages/"+chat.ID+"?limit=10", bob.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAs[[]model.Message](t, rec), 1)

	rec = call(t, h, http.MethodDelete, "/api/messages/"+chat.ID+"/"+msg.ID, alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	unsent := decodeAs[map[string]any](t, rec)
	assert.Equal(t, msg.ID, unsent["messageId"])
	assert.Nil(t, unsent["lastMessage"])

	rec = call(t, h, http.MethodGet, "/api/chats", bob.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAs[[]model.Chat](t, rec), 1)
}

func TestGroupChatLifecycleRoutes(t *testing.T) {
	h := newTestRouter(t)
	alice, bob, carol := signUp(t, h, "alice"), signUp(t, h, "bob"), signUp(t, h, "carol")

	rec := call(t, h, http.MethodPost, "/api/chats", alice.Token, map[string]any{
		"participantIds": []string{bob.User.ID, carol.User.ID}, "name": "trio",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	group := decodeAs[model.Chat](t, rec)
	assert.True(t, group.IsGroup)
	assert.Equal(t, "trio", group.Name)

	rec = call(t, h, http.MethodPut, "/api/chats/"+group.ID, bob.Token, map[string]string{"name": "crew"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = call(t, h, http.MethodGet, "/api/chats/"+group.ID, carol.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "crew", decodeAs[model.Chat](t, rec).Name)

	rec = call(t, h, http.MethodPost, "/api/chats/"+group.ID+"/leave", carol.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]bool{"deleted": false}, decodeAs[map[string]bool](t, rec))

	rec = call(t, h, http.MethodGet, "/api/chats/"+group.ID, carol.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(t, h, http.MethodDelete, "/api/chats/"+group.ID, alice.Token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = call(t, h, http.MethodGet, "/api/chats/"+group.ID, alice.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFriendRoutes(t *testing.T) {
	h := newTestRouter(t)
	alice, bob := signUp(t, h, "alice"), signUp(t, h, "bob")

	rec := call(t, h, http.MethodPost, "/api/friends/requests", alice.Token, map[string]string{"email": "alice@example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "self", decodeAs[errorResponse](t, rec).Error)

	rec = call(t, h, http.MethodPost, "/api/friends/requests", alice.Token, map[string]string{"email": "bob@example.com"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	req := decodeAs[model.FriendRequest](t, rec)
	assert.Equal(t, model.RequestPending, req.Status)

	rec = call(t, h, http.MethodPost, "/api/friends/requests/"+req.ID+"/accept", alice.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(t, h, http.MethodGet, "/api/friends/requests", bob.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAs[[]model.FriendRequest](t, rec), 1)

	rec = call(t, h, http.MethodPost, "/api/friends/requests/"+req.ID+"/accept", bob.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	acc := decodeAs[acceptResponse](t, rec)
	assert.Equal(t, model.RequestAccepted, acc.Request.Status)
	require.NotNil(t, acc.Chat)
	assert.True(t, acc.Chat.HasParticipant(alice.User.ID))

	rec = call(t, h, http.MethodGet, "/api/friends", alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	friends := decodeAs[[]model.UserPublic](t, rec)
	require.Len(t, friends, 1)
	assert.Equal(t, bob.User.ID, friends[0].ID)
}

func TestRealtimeConfigAndDeleteAccount(t *testing.T) {
	h := newTestRouter(t)
	rec := call(t, h, http.MethodGet, "/api/config/realtime", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ws_url":"ws://localhost:8090/ws","resync_interval_seconds":30}`, rec.Body.String())

	alice := signUp(t, h, "alice")
	rec = call(t, h, http.MethodDelete, "/api/users/me", alice.Token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = call(t, h, http.MethodGet, "/api/users/me", alice.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMetricsAreInternalOnly(t *testing.T) {
	h := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "203.0.113.7:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "127.0.0.1:4000"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
