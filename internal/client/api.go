package client

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
	"sync"
	"time"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/realtime"
)

// APIError: ответ API с кодом 4xx/5xx. Для ошибок валидации Message, имя поля.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// Session: ответ signup/login.
type Session struct {
	User      model.UserPublic `json:"user"`
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expiresAt"`
}

// RealtimeConfig: параметры подключения к шлюзу.
type RealtimeConfig struct {
	WSURL                 string `json:"ws_url"`
	ResyncIntervalSeconds int    `json:"resync_interval_seconds"`
}

// ReactResult: ответ на реакцию.
type ReactResult struct {
	Message model.Message `json:"message"`
	Result  string        `json:"result"`
}

// AcceptResult: ответ на принятие заявки.
type AcceptResult struct {
	Request model.FriendRequest `json:"request"`
	Chat    *model.Chat         `json:"chat"`
}

// API: HTTP-клиент мутаций и выборок. Локальное состояние не меняет: список и тред
// обновятся, когда придёт эхо события.
type API struct {
	base string
	http *http.Client

	mu    sync.RWMutex
	token string
}

func NewAPI(baseURL string, hc *http.Client) *API {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &API{base: strings.TrimRight(baseURL, "/"), http: hc}
}

func (a *API) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

func (a *API) SetToken(token string) {
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
}

// AuthHeader: заголовок для подключения к шлюзу тем же токеном.
func (a *API) AuthHeader() http.Header {
	h := http.Header{}
	if t := a.Token(); t != "" {
		h.Set("Authorization", "Bearer "+t)
	}
	return h
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t := a.Token(); t != "" {
		req.Header.Set("Authorization", "Bearer "+t)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// --- auth ---

func (a *API) SignUp(ctx context.Context, name, email, password string) (*Session, error) {
	var s Session
	err := a.do(ctx, http.MethodPost, "/api/auth/signup", map[string]string{"name": name, "email": email, "password": password}, &s)
	if err != nil {
		return nil, err
	}
	a.SetToken(s.Token)
	return &s, nil
}

func (a *API) Login(ctx context.Context, email, password string) (*Session, error) {
	var s Session
	if err := a.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{"email": email, "password": password}, &s); err != nil {
		return nil, err
	}
	a.SetToken(s.Token)
	return &s, nil
}

func (a *API) Logout(ctx context.Context) error {
	err := a.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
	a.SetToken("")
	return err
}

func (a *API) Me(ctx context.Context) (*model.UserPublic, error) {
	var u model.UserPublic
	return &u, a.do(ctx, http.MethodGet, "/api/users/me", nil, &u)
}

func (a *API) DeleteAccount(ctx context.Context) error {
	return a.do(ctx, http.MethodDelete, "/api/users/me", nil, nil)
}

func (a *API) RealtimeConfig(ctx context.Context) (*RealtimeConfig, error) {
	var c RealtimeConfig
	return &c, a.do(ctx, http.MethodGet, "/api/config/realtime", nil, &c)
}

// --- chats ---

func (a *API) Chats(ctx context.Context) ([]model.Chat, error) {
	var out []model.Chat
	if err := a.do(ctx, http.MethodGet, "/api/chats", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) Chat(ctx context.Context, chatID string) (*model.Chat, error) {
	var c model.Chat
	return &c, a.do(ctx, http.MethodGet, "/api/chats/"+url.PathEscape(chatID), nil, &c)
}

func (a *API) CreateChat(ctx context.Context, participantIDs []string, name string) (*model.Chat, error) {
	var c model.Chat
	body := map[string]any{"participantIds": participantIDs, "name": name}
	return &c, a.do(ctx, http.MethodPost, "/api/chats", body, &c)
}

func (a *API) RenameChat(ctx context.Context, chatID, name string) error {
	return a.do(ctx, http.MethodPut, "/api/chats/"+url.PathEscape(chatID), map[string]string{"name": name}, nil)
}

func (a *API) LeaveChat(ctx context.Context, chatID string) error {
	return a.do(ctx, http.MethodPost, "/api/chats/"+url.PathEscape(chatID)+"/leave", nil, nil)
}

func (a *API) DeleteChat(ctx context.Context, chatID string) error {
	return a.do(ctx, http.MethodDelete, "/api/chats/"+url.PathEscape(chatID), nil, nil)
}

// --- messages ---

// Messages: последние limit сообщений чата по возрастанию (0, значение сервера по умолчанию).
func (a *API) Messages(ctx context.Context, chatID string, limit int) ([]model.Message, error) {
	path := "/api/messages/" + url.PathEscape(chatID)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []model.Message
	if err := a.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) Send(ctx context.Context, chatID, text, parentID string) (*model.Message, error) {
	var m model.Message
	body := map[string]string{"text": text}
	if parentID != "" {
		body["parentId"] = parentID
	}
	return &m, a.do(ctx, http.MethodPost, "/api/messages/"+url.PathEscape(chatID), body, &m)
}

func (a *API) Edit(ctx context.Context, chatID, messageID, text string) (*model.Message, error) {
	var m model.Message
	return &m, a.do(ctx, http.MethodPut, messagePath(chatID, messageID), map[string]string{"text": text}, &m)
}

func (a *API) Unsend(ctx context.Context, chatID, messageID string) (*realtime.UnsendPayload, error) {
	var p realtime.UnsendPayload
	return &p, a.do(ctx, http.MethodDelete, messagePath(chatID, messageID), nil, &p)
}

func (a *API) React(ctx context.Context, chatID, messageID, emoji string) (*ReactResult, error) {
	var r ReactResult
	return &r, a.do(ctx, http.MethodPost, messagePath(chatID, messageID)+"/react", map[string]string{"emoji": emoji}, &r)
}

func messagePath(chatID, messageID string) string {
	return "/api/messages/" + url.PathEscape(chatID) + "/" + url.PathEscape(messageID)
}

// --- friends ---

func (a *API) Requests(ctx context.Context) ([]model.FriendRequest, error) {
	var out []model.FriendRequest
	if err := a.do(ctx, http.MethodGet, "/api/friends/requests", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) Friends(ctx context.Context) ([]model.UserPublic, error) {
	var out []model.UserPublic
	if err := a.do(ctx, http.MethodGet, "/api/friends", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) SendRequest(ctx context.Context, email string) (*model.FriendRequest, error) {
	var r model.FriendRequest
	return &r, a.do(ctx, http.MethodPost, "/api/friends/requests", map[string]string{"email": email}, &r)
}

func (a *API) AcceptRequest(ctx context.Context, requestID string) (*AcceptResult, error) {
	var r AcceptResult
	return &r, a.do(ctx, http.MethodPost, "/api/friends/requests/"+url.PathEscape(requestID)+"/accept", nil, &r)
}

func (a *API) RejectRequest(ctx context.Context, requestID string) (*model.FriendRequest, error) {
	var r model.FriendRequest
	return &r, a.do(ctx, http.MethodPost, "/api/friends/requests/"+url.PathEscape(requestID)+"/reject", nil, &r)
}
