package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync/internal/pubsub/memory"
	"github.com/chatsync/internal/realtime"
)

type members map[string][]string

func (m members) IsParticipant(_ context.Context, chatID, userID string) (bool, error) {
	for _, id := range m[chatID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

type harness struct {
	hub    *Hub
	broker *memory.Broker
	srv    *httptest.Server
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	broker := memory.NewBroker(0)
	hub := NewHub(members{"c1": {"u1", "u2"}, "c2": {"u2"}}, opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx, broker)
	}()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, r.URL.Query().Get("user"))
	}))
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})
	require.Eventually(t, func() bool { return broker.Listeners() == 1 }, time.Second, 5*time.Millisecond)
	return &harness{hub: hub, broker: broker, srv: srv}
}

func (h *harness) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/?user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, action, channel string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(ClientFrame{Action: action, Channel: channel}))
}

func read(t *testing.T, conn *websocket.Conn) ServerFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f ServerFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestSubscribeAuthorization(t *testing.T) {
	h := newHarness(t, Options{})
	conn := h.dial(t, "u1")

	send(t, conn, ActionSubscribe, realtime.UserChannel("u1"))
	assert.Equal(t, ServerFrame{Type: FrameSubscribed, Channel: "user-u1"}, read(t, conn))

	send(t, conn, ActionSubscribe, realtime.UserChannel("u2"))
	f := read(t, conn)
	assert.Equal(t, FrameError, f.Type)
	assert.Equal(t, "forbidden", f.Error)

	send(t, conn, ActionSubscribe, realtime.ChatChannel("c2"))
	assert.Equal(t, FrameError, read(t, conn).Type)

	send(t, conn, ActionSubscribe, "lobby")
	assert.Equal(t, "unknown channel", read(t, conn).Error)

	send(t, conn, ActionSubscribe, realtime.ChatChannel("c1"))
	assert.Equal(t, FrameSubscribed, read(t, conn).Type)

	send(t, conn, "join", "chat-c1")
	assert.Equal(t, "unknown action", read(t, conn).Error)
}

func TestEventFanOut(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.dial(t, "u1")
	b := h.dial(t, "u2")
	for _, c := range []*websocket.Conn{a, b} {
		send(t, c, ActionSubscribe, "chat-c1")
		require.Equal(t, FrameSubscribed, read(t, c).Type)
	}
	// Повторная подписка не удваивает доставку.
	send(t, a, ActionSubscribe, "chat-c1")
	require.Equal(t, FrameSubscribed, read(t, a).Type)
	assert.Equal(t, 2, h.hub.Subscribers("chat-c1"))

	require.NoError(t, h.broker.Publish(context.Background(), "chat-c1", realtime.EventRenameChat,
		realtime.RenamePayload{ChatID: "c1", Name: "Crew"}))
	require.NoError(t, h.broker.Publish(context.Background(), "chat-c9", realtime.EventRenameChat,
		realtime.RenamePayload{ChatID: "c9", Name: "nobody"}))
	require.NoError(t, h.broker.Publish(context.Background(), "chat-c1", realtime.EventDeleteChat,
		realtime.DeletePayload{ChatID: "c1"}))

	for _, c := range []*websocket.Conn{a, b} {
		f := read(t, c)
		assert.Equal(t, FrameEvent, f.Type)
		assert.Equal(t, realtime.EventRenameChat, f.Event)
		assert.JSONEq(t, `{"chatId":"c1","name":"Crew"}`, string(f.Data))
		assert.Equal(t, realtime.EventDeleteChat, read(t, c).Event)
	}
	assert.Eventually(t, func() bool { return h.hub.Subscribers("chat-c1") == 0 }, time.Second, 5*time.Millisecond)
}

func TestLeaveChatDropsLeaver(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.dial(t, "u1")
	b := h.dial(t, "u2")
	for _, c := range []*websocket.Conn{a, b} {
		send(t, c, ActionSubscribe, "chat-c1")
		require.Equal(t, FrameSubscribed, read(t, c).Type)
	}
	require.NoError(t, h.broker.Publish(context.Background(), "chat-c1", realtime.EventLeaveChat,
		realtime.LeavePayload{ChatID: "c1", UserID: "u1"}))
	assert.Equal(t, realtime.EventLeaveChat, read(t, a).Event)
	assert.Equal(t, realtime.EventLeaveChat, read(t, b).Event)
	assert.Eventually(t, func() bool { return h.hub.Subscribers("chat-c1") == 1 }, time.Second, 5*time.Millisecond)
}

func TestUnsubscribeAndDisconnect(t *testing.T) {
	h := newHarness(t, Options{})
	conn := h.dial(t, "u1")
	send(t, conn, ActionSubscribe, "chat-c1")
	require.Equal(t, FrameSubscribed, read(t, conn).Type)
	send(t, conn, ActionSubscribe, "user-u1")
	require.Equal(t, FrameSubscribed, read(t, conn).Type)

	send(t, conn, ActionUnsubscribe, "chat-c1")
	assert.Equal(t, ServerFrame{Type: FrameUnsubscribed, Channel: "chat-c1"}, read(t, conn))
	assert.Equal(t, 0, h.hub.Subscribers("chat-c1"))
	assert.Equal(t, 1, h.hub.Subscribers("user-u1"))

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		return h.hub.Connections() == 0 && h.hub.Subscribers("user-u1") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConnectionLimit(t *testing.T) {
	h := newHarness(t, Options{MaxConnections: 1})
	first := h.dial(t, "u1")
	send(t, first, ActionSubscribe, "user-u1")
	require.Equal(t, FrameSubscribed, read(t, first).Type)

	second := h.dial(t, "u2")
	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := second.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)
	assert.Equal(t, 1, h.hub.Connections())
}
