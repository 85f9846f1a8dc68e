package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync/internal/gateway"
	"github.com/chatsync/internal/realtime"
)

// stubGateway записывает кадры каждого соединения и по команде рвёт соединение.
type stubGateway struct {
	mu     sync.Mutex
	frames [][]gateway.ClientFrame
	conns  []*websocket.Conn
	auth   []string
}

func (s *stubGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	idx := len(s.conns)
	s.conns = append(s.conns, conn)
	s.frames = append(s.frames, nil)
	s.auth = append(s.auth, r.Header.Get("Authorization"))
	s.mu.Unlock()
	for {
		var f gateway.ClientFrame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		s.mu.Lock()
		s.frames[idx] = append(s.frames[idx], f)
		s.mu.Unlock()
	}
}

func (s *stubGateway) channels(idx int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx >= len(s.frames) {
		return nil
	}
	var out []string
	for _, f := range s.frames[idx] {
		out = append(out, f.Action+" "+f.Channel)
	}
	return out
}

func (s *stubGateway) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *stubGateway) send(t *testing.T, idx int, f gateway.ServerFrame) {
	t.Helper()
	s.mu.Lock()
	conn := s.conns[idx]
	s.mu.Unlock()
	require.NoError(t, conn.WriteJSON(f))
}

func (s *stubGateway) drop(idx int) {
	s.mu.Lock()
	conn := s.conns[idx]
	s.mu.Unlock()
	conn.Close()
}

func TestConnSubscribeReceiveAndReplay(t *testing.T) {
	stub := &stubGateway{}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	var events []realtime.Envelope
	var evMu sync.Mutex
	states := make(chan bool, 8)
	conn := NewConn(ConnOptions{
		URL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		Header:     http.Header{"Authorization": []string{"Bearer t0k"}},
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 50 * time.Millisecond,
		OnState:    func(up bool) { states <- up },
	})
	conn.OnEvent(func(e realtime.Envelope) {
		evMu.Lock()
		events = append(events, e)
		evMu.Unlock()
	})

	// Подписка до соединения запоминается и уходит при подключении.
	require.NoError(t, conn.Subscribe("user-a"))
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Close()
	assert.True(t, <-states)

	require.NoError(t, conn.Subscribe("chat-c1"))
	require.NoError(t, conn.Subscribe("chat-c1"))
	require.Eventually(t, func() bool { return len(stub.channels(0)) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"subscribe user-a", "subscribe chat-c1"}, stub.channels(0))
	assert.Equal(t, "Bearer t0k", stub.auth[0])

	stub.send(t, 0, gateway.ServerFrame{Type: gateway.FrameSubscribed, Channel: "chat-c1"})
	stub.send(t, 0, gateway.ServerFrame{Type: gateway.FrameEvent, Channel: "chat-c1", Event: "rename-chat", Data: []byte(`{"chatId":"c1","name":"x"}`)})
	require.Eventually(t, func() bool {
		evMu.Lock()
		defer evMu.Unlock()
		return len(events) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "rename-chat", events[0].Event)

	require.NoError(t, conn.Unsubscribe("user-a"))
	require.Eventually(t, func() bool { return len(stub.channels(0)) == 3 }, time.Second, 5*time.Millisecond)

	stub.drop(0)
	assert.False(t, <-states)
	assert.True(t, <-states)
	require.Eventually(t, func() bool { return stub.connCount() == 2 && len(stub.channels(1)) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"subscribe chat-c1"}, stub.channels(1))
	assert.ElementsMatch(t, []string{"chat-c1"}, conn.Channels())

	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Subscribe("chat-c2"), ErrClosed)
}

func TestConnConnectFails(t *testing.T) {
	conn := NewConn(ConnOptions{URL: "ws://127.0.0.1:1/ws"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, conn.Connect(ctx))
	assert.NoError(t, conn.Close())
}
