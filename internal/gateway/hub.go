package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/metrics"
	"github.com/chatsync/internal/realtime"
)

var ErrHubClosed = errors.New("gateway: hub closed")

// Authorizer проверяет право подписки на chat-<id>.
type Authorizer interface {
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
}

type Options struct {
	MaxConnections int
	SendBufferSize int
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	MaxMessageSize int64
	// CheckOrigin передаётся в websocket.Upgrader; nil, разрешить всё.
	CheckOrigin func(r *http.Request) bool
}

func (o *Options) defaults() {
	if o.MaxConnections <= 0 {
		o.MaxConnections = 10000
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = 256
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 4096
	}
}

// Hub хранит соответствие канал -> клиенты и рассылает события из pub/sub.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	channels map[string]map[*Client]struct{}
	closed   bool

	authz    Authorizer
	opts     Options
	upgrader websocket.Upgrader
}

func NewHub(authz Authorizer, opts Options) *Hub {
	opts.defaults()
	h := &Hub{
		clients:  make(map[*Client]struct{}),
		channels: make(map[string]map[*Client]struct{}),
		authz:    authz,
		opts:     opts,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if opts.CheckOrigin == nil {
				return true
			}
			return opts.CheckOrigin(r)
		},
	}
	return h
}

// Run ретранслирует события listener'а подписчикам до отмены ctx, затем закрывает все соединения.
func (h *Hub) Run(ctx context.Context, listener realtime.Listener) error {
	defer h.shutdown()
	err := listener.Listen(ctx, h.Broadcast)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Serve поднимает websocket для уже аутентифицированного пользователя.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("ws upgrade user=%s: %v", userID, err)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := newClient(h, conn, userID)
	if err := h.register(c); err != nil {
		cancel()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()), time.Now().Add(time.Second))
		conn.Close()
		return
	}
	c.start(ctx, cancel)
}

func (h *Hub) register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	if len(h.clients) >= h.opts.MaxConnections {
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.opts.MaxConnections, c.userID)
		return errors.New("connection limit reached")
	}
	h.clients[c] = struct{}{}
	metrics.GatewayConnections.Inc()
	return nil
}

// Unregister снимает клиента со всех каналов. Повторный вызов безопасен.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for ch := range c.subs {
		h.detachLocked(c, ch)
	}
	metrics.GatewayConnections.Dec()
	h.mu.Unlock()

	// Сетевой I/O вне блокировки.
	c.Close()
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	h.closed = true
	all := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.mu.Unlock()

	for _, c := range all {
		h.Unregister(c)
	}
	for _, c := range all {
		c.Wait()
	}
}

// Connections: число активных соединений.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscribers: число клиентов, подписанных на канал.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

func (h *Hub) handleFrame(ctx context.Context, c *Client, f ClientFrame) {
	switch f.Action {
	case ActionSubscribe:
		if err := h.authorize(ctx, c.userID, f.Channel); err != nil {
			h.sendToClient(c, controlFrame(FrameError, f.Channel, err.Error()))
			return
		}
		h.attach(c, f.Channel)
		h.sendToClient(c, controlFrame(FrameSubscribed, f.Channel, ""))
	case ActionUnsubscribe:
		h.mu.Lock()
		h.detachLocked(c, f.Channel)
		h.mu.Unlock()
		h.sendToClient(c, controlFrame(FrameUnsubscribed, f.Channel, ""))
	default:
		h.sendToClient(c, controlFrame(FrameError, f.Channel, "unknown action"))
	}
}

func (h *Hub) authorize(ctx context.Context, userID, channel string) error {
	kind, id, ok := realtime.ParseChannel(channel)
	if !ok {
		return errors.New("unknown channel")
	}
	if kind == "user" {
		if id != userID {
			return errors.New("forbidden")
		}
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	member, err := h.authz.IsParticipant(ctx, id, userID)
	if err != nil {
		logger.Errorf("ws check participant chat=%s user=%s: %v", id, userID, err)
		return errors.New("internal error")
	}
	if !member {
		return errors.New("forbidden")
	}
	return nil
}

// attach идемпотентен: повторная подписка на тот же канал ничего не меняет.
func (h *Hub) attach(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	if _, ok := c.subs[channel]; ok {
		return
	}
	set, ok := h.channels[channel]
	if !ok {
		set = make(map[*Client]struct{})
		h.channels[channel] = set
	}
	set[c] = struct{}{}
	c.subs[channel] = struct{}{}
	metrics.GatewaySubscriptions.Inc()
}

func (h *Hub) detachLocked(c *Client, channel string) {
	if _, ok := c.subs[channel]; !ok {
		return
	}
	delete(c.subs, channel)
	if set, ok := h.channels[channel]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.channels, channel)
		}
	}
	metrics.GatewaySubscriptions.Dec()
}

// Broadcast рассылает событие подписчикам канала. После delete-chat канал закрывается
// для всех, после leave-chat, для соединений ушедшего пользователя.
func (h *Hub) Broadcast(env realtime.Envelope) {
	data, err := eventFrame(env)
	if err != nil {
		logger.Errorf("ws encode %s %s: %v", env.Channel, env.Event, err)
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.channels[env.Channel]))
	for c := range h.channels[env.Channel] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, data)
	}

	switch env.Event {
	case realtime.EventDeleteChat:
		h.mu.Lock()
		for _, c := range targets {
			h.detachLocked(c, env.Channel)
		}
		h.mu.Unlock()
	case realtime.EventLeaveChat:
		var p realtime.LeavePayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.UserID == "" {
			return
		}
		h.mu.Lock()
		for _, c := range targets {
			if c.userID == p.UserID {
				h.detachLocked(c, env.Channel)
			}
		}
		h.mu.Unlock()
	}
}

func (h *Hub) sendToClient(c *Client, data []byte) {
	select {
	case c.send <- data:
	case <-c.done:
	default:
		// Буфер переполнен: медленный клиент закрывается, при переподключении он перезапросит состояние.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		go h.Unregister(c)
	}
}
