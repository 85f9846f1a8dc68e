package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatsync/internal/gateway"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/realtime"
)

var ErrClosed = errors.New("client: connection closed")

type ConnOptions struct {
	// URL шлюза, например ws://localhost:8081/ws.
	URL    string
	Header http.Header
	Dialer *websocket.Dialer
	// Пауза переподключения растёт от MinBackoff до MaxBackoff.
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// OnState сообщает о подключении и разрыве; после переподключения удобно запускать resync.
	OnState func(connected bool)
}

// Conn: websocket-транспорт до шлюза. Запоминает нужные каналы и повторяет подписки
// после переподключения. События читает одна горутина и передаёт в OnEvent по порядку.
type Conn struct {
	opts ConnOptions

	mu     sync.Mutex
	ws     *websocket.Conn
	wanted map[string]struct{}
	onEv   func(realtime.Envelope)
	closed bool

	writeMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewConn(opts ConnOptions) *Conn {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 30 * time.Second
	}
	return &Conn{opts: opts, wanted: make(map[string]struct{})}
}

// OnEvent задаёт получателя событий (обычно Mux.Dispatch). Вызывать до Connect.
func (c *Conn) OnEvent(fn func(realtime.Envelope)) {
	c.mu.Lock()
	c.onEv = fn
	c.mu.Unlock()
}

// Connect устанавливает первое соединение синхронно и запускает цикл чтения
// с переподключением до Close или отмены ctx.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.done != nil {
		c.mu.Unlock()
		return errors.New("client: already connected")
	}
	c.mu.Unlock()

	ws, err := c.dial(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()
	go c.run(ctx, ws)
	return nil
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	ws, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ws.Close()
		return nil, ErrClosed
	}
	c.ws = ws
	channels := make([]string, 0, len(c.wanted))
	for ch := range c.wanted {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	for _, ch := range channels {
		if err := c.write(ws, gateway.ClientFrame{Action: gateway.ActionSubscribe, Channel: ch}); err != nil {
			ws.Close()
			return nil, err
		}
	}
	if c.opts.OnState != nil {
		c.opts.OnState(true)
	}
	return ws, nil
}

func (c *Conn) run(ctx context.Context, ws *websocket.Conn) {
	defer close(c.done)
	backoff := c.opts.MinBackoff
	for {
		c.read(ws)
		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		if c.opts.OnState != nil {
			c.opts.OnState(false)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			next, err := c.dial(ctx)
			if err == nil {
				ws = next
				backoff = c.opts.MinBackoff
				break
			}
			logger.Warnf("client: reconnect %s: %v", c.opts.URL, err)
			backoff *= 2
			if backoff > c.opts.MaxBackoff {
				backoff = c.opts.MaxBackoff
			}
		}
	}
}

func (c *Conn) read(ws *websocket.Conn) {
	defer ws.Close()
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var f gateway.ServerFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			logger.Debugf("client: malformed frame: %v", err)
			continue
		}
		switch f.Type {
		case gateway.FrameEvent:
			c.mu.Lock()
			fn := c.onEv
			c.mu.Unlock()
			if fn != nil {
				fn(f.Envelope())
			}
		case gateway.FrameError:
			logger.Warnf("client: gateway error channel=%s: %s", f.Channel, f.Error)
		}
	}
}

func (c *Conn) write(ws *websocket.Conn, f gateway.ClientFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ws.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	return ws.WriteJSON(f)
}

// Subscribe запоминает канал и, если соединение есть, подписывается сразу.
// Без соединения подписка будет отправлена после переподключения.
func (c *Conn) Subscribe(channel string) error {
	return c.update(channel, gateway.ActionSubscribe)
}

func (c *Conn) Unsubscribe(channel string) error {
	return c.update(channel, gateway.ActionUnsubscribe)
}

func (c *Conn) update(channel, action string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	_, had := c.wanted[channel]
	if action == gateway.ActionSubscribe {
		c.wanted[channel] = struct{}{}
	} else {
		delete(c.wanted, channel)
	}
	ws := c.ws
	c.mu.Unlock()

	if ws == nil || had == (action == gateway.ActionSubscribe) {
		return nil
	}
	if err := c.write(ws, gateway.ClientFrame{Action: action, Channel: channel}); err != nil {
		// Соединение рвётся; набор каналов восстановится при переподключении.
		logger.Warnf("client: %s %s: %v", action, channel, err)
	}
	return nil
}

// Channels возвращает запомненный набор каналов.
func (c *Conn) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.wanted))
	for ch := range c.wanted {
		out = append(out, ch)
	}
	return out
}

// Close останавливает переподключение и закрывает соединение.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws, cancel, done := c.ws, c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ws != nil {
		c.writeMu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		ws.Close()
	}
	if done != nil {
		<-done
	}
	return nil
}
