// Package client реализует клиентскую сторону синхронизации: подписки на каналы, транспорт до шлюза,
// редьюсеры списка чатов, треда и заявок в друзья, HTTP-клиент мутаций.
package client

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chatsync/internal/realtime"
)

// Handler получает data события.
type Handler func(data json.RawMessage)

// Transport открывает и закрывает подписки на каналы. Повторный Subscribe уже открытого
// канала не должен регистрировать его дважды; пока соединения нет, транспорт
// запоминает набор каналов и восстанавливает его после переподключения.
type Transport interface {
	Subscribe(channel string) error
	Unsubscribe(channel string) error
}

// Mux делит один транспорт между несколькими потребителями (список чатов, тред, заявки).
// Канал открыт в транспорте, пока на него подписан хотя бы один потребитель.
type Mux struct {
	mu     sync.Mutex
	t      Transport
	refs   map[string]int
	scopes []*Channels
}

func NewMux(t Transport) *Mux {
	return &Mux{t: t, refs: make(map[string]int)}
}

// Scope создаёт нового потребителя со своими обработчиками.
func (m *Mux) Scope() *Channels {
	c := &Channels{mux: m, handlers: make(map[string]map[string]Handler)}
	m.mu.Lock()
	m.scopes = append(m.scopes, c)
	m.mu.Unlock()
	return c
}

// Dispatch раздаёт событие всем потребителям.
func (m *Mux) Dispatch(env realtime.Envelope) {
	m.mu.Lock()
	scopes := append([]*Channels(nil), m.scopes...)
	m.mu.Unlock()
	for _, s := range scopes {
		s.Dispatch(env)
	}
}

// Refs: число потребителей канала.
func (m *Mux) Refs(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs[channel]
}

func (m *Mux) acquire(channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refs[channel] == 0 {
		if err := m.t.Subscribe(channel); err != nil {
			return fmt.Errorf("subscribe %s: %w", channel, err)
		}
	}
	m.refs[channel]++
	return nil
}

func (m *Mux) release(channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refs[channel] == 0 {
		return nil
	}
	m.refs[channel]--
	if m.refs[channel] > 0 {
		return nil
	}
	delete(m.refs, channel)
	if err := m.t.Unsubscribe(channel); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", channel, err)
	}
	return nil
}

// Channels хранит подписки одного потребителя: (канал, событие) -> ровно один обработчик.
type Channels struct {
	mux      *Mux
	mu       sync.Mutex
	handlers map[string]map[string]Handler
}

// NewChannels: потребитель с собственным мультиплексором поверх t.
func NewChannels(t Transport) *Channels {
	return NewMux(t).Scope()
}

// Mux возвращает мультиплексор потребителя.
func (c *Channels) Mux() *Mux { return c.mux }

// Subscribe привязывает h к (channel, event). Существующий обработчик заменяется.
func (c *Channels) Subscribe(channel, event string, h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	events, open := c.handlers[channel]
	if !open {
		if err := c.mux.acquire(channel); err != nil {
			return err
		}
		events = make(map[string]Handler)
		c.handlers[channel] = events
	}
	events[event] = h
	return nil
}

// Unsubscribe без событий снимает все обработчики канала; с событиями, только их.
// Потребитель отпускает канал, когда на нём не осталось обработчиков.
func (c *Channels) Unsubscribe(channel string, events ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	bound, ok := c.handlers[channel]
	if !ok {
		return nil
	}
	for _, e := range events {
		delete(bound, e)
	}
	if len(events) > 0 && len(bound) > 0 {
		return nil
	}
	delete(c.handlers, channel)
	return c.mux.release(channel)
}

// Dispatch вызывает обработчик события. Неизвестные канал или событие игнорируются.
// Обработчик вызывается без блокировки и может сам подписываться и отписываться.
func (c *Channels) Dispatch(env realtime.Envelope) {
	c.mu.Lock()
	h := c.handlers[env.Channel][env.Event]
	c.mu.Unlock()
	if h != nil {
		h(env.Data)
	}
}

// Bound сообщает, есть ли обработчик для (channel, event).
func (c *Channels) Bound(channel, event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[channel][event]
	return ok
}

// Open возвращает каналы, на которые подписан потребитель.
func (c *Channels) Open() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.handlers))
	for ch := range c.handlers {
		out = append(out, ch)
	}
	return out
}
