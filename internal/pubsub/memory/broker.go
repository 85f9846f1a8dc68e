// Package memory is an in-process pub/sub backend. Each listener gets its own buffered queue;
// a full queue drops the envelope for that listener only and publishing never blocks.
package memory

import (
	"context"
	"sync"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/metrics"
	"github.com/chatsync/internal/realtime"
)

const defaultBufSize = 1024

type Broker struct {
	mu        sync.RWMutex
	listeners map[uint64]chan realtime.Envelope
	nextID    uint64
	bufSize   int
	closed    bool
}

// NewBroker creates a broker with the given per-listener buffer (<= 0 means 1024).
func NewBroker(bufSize int) *Broker {
	if bufSize <= 0 {
		bufSize = defaultBufSize
	}
	return &Broker{
		listeners: make(map[uint64]chan realtime.Envelope),
		bufSize:   bufSize,
	}
}

func (b *Broker) Publish(ctx context.Context, channel, event string, payload any) error {
	env, err := realtime.NewEnvelope(channel, event, payload)
	if err != nil {
		return err
	}
	b.PublishEnvelope(env)
	return nil
}

// PublishEnvelope раздаёт уже сериализованный конверт всем слушателям.
func (b *Broker) PublishEnvelope(env realtime.Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.listeners {
		select {
		case ch <- env:
		default:
			metrics.BrokerDropped.Inc()
			logger.Errorf("broker: listener %d is full, dropping %s/%s", id, env.Channel, env.Event)
		}
	}
}

// Listen delivers envelopes to fn in publish order until ctx is done.
func (b *Broker) Listen(ctx context.Context, fn func(realtime.Envelope)) error {
	id, ch := b.register()
	defer b.unregister(id)
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-ch:
			if !ok {
				return nil
			}
			fn(env)
		}
	}
}

func (b *Broker) register() (uint64, chan realtime.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan realtime.Envelope, b.bufSize)
	if b.closed {
		close(ch)
		return id, ch
	}
	b.listeners[id] = ch
	return id, ch
}

func (b *Broker) unregister(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.listeners[id]; ok {
		delete(b.listeners, id)
		close(ch)
	}
}

// Listeners возвращает текущее число слушателей.
func (b *Broker) Listeners() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Close завершает все Listen.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.listeners {
		delete(b.listeners, id)
		close(ch)
	}
	return nil
}
