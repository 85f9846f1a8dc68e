package client

import (
	"context"
	"sync"

	"github.com/chatsync/internal/realtime"
)

// BrokerTransport: транспорт внутри процесса поверх realtime.Listener (pubsub/memory):
// пропускает только события каналов, на которые есть подписка.
type BrokerTransport struct {
	listener realtime.Listener

	mu     sync.RWMutex
	wanted map[string]struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

func NewBrokerTransport(l realtime.Listener) *BrokerTransport {
	return &BrokerTransport{listener: l, wanted: make(map[string]struct{})}
}

func (b *BrokerTransport) Subscribe(channel string) error {
	b.mu.Lock()
	b.wanted[channel] = struct{}{}
	b.mu.Unlock()
	return nil
}

func (b *BrokerTransport) Unsubscribe(channel string) error {
	b.mu.Lock()
	delete(b.wanted, channel)
	b.mu.Unlock()
	return nil
}

// Start запускает чтение событий в фоне; fn вызывается последовательно.
func (b *BrokerTransport) Start(ctx context.Context, fn func(realtime.Envelope)) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	b.mu.Lock()
	b.cancel, b.done = cancel, done
	b.mu.Unlock()
	go func() {
		defer close(done)
		_ = b.listener.Listen(ctx, func(env realtime.Envelope) {
			b.mu.RLock()
			_, ok := b.wanted[env.Channel]
			b.mu.RUnlock()
			if ok {
				fn(env)
			}
		})
	}()
}

func (b *BrokerTransport) Close() error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}
