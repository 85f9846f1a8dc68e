package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync/internal/realtime"
)

type collector struct {
	mu   sync.Mutex
	envs []realtime.Envelope
}

func (c *collector) add(env realtime.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, env)
}

func (c *collector) snapshot() []realtime.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]realtime.Envelope(nil), c.envs...)
}

func listen(t *testing.T, b *Broker) (*collector, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	c := &collector{}
	before := b.Listeners()
	go func() { _ = b.Listen(ctx, c.add) }()
	require.Eventually(t, func() bool { return b.Listeners() == before+1 }, time.Second, 5*time.Millisecond)
	return c, cancel
}

func TestBrokerFanOutPreservesOrder(t *testing.T) {
	b := NewBroker(0)
	c1, cancel1 := listen(t, b)
	defer cancel1()
	c2, cancel2 := listen(t, b)
	defer cancel2()

	ctx := context.Background()
	for _, name := range []string{"one", "two", "three"} {
		require.NoError(t, b.Publish(ctx, realtime.ChatChannel("c1"), realtime.EventRenameChat, realtime.RenamePayload{ChatID: "c1", Name: name}))
	}

	for _, c := range []*collector{c1, c2} {
		c := c
		require.Eventually(t, func() bool { return len(c.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
		got := c.snapshot()
		assert.JSONEq(t, `{"chatId":"c1","name":"one"}`, string(got[0].Data))
		assert.JSONEq(t, `{"chatId":"c1","name":"three"}`, string(got[2].Data))
	}
}

func TestBrokerDropsForFullListener(t *testing.T) {
	b := NewBroker(1)
	block := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = b.Listen(ctx, func(realtime.Envelope) { <-block })
	}()
	require.Eventually(t, func() bool { return b.Listeners() == 1 }, time.Second, 5*time.Millisecond)

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Publish(context.Background(), "chat-x", "new-message", map[string]int{"i": i}))
	}
	close(block)
}

func TestBrokerCloseStopsListeners(t *testing.T) {
	b := NewBroker(0)
	done := make(chan struct{})
	go func() {
		_ = b.Listen(context.Background(), func(realtime.Envelope) {})
		close(done)
	}()
	require.Eventually(t, func() bool { return b.Listeners() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, b.Close())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Listen did not return after Close")
	}
	assert.Equal(t, 0, b.Listeners())
}
