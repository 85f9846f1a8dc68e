// Package redis реализует pub/sub backend на Redis: PUBLISH в канал с именем chat-<id>/user-<id>
// и PSUBSCRIBE chat-* user-* на стороне шлюза. Порядок внутри канала гарантирует Redis.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/realtime"
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

// NewFromClient оборачивает готовый клиент (тесты, общий пул).
func NewFromClient(cli *redis.Client) *Client {
	return &Client{cli: cli}
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// Publish сериализует конверт {channel, event, data} и публикует его в одноимённый Redis-канал.
func (c *Client) Publish(ctx context.Context, channel, event string, payload any) error {
	env, err := realtime.NewEnvelope(channel, event, payload)
	if err != nil {
		return fmt.Errorf("redis publish encode: %w", err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("redis publish encode: %w", err)
	}
	if err := c.cli.Publish(ctx, channel, raw).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Listen подписывается на все каналы приложения и передаёт конверты в fn до отмены ctx.
// go-redis сам переподключает PubSub при обрыве соединения.
func (c *Client) Listen(ctx context.Context, fn func(realtime.Envelope)) error {
	ps := c.cli.PSubscribe(ctx, realtime.Patterns...)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	logger.Infof("redis: subscribed to %v", realtime.Patterns)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env realtime.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Errorf("redis: bad envelope on %s: %v", msg.Channel, err)
				continue
			}
			if env.Channel == "" {
				env.Channel = msg.Channel
			}
			fn(env)
		}
	}
}

// Ping проверяет доступность Redis (health-check).
func (c *Client) Ping(ctx context.Context) error {
	return c.cli.Ping(ctx).Err()
}
