package startup

import (
	"context"
	"time"

	redispubsub "github.com/chatsync/internal/pubsub/redis"
)

// ConnectRedis подключается к Redis (транспорт каналов chat-* и user-*) с повторами.
func ConnectRedis(ctx context.Context, redisURL string, maxWait time.Duration, logPrefix string) (*redispubsub.Client, error) {
	var client *redispubsub.Client
	err := retry(ctx, "redis connect", logPrefix, maxWait, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		c, err := redispubsub.New(cctx, redisURL)
		if err != nil {
			return err
		}
		client = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}
