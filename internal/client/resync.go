package client

import (
	"context"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
)

// Resync периодически перечитывает список чатов из хранилища и сбрасывает им ChatList.
// Закрывает разрыв между успешной записью и потерянной публикацией. Interval <= 0, выключено.
type Resync struct {
	Interval time.Duration
	List     *ChatList
	Fetch    func(ctx context.Context) ([]model.Chat, error)
}

// Once выполняет одну сверку.
func (r *Resync) Once(ctx context.Context) error {
	chats, err := r.Fetch(ctx)
	if err != nil {
		return err
	}
	return r.List.Reset(chats)
}

// Run блокирует до отмены ctx.
func (r *Resync) Run(ctx context.Context) {
	if r.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Once(ctx); err != nil && ctx.Err() == nil {
				logger.Warnf("client: resync: %v", err)
			}
		}
	}
}
