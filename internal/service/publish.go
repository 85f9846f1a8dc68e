package service

import (
	"context"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/metrics"
	"github.com/chatsync/internal/realtime"
)

const (
	publishTimeout = 5 * time.Second
	storeTimeout   = 5 * time.Second
)

// notifier: вторая фаза мутации. Вызывается только после успешной записи;
// ошибка публикации логируется и считается, но не превращает мутацию в ошибку.
type notifier struct {
	pub realtime.Publisher
}

func (n notifier) publish(ctx context.Context, channel, event string, payload any) {
	// Отмена запроса клиентом после записи не должна отменять публикацию.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := n.pub.Publish(ctx, channel, event, payload); err != nil {
		metrics.PublishFailures.WithLabelValues(event).Inc()
		logger.Errorf("publish %s %s: %v", channel, event, err)
		return
	}
	metrics.EventsPublished.WithLabelValues(event).Inc()
	logger.Debugf("published %s %s", channel, event)
}

func (n notifier) publishUsers(ctx context.Context, userIDs []string, event string, payload any) {
	for _, id := range userIDs {
		n.publish(ctx, realtime.UserChannel(id), event, payload)
	}
}

// timeout ограничивает операцию с хранилищем, как в обработчиках (5s).
func timeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, storeTimeout)
}
