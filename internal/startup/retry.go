package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/chatsync/internal/logger"
)

// Параметры экспоненциальной паузы между попытками подключения.
var (
	retryInitial = 2 * time.Second
	retryMax     = 30 * time.Second
)

// retry вызывает attempt, пока он не вернёт nil, не истечёт maxWait или не отменится ctx.
// Возвращает последнюю ошибку попытки.
func retry(ctx context.Context, what, logPrefix string, maxWait time.Duration, attempt func(context.Context) error) error {
	deadline := time.Now().Add(maxWait)
	backoff := retryInitial
	for {
		err := attempt(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", what, ctx.Err())
		}
		if time.Now().Add(backoff).After(deadline) {
			return fmt.Errorf("%s (gave up after %v): %w", what, maxWait, err)
		}
		logger.Errorf("%s%s failed, retry in %v: %v", logPrefix, what, backoff, err)
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%s: %w", what, ctx.Err())
		case <-t.C:
		}
		if backoff *= 2; backoff > retryMax {
			backoff = retryMax
		}
	}
}
