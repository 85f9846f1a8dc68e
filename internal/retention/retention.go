// Package retention периодически удаляет отклонённые заявки в друзья по cron-расписанию.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/chatsync/internal/logger"
)

// Purger: то, что умеет удалять устаревшие отклонённые заявки (FriendService).
type Purger interface {
	PurgeDeclined(ctx context.Context, olderThan time.Duration) (int64, error)
}

type Scheduler struct {
	cron      string
	olderThan time.Duration
	purger    Purger
	now       func() time.Time

	mu      sync.Mutex
	running bool
}

// New проверяет cron-выражение. olderThan <= 0, удалять все отклонённые.
func New(cron string, olderThan time.Duration, purger Purger) (*Scheduler, error) {
	if !gronx.New().IsValid(cron) {
		return nil, fmt.Errorf("retention: invalid cron %q", cron)
	}
	if olderThan < 0 {
		olderThan = 0
	}
	return &Scheduler{cron: cron, olderThan: olderThan, purger: purger, now: time.Now}, nil
}

func (s *Scheduler) next() (time.Time, error) {
	return gronx.NextTickAfter(s.cron, s.now(), false)
}

// Run ждёт очередной тик расписания и запускает очистку до отмены ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	logger.Infof("retention: cron=%q declined older than %v", s.cron, s.olderThan)
	for {
		next, err := s.next()
		if err != nil {
			logger.Errorf("retention: next tick for %q: %v", s.cron, err)
			next = s.now().Add(30 * time.Second)
		}
		wait := time.Until(next)
		if wait < time.Second {
			wait = time.Second
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
			if err == nil {
				s.runJob(ctx)
			}
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if _, err := s.RunOnce(ctx); err != nil {
		logger.Errorf("retention: %v", err)
	}
}

// RunOnce выполняет одну очистку немедленно.
func (s *Scheduler) RunOnce(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := s.purger.PurgeDeclined(ctx, s.olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge declined requests: %w", err)
	}
	logger.Infof("retention: purged %d declined requests in %v", n, time.Since(start))
	return n, nil
}
