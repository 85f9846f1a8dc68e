package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsync/internal/config"
)

// ConnectDB собирает пул по настройкам cfg и ждёт, пока Postgres ответит на ping.
// logPrefix добавляется к сообщениям лога (например "realtime: ").
func ConnectDB(ctx context.Context, cfg *config.Config, maxWait time.Duration, logPrefix string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	if poolCfg.MaxConns >= 2 {
		poolCfg.MinConns = 2
	}

	var pool *pgxpool.Pool
	err = retry(ctx, "db connect", logPrefix, maxWait, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		p, err := pgxpool.NewWithConfig(cctx, poolCfg)
		if err != nil {
			return err
		}
		if err := p.Ping(cctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}
