package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/storage"
)

type ReactionRepository struct {
	pool *pgxpool.Pool
}

func NewReactionRepository(pool *pgxpool.Pool) *ReactionRepository {
	return &ReactionRepository{pool: pool}
}

// Toggle переключает реакцию пользователя в транзакции с блокировкой строки.
// Гонка двух первых вставок разрешается уникальным ключом (message_id, user_id): проигравший повторяет попытку.
func (r *ReactionRepository) Toggle(ctx context.Context, messageID, userID, emoji string) (storage.ToggleResult, error) {
	defer logger.DeferLogDuration("reaction.Toggle", time.Now())()
	for attempt := 0; attempt < 2; attempt++ {
		res, retry, err := r.toggleOnce(ctx, messageID, userID, emoji)
		if err != nil {
			return 0, err
		}
		if !retry {
			return res, nil
		}
	}
	return 0, fmt.Errorf("reactionRepo.Toggle: %w", storage.ErrConflict)
}

func (r *ReactionRepository) toggleOnce(ctx context.Context, messageID, userID, emoji string) (storage.ToggleResult, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("reactionRepo.Toggle begin: %w", err)
	}
	defer rollback(ctx, tx)

	var id, current string
	err = tx.QueryRow(ctx,
		`SELECT id, emoji FROM reactions WHERE message_id = $1 AND user_id = $2 FOR UPDATE`,
		messageID, userID,
	).Scan(&id, &current)

	var res storage.ToggleResult
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		tag, err := tx.Exec(ctx,
			`INSERT INTO reactions (id, message_id, user_id, emoji, created_at)
			 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (message_id, user_id) DO NOTHING`,
			uuid.New().String(), messageID, userID, emoji, time.Now().UTC(),
		)
		if err != nil {
			if isForeignKeyViolation(err) {
				return 0, false, storage.ErrNotFound
			}
			return 0, false, fmt.Errorf("reactionRepo.Toggle insert: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return 0, true, nil
		}
		res = storage.ReactionAdded
	case err != nil:
		return 0, false, fmt.Errorf("reactionRepo.Toggle select: %w", err)
	case current == emoji:
		if _, err := tx.Exec(ctx, `DELETE FROM reactions WHERE id = $1`, id); err != nil {
			return 0, false, fmt.Errorf("reactionRepo.Toggle delete: %w", err)
		}
		res = storage.ReactionRemoved
	default:
		if _, err := tx.Exec(ctx, `UPDATE reactions SET emoji = $1 WHERE id = $2`, emoji, id); err != nil {
			return 0, false, fmt.Errorf("reactionRepo.Toggle update: %w", err)
		}
		res = storage.ReactionReplaced
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, false, fmt.Errorf("reactionRepo.Toggle commit: %w", err)
	}
	return res, false, nil
}
