package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
)

const chatCols = `c.id, c.name, c.is_group, c.created_at, c.last_message_at`

type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

func scanChat(s interface{ Scan(dest ...any) error }, c *model.Chat) error {
	if err := s.Scan(&c.ID, &c.Name, &c.IsGroup, &c.CreatedAt, &c.LastMessageAt); err != nil {
		return err
	}
	c.Participants = []model.UserPublic{}
	c.Messages = []model.Message{}
	return nil
}

// Create сохраняет чат и участников в одной транзакции.
func (r *ChatRepository) Create(ctx context.Context, c *model.Chat, participantIDs []string) error {
	defer logger.DeferLogDuration("chat.Create", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("chatRepo.Create begin: %w", err)
	}
	defer rollback(ctx, tx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO chats (id, name, is_group, created_at, last_message_at) VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.Name, c.IsGroup, c.CreatedAt, c.LastMessageAt,
	); err != nil {
		return fmt.Errorf("chatRepo.Create: %w", err)
	}
	batch := &pgx.Batch{}
	for _, uid := range participantIDs {
		batch.Queue(`INSERT INTO chat_participants (chat_id, user_id, joined_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			c.ID, uid, c.CreatedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		if isForeignKeyViolation(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("chatRepo.Create participants: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("chatRepo.Create commit: %w", err)
	}
	return nil
}

// enrich подгружает участников и превью (последнее сообщение) для набора чатов.
func enrich(ctx context.Context, q querier, chats []model.Chat) error {
	if len(chats) == 0 {
		return nil
	}
	ids := make([]string, len(chats))
	idx := make(map[string]int, len(chats))
	for i, c := range chats {
		ids[i] = c.ID
		idx[c.ID] = i
	}

	rows, err := q.Query(ctx,
		`SELECT cp.chat_id, u.id, u.name, u.email
		 FROM chat_participants cp
		 JOIN users u ON u.id = cp.user_id
		 WHERE cp.chat_id::text = ANY($1)
		 ORDER BY cp.joined_at, u.name`, ids,
	)
	if err != nil {
		return fmt.Errorf("participants query: %w", err)
	}
	for rows.Next() {
		var chatID string
		var u model.UserPublic
		if err := rows.Scan(&chatID, &u.ID, &u.Name, &u.Email); err != nil {
			rows.Close()
			return fmt.Errorf("participants scan: %w", err)
		}
		i := idx[chatID]
		chats[i].Participants = append(chats[i].Participants, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("participants rows: %w", err)
	}

	rows, err = q.Query(ctx,
		`SELECT DISTINCT ON (m.chat_id) `+messageCols+`
		 FROM messages m JOIN users u ON u.id = m.author_id
		 WHERE m.chat_id::text = ANY($1)
		 ORDER BY m.chat_id, m.created_at DESC, m.id DESC`, ids,
	)
	if err != nil {
		return fmt.Errorf("previews query: %w", err)
	}
	previews, err := collectMessages(rows)
	if err != nil {
		return fmt.Errorf("previews scan: %w", err)
	}
	if err := hydrate(ctx, q, previews); err != nil {
		return err
	}
	for _, p := range previews {
		i := idx[p.ChatID]
		chats[i].Messages = []model.Message{p}
	}
	return nil
}

func (r *ChatRepository) GetByID(ctx context.Context, id string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.GetByID", time.Now())()
	var c model.Chat
	if err := scanChat(r.pool.QueryRow(ctx, `SELECT `+chatCols+` FROM chats c WHERE c.id = $1`, id), &c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("chatRepo.GetByID: %w", err)
	}
	chats := []model.Chat{c}
	if err := enrich(ctx, r.pool, chats); err != nil {
		return nil, fmt.Errorf("chatRepo.GetByID enrich: %w", err)
	}
	return &chats[0], nil
}

// ListForUser возвращает чаты пользователя, новые сообщения первыми.
func (r *ChatRepository) ListForUser(ctx context.Context, userID string) ([]model.Chat, error) {
	defer logger.DeferLogDuration("chat.ListForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+chatCols+`
		 FROM chats c
		 JOIN chat_participants cp ON cp.chat_id = c.id
		 WHERE cp.user_id = $1
		 ORDER BY c.last_message_at DESC, c.id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.ListForUser query: %w", err)
	}
	defer rows.Close()
	chats := make([]model.Chat, 0, 16)
	for rows.Next() {
		var c model.Chat
		if err := scanChat(rows, &c); err != nil {
			return nil, fmt.Errorf("chatRepo.ListForUser scan: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.ListForUser rows: %w", err)
	}
	rows.Close()
	if err := enrich(ctx, r.pool, chats); err != nil {
		return nil, fmt.Errorf("chatRepo.ListForUser enrich: %w", err)
	}
	return chats, nil
}

func (r *ChatRepository) FindDirect(ctx context.Context, userA, userB string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.FindDirect", time.Now())()
	var id string
	err := r.pool.QueryRow(ctx,
		`SELECT c.id FROM chats c
		 WHERE NOT c.is_group
		   AND EXISTS (SELECT 1 FROM chat_participants WHERE chat_id = c.id AND user_id = $1)
		   AND EXISTS (SELECT 1 FROM chat_participants WHERE chat_id = c.id AND user_id = $2)
		   AND (SELECT COUNT(*) FROM chat_participants WHERE chat_id = c.id) = 2
		 ORDER BY c.created_at
		 LIMIT 1`, userA, userB,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chatRepo.FindDirect: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *ChatRepository) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM chat_participants WHERE chat_id = $1 AND user_id = $2)`,
		chatID, userID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("chatRepo.IsParticipant: %w", err)
	}
	return ok, nil
}

func (r *ChatRepository) Rename(ctx context.Context, chatID, name string) error {
	defer logger.DeferLogDuration("chat.Rename", time.Now())()
	tag, err := r.pool.Exec(ctx, `UPDATE chats SET name = $1 WHERE id = $2`, name, chatID)
	if err != nil {
		return fmt.Errorf("chatRepo.Rename: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// RemoveParticipant удаляет участника и возвращает число оставшихся.
func (r *ChatRepository) RemoveParticipant(ctx context.Context, chatID, userID string) (int, error) {
	defer logger.DeferLogDuration("chat.RemoveParticipant", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("chatRepo.RemoveParticipant begin: %w", err)
	}
	defer rollback(ctx, tx)

	tag, err := tx.Exec(ctx, `DELETE FROM chat_participants WHERE chat_id = $1 AND user_id = $2`, chatID, userID)
	if err != nil {
		return 0, fmt.Errorf("chatRepo.RemoveParticipant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, storage.ErrNotFound
	}
	var left int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM chat_participants WHERE chat_id = $1`, chatID).Scan(&left); err != nil {
		return 0, fmt.Errorf("chatRepo.RemoveParticipant count: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("chatRepo.RemoveParticipant commit: %w", err)
	}
	return left, nil
}

func (r *ChatRepository) Delete(ctx context.Context, chatID string) error {
	defer logger.DeferLogDuration("chat.Delete", time.Now())()
	tag, err := r.pool.Exec(ctx, `DELETE FROM chats WHERE id = $1`, chatID)
	if err != nil {
		return fmt.Errorf("chatRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
