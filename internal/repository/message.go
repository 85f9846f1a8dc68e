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

// messageCols: колонки сообщения и автора (JOIN users u).
const messageCols = `m.id, m.chat_id, m.author_id, m.text, m.created_at, m.edited_at, m.parent_id, u.id, u.name, u.email`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	var author model.UserPublic
	if err := s.Scan(&m.ID, &m.ChatID, &m.AuthorID, &m.Text, &m.CreatedAt, &m.EditedAt, &m.ParentID,
		&author.ID, &author.Name, &author.Email); err != nil {
		return err
	}
	m.Author = &author
	m.Reactions = []model.Reaction{}
	return nil
}

func collectMessages(rows pgx.Rows) ([]model.Message, error) {
	defer rows.Close()
	msgs := make([]model.Message, 0, 32)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// attachReactions заполняет Reactions (с пользователями) для переданных сообщений одним запросом.
func attachReactions(ctx context.Context, q querier, msgs []*model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(msgs))
	byID := make(map[string][]*model.Message, len(msgs))
	for _, m := range msgs {
		if _, ok := byID[m.ID]; !ok {
			ids = append(ids, m.ID)
		}
		byID[m.ID] = append(byID[m.ID], m)
	}
	rows, err := q.Query(ctx,
		`SELECT r.id, r.message_id, r.user_id, r.emoji, r.created_at, u.id, u.name, u.email
		 FROM reactions r
		 JOIN users u ON u.id = r.user_id
		 WHERE r.message_id::text = ANY($1)
		 ORDER BY r.created_at, r.id`, ids,
	)
	if err != nil {
		return fmt.Errorf("reactions query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rc model.Reaction
		var u model.UserPublic
		if err := rows.Scan(&rc.ID, &rc.MessageID, &rc.UserID, &rc.Emoji, &rc.CreatedAt, &u.ID, &u.Name, &u.Email); err != nil {
			return fmt.Errorf("reactions scan: %w", err)
		}
		rc.User = &u
		for _, m := range byID[rc.MessageID] {
			m.Reactions = append(m.Reactions, rc)
		}
	}
	return rows.Err()
}

// hydrate подгружает родителей (один уровень) и реакции для сообщений и их родителей.
func hydrate(ctx context.Context, q querier, msgs []model.Message) error {
	var parentIDs []string
	for _, m := range msgs {
		if m.ParentID != nil {
			parentIDs = append(parentIDs, *m.ParentID)
		}
	}
	parents := make(map[string]model.Message, len(parentIDs))
	if len(parentIDs) > 0 {
		rows, err := q.Query(ctx,
			`SELECT `+messageCols+` FROM messages m JOIN users u ON u.id = m.author_id WHERE m.id::text = ANY($1)`,
			parentIDs,
		)
		if err != nil {
			return fmt.Errorf("parents query: %w", err)
		}
		ps, err := collectMessages(rows)
		if err != nil {
			return fmt.Errorf("parents scan: %w", err)
		}
		for _, p := range ps {
			parents[p.ID] = p
		}
	}

	targets := make([]*model.Message, 0, len(msgs)*2)
	for i := range msgs {
		if msgs[i].ParentID != nil {
			if p, ok := parents[*msgs[i].ParentID]; ok {
				p := p
				msgs[i].Parent = &p
				targets = append(targets, msgs[i].Parent)
			}
		}
		targets = append(targets, &msgs[i])
	}
	return attachReactions(ctx, q, targets)
}

// Create вставляет сообщение и обновляет last_message_at чата в одной транзакции.
func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("message.Create", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("messageRepo.Create begin: %w", err)
	}
	defer rollback(ctx, tx)

	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, chat_id, author_id, text, created_at, parent_id)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.ChatID, m.AuthorID, m.Text, m.CreatedAt, m.ParentID,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("messageRepo.Create: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE chats SET last_message_at = GREATEST(last_message_at, $2) WHERE id = $1`,
		m.ChatID, m.CreatedAt,
	); err != nil {
		return fmt.Errorf("messageRepo.Create touch chat: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("messageRepo.Create commit: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("message.GetByID", time.Now())()
	var m model.Message
	row := r.pool.QueryRow(ctx, `SELECT `+messageCols+` FROM messages m JOIN users u ON u.id = m.author_id WHERE m.id = $1`, id)
	if err := scanMessage(row, &m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("messageRepo.GetByID: %w", err)
	}
	msgs := []model.Message{m}
	if err := hydrate(ctx, r.pool, msgs); err != nil {
		return nil, fmt.Errorf("messageRepo.GetByID hydrate: %w", err)
	}
	return &msgs[0], nil
}

// ListByChat возвращает последние limit сообщений чата по возрастанию времени.
func (r *MessageRepository) ListByChat(ctx context.Context, chatID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("message.ListByChat", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages m JOIN users u ON u.id = m.author_id
		 WHERE m.chat_id = $1
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT $2`, chatID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("messageRepo.ListByChat query: %w", err)
	}
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("messageRepo.ListByChat scan: %w", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	if err := hydrate(ctx, r.pool, msgs); err != nil {
		return nil, fmt.Errorf("messageRepo.ListByChat hydrate: %w", err)
	}
	return msgs, nil
}

func (r *MessageRepository) UpdateText(ctx context.Context, id, text string, editedAt time.Time) error {
	defer logger.DeferLogDuration("message.UpdateText", time.Now())()
	tag, err := r.pool.Exec(ctx, `UPDATE messages SET text = $1, edited_at = $2 WHERE id = $3`, text, editedAt, id)
	if err != nil {
		return fmt.Errorf("messageRepo.UpdateText: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Delete удаляет сообщение, пересчитывает last_message_at и возвращает новое последнее сообщение чата.
func (r *MessageRepository) Delete(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("message.Delete", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("messageRepo.Delete begin: %w", err)
	}
	defer rollback(ctx, tx)

	var chatID string
	if err := tx.QueryRow(ctx, `DELETE FROM messages WHERE id = $1 RETURNING chat_id`, id).Scan(&chatID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("messageRepo.Delete: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE chats c SET last_message_at = COALESCE(
			(SELECT MAX(created_at) FROM messages WHERE chat_id = c.id), c.created_at)
		 WHERE c.id = $1`, chatID,
	); err != nil {
		return nil, fmt.Errorf("messageRepo.Delete recompute: %w", err)
	}

	var last *model.Message
	rows, err := tx.Query(ctx,
		`SELECT `+messageCols+` FROM messages m JOIN users u ON u.id = m.author_id
		 WHERE m.chat_id = $1 ORDER BY m.created_at DESC, m.id DESC LIMIT 1`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("messageRepo.Delete last: %w", err)
	}
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("messageRepo.Delete last scan: %w", err)
	}
	if len(msgs) > 0 {
		if err := hydrate(ctx, tx, msgs); err != nil {
			return nil, fmt.Errorf("messageRepo.Delete hydrate: %w", err)
		}
		last = &msgs[0]
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("messageRepo.Delete commit: %w", err)
	}
	return last, nil
}
