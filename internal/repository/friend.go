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

const requestSelect = `SELECT fr.id, fr.sender_id, fr.receiver_id, fr.status, fr.created_at,
	s.id, s.name, s.email, rc.id, rc.name, rc.email
	FROM friend_requests fr
	JOIN users s ON s.id = fr.sender_id
	JOIN users rc ON rc.id = fr.receiver_id`

type FriendRepository struct {
	pool *pgxpool.Pool
}

func NewFriendRepository(pool *pgxpool.Pool) *FriendRepository {
	return &FriendRepository{pool: pool}
}

func scanRequest(s interface{ Scan(dest ...any) error }, fr *model.FriendRequest) error {
	var sender, receiver model.UserPublic
	if err := s.Scan(&fr.ID, &fr.SenderID, &fr.ReceiverID, &fr.Status, &fr.CreatedAt,
		&sender.ID, &sender.Name, &sender.Email, &receiver.ID, &receiver.Name, &receiver.Email); err != nil {
		return err
	}
	fr.Sender = &sender
	fr.Receiver = &receiver
	return nil
}

func (r *FriendRepository) list(ctx context.Context, op, where string, args ...any) ([]model.FriendRequest, error) {
	rows, err := r.pool.Query(ctx, requestSelect+` WHERE `+where+` ORDER BY fr.created_at DESC, fr.id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("friendRepo.%s query: %w", op, err)
	}
	defer rows.Close()
	out := make([]model.FriendRequest, 0, 8)
	for rows.Next() {
		var fr model.FriendRequest
		if err := scanRequest(rows, &fr); err != nil {
			return nil, fmt.Errorf("friendRepo.%s scan: %w", op, err)
		}
		out = append(out, fr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("friendRepo.%s rows: %w", op, err)
	}
	return out, nil
}

func (r *FriendRepository) Create(ctx context.Context, fr *model.FriendRequest) error {
	defer logger.DeferLogDuration("friend.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO friend_requests (id, sender_id, receiver_id, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
		fr.ID, fr.SenderID, fr.ReceiverID, fr.Status, fr.CreatedAt,
	)
	if err != nil {
		if code, _, ok := pgError(err); ok {
			switch code {
			case pgUniqueViolation:
				return &storage.ConflictError{Field: "request"}
			case pgForeignKeyViolation:
				return storage.ErrNotFound
			}
		}
		return fmt.Errorf("friendRepo.Create: %w", err)
	}
	return nil
}

func (r *FriendRepository) GetByID(ctx context.Context, id string) (*model.FriendRequest, error) {
	defer logger.DeferLogDuration("friend.GetByID", time.Now())()
	var fr model.FriendRequest
	if err := scanRequest(r.pool.QueryRow(ctx, requestSelect+` WHERE fr.id = $1`, id), &fr); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("friendRepo.GetByID: %w", err)
	}
	return &fr, nil
}

func (r *FriendRepository) Between(ctx context.Context, userA, userB string) ([]model.FriendRequest, error) {
	return r.list(ctx, "Between",
		`(fr.sender_id = $1 AND fr.receiver_id = $2) OR (fr.sender_id = $2 AND fr.receiver_id = $1)`,
		userA, userB)
}

func (r *FriendRepository) UpdateStatus(ctx context.Context, id string, status model.RequestStatus) error {
	defer logger.DeferLogDuration("friend.UpdateStatus", time.Now())()
	tag, err := r.pool.Exec(ctx, `UPDATE friend_requests SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("friendRepo.UpdateStatus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *FriendRepository) ListForUser(ctx context.Context, userID string) ([]model.FriendRequest, error) {
	defer logger.DeferLogDuration("friend.ListForUser", time.Now())()
	return r.list(ctx, "ListForUser", `fr.sender_id = $1 OR fr.receiver_id = $1`, userID)
}

func (r *FriendRepository) ListFriends(ctx context.Context, userID string) ([]model.UserPublic, error) {
	defer logger.DeferLogDuration("friend.ListFriends", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT u.id, u.name, u.email
		 FROM friend_requests fr
		 JOIN users u ON u.id = CASE WHEN fr.sender_id = $1 THEN fr.receiver_id ELSE fr.sender_id END
		 WHERE fr.status = 'ACCEPTED' AND (fr.sender_id = $1 OR fr.receiver_id = $1)
		 ORDER BY u.name`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("friendRepo.ListFriends query: %w", err)
	}
	defer rows.Close()
	out := make([]model.UserPublic, 0, 8)
	for rows.Next() {
		var u model.UserPublic
		if err := rows.Scan(&u.ID, &u.Name, &u.Email); err != nil {
			return nil, fmt.Errorf("friendRepo.ListFriends scan: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("friendRepo.ListFriends rows: %w", err)
	}
	return out, nil
}

func (r *FriendRepository) PurgeDeclined(ctx context.Context, before time.Time) (int64, error) {
	defer logger.DeferLogDuration("friend.PurgeDeclined", time.Now())()
	tag, err := r.pool.Exec(ctx, `DELETE FROM friend_requests WHERE status = 'DECLINED' AND created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("friendRepo.PurgeDeclined: %w", err)
	}
	return tag.RowsAffected(), nil
}
