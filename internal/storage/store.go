// Package storage описывает контракт хранилища чата.
// Реализации: repository (Postgres через pgx) и memory (для тестов и -dev без БД).
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatsync/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// ConflictError: нарушение уникальности; Field называет поле ("email", "name", "request").
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string { return fmt.Sprintf("conflict on %s", e.Field) }

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// ToggleResult: исход переключения реакции.
type ToggleResult int

const (
	ReactionAdded ToggleResult = iota + 1
	ReactionRemoved
	ReactionReplaced
)

func (r ToggleResult) String() string {
	switch r {
	case ReactionAdded:
		return "added"
	case ReactionRemoved:
		return "removed"
	case ReactionReplaced:
		return "replaced"
	}
	return "unknown"
}

type UserStore interface {
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// Delete удаляет пользователя вместе с его сообщениями, реакциями, заявками и участием в чатах.
	Delete(ctx context.Context, id string) error
}

type ChatStore interface {
	// Create сохраняет чат и участников в одной транзакции.
	Create(ctx context.Context, c *model.Chat, participantIDs []string) error
	// GetByID возвращает чат с участниками и превью последнего сообщения.
	GetByID(ctx context.Context, id string) (*model.Chat, error)
	// ListForUser: чаты пользователя, отсортированные по lastMessageAt по убыванию.
	ListForUser(ctx context.Context, userID string) ([]model.Chat, error)
	// FindDirect ищет не-групповой чат, в котором состоят оба пользователя.
	FindDirect(ctx context.Context, userA, userB string) (*model.Chat, error)
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
	Rename(ctx context.Context, chatID, name string) error
	// RemoveParticipant возвращает число оставшихся участников.
	RemoveParticipant(ctx context.Context, chatID, userID string) (int, error)
	Delete(ctx context.Context, chatID string) error
}

type MessageStore interface {
	// Create вставляет сообщение и сдвигает lastMessageAt чата в одной транзакции.
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	// ListByChat возвращает последние limit сообщений по возрастанию createdAt.
	ListByChat(ctx context.Context, chatID string, limit int) ([]model.Message, error)
	UpdateText(ctx context.Context, id, text string, editedAt time.Time) error
	// Delete удаляет сообщение, пересчитывает lastMessageAt и возвращает новое последнее сообщение (или nil).
	Delete(ctx context.Context, id string) (*model.Message, error)
}

type ReactionStore interface {
	// Toggle: нет реакции, добавить; тот же эмодзи, снять; другой, заменить.
	Toggle(ctx context.Context, messageID, userID, emoji string) (ToggleResult, error)
}

type FriendStore interface {
	Create(ctx context.Context, r *model.FriendRequest) error
	GetByID(ctx context.Context, id string) (*model.FriendRequest, error)
	// Between возвращает все заявки между двумя пользователями в любом направлении.
	Between(ctx context.Context, userA, userB string) ([]model.FriendRequest, error)
	UpdateStatus(ctx context.Context, id string, status model.RequestStatus) error
	// ListForUser: входящие и исходящие заявки, новые первыми.
	ListForUser(ctx context.Context, userID string) ([]model.FriendRequest, error)
	// ListFriends: пользователи, с которыми есть принятая заявка.
	ListFriends(ctx context.Context, userID string) ([]model.UserPublic, error)
	// PurgeDeclined удаляет отклонённые заявки старше before.
	PurgeDeclined(ctx context.Context, before time.Time) (int64, error)
}

// Store объединяет хранилища для сервисного слоя.
type Store struct {
	Users     UserStore
	Chats     ChatStore
	Messages  MessageStore
	Reactions ReactionStore
	Friends   FriendStore
}
