package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsync/internal/storage"
)

// NewStore собирает Postgres-реализации хранилищ поверх одного пула.
func NewStore(pool *pgxpool.Pool) storage.Store {
	return storage.Store{
		Users:     NewUserRepository(pool),
		Chats:     NewChatRepository(pool),
		Messages:  NewMessageRepository(pool),
		Reactions: NewReactionRepository(pool),
		Friends:   NewFriendRepository(pool),
	}
}
