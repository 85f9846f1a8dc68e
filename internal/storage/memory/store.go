// Package memory хранит данные чата в памяти процесса с теми же гарантиями, что и Postgres-схема:
// уникальность email/name, одна реакция на пару message/user, одна PENDING-заявка на пару пользователей,
// каскадное удаление. Используется в тестах и в режиме без БД.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
)

type chatRow struct {
	id            string
	name          string
	isGroup       bool
	createdAt     time.Time
	lastMessageAt time.Time
	participants  []string
}

type messageRow struct {
	seq       int64
	id        string
	chatID    string
	authorID  string
	text      string
	createdAt time.Time
	editedAt  *time.Time
	parentID  *string
}

type reactionRow struct {
	id        string
	emoji     string
	createdAt time.Time
}

// DB: общее состояние; Store() раздаёт реализации интерфейсов storage поверх него.
type DB struct {
	mu        sync.RWMutex
	seq       int64
	users     map[string]*model.User
	chats     map[string]*chatRow
	messages  map[string]*messageRow
	reactions map[string]map[string]*reactionRow // messageID -> userID -> reaction
	requests  map[string]*model.FriendRequest

	newID func() string
	now   func() time.Time
}

// New создаёт пустую базу. newID генерирует идентификаторы реакций.
func New(newID func() string) *DB {
	return &DB{
		users:     make(map[string]*model.User),
		chats:     make(map[string]*chatRow),
		messages:  make(map[string]*messageRow),
		reactions: make(map[string]map[string]*reactionRow),
		requests:  make(map[string]*model.FriendRequest),
		newID:     newID,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (db *DB) Store() storage.Store {
	return storage.Store{
		Users:     &Users{db: db},
		Chats:     &Chats{db: db},
		Messages:  &Messages{db: db},
		Reactions: &Reactions{db: db},
		Friends:   &Friends{db: db},
	}
}

// --- гидратация (вызывается под db.mu) ---

func (db *DB) public(userID string) *model.UserPublic {
	u, ok := db.users[userID]
	if !ok {
		return nil
	}
	p := u.ToPublic()
	return &p
}

func (db *DB) hydrate(row *messageRow, withParent bool) model.Message {
	m := model.Message{
		ID:        row.id,
		ChatID:    row.chatID,
		AuthorID:  row.authorID,
		Text:      row.text,
		CreatedAt: row.createdAt,
		Author:    db.public(row.authorID),
		Reactions: db.reactionsOf(row.id),
	}
	if row.editedAt != nil {
		t := *row.editedAt
		m.EditedAt = &t
	}
	if row.parentID != nil {
		pid := *row.parentID
		m.ParentID = &pid
		if withParent {
			if prow, ok := db.messages[pid]; ok {
				p := db.hydrate(prow, false)
				m.Parent = &p
			}
		}
	}
	return m
}

func (db *DB) reactionsOf(messageID string) []model.Reaction {
	byUser := db.reactions[messageID]
	out := make([]model.Reaction, 0, len(byUser))
	for userID, r := range byUser {
		out = append(out, model.Reaction{
			ID:        r.id,
			MessageID: messageID,
			UserID:    userID,
			Emoji:     r.emoji,
			CreatedAt: r.createdAt,
			User:      db.public(userID),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// chatMessages: сообщения чата по возрастанию (createdAt, порядок вставки).
func (db *DB) chatMessages(chatID string) []*messageRow {
	var rows []*messageRow
	for _, m := range db.messages {
		if m.chatID == chatID {
			rows = append(rows, m)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].createdAt.Equal(rows[j].createdAt) {
			return rows[i].seq < rows[j].seq
		}
		return rows[i].createdAt.Before(rows[j].createdAt)
	})
	return rows
}

func (db *DB) chat(row *chatRow) model.Chat {
	c := model.Chat{
		ID:            row.id,
		Name:          row.name,
		IsGroup:       row.isGroup,
		CreatedAt:     row.createdAt,
		LastMessageAt: row.lastMessageAt,
		Participants:  make([]model.UserPublic, 0, len(row.participants)),
		Messages:      []model.Message{},
	}
	for _, id := range row.participants {
		if p := db.public(id); p != nil {
			c.Participants = append(c.Participants, *p)
		}
	}
	if msgs := db.chatMessages(row.id); len(msgs) > 0 {
		c.Messages = append(c.Messages, db.hydrate(msgs[len(msgs)-1], false))
	}
	return c
}

func (db *DB) request(r *model.FriendRequest) model.FriendRequest {
	out := *r
	out.Sender = db.public(r.SenderID)
	out.Receiver = db.public(r.ReceiverID)
	return out
}

// recomputeLastMessageAt: lastMessageAt = createdAt последнего сообщения или чата.
func (db *DB) recomputeLastMessageAt(chatID string) *messageRow {
	row, ok := db.chats[chatID]
	if !ok {
		return nil
	}
	msgs := db.chatMessages(chatID)
	if len(msgs) == 0 {
		row.lastMessageAt = row.createdAt
		return nil
	}
	last := msgs[len(msgs)-1]
	row.lastMessageAt = last.createdAt
	return last
}

func (db *DB) deleteMessage(id string) {
	delete(db.messages, id)
	delete(db.reactions, id)
	for _, m := range db.messages {
		if m.parentID != nil && *m.parentID == id {
			m.parentID = nil
		}
	}
}

func (db *DB) deleteChat(id string) {
	for _, m := range db.chatMessages(id) {
		db.deleteMessage(m.id)
	}
	delete(db.chats, id)
}

// --- Users ---

type Users struct{ db *DB }

func (s *Users) Create(ctx context.Context, u *model.User) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, other := range s.db.users {
		if other.Email == u.Email {
			return &storage.ConflictError{Field: "email"}
		}
		if other.Name == u.Name {
			return &storage.ConflictError{Field: "name"}
		}
	}
	cp := *u
	s.db.users[u.ID] = &cp
	return nil
}

func (s *Users) GetByID(ctx context.Context, id string) (*model.User, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	u, ok := s.db.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Users) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	for _, u := range s.db.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Users) Delete(ctx context.Context, id string) error {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.users[id]; !ok {
		return storage.ErrNotFound
	}
	for _, m := range db.messages {
		if m.authorID == id {
			db.deleteMessage(m.id)
		}
	}
	for _, byUser := range db.reactions {
		delete(byUser, id)
	}
	for rid, r := range db.requests {
		if r.Involves(id) {
			delete(db.requests, rid)
		}
	}
	for _, c := range db.chats {
		c.participants = without(c.participants, id)
	}
	delete(db.users, id)
	return nil
}

// --- Chats ---

type Chats struct{ db *DB }

func (s *Chats) Create(ctx context.Context, c *model.Chat, participantIDs []string) error {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.chats[c.ID]; ok {
		return &storage.ConflictError{Field: "id"}
	}
	for _, id := range participantIDs {
		if _, ok := db.users[id]; !ok {
			return storage.ErrNotFound
		}
	}
	db.chats[c.ID] = &chatRow{
		id:            c.ID,
		name:          c.Name,
		isGroup:       c.IsGroup,
		createdAt:     c.CreatedAt,
		lastMessageAt: c.LastMessageAt,
		participants:  append([]string(nil), participantIDs...),
	}
	return nil
}

func (s *Chats) GetByID(ctx context.Context, id string) (*model.Chat, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	row, ok := s.db.chats[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := s.db.chat(row)
	return &c, nil
}

func (s *Chats) ListForUser(ctx context.Context, userID string) ([]model.Chat, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	out := make([]model.Chat, 0, 16)
	for _, row := range s.db.chats {
		if contains(row.participants, userID) {
			out = append(out, s.db.chat(row))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out, nil
}

func (s *Chats) FindDirect(ctx context.Context, userA, userB string) (*model.Chat, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	for _, row := range s.db.chats {
		if !row.isGroup && len(row.participants) == 2 && contains(row.participants, userA) && contains(row.participants, userB) {
			c := s.db.chat(row)
			return &c, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Chats) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	row, ok := s.db.chats[chatID]
	if !ok {
		return false, nil
	}
	return contains(row.participants, userID), nil
}

func (s *Chats) Rename(ctx context.Context, chatID, name string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	row, ok := s.db.chats[chatID]
	if !ok {
		return storage.ErrNotFound
	}
	row.name = name
	return nil
}

func (s *Chats) RemoveParticipant(ctx context.Context, chatID, userID string) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	row, ok := s.db.chats[chatID]
	if !ok || !contains(row.participants, userID) {
		return 0, storage.ErrNotFound
	}
	row.participants = without(row.participants, userID)
	return len(row.participants), nil
}

func (s *Chats) Delete(ctx context.Context, chatID string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.chats[chatID]; !ok {
		return storage.ErrNotFound
	}
	s.db.deleteChat(chatID)
	return nil
}

// --- Messages ---

type Messages struct{ db *DB }

func (s *Messages) Create(ctx context.Context, m *model.Message) error {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	chat, ok := db.chats[m.ChatID]
	if !ok {
		return storage.ErrNotFound
	}
	if _, ok := db.users[m.AuthorID]; !ok {
		return storage.ErrNotFound
	}
	if m.ParentID != nil {
		if _, ok := db.messages[*m.ParentID]; !ok {
			return storage.ErrNotFound
		}
	}
	db.seq++
	row := &messageRow{
		seq:       db.seq,
		id:        m.ID,
		chatID:    m.ChatID,
		authorID:  m.AuthorID,
		text:      m.Text,
		createdAt: m.CreatedAt,
	}
	if m.ParentID != nil {
		pid := *m.ParentID
		row.parentID = &pid
	}
	db.messages[m.ID] = row
	if m.CreatedAt.After(chat.lastMessageAt) {
		chat.lastMessageAt = m.CreatedAt
	}
	return nil
}

func (s *Messages) GetByID(ctx context.Context, id string) (*model.Message, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	row, ok := s.db.messages[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	m := s.db.hydrate(row, true)
	return &m, nil
}

func (s *Messages) ListByChat(ctx context.Context, chatID string, limit int) ([]model.Message, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	rows := s.db.chatMessages(chatID)
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	out := make([]model.Message, 0, len(rows))
	for _, row := range rows {
		out = append(out, s.db.hydrate(row, true))
	}
	return out, nil
}

func (s *Messages) UpdateText(ctx context.Context, id, text string, editedAt time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	row, ok := s.db.messages[id]
	if !ok {
		return storage.ErrNotFound
	}
	row.text = text
	row.editedAt = &editedAt
	return nil
}

func (s *Messages) Delete(ctx context.Context, id string) (*model.Message, error) {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	row, ok := db.messages[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	db.deleteMessage(id)
	last := db.recomputeLastMessageAt(row.chatID)
	if last == nil {
		return nil, nil
	}
	m := db.hydrate(last, true)
	return &m, nil
}

// --- Reactions ---

type Reactions struct{ db *DB }

func (s *Reactions) Toggle(ctx context.Context, messageID, userID, emoji string) (storage.ToggleResult, error) {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.messages[messageID]; !ok {
		return 0, storage.ErrNotFound
	}
	byUser, ok := db.reactions[messageID]
	if !ok {
		byUser = make(map[string]*reactionRow)
		db.reactions[messageID] = byUser
	}
	existing, ok := byUser[userID]
	switch {
	case !ok:
		byUser[userID] = &reactionRow{id: db.newID(), emoji: emoji, createdAt: db.now()}
		return storage.ReactionAdded, nil
	case existing.emoji == emoji:
		delete(byUser, userID)
		return storage.ReactionRemoved, nil
	default:
		existing.emoji = emoji
		return storage.ReactionReplaced, nil
	}
}

// --- Friends ---

type Friends struct{ db *DB }

func (s *Friends) Create(ctx context.Context, r *model.FriendRequest) error {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.users[r.SenderID]; !ok {
		return storage.ErrNotFound
	}
	if _, ok := db.users[r.ReceiverID]; !ok {
		return storage.ErrNotFound
	}
	if r.Status == model.RequestPending {
		for _, other := range db.requests {
			if other.Status == model.RequestPending && samePair(other, r.SenderID, r.ReceiverID) {
				return &storage.ConflictError{Field: "request"}
			}
		}
	}
	cp := *r
	cp.Sender, cp.Receiver = nil, nil
	db.requests[r.ID] = &cp
	return nil
}

func (s *Friends) GetByID(ctx context.Context, id string) (*model.FriendRequest, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	r, ok := s.db.requests[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := s.db.request(r)
	return &out, nil
}

func (s *Friends) Between(ctx context.Context, userA, userB string) ([]model.FriendRequest, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []model.FriendRequest
	for _, r := range s.db.requests {
		if samePair(r, userA, userB) {
			out = append(out, s.db.request(r))
		}
	}
	sortRequests(out)
	return out, nil
}

func (s *Friends) UpdateStatus(ctx context.Context, id string, status model.RequestStatus) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.requests[id]
	if !ok {
		return storage.ErrNotFound
	}
	r.Status = status
	return nil
}

func (s *Friends) ListForUser(ctx context.Context, userID string) ([]model.FriendRequest, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	out := make([]model.FriendRequest, 0, 8)
	for _, r := range s.db.requests {
		if r.Involves(userID) {
			out = append(out, s.db.request(r))
		}
	}
	sortRequests(out)
	return out, nil
}

func (s *Friends) ListFriends(ctx context.Context, userID string) ([]model.UserPublic, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	seen := make(map[string]struct{})
	out := make([]model.UserPublic, 0, 8)
	for _, r := range s.db.requests {
		if r.Status != model.RequestAccepted || !r.Involves(userID) {
			continue
		}
		other := r.SenderID
		if other == userID {
			other = r.ReceiverID
		}
		if _, ok := seen[other]; ok {
			continue
		}
		seen[other] = struct{}{}
		if p := s.db.public(other); p != nil {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Friends) PurgeDeclined(ctx context.Context, before time.Time) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var n int64
	for id, r := range s.db.requests {
		if r.Status == model.RequestDeclined && r.CreatedAt.Before(before) {
			delete(s.db.requests, id)
			n++
		}
	}
	return n, nil
}

func samePair(r *model.FriendRequest, a, b string) bool {
	return (r.SenderID == a && r.ReceiverID == b) || (r.SenderID == b && r.ReceiverID == a)
}

func sortRequests(rs []model.FriendRequest) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].ID > rs[j].ID
		}
		return rs[i].CreatedAt.After(rs[j].CreatedAt)
	})
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
