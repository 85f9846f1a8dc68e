package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/metrics"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/realtime"
	"github.com/chatsync/internal/storage"
)

const (
	DefaultMessageLimit = 50
	MaxMessageLimit     = 200
	maxChatNameLength   = 64
	maxEmojiLength      = 16
)

// ChatService выполняет мутации чатов и сообщений: запись в хранилище, затем публикация события.
type ChatService struct {
	store  storage.Store
	notify notifier
	now    func() time.Time
	newID  func() string
}

func NewChatService(store storage.Store, pub realtime.Publisher) *ChatService {
	return &ChatService{
		store:  store,
		notify: notifier{pub: pub},
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.New().String() },
	}
}

func normalizeText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", invalid("text", "message text is empty")
	}
	if utf8.RuneCountInString(text) > model.MaxTextLength {
		return "", invalid("text", fmt.Sprintf("message text exceeds %d characters", model.MaxTextLength))
	}
	return text, nil
}

// requireParticipant: чата нет, ErrNotFound, пользователь не участник, ErrForbidden.
func (s *ChatService) requireParticipant(ctx context.Context, chatID, userID string) error {
	ok, err := s.store.Chats.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if _, err := s.store.Chats.GetByID(ctx, chatID); err != nil {
		return err
	}
	return ErrForbidden
}

// reloadMessage перечитывает сообщение с автором, реакциями и родителем.
// Запись уже состоялась, поэтому при ошибке чтения публикуется локальная копия.
func (s *ChatService) reloadMessage(ctx context.Context, m *model.Message) *model.Message {
	full, err := s.store.Messages.GetByID(ctx, m.ID)
	if err != nil {
		logger.Errorf("reload message %s: %v", m.ID, err)
		if m.Reactions == nil {
			m.Reactions = []model.Reaction{}
		}
		return m
	}
	return full
}

// chatMessage ищет сообщение внутри чата chatID и проверяет, что актор участник.
// Сообщение из другого чата считается отсутствующим.
func (s *ChatService) chatMessage(ctx context.Context, actorID, chatID, messageID string) (*model.Message, error) {
	m, err := s.store.Messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.ChatID != chatID {
		return nil, storage.ErrNotFound
	}
	if err := s.requireParticipant(ctx, chatID, actorID); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *ChatService) ownMessage(ctx context.Context, actorID, chatID, messageID string) (*model.Message, error) {
	m, err := s.chatMessage(ctx, actorID, chatID, messageID)
	if err != nil {
		return nil, err
	}
	if m.AuthorID != actorID {
		return nil, ErrForbidden
	}
	return m, nil
}

// SendMessage сохраняет сообщение и публикует new-message в chat-<id>.
func (s *ChatService) SendMessage(ctx context.Context, actorID, chatID, text, parentID string) (*model.Message, error) {
	defer metrics.ObserveMutation("SendMessage", time.Now())
	text, err := normalizeText(text)
	if err != nil {
		return nil, err
	}
	sctx, cancel := timeout(ctx)
	defer cancel()
	if err := s.requireParticipant(sctx, chatID, actorID); err != nil {
		return nil, err
	}

	m := &model.Message{
		ID:        s.newID(),
		ChatID:    chatID,
		AuthorID:  actorID,
		Text:      text,
		CreatedAt: s.now(),
	}
	if parentID != "" {
		parent, err := s.store.Messages.GetByID(sctx, parentID)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && parent.ChatID != chatID) {
			return nil, invalid("parent", "reply target is not in this chat")
		}
		if err != nil {
			return nil, err
		}
		m.ParentID = &parentID
	}

	if err := s.store.Messages.Create(sctx, m); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	full := s.reloadMessage(sctx, m)
	s.notify.publish(ctx, realtime.ChatChannel(chatID), realtime.EventNewMessage, realtime.MessagePayload{Message: *full})
	return full, nil
}

// EditMessage меняет текст своего сообщения и публикует edit-message.
func (s *ChatService) EditMessage(ctx context.Context, actorID, chatID, messageID, text string) (*model.Message, error) {
	defer metrics.ObserveMutation("EditMessage", time.Now())
	text, err := normalizeText(text)
	if err != nil {
		return nil, err
	}
	sctx, cancel := timeout(ctx)
	defer cancel()
	m, err := s.ownMessage(sctx, actorID, chatID, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.store.Messages.UpdateText(sctx, messageID, text, s.now()); err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}
	full := s.reloadMessage(sctx, m)
	s.notify.publish(ctx, realtime.ChatChannel(full.ChatID), realtime.EventEditMessage, realtime.MessagePayload{Message: *full})
	return full, nil
}

// UnsendMessage удаляет своё сообщение; событие несёт новое последнее сообщение чата для превью.
func (s *ChatService) UnsendMessage(ctx context.Context, actorID, chatID, messageID string) (*realtime.UnsendPayload, error) {
	defer metrics.ObserveMutation("UnsendMessage", time.Now())
	sctx, cancel := timeout(ctx)
	defer cancel()
	m, err := s.ownMessage(sctx, actorID, chatID, messageID)
	if err != nil {
		return nil, err
	}
	last, err := s.store.Messages.Delete(sctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("unsend message: %w", err)
	}
	payload := &realtime.UnsendPayload{ChatID: m.ChatID, MessageID: messageID, LastMessage: last}
	s.notify.publish(ctx, realtime.ChatChannel(m.ChatID), realtime.EventUnsendMessage, payload)
	return payload, nil
}

// ReactMessage переключает реакцию и публикует сообщение целиком со всеми реакциями.
func (s *ChatService) ReactMessage(ctx context.Context, actorID, chatID, messageID, emoji string) (*model.Message, storage.ToggleResult, error) {
	defer metrics.ObserveMutation("ReactMessage", time.Now())
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > maxEmojiLength {
		return nil, 0, invalid("emoji", "emoji is required")
	}
	sctx, cancel := timeout(ctx)
	defer cancel()
	m, err := s.chatMessage(sctx, actorID, chatID, messageID)
	if err != nil {
		return nil, 0, err
	}
	res, err := s.store.Reactions.Toggle(sctx, messageID, actorID, emoji)
	if err != nil {
		return nil, 0, fmt.Errorf("react message: %w", err)
	}
	full := s.reloadMessage(sctx, m)
	s.notify.publish(ctx, realtime.ChatChannel(m.ChatID), realtime.EventReactMessage, realtime.MessagePayload{Message: *full})
	return full, res, nil
}

// CreateChat создаёт чат из актора и участников. Для пары пользователей с уже существующим
// личным чатом возвращает его (created=false) без публикации.
func (s *ChatService) CreateChat(ctx context.Context, actorID string, participantIDs []string, name string) (*model.Chat, bool, error) {
	defer metrics.ObserveMutation("CreateChat", time.Now())
	ids := uniqueIDs(append([]string{actorID}, participantIDs...))
	if len(ids) < 2 {
		return nil, false, invalid("participants", "a chat needs at least two participants")
	}
	sctx, cancel := timeout(ctx)
	defer cancel()
	for _, id := range ids {
		if _, err := s.store.Users.GetByID(sctx, id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, false, invalid("participants", "unknown participant "+id)
			}
			return nil, false, err
		}
	}
	if len(ids) == 2 {
		existing, err := s.store.Chats.FindDirect(sctx, ids[0], ids[1])
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, false, err
		}
	}

	now := s.now()
	c := &model.Chat{
		ID:            s.newID(),
		IsGroup:       len(ids) > 2,
		CreatedAt:     now,
		LastMessageAt: now,
	}
	if c.IsGroup {
		c.Name = strings.TrimSpace(name)
		if utf8.RuneCountInString(c.Name) > maxChatNameLength {
			return nil, false, invalid("name", fmt.Sprintf("name exceeds %d characters", maxChatNameLength))
		}
	}
	if err := s.store.Chats.Create(sctx, c, ids); err != nil {
		return nil, false, fmt.Errorf("create chat: %w", err)
	}
	full, err := s.store.Chats.GetByID(sctx, c.ID)
	if err != nil {
		logger.Errorf("reload chat %s: %v", c.ID, err)
		full = c
	}
	s.notify.publishUsers(ctx, ids, realtime.EventNewChat, realtime.ChatPayload{Chat: *full})
	return full, true, nil
}

// RenameChat задаёт имя чата и публикует rename-chat.
func (s *ChatService) RenameChat(ctx context.Context, actorID, chatID, name string) error {
	defer metrics.ObserveMutation("RenameChat", time.Now())
	name = strings.TrimSpace(name)
	if name == "" {
		return invalid("name", "name is empty")
	}
	if utf8.RuneCountInString(name) > maxChatNameLength {
		return invalid("name", fmt.Sprintf("name exceeds %d characters", maxChatNameLength))
	}
	sctx, cancel := timeout(ctx)
	defer cancel()
	if err := s.requireParticipant(sctx, chatID, actorID); err != nil {
		return err
	}
	if err := s.store.Chats.Rename(sctx, chatID, name); err != nil {
		return fmt.Errorf("rename chat: %w", err)
	}
	s.notify.publish(ctx, realtime.ChatChannel(chatID), realtime.EventRenameChat, realtime.RenamePayload{ChatID: chatID, Name: name})
	return nil
}

// LeaveChat убирает актора из участников. Ушёл последний участник, чат удаляется
// и публикуется delete-chat, иначе leave-chat с оставшимися участниками.
func (s *ChatService) LeaveChat(ctx context.Context, actorID, chatID string) (deleted bool, err error) {
	defer metrics.ObserveMutation("LeaveChat", time.Now())
	sctx, cancel := timeout(ctx)
	defer cancel()
	if err := s.requireParticipant(sctx, chatID, actorID); err != nil {
		return false, err
	}
	left, err := s.store.Chats.RemoveParticipant(sctx, chatID, actorID)
	if err != nil {
		return false, fmt.Errorf("leave chat: %w", err)
	}
	if left == 0 {
		if err := s.store.Chats.Delete(sctx, chatID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return false, fmt.Errorf("leave chat delete: %w", err)
		}
		s.notify.publish(ctx, realtime.ChatChannel(chatID), realtime.EventDeleteChat, realtime.DeletePayload{ChatID: chatID})
		return true, nil
	}
	s.publishLeave(ctx, sctx, chatID, actorID)
	return false, nil
}

func (s *ChatService) publishLeave(ctx, sctx context.Context, chatID, userID string) {
	// nil уходит как null: клиенты тогда убирают только ушедшего по userId.
	var participants []model.UserPublic
	if c, err := s.store.Chats.GetByID(sctx, chatID); err == nil {
		participants = c.Participants
		if participants == nil {
			participants = []model.UserPublic{}
		}
	} else {
		logger.Errorf("reload chat %s after leave: %v", chatID, err)
	}
	s.notify.publish(ctx, realtime.ChatChannel(chatID), realtime.EventLeaveChat, realtime.LeavePayload{
		ChatID:       chatID,
		UserID:       userID,
		Participants: participants,
	})
}

// DeleteChat удаляет групповой чат целиком. Личные чаты исчезают через LeaveChat.
func (s *ChatService) DeleteChat(ctx context.Context, actorID, chatID string) error {
	defer metrics.ObserveMutation("DeleteChat", time.Now())
	sctx, cancel := timeout(ctx)
	defer cancel()
	if err := s.requireParticipant(sctx, chatID, actorID); err != nil {
		return err
	}
	c, err := s.store.Chats.GetByID(sctx, chatID)
	if err != nil {
		return err
	}
	if !c.IsGroup {
		return invalid("chat", "direct chats can only be left")
	}
	if err := s.store.Chats.Delete(sctx, chatID); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	s.notify.publish(ctx, realtime.ChatChannel(chatID), realtime.EventDeleteChat, realtime.DeletePayload{ChatID: chatID})
	return nil
}

// --- чтение ---

func (s *ChatService) ListChats(ctx context.Context, actorID string) ([]model.Chat, error) {
	sctx, cancel := timeout(ctx)
	defer cancel()
	return s.store.Chats.ListForUser(sctx, actorID)
}

func (s *ChatService) GetChat(ctx context.Context, actorID, chatID string) (*model.Chat, error) {
	sctx, cancel := timeout(ctx)
	defer cancel()
	if err := s.requireParticipant(sctx, chatID, actorID); err != nil {
		return nil, err
	}
	return s.store.Chats.GetByID(sctx, chatID)
}

// ListMessages: последние limit сообщений по возрастанию (подгрузка истории треда).
func (s *ChatService) ListMessages(ctx context.Context, actorID, chatID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	if limit > MaxMessageLimit {
		limit = MaxMessageLimit
	}
	sctx, cancel := timeout(ctx)
	defer cancel()
	if err := s.requireParticipant(sctx, chatID, actorID); err != nil {
		return nil, err
	}
	return s.store.Messages.ListByChat(sctx, chatID, limit)
}

// IsParticipant используется шлюзом для авторизации подписки на chat-<id>.
func (s *ChatService) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	return s.store.Chats.IsParticipant(ctx, chatID, userID)
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
