package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/metrics"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/realtime"
	"github.com/chatsync/internal/storage"
)

// FriendService: заявки в друзья. Принятие заявки открывает личный чат через ChatService.
type FriendService struct {
	store  storage.Store
	chats  *ChatService
	notify notifier
	now    func() time.Time
	newID  func() string
}

func NewFriendService(store storage.Store, pub realtime.Publisher, chats *ChatService) *FriendService {
	return &FriendService{
		store:  store,
		chats:  chats,
		notify: notifier{pub: pub},
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.New().String() },
	}
}

// SendRequest создаёт PENDING-заявку получателю с указанным email и публикует
// new-request в каналы обоих пользователей.
func (s *FriendService) SendRequest(ctx context.Context, actorID, email string) (*model.FriendRequest, error) {
	defer metrics.ObserveMutation("SendRequest", time.Now())
	email = normalizeEmail(email)
	if email == "" {
		return nil, invalid("email", "email is required")
	}
	sctx, cancel := timeout(ctx)
	defer cancel()

	sender, err := s.store.Users.GetByID(sctx, actorID)
	if err != nil {
		return nil, err
	}
	if sender.Email == email {
		return nil, invalid("self", "enter a different email")
	}
	receiver, err := s.store.Users.GetByEmail(sctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, invalid("email", "no user with that email exists")
	}
	if err != nil {
		return nil, err
	}

	existing, err := s.store.Friends.Between(sctx, sender.ID, receiver.ID)
	if err != nil {
		return nil, err
	}
	for _, r := range existing {
		switch r.Status {
		case model.RequestPending:
			return nil, invalid("pending", "a request is already pending")
		case model.RequestAccepted:
			return nil, invalid("friends", "you are already friends")
		}
	}

	r := &model.FriendRequest{
		ID:         s.newID(),
		SenderID:   sender.ID,
		ReceiverID: receiver.ID,
		Status:     model.RequestPending,
		CreatedAt:  s.now(),
	}
	if err := s.store.Friends.Create(sctx, r); err != nil {
		// Параллельная заявка успела раньше.
		if errors.Is(err, storage.ErrConflict) {
			return nil, invalid("pending", "a request is already pending")
		}
		return nil, fmt.Errorf("send request: %w", err)
	}
	full := s.reload(sctx, r)
	s.notify.publishUsers(ctx, []string{r.SenderID, r.ReceiverID}, realtime.EventNewRequest, realtime.RequestPayload{Request: *full})
	return full, nil
}

// AcceptRequest: только получатель и только из PENDING. После смены статуса
// создаётся (или находится) личный чат отправителя и получателя; если чат открыть
// не удалось, статус возвращается в PENDING и ничего не публикуется.
func (s *FriendService) AcceptRequest(ctx context.Context, actorID, requestID string) (*model.FriendRequest, *model.Chat, error) {
	defer metrics.ObserveMutation("AcceptRequest", time.Now())
	r, err := s.transition(ctx, actorID, requestID, model.RequestAccepted)
	if err != nil {
		return nil, nil, err
	}
	chat, _, err := s.chats.CreateChat(ctx, r.ReceiverID, []string{r.SenderID}, "")
	if err != nil {
		s.revert(ctx, r.ID)
		return nil, nil, fmt.Errorf("open chat for request %s: %w", r.ID, err)
	}
	s.publishUpdate(ctx, r)
	return r, chat, nil
}

// RejectRequest переводит заявку в DECLINED.
func (s *FriendService) RejectRequest(ctx context.Context, actorID, requestID string) (*model.FriendRequest, error) {
	defer metrics.ObserveMutation("RejectRequest", time.Now())
	r, err := s.transition(ctx, actorID, requestID, model.RequestDeclined)
	if err != nil {
		return nil, err
	}
	s.publishUpdate(ctx, r)
	return r, nil
}

// transition меняет статус; публикует вызывающий.
func (s *FriendService) transition(ctx context.Context, actorID, requestID string, to model.RequestStatus) (*model.FriendRequest, error) {
	sctx, cancel := timeout(ctx)
	defer cancel()
	r, err := s.store.Friends.GetByID(sctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.ReceiverID != actorID {
		if r.SenderID == actorID {
			return nil, ErrForbidden
		}
		return nil, storage.ErrNotFound
	}
	if r.Status != model.RequestPending {
		return nil, invalid("status", "request is no longer pending")
	}
	if err := s.store.Friends.UpdateStatus(sctx, requestID, to); err != nil {
		return nil, fmt.Errorf("update request: %w", err)
	}
	r.Status = to
	return s.reload(sctx, r), nil
}

// revert возвращает заявку в PENDING, даже если запрос уже отменён.
func (s *FriendService) revert(ctx context.Context, requestID string) {
	sctx, cancel := timeout(context.WithoutCancel(ctx))
	defer cancel()
	if err := s.store.Friends.UpdateStatus(sctx, requestID, model.RequestPending); err != nil {
		logger.Errorf("revert request %s to pending: %v", requestID, err)
	}
}

func (s *FriendService) publishUpdate(ctx context.Context, r *model.FriendRequest) {
	s.notify.publishUsers(ctx, []string{r.SenderID, r.ReceiverID}, realtime.EventUpdateRequest, realtime.RequestPayload{Request: *r})
}

func (s *FriendService) reload(ctx context.Context, r *model.FriendRequest) *model.FriendRequest {
	full, err := s.store.Friends.GetByID(ctx, r.ID)
	if err != nil {
		logger.Errorf("reload request %s: %v", r.ID, err)
		return r
	}
	return full
}

// ListRequests: входящие и исходящие заявки пользователя, новые первыми.
func (s *FriendService) ListRequests(ctx context.Context, actorID string) ([]model.FriendRequest, error) {
	sctx, cancel := timeout(ctx)
	defer cancel()
	return s.store.Friends.ListForUser(sctx, actorID)
}

func (s *FriendService) ListFriends(ctx context.Context, actorID string) ([]model.UserPublic, error) {
	sctx, cancel := timeout(ctx)
	defer cancel()
	return s.store.Friends.ListFriends(sctx, actorID)
}

// PurgeDeclined удаляет отклонённые заявки старше olderThan. Вызывается планировщиком retention.
func (s *FriendService) PurgeDeclined(ctx context.Context, olderThan time.Duration) (int64, error) {
	sctx, cancel := timeout(ctx)
	defer cancel()
	return s.store.Friends.PurgeDeclined(sctx, s.now().Add(-olderThan))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
