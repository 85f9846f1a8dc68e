package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/chatsync/internal/auth"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/metrics"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/realtime"
	"github.com/chatsync/internal/storage"
)

const (
	minPasswordLength = 6
	maxNameLength     = 32
)

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Session возвращается при входе: пользователь и подписанный токен.
type Session struct {
	User      model.UserPublic `json:"user"`
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expiresAt"`
}

type AuthService struct {
	store  storage.Store
	tokens *auth.Tokens
	notify notifier
	now    func() time.Time
	newID  func() string
}

func NewAuthService(store storage.Store, tokens *auth.Tokens, pub realtime.Publisher) *AuthService {
	return &AuthService{
		store:  store,
		tokens: tokens,
		notify: notifier{pub: pub},
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.New().String() },
	}
}

// SignUp регистрирует пользователя. Занятые email/имя возвращаются как ValidationError по полю.
func (s *AuthService) SignUp(ctx context.Context, name, email, password string) (*Session, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)
	switch {
	case name == "":
		return nil, invalid("name", "name is required")
	case utf8.RuneCountInString(name) > maxNameLength:
		return nil, invalid("name", fmt.Sprintf("name exceeds %d characters", maxNameLength))
	case !emailRe.MatchString(email):
		return nil, invalid("email", "invalid email format")
	case utf8.RuneCountInString(password) < minPasswordLength:
		return nil, invalid("password", fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &model.User{
		ID:           s.newID(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.now(),
	}
	sctx, cancel := timeout(ctx)
	defer cancel()
	if err := s.store.Users.Create(sctx, u); err != nil {
		var ce *storage.ConflictError
		if errors.As(err, &ce) {
			return nil, invalid(ce.Field, ce.Field+" is already taken")
		}
		return nil, fmt.Errorf("sign up: %w", err)
	}
	logger.Infof("user signed up id=%s", u.ID)
	return s.issue(u)
}

// Login проверяет email и пароль. Неизвестный email и неверный пароль различаются по полю ошибки.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, invalid("email", "email is required")
	}
	sctx, cancel := timeout(ctx)
	defer cancel()
	u, err := s.store.Users.GetByEmail(sctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, invalid("email", "no account with that email")
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return nil, invalid("password", "wrong password")
	}
	return s.issue(u)
}

func (s *AuthService) issue(u *model.User) (*Session, error) {
	token, exp, err := s.tokens.Issue(u.ID)
	if err != nil {
		return nil, err
	}
	return &Session{User: u.ToPublic(), Token: token, ExpiresAt: exp}, nil
}

// Authenticate проверяет токен и что пользователь всё ещё существует.
func (s *AuthService) Authenticate(ctx context.Context, token string) (string, error) {
	id, err := s.tokens.Verify(token)
	if err != nil {
		return "", err
	}
	sctx, cancel := timeout(ctx)
	defer cancel()
	if _, err := s.store.Users.GetByID(sctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", auth.ErrInvalidToken
		}
		return "", err
	}
	return id, nil
}

func (s *AuthService) Me(ctx context.Context, actorID string) (*model.UserPublic, error) {
	sctx, cancel := timeout(ctx)
	defer cancel()
	u, err := s.store.Users.GetByID(sctx, actorID)
	if err != nil {
		return nil, err
	}
	pub := u.ToPublic()
	return &pub, nil
}

// DeleteAccount удаляет пользователя каскадом. Оставшимся участникам его чатов уходит
// leave-chat; опустевшие чаты удаляются с delete-chat.
func (s *AuthService) DeleteAccount(ctx context.Context, actorID string) error {
	defer metrics.ObserveMutation("DeleteAccount", time.Now())
	sctx, cancel := timeout(ctx)
	defer cancel()
	chats, err := s.store.Chats.ListForUser(sctx, actorID)
	if err != nil {
		return err
	}
	if err := s.store.Users.Delete(sctx, actorID); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	logger.Infof("user deleted id=%s chats=%d", actorID, len(chats))

	for _, c := range chats {
		after, err := s.store.Chats.GetByID(sctx, c.ID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			logger.Errorf("reload chat %s after account delete: %v", c.ID, err)
			continue
		}
		if len(after.Participants) == 0 {
			if err := s.store.Chats.Delete(sctx, c.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				logger.Errorf("delete empty chat %s: %v", c.ID, err)
				continue
			}
			s.notify.publish(ctx, realtime.ChatChannel(c.ID), realtime.EventDeleteChat, realtime.DeletePayload{ChatID: c.ID})
			continue
		}
		s.notify.publish(ctx, realtime.ChatChannel(c.ID), realtime.EventLeaveChat, realtime.LeavePayload{
			ChatID:       c.ID,
			UserID:       actorID,
			Participants: after.Participants,
		})
	}
	return nil
}
