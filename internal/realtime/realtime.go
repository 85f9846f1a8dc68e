// Package realtime defines the named channels, event names and payloads that the server
// publishes and clients reconcile, plus the publisher/listener contract of the pub/sub backend.
package realtime

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/chatsync/internal/model"
)

const (
	chatPrefix = "chat-"
	userPrefix = "user-"
)

// ChatChannel: канал событий конкретного чата.
func ChatChannel(chatID string) string { return chatPrefix + chatID }

// UserChannel: персональный канал пользователя (новые чаты, заявки в друзья).
func UserChannel(userID string) string { return userPrefix + userID }

// ParseChannel разбирает имя канала: kind "chat" или "user" и идентификатор.
func ParseChannel(name string) (kind, id string, ok bool) {
	switch {
	case strings.HasPrefix(name, chatPrefix) && len(name) > len(chatPrefix):
		return "chat", name[len(chatPrefix):], true
	case strings.HasPrefix(name, userPrefix) && len(name) > len(userPrefix):
		return "user", name[len(userPrefix):], true
	}
	return "", "", false
}

// Patterns: шаблоны подписки бэкенда на все каналы приложения.
var Patterns = []string{chatPrefix + "*", userPrefix + "*"}

const (
	EventNewMessage    = "new-message"
	EventEditMessage   = "edit-message"
	EventUnsendMessage = "unsend-message"
	EventReactMessage  = "react-message"
	EventNewChat       = "new-chat"
	EventRenameChat    = "rename-chat"
	EventLeaveChat     = "leave-chat"
	EventDeleteChat    = "delete-chat"
	EventNewRequest    = "new-request"
	EventUpdateRequest = "update-request"
)

// ChatEvents: события, на которые подписывается список чатов на канале chat-<id>.
var ChatEvents = []string{EventNewMessage, EventEditMessage, EventUnsendMessage, EventRenameChat, EventLeaveChat, EventDeleteChat}

// Envelope is one pub/sub delivery carrying the event payload as raw JSON.
type Envelope struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// NewEnvelope сериализует payload.
func NewEnvelope(channel, event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Channel: channel, Event: event, Data: data}, nil
}

// Publisher отправляет событие в канал. Порядок в пределах канала сохраняется транспортом.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload any) error
}

// Listener доставляет все события приложения в fn до отмены ctx.
type Listener interface {
	Listen(ctx context.Context, fn func(Envelope)) error
}

// --- payloads ---

type MessagePayload struct {
	Message model.Message `json:"message"`
}

type UnsendPayload struct {
	ChatID      string         `json:"chatId"`
	MessageID   string         `json:"messageId"`
	LastMessage *model.Message `json:"lastMessage"`
}

type ChatPayload struct {
	Chat model.Chat `json:"chat"`
}

type RenamePayload struct {
	ChatID string `json:"chatId"`
	Name   string `json:"name"`
}

type LeavePayload struct {
	ChatID       string             `json:"chatId"`
	UserID       string             `json:"userId"`
	Participants []model.UserPublic `json:"participants"`
}

type DeletePayload struct {
	ChatID string `json:"chatId"`
}

type RequestPayload struct {
	Request model.FriendRequest `json:"request"`
}
