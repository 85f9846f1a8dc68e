package model

import "time"

// Chat: разговор между участниками. Участники и превью последнего сообщения
// загружаются вместе с чатом; Messages содержит не более одного элемента.
type Chat struct {
	ID            string       `json:"id"`
	Name          string       `json:"name,omitempty"`
	IsGroup       bool         `json:"isGroup"`
	CreatedAt     time.Time    `json:"createdAt"`
	LastMessageAt time.Time    `json:"lastMessageAt"`
	Participants  []UserPublic `json:"participants"`
	Messages      []Message    `json:"messages"`
}

// HasParticipant сообщает, состоит ли пользователь в чате.
func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// Preview возвращает последнее сообщение чата или nil.
func (c *Chat) Preview() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[0]
}

// Clone делает глубокую копию, чтобы снимки состояния не делили срезы.
func (c Chat) Clone() Chat {
	out := c
	out.Participants = append([]UserPublic(nil), c.Participants...)
	if c.Messages != nil {
		out.Messages = make([]Message, len(c.Messages))
		for i := range c.Messages {
			out.Messages[i] = c.Messages[i].Clone()
		}
	}
	return out
}
