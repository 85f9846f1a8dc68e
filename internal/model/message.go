package model

import "time"

// MaxTextLength: лимит длины текста сообщения в символах.
const MaxTextLength = 2000

// Message is hydrated with its author, reactions (each with its user) and one level of parent.
// ChatID and ParentID never change after creation.
type Message struct {
	ID        string      `json:"id"`
	ChatID    string      `json:"chatId"`
	AuthorID  string      `json:"authorId"`
	Text      string      `json:"text"`
	CreatedAt time.Time   `json:"createdAt"`
	EditedAt  *time.Time  `json:"editedAt,omitempty"`
	ParentID  *string     `json:"parentId,omitempty"`
	Author    *UserPublic `json:"author,omitempty"`
	Reactions []Reaction  `json:"reactions"`
	Parent    *Message    `json:"parent,omitempty"`
}

// Reaction: одна реакция пользователя на сообщение (не более одной на пару message/user).
type Reaction struct {
	ID        string      `json:"id"`
	MessageID string      `json:"messageId"`
	UserID    string      `json:"userId"`
	Emoji     string      `json:"emoji"`
	CreatedAt time.Time   `json:"createdAt"`
	User      *UserPublic `json:"user,omitempty"`
}

func (m Message) Clone() Message {
	out := m
	if m.EditedAt != nil {
		t := *m.EditedAt
		out.EditedAt = &t
	}
	if m.ParentID != nil {
		p := *m.ParentID
		out.ParentID = &p
	}
	if m.Author != nil {
		a := *m.Author
		out.Author = &a
	}
	if m.Reactions != nil {
		out.Reactions = make([]Reaction, len(m.Reactions))
		for i, r := range m.Reactions {
			if r.User != nil {
				u := *r.User
				r.User = &u
			}
			out.Reactions[i] = r
		}
	}
	if m.Parent != nil {
		p := m.Parent.Clone()
		p.Parent = nil
		out.Parent = &p
	}
	return out
}

// ReactionOf возвращает эмодзи пользователя на сообщении или "".
func (m *Message) ReactionOf(userID string) string {
	for _, r := range m.Reactions {
		if r.UserID == userID {
			return r.Emoji
		}
	}
	return ""
}
