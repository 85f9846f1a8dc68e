package client

import (
	"strings"
	"time"

	"github.com/chatsync/internal/model"
)

// SeparatorGap: минимальный разрыв между сообщениями, после которого показывается время.
const SeparatorGap = 20 * time.Minute

// DisplayName: у группы с именем, имя; иначе имена остальных участников через ", ".
// Для личного чата это всегда имя собеседника, сохранённое имя не используется.
func DisplayName(c model.Chat, me string) string {
	if c.IsGroup && c.Name != "" {
		return c.Name
	}
	names := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p.ID != me {
			names = append(names, p.Name)
		}
	}
	return strings.Join(names, ", ")
}

// PreviewText: текст превью строки списка.
func PreviewText(c model.Chat) string {
	if m := c.Preview(); m != nil {
		return m.Text
	}
	return "Send a message"
}

// Row: сообщение с производными признаками отображения.
type Row struct {
	Message    model.Message
	Separator  bool
	ShowAuthor bool
}

// Layout вычисляет разделители времени и показ автора для треда.
func Layout(msgs []model.Message) []Row {
	rows := make([]Row, len(msgs))
	for i, m := range msgs {
		r := Row{Message: m}
		if i == 0 || m.CreatedAt.Sub(msgs[i-1].CreatedAt) >= SeparatorGap {
			r.Separator = true
		}
		r.ShowAuthor = r.Separator || msgs[i-1].AuthorID != m.AuthorID
		rows[i] = r
	}
	return rows
}

// FormatTimestamp подписывает время относительно now: сегодня "3:04 PM", вчера
// "Yesterday 3:04 PM", в пределах недели "Mon 3:04 PM", иначе полная дата.
func FormatTimestamp(t, now time.Time) string {
	t = t.In(now.Location())
	day := func(x time.Time) time.Time {
		y, m, d := x.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, x.Location())
	}
	// Округление до суток: переход на летнее время даёт 23 или 25 часов.
	days := int((day(now).Sub(day(t)).Hours() + 12) / 24)
	switch {
	case days == 0:
		return t.Format("3:04 PM")
	case days == 1:
		return "Yesterday " + t.Format("3:04 PM")
	case days > 1 && days < 7:
		return t.Format("Mon 3:04 PM")
	}
	return t.Format("Jan 2, 2006, 3:04 PM")
}
