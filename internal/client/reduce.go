package client

import (
	"encoding/json"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
)

// keyedList: общий редьюсер для списков чатов, сообщений и заявок (элементы с уникальным id).
type keyedList[T any] struct {
	items []T
	key   func(*T) string
}

func newKeyedList[T any](key func(*T) string, items []T) keyedList[T] {
	return keyedList[T]{items: append([]T(nil), items...), key: key}
}

func (l *keyedList[T]) index(id string) int {
	for i := range l.items {
		if l.key(&l.items[i]) == id {
			return i
		}
	}
	return -1
}

func (l *keyedList[T]) get(id string) (T, bool) {
	if i := l.index(id); i >= 0 {
		return l.items[i], true
	}
	var zero T
	return zero, false
}

// prepend ставит элемент в начало, убирая прежнюю копию с тем же id.
func (l *keyedList[T]) prepend(item T) {
	l.remove(l.key(&item))
	l.items = append([]T{item}, l.items...)
}

// append добавляет в конец; элемент с уже известным id заменяется на месте.
func (l *keyedList[T]) append(item T) {
	if l.replace(item) {
		return
	}
	l.items = append(l.items, item)
}

func (l *keyedList[T]) replace(item T) bool {
	i := l.index(l.key(&item))
	if i < 0 {
		return false
	}
	l.items[i] = item
	return true
}

func (l *keyedList[T]) patch(id string, fn func(*T)) bool {
	i := l.index(id)
	if i < 0 {
		return false
	}
	fn(&l.items[i])
	return true
}

func (l *keyedList[T]) remove(id string) (T, bool) {
	i := l.index(id)
	if i < 0 {
		var zero T
		return zero, false
	}
	item := l.items[i]
	l.items = append(l.items[:i], l.items[i+1:]...)
	return item, true
}

func (l *keyedList[T]) reset(items []T) {
	l.items = append(l.items[:0:0], items...)
}

func (l *keyedList[T]) snapshot(clone func(T) T) []T {
	out := make([]T, len(l.items))
	for i, it := range l.items {
		out[i] = clone(it)
	}
	return out
}

func chatKey(c *model.Chat) string             { return c.ID }
func messageKey(m *model.Message) string       { return m.ID }
func requestKey(r *model.FriendRequest) string { return r.ID }

func cloneChat(c model.Chat) model.Chat                      { return c.Clone() }
func cloneMessage(m model.Message) model.Message             { return m.Clone() }
func cloneRequest(r model.FriendRequest) model.FriendRequest { return r }

// decode разбирает payload; битые данные логируются и отбрасываются.
func decode[T any](event string, data json.RawMessage) (T, bool) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		logger.Debugf("client: drop malformed %s: %v", event, err)
		return v, false
	}
	return v, true
}
