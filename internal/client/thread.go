package client

import (
	"encoding/json"
	"sync"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/realtime"
)

var threadEvents = []string{
	realtime.EventNewMessage,
	realtime.EventEditMessage,
	realtime.EventReactMessage,
	realtime.EventUnsendMessage,
}

// Thread: сообщения одного открытого чата по возрастанию createdAt.
type Thread struct {
	mu       sync.Mutex
	ch       *Channels
	chatID   string
	msgs     keyedList[model.Message]
	onChange func([]model.Message)
}

func NewThread(ch *Channels) *Thread {
	return &Thread{ch: ch, msgs: newKeyedList[model.Message](messageKey, nil)}
}

// Open переключает тред на chatID: снимает подписку прежнего чата, загружает backfill
// и подписывается на канал нового.
func (t *Thread) Open(chatID string, backfill []model.Message) error {
	if err := t.Close(); err != nil {
		return err
	}
	t.mu.Lock()
	t.chatID = chatID
	t.msgs.reset(nil)
	for _, m := range backfill {
		t.msgs.append(m.Clone())
	}
	t.mu.Unlock()

	channel := realtime.ChatChannel(chatID)
	for _, event := range threadEvents {
		event := event
		if err := t.ch.Subscribe(channel, event, func(data json.RawMessage) { t.apply(chatID, event, data) }); err != nil {
			return err
		}
	}
	t.changed()
	return nil
}

// Close отписывает канал текущего чата.
func (t *Thread) Close() error {
	t.mu.Lock()
	prev := t.chatID
	t.chatID = ""
	t.mu.Unlock()
	if prev == "" {
		return nil
	}
	return t.ch.Unsubscribe(realtime.ChatChannel(prev), threadEvents...)
}

func (t *Thread) ChatID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chatID
}

func (t *Thread) Messages() []model.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.msgs.snapshot(cloneMessage)
}

func (t *Thread) OnChange(fn func([]model.Message)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

func (t *Thread) apply(chatID, event string, data json.RawMessage) {
	t.mu.Lock()
	// Событие для уже закрытого чата.
	if t.chatID != chatID {
		t.mu.Unlock()
		return
	}
	applied := false
	switch event {
	case realtime.EventNewMessage:
		if p, ok := decode[realtime.MessagePayload](event, data); ok && p.Message.ChatID == chatID {
			t.msgs.append(p.Message.Clone())
			applied = true
		}
	case realtime.EventEditMessage, realtime.EventReactMessage:
		if p, ok := decode[realtime.MessagePayload](event, data); ok {
			applied = t.msgs.replace(p.Message.Clone())
		}
	case realtime.EventUnsendMessage:
		if p, ok := decode[realtime.UnsendPayload](event, data); ok {
			_, applied = t.msgs.remove(p.MessageID)
		}
	}
	t.mu.Unlock()
	if applied {
		t.changed()
	}
}

func (t *Thread) changed() {
	t.mu.Lock()
	fn := t.onChange
	var snap []model.Message
	if fn != nil {
		snap = t.msgs.snapshot(cloneMessage)
	}
	t.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}
