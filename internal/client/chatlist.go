package client

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/realtime"
)

// Navigator вызывается с "" при уходе из открытого чата в корень списка.
type Navigator func(chatID string)

// ChatList: список чатов пользователя по lastMessageAt (новые сверху), собираемый из событий.
type ChatList struct {
	mu       sync.Mutex
	me       string
	ch       *Channels
	nav      Navigator
	chats    keyedList[model.Chat]
	open     string
	onChange func([]model.Chat)
	started  bool
}

func NewChatList(me string, ch *Channels, nav Navigator, initial []model.Chat) *ChatList {
	return &ChatList{
		me:    me,
		ch:    ch,
		nav:   nav,
		chats: newKeyedList(chatKey, sortChats(initial)),
	}
}

func sortChats(chats []model.Chat) []model.Chat {
	out := make([]model.Chat, len(chats))
	for i := range chats {
		out[i] = chats[i].Clone()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	return out
}

// Start подписывается на личный канал и каналы всех чатов списка.
func (l *ChatList) Start() error {
	l.mu.Lock()
	l.started = true
	ids := make([]string, 0, len(l.chats.items))
	for _, c := range l.chats.items {
		ids = append(ids, c.ID)
	}
	l.mu.Unlock()

	if err := l.ch.Subscribe(realtime.UserChannel(l.me), realtime.EventNewChat, l.onNewChat); err != nil {
		return err
	}
	var errs []error
	for _, id := range ids {
		errs = append(errs, l.attach(id))
	}
	return errors.Join(errs...)
}

// Stop снимает все подписки списка.
func (l *ChatList) Stop() error {
	l.mu.Lock()
	l.started = false
	ids := make([]string, 0, len(l.chats.items))
	for _, c := range l.chats.items {
		ids = append(ids, c.ID)
	}
	l.mu.Unlock()

	errs := []error{l.ch.Unsubscribe(realtime.UserChannel(l.me), realtime.EventNewChat)}
	for _, id := range ids {
		errs = append(errs, l.ch.Unsubscribe(realtime.ChatChannel(id)))
	}
	return errors.Join(errs...)
}

func (l *ChatList) attach(chatID string) error {
	channel := realtime.ChatChannel(chatID)
	handlers := map[string]Handler{
		realtime.EventNewMessage:    l.onNewMessage,
		realtime.EventEditMessage:   l.onEditMessage,
		realtime.EventUnsendMessage: l.onUnsend,
		realtime.EventRenameChat:    l.onRename,
		realtime.EventLeaveChat:     l.onLeave,
		realtime.EventDeleteChat:    l.onDelete,
	}
	for _, event := range realtime.ChatEvents {
		if err := l.ch.Subscribe(channel, event, handlers[event]); err != nil {
			return err
		}
	}
	return nil
}

// SetOpen запоминает открытый сейчас чат ("", никакой).
func (l *ChatList) SetOpen(chatID string) {
	l.mu.Lock()
	l.open = chatID
	l.mu.Unlock()
}

func (l *ChatList) Open() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

// Snapshot возвращает копию списка.
func (l *ChatList) Snapshot() []model.Chat {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chats.snapshot(cloneChat)
}

// OnChange регистрирует колбэк, вызываемый после каждого применённого события.
func (l *ChatList) OnChange(fn func([]model.Chat)) {
	l.mu.Lock()
	l.onChange = fn
	l.mu.Unlock()
}

// Reset заменяет список свежей выборкой из хранилища и выравнивает подписки:
// исчезнувшие чаты отписываются, новые подписываются.
func (l *ChatList) Reset(chats []model.Chat) error {
	next := sortChats(chats)
	l.mu.Lock()
	keep := make(map[string]struct{}, len(next))
	for _, c := range next {
		keep[c.ID] = struct{}{}
	}
	var gone, added []string
	for _, c := range l.chats.items {
		if _, ok := keep[c.ID]; !ok {
			gone = append(gone, c.ID)
		}
	}
	for _, c := range next {
		if l.chats.index(c.ID) < 0 {
			added = append(added, c.ID)
		}
	}
	l.chats.reset(next)
	started := l.started
	leaveOpen := false
	for _, id := range gone {
		if id == l.open {
			l.open = ""
			leaveOpen = true
		}
	}
	l.mu.Unlock()

	var errs []error
	if started {
		for _, id := range gone {
			errs = append(errs, l.ch.Unsubscribe(realtime.ChatChannel(id)))
		}
		for _, id := range added {
			errs = append(errs, l.attach(id))
		}
	}
	if leaveOpen && l.nav != nil {
		l.nav("")
	}
	l.changed()
	return errors.Join(errs...)
}

func (l *ChatList) changed() {
	l.mu.Lock()
	fn := l.onChange
	var snap []model.Chat
	if fn != nil {
		snap = l.chats.snapshot(cloneChat)
	}
	l.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

// --- обработчики событий ---

func (l *ChatList) onNewChat(data json.RawMessage) {
	p, ok := decode[realtime.ChatPayload](realtime.EventNewChat, data)
	if !ok || p.Chat.ID == "" {
		return
	}
	l.mu.Lock()
	if l.chats.index(p.Chat.ID) >= 0 {
		l.mu.Unlock()
		return
	}
	l.chats.prepend(p.Chat.Clone())
	l.mu.Unlock()

	if err := l.attach(p.Chat.ID); err != nil {
		logger.Warnf("client: attach chat %s: %v", p.Chat.ID, err)
	}
	l.changed()
}

func (l *ChatList) onNewMessage(data json.RawMessage) {
	p, ok := decode[realtime.MessagePayload](realtime.EventNewMessage, data)
	if !ok {
		return
	}
	msg := p.Message
	l.mu.Lock()
	c, found := l.chats.get(msg.ChatID)
	if !found {
		l.mu.Unlock()
		return
	}
	c = c.Clone()
	c.LastMessageAt = msg.CreatedAt
	c.Messages = []model.Message{msg.Clone()}
	l.chats.prepend(c)
	l.mu.Unlock()
	l.changed()
}

func (l *ChatList) onEditMessage(data json.RawMessage) {
	p, ok := decode[realtime.MessagePayload](realtime.EventEditMessage, data)
	if !ok {
		return
	}
	msg := p.Message
	l.mu.Lock()
	applied := l.chats.patch(msg.ChatID, func(c *model.Chat) {
		if prev := c.Preview(); prev != nil && prev.ID == msg.ID {
			c.Messages[0].Text = msg.Text
			c.Messages[0].EditedAt = msg.EditedAt
		}
	})
	l.mu.Unlock()
	if applied {
		l.changed()
	}
}

// onUnsend меняет превью, только если удалено именно оно; удаление более старого сообщения
// список не трогает.
func (l *ChatList) onUnsend(data json.RawMessage) {
	p, ok := decode[realtime.UnsendPayload](realtime.EventUnsendMessage, data)
	if !ok {
		return
	}
	l.mu.Lock()
	c, found := l.chats.get(p.ChatID)
	if !found {
		l.mu.Unlock()
		return
	}
	prev := c.Preview()
	if prev == nil || prev.ID != p.MessageID {
		l.mu.Unlock()
		return
	}
	c = c.Clone()
	if p.LastMessage != nil {
		c.Messages = []model.Message{p.LastMessage.Clone()}
		c.LastMessageAt = p.LastMessage.CreatedAt
	} else {
		c.Messages = []model.Message{}
		c.LastMessageAt = c.CreatedAt
	}
	l.chats.prepend(c)
	l.mu.Unlock()
	l.changed()
}

func (l *ChatList) onRename(data json.RawMessage) {
	p, ok := decode[realtime.RenamePayload](realtime.EventRenameChat, data)
	if !ok {
		return
	}
	l.mu.Lock()
	applied := l.chats.patch(p.ChatID, func(c *model.Chat) { c.Name = p.Name })
	l.mu.Unlock()
	if applied {
		l.changed()
	}
}

func (l *ChatList) onLeave(data json.RawMessage) {
	p, ok := decode[realtime.LeavePayload](realtime.EventLeaveChat, data)
	if !ok {
		return
	}
	stillMember := p.UserID != l.me
	if stillMember && p.Participants != nil {
		stillMember = false
		for _, u := range p.Participants {
			if u.ID == l.me {
				stillMember = true
				break
			}
		}
	}
	if !stillMember {
		l.drop(p.ChatID)
		return
	}
	l.mu.Lock()
	applied := l.chats.patch(p.ChatID, func(c *model.Chat) {
		if p.Participants == nil {
			kept := make([]model.UserPublic, 0, len(c.Participants))
			for _, u := range c.Participants {
				if u.ID != p.UserID {
					kept = append(kept, u)
				}
			}
			c.Participants = kept
			return
		}
		c.Participants = append([]model.UserPublic(nil), p.Participants...)
	})
	l.mu.Unlock()
	if applied {
		l.changed()
	}
}

func (l *ChatList) onDelete(data json.RawMessage) {
	p, ok := decode[realtime.DeletePayload](realtime.EventDeleteChat, data)
	if !ok {
		return
	}
	l.drop(p.ChatID)
}

// drop убирает чат, отписывается от его канала и уводит в корень, если чат был открыт.
func (l *ChatList) drop(chatID string) {
	l.mu.Lock()
	_, found := l.chats.remove(chatID)
	wasOpen := found && l.open == chatID
	if wasOpen {
		l.open = ""
	}
	l.mu.Unlock()
	if !found {
		return
	}
	if err := l.ch.Unsubscribe(realtime.ChatChannel(chatID)); err != nil {
		logger.Warnf("client: unsubscribe chat %s: %v", chatID, err)
	}
	if wasOpen && l.nav != nil {
		l.nav("")
	}
	l.changed()
}
