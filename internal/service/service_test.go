package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync/internal/auth"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/realtime"
	"github.com/chatsync/internal/storage"
	"github.com/chatsync/internal/storage/memory"
)

type published struct {
	Channel string
	Event   string
	Payload any
}

type recorder struct {
	mu   sync.Mutex
	fail bool
	got  []published
}

func (r *recorder) Publish(ctx context.Context, channel, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("transport down")
	}
	r.got = append(r.got, published{Channel: channel, Event: event, Payload: payload})
	return nil
}

func (r *recorder) events() []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]published(nil), r.got...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.got = nil
	r.mu.Unlock()
}

type fixture struct {
	store   storage.Store
	pub     *recorder
	chats   *ChatService
	friends *FriendService
	auth    *AuthService
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	var n int64
	ids := func() string { return fmt.Sprintf("id-%d", atomic.AddInt64(&n, 1)) }
	store := memory.New(ids).Store()
	pub := &recorder{}
	f := &fixture{store: store, pub: pub, clock: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	now := func() time.Time {
		f.clock = f.clock.Add(time.Minute)
		return f.clock
	}
	f.chats = NewChatService(store, pub)
	f.chats.now, f.chats.newID = now, ids
	f.friends = NewFriendService(store, pub, f.chats)
	f.friends.now, f.friends.newID = now, ids
	f.auth = NewAuthService(store, auth.NewTokens("test", time.Hour), pub)
	f.auth.now, f.auth.newID = now, ids
	return f
}

func (f *fixture) user(t *testing.T, name string) string {
	t.Helper()
	s, err := f.auth.SignUp(context.Background(), name, strings.ToLower(name)+"@example.com", "secret1")
	require.NoError(t, err)
	return s.User.ID
}

func (f *fixture) chat(t *testing.T, actor string, others ...string) *model.Chat {
	t.Helper()
	c, created, err := f.chats.CreateChat(context.Background(), actor, others, "")
	require.NoError(t, err)
	require.True(t, created)
	return c
}

// Отправка: запись, сдвиг lastMessageAt и одно событие new-message с гидратированным сообщением.
func TestSendMessagePublishesHydratedMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.user(t, "Alice"), f.user(t, "Bob")
	c := f.chat(t, a, b)
	f.pub.reset()

	m, err := f.chats.SendMessage(ctx, a, c.ID, "  hello ", "")
	require.NoError(t, err)
	assert.Equal(t, "hello", m.Text)
	assert.Equal(t, c.ID, m.ChatID)
	require.NotNil(t, m.Author)
	assert.Equal(t, "Alice", m.Author.Name)

	after, err := f.store.Chats.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, after.LastMessageAt.Equal(m.CreatedAt))

	ev := f.pub.events()
	require.Len(t, ev, 1)
	assert.Equal(t, realtime.ChatChannel(c.ID), ev[0].Channel)
	assert.Equal(t, realtime.EventNewMessage, ev[0].Event)
	payload := ev[0].Payload.(realtime.MessagePayload)
	assert.Equal(t, m.ID, payload.Message.ID)
	assert.Equal(t, "Alice", payload.Message.Author.Name)
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b, stranger := f.user(t, "Alice"), f.user(t, "Bob"), f.user(t, "Eve")
	c := f.chat(t, a, b)
	other := f.chat(t, a, stranger)
	foreign, err := f.chats.SendMessage(ctx, a, other.ID, "elsewhere", "")
	require.NoError(t, err)
	f.pub.reset()

	_, err = f.chats.SendMessage(ctx, a, c.ID, "   ", "")
	assert.Equal(t, "text", FieldOf(err))

	_, err = f.chats.SendMessage(ctx, a, c.ID, strings.Repeat("x", model.MaxTextLength+1), "")
	assert.Equal(t, "text", FieldOf(err))

	_, err = f.chats.SendMessage(ctx, stranger, c.ID, "hi", "")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.chats.SendMessage(ctx, a, "missing", "hi", "")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = f.chats.SendMessage(ctx, a, c.ID, "reply", foreign.ID)
	assert.Equal(t, "parent", FieldOf(err))

	assert.Empty(t, f.pub.events())
	msgs, err := f.chats.ListMessages(ctx, a, c.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestReplyCarriesParent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.user(t, "Alice"), f.user(t, "Bob")
	c := f.chat(t, a, b)

	first, err := f.chats.SendMessage(ctx, a, c.ID, "question", "")
	require.NoError(t, err)
	reply, err := f.chats.SendMessage(ctx, b, c.ID, "answer", first.ID)
	require.NoError(t, err)
	require.NotNil(t, reply.Parent)
	assert.Equal(t, "question", reply.Parent.Text)
	assert.Equal(t, "Alice", reply.Parent.Author.Name)
}

// Публикация после записи: сбой транспорта не откатывает и не проваливает мутацию.
func TestPublishFailureDoesNotFailMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.user(t, "Alice"), f.user(t, "Bob")
	c := f.chat(t, a, b)
	f.pub.fail = true

	m, err := f.chats.SendMessage(ctx, a, c.ID, "still stored", "")
	require.NoError(t, err)
	stored, err := f.store.Messages.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "still stored", stored.Text)
}

func TestPublishSurvivesCanceledRequest(t *testing.T) {
	f := newFixture(t)
	a, b := f.user(t, "Alice"), f.user(t, "Bob")
	c := f.chat(t, a, b)
	f.pub.reset()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.chats.notify.publish(ctx, realtime.ChatChannel(c.ID), realtime.EventRenameChat, realtime.RenamePayload{ChatID: c.ID})
	require.Len(t, f.pub.events(), 1)
}

func TestEditMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.user(t, "Alice"), f.user(t, "Bob")
	c := f.chat(t, a, b)
	m, err := f.chats.SendMessage(ctx, a, c.ID, "helo", "")
	require.NoError(t, err)
	f.pub.reset()

	_, err = f.chats.EditMessage(ctx, b, c.ID, m.ID, "hijack")
	assert.ErrorIs(t, err, ErrForbidden)

	edited, err := f.chats.EditMessage(ctx, a, c.ID, m.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", edited.Text)
	require.NotNil(t, edited.EditedAt)

	ev := f.pub.events()
	require.Len(t, ev, 1)
	assert.Equal(t, realtime.EventEditMessage, ev[0].Event)
}

// Удаление последнего сообщения отдаёт предыдущее как новое превью, затем пустое.
func TestUnsendReturnsNewLastMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.user(t, "Alice"), f.user(t, "Bob")
	c := f.chat(t, a, b)
	m1, err := f.chats.SendMessage(ctx, a, c.ID, "one", "")
	require.NoError(t, err)
	m2, err := f.chats.SendMessage(ctx, a, c.ID, "two", "")
	require.NoError(t, err)

	_, err = f.chats.UnsendMessage(ctx, b, c.ID, m2.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	p, err := f.chats.UnsendMessage(ctx, a, c.ID, m2.ID)
	require.NoError(t, err)
	require.NotNil(t, p.LastMessage)
	assert.Equal(t, m1.ID, p.LastMessage.ID)

	p, err = f.chats.UnsendMessage(ctx, a, c.ID, m1.ID)
	require.NoError(t, err)
	assert.Nil(t, p.LastMessage)

	after, err := f.store.Chats.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, after.LastMessageAt.Equal(after.CreatedAt))

	ev := f.pub.events()
	last := ev[len(ev)-1]
	assert.Equal(t, realtime.EventUnsendMessage, last.Event)
	data, err := json.Marshal(last.Payload)
	require.NoError(t, err)
	assert.JSONEq(t, fmt.Sprintf(`{"chatId":%q,"messageId":%q,"lastMessage":null}`, c.ID, m1.ID), string(data))
}

// Повторная реакция тем же эмодзи снимает её; другой эмодзи заменяет.
func TestReactToggle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.user(t, "Alice"), f.user(t, "Bob")
	c := f.chat(t, a, b)
	m, err := f.chats.SendMessage(ctx, b, c.ID, "nice", "")
	require.NoError(t, err)
	f.pub.reset()

	got, res, err := f.chats.ReactMessage(ctx, a, c.ID, m.ID, "👍")
	require.NoError(t, err)
	assert.Equal(t, storage.ReactionAdded, res)
	require.Len(t, got.Reactions, 1)
	assert.Equal(t, "Alice", got.Reactions[0].User.Name)

	got, res, err = f.chats.ReactMessage(ctx, a, c.ID, m.ID, "👍")
	require.NoError(t, err)
	assert.Equal(t, storage.ReactionRemoved, res)
	assert.Empty(t, got.Reactions)

	_, _, err = f.chats.ReactMessage(ctx, a, c.ID, m.ID, "👍")
	require.NoError(t, err)
	got, res, err = f.chats.ReactMessage(ctx, a, c.ID, m.ID, "🎉")
	require.NoError(t, err)
	assert.Equal(t, storage.ReactionReplaced, res)
	require.Len(t, got.Reactions, 1)
	assert.Equal(t, "🎉", got.Reactions[0].Emoji)

	_, _, err = f.chats.ReactMessage(ctx, a, c.ID, m.ID, " ")
	assert.Equal(t, "emoji", FieldOf(err))

	ev := f.pub.events()
	require.Len(t, ev, 4)
	for _, e := range ev {
		assert.Equal(t, realtime.EventReactMessage, e.Event)
	}
}

func TestCreateChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b, c := f.user(t, "Alice"), f.user(t, "Bob"), f.user(t, "Carol")
	f.pub.reset()

	direct, created, err := f.chats.CreateChat(ctx, a, []string{b, a, b}, "ignored")
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, direct.IsGroup)
	assert.Empty(t, direct.Name)
	assert.Len(t, direct.Participants, 2)

	ev := f.pub.events()
	require.Len(t, ev, 2)
	channels := []string{ev[0].Channel, ev[1].Channel}
	assert.ElementsMatch(t, []string{realtime.UserChannel(a), realtime.UserChannel(b)}, channels)
	f.pub.reset()

	again, created, err := f.chats.CreateChat(ctx, b, []string{a}, "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, direct.ID, again.ID)
	assert.Empty(t, f.pub.events())

	group, created, err := f.chats.CreateChat(ctx, a, []string{b, c}, " Team ")
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, group.IsGroup)
	assert.Equal(t, "Team", group.Name)
	assert.Len(t, f.pub.events(), 3)

	_, _, err = f.chats.CreateChat(ctx, a, nil, "")
	assert.Equal(t, "participants", FieldOf(err))
	_, _, err = f.chats.CreateChat(ctx, a, []string{"ghost"}, "")
	assert.Equal(t, "participants", FieldOf(err))
}

func TestRenameChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b, c := f.user(t, "Alice"), f.user(t, "Bob"), f.user(t, "Carol")
	group := f.chat(t, a, b, c)
	f.pub.reset()

	assert.Equal(t, "name", FieldOf(f.chats.RenameChat(ctx, a, group.ID, " ")))
	require.NoError(t, f.chats.RenameChat(ctx, b, group.ID, "Crew"))

	got, err := f.chats.GetChat(ctx, a, group.ID)
	require.NoError(t, err)
	assert.Equal(t, "Crew", got.Name)

	ev := f.pub.events()
	require.Len(t, ev, 1)
	assert.Equal(t, realtime.EventRenameChat, ev[0].Event)
	assert.Equal(t, realtime.RenamePayload{ChatID: group.ID, Name: "Crew"}, ev[0].Payload)
}

// Выход из личного чата: A больше не участник, B получает leave-chat; уход B удаляет чат.
func TestLeaveDirectChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.user(t, "Alice"), f.user(t, "Bob")
	c := f.chat(t, a, b)
	f.pub.reset()

	deleted, err := f.chats.LeaveChat(ctx, a, c.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	ok, err := f.store.Chats.IsParticipant(ctx, c.ID, a)
	require.NoError(t, err)
	assert.False(t, ok)
	list, err := f.chats.ListChats(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, list)

	ev := f.pub.events()
	require.Len(t, ev, 1)
	assert.Equal(t, realtime.EventLeaveChat, ev[0].Event)
	leave := ev[0].Payload.(realtime.LeavePayload)
	assert.Equal(t, a, leave.UserID)
	require.Len(t, leave.Participants, 1)
	assert.Equal(t, b, leave.Participants[0].ID)
	f.pub.reset()

	deleted, err = f.chats.LeaveChat(ctx, b, c.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	_, err = f.store.Chats.GetByID(ctx, c.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	ev = f.pub.events()
	require.Len(t, ev, 1)
	assert.Equal(t, realtime.EventDeleteChat, ev[0].Event)
}

func TestDeleteChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b, c := f.user(t, "Alice"), f.user(t, "Bob"), f.user(t, "Carol")
	direct := f.chat(t, a, b)
	group := f.chat(t, a, b, c)
	f.pub.reset()

	assert.Equal(t, "chat", FieldOf(f.chats.DeleteChat(ctx, a, direct.ID)))
	require.NoError(t, f.chats.DeleteChat(ctx, c, group.ID))
	_, err := f.chats.GetChat(ctx, a, group.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	ev := f.pub.events()
	require.Len(t, ev, 1)
	assert.Equal(t, realtime.ChatChannel(group.ID), ev[0].Channel)
	assert.Equal(t, realtime.EventDeleteChat, ev[0].Event)
}

func TestListMessagesLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.user(t, "Alice"), f.user(t, "Bob")
	c := f.chat(t, a, b)
	for i := 0; i < 5; i++ {
		_, err := f.chats.SendMessage(ctx, a, c.ID, fmt.Sprintf("m%d", i), "")
		require.NoError(t, err)
	}
	msgs, err := f.chats.ListMessages(ctx, b, c.ID, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m2", msgs[0].Text)
	assert.Equal(t, "m4", msgs[2].Text)
}

// Заявка на неизвестный email: ничего не записано и ничего не опубликовано.
func TestFriendRequestUnknownEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "Alice")
	f.pub.reset()

	_, err := f.friends.SendRequest(ctx, a, "nobody@example.com")
	assert.Equal(t, "email", FieldOf(err))

	reqs, err := f.friends.ListRequests(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, reqs)
	assert.Empty(t, f.pub.events())
}

func TestFriendRequestLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.user(t, "Alice"), f.user(t, "Bob")
	f.pub.reset()

	_, err := f.friends.SendRequest(ctx, a, "ALICE@example.com")
	assert.Equal(t, "self", FieldOf(err))

	r, err := f.friends.SendRequest(ctx, a, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, r.Status)
	require.NotNil(t, r.Sender)
	assert.Equal(t, "Alice", r.Sender.Name)

	ev := f.pub.events()
	require.Len(t, ev, 2)
	assert.Equal(t, realtime.EventNewRequest, ev[0].Event)
	assert.ElementsMatch(t, []string{realtime.UserChannel(a), realtime.UserChannel(b)}, []string{ev[0].Channel, ev[1].Channel})

	_, err = f.friends.SendRequest(ctx, b, "alice@example.com")
	assert.Equal(t, "pending", FieldOf(err))

	_, _, err = f.friends.AcceptRequest(ctx, a, r.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	f.pub.reset()

	accepted, chat, err := f.friends.AcceptRequest(ctx, b, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestAccepted, accepted.Status)
	require.NotNil(t, chat)
	assert.False(t, chat.IsGroup)
	assert.True(t, chat.HasParticipant(a))
	assert.True(t, chat.HasParticipant(b))

	var names []string
	for _, e := range f.pub.events() {
		names = append(names, e.Event)
	}
	assert.Equal(t, []string{realtime.EventNewChat, realtime.EventNewChat, realtime.EventUpdateRequest, realtime.EventUpdateRequest}, names)

	_, err = f.friends.RejectRequest(ctx, b, r.ID)
	assert.Equal(t, "status", FieldOf(err))

	_, err = f.friends.SendRequest(ctx, b, "alice@example.com")
	assert.Equal(t, "friends", FieldOf(err))

	friends, err := f.friends.ListFriends(ctx, a)
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, b, friends[0].ID)
}

func TestRejectThenResend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.user(t, "Alice"), f.user(t, "Bob")

	r, err := f.friends.SendRequest(ctx, a, "bob@example.com")
	require.NoError(t, err)
	rejected, err := f.friends.RejectRequest(ctx, b, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestDeclined, rejected.Status)

	_, err = f.friends.SendRequest(ctx, a, "bob@example.com")
	require.NoError(t, err)

	chats, err := f.chats.ListChats(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, chats)
}

func TestSignUpAndLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.auth.SignUp(ctx, "Alice", " Alice@Example.com ", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", s.User.Email)
	assert.NotEmpty(t, s.Token)

	_, err = f.auth.SignUp(ctx, "Other", "alice@example.com", "secret1")
	assert.Equal(t, "email", FieldOf(err))
	_, err = f.auth.SignUp(ctx, "Alice", "other@example.com", "secret1")
	assert.Equal(t, "name", FieldOf(err))
	_, err = f.auth.SignUp(ctx, "Bob", "not-an-email", "secret1")
	assert.Equal(t, "email", FieldOf(err))
	_, err = f.auth.SignUp(ctx, "Bob", "bob@example.com", "123")
	assert.Equal(t, "password", FieldOf(err))

	_, err = f.auth.Login(ctx, "nobody@example.com", "secret1")
	assert.Equal(t, "email", FieldOf(err))
	_, err = f.auth.Login(ctx, "alice@example.com", "wrong!")
	assert.Equal(t, "password", FieldOf(err))

	again, err := f.auth.Login(ctx, "ALICE@example.com", "secret1")
	require.NoError(t, err)
	id, err := f.auth.Authenticate(ctx, again.Token)
	require.NoError(t, err)
	assert.Equal(t, s.User.ID, id)

	me, err := f.auth.Me(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Alice", me.Name)
}

func TestDeleteAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b, c := f.user(t, "Alice"), f.user(t, "Bob"), f.user(t, "Carol")
	direct := f.chat(t, a, b)
	group := f.chat(t, a, b, c)
	s, err := f.auth.Login(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)
	f.pub.reset()

	require.NoError(t, f.auth.DeleteAccount(ctx, a))

	_, err = f.auth.Authenticate(ctx, s.Token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	byChannel := map[string]string{}
	for _, e := range f.pub.events() {
		byChannel[e.Channel] = e.Event
	}
	assert.Equal(t, realtime.EventLeaveChat, byChannel[realtime.ChatChannel(direct.ID)])
	assert.Equal(t, realtime.EventLeaveChat, byChannel[realtime.ChatChannel(group.ID)])

	list, err := f.chats.ListChats(ctx, b)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

// chatReadFails ломает чтение чата сразу после удаления участника.
type chatReadFails struct {
	storage.ChatStore
	removed atomic.Bool
}

func (c *chatReadFails) RemoveParticipant(ctx context.Context, chatID, userID string) (int, error) {
	n, err := c.ChatStore.RemoveParticipant(ctx, chatID, userID)
	c.removed.Store(true)
	return n, err
}

func (c *chatReadFails) GetByID(ctx context.Context, id string) (*model.Chat, error) {
	if c.removed.Load() {
		return nil, errors.New("db down")
	}
	return c.ChatStore.GetByID(ctx, id)
}

// Без перечитанного состава leave-chat несёт participants=null, а не пустой список.
func TestLeaveChatWithoutReloadSendsNullParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b, c := f.user(t, "Alice"), f.user(t, "Bob"), f.user(t, "Carol")
	g := f.chat(t, a, b, c)
	f.chats.store.Chats = &chatReadFails{ChatStore: f.store.Chats}
	f.pub.reset()

	deleted, err := f.chats.LeaveChat(ctx, a, g.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	ev := f.pub.events()
	require.Len(t, ev, 1)
	leave := ev[0].Payload.(realtime.LeavePayload)
	assert.Equal(t, a, leave.UserID)
	assert.Nil(t, leave.Participants)
	raw, err := json.Marshal(leave)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"participants":null`)
}

// Сообщение адресуется через свой чат; ушедший автор больше не правит и не удаляет его.
func TestMessageMutationsScopedToChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b, c := f.user(t, "Alice"), f.user(t, "Bob"), f.user(t, "Carol")
	direct := f.chat(t, a, b)
	group := f.chat(t, a, b, c)
	m, err := f.chats.SendMessage(ctx, a, group.ID, "hi all", "")
	require.NoError(t, err)
	f.pub.reset()

	_, err = f.chats.EditMessage(ctx, a, direct.ID, m.ID, "moved")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = f.chats.UnsendMessage(ctx, a, direct.ID, m.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, _, err = f.chats.ReactMessage(ctx, b, direct.ID, m.ID, "👍")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Empty(t, f.pub.events())

	_, err = f.chats.LeaveChat(ctx, a, group.ID)
	require.NoError(t, err)
	f.pub.reset()

	_, err = f.chats.EditMessage(ctx, a, group.ID, m.ID, "still here?")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.chats.UnsendMessage(ctx, a, group.ID, m.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Empty(t, f.pub.events())

	got, err := f.store.Messages.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi all", got.Text)
}

// chatCreateFails отказывает в создании чата.
type chatCreateFails struct {
	storage.ChatStore
}

func (chatCreateFails) Create(context.Context, *model.Chat, []string) error {
	return errors.New("db down")
}

// Чат не открылся: заявка остаётся PENDING и события не уходят.
func TestAcceptRequestRollsBackWhenChatFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.user(t, "Alice"), f.user(t, "Bob")
	r, err := f.friends.SendRequest(ctx, a, "bob@example.com")
	require.NoError(t, err)
	f.chats.store.Chats = chatCreateFails{ChatStore: f.store.Chats}
	f.pub.reset()

	_, _, err = f.friends.AcceptRequest(ctx, b, r.ID)
	require.Error(t, err)
	assert.Empty(t, f.pub.events())

	got, err := f.store.Friends.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, got.Status)

	f.chats.store.Chats = f.store.Chats
	accepted, chat, err := f.friends.AcceptRequest(ctx, b, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestAccepted, accepted.Status)
	assert.True(t, chat.HasParticipant(a))
}
