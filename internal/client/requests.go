package client

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/realtime"
)

// Requests: входящие и исходящие заявки в друзья, новые первыми.
type Requests struct {
	mu       sync.Mutex
	me       string
	ch       *Channels
	items    keyedList[model.FriendRequest]
	onChange func([]model.FriendRequest)
}

func NewRequests(me string, ch *Channels, initial []model.FriendRequest) *Requests {
	return &Requests{me: me, ch: ch, items: newKeyedList(requestKey, initial)}
}

func (r *Requests) Start() error {
	channel := realtime.UserChannel(r.me)
	return errors.Join(
		r.ch.Subscribe(channel, realtime.EventNewRequest, r.onNew),
		r.ch.Subscribe(channel, realtime.EventUpdateRequest, r.onUpdate),
	)
}

func (r *Requests) Stop() error {
	return r.ch.Unsubscribe(realtime.UserChannel(r.me), realtime.EventNewRequest, realtime.EventUpdateRequest)
}

func (r *Requests) Snapshot() []model.FriendRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items.snapshot(cloneRequest)
}

// Incoming: заявки, ожидающие ответа текущего пользователя.
func (r *Requests) Incoming() []model.FriendRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.FriendRequest
	for _, it := range r.items.items {
		if it.ReceiverID == r.me && it.Status == model.RequestPending {
			out = append(out, it)
		}
	}
	return out
}

func (r *Requests) OnChange(fn func([]model.FriendRequest)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

func (r *Requests) onNew(data json.RawMessage) {
	p, ok := decode[realtime.RequestPayload](realtime.EventNewRequest, data)
	if !ok || !p.Request.Involves(r.me) {
		return
	}
	r.mu.Lock()
	if r.items.index(p.Request.ID) >= 0 {
		r.mu.Unlock()
		return
	}
	r.items.prepend(p.Request)
	r.mu.Unlock()
	r.changed()
}

func (r *Requests) onUpdate(data json.RawMessage) {
	p, ok := decode[realtime.RequestPayload](realtime.EventUpdateRequest, data)
	if !ok {
		return
	}
	r.mu.Lock()
	applied := r.items.patch(p.Request.ID, func(it *model.FriendRequest) { it.Status = p.Request.Status })
	r.mu.Unlock()
	if applied {
		r.changed()
	}
}

func (r *Requests) changed() {
	r.mu.Lock()
	fn := r.onChange
	snap := r.items.snapshot(cloneRequest)
	r.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}
