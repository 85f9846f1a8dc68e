// Package gateway реализует websocket-шлюз реального времени. Клиенты подписываются на каналы
// chat-<id> и user-<id>; события из pub/sub бэкенда рассылаются подписчикам канала.
package gateway

import (
	"encoding/json"

	"github.com/chatsync/internal/realtime"
)

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

const (
	FrameEvent        = "event"
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FrameError        = "error"
)

// ClientFrame: кадр от клиента.
type ClientFrame struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// ServerFrame: кадр клиенту. Для type=event заполнены Event и Data.
type ServerFrame struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Event   string          `json:"event,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Envelope возвращает событие кадра в виде realtime.Envelope.
func (f ServerFrame) Envelope() realtime.Envelope {
	return realtime.Envelope{Channel: f.Channel, Event: f.Event, Data: f.Data}
}

func eventFrame(env realtime.Envelope) ([]byte, error) {
	return json.Marshal(ServerFrame{Type: FrameEvent, Channel: env.Channel, Event: env.Event, Data: env.Data})
}

func controlFrame(typ, channel, errMsg string) []byte {
	// Маршалинг структуры из строк не падает.
	b, _ := json.Marshal(ServerFrame{Type: typ, Channel: channel, Error: errMsg})
	return b
}
