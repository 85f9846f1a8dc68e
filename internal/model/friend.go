package model

import "time"

type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestAccepted RequestStatus = "ACCEPTED"
	RequestDeclined RequestStatus = "DECLINED"
)

// FriendRequest: заявка в друзья. Для неупорядоченной пары пользователей
// одновременно существует не более одной заявки в статусе PENDING.
type FriendRequest struct {
	ID         string        `json:"id"`
	SenderID   string        `json:"senderId"`
	ReceiverID string        `json:"receiverId"`
	Status     RequestStatus `json:"status"`
	CreatedAt  time.Time     `json:"createdAt"`
	Sender     *UserPublic   `json:"sender,omitempty"`
	Receiver   *UserPublic   `json:"receiver,omitempty"`
}

// Involves сообщает, является ли пользователь отправителем или получателем.
func (r *FriendRequest) Involves(userID string) bool {
	return r.SenderID == userID || r.ReceiverID == userID
}
