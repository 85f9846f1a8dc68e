package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatsync/internal/middleware"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/service"
)

type FriendHandler struct {
	friends *service.FriendService
}

func NewFriendHandler(friends *service.FriendService) *FriendHandler {
	return &FriendHandler{friends: friends}
}

type friendRequestBody struct {
	Email string `json:"email"`
}

type acceptResponse struct {
	Request *model.FriendRequest `json:"request"`
	Chat    *model.Chat          `json:"chat"`
}

func (h *FriendHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.friends.ListRequests(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if reqs == nil {
		reqs = []model.FriendRequest{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (h *FriendHandler) ListFriends(w http.ResponseWriter, r *http.Request) {
	users, err := h.friends.ListFriends(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if users == nil {
		users = []model.UserPublic{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *FriendHandler) SendRequest(w http.ResponseWriter, r *http.Request) {
	var req friendRequestBody
	if !decodeBody(w, r, &req) {
		return
	}
	fr, err := h.friends.SendRequest(r.Context(), middleware.GetUserID(r.Context()), req.Email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, fr)
}

// Accept отдаёт заявку и личный чат с отправителем.
func (h *FriendHandler) Accept(w http.ResponseWriter, r *http.Request) {
	fr, chat, err := h.friends.AcceptRequest(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acceptResponse{Request: fr, Chat: chat})
}

func (h *FriendHandler) Reject(w http.ResponseWriter, r *http.Request) {
	fr, err := h.friends.RejectRequest(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fr)
}
