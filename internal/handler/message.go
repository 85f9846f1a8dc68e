package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatsync/internal/middleware"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/service"
)

type MessageHandler struct {
	chats *service.ChatService
}

func NewMessageHandler(chats *service.ChatService) *MessageHandler {
	return &MessageHandler{chats: chats}
}

type sendMessageRequest struct {
	Text     string `json:"text"`
	ParentID string `json:"parentId"`
}

type editMessageRequest struct {
	Text string `json:"text"`
}

type reactRequest struct {
	Emoji string `json:"emoji"`
}

type reactResponse struct {
	Message *model.Message `json:"message"`
	Result  string         `json:"result"`
}

// GetMessages: ?limit=N (по умолчанию 50, максимум 200).
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", service.DefaultMessageLimit)
	msgs, err := h.chats.ListMessages(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "chatId"), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	m, err := h.chats.SendMessage(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "chatId"), req.Text, req.ParentID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	var req editMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	m, err := h.chats.EditMessage(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "chatId"), chi.URLParam(r, "messageId"), req.Text)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *MessageHandler) Unsend(w http.ResponseWriter, r *http.Request) {
	p, err := h.chats.UnsendMessage(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "chatId"), chi.URLParam(r, "messageId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *MessageHandler) React(w http.ResponseWriter, r *http.Request) {
	var req reactRequest
	if !decodeBody(w, r, &req) {
		return
	}
	m, res, err := h.chats.ReactMessage(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "chatId"), chi.URLParam(r, "messageId"), req.Emoji)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reactResponse{Message: m, Result: res.String()})
}
