package handler

import (
	"net/http"

	"github.com/chatsync/internal/middleware"
	"github.com/chatsync/internal/service"
)

type UserHandler struct {
	auth    *service.AuthService
	session *AuthHandler
}

func NewUserHandler(svc *service.AuthService, session *AuthHandler) *UserHandler {
	return &UserHandler{auth: svc, session: session}
}

func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	me, err := h.auth.Me(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, me)
}

// DeleteAccount удаляет пользователя; его чаты получают leave-chat или delete-chat.
func (h *UserHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.DeleteAccount(r.Context(), middleware.GetUserID(r.Context())); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if h.session != nil {
		h.session.clearCookie(w)
	}
	w.WriteHeader(http.StatusNoContent)
}
