package handler

import (
	"net/http"
	"strings"

	"github.com/chatsync/internal/gateway"
	"github.com/chatsync/internal/middleware"
)

type WSHandler struct {
	hub *gateway.Hub
}

func NewWSHandler(hub *gateway.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

// OriginChecker разрешает Origin из списка (как в CORS; "*" или пустой список, всё).
func OriginChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return len(allowed) == 0
	}
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.hub.Serve(w, r, userID)
}
