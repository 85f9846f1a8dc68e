package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/chatsync/internal/auth"
	"github.com/chatsync/internal/logger"
)

// Authenticator проверяет токен и возвращает id пользователя.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// TokenFromRequest достаёт токен из cookie "token", заголовка Authorization: Bearer
// или параметра ?token= (браузерный websocket не умеет заголовки).
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if c, err := r.Cookie(auth.CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

// TokenAuth пропускает только запросы с действующим токеном и кладёт user_id в контекст.
func TokenAuth(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			userID, err := a.Authenticate(r.Context(), token)
			if err != nil {
				logger.Debugf("auth rejected token=%s: %v", MaskToken(token), err)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}
