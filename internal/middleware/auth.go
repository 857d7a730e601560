package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/baatchit/internal/logger"
	"github.com/baatchit/internal/model"
	"github.com/baatchit/internal/repository"
)

type TokenVerifier interface {
	Parse(token string) (string, error)
}

type UserLookup interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// tokenFromRequest: заголовок Authorization: Bearer <jwt> или query token= (браузерный WebSocket не шлёт заголовки).
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Auth проверяет токен и наличие пользователя; иначе 401 без вызова next (и без upgrade для /ws).
func Auth(verifier TokenVerifier, users UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := tokenFromRequest(r)
			userID, err := verifier.Parse(tok)
			if err != nil {
				logger.Debugf("auth: rejected token %s: %v", MaskToken(tok), err)
				writeUnauthorized(w)
				return
			}
			u, err := users.GetByID(r.Context(), userID)
			if err != nil {
				if !errors.Is(err, repository.ErrNotFound) {
					logger.Errorf("auth: load user %s: %v", userID, err)
				}
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized"}`))
}
