package middleware

import (
	"context"
	"net/http"

	"github.com/baatchit/internal/logger"
	"github.com/baatchit/internal/metrics"
)

type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimit ограничивает запросы по user id (если пользователь уже в контексте) или по IP. 429 при превышении.
// Ошибка хранилища лимитов не блокирует запрос.
func RateLimit(l Limiter, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + clientIP(r)
			if uid := GetUserID(r.Context()); uid != "" {
				key = "u:" + uid
			}
			ok, err := l.Allow(r.Context(), scope+":"+key)
			if err != nil {
				logger.Errorf("rate limit %s: %v", scope, err)
				ok = true
			}
			if !ok {
				metrics.WSRejected.WithLabelValues("rate_limit").Inc()
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
