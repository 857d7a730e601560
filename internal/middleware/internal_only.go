package middleware

import (
	"net"
	"net/http"
	"os"
	"strings"
)

// InternalOnly разрешает запрос только с приватных IP или при заголовке X-Internal-Secret == INTERNAL_SECRET.
// Сервисы push и files не экспонируются наружу; их вызывает только api из той же сети.
func InternalOnly(next http.Handler) http.Handler {
	secret := strings.TrimSpace(os.Getenv("INTERNAL_SECRET"))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if secret != "" && r.Header.Get("X-Internal-Secret") == secret {
			next.ServeHTTP(w, r)
			return
		}
		if isPrivateIP(clientIP(r)) {
			next.ServeHTTP(w, r)
			return
		}
		http.Error(w, "forbidden", http.StatusForbidden)
	})
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func isPrivateIP(s string) bool {
	ip := net.ParseIP(s)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}
