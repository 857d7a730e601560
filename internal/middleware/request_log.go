package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/baatchit/internal/logger"
	"github.com/baatchit/internal/metrics"
)

// RequestLog логирует медленные запросы (method, path, время) и считает метрики по статусу.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := wrap(w)
		defer func() {
			logger.LogDuration("http "+r.Method+" "+r.URL.Path, start)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rw.status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
		}()
		next.ServeHTTP(rw, r)
	})
}
