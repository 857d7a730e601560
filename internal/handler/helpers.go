package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/baatchit/internal/logger"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeList: пустой список всегда [] (клиент не различает null и отсутствие данных).
func writeList[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, items)
}

// page разбирает ?page=&limit=: страницы с 1, limit не больше maxPageSize.
func page(r *http.Request) (limit, offset int) {
	limit = min(queryInt(r, "limit", defaultPageSize), maxPageSize)
	return limit, (queryInt(r, "page", 1) - 1) * limit
}

// queryInt: пустое, нечисловое или неположительное значение заменяется на defaultVal.
func queryInt(r *http.Request, key string, defaultVal int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}
