package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/baatchit/internal/logger"
	"github.com/baatchit/internal/middleware"
)

type PushSettingsStore interface {
	UpdatePush(ctx context.Context, userID, token string, enabled bool) error
}

// PushHandler сохраняет токен подписки и флаг уведомлений текущего пользователя.
type PushHandler struct {
	users PushSettingsStore
}

func NewPushHandler(users PushSettingsStore) *PushHandler {
	return &PushHandler{users: users}
}

// UpdatePushRequest: token содержит сериализованную подписку PushManager; пустая строка отписывает.
type UpdatePushRequest struct {
	Token                string `json:"token"`
	NotificationsEnabled *bool  `json:"notificationsEnabled"`
}

func (h *PushHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req UpdatePushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	enabled := true
	if req.NotificationsEnabled != nil {
		enabled = *req.NotificationsEnabled
	}
	if err := h.users.UpdatePush(r.Context(), userID, strings.TrimSpace(req.Token), enabled); err != nil {
		logger.Errorf("push settings user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to update push settings")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
