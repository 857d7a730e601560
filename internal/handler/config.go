package handler

import (
	"net/http"

	"github.com/baatchit/internal/config"
)

// ConfigHandler отдаёт публичные параметры для клиента.
type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// GetCallConfig возвращает ICE-серверы для RTCPeerConnection (без авторизации).
func (h *ConfigHandler) GetCallConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"iceServers":  h.cfg.CallICEServers,
		"ringTimeout": int(h.cfg.CallRingTimeout.Seconds()),
	})
}
