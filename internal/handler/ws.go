package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/baatchit/internal/logger"
	"github.com/baatchit/internal/middleware"
	"github.com/baatchit/internal/ws"
)

type WSHandler struct {
	hub            *ws.Hub
	allowedOrigins string
	maxMessageSize int64
}

// NewWSHandler создаёт обработчик WebSocket. allowedOrigins: как в CORS (через запятую или "*").
func NewWSHandler(hub *ws.Hub, allowedOrigins string, maxMessageSize int64) *WSHandler {
	return &WSHandler{hub: hub, allowedOrigins: strings.TrimSpace(allowedOrigins), maxMessageSize: maxMessageSize}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

// ServeWS вызывается после middleware.Auth: пользователь уже загружен в контекст.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.checkOrigin(r) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade user=%s: %v", user.ID, err)
		return
	}

	// Контекст клиента живёт дольше запроса.
	ctx, cancel := context.WithCancel(context.Background())
	client := ws.NewClient(h.hub, conn, user.Summary(), h.maxMessageSize)
	client.Start(ctx, cancel)
	h.hub.Register(client)
}
