package ws

import (
	"context"
	"time"

	"github.com/baatchit/internal/logger"
	"github.com/baatchit/internal/metrics"
)

// connect: привязка, online в БД, комнаты всех чатов пользователя, ONLINE_USER остальным,
// ONLINE_USERS_LIST новому соединению.
func (h *Hub) connect(ctx context.Context, c *Client) {
	defer logger.DeferLogDuration("ws.connect", time.Now())()
	if _, reconnect := h.reg.Resolve(c.userID); !reconnect && h.reg.Len() >= h.maxConns {
		metrics.WSRejected.WithLabelValues("capacity").Inc()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if prev := h.reg.Bind(c); prev != nil {
		logger.Infof("ws user=%s reconnected, closing previous connection", c.userID)
		prev.Close()
	}
	metrics.WSConnections.Set(float64(h.reg.Len()))

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if err := h.st.Users.SetOnline(ctx, c.userID, true, time.Now().UTC()); err != nil {
		logger.Errorf("ws set online user=%s: %v", c.userID, err)
	}
	chatIDs, err := h.st.Chats.GetUserChatIDs(ctx, c.userID)
	if err != nil {
		logger.Errorf("ws load chats user=%s: %v", c.userID, err)
	}
	h.reg.joinClient(c, chatIDs)

	h.broadcastAll(OutgoingMessage{Type: EventOnlineUser, Payload: userIDPayload{UserID: c.userID}}, c)
	h.sendToClient(c, OutgoingMessage{Type: EventOnlineUsersList, Payload: onlineUsersPayload{OnlineUserIDs: h.reg.OnlineUserIDs()}})
}

// disconnect меняет присутствие только если отключается текущее соединение пользователя;
// устаревшее (уже вытесненное переподключением) просто закрывается.
func (h *Hub) disconnect(ctx context.Context, c *Client) {
	c.Close()
	if !h.reg.Unbind(c) {
		return
	}
	metrics.WSConnections.Set(float64(h.reg.Len()))

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	defer cancel()
	if err := h.st.Users.SetOnline(ctx, c.userID, false, time.Now().UTC()); err != nil {
		logger.Errorf("ws set offline user=%s: %v", c.userID, err)
	}
	h.broadcastAll(OutgoingMessage{Type: EventOfflineUser, Payload: userIDPayload{UserID: c.userID}}, nil)
}
