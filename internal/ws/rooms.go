package ws

import (
	"github.com/baatchit/internal/logger"
	"github.com/baatchit/internal/metrics"
)

func (h *Hub) broadcastToRoom(roomID string, msg OutgoingMessage, except *Client) {
	for _, c := range h.reg.RoomClients(roomID) {
		if c != except {
			h.sendToClient(c, msg)
		}
	}
}

func (h *Hub) broadcastAll(msg OutgoingMessage, except *Client) {
	for _, c := range h.reg.Clients() {
		if c != except {
			h.sendToClient(c, msg)
		}
	}
}

// sendToUser возвращает false, если у пользователя нет соединения.
func (h *Hub) sendToUser(userID string, msg OutgoingMessage) bool {
	c, ok := h.reg.Resolve(userID)
	if !ok {
		return false
	}
	h.sendToClient(c, msg)
	return true
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		metrics.WSRejected.WithLabelValues("slow_client").Inc()
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) sendError(c *Client, text string) {
	h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: errorPayload{Message: text}})
}

// JoinRoom / LeaveRoom: для сервисного слоя (создание чата, добавление и удаление участников).
func (h *Hub) JoinRoom(userIDs []string, chatID string) {
	h.reg.JoinRoom(userIDs, chatID)
}

func (h *Hub) LeaveRoom(userIDs []string, chatID string) {
	h.reg.LeaveRoom(userIDs, chatID)
}
