package ws

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/baatchit/internal/logger"
	"github.com/baatchit/internal/model"
)

func (h *Hub) handleEdit(ctx context.Context, c *Client, raw json.RawMessage) {
	defer logger.DeferLogDuration("ws.handleEdit", time.Now())()
	var p editIn
	if !h.decode(c, raw, &p) {
		return
	}
	text := strings.TrimSpace(p.UpdatedTextContent)
	if text == "" {
		h.sendError(c, "updatedTextContent required")
		return
	}
	m, ok := h.loadChatMessage(ctx, c, p.ChatID, p.MessageID)
	if !ok {
		return
	}
	if m.SenderID != c.userID {
		h.sendError(c, "can only edit own messages")
		return
	}
	if m.Kind != model.KindText {
		h.sendError(c, "only text messages can be edited")
		return
	}
	if err := h.st.Messages.UpdateText(ctx, m.ID, text, time.Now().UTC()); err != nil {
		logger.Errorf("ws edit message %s: %v", m.ID, err)
		h.sendError(c, "failed to edit")
		return
	}
	h.broadcastToRoom(p.ChatID, OutgoingMessage{Type: EventMessageEdit, Payload: editPayload{
		ChatID:                    p.ChatID,
		MessageID:                 m.ID,
		UpdatedTextMessageContent: text,
	}}, nil)
}

// handleDelete: каскад в одной транзакции, файлы удаляются после коммита (ошибки только логируются).
func (h *Hub) handleDelete(ctx context.Context, c *Client, raw json.RawMessage) {
	defer logger.DeferLogDuration("ws.handleDelete", time.Now())()
	var p messageRefIn
	if !h.decode(c, raw, &p) {
		return
	}
	m, ok := h.loadChatMessage(ctx, c, p.ChatID, p.MessageID)
	if !ok {
		return
	}
	if m.SenderID != c.userID {
		h.sendError(c, "can only delete own messages")
		return
	}
	blobIDs, err := h.st.Messages.DeleteCascade(ctx, m.ID)
	if err != nil {
		logger.Errorf("ws delete message %s: %v", m.ID, err)
		h.sendError(c, "failed to delete")
		return
	}
	h.deleteBlobs(ctx, blobIDs)
	h.broadcastToRoom(p.ChatID, OutgoingMessage{Type: EventMessageDelete, Payload: deletePayload{
		ChatID:    p.ChatID,
		MessageID: m.ID,
	}}, nil)
}
