package ws

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/baatchit/internal/logger"
	"github.com/baatchit/internal/model"
)

// handleNewReaction: одна реакция на сообщение от пользователя, первая остаётся.
func (h *Hub) handleNewReaction(ctx context.Context, c *Client, raw json.RawMessage) {
	var p reactionIn
	if !h.decode(c, raw, &p) {
		return
	}
	p.Reaction = strings.TrimSpace(p.Reaction)
	if p.Reaction == "" || p.MessageID == "" {
		h.sendError(c, "messageId and reaction required")
		return
	}
	if _, ok := h.loadChatMessage(ctx, c, p.ChatID, p.MessageID); !ok {
		return
	}
	inserted, err := h.st.Reactions.Create(ctx, &model.Reaction{
		MessageID: p.MessageID,
		UserID:    c.userID,
		Reaction:  p.Reaction,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		logger.Errorf("ws add reaction %s: %v", p.MessageID, err)
		return
	}
	if !inserted {
		return
	}
	h.broadcastToRoom(p.ChatID, OutgoingMessage{Type: EventNewReaction, Payload: newReactionPayload{
		ChatID:    p.ChatID,
		MessageID: p.MessageID,
		User:      c.user,
		Reaction:  p.Reaction,
	}}, nil)
}

// handleDeleteReaction идемпотентен: событие рассылается, даже если реакции не было.
func (h *Hub) handleDeleteReaction(ctx context.Context, c *Client, raw json.RawMessage) {
	var p messageRefIn
	if !h.decode(c, raw, &p) || !h.requireMember(ctx, c, p.ChatID) {
		return
	}
	if _, err := h.st.Reactions.DeleteByUser(ctx, p.MessageID, c.userID); err != nil {
		logger.Errorf("ws remove reaction %s: %v", p.MessageID, err)
		return
	}
	h.broadcastToRoom(p.ChatID, OutgoingMessage{Type: EventDeleteReaction, Payload: deleteReactionPayload{
		ChatID:    p.ChatID,
		MessageID: p.MessageID,
		UserID:    c.userID,
	}}, nil)
}
