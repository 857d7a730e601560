package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/baatchit/internal/logger"
	"github.com/baatchit/internal/model"
	"github.com/baatchit/internal/repository"
)

// handlePin: при достижении лимита самый старый закреп снимается в той же транзакции;
// PIN_LIMIT_REACHED уходит перед PIN_MESSAGE.
func (h *Hub) handlePin(ctx context.Context, c *Client, raw json.RawMessage) {
	defer logger.DeferLogDuration("ws.handlePin", time.Now())()
	var p messageRefIn
	if !h.decode(c, raw, &p) {
		return
	}
	if _, ok := h.loadChatMessage(ctx, c, p.ChatID, p.MessageID); !ok {
		return
	}
	pin := &model.PinnedMessage{ChatID: p.ChatID, MessageID: p.MessageID}
	evicted, err := h.st.Pins.Pin(ctx, pin, model.PinLimit)
	if errors.Is(err, repository.ErrAlreadyPinned) {
		h.sendError(c, "message already pinned")
		return
	}
	if err != nil {
		logger.Errorf("ws pin message %s: %v", p.MessageID, err)
		h.sendError(c, "failed to pin")
		return
	}
	if evicted != nil {
		h.broadcastToRoom(p.ChatID, OutgoingMessage{Type: EventPinLimitReached, Payload: pinLimitPayload{
			OldestPinID: evicted.ID,
			MessageID:   evicted.MessageID,
			ChatID:      p.ChatID,
		}}, nil)
	}
	if pin.Message, err = h.st.Messages.GetProjection(ctx, p.MessageID); err != nil {
		logger.Errorf("ws load pinned projection %s: %v", p.MessageID, err)
	}
	h.broadcastToRoom(p.ChatID, OutgoingMessage{Type: EventPinMessage, Payload: pin}, nil)
}

// handleUnpin: неизвестный закреп: no-op.
func (h *Hub) handleUnpin(ctx context.Context, c *Client, raw json.RawMessage) {
	var p unpinIn
	if !h.decode(c, raw, &p) || p.PinID == "" {
		return
	}
	pin, err := h.st.Pins.GetByID(ctx, p.PinID)
	if errors.Is(err, repository.ErrNotFound) {
		return
	}
	if err != nil {
		logger.Errorf("ws load pin %s: %v", p.PinID, err)
		return
	}
	if !h.requireMember(ctx, c, pin.ChatID) {
		return
	}
	removed, err := h.st.Pins.Unpin(ctx, p.PinID)
	if errors.Is(err, repository.ErrNotFound) {
		return
	}
	if err != nil {
		logger.Errorf("ws unpin %s: %v", p.PinID, err)
		return
	}
	h.broadcastToRoom(removed.ChatID, OutgoingMessage{Type: EventUnpinMessage, Payload: unpinPayload{
		PinID:     removed.ID,
		ChatID:    removed.ChatID,
		MessageID: removed.MessageID,
	}}, nil)
}
