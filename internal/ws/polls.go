package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/baatchit/internal/logger"
	"github.com/baatchit/internal/model"
	"github.com/baatchit/internal/repository"
)

// pollFor возвращает опрос сообщения, если optionIndex допустим; иначе событие отбрасывается.
func (h *Hub) pollFor(ctx context.Context, c *Client, p voteIn) (*model.Poll, bool) {
	if p.OptionIndex == nil {
		return nil, false
	}
	m, ok := h.loadChatMessage(ctx, c, p.ChatID, p.MessageID)
	if !ok || m.PollID == nil {
		return nil, false
	}
	poll, err := h.st.Polls.GetByID(ctx, *m.PollID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		logger.Errorf("ws load poll %s: %v", *m.PollID, err)
		return nil, false
	}
	if !poll.HasOption(*p.OptionIndex) {
		return nil, false
	}
	return poll, true
}

func (h *Hub) handleVoteIn(ctx context.Context, c *Client, raw json.RawMessage) {
	var p voteIn
	if !h.decode(c, raw, &p) {
		return
	}
	poll, ok := h.pollFor(ctx, c, p)
	if !ok {
		return
	}
	inserted, err := h.st.Polls.AddVote(ctx, &model.Vote{PollID: poll.ID, UserID: c.userID, OptionIndex: *p.OptionIndex})
	if err != nil {
		logger.Errorf("ws vote in poll=%s user=%s: %v", poll.ID, c.userID, err)
		return
	}
	if !inserted {
		return
	}
	h.broadcastToRoom(p.ChatID, OutgoingMessage{Type: EventVoteIn, Payload: voteInPayload{
		MessageID:   p.MessageID,
		OptionIndex: *p.OptionIndex,
		User:        c.user,
		ChatID:      p.ChatID,
	}}, nil)
}

func (h *Hub) handleVoteOut(ctx context.Context, c *Client, raw json.RawMessage) {
	var p voteIn
	if !h.decode(c, raw, &p) {
		return
	}
	poll, ok := h.pollFor(ctx, c, p)
	if !ok {
		return
	}
	removed, err := h.st.Polls.RemoveVote(ctx, poll.ID, c.userID, *p.OptionIndex)
	if err != nil {
		logger.Errorf("ws vote out poll=%s user=%s: %v", poll.ID, c.userID, err)
		return
	}
	if !removed {
		return
	}
	h.broadcastToRoom(p.ChatID, OutgoingMessage{Type: EventVoteOut, Payload: voteOutPayload{
		ChatID:      p.ChatID,
		MessageID:   p.MessageID,
		OptionIndex: *p.OptionIndex,
		UserID:      c.userID,
	}}, nil)
}
