package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/baatchit/internal/blob"
	"github.com/baatchit/internal/logger"
	"github.com/baatchit/internal/metrics"
	"github.com/baatchit/internal/model"
	"github.com/baatchit/internal/repository"
)

const (
	MaxAttachments = 5
	fanOutLimit    = 8
)

var (
	ErrNotMember    = errors.New("ws: not a chat member")
	ErrNoFiles      = errors.New("ws: no files")
	ErrTooManyFiles = errors.New("ws: too many files")
	ErrNoBlobStore  = errors.New("ws: blob store not configured")
)

// FileUpload: файл вложения, полученный обработчиком HTTP.
type FileUpload struct {
	Name string
	Body io.Reader
}

// classify: приоритет audio, encryptedAudio, опрос, url, текст.
func (p *messageIn) classify() (model.MessageKind, bool) {
	switch {
	case len(p.Audio) > 0:
		return model.KindAudio, true
	case len(p.EncryptedAudio) > 0:
		return model.KindEncryptedAudio, true
	case p.IsPollMessage && p.PollData != nil && strings.TrimSpace(p.PollData.PollQuestion) != "" && len(p.PollData.PollOptions) >= 2:
		return model.KindPoll, true
	case strings.TrimSpace(p.URL) != "":
		return model.KindURL, true
	case strings.TrimSpace(p.TextMessageContent) != "":
		return model.KindText, true
	}
	return "", false
}

func (h *Hub) requireMember(ctx context.Context, c *Client, chatID string) bool {
	if chatID == "" {
		h.sendError(c, "chatId required")
		return false
	}
	ok, err := h.st.Chats.IsMember(ctx, chatID, c.userID)
	if err != nil {
		logger.Errorf("ws check membership chat=%s user=%s: %v", chatID, c.userID, err)
		h.sendError(c, "internal error")
		return false
	}
	if !ok {
		h.sendError(c, "not a member")
		return false
	}
	return true
}

// loadChatMessage проверяет членство и что сообщение принадлежит чату.
func (h *Hub) loadChatMessage(ctx context.Context, c *Client, chatID, messageID string) (*model.Message, bool) {
	if !h.requireMember(ctx, c, chatID) {
		return nil, false
	}
	m, err := h.st.Messages.GetByID(ctx, messageID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && m.ChatID != chatID) {
		h.sendError(c, "message not found")
		return nil, false
	}
	if err != nil {
		logger.Errorf("ws load message %s: %v", messageID, err)
		h.sendError(c, "internal error")
		return nil, false
	}
	return m, true
}

// validReplyTarget: ответить можно только на сообщение того же чата.
func (h *Hub) validReplyTarget(ctx context.Context, c *Client, chatID, replyID string) bool {
	target, err := h.st.Messages.GetByID(ctx, replyID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && target.ChatID != chatID) {
		h.sendError(c, "reply target not found")
		return false
	}
	if err != nil {
		logger.Errorf("ws load reply target %s: %v", replyID, err)
		h.sendError(c, "internal error")
		return false
	}
	return true
}

func (h *Hub) handleMessage(ctx context.Context, c *Client, raw json.RawMessage) {
	defer logger.DeferLogDuration("ws.handleMessage", time.Now())()
	var p messageIn
	if !h.decode(c, raw, &p) {
		return
	}
	kind, ok := p.classify()
	if !ok {
		h.sendError(c, "message content required")
		return
	}
	if !h.requireMember(ctx, c, p.ChatID) {
		return
	}
	if p.ReplyToMessageID != "" && !h.validReplyTarget(ctx, c, p.ChatID, p.ReplyToMessageID) {
		return
	}

	now := time.Now().UTC()
	m := &model.Message{
		ID:        uuid.New().String(),
		ChatID:    p.ChatID,
		SenderID:  c.userID,
		Kind:      kind,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if p.ReplyToMessageID != "" {
		m.ReplyToMessageID = &p.ReplyToMessageID
	}
	if text := strings.TrimSpace(p.TextMessageContent); text != "" && !kind.IsAudio() {
		m.TextMessageContent = &text
	}

	var poll *model.Poll
	switch kind {
	case model.KindAudio, model.KindEncryptedAudio:
		data, folder := p.Audio, blob.FolderGroupAudio
		if kind == model.KindEncryptedAudio {
			data, folder = p.EncryptedAudio, blob.FolderEncryptedAudio
		}
		if h.blobs == nil {
			h.sendError(c, "voice messages are not available")
			return
		}
		obj, err := h.blobs.Upload(ctx, folder, m.ID+".webm", bytes.NewReader(data))
		if err != nil {
			logger.Errorf("ws upload audio chat=%s user=%s: %v", p.ChatID, c.userID, err)
			h.sendError(c, "failed to upload audio")
			return
		}
		m.AudioURL, m.AudioPublicID = &obj.URL, &obj.PublicID
	case model.KindPoll:
		poll = &model.Poll{
			ID:                uuid.New().String(),
			Question:          strings.TrimSpace(p.PollData.PollQuestion),
			Options:           p.PollData.PollOptions,
			IsMultipleAnswers: p.PollData.IsMultipleAnswers,
		}
		m.PollID = &poll.ID
	case model.KindURL:
		url := strings.TrimSpace(p.URL)
		m.URL = &url
	}

	if err := h.st.Messages.Create(ctx, m, poll, nil); err != nil {
		logger.Errorf("ws save message chat=%s user=%s: %v", p.ChatID, c.userID, err)
		if m.AudioPublicID != nil {
			h.deleteBlobs(ctx, []string{*m.AudioPublicID})
		}
		h.sendError(c, "failed to save message")
		return
	}
	h.deliver(ctx, c.user, m)
}

// SendAttachmentMessage сохраняет сообщение с 1..5 файлами и рассылает его как обычное MESSAGE.
// При ошибке загрузки уже загруженные файлы удаляются, в БД ничего не пишется.
func (h *Hub) SendAttachmentMessage(ctx context.Context, sender model.UserSummary, chatID, text string, files []FileUpload) (*model.Message, error) {
	defer logger.DeferLogDuration("ws.SendAttachmentMessage", time.Now())()
	switch {
	case len(files) == 0:
		return nil, ErrNoFiles
	case len(files) > MaxAttachments:
		return nil, ErrTooManyFiles
	case h.blobs == nil:
		return nil, ErrNoBlobStore
	}
	ok, err := h.st.Chats.IsMember(ctx, chatID, sender.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotMember
	}

	now := time.Now().UTC()
	m := &model.Message{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		SenderID:  sender.ID,
		Kind:      model.KindAttachments,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if t := strings.TrimSpace(text); t != "" {
		m.TextMessageContent = &t
	}
	attachments := make([]model.Attachment, 0, len(files))
	uploaded := make([]string, 0, len(files))
	for _, f := range files {
		obj, err := h.blobs.Upload(ctx, blob.FolderAttachments, f.Name, f.Body)
		if err != nil {
			h.deleteBlobs(ctx, uploaded)
			return nil, err
		}
		uploaded = append(uploaded, obj.PublicID)
		attachments = append(attachments, model.Attachment{
			ID:        uuid.New().String(),
			MessageID: m.ID,
			URL:       obj.URL,
			PublicID:  obj.PublicID,
			FileName:  f.Name,
		})
	}
	if err := h.st.Messages.Create(ctx, m, nil, attachments); err != nil {
		h.deleteBlobs(ctx, uploaded)
		return nil, err
	}
	m.Attachments = attachments
	h.deliver(ctx, sender, m)
	return m, nil
}

// deliver: MESSAGE в комнату, затем для остальных участников пуш (если офлайн) и счётчик непрочитанных,
// затем UNREAD_MESSAGE. Ошибки по отдельным получателям не откатывают сообщение.
func (h *Hub) deliver(ctx context.Context, sender model.UserSummary, m *model.Message) {
	metrics.MessagesSent.WithLabelValues(string(m.Kind)).Inc()
	projection, err := h.st.Messages.GetProjection(ctx, m.ID)
	if err != nil {
		logger.Errorf("ws load projection %s: %v", m.ID, err)
		projection = m
		projection.Sender = &sender
	}
	h.broadcastToRoom(m.ChatID, OutgoingMessage{Type: EventMessage, Payload: newMessagePayload{Message: projection, IsNew: true}}, nil)

	members, err := h.st.Chats.GetMembers(ctx, m.ChatID)
	if err != nil {
		logger.Errorf("ws get members chat=%s: %v", m.ChatID, err)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit)
	for _, member := range members {
		member := member
		if member.ID == sender.ID {
			continue
		}
		g.Go(func() error {
			if h.push != nil && !h.IsOnline(member.ID) && member.CanReceivePush() {
				h.push.Notify(member.PushToken, "New message", "New message from "+sender.Username)
			}
			if err := h.st.Unread.Increment(gctx, member.ID, m.ChatID, m.ID, sender.ID); err != nil {
				logger.Errorf("ws unread increment user=%s chat=%s: %v", member.ID, m.ChatID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	h.broadcastToRoom(m.ChatID, OutgoingMessage{Type: EventUnreadMessage, Payload: unreadMessagePayload{
		ChatID: m.ChatID,
		Message: unreadShape{
			TextMessageContent: m.TextMessageContent,
			URL:                m.URL != nil,
			Attachments:        len(m.Attachments) > 0 || m.Kind == model.KindAttachments,
			Poll:               m.PollID != nil,
			Audio:              m.Kind.IsAudio(),
			CreatedAt:          m.CreatedAt,
		},
		Sender: sender,
	}}, nil)
}

func (h *Hub) deleteBlobs(ctx context.Context, ids []string) {
	if h.blobs == nil {
		return
	}
	for _, id := range ids {
		if err := h.blobs.Delete(context.WithoutCancel(ctx), id); err != nil {
			logger.Errorf("ws delete blob %s: %v", id, err)
		}
	}
}

func (h *Hub) handleMessageSeen(ctx context.Context, c *Client, raw json.RawMessage) {
	var p chatIn
	if !h.decode(c, raw, &p) || !h.requireMember(ctx, c, p.ChatID) {
		return
	}
	now := time.Now().UTC()
	ok, err := h.st.Unread.MarkSeen(ctx, c.userID, p.ChatID, now)
	if err != nil {
		logger.Errorf("ws mark seen chat=%s user=%s: %v", p.ChatID, c.userID, err)
		return
	}
	if !ok {
		return
	}
	h.broadcastToRoom(p.ChatID, OutgoingMessage{Type: EventMessageSeen, Payload: seenPayload{
		User:   c.user,
		ChatID: p.ChatID,
		ReadAt: now,
	}}, nil)
}

// handleTyping: членство проверяется по комнатам в памяти, без похода в БД.
func (h *Hub) handleTyping(ctx context.Context, c *Client, raw json.RawMessage) {
	var p chatIn
	if !h.decode(c, raw, &p) || p.ChatID == "" {
		return
	}
	if !h.reg.InRoom(c.userID, p.ChatID) {
		return
	}
	h.broadcastToRoom(p.ChatID, OutgoingMessage{Type: EventUserTyping, Payload: typingPayload{User: c.user, ChatID: p.ChatID}}, c)
}
