package handler

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/baatchit/internal/logger"
	"github.com/baatchit/internal/middleware"
	"github.com/baatchit/internal/model"
	"github.com/baatchit/internal/repository"
	"github.com/baatchit/internal/ws"
)

type MessageStore interface {
	ListProjections(ctx context.Context, chatID string, limit, offset int) ([]*model.Message, int, error)
	ListAttachments(ctx context.Context, chatID string) ([]model.Attachment, error)
}

type PinnedStore interface {
	ListByChat(ctx context.Context, chatID string) ([]model.PinnedMessage, error)
}

type UnreadStore interface {
	Get(ctx context.Context, userID, chatID string) (*model.UnreadMessage, error)
}

type MembershipChecker interface {
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
}

// AttachmentSender (ws.Hub) сохраняет сообщение с файлами и рассылает его в комнату.
type AttachmentSender interface {
	SendAttachmentMessage(ctx context.Context, sender model.UserSummary, chatID, text string, files []ws.FileUpload) (*model.Message, error)
}

type MessageHandler struct {
	messages      MessageStore
	pinned        PinnedStore
	unread        UnreadStore
	chats         MembershipChecker
	sender        AttachmentSender
	maxUploadSize int64
}

func NewMessageHandler(messages MessageStore, pinned PinnedStore, unread UnreadStore, chats MembershipChecker, sender AttachmentSender, maxUploadSize int64) *MessageHandler {
	return &MessageHandler{messages: messages, pinned: pinned, unread: unread, chats: chats, sender: sender, maxUploadSize: maxUploadSize}
}

type historyResponse struct {
	Messages   []*model.Message `json:"messages"`
	TotalPages int              `json:"totalPages"`
}

// member отвечает 403/500 сам; false: запрос уже завершён.
func (h *MessageHandler) member(w http.ResponseWriter, r *http.Request, chatID string) bool {
	ok, err := h.chats.IsMember(r.Context(), chatID, middleware.GetUserID(r.Context()))
	if err != nil {
		logger.Errorf("membership chat=%s: %v", chatID, err)
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return false
	}
	if !ok {
		writeError(w, http.StatusForbidden, "not a member of this chat")
		return false
	}
	return true
}

// GetMessages: GET /api/chats/{chatId}/messages?page=&limit=, новые сначала.
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("GetMessages", time.Now())()
	chatID := chi.URLParam(r, "chatId")
	if !h.member(w, r, chatID) {
		return
	}
	limit, offset := page(r)
	msgs, total, err := h.messages.ListProjections(r.Context(), chatID, limit, offset)
	if err != nil {
		logger.Errorf("GetMessages chat=%s: %v", chatID, err)
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	if msgs == nil {
		msgs = []*model.Message{}
	}
	writeJSON(w, http.StatusOK, historyResponse{
		Messages:   msgs,
		TotalPages: (total + limit - 1) / limit,
	})
}

func (h *MessageHandler) GetPinned(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	if !h.member(w, r, chatID) {
		return
	}
	pins, err := h.pinned.ListByChat(r.Context(), chatID)
	if err != nil {
		logger.Errorf("GetPinned chat=%s: %v", chatID, err)
		writeError(w, http.StatusInternalServerError, "failed to load pinned messages")
		return
	}
	writeList(w, pins)
}

// GetAttachments: GET /api/chats/{chatId}/attachments: файлы чата, новые сначала.
func (h *MessageHandler) GetAttachments(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	if !h.member(w, r, chatID) {
		return
	}
	files, err := h.messages.ListAttachments(r.Context(), chatID)
	if err != nil {
		logger.Errorf("GetAttachments chat=%s: %v", chatID, err)
		writeError(w, http.StatusInternalServerError, "failed to load attachments")
		return
	}
	writeList(w, files)
}

// GetUnread: счётчик непрочитанных текущего пользователя в чате; нет строки, значит count 0.
func (h *MessageHandler) GetUnread(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	if !h.member(w, r, chatID) {
		return
	}
	userID := middleware.GetUserID(r.Context())
	u, err := h.unread.Get(r.Context(), userID, chatID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusOK, model.UnreadMessage{UserID: userID, ChatID: chatID})
		return
	}
	if err != nil {
		logger.Errorf("GetUnread chat=%s: %v", chatID, err)
		writeError(w, http.StatusInternalServerError, "failed to load unread count")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// SendAttachments: POST /api/chats/{chatId}/attachments, multipart: files (1..5) и text.
func (h *MessageHandler) SendAttachments(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("SendAttachments", time.Now())()
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	chatID := chi.URLParam(r, "chatId")

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize*ws.MaxAttachments)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	uploads := make([]ws.FileUpload, 0, len(headers))
	for _, fh := range headers {
		if h.maxUploadSize > 0 && fh.Size > h.maxUploadSize {
			writeError(w, http.StatusBadRequest, "file too large")
			return
		}
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read file")
			return
		}
		defer func(f multipart.File) { _ = f.Close() }(f)
		uploads = append(uploads, ws.FileUpload{Name: fh.Filename, Body: f})
	}

	msg, err := h.sender.SendAttachmentMessage(r.Context(), user.Summary(), chatID, r.FormValue("text"), uploads)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, msg)
	case errors.Is(err, ws.ErrNotMember):
		writeError(w, http.StatusForbidden, "not a member of this chat")
	case errors.Is(err, ws.ErrNoFiles), errors.Is(err, ws.ErrTooManyFiles):
		writeError(w, http.StatusBadRequest, "between 1 and 5 files required")
	default:
		logger.Errorf("SendAttachments chat=%s user=%s: %v", chatID, user.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to send message")
	}
}
