package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/baatchit/internal/blob"
	"github.com/baatchit/internal/logger"
	"github.com/baatchit/internal/middleware"
	"github.com/baatchit/internal/model"
	"github.com/baatchit/internal/service"
)

type ChatManager interface {
	CreateChat(ctx context.Context, creatorID string, in service.CreateChatInput) (*model.ChatWithMembers, bool, error)
	AddMembers(ctx context.Context, actorID, chatID string, ids []string) (*model.ChatWithMembers, error)
	RemoveMembers(ctx context.Context, actorID, chatID string, ids []string) error
	UpdateGroup(ctx context.Context, actorID, chatID, name string, avatar *service.Avatar) (*model.Chat, error)
}

// ChatLister (ChatRepository) отдаёт список чатов пользователя.
type ChatLister interface {
	ListForUser(ctx context.Context, userID string) ([]model.ChatListItem, error)
}

type ChatHandler struct {
	chats         ChatManager
	list          ChatLister
	maxUploadSize int64
}

func NewChatHandler(chats ChatManager, list ChatLister, maxUploadSize int64) *ChatHandler {
	return &ChatHandler{chats: chats, list: list, maxUploadSize: maxUploadSize}
}

type membersRequest struct {
	Members []string `json:"members"`
}

// writeServiceError переводит ошибки service в HTTP-статус.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrNotAdmin):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrUserNotFound), errors.Is(err, service.ErrChatNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrNotGroup),
		errors.Is(err, service.ErrTooFewMembers),
		errors.Is(err, service.ErrAlreadyMember),
		errors.Is(err, service.ErrNotMember),
		errors.Is(err, service.ErrNameRequired),
		errors.Is(err, service.ErrNothingToApply),
		errors.Is(err, blob.ErrBlockedExt):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Errorf("%s: %v", op, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// ListChats: GET /api/chats: чаты текущего пользователя с участниками, последним сообщением и непрочитанными.
func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("ListChats", time.Now())()
	userID := middleware.GetUserID(r.Context())
	chats, err := h.list.ListForUser(r.Context(), userID)
	if err != nil {
		logger.Errorf("ListChats user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to load chats")
		return
	}
	writeList(w, chats)
}

// CreateChat: POST /api/chats. Существующий личный чат возвращается с 200.
func (h *ChatHandler) CreateChat(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("CreateChat", time.Now())()
	var in service.CreateChatInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	chat, created, err := h.chats.CreateChat(r.Context(), middleware.GetUserID(r.Context()), in)
	if err != nil {
		writeServiceError(w, "CreateChat", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, chat)
}

func (h *ChatHandler) AddMembers(w http.ResponseWriter, r *http.Request) {
	var req membersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Members) == 0 {
		writeError(w, http.StatusBadRequest, "members required")
		return
	}
	chat, err := h.chats.AddMembers(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), req.Members)
	if err != nil {
		writeServiceError(w, "AddMembers", err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (h *ChatHandler) RemoveMembers(w http.ResponseWriter, r *http.Request) {
	var req membersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Members) == 0 {
		writeError(w, http.StatusBadRequest, "members required")
		return
	}
	if err := h.chats.RemoveMembers(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), req.Members); err != nil {
		writeServiceError(w, "RemoveMembers", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateGroup: PATCH /api/chats/{id}, multipart: name и/или avatar.
func (h *ChatHandler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+(1<<20))
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	var avatar *service.Avatar
	if f, fh, err := r.FormFile("avatar"); err == nil {
		defer f.Close()
		avatar = &service.Avatar{Name: fh.Filename, Body: f}
	} else if !errors.Is(err, http.ErrMissingFile) {
		writeError(w, http.StatusBadRequest, "failed to read avatar")
		return
	}

	chat, err := h.chats.UpdateGroup(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), r.FormValue("name"), avatar)
	if err != nil {
		writeServiceError(w, "UpdateGroup", err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}
