// Package service: управление чатами: создание, участники, переименование группы.
// Изменения фиксируются в БД, затем рассылаются через ws.Hub.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/baatchit/internal/blob"
	"github.com/baatchit/internal/logger"
	"github.com/baatchit/internal/model"
	"github.com/baatchit/internal/repository"
)

var (
	ErrNotAdmin       = errors.New("only the group admin can do this")
	ErrNotGroup       = errors.New("chat is not a group")
	ErrTooFewMembers  = errors.New("not enough members")
	ErrAlreadyMember  = errors.New("user is already a member")
	ErrNotMember      = errors.New("user is not a member")
	ErrNameRequired   = errors.New("group name required")
	ErrUserNotFound   = errors.New("user not found")
	ErrChatNotFound   = errors.New("chat not found")
	ErrNothingToApply = errors.New("nothing to update")
	ErrNoBlobStore    = errors.New("file storage not configured")
)

type ChatStore interface {
	Create(ctx context.Context, c *model.Chat, memberIDs []string) error
	GetByID(ctx context.Context, id string) (*model.Chat, error)
	FindPersonalChat(ctx context.Context, userID1, userID2 string) (*model.Chat, error)
	GetMemberIDs(ctx context.Context, chatID string) ([]string, error)
	AddMembers(ctx context.Context, chatID string, userIDs []string) error
	RemoveMembers(ctx context.Context, chatID string, userIDs []string) (newAdminID *string, err error)
	UpdateGroup(ctx context.Context, id, name, avatar, avatarPublicID string) error
}

type UserStore interface {
	GetByIDs(ctx context.Context, ids []string) ([]model.User, error)
}

// Broadcaster: рассылки хаба после коммита.
type Broadcaster interface {
	ChatCreated(chat *model.ChatWithMembers)
	MembersAdded(chat *model.ChatWithMembers, added []model.UserSummary)
	MembersRemoved(chatID string, removedIDs []string)
	GroupUpdated(chat *model.Chat)
}

type ChatService struct {
	chats ChatStore
	users UserStore
	hub   Broadcaster
	blobs blob.Store
}

// NewChatService: blobs может быть nil: тогда аватар группы не меняется.
func NewChatService(chats ChatStore, users UserStore, hub Broadcaster, blobs blob.Store) *ChatService {
	return &ChatService{chats: chats, users: users, hub: hub, blobs: blobs}
}

type CreateChatInput struct {
	IsGroupChat bool     `json:"isGroupChat"`
	Name        string   `json:"name"`
	Members     []string `json:"members"`
}

// Avatar: новый файл аватара группы.
type Avatar struct {
	Name string
	Body io.Reader
}

// uniqueOthers убирает дубликаты, пустые id и самого пользователя.
func uniqueOthers(ids []string, self string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || id == self {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// CreateChat: группа: название и минимум 2 других участника, создатель становится админом.
// Личный чат: ровно 1 другой участник; существующая пара переиспользуется (created=false, без рассылки).
func (s *ChatService) CreateChat(ctx context.Context, creatorID string, in CreateChatInput) (*model.ChatWithMembers, bool, error) {
	defer logger.DeferLogDuration("service.CreateChat", time.Now())()
	others := uniqueOthers(in.Members, creatorID)
	name := strings.TrimSpace(in.Name)

	if in.IsGroupChat {
		if name == "" {
			return nil, false, ErrNameRequired
		}
		if len(others) < 2 {
			return nil, false, ErrTooFewMembers
		}
	} else {
		if len(others) != 1 {
			return nil, false, ErrTooFewMembers
		}
		existing, err := s.chats.FindPersonalChat(ctx, creatorID, others[0])
		if err == nil {
			chat, err := s.withMembers(ctx, existing)
			return chat, false, err
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, false, err
		}
		name = ""
	}

	memberIDs := append([]string{creatorID}, others...)
	if _, err := s.requireUsers(ctx, memberIDs); err != nil {
		return nil, false, err
	}

	chat := &model.Chat{
		ID:          uuid.New().String(),
		IsGroupChat: in.IsGroupChat,
		Name:        name,
		CreatedAt:   time.Now().UTC(),
	}
	if in.IsGroupChat {
		chat.AdminID = &creatorID
	}
	if err := s.chats.Create(ctx, chat, memberIDs); err != nil {
		return nil, false, err
	}
	full, err := s.withMembers(ctx, chat)
	if err != nil {
		return nil, false, err
	}
	s.hub.ChatCreated(full)
	return full, true, nil
}

// AddMembers: только админ группы; уже состоящие участники отклоняются.
func (s *ChatService) AddMembers(ctx context.Context, actorID, chatID string, ids []string) (*model.ChatWithMembers, error) {
	defer logger.DeferLogDuration("service.AddMembers", time.Now())()
	chat, err := s.adminGroup(ctx, actorID, chatID)
	if err != nil {
		return nil, err
	}
	ids = uniqueOthers(ids, actorID)
	if len(ids) == 0 {
		return nil, ErrTooFewMembers
	}
	current, err := s.chats.GetMemberIDs(ctx, chatID)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if slices.Contains(current, id) {
			return nil, ErrAlreadyMember
		}
	}
	added, err := s.requireUsers(ctx, ids)
	if err != nil {
		return nil, err
	}
	if err := s.chats.AddMembers(ctx, chatID, ids); err != nil {
		return nil, err
	}
	full, err := s.withMembers(ctx, chat)
	if err != nil {
		return nil, err
	}
	summaries := make([]model.UserSummary, 0, len(added))
	for i := range added {
		summaries = append(summaries, added[i].Summary())
	}
	s.hub.MembersAdded(full, summaries)
	return full, nil
}

// RemoveMembers: только админ группы. Состав проверяется в хранилище под блокировкой чата:
// должно остаться минимум 2 участника; если удаляется админ, им становится первый из оставшихся.
func (s *ChatService) RemoveMembers(ctx context.Context, actorID, chatID string, ids []string) error {
	defer logger.DeferLogDuration("service.RemoveMembers", time.Now())()
	if _, err := s.adminGroup(ctx, actorID, chatID); err != nil {
		return err
	}
	ids = uniqueOthers(ids, "")
	if len(ids) == 0 {
		return ErrTooFewMembers
	}
	newAdmin, err := s.chats.RemoveMembers(ctx, chatID, ids)
	switch {
	case errors.Is(err, repository.ErrTooFewMembers):
		return ErrTooFewMembers
	case errors.Is(err, repository.ErrNotMember):
		return ErrNotMember
	case errors.Is(err, repository.ErrNotFound):
		return ErrChatNotFound
	case err != nil:
		return err
	}
	if newAdmin != nil {
		logger.Infof("service chat %s admin -> %s", chatID, *newAdmin)
	}
	s.hub.MembersRemoved(chatID, ids)
	return nil
}

// UpdateGroup меняет название и/или аватар группы (любой участник).
// Старый аватар удаляется после коммита; при ошибке БД удаляется новый.
func (s *ChatService) UpdateGroup(ctx context.Context, actorID, chatID, name string, avatar *Avatar) (*model.Chat, error) {
	defer logger.DeferLogDuration("service.UpdateGroup", time.Now())()
	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsGroupChat {
		return nil, ErrNotGroup
	}
	current, err := s.chats.GetMemberIDs(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(current, actorID) {
		return nil, ErrNotMember
	}
	name = strings.TrimSpace(name)
	if name == "" && avatar == nil {
		return nil, ErrNothingToApply
	}

	updated := *chat
	if name != "" {
		updated.Name = name
	}
	if avatar != nil {
		if s.blobs == nil {
			return nil, ErrNoBlobStore
		}
		obj, err := s.blobs.Upload(ctx, blob.FolderGroupAvatars, avatar.Name, avatar.Body)
		if err != nil {
			return nil, fmt.Errorf("group avatar: %w", err)
		}
		updated.Avatar, updated.AvatarPublicID = obj.URL, obj.PublicID
	}
	if err := s.chats.UpdateGroup(ctx, chatID, updated.Name, updated.Avatar, updated.AvatarPublicID); err != nil {
		if avatar != nil {
			s.deleteBlob(ctx, updated.AvatarPublicID)
		}
		return nil, err
	}
	if avatar != nil && chat.AvatarPublicID != "" {
		s.deleteBlob(ctx, chat.AvatarPublicID)
	}
	s.hub.GroupUpdated(&updated)
	return &updated, nil
}

func (s *ChatService) deleteBlob(ctx context.Context, publicID string) {
	if err := s.blobs.Delete(context.WithoutCancel(ctx), publicID); err != nil {
		logger.Errorf("service delete blob %s: %v", publicID, err)
	}
}

func (s *ChatService) loadChat(ctx context.Context, chatID string) (*model.Chat, error) {
	chat, err := s.chats.GetByID(ctx, chatID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrChatNotFound
	}
	return chat, err
}

func (s *ChatService) adminGroup(ctx context.Context, actorID, chatID string) (*model.Chat, error) {
	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsGroupChat {
		return nil, ErrNotGroup
	}
	if !chat.IsAdmin(actorID) {
		return nil, ErrNotAdmin
	}
	return chat, nil
}

// requireUsers проверяет, что все пользователи существуют.
func (s *ChatService) requireUsers(ctx context.Context, ids []string) ([]model.User, error) {
	users, err := s.users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(users) != len(ids) {
		return nil, ErrUserNotFound
	}
	return users, nil
}

func (s *ChatService) withMembers(ctx context.Context, chat *model.Chat) (*model.ChatWithMembers, error) {
	ids, err := s.chats.GetMemberIDs(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	users, err := s.users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.UserSummary, len(users))
	for i := range users {
		byID[users[i].ID] = users[i].Summary()
	}
	members := make([]model.UserSummary, 0, len(ids))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			members = append(members, u)
		}
	}
	return &model.ChatWithMembers{Chat: *chat, Members: members}, nil
}
