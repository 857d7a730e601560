package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/baatchit/internal/model"
)

// Интерфейсы хранилища, которые использует хаб. Реализации: internal/repository;
// в тестах: in-memory.

type UserStore interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	SetOnline(ctx context.Context, userID string, online bool, at time.Time) error
}

type ChatStore interface {
	GetUserChatIDs(ctx context.Context, userID string) ([]string, error)
	GetMembers(ctx context.Context, chatID string) ([]model.User, error)
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
}

type MessageStore interface {
	Create(ctx context.Context, m *model.Message, poll *model.Poll, attachments []model.Attachment) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	GetProjection(ctx context.Context, id string) (*model.Message, error)
	UpdateText(ctx context.Context, id, text string, at time.Time) error
	DeleteCascade(ctx context.Context, id string) ([]string, error)
}

type ReactionStore interface {
	Create(ctx context.Context, r *model.Reaction) (bool, error)
	DeleteByUser(ctx context.Context, messageID, userID string) (int64, error)
}

type PinStore interface {
	Pin(ctx context.Context, p *model.PinnedMessage, limit int) (*model.PinnedMessage, error)
	GetByID(ctx context.Context, id string) (*model.PinnedMessage, error)
	Unpin(ctx context.Context, pinID string) (*model.PinnedMessage, error)
}

type PollStore interface {
	GetByID(ctx context.Context, id string) (*model.Poll, error)
	AddVote(ctx context.Context, v *model.Vote) (bool, error)
	RemoveVote(ctx context.Context, pollID, userID string, optionIndex int) (bool, error)
}

type UnreadStore interface {
	Increment(ctx context.Context, userID, chatID, messageID, senderID string) error
	MarkSeen(ctx context.Context, userID, chatID string, at time.Time) (bool, error)
}

// Stores: набор хранилищ для NewHub.
type Stores struct {
	Users     UserStore
	Chats     ChatStore
	Messages  MessageStore
	Reactions ReactionStore
	Pins      PinStore
	Polls     PollStore
	Unread    UnreadStore
}

// PushNotifier ставит пуш в фоновую очередь и никогда не блокирует.
type PushNotifier interface {
	Notify(token, title, body string)
}

// EventLimiter ограничивает частоту входящих событий пользователя.
type EventLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// CallHandler обрабатывает события звонков. Возвращает false, если тип события ему не принадлежит.
type CallHandler interface {
	Handle(ctx context.Context, user model.UserSummary, event string, payload json.RawMessage) bool
}
