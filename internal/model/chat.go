package model

import "time"

type Chat struct {
	ID              string    `json:"id"`
	IsGroupChat     bool      `json:"isGroupChat"`
	Name            string    `json:"name"`
	Avatar          string    `json:"avatar"`
	AvatarPublicID  string    `json:"-"`
	AdminID         *string   `json:"adminId,omitempty"`
	LatestMessageID *string   `json:"latestMessageId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

type ChatMember struct {
	ChatID   string    `json:"chatId"`
	UserID   string    `json:"userId"`
	JoinedAt time.Time `json:"joinedAt"`
}

// ChatWithMembers: чат вместе с участниками (ответ REST и payload NEW_CHAT).
type ChatWithMembers struct {
	Chat
	Members []UserSummary `json:"members"`
}

// IsAdmin сообщает, является ли userID администратором группы.
func (c *Chat) IsAdmin(userID string) bool {
	return c.IsGroupChat && c.AdminID != nil && *c.AdminID == userID
}

// ChatListItem: строка списка чатов пользователя: состав, последнее сообщение и его непрочитанные.
type ChatListItem struct {
	ChatWithMembers
	LatestMessage *Message       `json:"latestMessage,omitempty"`
	Unread        *UnreadMessage `json:"unread,omitempty"`
}
