package ws

import (
	"encoding/json"
	"time"

	"github.com/baatchit/internal/model"
)

// Имена событий WS-протокола (в обе стороны, если не указано иное).
const (
	EventMessage         = "MESSAGE"
	EventUnreadMessage   = "UNREAD_MESSAGE" // out
	EventMessageSeen     = "MESSAGE_SEEN"
	EventMessageEdit     = "MESSAGE_EDIT"
	EventMessageDelete   = "MESSAGE_DELETE"
	EventNewReaction     = "NEW_REACTION"
	EventDeleteReaction  = "DELETE_REACTION"
	EventUserTyping      = "USER_TYPING"
	EventVoteIn          = "VOTE_IN"
	EventVoteOut         = "VOTE_OUT"
	EventPinMessage      = "PIN_MESSAGE"
	EventUnpinMessage    = "UNPIN_MESSAGE"
	EventPinLimitReached = "PIN_LIMIT_REACHED" // out
	EventOnlineUser      = "ONLINE_USER"       // out
	EventOfflineUser     = "OFFLINE_USER"      // out
	EventOnlineUsersList = "ONLINE_USERS_LIST" // out
	EventNewChat         = "NEW_CHAT"          // out
	EventNewMemberAdded  = "NEW_MEMBER_ADDED"  // out
	EventMemberRemoved   = "MEMBER_REMOVED"    // out
	EventDeleteChat      = "DELETE_CHAT"       // out
	EventGroupChatUpdate = "GROUP_CHAT_UPDATE" // out
	EventError           = "ERROR"             // out, только отправителю
)

// IncomingMessage: конверт от клиента; Payload декодируется обработчиком события.
type IncomingMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// OutgoingMessage is what the server sends to the client.
type OutgoingMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// --- inbound payloads ---

type pollData struct {
	PollQuestion      string   `json:"pollQuestion"`
	PollOptions       []string `json:"pollOptions"`
	IsMultipleAnswers bool     `json:"isMultipleAnswers"`
}

// messageIn: аудио приходит как base64 в JSON ([]byte).
type messageIn struct {
	ChatID             string    `json:"chatId"`
	IsPollMessage      bool      `json:"isPollMessage"`
	PollData           *pollData `json:"pollData"`
	TextMessageContent string    `json:"textMessageContent"`
	URL                string    `json:"url"`
	EncryptedAudio     []byte    `json:"encryptedAudio"`
	Audio              []byte    `json:"audio"`
	ReplyToMessageID   string    `json:"replyToMessageId"`
}

type chatIn struct {
	ChatID string `json:"chatId"`
}

type messageRefIn struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

type reactionIn struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	Reaction  string `json:"reaction"`
}

// editIn: входящее поле updatedTextContent, исходящее (editPayload) updatedTextMessageContent.
type editIn struct {
	ChatID             string `json:"chatId"`
	MessageID          string `json:"messageId"`
	UpdatedTextContent string `json:"updatedTextContent"`
}

type unpinIn struct {
	PinID string `json:"pinId"`
}

type voteIn struct {
	ChatID      string `json:"chatId"`
	MessageID   string `json:"messageId"`
	OptionIndex *int   `json:"optionIndex"`
}

// --- outbound payloads ---

type errorPayload struct {
	Message string `json:"message"`
}

type userIDPayload struct {
	UserID string `json:"userId"`
}

type onlineUsersPayload struct {
	OnlineUserIDs []string `json:"onlineUserIds"`
}

// newMessagePayload: полная проекция сообщения с флагом isNew.
type newMessagePayload struct {
	*model.Message
	IsNew bool `json:"isNew"`
}

// unreadShape: форма содержимого без полного текста для бейджей.
type unreadShape struct {
	TextMessageContent *string   `json:"textMessageContent,omitempty"`
	URL                bool      `json:"url"`
	Attachments        bool      `json:"attachments"`
	Poll               bool      `json:"poll"`
	Audio              bool      `json:"audio"`
	CreatedAt          time.Time `json:"createdAt"`
}

type unreadMessagePayload struct {
	ChatID  string            `json:"chatId"`
	Message unreadShape       `json:"message"`
	Sender  model.UserSummary `json:"sender"`
}

type seenPayload struct {
	User   model.UserSummary `json:"user"`
	ChatID string            `json:"chatId"`
	ReadAt time.Time         `json:"readAt"`
}

type typingPayload struct {
	User   model.UserSummary `json:"user"`
	ChatID string            `json:"chatId"`
}

type newReactionPayload struct {
	ChatID    string            `json:"chatId"`
	MessageID string            `json:"messageId"`
	User      model.UserSummary `json:"user"`
	Reaction  string            `json:"reaction"`
}

type deleteReactionPayload struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

type editPayload struct {
	ChatID                    string `json:"chatId"`
	MessageID                 string `json:"messageId"`
	UpdatedTextMessageContent string `json:"updatedTextMessageContent"`
}

type deletePayload struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

type pinLimitPayload struct {
	OldestPinID string `json:"oldestPinId"`
	MessageID   string `json:"messageId"`
	ChatID      string `json:"chatId"`
}

type unpinPayload struct {
	PinID     string `json:"pinId"`
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

type voteInPayload struct {
	MessageID   string            `json:"messageId"`
	OptionIndex int               `json:"optionIndex"`
	User        model.UserSummary `json:"user"`
	ChatID      string            `json:"chatId"`
}

type voteOutPayload struct {
	ChatID      string `json:"chatId"`
	MessageID   string `json:"messageId"`
	OptionIndex int    `json:"optionIndex"`
	UserID      string `json:"userId"`
}

type newChatPayload struct {
	Chat *model.ChatWithMembers `json:"chat"`
}

type membersAddedPayload struct {
	ChatID  string              `json:"chatId"`
	Members []model.UserSummary `json:"members"`
}

type membersRemovedPayload struct {
	ChatID    string   `json:"chatId"`
	MembersID []string `json:"membersId"`
}

type deleteChatPayload struct {
	ChatID string `json:"chatId"`
}

type groupUpdatePayload struct {
	ChatID     string `json:"chatId"`
	ChatName   string `json:"chatName"`
	ChatAvatar string `json:"chatAvatar"`
}
