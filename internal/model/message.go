package model

import "time"

// MessageKind: форма содержимого сообщения; ровно одна на сообщение.
type MessageKind string

const (
	KindText           MessageKind = "text"
	KindURL            MessageKind = "url"
	KindPoll           MessageKind = "poll"
	KindAudio          MessageKind = "audio"
	KindEncryptedAudio MessageKind = "encryptedAudio"
	KindAttachments    MessageKind = "attachments"
)

// IsAudio: голосовое (обычное или зашифрованное).
func (k MessageKind) IsAudio() bool {
	return k == KindAudio || k == KindEncryptedAudio
}

type Message struct {
	ID                 string      `json:"id"`
	ChatID             string      `json:"chatId"`
	SenderID           string      `json:"senderId"`
	Kind               MessageKind `json:"kind"`
	TextMessageContent *string     `json:"textMessageContent,omitempty"`
	URL                *string     `json:"url,omitempty"`
	PollID             *string     `json:"pollId,omitempty"`
	AudioURL           *string     `json:"audioUrl,omitempty"`
	AudioPublicID      *string     `json:"-"`
	IsEdited           bool        `json:"isEdited"`
	IsPinned           bool        `json:"isPinned"`
	ReplyToMessageID   *string     `json:"replyToMessageId,omitempty"`
	CreatedAt          time.Time   `json:"createdAt"`
	UpdatedAt          time.Time   `json:"updatedAt"`

	// Проекция для отображения (заполняется MessageRepository.GetProjection).
	Sender         *UserSummary  `json:"sender,omitempty"`
	Attachments    []Attachment  `json:"attachments"`
	Poll           *Poll         `json:"poll,omitempty"`
	Reactions      []Reaction    `json:"reactions"`
	ReplyToMessage *ReplyPreview `json:"replyToMessage,omitempty"`
}

// ReplyPreview: превью сообщения, на которое отвечают.
type ReplyPreview struct {
	ID                 string       `json:"id"`
	Kind               MessageKind  `json:"kind"`
	TextMessageContent *string      `json:"textMessageContent,omitempty"`
	Sender             *UserSummary `json:"sender,omitempty"`
}

type Attachment struct {
	ID        string `json:"id"`
	MessageID string `json:"messageId"`
	URL       string `json:"url"`
	PublicID  string `json:"-"`
	FileName  string `json:"fileName"`
}

type Reaction struct {
	ID        string       `json:"id"`
	MessageID string       `json:"messageId"`
	UserID    string       `json:"userId"`
	Reaction  string       `json:"reaction"`
	CreatedAt time.Time    `json:"createdAt"`
	User      *UserSummary `json:"user,omitempty"`
}

// PinnedMessage: закреплённое сообщение чата. Не более PinLimit на чат.
type PinnedMessage struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	MessageID string    `json:"messageId"`
	CreatedAt time.Time `json:"createdAt"`
	Message   *Message  `json:"message,omitempty"`
}

const PinLimit = 3

// UnreadMessage: счётчик непрочитанных для пары (пользователь, чат).
type UnreadMessage struct {
	UserID    string     `json:"userId"`
	ChatID    string     `json:"chatId"`
	Count     int        `json:"count"`
	MessageID *string    `json:"messageId,omitempty"`
	SenderID  string     `json:"senderId"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
}
