package model

import "time"

type User struct {
	ID                   string    `json:"id"`
	Username             string    `json:"username"`
	Avatar               string    `json:"avatar"`
	IsOnline             bool      `json:"isOnline"`
	LastSeen             time.Time `json:"lastSeen"`
	NotificationsEnabled bool      `json:"notificationsEnabled"`
	PushToken            string    `json:"-"`
	CreatedAt            time.Time `json:"createdAt"`
}

// UserSummary: краткая карточка пользователя для событий (отправитель, реакция, голос).
type UserSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, Avatar: u.Avatar}
}

// CanReceivePush: включены уведомления и зарегистрирован токен.
func (u *User) CanReceivePush() bool {
	return u.NotificationsEnabled && u.PushToken != ""
}
