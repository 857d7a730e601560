package middleware

import (
	"context"

	"github.com/baatchit/internal/model"
)

type contextKey string

const userKey contextKey = "user"

// WithUser кладёт аутентифицированного пользователя в контекст (Auth, тесты обработчиков).
func WithUser(ctx context.Context, u *model.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

func GetUser(ctx context.Context) *model.User {
	u, _ := ctx.Value(userKey).(*model.User)
	return u
}

// GetUserID возвращает id пользователя из контекста или "".
func GetUserID(ctx context.Context) string {
	if u := GetUser(ctx); u != nil {
		return u.ID
	}
	return ""
}
