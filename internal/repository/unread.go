package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baatchit/internal/logger"
	"github.com/baatchit/internal/model"
)

type UnreadRepository struct {
	pool *pgxpool.Pool
}

func NewUnreadRepository(pool *pgxpool.Pool) *UnreadRepository {
	return &UnreadRepository{pool: pool}
}

// Increment: атомарный upsert счётчика, +1 к существующему или новая строка с 1.
func (r *UnreadRepository) Increment(ctx context.Context, userID, chatID, messageID, senderID string) error {
	defer logger.DeferLogDuration("unread.Increment", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO unread_messages (user_id, chat_id, count, message_id, sender_id)
		 VALUES ($1, $2, 1, $3, $4)
		 ON CONFLICT (user_id, chat_id) DO UPDATE
		 SET count = unread_messages.count + 1, message_id = EXCLUDED.message_id, sender_id = EXCLUDED.sender_id`,
		userID, chatID, messageID, senderID,
	)
	if err != nil {
		return fmt.Errorf("unreadRepo.Increment: %w", err)
	}
	return nil
}

// MarkSeen обнуляет счётчик (строка не удаляется). false: строки нет.
func (r *UnreadRepository) MarkSeen(ctx context.Context, userID, chatID string, at time.Time) (bool, error) {
	defer logger.DeferLogDuration("unread.MarkSeen", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE unread_messages SET count = 0, read_at = $3 WHERE user_id = $1 AND chat_id = $2`,
		userID, chatID, at,
	)
	if err != nil {
		return false, fmt.Errorf("unreadRepo.MarkSeen: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *UnreadRepository) Get(ctx context.Context, userID, chatID string) (*model.UnreadMessage, error) {
	defer logger.DeferLogDuration("unread.Get", time.Now())()
	u := &model.UnreadMessage{}
	var senderID *string
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, chat_id, count, message_id, sender_id, read_at
		 FROM unread_messages WHERE user_id = $1 AND chat_id = $2`, userID, chatID,
	).Scan(&u.UserID, &u.ChatID, &u.Count, &u.MessageID, &senderID, &u.ReadAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("unreadRepo.Get: %w", err)
	}
	if senderID != nil {
		u.SenderID = *senderID
	}
	return u, nil
}
