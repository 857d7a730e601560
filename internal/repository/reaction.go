package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baatchit/internal/logger"
	"github.com/baatchit/internal/model"
)

type ReactionRepository struct {
	pool *pgxpool.Pool
}

func NewReactionRepository(pool *pgxpool.Pool) *ReactionRepository {
	return &ReactionRepository{pool: pool}
}

// Create сохраняет реакцию. Если у пользователя уже есть реакция на сообщение: false (первая остаётся).
func (r *ReactionRepository) Create(ctx context.Context, re *model.Reaction) (bool, error) {
	defer logger.DeferLogDuration("reaction.Create", time.Now())()
	if re.ID == "" {
		re.ID = uuid.New().String()
	}
	if re.CreatedAt.IsZero() {
		re.CreatedAt = time.Now().UTC()
	}
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO reactions (id, message_id, user_id, reaction, created_at)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (user_id, message_id) DO NOTHING`,
		re.ID, re.MessageID, re.UserID, re.Reaction, re.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("reactionRepo.Create: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteByUser удаляет все реакции пользователя на сообщение.
func (r *ReactionRepository) DeleteByUser(ctx context.Context, messageID, userID string) (int64, error) {
	defer logger.DeferLogDuration("reaction.DeleteByUser", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM reactions WHERE message_id = $1 AND user_id = $2`,
		messageID, userID,
	)
	if err != nil {
		return 0, fmt.Errorf("reactionRepo.DeleteByUser: %w", err)
	}
	return tag.RowsAffected(), nil
}
