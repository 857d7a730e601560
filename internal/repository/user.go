package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baatchit/internal/logger"
	"github.com/baatchit/internal/model"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyPinned = errors.New("message already pinned")
	ErrNotMember     = errors.New("user is not a member")
	ErrTooFewMembers = errors.New("not enough members")
)

// isUniqueViolation: нарушение уникального ограничения (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const userCols = `id, username, avatar, is_online, last_seen, notifications_enabled, push_token, created_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// scanUser сканирует строку в model.User (порядок соответствует userCols).
func scanUser(s interface{ Scan(dest ...any) error }, u *model.User) error {
	return s.Scan(&u.ID, &u.Username, &u.Avatar, &u.IsOnline, &u.LastSeen, &u.NotificationsEnabled, &u.PushToken, &u.CreatedAt)
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, username, avatar, is_online, last_seen, notifications_enabled, push_token, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Username, u.Avatar, u.IsOnline, u.LastSeen, u.NotificationsEnabled, u.PushToken, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("userRepo.Create: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}

// SetOnline обновляет флаг присутствия; last_seen пишется в обоих направлениях.
func (r *UserRepository) SetOnline(ctx context.Context, userID string, online bool, at time.Time) error {
	defer logger.DeferLogDuration("user.SetOnline", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET is_online = $1, last_seen = $2 WHERE id = $3`,
		online, at, userID,
	)
	if err != nil {
		return fmt.Errorf("userRepo.SetOnline: %w", err)
	}
	return nil
}

// ResetOnline сбрасывает is_online у всех (реестр соединений после рестарта пуст).
func (r *UserRepository) ResetOnline(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `UPDATE users SET is_online = false WHERE is_online`); err != nil {
		return fmt.Errorf("userRepo.ResetOnline: %w", err)
	}
	return nil
}

func (r *UserRepository) UpdatePush(ctx context.Context, userID, token string, enabled bool) error {
	defer logger.DeferLogDuration("user.UpdatePush", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET push_token = $1, notifications_enabled = $2 WHERE id = $3`,
		token, enabled, userID,
	)
	if err != nil {
		return fmt.Errorf("userRepo.UpdatePush: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearPushToken удаляет протухший токен (push-сервис ответил 410).
func (r *UserRepository) ClearPushToken(ctx context.Context, token string) error {
	defer logger.DeferLogDuration("user.ClearPushToken", time.Now())()
	if _, err := r.pool.Exec(ctx, `UPDATE users SET push_token = '' WHERE push_token = $1`, token); err != nil {
		return fmt.Errorf("userRepo.ClearPushToken: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	defer logger.DeferLogDuration("user.GetByIDs", time.Now())()
	rows, err := r.pool.Query(ctx, `SELECT `+userCols+` FROM users WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetByIDs query: %w", err)
	}
	defer rows.Close()
	users := make([]model.User, 0, len(ids))
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("userRepo.GetByIDs scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.GetByIDs rows: %w", err)
	}
	return users, nil
}
