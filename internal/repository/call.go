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

const callCols = `id, caller_id, callee_id, state, started_at, ended_at, duration`

type CallRepository struct {
	pool *pgxpool.Pool
}

func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

func scanCall(s interface{ Scan(dest ...any) error }, c *model.CallHistory) error {
	return s.Scan(&c.ID, &c.CallerID, &c.CalleeID, &c.State, &c.StartedAt, &c.EndedAt, &c.Duration)
}

func (r *CallRepository) Create(ctx context.Context, c *model.CallHistory) error {
	defer logger.DeferLogDuration("call.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO call_history (id, caller_id, callee_id, state, started_at, ended_at, duration)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.CallerID, c.CalleeID, c.State, c.StartedAt, c.EndedAt, c.Duration,
	)
	if err != nil {
		return fmt.Errorf("callRepo.Create: %w", err)
	}
	return nil
}

func (r *CallRepository) GetByID(ctx context.Context, id string) (*model.CallHistory, error) {
	defer logger.DeferLogDuration("call.GetByID", time.Now())()
	c := &model.CallHistory{}
	err := scanCall(r.pool.QueryRow(ctx, `SELECT `+callCols+` FROM call_history WHERE id = $1`, id), c)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("callRepo.GetByID: %w", err)
	}
	return c, nil
}

// Transition: compare-and-set состояния. endedAt != nil фиксирует окончание и длительность в секундах.
// false: состояние уже изменилось конкурентно.
func (r *CallRepository) Transition(ctx context.Context, id string, from, to model.CallState, endedAt *time.Time) (bool, error) {
	defer logger.DeferLogDuration("call.Transition", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE call_history
		 SET state = $3,
		     ended_at = COALESCE($4, ended_at),
		     duration = CASE WHEN $4::timestamptz IS NULL THEN duration
		                     ELSE GREATEST(0, EXTRACT(EPOCH FROM ($4::timestamptz - started_at)))::int END
		 WHERE id = $1 AND state = $2`,
		id, from, to, endedAt,
	)
	if err != nil {
		return false, fmt.Errorf("callRepo.Transition: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListStale возвращает звонки, зависшие в INITIATED/RINGING дольше before.
func (r *CallRepository) ListStale(ctx context.Context, before time.Time) ([]model.CallHistory, error) {
	defer logger.DeferLogDuration("call.ListStale", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+callCols+` FROM call_history
		 WHERE state IN ('INITIATED', 'RINGING') AND started_at < $1
		 ORDER BY started_at LIMIT 500`, before)
	if err != nil {
		return nil, fmt.Errorf("callRepo.ListStale query: %w", err)
	}
	defer rows.Close()
	var calls []model.CallHistory
	for rows.Next() {
		var c model.CallHistory
		if err := scanCall(rows, &c); err != nil {
			return nil, fmt.Errorf("callRepo.ListStale scan: %w", err)
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("callRepo.ListStale rows: %w", err)
	}
	return calls, nil
}
