package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baatchit/internal/logger"
	"github.com/baatchit/internal/model"
)

type PollRepository struct {
	pool *pgxpool.Pool
}

func NewPollRepository(pool *pgxpool.Pool) *PollRepository {
	return &PollRepository{pool: pool}
}

// GetByID возвращает опрос без голосов.
func (r *PollRepository) GetByID(ctx context.Context, id string) (*model.Poll, error) {
	defer logger.DeferLogDuration("poll.GetByID", time.Now())()
	p := &model.Poll{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, question, options, is_multiple_answers FROM polls WHERE id = $1`, id,
	).Scan(&p.ID, &p.Question, &p.Options, &p.IsMultipleAnswers)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pollRepo.GetByID: %w", err)
	}
	return p, nil
}

// AddVote создаёт голос; повторный голос за тот же вариант не дублируется (false).
func (r *PollRepository) AddVote(ctx context.Context, v *model.Vote) (bool, error) {
	defer logger.DeferLogDuration("poll.AddVote", time.Now())()
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO votes (id, poll_id, user_id, option_index) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (poll_id, user_id, option_index) DO NOTHING`,
		v.ID, v.PollID, v.UserID, v.OptionIndex,
	)
	if err != nil {
		return false, fmt.Errorf("pollRepo.AddVote: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RemoveVote удаляет ровно голос (poll, user, option). false: голоса не было.
func (r *PollRepository) RemoveVote(ctx context.Context, pollID, userID string, optionIndex int) (bool, error) {
	defer logger.DeferLogDuration("poll.RemoveVote", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM votes WHERE poll_id = $1 AND user_id = $2 AND option_index = $3`,
		pollID, userID, optionIndex,
	)
	if err != nil {
		return false, fmt.Errorf("pollRepo.RemoveVote: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func loadPolls(ctx context.Context, q querier, ids []string) (map[string]*model.Poll, error) {
	rows, err := q.Query(ctx,
		`SELECT id, question, options, is_multiple_answers FROM polls WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("polls: %w", err)
	}
	polls := make(map[string]*model.Poll, len(ids))
	for rows.Next() {
		p := &model.Poll{Votes: []model.Vote{}}
		if err := rows.Scan(&p.ID, &p.Question, &p.Options, &p.IsMultipleAnswers); err != nil {
			rows.Close()
			return nil, fmt.Errorf("polls scan: %w", err)
		}
		polls[p.ID] = p
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("polls rows: %w", err)
	}

	rows, err = q.Query(ctx,
		`SELECT v.id, v.poll_id, v.user_id, v.option_index, u.username, u.avatar
		 FROM votes v JOIN users u ON u.id = v.user_id
		 WHERE v.poll_id = ANY($1::uuid[]) ORDER BY v.option_index, v.id`, ids)
	if err != nil {
		return nil, fmt.Errorf("votes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			v  model.Vote
			us model.UserSummary
		)
		if err := rows.Scan(&v.ID, &v.PollID, &v.UserID, &v.OptionIndex, &us.Username, &us.Avatar); err != nil {
			return nil, fmt.Errorf("votes scan: %w", err)
		}
		us.ID = v.UserID
		v.User = &us
		if p, ok := polls[v.PollID]; ok {
			p.Votes = append(p.Votes, v)
		}
	}
	return polls, rows.Err()
}
