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

type PinnedRepository struct {
	pool *pgxpool.Pool
}

func NewPinnedRepository(pool *pgxpool.Pool) *PinnedRepository {
	return &PinnedRepository{pool: pool}
}

// Pin закрепляет сообщение. Если в чате уже limit закрепов: самый старый снимается в той же транзакции
// и возвращается как evicted. Строка чата блокируется, поэтому параллельные закрепы не превышают лимит.
func (r *PinnedRepository) Pin(ctx context.Context, p *model.PinnedMessage, limit int) (*model.PinnedMessage, error) {
	defer logger.DeferLogDuration("pinned.Pin", time.Now())()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	var evicted *model.PinnedMessage
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT 1 FROM chats WHERE id = $1 FOR UPDATE`, p.ChatID); err != nil {
			return err
		}
		rows, err := tx.Query(ctx,
			`SELECT id, chat_id, message_id, created_at FROM pinned_messages
			 WHERE chat_id = $1 ORDER BY created_at, id`, p.ChatID)
		if err != nil {
			return err
		}
		pins, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.PinnedMessage, error) {
			var pm model.PinnedMessage
			err := row.Scan(&pm.ID, &pm.ChatID, &pm.MessageID, &pm.CreatedAt)
			return pm, err
		})
		if err != nil {
			return err
		}
		for _, pm := range pins {
			if pm.MessageID == p.MessageID {
				return ErrAlreadyPinned
			}
		}
		if len(pins) >= limit {
			oldest := pins[0]
			if _, err := tx.Exec(ctx, `DELETE FROM pinned_messages WHERE id = $1`, oldest.ID); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `UPDATE messages SET is_pinned = false WHERE id = $1`, oldest.MessageID); err != nil {
				return err
			}
			evicted = &oldest
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO pinned_messages (id, chat_id, message_id, created_at) VALUES ($1, $2, $3, $4)`,
			p.ID, p.ChatID, p.MessageID, p.CreatedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyPinned
			}
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE messages SET is_pinned = true WHERE id = $1`, p.MessageID)
		return err
	})
	if errors.Is(err, ErrAlreadyPinned) {
		return nil, ErrAlreadyPinned
	}
	if err != nil {
		return nil, fmt.Errorf("pinnedRepo.Pin: %w", err)
	}
	return evicted, nil
}

// Unpin снимает закреп по id и сбрасывает флаг у сообщения. Возвращает удалённый закреп.
func (r *PinnedRepository) Unpin(ctx context.Context, pinID string) (*model.PinnedMessage, error) {
	defer logger.DeferLogDuration("pinned.Unpin", time.Now())()
	pm := &model.PinnedMessage{}
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`DELETE FROM pinned_messages WHERE id = $1 RETURNING id, chat_id, message_id, created_at`, pinID,
		).Scan(&pm.ID, &pm.ChatID, &pm.MessageID, &pm.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE messages SET is_pinned = false WHERE id = $1`, pm.MessageID)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pinnedRepo.Unpin: %w", err)
	}
	return pm, nil
}

// ListByChat возвращает закрепы чата от старых к новым вместе с проекцией сообщения.
func (r *PinnedRepository) ListByChat(ctx context.Context, chatID string) ([]model.PinnedMessage, error) {
	defer logger.DeferLogDuration("pinned.ListByChat", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT p.id, p.chat_id, p.message_id, p.created_at, `+messageCols+`
		 FROM pinned_messages p JOIN messages m ON m.id = p.message_id
		 WHERE p.chat_id = $1 ORDER BY p.created_at, p.id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("pinnedRepo.ListByChat query: %w", err)
	}
	defer rows.Close()

	pins := make([]model.PinnedMessage, 0, model.PinLimit)
	msgs := make([]*model.Message, 0, model.PinLimit)
	for rows.Next() {
		var pm model.PinnedMessage
		m := &model.Message{}
		if err := rows.Scan(&pm.ID, &pm.ChatID, &pm.MessageID, &pm.CreatedAt,
			&m.ID, &m.ChatID, &m.SenderID, &m.Kind, &m.TextMessageContent, &m.URL, &m.PollID,
			&m.AudioURL, &m.AudioPublicID, &m.IsEdited, &m.IsPinned, &m.ReplyToMessageID, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("pinnedRepo.ListByChat scan: %w", err)
		}
		pm.Message = m
		pins = append(pins, pm)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pinnedRepo.ListByChat rows: %w", err)
	}
	rows.Close()
	if err := hydrate(ctx, r.pool, msgs); err != nil {
		return nil, fmt.Errorf("pinnedRepo.ListByChat: %w", err)
	}
	return pins, nil
}

func (r *PinnedRepository) GetByID(ctx context.Context, id string) (*model.PinnedMessage, error) {
	defer logger.DeferLogDuration("pinned.GetByID", time.Now())()
	pm := &model.PinnedMessage{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, chat_id, message_id, created_at FROM pinned_messages WHERE id = $1`, id,
	).Scan(&pm.ID, &pm.ChatID, &pm.MessageID, &pm.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pinnedRepo.GetByID: %w", err)
	}
	return pm, nil
}
