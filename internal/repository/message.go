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

const messageCols = `m.id, m.chat_id, m.sender_id, m.kind, m.text_content, m.url, m.poll_id,
	m.audio_url, m.audio_public_id, m.is_edited, m.is_pinned, m.reply_to_message_id, m.created_at, m.updated_at`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	return s.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Kind, &m.TextMessageContent, &m.URL, &m.PollID,
		&m.AudioURL, &m.AudioPublicID, &m.IsEdited, &m.IsPinned, &m.ReplyToMessageID, &m.CreatedAt, &m.UpdatedAt)
}

// Create сохраняет сообщение (и опрос/вложения, если есть) и двигает указатель последнего сообщения чата.
// Всё в одной транзакции: сообщение без указателя или указатель без сообщения не появляются.
func (r *MessageRepository) Create(ctx context.Context, m *model.Message, poll *model.Poll, attachments []model.Attachment) error {
	defer logger.DeferLogDuration("message.Create", time.Now())()
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if poll != nil {
			if _, err := tx.Exec(ctx,
				`INSERT INTO polls (id, question, options, is_multiple_answers) VALUES ($1, $2, $3, $4)`,
				poll.ID, poll.Question, poll.Options, poll.IsMultipleAnswers,
			); err != nil {
				return fmt.Errorf("insert poll: %w", err)
			}
			m.PollID = &poll.ID
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO messages (id, chat_id, sender_id, kind, text_content, url, poll_id, audio_url, audio_public_id,
			                       reply_to_message_id, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`,
			m.ID, m.ChatID, m.SenderID, m.Kind, m.TextMessageContent, m.URL, m.PollID, m.AudioURL, m.AudioPublicID,
			m.ReplyToMessageID, m.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		for _, a := range attachments {
			if _, err := tx.Exec(ctx,
				`INSERT INTO attachments (id, message_id, url, public_id, file_name) VALUES ($1, $2, $3, $4, $5)`,
				a.ID, m.ID, a.URL, a.PublicID, a.FileName,
			); err != nil {
				return fmt.Errorf("insert attachment: %w", err)
			}
		}
		if _, err := tx.Exec(ctx, `UPDATE chats SET latest_message_id = $1 WHERE id = $2`, m.ID, m.ChatID); err != nil {
			return fmt.Errorf("update latest: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("messageRepo.Create: %w", err)
	}
	m.UpdatedAt = m.CreatedAt
	return nil
}

// GetByID возвращает сообщение без проекции.
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("message.GetByID", time.Now())()
	m := &model.Message{}
	err := scanMessage(r.pool.QueryRow(ctx, `SELECT `+messageCols+` FROM messages m WHERE m.id = $1`, id), m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("messageRepo.GetByID: %w", err)
	}
	return m, nil
}

// GetProjection возвращает сообщение с отправителем, вложениями, опросом, реакциями и превью ответа.
func (r *MessageRepository) GetProjection(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("message.GetProjection", time.Now())()
	m, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := hydrate(ctx, r.pool, []*model.Message{m}); err != nil {
		return nil, fmt.Errorf("messageRepo.GetProjection: %w", err)
	}
	return m, nil
}

// ListProjections: страница истории чата, новые сначала.
func (r *MessageRepository) ListProjections(ctx context.Context, chatID string, limit, offset int) ([]*model.Message, int, error) {
	defer logger.DeferLogDuration("message.ListProjections", time.Now())()
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE chat_id = $1`, chatID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("messageRepo.ListProjections count: %w", err)
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages m
		 WHERE m.chat_id = $1
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT $2 OFFSET $3`, chatID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("messageRepo.ListProjections query: %w", err)
	}
	defer rows.Close()

	msgs := make([]*model.Message, 0, limit)
	for rows.Next() {
		m := &model.Message{}
		if err := scanMessage(rows, m); err != nil {
			return nil, 0, fmt.Errorf("messageRepo.ListProjections scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("messageRepo.ListProjections rows: %w", err)
	}
	rows.Close()
	if err := hydrate(ctx, r.pool, msgs); err != nil {
		return nil, 0, fmt.Errorf("messageRepo.ListProjections: %w", err)
	}
	return msgs, total, nil
}

// ListAttachments: все файлы чата, новые сначала.
func (r *MessageRepository) ListAttachments(ctx context.Context, chatID string) ([]model.Attachment, error) {
	defer logger.DeferLogDuration("message.ListAttachments", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.message_id, a.url, a.public_id, a.file_name
		 FROM attachments a JOIN messages m ON m.id = a.message_id
		 WHERE m.chat_id = $1
		 ORDER BY m.created_at DESC, a.id`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("messageRepo.ListAttachments query: %w", err)
	}
	defer rows.Close()
	out := make([]model.Attachment, 0, 16)
	for rows.Next() {
		var a model.Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.URL, &a.PublicID, &a.FileName); err != nil {
			return nil, fmt.Errorf("messageRepo.ListAttachments scan: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messageRepo.ListAttachments rows: %w", err)
	}
	return out, nil
}

func (r *MessageRepository) UpdateText(ctx context.Context, id, text string, at time.Time) error {
	defer logger.DeferLogDuration("message.UpdateText", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET text_content = $1, is_edited = true, updated_at = $2 WHERE id = $3 AND kind = 'text'`,
		text, at, id,
	)
	if err != nil {
		return fmt.Errorf("messageRepo.UpdateText: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCascade удаляет сообщение и связанные записи в порядке: закрепы, ссылки ответов,
// ссылки счётчиков непрочитанных, реакции, вложения, само сообщение (и его опрос).
// Возвращает publicId файлов в blob-хранилище: удалять их нужно после коммита.
func (r *MessageRepository) DeleteCascade(ctx context.Context, id string) ([]string, error) {
	defer logger.DeferLogDuration("message.DeleteCascade", time.Now())()
	var blobIDs []string
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var (
			chatID        string
			pollID        *string
			audioPublicID *string
		)
		err := tx.QueryRow(ctx,
			`SELECT chat_id, poll_id, audio_public_id FROM messages WHERE id = $1 FOR UPDATE`, id,
		).Scan(&chatID, &pollID, &audioPublicID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		steps := []struct {
			sql string
			arg string
		}{
			{`DELETE FROM pinned_messages WHERE message_id = $1`, id},
			{`UPDATE messages SET reply_to_message_id = NULL WHERE reply_to_message_id = $1`, id},
			{`UPDATE unread_messages SET message_id = NULL WHERE message_id = $1`, id},
			{`DELETE FROM reactions WHERE message_id = $1`, id},
		}
		for _, s := range steps {
			if _, err := tx.Exec(ctx, s.sql, s.arg); err != nil {
				return err
			}
		}
		if audioPublicID != nil && *audioPublicID != "" {
			blobIDs = append(blobIDs, *audioPublicID)
		}
		rows, err := tx.Query(ctx, `DELETE FROM attachments WHERE message_id = $1 RETURNING public_id`, id)
		if err != nil {
			return err
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}
		blobIDs = append(blobIDs, ids...)
		if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id); err != nil {
			return err
		}
		if pollID != nil {
			if _, err := tx.Exec(ctx, `DELETE FROM polls WHERE id = $1`, *pollID); err != nil {
				return err
			}
		}
		// FK выставил latest_message_id в NULL: переводим на последнее оставшееся сообщение.
		_, err = tx.Exec(ctx,
			`UPDATE chats SET latest_message_id =
			     (SELECT id FROM messages WHERE chat_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1)
			 WHERE id = $1 AND latest_message_id IS NULL`, chatID)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("messageRepo.DeleteCascade: %w", err)
	}
	return blobIDs, nil
}

// hydrate дополняет сообщения проекцией пачкой запросов (без N+1).
func hydrate(ctx context.Context, q querier, msgs []*model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	byID := make(map[string]*model.Message, len(msgs))
	ids := make([]string, 0, len(msgs))
	senderIDs := make([]string, 0, len(msgs))
	var replyIDs, pollIDs []string
	for _, m := range msgs {
		byID[m.ID] = m
		ids = append(ids, m.ID)
		senderIDs = append(senderIDs, m.SenderID)
		m.Attachments = []model.Attachment{}
		m.Reactions = []model.Reaction{}
		if m.ReplyToMessageID != nil {
			replyIDs = append(replyIDs, *m.ReplyToMessageID)
		}
		if m.PollID != nil {
			pollIDs = append(pollIDs, *m.PollID)
		}
	}

	senders, err := loadSummaries(ctx, q, senderIDs)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if s, ok := senders[m.SenderID]; ok {
			m.Sender = &s
		}
	}

	rows, err := q.Query(ctx,
		`SELECT id, message_id, url, public_id, file_name FROM attachments
		 WHERE message_id = ANY($1::uuid[]) ORDER BY id`, ids)
	if err != nil {
		return fmt.Errorf("attachments: %w", err)
	}
	for rows.Next() {
		var a model.Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.URL, &a.PublicID, &a.FileName); err != nil {
			rows.Close()
			return fmt.Errorf("attachments scan: %w", err)
		}
		byID[a.MessageID].Attachments = append(byID[a.MessageID].Attachments, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("attachments rows: %w", err)
	}

	rows, err = q.Query(ctx,
		`SELECT r.id, r.message_id, r.user_id, r.reaction, r.created_at, u.username, u.avatar
		 FROM reactions r JOIN users u ON u.id = r.user_id
		 WHERE r.message_id = ANY($1::uuid[]) ORDER BY r.created_at`, ids)
	if err != nil {
		return fmt.Errorf("reactions: %w", err)
	}
	for rows.Next() {
		var (
			re model.Reaction
			us model.UserSummary
		)
		if err := rows.Scan(&re.ID, &re.MessageID, &re.UserID, &re.Reaction, &re.CreatedAt, &us.Username, &us.Avatar); err != nil {
			rows.Close()
			return fmt.Errorf("reactions scan: %w", err)
		}
		us.ID = re.UserID
		re.User = &us
		byID[re.MessageID].Reactions = append(byID[re.MessageID].Reactions, re)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reactions rows: %w", err)
	}

	if len(pollIDs) > 0 {
		polls, err := loadPolls(ctx, q, pollIDs)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			if m.PollID != nil {
				m.Poll = polls[*m.PollID]
			}
		}
	}

	if len(replyIDs) > 0 {
		// Превью только из того же чата; ключ: id сообщения-ответа.
		rows, err = q.Query(ctx,
			`SELECT o.id, m.id, m.kind, m.text_content, u.id, u.username, u.avatar
			 FROM messages o
			 JOIN messages m ON m.id = o.reply_to_message_id AND m.chat_id = o.chat_id
			 JOIN users u ON u.id = m.sender_id
			 WHERE o.id = ANY($1::uuid[])`, ids)
		if err != nil {
			return fmt.Errorf("replies: %w", err)
		}
		for rows.Next() {
			var ownerID string
			p := &model.ReplyPreview{Sender: &model.UserSummary{}}
			if err := rows.Scan(&ownerID, &p.ID, &p.Kind, &p.TextMessageContent, &p.Sender.ID, &p.Sender.Username, &p.Sender.Avatar); err != nil {
				rows.Close()
				return fmt.Errorf("replies scan: %w", err)
			}
			byID[ownerID].ReplyToMessage = p
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("replies rows: %w", err)
		}
	}
	return nil
}

func loadSummaries(ctx context.Context, q querier, ids []string) (map[string]model.UserSummary, error) {
	rows, err := q.Query(ctx, `SELECT id, username, avatar FROM users WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("summaries: %w", err)
	}
	defer rows.Close()
	out := make(map[string]model.UserSummary, len(ids))
	for rows.Next() {
		var s model.UserSummary
		if err := rows.Scan(&s.ID, &s.Username, &s.Avatar); err != nil {
			return nil, fmt.Errorf("summaries scan: %w", err)
		}
		out[s.ID] = s
	}
	return out, rows.Err()
}
