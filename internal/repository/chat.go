package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baatchit/internal/logger"
	"github.com/baatchit/internal/model"
)

const chatCols = `id, is_group_chat, name, avatar, avatar_public_id, admin_id, latest_message_id, created_at`

type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

func scanChat(s interface{ Scan(dest ...any) error }, c *model.Chat) error {
	return s.Scan(&c.ID, &c.IsGroupChat, &c.Name, &c.Avatar, &c.AvatarPublicID, &c.AdminID, &c.LatestMessageID, &c.CreatedAt)
}

// Create сохраняет чат вместе с участниками в одной транзакции.
func (r *ChatRepository) Create(ctx context.Context, c *model.Chat, memberIDs []string) error {
	defer logger.DeferLogDuration("chat.Create", time.Now())()
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chats (id, is_group_chat, name, avatar, avatar_public_id, admin_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			c.ID, c.IsGroupChat, c.Name, c.Avatar, c.AvatarPublicID, c.AdminID, c.CreatedAt,
		); err != nil {
			return err
		}
		return insertMembers(ctx, tx, c.ID, memberIDs, c.CreatedAt)
	})
	if err != nil {
		return fmt.Errorf("chatRepo.Create: %w", err)
	}
	return nil
}

func insertMembers(ctx context.Context, tx pgx.Tx, chatID string, userIDs []string, at time.Time) error {
	batch := &pgx.Batch{}
	for _, uid := range userIDs {
		batch.Queue(`INSERT INTO chat_members (chat_id, user_id, joined_at) VALUES ($1, $2, $3)`, chatID, uid, at)
	}
	return tx.SendBatch(ctx, batch).Close()
}

func (r *ChatRepository) GetByID(ctx context.Context, id string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.GetByID", time.Now())()
	c := &model.Chat{}
	err := scanChat(r.pool.QueryRow(ctx, `SELECT `+chatCols+` FROM chats WHERE id = $1`, id), c)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetByID: %w", err)
	}
	return c, nil
}

// FindPersonalChat ищет личный чат между двумя пользователями.
func (r *ChatRepository) FindPersonalChat(ctx context.Context, userID1, userID2 string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.FindPersonalChat", time.Now())()
	c := &model.Chat{}
	err := scanChat(r.pool.QueryRow(ctx,
		`SELECT c.id, c.is_group_chat, c.name, c.avatar, c.avatar_public_id, c.admin_id, c.latest_message_id, c.created_at
		 FROM chats c
		 JOIN chat_members m1 ON m1.chat_id = c.id AND m1.user_id = $1
		 JOIN chat_members m2 ON m2.chat_id = c.id AND m2.user_id = $2
		 WHERE NOT c.is_group_chat
		 LIMIT 1`, userID1, userID2), c)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chatRepo.FindPersonalChat: %w", err)
	}
	return c, nil
}

// GetUserChatIDs возвращает id всех чатов пользователя (для автоподключения к комнатам).
func (r *ChatRepository) GetUserChatIDs(ctx context.Context, userID string) ([]string, error) {
	defer logger.DeferLogDuration("chat.GetUserChatIDs", time.Now())()
	return r.collectIDs(ctx, "chatRepo.GetUserChatIDs",
		`SELECT chat_id FROM chat_members WHERE user_id = $1`, userID)
}

func (r *ChatRepository) GetMemberIDs(ctx context.Context, chatID string) ([]string, error) {
	defer logger.DeferLogDuration("chat.GetMemberIDs", time.Now())()
	return r.collectIDs(ctx, "chatRepo.GetMemberIDs",
		`SELECT user_id FROM chat_members WHERE chat_id = $1 ORDER BY joined_at, user_id`, chatID)
}

func (r *ChatRepository) collectIDs(ctx context.Context, op, sql string, arg string) ([]string, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", op, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%s collect: %w", op, err)
	}
	return ids, nil
}

// GetMembers возвращает участников чата с настройками уведомлений.
func (r *ChatRepository) GetMembers(ctx context.Context, chatID string) ([]model.User, error) {
	defer logger.DeferLogDuration("chat.GetMembers", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT u.id, u.username, u.avatar, u.is_online, u.last_seen, u.notifications_enabled, u.push_token, u.created_at
		 FROM chat_members cm
		 JOIN users u ON u.id = cm.user_id
		 WHERE cm.chat_id = $1
		 ORDER BY cm.joined_at, u.id`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetMembers query: %w", err)
	}
	defer rows.Close()

	members := make([]model.User, 0, 8)
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("chatRepo.GetMembers scan: %w", err)
		}
		members = append(members, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.GetMembers rows: %w", err)
	}
	return members, nil
}

func (r *ChatRepository) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	defer logger.DeferLogDuration("chat.IsMember", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM chat_members WHERE chat_id = $1 AND user_id = $2)`,
		chatID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("chatRepo.IsMember: %w", err)
	}
	return exists, nil
}

func (r *ChatRepository) AddMembers(ctx context.Context, chatID string, userIDs []string) error {
	defer logger.DeferLogDuration("chat.AddMembers", time.Now())()
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return insertMembers(ctx, tx, chatID, userIDs, time.Now().UTC())
	})
	if err != nil {
		return fmt.Errorf("chatRepo.AddMembers: %w", err)
	}
	return nil
}

// RemoveMembers удаляет участников группы. Строка чата блокируется (FOR UPDATE), поэтому
// проверка "остаётся минимум 2" и выбор нового админа идут по актуальному составу.
// Возвращает id нового админа, если удалён текущий.
func (r *ChatRepository) RemoveMembers(ctx context.Context, chatID string, userIDs []string) (*string, error) {
	defer logger.DeferLogDuration("chat.RemoveMembers", time.Now())()
	var newAdmin *string
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var adminID *string
		err := tx.QueryRow(ctx, `SELECT admin_id FROM chats WHERE id = $1 FOR UPDATE`, chatID).Scan(&adminID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx,
			`SELECT user_id FROM chat_members WHERE chat_id = $1 ORDER BY joined_at, user_id`, chatID)
		if err != nil {
			return err
		}
		current, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}
		remaining, err := remainingMembers(current, userIDs)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM chat_members WHERE chat_id = $1 AND user_id = ANY($2::uuid[])`,
			chatID, userIDs,
		); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM unread_messages WHERE chat_id = $1 AND user_id = ANY($2::uuid[])`,
			chatID, userIDs,
		); err != nil {
			return err
		}
		if adminID != nil && slices.Contains(userIDs, *adminID) {
			if _, err := tx.Exec(ctx, `UPDATE chats SET admin_id = $1 WHERE id = $2`, remaining[0], chatID); err != nil {
				return err
			}
			newAdmin = &remaining[0]
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("chatRepo.RemoveMembers: %w", err)
	}
	return newAdmin, nil
}

// remainingMembers: состав после удаления (порядок current сохраняется).
// Каждый удаляемый должен состоять в чате; остаться должно минимум 2.
func remainingMembers(current, removed []string) ([]string, error) {
	for _, id := range removed {
		if !slices.Contains(current, id) {
			return nil, ErrNotMember
		}
	}
	remaining := make([]string, 0, len(current))
	for _, id := range current {
		if !slices.Contains(removed, id) {
			remaining = append(remaining, id)
		}
	}
	if len(remaining) < 2 {
		return nil, ErrTooFewMembers
	}
	return remaining, nil
}

// ListForUser: чаты пользователя, сначала с самым свежим сообщением. Участники, последние
// сообщения и непрочитанные подгружаются пачкой по всем чатам сразу.
func (r *ChatRepository) ListForUser(ctx context.Context, userID string) ([]model.ChatListItem, error) {
	defer logger.DeferLogDuration("chat.ListForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.is_group_chat, c.name, c.avatar, c.avatar_public_id, c.admin_id, c.latest_message_id, c.created_at
		 FROM chats c
		 JOIN chat_members cm ON cm.chat_id = c.id AND cm.user_id = $1
		 LEFT JOIN messages lm ON lm.id = c.latest_message_id
		 ORDER BY COALESCE(lm.created_at, c.created_at) DESC, c.id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.ListForUser query: %w", err)
	}
	items := make([]model.ChatListItem, 0, 16)
	for rows.Next() {
		var it model.ChatListItem
		if err := scanChat(rows, &it.Chat); err != nil {
			rows.Close()
			return nil, fmt.Errorf("chatRepo.ListForUser scan: %w", err)
		}
		it.Members = []model.UserSummary{}
		items = append(items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.ListForUser rows: %w", err)
	}
	if len(items) == 0 {
		return items, nil
	}

	byID := make(map[string]*model.ChatListItem, len(items))
	chatIDs := make([]string, 0, len(items))
	var latestIDs []string
	for i := range items {
		byID[items[i].ID] = &items[i]
		chatIDs = append(chatIDs, items[i].ID)
		if items[i].LatestMessageID != nil {
			latestIDs = append(latestIDs, *items[i].LatestMessageID)
		}
	}

	rows, err = r.pool.Query(ctx,
		`SELECT cm.chat_id, u.id, u.username, u.avatar
		 FROM chat_members cm JOIN users u ON u.id = cm.user_id
		 WHERE cm.chat_id = ANY($1::uuid[])
		 ORDER BY cm.joined_at, u.id`, chatIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.ListForUser members: %w", err)
	}
	for rows.Next() {
		var (
			chatID string
			u      model.UserSummary
		)
		if err := rows.Scan(&chatID, &u.ID, &u.Username, &u.Avatar); err != nil {
			rows.Close()
			return nil, fmt.Errorf("chatRepo.ListForUser members scan: %w", err)
		}
		byID[chatID].Members = append(byID[chatID].Members, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.ListForUser members rows: %w", err)
	}

	if len(latestIDs) > 0 {
		rows, err = r.pool.Query(ctx, `SELECT `+messageCols+` FROM messages m WHERE m.id = ANY($1::uuid[])`, latestIDs)
		if err != nil {
			return nil, fmt.Errorf("chatRepo.ListForUser latest: %w", err)
		}
		latest := make([]*model.Message, 0, len(latestIDs))
		for rows.Next() {
			m := &model.Message{}
			if err := scanMessage(rows, m); err != nil {
				rows.Close()
				return nil, fmt.Errorf("chatRepo.ListForUser latest scan: %w", err)
			}
			latest = append(latest, m)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("chatRepo.ListForUser latest rows: %w", err)
		}
		if err := hydrate(ctx, r.pool, latest); err != nil {
			return nil, fmt.Errorf("chatRepo.ListForUser latest: %w", err)
		}
		for _, m := range latest {
			if it, ok := byID[m.ChatID]; ok {
				it.LatestMessage = m
			}
		}
	}

	rows, err = r.pool.Query(ctx,
		`SELECT user_id, chat_id, count, message_id, sender_id, read_at
		 FROM unread_messages WHERE user_id = $1 AND chat_id = ANY($2::uuid[])`, userID, chatIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.ListForUser unread: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		u := &model.UnreadMessage{}
		var senderID *string
		if err := rows.Scan(&u.UserID, &u.ChatID, &u.Count, &u.MessageID, &senderID, &u.ReadAt); err != nil {
			return nil, fmt.Errorf("chatRepo.ListForUser unread scan: %w", err)
		}
		if senderID != nil {
			u.SenderID = *senderID
		}
		byID[u.ChatID].Unread = u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.ListForUser unread rows: %w", err)
	}
	return items, nil
}

// UpdateGroup меняет название и аватар группы.
func (r *ChatRepository) UpdateGroup(ctx context.Context, id, name, avatar, avatarPublicID string) error {
	defer logger.DeferLogDuration("chat.UpdateGroup", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE chats SET name = $1, avatar = $2, avatar_public_id = $3 WHERE id = $4 AND is_group_chat`,
		name, avatar, avatarPublicID, id,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.UpdateGroup: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
