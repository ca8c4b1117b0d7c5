package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/debchat/internal/conversation"
	"github.com/MikeSquared-Agency/debchat/internal/store"
)

const chatLogColumns = `id, owner, title, messages, created_at, updated_at`

func (s *Store) CreateConversation(ctx context.Context, owner, title string, msgs []conversation.Message) (store.ChatLog, error) {
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO chat_logs (id, owner, title, messages, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING `+chatLogColumns,
		uuid.New(), owner, title, marshalJSON(msgs),
	)
	l, err := scanChatLog(row)
	if err != nil {
		return store.ChatLog{}, fmt.Errorf("insert chat log: %w", err)
	}
	return l, nil
}

func (s *Store) UpdateConversation(ctx context.Context, owner, id, title string, msgs []conversation.Message) (store.ChatLog, error) {
	chatID, err := parseID(id)
	if err != nil {
		return store.ChatLog{}, err
	}
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE chat_logs SET title = $1, messages = $2, updated_at = now()
		WHERE id = $3 AND owner = $4
		RETURNING `+chatLogColumns,
		title, marshalJSON(msgs), chatID, owner,
	)
	l, err := scanChatLog(row)
	if err != nil {
		return store.ChatLog{}, notFound(err)
	}
	return l, nil
}

func (s *Store) ListConversations(ctx context.Context, owner string) ([]store.ChatLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+chatLogColumns+` FROM chat_logs
		WHERE owner = $1
		ORDER BY created_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("query chat logs: %w", err)
	}
	return collectChatLogs(rows)
}

func (s *Store) DeleteConversation(ctx context.Context, owner, id string) error {
	chatID, err := parseID(id)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM chat_logs WHERE id = $1 AND owner = $2`, chatID, owner)
	if err != nil {
		return fmt.Errorf("delete chat log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListAllConversations(ctx context.Context, limit int) ([]store.ChatLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+chatLogColumns+` FROM chat_logs
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat logs: %w", err)
	}
	return collectChatLogs(rows)
}

func (s *Store) CountConversations(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chat_logs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chat logs: %w", err)
	}
	return n, nil
}

func scanChatLog(row pgx.Row) (store.ChatLog, error) {
	var (
		l    store.ChatLog
		id   uuid.UUID
		msgs []byte
	)
	if err := row.Scan(&id, &l.Owner, &l.Title, &msgs, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return store.ChatLog{}, err
	}
	l.ID = id.String()
	if err := json.Unmarshal(msgs, &l.Messages); err != nil {
		return store.ChatLog{}, fmt.Errorf("decode messages: %w", err)
	}
	return l, nil
}

func collectChatLogs(rows pgx.Rows) ([]store.ChatLog, error) {
	defer rows.Close()
	var out []store.ChatLog
	for rows.Next() {
		l, err := scanChatLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
