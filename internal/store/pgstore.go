package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"llmbridge/internal/models"
)

// Querier abstracts the pgx query methods PgStore needs. Both
// *pgxpool.Pool and pgx.Tx satisfy it, as does pgxmock in tests.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Schema creates the tables PgStore depends on. Statements are
// idempotent; run it at startup or apply it out of band.
const Schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id         BIGSERIAL PRIMARY KEY,
    user_id    BIGINT NOT NULL,
    title      TEXT NOT NULL,
    model_name TEXT NOT NULL,
    provider   TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS conversation_messages (
    id              BIGSERIAL PRIMARY KEY,
    conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    role            TEXT NOT NULL,
    content         TEXT NOT NULL,
    tokens          INTEGER NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS usage_logs (
    id               BIGSERIAL PRIMARY KEY,
    user_id          BIGINT NOT NULL,
    conversation_id  BIGINT,
    model_name       TEXT NOT NULL,
    provider         TEXT NOT NULL,
    prompt_tokens    INTEGER NOT NULL,
    completion_tokens INTEGER NOT NULL,
    total_tokens     INTEGER NOT NULL,
    cost             DOUBLE PRECISION NOT NULL,
    response_time_ms BIGINT NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation
    ON conversation_messages (conversation_id, id);
CREATE INDEX IF NOT EXISTS idx_usage_user
    ON usage_logs (user_id, created_at);
`

// PgStore implements ConversationStore and UsageStore on PostgreSQL.
// Thread safety comes from the underlying pgx pool.
type PgStore struct {
	db Querier
}

// NewPgStore wraps an existing pool or transaction.
func NewPgStore(db Querier) *PgStore {
	return &PgStore{db: db}
}

// EnsureSchema applies the schema statements.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PgStore) Create(ctx context.Context, conv *Conversation) error {
	row := s.db.QueryRow(ctx,
		`INSERT INTO conversations (user_id, title, model_name, provider)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		conv.UserID, conv.Title, conv.Model, string(conv.Provider),
	)
	if err := row.Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *PgStore) Get(ctx context.Context, id, userID int64) (*Conversation, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, user_id, title, model_name, provider, created_at, updated_at
		 FROM conversations WHERE id = $1 AND user_id = $2`,
		id, userID,
	)

	var conv Conversation
	var provider string
	err := row.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.Model, &provider, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select conversation: %w", err)
	}
	conv.Provider = parseStoredProvider(provider)
	return &conv, nil
}

func (s *PgStore) Messages(ctx context.Context, conversationID int64, limit int) ([]Turn, error) {
	// Fetch the newest turns, then flip back to conversation order.
	query := `SELECT id, conversation_id, role, content, tokens, created_at
		 FROM conversation_messages WHERE conversation_id = $1
		 ORDER BY id DESC`
	args := []any{conversationID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.Role, &t.Content, &t.Tokens, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (s *PgStore) AppendMessage(ctx context.Context, conversationID int64, role, content string, tokens int) error {
	if _, err := s.db.Exec(ctx,
		`INSERT INTO conversation_messages (conversation_id, role, content, tokens)
		 VALUES ($1, $2, $3, $4)`,
		conversationID, role, content, tokens,
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if _, err := s.db.Exec(ctx,
		`UPDATE conversations SET updated_at = now() WHERE id = $1`,
		conversationID,
	); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

func (s *PgStore) List(ctx context.Context, userID int64, offset, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, title, model_name, provider, created_at, updated_at
		 FROM conversations WHERE user_id = $1
		 ORDER BY updated_at DESC OFFSET $2 LIMIT $3`,
		userID, offset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var conv Conversation
		var provider string
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.Model, &provider, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conv.Provider = parseStoredProvider(provider)
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return out, nil
}

func (s *PgStore) Delete(ctx context.Context, id, userID int64) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM conversations WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) Record(ctx context.Context, rec UsageRecord) error {
	var conversationID any
	if rec.ConversationID != 0 {
		conversationID = rec.ConversationID
	}

	if _, err := s.db.Exec(ctx,
		`INSERT INTO usage_logs
		 (user_id, conversation_id, model_name, provider, prompt_tokens, completion_tokens, total_tokens, cost, response_time_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.UserID, conversationID, rec.Model, string(rec.Provider),
		rec.Usage.PromptTokens, rec.Usage.CompletionTokens, rec.Usage.TotalTokens,
		rec.Cost, rec.ResponseTime.Milliseconds(),
	); err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

// parseStoredProvider tolerates rows written before a vendor was
// retired; unknown values round-trip as-is.
func parseStoredProvider(s string) models.Provider {
	return models.Provider(s)
}
