// internal/database/postgres.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gig-chat/internal/models"
	"gig-chat/internal/utils"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// PostgresDB represents a PostgreSQL database connection
type PostgresDB struct {
	DB     *sqlx.DB
	logger zerolog.Logger
}

// NewPostgresDB creates a new PostgreSQL database connection
func NewPostgresDB(connectionString string, logger zerolog.Logger) (*PostgresDB, error) {
	db, err := sqlx.Connect("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %v", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %v", err)
	}

	logger.Info().Msg("connected to PostgreSQL")

	return &PostgresDB{DB: db, logger: logger}, nil
}

// Close closes the database connection
func (p *PostgresDB) Close(ctx context.Context) error {
	p.logger.Info().Msg("closing PostgreSQL connection")
	return p.DB.Close()
}

func (p *PostgresDB) Ping(ctx context.Context) error {
	if err := p.DB.PingContext(ctx); err != nil {
		return utils.NewStoreError("ping", err)
	}
	return nil
}

// InitializeTables creates all necessary tables if they don't exist.
// users and jobs are normally owned by other services; they are created here
// so a fresh database is usable on its own.
func (p *PostgresDB) InitializeTables(ctx context.Context) error {
	statements := []struct {
		name string
		sql  string
	}{
		{"users", `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT ''
		)`},
		{"jobs", `
		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			employer_id TEXT NOT NULL REFERENCES users(id)
		)`},
		{"messages", `
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			sender_id TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			content TEXT NOT NULL,
			context_id TEXT,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			is_read BOOLEAN NOT NULL DEFAULT FALSE
		)`},
		{"messages pair index", `
		CREATE INDEX IF NOT EXISTS idx_messages_pair
			ON messages (sender_id, receiver_id, created_at, id)`},
		{"messages unread index", `
		CREATE INDEX IF NOT EXISTS idx_messages_unread
			ON messages (receiver_id) WHERE NOT is_read`},
	}
	for _, stmt := range statements {
		if _, err := p.DB.ExecContext(ctx, stmt.sql); err != nil {
			return fmt.Errorf("failed to create %s: %v", stmt.name, err)
		}
	}
	p.logger.Info().Msg("PostgreSQL tables initialized")
	return nil
}

// --- Users ---

func (p *PostgresDB) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := p.DB.GetContext(ctx, &user, `SELECT id, name, email, role FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.NewUserNotFoundError(id)
	}
	if err != nil {
		return nil, utils.NewStoreError("get user", err)
	}
	return &user, nil
}

func (p *PostgresDB) GetUsers(ctx context.Context, ids []string) (map[string]*models.User, error) {
	ids = uniqueIDs(ids)
	result := make(map[string]*models.User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var users []*models.User
	err := p.DB.SelectContext(ctx, &users, `SELECT id, name, email, role FROM users WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, utils.NewStoreError("get users", err)
	}
	for _, u := range users {
		result[u.ID] = u
	}
	return result, nil
}

// --- Jobs ---

func (p *PostgresDB) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	err := p.DB.GetContext(ctx, &job, `SELECT id, title, employer_id FROM jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.NewJobNotFoundError(id)
	}
	if err != nil {
		return nil, utils.NewStoreError("get job", err)
	}
	return &job, nil
}

// --- Message Methods ---

const messageColumns = `id, sender_id, receiver_id, content, COALESCE(context_id, '') AS context_id, created_at, is_read`

// SaveMessage inserts a new direct message.
func (p *PostgresDB) SaveMessage(ctx context.Context, msg *models.Message) error {
	query := `
		INSERT INTO messages (id, sender_id, receiver_id, content, context_id, created_at, is_read)
		VALUES (:id, :sender_id, :receiver_id, :content, NULLIF(:context_id, ''), :created_at, :is_read)
	`
	if _, err := p.DB.NamedExecContext(ctx, query, msg); err != nil {
		return utils.NewStoreError("save message", err)
	}
	return nil
}

// GetConversation fetches the thread between two users in thread order.
func (p *PostgresDB) GetConversation(ctx context.Context, userA, userB string) ([]*models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at ASC, id ASC
	`
	var messages []*models.Message
	if err := p.DB.SelectContext(ctx, &messages, query, userA, userB); err != nil {
		return nil, utils.NewStoreError("get conversation", err)
	}
	if messages == nil {
		messages = make([]*models.Message, 0)
	}
	for _, msg := range messages {
		msg.CreatedAt = msg.CreatedAt.UTC()
	}
	return messages, nil
}

// MarkConversationRead flags every unread message from senderID to receiverID.
func (p *PostgresDB) MarkConversationRead(ctx context.Context, receiverID, senderID string) (int64, error) {
	result, err := p.DB.ExecContext(ctx,
		`UPDATE messages SET is_read = TRUE WHERE receiver_id = $1 AND sender_id = $2 AND NOT is_read`,
		receiverID, senderID,
	)
	if err != nil {
		return 0, utils.NewStoreError("mark read", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, utils.NewStoreError("mark read", err)
	}
	return rowsAffected, nil
}

func (p *PostgresDB) MarkMessagesRead(ctx context.Context, receiverID string, ids []string) (int64, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := p.DB.ExecContext(ctx,
		`UPDATE messages SET is_read = TRUE WHERE id = ANY($1) AND receiver_id = $2 AND NOT is_read`,
		pq.Array(ids), receiverID,
	)
	if err != nil {
		return 0, utils.NewStoreError("mark read", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, utils.NewStoreError("mark read", err)
	}
	return rowsAffected, nil
}

func (p *PostgresDB) CountUnread(ctx context.Context, receiverID string) (int64, error) {
	var n int64
	if err := p.DB.GetContext(ctx, &n, `SELECT COUNT(*) FROM messages WHERE receiver_id = $1 AND NOT is_read`, receiverID); err != nil {
		return 0, utils.NewStoreError("count unread", err)
	}
	return n, nil
}

type summaryRow struct {
	CounterpartID string `db:"counterpart_id"`
	models.Message
	UnreadCount int `db:"unread_count"`
}

// GetConversationSummaries keeps the newest message per counterpart and joins
// the unread count addressed to userID.
func (p *PostgresDB) GetConversationSummaries(ctx context.Context, userID string) ([]*models.ConversationSummary, error) {
	query := `
		WITH thread AS (
			SELECT m.*, CASE WHEN m.sender_id = $1 THEN m.receiver_id ELSE m.sender_id END AS counterpart_id
			FROM messages m
			WHERE m.sender_id = $1 OR m.receiver_id = $1
		), latest AS (
			SELECT DISTINCT ON (counterpart_id)
				counterpart_id, id, sender_id, receiver_id, content,
				COALESCE(context_id, '') AS context_id, created_at, is_read
			FROM thread
			ORDER BY counterpart_id, created_at DESC, id DESC
		), unread AS (
			SELECT sender_id AS counterpart_id, COUNT(*) AS unread_count
			FROM messages
			WHERE receiver_id = $1 AND NOT is_read
			GROUP BY sender_id
		)
		SELECT l.*, COALESCE(u.unread_count, 0) AS unread_count
		FROM latest l LEFT JOIN unread u USING (counterpart_id)
	`
	var rows []summaryRow
	if err := p.DB.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, utils.NewStoreError("conversation summaries", err)
	}
	summaries := make([]*models.ConversationSummary, 0, len(rows))
	for i := range rows {
		msg := rows[i].Message
		msg.CreatedAt = msg.CreatedAt.UTC()
		summaries = append(summaries, &models.ConversationSummary{
			CounterpartID: rows[i].CounterpartID,
			LastMessage:   &msg,
			UnreadCount:   rows[i].UnreadCount,
		})
	}
	models.SortSummaries(summaries)
	return summaries, nil
}
