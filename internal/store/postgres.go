// This file implements the PostgreSQL-backed store and its conversation methods.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/CartPipe/internal/models"
	_ "github.com/lib/pq"
)

// Connection pool settings.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 25
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to PostgreSQL and applies the schema.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}

func (s *PostgresStore) GetMemory(ctx context.Context, conversationID string) (*models.Memory, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT memory_json FROM conversations WHERE id = $1`, conversationID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetMemory failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to load memory for %s: %w", conversationID, err)
	}
	m, err := models.UnmarshalMemory(raw)
	if err != nil {
		slog.Error("PostgresStore GetMemory decode failed", "error", err, "conversationID", conversationID)
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	query := `SELECT id, conversation_id, role, content, route, input_type, created_at
		FROM messages WHERE conversation_id = $1 ORDER BY id DESC`
	args := []interface{}{conversationID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("PostgresStore ListMessages query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	return collectMessages(rows)
}

func (s *PostgresStore) SaveTurn(ctx context.Context, turn Turn) error {
	memJSON, err := models.MarshalMemory(turn.Memory)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin turn: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (id, memory_json, created_at, updated_at) VALUES ($1, $2, $3, $3)
		 ON CONFLICT (id) DO UPDATE SET memory_json = EXCLUDED.memory_json, updated_at = EXCLUDED.updated_at`,
		turn.ConversationID, memJSON, now,
	); err != nil {
		slog.Error("PostgresStore SaveTurn memory upsert failed", "error", err, "conversationID", turn.ConversationID)
		return fmt.Errorf("failed to save memory: %w", err)
	}
	for _, m := range []models.Message{turn.UserMessage, turn.Reply} {
		created := m.CreatedAt
		if created.IsZero() {
			created = now
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, role, content, route, input_type, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			turn.ConversationID, string(m.Role), m.Content, nilIfEmpty(string(m.Route)), nilIfEmpty(string(m.InputType)), created,
		); err != nil {
			slog.Error("PostgresStore SaveTurn message insert failed", "error", err, "conversationID", turn.ConversationID)
			return fmt.Errorf("failed to save message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit turn: %w", err)
	}
	slog.Debug("PostgresStore SaveTurn succeeded", "conversationID", turn.ConversationID)
	return nil
}

func (s *PostgresStore) ClearConversation(ctx context.Context, conversationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, conversationID); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return tx.Commit()
}
