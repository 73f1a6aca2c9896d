package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the conversation log in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation_log (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			intent TEXT NOT NULL,
			action TEXT NOT NULL,
			target TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_log_user_seq ON conversation_log (user_id, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, entry Entry) (Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_log (id, user_id, intent, action, target, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID,
		entry.UserID,
		entry.Intent,
		entry.Action,
		entry.Target,
		entry.Timestamp,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("append entry: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, intent, action, target, created_at
		 FROM conversation_log ORDER BY seq ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	return collect(rows, false)
}

func (s *PostgresStore) ForUser(ctx context.Context, userID string, limit int) ([]Entry, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if limit <= 0 {
		rows, err = s.pool.Query(ctx,
			`SELECT id, user_id, intent, action, target, created_at
			 FROM conversation_log WHERE user_id=$1 ORDER BY seq ASC`,
			userID,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT id, user_id, intent, action, target, created_at
			 FROM conversation_log WHERE user_id=$1 ORDER BY seq DESC LIMIT $2`,
			userID,
			limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("query user entries: %w", err)
	}
	return collect(rows, limit > 0)
}

func collect(rows pgx.Rows, reverse bool) ([]Entry, error) {
	defer rows.Close()

	var items []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Intent, &e.Action, &e.Target, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan entry row: %w", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entry rows: %w", err)
	}

	// DESC queries come back newest first.
	if reverse {
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
	}
	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
