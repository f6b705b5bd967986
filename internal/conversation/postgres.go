package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists sessions in PostgreSQL.
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
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			preview TEXT NOT NULL DEFAULT '',
			conversation TEXT[] NOT NULL DEFAULT '{}',
			status TEXT NOT NULL DEFAULT 'active',
			summary TEXT NOT NULL DEFAULT '',
			struggles TEXT[] NOT NULL DEFAULT '{}',
			observations TEXT[] NOT NULL DEFAULT '{}',
			tips TEXT[] NOT NULL DEFAULT '{}',
			summary_generated BOOLEAN NOT NULL DEFAULT FALSE,
			summary_generated_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions (created_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, sessionID string) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (session_id, title, created_at, updated_at)
		 VALUES ($1, $2, $3, $3)
		 ON CONFLICT (session_id) DO NOTHING`,
		sessionID, NewTitle(now), now,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sessions WHERE session_id=$1)`, sessionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check session: %w", err)
	}
	return exists, nil
}

const recordColumns = `session_id, title, preview, conversation, status,
	summary, struggles, observations, tips, summary_generated,
	summary_generated_at, created_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, sessionID string) (Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM sessions WHERE session_id=$1`, sessionID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get session: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) History(ctx context.Context, sessionID string) ([]string, error) {
	var history []string
	err := s.pool.QueryRow(ctx,
		`SELECT conversation FROM sessions WHERE session_id=$1`, sessionID,
	).Scan(&history)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	return history, nil
}

func (s *PostgresStore) SetHistory(ctx context.Context, sessionID string, history []string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET conversation=$2, updated_at=now() WHERE session_id=$1`,
		sessionID, history,
	)
	if err != nil {
		return fmt.Errorf("set history: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Checkpoint(ctx context.Context, sessionID string, history []string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET conversation=$2, preview=$3, updated_at=now()
		 WHERE session_id=$1`,
		sessionID, history, Preview(history),
	)
	if err != nil {
		return fmt.Errorf("checkpoint session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) End(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET status=$2, updated_at=now() WHERE session_id=$1`,
		sessionID, StatusEnded,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SaveSummary(ctx context.Context, sessionID string, sum Summary) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET summary=$2, struggles=$3, observations=$4, tips=$5,
			summary_generated=TRUE, summary_generated_at=now(), updated_at=now()
		 WHERE session_id=$1`,
		sessionID, sum.Summary, sum.Struggles, sum.Observations, sum.Tips,
	)
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM sessions WHERE session_id=$1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteBatch(ctx context.Context, sessionIDs []string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`DELETE FROM sessions WHERE session_id = ANY($1) RETURNING session_id`,
		sessionIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("delete sessions: %w", err)
	}
	defer rows.Close()

	var deleted []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan deleted id: %w", err)
		}
		deleted = append(deleted, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deleted ids: %w", err)
	}
	return deleted, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec         Record
		generatedAt *time.Time
	)
	err := row.Scan(
		&rec.SessionID,
		&rec.Title,
		&rec.Preview,
		&rec.History,
		&rec.Status,
		&rec.Summary,
		&rec.Struggles,
		&rec.Observations,
		&rec.Tips,
		&rec.SummaryGenerated,
		&generatedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	if generatedAt != nil {
		rec.SummaryGeneratedAt = *generatedAt
	}
	return rec, nil
}
