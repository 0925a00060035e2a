// Package sqlite persists sessions in a single SQLite file using the cgo-free modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spigell/hirebot/internal/screening"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id             TEXT PRIMARY KEY,
	candidate_name TEXT NOT NULL,
	current_step   TEXT NOT NULL,
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL,
	data           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_created_at ON sessions (created_at, id);
`

// Store is a screening.Store backed by SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps writers from racing for the file lock.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	logger.Info("sqlite session store opened", zap.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Create(ctx context.Context, sess *screening.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, candidate_name, current_step, created_at, updated_at, data) VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.CandidateName, string(sess.Step), sess.CreatedAt.UnixNano(), sess.UpdatedAt.UnixNano(), string(data),
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*screening.Session, error) {
	return get(ctx, s.db, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func get(ctx context.Context, q querier, id string) (*screening.Session, error) {
	var data string
	err := q.QueryRowContext(ctx, `SELECT data FROM sessions WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", screening.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("select session %s: %w", id, err)
	}
	return decode(data)
}

// Update reads, mutates and writes the session inside one transaction.
func (s *Store) Update(ctx context.Context, id string, fn func(*screening.Session) error) (*screening.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	sess, err := get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(sess); err != nil {
		return nil, err
	}
	if err := sess.Validate(); err != nil {
		return nil, err
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET candidate_name = ?, current_step = ?, updated_at = ?, data = ? WHERE id = ?`,
		sess.CandidateName, string(sess.Step), sess.UpdatedAt.UnixNano(), string(data), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update session %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return sess, nil
}

func (s *Store) Delete(ctx context.Context, id string) (*screening.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	sess, err := get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete session %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return sess, nil
}

func (s *Store) List(ctx context.Context) ([]screening.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM sessions ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := []screening.Summary{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess, err := decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, sess.Summary())
	}
	return out, rows.Err()
}

func decode(data string) (*screening.Session, error) {
	var sess screening.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}
