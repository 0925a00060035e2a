// Package postgres persists sessions in PostgreSQL through a pgx connection pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spigell/hirebot/internal/screening"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS hirebot_sessions (
	id             TEXT PRIMARY KEY,
	candidate_name TEXT NOT NULL,
	current_step   TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	data           JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS hirebot_sessions_created_at ON hirebot_sessions (created_at, id);
`

// Config holds pool settings.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// Store is a screening.Store backed by PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Open connects, pings and applies the schema.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DSN == "" {
		return nil, errors.New("postgres dsn is required")
	}

	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "hirebot"

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	logger.Info("postgres session store connected", zap.Int32("max_conns", pc.MaxConns))
	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Create(ctx context.Context, sess *screening.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO hirebot_sessions (id, candidate_name, current_step, created_at, updated_at, data)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sess.ID, sess.CandidateName, string(sess.Step), sess.CreatedAt, sess.UpdatedAt, data,
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*screening.Session, error) {
	return get(ctx, s.pool, id, false)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func get(ctx context.Context, q querier, id string, forUpdate bool) (*screening.Session, error) {
	query := `SELECT data FROM hirebot_sessions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var data []byte
	err := q.QueryRow(ctx, query, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", screening.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("select session %s: %w", id, err)
	}
	return decode(data)
}

// Update locks the row with SELECT ... FOR UPDATE for the whole mutation.
func (s *Store) Update(ctx context.Context, id string, fn func(*screening.Session) error) (*screening.Session, error) {
	var out *screening.Session
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		sess, err := get(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := fn(sess); err != nil {
			return err
		}
		if err := sess.Validate(); err != nil {
			return err
		}

		data, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		_, err = tx.Exec(ctx,
			`UPDATE hirebot_sessions SET candidate_name = $1, current_step = $2, updated_at = $3, data = $4 WHERE id = $5`,
			sess.CandidateName, string(sess.Step), sess.UpdatedAt, data, id,
		)
		if err != nil {
			return fmt.Errorf("update session %s: %w", id, err)
		}
		out = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id string) (*screening.Session, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `DELETE FROM hirebot_sessions WHERE id = $1 RETURNING data`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", screening.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("delete session %s: %w", id, err)
	}
	return decode(data)
}

func (s *Store) List(ctx context.Context) ([]screening.Summary, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM hirebot_sessions ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*screening.Session, error) {
		var data []byte
		if err := row.Scan(&data); err != nil {
			return nil, err
		}
		return decode(data)
	})
	if err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}

	out := make([]screening.Summary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Summary())
	}
	return out, nil
}

func decode(data []byte) (*screening.Session, error) {
	var sess screening.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}
