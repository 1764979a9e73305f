package casestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lucasnoah/casepilot/internal/testcase"
)

const schema = `
CREATE TABLE IF NOT EXISTS test_cases (
    id          TEXT PRIMARY KEY,
    project_id  TEXT NOT NULL,
    version     INTEGER NOT NULL DEFAULT 1,
    title       TEXT NOT NULL,
    priority    TEXT NOT NULL DEFAULT '',
    type        TEXT NOT NULL DEFAULT '',
    body        JSONB NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_test_cases_project ON test_cases(project_id, updated_at DESC);
`

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate creates the test_cases table if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate test_cases: %w", err)
	}
	return nil
}

// Close closes the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Save(ctx context.Context, projectID string, c testcase.TestCase) (Saved, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	body, err := json.Marshal(c)
	if err != nil {
		return Saved{}, fmt.Errorf("marshal test case: %w", err)
	}

	var version int
	err = p.pool.QueryRow(ctx, `
		INSERT INTO test_cases (id, project_id, title, priority, type, body)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET project_id = EXCLUDED.project_id, title = EXCLUDED.title,
		    priority = EXCLUDED.priority, type = EXCLUDED.type, body = EXCLUDED.body,
		    version = test_cases.version + 1, updated_at = NOW()
		RETURNING version
	`, c.ID, projectID, c.Title, c.Priority, c.Type, body).Scan(&version)
	if err != nil {
		return Saved{}, fmt.Errorf("save test case %s: %w", c.ID, err)
	}
	return Saved{ID: c.ID, Version: version}, nil
}

func (p *Postgres) Update(ctx context.Context, id string, c testcase.TestCase) (Saved, error) {
	c.ID = id
	body, err := json.Marshal(c)
	if err != nil {
		return Saved{}, fmt.Errorf("marshal test case: %w", err)
	}

	var version int
	err = p.pool.QueryRow(ctx, `
		UPDATE test_cases
		SET title = $2, priority = $3, type = $4, body = $5,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING version
	`, id, c.Title, c.Priority, c.Type, body).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return Saved{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Saved{}, fmt.Errorf("update test case %s: %w", id, err)
	}
	return Saved{ID: id, Version: version}, nil
}

func (p *Postgres) Get(ctx context.Context, id string) (*Record, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, project_id, version, body, created_at, updated_at
		FROM test_cases WHERE id = $1
	`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get test case %s: %w", id, err)
	}
	return rec, nil
}

func (p *Postgres) List(ctx context.Context, projectID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, project_id, version, body, created_at, updated_at
		FROM test_cases
		WHERE $1 = '' OR project_id = $1
		ORDER BY updated_at DESC, id
		LIMIT $2
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list test cases: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan test case: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	var body []byte
	if err := row.Scan(&rec.ID, &rec.ProjectID, &rec.Version, &body, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &rec.Case); err != nil {
		return nil, fmt.Errorf("decode test case %s: %w", rec.ID, err)
	}
	return &rec, nil
}
