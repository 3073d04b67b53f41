package keys

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const overrideName = "generation_model"

// PostgresStore persists credential sets and runtime overrides so every bot
// process sees administrative changes without a restart.
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
		`CREATE TABLE IF NOT EXISTS api_keys (
			provider TEXT NOT NULL,
			key_id TEXT NOT NULL,
			api_key TEXT NOT NULL,
			added_by TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			seq BIGSERIAL,
			added_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (provider, key_id)
		);`,
		`CREATE TABLE IF NOT EXISTS runtime_overrides (
			name TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_by TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) ListKeys(ctx context.Context, provider Provider) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT api_key FROM api_keys WHERE provider=$1 ORDER BY seq`, string(provider),
	)
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key row: %w", err)
		}
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate key rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) AddKeys(ctx context.Context, provider Provider, newKeys []string, addedBy, source string) (AddStats, error) {
	cleaned := cleanKeys(newKeys)
	stats := AddStats{}

	for _, k := range cleaned {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO api_keys (provider, key_id, api_key, added_by, source, added_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (provider, key_id) DO NOTHING`,
			string(provider), KeyID(k), k, addedBy, source, time.Now().UTC(),
		)
		if err != nil {
			return stats, fmt.Errorf("insert key %s: %w", Mask(k), err)
		}
		if tag.RowsAffected() > 0 {
			stats.Added++
		} else {
			stats.Skipped++
		}
	}

	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM api_keys WHERE provider=$1`, string(provider),
	).Scan(&stats.Total); err != nil {
		return stats, fmt.Errorf("count keys: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) ModelOverride(ctx context.Context) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM runtime_overrides WHERE name=$1`, overrideName,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("query model override: %w", err)
	}
	return strings.TrimSpace(value), nil
}

func (s *PostgresStore) SetModelOverride(ctx context.Context, model, updatedBy, source string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return fmt.Errorf("model must be non-empty")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runtime_overrides (name, value, updated_by, source, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (name) DO UPDATE SET
		   value = $2, updated_by = $3, source = $4, updated_at = now()`,
		overrideName, model, updatedBy, source,
	)
	if err != nil {
		return fmt.Errorf("set model override: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClearModelOverride(ctx context.Context, _, _ string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM runtime_overrides WHERE name=$1`, overrideName,
	); err != nil {
		return fmt.Errorf("clear model override: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
