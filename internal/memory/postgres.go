package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists scope memory in PostgreSQL: one row per scope plus
// a turn table keyed by (scope, turn id) standing in for the per-scope
// sub-collection.
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
		`CREATE TABLE IF NOT EXISTS scope_memory (
			scope_key TEXT PRIMARY KEY,
			bot_key TEXT NOT NULL,
			guild_id BIGINT NOT NULL,
			channel_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			recent_count BIGINT NOT NULL DEFAULT 0,
			cutoff_turn_id BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_scope_memory_bot ON scope_memory (bot_key);`,
		`CREATE TABLE IF NOT EXISTS scope_turns (
			scope_key TEXT NOT NULL,
			turn_id BIGINT NOT NULL,
			role TEXT NOT NULL,
			speaker TEXT NOT NULL DEFAULT '',
			from_bot BOOLEAN NOT NULL DEFAULT FALSE,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (scope_key, turn_id)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, scope Scope, turn Turn) error {
	content := strings.TrimSpace(turn.Content)
	if content == "" {
		return nil
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	// Turn doc first, scope metadata second, so a read immediately after a
	// successful append always sees the turn.
	var inserted bool
	err := s.pool.QueryRow(ctx,
		`INSERT INTO scope_turns (scope_key, turn_id, role, speaker, from_bot, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (scope_key, turn_id) DO UPDATE SET
		   role = EXCLUDED.role,
		   speaker = EXCLUDED.speaker,
		   from_bot = EXCLUDED.from_bot,
		   content = EXCLUDED.content
		 RETURNING (xmax = 0)`,
		scope.Key(), turn.ID, turn.Role, turn.Speaker, turn.FromBot, content, turn.CreatedAt,
	).Scan(&inserted)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}

	inc := 0
	if inserted {
		inc = 1
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO scope_memory (scope_key, bot_key, guild_id, channel_id, user_id, recent_count, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT (scope_key) DO UPDATE SET
		   recent_count = scope_memory.recent_count + $6,
		   updated_at = now()`,
		scope.Key(), scope.BotKey, scope.GuildID, scope.ChannelID, scope.UserID, inc,
	)
	if err != nil {
		return fmt.Errorf("update scope metadata: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMemory(ctx context.Context, scope Scope, limit int) (*ScopeMemory, error) {
	if limit <= 0 {
		limit = 40
	}

	var mem ScopeMemory
	err := s.pool.QueryRow(ctx,
		`SELECT summary, recent_count, cutoff_turn_id, updated_at FROM scope_memory WHERE scope_key=$1`,
		scope.Key(),
	).Scan(&mem.Summary, &mem.RecentCount, &mem.CutoffTurnID, &mem.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query scope memory: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT turn_id, role, speaker, from_bot, content, created_at
		 FROM scope_turns WHERE scope_key=$1 ORDER BY turn_id DESC LIMIT $2`,
		scope.Key(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()

	turns := make([]Turn, 0, limit)
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.Role, &t.Speaker, &t.FromBot, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}

	// Reverse into ascending turn order for prompt coherence.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	mem.RecentTurns = turns

	return &mem, nil
}

func (s *PostgresStore) ListRecentTurnIDs(ctx context.Context, scope Scope, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx,
		`SELECT turn_id FROM scope_turns WHERE scope_key=$1 ORDER BY turn_id DESC LIMIT $2`,
		scope.Key(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query turn ids: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0, limit)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan turn id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn ids: %w", err)
	}

	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids, nil
}

func (s *PostgresStore) SetSummaryAndCompact(ctx context.Context, scope Scope, summary string, keepIDs []int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scope_memory (scope_key, bot_key, guild_id, channel_id, user_id, summary, recent_count, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 ON CONFLICT (scope_key) DO UPDATE SET
		   summary = $6,
		   recent_count = $7,
		   updated_at = now()`,
		scope.Key(), scope.BotKey, scope.GuildID, scope.ChannelID, scope.UserID,
		strings.TrimSpace(summary), len(keepIDs),
	)
	if err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	// Deletion is best-effort; a failure here must not undo the summary.
	keep := keepIDs
	if keep == nil {
		keep = []int64{}
	}
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM scope_turns WHERE scope_key=$1 AND NOT (turn_id = ANY($2))`,
		scope.Key(), keep,
	); err != nil {
		log.Printf("memory: compact delete for %s failed: %v", scope.Key(), err)
	}
	return nil
}

func (s *PostgresStore) ClearMemory(ctx context.Context, scope Scope, cutoffTurnID int64) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM scope_turns WHERE scope_key=$1`, scope.Key(),
	); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO scope_memory (scope_key, bot_key, guild_id, channel_id, user_id, summary, recent_count, cutoff_turn_id, updated_at)
		 VALUES ($1, $2, $3, $4, $5, '', 0, $6, now())
		 ON CONFLICT (scope_key) DO UPDATE SET
		   summary = '',
		   recent_count = 0,
		   cutoff_turn_id = GREATEST(scope_memory.cutoff_turn_id, $6),
		   updated_at = now()`,
		scope.Key(), scope.BotKey, scope.GuildID, scope.ChannelID, scope.UserID, cutoffTurnID,
	)
	if err != nil {
		return fmt.Errorf("reset scope memory: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClearAllScopesUnderPrefix(ctx context.Context, botKey string, cutoffTurnID int64) (int, error) {
	scopes, err := s.ListScopes(ctx, botKey)
	if err != nil {
		return 0, err
	}
	for _, scope := range scopes {
		if err := s.ClearMemory(ctx, scope, cutoffTurnID); err != nil {
			log.Printf("memory: bulk clear for %s failed: %v", scope.Key(), err)
		}
	}
	return len(scopes), nil
}

func (s *PostgresStore) ListScopes(ctx context.Context, botKey string) ([]Scope, error) {
	query := `SELECT bot_key, guild_id, channel_id, user_id FROM scope_memory ORDER BY scope_key`
	args := []any{}
	if strings.TrimSpace(botKey) != "" {
		query = `SELECT bot_key, guild_id, channel_id, user_id FROM scope_memory WHERE bot_key=$1 ORDER BY scope_key`
		args = append(args, botKey)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query scopes: %w", err)
	}
	defer rows.Close()

	out := make([]Scope, 0)
	for rows.Next() {
		var sc Scope
		if err := rows.Scan(&sc.BotKey, &sc.GuildID, &sc.ChannelID, &sc.UserID); err != nil {
			return nil, fmt.Errorf("scan scope row: %w", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scope rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
