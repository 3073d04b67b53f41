package memory

import (
	"context"
	"fmt"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Scope identifies one isolated memory stream. Scopes never share state;
// cross-bot correctness relies entirely on the bot key namespace.
type Scope struct {
	BotKey    string `json:"bot_key"`
	GuildID   int64  `json:"guild_id"`
	ChannelID int64  `json:"channel_id"`
	UserID    int64  `json:"user_id"`
}

// Key derives the deterministic document key for a scope.
func (s Scope) Key() string {
	return fmt.Sprintf("%s_%d_%d_%d", s.BotKey, s.GuildID, s.ChannelID, s.UserID)
}

// Turn is one stored conversational message. Immutable once written;
// ordered by the platform-assigned ID within a scope.
type Turn struct {
	ID        int64     `json:"turn_id"`
	Role      string    `json:"role"`
	Speaker   string    `json:"speaker,omitempty"`
	FromBot   bool      `json:"from_bot,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ScopeMemory is the per-scope aggregate: rolling summary plus the bounded
// recent-turn window. CutoffTurnID soft-deletes everything at or below it.
type ScopeMemory struct {
	Summary      string    `json:"summary"`
	RecentTurns  []Turn    `json:"recent_turns"`
	RecentCount  int       `json:"recent_count"`
	CutoffTurnID int64     `json:"cutoff_turn_id,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store persists per-scope conversation memory. Callers on the reply path
// treat every error as best-effort: log, count, continue.
type Store interface {
	// Append upserts one turn keyed by its ID. Re-appending an existing ID
	// overwrites the turn without growing the recent count.
	Append(ctx context.Context, scope Scope, turn Turn) error

	// GetMemory returns the summary, cutoff marker and newest limit turns in
	// ascending ID order, or nil if the scope has never been touched.
	GetMemory(ctx context.Context, scope Scope, limit int) (*ScopeMemory, error)

	// ListRecentTurnIDs returns up to limit of the newest turn IDs, ascending.
	ListRecentTurnIDs(ctx context.Context, scope Scope, limit int) ([]int64, error)

	// SetSummaryAndCompact replaces the summary, resets the recent count to
	// len(keepIDs) and deletes stored turns outside keepIDs. The summary
	// write lands regardless of per-item deletion failures.
	SetSummaryAndCompact(ctx context.Context, scope Scope, summary string, keepIDs []int64) error

	// ClearMemory deletes all turns and resets the summary. A non-zero
	// cutoffTurnID is recorded so later backfill cannot resurrect
	// pre-reset content.
	ClearMemory(ctx context.Context, scope Scope, cutoffTurnID int64) error

	// ClearAllScopesUnderPrefix clears every scope owned by one bot key.
	// Individual scope failures are swallowed; the count covers every scope
	// attempted.
	ClearAllScopesUnderPrefix(ctx context.Context, botKey string, cutoffTurnID int64) (int, error)

	// ListScopes enumerates known scopes, optionally filtered by bot key.
	ListScopes(ctx context.Context, botKey string) ([]Scope, error)

	Close() error
}
