package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "menfessbot/pkg/logx"
)

// Store is the persistence API used by the quota and bot layers.
//
// ReserveUsage is the only mutation with read-modify-write semantics and
// must be atomic in every driver: the quota check and the increment happen
// in one unit, never as two separate statements.
type Store interface {
	// ReserveUsage atomically checks the counter against limit and
	// increments it, starting a fresh window when the previous one is
	// older than window. It returns the post-increment record and
	// ok=false (without mutating) when the quota is already exhausted.
	ReserveUsage(ctx context.Context, userID int64, category string, limit int, window time.Duration, now time.Time) (UsageRecord, bool, error)
	// ReleaseUsage undoes one reservation made in the window identified
	// by windowStart. It floors at zero and is a no-op if the window has
	// rolled over since the reservation.
	ReleaseUsage(ctx context.Context, userID int64, category string, windowStart time.Time) error
	// UsageState reads the current counter without mutating it.
	UsageState(ctx context.Context, userID int64, category string) (UsageRecord, bool, error)

	LastAction(ctx context.Context, userID int64, category string) (time.Time, bool, error)
	MarkAction(ctx context.Context, userID int64, category string, at time.Time) error

	Gender(ctx context.Context, userID int64) (string, bool, error)
	SetGender(ctx context.Context, userID int64, username, gender string) error

	WasWelcomed(ctx context.Context, userID, chatID int64) (bool, error)
	MarkWelcomed(ctx context.Context, userID, chatID int64) error

	AppendAudit(ctx context.Context, e AuditEntry) error

	// PruneStale removes usage and cooldown rows last touched before cutoff.
	PruneStale(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
