package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process, non-durable (tests)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// UsageRecord is one per-(user, category) daily counter.
// WindowStart is the instant the current 24-hour window began.
type UsageRecord struct {
	UserID      int64
	Category    string
	Count       int
	WindowStart time.Time
}

// AuditEntry records a user-visible action outcome.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time
	UserID   int64
	Username string
	Action   string
	Target   string
	OK       bool
	Error    string
	TookMS   int64
}
