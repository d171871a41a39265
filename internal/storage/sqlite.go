package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "menfessbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ReserveUsage is a single upsert so the check and the increment cannot
// race: the SELECT guard refuses the very first reservation when the
// limit admits none, the DO UPDATE WHERE clause rejects the row when
// the quota is exhausted and the window has not rolled over, and
// RETURNING tells us whether the reservation took effect.
func (s *sqliteStore) ReserveUsage(ctx context.Context, userID int64, category string, limit int, window time.Duration, now time.Time) (UsageRecord, bool, error) {
	if s == nil || s.db == nil {
		return UsageRecord{}, false, ErrClosed
	}
	nowMS := now.UnixMilli()
	winMS := window.Milliseconds()

	var count int
	var startMS int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO usage(user_id, category, count, window_start)
		SELECT ?1, ?2, 1, ?3 WHERE ?5 > 0
		ON CONFLICT(user_id, category) DO UPDATE SET
			count = CASE
				WHEN ?3 - usage.window_start >= ?4 THEN 1
				ELSE usage.count + 1
			END,
			window_start = CASE
				WHEN ?3 - usage.window_start >= ?4 THEN ?3
				ELSE usage.window_start
			END
		WHERE ?3 - usage.window_start >= ?4 OR usage.count < ?5
		RETURNING count, window_start`,
		userID, category, nowMS, winMS, limit,
	).Scan(&count, &startMS)
	if errors.Is(err, sql.ErrNoRows) {
		// Quota exhausted; the row was left untouched.
		return UsageRecord{}, false, nil
	}
	if err != nil {
		return UsageRecord{}, false, err
	}
	return UsageRecord{
		UserID:      userID,
		Category:    category,
		Count:       count,
		WindowStart: time.UnixMilli(startMS),
	}, true, nil
}

// ReleaseUsage matches on window_start so a rollback that outlived its
// window cannot touch the fresh counter.
func (s *sqliteStore) ReleaseUsage(ctx context.Context, userID int64, category string, windowStart time.Time) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE usage SET count = MAX(count - 1, 0)
		WHERE user_id = ? AND category = ? AND window_start = ?`,
		userID, category, windowStart.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) UsageState(ctx context.Context, userID int64, category string) (UsageRecord, bool, error) {
	if s == nil || s.db == nil {
		return UsageRecord{}, false, ErrClosed
	}
	var count int
	var startMS int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count, window_start FROM usage WHERE user_id = ? AND category = ?`,
		userID, category,
	).Scan(&count, &startMS)
	if errors.Is(err, sql.ErrNoRows) {
		return UsageRecord{}, false, nil
	}
	if err != nil {
		return UsageRecord{}, false, err
	}
	return UsageRecord{UserID: userID, Category: category, Count: count, WindowStart: time.UnixMilli(startMS)}, true, nil
}

func (s *sqliteStore) LastAction(ctx context.Context, userID int64, category string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrClosed
	}
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_action_at FROM cooldown WHERE user_id = ? AND category = ?`,
		userID, category,
	).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) MarkAction(ctx context.Context, userID int64, category string, at time.Time) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cooldown(user_id, category, last_action_at) VALUES(?,?,?)
		ON CONFLICT(user_id, category) DO UPDATE SET last_action_at = excluded.last_action_at`,
		userID, category, at.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) Gender(ctx context.Context, userID int64) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, ErrClosed
	}
	var g string
	err := s.db.QueryRowContext(ctx, `SELECT gender FROM users WHERE user_id = ?`, userID).Scan(&g)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return g, true, nil
}

func (s *sqliteStore) SetGender(ctx context.Context, userID int64, username, gender string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users(user_id, username, gender) VALUES(?,?,?)
		ON CONFLICT(user_id) DO UPDATE SET username = excluded.username`,
		userID, nullStr(username), gender,
	)
	return err
}

func (s *sqliteStore) WasWelcomed(ctx context.Context, userID, chatID int64) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrClosed
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM welcomed WHERE user_id = ? AND chat_id = ?`, userID, chatID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) MarkWelcomed(ctx context.Context, userID, chatID int64) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO welcomed(user_id, chat_id) VALUES(?,?)`, userID, chatID,
	)
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, user_id, username, action, target, ok, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.UserID, nullStr(e.Username),
		e.Action, nullStr(e.Target), e.OK, nullStr(e.Error), e.TookMS,
	)
	return err
}

func (s *sqliteStore) PruneStale(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	ms := cutoff.UnixMilli()
	var n int64
	res, err := s.db.ExecContext(ctx, `DELETE FROM usage WHERE window_start < ?`, ms)
	if err != nil {
		return 0, err
	}
	if c, err := res.RowsAffected(); err == nil {
		n += c
	}
	res, err = s.db.ExecContext(ctx, `DELETE FROM cooldown WHERE last_action_at < ?`, ms)
	if err != nil {
		return n, err
	}
	if c, err := res.RowsAffected(); err == nil {
		n += c
	}
	return n, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
