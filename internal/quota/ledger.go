package quota

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"menfessbot/internal/storage"
	logx "menfessbot/pkg/logx"
)

// Ledger enforces per-(user, category) daily quotas on top of the
// persisted store. All mutations go through Reserve/Commit/Rollback so a
// count only sticks when the gated action actually completed.
type Ledger struct {
	store  storage.Store
	limits *Limits
	priv   Privileged
	log    logx.Logger

	now func() time.Time
}

func NewLedger(store storage.Store, limits *Limits, priv Privileged, log logx.Logger) *Ledger {
	if priv == nil {
		priv = func(int64) bool { return false }
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Ledger{store: store, limits: limits, priv: priv, log: log, now: time.Now}
}

// SetClock overrides the ledger clock. Tests only.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// Status is a read-only view of a user's quota in one category.
type Status struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Check reads the current window without reserving anything.
// Privileged users are always allowed and never touch storage.
func (l *Ledger) Check(ctx context.Context, userID int64, cat Category) (Status, error) {
	lim, ok := l.limits.Get(cat)
	if !ok {
		return Status{}, fmt.Errorf("unknown category %q", cat)
	}
	if l.priv(userID) {
		return Status{Allowed: true, Remaining: lim.Daily}, nil
	}

	rec, found, err := l.store.UsageState(ctx, userID, string(cat))
	if err != nil {
		return Status{}, err
	}
	now := l.now()
	if !found || now.Sub(rec.WindowStart) >= Window {
		return Status{Allowed: true, Remaining: lim.Daily}, nil
	}
	if rec.Count >= lim.Daily {
		return Status{RetryAfter: Window - now.Sub(rec.WindowStart)}, nil
	}
	return Status{Allowed: true, Remaining: lim.Daily - rec.Count}, nil
}

// Reservation is one atomic check-and-increment against the quota. It is
// finalized by exactly one of Commit or Rollback.
type Reservation struct {
	ID          string
	UserID      int64
	Category    Category
	WindowStart time.Time

	privileged bool
	settled    atomic.Bool
}

// Privileged reports whether this reservation bypassed the ledger.
func (r *Reservation) Privileged() bool { return r.privileged }

// Reserve atomically checks and increments the counter. The store closes
// the check-then-increment race in a single upsert; Reserve never issues
// a separate read before the write.
func (l *Ledger) Reserve(ctx context.Context, userID int64, cat Category) (*Reservation, error) {
	lim, ok := l.limits.Get(cat)
	if !ok {
		return nil, fmt.Errorf("unknown category %q", cat)
	}
	if l.priv(userID) {
		return &Reservation{ID: uuid.NewString(), UserID: userID, Category: cat, privileged: true}, nil
	}

	now := l.now()
	rec, ok, err := l.store.ReserveUsage(ctx, userID, string(cat), lim.Daily, Window, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		after := Window
		if st, found, serr := l.store.UsageState(ctx, userID, string(cat)); serr == nil && found {
			after = Window - now.Sub(st.WindowStart)
		}
		return nil, &ExceededError{Category: cat, After: after}
	}
	res := &Reservation{
		ID:          uuid.NewString(),
		UserID:      userID,
		Category:    cat,
		WindowStart: rec.WindowStart,
	}
	l.log.Debug("quota reserved",
		logx.String("reservation", res.ID),
		logx.Int64("user", userID),
		logx.String("category", string(cat)),
		logx.Int("count", rec.Count),
	)
	return res, nil
}

// Commit finalizes a reservation. The increment is already persisted, so
// this only marks the token settled for observability.
func (l *Ledger) Commit(ctx context.Context, r *Reservation) {
	_ = ctx
	if r == nil || !r.settled.CompareAndSwap(false, true) {
		return
	}
	l.log.Debug("quota committed",
		logx.String("reservation", r.ID),
		logx.Int64("user", r.UserID),
		logx.String("category", string(r.Category)),
	)
}

// Rollback undoes a reservation, floored at zero. It is at-most-once per
// token and a no-op after window rollover (the store matches on the
// reservation's window start).
func (l *Ledger) Rollback(ctx context.Context, r *Reservation) {
	if r == nil || !r.settled.CompareAndSwap(false, true) {
		return
	}
	if r.privileged {
		return
	}
	if err := l.store.ReleaseUsage(ctx, r.UserID, string(r.Category), r.WindowStart); err != nil {
		l.log.Error("quota rollback failed",
			logx.String("reservation", r.ID),
			logx.Int64("user", r.UserID),
			logx.String("category", string(r.Category)),
			logx.Err(err),
		)
		return
	}
	l.log.Debug("quota rolled back",
		logx.String("reservation", r.ID),
		logx.Int64("user", r.UserID),
		logx.String("category", string(r.Category)),
	)
}
