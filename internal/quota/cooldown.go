package quota

import (
	"context"
	"fmt"
	"time"

	"menfessbot/internal/storage"
	logx "menfessbot/pkg/logx"
)

// CooldownGate enforces the per-(user, category) inter-action delay.
// It is independent of the Ledger: a user may be under quota and still on
// cooldown, and vice versa.
type CooldownGate struct {
	store  storage.Store
	limits *Limits
	priv   Privileged
	log    logx.Logger

	now func() time.Time
}

func NewCooldownGate(store storage.Store, limits *Limits, priv Privileged, log logx.Logger) *CooldownGate {
	if priv == nil {
		priv = func(int64) bool { return false }
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &CooldownGate{store: store, limits: limits, priv: priv, log: log, now: time.Now}
}

// SetClock overrides the gate clock. Tests only.
func (g *CooldownGate) SetClock(now func() time.Time) { g.now = now }

// Check reports whether the user is still on cooldown for the category
// and how long is left. Privileged users are never on cooldown.
func (g *CooldownGate) Check(ctx context.Context, userID int64, cat Category) (bool, time.Duration, error) {
	lim, ok := g.limits.Get(cat)
	if !ok {
		return false, 0, fmt.Errorf("unknown category %q", cat)
	}
	if lim.Cooldown <= 0 || g.priv(userID) {
		return false, 0, nil
	}

	last, found, err := g.store.LastAction(ctx, userID, string(cat))
	if err != nil {
		return false, 0, err
	}
	if !found {
		return false, 0, nil
	}
	elapsed := g.now().Sub(last)
	if elapsed >= lim.Cooldown {
		return false, 0, nil
	}
	return true, lim.Cooldown - elapsed, nil
}

// Mark records a completed action. It is called only after the gated
// action fully succeeded, so a rejected or failed attempt never starts a
// cooldown.
func (g *CooldownGate) Mark(ctx context.Context, userID int64, cat Category) error {
	if g.priv(userID) {
		return nil
	}
	return g.store.MarkAction(ctx, userID, string(cat), g.now())
}
