package quota

import (
	"context"
)

// AccessPolicy composes the cooldown gate and the ledger into a single
// admit/deny decision.
//
// Check order is deliberate: privileged bypass first, then cooldown, then
// quota. A user who is simultaneously over quota and on cooldown sees the
// cooldown denial, which is the more actionable one (shorter wait).
type AccessPolicy struct {
	ledger *Ledger
	gate   *CooldownGate
	priv   Privileged
}

func NewAccessPolicy(ledger *Ledger, gate *CooldownGate, priv Privileged) *AccessPolicy {
	if priv == nil {
		priv = func(int64) bool { return false }
	}
	return &AccessPolicy{ledger: ledger, gate: gate, priv: priv}
}

// Decide admits or denies one chargeable action. On admission it returns
// a live reservation the caller must settle with Finish or Abort. On
// denial the error is a *CooldownError or *ExceededError.
func (p *AccessPolicy) Decide(ctx context.Context, userID int64, cat Category) (*Reservation, error) {
	if p.priv(userID) {
		return p.ledger.Reserve(ctx, userID, cat) // privileged fast path, no storage touch
	}

	onCooldown, left, err := p.gate.Check(ctx, userID, cat)
	if err != nil {
		return nil, err
	}
	if onCooldown {
		return nil, &CooldownError{Category: cat, After: left}
	}

	return p.ledger.Reserve(ctx, userID, cat)
}

// Finish settles a reservation after the action fully succeeded: the
// cooldown starts now and the charge is committed.
func (p *AccessPolicy) Finish(ctx context.Context, r *Reservation) error {
	if r == nil {
		return nil
	}
	err := p.gate.Mark(ctx, r.UserID, r.Category)
	p.ledger.Commit(ctx, r)
	return err
}

// Abort rolls back a reservation after the action failed. The quota is
// never charged for a request that did not culminate in delivery, and no
// cooldown starts.
func (p *AccessPolicy) Abort(ctx context.Context, r *Reservation) {
	p.ledger.Rollback(ctx, r)
}
