package quota

import (
	"errors"
	"fmt"
	"time"
)

// RetryAfterError is implemented by denials that carry a wait hint.
// Callers use it to render "try again in ..." messages.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

// ExceededError denies an action because the daily quota is exhausted.
type ExceededError struct {
	Category Category
	After    time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (resets in %s)", e.Category, e.After.Round(time.Second))
}
func (e *ExceededError) RetryAfter() time.Duration { return e.After }

// CooldownError denies an action because the inter-action cooldown has
// not elapsed.
type CooldownError struct {
	Category Category
	After    time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cooldown active for %s (%s left)", e.Category, e.After.Round(time.Second))
}
func (e *CooldownError) RetryAfter() time.Duration { return e.After }

func IsExceeded(err error) bool {
	var e *ExceededError
	return errors.As(err, &e)
}

func IsCooldown(err error) bool {
	var e *CooldownError
	return errors.As(err, &e)
}
