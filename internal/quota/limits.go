package quota

import (
	"sync"
	"time"
)

// Category names a class of rate-limited action.
type Category string

const (
	CategoryFetch     Category = "fetch"
	CategoryMediaPost Category = "media_post"
	CategoryTextPost  Category = "text_post"
)

// Window is the rolling period over which a daily counter accumulates
// before resetting. It starts at the user's first chargeable action, not
// at a calendar boundary.
const Window = 24 * time.Hour

// Limit is the static per-category configuration.
type Limit struct {
	Daily    int
	Cooldown time.Duration
}

// Limits maps categories to their limits. Replace() supports config
// hot-reload; reads are cheap and concurrent.
type Limits struct {
	mu sync.RWMutex
	m  map[Category]Limit
}

func NewLimits(m map[Category]Limit) *Limits {
	cp := make(map[Category]Limit, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return &Limits{m: cp}
}

// DefaultLimits mirrors the shipped config defaults.
func DefaultLimits() *Limits {
	return NewLimits(map[Category]Limit{
		CategoryFetch:     {Daily: 2, Cooldown: 30 * time.Second},
		CategoryMediaPost: {Daily: 10, Cooldown: 10 * time.Second},
		CategoryTextPost:  {Daily: 5, Cooldown: 5 * time.Second},
	})
}

func (l *Limits) Get(c Category) (Limit, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	lim, ok := l.m[c]
	return lim, ok
}

func (l *Limits) Replace(m map[Category]Limit) {
	cp := make(map[Category]Limit, len(m))
	for k, v := range m {
		cp[k] = v
	}
	l.mu.Lock()
	l.m = cp
	l.mu.Unlock()
}

// Privileged reports whether a user id bypasses quota and cooldown
// enforcement entirely. Privileged users never create usage or cooldown
// records.
type Privileged func(userID int64) bool

// PrivilegedSet builds a Privileged predicate from a fixed id list.
func PrivilegedSet(ids []int64) Privileged {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(userID int64) bool {
		_, ok := set[userID]
		return ok
	}
}
