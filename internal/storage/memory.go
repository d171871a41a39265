package storage

import (
	"context"
	"sync"
	"time"
)

// memoryStore mirrors the sqlite semantics without durability.
// It exists for tests; production runs on sqlite.
type memoryStore struct {
	mu sync.Mutex

	usage    map[userCat]*UsageRecord
	cooldown map[userCat]time.Time
	genders  map[int64]string
	welcomed map[userChat]struct{}
	audit    []AuditEntry
}

type userCat struct {
	userID   int64
	category string
}

type userChat struct {
	userID int64
	chatID int64
}

// NewMemory returns an in-process Store. Exported so tests in other
// packages can construct isolated stores.
func NewMemory() Store {
	return &memoryStore{
		usage:    make(map[userCat]*UsageRecord),
		cooldown: make(map[userCat]time.Time),
		genders:  make(map[int64]string),
		welcomed: make(map[userChat]struct{}),
	}
}

func (s *memoryStore) ReserveUsage(ctx context.Context, userID int64, category string, limit int, window time.Duration, now time.Time) (UsageRecord, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	k := userCat{userID, category}
	rec := s.usage[k]
	if rec == nil || now.Sub(rec.WindowStart) >= window {
		if limit <= 0 {
			return UsageRecord{}, false, nil
		}
		rec = &UsageRecord{UserID: userID, Category: category, Count: 0, WindowStart: now}
		s.usage[k] = rec
	}
	if rec.Count >= limit {
		return UsageRecord{}, false, nil
	}
	rec.Count++
	return *rec, true, nil
}

func (s *memoryStore) ReleaseUsage(ctx context.Context, userID int64, category string, windowStart time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.usage[userCat{userID, category}]
	if rec == nil || !rec.WindowStart.Equal(windowStart) {
		// Window rolled over since the reservation; nothing to undo.
		return nil
	}
	if rec.Count > 0 {
		rec.Count--
	}
	return nil
}

func (s *memoryStore) UsageState(ctx context.Context, userID int64, category string) (UsageRecord, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.usage[userCat{userID, category}]
	if rec == nil {
		return UsageRecord{}, false, nil
	}
	return *rec, true, nil
}

func (s *memoryStore) LastAction(ctx context.Context, userID int64, category string) (time.Time, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.cooldown[userCat{userID, category}]
	return at, ok, nil
}

func (s *memoryStore) MarkAction(ctx context.Context, userID int64, category string, at time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldown[userCat{userID, category}] = at
	return nil
}

func (s *memoryStore) Gender(ctx context.Context, userID int64) (string, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.genders[userID]
	return g, ok, nil
}

func (s *memoryStore) SetGender(ctx context.Context, userID int64, username, gender string) error {
	_ = ctx
	_ = username
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.genders[userID]; !ok {
		s.genders[userID] = gender
	}
	return nil
}

func (s *memoryStore) WasWelcomed(ctx context.Context, userID, chatID int64) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.welcomed[userChat{userID, chatID}]
	return ok, nil
}

func (s *memoryStore) MarkWelcomed(ctx context.Context, userID, chatID int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.welcomed[userChat{userID, chatID}] = struct{}{}
	return nil
}

func (s *memoryStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.audit = append(s.audit, e)
	return nil
}

func (s *memoryStore) PruneStale(ctx context.Context, cutoff time.Time) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, rec := range s.usage {
		if rec.WindowStart.Before(cutoff) {
			delete(s.usage, k)
			n++
		}
	}
	for k, at := range s.cooldown {
		if at.Before(cutoff) {
			delete(s.cooldown, k)
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) Close() error { return nil }
