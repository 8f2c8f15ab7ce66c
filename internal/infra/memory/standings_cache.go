package memory

import (
	"context"
	"sync"
	"time"

	"brainforces/internal/domain"
)

// StandingsCache keeps standings snapshots per quiz with a short TTL; writes
// to a quiz's score invalidate its entry.
type StandingsCache struct {
	ttl   time.Duration
	clock func() time.Time

	mu    sync.RWMutex
	cache map[int64]cachedStandings
}

type cachedStandings struct {
	rows      []domain.StandingsRow
	expiresAt time.Time
}

func NewStandingsCache(ttl time.Duration) *StandingsCache {
	return &StandingsCache{
		ttl:   ttl,
		clock: time.Now,
		cache: make(map[int64]cachedStandings),
	}
}

func (c *StandingsCache) Get(_ context.Context, quizID int64) ([]domain.StandingsRow, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[quizID]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return nil, false, nil
	}
	return entry.rows, true, nil
}

func (c *StandingsCache) Set(_ context.Context, quizID int64, rows []domain.StandingsRow) error {
	c.mu.Lock()
	c.cache[quizID] = cachedStandings{rows: rows, expiresAt: c.clock().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

func (c *StandingsCache) Invalidate(_ context.Context, quizID int64) error {
	c.mu.Lock()
	delete(c.cache, quizID)
	c.mu.Unlock()
	return nil
}
