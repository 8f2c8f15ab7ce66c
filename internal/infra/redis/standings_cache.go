package redis

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"brainforces/internal/domain"
)

// StandingsCache keeps standings snapshots under quiz:{id}:standings with a
// short TTL; score changes and finalization delete the key.
type StandingsCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStandingsCache(client *redis.Client, ttl time.Duration) *StandingsCache {
	return &StandingsCache{client: client, ttl: ttl}
}

func (c *StandingsCache) Get(ctx context.Context, quizID int64) ([]domain.StandingsRow, bool, error) {
	raw, err := c.client.Get(ctx, standingsKey(quizID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rows []domain.StandingsRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, false, err
	}
	return rows, true, nil
}

func (c *StandingsCache) Set(ctx context.Context, quizID int64, rows []domain.StandingsRow) error {
	data, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, standingsKey(quizID), data, c.ttl).Err()
}

func (c *StandingsCache) Invalidate(ctx context.Context, quizID int64) error {
	return c.client.Del(ctx, standingsKey(quizID)).Err()
}

func standingsKey(quizID int64) string {
	return "quiz:" + strconv.FormatInt(quizID, 10) + ":standings"
}
