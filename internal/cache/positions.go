package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"issue-service/internal/geo"
)

var ErrNoPosition = errors.New("no last known position")

// PositionStore remembers the last live fix per worker. It backs the
// lower-accuracy fallback when a device cannot produce a fresh fix.
type PositionStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewPositionStore(rdb redis.Cmdable, ttl time.Duration) *PositionStore {
	return &PositionStore{rdb: rdb, ttl: ttl}
}

func positionKey(workerID uuid.UUID) string {
	return "worker:position:" + workerID.String()
}

func (s *PositionStore) Save(ctx context.Context, workerID uuid.UUID, p geo.Point) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, positionKey(workerID), string(raw), s.ttl).Err(); err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

func (s *PositionStore) Last(ctx context.Context, workerID uuid.UUID) (geo.Point, error) {
	raw, err := s.rdb.Get(ctx, positionKey(workerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return geo.Point{}, ErrNoPosition
	}
	if err != nil {
		return geo.Point{}, fmt.Errorf("load position: %w", err)
	}
	var p geo.Point
	if err := json.Unmarshal(raw, &p); err != nil {
		return geo.Point{}, fmt.Errorf("decode position: %w", err)
	}
	return p, nil
}
