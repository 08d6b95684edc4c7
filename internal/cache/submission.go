package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const pendingMarker = "pending"

type ReservationState int

const (
	// ReservationNew means the caller owns the report id and must either bind or release it.
	ReservationNew ReservationState = iota
	// ReservationPending means another submission with the same report id is in flight.
	ReservationPending
	// ReservationDone means the report id already produced an issue.
	ReservationDone
)

// SubmissionGuard makes issue submission idempotent per client report id.
// A pending marker lives for pendingTTL only, so a submission that died
// without releasing its reservation frees the report id quickly. A bound
// issue id is kept for doneTTL.
type SubmissionGuard struct {
	rdb        redis.Cmdable
	pendingTTL time.Duration
	doneTTL    time.Duration
}

func NewSubmissionGuard(rdb redis.Cmdable, pendingTTL, doneTTL time.Duration) *SubmissionGuard {
	return &SubmissionGuard{rdb: rdb, pendingTTL: pendingTTL, doneTTL: doneTTL}
}

func submissionKey(reportID uuid.UUID) string {
	return "submission:" + reportID.String()
}

func (g *SubmissionGuard) Reserve(ctx context.Context, reportID uuid.UUID) (ReservationState, uuid.UUID, error) {
	key := submissionKey(reportID)

	for i := 0; i < 2; i++ {
		ok, err := g.rdb.SetNX(ctx, key, pendingMarker, g.pendingTTL).Result()
		if err != nil {
			return 0, uuid.Nil, fmt.Errorf("reserve report id: %w", err)
		}
		if ok {
			return ReservationNew, uuid.Nil, nil
		}

		val, err := g.rdb.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET
			continue
		}
		if err != nil {
			return 0, uuid.Nil, fmt.Errorf("read report id: %w", err)
		}
		if val == pendingMarker {
			return ReservationPending, uuid.Nil, nil
		}
		issueID, err := uuid.Parse(val)
		if err != nil {
			return 0, uuid.Nil, fmt.Errorf("corrupt submission key %s: %w", key, err)
		}
		return ReservationDone, issueID, nil
	}
	return ReservationPending, uuid.Nil, nil
}

// Bind records the issue created for reportID.
func (g *SubmissionGuard) Bind(ctx context.Context, reportID, issueID uuid.UUID) error {
	if err := g.rdb.Set(ctx, submissionKey(reportID), issueID.String(), g.doneTTL).Err(); err != nil {
		return fmt.Errorf("bind report id: %w", err)
	}
	return nil
}

// Release drops a reservation so the same report id can be submitted again.
func (g *SubmissionGuard) Release(ctx context.Context, reportID uuid.UUID) error {
	if err := g.rdb.Del(ctx, submissionKey(reportID)).Err(); err != nil {
		return fmt.Errorf("release report id: %w", err)
	}
	return nil
}
