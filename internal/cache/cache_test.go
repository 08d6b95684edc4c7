package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issue-service/internal/geo"
)

func TestSubmissionGuard_Reserve(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	guard := NewSubmissionGuard(rdb, time.Hour, 24*time.Hour)
	ctx := context.Background()
	reportID := uuid.New()
	key := "submission:" + reportID.String()

	mock.ExpectSetNX(key, pendingMarker, time.Hour).SetVal(true)
	state, _, err := guard.Reserve(ctx, reportID)
	require.NoError(t, err)
	assert.Equal(t, ReservationNew, state)

	mock.ExpectSetNX(key, pendingMarker, time.Hour).SetVal(false)
	mock.ExpectGet(key).SetVal(pendingMarker)
	state, _, err = guard.Reserve(ctx, reportID)
	require.NoError(t, err)
	assert.Equal(t, ReservationPending, state)

	issueID := uuid.New()
	mock.ExpectSetNX(key, pendingMarker, time.Hour).SetVal(false)
	mock.ExpectGet(key).SetVal(issueID.String())
	state, got, err := guard.Reserve(ctx, reportID)
	require.NoError(t, err)
	assert.Equal(t, ReservationDone, state)
	assert.Equal(t, issueID, got)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionGuard_ReserveAfterExpiry(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	guard := NewSubmissionGuard(rdb, time.Minute, 24*time.Hour)
	reportID := uuid.New()
	key := "submission:" + reportID.String()

	mock.ExpectSetNX(key, pendingMarker, time.Minute).SetVal(false)
	mock.ExpectGet(key).RedisNil()
	mock.ExpectSetNX(key, pendingMarker, time.Minute).SetVal(true)

	state, _, err := guard.Reserve(context.Background(), reportID)
	require.NoError(t, err)
	assert.Equal(t, ReservationNew, state)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionGuard_BindAndRelease(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	guard := NewSubmissionGuard(rdb, time.Minute, 24*time.Hour)
	reportID, issueID := uuid.New(), uuid.New()
	key := "submission:" + reportID.String()

	mock.ExpectSet(key, issueID.String(), 24*time.Hour).SetVal("OK")
	mock.ExpectDel(key).SetVal(1)

	require.NoError(t, guard.Bind(context.Background(), reportID, issueID))
	require.NoError(t, guard.Release(context.Background(), reportID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionGuard_RedisError(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	guard := NewSubmissionGuard(rdb, time.Hour, 24*time.Hour)
	reportID := uuid.New()

	mock.ExpectSetNX("submission:"+reportID.String(), pendingMarker, time.Hour).SetErr(errors.New("connection refused"))
	_, _, err := guard.Reserve(context.Background(), reportID)
	assert.Error(t, err)
}

func TestSubmissionGuard_PendingExpiresBeforeBinding(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	guard := NewSubmissionGuard(rdb, 2*time.Minute, 24*time.Hour)
	ctx := context.Background()
	reportID, issueID := uuid.New(), uuid.New()
	key := "submission:" + reportID.String()

	mock.ExpectSetNX(key, pendingMarker, 2*time.Minute).SetVal(true)
	state, _, err := guard.Reserve(ctx, reportID)
	require.NoError(t, err)
	assert.Equal(t, ReservationNew, state)

	mock.ExpectSet(key, issueID.String(), 24*time.Hour).SetVal("OK")
	require.NoError(t, guard.Bind(ctx, reportID, issueID))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimiter(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(rdb, "submissions", 2, 24*time.Hour)
	ctx := context.Background()

	mock.ExpectSetNX("submissions:user-1", 0, 24*time.Hour).SetVal(true)
	mock.ExpectIncr("submissions:user-1").SetVal(1)
	d, err := limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	mock.ExpectSetNX("submissions:user-1", 0, 24*time.Hour).SetVal(false)
	mock.ExpectIncr("submissions:user-1").SetVal(2)
	d, err = limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	mock.ExpectSetNX("submissions:user-1", 0, 24*time.Hour).SetVal(false)
	mock.ExpectIncr("submissions:user-1").SetVal(3)
	mock.ExpectTTL("submissions:user-1").SetVal(3 * time.Hour)
	d, err = limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 3*time.Hour, d.RetryAfter)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimiter_FailedIncrementKeepsWindow(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(rdb, "submissions", 2, 24*time.Hour)
	ctx := context.Background()

	mock.ExpectSetNX("submissions:user-1", 0, 24*time.Hour).SetVal(true)
	mock.ExpectIncr("submissions:user-1").SetErr(errors.New("connection reset"))
	_, err := limiter.Allow(ctx, "user-1")
	require.Error(t, err)

	mock.ExpectSetNX("submissions:user-1", 0, 24*time.Hour).SetErr(errors.New("connection refused"))
	_, err = limiter.Allow(ctx, "user-1")
	require.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPositionStore(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	store := NewPositionStore(rdb, time.Hour)
	workerID := uuid.New()
	key := "worker:position:" + workerID.String()
	raw := `{"latitude":23.2599,"longitude":77.4126}`

	mock.ExpectSet(key, raw, time.Hour).SetVal("OK")
	require.NoError(t, store.Save(context.Background(), workerID, geo.Point{Lat: 23.2599, Lng: 77.4126}))

	mock.ExpectGet(key).SetVal(raw)
	p, err := store.Last(context.Background(), workerID)
	require.NoError(t, err)
	assert.Equal(t, geo.Point{Lat: 23.2599, Lng: 77.4126}, p)

	mock.ExpectGet(key).RedisNil()
	_, err = store.Last(context.Background(), workerID)
	assert.ErrorIs(t, err, ErrNoPosition)

	assert.NoError(t, mock.ExpectationsWereMet())
}
