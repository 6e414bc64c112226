package domain_test

import (
	"testing"
	"time"

	"github.com/kashcal/synccore/internal/calendar/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPendingOperation(t *testing.T) {
	eventID := uuid.New()
	now := time.Now().UTC()

	op := domain.NewPendingOperation(eventID, domain.OperationUpdate, "https://cal.example.com/event-1", now)

	require.NotNil(t, op)
	assert.Equal(t, eventID, op.EventID())
	assert.Equal(t, domain.OperationUpdate, op.Operation())
	assert.Equal(t, domain.OperationPending, op.Status())
	assert.Equal(t, 0, op.RetryCount())
	assert.Equal(t, domain.DefaultMaxRetries, op.MaxRetries())
	assert.Equal(t, now, op.NextRetryAt())
	assert.Equal(t, "https://cal.example.com/event-1", op.TargetURL())
	assert.Equal(t, domain.MovePhaseDelete, op.MovePhase())
	assert.True(t, op.IsReady(now))
}

func TestNewMoveOperation(t *testing.T) {
	eventID := uuid.New()
	source := uuid.New()
	target := uuid.New()
	now := time.Now().UTC()

	op := domain.NewMoveOperation(eventID, "https://cal.example.com/event-1", source, target, now)

	require.NotNil(t, op.SourceCalendarID())
	require.NotNil(t, op.TargetCalendarID())
	assert.Equal(t, source, *op.SourceCalendarID())
	assert.Equal(t, target, *op.TargetCalendarID())
	assert.Equal(t, domain.OperationMove, op.Operation())
	assert.Equal(t, domain.MovePhaseDelete, op.MovePhase())
}

func TestPendingOperation_MarkInProgress(t *testing.T) {
	now := time.Now().UTC()
	op := domain.NewPendingOperation(uuid.New(), domain.OperationCreate, "", now)

	op.MarkInProgress(now)

	assert.Equal(t, domain.OperationInProgress, op.Status())
	assert.False(t, op.IsReady(now))
}

func TestPendingOperation_ScheduleRetry(t *testing.T) {
	now := time.Now().UTC()
	op := domain.NewPendingOperation(uuid.New(), domain.OperationCreate, "", now)
	op.MarkInProgress(now)

	later := now.Add(30 * time.Second)
	op.ScheduleRetry(later, "connection reset")

	assert.Equal(t, domain.OperationPending, op.Status())
	assert.Equal(t, 1, op.RetryCount())
	assert.Equal(t, later, op.NextRetryAt())
	assert.Equal(t, "connection reset", op.LastError())
	assert.False(t, op.IsReady(now))
	assert.True(t, op.IsReady(later))
}

func TestPendingOperation_MarkFailed(t *testing.T) {
	now := time.Now().UTC()
	op := domain.NewPendingOperation(uuid.New(), domain.OperationCreate, "", now)

	op.MarkFailed("404 not found", now)

	assert.Equal(t, domain.OperationFailed, op.Status())
	assert.Equal(t, "404 not found", op.LastError())
	require.NotNil(t, op.FailedAt())
	assert.Equal(t, now, *op.FailedAt())
}

func TestPendingOperation_AdvanceToCreatePhase(t *testing.T) {
	now := time.Now().UTC()
	source := uuid.New()
	target := uuid.New()
	op := domain.NewMoveOperation(uuid.New(), "", source, target, now)
	op.ScheduleRetry(now.Add(time.Minute), "fail 1")
	op.ScheduleRetry(now.Add(time.Minute), "fail 2")

	advanced := now.Add(time.Hour)
	op.AdvanceToCreatePhase(advanced)

	assert.Equal(t, domain.MovePhaseCreate, op.MovePhase())
	assert.Equal(t, 0, op.RetryCount())
	assert.Equal(t, domain.OperationPending, op.Status())
	assert.Equal(t, advanced, op.NextRetryAt())
}

func TestPendingOperation_ResetStale(t *testing.T) {
	now := time.Now().UTC()
	op := domain.NewPendingOperation(uuid.New(), domain.OperationCreate, "", now)
	op.MarkInProgress(now)

	op.ResetStale()

	assert.Equal(t, domain.OperationPending, op.Status())
}

func TestPendingOperation_AutoReset(t *testing.T) {
	now := time.Now().UTC()
	op := domain.NewPendingOperation(uuid.New(), domain.OperationCreate, "", now)
	op.MarkFailed("server error", now)

	later := now.Add(25 * time.Hour)
	op.AutoReset(later)

	assert.Equal(t, domain.OperationPending, op.Status())
	assert.Equal(t, 0, op.RetryCount())
	assert.Equal(t, later, op.NextRetryAt())
	assert.Nil(t, op.FailedAt())
}

func TestPendingOperation_RefreshLifetimeAndIsExpired(t *testing.T) {
	now := time.Now().UTC()
	op := domain.NewPendingOperation(uuid.New(), domain.OperationCreate, "", now)

	assert.False(t, op.IsExpired(now.Add(domain.OperationLifetime-time.Minute)))
	assert.True(t, op.IsExpired(now.Add(domain.OperationLifetime+time.Minute)))

	op.RefreshLifetime(now.Add(time.Hour))
	assert.False(t, op.IsExpired(now.Add(domain.OperationLifetime+time.Minute)))
}

func TestPendingOperation_EligibleForAutoReset(t *testing.T) {
	now := time.Now().UTC()
	op := domain.NewPendingOperation(uuid.New(), domain.OperationCreate, "", now)

	assert.False(t, op.EligibleForAutoReset(now))

	op.MarkFailed("server error", now)
	assert.False(t, op.EligibleForAutoReset(now.Add(time.Hour)))
	assert.True(t, op.EligibleForAutoReset(now.Add(25*time.Hour)))
	assert.False(t, op.EligibleForAutoReset(now.Add(domain.OperationLifetime+time.Hour)))
}

func TestCalculateRetryDelay(t *testing.T) {
	assert.Equal(t, 30*time.Second, domain.CalculateRetryDelay(0))
	assert.Equal(t, 60*time.Second, domain.CalculateRetryDelay(1))
	assert.Equal(t, 120*time.Second, domain.CalculateRetryDelay(2))
	assert.Equal(t, 5*time.Hour, domain.CalculateRetryDelay(20))
	assert.Equal(t, 30*time.Second, domain.CalculateRetryDelay(-1))
}

func TestRehydratePendingOperation(t *testing.T) {
	id := uuid.New()
	eventID := uuid.New()
	target := uuid.New()
	source := uuid.New()
	failedAt := time.Now().UTC().Add(-time.Hour)
	createdAt := time.Now().UTC().Add(-24 * time.Hour)
	updatedAt := time.Now().UTC().Add(-time.Hour)
	nextRetryAt := time.Now().UTC()
	lifetimeResetAt := time.Now().UTC().Add(-time.Hour)

	op := domain.RehydratePendingOperation(
		id, eventID,
		domain.OperationMove,
		domain.OperationFailed,
		3, domain.DefaultMaxRetries,
		nextRetryAt,
		"timeout",
		"https://cal.example.com/event-1",
		&target, &source,
		domain.MovePhaseCreate,
		lifetimeResetAt,
		&failedAt,
		createdAt, updatedAt,
	)

	require.NotNil(t, op)
	assert.Equal(t, id, op.ID())
	assert.Equal(t, eventID, op.EventID())
	assert.Equal(t, domain.OperationMove, op.Operation())
	assert.Equal(t, domain.OperationFailed, op.Status())
	assert.Equal(t, 3, op.RetryCount())
	assert.Equal(t, "timeout", op.LastError())
	assert.Equal(t, target, *op.TargetCalendarID())
	assert.Equal(t, source, *op.SourceCalendarID())
	assert.Equal(t, domain.MovePhaseCreate, op.MovePhase())
	assert.Equal(t, failedAt, *op.FailedAt())
}
