package application

import (
	"context"
	"fmt"
	"time"

	"github.com/kashcal/synccore/internal/calendar/domain"
	"github.com/google/uuid"
)

// ReadyOperationsLimit bounds a single drain pass.
const ReadyOperationsLimit = 100

// OperationQueueManager owns PendingOperation lifecycle: enqueue
// dedup/consolidation, FIFO draining, retry/failure bookkeeping, stale and
// auto-reset recovery, and abandonment.
type OperationQueueManager struct {
	repo domain.PendingOperationRepository
	clock domain.Clock
}

// NewOperationQueueManager creates an OperationQueueManager.
func NewOperationQueueManager(repo domain.PendingOperationRepository, clock domain.Clock) *OperationQueueManager {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &OperationQueueManager{repo: repo, clock: clock}
}

// Enqueue deduplicates by (eventId, operation) where the existing row is
// not FAILED, and consolidates CREATE+UPDATE into CREATE-only.
// It returns the operation actually persisted, which may be the existing
// row left untouched.
func (m *OperationQueueManager) Enqueue(ctx context.Context, op *domain.PendingOperation) (*domain.PendingOperation, error) {
	if op.Operation() == domain.OperationUpdate {
		if existingCreate, err := m.repo.FindByEventAndKind(ctx, op.EventID(), domain.OperationCreate); err != nil {
			return nil, fmt.Errorf("check existing create: %w", err)
		} else if existingCreate != nil && existingCreate.Status() != domain.OperationFailed {
			// CREATE + UPDATE consolidates to CREATE-only: the not-yet-pushed
			// CREATE already carries the event's latest body.
			return existingCreate, nil
		}
	}

	existing, err := m.repo.FindByEventAndKind(ctx, op.EventID(), op.Operation())
	if err != nil {
		return nil, fmt.Errorf("check existing operation: %w", err)
	}
	if existing != nil && existing.Status() != domain.OperationFailed {
		return existing, nil
	}

	if err := m.repo.Save(ctx, op); err != nil {
		return nil, fmt.Errorf("save operation: %w", err)
	}
	return op, nil
}

// GetReadyOperations returns PENDING rows with nextRetryAt <= now, FIFO by
// createdAt, capped at limit.
func (m *OperationQueueManager) GetReadyOperations(ctx context.Context, now time.Time, limit int) ([]*domain.PendingOperation, error) {
	if limit <= 0 {
		limit = ReadyOperationsLimit
	}
	return m.repo.FindReady(ctx, now, limit)
}

// MarkInProgress transitions an operation to IN_PROGRESS before dispatch.
func (m *OperationQueueManager) MarkInProgress(ctx context.Context, op *domain.PendingOperation) error {
	op.MarkInProgress(m.clock.Now())
	return m.repo.Save(ctx, op)
}

// ScheduleRetry records a retryable failure with an exponential backoff
// formula, or marks the operation FAILED once maxRetries is exhausted.
func (m *OperationQueueManager) ScheduleRetry(ctx context.Context, op *domain.PendingOperation, errMsg string) error {
	now := m.clock.Now()
	if op.RetryCount() >= op.MaxRetries() {
		op.MarkFailed(errMsg, now)
		return m.repo.Save(ctx, op)
	}
	delay := domain.CalculateRetryDelay(op.RetryCount())
	op.ScheduleRetry(now.Add(delay), errMsg)
	return m.repo.Save(ctx, op)
}

// MarkFailed records a non-retryable failure.
func (m *OperationQueueManager) MarkFailed(ctx context.Context, op *domain.PendingOperation, errMsg string) error {
	op.MarkFailed(errMsg, m.clock.Now())
	return m.repo.Save(ctx, op)
}

// AdvanceToCreatePhase transitions a MOVE from DELETE phase to CREATE phase
// with a fresh retry budget.
func (m *OperationQueueManager) AdvanceToCreatePhase(ctx context.Context, op *domain.PendingOperation) error {
	op.AdvanceToCreatePhase(m.clock.Now())
	return m.repo.Save(ctx, op)
}

// Complete removes an operation after a successful terminal dispatch
// (CREATE/UPDATE persisted, DELETE applied, or MOVE's CREATE phase done).
func (m *OperationQueueManager) Complete(ctx context.Context, op *domain.PendingOperation) error {
	return m.repo.Delete(ctx, op.ID())
}

// ResetStaleInProgress returns any IN_PROGRESS row whose updatedAt predates
// cutoff (default now-1h) to PENDING — crash recovery run at startup.
func (m *OperationQueueManager) ResetStaleInProgress(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-domain.StaleInProgressCutoff)
	stale, err := m.repo.FindStaleInProgress(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find stale in-progress: %w", err)
	}
	for _, op := range stale {
		op.ResetStale()
		if err := m.repo.Save(ctx, op); err != nil {
			return 0, fmt.Errorf("reset stale operation %s: %w", op.ID(), err)
		}
	}
	return len(stale), nil
}

// AutoResetOldFailed revives FAILED operations that failed at least 24h ago
// and have not yet exceeded their 30-day lifetime.
func (m *OperationQueueManager) AutoResetOldFailed(ctx context.Context, now time.Time) (int, error) {
	failedBefore := now.Add(-domain.AutoResetFailedAfter)
	candidates, err := m.repo.FindEligibleForAutoReset(ctx, failedBefore)
	if err != nil {
		return 0, fmt.Errorf("find eligible for auto-reset: %w", err)
	}
	reset := 0
	for _, op := range candidates {
		if !op.EligibleForAutoReset(now) {
			continue
		}
		op.AutoReset(now)
		if err := m.repo.Save(ctx, op); err != nil {
			return reset, fmt.Errorf("auto-reset operation %s: %w", op.ID(), err)
		}
		reset++
	}
	return reset, nil
}

// GetExpiredOperations returns rows whose 30-day lifetime is up; the caller
// is responsible for marking them abandoned with a reason and deleting
// them.
func (m *OperationQueueManager) GetExpiredOperations(ctx context.Context, now time.Time) ([]*domain.PendingOperation, error) {
	cutoff := now.Add(-domain.OperationLifetime)
	return m.repo.FindExpired(ctx, cutoff)
}

// AbandonExpired deletes an expired operation's row. It records no reason
// itself; logging the abandonment is left to the caller.
func (m *OperationQueueManager) AbandonExpired(ctx context.Context, op *domain.PendingOperation) error {
	return m.repo.Delete(ctx, op.ID())
}

// RefreshOperationLifetime extends the 30-day abandonment window for every
// pending operation on an event, called on user interaction with that
// event.
func (m *OperationQueueManager) RefreshOperationLifetime(ctx context.Context, eventID uuid.UUID, now time.Time) error {
	ops, err := m.repo.FindByEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("find operations for event: %w", err)
	}
	for _, op := range ops {
		op.RefreshLifetime(now)
		if err := m.repo.Save(ctx, op); err != nil {
			return fmt.Errorf("refresh lifetime for operation %s: %w", op.ID(), err)
		}
	}
	return nil
}
