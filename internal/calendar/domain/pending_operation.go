package domain

import (
	"context"
	"time"

	sharedDomain "github.com/kashcal/synccore/internal/shared/domain"
	"github.com/google/uuid"
)

// OperationKind is the queued mutation type.
type OperationKind string

const (
	OperationCreate OperationKind = "CREATE"
	OperationUpdate OperationKind = "UPDATE"
	OperationDelete OperationKind = "DELETE"
	OperationMove OperationKind = "MOVE"
)

// OperationStatus is the PendingOperation lifecycle state.
type OperationStatus string

const (
	OperationPending OperationStatus = "PENDING"
	OperationInProgress OperationStatus = "IN_PROGRESS"
	OperationFailed OperationStatus = "FAILED"
)

// MovePhase is one of the two independent retry-budget phases used for
// atomic cross-calendar moves.
type MovePhase int

const (
	MovePhaseDelete MovePhase = 0
	MovePhaseCreate MovePhase = 1
)

// DefaultMaxRetries is the per-phase retry budget.
const DefaultMaxRetries = 10

// OperationLifetime is the 30-day abandonment clock.
const OperationLifetime = 30 * 24 * time.Hour

// StaleInProgressCutoff is how long an IN_PROGRESS op can sit before
// stale-recovery resets it to PENDING.
const StaleInProgressCutoff = time.Hour

// AutoResetFailedAfter is how long a FAILED op waits before being retried
// again automatically.
const AutoResetFailedAfter = 24 * time.Hour

// PendingOperation is one queued server-side mutation. eventID is
// intentionally not an FK — it survives event deletion, grounded on the
// teacher's outbox.Message, which has the identical "queued thing with
// retry bookkeeping, outlives its source" shape.
type PendingOperation struct {
	sharedDomain.BaseEntity
	eventID uuid.UUID
	operation OperationKind
	status OperationStatus
	retryCount int
	maxRetries int
	nextRetryAt time.Time
	lastError string
	targetURL string // server URL captured at enqueue time
	targetCalendarID *uuid.UUID
	sourceCalendarID *uuid.UUID
	movePhase MovePhase
	lifetimeResetAt time.Time
	failedAt *time.Time
}

// NewPendingOperation creates a new queued operation in PENDING status,
// ready immediately (nextRetryAt = now).
func NewPendingOperation(eventID uuid.UUID, op OperationKind, targetURL string, now time.Time) *PendingOperation {
	return &PendingOperation{
		BaseEntity: sharedDomain.NewBaseEntity(),
		eventID: eventID,
		operation: op,
		status: OperationPending,
		maxRetries: DefaultMaxRetries,
		nextRetryAt: now,
		targetURL: targetURL,
		movePhase: MovePhaseDelete,
		lifetimeResetAt: now,
	}
}

// NewMoveOperation creates a queued MOVE operation starting in the DELETE
// phase.
func NewMoveOperation(eventID uuid.UUID, targetURL string, sourceCalendarID, targetCalendarID uuid.UUID, now time.Time) *PendingOperation {
	op := NewPendingOperation(eventID, OperationMove, targetURL, now)
	op.sourceCalendarID = &sourceCalendarID
	op.targetCalendarID = &targetCalendarID
	return op
}

// NewDeleteOperation creates a queued DELETE operation tagged with the
// calendar the stale server object actually lives on. Needed whenever the
// event's own calendarId will have already moved on to a different
// calendar by the time the op is drained, e.g. a Synced -> Local move:
// without sourceCalendarID the DELETE would be resolved against the
// event's new (target) calendar and would never be routed to the account
// that owns the object being deleted.
func NewDeleteOperation(eventID uuid.UUID, targetURL string, sourceCalendarID uuid.UUID, now time.Time) *PendingOperation {
	op := NewPendingOperation(eventID, OperationDelete, targetURL, now)
	op.sourceCalendarID = &sourceCalendarID
	return op
}

// Getters.
func (p *PendingOperation) EventID() uuid.UUID { return p.eventID }
func (p *PendingOperation) Operation() OperationKind { return p.operation }
func (p *PendingOperation) Status() OperationStatus { return p.status }
func (p *PendingOperation) RetryCount() int { return p.retryCount }
func (p *PendingOperation) MaxRetries() int { return p.maxRetries }
func (p *PendingOperation) NextRetryAt() time.Time { return p.nextRetryAt }
func (p *PendingOperation) LastError() string { return p.lastError }
func (p *PendingOperation) TargetURL() string { return p.targetURL }
func (p *PendingOperation) TargetCalendarID() *uuid.UUID { return p.targetCalendarID }
func (p *PendingOperation) SourceCalendarID() *uuid.UUID { return p.sourceCalendarID }
func (p *PendingOperation) MovePhase() MovePhase { return p.movePhase }
func (p *PendingOperation) LifetimeResetAt() time.Time { return p.lifetimeResetAt }
func (p *PendingOperation) FailedAt() *time.Time { return p.failedAt }

// IsReady reports whether the operation is eligible to be drained now.
func (p *PendingOperation) IsReady(now time.Time) bool {
	return p.status == OperationPending && !p.nextRetryAt.After(now)
}

// MarkInProgress transitions PENDING -> IN_PROGRESS.
func (p *PendingOperation) MarkInProgress(now time.Time) {
	p.status = OperationInProgress
	// Stamp updatedAt from the caller's clock: stale-IN_PROGRESS recovery
	// compares updatedAt against that same clock.
	p.BaseEntity = sharedDomain.RehydrateBaseEntity(p.ID(), p.CreatedAt(), now)
}

// ScheduleRetry records a retryable failure and returns to PENDING with a
// fresh nextRetryAt.
func (p *PendingOperation) ScheduleRetry(nextRetryAt time.Time, errMsg string) {
	p.status = OperationPending
	p.retryCount++
	p.nextRetryAt = nextRetryAt
	p.lastError = errMsg
	p.Touch()
}

// MarkFailed records a non-retryable failure or retry-budget exhaustion.
func (p *PendingOperation) MarkFailed(errMsg string, now time.Time) {
	p.status = OperationFailed
	p.lastError = errMsg
	p.failedAt = &now
	p.Touch()
}

// AdvanceToCreatePhase transitions a MOVE from the DELETE phase to the
// CREATE phase with a fresh retry budget: "resets retryCount=0 and movePhase=CREATE".
func (p *PendingOperation) AdvanceToCreatePhase(now time.Time) {
	p.retryCount = 0
	p.movePhase = MovePhaseCreate
	p.status = OperationPending
	p.nextRetryAt = now
	p.Touch()
}

// ResetStale returns an IN_PROGRESS operation to PENDING without touching
// its retry bookkeeping.
func (p *PendingOperation) ResetStale() {
	p.status = OperationPending
	p.Touch()
}

// AutoReset revives an eligible FAILED operation back to PENDING. Per
// DESIGN.md's Open Question decision, sourceCalendarID/targetCalendarID/
// movePhase are left untouched — only status/retryCount/nextRetryAt/
// failedAt are reset.
func (p *PendingOperation) AutoReset(now time.Time) {
	p.status = OperationPending
	p.retryCount = 0
	p.nextRetryAt = now
	p.failedAt = nil
	p.Touch()
}

// RefreshLifetime extends the 30-day abandonment window on user interaction.
func (p *PendingOperation) RefreshLifetime(now time.Time) {
	p.lifetimeResetAt = now
	p.Touch()
}

// IsExpired reports whether the operation's 30-day lifetime has elapsed as
// of now.
func (p *PendingOperation) IsExpired(now time.Time) bool {
	return now.Sub(p.lifetimeResetAt) >= OperationLifetime
}

// EligibleForAutoReset reports whether a FAILED operation should be revived
// by autoResetOldFailed: failed at least AutoResetFailedAfter ago, and not
// yet past its 30-day lifetime.
func (p *PendingOperation) EligibleForAutoReset(now time.Time) bool {
	if p.status != OperationFailed || p.failedAt == nil {
		return false
	}
	if now.Sub(*p.failedAt) < AutoResetFailedAfter {
		return false
	}
	return !p.IsExpired(now)
}

// CalculateRetryDelay implements an exponential backoff formula:
// min(30s * 2^retryCount, 5h).
func CalculateRetryDelay(retryCount int) time.Duration {
	const (
		base = 30 * time.Second
		cap_ = 5 * time.Hour
	)
	if retryCount < 0 {
		retryCount = 0
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= cap_ {
			return cap_
		}
	}
	if delay > cap_ {
		return cap_
	}
	return delay
}

// RehydratePendingOperation recreates a PendingOperation from persisted
// state.
func RehydratePendingOperation(
	id, eventID uuid.UUID,
	operation OperationKind,
	status OperationStatus,
	retryCount, maxRetries int,
	nextRetryAt time.Time,
	lastError string,
	targetURL string,
	targetCalendarID, sourceCalendarID *uuid.UUID,
	movePhase MovePhase,
	lifetimeResetAt time.Time,
	failedAt *time.Time,
	createdAt, updatedAt time.Time,
) *PendingOperation {
	return &PendingOperation{
		BaseEntity: sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt),
		eventID: eventID,
		operation: operation,
		status: status,
		retryCount: retryCount,
		maxRetries: maxRetries,
		nextRetryAt: nextRetryAt,
		lastError: lastError,
		targetURL: targetURL,
		targetCalendarID: targetCalendarID,
		sourceCalendarID: sourceCalendarID,
		movePhase: movePhase,
		lifetimeResetAt: lifetimeResetAt,
		failedAt: failedAt,
	}
}

// PendingOperationRepository is the persistence port for the queue.
type PendingOperationRepository interface {
	Save(ctx context.Context, op *PendingOperation) error
	FindByID(ctx context.Context, id uuid.UUID) (*PendingOperation, error)
	// FindByEventAndKind supports enqueue's dedup-by-(eventId, operation)
	// rule, excluding FAILED rows.
	FindByEventAndKind(ctx context.Context, eventID uuid.UUID, op OperationKind) (*PendingOperation, error)
	FindByEvent(ctx context.Context, eventID uuid.UUID) ([]*PendingOperation, error)
	// FindReady returns PENDING rows with nextRetryAt <= now, FIFO by
	// createdAt.
	FindReady(ctx context.Context, now time.Time, limit int) ([]*PendingOperation, error)
	FindStaleInProgress(ctx context.Context, cutoff time.Time) ([]*PendingOperation, error)
	FindEligibleForAutoReset(ctx context.Context, failedBefore time.Time) ([]*PendingOperation, error)
	FindExpired(ctx context.Context, cutoff time.Time) ([]*PendingOperation, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByEvent(ctx context.Context, eventID uuid.UUID) error
}
