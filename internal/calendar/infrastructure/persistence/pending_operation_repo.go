package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kashcal/synccore/internal/calendar/domain"
	"github.com/kashcal/synccore/internal/shared/infrastructure/database"
	"github.com/google/uuid"
)

// PendingOperationRepository implements domain.PendingOperationRepository
// against SQLite.
type PendingOperationRepository struct {
	conn database.Connection
}

func NewPendingOperationRepository(conn database.Connection) *PendingOperationRepository {
	return &PendingOperationRepository{conn: conn}
}

func (r *PendingOperationRepository) exec(ctx context.Context) database.Executor {
	return database.ExecutorFromContext(ctx, r.conn)
}

func (r *PendingOperationRepository) Save(ctx context.Context, op *domain.PendingOperation) error {
	_, err := r.exec(ctx).Exec(ctx, `
		INSERT INTO pending_operations
			(id, event_id, operation, status, retry_count, max_retries, next_retry_at, last_error,
			 target_url, target_calendar_id, source_calendar_id, move_phase, lifetime_reset_at,
			 failed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status, retry_count = excluded.retry_count,
			max_retries = excluded.max_retries, next_retry_at = excluded.next_retry_at,
			last_error = excluded.last_error, target_url = excluded.target_url,
			target_calendar_id = excluded.target_calendar_id,
			source_calendar_id = excluded.source_calendar_id, move_phase = excluded.move_phase,
			lifetime_reset_at = excluded.lifetime_reset_at, failed_at = excluded.failed_at,
			updated_at = excluded.updated_at`,
		op.ID().String(), op.EventID().String(), string(op.Operation()), string(op.Status()),
		op.RetryCount(), op.MaxRetries(), formatTime(op.NextRetryAt()), op.LastError(),
		op.TargetURL(), nullUUID(op.TargetCalendarID()), nullUUID(op.SourceCalendarID()),
		int(op.MovePhase()), formatTime(op.LifetimeResetAt()), nullTimePtr(op.FailedAt()),
		formatTime(op.CreatedAt()), formatTime(op.UpdatedAt()),
	)
	if err != nil {
		return fmt.Errorf("save pending operation: %w", err)
	}
	return nil
}

func (r *PendingOperationRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.PendingOperation, error) {
	row := r.exec(ctx).QueryRow(ctx, pendingOpSelect+` WHERE id = ?`, id.String())
	return scanPendingOp(row)
}

func (r *PendingOperationRepository) FindByEventAndKind(ctx context.Context, eventID uuid.UUID, op domain.OperationKind) (*domain.PendingOperation, error) {
	row := r.exec(ctx).QueryRow(ctx,
		pendingOpSelect+` WHERE event_id = ? AND operation = ? AND status != 'FAILED' ORDER BY created_at DESC LIMIT 1`,
		eventID.String(), string(op),
	)
	return scanPendingOp(row)
}

func (r *PendingOperationRepository) FindByEvent(ctx context.Context, eventID uuid.UUID) ([]*domain.PendingOperation, error) {
	rows, err := r.exec(ctx).Query(ctx, pendingOpSelect+` WHERE event_id = ? ORDER BY created_at ASC`, eventID.String())
	if err != nil {
		return nil, fmt.Errorf("query pending operations by event: %w", err)
	}
	defer rows.Close()
	return scanPendingOps(rows)
}

func (r *PendingOperationRepository) FindReady(ctx context.Context, now time.Time, limit int) ([]*domain.PendingOperation, error) {
	rows, err := r.exec(ctx).Query(ctx,
		pendingOpSelect+` WHERE status = 'PENDING' AND next_retry_at <= ? ORDER BY created_at ASC LIMIT ?`,
		formatTime(now), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query ready pending operations: %w", err)
	}
	defer rows.Close()
	return scanPendingOps(rows)
}

func (r *PendingOperationRepository) FindStaleInProgress(ctx context.Context, cutoff time.Time) ([]*domain.PendingOperation, error) {
	rows, err := r.exec(ctx).Query(ctx,
		pendingOpSelect+` WHERE status = 'IN_PROGRESS' AND updated_at <= ?`, formatTime(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("query stale in-progress operations: %w", err)
	}
	defer rows.Close()
	return scanPendingOps(rows)
}

func (r *PendingOperationRepository) FindEligibleForAutoReset(ctx context.Context, failedBefore time.Time) ([]*domain.PendingOperation, error) {
	rows, err := r.exec(ctx).Query(ctx,
		pendingOpSelect+` WHERE status = 'FAILED' AND failed_at IS NOT NULL AND failed_at <= ?`, formatTime(failedBefore),
	)
	if err != nil {
		return nil, fmt.Errorf("query auto-reset eligible operations: %w", err)
	}
	defer rows.Close()
	return scanPendingOps(rows)
}

func (r *PendingOperationRepository) FindExpired(ctx context.Context, cutoff time.Time) ([]*domain.PendingOperation, error) {
	rows, err := r.exec(ctx).Query(ctx,
		pendingOpSelect+` WHERE lifetime_reset_at <= ?`, formatTime(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("query expired operations: %w", err)
	}
	defer rows.Close()
	return scanPendingOps(rows)
}

func (r *PendingOperationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.exec(ctx).Exec(ctx, `DELETE FROM pending_operations WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete pending operation: %w", err)
	}
	return nil
}

func (r *PendingOperationRepository) DeleteByEvent(ctx context.Context, eventID uuid.UUID) error {
	if _, err := r.exec(ctx).Exec(ctx, `DELETE FROM pending_operations WHERE event_id = ?`, eventID.String()); err != nil {
		return fmt.Errorf("delete pending operations by event: %w", err)
	}
	return nil
}

const pendingOpSelect = `
	SELECT id, event_id, operation, status, retry_count, max_retries, next_retry_at, last_error,
	       target_url, target_calendar_id, source_calendar_id, move_phase, lifetime_reset_at,
	       failed_at, created_at, updated_at
	FROM pending_operations`

func scanPendingOps(rows database.Rows) ([]*domain.PendingOperation, error) {
	var out []*domain.PendingOperation
	for rows.Next() {
		op, err := scanPendingOpRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func scanPendingOp(row database.Row) (*domain.PendingOperation, error) {
	op, err := scanPendingOpRow(row)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return op, nil
}

func scanPendingOpRow(row scannable) (*domain.PendingOperation, error) {
	var (
		idStr, eventIDStr              string
		operation, status              string
		retryCount, maxRetries         int
		nextRetryAtStr                 string
		lastError                      string
		targetURL                      string
		targetCalendarID, sourceCalendarID sql.NullString
		movePhase                      int
		lifetimeResetAtStr             string
		failedAt                       sql.NullString
		createdAtStr, updatedAtStr     string
	)
	if err := row.Scan(
		&idStr, &eventIDStr, &operation, &status, &retryCount, &maxRetries, &nextRetryAtStr, &lastError,
		&targetURL, &targetCalendarID, &sourceCalendarID, &movePhase, &lifetimeResetAtStr,
		&failedAt, &createdAtStr, &updatedAtStr,
	); err != nil {
		return nil, fmt.Errorf("scan pending operation: %w", err)
	}

	return domain.RehydratePendingOperation(
		uuid.MustParse(idStr), uuid.MustParse(eventIDStr),
		domain.OperationKind(operation), domain.OperationStatus(status),
		retryCount, maxRetries, parseTime(nextRetryAtStr), lastError, targetURL,
		uuidFromNull(targetCalendarID), uuidFromNull(sourceCalendarID),
		domain.MovePhase(movePhase), parseTime(lifetimeResetAtStr), timePtrFromNull(failedAt),
		parseTime(createdAtStr), parseTime(updatedAtStr),
	), nil
}
