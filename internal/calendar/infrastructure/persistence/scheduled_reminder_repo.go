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

// ScheduledReminderRepository implements domain.ScheduledReminderRepository
// against SQLite.
type ScheduledReminderRepository struct {
	conn database.Connection
}

func NewScheduledReminderRepository(conn database.Connection) *ScheduledReminderRepository {
	return &ScheduledReminderRepository{conn: conn}
}

func (r *ScheduledReminderRepository) exec(ctx context.Context) database.Executor {
	return database.ExecutorFromContext(ctx, r.conn)
}

func (r *ScheduledReminderRepository) SaveBatch(ctx context.Context, reminders []*domain.ScheduledReminder) error {
	exec := r.exec(ctx)
	for _, rem := range reminders {
		_, err := exec.Exec(ctx, `
			INSERT INTO scheduled_reminders
				(id, event_id, occurrence_time, reminder_offset, trigger_time, status, snoozed_until,
				 created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status, snoozed_until = excluded.snoozed_until,
				trigger_time = excluded.trigger_time, updated_at = excluded.updated_at`,
			rem.ID().String(), rem.EventID().String(), formatTime(rem.OccurrenceTime()), rem.ReminderOffset(),
			formatTime(rem.TriggerTime()), string(rem.Status()), nullTimePtr(rem.SnoozedUntil()),
			formatTime(rem.CreatedAt()), formatTime(rem.UpdatedAt()),
		)
		if err != nil {
			return fmt.Errorf("save scheduled reminder: %w", err)
		}
	}
	return nil
}

func (r *ScheduledReminderRepository) FindByEvent(ctx context.Context, eventID uuid.UUID) ([]*domain.ScheduledReminder, error) {
	rows, err := r.exec(ctx).Query(ctx, reminderSelect+` WHERE event_id = ? ORDER BY trigger_time ASC`, eventID.String())
	if err != nil {
		return nil, fmt.Errorf("query reminders by event: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

func (r *ScheduledReminderRepository) FindPending(ctx context.Context, before time.Time) ([]*domain.ScheduledReminder, error) {
	rows, err := r.exec(ctx).Query(ctx,
		reminderSelect+` WHERE status = 'PENDING' AND trigger_time <= ? ORDER BY trigger_time ASC`, formatTime(before),
	)
	if err != nil {
		return nil, fmt.Errorf("query pending reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

func (r *ScheduledReminderRepository) DeleteByEvent(ctx context.Context, eventID uuid.UUID) error {
	if _, err := r.exec(ctx).Exec(ctx, `DELETE FROM scheduled_reminders WHERE event_id = ?`, eventID.String()); err != nil {
		return fmt.Errorf("delete reminders by event: %w", err)
	}
	return nil
}

func (r *ScheduledReminderRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.exec(ctx).Exec(ctx, `DELETE FROM scheduled_reminders WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	return nil
}

const reminderSelect = `
	SELECT id, event_id, occurrence_time, reminder_offset, trigger_time, status, snoozed_until,
	       created_at, updated_at
	FROM scheduled_reminders`

func scanReminders(rows database.Rows) ([]*domain.ScheduledReminder, error) {
	var out []*domain.ScheduledReminder
	for rows.Next() {
		rem, err := scanReminderRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rem)
	}
	return out, rows.Err()
}

func scanReminderRow(row scannable) (*domain.ScheduledReminder, error) {
	var (
		idStr, eventIDStr          string
		occurrenceTimeStr          string
		reminderOffset             string
		triggerTimeStr             string
		status                     string
		snoozedUntil               sql.NullString
		createdAtStr, updatedAtStr string
	)
	if err := row.Scan(
		&idStr, &eventIDStr, &occurrenceTimeStr, &reminderOffset, &triggerTimeStr, &status,
		&snoozedUntil, &createdAtStr, &updatedAtStr,
	); err != nil {
		return nil, fmt.Errorf("scan scheduled reminder: %w", err)
	}

	return domain.RehydrateScheduledReminder(
		uuid.MustParse(idStr), uuid.MustParse(eventIDStr), parseTime(occurrenceTimeStr), reminderOffset,
		parseTime(triggerTimeStr), domain.ReminderStatus(status), timePtrFromNull(snoozedUntil),
		parseTime(createdAtStr), parseTime(updatedAtStr),
	), nil
}
