package domain

import (
	"context"
	"time"

	sharedDomain "github.com/kashcal/synccore/internal/shared/domain"
	"github.com/google/uuid"
)

// ReminderStatus is a ScheduledReminder's lifecycle state.
type ReminderStatus string

const (
	ReminderPending ReminderStatus = "PENDING"
	ReminderFired ReminderStatus = "FIRED"
	ReminderSnoozed ReminderStatus = "SNOOZED"
	ReminderDismissed ReminderStatus = "DISMISSED"
)

// ScheduledReminder is future notification metadata derived from an Event's
// reminder offsets against a specific occurrence time. The alarm
// scheduler itself (Android AlarmManager equivalents) is an external
// collaborator — this entity only tracks what should fire and when.
type ScheduledReminder struct {
	sharedDomain.BaseEntity
	eventID uuid.UUID
	occurrenceTime time.Time
	reminderOffset string // ISO-8601 duration, e.g. "-PT15M"
	triggerTime time.Time
	status ReminderStatus
	snoozedUntil *time.Time
}

// NewScheduledReminder creates a new PENDING reminder.
func NewScheduledReminder(eventID uuid.UUID, occurrenceTime time.Time, reminderOffset string, triggerTime time.Time) *ScheduledReminder {
	return &ScheduledReminder{
		BaseEntity: sharedDomain.NewBaseEntity(),
		eventID: eventID,
		occurrenceTime: occurrenceTime,
		reminderOffset: reminderOffset,
		triggerTime: triggerTime,
		status: ReminderPending,
	}
}

// Getters.
func (r *ScheduledReminder) EventID() uuid.UUID { return r.eventID }
func (r *ScheduledReminder) OccurrenceTime() time.Time { return r.occurrenceTime }
func (r *ScheduledReminder) ReminderOffset() string { return r.reminderOffset }
func (r *ScheduledReminder) TriggerTime() time.Time { return r.triggerTime }
func (r *ScheduledReminder) Status() ReminderStatus { return r.status }
func (r *ScheduledReminder) SnoozedUntil() *time.Time { return r.snoozedUntil }

// Fire transitions PENDING/SNOOZED -> FIRED.
func (r *ScheduledReminder) Fire() {
	r.status = ReminderFired
	r.Touch()
}

// Snooze transitions to SNOOZED with a new trigger time.
func (r *ScheduledReminder) Snooze(until time.Time) {
	r.status = ReminderSnoozed
	r.snoozedUntil = &until
	r.Touch()
}

// Dismiss transitions to DISMISSED.
func (r *ScheduledReminder) Dismiss() {
	r.status = ReminderDismissed
	r.Touch()
}

// RehydrateScheduledReminder recreates a ScheduledReminder from persisted
// state.
func RehydrateScheduledReminder(
	id, eventID uuid.UUID,
	occurrenceTime time.Time,
	reminderOffset string,
	triggerTime time.Time,
	status ReminderStatus,
	snoozedUntil *time.Time,
	createdAt, updatedAt time.Time,
) *ScheduledReminder {
	return &ScheduledReminder{
		BaseEntity: sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt),
		eventID: eventID,
		occurrenceTime: occurrenceTime,
		reminderOffset: reminderOffset,
		triggerTime: triggerTime,
		status: status,
		snoozedUntil: snoozedUntil,
	}
}

// ScheduledReminderRepository is the persistence port for reminder
// persistence.
type ScheduledReminderRepository interface {
	SaveBatch(ctx context.Context, reminders []*ScheduledReminder) error
	FindByEvent(ctx context.Context, eventID uuid.UUID) ([]*ScheduledReminder, error)
	FindPending(ctx context.Context, before time.Time) ([]*ScheduledReminder, error)
	// DeleteByEvent cancels every reminder for an event.
	DeleteByEvent(ctx context.Context, eventID uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
}
