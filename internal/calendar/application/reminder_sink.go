package application

import (
	"context"

	"github.com/kashcal/synccore/internal/calendar/domain"
	"github.com/google/uuid"
)

// ReminderSink is the external collaborator that schedules and cancels OS
// alarms (Android AlarmManager or equivalent) for a ScheduledReminder. The
// core only decides what should fire and when; it never touches the
// platform alarm API directly.
type ReminderSink interface {
	Schedule(ctx context.Context, reminder *domain.ScheduledReminder) error
	Cancel(ctx context.Context, reminderID uuid.UUID) error
	// CancelForEvent cancels every scheduled alarm for an event in one call,
	// used by deleteEvent and account-deletion cascade.
	CancelForEvent(ctx context.Context, eventID uuid.UUID) error
}
