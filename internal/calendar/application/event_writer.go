package application

import (
	"context"
	"fmt"
	"time"

	"github.com/kashcal/synccore/internal/calendar/domain"
	"github.com/google/uuid"
)

// EventWriter is the only path that mutates Events. Where timing or
// recurrence fields change, a public method regenerates occurrences and
// enqueues the appropriate PendingOperation after saving the event.
// EventWriter opens no transaction of its own: its repository calls share
// one only when ctx already carries one, and otherwise each save or
// enqueue commits on its own, so the write and the enqueue are not atomic.
type EventWriter struct {
	eventRepo domain.EventRepository
	calendarRepo domain.CalendarRepository
	reminderRepo domain.ScheduledReminderRepository
	reminders ReminderSink
	occurrences *OccurrenceEngine
	queue *OperationQueueManager
	clock domain.Clock
}

// NewEventWriter creates an EventWriter.
func NewEventWriter(
	eventRepo domain.EventRepository,
	calendarRepo domain.CalendarRepository,
	reminderRepo domain.ScheduledReminderRepository,
	reminders ReminderSink,
	occurrences *OccurrenceEngine,
	queue *OperationQueueManager,
	clock domain.Clock,
) *EventWriter {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &EventWriter{
		eventRepo: eventRepo,
		calendarRepo: calendarRepo,
		reminderRepo: reminderRepo,
		reminders: reminders,
		occurrences: occurrences,
		queue: queue,
		clock: clock,
	}
}

func (w *EventWriter) isLocalCalendar(ctx context.Context, calendarID uuid.UUID) (bool, error) {
	cal, err := w.calendarRepo.FindByID(ctx, calendarID)
	if err != nil {
		return false, fmt.Errorf("find calendar: %w", err)
	}
	return cal.ServerURL() == "", nil
}

// CreateEvent assigns a UID if absent (already handled by NewMasterEvent),
// saves the event, regenerates occurrences, and — unless the owning
// calendar is local-only — enqueues CREATE.
func (w *EventWriter) CreateEvent(ctx context.Context, event *domain.Event) error {
	onLocal, err := w.isLocalCalendar(ctx, event.CalendarID())
	if err != nil {
		return err
	}

	if err := w.eventRepo.Save(ctx, event); err != nil {
		return fmt.Errorf("save event: %w", err)
	}
	if err := w.occurrences.RegenerateOccurrences(ctx, event); err != nil {
		return fmt.Errorf("regenerate occurrences: %w", err)
	}

	if onLocal {
		return nil
	}

	op := domain.NewPendingOperation(event.ID(), domain.OperationCreate, "", w.clock.Now())
	_, err = w.queue.Enqueue(ctx, op)
	if err != nil {
		return fmt.Errorf("enqueue create: %w", err)
	}
	return nil
}

// UpdateEvent applies field changes, transitions SyncStatus, regenerates
// occurrences when a timing/recurrence field changed, and enqueues UPDATE
// subject to the dedup/consolidation rules in §4.7 (enforced by the queue
// manager's Enqueue).
func (w *EventWriter) UpdateEvent(ctx context.Context, event *domain.Event, fields domain.EventFields) error {
	onLocal, err := w.isLocalCalendar(ctx, event.CalendarID())
	if err != nil {
		return err
	}

	now := w.clock.Now()
	changed := event.ApplyFields(fields, now)
	queueUpdate := event.TransitionOnUpdate(onLocal, now)

	if err := w.eventRepo.Save(ctx, event); err != nil {
		return fmt.Errorf("save event: %w", err)
	}

	if domain.HasTimingChange(changed) {
		if err := w.occurrences.RegenerateOccurrences(ctx, event); err != nil {
			return fmt.Errorf("regenerate occurrences: %w", err)
		}
	}

	if !queueUpdate || onLocal {
		return nil
	}

	op := domain.NewPendingOperation(event.ID(), domain.OperationUpdate, event.ServerURL(), now)
	if _, err := w.queue.Enqueue(ctx, op); err != nil {
		return fmt.Errorf("enqueue update: %w", err)
	}
	return nil
}

// DeleteEvent hard-deletes a never-synced event locally, or marks it
// PENDING_DELETE, cancels its reminders, and enqueues DELETE against the
// server URL captured at this moment.
func (w *EventWriter) DeleteEvent(ctx context.Context, event *domain.Event) error {
	onLocal, err := w.isLocalCalendar(ctx, event.CalendarID())
	if err != nil {
		return err
	}

	next, hardDelete := event.TransitionOnDelete(onLocal)
	_ = next

	if err := w.cancelReminders(ctx, event.ID()); err != nil {
		return err
	}

	if hardDelete {
		return w.eventRepo.Delete(ctx, event.ID())
	}

	targetURL := event.CaptureServerURLForDelete()
	if err := w.eventRepo.Save(ctx, event); err != nil {
		return fmt.Errorf("save event: %w", err)
	}

	op := domain.NewPendingOperation(event.ID(), domain.OperationDelete, targetURL, w.clock.Now())
	if _, err := w.queue.Enqueue(ctx, op); err != nil {
		return fmt.Errorf("enqueue delete: %w", err)
	}
	return nil
}

func (w *EventWriter) cancelReminders(ctx context.Context, eventID uuid.UUID) error {
	if w.reminders != nil {
		if err := w.reminders.CancelForEvent(ctx, eventID); err != nil {
			return fmt.Errorf("cancel alarms: %w", err)
		}
	}
	if w.reminderRepo != nil {
		if err := w.reminderRepo.DeleteByEvent(ctx, eventID); err != nil {
			return fmt.Errorf("cancel reminders: %w", err)
		}
	}
	return nil
}

// EditSingleOccurrence creates (or re-edits) an exception Event overriding
// exactly one occurrence of master, links it via the Occurrence Engine, and
// enqueues a single UPDATE on the master — exceptions are bundled, never
// pushed individually.
func (w *EventWriter) EditSingleOccurrence(ctx context.Context, master *domain.Event, occurrenceTime time.Time, fields domain.EventFields) (*domain.Event, error) {
	onLocal, err := w.isLocalCalendar(ctx, master.CalendarID())
	if err != nil {
		return nil, err
	}

	now := w.clock.Now()
	exception, err := w.eventRepo.FindExceptionByInstanceTime(ctx, master.ID(), occurrenceTime)
	if err != nil {
		return nil, fmt.Errorf("find existing exception: %w", err)
	}

	if exception == nil {
		startTs := occurrenceTime.UnixMilli()
		endTs := startTs + (master.EndTs() - master.StartTs())
		exception, err = domain.NewExceptionEvent(master, occurrenceTime, startTs, endTs, now)
		if err != nil {
			return nil, fmt.Errorf("create exception: %w", err)
		}
	}

	exception.ApplyFields(fields, now)

	if err := w.eventRepo.Save(ctx, exception); err != nil {
		return nil, fmt.Errorf("save exception: %w", err)
	}

	startDay := dayCode(time.UnixMilli(exception.StartTs()), exception.AllDay(), exception.Timezone())
	endDay := dayCode(time.UnixMilli(exception.EndTs()), exception.AllDay(), exception.Timezone())
	if err := w.occurrences.LinkException(ctx, master.ID(), occurrenceTime, exception.ID(), exception.StartTs(), exception.EndTs(), startDay, endDay); err != nil {
		return nil, fmt.Errorf("link exception: %w", err)
	}

	master.TransitionOnUpdate(onLocal, now)
	if err := w.eventRepo.Save(ctx, master); err != nil {
		return nil, fmt.Errorf("save master: %w", err)
	}

	if !onLocal {
		op := domain.NewPendingOperation(master.ID(), domain.OperationUpdate, master.ServerURL(), now)
		if _, err := w.queue.Enqueue(ctx, op); err != nil {
			return nil, fmt.Errorf("enqueue master update: %w", err)
		}
	}

	return exception, nil
}

// EditThisAndFuture truncates master's RRULE at pivot, drops its
// occurrences/exceptions at or after pivot, and creates a new master
// carrying the modified fields starting at pivot.
func (w *EventWriter) EditThisAndFuture(ctx context.Context, master *domain.Event, pivot time.Time, fields domain.EventFields) (*domain.Event, error) {
	onLocal, err := w.isLocalCalendar(ctx, master.CalendarID())
	if err != nil {
		return nil, err
	}

	now := w.clock.Now()
	until := pivot.Add(-time.Second)
	master.TruncateRRuleUntil(until, now)

	if err := w.dropOccurrencesAtOrAfter(ctx, master, pivot); err != nil {
		return nil, err
	}

	if err := w.eventRepo.Save(ctx, master); err != nil {
		return nil, fmt.Errorf("save old master: %w", err)
	}
	if err := w.occurrences.RegenerateOccurrences(ctx, master); err != nil {
		return nil, fmt.Errorf("regenerate old master occurrences: %w", err)
	}

	newStart := pivot.UnixMilli()
	newEnd := newStart + (master.EndTs() - master.StartTs())
	newMaster, err := domain.NewMasterEvent(master.CalendarID(), "", master.Title(), newStart, newEnd, now, onLocal)
	if err != nil {
		return nil, fmt.Errorf("create new master: %w", err)
	}
	newMaster.ApplyFields(fields, now)

	if err := w.eventRepo.Save(ctx, newMaster); err != nil {
		return nil, fmt.Errorf("save new master: %w", err)
	}
	if err := w.occurrences.RegenerateOccurrences(ctx, newMaster); err != nil {
		return nil, fmt.Errorf("regenerate new master occurrences: %w", err)
	}

	if !onLocal {
		updateOp := domain.NewPendingOperation(master.ID(), domain.OperationUpdate, master.ServerURL(), now)
		if _, err := w.queue.Enqueue(ctx, updateOp); err != nil {
			return nil, fmt.Errorf("enqueue old master update: %w", err)
		}
		createOp := domain.NewPendingOperation(newMaster.ID(), domain.OperationCreate, "", now)
		if _, err := w.queue.Enqueue(ctx, createOp); err != nil {
			return nil, fmt.Errorf("enqueue new master create: %w", err)
		}
	}

	return newMaster, nil
}

func (w *EventWriter) dropOccurrencesAtOrAfter(ctx context.Context, master *domain.Event, pivot time.Time) error {
	exceptions, err := w.eventRepo.FindExceptions(ctx, master.ID())
	if err != nil {
		return fmt.Errorf("find exceptions: %w", err)
	}
	pivotMs := pivot.UnixMilli()
	for _, exc := range exceptions {
		if exc.OriginalInstanceTime() == nil || exc.OriginalInstanceTime().UnixMilli() < pivotMs {
			continue
		}
		if err := w.cancelReminders(ctx, exc.ID()); err != nil {
			return err
		}
		if err := w.eventRepo.Delete(ctx, exc.ID()); err != nil {
			return fmt.Errorf("delete exception at/after pivot: %w", err)
		}
	}
	return nil
}

// DeleteSingleOccurrence appends occurrenceTime to master's EXDATE (never a
// separate DELETE operation), cancels the occurrence row, and enqueues a
// single UPDATE on master.
func (w *EventWriter) DeleteSingleOccurrence(ctx context.Context, master *domain.Event, occurrenceTime time.Time) error {
	onLocal, err := w.isLocalCalendar(ctx, master.CalendarID())
	if err != nil {
		return err
	}

	now := w.clock.Now()
	master.AppendEXDate(occurrenceTime, now)
	master.TransitionOnUpdate(onLocal, now)

	if err := w.eventRepo.Save(ctx, master); err != nil {
		return fmt.Errorf("save master: %w", err)
	}
	if err := w.occurrences.CancelOccurrence(ctx, master.ID(), occurrenceTime); err != nil {
		return fmt.Errorf("cancel occurrence: %w", err)
	}

	if onLocal {
		return nil
	}

	op := domain.NewPendingOperation(master.ID(), domain.OperationUpdate, master.ServerURL(), now)
	if _, err := w.queue.Enqueue(ctx, op); err != nil {
		return fmt.Errorf("enqueue master update: %w", err)
	}
	return nil
}

// DeleteSeries is standard deleteEvent on the master; cascades at the store
// level remove exceptions and occurrences.
func (w *EventWriter) DeleteSeries(ctx context.Context, master *domain.Event) error {
	return w.DeleteEvent(ctx, master)
}

// MoveEventToCalendar implements the four cases of moving an event between
// calendars, determined by the event's current sync state and whether the
// source/target calendars are local.
func (w *EventWriter) MoveEventToCalendar(ctx context.Context, event *domain.Event, targetCalendarID uuid.UUID) error {
	now := w.clock.Now()
	sourceCalendarID := event.CalendarID()

	sourceLocal, err := w.isLocalCalendar(ctx, sourceCalendarID)
	if err != nil {
		return err
	}
	targetLocal, err := w.isLocalCalendar(ctx, targetCalendarID)
	if err != nil {
		return err
	}

	synced := event.SyncStatus() == domain.SyncStatusSynced

	switch {
	case synced && !sourceLocal && !targetLocal:
		// Synced -> Synced (same or cross account): MOVE, two-phase.
		oldServerURL := event.ServerURL()
		event.MoveTo(targetCalendarID)
		event.ClearServerIdentity()
		if err := w.eventRepo.Save(ctx, event); err != nil {
			return fmt.Errorf("save moved event: %w", err)
		}
		op := domain.NewMoveOperation(event.ID(), oldServerURL, sourceCalendarID, targetCalendarID, now)
		if _, err := w.queue.Enqueue(ctx, op); err != nil {
			return fmt.Errorf("enqueue move: %w", err)
		}
		return nil

	case synced && !sourceLocal && targetLocal:
		// Synced -> Local: enqueue DELETE against the old server, then move
		// locally and drop server identity.
		targetURL := event.CaptureServerURLForDelete()
		op := domain.NewDeleteOperation(event.ID(), targetURL, sourceCalendarID, now)
		if _, err := w.queue.Enqueue(ctx, op); err != nil {
			return fmt.Errorf("enqueue delete: %w", err)
		}
		event.MoveTo(targetCalendarID)
		event.ClearServerIdentity()
		return w.eventRepo.Save(ctx, event)

	case sourceLocal && !targetLocal:
		// Local -> Synced: just enqueue CREATE on the new calendar.
		event.MoveTo(targetCalendarID)
		if err := w.eventRepo.Save(ctx, event); err != nil {
			return fmt.Errorf("save moved event: %w", err)
		}
		op := domain.NewPendingOperation(event.ID(), domain.OperationCreate, "", now)
		if _, err := w.queue.Enqueue(ctx, op); err != nil {
			return fmt.Errorf("enqueue create: %w", err)
		}
		return nil

	default:
		// Local -> Local, or a not-yet-synced event: a plain reassignment,
		// no network side effect.
		event.MoveTo(targetCalendarID)
		return w.eventRepo.Save(ctx, event)
	}
}
