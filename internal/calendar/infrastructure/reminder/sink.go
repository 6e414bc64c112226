// Package reminder implements application.ReminderSink. The sync core never
// touches a platform alarm API directly — it only knows when a reminder
// should fire. The host process (mobile OS binding, desktop tray, push
// gateway) registers a NotifyFunc that does the actual scheduling; absent
// one, Dispatcher just logs what it would have scheduled.
package reminder

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/kashcal/synccore/internal/calendar/domain"
)

// NotifyFunc is the host's platform binding that schedules the given
// reminder's alarm. Only Schedule calls it; cancellation goes through
// CancelFunc.
type NotifyFunc func(ctx context.Context, reminder *domain.ScheduledReminder) error

// CancelFunc tears down a previously scheduled alarm by ID.
type CancelFunc func(ctx context.Context, reminderID uuid.UUID) error

// Dispatcher is the concrete application.ReminderSink. It tracks which
// reminder IDs belong to which event so CancelForEvent can fan out without
// the caller re-supplying the set.
type Dispatcher struct {
	notify NotifyFunc
	cancel CancelFunc
	logger *slog.Logger

	mu        sync.Mutex
	byEvent   map[uuid.UUID]map[uuid.UUID]struct{}
	eventOfID map[uuid.UUID]uuid.UUID
}

// NewDispatcher builds a Dispatcher. notify/cancel may be nil, in which case
// Schedule/Cancel only log and update internal bookkeeping — useful for a
// core running headless (no platform alarm binding registered yet).
func NewDispatcher(notify NotifyFunc, cancel CancelFunc, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		notify:    notify,
		cancel:    cancel,
		logger:    logger,
		byEvent:   make(map[uuid.UUID]map[uuid.UUID]struct{}),
		eventOfID: make(map[uuid.UUID]uuid.UUID),
	}
}

// Schedule registers reminder with the host's platform binding, if any, and
// records it against its event for CancelForEvent.
func (d *Dispatcher) Schedule(ctx context.Context, reminder *domain.ScheduledReminder) error {
	if d.notify != nil {
		if err := d.notify(ctx, reminder); err != nil {
			return err
		}
	} else {
		d.logger.Debug("reminder scheduled (no platform binding registered)",
			slog.String("reminder_id", reminder.ID().String()),
			slog.String("event_id", reminder.EventID().String()),
			slog.Time("trigger_time", reminder.TriggerTime()),
		)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.byEvent[reminder.EventID()]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		d.byEvent[reminder.EventID()] = set
	}
	set[reminder.ID()] = struct{}{}
	d.eventOfID[reminder.ID()] = reminder.EventID()
	return nil
}

// Cancel tears down one reminder's alarm.
func (d *Dispatcher) Cancel(ctx context.Context, reminderID uuid.UUID) error {
	if d.cancel != nil {
		if err := d.cancel(ctx, reminderID); err != nil {
			return err
		}
	} else {
		d.logger.Debug("reminder cancelled (no platform binding registered)",
			slog.String("reminder_id", reminderID.String()))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.forget(reminderID)
	return nil
}

// CancelForEvent cancels every alarm scheduled for eventID.
func (d *Dispatcher) CancelForEvent(ctx context.Context, eventID uuid.UUID) error {
	d.mu.Lock()
	ids := make([]uuid.UUID, 0, len(d.byEvent[eventID]))
	for id := range d.byEvent[eventID] {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	for _, id := range ids {
		if err := d.Cancel(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// forget removes reminderID's bookkeeping. Caller holds d.mu.
func (d *Dispatcher) forget(reminderID uuid.UUID) {
	eventID, ok := d.eventOfID[reminderID]
	if !ok {
		return
	}
	delete(d.eventOfID, reminderID)
	if set, ok := d.byEvent[eventID]; ok {
		delete(set, reminderID)
		if len(set) == 0 {
			delete(d.byEvent, eventID)
		}
	}
}
