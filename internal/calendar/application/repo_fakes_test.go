package application

import (
	"context"
	"time"

	"github.com/kashcal/synccore/internal/calendar/domain"
	"github.com/google/uuid"
)

// fakeOccurrenceRepository is an in-memory domain.OccurrenceRepository for
// exercising the Occurrence Engine without a database.
type fakeOccurrenceRepository struct {
	byID map[uuid.UUID]*domain.Occurrence
}

func newFakeOccurrenceRepository() *fakeOccurrenceRepository {
	return &fakeOccurrenceRepository{byID: make(map[uuid.UUID]*domain.Occurrence)}
}

func (r *fakeOccurrenceRepository) SaveBatch(ctx context.Context, occurrences []*domain.Occurrence) error {
	for _, o := range occurrences {
		r.byID[o.ID()] = o
	}
	return nil
}

func (r *fakeOccurrenceRepository) DeleteByEvent(ctx context.Context, eventID uuid.UUID) error {
	for id, o := range r.byID {
		if o.EventID() == eventID {
			delete(r.byID, id)
		}
	}
	return nil
}

func (r *fakeOccurrenceRepository) FindByEvent(ctx context.Context, eventID uuid.UUID) ([]*domain.Occurrence, error) {
	var out []*domain.Occurrence
	for _, o := range r.byID {
		if o.EventID() == eventID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *fakeOccurrenceRepository) FindInRange(ctx context.Context, calendarID uuid.UUID, rangeStart, rangeEnd int64) ([]*domain.Occurrence, error) {
	var out []*domain.Occurrence
	for _, o := range r.byID {
		if o.CalendarID() == calendarID && o.OverlapsRange(rangeStart, rangeEnd) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *fakeOccurrenceRepository) FindByExceptionEventID(ctx context.Context, exceptionEventID uuid.UUID) (*domain.Occurrence, error) {
	for _, o := range r.byID {
		if o.ExceptionEventID() != nil && *o.ExceptionEventID() == exceptionEventID {
			return o, nil
		}
	}
	return nil, nil
}

func (r *fakeOccurrenceRepository) FindNearTime(ctx context.Context, eventID uuid.UUID, occurrenceTime int64, toleranceMs int64) (*domain.Occurrence, error) {
	for _, o := range r.byID {
		if o.EventID() != eventID {
			continue
		}
		diff := o.StartTs() - occurrenceTime
		if diff < 0 {
			diff = -diff
		}
		if diff < toleranceMs {
			return o, nil
		}
	}
	return nil, nil
}

func (r *fakeOccurrenceRepository) MaxStartTs(ctx context.Context, eventID uuid.UUID) (int64, bool, error) {
	var max int64
	found := false
	for _, o := range r.byID {
		if o.EventID() != eventID {
			continue
		}
		if !found || o.StartTs() > max {
			max = o.StartTs()
			found = true
		}
	}
	return max, found, nil
}

// fakeEventRepository is an in-memory domain.EventRepository.
type fakeEventRepository struct {
	byID map[uuid.UUID]*domain.Event
}

func newFakeEventRepository() *fakeEventRepository {
	return &fakeEventRepository{byID: make(map[uuid.UUID]*domain.Event)}
}

func (r *fakeEventRepository) Save(ctx context.Context, event *domain.Event) error {
	r.byID[event.ID()] = event
	return nil
}

func (r *fakeEventRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	return r.byID[id], nil
}

func (r *fakeEventRepository) FindBatchByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.Event, error) {
	var out []*domain.Event
	for _, id := range ids {
		if e, ok := r.byID[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeEventRepository) FindByCalendar(ctx context.Context, calendarID uuid.UUID) ([]*domain.Event, error) {
	var out []*domain.Event
	for _, e := range r.byID {
		if e.CalendarID() == calendarID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeEventRepository) FindByUID(ctx context.Context, calendarID uuid.UUID, uid string) (*domain.Event, error) {
	for _, e := range r.byID {
		if e.CalendarID() == calendarID && e.UID() == uid && e.OriginalEventID() == nil {
			return e, nil
		}
	}
	return nil, nil
}

func (r *fakeEventRepository) FindExceptions(ctx context.Context, masterID uuid.UUID) ([]*domain.Event, error) {
	var out []*domain.Event
	for _, e := range r.byID {
		if e.OriginalEventID() != nil && *e.OriginalEventID() == masterID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeEventRepository) FindExceptionByInstanceTime(ctx context.Context, masterID uuid.UUID, occurrenceTime time.Time) (*domain.Event, error) {
	for _, e := range r.byID {
		if e.OriginalEventID() != nil && *e.OriginalEventID() == masterID &&
			e.OriginalInstanceTime() != nil && e.OriginalInstanceTime().Equal(occurrenceTime) {
			return e, nil
		}
	}
	return nil, nil
}

func (r *fakeEventRepository) FindByServerURL(ctx context.Context, calendarID uuid.UUID, serverURL string) (*domain.Event, error) {
	for _, e := range r.byID {
		if e.CalendarID() == calendarID && e.ServerURL() == serverURL {
			return e, nil
		}
	}
	return nil, nil
}

func (r *fakeEventRepository) ServerURLIndex(ctx context.Context, calendarID uuid.UUID) (map[string]string, error) {
	out := make(map[string]string)
	for _, e := range r.byID {
		if e.CalendarID() == calendarID && e.ServerURL() != "" {
			out[e.ServerURL()] = e.ETag()
		}
	}
	return out, nil
}

func (r *fakeEventRepository) Delete(ctx context.Context, id uuid.UUID) error {
	delete(r.byID, id)
	return nil
}

// fakeCalendarRepository is an in-memory domain.CalendarRepository.
type fakeCalendarRepository struct {
	byID map[uuid.UUID]*domain.Calendar
}

func newFakeCalendarRepository() *fakeCalendarRepository {
	return &fakeCalendarRepository{byID: make(map[uuid.UUID]*domain.Calendar)}
}

func (r *fakeCalendarRepository) Save(ctx context.Context, calendar *domain.Calendar) error {
	r.byID[calendar.ID()] = calendar
	return nil
}

func (r *fakeCalendarRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Calendar, error) {
	return r.byID[id], nil
}

func (r *fakeCalendarRepository) FindByServerURL(ctx context.Context, serverURL string) (*domain.Calendar, error) {
	for _, c := range r.byID {
		if c.ServerURL() == serverURL {
			return c, nil
		}
	}
	return nil, nil
}

func (r *fakeCalendarRepository) FindByAccount(ctx context.Context, accountID uuid.UUID) ([]*domain.Calendar, error) {
	var out []*domain.Calendar
	for _, c := range r.byID {
		if c.AccountID() == accountID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeCalendarRepository) FindDefaultForAccount(ctx context.Context, accountID uuid.UUID) (*domain.Calendar, error) {
	for _, c := range r.byID {
		if c.AccountID() == accountID && c.IsDefault() {
			return c, nil
		}
	}
	return nil, nil
}

func (r *fakeCalendarRepository) Delete(ctx context.Context, id uuid.UUID) error {
	delete(r.byID, id)
	return nil
}

// fakeAccountRepository is an in-memory domain.AccountRepository.
type fakeAccountRepository struct {
	byID map[uuid.UUID]*domain.Account
}

func newFakeAccountRepository() *fakeAccountRepository {
	return &fakeAccountRepository{byID: make(map[uuid.UUID]*domain.Account)}
}

func (r *fakeAccountRepository) Save(ctx context.Context, account *domain.Account) error {
	r.byID[account.ID()] = account
	return nil
}

func (r *fakeAccountRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return r.byID[id], nil
}

func (r *fakeAccountRepository) FindByProviderAndEmail(ctx context.Context, provider domain.ProviderType, email, calendarHomeURL string) (*domain.Account, error) {
	for _, a := range r.byID {
		if a.Provider() == provider && a.Email() == email && a.CalendarHomeURL() == calendarHomeURL {
			return a, nil
		}
	}
	return nil, nil
}

func (r *fakeAccountRepository) FindAll(ctx context.Context) ([]*domain.Account, error) {
	var out []*domain.Account
	for _, a := range r.byID {
		out = append(out, a)
	}
	return out, nil
}

func (r *fakeAccountRepository) FindEnabled(ctx context.Context) ([]*domain.Account, error) {
	var out []*domain.Account
	for _, a := range r.byID {
		if a.Enabled() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeAccountRepository) Delete(ctx context.Context, id uuid.UUID) error {
	delete(r.byID, id)
	return nil
}

// fakePendingOperationRepository is an in-memory domain.PendingOperationRepository.
type fakePendingOperationRepository struct {
	byID map[uuid.UUID]*domain.PendingOperation
}

func newFakePendingOperationRepository() *fakePendingOperationRepository {
	return &fakePendingOperationRepository{byID: make(map[uuid.UUID]*domain.PendingOperation)}
}

func (r *fakePendingOperationRepository) Save(ctx context.Context, op *domain.PendingOperation) error {
	r.byID[op.ID()] = op
	return nil
}

func (r *fakePendingOperationRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.PendingOperation, error) {
	return r.byID[id], nil
}

func (r *fakePendingOperationRepository) FindByEventAndKind(ctx context.Context, eventID uuid.UUID, op domain.OperationKind) (*domain.PendingOperation, error) {
	for _, o := range r.byID {
		if o.EventID() == eventID && o.Operation() == op && o.Status() != domain.OperationFailed {
			return o, nil
		}
	}
	return nil, nil
}

func (r *fakePendingOperationRepository) FindByEvent(ctx context.Context, eventID uuid.UUID) ([]*domain.PendingOperation, error) {
	var out []*domain.PendingOperation
	for _, o := range r.byID {
		if o.EventID() == eventID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *fakePendingOperationRepository) FindReady(ctx context.Context, now time.Time, limit int) ([]*domain.PendingOperation, error) {
	var out []*domain.PendingOperation
	for _, o := range r.byID {
		if o.Status() == domain.OperationPending && !o.NextRetryAt().After(now) {
			out = append(out, o)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakePendingOperationRepository) FindStaleInProgress(ctx context.Context, cutoff time.Time) ([]*domain.PendingOperation, error) {
	var out []*domain.PendingOperation
	for _, o := range r.byID {
		if o.Status() == domain.OperationInProgress && !o.UpdatedAt().After(cutoff) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *fakePendingOperationRepository) FindEligibleForAutoReset(ctx context.Context, failedBefore time.Time) ([]*domain.PendingOperation, error) {
	var out []*domain.PendingOperation
	for _, o := range r.byID {
		if o.Status() == domain.OperationFailed && o.FailedAt() != nil && !o.FailedAt().After(failedBefore) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *fakePendingOperationRepository) FindExpired(ctx context.Context, cutoff time.Time) ([]*domain.PendingOperation, error) {
	var out []*domain.PendingOperation
	for _, o := range r.byID {
		if !o.LifetimeResetAt().After(cutoff) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *fakePendingOperationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	delete(r.byID, id)
	return nil
}

func (r *fakePendingOperationRepository) DeleteByEvent(ctx context.Context, eventID uuid.UUID) error {
	for id, o := range r.byID {
		if o.EventID() == eventID {
			delete(r.byID, id)
		}
	}
	return nil
}

// fakeScheduledReminderRepository is an in-memory domain.ScheduledReminderRepository.
type fakeScheduledReminderRepository struct {
	byID map[uuid.UUID]*domain.ScheduledReminder
}

func newFakeScheduledReminderRepository() *fakeScheduledReminderRepository {
	return &fakeScheduledReminderRepository{byID: make(map[uuid.UUID]*domain.ScheduledReminder)}
}

func (r *fakeScheduledReminderRepository) SaveBatch(ctx context.Context, reminders []*domain.ScheduledReminder) error {
	for _, rem := range reminders {
		r.byID[rem.ID()] = rem
	}
	return nil
}

func (r *fakeScheduledReminderRepository) FindByEvent(ctx context.Context, eventID uuid.UUID) ([]*domain.ScheduledReminder, error) {
	var out []*domain.ScheduledReminder
	for _, rem := range r.byID {
		if rem.EventID() == eventID {
			out = append(out, rem)
		}
	}
	return out, nil
}

func (r *fakeScheduledReminderRepository) FindPending(ctx context.Context, before time.Time) ([]*domain.ScheduledReminder, error) {
	var out []*domain.ScheduledReminder
	for _, rem := range r.byID {
		if rem.Status() == domain.ReminderPending && !rem.TriggerTime().After(before) {
			out = append(out, rem)
		}
	}
	return out, nil
}

func (r *fakeScheduledReminderRepository) DeleteByEvent(ctx context.Context, eventID uuid.UUID) error {
	for id, rem := range r.byID {
		if rem.EventID() == eventID {
			delete(r.byID, id)
		}
	}
	return nil
}

func (r *fakeScheduledReminderRepository) Delete(ctx context.Context, id uuid.UUID) error {
	delete(r.byID, id)
	return nil
}
