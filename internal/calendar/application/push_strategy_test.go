package application

import (
	"context"
	"testing"
	"time"

	"github.com/kashcal/synccore/internal/calendar/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trackingCalDAVClient extends fakeCalDAVClient with per-call outcomes so
// push dispatch paths (success, conflict, not-found, auth) can be forced.
type trackingCalDAVClient struct {
	*fakeCalDAVClient
	createErr error
	updateErr error
	deleteErr error
	listCalendarsErr error
	createdURL string
	createdETag string
	updatedETag string
	createCalls int
	updateCalls int
	deleteCalls int
}

func newTrackingCalDAVClient() *trackingCalDAVClient {
	return &trackingCalDAVClient{fakeCalDAVClient: newFakeCalDAVClient(), createdURL: "https://cal.example.com/work/new.ics", createdETag: "etag-new", updatedETag: "etag-updated"}
}

func (c *trackingCalDAVClient) CreateEvent(ctx context.Context, calendarURL, uid, iCalBody string) (string, string, error) {
	c.createCalls++
	if c.createErr != nil {
		return "", "", c.createErr
	}
	return c.createdURL, c.createdETag, nil
}

func (c *trackingCalDAVClient) UpdateEvent(ctx context.Context, resourceURL, iCalBody, ifMatchEtag string) (string, error) {
	c.updateCalls++
	if c.updateErr != nil {
		return "", c.updateErr
	}
	return c.updatedETag, nil
}

func (c *trackingCalDAVClient) DeleteEvent(ctx context.Context, resourceURL, ifMatchEtag string) error {
	c.deleteCalls++
	return c.deleteErr
}

func (c *trackingCalDAVClient) ListCalendars(ctx context.Context, homeSetURL string) ([]RemoteCalendar, error) {
	if c.listCalendarsErr != nil {
		return nil, c.listCalendarsErr
	}
	return c.fakeCalDAVClient.ListCalendars(ctx, homeSetURL)
}

type pushStrategyFixture struct {
	strategy *PushStrategy
	eventRepo *fakeEventRepository
	calendarRepo *fakeCalendarRepository
	queueRepo *fakePendingOperationRepository
	queue *OperationQueueManager
	client *trackingCalDAVClient
	codec *fakeICalCodec
	clock *domain.FixedClock
}

func newPushStrategyFixture() *pushStrategyFixture {
	eventRepo := newFakeEventRepository()
	calendarRepo := newFakeCalendarRepository()
	occRepo := newFakeOccurrenceRepository()
	occurrences := NewOccurrenceEngine(occRepo, eventRepo)
	queueRepo := newFakePendingOperationRepository()
	clock := domain.NewFixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	queue := NewOperationQueueManager(queueRepo, clock)
	client := newTrackingCalDAVClient()
	codec := newFakeICalCodec()
	strategy := NewPushStrategy(eventRepo, calendarRepo, occurrences, queue, client, codec, clock, nil)
	return &pushStrategyFixture{
		strategy: strategy, eventRepo: eventRepo, calendarRepo: calendarRepo,
		queueRepo: queueRepo, queue: queue, client: client, codec: codec, clock: clock,
	}
}

func (f *pushStrategyFixture) addCalendar(t *testing.T, accountID uuid.UUID, serverURL string) *domain.Calendar {
	t.Helper()
	cal, err := domain.NewCalendar(accountID, serverURL, "Work", 0, false)
	require.NoError(t, err)
	require.NoError(t, f.calendarRepo.Save(context.Background(), cal))
	return cal
}

func TestPushStrategy_DrainAccount_DispatchesCreate(t *testing.T) {
	f := newPushStrategyFixture()
	accountID := uuid.New()
	cal := f.addCalendar(t, accountID, "https://cal.example.com/work")
	ctx := context.Background()

	event, err := domain.NewMasterEvent(cal.ID(), "uid-1", "Standup", f.clock.Now().UnixMilli(), f.clock.Now().Add(time.Hour).UnixMilli(), f.clock.Now(), false)
	require.NoError(t, err)
	require.NoError(t, f.eventRepo.Save(ctx, event))

	op := domain.NewPendingOperation(event.ID(), domain.OperationCreate, "", f.clock.Now())
	_, err = f.queue.Enqueue(ctx, op)
	require.NoError(t, err)

	completed, err := f.strategy.DrainAccount(ctx, accountID, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, f.client.createCalls)

	found, err := f.eventRepo.FindByID(ctx, event.ID())
	require.NoError(t, err)
	assert.Equal(t, f.client.createdURL, found.ServerURL())
	assert.Equal(t, domain.SyncStatusSynced, found.SyncStatus())

	remaining, err := f.queueRepo.FindByEvent(ctx, event.ID())
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestPushStrategy_DrainAccount_OtherAccountIgnored(t *testing.T) {
	f := newPushStrategyFixture()
	accountID := uuid.New()
	otherAccountID := uuid.New()
	cal := f.addCalendar(t, otherAccountID, "https://cal.example.com/work")
	ctx := context.Background()

	event, err := domain.NewMasterEvent(cal.ID(), "uid-1", "Standup", f.clock.Now().UnixMilli(), f.clock.Now().Add(time.Hour).UnixMilli(), f.clock.Now(), false)
	require.NoError(t, err)
	require.NoError(t, f.eventRepo.Save(ctx, event))

	op := domain.NewPendingOperation(event.ID(), domain.OperationCreate, "", f.clock.Now())
	_, err = f.queue.Enqueue(ctx, op)
	require.NoError(t, err)

	completed, err := f.strategy.DrainAccount(ctx, accountID, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, completed)
	assert.Equal(t, 0, f.client.createCalls)
}

func TestPushStrategy_DrainAccount_TransportErrorSchedulesRetry(t *testing.T) {
	f := newPushStrategyFixture()
	accountID := uuid.New()
	cal := f.addCalendar(t, accountID, "https://cal.example.com/work")
	ctx := context.Background()

	event, err := domain.NewMasterEvent(cal.ID(), "uid-1", "Standup", f.clock.Now().UnixMilli(), f.clock.Now().Add(time.Hour).UnixMilli(), f.clock.Now(), false)
	require.NoError(t, err)
	require.NoError(t, f.eventRepo.Save(ctx, event))

	f.client.createErr = NewClientError(ClientErrNetwork, nil)
	op := domain.NewPendingOperation(event.ID(), domain.OperationCreate, "", f.clock.Now())
	_, err = f.queue.Enqueue(ctx, op)
	require.NoError(t, err)

	completed, err := f.strategy.DrainAccount(ctx, accountID, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, completed)

	remaining, err := f.queueRepo.FindByEvent(ctx, event.ID())
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, domain.OperationPending, remaining[0].Status())
	assert.Equal(t, 1, remaining[0].RetryCount())
}

func TestPushStrategy_DrainAccount_AuthErrorMarksFailed(t *testing.T) {
	f := newPushStrategyFixture()
	accountID := uuid.New()
	cal := f.addCalendar(t, accountID, "https://cal.example.com/work")
	ctx := context.Background()

	event, err := domain.NewMasterEvent(cal.ID(), "uid-1", "Standup", f.clock.Now().UnixMilli(), f.clock.Now().Add(time.Hour).UnixMilli(), f.clock.Now(), false)
	require.NoError(t, err)
	require.NoError(t, f.eventRepo.Save(ctx, event))

	f.client.createErr = NewClientError(ClientErrAuth, nil)
	op := domain.NewPendingOperation(event.ID(), domain.OperationCreate, "", f.clock.Now())
	_, err = f.queue.Enqueue(ctx, op)
	require.NoError(t, err)

	completed, err := f.strategy.DrainAccount(ctx, accountID, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, completed)

	remaining, err := f.queueRepo.FindByEvent(ctx, event.ID())
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, domain.OperationFailed, remaining[0].Status())
}

func TestPushStrategy_DrainAccount_UpdateFallsBackToCreateOnNotFound(t *testing.T) {
	f := newPushStrategyFixture()
	accountID := uuid.New()
	cal := f.addCalendar(t, accountID, "https://cal.example.com/work")
	ctx := context.Background()

	event, err := domain.NewMasterEvent(cal.ID(), "uid-1", "Standup", f.clock.Now().UnixMilli(), f.clock.Now().Add(time.Hour).UnixMilli(), f.clock.Now(), false)
	require.NoError(t, err)
	event.MarkPushedCreate("https://cal.example.com/work/event-1.ics", "etag-1", f.clock.Now())
	require.NoError(t, f.eventRepo.Save(ctx, event))

	f.client.updateErr = NewClientError(ClientErrNotFound, nil)
	op := domain.NewPendingOperation(event.ID(), domain.OperationUpdate, "", f.clock.Now())
	_, err = f.queue.Enqueue(ctx, op)
	require.NoError(t, err)

	completed, err := f.strategy.DrainAccount(ctx, accountID, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, f.client.updateCalls)
	assert.Equal(t, 1, f.client.createCalls)

	found, err := f.eventRepo.FindByID(ctx, event.ID())
	require.NoError(t, err)
	assert.Equal(t, f.client.createdURL, found.ServerURL())
}

func TestPushStrategy_DrainAccount_DeleteWithoutTargetURLCompletesWithoutNetworkCall(t *testing.T) {
	f := newPushStrategyFixture()
	accountID := uuid.New()
	cal := f.addCalendar(t, accountID, "https://cal.example.com/work")
	ctx := context.Background()

	event, err := domain.NewMasterEvent(cal.ID(), "uid-1", "Standup", f.clock.Now().UnixMilli(), f.clock.Now().Add(time.Hour).UnixMilli(), f.clock.Now(), false)
	require.NoError(t, err)
	require.NoError(t, f.eventRepo.Save(ctx, event))

	op := domain.NewPendingOperation(event.ID(), domain.OperationDelete, "", f.clock.Now())
	_, err = f.queue.Enqueue(ctx, op)
	require.NoError(t, err)

	completed, err := f.strategy.DrainAccount(ctx, accountID, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, completed)
	assert.Equal(t, 0, f.client.deleteCalls)
}

func TestPushStrategy_DrainAccount_MoveDeletePhaseAdvancesToCreate(t *testing.T) {
	f := newPushStrategyFixture()
	accountID := uuid.New()
	source := f.addCalendar(t, accountID, "https://cal.example.com/source")
	target := f.addCalendar(t, accountID, "https://cal.example.com/target")
	ctx := context.Background()

	event, err := domain.NewMasterEvent(target.ID(), "uid-1", "Standup", f.clock.Now().UnixMilli(), f.clock.Now().Add(time.Hour).UnixMilli(), f.clock.Now(), false)
	require.NoError(t, err)
	event.MarkPushedCreate("https://cal.example.com/source/event-1.ics", "etag-1", f.clock.Now())
	require.NoError(t, f.eventRepo.Save(ctx, event))

	op := domain.NewMoveOperation(event.ID(), "https://cal.example.com/source/event-1.ics", source.ID(), target.ID(), f.clock.Now())
	_, err = f.queue.Enqueue(ctx, op)
	require.NoError(t, err)

	completed, err := f.strategy.DrainAccount(ctx, accountID, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, completed)
	assert.Equal(t, 1, f.client.deleteCalls)

	remaining, err := f.queueRepo.FindByEvent(ctx, event.ID())
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, domain.MovePhaseCreate, remaining[0].MovePhase())
}

func TestPushStrategy_DrainAccount_CrossAccountMoveDeletePhaseDrainsOnSourceAccount(t *testing.T) {
	f := newPushStrategyFixture()
	sourceAccountID := uuid.New()
	targetAccountID := uuid.New()
	source := f.addCalendar(t, sourceAccountID, "https://cal.example.com/source")
	target := f.addCalendar(t, targetAccountID, "https://cal.example.com/target")
	ctx := context.Background()

	// event.CalendarID() already points at the destination calendar: the
	// move's local reassignment runs before the DELETE phase is drained.
	event, err := domain.NewMasterEvent(target.ID(), "uid-1", "Standup", f.clock.Now().UnixMilli(), f.clock.Now().Add(time.Hour).UnixMilli(), f.clock.Now(), false)
	require.NoError(t, err)
	event.MarkPushedCreate("https://cal.example.com/source/event-1.ics", "etag-1", f.clock.Now())
	require.NoError(t, f.eventRepo.Save(ctx, event))

	op := domain.NewMoveOperation(event.ID(), "https://cal.example.com/source/event-1.ics", source.ID(), target.ID(), f.clock.Now())
	_, err = f.queue.Enqueue(ctx, op)
	require.NoError(t, err)

	// The target account's own drain must leave the DELETE-phase op alone:
	// the stale server object lives on the source account.
	completedOnTarget, err := f.strategy.DrainAccount(ctx, targetAccountID, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, completedOnTarget)
	assert.Equal(t, 0, f.client.deleteCalls)

	completedOnSource, err := f.strategy.DrainAccount(ctx, sourceAccountID, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, completedOnSource)
	assert.Equal(t, 1, f.client.deleteCalls)

	remaining, err := f.queueRepo.FindByEvent(ctx, event.ID())
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, domain.MovePhaseCreate, remaining[0].MovePhase())
}

func TestPushStrategy_DrainAccount_ExceptionOperationSkippedAndCompleted(t *testing.T) {
	f := newPushStrategyFixture()
	accountID := uuid.New()
	cal := f.addCalendar(t, accountID, "https://cal.example.com/work")
	ctx := context.Background()

	dtstamp := f.clock.Now()
	master, err := domain.NewMasterEvent(cal.ID(), "uid-1", "Standup", dtstamp.UnixMilli(), dtstamp.Add(time.Hour).UnixMilli(), dtstamp, false)
	require.NoError(t, err)
	rrule := "FREQ=DAILY;COUNT=5"
	master.ApplyFields(domain.EventFields{RRule: &rrule}, dtstamp)
	require.NoError(t, f.eventRepo.Save(ctx, master))

	exception, err := domain.NewExceptionEvent(master, dtstamp.Add(24*time.Hour), dtstamp.Add(25*time.Hour).UnixMilli(), dtstamp.Add(26*time.Hour).UnixMilli(), dtstamp)
	require.NoError(t, err)
	require.NoError(t, f.eventRepo.Save(ctx, exception))

	op := domain.NewPendingOperation(exception.ID(), domain.OperationUpdate, "", f.clock.Now())
	_, err = f.queue.Enqueue(ctx, op)
	require.NoError(t, err)

	completed, err := f.strategy.DrainAccount(ctx, accountID, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, completed)
	assert.Equal(t, 0, f.client.createCalls)
	assert.Equal(t, 0, f.client.updateCalls)

	remaining, err := f.queueRepo.FindByEvent(ctx, exception.ID())
	require.NoError(t, err)
	assert.Empty(t, remaining)
}
