package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/kashcal/synccore/internal/calendar/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestEvent(t *testing.T, eventRepo *EventRepository, cal *domain.Calendar, startTs, endTs int64) *domain.Event {
	t.Helper()
	event, err := domain.NewMasterEvent(cal.ID(), "", "Standup", startTs, endTs, time.Now().UTC(), false)
	require.NoError(t, err)
	require.NoError(t, eventRepo.Save(context.Background(), event))
	return event
}

func TestOccurrenceRepository_SaveBatchAndFindByEvent(t *testing.T) {
	conn := newTestConnection(t)
	cal := createTestCalendar(t, NewCalendarRepository(conn), NewAccountRepository(conn))
	eventRepo := NewEventRepository(conn)
	event := createTestEvent(t, eventRepo, cal, 1000, 2000)
	repo := NewOccurrenceRepository(conn)
	ctx := context.Background()

	o1 := domain.NewOccurrence(event.ID(), cal.ID(), 1000, 2000, 1, 1)
	o2 := domain.NewOccurrence(event.ID(), cal.ID(), 3000, 4000, 2, 2)
	require.NoError(t, repo.SaveBatch(ctx, []*domain.Occurrence{o1, o2}))

	found, err := repo.FindByEvent(ctx, event.ID())
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, o1.ID(), found[0].ID())
	assert.Equal(t, o2.ID(), found[1].ID())
}

func TestOccurrenceRepository_SaveBatch_Upserts(t *testing.T) {
	conn := newTestConnection(t)
	cal := createTestCalendar(t, NewCalendarRepository(conn), NewAccountRepository(conn))
	eventRepo := NewEventRepository(conn)
	event := createTestEvent(t, eventRepo, cal, 1000, 2000)
	repo := NewOccurrenceRepository(conn)
	ctx := context.Background()

	o := domain.NewOccurrence(event.ID(), cal.ID(), 1000, 2000, 1, 1)
	require.NoError(t, repo.SaveBatch(ctx, []*domain.Occurrence{o}))

	o.Cancel()
	require.NoError(t, repo.SaveBatch(ctx, []*domain.Occurrence{o}))

	found, err := repo.FindByEvent(ctx, event.ID())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.True(t, found[0].IsCancelled())
}

func TestOccurrenceRepository_FindInRange(t *testing.T) {
	conn := newTestConnection(t)
	cal := createTestCalendar(t, NewCalendarRepository(conn), NewAccountRepository(conn))
	eventRepo := NewEventRepository(conn)
	event := createTestEvent(t, eventRepo, cal, 1000, 2000)
	repo := NewOccurrenceRepository(conn)
	ctx := context.Background()

	inRange := domain.NewOccurrence(event.ID(), cal.ID(), 1000, 2000, 1, 1)
	outOfRange := domain.NewOccurrence(event.ID(), cal.ID(), 10000, 11000, 5, 5)
	cancelled := domain.NewOccurrence(event.ID(), cal.ID(), 1500, 2500, 1, 1)
	cancelled.Cancel()
	require.NoError(t, repo.SaveBatch(ctx, []*domain.Occurrence{inRange, outOfRange, cancelled}))

	found, err := repo.FindInRange(ctx, cal.ID(), 0, 3000)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, inRange.ID(), found[0].ID())
}

func TestOccurrenceRepository_FindByExceptionEventID(t *testing.T) {
	conn := newTestConnection(t)
	cal := createTestCalendar(t, NewCalendarRepository(conn), NewAccountRepository(conn))
	eventRepo := NewEventRepository(conn)
	master := createTestEvent(t, eventRepo, cal, 1000, 2000)
	exception, err := domain.NewExceptionEvent(master, time.Now().UTC(), 1500, 2500, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, eventRepo.Save(context.Background(), exception))

	repo := NewOccurrenceRepository(conn)
	ctx := context.Background()

	o := domain.NewOccurrence(master.ID(), cal.ID(), 1000, 2000, 1, 1)
	exID := exception.ID()
	o.LinkException(exID, 1500, 2500, 1, 1)
	require.NoError(t, repo.SaveBatch(ctx, []*domain.Occurrence{o}))

	found, err := repo.FindByExceptionEventID(ctx, exID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, o.ID(), found.ID())
}

func TestOccurrenceRepository_FindNearTime(t *testing.T) {
	conn := newTestConnection(t)
	cal := createTestCalendar(t, NewCalendarRepository(conn), NewAccountRepository(conn))
	eventRepo := NewEventRepository(conn)
	event := createTestEvent(t, eventRepo, cal, 1000, 2000)
	repo := NewOccurrenceRepository(conn)
	ctx := context.Background()

	o := domain.NewOccurrence(event.ID(), cal.ID(), 5000, 6000, 1, 1)
	require.NoError(t, repo.SaveBatch(ctx, []*domain.Occurrence{o}))

	found, err := repo.FindNearTime(ctx, event.ID(), 5100, 500)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, o.ID(), found.ID())

	notFound, err := repo.FindNearTime(ctx, event.ID(), 50000, 500)
	require.NoError(t, err)
	assert.Nil(t, notFound)
}

func TestOccurrenceRepository_MaxStartTs(t *testing.T) {
	conn := newTestConnection(t)
	cal := createTestCalendar(t, NewCalendarRepository(conn), NewAccountRepository(conn))
	eventRepo := NewEventRepository(conn)
	event := createTestEvent(t, eventRepo, cal, 1000, 2000)
	repo := NewOccurrenceRepository(conn)
	ctx := context.Background()

	_, ok, err := repo.MaxStartTs(ctx, event.ID())
	require.NoError(t, err)
	assert.False(t, ok)

	o1 := domain.NewOccurrence(event.ID(), cal.ID(), 1000, 2000, 1, 1)
	o2 := domain.NewOccurrence(event.ID(), cal.ID(), 9000, 10000, 9, 9)
	require.NoError(t, repo.SaveBatch(ctx, []*domain.Occurrence{o1, o2}))

	maxTs, ok, err := repo.MaxStartTs(ctx, event.ID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(9000), maxTs)
}

func TestOccurrenceRepository_DeleteByEvent(t *testing.T) {
	conn := newTestConnection(t)
	cal := createTestCalendar(t, NewCalendarRepository(conn), NewAccountRepository(conn))
	eventRepo := NewEventRepository(conn)
	event := createTestEvent(t, eventRepo, cal, 1000, 2000)
	repo := NewOccurrenceRepository(conn)
	ctx := context.Background()

	o := domain.NewOccurrence(event.ID(), cal.ID(), 1000, 2000, 1, 1)
	require.NoError(t, repo.SaveBatch(ctx, []*domain.Occurrence{o}))

	require.NoError(t, repo.DeleteByEvent(ctx, event.ID()))

	found, err := repo.FindByEvent(ctx, event.ID())
	require.NoError(t, err)
	assert.Empty(t, found)
}
