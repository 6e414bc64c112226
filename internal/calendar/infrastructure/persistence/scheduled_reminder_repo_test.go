package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/kashcal/synccore/internal/calendar/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduledReminderRepository_SaveBatchAndFindByEvent(t *testing.T) {
	conn := newTestConnection(t)
	cal := createTestCalendar(t, NewCalendarRepository(conn), NewAccountRepository(conn))
	event := createTestEvent(t, NewEventRepository(conn), cal, 1000, 2000)
	repo := NewScheduledReminderRepository(conn)
	ctx := context.Background()

	occTime := time.Now().UTC()
	trigger := occTime.Add(-15 * time.Minute)
	rem := domain.NewScheduledReminder(event.ID(), occTime, "-PT15M", trigger)
	require.NoError(t, repo.SaveBatch(ctx, []*domain.ScheduledReminder{rem}))

	found, err := repo.FindByEvent(ctx, event.ID())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, rem.ID(), found[0].ID())
	assert.Equal(t, domain.ReminderPending, found[0].Status())
}

func TestScheduledReminderRepository_SaveBatch_Upserts(t *testing.T) {
	conn := newTestConnection(t)
	cal := createTestCalendar(t, NewCalendarRepository(conn), NewAccountRepository(conn))
	event := createTestEvent(t, NewEventRepository(conn), cal, 1000, 2000)
	repo := NewScheduledReminderRepository(conn)
	ctx := context.Background()

	occTime := time.Now().UTC()
	trigger := occTime.Add(-15 * time.Minute)
	rem := domain.NewScheduledReminder(event.ID(), occTime, "-PT15M", trigger)
	require.NoError(t, repo.SaveBatch(ctx, []*domain.ScheduledReminder{rem}))

	rem.Fire()
	require.NoError(t, repo.SaveBatch(ctx, []*domain.ScheduledReminder{rem}))

	found, err := repo.FindByEvent(ctx, event.ID())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, domain.ReminderFired, found[0].Status())
}

func TestScheduledReminderRepository_FindPending(t *testing.T) {
	conn := newTestConnection(t)
	cal := createTestCalendar(t, NewCalendarRepository(conn), NewAccountRepository(conn))
	event := createTestEvent(t, NewEventRepository(conn), cal, 1000, 2000)
	repo := NewScheduledReminderRepository(conn)
	ctx := context.Background()

	now := time.Now().UTC()
	due := domain.NewScheduledReminder(event.ID(), now, "-PT15M", now.Add(-time.Minute))
	future := domain.NewScheduledReminder(event.ID(), now, "-PT15M", now.Add(time.Hour))
	require.NoError(t, repo.SaveBatch(ctx, []*domain.ScheduledReminder{due, future}))

	found, err := repo.FindPending(ctx, now)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, due.ID(), found[0].ID())
}

func TestScheduledReminderRepository_DeleteAndDeleteByEvent(t *testing.T) {
	conn := newTestConnection(t)
	cal := createTestCalendar(t, NewCalendarRepository(conn), NewAccountRepository(conn))
	event := createTestEvent(t, NewEventRepository(conn), cal, 1000, 2000)
	repo := NewScheduledReminderRepository(conn)
	ctx := context.Background()

	now := time.Now().UTC()
	rem := domain.NewScheduledReminder(event.ID(), now, "-PT15M", now)
	require.NoError(t, repo.SaveBatch(ctx, []*domain.ScheduledReminder{rem}))
	require.NoError(t, repo.Delete(ctx, rem.ID()))

	found, err := repo.FindByEvent(ctx, event.ID())
	require.NoError(t, err)
	assert.Empty(t, found)

	rem2 := domain.NewScheduledReminder(event.ID(), now, "-PT15M", now)
	require.NoError(t, repo.SaveBatch(ctx, []*domain.ScheduledReminder{rem2}))
	require.NoError(t, repo.DeleteByEvent(ctx, event.ID()))

	byEvent, err := repo.FindByEvent(ctx, event.ID())
	require.NoError(t, err)
	assert.Empty(t, byEvent)
}
