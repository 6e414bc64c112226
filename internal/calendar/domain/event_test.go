package domain_test

import (
	"testing"
	"time"

	"github.com/kashcal/synccore/internal/calendar/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMasterEvent(t *testing.T) {
	calendarID := uuid.New()
	dtstamp := time.Now().UTC()

	event, err := domain.NewMasterEvent(calendarID, "", "Standup", 1000, 2000, dtstamp, false)

	require.NoError(t, err)
	require.NotNil(t, event)
	assert.NotEqual(t, uuid.Nil, event.ID())
	assert.NotEmpty(t, event.UID())
	assert.Equal(t, calendarID, event.CalendarID())
	assert.Equal(t, "Standup", event.Title())
	assert.Equal(t, int64(1000), event.StartTs())
	assert.Equal(t, int64(2000), event.EndTs())
	assert.Equal(t, domain.EventStatusConfirmed, event.Status())
	assert.Equal(t, domain.TransparencyOpaque, event.Transparency())
	assert.Equal(t, domain.ClassificationPublic, event.Classification())
	assert.Equal(t, domain.SyncStatusPendingCreate, event.SyncStatus())
	assert.True(t, event.IsMaster())
	assert.False(t, event.IsException())
}

func TestNewMasterEvent_OnLocalCalendarStartsSynced(t *testing.T) {
	event, err := domain.NewMasterEvent(uuid.New(), "", "Standup", 1000, 2000, time.Now().UTC(), true)

	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusSynced, event.SyncStatus())
}

func TestNewMasterEvent_InvalidTimeRange(t *testing.T) {
	event, err := domain.NewMasterEvent(uuid.New(), "", "Standup", 2000, 1000, time.Now().UTC(), false)

	assert.ErrorIs(t, err, domain.ErrInvalidTimeRange)
	assert.Nil(t, event)
}

func TestNewMasterEvent_MissingDTStamp(t *testing.T) {
	event, err := domain.NewMasterEvent(uuid.New(), "", "Standup", 1000, 2000, time.Time{}, false)

	assert.ErrorIs(t, err, domain.ErrMissingDTStamp)
	assert.Nil(t, event)
}

func TestNewExceptionEvent(t *testing.T) {
	master, err := domain.NewMasterEvent(uuid.New(), "uid-1", "Standup", 1000, 2000, time.Now().UTC(), false)
	require.NoError(t, err)

	occurrenceTime := time.Now().UTC().Add(24 * time.Hour)
	dtstamp := time.Now().UTC()
	exception, err := domain.NewExceptionEvent(master, occurrenceTime, 1500, 2500, dtstamp)

	require.NoError(t, err)
	assert.Equal(t, master.UID(), exception.UID())
	assert.True(t, exception.IsException())
	assert.False(t, exception.IsMaster())
	require.NotNil(t, exception.OriginalEventID())
	assert.Equal(t, master.ID(), *exception.OriginalEventID())
	require.NotNil(t, exception.OriginalInstanceTime())
	assert.Equal(t, occurrenceTime, *exception.OriginalInstanceTime())
	assert.Equal(t, domain.SyncStatusPendingUpdate, exception.SyncStatus())
}

func TestEvent_IsRecurring(t *testing.T) {
	event, err := domain.NewMasterEvent(uuid.New(), "", "Standup", 1000, 2000, time.Now().UTC(), false)
	require.NoError(t, err)
	assert.False(t, event.IsRecurring())

	rrule := "FREQ=DAILY"
	event.ApplyFields(domain.EventFields{RRule: &rrule}, time.Now().UTC())
	assert.True(t, event.IsRecurring())
}

func TestEvent_HasPendingChanges(t *testing.T) {
	event, err := domain.NewMasterEvent(uuid.New(), "", "Standup", 1000, 2000, time.Now().UTC(), true)
	require.NoError(t, err)
	assert.False(t, event.HasPendingChanges())

	event.TransitionOnUpdate(false, time.Now().UTC())
	assert.True(t, event.HasPendingChanges())
}

func TestEvent_ApplyFields(t *testing.T) {
	event, err := domain.NewMasterEvent(uuid.New(), "", "Standup", 1000, 2000, time.Now().UTC(), false)
	require.NoError(t, err)

	newTitle := "Renamed"
	newStart := int64(5000)
	now := time.Now().UTC().Add(time.Minute)
	changed := event.ApplyFields(domain.EventFields{Title: &newTitle, StartTs: &newStart}, now)

	assert.Equal(t, "Renamed", event.Title())
	assert.Equal(t, int64(5000), event.StartTs())
	assert.ElementsMatch(t, []string{"title", "start_ts"}, changed)
	assert.Equal(t, 1, event.Sequence())
	assert.Equal(t, now, event.DTStamp())
	assert.Equal(t, now, event.LocalModifiedAt())
	assert.True(t, domain.HasTimingChange(changed))
}

func TestEvent_ApplyFields_NoChangeNoOp(t *testing.T) {
	event, err := domain.NewMasterEvent(uuid.New(), "", "Standup", 1000, 2000, time.Now().UTC(), false)
	require.NoError(t, err)

	sameTitle := "Standup"
	changed := event.ApplyFields(domain.EventFields{Title: &sameTitle}, time.Now().UTC())

	assert.Empty(t, changed)
	assert.Equal(t, 0, event.Sequence())
}

func TestHasTimingChange(t *testing.T) {
	assert.True(t, domain.HasTimingChange([]string{"title", "start_ts"}))
	assert.False(t, domain.HasTimingChange([]string{"title", "location"}))
}

func TestEvent_AppendEXDate(t *testing.T) {
	event, err := domain.NewMasterEvent(uuid.New(), "", "Standup", 1000, 2000, time.Now().UTC(), false)
	require.NoError(t, err)

	occTime := time.Now().UTC().Add(24 * time.Hour)
	now := time.Now().UTC()
	event.AppendEXDate(occTime, now)

	require.Len(t, event.EXDate(), 1)
	assert.Equal(t, occTime, event.EXDate()[0])
	assert.Equal(t, 1, event.Sequence())
}

func TestEvent_TruncateRRuleUntil(t *testing.T) {
	event, err := domain.NewMasterEvent(uuid.New(), "", "Standup", 1000, 2000, time.Now().UTC(), false)
	require.NoError(t, err)
	rrule := "FREQ=DAILY;COUNT=10"
	event.ApplyFields(domain.EventFields{RRule: &rrule}, time.Now().UTC())

	until := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	event.TruncateRRuleUntil(until, time.Now().UTC())

	assert.Contains(t, event.RRule(), "UNTIL=20260601T000000Z")
	assert.NotContains(t, event.RRule(), "COUNT=")
}

func TestEvent_TransitionOnUpdate(t *testing.T) {
	event, err := domain.NewMasterEvent(uuid.New(), "", "Standup", 1000, 2000, time.Now().UTC(), true)
	require.NoError(t, err)

	queueUpdate := event.TransitionOnUpdate(true, time.Now().UTC())
	assert.False(t, queueUpdate)
	assert.Equal(t, domain.SyncStatusSynced, event.SyncStatus())

	event2, err := domain.NewMasterEvent(uuid.New(), "", "Standup", 1000, 2000, time.Now().UTC(), false)
	require.NoError(t, err)
	event2.MarkPushedCreate("https://cal.example.com/event-1", "etag-1", time.Now().UTC())
	queueUpdate = event2.TransitionOnUpdate(false, time.Now().UTC())
	assert.True(t, queueUpdate)
	assert.Equal(t, domain.SyncStatusPendingUpdate, event2.SyncStatus())
}

func TestEvent_TransitionOnDelete(t *testing.T) {
	event, err := domain.NewMasterEvent(uuid.New(), "", "Standup", 1000, 2000, time.Now().UTC(), false)
	require.NoError(t, err)

	next, hardDelete := event.TransitionOnDelete(false)
	assert.Equal(t, domain.SyncStatusPendingCreate, next)
	assert.True(t, hardDelete)
}

func TestEvent_MarkPushedCreateAndUpdate(t *testing.T) {
	event, err := domain.NewMasterEvent(uuid.New(), "", "Standup", 1000, 2000, time.Now().UTC(), false)
	require.NoError(t, err)

	now := time.Now().UTC()
	event.MarkPushedCreate("https://cal.example.com/event-1", "etag-1", now)
	assert.Equal(t, "https://cal.example.com/event-1", event.ServerURL())
	assert.Equal(t, "etag-1", event.ETag())
	assert.Equal(t, domain.SyncStatusSynced, event.SyncStatus())
	assert.Equal(t, now, event.ServerModifiedAt())

	later := now.Add(time.Hour)
	event.MarkPushedUpdate("etag-2", later)
	assert.Equal(t, "etag-2", event.ETag())
	assert.Equal(t, domain.SyncStatusSynced, event.SyncStatus())
	assert.Equal(t, later, event.ServerModifiedAt())
}

func TestEvent_ClearServerIdentity(t *testing.T) {
	event, err := domain.NewMasterEvent(uuid.New(), "", "Standup", 1000, 2000, time.Now().UTC(), false)
	require.NoError(t, err)
	event.MarkPushedCreate("https://cal.example.com/event-1", "etag-1", time.Now().UTC())

	event.ClearServerIdentity()

	assert.Equal(t, "", event.ServerURL())
	assert.Equal(t, "", event.ETag())
}

func TestEvent_MoveTo(t *testing.T) {
	event, err := domain.NewMasterEvent(uuid.New(), "", "Standup", 1000, 2000, time.Now().UTC(), false)
	require.NoError(t, err)

	newCalendar := uuid.New()
	event.MoveTo(newCalendar)

	assert.Equal(t, newCalendar, event.CalendarID())
}

func TestEvent_ApplyPulledBody(t *testing.T) {
	event, err := domain.NewMasterEvent(uuid.New(), "", "Standup", 1000, 2000, time.Now().UTC(), false)
	require.NoError(t, err)

	newTitle := "Updated remotely"
	now := time.Now().UTC()
	event.ApplyPulledBody(domain.EventFields{Title: &newTitle}, "https://cal.example.com/event-1", "etag-9", now)

	assert.Equal(t, "Updated remotely", event.Title())
	assert.Equal(t, "https://cal.example.com/event-1", event.ServerURL())
	assert.Equal(t, "etag-9", event.ETag())
	assert.Equal(t, domain.SyncStatusSynced, event.SyncStatus())
	assert.Equal(t, now, event.ServerModifiedAt())
}

func TestRehydrateEvent(t *testing.T) {
	id := uuid.New()
	calendarID := uuid.New()
	dtstamp := time.Now().UTC()
	createdAt := time.Now().UTC().Add(-24 * time.Hour)
	updatedAt := time.Now().UTC().Add(-time.Hour)

	event := domain.RehydrateEvent(
		id, "uid-1", calendarID,
		"Standup", "Room A", "Daily sync",
		1000, 2000,
		"America/New_York", false,
		domain.EventStatusConfirmed, domain.TransparencyOpaque, domain.ClassificationPublic,
		"organizer@example.com",
		"FREQ=DAILY", nil, nil,
		0,
		nil, nil,
		dtstamp,
		[]string{"-PT15M"}, map[string]string{"X-CUSTOM": "1"},
		[]string{"work"}, 1,
		"https://example.com", "#ff0000", nil,
		"https://cal.example.com/event-1", "etag-1",
		2,
		domain.SyncStatusSynced, 0, "",
		dtstamp, dtstamp,
		createdAt, updatedAt,
		3,
	)

	require.NotNil(t, event)
	assert.Equal(t, id, event.ID())
	assert.Equal(t, "uid-1", event.UID())
	assert.Equal(t, calendarID, event.CalendarID())
	assert.Equal(t, "Standup", event.Title())
	assert.Equal(t, "FREQ=DAILY", event.RRule())
	assert.Equal(t, 2, event.Sequence())
	assert.Equal(t, domain.SyncStatusSynced, event.SyncStatus())
	assert.Equal(t, 3, event.Version())
	assert.Equal(t, "1", event.ExtraProperty("X-CUSTOM"))
	assert.Empty(t, event.DomainEvents())
}
