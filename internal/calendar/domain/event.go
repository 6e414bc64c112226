package domain

import (
	"context"
	"strings"
	"time"

	sharedDomain "github.com/kashcal/synccore/internal/shared/domain"
	"github.com/google/uuid"
)

// EventStatus is the RFC 5545 VEVENT STATUS property.
type EventStatus string

const (
	EventStatusTentative EventStatus = "TENTATIVE"
	EventStatusConfirmed EventStatus = "CONFIRMED"
	EventStatusCancelled EventStatus = "CANCELLED"
)

// Transparency is the RFC 5545 TRANSP property.
type Transparency string

const (
	TransparencyOpaque Transparency = "OPAQUE"
	TransparencyTransparent Transparency = "TRANSPARENT"
)

// Classification is the RFC 5545 CLASS property.
type Classification string

const (
	ClassificationPublic Classification = "PUBLIC"
	ClassificationPrivate Classification = "PRIVATE"
	ClassificationConfidential Classification = "CONFIDENTIAL"
)

// GeoPoint is an optional RFC 5545 GEO property.
type GeoPoint struct {
	Lat float64
	Lon float64
}

// Event is an RFC 5545 VEVENT: either a master (carries RRULE/RDATE/EXDATE,
// root of a recurrence set) or an exception instance (carries
// originalEventId + originalInstanceTime, overrides exactly one occurrence
// of its master, shares the master's UID). Exception events are independent
// rows with their own identity, linked by originalEventId.
type Event struct {
	sharedDomain.BaseAggregateRoot
	uid string
	calendarID uuid.UUID

	title string
	location string
	description string

	startTs int64 // epoch-ms
	endTs int64 // epoch-ms; for all-day, inclusive last-day marker
	timezone string // IANA zone name; empty means floating/UTC
	allDay bool

	status EventStatus
	transparency Transparency
	classification Classification
	organizer string

	rrule string
	rdate []time.Time
	exdate []time.Time

	duration time.Duration

	originalEventID *uuid.UUID // self-FK to master; nil on masters
	originalInstanceTime *time.Time // the RECURRENCE-ID; nil on masters

	dtstamp time.Time

	reminders []string // ordered ISO-8601 offsets, e.g. "-PT15M"
	extra map[string]string

	categories []string
	priority int // 0=undefined, 1=highest, 9=lowest
	url string
	color string
	geo *GeoPoint

	serverURL string
	etag string
	sequence int
	syncStatus SyncStatus
	retryCount int
	lastSyncError string
	localModifiedAt time.Time
	serverModifiedAt time.Time
}

// NewMasterEvent creates a new top-level (possibly recurring) event on a
// calendar. uid is generated if empty. onLocalCalendar controls the initial
// SyncStatus.
func NewMasterEvent(calendarID uuid.UUID, uid, title string, startTs, endTs int64, dtstamp time.Time, onLocalCalendar bool) (*Event, error) {
	if endTs < startTs {
		return nil, ErrInvalidTimeRange
	}
	if dtstamp.IsZero() {
		return nil, ErrMissingDTStamp
	}
	if strings.TrimSpace(uid) == "" {
		uid = uuid.NewString()
	}

	status := SyncStatusPendingCreate
	if onLocalCalendar {
		status = SyncStatusSynced
	}

	e := &Event{
		BaseAggregateRoot: sharedDomain.NewBaseAggregateRoot(),
		uid: uid,
		calendarID: calendarID,
		title: title,
		startTs: startTs,
		endTs: endTs,
		dtstamp: dtstamp,
		status: EventStatusConfirmed,
		transparency: TransparencyOpaque,
		classification: ClassificationPublic,
		extra: make(map[string]string),
		syncStatus: status,
		localModifiedAt: dtstamp,
	}
	return e, nil
}

// NewExceptionEvent creates an exception instance overriding one occurrence
// of master: shares the master's UID, never carries an RRULE, and its
// serverURL stays empty — it is bundled with the master as one CalDAV
// resource.
func NewExceptionEvent(master *Event, occurrenceTime time.Time, startTs, endTs int64, dtstamp time.Time) (*Event, error) {
	if endTs < startTs {
		return nil, ErrInvalidTimeRange
	}
	if dtstamp.IsZero() {
		return nil, ErrMissingDTStamp
	}

	masterID := master.ID()
	occ := occurrenceTime.UTC()

	e := &Event{
		BaseAggregateRoot: sharedDomain.NewBaseAggregateRoot(),
		uid: master.uid,
		calendarID: master.calendarID,
		title: master.title,
		location: master.location,
		description: master.description,
		startTs: startTs,
		endTs: endTs,
		timezone: master.timezone,
		allDay: master.allDay,
		status: master.status,
		transparency: master.transparency,
		classification: master.classification,
		organizer: master.organizer,
		dtstamp: dtstamp,
		originalEventID: &masterID,
		originalInstanceTime: &occ,
		extra: make(map[string]string),
		syncStatus: SyncStatusPendingUpdate,
		localModifiedAt: dtstamp,
	}
	return e, nil
}

// Getters.
func (e *Event) UID() string { return e.uid }
func (e *Event) CalendarID() uuid.UUID { return e.calendarID }
func (e *Event) Title() string { return e.title }
func (e *Event) Location() string { return e.location }
func (e *Event) Description() string { return e.description }
func (e *Event) StartTs() int64 { return e.startTs }
func (e *Event) EndTs() int64 { return e.endTs }
func (e *Event) Timezone() string { return e.timezone }
func (e *Event) AllDay() bool { return e.allDay }
func (e *Event) Status() EventStatus { return e.status }
func (e *Event) Transparency() Transparency { return e.transparency }
func (e *Event) Classification() Classification { return e.classification }
func (e *Event) Organizer() string { return e.organizer }
func (e *Event) RRule() string { return e.rrule }
func (e *Event) RDate() []time.Time { return append([]time.Time(nil), e.rdate...) }
func (e *Event) EXDate() []time.Time { return append([]time.Time(nil), e.exdate...) }
func (e *Event) Duration() time.Duration { return e.duration }
func (e *Event) OriginalEventID() *uuid.UUID { return e.originalEventID }
func (e *Event) OriginalInstanceTime() *time.Time { return e.originalInstanceTime }
func (e *Event) DTStamp() time.Time { return e.dtstamp }
func (e *Event) Reminders() []string { return append([]string(nil), e.reminders...) }
func (e *Event) Categories() []string { return append([]string(nil), e.categories...) }
func (e *Event) Priority() int { return e.priority }
func (e *Event) URL() string { return e.url }
func (e *Event) Color() string { return e.color }
func (e *Event) Geo() *GeoPoint { return e.geo }
func (e *Event) ServerURL() string { return e.serverURL }
func (e *Event) ETag() string { return e.etag }
func (e *Event) Sequence() int { return e.sequence }
func (e *Event) SyncStatus() SyncStatus { return e.syncStatus }
func (e *Event) RetryCount() int { return e.retryCount }
func (e *Event) LastSyncError() string { return e.lastSyncError }
func (e *Event) LocalModifiedAt() time.Time { return e.localModifiedAt }
func (e *Event) ServerModifiedAt() time.Time { return e.serverModifiedAt }

// ExtraProperty returns an extension (X-*) property value.
func (e *Event) ExtraProperty(key string) string { return e.extra[key] }

// ExtraProperties returns a copy of every extension property.
func (e *Event) ExtraProperties() map[string]string {
	out := make(map[string]string, len(e.extra))
	for k, v := range e.extra {
		out[k] = v
	}
	return out
}

// IsMaster reports whether this event is a recurrence-set root.
func (e *Event) IsMaster() bool { return e.originalEventID == nil }

// IsException reports whether this event overrides one occurrence of a
// master.
func (e *Event) IsException() bool { return e.originalEventID != nil }

// IsRecurring reports whether this master carries an RRULE or RDATEs.
func (e *Event) IsRecurring() bool {
	return e.IsMaster() && (e.rrule != "" || len(e.rdate) > 0)
}

// HasPendingChanges reports whether the event has a local change not yet
// pushed.
func (e *Event) HasPendingChanges() bool { return e.syncStatus.HasPendingChanges() }

// EventFields is a field-level edit applied by ApplyFields; a nil field is
// left unchanged.
type EventFields struct {
	Title *string
	Location *string
	Description *string
	StartTs *int64
	EndTs *int64
	Timezone *string
	AllDay *bool
	Status *EventStatus
	Transparency *Transparency
	Classification *Classification
	Organizer *string
	RRule *string
	RDate []time.Time
	EXDate []time.Time
	Reminders []string
	Categories []string
	Priority *int
	URL *string
	Color *string
	Geo *GeoPoint
	Extra map[string]string
}

// timingFields is the set of field names that require occurrence
// regeneration when changed.
var timingFields = map[string]bool{
	"start_ts": true, "end_ts": true, "timezone": true, "all_day": true,
	"rrule": true, "rdate": true, "exdate": true,
}

// ApplyFields mutates the event in place and returns the set of changed
// field names. It does not itself touch SyncStatus or enqueue anything —
// that orchestration belongs to the Event Writer.
func (e *Event) ApplyFields(f EventFields, now time.Time) []string {
	var changed []string
	set := func(name string) { changed = append(changed, name) }

	if f.Title != nil && *f.Title != e.title {
		e.title = *f.Title
		set("title")
	}
	if f.Location != nil && *f.Location != e.location {
		e.location = *f.Location
		set("location")
	}
	if f.Description != nil && *f.Description != e.description {
		e.description = *f.Description
		set("description")
	}
	if f.StartTs != nil && *f.StartTs != e.startTs {
		e.startTs = *f.StartTs
		set("start_ts")
	}
	if f.EndTs != nil && *f.EndTs != e.endTs {
		e.endTs = *f.EndTs
		set("end_ts")
	}
	if f.Timezone != nil && *f.Timezone != e.timezone {
		e.timezone = *f.Timezone
		set("timezone")
	}
	if f.AllDay != nil && *f.AllDay != e.allDay {
		e.allDay = *f.AllDay
		set("all_day")
	}
	if f.Status != nil && *f.Status != e.status {
		e.status = *f.Status
		set("status")
	}
	if f.Transparency != nil && *f.Transparency != e.transparency {
		e.transparency = *f.Transparency
		set("transparency")
	}
	if f.Classification != nil && *f.Classification != e.classification {
		e.classification = *f.Classification
		set("classification")
	}
	if f.Organizer != nil && *f.Organizer != e.organizer {
		e.organizer = *f.Organizer
		set("organizer")
	}
	if f.RRule != nil && *f.RRule != e.rrule {
		e.rrule = *f.RRule
		set("rrule")
	}
	if f.RDate != nil {
		e.rdate = f.RDate
		set("rdate")
	}
	if f.EXDate != nil {
		e.exdate = f.EXDate
		set("exdate")
	}
	if f.Reminders != nil {
		e.reminders = f.Reminders
		set("reminders")
	}
	if f.Categories != nil {
		e.categories = f.Categories
		set("categories")
	}
	if f.Priority != nil && *f.Priority != e.priority {
		e.priority = *f.Priority
		set("priority")
	}
	if f.URL != nil && *f.URL != e.url {
		e.url = *f.URL
		set("url")
	}
	if f.Color != nil && *f.Color != e.color {
		e.color = *f.Color
		set("color")
	}
	if f.Geo != nil {
		e.geo = f.Geo
		set("geo")
	}
	if f.Extra != nil {
		for k, v := range f.Extra {
			e.extra[k] = v
		}
		set("extra")
	}

	if len(changed) > 0 {
		e.dtstamp = now
		e.localModifiedAt = now
		e.sequence++
		e.Touch()
	}
	return changed
}

// HasTimingChange reports whether any of the given changed-field names
// requires occurrence regeneration.
func HasTimingChange(changed []string) bool {
	for _, c := range changed {
		if timingFields[c] {
			return true
		}
	}
	return false
}

// AppendEXDate adds occurrenceTime to the master's EXDATE list.
func (e *Event) AppendEXDate(occurrenceTime time.Time, now time.Time) {
	e.exdate = append(e.exdate, occurrenceTime.UTC())
	e.dtstamp = now
	e.localModifiedAt = now
	e.sequence++
	e.Touch()
}

// TruncateRRuleUntil rewrites the RRULE's UNTIL bound, used by
// editThisAndFuture to cap the old master just before the pivot.
func (e *Event) TruncateRRuleUntil(until time.Time, now time.Time) {
	e.rrule = replaceUntil(e.rrule, until)
	e.dtstamp = now
	e.localModifiedAt = now
	e.sequence++
	e.Touch()
}

func replaceUntil(rrule string, until time.Time) string {
	parts := strings.Split(rrule, ";")
	out := make([]string, 0, len(parts)+1)
	found := false
	stamp := until.UTC().Format("20060102T150405Z")
	for _, p := range parts {
		if strings.HasPrefix(strings.ToUpper(p), "UNTIL=") {
			out = append(out, "UNTIL="+stamp)
			found = true
			continue
		}
		if strings.HasPrefix(strings.ToUpper(p), "COUNT=") {
			continue // UNTIL and COUNT are mutually exclusive in RFC 5545
		}
		out = append(out, p)
	}
	if !found {
		out = append(out, "UNTIL="+stamp)
	}
	return strings.Join(out, ";")
}

// TransitionOnUpdate applies the SyncStatus state table for a
// local update and returns whether an UPDATE operation should be queued.
func (e *Event) TransitionOnUpdate(onLocalCalendar bool, now time.Time) (queueUpdate bool) {
	next := e.syncStatus.NextOnUpdate(onLocalCalendar)
	prev := e.syncStatus
	e.syncStatus = next
	e.Touch()
	return prev != SyncStatusPendingCreate && next != SyncStatusSynced
}

// TransitionOnDelete applies the SyncStatus state table for a local delete.
func (e *Event) TransitionOnDelete(onLocalCalendar bool) (next SyncStatus, hardDelete bool) {
	next, hardDelete = e.syncStatus.NextOnDelete(onLocalCalendar)
	e.syncStatus = next
	e.Touch()
	return
}

// CaptureServerURLForDelete snapshots the current serverURL for a queued
// DELETE/MOVE operation.
func (e *Event) CaptureServerURLForDelete() string { return e.serverURL }

// ClearServerIdentity drops serverURL/etag, used when moving an event to a
// local calendar or re-issuing it as a fresh CREATE.
func (e *Event) ClearServerIdentity() {
	e.serverURL = ""
	e.etag = ""
	e.Touch()
}

// MarkPushedCreate records a successful CREATE push: PENDING_CREATE → SYNCED
// with the server-assigned identity persisted.
func (e *Event) MarkPushedCreate(serverURL, etag string, now time.Time) {
	e.serverURL = serverURL
	e.etag = etag
	e.syncStatus = SyncStatusSynced
	e.retryCount = 0
	e.lastSyncError = ""
	e.serverModifiedAt = now
	e.Touch()
}

// MarkPushedUpdate records a successful UPDATE push: PENDING_UPDATE → SYNCED
// with a fresh ETag.
func (e *Event) MarkPushedUpdate(etag string, now time.Time) {
	e.etag = etag
	e.syncStatus = SyncStatusSynced
	e.retryCount = 0
	e.lastSyncError = ""
	e.serverModifiedAt = now
	e.Touch()
}

// MoveTo reassigns this event to another calendar.
func (e *Event) MoveTo(calendarID uuid.UUID) {
	e.calendarID = calendarID
	e.Touch()
}

// ApplyPulledBody replaces the event's content fields with a server-side
// version fetched during pull, preserving
// identity, sync bookkeeping fields the caller sets separately, and
// extension properties already round-tripped through EventFields.
// serverURL is stamped unconditionally — a no-op for an already-synced
// event, and how a newly pulled event acquires its identity.
func (e *Event) ApplyPulledBody(f EventFields, serverURL, etag string, serverModifiedAt time.Time) {
	e.ApplyFields(f, serverModifiedAt)
	e.serverURL = serverURL
	e.etag = etag
	e.serverModifiedAt = serverModifiedAt
	e.syncStatus = SyncStatusSynced
	e.Touch()
}

// RehydrateEvent recreates an Event from persisted state without recording
// domain events or bumping sequence/dtstamp.
func RehydrateEvent(
	id uuid.UUID,
	uid string,
	calendarID uuid.UUID,
	title, location, description string,
	startTs, endTs int64,
	timezone string,
	allDay bool,
	status EventStatus,
	transparency Transparency,
	classification Classification,
	organizer string,
	rrule string,
	rdate, exdate []time.Time,
	duration time.Duration,
	originalEventID *uuid.UUID,
	originalInstanceTime *time.Time,
	dtstamp time.Time,
	reminders []string,
	extra map[string]string,
	categories []string,
	priority int,
	url, color string,
	geo *GeoPoint,
	serverURL, etag string,
	sequence int,
	syncStatus SyncStatus,
	retryCount int,
	lastSyncError string,
	localModifiedAt, serverModifiedAt time.Time,
	createdAt, updatedAt time.Time,
	version int,
) *Event {
	entity := sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt)
	if extra == nil {
		extra = make(map[string]string)
	}
	return &Event{
		BaseAggregateRoot: sharedDomain.RehydrateBaseAggregateRoot(entity, version),
		uid: uid,
		calendarID: calendarID,
		title: title,
		location: location,
		description: description,
		startTs: startTs,
		endTs: endTs,
		timezone: timezone,
		allDay: allDay,
		status: status,
		transparency: transparency,
		classification: classification,
		organizer: organizer,
		rrule: rrule,
		rdate: rdate,
		exdate: exdate,
		duration: duration,
		originalEventID: originalEventID,
		originalInstanceTime: originalInstanceTime,
		dtstamp: dtstamp,
		reminders: reminders,
		extra: extra,
		categories: categories,
		priority: priority,
		url: url,
		color: color,
		geo: geo,
		serverURL: serverURL,
		etag: etag,
		sequence: sequence,
		syncStatus: syncStatus,
		retryCount: retryCount,
		lastSyncError: lastSyncError,
		localModifiedAt: localModifiedAt,
		serverModifiedAt: serverModifiedAt,
	}
}

// EventRepository is the port for Event persistence. Queries
// beyond plain CRUD support the Pull/Push strategies and the Occurrence
// Engine without requiring them to load whole calendars.
type EventRepository interface {
	Save(ctx context.Context, event *Event) error
	FindByID(ctx context.Context, id uuid.UUID) (*Event, error)
	// FindBatchByIDs loads many events in one round trip.
	FindBatchByIDs(ctx context.Context, ids []uuid.UUID) ([]*Event, error)
	FindByCalendar(ctx context.Context, calendarID uuid.UUID) ([]*Event, error)
	FindByUID(ctx context.Context, calendarID uuid.UUID, uid string) (*Event, error)
	FindExceptions(ctx context.Context, masterID uuid.UUID) ([]*Event, error)
	FindExceptionByInstanceTime(ctx context.Context, masterID uuid.UUID, occurrenceTime time.Time) (*Event, error)
	FindByServerURL(ctx context.Context, calendarID uuid.UUID, serverURL string) (*Event, error)
	// ServerURLIndex returns the full local (serverURL -> etag) map for a
	// calendar, used to diff against the server listing.
	ServerURLIndex(ctx context.Context, calendarID uuid.UUID) (map[string]string, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
