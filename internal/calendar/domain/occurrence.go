package domain

import (
	"context"
	"time"

	sharedDomain "github.com/kashcal/synccore/internal/shared/domain"
	"github.com/google/uuid"
)

// Occurrence is a materialized expansion row for O(1) range queries. It is a plain entity, not an aggregate root: it is a derived
// projection regenerated wholesale by the Occurrence Engine, never
// independently mutated by a caller outside that engine.
type Occurrence struct {
	sharedDomain.BaseEntity
	eventID uuid.UUID // always the master, even for exception-linked rows
	calendarID uuid.UUID // denormalized; updated on MOVE
	startTs int64
	endTs int64
	startDay int // YYYYMMDD
	endDay int // YYYYMMDD
	isCancelled bool
	exceptionEventID *uuid.UUID
}

// NewOccurrence creates a new occurrence row.
func NewOccurrence(eventID, calendarID uuid.UUID, startTs, endTs int64, startDay, endDay int) *Occurrence {
	return &Occurrence{
		BaseEntity: sharedDomain.NewBaseEntity(),
		eventID: eventID,
		calendarID: calendarID,
		startTs: startTs,
		endTs: endTs,
		startDay: startDay,
		endDay: endDay,
	}
}

// Getters.
func (o *Occurrence) EventID() uuid.UUID { return o.eventID }
func (o *Occurrence) CalendarID() uuid.UUID { return o.calendarID }
func (o *Occurrence) StartTs() int64 { return o.startTs }
func (o *Occurrence) EndTs() int64 { return o.endTs }
func (o *Occurrence) StartDay() int { return o.startDay }
func (o *Occurrence) EndDay() int { return o.endDay }
func (o *Occurrence) IsCancelled() bool { return o.isCancelled }
func (o *Occurrence) ExceptionEventID() *uuid.UUID { return o.exceptionEventID }

// OverlapsRange reports whether the occurrence overlaps [rangeStart,
// rangeEnd], both ends inclusive, using the range-query filter:
// endTs >= rangeStart AND startTs <= rangeEnd AND NOT isCancelled.
func (o *Occurrence) OverlapsRange(rangeStart, rangeEnd int64) bool {
	if o.isCancelled {
		return false
	}
	return o.endTs >= rangeStart && o.startTs <= rangeEnd
}

// LinkException rewrites this occurrence's timing to the exception's values
// and links it, per the Occurrence Engine's linkException:
// "update exceptionEventId, shift start_ts/end_ts/start_day/end_day to the
// exception's values, clear isCancelled."
func (o *Occurrence) LinkException(exceptionEventID uuid.UUID, startTs, endTs int64, startDay, endDay int) {
	id := exceptionEventID
	o.exceptionEventID = &id
	o.startTs = startTs
	o.endTs = endTs
	o.startDay = startDay
	o.endDay = endDay
	o.isCancelled = false
	o.Touch()
}

// UnlinkException reverts the occurrence to the master's own timing,
// mirroring the store's set-null-on-exception-delete FK behavior for
// callers constructing the in-memory view before the row is re-read.
func (o *Occurrence) UnlinkException(startTs, endTs int64, startDay, endDay int) {
	o.exceptionEventID = nil
	o.startTs = startTs
	o.endTs = endTs
	o.startDay = startDay
	o.endDay = endDay
	o.Touch()
}

// Cancel sets isCancelled = true (EXDATE applied).
func (o *Occurrence) Cancel() {
	o.isCancelled = true
	o.Touch()
}

// Uncancel clears isCancelled, the symmetric counterpart to Cancel.
func (o *Occurrence) Uncancel() {
	o.isCancelled = false
	o.Touch()
}

// MoveToCalendar updates the denormalized calendarID, used when the owning
// event is moved to another calendar.
func (o *Occurrence) MoveToCalendar(calendarID uuid.UUID) {
	o.calendarID = calendarID
	o.Touch()
}

// RehydrateOccurrence recreates an Occurrence from persisted data.
func RehydrateOccurrence(
	id, eventID, calendarID uuid.UUID,
	startTs, endTs int64,
	startDay, endDay int,
	isCancelled bool,
	exceptionEventID *uuid.UUID,
	createdAt, updatedAt time.Time,
) *Occurrence {
	return &Occurrence{
		BaseEntity: sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt),
		eventID: eventID,
		calendarID: calendarID,
		startTs: startTs,
		endTs: endTs,
		startDay: startDay,
		endDay: endDay,
		isCancelled: isCancelled,
		exceptionEventID: exceptionEventID,
	}
}

// OccurrenceRepository is the port for Occurrence persistence.
type OccurrenceRepository interface {
	SaveBatch(ctx context.Context, occurrences []*Occurrence) error
	// DeleteByEvent clears every occurrence row for a master, used before
	// regeneration.
	DeleteByEvent(ctx context.Context, eventID uuid.UUID) error
	FindByEvent(ctx context.Context, eventID uuid.UUID) ([]*Occurrence, error)
	// FindInRange returns occurrences overlapping [rangeStart, rangeEnd] for
	// a calendar in one O(1)-per-row range query.
	FindInRange(ctx context.Context, calendarID uuid.UUID, rangeStart, rangeEnd int64) ([]*Occurrence, error)
	// FindByExceptionEventID finds the occurrence row linked to a given
	// exception, used by linkException's re-edit detection.
	FindByExceptionEventID(ctx context.Context, exceptionEventID uuid.UUID) (*Occurrence, error)
	// FindNearTime finds an occurrence of eventID within the 60-second DST
	// tolerance of occurrenceTime.
	FindNearTime(ctx context.Context, eventID uuid.UUID, occurrenceTime int64, toleranceMs int64) (*Occurrence, error)
	MaxStartTs(ctx context.Context, eventID uuid.UUID) (int64, bool, error)
}
