package application

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kashcal/synccore/internal/calendar/domain"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"
)

// DefaultExpansionWindow is the 730-day forward cap applied to a recurring
// series when no COUNT/UNTIL ends it sooner.
const DefaultExpansionWindow = 730 * 24 * time.Hour

// ExdateToleranceMs is the 60-second DST-edge tolerance used throughout
// §4.2 for matching an instance time against EXDATE/linkException targets.
const ExdateToleranceMs = int64(60_000)

// OccurrenceEngine expands a master Event's RRULE/RDATE/EXDATE into
// materialized Occurrence rows. Grounded on
// _examples/sonroyaalmerol-ldap-dav's RecurrenceExpander, which has the
// identical StrToRRule + Between + filterExcludedDates + overlap-filter
// shape; this engine additionally persists the result and preserves
// exception links/cancellations across regeneration, which that reference
// file — a stateless one-shot expander — has no need to do.
type OccurrenceEngine struct {
	occRepo domain.OccurrenceRepository
	eventRepo domain.EventRepository
}

// NewOccurrenceEngine creates an OccurrenceEngine.
func NewOccurrenceEngine(occRepo domain.OccurrenceRepository, eventRepo domain.EventRepository) *OccurrenceEngine {
	return &OccurrenceEngine{occRepo: occRepo, eventRepo: eventRepo}
}

// RegenerateOccurrences clears and recomputes occurrences within the
// default 730-day window, preserving exception links and cancellations.
func (e *OccurrenceEngine) RegenerateOccurrences(ctx context.Context, event *domain.Event) error {
	rangeStart := event.StartTs()
	rangeEnd := rangeStart + DefaultExpansionWindow.Milliseconds()
	_, err := e.regenerate(ctx, event, rangeStart, rangeEnd)
	return err
}

// GenerateOccurrences clears and recomputes occurrences within an explicit
// window, returning the number of rows written.
func (e *OccurrenceEngine) GenerateOccurrences(ctx context.Context, event *domain.Event, rangeStart, rangeEnd int64) (int, error) {
	return e.regenerate(ctx, event, rangeStart, rangeEnd)
}

// ExtendOccurrences appends occurrences from the current max start time to
// targetTs, without touching any existing row. A no-op for non-recurring
// events.
func (e *OccurrenceEngine) ExtendOccurrences(ctx context.Context, event *domain.Event, targetTs int64) error {
	if !event.IsRecurring() {
		return nil
	}

	maxTs, ok, err := e.occRepo.MaxStartTs(ctx, event.ID())
	if err != nil {
		return fmt.Errorf("find max occurrence start: %w", err)
	}
	rangeStart := event.StartTs()
	if ok {
		rangeStart = maxTs + 1
	}
	if rangeStart >= targetTs {
		return nil
	}

	instants, err := computeInstances(event, rangeStart, targetTs)
	if err != nil {
		return err
	}
	if len(instants) == 0 {
		return nil
	}

	excByInstant, err := e.exceptionsByInstant(ctx, event.ID())
	if err != nil {
		return err
	}

	fresh := e.buildOccurrences(event, instants, excByInstant, nil)
	return e.occRepo.SaveBatch(ctx, fresh)
}

// LinkException atomically links an exception Event to the occurrence row
// it replaces, matching either by the 60-second tolerance around
// occurrenceTime or by an already-set exceptionEventId (handles re-edits
// where the occurrence's stored time has already shifted). Idempotent.
func (e *OccurrenceEngine) LinkException(
	ctx context.Context,
	masterID uuid.UUID,
	occurrenceTime time.Time,
	exceptionEventID uuid.UUID,
	newStart, newEnd int64,
	newStartDay, newEndDay int,
) error {
	occ, err := e.occRepo.FindNearTime(ctx, masterID, occurrenceTime.UnixMilli(), ExdateToleranceMs)
	if err != nil {
		return fmt.Errorf("find occurrence near time: %w", err)
	}
	if occ == nil {
		occ, err = e.occRepo.FindByExceptionEventID(ctx, exceptionEventID)
		if err != nil {
			return fmt.Errorf("find occurrence by exception: %w", err)
		}
	}
	if occ == nil {
		return domain.ErrOccurrenceNotFound
	}

	occ.LinkException(exceptionEventID, newStart, newEnd, newStartDay, newEndDay)
	return e.occRepo.SaveBatch(ctx, []*domain.Occurrence{occ})
}

// CancelOccurrence sets isCancelled = true on the occurrence matching
// occurrenceTime within the 60-second tolerance.
func (e *OccurrenceEngine) CancelOccurrence(ctx context.Context, masterID uuid.UUID, occurrenceTime time.Time) error {
	occ, err := e.occRepo.FindNearTime(ctx, masterID, occurrenceTime.UnixMilli(), ExdateToleranceMs)
	if err != nil {
		return fmt.Errorf("find occurrence near time: %w", err)
	}
	if occ == nil {
		return domain.ErrOccurrenceNotFound
	}
	occ.Cancel()
	return e.occRepo.SaveBatch(ctx, []*domain.Occurrence{occ})
}

// UncancelOccurrence is the symmetric counterpart to CancelOccurrence.
func (e *OccurrenceEngine) UncancelOccurrence(ctx context.Context, masterID uuid.UUID, occurrenceTime time.Time) error {
	occ, err := e.occRepo.FindNearTime(ctx, masterID, occurrenceTime.UnixMilli(), ExdateToleranceMs)
	if err != nil {
		return fmt.Errorf("find occurrence near time: %w", err)
	}
	if occ == nil {
		return domain.ErrOccurrenceNotFound
	}
	occ.Uncancel()
	return e.occRepo.SaveBatch(ctx, []*domain.Occurrence{occ})
}

func (e *OccurrenceEngine) regenerate(ctx context.Context, event *domain.Event, rangeStart, rangeEnd int64) (int, error) {
	existing, err := e.occRepo.FindByEvent(ctx, event.ID())
	if err != nil {
		return 0, fmt.Errorf("load existing occurrences: %w", err)
	}

	cancelled := make(map[int64]struct{})
	for _, occ := range existing {
		if occ.ExceptionEventID() == nil && occ.IsCancelled() {
			cancelled[occ.StartTs()] = struct{}{}
		}
	}

	excByInstant, err := e.exceptionsByInstant(ctx, event.ID())
	if err != nil {
		return 0, err
	}

	if err := e.occRepo.DeleteByEvent(ctx, event.ID()); err != nil {
		return 0, fmt.Errorf("clear existing occurrences: %w", err)
	}

	instants, err := computeInstances(event, rangeStart, rangeEnd)
	if err != nil {
		return 0, err
	}

	fresh := e.buildOccurrences(event, instants, excByInstant, cancelled)
	if err := e.occRepo.SaveBatch(ctx, fresh); err != nil {
		return 0, fmt.Errorf("save occurrences: %w", err)
	}
	return len(fresh), nil
}

// exceptionsByInstant loads every exception Event for a master and indexes
// it by its originalInstanceTime, the RECURRENCE-ID this exception replaces
// — the stable key that survives an exception's own timing shift.
func (e *OccurrenceEngine) exceptionsByInstant(ctx context.Context, masterID uuid.UUID) (map[int64]*domain.Event, error) {
	exceptions, err := e.eventRepo.FindExceptions(ctx, masterID)
	if err != nil {
		return nil, fmt.Errorf("load exceptions: %w", err)
	}
	byInstant := make(map[int64]*domain.Event, len(exceptions))
	for _, exc := range exceptions {
		if exc.OriginalInstanceTime() == nil {
			continue
		}
		byInstant[exc.OriginalInstanceTime().UnixMilli()] = exc
	}
	return byInstant, nil
}

func (e *OccurrenceEngine) buildOccurrences(
	event *domain.Event,
	instants []int64,
	excByInstant map[int64]*domain.Event,
	cancelled map[int64]struct{},
) []*domain.Occurrence {
	duration := event.EndTs() - event.StartTs()
	fresh := make([]*domain.Occurrence, 0, len(instants))
	for _, ms := range instants {
		startTs := ms
		endTs := ms + duration
		startDay := dayCode(time.UnixMilli(startTs), event.AllDay(), event.Timezone())
		endDay := dayCode(time.UnixMilli(endTs), event.AllDay(), event.Timezone())
		occ := domain.NewOccurrence(event.ID(), event.CalendarID(), startTs, endTs, startDay, endDay)

		if exc, ok := matchInstant(excByInstant, ms); ok {
			occ.LinkException(exc.ID(), exc.StartTs(), exc.EndTs(),
				dayCode(time.UnixMilli(exc.StartTs()), exc.AllDay(), exc.Timezone()),
				dayCode(time.UnixMilli(exc.EndTs()), exc.AllDay(), exc.Timezone()),
			)
		} else if matchCancelled(cancelled, ms) {
			occ.Cancel()
		}
		fresh = append(fresh, occ)
	}
	return fresh
}

// computeInstances runs seed/union/subtract/dedup/boundary, returning
// surviving instance start times in ascending order.
func computeInstances(event *domain.Event, rangeStart, rangeEnd int64) ([]int64, error) {
	var instants []int64

	if event.RRule() != "" {
		dtstart := time.UnixMilli(event.StartTs()).UTC()
		rruleStr := fmt.Sprintf("DTSTART:%s\nRRULE:%s", dtstart.Format("20060102T150405Z"), event.RRule())
		rule, err := rrule.StrToRRule(rruleStr)
		if err != nil {
			return nil, fmt.Errorf("invalid RRULE: %w", err)
		}

		windowCap := dtstart.Add(DefaultExpansionWindow)
		windowEnd := time.UnixMilli(rangeEnd).UTC()
		if windowEnd.After(windowCap) {
			windowEnd = windowCap
		}
		windowStart := time.UnixMilli(rangeStart).UTC()

		for _, t := range rule.Between(windowStart, windowEnd, true) {
			instants = append(instants, t.UnixMilli())
		}
	} else {
		instants = append(instants, event.StartTs())
	}

	for _, rd := range event.RDate() {
		instants = append(instants, rd.UnixMilli())
	}

	instants = dedupeInstants(instants)
	instants = subtractEXDate(instants, event.EXDate(), event.AllDay())

	filtered := instants[:0]
	for _, ms := range instants {
		if ms >= rangeStart && ms < rangeEnd {
			filtered = append(filtered, ms)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i] < filtered[j] })
	return filtered, nil
}

func dedupeInstants(instants []int64) []int64 {
	seen := make(map[int64]struct{}, len(instants))
	out := instants[:0]
	for _, ms := range instants {
		if _, ok := seen[ms]; ok {
			continue
		}
		seen[ms] = struct{}{}
		out = append(out, ms)
	}
	return out
}

// subtractEXDate removes instance times matching an EXDATE, using a
// 60-second tolerance window for timed events and date-code equality (UTC)
// for all-day events.
func subtractEXDate(instants []int64, exdates []time.Time, allDay bool) []int64 {
	if len(exdates) == 0 {
		return instants
	}
	if allDay {
		excluded := make(map[int]struct{}, len(exdates))
		for _, ex := range exdates {
			excluded[dayCodeUTC(ex)] = struct{}{}
		}
		out := instants[:0]
		for _, ms := range instants {
			if _, bad := excluded[dayCodeUTC(time.UnixMilli(ms))]; bad {
				continue
			}
			out = append(out, ms)
		}
		return out
	}

	exMs := make([]int64, len(exdates))
	for i, ex := range exdates {
		exMs[i] = ex.UnixMilli()
	}
	out := instants[:0]
	for _, ms := range instants {
		excluded := false
		for _, ex := range exMs {
			if abs64(ms-ex) < ExdateToleranceMs {
				excluded = true
				break
			}
		}
		if !excluded {
			out = append(out, ms)
		}
	}
	return out
}

func matchInstant(m map[int64]*domain.Event, ms int64) (*domain.Event, bool) {
	for k, v := range m {
		if abs64(ms-k) < ExdateToleranceMs {
			return v, true
		}
	}
	return nil, false
}

func matchCancelled(set map[int64]struct{}, ms int64) bool {
	for k := range set {
		if abs64(ms-k) < ExdateToleranceMs {
			return true
		}
	}
	return false
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// dayCode derives the YYYYMMDD code used for all-day comparisons: UTC day for
// all-day events, the event's own IANA-timezone day for timed events
// (falling back to UTC for floating/unset timezones or an unrecognized
// IANA name).
func dayCode(t time.Time, allDay bool, tzName string) int {
	if allDay {
		return dayCodeUTC(t)
	}
	loc := time.UTC
	if tzName != "" {
		if l, err := time.LoadLocation(tzName); err == nil {
			loc = l
		}
	}
	lt := t.In(loc)
	return lt.Year()*10000 + int(lt.Month())*100 + lt.Day()
}

func dayCodeUTC(t time.Time) int {
	u := t.UTC()
	return u.Year()*10000 + int(u.Month())*100 + u.Day()
}
