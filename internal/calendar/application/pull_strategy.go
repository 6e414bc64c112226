package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kashcal/synccore/internal/calendar/domain"
)

// PullStrategy discovers server-side changes for one calendar and
// reconciles them into the local store, preserving any local change not
// yet pushed.
type PullStrategy struct {
	eventRepo domain.EventRepository
	calendarRepo domain.CalendarRepository
	occurrences *OccurrenceEngine
	client CalDAVClient
	codec ICalCodec
	clock domain.Clock
	logger *slog.Logger
}

// NewPullStrategy creates a PullStrategy.
func NewPullStrategy(
	eventRepo domain.EventRepository,
	calendarRepo domain.CalendarRepository,
	occurrences *OccurrenceEngine,
	client CalDAVClient,
	codec ICalCodec,
	clock domain.Clock,
	logger *slog.Logger,
) *PullStrategy {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PullStrategy{
		eventRepo: eventRepo,
		calendarRepo: calendarRepo,
		occurrences: occurrences,
		client: client,
		codec: codec,
		clock: clock,
		logger: logger,
	}
}

// SyncCalendar compares the caller-supplied remote.Ctag with the calendar's
// stored ctag; if both are equal and non-empty, it is a no-op. Otherwise it lists remote resources, diffs them against the local
// (serverUrl -> etag) index, and reconciles added/changed/missing entries.
// Ctag is saved last, after every resource has been reconciled.
func (p *PullStrategy) SyncCalendar(ctx context.Context, calendar *domain.Calendar, remote RemoteCalendar) error {
	if remote.Ctag != "" && remote.Ctag == calendar.Ctag() {
		return nil
	}

	resources, err := p.client.ListResources(ctx, calendar.ServerURL())
	if err != nil {
		return fmt.Errorf("list resources: %w", err)
	}

	localIndex, err := p.eventRepo.ServerURLIndex(ctx, calendar.ID())
	if err != nil {
		return fmt.Errorf("load local server-url index: %w", err)
	}

	remoteByURL := make(map[string]RemoteResource, len(resources))
	for _, r := range resources {
		remoteByURL[r.URL] = r
	}

	for _, r := range resources {
		localETag, known := localIndex[r.URL]
		switch {
		case !known:
			if err := p.reconcileResource(ctx, calendar, r); err != nil {
				return fmt.Errorf("reconcile added resource %s: %w", r.URL, err)
			}
		case localETag != r.ETag:
			if err := p.reconcileResource(ctx, calendar, r); err != nil {
				return fmt.Errorf("reconcile changed resource %s: %w", r.URL, err)
			}
		}
	}

	for url := range localIndex {
		if _, stillPresent := remoteByURL[url]; stillPresent {
			continue
		}
		if err := p.reconcileMissing(ctx, calendar, url); err != nil {
			return fmt.Errorf("reconcile missing resource %s: %w", url, err)
		}
	}

	calendar.UpdateCtag(remote.Ctag)
	return p.calendarRepo.Save(ctx, calendar)
}

// reconcileResource fetches and decodes one changed or newly-seen resource,
// then applies the two-pass master/exception reconciliation.
func (p *PullStrategy) reconcileResource(ctx context.Context, calendar *domain.Calendar, resource RemoteResource) error {
	obj, err := p.client.GetResource(ctx, resource.URL)
	if err != nil {
		return fmt.Errorf("fetch resource: %w", err)
	}

	parsed, err := p.codec.Decode(obj.Body)
	if err != nil {
		return fmt.Errorf("decode resource: %w", err)
	}

	now := p.clock.Now()

	master, err := p.eventRepo.FindByUID(ctx, calendar.ID(), parsed.Master.UID)
	if err != nil {
		return fmt.Errorf("find master by uid: %w", err)
	}

	if master == nil {
		startTs, endTs := int64(0), int64(0)
		if parsed.Master.Fields.StartTs != nil {
			startTs = *parsed.Master.Fields.StartTs
		}
		if parsed.Master.Fields.EndTs != nil {
			endTs = *parsed.Master.Fields.EndTs
		}
		master, err = domain.NewMasterEvent(calendar.ID(), parsed.Master.UID, "", startTs, endTs, now, false)
		if err != nil {
			return fmt.Errorf("create pulled master: %w", err)
		}
		master.ApplyPulledBody(parsed.Master.Fields, resource.URL, resource.ETag, now)
	} else {
		if master.HasPendingChanges() {
			// Local-first wins until pushed.
			return nil
		}
		master.ApplyPulledBody(parsed.Master.Fields, resource.URL, resource.ETag, now)
	}

	if err := p.eventRepo.Save(ctx, master); err != nil {
		return fmt.Errorf("save pulled master: %w", err)
	}
	if err := p.occurrences.RegenerateOccurrences(ctx, master); err != nil {
		return fmt.Errorf("regenerate occurrences for pulled master: %w", err)
	}

	for _, comp := range parsed.Exceptions {
		if err := p.reconcileException(ctx, master, comp, now); err != nil {
			return fmt.Errorf("reconcile exception: %w", err)
		}
	}

	return nil
}

// reconcileException upserts one exception component keyed by
// (master UID, RECURRENCE-ID). A STATUS:CANCELLED exception is persisted as
// a cancelled exception row rather than folded into EXDATE, per this
// module's handling of an otherwise-unspecified case.
func (p *PullStrategy) reconcileException(ctx context.Context, master *domain.Event, comp ParsedComponent, now time.Time) error {
	if comp.OriginalInstanceTime == nil {
		p.logger.Warn("exception component missing RECURRENCE-ID, skipping",
			slog.String("uid", comp.UID))
		return nil
	}
	instant := *comp.OriginalInstanceTime

	exception, err := p.eventRepo.FindExceptionByInstanceTime(ctx, master.ID(), instant)
	if err != nil {
		return fmt.Errorf("find existing exception: %w", err)
	}

	if exception != nil && exception.HasPendingChanges() {
		return nil
	}

	if exception == nil {
		startTs, endTs := instant.UnixMilli(), instant.UnixMilli()
		if comp.Fields.StartTs != nil {
			startTs = *comp.Fields.StartTs
		}
		if comp.Fields.EndTs != nil {
			endTs = *comp.Fields.EndTs
		}
		exception, err = domain.NewExceptionEvent(master, instant, startTs, endTs, now)
		if err != nil {
			return fmt.Errorf("create exception: %w", err)
		}
	}
	exception.ApplyPulledBody(comp.Fields, "", "", now)

	if err := p.eventRepo.Save(ctx, exception); err != nil {
		return fmt.Errorf("save exception: %w", err)
	}

	startDay := dayCode(time.UnixMilli(exception.StartTs()), exception.AllDay(), exception.Timezone())
	endDay := dayCode(time.UnixMilli(exception.EndTs()), exception.AllDay(), exception.Timezone())
	if err := p.occurrences.LinkException(ctx, master.ID(), instant, exception.ID(), exception.StartTs(), exception.EndTs(), startDay, endDay); err != nil {
		return fmt.Errorf("link exception: %w", err)
	}

	if comp.IsCancelledException {
		if err := p.occurrences.CancelOccurrence(ctx, master.ID(), instant); err != nil {
			return fmt.Errorf("cancel occurrence: %w", err)
		}
	}

	return nil
}

// reconcileMissing drops a local event whose resource has disappeared from
// the server, unless the local copy has an unpushed change.
func (p *PullStrategy) reconcileMissing(ctx context.Context, calendar *domain.Calendar, serverURL string) error {
	event, err := p.eventRepo.FindByServerURL(ctx, calendar.ID(), serverURL)
	if err != nil {
		return fmt.Errorf("find event by server url: %w", err)
	}
	if event == nil {
		return nil
	}
	if event.HasPendingChanges() {
		return nil
	}
	return p.eventRepo.Delete(ctx, event.ID())
}
