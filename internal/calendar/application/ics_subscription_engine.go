package application

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/kashcal/synccore/internal/calendar/domain"
)

// ICSSubscriptionEngine syncs a read-only ICS feed: conditional GET,
// two-pass master/exception reconciliation keyed by importId, and orphan
// removal. Feeds never produce PendingOperations.
type ICSSubscriptionEngine struct {
	eventRepo domain.EventRepository
	calendarRepo domain.CalendarRepository
	reminderRepo domain.ScheduledReminderRepository
	reminders ReminderSink
	occurrences *OccurrenceEngine
	client ICSClient
	codec ICalCodec
	clock domain.Clock
	logger *slog.Logger
}

// NewICSSubscriptionEngine creates an ICSSubscriptionEngine.
func NewICSSubscriptionEngine(
	eventRepo domain.EventRepository,
	calendarRepo domain.CalendarRepository,
	reminderRepo domain.ScheduledReminderRepository,
	reminders ReminderSink,
	occurrences *OccurrenceEngine,
	client ICSClient,
	codec ICalCodec,
	clock domain.Clock,
	logger *slog.Logger,
) *ICSSubscriptionEngine {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ICSSubscriptionEngine{
		eventRepo: eventRepo,
		calendarRepo: calendarRepo,
		reminderRepo: reminderRepo,
		reminders: reminders,
		occurrences: occurrences,
		client: client,
		codec: codec,
		clock: clock,
		logger: logger,
	}
}

// importID derives the stable key used to match feed components against
// local rows: the UID for a master, or "UID:RECID:<epoch-ms>" for an
// exception.
func importID(uid string, originalInstanceTime *time.Time) string {
	if originalInstanceTime == nil {
		return uid
	}
	return uid + ":RECID:" + strconv.FormatInt(originalInstanceTime.UnixMilli(), 10)
}

// SyncFeed performs a conditional GET against calendar's feed URL. On 304
// it leaves the feed's events alone and only refreshes the freshness cursor
// (from any ETag/Last-Modified the response carried) and the calendar's
// updatedAt. On 200 it parses the full feed,
// reconciles every master/exception pair into the local store, and removes
// local events absent from the feed after cancelling their reminders.
func (e *ICSSubscriptionEngine) SyncFeed(ctx context.Context, calendar *domain.Calendar, feedURL string) error {
	result, err := e.client.Fetch(ctx, feedURL, calendar.SyncToken(), calendar.Ctag())
	if err != nil {
		return fmt.Errorf("fetch feed: %w", err)
	}

	if result.NotModified {
		if result.ETag != "" {
			calendar.UpdateSyncToken(result.ETag)
		}
		if result.LastModified != "" {
			calendar.UpdateCtag(result.LastModified)
		}
		calendar.Touch()
		return e.calendarRepo.Save(ctx, calendar)
	}

	resources, err := e.codec.DecodeFeed(result.Body)
	if err != nil {
		return fmt.Errorf("decode feed: %w", err)
	}

	seen := make(map[string]bool)
	now := e.clock.Now()

	for _, resource := range resources {
		masterImportID := importID(resource.Master.UID, nil)
		seen[masterImportID] = true

		master, err := e.reconcileMaster(ctx, calendar, resource.Master, now)
		if err != nil {
			e.logger.Warn("skipping feed master that failed to reconcile",
				slog.String("uid", resource.Master.UID),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, comp := range resource.Exceptions {
			if comp.OriginalInstanceTime == nil {
				continue
			}
			seen[importID(comp.UID, comp.OriginalInstanceTime)] = true
			if err := e.reconcileException(ctx, master, comp, now); err != nil {
				e.logger.Warn("skipping feed exception that failed to reconcile",
					slog.String("uid", comp.UID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if err := e.removeOrphans(ctx, calendar, seen); err != nil {
		return fmt.Errorf("remove orphans: %w", err)
	}

	calendar.UpdateSyncToken(result.ETag)
	calendar.UpdateCtag(result.LastModified)
	return e.calendarRepo.Save(ctx, calendar)
}

func (e *ICSSubscriptionEngine) reconcileMaster(ctx context.Context, calendar *domain.Calendar, comp ParsedComponent, now time.Time) (*domain.Event, error) {
	master, err := e.eventRepo.FindByUID(ctx, calendar.ID(), comp.UID)
	if err != nil {
		return nil, fmt.Errorf("find master by uid: %w", err)
	}

	if master == nil {
		startTs, endTs := int64(0), int64(0)
		if comp.Fields.StartTs != nil {
			startTs = *comp.Fields.StartTs
		}
		if comp.Fields.EndTs != nil {
			endTs = *comp.Fields.EndTs
		}
		master, err = domain.NewMasterEvent(calendar.ID(), comp.UID, "", startTs, endTs, now, true)
		if err != nil {
			return nil, fmt.Errorf("create feed master: %w", err)
		}
	}

	// Subscriptions are read-only: there is no local-first-wins check here,
	// the feed always wins.
	master.ApplyPulledBody(comp.Fields, "", "", now)

	if err := e.eventRepo.Save(ctx, master); err != nil {
		return nil, fmt.Errorf("save feed master: %w", err)
	}
	if err := e.occurrences.RegenerateOccurrences(ctx, master); err != nil {
		return nil, fmt.Errorf("regenerate occurrences: %w", err)
	}
	return master, nil
}

func (e *ICSSubscriptionEngine) reconcileException(ctx context.Context, master *domain.Event, comp ParsedComponent, now time.Time) error {
	instant := *comp.OriginalInstanceTime

	exception, err := e.eventRepo.FindExceptionByInstanceTime(ctx, master.ID(), instant)
	if err != nil {
		return fmt.Errorf("find existing exception: %w", err)
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
			return fmt.Errorf("create feed exception: %w", err)
		}
	}
	exception.ApplyPulledBody(comp.Fields, "", "", now)

	if err := e.eventRepo.Save(ctx, exception); err != nil {
		return fmt.Errorf("save feed exception: %w", err)
	}

	startDay := dayCode(time.UnixMilli(exception.StartTs()), exception.AllDay(), exception.Timezone())
	endDay := dayCode(time.UnixMilli(exception.EndTs()), exception.AllDay(), exception.Timezone())
	if err := e.occurrences.LinkException(ctx, master.ID(), instant, exception.ID(), exception.StartTs(), exception.EndTs(), startDay, endDay); err != nil {
		return fmt.Errorf("link exception: %w", err)
	}

	if comp.IsCancelledException {
		if err := e.occurrences.CancelOccurrence(ctx, master.ID(), instant); err != nil {
			return fmt.Errorf("cancel occurrence: %w", err)
		}
	}
	return nil
}

// removeOrphans deletes every local event on calendar whose importId is not
// in seen, cancelling its reminders first.
func (e *ICSSubscriptionEngine) removeOrphans(ctx context.Context, calendar *domain.Calendar, seen map[string]bool) error {
	events, err := e.eventRepo.FindByCalendar(ctx, calendar.ID())
	if err != nil {
		return fmt.Errorf("list calendar events: %w", err)
	}

	for _, event := range events {
		id := importID(event.UID(), event.OriginalInstanceTime())
		if seen[id] {
			continue
		}

		if e.reminders != nil {
			if err := e.reminders.CancelForEvent(ctx, event.ID()); err != nil {
				e.logger.Warn("failed to cancel alarms for orphaned feed event",
					slog.String("event_id", event.ID().String()),
					slog.String("error", err.Error()),
				)
			}
		}
		if e.reminderRepo != nil {
			if err := e.reminderRepo.DeleteByEvent(ctx, event.ID()); err != nil {
				return fmt.Errorf("cancel reminders for orphaned event %s: %w", event.ID(), err)
			}
		}
		if err := e.eventRepo.Delete(ctx, event.ID()); err != nil {
			return fmt.Errorf("delete orphaned event %s: %w", event.ID(), err)
		}
	}
	return nil
}
