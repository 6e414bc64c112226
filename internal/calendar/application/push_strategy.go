package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kashcal/synccore/internal/calendar/domain"
	"github.com/google/uuid"
)

// PushStrategy drains the pending-operation queue in FIFO order, serializes
// each master with its exceptions into one CalDAV resource, applies ETag
// preconditions, classifies transport errors, and updates sync status.
type PushStrategy struct {
	eventRepo domain.EventRepository
	calendarRepo domain.CalendarRepository
	occurrences *OccurrenceEngine
	queue *OperationQueueManager
	client CalDAVClient
	codec ICalCodec
	clock domain.Clock
	logger *slog.Logger
}

// NewPushStrategy creates a PushStrategy.
func NewPushStrategy(
	eventRepo domain.EventRepository,
	calendarRepo domain.CalendarRepository,
	occurrences *OccurrenceEngine,
	queue *OperationQueueManager,
	client CalDAVClient,
	codec ICalCodec,
	clock domain.Clock,
	logger *slog.Logger,
) *PushStrategy {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PushStrategy{
		eventRepo: eventRepo,
		calendarRepo: calendarRepo,
		occurrences: occurrences,
		queue: queue,
		client: client,
		codec: codec,
		clock: clock,
		logger: logger,
	}
}

// DrainAccount pulls up to limit globally-ready operations and dispatches
// the subset belonging to accountID, strictly FIFO, returning the number
// successfully completed. Operations are not account-scoped in the store, so
// this reads the full ready set and filters by each event's calendar's
// owning account — acceptable because accounts sync sequentially against
// their own mailbox and draining is cheap relative to the network calls it
// gates.
func (p *PushStrategy) DrainAccount(ctx context.Context, accountID uuid.UUID, limit int) (int, error) {
	now := p.clock.Now()
	ops, err := p.queue.GetReadyOperations(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("get ready operations: %w", err)
	}
	if len(ops) == 0 {
		return 0, nil
	}

	ids := make([]uuid.UUID, len(ops))
	for i, op := range ops {
		ids[i] = op.EventID()
	}
	events, err := p.eventRepo.FindBatchByIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("batch load events: %w", err)
	}
	byID := make(map[uuid.UUID]*domain.Event, len(events))
	for _, e := range events {
		byID[e.ID()] = e
	}

	calendarAccounts := make(map[uuid.UUID]uuid.UUID)
	completed := 0
	for _, op := range ops {
		event := byID[op.EventID()]
		if event == nil {
			// Event already gone locally; nothing left to push.
			if err := p.queue.Complete(ctx, op); err != nil {
				return completed, fmt.Errorf("complete orphaned operation: %w", err)
			}
			continue
		}

		owningAccount, err := p.accountIDFor(ctx, owningCalendarID(op, event), calendarAccounts)
		if err != nil {
			return completed, err
		}
		if owningAccount != accountID {
			continue
		}

		if event.IsException() {
			// Exceptions are never pushed individually — bundled with their
			// master's UPDATE.
			if err := p.queue.Complete(ctx, op); err != nil {
				return completed, fmt.Errorf("complete exception operation: %w", err)
			}
			continue
		}

		if err := p.queue.MarkInProgress(ctx, op); err != nil {
			return completed, fmt.Errorf("mark in progress: %w", err)
		}

		if err := p.dispatch(ctx, op, event); err != nil {
			p.logger.Warn("push dispatch failed",
				slog.String("event_id", event.ID().String()),
				slog.String("operation", string(op.Operation())),
				slog.String("error", err.Error()),
			)
			continue
		}
		// A retried, failed or phase-advanced op is still queued; only an op
		// the dispatch removed from the queue (still IN_PROGRESS here) counts.
		if op.Status() != domain.OperationInProgress {
			continue
		}
		completed++
	}

	return completed, nil
}

// owningCalendarID picks the calendar whose mailbox an operation belongs
// to. A DELETE (standalone, or a MOVE still in its delete phase) targets a
// server object that lives on op.SourceCalendarID(), which by drain time
// can differ from event.CalendarID() — MoveEventToCalendar rewrites the
// event onto its destination calendar in the same call that enqueues the
// delete-phase op, so by drain time the event has moved on. Falling back to event.CalendarID() keeps every
// other operation kind (and any op predating sourceCalendarID, e.g. a
// plain DELETE that never set it) working exactly as before.
func owningCalendarID(op *domain.PendingOperation, event *domain.Event) uuid.UUID {
	isDeletePhase := op.Operation() == domain.OperationDelete ||
		(op.Operation() == domain.OperationMove && op.MovePhase() == domain.MovePhaseDelete)
	if isDeletePhase && op.SourceCalendarID() != nil {
		return *op.SourceCalendarID()
	}
	return event.CalendarID()
}

func (p *PushStrategy) accountIDFor(ctx context.Context, calendarID uuid.UUID, cache map[uuid.UUID]uuid.UUID) (uuid.UUID, error) {
	if accID, ok := cache[calendarID]; ok {
		return accID, nil
	}
	cal, err := p.calendarRepo.FindByID(ctx, calendarID)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("find calendar: %w", err)
	}
	cache[calendarID] = cal.AccountID()
	return cal.AccountID(), nil
}

func (p *PushStrategy) dispatch(ctx context.Context, op *domain.PendingOperation, event *domain.Event) error {
	switch op.Operation() {
	case domain.OperationCreate:
		return p.dispatchCreate(ctx, op, event)
	case domain.OperationUpdate:
		return p.dispatchUpdate(ctx, op, event)
	case domain.OperationDelete:
		return p.dispatchDelete(ctx, op, event)
	case domain.OperationMove:
		return p.dispatchMove(ctx, op, event)
	default:
		return p.queue.MarkFailed(ctx, op, "unknown operation kind")
	}
}

// dispatchCreate serializes master+exceptions and PUTs with
// If-None-Match:*. On success the new (serverUrl, etag) is persisted on the
// master, and the same etag stamped on every exception.
func (p *PushStrategy) dispatchCreate(ctx context.Context, op *domain.PendingOperation, master *domain.Event) error {
	exceptions, err := p.eventRepo.FindExceptions(ctx, master.ID())
	if err != nil {
		return fmt.Errorf("load exceptions: %w", err)
	}
	body, err := p.codec.Encode(master, exceptions)
	if err != nil {
		return fmt.Errorf("encode resource: %w", err)
	}

	calendarURL, err := p.calendarURLFor(ctx, master.CalendarID())
	if err != nil {
		return err
	}

	serverURL, etag, err := p.client.CreateEvent(ctx, calendarURL, master.UID(), body)
	if err != nil {
		return p.handleTransportError(ctx, op, err)
	}

	now := p.clock.Now()
	master.MarkPushedCreate(serverURL, etag, now)
	if err := p.eventRepo.Save(ctx, master); err != nil {
		return fmt.Errorf("save pushed master: %w", err)
	}
	if err := p.stampExceptionETags(ctx, exceptions, etag); err != nil {
		return err
	}
	return p.queue.Complete(ctx, op)
}

// dispatchUpdate falls back to a CREATE-shaped push when the master has no
// serverUrl (never actually synced despite the operation kind), or when the
// server reports the resource no longer exists (404) — this module's
// resolution of that otherwise-unspecified case: a 404 never discards local
// data, it re-publishes it.
func (p *PushStrategy) dispatchUpdate(ctx context.Context, op *domain.PendingOperation, master *domain.Event) error {
	if master.ServerURL() == "" {
		return p.dispatchCreate(ctx, op, master)
	}

	exceptions, err := p.eventRepo.FindExceptions(ctx, master.ID())
	if err != nil {
		return fmt.Errorf("load exceptions: %w", err)
	}
	body, err := p.codec.Encode(master, exceptions)
	if err != nil {
		return fmt.Errorf("encode resource: %w", err)
	}

	etag, err := p.client.UpdateEvent(ctx, master.ServerURL(), body, master.ETag())
	if err != nil {
		var clientErr *ClientError
		if errors.As(err, &clientErr) && clientErr.Kind == ClientErrNotFound {
			master.ClearServerIdentity()
			return p.dispatchCreate(ctx, op, master)
		}
		return p.handleTransportError(ctx, op, err)
	}

	now := p.clock.Now()
	master.MarkPushedUpdate(etag, now)
	if err := p.eventRepo.Save(ctx, master); err != nil {
		return fmt.Errorf("save pushed master: %w", err)
	}
	if err := p.stampExceptionETags(ctx, exceptions, etag); err != nil {
		return err
	}
	return p.queue.Complete(ctx, op)
}

// dispatchDelete drops the operation without a network call when the event
// was never synced, else DELETEs; a 404 is treated as already-gone success.
func (p *PushStrategy) dispatchDelete(ctx context.Context, op *domain.PendingOperation, event *domain.Event) error {
	if op.TargetURL() == "" {
		return p.queue.Complete(ctx, op)
	}

	err := p.client.DeleteEvent(ctx, op.TargetURL(), event.ETag())
	if err != nil {
		var clientErr *ClientError
		if errors.As(err, &clientErr) && clientErr.Kind == ClientErrNotFound {
			return p.queue.Complete(ctx, op)
		}
		return p.handleTransportError(ctx, op, err)
	}
	return p.queue.Complete(ctx, op)
}

// dispatchMove runs the two independent 10-retry-budget phases: DELETE the
// old resource, then CREATE at the destination.
func (p *PushStrategy) dispatchMove(ctx context.Context, op *domain.PendingOperation, event *domain.Event) error {
	if op.MovePhase() == domain.MovePhaseDelete {
		if op.TargetURL() != "" {
			err := p.client.DeleteEvent(ctx, op.TargetURL(), event.ETag())
			if err != nil {
				var clientErr *ClientError
				if !(errors.As(err, &clientErr) && clientErr.Kind == ClientErrNotFound) {
					return p.handleTransportError(ctx, op, err)
				}
			}
		}
		return p.queue.AdvanceToCreatePhase(ctx, op)
	}

	exceptions, err := p.eventRepo.FindExceptions(ctx, event.ID())
	if err != nil {
		return fmt.Errorf("load exceptions: %w", err)
	}
	body, err := p.codec.Encode(event, exceptions)
	if err != nil {
		return fmt.Errorf("encode resource: %w", err)
	}

	calendarURL, err := p.calendarURLFor(ctx, event.CalendarID())
	if err != nil {
		return err
	}

	serverURL, etag, err := p.client.CreateEvent(ctx, calendarURL, event.UID(), body)
	if err != nil {
		return p.handleTransportError(ctx, op, err)
	}

	now := p.clock.Now()
	event.MarkPushedCreate(serverURL, etag, now)
	if err := p.eventRepo.Save(ctx, event); err != nil {
		return fmt.Errorf("save moved event: %w", err)
	}
	if err := p.stampExceptionETags(ctx, exceptions, etag); err != nil {
		return err
	}
	return p.queue.Complete(ctx, op)
}

func (p *PushStrategy) stampExceptionETags(ctx context.Context, exceptions []*domain.Event, etag string) error {
	now := p.clock.Now()
	for _, exc := range exceptions {
		exc.MarkPushedUpdate(etag, now)
		if err := p.eventRepo.Save(ctx, exc); err != nil {
			return fmt.Errorf("save exception etag: %w", err)
		}
	}
	return nil
}

// handleTransportError classifies a ClientError: auth is non-retryable;
// network/5xx/conflict schedule a backoff retry.
func (p *PushStrategy) handleTransportError(ctx context.Context, op *domain.PendingOperation, err error) error {
	var clientErr *ClientError
	if errors.As(err, &clientErr) && clientErr.Kind == ClientErrAuth {
		return p.queue.MarkFailed(ctx, op, err.Error())
	}
	return p.queue.ScheduleRetry(ctx, op, err.Error())
}

// calendarURLFor resolves an event's owning calendar's server URL, the
// collection CreateEvent PUTs a new resource into.
func (p *PushStrategy) calendarURLFor(ctx context.Context, calendarID uuid.UUID) (string, error) {
	cal, err := p.calendarRepo.FindByID(ctx, calendarID)
	if err != nil {
		return "", fmt.Errorf("find calendar: %w", err)
	}
	return cal.ServerURL(), nil
}
