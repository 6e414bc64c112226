package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kashcal/synccore/internal/calendar/domain"
	"github.com/kashcal/synccore/pkg/observability"
	"github.com/google/uuid"
)

// SyncEngineConfig tunes mailbox sizing and drain batching. Grounded on
// outbox.ProcessorConfig's shape for the same kind of tunables, applied
// here per-account instead of globally.
type SyncEngineConfig struct {
	MailboxSize int
	DrainLimit int
}

// DefaultSyncEngineConfig returns sensible defaults.
func DefaultSyncEngineConfig() SyncEngineConfig {
	return SyncEngineConfig{
		MailboxSize: 4,
		DrainLimit: ReadyOperationsLimit,
	}
}

// mailbox is one account's serialized sync queue: a buffered channel plus
// the single goroutine that drains it, so pull/push for that account are
// strictly sequential while different accounts run concurrently. One
// instance runs per account rather than one for the whole process.
type mailbox struct {
	requests chan struct{}
	stopChan chan struct{}
	wg sync.WaitGroup
}

// SyncEngine is the top-level sync driver. It
// owns one mailbox per enabled Account, and for each sync request on that
// mailbox runs pull, then push, then queue maintenance, updating the
// account's sync bookkeeping throughout.
type SyncEngine struct {
	accountRepo domain.AccountRepository
	calendarRepo domain.CalendarRepository
	queue *OperationQueueManager
	pull *PullStrategy
	push *PushStrategy
	ics *ICSSubscriptionEngine
	client CalDAVClient
	clock domain.Clock
	logger *slog.Logger
	config SyncEngineConfig
	metrics observability.Metrics

	mu sync.Mutex
	mailboxes map[uuid.UUID]*mailbox
}

// NewSyncEngine creates a SyncEngine. metrics may be nil, in which case
// cycle/failure counters are discarded (observability.NoopMetrics).
func NewSyncEngine(
	accountRepo domain.AccountRepository,
	calendarRepo domain.CalendarRepository,
	queue *OperationQueueManager,
	pull *PullStrategy,
	push *PushStrategy,
	ics *ICSSubscriptionEngine,
	client CalDAVClient,
	clock domain.Clock,
	logger *slog.Logger,
	config SyncEngineConfig,
	metrics observability.Metrics,
) *SyncEngine {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	if config.MailboxSize <= 0 {
		config.MailboxSize = DefaultSyncEngineConfig().MailboxSize
	}
	if config.DrainLimit <= 0 {
		config.DrainLimit = ReadyOperationsLimit
	}
	return &SyncEngine{
		accountRepo: accountRepo,
		calendarRepo: calendarRepo,
		queue: queue,
		pull: pull,
		push: push,
		ics: ics,
		client: client,
		clock: clock,
		logger: logger,
		config: config,
		metrics: metrics,
		mailboxes: make(map[uuid.UUID]*mailbox),
	}
}

// SyncAccount enqueues a sync request on accountID's mailbox, starting the
// mailbox's goroutine on first use. The request is dropped, not blocked on,
// if the mailbox is already full — a cycle already queued will see any
// change that triggered this one.
func (e *SyncEngine) SyncAccount(ctx context.Context, accountID uuid.UUID) {
	mb := e.mailboxFor(accountID)
	select {
	case mb.requests <- struct{}{}:
	default:
		e.metrics.Counter(observability.MetricSyncMailboxDrops, 1)
		e.logger.Debug("sync request dropped, mailbox full",
			slog.String("account_id", accountID.String()))
	}
}

// CancelAccount stops accountID's mailbox goroutine, if running, and
// forgets it. Implements application.BackgroundJobCanceller for
// AccountService.DeleteAccount's teardown cascade.
func (e *SyncEngine) CancelAccount(accountID uuid.UUID) {
	e.mu.Lock()
	mb, ok := e.mailboxes[accountID]
	if ok {
		delete(e.mailboxes, accountID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	close(mb.stopChan)
	mb.wg.Wait()
}

// Shutdown stops every running mailbox, for process shutdown.
func (e *SyncEngine) Shutdown() {
	e.mu.Lock()
	ids := make([]uuid.UUID, 0, len(e.mailboxes))
	for id := range e.mailboxes {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	for _, id := range ids {
		e.CancelAccount(id)
	}
}

func (e *SyncEngine) mailboxFor(accountID uuid.UUID) *mailbox {
	e.mu.Lock()
	defer e.mu.Unlock()

	if mb, ok := e.mailboxes[accountID]; ok {
		return mb
	}

	mb := &mailbox{
		requests: make(chan struct{}, e.config.MailboxSize),
		stopChan: make(chan struct{}),
	}
	e.mailboxes[accountID] = mb
	mb.wg.Add(1)
	go e.run(accountID, mb)
	return mb
}

func (e *SyncEngine) run(accountID uuid.UUID, mb *mailbox) {
	defer mb.wg.Done()
	for {
		select {
		case <-mb.stopChan:
			return
		case <-mb.requests:
			ctx := context.Background()
			if err := e.RunOnce(ctx, accountID); err != nil {
				e.logger.Warn("sync cycle failed",
					slog.String("account_id", accountID.String()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce drains pull, then push, then queue maintenance for one account,
// in that order, updating its sync bookkeeping throughout. An account disabled since being enqueued is skipped without error.
func (e *SyncEngine) RunOnce(ctx context.Context, accountID uuid.UUID) error {
	cycleStart := e.clock.Now()
	defer func() {
		e.metrics.Timing(observability.MetricSyncDuration, e.clock.Now().Sub(cycleStart))
	}()
	e.metrics.Counter(observability.MetricSyncCycles, 1)

	account, err := e.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("find account: %w", err)
	}
	if account == nil || !account.Enabled() {
		return nil
	}

	now := e.clock.Now()
	account.RecordSyncAttempt(now)
	if err := e.accountRepo.Save(ctx, account); err != nil {
		return fmt.Errorf("save sync attempt: %w", err)
	}

	caps := account.Provider().Capabilities()
	calendars, err := e.calendarRepo.FindByAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("find calendars: %w", err)
	}

	var syncErr error
	switch {
	case account.Provider() == domain.ProviderICS:
		syncErr = e.syncICSCalendars(ctx, calendars)
	case caps.CanPull || caps.CanPush:
		syncErr = e.syncRemoteCalendars(ctx, account, calendars, caps)
	}

	if syncErr != nil {
		var clientErr *ClientError
		if errors.As(syncErr, &clientErr) && clientErr.Kind == ClientErrAuth {
			account.RecordAuthFailure()
			e.metrics.Counter(observability.MetricSyncAuthFailures, 1)
		}
		if err := e.accountRepo.Save(ctx, account); err != nil {
			return fmt.Errorf("save sync failure: %w", err)
		}
		return syncErr
	}

	if err := e.runQueueMaintenance(ctx, now); err != nil {
		e.logger.Warn("queue maintenance failed",
			slog.String("account_id", accountID.String()),
			slog.String("error", err.Error()),
		)
	}

	account.RecordSyncSuccess(e.clock.Now())
	if err := e.accountRepo.Save(ctx, account); err != nil {
		return fmt.Errorf("save sync success: %w", err)
	}
	return nil
}

func (e *SyncEngine) syncICSCalendars(ctx context.Context, calendars []*domain.Calendar) error {
	for _, cal := range calendars {
		if err := e.ics.SyncFeed(ctx, cal, cal.ServerURL()); err != nil {
			return fmt.Errorf("sync feed %s: %w", cal.ID(), err)
		}
	}
	return nil
}

func (e *SyncEngine) syncRemoteCalendars(ctx context.Context, account *domain.Account, calendars []*domain.Calendar, caps domain.Capabilities) error {
	if caps.CanPull {
		remotes, err := e.client.ListCalendars(ctx, account.CalendarHomeURL())
		if err != nil {
			return fmt.Errorf("list calendars: %w", err)
		}
		remoteByHref := make(map[string]RemoteCalendar, len(remotes))
		for _, r := range remotes {
			remoteByHref[r.Href] = r
		}

		for _, cal := range calendars {
			remote, ok := remoteByHref[cal.ServerURL()]
			if !ok {
				continue
			}
			if err := e.pull.SyncCalendar(ctx, cal, remote); err != nil {
				return fmt.Errorf("pull calendar %s: %w", cal.ID(), err)
			}
		}
	}

	if caps.CanPush {
		if _, err := e.push.DrainAccount(ctx, account.ID(), e.config.DrainLimit); err != nil {
			return fmt.Errorf("drain push queue: %w", err)
		}
	}

	return nil
}

// runQueueMaintenance performs crash recovery, auto-reset, and abandonment
// for the whole queue — cheap relative to network I/O, so it is safe to run
// once per account cycle rather than scoping it to one account.
func (e *SyncEngine) runQueueMaintenance(ctx context.Context, now time.Time) error {
	if _, err := e.queue.ResetStaleInProgress(ctx, now); err != nil {
		return fmt.Errorf("reset stale in-progress: %w", err)
	}
	if _, err := e.queue.AutoResetOldFailed(ctx, now); err != nil {
		return fmt.Errorf("auto-reset old failed: %w", err)
	}

	expired, err := e.queue.GetExpiredOperations(ctx, now)
	if err != nil {
		return fmt.Errorf("get expired operations: %w", err)
	}
	for _, op := range expired {
		e.logger.Warn("abandoning expired pending operation",
			slog.String("event_id", op.EventID().String()),
			slog.String("operation", string(op.Operation())),
		)
		if err := e.queue.AbandonExpired(ctx, op); err != nil {
			return fmt.Errorf("abandon expired operation %s: %w", op.ID(), err)
		}
		e.metrics.Counter(observability.MetricQueueAbandoned, 1)
	}
	return nil
}
