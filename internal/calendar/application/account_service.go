package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kashcal/synccore/internal/calendar/domain"
	sharedDomain "github.com/kashcal/synccore/internal/shared/domain"
	"github.com/kashcal/synccore/internal/shared/infrastructure/outbox"
	"github.com/google/uuid"
)

// UnitOfWork provides transactional support for account lifecycle changes
// that must stay atomic across several repositories.
type UnitOfWork interface {
	Begin(ctx context.Context) (context.Context, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// WithUnitOfWork runs fn inside uow, committing on success and rolling back
// on error or panic.
func WithUnitOfWork(ctx context.Context, uow UnitOfWork, fn func(context.Context) error) error {
	txCtx, err := uow.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = uow.Rollback(txCtx)
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		_ = uow.Rollback(txCtx)
		return err
	}
	return uow.Commit(txCtx)
}

// BackgroundJobCanceller stops whatever is driving sync for an account
// before its data is torn down — the SyncEngine's per-account mailbox
// goroutine. A no-op implementation is fine for an account
// that was never started.
type BackgroundJobCanceller interface {
	CancelAccount(accountID uuid.UUID)
}

// ConnectAccountCommand describes a new CalDAV/ICS/local account to add.
// Superseded OAuth-specific connect flow; CalDAV auth here is basic-auth or
// an app password, resolved externally into a credentialRef before this
// command is issued.
type ConnectAccountCommand struct {
	Provider domain.ProviderType
	Email string
	DisplayName string
	CredentialRef string
	// ServerURL is the CalDAV server's base URL, e.g. "https://cal.example.com".
	// Required for ProviderCalDAV; ignored otherwise. ConnectAccount runs
	// discovery against it before the account is saved.
	ServerURL string
}

// AccountService handles account lifecycle use cases: connecting a new
// remote identity, and an atomic, ordered cascade delete.
type AccountService struct {
	accountRepo domain.AccountRepository
	calendarRepo domain.CalendarRepository
	eventRepo domain.EventRepository
	reminderRepo domain.ScheduledReminderRepository
	opRepo domain.PendingOperationRepository
	outboxRepo outbox.Repository
	uow UnitOfWork
	jobs BackgroundJobCanceller
	reminders ReminderSink
	caldavClient CalDAVClient
	clock domain.Clock
	logger *slog.Logger
}

// NewAccountService creates a new AccountService. caldavClient may be nil —
// ConnectAccount then skips discovery and saves the account bare, which is
// the right behavior for ProviderLocal/ProviderICS accounts that never
// discover a calendar-home-set in the first place.
func NewAccountService(
	accountRepo domain.AccountRepository,
	calendarRepo domain.CalendarRepository,
	eventRepo domain.EventRepository,
	reminderRepo domain.ScheduledReminderRepository,
	opRepo domain.PendingOperationRepository,
	outboxRepo outbox.Repository,
	uow UnitOfWork,
	jobs BackgroundJobCanceller,
	reminders ReminderSink,
	caldavClient CalDAVClient,
	clock domain.Clock,
	logger *slog.Logger,
) *AccountService {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &AccountService{
		accountRepo: accountRepo,
		calendarRepo: calendarRepo,
		eventRepo: eventRepo,
		reminderRepo: reminderRepo,
		opRepo: opRepo,
		outboxRepo: outboxRepo,
		uow: uow,
		jobs: jobs,
		reminders: reminders,
		caldavClient: caldavClient,
		clock: clock,
		logger: logger,
	}
}

// ConnectAccount registers a new Account. For ProviderCalDAV with a
// ServerURL, it runs the well-known/principal/calendar-home discovery chain
// first and stamps the resolved URLs onto the account before saving it —
// calendar enumeration itself (ListCalendars against the resolved
// calendar-home-set) is left to the next sync cycle, the same path used to
// pick up calendars added on the server later.
func (s *AccountService) ConnectAccount(ctx context.Context, cmd ConnectAccountCommand) (*domain.Account, error) {
	account, err := domain.NewAccount(cmd.Provider, cmd.Email, cmd.DisplayName)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	account.SetCredentialRef(cmd.CredentialRef)

	if cmd.Provider == domain.ProviderCalDAV && cmd.ServerURL != "" && s.caldavClient != nil {
		principalURL, calendarHomeURL, err := DiscoverAccount(ctx, s.caldavClient, cmd.ServerURL)
		if err != nil {
			return nil, fmt.Errorf("discover account: %w", err)
		}
		account.SetDiscovery(principalURL, calendarHomeURL)
	}

	if err := s.withTransaction(ctx, func(txCtx context.Context) error {
			if err := s.accountRepo.Save(txCtx, account); err != nil {
				return fmt.Errorf("save account: %w", err)
			}
			return s.saveEventsToOutbox(txCtx, account)
	}); err != nil {
		return nil, err
	}

	return account, nil
}

// DeleteAccount performs the cascade-delete, in order: (1) cancel
// all pending background jobs for the account; (2) cancel all reminders for
// every event in every one of its calendars; (3) delete pending operations
// for those events; (4) cascade-delete the account row. Credential store
// failures are an external collaborator's concern and never block this —
// callers revoke the credential separately after this returns.
func (s *AccountService) DeleteAccount(ctx context.Context, accountID uuid.UUID) error {
	account, err := s.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("find account: %w", err)
	}
	if account == nil {
		return nil
	}

	// Step 1: stop the account's sync mailbox before anything underneath it
	// is torn down, so no in-flight cycle writes to a half-deleted tree.
	if s.jobs != nil {
		s.jobs.CancelAccount(accountID)
	}

	calendars, err := s.calendarRepo.FindByAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("find calendars: %w", err)
	}

	return s.withTransaction(ctx, func(txCtx context.Context) error {
			for _, cal := range calendars {
				events, err := s.eventRepo.FindByCalendar(txCtx, cal.ID())
				if err != nil {
					return fmt.Errorf("find events for calendar %s: %w", cal.ID(), err)
				}
				for _, ev := range events {
					// Step 2: cancel reminders, both the scheduled OS alarms and
					// the rows tracking them.
					if s.reminders != nil {
						if err := s.reminders.CancelForEvent(txCtx, ev.ID()); err != nil {
							s.logger.Warn("failed to cancel OS alarms for event",
								slog.String("event_id", ev.ID().String()),
								slog.String("error", err.Error()),
							)
						}
					}
					if s.reminderRepo != nil {
						if err := s.reminderRepo.DeleteByEvent(txCtx, ev.ID()); err != nil {
							return fmt.Errorf("cancel reminders for event %s: %w", ev.ID(), err)
						}
					}
					// Step 3: delete queued pending operations.
					if s.opRepo != nil {
						if err := s.opRepo.DeleteByEvent(txCtx, ev.ID()); err != nil {
							return fmt.Errorf("delete pending operations for event %s: %w", ev.ID(), err)
						}
					}
				}
			}

			account.MarkRemoved()

			// Step 4: cascade-delete the account row (calendars/events/occurrences
			// cascade in the store).
			if err := s.accountRepo.Delete(txCtx, accountID); err != nil {
				return fmt.Errorf("delete account: %w", err)
			}

			return s.saveEventsToOutbox(txCtx, account)
	})
}

// ListAccounts returns every registered account.
func (s *AccountService) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	return s.accountRepo.FindAll(ctx)
}

// EnabledAccounts returns accounts eligible for the next sync cycle.
func (s *AccountService) EnabledAccounts(ctx context.Context) ([]*domain.Account, error) {
	return s.accountRepo.FindEnabled(ctx)
}

func (s *AccountService) withTransaction(ctx context.Context, fn func(context.Context) error) error {
	if s.uow == nil {
		return fn(ctx)
	}
	return WithUnitOfWork(ctx, s.uow, fn)
}

func (s *AccountService) saveEventsToOutbox(ctx context.Context, agg sharedDomain.AggregateRoot) error {
	if s.outboxRepo == nil {
		return nil
	}

	events := agg.DomainEvents()
	if len(events) == 0 {
		return nil
	}

	msgs := make([]*outbox.Message, 0, len(events))
	for _, event := range events {
		msg, err := outbox.NewMessage(event)
		if err != nil {
			s.logger.Error("failed to create outbox message",
				slog.String("routing_key", event.RoutingKey()),
				slog.String("aggregate_id", agg.ID().String()),
				slog.String("error", err.Error()),
			)
			return err
		}
		msgs = append(msgs, msg)
	}

	if err := s.outboxRepo.SaveBatch(ctx, msgs); err != nil {
		s.logger.Error("failed to save events to outbox",
			slog.String("aggregate_id", agg.ID().String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	agg.ClearDomainEvents()
	return nil
}
