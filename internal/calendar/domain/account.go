package domain

import (
	"context"
	"strings"
	"time"

	sharedDomain "github.com/kashcal/synccore/internal/shared/domain"
	"github.com/google/uuid"
)

// Account is a remote identity the device syncs against: an iCloud or
// generic CalDAV server, an ICS subscription's logical owner, or a purely
// local pseudo-account. It owns its Calendars by reference, not
// composition — a Calendar is its own aggregate and row, mirroring the
// teacher's ConnectedCalendar, which is never an Account sub-entity.
type Account struct {
	sharedDomain.BaseAggregateRoot
	provider ProviderType
	email string
	displayName string
	principalURL string
	calendarHomeURL string
	credentialRef string // opaque key into an external secret store
	enabled bool
	lastSyncAttemptAt time.Time
	lastSyncSuccessAt time.Time
	consecutiveFailures int
}

// NewAccount creates a new Account and records an AccountAddedEvent.
func NewAccount(provider ProviderType, email, displayName string) (*Account, error) {
	if !provider.IsValid() {
		return nil, ErrInvalidProvider
	}
	if provider != ProviderLocal && strings.TrimSpace(email) == "" {
		return nil, ErrEmptyEmail
	}

	a := &Account{
		BaseAggregateRoot: sharedDomain.NewBaseAggregateRoot(),
		provider: provider,
		email: email,
		displayName: displayName,
		enabled: true,
	}
	a.AddDomainEvent(NewAccountAddedEvent(a.ID(), provider, email))
	return a, nil
}

// Getters.
func (a *Account) Provider() ProviderType { return a.provider }
func (a *Account) Email() string { return a.email }
func (a *Account) DisplayName() string { return a.displayName }
func (a *Account) PrincipalURL() string { return a.principalURL }
func (a *Account) CalendarHomeURL() string { return a.calendarHomeURL }
func (a *Account) CredentialRef() string { return a.credentialRef }
func (a *Account) Enabled() bool { return a.enabled }
func (a *Account) LastSyncAttemptAt() time.Time { return a.lastSyncAttemptAt }
func (a *Account) LastSyncSuccessAt() time.Time { return a.lastSyncSuccessAt }
func (a *Account) ConsecutiveFailures() int { return a.consecutiveFailures }

// SetDiscovery records the principal and calendar-home URLs found during
// CalDAV discovery.
func (a *Account) SetDiscovery(principalURL, calendarHomeURL string) {
	a.principalURL = principalURL
	a.calendarHomeURL = calendarHomeURL
	a.Touch()
}

// SetCredentialRef stores the opaque reference into the external secret
// store. The account itself never holds a credential value.
func (a *Account) SetCredentialRef(ref string) {
	a.credentialRef = ref
	a.Touch()
}

// SetEnabled enables or disables sync for every calendar under this account.
func (a *Account) SetEnabled(enabled bool) {
	if a.enabled != enabled {
		a.enabled = enabled
		a.Touch()
	}
}

// RecordSyncAttempt stamps lastSyncAttemptAt. Call at the start of every
// sync cycle for this account, successful or not.
func (a *Account) RecordSyncAttempt(now time.Time) {
	a.lastSyncAttemptAt = now
	a.Touch()
}

// RecordSyncSuccess stamps lastSyncSuccessAt and resets the failure streak.
// Called by SyncEngine.RunOnce after a fully successful pull+push cycle.
func (a *Account) RecordSyncSuccess(now time.Time) {
	a.lastSyncSuccessAt = now
	a.consecutiveFailures = 0
	a.Touch()
}

// RecordAuthFailure increments consecutiveFailures. SyncEngine.RunOnce
// calls it when a sync cycle's error is Auth-classified; an Auth failure of
// a single pushed operation marks that operation FAILED and does not reach
// this counter.
func (a *Account) RecordAuthFailure() {
	a.consecutiveFailures++
	a.Touch()
}

// MarkRemoved records that this account is being deleted, before the
// cascade-delete transaction runs.
func (a *Account) MarkRemoved() {
	a.AddDomainEvent(NewAccountRemovedEvent(a.ID(), a.provider, a.email))
}

// RehydrateAccount recreates an Account from persisted state without
// recording domain events.
func RehydrateAccount(
	id uuid.UUID,
	provider ProviderType,
	email, displayName, principalURL, calendarHomeURL, credentialRef string,
	enabled bool,
	lastSyncAttemptAt, lastSyncSuccessAt time.Time,
	consecutiveFailures int,
	createdAt, updatedAt time.Time,
	version int,
) *Account {
	entity := sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt)
	return &Account{
		BaseAggregateRoot: sharedDomain.RehydrateBaseAggregateRoot(entity, version),
		provider: provider,
		email: email,
		displayName: displayName,
		principalURL: principalURL,
		calendarHomeURL: calendarHomeURL,
		credentialRef: credentialRef,
		enabled: enabled,
		lastSyncAttemptAt: lastSyncAttemptAt,
		lastSyncSuccessAt: lastSyncSuccessAt,
		consecutiveFailures: consecutiveFailures,
	}
}

// AccountRepository is the port for Account persistence.
type AccountRepository interface {
	Save(ctx context.Context, account *Account) error
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)
	FindByProviderAndEmail(ctx context.Context, provider ProviderType, email, calendarHomeURL string) (*Account, error)
	FindAll(ctx context.Context) ([]*Account, error)
	FindEnabled(ctx context.Context) ([]*Account, error)
	// Delete cascade-deletes the account and everything FK-chained beneath
	// it (calendars, events, occurrences, pending operations, reminders);
	// callers must have already cancelled background jobs and reminders.
	Delete(ctx context.Context, id uuid.UUID) error
}
