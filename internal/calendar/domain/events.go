package domain

import (
	sharedDomain "github.com/kashcal/synccore/internal/shared/domain"
	"github.com/google/uuid"
)

const (
	// AggregateTypeAccount is the aggregate type for Account domain events.
	AggregateTypeAccount = "account"
	// AggregateTypeCalendar is the aggregate type for Calendar domain events.
	AggregateTypeCalendar = "calendar"

	RoutingKeyAccountAdded   = "account.added"
	RoutingKeyAccountRemoved = "account.removed"
	RoutingKeyCalendarAdded  = "calendar.added"
)

// AccountAddedEvent is published when a new Account is connected.
type AccountAddedEvent struct {
	sharedDomain.BaseEvent
	Provider ProviderType `json:"provider"`
	Email    string       `json:"email"`
}

// NewAccountAddedEvent creates a new account-added event.
func NewAccountAddedEvent(aggregateID uuid.UUID, provider ProviderType, email string) AccountAddedEvent {
	return AccountAddedEvent{
		BaseEvent: sharedDomain.NewBaseEvent(aggregateID, AggregateTypeAccount, RoutingKeyAccountAdded),
		Provider:  provider,
		Email:     email,
	}
}

// AccountRemovedEvent is published when an Account is deleted, before the
// cascade-delete transaction commits.
type AccountRemovedEvent struct {
	sharedDomain.BaseEvent
	Provider ProviderType `json:"provider"`
	Email    string       `json:"email"`
}

// NewAccountRemovedEvent creates a new account-removed event.
func NewAccountRemovedEvent(aggregateID uuid.UUID, provider ProviderType, email string) AccountRemovedEvent {
	return AccountRemovedEvent{
		BaseEvent: sharedDomain.NewBaseEvent(aggregateID, AggregateTypeAccount, RoutingKeyAccountRemoved),
		Provider:  provider,
		Email:     email,
	}
}

// CalendarAddedEvent is published when a Calendar is discovered or created.
type CalendarAddedEvent struct {
	sharedDomain.BaseEvent
	AccountID   uuid.UUID `json:"account_id"`
	ServerURL   string    `json:"server_url"`
	DisplayName string    `json:"display_name"`
}

// NewCalendarAddedEvent creates a new calendar-added event.
func NewCalendarAddedEvent(aggregateID, accountID uuid.UUID, serverURL, displayName string) CalendarAddedEvent {
	return CalendarAddedEvent{
		BaseEvent:   sharedDomain.NewBaseEvent(aggregateID, AggregateTypeCalendar, RoutingKeyCalendarAdded),
		AccountID:   accountID,
		ServerURL:   serverURL,
		DisplayName: displayName,
	}
}
