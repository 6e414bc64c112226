package domain

import (
	"context"
	"strings"
	"time"

	sharedDomain "github.com/kashcal/synccore/internal/shared/domain"
	"github.com/google/uuid"
)

// Calendar is a container of events owned by one Account. FK to
// Account is cascade-delete, enforced by the store, not emulated here.
type Calendar struct {
	sharedDomain.BaseAggregateRoot
	accountID uuid.UUID
	serverURL string // unique; empty for purely local calendars
	displayName string
	colorARGB uint32
	readOnly bool
	visible bool
	isDefault bool // at most one default per account, enforced by the write path
	sortOrder int
	syncToken string // CalDAV sync-token, or ICS feed ETag
	ctag string // CalDAV collection tag, or ICS feed Last-Modified
}

// NewCalendar creates a new Calendar and records a CalendarAddedEvent.
func NewCalendar(accountID uuid.UUID, serverURL, displayName string, colorARGB uint32, readOnly bool) (*Calendar, error) {
	if strings.TrimSpace(displayName) == "" {
		return nil, ErrEmptyCalendarName
	}

	c := &Calendar{
		BaseAggregateRoot: sharedDomain.NewBaseAggregateRoot(),
		accountID: accountID,
		serverURL: serverURL,
		displayName: displayName,
		colorARGB: colorARGB,
		readOnly: readOnly,
		visible: true,
	}
	c.AddDomainEvent(NewCalendarAddedEvent(c.ID(), accountID, serverURL, displayName))
	return c, nil
}

// Getters.
func (c *Calendar) AccountID() uuid.UUID { return c.accountID }
func (c *Calendar) ServerURL() string { return c.serverURL }
func (c *Calendar) DisplayName() string { return c.displayName }
func (c *Calendar) ColorARGB() uint32 { return c.colorARGB }
func (c *Calendar) ReadOnly() bool { return c.readOnly }
func (c *Calendar) Visible() bool { return c.visible }
func (c *Calendar) IsDefault() bool { return c.isDefault }
func (c *Calendar) SortOrder() int { return c.sortOrder }
func (c *Calendar) SyncToken() string { return c.syncToken }
func (c *Calendar) Ctag() string { return c.ctag }

// Rename updates the calendar's display name.
func (c *Calendar) Rename(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyCalendarName
	}
	if c.displayName != name {
		c.displayName = name
		c.Touch()
	}
	return nil
}

// SetColor updates the calendar's display color.
func (c *Calendar) SetColor(colorARGB uint32) {
	if c.colorARGB != colorARGB {
		c.colorARGB = colorARGB
		c.Touch()
	}
}

// SetVisible toggles whether the calendar's events are shown.
func (c *Calendar) SetVisible(visible bool) {
	if c.visible != visible {
		c.visible = visible
		c.Touch()
	}
}

// SetSortOrder updates the display ordering among an account's calendars.
func (c *Calendar) SetSortOrder(order int) {
	if c.sortOrder != order {
		c.sortOrder = order
		c.Touch()
	}
}

// MarkDefault sets this calendar as the account's default for new local
// events. The write path (application layer) is responsible for clearing
// the flag on any previous default within the same transaction — this
// method only flips the local flag.
func (c *Calendar) MarkDefault(isDefault bool) {
	if c.isDefault != isDefault {
		c.isDefault = isDefault
		c.Touch()
	}
}

// UpdateCtag replaces the collection-level change tag (or, for ICS feeds,
// the Last-Modified header).
func (c *Calendar) UpdateCtag(ctag string) {
	c.ctag = ctag
	c.Touch()
}

// UpdateSyncToken replaces the CalDAV sync-token (or, for ICS feeds, the
// ETag of the last successful fetch).
func (c *Calendar) UpdateSyncToken(token string) {
	c.syncToken = token
	c.Touch()
}

// MoveToAccount reassigns this calendar's owning account. Used only by
// administrative re-parenting flows; ordinary event moves change
// Event.calendarID, never Calendar.accountID.
func (c *Calendar) MoveToAccount(accountID uuid.UUID) {
	if c.accountID != accountID {
		c.accountID = accountID
		c.Touch()
	}
}

// RehydrateCalendar recreates a Calendar from persisted data without
// recording domain events.
func RehydrateCalendar(
	id, accountID uuid.UUID,
	serverURL, displayName string,
	colorARGB uint32,
	readOnly, visible, isDefault bool,
	sortOrder int,
	syncToken, ctag string,
	createdAt, updatedAt time.Time,
	version int,
) *Calendar {
	entity := sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt)
	return &Calendar{
		BaseAggregateRoot: sharedDomain.RehydrateBaseAggregateRoot(entity, version),
		accountID: accountID,
		serverURL: serverURL,
		displayName: displayName,
		colorARGB: colorARGB,
		readOnly: readOnly,
		visible: visible,
		isDefault: isDefault,
		sortOrder: sortOrder,
		syncToken: syncToken,
		ctag: ctag,
	}
}

// CalendarRepository is the port for Calendar persistence.
type CalendarRepository interface {
	Save(ctx context.Context, calendar *Calendar) error
	FindByID(ctx context.Context, id uuid.UUID) (*Calendar, error)
	FindByServerURL(ctx context.Context, serverURL string) (*Calendar, error)
	FindByAccount(ctx context.Context, accountID uuid.UUID) ([]*Calendar, error)
	FindDefaultForAccount(ctx context.Context, accountID uuid.UUID) (*Calendar, error)
	// Delete cascade-deletes the calendar's events, occurrences, pending
	// operations, and reminders.
	Delete(ctx context.Context, id uuid.UUID) error
}
