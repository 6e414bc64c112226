package application

import (
	"time"

	"github.com/kashcal/synccore/internal/calendar/domain"
)

// ParsedComponent is one VEVENT extracted from an iCalendar resource,
// translated into the field shapes the Event Writer already knows how to
// apply. A resource bundles a master with zero or more exceptions as
// distinct VEVENTs sharing one UID.
type ParsedComponent struct {
	UID string
	OriginalInstanceTime *time.Time // RECURRENCE-ID; nil for the master
	IsCancelledException bool // STATUS:CANCELLED + RECURRENCE-ID present
	Fields domain.EventFields
	DTStamp time.Time
}

// ParsedResource is everything decoded from one calendar-object resource:
// exactly one master (the component with no RECURRENCE-ID) plus any number
// of exception components.
type ParsedResource struct {
	Master ParsedComponent
	Exceptions []ParsedComponent
}

// ICalCodec translates between the RFC 5545 wire format and the core's
// EventFields shape. Isolating this behind a port keeps the iCalendar
// parsing/serialization library out of the application package — the core
// never imports an XML/ICS library directly, matching CalDAVClient's
// wire-detail boundary.
type ICalCodec interface {
	// Decode parses one calendar-object resource body into its master and
	// exception components.
	Decode(body string) (ParsedResource, error)
	// DecodeFeed parses a whole ICS feed (many VEVENTs, potentially many
	// distinct UIDs) into one ParsedResource per UID, grouping each
	// master with its exceptions.
	DecodeFeed(body string) ([]ParsedResource, error)
	// Encode serializes a master event plus its exceptions into one
	// iCalendar resource body.
	Encode(master *domain.Event, exceptions []*domain.Event) (string, error)
}
