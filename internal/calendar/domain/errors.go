package domain

import "errors"

// Shared validation and not-found errors for the calendar domain. Mutations
// against a missing aggregate are idempotent no-ops at the application
// layer; these sentinels let callers distinguish that case from
// other failures with errors.Is.
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrCalendarNotFound = errors.New("calendar not found")
	ErrEventNotFound = errors.New("event not found")
	ErrOccurrenceNotFound = errors.New("occurrence not found")
	ErrOperationNotFound = errors.New("pending operation not found")
	ErrReminderNotFound = errors.New("scheduled reminder not found")

	ErrInvalidProvider = errors.New("invalid provider type")
	ErrEmptyEmail = errors.New("account email cannot be empty")
	ErrEmptyCalendarName = errors.New("calendar name cannot be empty")
	ErrEmptyServerURL = errors.New("calendar server URL cannot be empty")
	ErrEmptyUID = errors.New("event UID cannot be empty")
	ErrInvalidTimeRange = errors.New("event end must not be before start")
	ErrMissingDTStamp = errors.New("event DTSTAMP is required")
	ErrExceptionHasRRule = errors.New("exception events cannot carry an RRULE")
	ErrNotAnException = errors.New("event is not an exception instance")
	ErrNotAMaster = errors.New("event is not a recurring master")
)
