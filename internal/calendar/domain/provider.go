package domain

// ProviderType identifies the kind of remote (or local) calendar source an
// Account represents.
type ProviderType string

const (
	// ProviderICloud is Apple's CalDAV service. Kept distinct from the
	// generic CalDAV provider because discovery probing differs: iCloud's
	// well-known host is fixed while generic CalDAV probes a handful of
	// well-known paths.
	ProviderICloud ProviderType = "icloud"
	// ProviderCalDAV is a generic CalDAV server (Nextcloud, Fastmail,
	// Baikal, Radicale, Stalwart, mailbox.org).
	ProviderCalDAV ProviderType = "caldav"
	// ProviderICS is a read-only iCalendar subscription feed.
	ProviderICS ProviderType = "ics"
	// ProviderLocal is a device-only calendar that never talks to a server.
	ProviderLocal ProviderType = "local"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string { return string(p) }

// IsValid returns true if the provider type is recognized.
func (p ProviderType) IsValid() bool {
	switch p {
	case ProviderICloud, ProviderCalDAV, ProviderICS, ProviderLocal:
		return true
	default:
		return false
	}
}

// DisplayName returns a human-readable name for the provider.
func (p ProviderType) DisplayName() string {
	switch p {
	case ProviderICloud:
		return "iCloud"
	case ProviderCalDAV:
		return "CalDAV"
	case ProviderICS:
		return "Subscribed calendar"
	case ProviderLocal:
		return "On this device"
	default:
		return string(p)
	}
}

// Capabilities is the capability record for a provider, replacing a
// classic inheritance hierarchy.
type Capabilities struct {
	// CanDiscover is true if the provider supports well-known/principal/
	// home-set discovery.
	CanDiscover bool
	// CanPush is true if local changes are ever pushed to this provider.
	CanPush bool
	// CanPull is true if the Pull Strategy runs against this provider.
	CanPull bool
	// ReadOnly is true if the provider never produces PendingOperations.
	ReadOnly bool
}

// Capabilities returns the capability record for the provider type.
func (p ProviderType) Capabilities() Capabilities {
	switch p {
	case ProviderICloud, ProviderCalDAV:
		return Capabilities{CanDiscover: true, CanPush: true, CanPull: true, ReadOnly: false}
	case ProviderICS:
		return Capabilities{CanDiscover: false, CanPush: false, CanPull: true, ReadOnly: true}
	case ProviderLocal:
		return Capabilities{CanDiscover: false, CanPush: false, CanPull: false, ReadOnly: false}
	default:
		return Capabilities{}
	}
}

// AllProviderTypes returns all supported provider types.
func AllProviderTypes() []ProviderType {
	return []ProviderType{ProviderICloud, ProviderCalDAV, ProviderICS, ProviderLocal}
}
