package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ClientErrorKind classifies a CalDAV transport outcome into a semantic
// sum type, independent of any HTTP status constant.
type ClientErrorKind int

const (
	ClientErrNotFound ClientErrorKind = iota
	ClientErrConflict
	ClientErrAuth
	ClientErrNetwork
	ClientErrServer
)

func (k ClientErrorKind) String() string {
	switch k {
	case ClientErrNotFound:
		return "NotFound"
	case ClientErrConflict:
		return "Conflict"
	case ClientErrAuth:
		return "Auth"
	case ClientErrNetwork:
		return "Network"
	case ClientErrServer:
		return "Server"
	default:
		return "Unknown"
	}
}

// ClientError wraps a transport failure with its semantic kind: callers can
// switch on Kind and still errors.Is/errors.As against the wrapped cause.
type ClientError struct {
	Kind ClientErrorKind
	Cause error
}

func (e *ClientError) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Cause.Error()
}

func (e *ClientError) Unwrap() error { return e.Cause }

// NewClientError builds a ClientError of the given kind.
func NewClientError(kind ClientErrorKind, cause error) *ClientError {
	return &ClientError{Kind: kind, Cause: cause}
}

// RemoteCalendar is one calendar collection as discovered on the server.
type RemoteCalendar struct {
	Href string
	DisplayName string
	ColorHex string // #RRGGBB
	Ctag string
	IsReadOnly bool
}

// RemoteResource identifies one event resource on the server without its
// body.
type RemoteResource struct {
	URL string
	ETag string
}

// RemoteObject is a fetched resource body plus its current ETag.
type RemoteObject struct {
	Body string
	ETag string
}

// CalDAVClient is the abstract wire port the core consumes. A
// concrete adapter in infrastructure/caldav implements this against
// go-webdav/caldav; the core itself never imports an HTTP or XML library.
type CalDAVClient interface {
	// DiscoverWellKnown resolves /.well-known/caldav, returning the
	// redirect target. May preserve a trailing slash.
	DiscoverWellKnown(ctx context.Context, baseURL string) (redirectURL string, err error)
	// DiscoverPrincipal resolves current-user-principal from url.
	DiscoverPrincipal(ctx context.Context, url string) (principalURL string, err error)
	// DiscoverCalendarHome resolves calendar-home-set from a principal URL.
	DiscoverCalendarHome(ctx context.Context, principalURL string) (homeSetURLs []string, err error)
	ListCalendars(ctx context.Context, homeSetURL string) ([]RemoteCalendar, error)
	ListResources(ctx context.Context, calendarHomeURL string) ([]RemoteResource, error)
	GetResource(ctx context.Context, url string) (RemoteObject, error)
	// CreateEvent PUTs a new resource with If-None-Match:*. Conflict if one
	// already exists at the derived URL.
	CreateEvent(ctx context.Context, calendarURL, uid, iCalBody string) (resourceURL, etag string, err error)
	// UpdateEvent PUTs with If-Match: ifMatchEtag. A precondition failure
	// surfaces as ClientErrConflict.
	UpdateEvent(ctx context.Context, resourceURL, iCalBody, ifMatchEtag string) (newEtag string, err error)
	// DeleteEvent issues DELETE with If-Match. 404 is treated as success by
	// the caller, not this method — it still returns the NotFound kind, and
	// the Push Strategy completes the operation on that kind.
	DeleteEvent(ctx context.Context, resourceURL, ifMatchEtag string) error
}

// DiscoveryProbePaths are tried against the original host, in order, when
// /.well-known/caldav returns 404. Probing must
// use the original host, never a host the well-known lookup redirected to.
var DiscoveryProbePaths = []string{"", "/dav/", "/caldav/", "/remote.php/dav/", "/dav.php/"}

// DiscoverAccount runs the full discovery chain for a newly connected
// CalDAV account: well-known redirect (falling back to DiscoveryProbePaths
// against the original host on a 404), current-user-principal, then
// calendar-home-set. Account.SetDiscovery persists the two resolved URLs.
func DiscoverAccount(ctx context.Context, client CalDAVClient, baseURL string) (principalURL, calendarHomeURL string, err error) {
	principalURL, err = discoverPrincipalURL(ctx, client, baseURL)
	if err != nil {
		return "", "", err
	}

	homeSetURLs, err := client.DiscoverCalendarHome(ctx, principalURL)
	if err != nil {
		return "", "", fmt.Errorf("discover calendar home: %w", err)
	}
	if len(homeSetURLs) == 0 {
		return "", "", fmt.Errorf("discover calendar home: server returned no calendar-home-set")
	}
	return principalURL, homeSetURLs[0], nil
}

// discoverPrincipalURL resolves current-user-principal, trying the
// well-known redirect first and only walking DiscoveryProbePaths against
// the original host when the well-known lookup itself 404s.
func discoverPrincipalURL(ctx context.Context, client CalDAVClient, baseURL string) (string, error) {
	wellKnown, err := client.DiscoverWellKnown(ctx, baseURL)
	if err == nil {
		return client.DiscoverPrincipal(ctx, wellKnown)
	}

	var clientErr *ClientError
	if !errors.As(err, &clientErr) || clientErr.Kind != ClientErrNotFound {
		return "", fmt.Errorf("discover well-known: %w", err)
	}

	original := strings.TrimRight(baseURL, "/")
	var lastErr error
	for _, probe := range DiscoveryProbePaths {
		principalURL, probeErr := client.DiscoverPrincipal(ctx, original+probe)
		if probeErr == nil {
			return principalURL, nil
		}
		lastErr = probeErr
	}
	return "", fmt.Errorf("discover principal: well-known 404 and all probe paths failed: %w", lastErr)
}
