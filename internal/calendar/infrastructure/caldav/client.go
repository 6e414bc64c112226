// Package caldav implements application.CalDAVClient against a real CalDAV
// server using go-webdav/caldav for transport and go-ical for the wire
// format, keeping the core free of any HTTP or XML dependency.
package caldav

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	calendarApp "github.com/kashcal/synccore/internal/calendar/application"
)

// Client adapts a CalDAV server to application.CalDAVClient. One Client
// serves one account; username/password are the account's stored
// credentials.
type Client struct {
	username string
	password string
	http *http.Client
	noRedir *http.Client
}

// NewClient builds a CalDAV adapter authenticating with HTTP Basic Auth.
func NewClient(username, password string) *Client {
	transport := &basicAuthTransport{username: username, password: password, base: http.DefaultTransport}
	return &Client{
		username: username,
		password: password,
		http: &http.Client{Timeout: 30 * time.Second, Transport: transport},
		noRedir: &http.Client{
			Timeout: 30 * time.Second,
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (c *Client) clientAt(endpoint string) (*caldav.Client, error) {
	wc := webdav.HTTPClientWithBasicAuth(c.http, c.username, c.password)
	cl, err := caldav.NewClient(wc, endpoint)
	if err != nil {
		return nil, classifyError(err)
	}
	return cl, nil
}

// DiscoverWellKnown issues an unfollowed GET against /.well-known/caldav and
// returns the Location header. A 404 surfaces as ClientErrNotFound so the
// caller can fall back to DiscoveryProbePaths.
func (c *Client) DiscoverWellKnown(ctx context.Context, baseURL string) (string, error) {
	target := strings.TrimRight(baseURL, "/") + "/.well-known/caldav"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", calendarApp.NewClientError(calendarApp.ClientErrNetwork, err)
	}

	resp, err := c.noRedir.Do(req)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		loc := resp.Header.Get("Location")
		if loc == "" {
			return "", calendarApp.NewClientError(calendarApp.ClientErrServer, fmt.Errorf("redirect with no Location header"))
		}
		resolved, err := resolveAgainst(target, loc)
		if err != nil {
			return "", calendarApp.NewClientError(calendarApp.ClientErrServer, err)
		}
		return resolved, nil
	case resp.StatusCode == http.StatusNotFound:
		return "", calendarApp.NewClientError(calendarApp.ClientErrNotFound, fmt.Errorf("well-known caldav not found"))
	case resp.StatusCode >= 500:
		return "", calendarApp.NewClientError(calendarApp.ClientErrServer, fmt.Errorf("well-known caldav: status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", calendarApp.NewClientError(calendarApp.ClientErrAuth, fmt.Errorf("well-known caldav: status %d", resp.StatusCode))
	default:
		return target, nil
	}
}

func resolveAgainst(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// DiscoverPrincipal resolves current-user-principal from url.
func (c *Client) DiscoverPrincipal(ctx context.Context, urlStr string) (string, error) {
	cl, err := c.clientAt(urlStr)
	if err != nil {
		return "", err
	}
	principal, err := cl.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", classifyError(err)
	}
	return principal, nil
}

// DiscoverCalendarHome resolves calendar-home-set from a principal URL.
func (c *Client) DiscoverCalendarHome(ctx context.Context, principalURL string) ([]string, error) {
	cl, err := c.clientAt(principalURL)
	if err != nil {
		return nil, err
	}
	homeSet, err := cl.FindCalendarHomeSet(ctx, principalURL)
	if err != nil {
		return nil, classifyError(err)
	}
	return []string{homeSet}, nil
}

// ListCalendars lists the calendar collections under a calendar-home-set URL.
func (c *Client) ListCalendars(ctx context.Context, homeSetURL string) ([]calendarApp.RemoteCalendar, error) {
	cl, err := c.clientAt(homeSetURL)
	if err != nil {
		return nil, err
	}
	cals, err := cl.FindCalendars(ctx, homeSetURL)
	if err != nil {
		return nil, classifyError(err)
	}

	out := make([]calendarApp.RemoteCalendar, 0, len(cals))
	for _, cal := range cals {
		out = append(out, calendarApp.RemoteCalendar{
				Href: cal.Path,
				DisplayName: cal.Name,
				// go-webdav's Calendar doesn't surface calendar-color or getctag;
				// Pull Strategy falls back to full enumeration when Ctag is empty.
		})
	}
	return out, nil
}

// ListResources enumerates event resources (URL + ETag only) under a
// calendar, grounding the sync token / full-enumeration fallback.
func (c *Client) ListResources(ctx context.Context, calendarHomeURL string) ([]calendarApp.RemoteResource, error) {
	cl, err := c.clientAt(calendarHomeURL)
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: "VCALENDAR",
			Comps: []caldav.CalendarCompRequest{
				{Name: "VEVENT", Props: []string{"UID"}},
			},
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{{Name: "VEVENT"}},
		},
	}

	objects, err := cl.QueryCalendar(ctx, calendarHomeURL, query)
	if err != nil {
		return nil, classifyError(err)
	}

	out := make([]calendarApp.RemoteResource, 0, len(objects))
	for _, obj := range objects {
		out = append(out, calendarApp.RemoteResource{URL: obj.Path, ETag: obj.ETag})
	}
	return out, nil
}

// GetResource fetches one resource's body and current ETag.
func (c *Client) GetResource(ctx context.Context, resourceURL string) (calendarApp.RemoteObject, error) {
	cl, err := c.clientAt(resourceURL)
	if err != nil {
		return calendarApp.RemoteObject{}, err
	}
	obj, err := cl.GetCalendarObject(ctx, resourceURL)
	if err != nil {
		return calendarApp.RemoteObject{}, classifyError(err)
	}
	body, err := encodeICalendar(obj.Data)
	if err != nil {
		return calendarApp.RemoteObject{}, calendarApp.NewClientError(calendarApp.ClientErrServer, err)
	}
	return calendarApp.RemoteObject{Body: body, ETag: obj.ETag}, nil
}

// CreateEvent PUTs a new resource with If-None-Match: *.
func (c *Client) CreateEvent(ctx context.Context, calendarURL, uid, iCalBody string) (string, string, error) {
	resourceURL := strings.TrimRight(calendarURL, "/") + "/" + uid + ".ics"

	cal, err := decodeICalendar(iCalBody)
	if err != nil {
		return "", "", calendarApp.NewClientError(calendarApp.ClientErrServer, err)
	}

	cl, err := c.clientAt(resourceURL)
	if err != nil {
		return "", "", err
	}

	putCtx := withConditionalHeaders(ctx, conditionalHeaders{ifNoneMatch: "*"})
	obj, err := cl.PutCalendarObject(putCtx, resourceURL, cal)
	if err != nil {
		return "", "", classifyError(err)
	}
	return obj.Path, obj.ETag, nil
}

// UpdateEvent PUTs with If-Match: ifMatchEtag.
func (c *Client) UpdateEvent(ctx context.Context, resourceURL, iCalBody, ifMatchEtag string) (string, error) {
	cal, err := decodeICalendar(iCalBody)
	if err != nil {
		return "", calendarApp.NewClientError(calendarApp.ClientErrServer, err)
	}

	cl, err := c.clientAt(resourceURL)
	if err != nil {
		return "", err
	}

	putCtx := withConditionalHeaders(ctx, conditionalHeaders{ifMatch: ifMatchEtag})
	obj, err := cl.PutCalendarObject(putCtx, resourceURL, cal)
	if err != nil {
		return "", classifyError(err)
	}
	return obj.ETag, nil
}

// DeleteEvent issues DELETE with If-Match: ifMatchEtag.
func (c *Client) DeleteEvent(ctx context.Context, resourceURL, ifMatchEtag string) error {
	cl, err := c.clientAt(resourceURL)
	if err != nil {
		return err
	}
	delCtx := withConditionalHeaders(ctx, conditionalHeaders{ifMatch: ifMatchEtag})
	if err := cl.RemoveAll(delCtx, resourceURL); err != nil {
		return classifyError(err)
	}
	return nil
}

func encodeICalendar(cal *ical.Calendar) (string, error) {
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("encode icalendar: %w", err)
	}
	return buf.String(), nil
}

func decodeICalendar(body string) (*ical.Calendar, error) {
	cal, err := ical.NewDecoder(strings.NewReader(body)).Decode()
	if err != nil {
		return nil, fmt.Errorf("decode icalendar: %w", err)
	}
	return cal, nil
}

// classifyError maps a transport failure into the ClientError sum type.
// An HTTP status from go-webdav classifies by code; anything else is
// judged by its network-level shape.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var httpErr *webdav.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Code == http.StatusNotFound:
			return calendarApp.NewClientError(calendarApp.ClientErrNotFound, err)
		case httpErr.Code == http.StatusConflict || httpErr.Code == http.StatusPreconditionFailed:
			return calendarApp.NewClientError(calendarApp.ClientErrConflict, err)
		case httpErr.Code == http.StatusUnauthorized || httpErr.Code == http.StatusForbidden:
			return calendarApp.NewClientError(calendarApp.ClientErrAuth, err)
		case httpErr.Code >= 500:
			return calendarApp.NewClientError(calendarApp.ClientErrServer, err)
		default:
			return calendarApp.NewClientError(calendarApp.ClientErrServer, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return calendarApp.NewClientError(calendarApp.ClientErrNetwork, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return calendarApp.NewClientError(calendarApp.ClientErrNetwork, err)
	}

	return calendarApp.NewClientError(calendarApp.ClientErrNetwork, err)
}

type conditionalHeaderKey struct{}

type conditionalHeaders struct {
	ifMatch string
	ifNoneMatch string
}

func withConditionalHeaders(ctx context.Context, h conditionalHeaders) context.Context {
	return context.WithValue(ctx, conditionalHeaderKey{}, h)
}

// basicAuthTransport injects HTTP Basic Auth and any conditional headers
// (If-Match / If-None-Match) stashed in the request context, since
// go-webdav's PutCalendarObject/RemoveAll take no precondition parameter.
type basicAuthTransport struct {
	username string
	password string
	base http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.username, t.password)
	if h, ok := req.Context().Value(conditionalHeaderKey{}).(conditionalHeaders); ok {
		if h.ifMatch != "" {
			req.Header.Set("If-Match", h.ifMatch)
		}
		if h.ifNoneMatch != "" {
			req.Header.Set("If-None-Match", h.ifNoneMatch)
		}
	}
	return t.base.RoundTrip(req)
}
