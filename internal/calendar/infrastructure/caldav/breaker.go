package caldav

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	calendarApp "github.com/kashcal/synccore/internal/calendar/application"
)

// BreakerClient wraps a CalDAVClient with a single circuit breaker, grounded
// on the teacher's engine/runtime.Executor: open after 5 consecutive
// failures, allow one probe request per half-open window. A CalDAV server
// stuck returning 5xx or timing out stops being hammered by every account
// mailbox draining against it; DrainAccount's normal retry/backoff handles
// the per-operation pacing once the circuit is closed again.
type BreakerClient struct {
	inner calendarApp.CalDAVClient
	breaker *gobreaker.CircuitBreaker[any]
}

// NewBreakerClient wraps inner with a circuit breaker logging state changes.
func NewBreakerClient(inner calendarApp.CalDAVClient, logger *slog.Logger) *BreakerClient {
	if logger == nil {
		logger = slog.Default()
	}
	settings := gobreaker.Settings{
		Name: "caldav-client",
		MaxRequests: 1,
		Interval: 60 * time.Second,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("caldav circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}
	return &BreakerClient{
		inner: inner,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
	}
}

func runBreaker[T any](b *gobreaker.CircuitBreaker[any], fn func() (T, error)) (T, error) {
	v, err := b.Execute(func() (any, error) {
		return fn()
	})
	result, ok := v.(T)
	if !ok {
		var zero T
		return zero, err
	}
	return result, err
}

func (c *BreakerClient) DiscoverWellKnown(ctx context.Context, baseURL string) (string, error) {
	return runBreaker(c.breaker, func() (string, error) { return c.inner.DiscoverWellKnown(ctx, baseURL) })
}

func (c *BreakerClient) DiscoverPrincipal(ctx context.Context, url string) (string, error) {
	return runBreaker(c.breaker, func() (string, error) { return c.inner.DiscoverPrincipal(ctx, url) })
}

func (c *BreakerClient) DiscoverCalendarHome(ctx context.Context, principalURL string) ([]string, error) {
	return runBreaker(c.breaker, func() ([]string, error) { return c.inner.DiscoverCalendarHome(ctx, principalURL) })
}

func (c *BreakerClient) ListCalendars(ctx context.Context, homeSetURL string) ([]calendarApp.RemoteCalendar, error) {
	return runBreaker(c.breaker, func() ([]calendarApp.RemoteCalendar, error) { return c.inner.ListCalendars(ctx, homeSetURL) })
}

func (c *BreakerClient) ListResources(ctx context.Context, calendarHomeURL string) ([]calendarApp.RemoteResource, error) {
	return runBreaker(c.breaker, func() ([]calendarApp.RemoteResource, error) { return c.inner.ListResources(ctx, calendarHomeURL) })
}

func (c *BreakerClient) GetResource(ctx context.Context, url string) (calendarApp.RemoteObject, error) {
	return runBreaker(c.breaker, func() (calendarApp.RemoteObject, error) { return c.inner.GetResource(ctx, url) })
}

func (c *BreakerClient) CreateEvent(ctx context.Context, calendarURL, uid, iCalBody string) (string, string, error) {
	type result struct{ url, etag string }
	r, err := runBreaker(c.breaker, func() (result, error) {
		url, etag, err := c.inner.CreateEvent(ctx, calendarURL, uid, iCalBody)
		return result{url, etag}, err
	})
	return r.url, r.etag, err
}

func (c *BreakerClient) UpdateEvent(ctx context.Context, resourceURL, iCalBody, ifMatchEtag string) (string, error) {
	return runBreaker(c.breaker, func() (string, error) { return c.inner.UpdateEvent(ctx, resourceURL, iCalBody, ifMatchEtag) })
}

func (c *BreakerClient) DeleteEvent(ctx context.Context, resourceURL, ifMatchEtag string) error {
	_, err := runBreaker(c.breaker, func() (struct{}, error) {
		return struct{}{}, c.inner.DeleteEvent(ctx, resourceURL, ifMatchEtag)
	})
	return err
}
