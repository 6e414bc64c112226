// Package ics implements application.ICSClient: a conditional-GET fetcher
// for subscribed ICS feeds. It carries no knowledge of the
// iCalendar grammar itself — that stays behind application.ICalCodec.
package ics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	calendarApp "github.com/kashcal/synccore/internal/calendar/application"
)

// Client fetches ICS feeds over HTTP(S) with If-None-Match/If-Modified-Since
// conditional headers.
type Client struct {
	http *http.Client
}

// NewClient builds an ICS feed client.
func NewClient() *Client {
	return &Client{http: &http.Client{Timeout: 30 * time.Second}}
}

// Fetch issues a conditional GET against feedURL. webcal:// is normalized to
// https:// before the request (most subscription URLs are shared in the
// webcal scheme, which no net/http transport understands).
func (c *Client) Fetch(ctx context.Context, feedURL, etag, lastModified string) (calendarApp.ICSFetchResult, error) {
	feedURL = normalizeScheme(feedURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return calendarApp.ICSFetchResult{}, calendarApp.NewClientError(calendarApp.ClientErrNetwork, err)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return calendarApp.ICSFetchResult{}, calendarApp.NewClientError(calendarApp.ClientErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return calendarApp.ICSFetchResult{NotModified: true, ETag: etag, LastModified: lastModified}, nil
	case resp.StatusCode == http.StatusNotFound:
		return calendarApp.ICSFetchResult{}, calendarApp.NewClientError(calendarApp.ClientErrNotFound, fmt.Errorf("ics feed not found"))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return calendarApp.ICSFetchResult{}, calendarApp.NewClientError(calendarApp.ClientErrAuth, fmt.Errorf("ics feed: status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return calendarApp.ICSFetchResult{}, calendarApp.NewClientError(calendarApp.ClientErrServer, fmt.Errorf("ics feed: status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return calendarApp.ICSFetchResult{}, calendarApp.NewClientError(calendarApp.ClientErrServer, fmt.Errorf("ics feed: unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return calendarApp.ICSFetchResult{}, calendarApp.NewClientError(calendarApp.ClientErrNetwork, err)
	}

	return calendarApp.ICSFetchResult{
		Body: string(body),
		ETag: resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}

func normalizeScheme(feedURL string) string {
	if strings.HasPrefix(feedURL, "webcal://") {
		return "https://" + strings.TrimPrefix(feedURL, "webcal://")
	}
	return feedURL
}
