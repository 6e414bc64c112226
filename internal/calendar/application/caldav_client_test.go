package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// discoveryStubClient implements just enough of CalDAVClient to drive
// DiscoverAccount's well-known/probe/principal/home chain.
type discoveryStubClient struct {
	*fakeCalDAVClient
	wellKnownErr error
	principalErrByURL map[string]error
}

func newDiscoveryStubClient() *discoveryStubClient {
	return &discoveryStubClient{
		fakeCalDAVClient: newFakeCalDAVClient(),
		principalErrByURL: make(map[string]error),
	}
}

func (c *discoveryStubClient) DiscoverWellKnown(ctx context.Context, baseURL string) (string, error) {
	if c.wellKnownErr != nil {
		return "", c.wellKnownErr
	}
	return baseURL + "/.well-known/caldav", nil
}

func (c *discoveryStubClient) DiscoverPrincipal(ctx context.Context, url string) (string, error) {
	if err, ok := c.principalErrByURL[url]; ok {
		return "", err
	}
	return strings.TrimSuffix(url, "/") + "/principal", nil
}

func TestDiscoverAccount_WellKnownSucceeds(t *testing.T) {
	client := newDiscoveryStubClient()

	principalURL, homeURL, err := DiscoverAccount(context.Background(), client, "https://cal.example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://cal.example.com/.well-known/caldav/principal", principalURL)
	assert.Equal(t, principalURL, homeURL)
}

func TestDiscoverAccount_WellKnown404FallsBackToProbePaths(t *testing.T) {
	client := newDiscoveryStubClient()
	client.wellKnownErr = NewClientError(ClientErrNotFound, errors.New("not found"))
	// Every probe fails except "/dav/", the second entry in DiscoveryProbePaths.
	for _, probe := range DiscoveryProbePaths {
		if probe == "/dav/" {
			continue
		}
		client.principalErrByURL["https://cal.example.com"+probe] = NewClientError(ClientErrNotFound, errors.New("not found"))
	}

	principalURL, homeURL, err := DiscoverAccount(context.Background(), client, "https://cal.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "https://cal.example.com/dav/principal", principalURL)
	assert.Equal(t, principalURL, homeURL)
}

func TestDiscoverAccount_WellKnown404AllProbesFail(t *testing.T) {
	client := newDiscoveryStubClient()
	client.wellKnownErr = NewClientError(ClientErrNotFound, errors.New("not found"))
	for _, probe := range DiscoveryProbePaths {
		client.principalErrByURL["https://cal.example.com"+probe] = NewClientError(ClientErrNotFound, errors.New("not found"))
	}

	_, _, err := DiscoverAccount(context.Background(), client, "https://cal.example.com")
	assert.Error(t, err)
}

func TestClientErrorKind_String(t *testing.T) {
	cases := map[ClientErrorKind]string{
		ClientErrNotFound: "NotFound",
		ClientErrConflict: "Conflict",
		ClientErrAuth: "Auth",
		ClientErrNetwork: "Network",
		ClientErrServer: "Server",
		ClientErrorKind(99): "Unknown",
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.String())
	}
}

func TestClientError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewClientError(ClientErrNetwork, cause)
	assert.Equal(t, "Network: connection refused", err.Error())
	assert.Equal(t, cause, errors.Unwrap(err))

	bare := NewClientError(ClientErrAuth, nil)
	assert.Equal(t, "Auth", bare.Error())
}

func TestClientError_ErrorsAs(t *testing.T) {
	wrapped := fmt.Errorf("dispatch failed: %w", NewClientError(ClientErrConflict, nil))
	var clientErr *ClientError
	require := assert.New(t)
	require.True(errors.As(wrapped, &clientErr))
	require.Equal(ClientErrConflict, clientErr.Kind)
}
