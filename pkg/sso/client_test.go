package sso

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfhq/shelf/pkg/observability"
)

func discardLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func TestClientFactory_DiscoversOnce(t *testing.T) {
	p := newFakeProvider(t)
	factory := NewClientFactory(Options{
		IssuerURL:   p.issuer,
		ClientID:    p.clientID,
		Scopes:      []string{"openid"},
		RedirectURL: "http://shelf.example.com/auth/sso/callback",
	}, discardLogger())

	first, err := factory.Client(context.Background())
	require.NoError(t, err)

	second, err := factory.Client(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestClientFactory_DiscoveryFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	factory := NewClientFactory(Options{
		IssuerURL:   server.URL,
		ClientID:    "shelf-client",
		Scopes:      []string{"openid"},
		RedirectURL: "http://shelf.example.com/auth/sso/callback",
	}, discardLogger())

	_, err := factory.Client(context.Background())
	assert.ErrorIs(t, err, ErrDiscoveryFailed)
}

func TestHTTPClient_NeverFollowsRedirects(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Redirect(w, r, "http://attacker.example.com/", http.StatusFound)
	}))
	defer server.Close()

	factory := NewClientFactory(Options{PublicOrigin: "http://shelf.example.com"}, discardLogger())
	client, err := factory.newHTTPClient()
	require.NoError(t, err)

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, 1, hits, "redirect must not be followed")
}

func TestHTTPClient_AttachesReferer(t *testing.T) {
	var referer string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		referer = r.Header.Get("Referer")
	}))
	defer server.Close()

	factory := NewClientFactory(Options{PublicOrigin: "http://shelf.example.com"}, discardLogger())
	client, err := factory.newHTTPClient()
	require.NoError(t, err)

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "http://shelf.example.com", referer)
}

func TestHTTPClient_DevProxyWarnsLoudly(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.WarnLevel, &buf)

	factory := NewClientFactory(Options{
		DevProxyURL:      "http://localhost:8888",
		DevProxyInsecure: true,
	}, logger)

	_, err := factory.newHTTPClient()
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "development proxy")
}

func TestHTTPClient_InvalidDevProxyURL(t *testing.T) {
	factory := NewClientFactory(Options{DevProxyURL: "://bad"}, discardLogger())
	_, err := factory.newHTTPClient()
	assert.Error(t, err)
}
