package sso

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/shelfhq/shelf/pkg/observability"
)

// Options configures the relying-party client built by the factory
type Options struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	Scopes       []string
	RedirectURL  string

	// PublicOrigin is the service's own public base URL; its value is
	// sent as the Referer header on provider requests, since some
	// providers reject referrer-less POSTs
	PublicOrigin string

	// RequestTimeout bounds each provider round trip
	RequestTimeout time.Duration

	// DevProxyURL routes provider traffic through an egress proxy and,
	// with DevProxyInsecure, skips certificate verification. Development
	// only.
	DevProxyURL      string
	DevProxyInsecure bool
}

// Client is a protocol client bound to one discovered provider
type Client struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	oauth2   oauth2.Config
	http     *http.Client
}

// AuthCodeURL builds the provider authorization URL for an
// authorization-code flow with the given state, nonce, and PKCE verifier
func (c *Client) AuthCodeURL(state, nonce, pkceVerifier string) string {
	return c.oauth2.AuthCodeURL(state,
		oauth2.S256ChallengeOption(pkceVerifier),
		oidc.Nonce(nonce),
	)
}

// context returns ctx with the hardened HTTP client attached, so go-oidc
// and oauth2 use it for all provider traffic
func (c *Client) context(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, c.http)
}

// ClientFactory discovers provider metadata and builds protocol clients.
// Discovery is performed once and cached for the process lifetime; a failed
// discovery is retried on the next request for a client.
type ClientFactory struct {
	opts   Options
	logger *observability.Logger

	mu     sync.Mutex
	client *Client
}

// NewClientFactory creates a factory for the configured issuer
func NewClientFactory(opts Options, logger *observability.Logger) *ClientFactory {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	return &ClientFactory{
		opts:   opts,
		logger: logger.WithField("component", "sso-client"),
	}
}

// Client returns the protocol client, discovering provider metadata on
// first use
func (f *ClientFactory) Client(ctx context.Context) (*Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.client != nil {
		return f.client, nil
	}

	httpClient, err := f.newHTTPClient()
	if err != nil {
		return nil, err
	}

	discoveryCtx := oidc.ClientContext(ctx, httpClient)
	provider, err := oidc.NewProvider(discoveryCtx, f.opts.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscoveryFailed, err)
	}

	f.client = &Client{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: f.opts.ClientID}),
		oauth2: oauth2.Config{
			ClientID:     f.opts.ClientID,
			ClientSecret: f.opts.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  f.opts.RedirectURL,
			Scopes:       f.opts.Scopes,
		},
		http: httpClient,
	}

	f.logger.WithField("issuer", f.opts.IssuerURL).Info("discovered OIDC provider")
	return f.client, nil
}

// newHTTPClient builds the transport used for discovery and all subsequent
// provider calls: no automatic redirect following, a Referer header from
// the public origin, and the optional development egress proxy
func (f *ClientFactory) newHTTPClient() (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if f.opts.DevProxyURL != "" {
		proxyURL, err := url.Parse(f.opts.DevProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid dev proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
		if f.opts.DevProxyInsecure {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		f.logger.WithFields(map[string]interface{}{
			"proxy":         f.opts.DevProxyURL,
			"cert_insecure": f.opts.DevProxyInsecure,
		}).Warn("SSO development proxy active; provider traffic is NOT verified for production use")
	}

	return &http.Client{
		Timeout: f.opts.RequestTimeout,
		Transport: &refererTransport{
			base:    transport,
			referer: f.opts.PublicOrigin,
		},
		// A provider response must never steer this client anywhere else
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}

// refererTransport attaches the service's public origin as Referer on
// every outbound provider request
type refererTransport struct {
	base    http.RoundTripper
	referer string
}

func (t *refererTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.referer != "" && req.Header.Get("Referer") == "" {
		clone := req.Clone(req.Context())
		clone.Header.Set("Referer", t.referer)
		req = clone
	}
	return t.base.RoundTrip(req)
}
