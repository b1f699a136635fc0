package sso

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/shelfhq/shelf/pkg/observability"
)

// Identity is the provider-asserted result of a completed login. It is
// ephemeral: consumed to resolve a local account, never persisted verbatim.
type Identity struct {
	Provider string
	Subject  string
	Email    string
	Username string
	Name     string
}

// Manager owns the client factory and the pending-flow cache, and exposes
// the two flow phases. All mutable state lives in the cache; no lock is
// held across provider round trips.
type Manager struct {
	factory *ClientFactory
	pending *PendingCache
	issuer  string
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewManager creates an SSO manager. metrics may be nil in tests.
func NewManager(factory *ClientFactory, pending *PendingCache, logger *observability.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{
		factory: factory,
		pending: pending,
		issuer:  factory.opts.IssuerURL,
		logger:  logger.WithField("component", "sso-manager"),
		metrics: metrics,
	}
}

// Initiate starts a login flow: generates the per-flow secrets, parks them
// in the pending cache, and returns the opaque flow ID with the provider
// authorization URL to redirect the user agent to
func (m *Manager) Initiate(ctx context.Context, returnTo string) (flowID, authURL string, err error) {
	client, err := m.factory.Client(ctx)
	if err != nil {
		return "", "", err
	}

	flowID, err = randomToken()
	if err != nil {
		return "", "", err
	}
	state, err := randomToken()
	if err != nil {
		return "", "", err
	}
	nonce, err := randomToken()
	if err != nil {
		return "", "", err
	}
	pkceVerifier := oauth2.GenerateVerifier()

	m.pending.Put(flowID, &PendingLogin{
		Verifier:  pkceVerifier,
		Nonce:     nonce,
		State:     state,
		ReturnTo:  returnTo,
		CreatedAt: time.Now(),
	})

	if m.metrics != nil {
		m.metrics.SSOFlowsInitiated.Inc()
		m.metrics.SSOPendingFlows.Set(float64(m.pending.Len()))
	}
	m.logger.WithField("flow_id", flowID).Debug("initiated SSO flow")

	return flowID, client.AuthCodeURL(state, nonce, pkceVerifier), nil
}

// Callback completes a login flow. It consumes the pending record for
// flowID exactly once, then validates the callback: state comparison, code
// exchange with the stored PKCE verifier, ID token verification against
// the stored nonce, access-token hash check, and the userinfo fetch.
//
// Every failure is terminal: the pending record is already gone and the
// user must restart at Initiate.
func (m *Manager) Callback(ctx context.Context, flowID, state, code string) (*Identity, string, error) {
	identity, returnTo, err := m.callback(ctx, flowID, state, code)
	if m.metrics != nil {
		m.metrics.SSOPendingFlows.Set(float64(m.pending.Len()))
		if err != nil {
			m.metrics.SSOFlowsFailed.WithLabelValues(FailureReason(err)).Inc()
		} else {
			m.metrics.SSOFlowsCompleted.Inc()
		}
	}
	return identity, returnTo, err
}

func (m *Manager) callback(ctx context.Context, flowID, state, code string) (*Identity, string, error) {
	login, ok := m.pending.Take(flowID)
	if !ok {
		return nil, "", ErrNoPendingFlow
	}

	if state != login.State {
		return nil, "", ErrStateMismatch
	}

	client, err := m.factory.Client(ctx)
	if err != nil {
		return nil, "", err
	}
	ctx = client.context(ctx)

	token, err := client.oauth2.Exchange(ctx, code, oauth2.VerifierOption(login.Verifier))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, "", ErrMissingIDToken
	}

	idToken, err := client.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
	}
	if idToken.Nonce != login.Nonce {
		return nil, "", fmt.Errorf("%w: nonce mismatch", ErrInvalidIDToken)
	}

	// Detects token substitution between issuance and use; only checked
	// when the provider included the claim
	if idToken.AccessTokenHash != "" {
		if err := idToken.VerifyAccessToken(token.AccessToken); err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrAccessTokenMismatch, err)
		}
	}

	var claims struct {
		Email             string `json:"email"`
		PreferredUsername string `json:"preferred_username"`
		Name              string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
	}

	userInfo, err := client.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUserInfoFailed, err)
	}

	var infoClaims struct {
		Email             string `json:"email"`
		PreferredUsername string `json:"preferred_username"`
		Name              string `json:"name"`
	}
	if err := userInfo.Claims(&infoClaims); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUserInfoFailed, err)
	}
	if infoClaims.Email != "" {
		claims.Email = infoClaims.Email
	}
	if infoClaims.PreferredUsername != "" {
		claims.PreferredUsername = infoClaims.PreferredUsername
	}
	if infoClaims.Name != "" {
		claims.Name = infoClaims.Name
	}

	m.logger.WithFields(map[string]interface{}{
		"flow_id": flowID,
		"subject": idToken.Subject,
	}).Info("SSO flow completed")

	return &Identity{
		Provider: m.issuer,
		Subject:  idToken.Subject,
		Email:    claims.Email,
		Username: claims.PreferredUsername,
		Name:     claims.Name,
	}, login.ReturnTo, nil
}

// randomToken returns a 256-bit random value, URL-safe base64 encoded
func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
