package sso

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeProvider is an in-process OIDC provider for exercising the full
// relying-party flow: discovery, JWKS, token exchange, and userinfo.
type fakeProvider struct {
	server *httptest.Server
	key    *rsa.PrivateKey
	issuer string

	clientID    string
	accessToken string

	// identity returned in tokens and userinfo
	subject  string
	email    string
	username string
	name     string

	// nonce to embed in the next ID token; tests copy it out of the
	// authorization URL the way a real provider would
	nonce string

	// failure injection
	rejectExchange bool
	omitIDToken    bool
	nonceOverride  string
	atHashOverride string
	audOverride    string
	failUserInfo   bool

	tokenCalls    int32
	userInfoCalls int32
	lastVerifier  atomic.Value
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	p := &fakeProvider{
		key:         key,
		clientID:    "shelf-client",
		accessToken: "access-token-1",
		subject:     "abc123",
		email:       "a@example.com",
		username:    "alice",
		name:        "Alice",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", p.handleDiscovery)
	mux.HandleFunc("/keys", p.handleJWKS)
	mux.HandleFunc("/token", p.handleToken)
	mux.HandleFunc("/userinfo", p.handleUserInfo)

	p.server = httptest.NewServer(mux)
	p.issuer = p.server.URL
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"issuer":                                p.issuer,
		"authorization_endpoint":                p.issuer + "/authorize",
		"token_endpoint":                        p.issuer + "/token",
		"userinfo_endpoint":                     p.issuer + "/userinfo",
		"jwks_uri":                              p.issuer + "/keys",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (p *fakeProvider) handleJWKS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"keys": []map[string]string{{
			"kty": "RSA",
			"alg": "RS256",
			"use": "sig",
			"kid": "test-key",
			"n":   base64.RawURLEncoding.EncodeToString(p.key.N.Bytes()),
			"e":   "AQAB",
		}},
	})
}

func (p *fakeProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&p.tokenCalls, 1)

	if p.rejectExchange {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		return
	}

	if err := r.ParseForm(); err == nil {
		p.lastVerifier.Store(r.PostForm.Get("code_verifier"))
	}

	resp := map[string]interface{}{
		"access_token": p.accessToken,
		"token_type":   "Bearer",
		"expires_in":   3600,
	}
	if !p.omitIDToken {
		resp["id_token"] = p.signIDToken()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (p *fakeProvider) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&p.userInfoCalls, 1)

	if p.failUserInfo {
		http.Error(w, "unavailable", http.StatusInternalServerError)
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+p.accessToken {
		http.Error(w, "bad token", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"sub":                p.subject,
		"email":              p.email,
		"preferred_username": p.username,
		"name":               p.name,
	})
}

func (p *fakeProvider) signIDToken() string {
	nonce := p.nonce
	if p.nonceOverride != "" {
		nonce = p.nonceOverride
	}
	aud := p.clientID
	if p.audOverride != "" {
		aud = p.audOverride
	}
	atHash := accessTokenHash(p.accessToken)
	if p.atHashOverride != "" {
		atHash = p.atHashOverride
	}

	now := time.Now()
	claims := map[string]interface{}{
		"iss":                p.issuer,
		"sub":                p.subject,
		"aud":                aud,
		"exp":                now.Add(time.Hour).Unix(),
		"iat":                now.Unix(),
		"nonce":              nonce,
		"at_hash":            atHash,
		"email":              p.email,
		"preferred_username": p.username,
		"name":               p.name,
	}

	header := map[string]string{"alg": "RS256", "typ": "JWT", "kid": "test-key"}
	headerJSON, _ := json.Marshal(header)
	claimsJSON, _ := json.Marshal(claims)

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(claimsJSON)

	digest := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, p.key, crypto.SHA256, digest[:])
	if err != nil {
		panic(fmt.Sprintf("failed to sign test token: %v", err))
	}

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
}

// accessTokenHash computes at_hash for RS256: the left half of the SHA-256
// digest, URL-safe base64 encoded
func accessTokenHash(accessToken string) string {
	digest := sha256.Sum256([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(digest[:16])
}

// authParams extracts the query parameters from an authorization URL
func authParams(t *testing.T, authURL string) url.Values {
	t.Helper()
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(u.Path, "/authorize"))
	return u.Query()
}
