// Package sso implements federated single sign-on over OpenID Connect.
//
// A login is a two-phase flow. Initiate generates the per-flow secrets
// (PKCE verifier, nonce, anti-forgery state), parks them in a bounded
// pending cache under an opaque flow ID, and returns the provider's
// authorization URL. Callback consumes the pending record exactly once and
// walks the validation chain: state comparison, code exchange with the PKCE
// verifier, ID token verification against the stored nonce, access-token
// hash check, and the userinfo fetch. Every failure is terminal for the
// flow; the user restarts at Initiate.
//
// All provider traffic goes through a hardened HTTP client that never
// follows redirects and identifies itself with a Referer from the service's
// public origin.
package sso
