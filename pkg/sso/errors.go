package sso

import "errors"

var (
	// ErrNotConfigured indicates SSO is disabled or missing required
	// settings; surfaced as an absent feature, not a runtime failure
	ErrNotConfigured = errors.New("single sign-on is not configured")

	// ErrDiscoveryFailed indicates provider metadata could not be fetched
	// or was malformed
	ErrDiscoveryFailed = errors.New("provider discovery failed")

	// ErrNoPendingFlow indicates the callback does not correspond to a
	// live initiated flow: unknown flow ID, expired entry, or a flow
	// already consumed by an earlier callback
	ErrNoPendingFlow = errors.New("no pending login flow")

	// ErrStateMismatch indicates the callback's state token does not
	// match the anti-forgery token stored at initiation
	ErrStateMismatch = errors.New("state token mismatch")

	// ErrExchangeFailed indicates the authorization code could not be
	// exchanged for tokens
	ErrExchangeFailed = errors.New("authorization code exchange failed")

	// ErrMissingIDToken indicates the token response carried no ID token
	ErrMissingIDToken = errors.New("token response missing ID token")

	// ErrInvalidIDToken indicates the ID token failed signature, issuer,
	// audience, or nonce verification
	ErrInvalidIDToken = errors.New("ID token verification failed")

	// ErrAccessTokenMismatch indicates the ID token's at_hash claim does
	// not match the received access token
	ErrAccessTokenMismatch = errors.New("access token hash mismatch")

	// ErrUserInfoFailed indicates the provider's userinfo endpoint could
	// not be queried
	ErrUserInfoFailed = errors.New("userinfo fetch failed")
)

// FailureReason maps a callback error onto a low-cardinality label for
// metrics and logs
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrNoPendingFlow):
		return "expired_or_unknown"
	case errors.Is(err, ErrStateMismatch):
		return "state_mismatch"
	case errors.Is(err, ErrExchangeFailed):
		return "exchange_failed"
	case errors.Is(err, ErrMissingIDToken):
		return "missing_id_token"
	case errors.Is(err, ErrInvalidIDToken):
		return "invalid_id_token"
	case errors.Is(err, ErrAccessTokenMismatch):
		return "access_token_mismatch"
	case errors.Is(err, ErrUserInfoFailed):
		return "userinfo_failed"
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	default:
		return "internal"
	}
}
