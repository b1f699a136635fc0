package users

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/google/uuid"

	"github.com/shelfhq/shelf/pkg/observability"
)

var (
	// ErrMissingClaim indicates the provider's token lacked an attribute
	// required to establish a local account
	ErrMissingClaim = errors.New("required claim missing from identity")
	// ErrSignupDisabled indicates no local account matched and account
	// creation from SSO logins is turned off
	ErrSignupDisabled = errors.New("account registration is disabled")
)

// Claims carries the identity attributes extracted from a verified login
type Claims struct {
	Provider string
	Subject  string
	Email    string
	Username string
	Name     string
}

// HandleFor derives the deterministic local account ID for a federated
// identity. The same provider and subject always map to the same handle,
// so repeated logins are idempotent without a mapping table.
func HandleFor(provider, subject string) string {
	h := fnv.New64a()
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write([]byte(subject))
	return fmt.Sprintf("%016x", h.Sum64())
}

// NewLocalUser builds an account that does not originate from a federation
// provider. Its ID is random.
func NewLocalUser(username, email, name string) *User {
	return &User{
		ID:       uuid.NewString(),
		Username: username,
		Email:    email,
		Name:     name,
	}
}

// Resolver maps verified federated identities onto local accounts
type Resolver struct {
	store       *Store
	allowSignup bool
	logger      *observability.Logger
}

// NewResolver creates a resolver. When allowSignup is false, identities
// without a matching local account are rejected instead of provisioned.
func NewResolver(store *Store, allowSignup bool, logger *observability.Logger) *Resolver {
	return &Resolver{
		store:       store,
		allowSignup: allowSignup,
		logger:      logger.WithField("component", "user-resolver"),
	}
}

// Resolve finds or provisions the local account for the given identity.
//
// Lookup order is deterministic handle, then email, then username; the
// first match wins and is returned as-is. Existing records are never
// mutated from SSO claims.
func (r *Resolver) Resolve(ctx context.Context, claims Claims) (*User, error) {
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("%w: email", ErrMissingClaim)
	}
	if claims.Username == "" {
		return nil, fmt.Errorf("%w: preferred_username", ErrMissingClaim)
	}

	handle := HandleFor(claims.Provider, claims.Subject)

	user, err := r.store.GetByID(ctx, handle)
	if errors.Is(err, ErrUserNotFound) {
		user, err = r.store.GetByEmail(ctx, claims.Email)
	}
	if errors.Is(err, ErrUserNotFound) {
		user, err = r.store.GetByUsername(ctx, claims.Username)
	}
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	if !r.allowSignup {
		return nil, ErrSignupDisabled
	}

	name := claims.Name
	if name == "" {
		name = claims.Subject
	}

	user = &User{
		ID:       handle,
		Username: claims.Username,
		Email:    claims.Email,
		Name:     name,
		Provider: claims.Provider,
		Subject:  claims.Subject,
	}
	if err := r.store.Create(ctx, user); err != nil {
		return nil, err
	}

	r.logger.WithFields(map[string]interface{}{
		"user_id":  user.ID,
		"provider": claims.Provider,
	}).Info("provisioned account from federated identity")
	return user, nil
}
