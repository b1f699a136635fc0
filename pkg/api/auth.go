package api

import (
	"errors"
	"net/http"

	"github.com/shelfhq/shelf/pkg/httputil"
	"github.com/shelfhq/shelf/pkg/observability"
	"github.com/shelfhq/shelf/pkg/session"
	"github.com/shelfhq/shelf/pkg/users"
)

// SessionMiddleware resolves the session cookie into a user and places it in
// the request context. Requests without a valid session pass through
// unauthenticated; individual handlers decide whether that is acceptable.
func SessionMiddleware(sessions session.Store, userStore *users.Store, logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(session.CookieName)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			sess, err := sessions.Get(r.Context(), cookie.Value)
			if err != nil {
				if !errors.Is(err, session.ErrSessionNotFound) {
					logger.WithError(err).Warn("session lookup failed")
				}
				next.ServeHTTP(w, r)
				return
			}

			user, err := userStore.GetByID(r.Context(), sess.UserID)
			if err != nil {
				// A session for a deleted user is as good as no session
				if !errors.Is(err, users.ErrUserNotFound) {
					logger.WithError(err).Warn("user lookup failed")
				}
				next.ServeHTTP(w, r)
				return
			}

			ctx := users.WithUser(r.Context(), user)
			ctx = observability.WithUserID(ctx, user.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// handleMe returns the authenticated user's profile
func handleMe(w http.ResponseWriter, r *http.Request) {
	user := users.FromContext(r.Context())
	if user == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	httputil.WriteSuccess(w, user)
}
