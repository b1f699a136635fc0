package sso

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/shelfhq/shelf/pkg/httputil"
	"github.com/shelfhq/shelf/pkg/observability"
	"github.com/shelfhq/shelf/pkg/session"
	"github.com/shelfhq/shelf/pkg/users"
)

// flowCookieName carries the opaque flow ID between initiation and
// callback. Short-lived and scoped to the SSO endpoints.
const flowCookieName = "shelf_sso_flow"

// Handlers exposes the login flow over HTTP
type Handlers struct {
	manager  *Manager
	resolver *users.Resolver
	sessions session.Store
	logger   *observability.Logger
	metrics  *observability.Metrics

	flowTTL       time.Duration
	sessionTTL    time.Duration
	secureCookies bool
}

// HandlerConfig wires the collaborators for the SSO endpoints
type HandlerConfig struct {
	// Manager is nil when SSO is disabled; endpoints then answer 404
	Manager  *Manager
	Resolver *users.Resolver
	Sessions session.Store
	Logger   *observability.Logger
	Metrics  *observability.Metrics

	FlowTTL       time.Duration
	SessionTTL    time.Duration
	SecureCookies bool
}

// NewHandlers creates the SSO HTTP handlers
func NewHandlers(cfg HandlerConfig) *Handlers {
	return &Handlers{
		manager:       cfg.Manager,
		resolver:      cfg.Resolver,
		sessions:      cfg.Sessions,
		logger:        cfg.Logger.WithField("component", "sso-handlers"),
		metrics:       cfg.Metrics,
		flowTTL:       cfg.FlowTTL,
		sessionTTL:    cfg.SessionTTL,
		secureCookies: cfg.SecureCookies,
	}
}

// RegisterRoutes mounts the SSO endpoints on the router
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/auth/sso/login", h.HandleLogin).Methods(http.MethodGet)
	r.HandleFunc("/auth/sso/callback", h.HandleCallback).Methods(http.MethodGet)
	r.HandleFunc("/auth/logout", h.HandleLogout).Methods(http.MethodPost)
}

// HandleLogin initiates a flow and redirects the browser to the provider
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		httputil.WriteNotFoundError(w, "single sign-on is not enabled")
		return
	}

	returnTo := sanitizeReturnTo(r.URL.Query().Get("return_to"))

	flowID, authURL, err := h.manager.Initiate(r.Context(), returnTo)
	if err != nil {
		h.logger.WithError(err).Error("failed to initiate SSO flow")
		httputil.WriteServiceUnavailable(w, "login is temporarily unavailable")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     flowCookieName,
		Value:    flowID,
		Path:     "/auth/sso",
		MaxAge:   int(h.flowTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleCallback validates the provider callback, resolves the local
// account, and establishes a session
func (h *Handlers) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		httputil.WriteNotFoundError(w, "single sign-on is not enabled")
		return
	}

	// The flow cookie is single-use either way
	flowCookie, cookieErr := r.Cookie(flowCookieName)
	http.SetCookie(w, &http.Cookie{
		Name:   flowCookieName,
		Path:   "/auth/sso",
		MaxAge: -1,
	})

	if cookieErr != nil {
		h.failLogin(w, ErrNoPendingFlow)
		return
	}

	query := r.URL.Query()
	if provErr := query.Get("error"); provErr != "" {
		// Provider-reported errors never reach the browser verbatim
		h.logger.WithField("provider_error", provErr).Warn("provider returned an authorization error")
		h.failLogin(w, ErrExchangeFailed)
		return
	}

	identity, returnTo, err := h.manager.Callback(r.Context(), flowCookie.Value, query.Get("state"), query.Get("code"))
	if err != nil {
		h.logger.WithError(err).WithField("reason", FailureReason(err)).Warn("SSO callback failed")
		h.failLogin(w, err)
		return
	}

	user, err := h.resolver.Resolve(r.Context(), users.Claims{
		Provider: identity.Provider,
		Subject:  identity.Subject,
		Email:    identity.Email,
		Username: identity.Username,
		Name:     identity.Name,
	})
	if err != nil {
		h.logger.WithError(err).Warn("failed to resolve local account for identity")
		switch {
		case errors.Is(err, users.ErrSignupDisabled):
			httputil.WriteForbidden(w, "account registration is disabled")
		case errors.Is(err, users.ErrMissingClaim):
			httputil.WriteForbidden(w, "the identity provider did not supply a usable account")
		default:
			httputil.WriteInternalError(w, errors.New("login failed"))
		}
		return
	}

	sess, err := h.sessions.Establish(r.Context(), user.ID)
	if err != nil {
		h.logger.WithError(err).Error("failed to establish session")
		httputil.WriteInternalError(w, errors.New("login failed"))
		return
	}
	if h.metrics != nil {
		h.metrics.SessionsEstablished.Inc()
	}

	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    sess.Token,
		Path:     "/",
		MaxAge:   int(h.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	if returnTo == "" {
		returnTo = "/"
	}
	http.Redirect(w, r, returnTo, http.StatusFound)
}

// HandleLogout destroys the current session
func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(session.CookieName); err == nil {
		if err := h.sessions.Destroy(r.Context(), cookie.Value); err != nil {
			h.logger.WithError(err).Warn("failed to destroy session")
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:   session.CookieName,
		Path:   "/",
		MaxAge: -1,
	})
	http.Redirect(w, r, "/", http.StatusFound)
}

// failLogin surfaces a callback failure without leaking flow or provider
// detail, and never redirects into an authenticated area
func (h *Handlers) failLogin(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNoPendingFlow):
		httputil.WriteBadRequest(w, "login flow expired or unknown; please sign in again")
	case errors.Is(err, ErrStateMismatch):
		httputil.WriteBadRequest(w, "login flow could not be validated; please sign in again")
	default:
		httputil.WriteErrorMessage(w, http.StatusBadGateway, "login failed; please sign in again")
	}
}

// sanitizeReturnTo accepts only same-site absolute paths as post-login
// targets, discarding anything that could redirect off-site
func sanitizeReturnTo(target string) string {
	if target == "" || !strings.HasPrefix(target, "/") {
		return ""
	}
	if strings.HasPrefix(target, "//") || strings.ContainsAny(target, "\\\r\n") {
		return ""
	}
	return target
}
