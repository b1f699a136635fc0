package sso

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfhq/shelf/pkg/session"
	"github.com/shelfhq/shelf/pkg/users"
)

type harness struct {
	provider *fakeProvider
	router   *mux.Router
	store    *users.Store
	sessions *session.MemoryStore
}

func newHarness(t *testing.T, allowSignup, ssoEnabled bool) *harness {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := users.NewStore(db)
	require.NoError(t, store.InitSchema(context.Background()))

	logger := discardLogger()
	sessions := session.NewMemoryStore(time.Hour)

	h := &harness{
		provider: newFakeProvider(t),
		store:    store,
		sessions: sessions,
	}

	var manager *Manager
	if ssoEnabled {
		manager = newTestManager(t, h.provider, time.Minute)
	}

	handlers := NewHandlers(HandlerConfig{
		Manager:    manager,
		Resolver:   users.NewResolver(store, allowSignup, logger),
		Sessions:   sessions,
		Logger:     logger,
		FlowTTL:    2 * time.Minute,
		SessionTTL: time.Hour,
	})

	h.router = mux.NewRouter()
	handlers.RegisterRoutes(h.router)
	return h
}

// login performs the initiate request and plays the provider's role,
// returning the flow cookie and the state to echo back
func (h *harness) login(t *testing.T, returnTo string) (*http.Cookie, string) {
	t.Helper()

	target := "/auth/sso/login"
	if returnTo != "" {
		target += "?return_to=" + url.QueryEscape(returnTo)
	}

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusFound, rec.Code)

	params := authParams(t, rec.Header().Get("Location"))
	h.provider.nonce = params.Get("nonce")

	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == flowCookieName {
			return cookie, params.Get("state")
		}
	}
	t.Fatal("flow cookie not set")
	return nil, ""
}

func (h *harness) callback(t *testing.T, cookie *http.Cookie, state, code string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet,
		"/auth/sso/callback?state="+url.QueryEscape(state)+"&code="+url.QueryEscape(code), nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == session.CookieName && cookie.Value != "" {
			return cookie
		}
	}
	return nil
}

func TestHandleLogin_RedirectsToProvider(t *testing.T) {
	h := newHarness(t, true, true)

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/sso/login", nil))

	require.Equal(t, http.StatusFound, rec.Code)
	params := authParams(t, rec.Header().Get("Location"))
	assert.Equal(t, "code", params.Get("response_type"))

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, flowCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, "/auth/sso", cookies[0].Path)
}

func TestHandleLogin_Disabled(t *testing.T) {
	h := newHarness(t, true, false)

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/sso/login", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/sso/callback", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFullFlow_EstablishesSession(t *testing.T) {
	h := newHarness(t, true, true)

	cookie, state := h.login(t, "/books")
	rec := h.callback(t, cookie, state, "auth-code")

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/books", rec.Header().Get("Location"))

	sc := sessionCookie(rec)
	require.NotNil(t, sc)
	assert.True(t, sc.HttpOnly)

	sess, err := h.sessions.Get(context.Background(), sc.Value)
	require.NoError(t, err)
	assert.Equal(t, users.HandleFor(h.provider.issuer, "abc123"), sess.UserID)

	user, err := h.store.GetByID(context.Background(), sess.UserID)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "a@example.com", user.Email)
}

func TestFullFlow_DefaultsToRoot(t *testing.T) {
	h := newHarness(t, true, true)

	cookie, state := h.login(t, "")
	rec := h.callback(t, cookie, state, "auth-code")

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestFullFlow_RejectsOffsiteReturnTo(t *testing.T) {
	h := newHarness(t, true, true)

	cookie, state := h.login(t, "https://evil.example.com/")
	rec := h.callback(t, cookie, state, "auth-code")

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestCallback_MissingFlowCookie(t *testing.T) {
	h := newHarness(t, true, true)

	rec := h.callback(t, nil, "some-state", "auth-code")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, sessionCookie(rec))
}

func TestCallback_WrongState(t *testing.T) {
	h := newHarness(t, true, true)

	cookie, _ := h.login(t, "")
	rec := h.callback(t, cookie, "wrong", "auth-code")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, sessionCookie(rec))
}

func TestCallback_Replay(t *testing.T) {
	h := newHarness(t, true, true)

	cookie, state := h.login(t, "")
	rec := h.callback(t, cookie, state, "auth-code")
	require.Equal(t, http.StatusFound, rec.Code)

	rec = h.callback(t, cookie, state, "auth-code")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, sessionCookie(rec))
}

func TestCallback_ProviderError(t *testing.T) {
	h := newHarness(t, true, true)

	cookie, _ := h.login(t, "")

	req := httptest.NewRequest(http.MethodGet, "/auth/sso/callback?error=access_denied", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	// the provider's error text stays out of the response
	assert.NotContains(t, rec.Body.String(), "access_denied")
}

func TestCallback_SignupDisabled(t *testing.T) {
	h := newHarness(t, false, true)

	cookie, state := h.login(t, "")
	rec := h.callback(t, cookie, state, "auth-code")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Nil(t, sessionCookie(rec))

	n, err := h.store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHandleLogout(t *testing.T) {
	h := newHarness(t, true, true)

	sess, err := h.sessions.Establish(context.Background(), "user-1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: sess.Token})
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)

	_, err = h.sessions.Get(context.Background(), sess.Token)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestSanitizeReturnTo(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/books", "/books"},
		{"/books?page=2", "/books?page=2"},
		{"", ""},
		{"https://evil.example.com/", ""},
		{"//evil.example.com/", ""},
		{"books", ""},
		{"/ok\\bad", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeReturnTo(tt.in), "input %q", tt.in)
	}
}
