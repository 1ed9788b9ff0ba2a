package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inseam/inseam/internal/config"
)

func testManager(enabled bool) *Manager {
	return NewManager(config.AuthConfig{
		Enabled:         enabled,
		CookieName:      "inseam_session",
		SessionTTLHours: 1,
	}, "http://localhost:8080")
}

func TestMiddleware_DisabledUsesHeaderIdentity(t *testing.T) {
	m := testManager(false)

	var gotUserID string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = UserID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/trackers", nil)
	req.Header.Set("X-User-ID", "user-42")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "user-42", gotUserID)

	// No header falls back to the local development identity
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/trackers", nil))
	assert.Equal(t, "local-user", gotUserID)
}

func TestMiddleware_APIRequiresSession(t *testing.T) {
	m := testManager(true)

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run without a session")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trackers", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "unauthorized")
}

func TestMiddleware_HealthAndAuthPathsOpen(t *testing.T) {
	m := testManager(true)

	called := 0
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	assert.Equal(t, 2, called)
}

func TestGetSession_Expiry(t *testing.T) {
	m := testManager(true)

	m.sessions["sess-1"] = &Session{
		UserID:    "user-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}

	req := httptest.NewRequest(http.MethodGet, "/api/trackers", nil)
	req.AddCookie(&http.Cookie{Name: "inseam_session", Value: "sess-1"})

	session := m.GetSession(req)
	require.NotNil(t, session)
	assert.Equal(t, "user-1", session.UserID)

	// Expired sessions are dropped on access
	m.sessions["sess-1"].ExpiresAt = time.Now().Add(-time.Minute)
	assert.Nil(t, m.GetSession(req))
	_, ok := m.sessions["sess-1"]
	assert.False(t, ok)
}

func TestMiddleware_SessionStampsUserID(t *testing.T) {
	m := testManager(true)
	m.sessions["sess-9"] = &Session{UserID: "user-9", ExpiresAt: time.Now().Add(time.Hour)}

	var gotUserID string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = UserID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/updates", nil)
	req.AddCookie(&http.Cookie{Name: "inseam_session", Value: "sess-9"})
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "user-9", gotUserID)
}

func TestHandleLogin_SetsStateCookie(t *testing.T) {
	m := testManager(true)

	rec := httptest.NewRecorder()
	m.HandleLogin(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))

	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "accounts.google.com")

	var stateCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "oauth_state" {
			stateCookie = c
		}
	}
	require.NotNil(t, stateCookie)
	assert.NotEmpty(t, stateCookie.Value)
}
