package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/officekit/addin-auth/internal/sessions"
	"github.com/officekit/addin-auth/internal/users"
)

type fakeValidator struct {
	sessions map[string]*sessions.Session // keyed by derived session id
}

func (f *fakeValidator) Validate(ctx context.Context, sessionID string) (*sessions.Session, *users.User, error) {
	sess, ok := f.sessions[sessionID]
	if !ok {
		return nil, nil, nil
	}
	return sess, &users.User{ID: sess.UserID}, nil
}

func gateRouter(t *testing.T, validator SessionValidator) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthGate(DefaultGateConfig(false), validator))
	handler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": UserFromContext(c), "path": c.Request.URL.Path})
	}
	r.GET("/api/data", handler)
	r.GET("/api/auth/session", handler)
	r.GET("/dashboard", handler)
	r.GET("/assets/app.js", handler)
	r.GET("/_server-islands/widget", handler)
	return r
}

func validSession(token string) (*fakeValidator, string) {
	id := sessions.DeriveID(token)
	v := &fakeValidator{sessions: map[string]*sessions.Session{
		id: {
			ID:        id,
			UserID:    "user-1",
			ExpiresAt: time.Now().UTC().Add(time.Hour),
		},
	}}
	return v, token
}

func TestGateRejectsAPIWithoutCookie(t *testing.T) {
	r := gateRouter(t, &fakeValidator{sessions: map[string]*sessions.Session{}})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGateRedirectsPagesWithoutCookie(t *testing.T) {
	r := gateRouter(t, &fakeValidator{sessions: map[string]*sessions.Session{}})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "/login", w.Header().Get("Location"))
}

func TestGateRejectsServerIslandsWith401(t *testing.T) {
	r := gateRouter(t, &fakeValidator{sessions: map[string]*sessions.Session{}})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/_server-islands/widget", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGateBypassesUnprotectedPrefixes(t *testing.T) {
	r := gateRouter(t, &fakeValidator{sessions: map[string]*sessions.Session{}})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestGateBypassesStaticPrefixes(t *testing.T) {
	r := gateRouter(t, &fakeValidator{sessions: map[string]*sessions.Session{}})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/assets/app.js", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestGatePassesValidSession(t *testing.T) {
	raw, err := sessions.GenerateToken()
	require.NoError(t, err)
	validator, token := validSession(raw)
	r := gateRouter(t, validator)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	req.AddCookie(&http.Cookie{Name: sessions.CookieName, Value: token})
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "user-1")

	// the cookie is re-set so its expiry tracks the sliding session window
	var found bool
	for _, ck := range w.Result().Cookies() {
		if ck.Name == sessions.CookieName {
			found = true
			require.Equal(t, token, ck.Value)
			require.True(t, ck.HttpOnly)
			require.True(t, ck.Expires.After(time.Now()))
		}
	}
	require.True(t, found, "session cookie should be re-set on valid requests")
}

func TestGateClearsCookieOnInvalidSession(t *testing.T) {
	r := gateRouter(t, &fakeValidator{sessions: map[string]*sessions.Session{}})

	raw, err := sessions.GenerateToken()
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	req.AddCookie(&http.Cookie{Name: sessions.CookieName, Value: raw})
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	var cleared bool
	for _, ck := range w.Result().Cookies() {
		if ck.Name == sessions.CookieName && ck.MaxAge < 0 {
			cleared = true
		}
	}
	require.True(t, cleared, "invalid session cookie should be cleared")
}

func TestGateGuardsUnroutedPages(t *testing.T) {
	// pages gin has no route for still pass through the gate first
	r := gateRouter(t, &fakeValidator{sessions: map[string]*sessions.Session{}})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/some/page", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "/login", w.Header().Get("Location"))
}

func TestSessionFromContextEmpty(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	require.Nil(t, SessionFromContext(c))
	require.Nil(t, UserFromContext(c))
}
