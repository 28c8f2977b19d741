package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/officekit/addin-auth/internal/sessions"
	"github.com/officekit/addin-auth/internal/users"
	"github.com/officekit/addin-auth/pkg/logger"
	"github.com/officekit/addin-auth/pkg/metrics"
)

// Context keys under which the gate stores the validated session and user.
const (
	ContextSession = "session"
	ContextUser    = "user"
)

// SessionValidator is the narrow interface the gate needs; implemented by
// *sessions.Service.
type SessionValidator interface {
	Validate(ctx context.Context, sessionID string) (*sessions.Session, *users.User, error)
}

// GateConfig controls which routes the gate protects and how rejections are
// delivered.
type GateConfig struct {
	// StaticPrefixes serve prerendered/static content and bypass the gate
	// entirely.
	StaticPrefixes []string
	// UnprotectedPrefixes bypass validation regardless of cookie state.
	// Sub-paths are included.
	UnprotectedPrefixes []string
	// APIPrefixes mark routes whose clients expect a machine-readable 401
	// instead of a login redirect. Server-island sub-resources belong here.
	APIPrefixes []string
	// LoginPath is where page navigations are redirected on rejection.
	LoginPath string
	// SecureCookies marks re-set and cleared cookies Secure (production).
	SecureCookies bool
}

// DefaultGateConfig mirrors the add-in's route layout.
func DefaultGateConfig(secure bool) GateConfig {
	return GateConfig{
		StaticPrefixes:      []string{"/assets", "/static"},
		UnprotectedPrefixes: []string{"/api/auth", "/login", "/dialog", "/health", "/ready", "/metrics"},
		APIPrefixes:         []string{"/api", "/_server-islands"},
		LoginPath:           "/login",
		SecureCookies:       secure,
	}
}

// AuthGate returns the middleware guarding every non-static route: it
// validates the session cookie, re-sets it with the slid expiry, and attaches
// session and user to the request context. Invalid sessions get their cookie
// cleared before rejection.
func AuthGate(cfg GateConfig, validator SessionValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path

		// Static content needs no protection.
		if hasAnyPrefix(path, cfg.StaticPrefixes) {
			c.Next()
			return
		}

		// Neither do the allow-listed routes (and their sub-routes).
		if hasAnyPrefix(path, cfg.UnprotectedPrefixes) {
			c.Next()
			return
		}

		token := sessions.TokenFromCookie(c)
		if token == "" {
			metrics.AuthRejected.WithLabelValues("no_token").Inc()
			reject(c, cfg)
			return
		}

		sess, user, err := validator.Validate(c.Request.Context(), sessions.DeriveID(token))
		if err != nil {
			logger.Warnf("session validation failed for %s: %v", path, err)
		}
		if err != nil || sess == nil {
			// The cookie points at nothing usable; drop it.
			sessions.ClearCookie(c, cfg.SecureCookies)
			metrics.AuthRejected.WithLabelValues("invalid_session").Inc()
			reject(c, cfg)
			return
		}

		// Re-set the cookie: the expiration may have slid forward.
		sessions.SetCookie(c, token, sess.ExpiresAt, cfg.SecureCookies)

		c.Set(ContextSession, sess)
		c.Set(ContextUser, user)
		c.Next()
	}
}

// reject answers API and island clients with a bare 401 and sends page
// navigations to the login page.
func reject(c *gin.Context, cfg GateConfig) {
	if hasAnyPrefix(c.Request.URL.Path, cfg.APIPrefixes) {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	c.Redirect(http.StatusFound, cfg.LoginPath)
	c.Abort()
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// SessionFromContext returns the session the gate attached, or nil.
func SessionFromContext(c *gin.Context) *sessions.Session {
	if v, ok := c.Get(ContextSession); ok {
		if s, ok2 := v.(*sessions.Session); ok2 {
			return s
		}
	}
	return nil
}

// UserFromContext returns the user the gate attached, or nil.
func UserFromContext(c *gin.Context) *users.User {
	if v, ok := c.Get(ContextUser); ok {
		if u, ok2 := v.(*users.User); ok2 {
			return u
		}
	}
	return nil
}
