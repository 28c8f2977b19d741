package sessions

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// CookieName holds the raw session token on the client.
const CookieName = "session"

// TokenFromCookie returns the raw session token or "" when the cookie is absent.
func TokenFromCookie(c *gin.Context) string {
	token, err := c.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return token
}

// SetCookie (re-)sets the session cookie. The expiry tracks the session's
// sliding ExpiresAt, so it is re-set on every validated request.
func SetCookie(c *gin.Context, token string, expiresAt time.Time, secure bool) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie removes the session cookie, e.g. after the session turned out
// to be expired or invalid.
func ClearCookie(c *gin.Context, secure bool) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
