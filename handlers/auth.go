package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"

	"github.com/officekit/addin-auth/internal/config"
	"github.com/officekit/addin-auth/internal/entra"
	"github.com/officekit/addin-auth/internal/oidc"
	"github.com/officekit/addin-auth/internal/sessions"
	"github.com/officekit/addin-auth/internal/users"
	"github.com/officekit/addin-auth/pkg/logger"
)

// Cookies carrying the PKCE state across the authorization-code redirect.
const (
	stateCookie    = "microsoft_entra_state"
	verifierCookie = "microsoft_entra_code_verifier"
	// The redirect round-trip should take seconds; ten minutes is generous.
	loginFlowCookieTTL = 10 * 60
)

// IDTokenVerifier checks ID-token signatures; nil means decode-only (the
// token already travelled a trusted channel in the OBO response).
type IDTokenVerifier interface {
	Verify(ctx context.Context, raw string) (oidc.Token, error)
}

// SSORequest is the body of POST /api/auth/sso.
type SSORequest struct {
	Token string `json:"token"`
}

// MSALRequest is the body of POST /api/auth/msal.
type MSALRequest struct {
	AccessToken string `json:"accessToken"`
	IDToken     string `json:"idToken"`
}

// AuthHandler holds dependencies
type AuthHandler struct {
	cfg         *config.Config
	entra       *entra.Client
	sessionsSvc *sessions.Service
	usersSvc    *users.Service
	verifier    IDTokenVerifier
}

func NewAuthHandler(cfg *config.Config, e *entra.Client, s *sessions.Service, u *users.Service, v IDTokenVerifier) *AuthHandler {
	return &AuthHandler{cfg: cfg, entra: e, sessionsSvc: s, usersSvc: u, verifier: v}
}

// Register routes under /api/auth
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/api/auth")
	a.GET("/login", h.Login)
	a.GET("/callback", h.Callback)
	a.POST("/sso", h.SSO)
	a.POST("/msal", h.MSAL)
	a.GET("/session", h.Session)
	a.GET("/me", h.Me)
	a.GET("/consent", h.Consent)
	a.POST("/exchange", h.Exchange)
	a.POST("/logout", h.Logout)
}

// Login starts the interactive authorization-code flow: remember state and
// PKCE verifier in short-lived cookies, then send the browser to Entra.
func (h *AuthHandler) Login(c *gin.Context) {
	state, err := generateState()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start login"})
		return
	}
	verifier := oauth2.GenerateVerifier()

	secure := h.cfg.IsProduction()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookie, state, loginFlowCookieTTL, "/", "", secure, true)
	c.SetCookie(verifierCookie, verifier, loginFlowCookieTTL, "/", "", secure, true)

	c.Redirect(http.StatusFound, h.entra.AuthCodeURL(state, verifier))
}

// Callback finishes the authorization-code flow: redeem the code with the
// stored PKCE verifier, establish a session and send the user home.
func (h *AuthHandler) Callback(c *gin.Context) {
	code := c.Query("code")
	state := c.Query("state")
	storedState, _ := c.Cookie(stateCookie)
	storedVerifier, _ := c.Cookie(verifierCookie)

	if code == "" || state == "" || storedState == "" || storedVerifier == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required parameters"})
		return
	}
	if state != storedState {
		c.JSON(http.StatusBadRequest, gin.H{"error": "State mismatch"})
		return
	}

	bundle, err := h.entra.ExchangeCode(c.Request.Context(), code, storedVerifier)
	if err != nil {
		logger.Errorf("authorization-code redemption failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to redeem code for tokens"})
		return
	}

	if _, err := h.establishSession(c, bundle); err != nil {
		logger.Errorf("callback session creation failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to create session"})
		return
	}

	c.Redirect(http.StatusFound, "/")
}

// SSO exchanges an Office SSO bootstrap token for a session via the
// On-Behalf-Of flow.
func (h *AuthHandler) SSO(c *gin.Context) {
	var req SSORequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required attribute 'token' in body."})
		return
	}

	bundle, err := h.entra.Exchange(c.Request.Context(), req.Token)
	if err != nil {
		logger.Errorf("SSO token exchange failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": exchangeErrorMessage(err)})
		return
	}

	sess, err := h.establishSession(c, bundle)
	if err != nil {
		logger.Errorf("SSO session creation failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": exchangeErrorMessage(err)})
		return
	}

	c.JSON(http.StatusOK, sess.Sanitized())
}

// MSAL handles the interactive fallback: the client already holds an MSAL
// access and ID token; the access token is exchanged OBO for a refresh token
// we can keep server-side.
func (h *AuthHandler) MSAL(c *gin.Context) {
	var req MSALRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AccessToken == "" || req.IDToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields: accessToken and idToken are required"})
		return
	}

	bundle, err := h.entra.ExchangeAssertion(c.Request.Context(), req.AccessToken, req.IDToken)
	if err != nil {
		logger.Errorf("MSAL token exchange failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": exchangeErrorMessage(err)})
		return
	}

	sess, err := h.establishSession(c, bundle)
	if err != nil {
		logger.Errorf("MSAL session creation failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": exchangeErrorMessage(err)})
		return
	}

	c.JSON(http.StatusOK, sess.Sanitized())
}

// Session returns the caller's session, refreshing it when due. 401 with a
// cleared cookie on anything invalid.
func (h *AuthHandler) Session(c *gin.Context) {
	sess, _, ok := h.validateCookie(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Sanitized())
}

// Me is Session plus the user record.
func (h *AuthHandler) Me(c *gin.Context) {
	sess, user, ok := h.validateCookie(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess.Sanitized(), "user": user})
}

// Consent redirects a tenant admin to the admin-consent page.
func (h *AuthHandler) Consent(c *gin.Context) {
	c.Redirect(http.StatusFound, h.entra.AdminConsentURL())
}

// Exchange swaps an SSO token for a bare Graph access token without touching
// session state. Used by clients that call Graph directly.
func (h *AuthHandler) Exchange(c *gin.Context) {
	var req SSORequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required attribute 'token' in body."})
		return
	}
	accessToken, err := h.entra.ExchangeForGraph(c.Request.Context(), req.Token)
	if err != nil {
		logger.Errorf("Graph token exchange failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": exchangeErrorMessage(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accessToken": accessToken})
}

// Logout closes the caller's session and drops the cookie.
func (h *AuthHandler) Logout(c *gin.Context) {
	if token := sessions.TokenFromCookie(c); token != "" {
		if err := h.sessionsSvc.Invalidate(c.Request.Context(), sessions.DeriveID(token)); err != nil {
			logger.Errorf("failed to invalidate session: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove session"})
			return
		}
	}
	sessions.ClearCookie(c, h.cfg.IsProduction())
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// validateCookie runs the common cookie-validate-reset sequence for the
// session/me endpoints and writes the 401 responses itself.
func (h *AuthHandler) validateCookie(c *gin.Context) (*sessions.Session, *users.User, bool) {
	token := sessions.TokenFromCookie(c)
	if token == "" {
		c.Status(http.StatusUnauthorized)
		return nil, nil, false
	}

	sess, user, err := h.sessionsSvc.Validate(c.Request.Context(), sessions.DeriveID(token))
	if err != nil {
		logger.Warnf("session validation failed: %v", err)
	}
	if err != nil || sess == nil {
		sessions.ClearCookie(c, h.cfg.IsProduction())
		c.Status(http.StatusUnauthorized)
		return nil, nil, false
	}

	// Re-set the cookie; the expiration may have slid forward.
	sessions.SetCookie(c, token, sess.ExpiresAt, h.cfg.IsProduction())
	return sess, user, true
}

// establishSession turns a token bundle into a stored session and a cookie:
// decode (and when possible verify) the ID token, lazily create the user,
// generate a fresh raw token, store its hash.
func (h *AuthHandler) establishSession(c *gin.Context, bundle *entra.TokenBundle) (*sessions.Session, error) {
	claims, err := h.decodeClaims(c.Request.Context(), bundle.IDToken)
	if err != nil {
		return nil, err
	}

	if _, err := h.usersSvc.EnsureExists(c.Request.Context(), claims.Oid); err != nil {
		return nil, err
	}

	token, err := sessions.GenerateToken()
	if err != nil {
		return nil, err
	}
	sess, err := h.sessionsSvc.Create(c.Request.Context(), sessions.DeriveID(token), claims.Oid, bundle)
	if err != nil {
		return nil, err
	}

	sessions.SetCookie(c, token, sess.ExpiresAt, h.cfg.IsProduction())
	return sess, nil
}

func (h *AuthHandler) decodeClaims(ctx context.Context, idToken string) (*entra.Claims, error) {
	if h.verifier != nil {
		tok, err := h.verifier.Verify(ctx, idToken)
		if err != nil {
			return nil, err
		}
		var m map[string]interface{}
		if err := tok.Claims(&m); err != nil {
			return nil, err
		}
		return entra.ClaimsFromMap(m)
	}
	return entra.DecodeClaims(idToken)
}

// exchangeErrorMessage maps exchange failures to client-safe messages:
// misconfiguration details are useful to surface, upstream bodies are not.
func exchangeErrorMessage(err error) string {
	var incomplete *entra.IncompleteTokenError
	if errors.As(err, &incomplete) {
		return incomplete.Error()
	}
	var claims *entra.ClaimsError
	if errors.As(err, &claims) {
		return claims.Error()
	}
	var exchange *entra.ExchangeError
	if errors.As(err, &exchange) {
		return fmt.Sprintf("Failed to exchange token (upstream status %d)", exchange.Status)
	}
	return "Failed to exchange token"
}

func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
