package entra

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/officekit/addin-auth/internal/config"
	"github.com/officekit/addin-auth/pkg/logger"
)

// Scopes requested during every exchange. offline_access yields the refresh
// token, openid the ID token; both are hard requirements for session creation.
var Scopes = []string{"openid", "profile", "offline_access", "User.Read", "User.ReadBasic.All"}

// graphDefaultScope requests a plain Graph access token without a refresh
// token, used by the stateless /api/auth/exchange endpoint.
const graphDefaultScope = "https://graph.microsoft.com/.default"

const oboGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// TokenBundle is the result of a successful token-endpoint call.
type TokenBundle struct {
	AccessToken          string
	AccessTokenExpiresAt time.Time
	RefreshToken         string
	IDToken              string
}

// Client talks to the Microsoft Entra ID token endpoint for one tenant/app
// registration. Construct it once at startup and inject it into handlers.
type Client struct {
	tenantID     string
	clientID     string
	clientSecret string
	siteURL      string
	tokenURL     string
	authURL      string
	httpClient   *http.Client
	oauth        *oauth2.Config
	now          func() time.Time
}

func NewClient(cfg config.EntraConfig) *Client {
	c := &Client{
		tenantID:     cfg.TenantID,
		clientID:     cfg.AppID,
		clientSecret: cfg.AppSecret,
		siteURL:      cfg.SiteURL,
		tokenURL:     "https://login.microsoftonline.com/" + cfg.TenantID + "/oauth2/v2.0/token",
		authURL:      "https://login.microsoftonline.com/" + cfg.TenantID + "/oauth2/v2.0/authorize",
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		now:          time.Now,
	}
	c.oauth = &oauth2.Config{
		ClientID:     cfg.AppID,
		ClientSecret: cfg.AppSecret,
		RedirectURL:  "https://" + cfg.SiteURL + "/api/auth/callback",
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.authURL,
			TokenURL: c.tokenURL,
		},
	}
	return c
}

// SetTokenEndpoint overrides the token endpoint. Tests point it at a local
// httptest server.
func (c *Client) SetTokenEndpoint(u string) {
	c.tokenURL = u
	c.oauth.Endpoint.TokenURL = u
}

// Exchange performs the On-Behalf-Of exchange of a bootstrap/SSO assertion for
// a full token bundle. Each call consumes the assertion; they are single-use
// upstream.
func (c *Client) Exchange(ctx context.Context, assertion string) (*TokenBundle, error) {
	tr, err := c.grant(ctx, url.Values{
		"grant_type":          {oboGrantType},
		"client_id":           {c.clientID},
		"client_secret":       {c.clientSecret},
		"assertion":           {assertion},
		"scope":               {strings.Join(Scopes, " ")},
		"requested_token_use": {"on_behalf_of"},
	})
	if err != nil {
		return nil, err
	}
	if tr.AccessToken == "" {
		return nil, &IncompleteTokenError{Field: "access_token"}
	}
	if tr.RefreshToken == "" {
		return nil, &IncompleteTokenError{Field: "refresh_token", Scope: "offline_access"}
	}
	if tr.IDToken == "" {
		return nil, &IncompleteTokenError{Field: "id_token", Scope: "openid"}
	}
	return c.bundle(tr), nil
}

// ExchangeAssertion is the MSAL fallback variant of Exchange. The OBO response
// for an MSAL access-token assertion carries no ID token, so the one the
// client obtained interactively is spliced into the bundle.
func (c *Client) ExchangeAssertion(ctx context.Context, assertion, idToken string) (*TokenBundle, error) {
	tr, err := c.grant(ctx, url.Values{
		"grant_type":          {oboGrantType},
		"client_id":           {c.clientID},
		"client_secret":       {c.clientSecret},
		"assertion":           {assertion},
		"scope":               {strings.Join(Scopes, " ")},
		"requested_token_use": {"on_behalf_of"},
	})
	if err != nil {
		return nil, err
	}
	if tr.AccessToken == "" {
		return nil, &IncompleteTokenError{Field: "access_token"}
	}
	if tr.RefreshToken == "" {
		return nil, &IncompleteTokenError{Field: "refresh_token", Scope: "offline_access"}
	}
	b := c.bundle(tr)
	b.IDToken = idToken
	return b, nil
}

// ExchangeForGraph exchanges an SSO assertion for a bare Graph access token
// (.default scope, no refresh token). Used when the caller only needs to make
// a Graph call on the user's behalf, not to establish a session.
func (c *Client) ExchangeForGraph(ctx context.Context, assertion string) (string, error) {
	tr, err := c.grant(ctx, url.Values{
		"grant_type":          {oboGrantType},
		"client_id":           {c.clientID},
		"client_secret":       {c.clientSecret},
		"assertion":           {assertion},
		"scope":               {graphDefaultScope},
		"requested_token_use": {"on_behalf_of"},
	})
	if err != nil {
		return "", err
	}
	if tr.AccessToken == "" {
		return "", &IncompleteTokenError{Field: "access_token"}
	}
	return tr.AccessToken, nil
}

// Refresh redeems a refresh token for a new token bundle. A response without a
// new refresh token is fatal to the session; silent recovery is impossible
// without user interaction.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenBundle, error) {
	tr, err := c.grant(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"refresh_token": {refreshToken},
		"scope":         {strings.Join(Scopes, " ")},
	})
	if err != nil {
		return nil, err
	}
	if tr.AccessToken == "" {
		return nil, &IncompleteTokenError{Field: "access_token"}
	}
	if tr.RefreshToken == "" {
		return nil, &IncompleteTokenError{Field: "refresh_token", Scope: "offline_access"}
	}
	return c.bundle(tr), nil
}

// AuthCodeURL builds the authorize URL for the interactive login fallback,
// carrying the PKCE challenge for the given verifier.
func (c *Client) AuthCodeURL(state, verifier string) string {
	return c.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// ExchangeCode redeems an authorization code (with its PKCE verifier) for a
// token bundle.
func (c *Client) ExchangeCode(ctx context.Context, code, verifier string) (*TokenBundle, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, err
	}
	idToken, _ := tok.Extra("id_token").(string)
	b := &TokenBundle{
		AccessToken:          tok.AccessToken,
		AccessTokenExpiresAt: tok.Expiry,
		RefreshToken:         tok.RefreshToken,
		IDToken:              idToken,
	}
	if b.RefreshToken == "" {
		return nil, &IncompleteTokenError{Field: "refresh_token", Scope: "offline_access"}
	}
	if b.IDToken == "" {
		return nil, &IncompleteTokenError{Field: "id_token", Scope: "openid"}
	}
	return b, nil
}

// AdminConsentURL is where a tenant admin grants the app its required scopes.
func (c *Client) AdminConsentURL() string {
	return "https://login.microsoftonline.com/" + c.tenantID +
		"/v2.0/adminconsent?client_id=" + url.QueryEscape(c.clientID) +
		"&scope=.default&redirect_uri=" + url.QueryEscape("https://"+c.siteURL)
}

// Issuer is the OIDC issuer for this tenant, used for verified ID-token decoding.
func (c *Client) Issuer() string {
	return "https://login.microsoftonline.com/" + c.tenantID + "/v2.0"
}

// ClientID exposes the app id for ID-token audience checks.
func (c *Client) ClientID() string { return c.clientID }

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (c *Client) bundle(tr *tokenResponse) *TokenBundle {
	return &TokenBundle{
		AccessToken:          tr.AccessToken,
		AccessTokenExpiresAt: c.now().Add(time.Duration(tr.ExpiresIn) * time.Second),
		RefreshToken:         tr.RefreshToken,
		IDToken:              tr.IDToken,
	}
}

// grant POSTs a form to the token endpoint and decodes the response.
func (c *Client) grant(ctx context.Context, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		logger.Errorf("token grant %s failed: status=%d body=%s", form.Get("grant_type"), resp.StatusCode, strings.TrimSpace(string(b)))
		return nil, &ExchangeError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	var tr tokenResponse
	if err := decodeJSON(resp.Body, &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}
