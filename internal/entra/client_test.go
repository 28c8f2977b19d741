package entra

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/officekit/addin-auth/internal/config"
)

func testClient(endpoint string) *Client {
	c := NewClient(config.EntraConfig{
		TenantID:  "tenant-1",
		AppID:     "app-1",
		AppSecret: "secret-1",
		SiteURL:   "addin.example.com",
	})
	if endpoint != "" {
		c.SetTokenEndpoint(endpoint)
	}
	return c
}

// tokenServer answers the token endpoint with a fixed response and records the
// last form it received.
func tokenServer(t *testing.T, status int, body map[string]interface{}) (*httptest.Server, *url.Values) {
	t.Helper()
	var lastForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		lastForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		require.NoError(t, json.NewEncoder(w).Encode(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &lastForm
}

func TestExchangeSuccess(t *testing.T) {
	srv, form := tokenServer(t, http.StatusOK, map[string]interface{}{
		"access_token":  "at",
		"refresh_token": "rt",
		"id_token":      "idt",
		"expires_in":    3600,
	})
	c := testClient(srv.URL)

	before := time.Now()
	bundle, err := c.Exchange(context.Background(), "assertion-1")
	require.NoError(t, err)
	require.Equal(t, "at", bundle.AccessToken)
	require.Equal(t, "rt", bundle.RefreshToken)
	require.Equal(t, "idt", bundle.IDToken)
	require.WithinDuration(t, before.Add(time.Hour), bundle.AccessTokenExpiresAt, 5*time.Second)

	require.Equal(t, "urn:ietf:params:oauth:grant-type:jwt-bearer", form.Get("grant_type"))
	require.Equal(t, "on_behalf_of", form.Get("requested_token_use"))
	require.Equal(t, "assertion-1", form.Get("assertion"))
	require.Contains(t, form.Get("scope"), "offline_access")
	require.Contains(t, form.Get("scope"), "openid")
}

func TestExchangeUpstreamError(t *testing.T) {
	srv, _ := tokenServer(t, http.StatusBadRequest, map[string]interface{}{
		"error":             "invalid_grant",
		"error_description": "AADSTS50013: assertion invalid",
	})
	c := testClient(srv.URL)

	_, err := c.Exchange(context.Background(), "bad")
	var xe *ExchangeError
	require.ErrorAs(t, err, &xe)
	require.Equal(t, http.StatusBadRequest, xe.Status)
	require.Contains(t, xe.Body, "invalid_grant")
}

func TestExchangeMissingRefreshToken(t *testing.T) {
	srv, _ := tokenServer(t, http.StatusOK, map[string]interface{}{
		"access_token": "at",
		"id_token":     "idt",
		"expires_in":   3600,
	})
	c := testClient(srv.URL)

	_, err := c.Exchange(context.Background(), "assertion-1")
	var ie *IncompleteTokenError
	require.ErrorAs(t, err, &ie)
	require.Equal(t, "refresh_token", ie.Field)
	require.Equal(t, "offline_access", ie.Scope)
}

func TestExchangeMissingIDToken(t *testing.T) {
	srv, _ := tokenServer(t, http.StatusOK, map[string]interface{}{
		"access_token":  "at",
		"refresh_token": "rt",
		"expires_in":    3600,
	})
	c := testClient(srv.URL)

	_, err := c.Exchange(context.Background(), "assertion-1")
	var ie *IncompleteTokenError
	require.ErrorAs(t, err, &ie)
	require.Equal(t, "id_token", ie.Field)
	require.Equal(t, "openid", ie.Scope)
}

func TestExchangeAssertionSplicesIDToken(t *testing.T) {
	// the OBO response for an MSAL assertion has no id_token of its own
	srv, _ := tokenServer(t, http.StatusOK, map[string]interface{}{
		"access_token":  "at",
		"refresh_token": "rt",
		"expires_in":    3600,
	})
	c := testClient(srv.URL)

	bundle, err := c.ExchangeAssertion(context.Background(), "msal-at", "client-idt")
	require.NoError(t, err)
	require.Equal(t, "client-idt", bundle.IDToken)
	require.Equal(t, "rt", bundle.RefreshToken)
}

func TestExchangeForGraph(t *testing.T) {
	srv, form := tokenServer(t, http.StatusOK, map[string]interface{}{
		"access_token": "graph-at",
		"expires_in":   3600,
	})
	c := testClient(srv.URL)

	at, err := c.ExchangeForGraph(context.Background(), "assertion-1")
	require.NoError(t, err)
	require.Equal(t, "graph-at", at)
	require.Equal(t, "https://graph.microsoft.com/.default", form.Get("scope"))
}

func TestRefresh(t *testing.T) {
	srv, form := tokenServer(t, http.StatusOK, map[string]interface{}{
		"access_token":  "at-new",
		"refresh_token": "rt-new",
		"expires_in":    3600,
	})
	c := testClient(srv.URL)

	bundle, err := c.Refresh(context.Background(), "rt-old")
	require.NoError(t, err)
	require.Equal(t, "at-new", bundle.AccessToken)
	require.Equal(t, "rt-new", bundle.RefreshToken)
	require.Equal(t, "refresh_token", form.Get("grant_type"))
	require.Equal(t, "rt-old", form.Get("refresh_token"))
}

func TestRefreshMissingRefreshToken(t *testing.T) {
	srv, _ := tokenServer(t, http.StatusOK, map[string]interface{}{
		"access_token": "at-new",
		"expires_in":   3600,
	})
	c := testClient(srv.URL)

	_, err := c.Refresh(context.Background(), "rt-old")
	var ie *IncompleteTokenError
	require.ErrorAs(t, err, &ie)
	require.Equal(t, "refresh_token", ie.Field)
}

func TestAuthCodeURLCarriesPKCEChallenge(t *testing.T) {
	c := testClient("")
	u, err := url.Parse(c.AuthCodeURL("state-1", "verifier-1"))
	require.NoError(t, err)
	q := u.Query()
	require.Equal(t, "state-1", q.Get("state"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.NotEmpty(t, q.Get("code_challenge"))
	require.Equal(t, "app-1", q.Get("client_id"))
}

func TestDecodeClaims(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"oid":                "oid-1",
		"sub":                "sub-1",
		"name":               "Ada Lovelace",
		"preferred_username": "ada@example.com",
		"tid":                "tenant-1",
	})
	signed, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	claims, err := DecodeClaims(signed)
	require.NoError(t, err)
	require.Equal(t, "oid-1", claims.Oid)
	require.Equal(t, "Ada Lovelace", claims.Name)
	require.Equal(t, "ada@example.com", claims.PreferredUsername)
	require.Equal(t, "tenant-1", claims.TenantID)
}

func TestDecodeClaimsMissingOid(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "sub-1",
	})
	signed, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = DecodeClaims(signed)
	var ce *ClaimsError
	require.ErrorAs(t, err, &ce)
}

func TestDecodeClaimsGarbage(t *testing.T) {
	_, err := DecodeClaims("not-a-jwt")
	var ce *ClaimsError
	require.True(t, errors.As(err, &ce))
}

func TestAdminConsentURL(t *testing.T) {
	c := testClient("")
	u := c.AdminConsentURL()
	require.Contains(t, u, "login.microsoftonline.com/tenant-1/v2.0/adminconsent")
	require.Contains(t, u, "client_id=app-1")
}
