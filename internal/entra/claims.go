package entra

import (
	"encoding/json"
	"io"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the ID-token claims this service relies on. Oid is the Entra
// object id and is the only hard requirement; it keys the user record.
type Claims struct {
	Oid               string `json:"oid"`
	Sub               string `json:"sub"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	TenantID          string `json:"tid"`
}

// DecodeClaims parses the payload of an ID token without verifying its
// signature. Signature verification, when an issuer is reachable, happens in
// internal/oidc before this is called; the claims check here guards the
// required fields either way.
func DecodeClaims(idToken string) (*Claims, error) {
	var claims jwt.MapClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(idToken, &claims); err != nil {
		return nil, &ClaimsError{Reason: err.Error()}
	}
	return ClaimsFromMap(claims)
}

// ClaimsFromMap validates a raw claims map into typed Claims.
func ClaimsFromMap(m map[string]interface{}) (*Claims, error) {
	oid, ok := m["oid"].(string)
	if !ok || oid == "" {
		return nil, &ClaimsError{Reason: "missing or non-string 'oid' claim"}
	}
	c := &Claims{Oid: oid}
	c.Sub, _ = m["sub"].(string)
	c.Name, _ = m["name"].(string)
	c.PreferredUsername, _ = m["preferred_username"].(string)
	c.TenantID, _ = m["tid"].(string)
	return c, nil
}

func decodeJSON(r io.Reader, v interface{}) error {
	return json.NewDecoder(r).Decode(v)
}
