package sessions

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
)

// tokenEncoding is RFC 4648 base32 in lowercase without padding, which keeps
// the token cookie-safe and URL-safe.
var tokenEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// GenerateToken produces the raw session token handed to the client: 160 bits
// of entropy, base32 lowercase, no padding. Only its hash ever reaches the
// database.
func GenerateToken() (string, error) {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return tokenEncoding.EncodeToString(b), nil
}

// DeriveID computes the session-store key for a raw token: lowercase hex
// SHA-256 of its UTF-8 bytes. Deterministic and one-way; knowing the id does
// not reveal the token.
func DeriveID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
