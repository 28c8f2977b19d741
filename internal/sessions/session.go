package sessions

import "time"

// Session is a persistent server-side session. ID is the SHA-256 of the raw
// cookie token; the raw token itself is never stored, so reading the table is
// not enough to impersonate a user.
type Session struct {
	ID                   string    `bson:"_id" json:"id"`
	UserID               string    `bson:"userId" json:"userId"`
	ExpiresAt            time.Time `bson:"expiresAt" json:"expiresAt"`
	AccessToken          string    `bson:"accessToken" json:"accessToken"`
	AccessTokenExpiresAt time.Time `bson:"accessTokenExpiresAt" json:"accessTokenExpiresAt"`
	RefreshToken         string    `bson:"refreshToken" json:"refreshToken,omitempty"`
	CreatedAt            time.Time `bson:"createdAt" json:"createdAt"`
}

// Sanitized returns a copy safe to return to the client: everything except
// the refresh token.
func (s *Session) Sanitized() *Session {
	c := *s
	c.RefreshToken = ""
	return &c
}
