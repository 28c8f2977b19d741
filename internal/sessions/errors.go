package sessions

import "errors"

var (
	// ErrMissingRefreshToken is returned by Create when the token bundle has
	// no refresh token. Sessions cannot be kept alive without one.
	ErrMissingRefreshToken = errors.New("token bundle has no refresh token; make sure the 'offline_access' scope is included")

	// ErrRefreshTokenMissing is returned by Validate when a refresh-token
	// exchange came back without a new refresh token. The session cannot
	// recover silently; callers must treat it as invalid and force re-login.
	ErrRefreshTokenMissing = errors.New("refresh exchange returned no refresh token; session must be re-established")

	// ErrPersistence is returned when a storage write did not yield the
	// expected row.
	ErrPersistence = errors.New("session store did not return a row")
)
