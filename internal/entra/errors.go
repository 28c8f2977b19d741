package entra

import "fmt"

// ExchangeError reports a non-success response from the Entra token endpoint.
// The upstream body is kept for logging and diagnosis; callers must not relay
// it to clients verbatim.
type ExchangeError struct {
	Status int
	Body   string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("token endpoint returned %d: %s", e.Status, e.Body)
}

// IncompleteTokenError reports a well-formed 2xx token response that lacks a
// required field. This signals a scope or consent misconfiguration on the app
// registration, not a transport problem, and is never retried.
type IncompleteTokenError struct {
	Field string // missing response field, e.g. "refresh_token"
	Scope string // the scope whose absence usually causes it
}

func (e *IncompleteTokenError) Error() string {
	if e.Scope == "" {
		return fmt.Sprintf("no %s received from token exchange", e.Field)
	}
	return fmt.Sprintf("no %s received from token exchange; make sure the %q scope is included", e.Field, e.Scope)
}

// ClaimsError reports an ID token whose claims cannot be used to identify the
// user (missing or non-string object id).
type ClaimsError struct {
	Reason string
}

func (e *ClaimsError) Error() string {
	return "invalid id token claims: " + e.Reason
}
