// ABOUTME: Error taxonomy for calendar sync failures
// ABOUTME: Distinguishes config, token, auth, not-found, and quota errors
package sync

import (
	"errors"
	"fmt"
)

// ConfigurationError means client credentials are missing. Fatal until the
// deployment config is fixed; never retryable.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("oauth configuration error: %s", e.Reason)
}

// TokenExchangeError means the provider rejected an authorization code or
// refresh token during the connect flow.
type TokenExchangeError struct {
	Description string
	Err         error
}

func (e *TokenExchangeError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("token exchange failed: %s", e.Description)
	}
	return fmt.Sprintf("token exchange failed: %v", e.Err)
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }

// TokenExpiredError means the access token is expired and could not be
// refreshed. The user must reconnect.
type TokenExpiredError struct {
	Err error
}

func (e *TokenExpiredError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("access token expired: %v", e.Err)
	}
	return "access token expired"
}

func (e *TokenExpiredError) Unwrap() error { return e.Err }

// AuthenticationError means the provider rejected the credential outright.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("calendar authentication rejected: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// EventNotFoundError means the remote event no longer exists; the local
// mapping is stale.
type EventNotFoundError struct {
	EventID string
}

func (e *EventNotFoundError) Error() string {
	return fmt.Sprintf("calendar event not found: %s", e.EventID)
}

// QuotaExceededError means the provider rate-limited the request. The
// credential itself is fine; the caller should retry later with backoff.
type QuotaExceededError struct {
	Err error
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("calendar quota exceeded: %v", e.Err)
}

func (e *QuotaExceededError) Unwrap() error { return e.Err }

// IsCredentialFailure reports whether the error means the credential itself
// is broken and further calls for this user are pointless.
func IsCredentialFailure(err error) bool {
	var authErr *AuthenticationError
	var expiredErr *TokenExpiredError
	return errors.As(err, &authErr) || errors.As(err, &expiredErr)
}

// IsQuotaExceeded reports whether the error is a provider rate limit.
func IsQuotaExceeded(err error) bool {
	var quotaErr *QuotaExceededError
	return errors.As(err, &quotaErr)
}

// IsEventNotFound reports whether the error means the remote event is gone.
func IsEventNotFound(err error) bool {
	var nfErr *EventNotFoundError
	return errors.As(err, &nfErr)
}
