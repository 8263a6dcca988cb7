package oidc

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingAppID is returned when an authorize URL is requested without an app id.
	ErrMissingAppID = errors.New("app_id is required")

	// ErrCallbackTimeout means no callback arrived before the deadline. The
	// login may simply be retried.
	ErrCallbackTimeout = errors.New("timed out waiting for authorization callback")

	// ErrNoCode means the login flow finished without an authorization code.
	ErrNoCode = errors.New("failed to obtain authorization code")

	// ErrStateMismatch means the state echoed by the provider differs from the
	// one sent. The code must not be exchanged.
	ErrStateMismatch = errors.New("state mismatch, please retry login")

	// ErrExchangeFailed wraps every reason an authorization code did not yield a session.
	ErrExchangeFailed = errors.New("failed to exchange code for user token")

	// ErrRefreshFailed wraps every reason a refresh did not yield a session.
	ErrRefreshFailed = errors.New("failed to refresh user token")

	// ErrNoRefreshToken short-circuits a refresh when the session has no refresh token.
	ErrNoRefreshToken = errors.New("session has no refresh token")

	// ErrRefreshTokenExpiring short-circuits a refresh when the refresh token
	// itself is inside its expiry buffer.
	ErrRefreshTokenExpiring = errors.New("refresh token expired or about to expire")

	// ErrMissingAccessToken is returned when a token response carries no access token.
	ErrMissingAccessToken = errors.New("token response has no access_token")
)

// ConfigError describes invalid configuration detected before any network call.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return fmt.Sprintf("%s: %v", e.Msg, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ProviderDeniedError is returned when the authorization callback carries an
// error parameter.
type ProviderDeniedError struct {
	Code        string
	Description string
}

func (e *ProviderDeniedError) Error() string {
	desc := e.Description
	if desc == "" {
		desc = e.Code
	}
	return "authorization failed: " + desc
}
