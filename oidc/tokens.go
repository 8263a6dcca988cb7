package oidc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/feishu-cli/feishu-cli/session"
)

// Grant types understood by the token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
)

// DefaultRefreshBuffer is how close to refresh_expires_at a refresh token is
// considered unusable.
const DefaultRefreshBuffer = 60 * time.Second

// GrantRequest is one call to the token endpoint.
type GrantRequest struct {
	GrantType    string
	Code         string
	RefreshToken string
}

// TokenResponse is the typed token payload. Durations are in seconds and nil
// when the endpoint omitted them.
type TokenResponse struct {
	AccessToken      string
	RefreshToken     string
	TokenType        string
	Scope            string
	ExpiresIn        *int64
	RefreshExpiresIn *int64
}

// TokenEndpoint performs authorization_code and refresh_token grants. An error
// means the endpoint reported failure.
type TokenEndpoint interface {
	Token(ctx context.Context, req GrantRequest) (*TokenResponse, error)
}

// Tokens exchanges authorization codes and refreshes sessions.
type Tokens struct {
	Endpoint      TokenEndpoint
	RefreshBuffer time.Duration
	Now           func() time.Time
}

// NewTokens returns Tokens with the default refresh buffer and wall clock.
func NewTokens(endpoint TokenEndpoint) *Tokens {
	return &Tokens{
		Endpoint:      endpoint,
		RefreshBuffer: DefaultRefreshBuffer,
		Now:           time.Now,
	}
}

func (t *Tokens) now() time.Time {
	if t.Now == nil {
		return time.Now()
	}
	return t.Now()
}

// Exchange trades an authorization code for a new session. A nil session with
// an error wrapping ErrExchangeFailed is the normal failure outcome.
func (t *Tokens) Exchange(ctx context.Context, code string) (*session.UserTokenSession, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: authorization code is empty", ErrExchangeFailed)
	}

	resp, err := t.Endpoint.Token(ctx, GrantRequest{
		GrantType: GrantAuthorizationCode,
		Code:      code,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExchangeFailed, err)
	}

	sess, err := newSession(t.now(), resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExchangeFailed, err)
	}
	return sess, nil
}

// Refresh trades prior's refresh token for a new session. No request is made
// when prior has no refresh token or the refresh token is about to expire.
// The new session keeps prior's refresh token and its expiry when the
// response omits them.
func (t *Tokens) Refresh(ctx context.Context, prior *session.UserTokenSession) (*session.UserTokenSession, error) {
	if !prior.HasRefreshToken() {
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, ErrNoRefreshToken)
	}
	now := t.now()
	if session.IsExpiring(now, prior.RefreshExpiresAt, t.RefreshBuffer) {
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, ErrRefreshTokenExpiring)
	}

	resp, err := t.Endpoint.Token(ctx, GrantRequest{
		GrantType:    GrantRefreshToken,
		RefreshToken: prior.RefreshToken,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	sess, err := newSession(now, resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	// Fixed mode: the server keeps the old refresh token.
	if sess.RefreshToken == "" {
		sess.RefreshToken = prior.RefreshToken
	}
	if resp.RefreshExpiresIn == nil {
		sess.RefreshExpiresAt = prior.RefreshExpiresAt
	}
	return sess, nil
}

// newSession stamps resp with now, turning relative lifetimes into absolute instants.
func newSession(now time.Time, resp *TokenResponse) (*session.UserTokenSession, error) {
	if resp == nil || strings.TrimSpace(resp.AccessToken) == "" {
		return nil, ErrMissingAccessToken
	}

	obtained := time.Unix(now.Unix(), 0)
	sess := &session.UserTokenSession{
		AccessToken:  strings.TrimSpace(resp.AccessToken),
		RefreshToken: strings.TrimSpace(resp.RefreshToken),
		TokenType:    strings.TrimSpace(resp.TokenType),
		Scope:        strings.TrimSpace(resp.Scope),
		ObtainedAt:   obtained,
	}
	if resp.ExpiresIn != nil {
		sess.ExpiresAt = obtained.Add(lifetime(*resp.ExpiresIn))
	}
	if resp.RefreshExpiresIn != nil {
		sess.RefreshExpiresAt = obtained.Add(lifetime(*resp.RefreshExpiresIn))
	}
	return sess, nil
}

// maxLifetime caps a reported token lifetime.
const maxLifetime = 100 * 365 * 24 * time.Hour

// lifetime converts a lifetime in seconds to a duration in [0, maxLifetime].
func lifetime(secs int64) time.Duration {
	switch {
	case secs <= 0:
		return 0
	case secs > int64(maxLifetime/time.Second):
		return maxLifetime
	default:
		return time.Duration(secs) * time.Second
	}
}
