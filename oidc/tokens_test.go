package oidc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/feishu-cli/feishu-cli/session"
)

// fakeEndpoint records every grant and answers with a canned response.
type fakeEndpoint struct {
	mu    sync.Mutex
	calls []GrantRequest
	resp  *TokenResponse
	err   error
}

func (f *fakeEndpoint) Token(_ context.Context, req GrantRequest) (*TokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeEndpoint) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func seconds(n int64) *int64 { return &n }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var testNow = time.Unix(1_700_000_000, 0)

func TestTokensExchange(t *testing.T) {
	ep := &fakeEndpoint{resp: &TokenResponse{
		AccessToken:      "u-access",
		RefreshToken:     "u-refresh",
		TokenType:        "Bearer",
		Scope:            "offline_access docx:document",
		ExpiresIn:        seconds(7200),
		RefreshExpiresIn: seconds(2592000),
	}}
	tokens := NewTokens(ep)
	tokens.Now = fixedClock(testNow.Add(400 * time.Millisecond))

	sess, err := tokens.Exchange(context.Background(), "  auth-code ")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	if got := ep.calls[0]; got.GrantType != GrantAuthorizationCode || got.Code != "auth-code" {
		t.Errorf("grant = %+v, want authorization_code with trimmed code", got)
	}
	if sess.AccessToken != "u-access" || sess.RefreshToken != "u-refresh" {
		t.Errorf("unexpected tokens: %+v", sess)
	}
	if !sess.ObtainedAt.Equal(testNow) {
		t.Errorf("ObtainedAt = %v, want %v (whole seconds)", sess.ObtainedAt, testNow)
	}
	if want := testNow.Add(7200 * time.Second); !sess.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", sess.ExpiresAt, want)
	}
	if want := testNow.Add(2592000 * time.Second); !sess.RefreshExpiresAt.Equal(want) {
		t.Errorf("RefreshExpiresAt = %v, want %v", sess.RefreshExpiresAt, want)
	}
	if sess.TokenType != "Bearer" || sess.Scope != "offline_access docx:document" {
		t.Errorf("unexpected metadata: %+v", sess)
	}
}

func TestTokensExchange_OmittedLifetimes(t *testing.T) {
	ep := &fakeEndpoint{resp: &TokenResponse{AccessToken: "u-access"}}
	tokens := NewTokens(ep)
	tokens.Now = fixedClock(testNow)

	sess, err := tokens.Exchange(context.Background(), "code")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if !sess.ExpiresAt.IsZero() || !sess.RefreshExpiresAt.IsZero() {
		t.Errorf("expected absent expiries, got %+v", sess)
	}
	if sess.HasRefreshToken() {
		t.Errorf("expected no refresh token")
	}
}

func TestTokensExchange_LifetimeBounds(t *testing.T) {
	tests := []struct {
		name      string
		expiresIn int64
		want      time.Time
	}{
		{name: "zero expires at once", expiresIn: 0, want: testNow},
		{name: "negative expires at once", expiresIn: -30, want: testNow},
		{name: "huge is clamped", expiresIn: 1 << 40, want: testNow.Add(maxLifetime)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := &fakeEndpoint{resp: &TokenResponse{
				AccessToken:      "new",
				ExpiresIn:        seconds(tt.expiresIn),
				RefreshExpiresIn: seconds(tt.expiresIn),
			}}
			tokens := NewTokens(ep)
			tokens.Now = fixedClock(testNow)

			sess, err := tokens.Exchange(context.Background(), "code")
			if err != nil {
				t.Fatalf("Exchange() error = %v", err)
			}
			if !sess.ExpiresAt.Equal(tt.want) || !sess.RefreshExpiresAt.Equal(tt.want) {
				t.Errorf("expiries = (%v, %v), want %v", sess.ExpiresAt, sess.RefreshExpiresAt, tt.want)
			}
			if sess.ExpiresAt.Before(sess.ObtainedAt) {
				t.Errorf("ExpiresAt %v precedes ObtainedAt %v", sess.ExpiresAt, sess.ObtainedAt)
			}
		})
	}
}

func TestTokensExchange_Failures(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		ep        *fakeEndpoint
		wantCalls int
	}{
		{
			name:      "endpoint error",
			code:      "code",
			ep:        &fakeEndpoint{err: errors.New("code 20003: invalid grant")},
			wantCalls: 1,
		},
		{
			name:      "missing access token",
			code:      "code",
			ep:        &fakeEndpoint{resp: &TokenResponse{RefreshToken: "r"}},
			wantCalls: 1,
		},
		{
			name:      "blank code",
			code:      "   ",
			ep:        &fakeEndpoint{},
			wantCalls: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, err := NewTokens(tt.ep).Exchange(context.Background(), tt.code)
			if !errors.Is(err, ErrExchangeFailed) {
				t.Fatalf("expected ErrExchangeFailed, got %v", err)
			}
			if sess != nil {
				t.Errorf("expected nil session, got %+v", sess)
			}
			if got := tt.ep.callCount(); got != tt.wantCalls {
				t.Errorf("endpoint calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestTokensRefresh_KeepsRefreshTokenWhenOmitted(t *testing.T) {
	prior := &session.UserTokenSession{
		AccessToken:      "old-access",
		RefreshToken:     "old-refresh",
		ExpiresAt:        testNow.Add(30 * time.Second),
		RefreshExpiresAt: testNow.Add(24 * time.Hour),
		ObtainedAt:       testNow.Add(-2 * time.Hour),
	}
	ep := &fakeEndpoint{resp: &TokenResponse{AccessToken: "new-access", ExpiresIn: seconds(7200)}}
	tokens := NewTokens(ep)
	tokens.Now = fixedClock(testNow)

	sess, err := tokens.Refresh(context.Background(), prior)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if got := ep.calls[0]; got.GrantType != GrantRefreshToken || got.RefreshToken != "old-refresh" {
		t.Errorf("grant = %+v, want refresh_token with old-refresh", got)
	}
	if sess.AccessToken != "new-access" {
		t.Errorf("AccessToken = %q, want new-access", sess.AccessToken)
	}
	if sess.RefreshToken != "old-refresh" {
		t.Errorf("RefreshToken = %q, want old-refresh carried over", sess.RefreshToken)
	}
	if !sess.RefreshExpiresAt.Equal(prior.RefreshExpiresAt) {
		t.Errorf("RefreshExpiresAt = %v, want %v carried over", sess.RefreshExpiresAt, prior.RefreshExpiresAt)
	}
	if want := testNow.Add(7200 * time.Second); !sess.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", sess.ExpiresAt, want)
	}
}

func TestTokensRefresh_RotatedRefreshToken(t *testing.T) {
	prior := &session.UserTokenSession{
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		ObtainedAt:   testNow.Add(-time.Hour),
	}
	ep := &fakeEndpoint{resp: &TokenResponse{
		AccessToken:      "new-access",
		RefreshToken:     "new-refresh",
		RefreshExpiresIn: seconds(3600),
	}}
	tokens := NewTokens(ep)
	tokens.Now = fixedClock(testNow)

	sess, err := tokens.Refresh(context.Background(), prior)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if sess.RefreshToken != "new-refresh" {
		t.Errorf("RefreshToken = %q, want new-refresh", sess.RefreshToken)
	}
	if want := testNow.Add(time.Hour); !sess.RefreshExpiresAt.Equal(want) {
		t.Errorf("RefreshExpiresAt = %v, want %v", sess.RefreshExpiresAt, want)
	}
}

func TestTokensRefresh_NoNetworkWhenUnusable(t *testing.T) {
	tests := []struct {
		name    string
		prior   *session.UserTokenSession
		wantErr error
	}{
		{
			name:    "no refresh token",
			prior:   &session.UserTokenSession{AccessToken: "a"},
			wantErr: ErrNoRefreshToken,
		},
		{
			name: "refresh token inside buffer",
			prior: &session.UserTokenSession{
				AccessToken:      "a",
				RefreshToken:     "r",
				RefreshExpiresAt: testNow.Add(30 * time.Second),
			},
			wantErr: ErrRefreshTokenExpiring,
		},
		{
			name: "refresh token already expired",
			prior: &session.UserTokenSession{
				AccessToken:      "a",
				RefreshToken:     "r",
				RefreshExpiresAt: testNow.Add(-time.Hour),
			},
			wantErr: ErrRefreshTokenExpiring,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := &fakeEndpoint{resp: &TokenResponse{AccessToken: "should-not-be-used"}}
			tokens := NewTokens(ep)
			tokens.Now = fixedClock(testNow)

			sess, err := tokens.Refresh(context.Background(), tt.prior)
			if !errors.Is(err, ErrRefreshFailed) || !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want ErrRefreshFailed wrapping %v", err, tt.wantErr)
			}
			if sess != nil {
				t.Errorf("expected nil session")
			}
			if ep.callCount() != 0 {
				t.Errorf("endpoint was called %d times, want 0", ep.callCount())
			}
		})
	}
}

func TestTokensRefresh_EndpointFailure(t *testing.T) {
	prior := &session.UserTokenSession{AccessToken: "a", RefreshToken: "r"}
	ep := &fakeEndpoint{err: errors.New("code 20026: refresh token revoked")}

	_, err := NewTokens(ep).Refresh(context.Background(), prior)
	if !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("expected ErrRefreshFailed, got %v", err)
	}
}
