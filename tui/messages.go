package tui

import (
	"time"
)

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{}

// MsgAuthorizeURLReady signals that the user must open the authorize URL.
// Deadline is zero when no callback listener is waiting.
type MsgAuthorizeURLReady struct {
	URL      string
	Deadline time.Time
}

// MsgBrowserOpenFailed signals that the browser could not be opened.
type MsgBrowserOpenFailed struct{ Err error }

// MsgWaitingForCallback signals that the loopback listener is accepting the redirect.
type MsgWaitingForCallback struct{ RedirectURI string }

// MsgCallbackReceived signals that the provider redirected back.
type MsgCallbackReceived struct{}

// MsgCallbackTimedOut signals that no redirect arrived in time.
type MsgCallbackTimedOut struct{}

// MsgExchanging signals that the authorization code is being exchanged.
type MsgExchanging struct{}

// MsgExchangeOK signals that the code exchange produced a session.
type MsgExchangeOK struct{}

// MsgRefreshing signals that a token refresh is in progress.
type MsgRefreshing struct{}

// MsgRefreshOK signals that the token was refreshed successfully.
type MsgRefreshOK struct{}

// MsgRefreshFailed signals that token refresh failed.
type MsgRefreshFailed struct{ Err error }

// MsgSessionSaved signals that the session was written to disk.
type MsgSessionSaved struct{ Path string }

// MsgDone signals successful completion.
type MsgDone struct {
	TokenType string
	Scope     string
	ExpiresIn time.Duration
}

// MsgFatal signals a fatal error that should terminate the flow.
type MsgFatal struct{ Err error }
