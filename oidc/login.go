package oidc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/feishu-cli/feishu-cli/session"
	"github.com/feishu-cli/feishu-cli/tui"
)

// Exchanger trades an authorization code for a session.
type Exchanger interface {
	Exchange(ctx context.Context, code string) (*session.UserTokenSession, error)
}

// SessionSaver persists the session obtained by a login.
type SessionSaver interface {
	Save(*session.UserTokenSession) error
	Path() string
}

// LoginFlow runs the interactive login: authorize URL, then either the
// loopback callback or a pasted callback URL/code, then exchange and save.
type LoginFlow struct {
	AppID             string
	AuthorizeEndpoint string
	RedirectURI       string
	Scope             string
	// State is generated when empty.
	State   string
	Timeout time.Duration
	// Manual reads the callback URL or code through Prompt instead of
	// listening on the redirect URI.
	Manual        bool
	NoOpenBrowser bool

	Exchanger Exchanger
	Store     SessionSaver
	Display   tui.Displayer

	// OpenBrowser defaults to the package OpenBrowser.
	OpenBrowser func(string) error
	// Prompt returns what the user pasted in manual mode.
	Prompt func(ctx context.Context) (string, error)
}

// Run performs the login and returns the stored session.
//
// ErrNoCode is returned when no code was obtained (including a callback
// timeout), ErrStateMismatch when the echoed state differs, and
// *ProviderDeniedError when the provider reported an error.
func (f *LoginFlow) Run(ctx context.Context) (*session.UserTokenSession, error) {
	display := f.Display
	if display == nil {
		display = tui.NoopDisplayer{}
	}

	state := f.State
	if state == "" {
		var err error
		if state, err = NewState(); err != nil {
			return nil, err
		}
	}

	authorizeURL, err := BuildAuthorizeURL(f.AuthorizeEndpoint, AuthorizeParams{
		AppID:       f.AppID,
		RedirectURI: f.RedirectURI,
		Scope:       f.Scope,
		State:       state,
	})
	if err != nil {
		return nil, err
	}

	var code, returnedState string
	if f.Manual {
		code, returnedState, err = f.readManual(ctx, display, authorizeURL)
	} else {
		code, returnedState, err = f.awaitCallback(ctx, display, authorizeURL)
	}
	if err != nil {
		return nil, err
	}

	if code == "" {
		return nil, ErrNoCode
	}
	if returnedState != "" && returnedState != state {
		return nil, ErrStateMismatch
	}

	display.Exchanging()
	sess, err := f.Exchanger.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	display.ExchangeOK()

	if err := f.Store.Save(sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	display.SessionSaved(f.Store.Path())

	return sess, nil
}

func (f *LoginFlow) readManual(
	ctx context.Context,
	display tui.Displayer,
	authorizeURL string,
) (string, string, error) {
	display.AuthorizeURLReady(authorizeURL, time.Time{})
	if f.Prompt == nil {
		return "", "", errors.New("manual login requires an input prompt")
	}
	input, err := f.Prompt(ctx)
	if err != nil {
		return "", "", fmt.Errorf("failed to read authorization input: %w", err)
	}
	code, state := ExtractCodeAndState(input)
	return code, state, nil
}

func (f *LoginFlow) awaitCallback(
	ctx context.Context,
	display tui.Displayer,
	authorizeURL string,
) (string, string, error) {
	listener, err := ListenCallback(f.RedirectURI)
	if err != nil {
		return "", "", err
	}
	defer listener.Close()

	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultCallbackTimeout
	}
	display.AuthorizeURLReady(authorizeURL, time.Now().Add(timeout))

	if !f.NoOpenBrowser {
		open := f.OpenBrowser
		if open == nil {
			open = OpenBrowser
		}
		if err := open(authorizeURL); err != nil {
			display.BrowserOpenFailed(err)
		}
	}

	display.WaitingForCallback(f.RedirectURI)
	res, err := listener.Wait(ctx, timeout)
	switch {
	case errors.Is(err, ErrCallbackTimeout):
		display.CallbackTimedOut()
		return "", "", nil
	case err != nil:
		return "", "", err
	}

	display.CallbackReceived()
	return res.Code, res.State, nil
}
