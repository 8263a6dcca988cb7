package tui

import (
	"fmt"
	"io"
	"time"

	tea "charm.land/bubbletea/v2"
)

// Displayer abstracts all progress output of the login and refresh flows.
type Displayer interface {
	Banner()
	AuthorizeURLReady(authorizeURL string, deadline time.Time)
	BrowserOpenFailed(err error)
	WaitingForCallback(redirectURI string)
	CallbackReceived()
	CallbackTimedOut()
	Exchanging()
	ExchangeOK()
	Refreshing()
	RefreshOK()
	RefreshFailed(err error)
	SessionSaved(path string)
	Done(tokenType, scope string, expiresIn time.Duration)
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, SSH without pty) and in manual mode.
type PlainDisplayer struct {
	w io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) Banner() {
	fmt.Fprintln(p.w, "=== Feishu CLI user login ===")
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) AuthorizeURLReady(authorizeURL string, deadline time.Time) {
	fmt.Fprintln(p.w, "----------------------------------------")
	fmt.Fprintf(p.w, "Open this link to authorize:\n%s\n", authorizeURL)
	if !deadline.IsZero() {
		fmt.Fprintf(p.w, "\nWaiting until %s\n", deadline.Format(time.Kitchen))
	}
	fmt.Fprintln(p.w, "----------------------------------------")
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) BrowserOpenFailed(err error) {
	fmt.Fprintf(p.w, "Could not open a browser (%v), open the link manually.\n", err)
}

func (p *PlainDisplayer) WaitingForCallback(redirectURI string) {
	fmt.Fprintf(p.w, "Waiting for authorization callback on %s ...\n", redirectURI)
}

func (p *PlainDisplayer) CallbackReceived() {
	fmt.Fprintln(p.w, "Authorization callback received.")
}

func (p *PlainDisplayer) CallbackTimedOut() {
	fmt.Fprintln(p.w, "No authorization callback received in time.")
}

func (p *PlainDisplayer) Exchanging() {
	fmt.Fprintln(p.w, "Exchanging authorization code...")
}

func (p *PlainDisplayer) ExchangeOK() {
	fmt.Fprintln(p.w, "Authorization successful!")
}

func (p *PlainDisplayer) Refreshing() {
	fmt.Fprintln(p.w, "Refreshing user access token...")
}

func (p *PlainDisplayer) RefreshOK() {
	fmt.Fprintln(p.w, "Token refreshed successfully!")
}

func (p *PlainDisplayer) RefreshFailed(err error) {
	fmt.Fprintf(p.w, "Refresh failed: %v\n", err)
}

func (p *PlainDisplayer) SessionSaved(path string) {
	fmt.Fprintf(p.w, "Session saved to %s\n", path)
}

func (p *PlainDisplayer) Done(tokenType, scope string, expiresIn time.Duration) {
	fmt.Fprintln(p.w, "\n========================================")
	fmt.Fprintf(p.w, "Token Type: %s\n", tokenType)
	if scope != "" {
		fmt.Fprintf(p.w, "Scope: %s\n", scope)
	}
	if expiresIn > 0 {
		fmt.Fprintf(p.w, "Expires In: %s\n", expiresIn.Round(time.Second))
	}
	fmt.Fprintln(p.w, "========================================")
}

func (p *PlainDisplayer) Fatal(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests and for quiet commands.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner()                                {}
func (NoopDisplayer) AuthorizeURLReady(_ string, _ time.Time) {}
func (NoopDisplayer) BrowserOpenFailed(_ error)              {}
func (NoopDisplayer) WaitingForCallback(_ string)            {}
func (NoopDisplayer) CallbackReceived()                      {}
func (NoopDisplayer) CallbackTimedOut()                      {}
func (NoopDisplayer) Exchanging()                            {}
func (NoopDisplayer) ExchangeOK()                            {}
func (NoopDisplayer) Refreshing()                            {}
func (NoopDisplayer) RefreshOK()                             {}
func (NoopDisplayer) RefreshFailed(_ error)                  {}
func (NoopDisplayer) SessionSaved(_ string)                  {}
func (NoopDisplayer) Done(_, _ string, _ time.Duration)      {}
func (NoopDisplayer) Fatal(_ error)                          {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner() {
	t.p.Send(MsgBanner{})
}

func (t *ProgramDisplayer) AuthorizeURLReady(authorizeURL string, deadline time.Time) {
	t.p.Send(MsgAuthorizeURLReady{URL: authorizeURL, Deadline: deadline})
}

func (t *ProgramDisplayer) BrowserOpenFailed(err error) {
	t.p.Send(MsgBrowserOpenFailed{Err: err})
}

func (t *ProgramDisplayer) WaitingForCallback(redirectURI string) {
	t.p.Send(MsgWaitingForCallback{RedirectURI: redirectURI})
}

func (t *ProgramDisplayer) CallbackReceived() {
	t.p.Send(MsgCallbackReceived{})
}

func (t *ProgramDisplayer) CallbackTimedOut() {
	t.p.Send(MsgCallbackTimedOut{})
}

func (t *ProgramDisplayer) Exchanging() {
	t.p.Send(MsgExchanging{})
}

func (t *ProgramDisplayer) ExchangeOK() {
	t.p.Send(MsgExchangeOK{})
}

func (t *ProgramDisplayer) Refreshing() {
	t.p.Send(MsgRefreshing{})
}

func (t *ProgramDisplayer) RefreshOK() {
	t.p.Send(MsgRefreshOK{})
}

func (t *ProgramDisplayer) RefreshFailed(err error) {
	t.p.Send(MsgRefreshFailed{Err: err})
}

func (t *ProgramDisplayer) SessionSaved(path string) {
	t.p.Send(MsgSessionSaved{Path: path})
}

func (t *ProgramDisplayer) Done(tokenType, scope string, expiresIn time.Duration) {
	t.p.Send(MsgDone{TokenType: tokenType, Scope: scope, ExpiresIn: expiresIn})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}
