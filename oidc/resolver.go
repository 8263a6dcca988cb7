package oidc

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/feishu-cli/feishu-cli/session"
)

// DefaultAccessBuffer is how long before expires_at a session is refreshed.
const DefaultAccessBuffer = 120 * time.Second

// State is the outcome of one token resolution.
type State int

const (
	StateNoSession     State = iota // no user credential; callers fall back to app credentials
	StateEnvOverride                // literal token from the environment
	StateValidSession               // cached session used as-is
	StateRefreshed                  // session was expiring and has been refreshed
	StateRefreshFailed              // refresh failed, session cleared
)

func (s State) String() string {
	switch s {
	case StateEnvOverride:
		return "env"
	case StateValidSession:
		return "session"
	case StateRefreshed:
		return "refreshed"
	case StateRefreshFailed:
		return "refresh_failed"
	default:
		return "none"
	}
}

// Resolution is the credential chosen for an outgoing request.
type Resolution struct {
	State       State
	AccessToken string
	// Session is the cached or refreshed session; nil for env overrides.
	Session *session.UserTokenSession
}

// OK reports whether a user access token is available.
func (r Resolution) OK() bool {
	return r.AccessToken != ""
}

// Token returns the credential as an oauth2 bearer token, or nil when none.
func (r Resolution) Token() *oauth2.Token {
	if !r.OK() {
		return nil
	}
	tok := &oauth2.Token{AccessToken: r.AccessToken, TokenType: "Bearer"}
	if r.Session != nil {
		tok.RefreshToken = r.Session.RefreshToken
		tok.Expiry = r.Session.ExpiresAt
	}
	return tok
}

// SessionStore is the persistence the resolver needs.
type SessionStore interface {
	Load() (*session.UserTokenSession, bool)
	Save(*session.UserTokenSession) error
	Clear() error
}

// Refresher renews an expiring session.
type Refresher interface {
	Refresh(ctx context.Context, prior *session.UserTokenSession) (*session.UserTokenSession, error)
}

// Resolver decides which user credential, if any, accompanies an API call.
type Resolver struct {
	EnvToken     string
	Store        SessionStore
	Refresher    Refresher
	AccessBuffer time.Duration
	Now          func() time.Time
	Logger       *slog.Logger
}

// NewResolver returns a Resolver with the default access buffer.
func NewResolver(store SessionStore, refresher Refresher, envToken string) *Resolver {
	return &Resolver{
		EnvToken:     envToken,
		Store:        store,
		Refresher:    refresher,
		AccessBuffer: DefaultAccessBuffer,
		Now:          time.Now,
		Logger:       slog.Default(),
	}
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// Resolve runs on every API call. It never fails; every problem degrades to
// "no user credential".
func (r *Resolver) Resolve(ctx context.Context) Resolution {
	if tok := strings.TrimSpace(r.EnvToken); tok != "" {
		return Resolution{State: StateEnvOverride, AccessToken: tok}
	}
	if r.Store == nil {
		return Resolution{State: StateNoSession}
	}

	sess, ok := r.Store.Load()
	if !ok {
		return Resolution{State: StateNoSession}
	}

	now := time.Now()
	if r.Now != nil {
		now = r.Now()
	}
	if !session.IsExpiring(now, sess.ExpiresAt, r.AccessBuffer) {
		return Resolution{State: StateValidSession, AccessToken: sess.AccessToken, Session: sess}
	}

	log := r.logger()
	log.Debug("user access token expiring, refreshing", "expires_at", sess.ExpiresAt)

	var refreshed *session.UserTokenSession
	err := ErrNoRefreshToken
	if r.Refresher != nil {
		refreshed, err = r.Refresher.Refresh(ctx, sess)
	}
	if err != nil || refreshed == nil {
		log.Warn("user token refresh failed, clearing session; run `auth login` again", "error", err)
		if clearErr := r.Store.Clear(); clearErr != nil {
			log.Warn("could not clear session", "error", clearErr)
		}
		return Resolution{State: StateRefreshFailed}
	}

	if err := r.Store.Save(refreshed); err != nil {
		log.Warn("could not persist refreshed session", "error", err)
	}
	return Resolution{State: StateRefreshed, AccessToken: refreshed.AccessToken, Session: refreshed}
}

// UserToken returns the resolved user credential, if any.
func (r *Resolver) UserToken(ctx context.Context) (*oauth2.Token, bool) {
	res := r.Resolve(ctx)
	return res.Token(), res.OK()
}
