package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/feishu-cli/feishu-cli/feishu"
	"github.com/feishu-cli/feishu-cli/oidc"
	"github.com/feishu-cli/feishu-cli/session"
	"github.com/feishu-cli/feishu-cli/tui"
)

// services wires the session store, platform client, token grants and
// resolver for one command.
type services struct {
	store    *session.Store
	client   *feishu.Client
	tokens   *oidc.Tokens
	resolver *oidc.Resolver
}

func (a *app) services(cfg *config) (*services, error) {
	store := session.NewStore(cfg.TokenFile, session.WithLogger(a.logger))

	resolver := oidc.NewResolver(store, nil, cfg.EnvUserToken)
	resolver.Logger = a.logger

	client, err := feishu.NewClient(cfg.BaseURL, cfg.AppID, cfg.AppSecret,
		feishu.WithUserCredentials(resolver),
		feishu.WithLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}

	tokens := oidc.NewTokens(client)
	resolver.Refresher = tokens

	return &services{
		store:    store,
		client:   client,
		tokens:   tokens,
		resolver: resolver,
	}, nil
}

// sessionMetadata describes a stored session without exposing its tokens.
type sessionMetadata struct {
	Mode             string  `json:"mode"`
	TokenFile        string  `json:"token_file"`
	TokenType        *string `json:"token_type"`
	Scope            *string `json:"scope"`
	ObtainedAt       int64   `json:"obtained_at"`
	ExpiresAt        *int64  `json:"expires_at"`
	RefreshExpiresAt *int64  `json:"refresh_expires_at"`
	HasRefreshToken  bool    `json:"has_refresh_token"`
}

func newSessionMetadata(s *session.UserTokenSession, path string) sessionMetadata {
	optString := func(v string) *string {
		if v == "" {
			return nil
		}
		return &v
	}
	optUnix := func(t time.Time) *int64 {
		if t.IsZero() {
			return nil
		}
		u := t.Unix()
		return &u
	}

	return sessionMetadata{
		Mode:             "user",
		TokenFile:        path,
		TokenType:        optString(s.TokenType),
		Scope:            optString(s.Scope),
		ObtainedAt:       s.ObtainedAt.Unix(),
		ExpiresAt:        optUnix(s.ExpiresAt),
		RefreshExpiresAt: optUnix(s.RefreshExpiresAt),
		HasRefreshToken:  s.HasRefreshToken(),
	}
}

func expiresIn(s *session.UserTokenSession) time.Duration {
	if s.ExpiresAt.IsZero() {
		return 0
	}
	return time.Until(s.ExpiresAt)
}

type authorizeFlags struct {
	redirectURI string
	scope       string
	state       string
}

func (f *authorizeFlags) register(a *app, name string, g *globalFlags) *pflag.FlagSet {
	fs := a.newFlagSet(name, g)
	fs.StringVar(&f.redirectURI, "redirect-uri", "",
		"OIDC callback URI (default: "+oidc.DefaultRedirectURI+" or "+envRedirectURI+" env)")
	fs.StringVar(&f.scope, "scope", oidc.DefaultScope, "OAuth scope")
	fs.StringVar(&f.state, "state", "", "CSRF state value (default: random)")
	return fs
}

func (f *authorizeFlags) params(appID string) (oidc.AuthorizeParams, error) {
	state := strings.TrimSpace(f.state)
	if state == "" {
		var err error
		if state, err = oidc.NewState(); err != nil {
			return oidc.AuthorizeParams{}, err
		}
	}
	return oidc.AuthorizeParams{
		AppID:       appID,
		RedirectURI: getConfig(f.redirectURI, envRedirectURI, oidc.DefaultRedirectURI),
		Scope:       f.scope,
		State:       state,
	}, nil
}

type loginURLResult struct {
	AuthorizeURL string `json:"authorize_url"`
	State        string `json:"state"`
	RedirectURI  string `json:"redirect_uri"`
	Scope        string `json:"scope"`
}

// cmdLoginURL prints the authorization URL for a login completed elsewhere.
func (a *app) cmdLoginURL(_ context.Context, args []string) error {
	var (
		g  globalFlags
		af authorizeFlags
	)
	fs := af.register(a, "auth login-url", &g)
	cfg, err := a.parseFlags(fs, &g, args)
	if err != nil {
		return err
	}
	if err := cfg.requireApp(); err != nil {
		return err
	}

	p, err := af.params(cfg.AppID)
	if err != nil {
		return err
	}
	u, err := oidc.BuildAuthorizeURL(oidc.AuthorizeEndpoint(cfg.BaseURL), p)
	if err != nil {
		return err
	}

	writeSuccess(a.stdout, loginURLResult{
		AuthorizeURL: u,
		State:        p.State,
		RedirectURI:  p.RedirectURI,
		Scope:        p.Scope,
	})
	return nil
}

// cmdLogin runs the interactive login and stores the session.
func (a *app) cmdLogin(ctx context.Context, args []string) error {
	var (
		g  globalFlags
		af authorizeFlags
	)
	fs := af.register(a, "auth login", &g)
	timeout := fs.Int("timeout", int(oidc.DefaultCallbackTimeout/time.Second), "Callback wait timeout in seconds")
	manual := fs.Bool("manual", false, "Manual mode: paste callback URL/code instead of local callback")
	noOpenBrowser := fs.Bool("no-open-browser", false, "Do not open browser automatically")

	cfg, err := a.parseFlags(fs, &g, args)
	if err != nil {
		return err
	}
	if err := cfg.requireApp(); err != nil {
		return err
	}
	if *timeout <= 0 {
		return usageErrorf("--timeout must be positive, got %d", *timeout)
	}

	svc, err := a.services(cfg)
	if err != nil {
		return err
	}
	p, err := af.params(cfg.AppID)
	if err != nil {
		return err
	}

	flow := &oidc.LoginFlow{
		AppID:             p.AppID,
		AuthorizeEndpoint: oidc.AuthorizeEndpoint(cfg.BaseURL),
		RedirectURI:       p.RedirectURI,
		Scope:             p.Scope,
		State:             p.State,
		Timeout:           time.Duration(*timeout) * time.Second,
		Manual:            *manual,
		NoOpenBrowser:     *noOpenBrowser,
		Exchanger:         svc.tokens,
		Store:             svc.store,
		OpenBrowser:       a.openBrowser,
		Prompt:            a.prompt,
	}

	var sess *session.UserTokenSession
	login := func(d tui.Displayer) error {
		flow.Display = d
		s, err := flow.Run(ctx)
		if err != nil {
			return err
		}
		sess = s
		d.Done(s.TokenType, s.Scope, expiresIn(s))
		return nil
	}

	if *manual {
		// The prompt shares the terminal, so no TUI.
		d := tui.NewPlainDisplayer(a.stderr)
		if err := login(d); err != nil {
			d.Fatal(err)
			return err
		}
	} else if err := a.withDisplay(login); err != nil {
		return err
	}

	writeSuccess(a.stdout, newSessionMetadata(sess, svc.store.Path()))
	return nil
}

// prompt reads one line of pasted input from stdin.
func (a *app) prompt(ctx context.Context) (string, error) {
	fmt.Fprint(a.stderr, "Paste callback URL or authorization code: ")

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(a.stdin).ReadString('\n')
		if errors.Is(err, io.EOF) {
			err = nil
		}
		ch <- result{line: line, err: err}
	}()

	select {
	case r := <-ch:
		return r.line, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// cmdExchangeCode trades a code obtained out of band for a stored session.
func (a *app) cmdExchangeCode(ctx context.Context, args []string) error {
	var g globalFlags
	fs := a.newFlagSet("auth exchange-code", &g)
	code := fs.String("code", "", "Authorization code (required)")

	cfg, err := a.parseFlags(fs, &g, args)
	if err != nil {
		return err
	}
	if strings.TrimSpace(*code) == "" {
		return usageErrorf("--code is required")
	}
	if err := cfg.requireApp(); err != nil {
		return err
	}

	svc, err := a.services(cfg)
	if err != nil {
		return err
	}

	sess, err := svc.tokens.Exchange(ctx, *code)
	if err != nil {
		return err
	}
	if err := svc.store.Save(sess); err != nil {
		return failWith(exitFailure, "failed to save session", err)
	}

	writeSuccess(a.stdout, newSessionMetadata(sess, svc.store.Path()))
	return nil
}

// cmdRefresh refreshes the stored session, or the given refresh token.
func (a *app) cmdRefresh(ctx context.Context, args []string) error {
	var g globalFlags
	fs := a.newFlagSet("auth refresh", &g)
	refreshToken := fs.String("refresh-token", "", "Refresh token (default: the stored session's)")

	cfg, err := a.parseFlags(fs, &g, args)
	if err != nil {
		return err
	}
	if err := cfg.requireApp(); err != nil {
		return err
	}

	svc, err := a.services(cfg)
	if err != nil {
		return err
	}

	var prior *session.UserTokenSession
	if tok := strings.TrimSpace(*refreshToken); tok != "" {
		prior = &session.UserTokenSession{RefreshToken: tok}
	} else {
		s, ok := svc.store.Load()
		if !ok {
			return errNoSession
		}
		prior = s
	}

	var refreshed *session.UserTokenSession
	err = a.withDisplay(func(d tui.Displayer) error {
		d.Refreshing()
		s, err := svc.tokens.Refresh(ctx, prior)
		if err != nil {
			d.RefreshFailed(err)
			return fmt.Errorf("%w; please login again", err)
		}
		d.RefreshOK()

		if err := svc.store.Save(s); err != nil {
			return failWith(exitFailure, "failed to save session", err)
		}
		d.SessionSaved(svc.store.Path())
		d.Done(s.TokenType, s.Scope, expiresIn(s))
		refreshed = s
		return nil
	})
	if err != nil {
		return err
	}

	writeSuccess(a.stdout, newSessionMetadata(refreshed, svc.store.Path()))
	return nil
}

// cmdWhoami shows the profile of the user behind the resolved token.
func (a *app) cmdWhoami(ctx context.Context, args []string) error {
	var g globalFlags
	fs := a.newFlagSet("auth whoami", &g)
	cfg, err := a.parseFlags(fs, &g, args)
	if err != nil {
		return err
	}
	if err := cfg.requireApp(); err != nil {
		return err
	}

	svc, err := a.services(cfg)
	if err != nil {
		return err
	}

	res := svc.resolver.Resolve(ctx)
	if !res.OK() {
		return errNoUserToken
	}

	resp, err := svc.client.UserInfo(ctx, res.Token())
	if err != nil {
		return err
	}
	return writeResponse(a.stdout, resp)
}

type statusResult struct {
	TokenFile            string           `json:"token_file"`
	Source               string           `json:"source"`
	Session              *sessionMetadata `json:"session"`
	AccessTokenExpiring  bool             `json:"access_token_expiring"`
	RefreshTokenExpiring bool             `json:"refresh_token_expiring"`
}

// cmdStatus reports which credential would be used, without refreshing.
func (a *app) cmdStatus(_ context.Context, args []string) error {
	var g globalFlags
	fs := a.newFlagSet("auth status", &g)
	cfg, err := a.parseFlags(fs, &g, args)
	if err != nil {
		return err
	}

	store := session.NewStore(cfg.TokenFile, session.WithLogger(a.logger))
	out := statusResult{TokenFile: store.Path(), Source: oidc.StateNoSession.String()}

	if s, ok := store.Load(); ok {
		now := time.Now()
		meta := newSessionMetadata(s, store.Path())
		out.Session = &meta
		out.Source = oidc.StateValidSession.String()
		out.AccessTokenExpiring = session.IsExpiring(now, s.ExpiresAt, oidc.DefaultAccessBuffer)
		out.RefreshTokenExpiring = session.IsExpiring(now, s.RefreshExpiresAt, oidc.DefaultRefreshBuffer)
	}
	if cfg.EnvUserToken != "" {
		out.Source = oidc.StateEnvOverride.String()
	}

	writeSuccess(a.stdout, out)
	return nil
}

type logoutResult struct {
	Message   string `json:"message"`
	TokenFile string `json:"token_file"`
}

// cmdLogout removes the stored session.
func (a *app) cmdLogout(_ context.Context, args []string) error {
	var g globalFlags
	fs := a.newFlagSet("auth logout", &g)
	cfg, err := a.parseFlags(fs, &g, args)
	if err != nil {
		return err
	}

	store := session.NewStore(cfg.TokenFile, session.WithLogger(a.logger))
	if err := store.Clear(); err != nil {
		return failWith(exitFailure, "failed to clear session", err)
	}

	writeSuccess(a.stdout, logoutResult{
		Message:   "User session cleared.",
		TokenFile: store.Path(),
	})
	return nil
}
