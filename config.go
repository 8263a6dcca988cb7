package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/feishu-cli/feishu-cli/feishu"
	"github.com/feishu-cli/feishu-cli/oidc"
	"github.com/feishu-cli/feishu-cli/session"
)

// Environment variables
const (
	envAppID       = "FEISHU_APP_ID"
	envAppSecret   = "FEISHU_APP_SECRET"
	envBaseURL     = "FEISHU_BASE_URL"
	envRedirectURI = "FEISHU_REDIRECT_URI"
	envLogLevel    = "FEISHU_LOG_LEVEL"
)

// globalFlags are accepted by every command.
type globalFlags struct {
	baseURL   string
	tokenFile string
	logLevel  string
}

func (g *globalFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&g.baseURL, "base-url", "", "Open Platform URL (default: "+feishu.DefaultBaseURL+" or "+envBaseURL+" env)")
	fs.StringVar(&g.tokenFile, "token-file", "", "Session file (default: "+session.DefaultPath()+" or "+session.EnvTokenFile+" env)")
	fs.StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error (default: warn or "+envLogLevel+" env)")
}

// config is the resolved configuration of one command.
type config struct {
	AppID     string
	AppSecret string
	BaseURL   string
	TokenFile string
	// EnvUserToken is the literal user access token override, if set.
	EnvUserToken string
	LogLevel     slog.Level
}

// newFlagSet returns a pflag set for a command with the global flags attached.
func (a *app) newFlagSet(name string, g *globalFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(a.stderr)
	g.register(fs)
	return fs
}

// parseFlags parses args and resolves the configuration. Priority: flag > env > default.
func (a *app) parseFlags(fs *pflag.FlagSet, g *globalFlags, args []string) (*config, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, err
		}
		return nil, usageErrorf("%v", err)
	}

	cfg := &config{
		AppID:        strings.TrimSpace(getEnv(envAppID, "")),
		AppSecret:    strings.TrimSpace(getEnv(envAppSecret, "")),
		BaseURL:      getConfig(g.baseURL, envBaseURL, feishu.DefaultBaseURL),
		TokenFile:    session.ResolvePath(getConfig(g.tokenFile, session.EnvTokenFile, "")),
		EnvUserToken: session.EnvAccessToken(),
	}

	level, err := parseLogLevel(getConfig(g.logLevel, envLogLevel, "warn"))
	if err != nil {
		return nil, &oidc.ConfigError{Msg: "invalid log level", Err: err}
	}
	cfg.LogLevel = level
	a.logger = newLogger(a.stderr, level)

	if err := validateServerURL(cfg.BaseURL); err != nil {
		return nil, &oidc.ConfigError{Msg: "invalid " + envBaseURL, Err: err}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	// Warn if using HTTP instead of HTTPS
	if strings.HasPrefix(strings.ToLower(cfg.BaseURL), "http://") {
		fmt.Fprintln(a.stderr, "WARNING: Using HTTP instead of HTTPS. Tokens will be transmitted in plaintext!")
	}

	return cfg, nil
}

// requireApp checks the app credentials needed to talk to the platform.
func (c *config) requireApp() error {
	if c.AppID == "" {
		return &oidc.ConfigError{
			Msg: envAppID + " not set. Set it as an environment variable or in .env file",
			Err: oidc.ErrMissingAppID,
		}
	}
	if c.AppSecret == "" {
		return &oidc.ConfigError{Msg: envAppSecret + " not set. Set it as an environment variable or in .env file"}
	}
	return nil
}

// getConfig returns value with priority: flag > env > default
func getConfig(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv(envKey, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// validateServerURL validates that the server URL is properly formatted
func validateServerURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("server URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelWarn, err
	}
	return level, nil
}

// newLogger returns a text logger on w. Logs go to stderr so stdout stays JSON.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
