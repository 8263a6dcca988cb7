package session

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// EnvTokenFile overrides the session file location.
	EnvTokenFile = "FEISHU_TOKEN_FILE"
	// EnvUserAccessToken carries a literal user access token that bypasses
	// the session file entirely.
	EnvUserAccessToken = "FEISHU_USER_ACCESS_TOKEN"
)

// DefaultPath returns ~/.config/feishu-cli/user_token.json.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "feishu-cli", "user_token.json")
}

// ResolvePath returns override (with a leading ~ expanded) when set,
// otherwise DefaultPath.
func ResolvePath(override string) string {
	override = strings.TrimSpace(override)
	if override == "" {
		return DefaultPath()
	}
	return expandHome(override)
}

// EnvAccessToken returns the trimmed FEISHU_USER_ACCESS_TOKEN value.
func EnvAccessToken() string {
	return strings.TrimSpace(os.Getenv(EnvUserAccessToken))
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Store persists a single UserTokenSession as a JSON file.
//
// Writes are not locked: concurrent invocations race and the last writer wins.
type Store struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for non-fatal store problems.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used to fill a missing obtained_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a store backed by the file at path.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		path:   path,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the session file location.
func (s *Store) Path() string {
	return s.path
}

// Save writes sess to disk, creating parent directories as needed, and then
// restricts the file to owner read/write. A failed chmod is logged, not returned.
func (s *Store) Save(sess *UserTokenSession) error {
	data, err := encodeSession(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}

	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(s.path, 0o600); err != nil {
		s.logger.Warn("could not restrict session file permissions",
			"path", s.path, "error", err)
	}

	return nil
}

// Load reads the session file. Any problem (missing, unreadable, malformed,
// empty access token) is reported as no session.
func (s *Store) Load() (*UserTokenSession, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("session file unreadable", "path", s.path, "error", err)
		}
		return nil, false
	}

	sess, err := decodeSession(data, s.now())
	if err != nil {
		s.logger.Debug("ignoring invalid session file", "path", s.path, "error", err)
		return nil, false
	}
	return sess, true
}

// Clear deletes the session file. A missing file is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}
