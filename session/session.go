// Package session holds the persisted user token session and the file store
// that keeps it between CLI invocations.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrEmptyAccessToken is returned when a session without an access token is
// about to be persisted.
var ErrEmptyAccessToken = errors.New("session access_token is empty")

// UserTokenSession is the single persisted user credential.
//
// Optional string fields use "" for absent, optional instants use the zero
// time.Time. Expiry instants are absolute and fixed at construction time.
type UserTokenSession struct {
	AccessToken      string
	RefreshToken     string
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
	TokenType        string
	Scope            string
	ObtainedAt       time.Time
}

// Validate reports whether s may be persisted or handed to a caller.
func (s *UserTokenSession) Validate() error {
	if s == nil || strings.TrimSpace(s.AccessToken) == "" {
		return ErrEmptyAccessToken
	}
	return nil
}

// HasRefreshToken reports whether a refresh grant can be attempted at all.
func (s *UserTokenSession) HasRefreshToken() bool {
	return s != nil && s.RefreshToken != ""
}

// IsExpiring reports whether now is within buffer of expiresAt.
// An absent (zero) expiry never expires.
func IsExpiring(now, expiresAt time.Time, buffer time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return !now.Before(expiresAt.Add(-buffer))
}

// sessionFile is the on-disk schema. Every field is always written so the file
// carries exactly the session fields; absent values are null.
type sessionFile struct {
	AccessToken      string       `json:"access_token"`
	RefreshToken     *string      `json:"refresh_token"`
	ExpiresAt        epochSeconds `json:"expires_at"`
	RefreshExpiresAt epochSeconds `json:"refresh_expires_at"`
	TokenType        *string      `json:"token_type"`
	Scope            *string      `json:"scope"`
	ObtainedAt       epochSeconds `json:"obtained_at"`
}

func encodeSession(s *UserTokenSession) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	f := sessionFile{
		AccessToken:      s.AccessToken,
		RefreshToken:     optionalString(s.RefreshToken),
		ExpiresAt:        fromTime(s.ExpiresAt),
		RefreshExpiresAt: fromTime(s.RefreshExpiresAt),
		TokenType:        optionalString(s.TokenType),
		Scope:            optionalString(s.Scope),
		ObtainedAt:       fromTime(s.ObtainedAt),
	}
	return json.MarshalIndent(f, "", "  ")
}

// decodeSession parses a session file. Unknown fields are ignored and numeric
// fields accept numbers or numeric strings. A missing obtained_at defaults to now.
func decodeSession(data []byte, now time.Time) (*UserTokenSession, error) {
	var f sessionFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}

	s := &UserTokenSession{
		AccessToken:      strings.TrimSpace(f.AccessToken),
		RefreshToken:     derefTrimmed(f.RefreshToken),
		ExpiresAt:        f.ExpiresAt.time(),
		RefreshExpiresAt: f.RefreshExpiresAt.time(),
		TokenType:        derefTrimmed(f.TokenType),
		Scope:            derefTrimmed(f.Scope),
		ObtainedAt:       f.ObtainedAt.time(),
	}
	if s.ObtainedAt.IsZero() {
		s.ObtainedAt = time.Unix(now.Unix(), 0)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// epochSeconds is an optional Unix timestamp in whole seconds.
type epochSeconds struct {
	set   bool
	value int64
}

func fromTime(t time.Time) epochSeconds {
	if t.IsZero() {
		return epochSeconds{}
	}
	return epochSeconds{set: true, value: t.Unix()}
}

func (e epochSeconds) time() time.Time {
	if !e.set {
		return time.Time{}
	}
	return time.Unix(e.value, 0)
}

func (e epochSeconds) MarshalJSON() ([]byte, error) {
	if !e.set {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(e.value, 10)), nil
}

func (e *epochSeconds) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*e = epochSeconds{}
		return nil
	}
	quoted := strings.HasPrefix(raw, `"`)
	if quoted {
		unquoted, err := strconv.Unquote(raw)
		if err != nil {
			return fmt.Errorf("invalid timestamp %s: %w", raw, err)
		}
		raw = strings.TrimSpace(unquoted)
		if raw == "" {
			*e = epochSeconds{}
			return nil
		}
	}

	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*e = epochSeconds{set: true, value: v}
		return nil
	}
	if quoted {
		return fmt.Errorf("invalid timestamp %q", raw)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("invalid timestamp %s", raw)
	}
	*e = epochSeconds{set: true, value: int64(f)}
	return nil
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func derefTrimmed(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}
