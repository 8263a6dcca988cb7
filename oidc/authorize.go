// Package oidc implements the Feishu user login: authorize URL, loopback
// callback, code exchange, refresh, and per-call token resolution.
package oidc

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

const (
	// DefaultRedirectURI is the loopback callback registered for the CLI app.
	DefaultRedirectURI = "http://127.0.0.1:3080/callback"

	authorizePath = "/open-apis/authen/v1/authorize"

	stateBytes = 16
)

// DefaultScopes are requested when the user does not pass --scope.
var DefaultScopes = []string{
	"offline_access",
	"auth:user.id:read",
	"docx:document",
	"docx:document:create",
	"docs:document.content:read",
	"drive:drive",
	"sheets:spreadsheet",
	"sheets:spreadsheet:create",
	"bitable:app",
	"base:app:create",
}

// DefaultScope is DefaultScopes joined by spaces.
var DefaultScope = strings.Join(DefaultScopes, " ")

// AuthorizeParams are the query parameters of the authorize request.
type AuthorizeParams struct {
	AppID       string
	RedirectURI string
	Scope       string
	State       string
}

// AuthorizeEndpoint returns the authorize URL for the given API base URL.
func AuthorizeEndpoint(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + authorizePath
}

// BuildAuthorizeURL returns endpoint?app_id=&redirect_uri=&scope=&state=.
func BuildAuthorizeURL(endpoint string, p AuthorizeParams) (string, error) {
	if strings.TrimSpace(p.AppID) == "" {
		return "", &ConfigError{Msg: "cannot build authorize URL", Err: ErrMissingAppID}
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", &ConfigError{Msg: "invalid authorize endpoint", Err: err}
	}

	u.RawQuery = url.Values{
		"app_id":       {p.AppID},
		"redirect_uri": {p.RedirectURI},
		"scope":        {p.Scope},
		"state":        {p.State},
	}.Encode()

	return u.String(), nil
}

// NewState returns a random URL-safe CSRF state with 16 bytes of entropy.
func NewState() (string, error) {
	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
