package oidc

import (
	"net/url"
	"strings"
)

// ExtractCodeAndState parses what the user pasted in manual mode: either the
// full callback URL or the bare authorization code. Blank input yields two
// empty strings; a bare code has no state.
func ExtractCodeAndState(input string) (code, state string) {
	text := strings.TrimSpace(input)
	if text == "" {
		return "", ""
	}

	if !strings.HasPrefix(text, "http://") && !strings.HasPrefix(text, "https://") {
		return text, ""
	}

	u, err := url.Parse(text)
	if err != nil {
		return "", ""
	}
	q := u.Query()
	return q.Get("code"), q.Get("state")
}
