package oidc

import (
	"errors"
	"net/url"
	"strings"
	"testing"
)

func TestBuildAuthorizeURL(t *testing.T) {
	got, err := BuildAuthorizeURL(AuthorizeEndpoint("https://open.feishu.cn/"), AuthorizeParams{
		AppID:       "cli_test_app",
		RedirectURI: "http://127.0.0.1:3080/callback",
		Scope:       "offline_access docx:document",
		State:       "state123",
	})
	if err != nil {
		t.Fatalf("BuildAuthorizeURL() error = %v", err)
	}

	want := "https://open.feishu.cn/open-apis/authen/v1/authorize" +
		"?app_id=cli_test_app" +
		"&redirect_uri=http%3A%2F%2F127.0.0.1%3A3080%2Fcallback" +
		"&scope=offline_access+docx%3Adocument" +
		"&state=state123"
	if got != want {
		t.Errorf("BuildAuthorizeURL() =\n%s\nwant\n%s", got, want)
	}
}

func TestBuildAuthorizeURL_MissingAppID(t *testing.T) {
	_, err := BuildAuthorizeURL(AuthorizeEndpoint("https://open.feishu.cn"), AuthorizeParams{
		AppID:       "  ",
		RedirectURI: DefaultRedirectURI,
		State:       "s",
	})
	if !errors.Is(err, ErrMissingAppID) {
		t.Fatalf("expected ErrMissingAppID, got %v", err)
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected *ConfigError, got %T", err)
	}
}

func TestNewState(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		state, err := NewState()
		if err != nil {
			t.Fatalf("NewState() error = %v", err)
		}
		if len(state) < 22 {
			t.Errorf("state %q shorter than 16 bytes of base64url", state)
		}
		if url.QueryEscape(state) != state {
			t.Errorf("state %q is not URL-safe", state)
		}
		if strings.ContainsAny(state, "=+/") {
			t.Errorf("state %q contains padding or non-url alphabet", state)
		}
		if seen[state] {
			t.Fatalf("duplicate state %q", state)
		}
		seen[state] = true
	}
}

func TestDefaultScope(t *testing.T) {
	if !strings.HasPrefix(DefaultScope, "offline_access ") {
		t.Errorf("DefaultScope must request offline_access first, got %q", DefaultScope)
	}
	if strings.Count(DefaultScope, " ") != len(DefaultScopes)-1 {
		t.Errorf("DefaultScope is not space-delimited: %q", DefaultScope)
	}
}

func TestExtractCodeAndState(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantCode  string
		wantState string
	}{
		{
			name:      "callback url",
			input:     "http://127.0.0.1:3080/callback?code=abc&state=xyz",
			wantCode:  "abc",
			wantState: "xyz",
		},
		{
			name:      "https callback url with surrounding whitespace",
			input:     "  https://example.test/cb?state=s1&code=c1\n",
			wantCode:  "c1",
			wantState: "s1",
		},
		{
			name:     "callback url without state",
			input:    "http://localhost:3080/callback?code=only",
			wantCode: "only",
		},
		{
			name:  "callback url without code",
			input: "http://localhost:3080/callback?error=access_denied",
		},
		{
			name:     "bare code",
			input:    "  raw-code-123 ",
			wantCode: "raw-code-123",
		},
		{
			name:  "empty",
			input: "",
		},
		{
			name:  "whitespace only",
			input: " \t\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, state := ExtractCodeAndState(tt.input)
			if code != tt.wantCode || state != tt.wantState {
				t.Errorf("ExtractCodeAndState(%q) = (%q, %q), want (%q, %q)",
					tt.input, code, state, tt.wantCode, tt.wantState)
			}
		})
	}
}
