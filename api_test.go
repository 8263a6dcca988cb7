package main

import (
	"strings"
	"testing"
	"time"

	"github.com/feishu-cli/feishu-cli/session"
)

func TestAPI_UsesUserToken(t *testing.T) {
	p := newFakePlatform(t)
	tokenFile := testEnv(t, p)
	writeSession(t, tokenFile, &session.UserTokenSession{
		AccessToken: "u-stored-access-token",
		ExpiresAt:   time.Now().Add(time.Hour),
		ObtainedAt:  time.Now(),
	})

	res := runCLI(t, "", "api", "get", "/open-apis/wiki/v2/spaces", "-q", "page_size=10")
	if res.code != exitOK {
		t.Fatalf("exit code = %d, stdout: %s", res.code, res.stdout)
	}
	if got := p.auth(); got != "Bearer u-stored-access-token" {
		t.Errorf("Authorization = %q, want the user token", got)
	}
	if _, ok := res.data(t)["items"]; !ok {
		t.Errorf("data should carry the response payload: %s", res.stdout)
	}
}

func TestAPI_FallsBackToTenantToken(t *testing.T) {
	p := newFakePlatform(t)
	testEnv(t, p)

	res := runCLI(t, "", "api", "GET", "open-apis/wiki/v2/spaces")
	if res.code != exitOK {
		t.Fatalf("exit code = %d, stdout: %s", res.code, res.stdout)
	}
	if got := p.auth(); got != "Bearer "+testTenantToken {
		t.Errorf("Authorization = %q, want the tenant token", got)
	}
}

func TestAPI_FailureEnvelope(t *testing.T) {
	p := newFakePlatform(t)
	testEnv(t, p)

	res := runCLI(t, "", "api", "GET", "/open-apis/wiki/v2/spaces", "--query", "page_size=0")
	if res.code != exitFailure {
		t.Fatalf("exit code = %d, want %d", res.code, exitFailure)
	}
	out := res.json(t)
	if out["success"] != false || out["code"] != float64(99992402) || out["log_id"] != "test-log-id" {
		t.Errorf("unexpected error envelope: %s", res.stdout)
	}
	if strings.Count(res.stdout, `"success"`) != 1 {
		t.Errorf("stdout should hold a single envelope:\n%s", res.stdout)
	}
}

func TestAPI_UsageErrors(t *testing.T) {
	p := newFakePlatform(t)
	testEnv(t, p)

	tests := []struct {
		name string
		args []string
	}{
		{name: "missing path", args: []string{"api", "GET"}},
		{name: "unsupported method", args: []string{"api", "TRACE", "/open-apis/x"}},
		{name: "absolute url", args: []string{"api", "GET", "https://evil.example.com/x"}},
		{name: "bad query", args: []string{"api", "GET", "/open-apis/x", "-q", "novalue"}},
		{name: "bad json", args: []string{"api", "POST", "/open-apis/x", "-d", "{nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if res := runCLI(t, "", tt.args...); res.code != exitUsage {
				t.Errorf("exit code = %d, want %d", res.code, exitUsage)
			}
		})
	}
}
