package oidc

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestParseRedirectURI(t *testing.T) {
	tests := []struct {
		name     string
		uri      string
		wantErr  bool
		wantHost string
		wantPort string
		wantPath string
	}{
		{name: "ipv4 loopback", uri: "http://127.0.0.1:3080/callback", wantHost: "127.0.0.1", wantPort: "3080", wantPath: "/callback"},
		{name: "localhost", uri: "http://localhost:9000/cb", wantHost: "localhost", wantPort: "9000", wantPath: "/cb"},
		{name: "empty path becomes root", uri: "http://127.0.0.1:3080", wantHost: "127.0.0.1", wantPort: "3080", wantPath: "/"},
		{name: "https rejected", uri: "https://127.0.0.1:3080/callback", wantErr: true},
		{name: "remote host rejected", uri: "http://example.com:3080/callback", wantErr: true},
		{name: "all interfaces rejected", uri: "http://0.0.0.0:3080/callback", wantErr: true},
		{name: "missing port rejected", uri: "http://127.0.0.1/callback", wantErr: true},
		{name: "garbage rejected", uri: "://nope", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := ParseRedirectURI(tt.uri)
			if tt.wantErr {
				var cfgErr *ConfigError
				if !errors.As(err, &cfgErr) {
					t.Fatalf("expected *ConfigError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if target.Host != tt.wantHost || target.Port != tt.wantPort || target.Path != tt.wantPath {
				t.Errorf("got %+v, want host=%s port=%s path=%s", target, tt.wantHost, tt.wantPort, tt.wantPath)
			}
		})
	}
}

func listenTestCallback(t *testing.T) *CallbackListener {
	t.Helper()
	l, err := ListenCallback("http://127.0.0.1:0/callback")
	if err != nil {
		t.Fatalf("ListenCallback() error = %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestCallbackListener_ReceivesCode(t *testing.T) {
	l := listenTestCallback(t)

	resp, err := http.Get(l.URL() + "?code=abc&state=xyz")
	if err != nil {
		t.Fatalf("callback request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	if !strings.Contains(string(body), "Authorization received") {
		t.Errorf("unexpected body: %s", body)
	}

	res, err := l.Wait(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if res.Code != "abc" || res.State != "xyz" {
		t.Errorf("result = %+v, want code=abc state=xyz", res)
	}
}

func TestCallbackListener_ProviderError(t *testing.T) {
	l := listenTestCallback(t)

	resp, err := http.Get(l.URL() + "?error=access_denied&error_description=User+denied+access")
	if err != nil {
		t.Fatalf("callback request failed: %v", err)
	}
	resp.Body.Close()

	_, err = l.Wait(context.Background(), 2*time.Second)
	var denied *ProviderDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected *ProviderDeniedError, got %v", err)
	}
	if denied.Code != "access_denied" {
		t.Errorf("Code = %q, want access_denied", denied.Code)
	}
	if !strings.Contains(denied.Error(), "User denied access") {
		t.Errorf("error message %q does not carry the provider description", denied.Error())
	}
}

func TestCallbackListener_PathMismatchTimesOut(t *testing.T) {
	l := listenTestCallback(t)
	other := "http://" + l.Addr() + "/other?code=abc&state=xyz"

	resp, err := http.Get(other)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}

	start := time.Now()
	_, err = l.Wait(context.Background(), 200*time.Millisecond)
	if !errors.Is(err, ErrCallbackTimeout) {
		t.Fatalf("expected ErrCallbackTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("Wait returned after %v, before the timeout", elapsed)
	}

	// The listener is torn down after the timeout.
	client := &http.Client{Timeout: time.Second}
	if resp, err := client.Get(l.URL() + "?code=late"); err == nil {
		resp.Body.Close()
		t.Errorf("expected connection failure after timeout, got status %d", resp.StatusCode)
	}
}

func TestCallbackListener_OnlyFirstCallbackCounts(t *testing.T) {
	l := listenTestCallback(t)

	first, err := http.Get(l.URL() + "?code=first")
	if err != nil {
		t.Fatalf("first callback failed: %v", err)
	}
	first.Body.Close()

	second, err := http.Get(l.URL() + "?code=second")
	if err != nil {
		t.Fatalf("second callback failed: %v", err)
	}
	second.Body.Close()
	if second.StatusCode != http.StatusGone {
		t.Errorf("second callback status = %d, want 410", second.StatusCode)
	}

	res, err := l.Wait(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if res.Code != "first" {
		t.Errorf("Code = %q, want first", res.Code)
	}
}

func TestCallbackListener_ContextCancel(t *testing.T) {
	l := listenTestCallback(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Wait(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestListenCallback_PortInUse(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	defer busy.Close()

	_, err = ListenCallback("http://" + busy.Addr().String() + "/callback")
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError for a bound port, got %v", err)
	}
}

func TestListenCallback_RejectsInvalidRedirect(t *testing.T) {
	_, err := ListenCallback("https://127.0.0.1:3080/callback")
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
}
