package oidc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCallbackTimeout is how long the login waits for the browser redirect.
const DefaultCallbackTimeout = 180 * time.Second

const (
	callbackShutdownTimeout = 2 * time.Second
	callbackReadTimeout     = 10 * time.Second
)

const callbackPage = `<html><body><h3>Authorization received. You can close this page.</h3></body></html>`

// CallbackResult holds the query parameters of the provider redirect.
type CallbackResult struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// RedirectTarget is a validated loopback redirect URI.
type RedirectTarget struct {
	Host string
	Port string
	Path string
}

// Addr returns host:port for net.Listen.
func (t RedirectTarget) Addr() string {
	return net.JoinHostPort(t.Host, t.Port)
}

// ParseRedirectURI accepts only http://127.0.0.1:<port>/... or
// http://localhost:<port>/...
func ParseRedirectURI(raw string) (RedirectTarget, error) {
	invalid := func(err error) (RedirectTarget, error) {
		return RedirectTarget{}, &ConfigError{
			Msg: "automatic callback requires http://127.0.0.1:<port>/... or http://localhost:<port>/...",
			Err: err,
		}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return invalid(err)
	}
	if u.Scheme != "http" {
		return invalid(fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
	host := u.Hostname()
	if host != "127.0.0.1" && host != "localhost" {
		return invalid(fmt.Errorf("unsupported host %q", host))
	}
	if u.Port() == "" {
		return invalid(errors.New("missing port"))
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	return RedirectTarget{Host: host, Port: u.Port(), Path: path}, nil
}

// CallbackListener is a one-shot loopback HTTP server that captures the
// provider redirect.
type CallbackListener struct {
	target   RedirectTarget
	listener net.Listener
	server   *http.Server

	result    chan CallbackResult
	received  atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// ListenCallback validates redirectURI and binds the listener right away. A
// port that is already in use is a configuration error; no other port is tried.
func ListenCallback(redirectURI string) (*CallbackListener, error) {
	target, err := ParseRedirectURI(redirectURI)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", target.Addr())
	if err != nil {
		return nil, &ConfigError{
			Msg: "failed to start local callback server on " + target.Addr(),
			Err: err,
		}
	}

	l := &CallbackListener{
		target:   target,
		listener: ln,
		result:   make(chan CallbackResult, 1),
	}
	l.server = &http.Server{
		Handler:           http.HandlerFunc(l.handle),
		ReadHeaderTimeout: callbackReadTimeout,
	}

	go func() {
		_ = l.server.Serve(ln)
	}()

	return l, nil
}

// Addr returns the bound address.
func (l *CallbackListener) Addr() string {
	return l.listener.Addr().String()
}

// URL returns the callback URL on the bound address.
func (l *CallbackListener) URL() string {
	return "http://" + l.Addr() + l.target.Path
}

func (l *CallbackListener) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != l.target.Path {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !l.received.CompareAndSwap(false, true) {
		http.Error(w, "authorization already received", http.StatusGone)
		return
	}

	q := r.URL.Query()
	res := CallbackResult{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, callbackPage)

	l.result <- res
}

// Wait blocks until the callback arrives, timeout elapses, or ctx is done.
// The listener is always closed on return. A callback carrying an error
// parameter is returned as *ProviderDeniedError.
func (l *CallbackListener) Wait(ctx context.Context, timeout time.Duration) (CallbackResult, error) {
	defer l.Close()

	if timeout <= 0 {
		timeout = DefaultCallbackTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-l.result:
		if res.Error != "" {
			return res, &ProviderDeniedError{Code: res.Error, Description: res.ErrorDescription}
		}
		return res, nil
	case <-timer.C:
		return CallbackResult{}, ErrCallbackTimeout
	case <-ctx.Done():
		return CallbackResult{}, ctx.Err()
	}
}

// Close stops accepting connections. It is safe to call more than once.
func (l *CallbackListener) Close() error {
	l.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), callbackShutdownTimeout)
		defer cancel()
		l.closeErr = l.server.Shutdown(ctx)
	})
	return l.closeErr
}
