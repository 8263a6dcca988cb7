package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/feishu-cli/feishu-cli/feishu"
	"github.com/feishu-cli/feishu-cli/oidc"
)

var (
	errNoSession   = errors.New("no local user token session found")
	errNoUserToken = errors.New("no user token available, run `auth login` first")
)

// usageError is a malformed command line.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// commandError carries the user-facing message and exit code of a failed
// command. It wraps the underlying cause.
type commandError struct {
	code int
	msg  string
	err  error
}

func (e *commandError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

func (e *commandError) Unwrap() error { return e.err }

func failWith(code int, msg string, err error) error {
	return &commandError{code: code, msg: msg, err: err}
}

// responseError is an API call that completed with a failure envelope.
// Its output has already been written.
type responseError struct{ resp *feishu.Response }

func (e *responseError) Error() string { return e.resp.Err().Error() }

// exitCode classifies err.
func exitCode(err error) int {
	var (
		cmdErr   *commandError
		cfgErr   *oidc.ConfigError
		usageErr *usageError
	)
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &cmdErr):
		return cmdErr.code
	case errors.As(err, &cfgErr),
		errors.As(err, &usageErr),
		errors.Is(err, oidc.ErrMissingAppID),
		errors.Is(err, oidc.ErrNoCode),
		errors.Is(err, oidc.ErrStateMismatch),
		errors.Is(err, errNoSession),
		errors.Is(err, errNoUserToken):
		return exitUsage
	default:
		return exitFailure
	}
}

// fail reports err on stdout in the error envelope and returns its exit code.
func (a *app) fail(err error) int {
	code := exitCode(err)

	var respErr *responseError
	if errors.As(err, &respErr) {
		return code
	}

	var apiErr *feishu.APIError
	logID := ""
	if errors.As(err, &apiErr) {
		logID = apiErr.LogID
	}
	a.logger.Debug("command failed", "error", err, "exit_code", code)
	writeError(a.stdout, code, err.Error(), logID)
	return code
}

type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type errorEnvelope struct {
	Success bool   `json:"success"`
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
	LogID   string `json:"log_id,omitempty"`
}

func writeJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeSuccess(w io.Writer, data any) {
	writeJSON(w, successEnvelope{Success: true, Data: data})
}

func writeError(w io.Writer, code int, msg, logID string) {
	writeJSON(w, errorEnvelope{Success: false, Code: code, Msg: msg, LogID: logID})
}

// writeResponse prints an API response and returns a *responseError when the
// envelope reports failure.
func writeResponse(w io.Writer, resp *feishu.Response) error {
	if !resp.Success() {
		writeError(w, resp.Code, resp.Msg, resp.LogID)
		return &responseError{resp: resp}
	}
	var data any
	if len(resp.Data) > 0 {
		data = resp.Data
	}
	writeSuccess(w, data)
	return nil
}
