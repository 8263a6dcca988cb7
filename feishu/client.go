// Package feishu is a thin client for the Feishu Open Platform endpoints the
// CLI needs: app and tenant tokens, the OIDC token grants, user info, and a
// raw request call that attaches the best available credential.
package feishu

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/feishu-cli/feishu-cli/oidc"
)

// DefaultBaseURL is the Feishu Open Platform host.
const DefaultBaseURL = "https://open.feishu.cn"

// HeaderLogID carries the server-side log id used in support requests.
const HeaderLogID = "X-Tt-Logid"

const (
	appTokenPath         = "/open-apis/auth/v3/app_access_token/internal"
	tenantTokenPath      = "/open-apis/auth/v3/tenant_access_token/internal"
	oidcAccessTokenPath  = "/open-apis/authen/v1/oidc/access_token"
	oidcRefreshTokenPath = "/open-apis/authen/v1/oidc/refresh_access_token"
	userInfoPath         = "/open-apis/authen/v1/user_info"
)

// Timeout configuration for different operations
const (
	appTokenTimeout      = 10 * time.Second
	tokenExchangeTimeout = 10 * time.Second
	apiCallTimeout       = 30 * time.Second
)

// UserCredentials supplies the user credential for a request, if any.
type UserCredentials interface {
	UserToken(ctx context.Context) (*oauth2.Token, bool)
}

// Client talks to the Feishu Open Platform.
type Client struct {
	baseURL   string
	appID     string
	appSecret string

	http   *retry.Client
	users  UserCredentials
	logger *slog.Logger

	mu          sync.Mutex
	appToken    *oauth2.Token
	tenantToken *oauth2.Token
}

var _ oidc.TokenEndpoint = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default retry client.
func WithHTTPClient(c *retry.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithUserCredentials makes Do prefer the user access token.
func WithUserCredentials(u UserCredentials) Option {
	return func(cl *Client) {
		cl.users = u
	}
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// NewRetryClient wraps a TLS 1.2 HTTP client with go-httpretry. Retries are
// disabled: token grants and authorization codes are single-use.
func NewRetryClient() (*retry.Client, error) {
	baseHTTPClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}

	c, err := retry.NewClient(
		retry.WithHTTPClient(baseHTTPClient),
		retry.WithMaxRetries(0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry client: %w", err)
	}
	return c, nil
}

// NewClient returns a client for baseURL authenticating as the given app.
func NewClient(baseURL, appID, appSecret string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		appID:     appID,
		appSecret: appSecret,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		hc, err := NewRetryClient()
		if err != nil {
			return nil, err
		}
		c.http = hc
	}
	return c, nil
}

// Response is a decoded {code, msg, data} envelope.
type Response struct {
	StatusCode int
	Code       int
	Msg        string
	Data       json.RawMessage
	LogID      string

	// Body is the undecoded response, for endpoints that answer outside data.
	Body json.RawMessage
}

// Success reports a 2xx status with code 0.
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300 && r.Code == 0
}

// Err returns an *APIError for unsuccessful responses.
func (r *Response) Err() error {
	if r.Success() {
		return nil
	}
	return &APIError{StatusCode: r.StatusCode, Code: r.Code, Msg: r.Msg, LogID: r.LogID}
}

// APIError is a response whose envelope reported failure.
type APIError struct {
	StatusCode int
	Code       int
	Msg        string
	LogID      string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("feishu api error: code=%d msg=%s", e.Code, e.Msg)
	if e.LogID != "" {
		msg += " log_id=" + e.LogID
	}
	return msg
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type request struct {
	method string
	path   string
	query  url.Values
	body   any
	token  *oauth2.Token
}

func bearer(accessToken string) *oauth2.Token {
	return &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}
}

func (c *Client) send(ctx context.Context, r request) (*Response, error) {
	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-Id", requestID)
	if r.token != nil {
		r.token.SetAuthHeader(req)
	}

	// go-httpretry hands back the last response together with its error once
	// retries are exhausted; the envelope in it still carries code and log id.
	resp, doErr := c.http.DoWithContext(ctx, req)
	if resp == nil {
		if doErr == nil {
			doErr = errors.New("no response")
		}
		return nil, fmt.Errorf("request failed: %w", doErr)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		LogID:      resp.Header.Get(HeaderLogID),
		Body:       raw,
	}
	c.logger.Debug("feishu request",
		"method", r.method,
		"path", r.path,
		"status", resp.StatusCode,
		"request_id", requestID,
		"log_id", out.LogID,
		"error", doErr,
	)

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, &oauth2.RetrieveError{Response: resp, Body: raw}
		}
		if doErr != nil {
			return nil, fmt.Errorf("request failed: %w", doErr)
		}
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	out.Code = env.Code
	out.Msg = env.Msg
	out.Data = env.Data
	return out, nil
}

// AppAccessToken returns the app access token, fetching it when the cached
// one is missing or about to expire.
func (c *Client) AppAccessToken(ctx context.Context) (string, error) {
	return c.internalToken(ctx, appTokenPath, "app_access_token", &c.appToken)
}

// TenantAccessToken returns the tenant access token for the app.
func (c *Client) TenantAccessToken(ctx context.Context) (string, error) {
	return c.internalToken(ctx, tenantTokenPath, "tenant_access_token", &c.tenantToken)
}

func (c *Client) internalToken(ctx context.Context, path, field string, cache **oauth2.Token) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if tok := *cache; tok.Valid() {
		return tok.AccessToken, nil
	}
	if c.appID == "" || c.appSecret == "" {
		return "", fmt.Errorf("%s: app id and app secret are required", field)
	}

	reqCtx, cancel := context.WithTimeout(ctx, appTokenTimeout)
	defer cancel()

	resp, err := c.send(reqCtx, request{
		method: http.MethodPost,
		path:   path,
		body: map[string]string{
			"app_id":     c.appID,
			"app_secret": c.appSecret,
		},
	})
	if err != nil {
		return "", fmt.Errorf("%s request failed: %w", field, err)
	}
	if err := resp.Err(); err != nil {
		return "", err
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return "", fmt.Errorf("failed to parse %s response: %w", field, err)
	}
	var accessToken string
	var expire int64
	if v, ok := payload[field]; ok {
		if err := json.Unmarshal(v, &accessToken); err != nil {
			return "", fmt.Errorf("invalid %s in response: %w", field, err)
		}
	}
	if v, ok := payload["expire"]; ok {
		if err := json.Unmarshal(v, &expire); err != nil {
			return "", fmt.Errorf("invalid expire in %s response: %w", field, err)
		}
	}
	if accessToken == "" {
		return "", fmt.Errorf("%s response has no token", field)
	}

	tok := &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}
	if expire > 0 {
		tok.Expiry = time.Now().Add(time.Duration(expire) * time.Second)
	}
	*cache = tok
	return accessToken, nil
}

// tokenData is the data object of the OIDC token endpoints.
type tokenData struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        *int64 `json:"expires_in"`
	RefreshExpiresIn *int64 `json:"refresh_expires_in"`
	Scope            string `json:"scope"`
}

// Token performs an OIDC grant authorized by the app access token.
func (c *Client) Token(ctx context.Context, grant oidc.GrantRequest) (*oidc.TokenResponse, error) {
	var (
		path string
		body map[string]string
	)
	switch grant.GrantType {
	case oidc.GrantAuthorizationCode:
		path = oidcAccessTokenPath
		body = map[string]string{"grant_type": grant.GrantType, "code": grant.Code}
	case oidc.GrantRefreshToken:
		path = oidcRefreshTokenPath
		body = map[string]string{"grant_type": grant.GrantType, "refresh_token": grant.RefreshToken}
	default:
		return nil, fmt.Errorf("unsupported grant type %q", grant.GrantType)
	}

	appToken, err := c.AppAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, tokenExchangeTimeout)
	defer cancel()

	resp, err := c.send(reqCtx, request{
		method: http.MethodPost,
		path:   path,
		body:   body,
		token:  bearer(appToken),
	})
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}

	var data tokenData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if err := validateTokenResponse(data.AccessToken); err != nil {
		return nil, fmt.Errorf("invalid token response: %w", err)
	}

	return &oidc.TokenResponse{
		AccessToken:      data.AccessToken,
		RefreshToken:     data.RefreshToken,
		TokenType:        data.TokenType,
		Scope:            data.Scope,
		ExpiresIn:        data.ExpiresIn,
		RefreshExpiresIn: data.RefreshExpiresIn,
	}, nil
}

// validateTokenResponse validates the OIDC token payload. A successful
// envelope with a non-blank access token is a usable grant.
func validateTokenResponse(accessToken string) error {
	if strings.TrimSpace(accessToken) == "" {
		return errors.New("access_token is empty")
	}
	return nil
}

// UserInfo fetches the profile of the user owning tok.
func (c *Client) UserInfo(ctx context.Context, tok *oauth2.Token) (*Response, error) {
	if tok == nil || tok.AccessToken == "" {
		return nil, errors.New("user info requires a user access token")
	}

	reqCtx, cancel := context.WithTimeout(ctx, apiCallTimeout)
	defer cancel()

	return c.send(reqCtx, request{
		method: http.MethodGet,
		path:   userInfoPath,
		token:  tok,
	})
}

// Do sends an arbitrary Open API request. The user access token is used when
// one resolves; otherwise the tenant access token.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body any) (*Response, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	tok, err := c.credential(ctx)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, apiCallTimeout)
	defer cancel()

	return c.send(reqCtx, request{
		method: strings.ToUpper(method),
		path:   path,
		query:  query,
		body:   body,
		token:  tok,
	})
}

func (c *Client) credential(ctx context.Context) (*oauth2.Token, error) {
	if c.users != nil {
		if tok, ok := c.users.UserToken(ctx); ok {
			return tok, nil
		}
	}
	c.logger.Debug("no user access token, using tenant access token")
	tenant, err := c.TenantAccessToken(ctx)
	if err != nil {
		return nil, err
	}
	return bearer(tenant), nil
}
