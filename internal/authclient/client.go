// Package authclient is the caller-side companion of the auth service: an
// HTTP client wrapper that carries the access token, keeps the refresh
// cookie in a jar, and refreshes transparently when the access token
// expires. Concurrent requests that hit the same expiry share exactly one
// refresh call; a second failure surfaces ErrSessionExpired and the
// application must send the user back to login.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrSessionExpired is terminal: the refresh token was rejected and the
// caller must re-authenticate with credentials.
var ErrSessionExpired = errors.New("session expired, log in again")

var ErrNotAuthenticated = errors.New("not authenticated, call SignIn first")

const defaultRefreshTimeout = 10 * time.Second

type Config struct {
	// BaseURL of the auth service, e.g. "https://auth.internal:8080".
	BaseURL string
	// HTTPClient is optional; a jar-equipped default is built when nil.
	// A provided client gets a cookie jar installed if it has none.
	HTTPClient *http.Client
	// RefreshTimeout bounds the shared refresh call. Keep it well below
	// the access-token lifetime so a hung auth service cannot pile up
	// refresh attempts.
	RefreshTimeout time.Duration
}

// Client wraps an http.Client for calls to APIs protected by the auth
// service. Construction is two-phase: New builds the client, SignIn
// connects it; Close releases the session.
type Client struct {
	base           *url.URL
	http           *http.Client
	refreshTimeout time.Duration

	mu          sync.RWMutex
	accessToken string

	// sf collapses concurrent refresh attempts for the same expired token
	// into one in-flight call whose result every waiter shares.
	sf singleflight.Group
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("new cookie jar: %w", err)
		}
		httpClient.Jar = jar
	}

	refreshTimeout := cfg.RefreshTimeout
	if refreshTimeout <= 0 {
		refreshTimeout = defaultRefreshTimeout
	}

	return &Client{
		base:           base,
		http:           httpClient,
		refreshTimeout: refreshTimeout,
	}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// SignIn authenticates with credentials. The access token is kept in
// memory only; the refresh token lands in the cookie jar.
func (c *Client) SignIn(ctx context.Context, email, password string) error {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/auth/sign-in"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sign in: unexpected status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return fmt.Errorf("decode sign in response: %w", err)
	}

	c.setAccessToken(tr.AccessToken)
	return nil
}

// Do sends an authorized request. On 401 it refreshes the token pair once
// (shared across concurrent callers) and retries the request a single
// time. Requests with a body must set GetBody (http.NewRequest does this
// for common body types) or the retry is skipped.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	token := c.AccessToken()
	if token == "" {
		return nil, ErrNotAuthenticated
	}

	resp, err := c.send(req, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// The response is consumed: the retry produces the caller's response.
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	newToken, err := c.refreshOnce(token)
	if err != nil {
		return nil, err
	}

	retry, err := cloneRequest(req)
	if err != nil {
		return nil, err
	}
	return c.send(retry, newToken)
}

// Logout ends the session server-side and drops the local token.
func (c *Client) Logout(ctx context.Context) error {
	token := c.AccessToken()
	if token == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/auth/logout"), http.NoBody)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set(echoAuthorizationHeader, bearerPrefix+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	defer resp.Body.Close()

	c.setAccessToken("")
	return nil
}

func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

const (
	echoAuthorizationHeader = "Authorization"
	bearerPrefix            = "Bearer "
)

func (c *Client) send(req *http.Request, token string) (*http.Response, error) {
	req.Header.Set(echoAuthorizationHeader, bearerPrefix+token)
	return c.http.Do(req)
}

// refreshOnce guarantees one refresh call per expiry event: the first
// failed request starts the refresh, concurrent failures of the same
// stale token attach to the pending result. A caller whose token is
// already stale relative to the stored one gets the new token without any
// network call.
func (c *Client) refreshOnce(staleToken string) (string, error) {
	v, err, _ := c.sf.Do("refresh", func() (interface{}, error) {
		if current := c.AccessToken(); current != staleToken {
			// Another caller already rotated the pair.
			return current, nil
		}
		return c.refresh()
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// refresh runs detached from any caller's context: a client aborting its
// request must not cancel a rotation other callers are waiting on.
func (c *Client) refresh() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.refreshTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/auth/refresh"), http.NoBody)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.setAccessToken("")
		return "", ErrSessionExpired
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode refresh response: %w", err)
	}

	c.setAccessToken(tr.AccessToken)
	return tr.AccessToken, nil
}

func (c *Client) setAccessToken(token string) {
	c.mu.Lock()
	c.accessToken = token
	c.mu.Unlock()
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.base.String(), "/") + path
}

func cloneRequest(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return retry, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("cannot retry request without GetBody")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewind request body: %w", err)
	}
	retry.Body = body
	return retry, nil
}
