package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/calder-iot/console-core/internal/infrastructure/config"
)

// Identity service endpoints.
const (
	endpointLogin    = "/auth/login"
	endpointRegister = "/auth/register"
	endpointRefresh  = "/auth/refresh"
	endpointLogout   = "/auth/logout"
)

// Credentials is a login request.
type Credentials struct {
	Username string `json:"userName"`
	Password string `json:"password"`
}

// Registration is a new-account request.
type Registration struct {
	Username  string `json:"userName"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// AuthResponse is the identity service's reply to login/register/refresh.
type AuthResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// IdentityClient talks to the identity service's auth endpoints.
//
// The underlying HTTP client carries a cookie jar: the refresh credential
// is an HTTP-only cookie set by the service on login and presented back
// on refresh/logout. This client never reads the cookie value itself.
type IdentityClient struct {
	baseURL string
	http    *http.Client
}

// NewIdentityClient creates a client for the configured identity service.
func NewIdentityClient(cfg config.IdentityConfig) (*IdentityClient, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	return &IdentityClient{
		baseURL: cfg.BaseURL,
		http: &http.Client{
			Jar:     jar,
			Timeout: cfg.GetTimeout(),
		},
	}, nil
}

// Login exchanges credentials for an access token and refresh cookie.
func (c *IdentityClient) Login(ctx context.Context, creds Credentials) (AuthResponse, error) {
	return c.authPost(ctx, endpointLogin, creds)
}

// Register creates an account and returns an initial access token.
func (c *IdentityClient) Register(ctx context.Context, reg Registration) (AuthResponse, error) {
	return c.authPost(ctx, endpointRegister, reg)
}

// Refresh exchanges the refresh cookie for a new access token.
func (c *IdentityClient) Refresh(ctx context.Context) (AuthResponse, error) {
	return c.authPost(ctx, endpointRefresh, nil)
}

// Logout invalidates the server-side refresh state.
func (c *IdentityClient) Logout(ctx context.Context) error {
	resp, err := c.post(ctx, endpointLogout, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return classifyStatus(resp.StatusCode)
	}
	return nil
}

// authPost posts to an auth endpoint and decodes the token response,
// classifying failures into the AuthError taxonomy.
func (c *IdentityClient) authPost(ctx context.Context, endpoint string, body any) (AuthResponse, error) {
	resp, err := c.post(ctx, endpoint, body)
	if err != nil {
		return AuthResponse{}, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return AuthResponse{}, classifyStatus(resp.StatusCode)
	}

	var auth AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return AuthResponse{}, fmt.Errorf("%w: decoding response: %w", ErrServer, err)
	}
	if auth.AccessToken == "" {
		return AuthResponse{}, fmt.Errorf("%w: empty access token", ErrServer)
	}
	return auth, nil
}

func (c *IdentityClient) post(ctx context.Context, endpoint string, body any) (*http.Response, error) {
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &payload)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.http.Do(req)
}

// classifyStatus maps an identity service status code to the error taxonomy:
// 4xx means the caller's credentials were rejected, 5xx means the service
// itself failed.
func classifyStatus(status int) error {
	if status >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", ErrServer, status)
	}
	return fmt.Errorf("%w: status %d", ErrInvalidCredentials, status)
}
