package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/calder-iot/console-core/internal/infrastructure/config"
	"github.com/calder-iot/console-core/internal/infrastructure/logging"
)

// Sentinel errors for entity API operations.
var (
	// ErrUnauthorized is returned when the API rejects the bearer token.
	// The client has already run the unauthorized hook by the time the
	// caller sees this.
	ErrUnauthorized = errors.New("apiclient: unauthorised")

	// ErrNotFound is returned for a missing entity.
	ErrNotFound = errors.New("apiclient: not found")

	// ErrRequest is returned for any other failed request.
	ErrRequest = errors.New("apiclient: request failed")
)

// TokenSource supplies the current access token for the bearer header.
type TokenSource func() string

// Client is the transport shared by all entity resources.
//
// Every request carries `Authorization: Bearer <token>` from the token
// source. A 401-class response triggers the unauthorized hook exactly
// once per response — forced session clear and redirect are a
// transport-boundary rule here, not something individual callers handle.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	log     *logging.Logger

	onUnauthorized func()
}

// New creates an entity API client.
func New(cfg config.APIConfig, tokens TokenSource, log *logging.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.GetTimeout()},
		tokens:  tokens,
		log:     log.With("component", "apiclient"),
	}
}

// SetUnauthorizedHandler registers the hook run when any entity request
// comes back 401. Typically wired to the session manager's ForceClear
// plus a navigation reset.
func (c *Client) SetUnauthorizedHandler(fn func()) {
	c.onUnauthorized = fn
}

// do executes one request. out, when non-nil, receives the decoded JSON body.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return fmt.Errorf("%w: encoding body: %w", ErrRequest, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := c.tokens(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequest, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.log.Warn("entity API rejected token, clearing session", "path", path)
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("%w: %s returned %d", ErrRequest, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %w", ErrRequest, err)
	}
	return nil
}

// Resource is a typed CRUD view over one resource path.
type Resource[T any] struct {
	client *Client
	path   string
}

// NewResource creates a typed resource over the given path (e.g. "/devices").
func NewResource[T any](client *Client, path string) *Resource[T] {
	return &Resource[T]{client: client, path: path}
}

// List fetches all entities.
func (r *Resource[T]) List(ctx context.Context) ([]T, error) {
	var out []T
	if err := r.client.do(ctx, http.MethodGet, r.path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetByID fetches one entity.
func (r *Resource[T]) GetByID(ctx context.Context, id string) (T, error) {
	var out T
	err := r.client.do(ctx, http.MethodGet, r.path+"/"+id, nil, &out)
	return out, err
}

// Create posts a new entity and returns the created representation.
func (r *Resource[T]) Create(ctx context.Context, body any) (T, error) {
	var out T
	err := r.client.do(ctx, http.MethodPost, r.path, body, &out)
	return out, err
}

// Update replaces an entity and returns the updated representation.
func (r *Resource[T]) Update(ctx context.Context, id string, body any) (T, error) {
	var out T
	err := r.client.do(ctx, http.MethodPut, r.path+"/"+id, body, &out)
	return out, err
}

// Delete removes an entity.
func (r *Resource[T]) Delete(ctx context.Context, id string) error {
	return r.client.do(ctx, http.MethodDelete, r.path+"/"+id, nil, nil)
}
