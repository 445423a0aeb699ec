// Package storefront is the HTTP client for the storefront's shopper API
// (/api/user/...). It implements adapter.Storefront.
package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"storefront-cart/internal/adapter"
	"storefront-cart/internal/model"
	"storefront-cart/internal/retry"
	"storefront-cart/internal/transport"
)

// apiPath prefixes every shopper endpoint.
const apiPath = "/api/user"

// serviceName labels upstream errors.
const serviceName = "storefront"

// userAgent identifies this client to the storefront.
const userAgent = "storefront-cart/1.0"

// DefaultTimeout bounds a single HTTP call. Retries are layered above.
const DefaultTimeout = 15 * time.Second

// Credentials supplies the shopper's bearer token for each request.
// An empty token sends no Authorization header; the server then answers 401,
// which the stores treat as "anonymous shopper".
type Credentials interface {
	Token() string
}

// StaticToken is a fixed credential, used when the token comes from config.
type StaticToken string

// Token implements Credentials.
func (s StaticToken) Token() string { return string(s) }

// Config holds client settings.
type Config struct {
	BaseURL     string
	Credentials Credentials
	Transport   transport.Kind
	Timeout     time.Duration

	// HTTPClient overrides the client built from Transport and Timeout.
	HTTPClient *http.Client
}

// Client talks JSON to the storefront shopper API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	creds      Credentials
}

// New creates a storefront client with the given configuration.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	creds := cfg.Credentials
	if creds == nil {
		creds = StaticToken("")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		rt, err := transport.New(cfg.Transport, timeout)
		if err != nil {
			return nil, fmt.Errorf("building transport: %w", err)
		}
		httpClient = &http.Client{Timeout: timeout, Transport: rt}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		creds:      creds,
	}, nil
}

// === Cart ===

// SyncCart pushes the full snapshot.
func (c *Client) SyncCart(ctx context.Context, snap model.Snapshot) error {
	return c.doJSON(ctx, http.MethodPost, "/cart/sync", snap.Clone(), nil)
}

// LoadCart pulls the server cart.
func (c *Client) LoadCart(ctx context.Context) (model.Snapshot, error) {
	var resp envelope[model.Snapshot]
	if err := c.doJSON(ctx, http.MethodGet, "/cart/load", nil, &resp); err != nil {
		return model.Snapshot{}, err
	}
	return resp.Data.Clone(), nil
}

// ResolveConflicts submits the candidate pool for conflict detection.
func (c *Client) ResolveConflicts(ctx context.Context, items []model.LineItem) (*model.Resolution, error) {
	if items == nil {
		items = []model.LineItem{}
	}
	req := struct {
		Items []model.LineItem `json:"items"`
	}{Items: items}

	var resp envelope[model.Resolution]
	if err := c.doJSON(ctx, http.MethodPost, "/cart/resolve-conflicts", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// === Wishlist ===

// SyncWishlist pushes product IDs; with merge set the server returns the union.
func (c *Client) SyncWishlist(ctx context.Context, productIDs []string, merge bool) ([]string, error) {
	if productIDs == nil {
		productIDs = []string{}
	}
	req := struct {
		ProductIDs []string `json:"productIds"`
		Merge      bool     `json:"merge"`
	}{ProductIDs: productIDs, Merge: merge}

	var resp envelope[[]string]
	if err := c.doJSON(ctx, http.MethodPost, "/wishlist/sync", req, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// LoadWishlist pulls the server's product IDs.
func (c *Client) LoadWishlist(ctx context.Context) ([]string, error) {
	var resp envelope[[]string]
	if err := c.doJSON(ctx, http.MethodGet, "/wishlist/sync", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// === Helper Methods ===

// envelope is the storefront's {"data": ...} response wrapper.
type envelope[T any] struct {
	Data T `json:"data"`
}

// errorResponse covers both error shapes the storefront emits:
// {"error": {"code", "message"}} and {"message"}.
type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

func (e errorResponse) message() string {
	if e.Error.Message != "" {
		return e.Error.Message
	}
	return e.Message
}

// doJSON sends body as JSON and decodes a success response into out.
// out may be nil when the response body is irrelevant.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPath+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.NewUpstreamError(serviceName, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.NewUpstreamError(serviceName, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, respBody)
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return model.NewUpstreamError(serviceName, fmt.Errorf("parsing response: %w", err))
	}
	return nil
}

// setHeaders sets JSON, identity, and auth headers.
// Mutations carry an Idempotency-Key. Under retry.Do every attempt reuses the
// call's ID; a bare call gets a fresh key.
func (c *Client) setHeaders(ctx context.Context, req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	if token := c.creds.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if req.Method != http.MethodGet {
		key, ok := retry.CallID(ctx)
		if !ok {
			key = uuid.NewString()
		}
		req.Header.Set("Idempotency-Key", key)
	}
}

// parseErrorResponse converts a storefront error to APIError, keeping the
// status so the retry policy can classify it.
func parseErrorResponse(statusCode int, body []byte) error {
	var sfErr errorResponse
	json.Unmarshal(body, &sfErr) // Best effort parse
	msg := sfErr.message()

	switch statusCode {
	case http.StatusUnauthorized:
		return model.NewUnauthorizedError("storefront session not authenticated")
	case http.StatusForbidden:
		if msg == "" {
			msg = "storefront refused the request"
		}
		return model.NewForbiddenError(msg)
	case http.StatusNotFound:
		return model.NewNotFoundError("storefront resource")
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		if msg == "" {
			msg = "request rejected"
		}
		err := model.NewValidationError("request", msg)
		err.StatusCode = statusCode
		return err
	case http.StatusTooManyRequests:
		return model.NewRateLimitError(serviceName)
	default:
		return model.NewStatusError(serviceName, statusCode,
			fmt.Sprintf("%s - %s", sfErr.Error.Code, msg))
	}
}

// Verify Client implements Storefront interface at compile time.
var _ adapter.Storefront = (*Client)(nil)
