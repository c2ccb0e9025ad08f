// Package client is the agent's HTTP client for the central API. It speaks
// the envelope format and keeps the JWT from login for later calls.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/relieflab/dms/core"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrUnreachable  = errors.New("server unreachable")
)

// APIError is a non-2xx response with its decoded envelope, so callers can
// tell a validation rejection from a transient server fault.
type APIError struct {
	StatusCode int
	Message    string
	Errors     json.RawMessage
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: %d %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api: %d", e.StatusCode)
}

// Permanent reports whether retrying the same request is pointless.
func (e *APIError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusRequestTimeout
}

type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// SetToken installs a previously saved JWT (the agent persists it across
// restarts in the store meta).
func (c *Client) SetToken(token string) { c.token = token }
func (c *Client) Token() string         { return c.token }

// Login authenticates against the central API and keeps the returned token.
func (c *Client) Login(ctx context.Context, username, password string) error {
	body := map[string]string{"username": username, "password": password}
	var data struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/users/login", body, &data); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			return ErrUnauthorized
		}
		return err
	}
	c.token = data.Token
	return nil
}

// Health probes the server with a short deadline; the sync engine calls this
// before attempting a drain so a dead link fails fast.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.do(ctx, http.MethodGet, "/v1/health", nil, nil)
}

// PushBatch submits queued operations and returns the per-item results in
// request order.
func (c *Client) PushBatch(ctx context.Context, req core.SyncPushRequest) ([]core.SyncItemResult, error) {
	var data struct {
		Results []core.SyncItemResult `json:"results"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/sync/push", req, &data); err != nil {
		return nil, err
	}
	return data.Results, nil
}

// Changes pulls server-side status changes recorded after the watermark.
func (c *Client) Changes(ctx context.Context, since int64) (core.ChangeSet, error) {
	var cs core.ChangeSet
	path := fmt.Sprintf("/v1/sync/changes?since=%d", since)
	if err := c.do(ctx, http.MethodGet, path, nil, &cs); err != nil {
		return core.ChangeSet{}, err
	}
	return cs, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(ErrUnreachable, "%v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "reading response body")
	}

	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Errors  json.RawMessage `json:"errors"`
		Message string          `json:"message"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			return errors.Wrapf(err, "decoding response (status %d)", resp.StatusCode)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !envOK(resp.StatusCode, env.Success, raw) {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Message, Errors: env.Errors}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return errors.Wrap(err, "decoding response data")
		}
	}
	return nil
}

// envOK tolerates bare 2xx responses with no envelope (health endpoint).
func envOK(status int, success bool, raw []byte) bool {
	if success {
		return true
	}
	return status >= 200 && status < 300 && len(raw) == 0
}
