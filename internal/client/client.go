// Package client implements an HTTP client for the management API, used by
// operational tooling to inspect and control a running host.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flowmark/flowmark/pkg/api"
)

// Client talks to a host's management endpoints
type Client struct {
	base       string
	httpClient *http.Client
}

var (
	ErrNotFound  = errors.New("instance not found")
	ErrHTTPError = errors.New("management API returned error")
)

// New creates a client for the host at baseURL
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		base: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Health reports the host's liveness and store reachability
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var health api.HealthResponse
	if err := c.get(ctx, "/healthz", &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// Instances lists the instances currently loaded in memory
func (c *Client) Instances(
	ctx context.Context,
) (*api.InstancesListResponse, error) {
	var list api.InstancesListResponse
	if err := c.get(ctx, "/engine/instances", &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Instance returns an instance's durable state
func (c *Client) Instance(
	ctx context.Context, id api.InstanceID,
) (*api.Snapshot, error) {
	var snap api.Snapshot
	err := c.get(ctx, "/engine/instances/"+string(id), &snap)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// Terminate forcibly ends an instance
func (c *Client) Terminate(ctx context.Context, id api.InstanceID) error {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodDelete,
		c.base+"/engine/instances/"+string(id), nil,
	)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Query finds instances whose state matches value at the given path
func (c *Client) Query(
	ctx context.Context, path, value string,
) (*api.QueryInstancesResponse, error) {
	body, err := json.Marshal(api.QueryInstancesRequest{
		Path:  path,
		Value: value,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost,
		c.base+"/engine/instances/query", bytes.NewReader(body),
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", api.JSONMediaType)

	var result api.QueryInstancesResponse
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, c.base+path, nil,
	)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: %s", ErrHTTPError, resp.Status)
	}
	if out == nil {
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
