package openapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
	godeyeapi "github.com/journeyos/godeye/openapi/godeye"
	"github.com/journeyos/godeye/openapi/response"
	vrrapi "github.com/journeyos/godeye/openapi/vrr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client calls the admin API of a running daemon.
type Client struct {
	http *http.Client
}

// NewClient returns a client for the admin socket at path.
func NewClient(path string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", path)
		},
	}
	return &Client{http: &http.Client{Transport: transport, Timeout: 10 * time.Second}}
}

// Health fetches GET /v1/health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	return &resp, c.do(ctx, http.MethodGet, "/health", nil, &resp)
}

// Clients fetches the registry dump.
func (c *Client) Clients(ctx context.Context) (*godeyeapi.ClientsResponse, error) {
	var resp godeyeapi.ClientsResponse
	return &resp, c.do(ctx, http.MethodGet, "/clients", nil, &resp)
}

// Check asks whether anyone listens for factors.
func (c *Client) Check(ctx context.Context, factors string) (*godeyeapi.CheckResponse, error) {
	var resp godeyeapi.CheckResponse
	return &resp, c.do(ctx, http.MethodGet, "/clients/check?factors="+url.QueryEscape(factors), nil, &resp)
}

// Notify triggers a factor change.
func (c *Client) Notify(ctx context.Context, req godeyeapi.NotifyRequest) (*godeyeapi.NotifyResponse, error) {
	var resp godeyeapi.NotifyResponse
	return &resp, c.do(ctx, http.MethodPost, "/godeye/notify", req, &resp)
}

// SetRefreshRate asks the daemon to switch refresh rate.
func (c *Client) SetRefreshRate(ctx context.Context, rate float32) error {
	return c.do(ctx, http.MethodPost, "/vrr/refresh-rate", vrrapi.RefreshRateRequest{Rate: rate}, nil)
}

// SetWindow reports a window's preferred refresh rate.
func (c *Client) SetWindow(ctx context.Context, pid int, rate float32) (*vrrapi.WindowResponse, error) {
	var resp vrrapi.WindowResponse
	return &resp, c.do(ctx, http.MethodPost, "/vrr/window", vrrapi.WindowRequest{Pid: pid, Rate: rate}, &resp)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://godeye"+BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("admin %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var errResp response.ErrorResponse
		if err := json.Unmarshal(raw, &errResp); err != nil || errResp.Code == "" {
			return fmt.Errorf("admin %s %s: %s", method, path, resp.Status)
		}
		return &errResp
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
