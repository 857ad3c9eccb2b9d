// Package deploy talks to the deployment controller: resync plus the
// readiness/metrics/logs/dependency introspection the Health Monitor
// samples. The controller reconciles committed artifacts on its own
// cadence; nothing here deploys anything directly.
package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"ratchet/internal/health"
)

// Client is an HTTP client for the deployment controller API.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a Client for the controller at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{base: baseURL, http: &http.Client{Timeout: timeout}}
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) Resync(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/resync", nil)
	if err != nil {
		return fmt.Errorf("build resync request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("resync: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("resync: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) Readiness(ctx context.Context, selector string) (int, int, error) {
	var out struct {
		Ready int `json:"ready"`
		Total int `json:"total"`
	}
	q := url.Values{"selector": {selector}}
	if err := c.get(ctx, "/readiness", q, &out); err != nil {
		return 0, 0, err
	}
	return out.Ready, out.Total, nil
}

func (c *Client) Metrics(ctx context.Context, selector string) (health.Metrics, error) {
	var out struct {
		ErrorRate         float64 `json:"error_rate"`
		LatencyP99MS      float64 `json:"latency_p99_ms"`
		BaselineLatencyMS float64 `json:"baseline_latency_ms"`
	}
	q := url.Values{"selector": {selector}}
	if err := c.get(ctx, "/metrics", q, &out); err != nil {
		return health.Metrics{}, err
	}
	return health.Metrics{
		ErrorRate:       out.ErrorRate,
		LatencyP99:      time.Duration(out.LatencyP99MS * float64(time.Millisecond)),
		BaselineLatency: time.Duration(out.BaselineLatencyMS * float64(time.Millisecond)),
	}, nil
}

func (c *Client) Logs(ctx context.Context, selector string, since time.Time) ([]string, error) {
	var out struct {
		Lines []string `json:"lines"`
	}
	q := url.Values{
		"selector": {selector},
		"since":    {since.UTC().Format(time.RFC3339)},
	}
	if err := c.get(ctx, "/logs", q, &out); err != nil {
		return nil, err
	}
	return out.Lines, nil
}

func (c *Client) Ping(ctx context.Context, dep string) error {
	return c.get(ctx, "/ping", url.Values{"dep": {dep}}, nil)
}
