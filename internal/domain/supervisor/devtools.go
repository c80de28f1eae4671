package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Target describes one debuggable page inside a worker.
type Target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// VersionInfo is the worker's debug endpoint identity response.
type VersionInfo struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// debugClient talks to a worker's DevTools HTTP endpoint. All session
// discovery and creation goes through this endpoint; the actual channel
// traffic runs over the per-target WebSocket.
type debugClient struct {
	http *resty.Client
}

func newDebugClient(timeout time.Duration) *debugClient {
	return &debugClient{
		http: resty.New().
			SetTimeout(timeout).
			SetRetryCount(0),
	}
}

func (c *debugClient) endpoint(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}

// Version fetches the endpoint identity. Used as the launch readiness probe
// and as the session-level liveness check.
func (c *debugClient) Version(ctx context.Context, port int) (*VersionInfo, error) {
	var info VersionInfo
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&info).
		Get(c.endpoint(port) + "/json/version")
	if err != nil {
		return nil, fmt.Errorf("query debug endpoint: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("debug endpoint returned %s", resp.Status())
	}
	return &info, nil
}

// ListTargets returns the worker's open targets.
func (c *debugClient) ListTargets(ctx context.Context, port int) ([]Target, error) {
	var targets []Target
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&targets).
		Get(c.endpoint(port) + "/json/list")
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("list targets returned %s", resp.Status())
	}
	return targets, nil
}

// NewTarget opens a new page target at the given URL.
func (c *debugClient) NewTarget(ctx context.Context, port int, url string) (*Target, error) {
	var target Target
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&target).
		SetQueryParam("url", url).
		Put(c.endpoint(port) + "/json/new")
	if err != nil {
		return nil, fmt.Errorf("create target: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("create target returned %s", resp.Status())
	}
	return &target, nil
}

// CloseTarget asks the worker to close a target.
func (c *debugClient) CloseTarget(ctx context.Context, port int, targetID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Get(c.endpoint(port) + "/json/close/" + targetID)
	if err != nil {
		return fmt.Errorf("close target: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("close target returned %s", resp.Status())
	}
	return nil
}
