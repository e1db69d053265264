// Package controlplane notifies the platform control plane when an import
// run finishes. The signal is fire-and-forget: the import's outcome never
// depends on the control plane being reachable.
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// SignalPath is the fixed completion-signal endpoint on the control plane.
const SignalPath = "/api/v1/imports/complete"

// Signal is the completion payload.
type Signal struct {
	CustomerID string `json:"customer_id"`
	ImportID   string `json:"import_id"`
	Result     any    `json:"result"`
	InstanceID string `json:"instance_id"`
}

// Client posts completion signals to a control-plane base URL.
type Client struct {
	baseURL    string
	instanceID string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a client. An empty baseURL produces a disabled client whose
// Signal is a logged no-op, so callers never branch on configuration.
func New(baseURL, instanceID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		instanceID: instanceID,
		logger:     logger,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Signal sends the completion payload. Failures are logged as warnings and
// returned for the caller's event log, but callers must not treat them as
// run failures.
func (c *Client) Signal(ctx context.Context, customerID, importID string, result any) error {
	if c.baseURL == "" {
		c.logger.Warn("control plane not configured, skipping completion signal",
			"customer_id", customerID, "import_id", importID)
		return nil
	}

	payload, err := json.Marshal(Signal{
		CustomerID: customerID,
		ImportID:   importID,
		Result:     result,
		InstanceID: c.instanceID,
	})
	if err != nil {
		return fmt.Errorf("controlplane: marshal signal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+SignalPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("controlplane: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("completion signal failed",
			"customer_id", customerID, "import_id", importID, "error", err)
		return fmt.Errorf("controlplane: signal: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		c.logger.Warn("completion signal rejected",
			"customer_id", customerID, "import_id", importID, "status", resp.StatusCode)
		return fmt.Errorf("controlplane: signal rejected with status %d", resp.StatusCode)
	}

	c.logger.Info("completion signal delivered",
		"customer_id", customerID, "import_id", importID)
	return nil
}
