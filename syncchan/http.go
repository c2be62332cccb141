package syncchan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"linetrack/protocol"
)

// HTTP sync paths served by the station and the vehicle.
const (
	PathReport  = "/sync/report"
	PathCommand = "/sync/command"
	PathHealth  = "/health_check"
	PathStatus  = "/status"
)

// Client is the request/response transport. A vehicle points it at the
// station to post reports and poll commands; a station points it at the
// vehicle to probe health.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for baseURL. timeout bounds each request.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the client's base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// SendReport posts the vehicle report to the station.
func (c *Client) SendReport(ctx context.Context, r protocol.VehicleReport) error {
	return c.post(ctx, PathReport, r, nil)
}

// FetchCommand polls the station for its current command.
func (c *Client) FetchCommand(ctx context.Context) (protocol.StationCommand, error) {
	var cmd protocol.StationCommand
	if err := c.get(ctx, PathCommand, &cmd); err != nil {
		return protocol.StationCommand{}, err
	}
	if !protocol.ValidCommand(cmd.Command) {
		return protocol.StationCommand{}, fmt.Errorf("sync: unknown command %q", cmd.Command)
	}
	return cmd, nil
}

// FetchHealth probes the vehicle health endpoint.
func (c *Client) FetchHealth(ctx context.Context) (protocol.HealthStatus, error) {
	var h protocol.HealthStatus
	if err := c.get(ctx, PathHealth, &h); err != nil {
		return protocol.HealthStatus{}, err
	}
	return h, nil
}

// FetchStatus reads the vehicle's latest report.
func (c *Client) FetchStatus(ctx context.Context) (protocol.VehicleReport, error) {
	var r protocol.VehicleReport
	if err := c.get(ctx, PathStatus, &r); err != nil {
		return protocol.VehicleReport{}, err
	}
	return r, nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("sync GET %s: %w", path, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sync GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	return decode(resp, result)
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("sync marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("sync POST %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sync POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	return decode(resp, result)
}

func decode(resp *http.Response, result any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("sync read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sync HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("sync decode: %w", err)
		}
	}
	return nil
}
