// Package analytics fetches z-score, spread, stationarity and correlation
// snapshots from the external analytics service.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rewired-gh/tickwatch/internal/models"
)

const (
	EndpointAnalytics   = "analytics"
	EndpointCorrelation = "correlation"
)

// FetchError describes a failed analytics request. StatusCode is zero for
// transport failures.
type FetchError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Endpoint, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client provides access to the analytics API.
type Client struct {
	http *resty.Client
}

// NewClient creates a client. A zero timeout means no request timeout.
func NewClient(baseURL string, timeout time.Duration, maxRetries int) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json")
	if timeout > 0 {
		rc.SetTimeout(timeout)
	}
	if maxRetries > 0 {
		rc.SetRetryCount(maxRetries).
			SetRetryWaitTime(200 * time.Millisecond).
			SetRetryMaxWaitTime(2 * time.Second)
	}
	return &Client{http: rc}
}

// FetchAnalytics retrieves the analytics snapshot for symbol.
// A successful response with an error body is returned as-is.
func (c *Client) FetchAnalytics(ctx context.Context, symbol string) (models.AnalyticsSnapshot, error) {
	var snap models.AnalyticsSnapshot
	err := c.get(ctx, EndpointAnalytics, "/api/analytics/{symbol}", map[string]string{"symbol": symbol}, &snap)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// FetchCorrelation retrieves the correlation snapshot for a symbol pair.
func (c *Client) FetchCorrelation(ctx context.Context, a, b string) (models.CorrelationSnapshot, error) {
	var snap models.CorrelationSnapshot
	err := c.get(ctx, EndpointCorrelation, "/api/correlation/{a}/{b}", map[string]string{"a": a, "b": b}, &snap)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (c *Client) get(ctx context.Context, endpoint, path string, params map[string]string, out any) error {
	// The service does not always label its JSON, so decode regardless.
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParams(params).
		ForceContentType("application/json").
		SetResult(out).
		Get(path)
	if err != nil {
		fe := &FetchError{Endpoint: endpoint, Err: err}
		if resp != nil {
			fe.StatusCode = resp.StatusCode()
		}
		return fe
	}
	if resp.IsError() {
		return &FetchError{Endpoint: endpoint, StatusCode: resp.StatusCode(), Err: fmt.Errorf("unexpected status %s", resp.Status())}
	}
	return nil
}
