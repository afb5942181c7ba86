// Package acuhttp implements device.Commander over the antenna control
// unit's HTTP command interface, optionally authenticated with a client
// TLS certificate pair.
package acuhttp

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ccatobs/pcs/internal/device"
)

// Client talks to one antenna control unit.
type Client struct {
	base string
	http *http.Client
}

// Options configures a Client beyond its base URL.
type Options struct {
	// CertFile and KeyFile enable client TLS authentication.
	CertFile string
	KeyFile  string

	// Timeout bounds each HTTP exchange. Zero means 30 s.
	Timeout time.Duration
}

// New builds a Client for the given base URL, e.g. "https://acu.lab:8100".
func New(base string, opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	transport := &http.Transport{}
	if opts.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		transport.TLSClientConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	return &Client{
		base: base,
		http: &http.Client{Transport: transport, Timeout: opts.Timeout},
	}, nil
}

// GoTo slews to a fixed position.
func (c *Client) GoTo(ctx context.Context, az, el float64) error {
	return c.post(ctx, "/api/v1/preset", map[string]float64{
		"azimuth":   az,
		"elevation": el,
	})
}

// AzScan starts a constant-elevation azimuth scan.
func (c *Client) AzScan(ctx context.Context, params device.ScanParams) error {
	return c.post(ctx, "/api/v1/azscan", params)
}

// UploadTrack loads a trajectory and begins tracking.
func (c *Client) UploadTrack(ctx context.Context, points []device.TrackPoint) error {
	return c.post(ctx, "/api/v1/track", map[string]any{"points": points})
}

// Stop halts all axes.
func (c *Client) Stop(ctx context.Context) error {
	return c.post(ctx, "/api/v1/stop", struct{}{})
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return device.Normalize(err, "generic")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return device.Normalize(err, "generic")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return device.Normalize(err, "generic")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 300 {
		return nil
	}
	return statusError(resp)
}

// statusError maps HTTP status classes onto the normalized device codes,
// keeping the unit's response text as the diagnostic.
func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	cause := fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(msg))

	var code error
	switch {
	case resp.StatusCode == http.StatusNotFound:
		code = device.ErrNotFound
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		code = device.ErrInvalidRange
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusTooManyRequests:
		code = device.ErrBusy
	case resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusGatewayTimeout:
		code = device.ErrUnavailable
	default:
		code = device.ErrInternal
	}
	return &device.DeviceError{Code: code, Original: cause}
}
