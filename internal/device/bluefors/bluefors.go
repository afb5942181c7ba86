// Package bluefors implements the temperature controller and compressor
// interfaces over the Bluefors control software's HTTP JSON API.
package bluefors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ccatobs/pcs/internal/device"
)

// Client talks to one Bluefors control unit.
type Client struct {
	base string
	http *http.Client
}

// New builds a Client for the given base URL, e.g. "http://10.0.0.5:5001".
func New(base string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{base: base, http: &http.Client{Timeout: timeout}}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return device.Normalize(err, "bluefors")
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return device.Normalize(err, "bluefors")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return device.Normalize(err, "bluefors")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return device.Normalize(err, "bluefors")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return device.Normalize(fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(msg)), "bluefors")
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return device.Normalize(fmt.Errorf("decoding response: %w", err), "bluefors")
	}
	return nil
}

// TempController is the cryostat temperature controller client.
type TempController struct {
	*Client
}

// NewTempController wraps a Client as a device.TempController.
func NewTempController(base string, timeout time.Duration) *TempController {
	return &TempController{Client: New(base, timeout)}
}

func (tc *TempController) Channels(ctx context.Context) ([]int, error) {
	var resp struct {
		Channels []struct {
			Nr     int  `json:"channel_nr"`
			Active bool `json:"active"`
		} `json:"channels"`
	}
	if err := tc.get(ctx, "/channels", &resp); err != nil {
		return nil, err
	}
	var out []int
	for _, ch := range resp.Channels {
		if ch.Active {
			out = append(out, ch.Nr)
		}
	}
	return out, nil
}

func (tc *TempController) LatestMeasurement(ctx context.Context) (device.Measurement, error) {
	var resp struct {
		Channel     int     `json:"channel_nr"`
		Timestamp   float64 `json:"timestamp"`
		Temperature float64 `json:"temperature"`
		Resistance  float64 `json:"resistance"`
	}
	if err := tc.get(ctx, "/channel/measurement/latest", &resp); err != nil {
		return device.Measurement{}, err
	}
	return device.Measurement{
		Channel:     resp.Channel,
		Time:        resp.Timestamp,
		Temperature: resp.Temperature,
		Resistance:  resp.Resistance,
	}, nil
}

func (tc *TempController) SetSetpoint(ctx context.Context, channel int, kelvin float64) error {
	payload := map[string]any{"channel_nr": channel, "setpoint": kelvin}
	return tc.post(ctx, "/heater/update", payload, nil)
}

func (tc *TempController) SetHeaterRange(ctx context.Context, channel int, amps float64) error {
	payload := map[string]any{"channel_nr": channel, "max_current": amps}
	return tc.post(ctx, "/heater/update", payload, nil)
}

// Compressor is the compressor control unit client.
type Compressor struct {
	*Client
}

// NewCompressor wraps a Client as a device.Compressor.
func NewCompressor(base string, timeout time.Duration) *Compressor {
	return &Compressor{Client: New(base, timeout)}
}

func (co *Compressor) Readings(ctx context.Context) (device.CompressorReadings, error) {
	var resp struct {
		Timestamp float64   `json:"timestamp"`
		Pressures []float64 `json:"pressures"`
		Flow      float64   `json:"flow"`
	}
	if err := co.get(ctx, "/values", &resp); err != nil {
		return device.CompressorReadings{}, err
	}
	return device.CompressorReadings{
		Time:      resp.Timestamp,
		Pressures: resp.Pressures,
		Flow:      resp.Flow,
	}, nil
}
