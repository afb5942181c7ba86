// Package pduhttp implements device.PDU over the HTTP JSON interface of
// a switched power distribution unit.
package pduhttp

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

// Client talks to one power distribution unit.
type Client struct {
	base string
	http *http.Client
}

// New builds a Client for the given base URL.
func New(base string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{base: base, http: &http.Client{Timeout: timeout}}
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return device.Normalize(err, "raritan")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return device.Normalize(err, "raritan")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return device.Normalize(fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(msg)), "raritan")
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return device.Normalize(fmt.Errorf("decoding response: %w", err), "raritan")
	}
	return nil
}

func (c *Client) Outlets(ctx context.Context) ([]device.OutletState, error) {
	var resp struct {
		Outlets []struct {
			Number int    `json:"number"`
			Name   string `json:"name"`
			State  string `json:"state"`
		} `json:"outlets"`
	}
	if err := c.do(ctx, http.MethodGet, "/outlets", &resp); err != nil {
		return nil, err
	}
	out := make([]device.OutletState, 0, len(resp.Outlets))
	for _, o := range resp.Outlets {
		out = append(out, device.OutletState{
			Outlet: o.Number,
			Name:   o.Name,
			On:     o.State == "on",
		})
	}
	return out, nil
}

func (c *Client) SetOutlet(ctx context.Context, outlet int, on bool) error {
	state := "off"
	if on {
		state = "on"
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/outlets/%d/%s", outlet, state), nil)
}

func (c *Client) CycleOutlet(ctx context.Context, outlet int) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/outlets/%d/cycle", outlet), nil)
}
