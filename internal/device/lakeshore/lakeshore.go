// Package lakeshore implements the temperature controller interface for
// the Lake Shore Model 325 over its RS-232 command set.
//
// The 325 has two sensor inputs, A and B, driven by control loops 1 and 2;
// they appear here as channels 1 and 2. Commands are CRLF-terminated and
// the manual requires a quiet period after each message, so all traffic is
// serialized through one mutex.
package lakeshore

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/ccatobs/pcs/internal/device"
)

// inputs maps control loops to their sensor inputs.
var inputs = map[int]string{1: "A", 2: "B"}

const quietPeriod = 100 * time.Millisecond

// Client talks to one Model 325.
type Client struct {
	mu    sync.Mutex
	port  io.ReadWriter
	rd    *bufio.Reader
	next  int
	sleep func(time.Duration)
	now   func() time.Time
}

// New opens the controller's serial port: 9600 baud, 7 data bits, odd
// parity, one stop bit.
func New(portName string) (*Client, error) {
	p, err := serial.OpenPort(&serial.Config{
		Name:        portName,
		Baud:        9600,
		Size:        7,
		Parity:      serial.ParityOdd,
		StopBits:    serial.Stop1,
		ReadTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, device.Normalize(fmt.Errorf("opening %s: %w", portName, err), "lakeshore")
	}
	return newClient(p), nil
}

func newClient(port io.ReadWriter) *Client {
	return &Client{
		port:  port,
		rd:    bufio.NewReader(port),
		sleep: time.Sleep,
		now:   time.Now,
	}
}

// msg sends one command. Queries (commands containing '?') read back one
// CRLF-terminated response line.
func (c *Client) msg(ctx context.Context, cmd string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := io.WriteString(c.port, cmd+"\r\n"); err != nil {
		return "", device.Normalize(fmt.Errorf("%s: %w", cmd, err), "lakeshore")
	}

	var resp string
	if strings.Contains(cmd, "?") {
		line, err := c.rd.ReadString('\n')
		if err != nil {
			return "", device.Normalize(fmt.Errorf("%s: reading response: %w", cmd, err), "lakeshore")
		}
		resp = strings.TrimSpace(line)
	}

	// The manual forbids traffic for 50 ms after a message; the original
	// site software used double that.
	c.sleep(quietPeriod)
	return resp, nil
}

func (c *Client) queryFloat(ctx context.Context, cmd string) (float64, error) {
	resp, err := c.msg(ctx, cmd)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, device.Normalize(fmt.Errorf("%s: bad response %q", cmd, resp), "lakeshore")
	}
	return v, nil
}

// ID returns the controller's *IDN? string.
func (c *Client) ID(ctx context.Context) (string, error) {
	return c.msg(ctx, "*IDN?")
}

// Channels identifies the controller and reports its two control loops.
func (c *Client) Channels(ctx context.Context) ([]int, error) {
	if _, err := c.ID(ctx); err != nil {
		return nil, err
	}
	return []int{1, 2}, nil
}

// LatestMeasurement reads the next input in the A/B cycle: kelvin via
// KRDG? and sensor units (ohms) via SRDG?.
func (c *Client) LatestMeasurement(ctx context.Context) (device.Measurement, error) {
	c.mu.Lock()
	channel := c.next + 1
	c.next = (c.next + 1) % len(inputs)
	c.mu.Unlock()
	input := inputs[channel]

	kelvin, err := c.queryFloat(ctx, "KRDG? "+input)
	if err != nil {
		return device.Measurement{}, err
	}
	ohms, err := c.queryFloat(ctx, "SRDG? "+input)
	if err != nil {
		return device.Measurement{}, err
	}
	return device.Measurement{
		Channel:     channel,
		Time:        float64(c.now().UnixNano()) / 1e9,
		Temperature: kelvin,
		Resistance:  ohms,
	}, nil
}

// SetSetpoint commands a loop's regulation target in kelvin.
func (c *Client) SetSetpoint(ctx context.Context, channel int, kelvin float64) error {
	if _, ok := inputs[channel]; !ok {
		return device.Normalize(fmt.Errorf("loop %d: %w", channel, device.ErrNotFound), "lakeshore")
	}
	_, err := c.msg(ctx, fmt.Sprintf("SETP %d,%.3f", channel, kelvin))
	return err
}

// SetHeaterRange selects a loop's heater range. The 325 takes a range
// code, not a current: 0 off, 1 low, 2 high.
func (c *Client) SetHeaterRange(ctx context.Context, channel int, code float64) error {
	if _, ok := inputs[channel]; !ok {
		return device.Normalize(fmt.Errorf("loop %d: %w", channel, device.ErrNotFound), "lakeshore")
	}
	r := int(code)
	if float64(r) != code || r < 0 || r > 2 {
		return device.Normalize(fmt.Errorf("heater range %v: %w", code, device.ErrInvalidRange), "lakeshore")
	}
	_, err := c.msg(ctx, fmt.Sprintf("RANGE %d,%d", channel, r))
	return err
}
