package config

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ccatobs/pcs/internal/stream"
)

var deviceTypes = map[string]bool{
	"acu":   true,
	"bftc":  true,
	"bfcu":  true,
	"pdu":   true,
	"ls325": true,
}

// Validate checks the merged configuration and returns the first problem
// found, with enough context to fix the file.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	if c.API.Addr == "" {
		return fmt.Errorf("api.addr must not be empty")
	}

	if err := c.validateTiming(); err != nil {
		return err
	}
	if err := c.validateSchemas(); err != nil {
		return err
	}
	return c.validateDevices()
}

func (c *Config) validateTiming() error {
	t := c.Timing
	if t.DefaultLockTimeout < 0 {
		return fmt.Errorf("timing.default_lock_timeout must be non-negative, got %v", t.DefaultLockTimeout.Std())
	}
	if t.YieldInterval.Std() <= 0 {
		return fmt.Errorf("timing.yield_interval must be positive, got %v", t.YieldInterval.Std())
	}
	if t.ReacquireTimeout.Std() <= 0 {
		return fmt.Errorf("timing.reacquire_timeout must be positive, got %v", t.ReacquireTimeout.Std())
	}
	if t.OutageAfter.Std() <= 0 {
		return fmt.Errorf("timing.outage_after must be positive, got %v", t.OutageAfter.Std())
	}
	if t.ReconfigureEvery.Std() <= 0 {
		return fmt.Errorf("timing.reconfigure_every must be positive, got %v", t.ReconfigureEvery.Std())
	}
	if t.BatchSize <= 0 {
		return fmt.Errorf("timing.batch_size must be positive, got %d", t.BatchSize)
	}
	if t.PollInterval.Std() <= 0 {
		return fmt.Errorf("timing.poll_interval must be positive, got %v", t.PollInterval.Std())
	}
	return nil
}

// validateSchemas parses every stream schema so a malformed format string
// fails at startup, not when the first datagram arrives.
func (c *Config) validateSchemas() error {
	for name, schema := range c.StreamSchemas {
		if _, err := stream.ParseLayout(schema.Format, schema.Fields); err != nil {
			return fmt.Errorf("stream_schemas.%s: %w", name, err)
		}
	}
	return nil
}

func (c *Config) validateDevices() error {
	for name, dev := range c.Devices {
		if !deviceTypes[dev.Type] {
			return fmt.Errorf("devices.%s: unknown type %q", name, dev.Type)
		}
		if dev.Type == "acu" {
			if dev.BroadcastAddr == "" {
				return fmt.Errorf("devices.%s: acu requires broadcast_addr", name)
			}
			if dev.Schema == "" {
				return fmt.Errorf("devices.%s: acu requires a schema", name)
			}
		}
		if dev.Schema != "" {
			schema, ok := c.StreamSchemas[dev.Schema]
			if !ok {
				return fmt.Errorf("devices.%s: schema %q not in stream_schemas", name, dev.Schema)
			}
			// Broadcast frames lead with the two time-source fields; a
			// schema without at least one data field behind them cannot
			// feed the pipeline.
			if dev.Type == "acu" && len(schema.Fields) < 3 {
				return fmt.Errorf("devices.%s: schema %q declares %d fields, need at least 3 (day, time of day, data)",
					name, dev.Schema, len(schema.Fields))
			}
		}
		if dev.Type != "acu" && dev.Address == "" {
			return fmt.Errorf("devices.%s: address must not be empty", name)
		}
		if (dev.CertFile == "") != (dev.KeyFile == "") {
			return fmt.Errorf("devices.%s: cert_file and key_file must be set together", name)
		}
		if dev.Type == "pdu" && len(dev.Outlets) == 0 {
			return fmt.Errorf("devices.%s: pdu requires at least one outlet", name)
		}
	}
	return nil
}

// Layout resolves a device's stream schema into a decoder layout. Call
// only after Validate.
func (c *Config) Layout(device string) (*stream.Layout, error) {
	dev, ok := c.Devices[device]
	if !ok {
		return nil, fmt.Errorf("unknown device %q", device)
	}
	schema, ok := c.StreamSchemas[dev.Schema]
	if !ok {
		return nil, fmt.Errorf("device %q: schema %q not configured", device, dev.Schema)
	}
	return stream.ParseLayout(schema.Format, schema.Fields)
}
