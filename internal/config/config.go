package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration object. It is built once at startup and
// passed by ownership; nothing in the tree mutates it afterwards.
type Config struct {
	Log           LogConfig               `yaml:"log"`
	API           APIConfig               `yaml:"api"`
	Feeds         FeedsConfig             `yaml:"feeds"`
	Timing        TimingConfig            `yaml:"timing"`
	StreamSchemas map[string]StreamSchema `yaml:"stream_schemas"`
	Devices       map[string]DeviceConfig `yaml:"devices"`
}

// LogConfig controls the root logger and its rotating file sink.
type LogConfig struct {
	// Level is a zerolog level name: trace, debug, info, warn, error.
	Level string `yaml:"level"`

	// File enables a rotating JSON log file when non-empty. Console output
	// is always on.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// APIConfig controls the HTTP control API.
type APIConfig struct {
	Addr string `yaml:"addr"`

	// JWTSecret is the HS256 shared secret for bearer tokens. Empty
	// disables authentication, for bench setups only.
	JWTSecret string `yaml:"jwt_secret"`
}

// FeedsConfig selects the feed backends.
type FeedsConfig struct {
	Influx InfluxConfig `yaml:"influx"`
}

// InfluxConfig points the decimated feeds at an InfluxDB instance. A zero
// URL disables the Influx publisher.
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// TimingConfig holds the lock and stream timing parameters shared by all
// agents.
type TimingConfig struct {
	// DefaultLockTimeout bounds interactive command acquisition of a
	// device lock when the caller does not pass its own timeout.
	DefaultLockTimeout Duration `yaml:"default_lock_timeout"`

	// YieldInterval is the longest an acquisition loop holds its lock
	// before offering it to waiting commands.
	YieldInterval Duration `yaml:"yield_interval"`

	// ReacquireTimeout bounds how long a yielding loop waits to get its
	// lock back before skipping the cycle.
	ReacquireTimeout Duration `yaml:"reacquire_timeout"`

	// OutageAfter is the silence threshold for declaring a stream down.
	OutageAfter Duration `yaml:"outage_after"`

	// ReconfigureEvery rate-limits automatic stream re-enable attempts.
	ReconfigureEvery Duration `yaml:"reconfigure_every"`

	// BatchSize is the number of stream samples per decimation window.
	BatchSize int `yaml:"batch_size"`

	// PollInterval is the cadence of acquisition loops.
	PollInterval Duration `yaml:"poll_interval"`
}

// StreamSchema describes the binary layout of one broadcast frame type:
// a struct-style format string plus ordered field names.
type StreamSchema struct {
	Format string   `yaml:"format"`
	Fields []string `yaml:"fields"`
}

// DeviceConfig describes one monitored device. Fields beyond Type and
// Address apply only to some device types; Validate enforces which.
type DeviceConfig struct {
	// Type selects the agent: acu, bftc, bfcu, pdu, or ls325.
	Type string `yaml:"type"`

	// Address is the device command endpoint: HTTP base URL, host:port,
	// or a serial port path for ls325.
	Address string `yaml:"address"`

	// BroadcastAddr is the UDP listen address for streaming devices.
	BroadcastAddr string `yaml:"broadcast_addr"`

	// Schema names an entry in stream_schemas for the broadcast frames.
	Schema string `yaml:"schema"`

	// AutoEnable re-opens the broadcast listener after an outage.
	AutoEnable bool `yaml:"auto_enable"`

	// CertFile and KeyFile hold the client TLS pair for devices that
	// require it on their command interface.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// PollPeriod overrides the acquisition poll cadence for slow devices.
	PollPeriod Duration `yaml:"poll_period"`

	// Outlets names the switched outlets of a power distribution unit,
	// keyed by outlet number.
	Outlets map[int]string `yaml:"outlets"`
}

// Default returns the baseline configuration before file and environment
// overrides.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
		},
		API: APIConfig{
			Addr: ":8432",
		},
		Timing: TimingConfig{
			DefaultLockTimeout: Duration(5 * time.Second),
			YieldInterval:      Duration(1 * time.Second),
			ReacquireTimeout:   Duration(10 * time.Second),
			OutageAfter:        Duration(3 * time.Second),
			ReconfigureEvery:   Duration(60 * time.Second),
			BatchSize:          200,
			PollInterval:       Duration(10 * time.Millisecond),
		},
		StreamSchemas: map[string]StreamSchema{},
		Devices:       map[string]DeviceConfig{},
	}
}
