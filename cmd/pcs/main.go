// Command pcs runs the PrimeCam control system: one agent per configured
// device, the telemetry feeds behind them, and the HTTP control API in
// front.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/ccatobs/pcs/internal/agent"
	"github.com/ccatobs/pcs/internal/agents/acu"
	"github.com/ccatobs/pcs/internal/agents/bfcu"
	"github.com/ccatobs/pcs/internal/agents/bftc"
	"github.com/ccatobs/pcs/internal/agents/pdu"
	"github.com/ccatobs/pcs/internal/api"
	"github.com/ccatobs/pcs/internal/audit"
	"github.com/ccatobs/pcs/internal/auth"
	"github.com/ccatobs/pcs/internal/config"
	"github.com/ccatobs/pcs/internal/device"
	"github.com/ccatobs/pcs/internal/device/acuhttp"
	"github.com/ccatobs/pcs/internal/device/bluefors"
	"github.com/ccatobs/pcs/internal/device/lakeshore"
	"github.com/ccatobs/pcs/internal/device/pduhttp"
	"github.com/ccatobs/pcs/internal/feed"
	"github.com/ccatobs/pcs/internal/logging"
	"github.com/ccatobs/pcs/internal/observability"
	"github.com/ccatobs/pcs/internal/stream"
)

const shutdownGrace = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pcs:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "pcs.yaml", "path to the configuration file")
	auditDir := flag.String("audit-dir", "logs", "directory for the audit trail")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer func() { _ = logCloser.Close() }()
	log.Info().Str("config", *configPath).Int("devices", len(cfg.Devices)).Msg("starting pcs")

	auditLog, err := audit.NewLogger(*auditDir, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups)
	if err != nil {
		return fmt.Errorf("initializing audit log: %w", err)
	}
	defer func() { _ = auditLog.Close() }()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	metrics := observability.New(promReg)

	// Feed backends. Without InfluxDB the records stay in memory, which
	// only makes sense on a bench.
	var backends []feed.Publisher
	if cfg.Feeds.Influx.URL != "" {
		influx := feed.NewInfluxPublisher(cfg.Feeds.Influx.URL, cfg.Feeds.Influx.Token,
			cfg.Feeds.Influx.Org, cfg.Feeds.Influx.Bucket, log)
		backends = append(backends, influx)
		log.Info().Str("url", cfg.Feeds.Influx.URL).Str("bucket", cfg.Feeds.Influx.Bucket).Msg("publishing feeds to InfluxDB")
	} else {
		backends = append(backends, feed.NewMemoryPublisher())
		log.Warn().Msg("no feed backend configured; records are retained in memory only")
	}
	pub := feed.NewMultiPublisher(backends...)
	defer func() { _ = pub.Close() }()

	registry := agent.NewRegistry()
	for name, dev := range cfg.Devices {
		a, err := buildAgent(name, dev, cfg, pub, log, metrics)
		if err != nil {
			return fmt.Errorf("device %s: %w", name, err)
		}
		registry.Add(a)
		log.Info().Str("device", name).Str("type", dev.Type).Msg("agent registered")
	}

	var verifier *auth.Verifier
	if cfg.API.JWTSecret != "" {
		verifier = auth.NewVerifier(cfg.API.JWTSecret)
	} else {
		log.Warn().Msg("no JWT secret configured; control API authentication is disabled")
	}

	server := api.NewServer(registry, auth.NewMiddleware(verifier), auditLog, promReg, log)
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start(cfg.API.Addr) }()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	registry.StopAll(ctx)
	if err := server.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("control API shutdown")
	}
	log.Info().Msg("pcs stopped")
	return nil
}

// buildAgent constructs the agent for one configured device.
func buildAgent(name string, dev config.DeviceConfig, cfg *config.Config, pub feed.Publisher, log zerolog.Logger, metrics *observability.Metrics) (*agent.Agent, error) {
	timing := cfg.Timing
	// Zero lets each agent fall back to its own default cadence.
	pollPeriod := dev.PollPeriod.Std()

	switch dev.Type {
	case "acu":
		var cmd device.Commander
		if dev.Address != "" {
			client, err := acuhttp.New(dev.Address, acuhttp.Options{
				CertFile: dev.CertFile,
				KeyFile:  dev.KeyFile,
			})
			if err != nil {
				return nil, err
			}
			cmd = client
		}
		layout, err := cfg.Layout(name)
		if err != nil {
			return nil, err
		}
		sup := stream.NewSupervisor(stream.SupervisorConfig{
			Device:           name,
			AutoEnable:       dev.AutoEnable,
			OutageAfter:      timing.OutageAfter.Std(),
			ReconfigureEvery: timing.ReconfigureEvery.Std(),
		}, stream.UDPOpener(dev.BroadcastAddr, name, metrics), log, metrics)
		mon := stream.NewMonitor(stream.MonitorConfig{
			Device:         name,
			BatchSize:      timing.BatchSize,
			PollInterval:   timing.PollInterval.Std(),
			FullRateFeed:   name + "_udp_stream",
			FullRateBlock:  "ACU_broadcast",
			DecimatedFeed:  name + "_influx",
			DecimatedBlock: "ACU_bcast_influx",
		}, layout, sup, pub, log, metrics)
		return acu.New(name, cmd, mon, log).Agent, nil

	case "bftc":
		tc := bluefors.NewTempController(dev.Address, 0)
		return bftc.New(name, tc, pub, bftc.Timing{
			DefaultLockTimeout: timing.DefaultLockTimeout.Std(),
			YieldInterval:      timing.YieldInterval.Std(),
			ReacquireTimeout:   timing.ReacquireTimeout.Std(),
			PollPeriod:         pollPeriod,
		}, log, metrics).Agent, nil

	case "ls325":
		tc, err := lakeshore.New(dev.Address)
		if err != nil {
			return nil, err
		}
		return bftc.New(name, tc, pub, bftc.Timing{
			DefaultLockTimeout: timing.DefaultLockTimeout.Std(),
			YieldInterval:      timing.YieldInterval.Std(),
			ReacquireTimeout:   timing.ReacquireTimeout.Std(),
			PollPeriod:         pollPeriod,
		}, log, metrics).Agent, nil

	case "bfcu":
		comp := bluefors.NewCompressor(dev.Address, 0)
		return bfcu.New(name, comp, pub, pollPeriod, log).Agent, nil

	case "pdu":
		client := pduhttp.New(dev.Address, 0)
		return pdu.New(name, client, pub, pollPeriod, log).Agent, nil

	default:
		return nil, fmt.Errorf("unknown device type %q", dev.Type)
	}
}
