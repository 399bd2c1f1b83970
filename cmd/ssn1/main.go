// Package main is the entry point for the SSN-1 smart sensor node.
// It loads configuration, builds the transport, protocol and sampler
// layers, and polls the node until it receives a shutdown signal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Guliveer/ssn1/internal/config"
	"github.com/Guliveer/ssn1/internal/metrics"
	"github.com/Guliveer/ssn1/internal/protocol"
	"github.com/Guliveer/ssn1/internal/sampler"
	"github.com/Guliveer/ssn1/internal/scheduler"
	"github.com/Guliveer/ssn1/internal/sensor"
	"github.com/Guliveer/ssn1/internal/transport"
)

var (
	// version is set at build time via -ldflags.
	version = "dev"

	configPath  = flag.String("config", "", "Path to configuration file (default: search standard locations)")
	host        = flag.String("host", "", "Collector host")
	port        = flag.String("port", "", "Collector port")
	writeConfig = flag.String("write-config", "", "Write the effective configuration to this path and exit")
	showVersion = flag.Bool("version", false, "Show version and exit")
)

const usageText = `### SSN-1: Smart Sensor Node 1 ###
- A temperature monitoring program for industrial use

The Smart Sensor reads the temperature every second for one minute and
computes the average of those readings. Each average is logged by the device
(rolling 24 hours, oldest entries are overwritten) and sent to the configured
server over TCP/HTTP.

The user sets a low and high threshold warning as shown below.
Usage: %s [flags] <low threshold warning> <high threshold warning>
Example: %s 3.14 4.20

Flags:
`

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), usageText, os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("ssn1 %s\n", version)
		os.Exit(0)
	}

	low, high, err := parseThresholds(flag.Args())
	if err != nil {
		if errors.Is(err, errUsage) {
			flag.Usage()
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}

	cli := config.CLIOverrides{Host: *host, Port: *port, LowThreshold: low, HighThreshold: high}
	var cfg *config.Config
	if *configPath != "" {
		cfg, err = config.LoadLayered(cli, embeddedConfig, *configPath)
	} else {
		cfg, err = config.LoadLayered(cli, embeddedConfig)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *writeConfig != "" {
		if err := config.WriteConfig(cfg, *writeConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration written to %s\n", *writeConfig)
		os.Exit(0)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n\n", err)
		flag.Usage()
		os.Exit(1)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting SSN-1",
		zap.String("version", version),
		zap.String("server", cfg.Server.Host+":"+cfg.Server.Port),
		zap.Float64("low_warning", cfg.Sensor.LowThreshold),
		zap.Float64("high_warning", cfg.Sensor.HighThreshold))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Sensor node failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("Sensor node stopped")
}

var errUsage = errors.New("usage")

// parseThresholds reads the optional <low> <high> arguments. Zero values
// mean the thresholds come from configuration.
func parseThresholds(args []string) (low, high float64, err error) {
	switch len(args) {
	case 0:
		return 0, 0, nil
	case 2:
	default:
		return 0, 0, errUsage
	}
	if low, err = strconv.ParseFloat(args[0], 64); err != nil {
		return 0, 0, fmt.Errorf("invalid format for %s", args[0])
	}
	if high, err = strconv.ParseFloat(args[1], 64); err != nil {
		return 0, 0, fmt.Errorf("invalid format for %s", args[1])
	}
	return low, high, nil
}

// run wires the layers together and blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	source, err := sensor.Select(cfg.Sensor.Source, cfg.Sensor.LowThreshold, cfg.Sensor.HighThreshold, logger)
	if err != nil {
		return err
	}

	dialer := transport.NewSocketDialer(cfg.Sampling.ResolveTimeout.Duration)
	client, err := protocol.Open(cfg.Server.Host, cfg.Server.Port, logger, transport.WithDialer(dialer))
	if err != nil {
		return fmt.Errorf("init protocol client: %w", err)
	}

	reg := prometheus.NewRegistry()
	rec, err := metrics.NewProm(reg)
	if err != nil {
		release("protocol client", client.Dispose, logger)
		return fmt.Errorf("init metrics: %w", err)
	}
	if cfg.Metrics.Addr != "" {
		srv := startMetricsServer(cfg.Metrics.Addr, reg, logger)
		defer release("metrics server", func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}, logger)
	}

	node := sampler.New(sampler.Config{
		DeviceID: cfg.Device.ID,
		Low:      cfg.Sensor.LowThreshold,
		High:     cfg.Sensor.HighThreshold,
		Interval: cfg.Sampling.Interval.Duration,
	}, client, source, logger, sampler.WithRecorder(rec))
	defer release("sensor node", node.Dispose, logger)

	sched := scheduler.New(node, cfg.Sampling.PollInterval.Duration, logger)
	sched.OnCycleComplete(func() {
		if node.Alarm() {
			logger.Warn("Threshold breached")
		}
	})

	logger.Info("Sensor node running",
		zap.String("source", source.Name()),
		zap.Duration("sample_interval", cfg.Sampling.Interval.Duration),
		zap.Duration("poll_interval", cfg.Sampling.PollInterval.Duration))
	sched.Start(ctx)
	return nil
}

// release runs a shutdown step and logs its failure.
func release(what string, fn func() error, logger *zap.Logger) {
	if err := fn(); err != nil {
		logger.Warn("Release failed", zap.String("component", what), zap.Error(err))
	}
}

func startMetricsServer(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("Serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

// initLogger builds a console logger on stdout and, when logging.file is
// set, a JSON logger on that file. Unknown levels fall back to info.
func initLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stdout), level),
	}
	if cfg.Logging.File != "" {
		file, err := os.OpenFile(cfg.Logging.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(file), level))
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}
