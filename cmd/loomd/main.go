// Loomd is the coding-task pipeline daemon.
//
// It owns the task collection and drives submitted tasks through the
// coding, QA, and fix phases under a bounded-concurrency admission
// queue. Clients talk to it over the HTTP API; pipeline events fan out
// over NATS when a broker is configured and over the in-process bus
// always.
//
// Configuration is resolved from defaults, an optional YAML file, and
// environment variable overrides. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	loomd
//
//	# Configure via file and environment
//	loomd -config ~/.config/loomd/config.yaml
//	SERVER_HTTP_PORT=9090 EVENTS_NATS_URL=nats://localhost:4222 loomd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/loomd/internal/config"
	"github.com/fyrsmithlabs/loomd/internal/events"
	httpapi "github.com/fyrsmithlabs/loomd/internal/http"
	"github.com/fyrsmithlabs/loomd/internal/logging"
	"github.com/fyrsmithlabs/loomd/internal/pipeline"
	"github.com/fyrsmithlabs/loomd/internal/qa"
	"github.com/fyrsmithlabs/loomd/internal/recovery"
	"github.com/fyrsmithlabs/loomd/internal/scrub"
	"github.com/fyrsmithlabs/loomd/internal/services"
	"github.com/fyrsmithlabs/loomd/internal/task"
	"github.com/fyrsmithlabs/loomd/internal/telemetry"
)

// Stamped by the release build via -ldflags.
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to the config file (default ~/.config/loomd/config.yaml)")
	logLevel := flag.String("log-level", "", "log level override: debug, info, warn, or error")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()
	args := flag.Args()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
			fmt.Fprintf(os.Stderr, "Usage:\n")
			fmt.Fprintf(os.Stderr, "  loomd           Start the loomd daemon\n")
			fmt.Fprintf(os.Stderr, "  loomd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Caught %v, shutting down", sig)
		cancel()
	}()

	if err := run(ctx, *configPath, *logLevel); err != nil {
		log.Fatalf("Daemon error: %v", err)
	}

	log.Println("Daemon shutdown complete")
}

func printVersion() {
	fmt.Printf("loomd %s\n", version)
	fmt.Printf("  commit: %s\n", gitCommit)
	fmt.Printf("  built:  %s\n", buildDate)
}

// run starts the loomd daemon and blocks until the context is cancelled.
//
// Initialization order:
//  1. Load and validate configuration
//  2. Initialize telemetry and the structured logger
//  3. Build infrastructure (scrubber, task store, event transports)
//  4. Build services (QA gate, recovery advisor, pipeline executor)
//  5. Start the HTTP server with the /metrics route attached
//  6. On cancellation, shut everything down in reverse order
func run(ctx context.Context, configPath, logLevel string) error {
	if err := config.EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to prepare config directory: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	tel, err := telemetry.New(ctx, telemetryConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger, err := initLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // stderr sync returns EINVAL on some platforms
	}()

	logger.Info(ctx, "starting loomd",
		zap.String("version", version),
		zap.String("address", cfg.Server.Address()),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()),
		zap.Bool("telemetry", tel.IsEnabled()),
	)
	if health := tel.Health(); health.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.String("reason", health.Reason))
	}

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to set up dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info(ctx, "dependencies initialized",
		zap.Bool("nats_connected", deps.natsConn != nil),
		zap.Bool("scrubber_enabled", deps.scrubber.Enabled()),
	)

	reg, watcher, err := initServices(cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("failed to wire services: %w", err)
	}
	if watcher != nil {
		defer watcher.Close()
	}

	srv, err := httpapi.NewServer(reg.Tasks(), reg.Pipeline(), reg.Recovery(), reg.Bus(), logger, &httpapi.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		SubmissionRate:  cfg.Server.SubmissionRate,
		SubmissionBurst: cfg.Server.SubmissionBurst,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	// Prometheus scrape endpoint rides on the API listener.
	srv.Echo().GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	logger.Info(ctx, "server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s/health", cfg.Server.Address())),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Block until the server dies or a signal cancels the context, then
	// wind everything down in reverse order of construction.
	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "http server shutdown failed", zap.Error(err))
	}
	if err := reg.Pipeline().Close(); err != nil {
		logger.Warn(shutdownCtx, "pipeline executor shutdown failed", zap.Error(err))
	}
	if err := reg.Recovery().Close(); err != nil {
		logger.Warn(shutdownCtx, "recovery service shutdown failed", zap.Error(err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "telemetry shutdown failed", zap.Error(err))
	}

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", serveErr)
	}
	return nil
}

// dependencies holds the daemon's infrastructure pieces.
type dependencies struct {
	scrubber  *scrub.Scrubber
	store     *task.Store
	bus       *events.Bus
	natsConn  *nats.Conn
	publisher events.Publisher
}

// Close releases the infrastructure resources.
func (d *dependencies) Close() {
	if d.bus != nil {
		d.bus.Close()
	}
	if d.natsConn != nil {
		d.natsConn.Close()
	}
}

// initLogger builds the structured logger from config, bridging to the
// OTEL log pipeline when telemetry provides one.
func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = level
	logCfg.Format = cfg.Logging.Format

	provider := tel.LoggerProvider()
	logCfg.Output.OTEL = provider != nil

	return logging.New(logCfg, provider)
}

// telemetryConfig maps daemon configuration onto the telemetry package.
func telemetryConfig(cfg *config.Config) *telemetry.Config {
	telCfg := telemetry.DefaultConfig()
	telCfg.Enabled = cfg.Telemetry.Enabled
	telCfg.ServiceName = cfg.Telemetry.ServiceName
	telCfg.ServiceVersion = version
	telCfg.Endpoint = cfg.Telemetry.Endpoint
	telCfg.Protocol = cfg.Telemetry.Protocol
	telCfg.Insecure = cfg.Telemetry.Insecure
	return telCfg
}

// initDependencies builds the scrubber, the task store, and the event
// transports.
//
// NATS is optional: when no URL is configured, or the broker cannot be
// reached, events stay on the in-process bus alone and the daemon keeps
// running.
func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	zl := logger.Underlying()

	scrubber, err := scrub.New(&scrub.Config{
		Enabled:       cfg.Scrub.Enabled,
		AllowlistPath: cfg.Scrub.AllowlistPath,
	}, zl)
	if err != nil {
		return nil, fmt.Errorf("failed to create scrubber: %w", err)
	}

	store := task.NewStore(&task.Config{
		MaxLogEntries: cfg.Pipeline.MaxLogEntries,
	}, scrubber, zl)

	bus := events.NewBus(zl)
	publisher := events.Publisher(bus)

	var natsConn *nats.Conn
	if cfg.Events.NATSURL.IsSet() {
		nc, err := nats.Connect(cfg.Events.NATSURL.Value(),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			logger.Warn(ctx, "nats unreachable, events stay on the in-process bus", zap.Error(err))
		} else {
			np, err := events.NewNATSPublisher(nc, zl)
			if err != nil {
				nc.Close()
				return nil, fmt.Errorf("failed to create nats publisher: %w", err)
			}
			natsConn = nc
			publisher = events.Multi(bus, np)
			logger.Info(ctx, "connected to nats", zap.String("url", cfg.Events.NATSURL.String()))
		}
	}

	return &dependencies{
		scrubber:  scrubber,
		store:     store,
		bus:       bus,
		natsConn:  natsConn,
		publisher: publisher,
	}, nil
}

// initServices builds the QA gate, the recovery advisor, and the
// pipeline executor, and collects them in the registry. The returned
// watcher is non-nil when policy hot-reload is configured.
func initServices(cfg *config.Config, deps *dependencies, logger *logging.Logger) (services.Registry, *qa.Watcher, error) {
	zl := logger.Underlying()

	policy, err := qa.LoadPolicy(cfg.Qa.PolicyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load qa policy: %w", err)
	}
	gate := qa.NewPolicyGate(policy, zl)

	var watcher *qa.Watcher
	if cfg.Qa.WatchPolicy && cfg.Qa.PolicyPath != "" {
		watcher, err = qa.WatchPolicy(cfg.Qa.PolicyPath, gate, zl)
		if err != nil {
			zl.Warn("qa policy watcher unavailable, reload on restart only", zap.Error(err))
		}
	}

	rec, err := recovery.NewService(nil, zl)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create recovery service: %w", err)
	}

	pipe, err := pipeline.NewService(&pipeline.Config{
		MaxFixIterations: cfg.Pipeline.MaxFixIterations,
		QueueLimit:       cfg.Pipeline.QueueLimit,
	}, deps.store, gate, deps.publisher, nil, zl)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pipeline executor: %w", err)
	}

	reg := services.NewRegistry(services.Options{
		Tasks:     deps.store,
		Pipeline:  pipe,
		Recovery:  rec,
		Gate:      gate,
		Bus:       deps.bus,
		Publisher: deps.publisher,
		Scrubber:  deps.scrubber,
	})
	return reg, watcher, nil
}
