package harvestd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	"github.com/i-mwangi/chai-project-sub002/integrations/webhooks"
	"github.com/i-mwangi/chai-project-sub002/native/common"
	"github.com/i-mwangi/chai-project-sub002/native/distribution"
	"github.com/i-mwangi/chai-project-sub002/native/ledger"
	"github.com/i-mwangi/chai-project-sub002/native/lending"
	"github.com/i-mwangi/chai-project-sub002/native/pricing"
	"github.com/i-mwangi/chai-project-sub002/observability"
	"github.com/i-mwangi/chai-project-sub002/observability/logging"
	telemetry "github.com/i-mwangi/chai-project-sub002/observability/otel"
	"github.com/i-mwangi/chai-project-sub002/storage/memory"
	"github.com/i-mwangi/chai-project-sub002/storage/sqlstore"
)

// Version is stamped at build time.
var Version = "dev"

// Main initialises and runs the harvest daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to harvestd configuration (YAML or TOML)")
	flag.Parse()

	cfg := DefaultConfig()
	if strings.TrimSpace(cfgPath) != "" {
		loaded, err := LoadConfig(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if cfg.Environment == "" {
		cfg.Environment = strings.TrimSpace(os.Getenv("HARVESTD_ENV"))
	}

	logger, logCloser, err := logging.Setup("harvestd", cfg.Environment, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logCloser.Close() }()

	telemetryCfg := telemetry.Config{
		ServiceName:    "harvestd",
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		Endpoint:       firstNonEmpty(cfg.Telemetry.Endpoint, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		Insecure:       cfg.Telemetry.Insecure,
		Headers:        telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:        cfg.Telemetry.Metrics,
		Traces:         cfg.Telemetry.Traces,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	}
	if telemetryCfg.Enabled() {
		shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryCfg)
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() { _ = shutdownTelemetry(context.Background()) }()
	}

	app, err := Build(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           app.Server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout.Duration + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ln, err := listen(cfg)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("harvestd listening",
			slog.String("address", cfg.ListenAddress),
			slog.String("storage", cfg.Storage.Driver),
			slog.String("webhook", cfg.Webhook.Endpoint),
			logging.MaskField("webhook_secret", cfg.Webhook.Secret),
			logging.MaskField("admin_token", cfg.AdminToken),
			slog.Int("max_connections", cfg.MaxConnections))
		errs <- httpServer.Serve(ln)
	}()

	select {
	case <-stopCtx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// App bundles the assembled service and the resources it owns.
type App struct {
	Server       *Server
	Lending      *lending.Engine
	Distribution *distribution.Engine
	Ledger       ledger.Ledger
	Feed         *pricing.Feed
	closers      []func()
}

// Close releases storage handles and drains the webhook queue.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// BuildOption customises Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	seizer lending.CollateralSeizer
	ledger ledger.Ledger
}

// WithLedger replaces the in-process ledger with an external settlement
// backend. Calls are still bounded by the configured ledger timeout.
func WithLedger(led ledger.Ledger) BuildOption {
	return func(o *buildOptions) { o.ledger = led }
}

// WithSeizer installs the settlement used by the liquidation route. Without
// one the route answers 503.
func WithSeizer(seizer lending.CollateralSeizer) BuildOption {
	return func(o *buildOptions) { o.seizer = seizer }
}

// Build wires storage, the ledger, the price feed and both engines from cfg.
func Build(cfg Config, logger *slog.Logger, opts ...BuildOption) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var options buildOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	app := &App{}
	fail := func(err error) (*App, error) {
		app.Close()
		return nil, err
	}

	var (
		lendingState      lending.State
		distributionState distribution.State
	)
	switch cfg.Storage.Driver {
	case "", "memory":
		lendingState = memory.NewLendingStore()
		distributionState = memory.NewDistributionStore()
	default:
		db, err := sqlstore.Open(cfg.Storage.Driver, cfg.Storage.DSN)
		if err != nil {
			return fail(fmt.Errorf("open storage: %w", err))
		}
		if sqlDB, err := db.DB(); err == nil {
			app.closers = append(app.closers, func() { _ = sqlDB.Close() })
		}
		if err := sqlstore.Migrate(db); err != nil {
			return fail(fmt.Errorf("migrate storage: %w", err))
		}
		lendingState = sqlstore.NewLending(db)
		distributionState = sqlstore.NewDistributions(db)
	}

	backend := options.ledger
	if backend == nil {
		backend = ledger.NewMemory()
	}
	app.Ledger = ledger.NewBounded(backend, cfg.Ledger.Timeout.Duration)

	app.Feed = pricing.NewFeed(cfg.Pricing.MaxAge.Duration)
	now := time.Now().UTC()
	for asset, price := range cfg.Pricing.Prices {
		if err := app.Feed.SetDecimal(asset, price, now); err != nil {
			return fail(fmt.Errorf("seed price %s: %w", asset, err))
		}
	}

	metrics := observability.Harvestd()
	pauses := common.NewPauses(cfg.Paused...)
	for _, module := range []string{"lending", "distribution"} {
		metrics.SetPause(module, pauses.IsPaused(module))
	}

	lendingParams, err := cfg.Lending.Params()
	if err != nil {
		return fail(err)
	}
	interest, err := cfg.Lending.InterestModel()
	if err != nil {
		return fail(err)
	}
	app.Lending, err = lending.NewEngine(lendingState, app.Ledger, app.Feed,
		lending.WithParams(lendingParams),
		lending.WithInterestModel(interest),
		lending.WithPauses(pauses),
		lending.WithLogger(logger),
	)
	if err != nil {
		return fail(fmt.Errorf("init lending: %w", err))
	}

	distributionParams, err := cfg.Distribution.Params()
	if err != nil {
		return fail(err)
	}
	distOpts := []distribution.Option{
		distribution.WithParams(distributionParams),
		distribution.WithPauses(pauses),
		distribution.WithLogger(logger),
		distribution.WithObserver(metrics),
	}
	if cfg.Webhook.Endpoint != "" {
		dispatcher, err := webhooks.NewDispatcher(cfg.Webhook.Endpoint, []byte(cfg.Webhook.Secret),
			webhooks.WithRetryPolicy(cfg.Webhook.MaxAttempts, cfg.Webhook.MinBackoff.Duration, cfg.Webhook.MaxBackoff.Duration),
			webhooks.WithLogger(logger),
		)
		if err != nil {
			return fail(fmt.Errorf("init webhooks: %w", err))
		}
		app.closers = append(app.closers, dispatcher.Close)
		distOpts = append(distOpts, distribution.WithNotifier(dispatcher))
	}
	app.Distribution, err = distribution.NewEngine(distributionState, app.Ledger, distOpts...)
	if err != nil {
		return fail(fmt.Errorf("init distribution: %w", err))
	}

	app.Server, err = NewServer(ServerConfig{
		Lending:      app.Lending,
		Distribution: app.Distribution,
		Feed:         app.Feed,
		Pauses:       pauses,
		Seizer:       options.seizer,
		Limiter:      NewRateLimiter(cfg.RateLimit, logger),
		AdminToken:   cfg.AdminToken,
		Timeout:      cfg.RequestTimeout.Duration,
		Logger:       logger,
		Metrics:      metrics,
	})
	if err != nil {
		return fail(err)
	}
	return app, nil
}

// listen opens the API listener. A positive MaxConnections caps the number of
// concurrently open client connections.
func listen(cfg Config) (net.Listener, error) {
	ln, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConnections)
	}
	return ln, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
