// Package bootstrap wires all dependencies and starts the gateway.
// Configuration comes from a YAML file (hot reloaded) with POOLGATE_*
// environment overrides.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/artpar/poolgate/adapters/auth"
	"github.com/artpar/poolgate/adapters/clock"
	"github.com/artpar/poolgate/adapters/hasher"
	apihttp "github.com/artpar/poolgate/adapters/http"
	"github.com/artpar/poolgate/adapters/http/admin"
	"github.com/artpar/poolgate/adapters/idgen"
	"github.com/artpar/poolgate/adapters/metrics"
	"github.com/artpar/poolgate/adapters/pricingfile"
	"github.com/artpar/poolgate/adapters/random"
	"github.com/artpar/poolgate/adapters/upstream"
	"github.com/artpar/poolgate/adapters/webhook"
	"github.com/artpar/poolgate/app"
	"github.com/artpar/poolgate/config"
	"github.com/artpar/poolgate/ports"
)

// Options controls New.
type Options struct {
	ConfigPath string
	HotReload  bool // watch the config file and SIGHUP
	Version    string
}

// App represents the running gateway.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config
	Stores     *Stores
	HTTPServer *http.Server
	Metrics    *metrics.Collector // nil when metrics are disabled

	Keys         *app.KeyService
	Accountant   *app.Accountant
	Scheduler    *app.Scheduler
	Orchestrator *app.Orchestrator
	Gateway      *app.Gateway
	Health       *app.HealthRunner
	Sweeper      *app.Sweeper
	Pricing      *pricingfile.Catalog

	holder   *config.Holder
	throttle *app.ThrottledNotifier
	notifier *webhook.Notifier
}

// New loads configuration and builds the application. When the config
// file does not exist the configuration comes from the environment only
// and hot reload is off.
func New(ctx context.Context, opts Options) (*App, error) {
	var (
		cfg    *config.Config
		holder *config.Holder
		err    error
	)
	bootLogger := SetupLogger("info", "json")

	if _, statErr := os.Stat(opts.ConfigPath); statErr == nil && opts.HotReload {
		holder, err = config.NewHolder(opts.ConfigPath, bootLogger)
		if err != nil {
			return nil, err
		}
		cfg = holder.Get()
	} else {
		cfg, err = config.LoadWithFallback(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
	}

	logger := SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info().Str("version", opts.Version).Msg("initializing poolgate")

	stores, err := OpenStores(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open stores: %w", err)
	}

	a, err := Build(ctx, cfg, stores, logger, opts.Version)
	if err != nil {
		stores.Close()
		return nil, err
	}
	a.holder = holder
	if holder != nil {
		holder.OnChange(a.applyConfig)
	}
	return a, nil
}

// Build wires services and the HTTP server on top of opened stores.
func Build(ctx context.Context, cfg *config.Config, stores *Stores, logger zerolog.Logger, version string) (*App, error) {
	a := &App{Logger: logger, Config: cfg, Stores: stores}
	clk := clock.Real{}

	if n, err := SeedAccounts(ctx, stores.Accounts, cfg.Accounts); err != nil {
		return nil, fmt.Errorf("seed accounts: %w", err)
	} else if n > 0 {
		logger.Info().Int("count", n).Msg("accounts loaded from config")
	}

	// Typed nil must not leak into the ports.Metrics interface
	var m ports.Metrics
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		m = a.Metrics
		logger.Info().Msg("prometheus metrics enabled")
	}

	a.Pricing = pricingfile.New(pricingfile.Config{
		Path:         cfg.Pricing.Path,
		FallbackPath: cfg.Pricing.FallbackPath,
		URL:          cfg.Pricing.URL,
		HashURL:      cfg.Pricing.HashURL,
	}, logger.With().Str("component", "pricing").Logger())
	if err := a.Pricing.Load(); err != nil {
		// costs are reported as zero until a catalog loads
		logger.Warn().Err(err).Msg("pricing catalog unavailable")
	}

	a.notifier = webhook.New(webhook.Config{
		Endpoints: webhookEndpoints(cfg.Alerts.Webhooks),
		Timeout:   cfg.Alerts.Timeout,
	}, clk, logger.With().Str("component", "alerts").Logger())
	a.throttle = app.NewThrottledNotifier(a.notifier, stores.Counters, cfg.Alerts.ThrottleTTL, m, logger)

	relay := upstream.New(upstream.Config{
		Timeout:         cfg.Upstream.Timeout,
		MaxIdleConns:    cfg.Upstream.MaxIdleConns,
		IdleConnTimeout: cfg.Upstream.IdleConnTimeout,
		ProbeModel:      cfg.Upstream.ProbeModel,
	}, logger.With().Str("component", "upstream").Logger())

	a.Keys = app.NewKeyService(app.KeyDeps{
		Store:  stores.Keys,
		Hasher: hasher.NewKeyed(cfg.Auth.HashKey),
		Random: random.Real{},
		IDGen:  idgen.UUID{},
		Clock:  clk,
		Logger: logger,
	})
	a.Accountant = app.NewAccountant(app.AccountantDeps{
		Counters: stores.Counters,
		Pricing:  a.Pricing,
		UsageLog: stores.UsageLog,
		Metrics:  m,
		IDGen:    idgen.UUID{},
		Clock:    clk,
		Logger:   logger,
	})
	a.Scheduler = app.NewScheduler(app.SchedulerDeps{
		Accounts: stores.Accounts,
		Clock:    clk,
		Logger:   logger,
	})
	a.Orchestrator = app.NewOrchestrator(app.OrchestratorDeps{
		Selector: a.Scheduler,
		Relay:    relay,
		Meter:    a.Accountant,
		Alerts:   a.throttle,
		Metrics:  m,
		Sleeper:  clk,
		Clock:    clk,
		Logger:   logger,
	}, app.OrchestratorConfig{
		Policy:           cfg.Retry.Policy(),
		MarkUnauthorized: cfg.Retry.MarkUnauthorized,
		AttemptTimeout:   cfg.Retry.AttemptTimeout,
	})
	a.Gateway = app.NewGateway(app.GatewayDeps{
		Keys:         a.Keys,
		Accountant:   a.Accountant,
		Orchestrator: a.Orchestrator,
		Logger:       logger,
	})

	interval := cfg.HealthCheck.Interval
	if !cfg.HealthCheck.Enabled {
		interval = 0
	}
	a.Health = app.NewHealthRunner(app.HealthDeps{
		Scheduler: a.Scheduler,
		Relay:     relay,
		Clock:     clk,
		Logger:    logger,
	}, app.HealthConfig{
		MaxConcurrent: cfg.HealthCheck.MaxConcurrent,
		Interval:      interval,
	})
	if err := a.Health.Sync(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to register accounts for health checks")
	}

	a.Sweeper = app.NewSweeper(app.SweepDeps{
		Keys:     stores.Keys,
		Accounts: stores.Accounts,
		Counters: stores.Counters,
		Logger:   logger,
	})

	adminHandler := admin.NewHandler(admin.Deps{
		Keys:       a.Keys,
		Accountant: a.Accountant,
		Scheduler:  a.Scheduler,
		Health:     a.Health,
		Sweeper:    a.Sweeper,
		Tokens: auth.NewTokenService(auth.TokenConfig{
			Secret:     cfg.Auth.JWTSecret,
			Expiration: cfg.Auth.TokenExpiration,
			Clock:      clk,
		}),
		Passwords:         hasher.NewBcrypt(0),
		Clock:             clk,
		Logger:            logger,
		AdminUser:         cfg.Auth.AdminUser,
		AdminPasswordHash: cfg.Auth.AdminPasswordHash,
	})
	if cfg.Auth.AdminPasswordHash == "" {
		logger.Warn().Msg("auth.admin_password_hash not set, admin login disabled")
	}

	pingers := map[string]apihttp.Pinger{}
	if stores.Redis != nil {
		pingers["redis"] = stores.Redis
	}
	if stores.DB != nil {
		pingers["database"] = apihttp.PingFunc(stores.DB.PingContext)
	}

	routerCfg := apihttp.RouterConfig{
		Relay:   apihttp.NewRelayHandler(a.Gateway, logger),
		Models:  apihttp.NewModelsHandler(a.Scheduler.Catalog(), clk.Now()),
		Health:  apihttp.NewHealthHandler(pingers),
		Admin:   adminHandler.Router(),
		Version: version,
		Metrics: a.Metrics,
	}
	if a.Metrics != nil {
		routerCfg.MetricsHandler = promhttp.Handler()
	}

	a.HTTPServer = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           apihttp.NewRouter(routerCfg, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	logger.Info().Str("addr", a.HTTPServer.Addr).Msg("http server configured")
	return a, nil
}

// applyConfig pushes hot-reloadable settings into running services.
func (a *App) applyConfig(cfg *config.Config) {
	a.Orchestrator.UpdateConfig(cfg.Retry.Policy(), cfg.Retry.MarkUnauthorized)
	a.throttle.SetTTL(cfg.Alerts.ThrottleTTL)
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	a.Config = cfg
}

// Run serves until SIGINT or SIGTERM, then shuts down.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.Serve(ctx)
}

// Serve starts the background workers and the HTTP server and blocks
// until ctx is done or the server fails.
func (a *App) Serve(ctx context.Context) error {
	if a.holder != nil {
		if err := a.holder.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watch disabled")
		}
		a.holder.WatchSignals()
	}
	if a.Config.Pricing.Watch {
		if err := a.Pricing.Watch(); err != nil {
			a.Logger.Warn().Err(err).Msg("pricing file watch disabled")
		}
	}
	a.Health.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	if a.Config.Pricing.URL != "" {
		g.Go(func() error {
			a.refreshPricing(gctx, a.Config.Pricing.RefreshEvery)
			return nil
		})
	}

	g.Go(func() error {
		a.Logger.Info().Str("addr", a.HTTPServer.Addr).Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info().Msg("shutting down")
		return a.Shutdown()
	})

	return g.Wait()
}

func (a *App) refreshPricing(ctx context.Context, every time.Duration) {
	refresh := func() {
		changed, err := a.Pricing.Refresh(ctx)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("pricing refresh failed")
			return
		}
		if changed {
			a.Logger.Info().Int("models", a.Pricing.Status().Models).Msg("pricing catalog refreshed")
		}
	}

	refresh()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

// Shutdown stops the server and background workers. Pending alert
// deliveries are flushed before the stores close.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.holder != nil {
		a.holder.Stop()
	}
	a.Health.Stop()
	a.Pricing.Stop()

	var errs []error
	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
			errs = append(errs, err)
		}
	}

	a.notifier.Close()

	if err := a.Stores.Close(); err != nil {
		a.Logger.Error().Err(err).Msg("store close error")
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func webhookEndpoints(in []config.WebhookEndpoint) []webhook.Endpoint {
	out := make([]webhook.Endpoint, 0, len(in))
	for _, e := range in {
		out = append(out, webhook.Endpoint{URL: e.URL, Secret: e.Secret})
	}
	return out
}

// SetupLogger builds the process logger and sets the global level.
func SetupLogger(levelStr, format string) zerolog.Logger {
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil || levelStr == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
