package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"obuoy/config"
	"obuoy/core"
	"obuoy/httpclient"
	"obuoy/maps"
	"obuoy/ndbc"
	"obuoy/storage"
	"obuoy/tracing"
	"obuoy/web"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Options tune NewApp. The zero value reads the real process environment.
type Options struct {
	// ConfigFile is an explicit config path; empty searches . and ./config
	ConfigFile string
	// DotEnvFiles are loaded in development, default .env
	DotEnvFiles []string
	LookupEnv   func(key string) (string, bool)
	Setenv      func(key, value string) error
	// Storage connects the stores, default InitStorage
	Storage StorageFunc
}

func (o Options) withDefaults() Options {
	if o.LookupEnv == nil {
		o.LookupEnv = os.LookupEnv
	}
	if o.Setenv == nil {
		o.Setenv = os.Setenv
	}
	if o.Storage == nil {
		o.Storage = InitStorage
	}
	return o
}

// App represents the OBuoy application with all its components.
type App struct {
	// Configuration
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Tracing     *tracing.Provider
	Templates   *web.Templates
	Hub         *web.Hub
	Maps        *maps.Service
	HTTPClients *httpclient.Factory
	Server      *web.Server

	// Data
	Storage *StorageComponents
	Catalog *storage.Catalog
	Poller  *ndbc.Poller

	// Lifecycle
	serviceWg    sync.WaitGroup
	runCancel    context.CancelFunc
	serverErr    chan error
	shutdownOnce sync.Once
}

// NewApp builds the application: configuration, page rendering and live
// updates, the maps widget, outbound HTTP clients, the server and its
// middleware for the current environment, the stores, and the page routes.
func NewApp(ctx context.Context, opts Options) (*App, error) {
	opts = opts.withDefaults()

	cfg, err := InitConfig(opts)
	if err != nil {
		return nil, err
	}

	logger, sugar, err := InitLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	app := &App{
		Config:    cfg,
		Logger:    logger,
		Sugar:     sugar,
		serverErr: make(chan error, 1),
	}
	sugar.Info("OBuoy starting...")
	logStartup(cfg, sugar)

	if err := app.build(ctx, opts); err != nil {
		app.Shutdown()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	cfg, sugar := a.Config, a.Sugar

	a.Tracing = tracing.NewProvider(cfg.Tracing.Enabled, cfg.Tracing.SampleRatio, sugar)

	templates, err := web.ParseTemplates()
	if err != nil {
		return err
	}
	a.Templates = templates
	a.Hub = web.NewHub(context.Background(), sugar)

	key := ResolveMapsKey(cfg, opts.LookupEnv)
	a.Maps = maps.NewService(key, cfg.Maps.ScriptURL, maps.Options{
		CenterLat: cfg.Maps.CenterLat,
		CenterLng: cfg.Maps.CenterLng,
		Zoom:      cfg.Maps.Zoom,
		MapID:     cfg.Maps.MapID,
	})
	if !a.Maps.HasKey() {
		sugar.Warnw("No Google Maps API key, the map loads in development mode", "variant", string(cfg.Startup.Variant))
	}

	a.HTTPClients = httpclient.NewFactory(cfg.HTTPClient, sugar)

	if cfg.Server.Autocert.Enabled {
		if err := EnsureDirectory(cfg.Server.Autocert.CacheDir, sugar); err != nil {
			return err
		}
	}
	a.Server = web.NewServer(cfg, sugar)

	if !cfg.IsDevelopment() {
		a.Server.UseExceptionHandler(web.ErrorPath)
		a.Server.UseHSTS()
	} else if cfg.Startup.Variant == config.VariantFull {
		if err := ExportMongoConnection(cfg, opts.Setenv, sugar); err != nil {
			return err
		}
	}

	a.Server.UseHTTPSRedirection()
	a.Server.UseStaticFiles()
	if err := a.Server.UseAntiforgery(); err != nil {
		return err
	}

	if err := a.initData(ctx, opts); err != nil {
		return err
	}

	var refresher web.Refresher
	if a.Poller != nil {
		refresher = a.Poller
	}
	return a.Server.MapPages(web.Dependencies{
		Catalog:      a.Catalog,
		Refresher:    refresher,
		Hub:          a.Hub,
		Maps:         a.Maps,
		Templates:    a.Templates,
		Tracer:       a.Tracing.Tracer(),
		HealthChecks: a.healthChecks(),
	})
}

// ResolveMapsKey picks the maps API key for the configured variant
func ResolveMapsKey(cfg *config.Config, lookup func(string) (string, bool)) *string {
	source := maps.KeyFromEnvOrConfig
	if cfg.Startup.Variant == config.VariantMinimal {
		source = maps.KeyFromEnvOnly
	}
	return maps.ResolveAPIKey(source, lookup, cfg.GoogleAPIKey)
}

// ExportMongoConnection copies the MongoDBConnection config value into the
// process environment. An empty value leaves the environment untouched.
func ExportMongoConnection(cfg *config.Config, setenv func(key, value string) error, sugar *zap.SugaredLogger) error {
	if cfg.MongoDBConnection == "" {
		sugar.Debugw("No MongoDBConnection configured, environment left unchanged")
		return nil
	}
	if err := setenv(config.MongoDBConnectionName, cfg.MongoDBConnection); err != nil {
		return fmt.Errorf("failed to export %s: %w", config.MongoDBConnectionName, err)
	}
	sugar.Infow("Exported MongoDBConnection to the process environment")
	return nil
}

// initData connects the stores and wires the catalog and the feed poller.
// In graceful mode an unreachable store leaves a degraded catalog.
func (a *App) initData(ctx context.Context, opts Options) error {
	cfg, sugar := a.Config, a.Sugar

	latest, err := storage.NewObservationCache(cfg.Cache.LocalSize, cfg.Cache.TTL)
	if err != nil {
		return fmt.Errorf("failed to create observation cache: %w", err)
	}

	sc, err := opts.Storage(ctx, cfg, cfg.MongoURI(opts.LookupEnv), sugar)
	if err != nil {
		if !cfg.IsGracefulMode() {
			return err
		}
		sugar.Warnw("Storage unavailable, serving degraded pages", "error", err)
		a.Catalog = storage.NewCatalog(nil, nil, latest, nil, nil, sugar)
		return nil
	}
	a.Storage = sc

	var buoys storage.BuoyReader
	var observations storage.ObservationReader
	if sc.Buoys != nil && sc.Observations != nil {
		buoys, observations = sc.Buoys, sc.Observations
	}
	var markers *storage.MarkerCache
	if sc.Redis != nil {
		markers = storage.NewMarkerCache(sc.Redis, cfg.Cache.TTL)
	}
	a.Catalog = storage.NewCatalog(buoys, observations, latest, markers, nil, sugar)

	if !cfg.NDBC.Enabled {
		sugar.Info("NDBC feed disabled by configuration")
		return nil
	}
	if buoys == nil {
		return nil
	}

	client := ndbc.NewClient(
		a.HTTPClients.Client(ndbc.ClientName),
		cfg.NDBC.BaseURL,
		ndbc.BreakerSettings{MaxFailures: cfg.NDBC.MaxFailures, Timeout: cfg.NDBC.BreakerTimeout},
		a.Tracing.Tracer(),
		sugar,
	)
	a.Poller = ndbc.NewPoller(client, sc.Buoys, sc.Observations, clockwork.NewRealClock(), ndbc.PollerConfig{
		Interval:  cfg.NDBC.PollInterval,
		Retention: cfg.NDBC.Retention,
	}, sugar)
	a.Poller.OnObservation(a.Catalog.ObservationStored)
	a.Poller.OnObservation(a.broadcastObservation)
	return nil
}

// broadcastObservation pushes the updated marker to open map pages
func (a *App) broadcastObservation(ctx context.Context, latest core.Observation) {
	b, err := a.Catalog.Buoy(ctx, latest.StationID)
	if err != nil {
		a.Sugar.Debugw("Skipping live update for unknown station", "station", latest.StationID, "error", err)
		return
	}
	if err := a.Hub.Broadcast(web.MessageTypeObservation, a.Catalog.Marker(ctx, *b)); err != nil {
		a.Sugar.Warnw("Live update failed", "station", latest.StationID, "error", err)
	}
}

func (a *App) healthChecks() []web.HealthCheck {
	var checks []web.HealthCheck
	if a.Storage == nil {
		return checks
	}
	if a.Storage.MongoDB != nil {
		checks = append(checks, web.HealthCheck{Name: "mongodb", Check: a.Storage.MongoDB.HealthCheck})
	}
	if a.Storage.Redis != nil {
		checks = append(checks, web.HealthCheck{Name: "redis", Check: a.Storage.Redis.Ping})
	}
	return checks
}

// Start starts the hub, the feed poller and the request loop.
func (a *App) Start(ctx context.Context) error {
	a.Hub.Start()

	if a.Poller != nil {
		a.Poller.Start(ctx)
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel

	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		defer func() {
			if r := recover(); r != nil {
				a.Sugar.Errorw("HTTP server panicked", "panic", r)
				a.serverErr <- fmt.Errorf("http server panicked: %v", r)
			}
		}()
		if err := a.Server.Run(runCtx); err != nil {
			a.Sugar.Errorw("HTTP server error", "error", err)
			a.serverErr <- err
		}
	}()

	return nil
}

// WaitForShutdown blocks until a shutdown signal is received, ctx is done,
// or the server fails.
func (a *App) WaitForShutdown(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case sig := <-c:
		a.Sugar.Infow("Shutdown signal received", "signal", sig.String())
		return nil
	case <-ctx.Done():
		return nil
	case err := <-a.serverErr:
		return err
	}
}

// Shutdown gracefully shuts down all components. It is safe to call more
// than once and on a partially built app.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(a.shutdown)
}

func (a *App) shutdown() {
	a.Sugar.Info("Shutting down...")

	a.Sugar.Info("Phase 1: Stopping NDBC poller...")
	if a.Poller != nil {
		a.Poller.Stop()
	}

	a.Sugar.Info("Phase 2: Stopping HTTP servers...")
	if a.Server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		if err := a.Server.Shutdown(ctx); err != nil {
			a.Sugar.Errorw("Failed to stop HTTP server", "error", err)
		}
		cancel()
	}
	if a.runCancel != nil {
		a.runCancel()
	}
	a.serviceWg.Wait()

	a.Sugar.Info("Phase 3: Stopping live update hub...")
	if a.Hub != nil {
		a.Hub.Stop()
	}

	if a.Tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		if err := a.Tracing.Shutdown(ctx); err != nil {
			a.Sugar.Warnw("Failed to flush traces", "error", err)
		}
		cancel()
	}

	a.Sugar.Info("Phase 4: Closing store connections...")
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	a.Storage.Close(ctx, a.Sugar)
	cancel()
	if a.HTTPClients != nil {
		a.HTTPClients.CloseIdleConnections()
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}
