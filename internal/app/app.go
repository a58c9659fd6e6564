package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	cachemem "gmflicense/internal/cache/memory"
	cacheredis "gmflicense/internal/cache/redis"
	"gmflicense/internal/config"
	apierrors "gmflicense/internal/errors"
	"gmflicense/internal/infrastructure"
	"gmflicense/internal/license"
	"gmflicense/internal/middleware"
	"gmflicense/internal/ratelimit"
	"gmflicense/internal/storage/memory"
	"gmflicense/internal/storage/postgres"
	handlers "gmflicense/internal/transport/http"
	"gmflicense/pkg/contracts"
)

// AppName is the service name used in logs
const AppName = "GMF License Service"

// cacheSweepInterval is how often the in-process cache drops expired entries
const cacheSweepInterval = time.Minute

// Application represents the license service process
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Store         license.Store
	Service       *license.Service
	Router        *chi.Mux
	Server        *http.Server

	closers  []closer
	stopOnce sync.Once
	stopErr  error
}

// closer releases one resource on shutdown
type closer struct {
	name string
	fn   func() error
}

// NewApplication creates the application and all of its dependencies. On
// failure, everything opened so far is released before returning.
func NewApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	logger.InfoContext(ctx, "Application starting",
		slog.String("name", AppName),
		slog.String("version", contracts.Version),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("cache_backend", cfg.Cache.Backend))

	otelProviders, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	a := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
	}

	if err := a.initializeServices(ctx); err != nil {
		a.closeAll(ctx)
		_ = otelProviders.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	a.setupRouter()
	a.createServer()

	return a, nil
}

// initializeServices opens the store and cache and assembles the engine
func (a *Application) initializeServices(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	a.Store = store

	snapshots, err := a.openCache()
	if err != nil {
		return err
	}

	metrics, err := license.NewMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create license metrics: %w", err)
	}

	a.Service = license.NewService(store, snapshots,
		license.WithLogger(infrastructure.WithComponent(a.Logger, "license")),
		license.WithTracer(a.OTelProviders.Tracer),
		license.WithMetrics(metrics),
		license.WithStoreTimeout(a.Config.Engine.StoreTimeout),
		license.WithAuditFailures(a.Config.Engine.AuditFailures),
		license.WithTrialDays(a.Config.Engine.TrialDays),
		license.WithHistoryLimit(a.Config.Engine.HistoryLimit),
	)
	return nil
}

// openStore connects the authoritative store selected by Database.Driver
func (a *Application) openStore(ctx context.Context) (license.Store, error) {
	dbCfg := a.Config.Database

	if dbCfg.Driver != config.BackendPostgres {
		store := memory.NewSeeded()
		a.addCloser("memory store", store.Close)

		plans, _ := store.ListPlans(ctx)
		for _, p := range plans {
			a.Logger.InfoContext(ctx, "Seeded plan",
				slog.String("plan_id", p.ID),
				slog.String("identifier", p.Identifier),
				slog.Int64("tokens", p.Tokens))
		}
		a.Logger.WarnContext(ctx, "Using in-memory store; licenses are lost on restart")
		return store, nil
	}

	if dbCfg.MigrateOnStart {
		if err := postgres.Migrate(ctx, dbCfg.URL, a.Logger); err != nil {
			return nil, err
		}
	}

	store, err := postgres.Open(ctx, dbCfg, a.Logger)
	if err != nil {
		return nil, err
	}
	a.addCloser("postgres store", store.Close)
	return store, nil
}

// openCache builds the snapshot cache over the configured backend
func (a *Application) openCache() (*license.SnapshotCache, error) {
	var backend license.Cache

	switch a.Config.Cache.Backend {
	case config.BackendRedis:
		rc, err := cacheredis.New(a.Config.Redis, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis cache: %w", err)
		}
		a.addCloser("redis cache", rc.Close)
		backend = rc
	default:
		mc := cachemem.New(a.Config.Cache.MaxEntries, cacheSweepInterval)
		a.addCloser("memory cache", func() error {
			mc.Stop()
			return nil
		})
		backend = mc
	}

	return license.NewSnapshotCache(backend, a.Config.Cache.TTL, a.Config.Redis.Timeout, a.Logger), nil
}

// setupRouter mounts the API behind the middleware chain:
// RequestID, RealIP, OTel, Logger, Recoverer, SecurityHeaders, CORS, Timeout.
func (a *Application) setupRouter() {
	cfg := a.Config
	errorHandler := apierrors.NewErrorHandler(a.Logger, cfg.Logging.Development)
	validator := middleware.NewValidator()

	r := chi.NewRouter()
	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	otelMiddleware, err := middleware.NewOTelMiddleware(a.OTelProviders)
	if err != nil {
		a.Logger.Error("Failed to create OpenTelemetry middleware", slog.String("error", err.Error()))
	} else {
		r.Use(otelMiddleware.Handler)
	}

	r.Use(middleware.StructuredLogger(a.Logger))
	r.Use(middleware.Recoverer(errorHandler))
	r.Use(middleware.SecurityHeaders)
	if cfg.Security.EnableCORS {
		r.Use(middleware.CORS(a.corsConfig()))
	}
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	health := handlers.NewHealthHandler(a.Service, a.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Mount("/health", health.Routes())
		r.Get("/version", health.Version)

		r.Group(func(r chi.Router) {
			if cfg.Security.RateLimit.Enabled {
				r.Use(middleware.NewRateLimiter(cfg.Security.RateLimit.RPS, cfg.Security.RateLimit.Burst, errorHandler).Handler)
			}
			r.Mount("/public", handlers.NewPublicHandler(a.Service, validator, errorHandler, a.Logger).Routes())
			r.Mount("/plugins", handlers.NewPluginHandler(a.Service, validator, errorHandler, a.Logger).Routes())
		})

		r.Group(func(r chi.Router) {
			// Only failed admin keys count against a client's window.
			var admission *middleware.Admission
			if adm := cfg.Security.Admission; adm.Enabled {
				window := ratelimit.NewSlidingWindow(adm.MaxAttempts, adm.Window, adm.Cleanup)
				a.addCloser("admission window", func() error {
					window.Stop()
					return nil
				})
				admission = middleware.NewAdmission(window, errorHandler, a.Logger)
				r.Use(admission.Handler)
			}
			if cfg.Security.AdminKeyHash == "" {
				a.Logger.Warn("No admin key hash configured; admin routes reject every request")
			}
			r.Use(middleware.AdminKey(cfg.Security.AdminKeyHash, admission, errorHandler, a.Logger))
			r.Mount("/admin", handlers.NewAdminHandler(a.Service, validator, errorHandler, a.Logger).Routes())
		})
	})

	a.Router = r
}

// corsConfig returns the CORS policy for browser callers. Methods and
// headers use the middleware defaults.
func (a *Application) corsConfig() middleware.CORSConfig {
	return middleware.CORSConfig{
		AllowedOrigins: a.Config.Security.AllowedOrigins,
		MaxAge:         300,
	}
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           a.Config.Addr(),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(a.Logger.Handler(), slog.LevelError),
	}
}

// Run listens on the configured address and serves until ctx is cancelled
func (a *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		_ = a.Stop(ctx)
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled or the server fails, then shuts down
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfoContext(ctx, "Application started",
			slog.String("address", ln.Addr().String()),
			slog.String("version", contracts.Version))

		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.Stop(context.WithoutCancel(ctx))
	})

	return g.Wait()
}

// Stop drains the HTTP server and releases every resource. It is safe to call
// more than once.
func (a *Application) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.Logger.InfoContext(ctx, "Shutting down application")

		shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if a.Server != nil {
			if err := a.Server.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("server shutdown: %w", err))
			}
		}

		a.closeAll(ctx)

		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}

		a.stopErr = errors.Join(errs...)
		a.Logger.InfoContext(ctx, "Application shutdown complete")
	})
	return a.stopErr
}

func (a *Application) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// closeAll releases resources in reverse order of acquisition
func (a *Application) closeAll(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.Logger.ErrorContext(ctx, "Failed to close resource",
				slog.String("resource", c.name),
				slog.String("error", err.Error()))
		}
	}
	a.closers = nil
}
