// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/janastudio/agenda-automation/internal/automation"
	automationpostgres "github.com/janastudio/agenda-automation/internal/automation/postgres"
	"github.com/janastudio/agenda-automation/internal/config"
	"github.com/janastudio/agenda-automation/internal/pkg/ctxlog"
	"github.com/janastudio/agenda-automation/internal/pkg/httputil"
	"github.com/janastudio/agenda-automation/internal/pkg/metrics"
	"github.com/janastudio/agenda-automation/internal/pkg/postgres"
	"github.com/janastudio/agenda-automation/internal/version"
	"github.com/janastudio/agenda-automation/internal/voucher"
	"github.com/janastudio/agenda-automation/internal/webhooks"
	"github.com/janastudio/agenda-automation/internal/whatsapp"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
	poller        *automation.Poller
}

// New creates a new application instance. It connects to the database,
// applies pending migrations and wires the notification engine.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := postgres.Migrate(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		metricsCancel: metricsCancel,
	}

	go app.collectDBMetrics(metricsCtx)

	router, poller, err := app.setupRouter(metricsCtx)
	if err != nil {
		db.Close()
		metricsCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.poller = poller

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"automation_mode", a.config.Automation.Mode,
		"provider", a.config.Automation.Provider,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()

	// Stop the poller first so no new batch starts mid-shutdown.
	if a.poller != nil {
		a.poller.Stop()
	}

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.db.Close()

	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Poller returns the background poller instance, nil when disabled.
func (a *App) Poller() *automation.Poller {
	return a.poller
}

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, *automation.Poller, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	jobRepo := automationpostgres.NewJobRepository(a.db)
	auditLog := automationpostgres.NewAuditLog(a.db)
	appointments := automationpostgres.NewAppointmentReader(a.db)

	renderer, err := automation.NewRenderer()
	if err != nil {
		return nil, nil, fmt.Errorf("create renderer: %w", err)
	}

	sender := whatsapp.NewClient(whatsapp.Config{
		BaseURL:       a.config.WhatsApp.APIBaseURL,
		AccessToken:   a.config.WhatsApp.AccessToken,
		PhoneNumberID: a.config.WhatsApp.PhoneNumberID,
		Timeout:       a.config.WhatsApp.Timeout,
		RateLimit:     a.config.WhatsApp.RateLimit,
	})

	slog.Info("automation configured",
		"mode", a.config.Automation.Mode,
		"provider", a.config.Automation.Provider,
		"queue_enabled", a.config.Automation.QueueEnabled,
		"dispatch_on_queue", a.config.Automation.DispatchOnQueue,
		"poller_enabled", a.config.Automation.PollerEnabled,
	)

	contexts := automation.NewContextBuilder(appointments, a.config.Automation.StudioLocationLine)
	window := automation.NewWindowEvaluator(auditLog)
	processor := automation.NewProcessor(
		a.config.Automation,
		jobRepo,
		auditLog,
		sender,
		contexts,
		renderer,
		window,
	)
	scheduler := automation.NewScheduler(a.config.Automation, jobRepo, auditLog, window, processor)

	voucherLinks := voucher.NewBuilder(a.config.Voucher.BaseURL)
	webhookProcessor := automation.NewWebhookProcessor(jobRepo, auditLog, sender, renderer, voucherLinks)
	webhookHandler := webhooks.NewHandler(
		webhookProcessor,
		a.config.WhatsApp.AppSecret,
		a.config.WhatsApp.VerifyToken,
	)

	automationHandler := automation.NewHandler(scheduler, processor, jobRepo)

	r.Route("/internal/automation", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(httputil.RequireSecret(a.config.Internal.ProcessSecret))
			automationHandler.RegisterRoutes(r)
		})
		r.Group(func(r chi.Router) {
			r.Use(httputil.RequireSecret(a.config.Internal.CronSecret))
			automationHandler.RegisterCronRoutes(r)
		})
	})

	r.Route("/webhooks", func(r chi.Router) {
		webhookHandler.RegisterRoutes(r)
	})

	go a.collectQueueMetrics(ctx, jobRepo)

	var poller *automation.Poller
	if a.config.Automation.PollerEnabled {
		poller = automation.NewPoller(processor, a.config.Automation.PollerInterval)
		poller.Start(ctx)
	}

	return r, poller, nil
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) collectQueueMetrics(ctx context.Context, jobs automation.JobRepository) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := jobs.QueueStats(ctx)
			if err != nil {
				slog.Error("failed to get queue stats", "error", err)
				continue
			}
			automation.RecordQueueStats(stats)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
