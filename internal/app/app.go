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

	"github.com/bissquit/oncall-garden/internal/catalog"
	catalogpostgres "github.com/bissquit/oncall-garden/internal/catalog/postgres"
	"github.com/bissquit/oncall-garden/internal/config"
	"github.com/bissquit/oncall-garden/internal/escalation"
	"github.com/bissquit/oncall-garden/internal/identity"
	"github.com/bissquit/oncall-garden/internal/identity/jwt"
	identitypostgres "github.com/bissquit/oncall-garden/internal/identity/postgres"
	"github.com/bissquit/oncall-garden/internal/incidents"
	incidentspostgres "github.com/bissquit/oncall-garden/internal/incidents/postgres"
	"github.com/bissquit/oncall-garden/internal/ingest"
	"github.com/bissquit/oncall-garden/internal/notifications"
	"github.com/bissquit/oncall-garden/internal/notifications/chat"
	"github.com/bissquit/oncall-garden/internal/notifications/email"
	notificationspostgres "github.com/bissquit/oncall-garden/internal/notifications/postgres"
	"github.com/bissquit/oncall-garden/internal/notifications/push"
	"github.com/bissquit/oncall-garden/internal/notifications/sms"
	"github.com/bissquit/oncall-garden/internal/notifications/webhook"
	"github.com/bissquit/oncall-garden/internal/notifications/whatsapp"
	"github.com/bissquit/oncall-garden/internal/oncall"
	oncallpostgres "github.com/bissquit/oncall-garden/internal/oncall/postgres"
	"github.com/bissquit/oncall-garden/internal/pkg/ctxlog"
	"github.com/bissquit/oncall-garden/internal/pkg/httputil"
	"github.com/bissquit/oncall-garden/internal/pkg/metrics"
	"github.com/bissquit/oncall-garden/internal/pkg/postgres"
	"github.com/bissquit/oncall-garden/internal/pkg/ratelimit"
	"github.com/bissquit/oncall-garden/internal/pkg/retry"
	"github.com/bissquit/oncall-garden/internal/sla"
	slapostgres "github.com/bissquit/oncall-garden/internal/sla/postgres"
	"github.com/bissquit/oncall-garden/internal/version"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
	scheduler     *escalation.Scheduler
	monitor       *sla.Monitor
}

// New creates a new application instance: database pool, migrations,
// services, routers and background workers.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

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

	if cfg.Database.MigrationsPath != "" {
		if err := postgres.Migrate("file://"+cfg.Database.MigrationsPath, cfg.Database.URL); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		metricsCancel: workerCancel,
	}

	go app.collectDBMetrics(workerCtx)

	router, err := app.setupRouter(workerCtx)
	if err != nil {
		db.Close()
		workerCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:      metricsRouter,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers and blocks until the main server exits.
func (a *App) Run() error {
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops workers, servers and the database pool.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	a.metricsCancel()

	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.monitor != nil {
		a.monitor.Stop()
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

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

// Monitor returns the SLA monitor. Used in tests to drive sweeps manually.
func (a *App) Monitor() *sla.Monitor {
	return a.monitor
}

// Scheduler returns the escalation scheduler. Used in tests.
func (a *App) Scheduler() *escalation.Scheduler {
	return a.scheduler
}

func (a *App) collectDBMetrics(ctx context.Context) {
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

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	// Repositories
	incidentsRepo := incidentspostgres.NewRepository(a.db)
	catalogRepo := catalogpostgres.NewRepository(a.db)
	identityRepo := identitypostgres.NewRepository(a.db)
	oncallRepo := oncallpostgres.NewRepository(a.db)
	notificationsRepo := notificationspostgres.NewRepository(a.db)
	slaRepo := slapostgres.NewRepository(a.db)

	// Services
	tokens := jwt.New(a.config.JWT.SecretKey, a.config.JWT.AccessTokenDuration)
	identityService := identity.NewService(identityRepo, tokens, a.logger)
	catalogService := catalog.NewService(catalogRepo, a.logger)
	oncallService := oncall.NewService(oncallRepo)
	incidentsService := incidents.NewService(incidentsRepo, a.logger)

	dispatcher, err := a.setupDispatcher(notificationsRepo)
	if err != nil {
		return nil, err
	}

	ingestService := ingest.NewService(incidentsRepo, catalogService,
		a.config.Ingest.ReopenWindow, a.logger)
	ingestLimiter := ratelimit.New(a.config.Ingest.RateLimitPerMinute,
		time.Minute, a.config.Ingest.RateLimitBurst)

	// Background workers
	if a.config.Escalation.Enabled {
		a.scheduler = escalation.NewScheduler(incidentsRepo, catalogService,
			identityService, oncallService, dispatcher, incidentsService,
			escalation.Config{
				SweepInterval:   a.config.Escalation.SweepInterval,
				NumWorkers:      a.config.Escalation.NumWorkers,
				BatchSize:       a.config.Escalation.BatchSize,
				StaleClaimAfter: a.config.Escalation.StaleClaimAfter,
			}, a.logger)
		a.scheduler.Start(ctx)
	}

	a.monitor = sla.NewMonitor(incidentsRepo, catalogService, slaRepo,
		identityService, dispatcher, sla.Config{
			SweepInterval:        a.config.SLA.SweepInterval,
			AckWarningWindow:     a.config.SLA.AckWarningWindow,
			ResolveWarningWindow: a.config.SLA.ResolveWarningWindow,
		}, a.logger)
	if a.config.SLA.Enabled {
		a.monitor.Start(ctx)
	}

	// Handlers
	identityHandler := identity.NewHandler(identityService)
	catalogHandler := catalog.NewHandler(catalogService)
	oncallHandler := oncall.NewHandler(oncallService)
	incidentsHandler := incidents.NewHandler(incidentsService, notificationsRepo)
	ingestHandler := ingest.NewHandler(ingestService, identityService, ingestLimiter)
	slaHandler := sla.NewHandler(a.monitor)

	r.Route("/api/v1", func(r chi.Router) {
		// Public: login and the integration events API (key-authenticated).
		identityHandler.PublicRoutes(r)
		ingestHandler.Routes(r)

		r.Group(func(r chi.Router) {
			r.Use(httputil.AuthMiddleware(identityService))

			identityHandler.Routes(r)
			catalogHandler.Routes(r)
			oncallHandler.Routes(r)
			incidentsHandler.Routes(r)
			slaHandler.Routes(r)
		})
	})

	return r, nil
}

// setupDispatcher builds the notification dispatcher with every enabled
// channel sender. Disabled channels keep their notification records but fail
// delivery with a clear error.
func (a *App) setupDispatcher(repo notifications.Repository) (*notifications.Dispatcher, error) {
	cfg := a.config.Notifications

	var senders []notifications.Sender
	if cfg.Enabled {
		if cfg.Email.Enabled {
			sender, err := email.NewSender(email.Config{
				Host:     cfg.Email.Host,
				Port:     cfg.Email.Port,
				Username: cfg.Email.Username,
				Password: cfg.Email.Password,
				From:     cfg.Email.From,
				UseTLS:   cfg.Email.UseTLS,
			})
			if err != nil {
				return nil, fmt.Errorf("create email sender: %w", err)
			}
			senders = append(senders, sender)
		}
		if cfg.Webhook.Enabled {
			senders = append(senders, webhook.NewSender(webhook.Config{
				Timeout: cfg.Webhook.Timeout,
			}))
		}
		if cfg.Chat.Enabled {
			sender, err := chat.NewSender(chat.Config{
				WebhookURL: cfg.Chat.WebhookURL,
				Timeout:    cfg.Chat.Timeout,
			})
			if err != nil {
				return nil, fmt.Errorf("create chat sender: %w", err)
			}
			senders = append(senders, sender)
		}
		if cfg.SMS.Enabled {
			sender, err := sms.NewSender(sms.Config{
				GatewayURL: cfg.SMS.GatewayURL,
				APIKey:     cfg.SMS.APIKey,
				From:       cfg.SMS.From,
			})
			if err != nil {
				return nil, fmt.Errorf("create sms sender: %w", err)
			}
			senders = append(senders, sender)
		}
		if cfg.Push.Enabled {
			sender, err := push.NewSender(push.Config{
				GatewayURL: cfg.Push.GatewayURL,
				APIKey:     cfg.Push.APIKey,
			})
			if err != nil {
				return nil, fmt.Errorf("create push sender: %w", err)
			}
			senders = append(senders, sender)
		}
		if cfg.WhatsApp.Enabled {
			sender, err := whatsapp.NewSender(whatsapp.Config{
				APIURL: cfg.WhatsApp.GatewayURL,
				APIKey: cfg.WhatsApp.APIKey,
				From:   cfg.WhatsApp.From,
			})
			if err != nil {
				return nil, fmt.Errorf("create whatsapp sender: %w", err)
			}
			senders = append(senders, sender)
		}
	}

	limiter := ratelimit.New(cfg.RateLimitPerMinute, time.Minute, cfg.RateLimitBurst)
	retryCfg := retry.Config{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Multiplier:   cfg.Retry.Multiplier,
	}
	return notifications.NewDispatcher(repo, notifications.NewRegistry(senders...),
		limiter, retryCfg, a.logger), nil
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
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
