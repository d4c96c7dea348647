package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"licenseops/internal/analytics"
	"licenseops/internal/caching"
	"licenseops/internal/config"
	"licenseops/internal/handlers"
	"licenseops/internal/jobs"
	"licenseops/internal/jobs/background"
	"licenseops/internal/metrics"
	"licenseops/internal/middleware"
	"licenseops/internal/repositories"
	"licenseops/internal/services"
	"licenseops/pkg/database"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const version = "1.0.0"

func main() {
	issueToken := flag.String("issue-admin-token", "", "print an admin API token for the given subject and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of a token printed by -issue-admin-token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if *issueToken != "" {
		token, err := middleware.IssueAdminToken(cfg.AdminJWTSecret, *issueToken, middleware.AdminRole, *tokenTTL)
		if err != nil {
			logger.Error("issue admin token", "error", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("licenseops stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	pool, err := database.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := repositories.NewDataStore(pool, logger)
	licenseRepo := repositories.NewLicenseRepo(store)
	usageRepo := repositories.NewUsageRepo(store)
	billingRepo := repositories.NewBillingRepo(store)
	reportRepo := repositories.NewReportRepo(store)
	notificationRepo := repositories.NewNotificationRepo(store)
	executionRepo := repositories.NewJobExecutionRepo(store)

	redisClient := caching.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
	defer redisClient.Close()
	cacheSvc := caching.NewRedisCacheService(redisClient)

	var archive services.ReportArchive
	if cfg.Minio.Enabled() {
		archive, err = services.NewMinioArchive(services.MinioConfig{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			UseSSL:    cfg.Minio.UseSSL,
			Bucket:    cfg.Minio.Bucket,
			Region:    cfg.Minio.Region,
		}, logger)
		if err != nil {
			return err
		}
		if err := archive.EnsureBucketExists(ctx); err != nil {
			logger.Warn("report archive unavailable", "bucket", cfg.Minio.Bucket, "error", err)
		}
	}

	provider, err := emailProvider(cfg)
	if err != nil {
		return err
	}
	mailer := services.NewMailer(provider, services.MailerConfig{
		From:          cfg.Email.From,
		ReplyTo:       cfg.Email.ReplyTo,
		RatePerSecond: cfg.Email.RatePerSecond,
	}, m, logger)
	if err := mailer.TestConnection(ctx); err != nil {
		logger.Warn("email provider check failed", "provider", provider.Name(), "error", err)
	}

	notifier := services.NewNotifier(services.NotifierConfig{
		InApp:           cfg.NotifyInApp,
		WebhookURL:      cfg.NotifyWebhookURL,
		SlackWebhookURL: cfg.NotifySlackWebhookURL,
	}, notificationRepo, nil, clock, m, logger)

	usage := analytics.NewUsageService(usageRepo, store, cacheSvc, clock, logger)

	settings := jobs.DefaultSettings()
	settings.GracePeriodDays = cfg.GracePeriodDays
	settings.AnomalySessionThreshold = cfg.AnomalySessionThreshold
	settings.LowUtilizationThreshold = cfg.LowUtilizationThreshold
	settings.InvoiceDueDays = cfg.InvoiceDueDays
	settings.ReportRecipients = cfg.ReportRecipients
	settings.AppBaseURL = cfg.AppBaseURL

	licenseJobs := jobs.NewLicenseJobs(jobs.Dependencies{
		Licenses:  licenseRepo,
		Usage:     usageRepo,
		Billing:   billingRepo,
		Reports:   reportRepo,
		Events:    store,
		Analytics: usage,
		Mailer:    mailer,
		Notifier:  notifier,
		Archive:   archive,
		Clock:     clock,
		Metrics:   m,
		Logger:    logger,
		Settings:  settings,
	})

	registry, err := jobs.NewRegistry(jobs.Definitions(licenseJobs))
	if err != nil {
		return fmt.Errorf("job registry: %w", err)
	}
	if cfg.JobOverridesFile != "" {
		overrides, err := config.LoadJobOverrides(cfg.JobOverridesFile)
		if err != nil {
			return err
		}
		if registry, err = registry.WithOverrides(overrides.Enabled()); err != nil {
			return fmt.Errorf("job overrides: %w", err)
		}
	}

	scheduler, err := background.NewJobScheduler(registry, executionRepo, mailer, notifier, clock, m, logger, background.Config{
		FailureThreshold: cfg.JobFailureThreshold,
		AlertRecipients:  cfg.ReportRecipients,
		Locker:           caching.NewJobLocker(redisClient, registry.Spans(), registry.LongestSpan()),
	})
	if err != nil {
		return err
	}
	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	e := newServer(cfg, reg, store, cacheSvc, archive, scheduler, executionRepo, clock)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("admin api listening", "addr", cfg.HTTPAddr, "version", version, "jobs", len(registry.Enabled()))
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-serverErr:
		logger.Error("admin api failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if serr := e.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("admin api shutdown", "error", serr)
	}
	if serr := scheduler.Stop(); serr != nil {
		logger.Warn("scheduler shutdown", "error", serr)
	}
	return err
}

func emailProvider(cfg *config.Config) (services.EmailProvider, error) {
	if cfg.Email.Provider == "api" {
		return services.NewAPIProvider(services.APIConfig{
			URL:    cfg.Email.APIURL,
			APIKey: cfg.Email.APIKey,
		}, nil), nil
	}
	return services.NewSMTPProvider(services.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.User,
		Password: cfg.SMTP.Pass,
		TLS:      cfg.SMTP.TLS,
	})
}

func newServer(
	cfg *config.Config,
	reg *prometheus.Registry,
	store *repositories.DataStore,
	cacheSvc caching.CacheService,
	archive services.ReportArchive,
	scheduler *background.JobScheduler,
	executions repositories.JobExecutionRepository,
	clock clockwork.Clock,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.RemoveTrailingSlash())
	e.Use(echoMiddleware.RequestLoggerWithConfig(echoMiddleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echoMiddleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Error != nil {
				level = slog.LevelError
			}
			slog.LogAttrs(c.Request().Context(), level, "request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("duration", v.Latency),
				slog.Any("error", v.Error),
			)
			return nil
		},
	}))

	checks := map[string]handlers.Check{
		"database": store.Ping,
		"cache":    cacheSvc.Ping,
	}
	if archive != nil {
		checks["archive"] = archive.EnsureBucketExists
	}
	health := handlers.NewHealthHandlers(checks, clock, version)
	e.GET("/health", health.LivenessCheck)
	e.GET("/health/ready", health.ReadinessCheck)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	versions := middleware.NewVersionMiddleware()
	audit := middleware.NewAuditMiddleware(store)
	v1 := versions.VersionRoute(e, "v1")
	v1.Use(middleware.AdminJWT(cfg.AdminJWTSecret), middleware.RequireAdmin(), audit.AuditAdminActions())

	jobHandlers := handlers.NewJobHandlers(scheduler, executions)
	v1.GET("/jobs", jobHandlers.ListJobs)
	v1.GET("/jobs/:name", jobHandlers.GetJob)
	v1.GET("/jobs/:name/executions", jobHandlers.ListExecutions)
	v1.POST("/jobs/:name/trigger", jobHandlers.TriggerJob)
	v1.POST("/jobs/:name/pause", jobHandlers.PauseJob)
	v1.POST("/jobs/:name/resume", jobHandlers.ResumeJob)
	v1.POST("/maintenance", jobHandlers.RunMaintenance)

	return e
}
