package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/authemail/internal/auth"
	"github.com/BradenHooton/authemail/internal/background"
	"github.com/BradenHooton/authemail/internal/config"
	"github.com/BradenHooton/authemail/internal/database"
	"github.com/BradenHooton/authemail/internal/geoip"
	"github.com/BradenHooton/authemail/internal/handlers"
	"github.com/BradenHooton/authemail/internal/mail"
	middlewareCustom "github.com/BradenHooton/authemail/internal/middleware"
	"github.com/BradenHooton/authemail/internal/models"
	"github.com/BradenHooton/authemail/internal/repositories"
	"github.com/BradenHooton/authemail/internal/routes"
	"github.com/BradenHooton/authemail/internal/services"
	pkgauth "github.com/BradenHooton/authemail/pkg/auth"
	pkghttp "github.com/BradenHooton/authemail/pkg/http"
	pkglogger "github.com/BradenHooton/authemail/pkg/logger"
	"github.com/BradenHooton/authemail/pkg/useragent"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to apply migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize repositories
	accountRepo := repositories.NewAccountRepository(db.Pool)
	codeRepo := repositories.NewVerificationCodeRepository(db.Pool)
	auditRepo := repositories.NewAuditLogRepository(db.Pool)
	userAgentRepo := repositories.NewUserAgentRepository(db.Pool)
	txManager := services.NewPgTxManager(db, func(q database.DBTX) services.Repos {
		return services.Repos{
			Accounts: repositories.NewAccountRepository(q),
			Codes:    repositories.NewVerificationCodeRepository(q),
			Audit:    repositories.NewAuditLogRepository(q),
		}
	})

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry, accountRepo)
	auditLogger := pkglogger.NewAuditLogger(logger)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelay:   cfg.Auth.TimingDelayBase,
		RandomDelay: cfg.Auth.TimingDelayRandom,
	})

	registry, err := services.NewUserAgentRegistry(userAgentRepo, useragent.NewUAPParser(), services.DefaultFingerprintCacheSize, logger)
	if err != nil {
		logger.Error("failed to initialize user agent registry", slog.Any("error", err))
		os.Exit(1)
	}
	auditService := services.NewAuditService(auditRepo, registry, auditLogger, logger)

	codeExpiry := services.CodeExpiry{DefaultDays: cfg.Codes.ExpiryDays, KindDays: map[models.CodeKind]int{}}
	for _, kind := range models.CodeKinds {
		codeExpiry.KindDays[kind] = cfg.Codes.ExpiryDaysFor(string(kind))
	}
	codeService := services.NewVerificationCodeService(codeRepo, codeExpiry, logger)

	mailer, mailWorker, err := newMailer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize mailer", slog.Any("error", err))
		os.Exit(1)
	}

	geoTable, err := newGeoTable(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize geoip", slog.Any("error", err))
		os.Exit(1)
	}

	policy := pkgauth.DefaultPasswordPolicy()
	policy.MinLength = cfg.Auth.MinPasswordLength
	accountService := services.NewAccountService(services.AccountServiceDeps{
		Tx:          txManager,
		Accounts:    accountRepo,
		Codes:       codeService,
		Audit:       auditService,
		Tokens:      tokenManager,
		Mailer:      mailer,
		Timing:      timingDelay,
		AuditLogger: auditLogger,
		Logger:      logger,
	}, services.AccountOptions{
		EmailVerification: cfg.Auth.EmailVerification,
		StrictUserAgent:   cfg.Auth.StrictUserAgent,
		PasswordPolicy:    policy,
	})

	// Bootstrap first superuser if configured
	if cfg.Admin.Email != "" && cfg.Admin.Password != "" {
		bootCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if _, err := accountService.BootstrapSuperuser(bootCtx, cfg.Admin.Email, cfg.Admin.Password); err != nil {
			logger.Error("failed to ensure admin user", slog.Any("error", err))
		} else {
			logger.Info("admin user ensured", slog.String("email", pkglogger.SanitizedEmail(cfg.Admin.Email)))
		}
		cancel()
	}

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	accountHandler := handlers.NewAccountHandler(accountService, geoTable, ipConfig, handlers.AccountHandlerConfig{
		MinPasswordLength: cfg.Auth.MinPasswordLength,
		WorkEmailOnly:     cfg.Auth.WorkEmailOnly,
	}, logger)
	adminHandler := handlers.NewAdminHandler(accountService, geoTable, logger)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, routes.Deps{
		Accounts:       accountHandler,
		Admin:          adminHandler,
		Tokens:         tokenManager,
		Health:         db,
		LoginRateLimit: middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Auth.LoginRatePerMinute, IPConfig: ipConfig},
		EmailRateLimit: middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Auth.LoginEmailRatePerMinute, IPConfig: ipConfig},
		Logger:         logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Background workers
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	cleanupManager := background.NewCleanupManager(codeService, logger, cfg.Codes.CleanupInterval)
	go cleanupManager.Start(workerCtx)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if mailWorker != nil {
			mailWorker.Run(workerCtx)
		}
	}()

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	cleanupManager.Stop()
	workerCancel()
	<-workerDone

	logger.Info("server stopped gracefully")
}

// newMailer builds the SES mailer (or a logging mailer outside production) and,
// when a Redis URL is configured, wraps it in the queue whose worker is returned.
func newMailer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (services.Mailer, *mail.QueuedMailer, error) {
	renderer, err := services.NewTemplateRenderer(cfg.Email.LinkBaseURL)
	if err != nil {
		return nil, nil, err
	}

	var base services.Mailer
	if cfg.Server.Env == "production" {
		base, err = services.NewSESMailer(ctx, cfg.Email.AWSRegion, cfg.Email.From, cfg.Email.BCC, renderer, logger)
		if err != nil {
			return nil, nil, err
		}
	} else {
		base = services.NewLogMailer(renderer, logger)
	}

	if cfg.Email.QueueRedisURL == "" {
		return base, nil, nil
	}
	opts, err := redis.ParseURL(cfg.Email.QueueRedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse MAIL_QUEUE_REDIS_URL: %w", err)
	}
	queue := mail.NewQueuedMailer(base, redis.NewClient(opts), int64(cfg.Email.QueueMaxSize), logger)
	logger.Info("mail queue enabled", slog.Int("max_size", cfg.Email.QueueMaxSize))
	return queue, queue, nil
}

// newGeoTable prepares the lazily loaded geoip table
func newGeoTable(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*geoip.Table, error) {
	downloader, err := geoip.NewDownloader(ctx, cfg.GeoIP.DataURL, cfg.GeoIP.AWSRegion)
	if err != nil {
		return nil, err
	}
	return geoip.NewTable(&geoip.FileSource{
		Path:     cfg.GeoIP.DataPath,
		Download: downloader,
		Logger:   logger,
	}, logger), nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
