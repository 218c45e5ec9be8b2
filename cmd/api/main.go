package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pchan-tw/campusauth/internal/auth"
	"github.com/pchan-tw/campusauth/internal/background"
	"github.com/pchan-tw/campusauth/internal/config"
	"github.com/pchan-tw/campusauth/internal/database"
	"github.com/pchan-tw/campusauth/internal/handlers"
	middlewareCustom "github.com/pchan-tw/campusauth/internal/middleware"
	"github.com/pchan-tw/campusauth/internal/repositories"
	"github.com/pchan-tw/campusauth/internal/routes"
	"github.com/pchan-tw/campusauth/internal/services"
	"github.com/pchan-tw/campusauth/internal/session"
	pkghttp "github.com/pchan-tw/campusauth/pkg/http"
	pkglogger "github.com/pchan-tw/campusauth/pkg/logger"
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

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	secretRepo := repositories.NewTOTPSecretRepository(db)
	magicLinkRepo := repositories.NewMagicLinkRepository(db)
	resetRepo := repositories.NewPasswordResetRepository(db)
	loginLogRepo := repositories.NewLoginLogRepository(db)

	// Initialize cleanup manager
	cleanupManager := background.NewCleanupManager(magicLinkRepo, resetRepo, logger, 1*time.Hour, 30*24*time.Hour)

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Signed session cookie codec
	codec, err := session.NewCodec([]byte(cfg.Auth.SessionSecret), cfg.Server.Env == "production")
	if err != nil {
		logger.Error("failed to initialize session codec", slog.Any("error", err))
		os.Exit(1)
	}

	// Timing delay applied to failed login attempts
	failureDelay := auth.FailureDelay{
		Base:   cfg.Auth.FailureDelayBase,
		Jitter: cfg.Auth.FailureDelayJitter,
	}

	// AWS SES email service
	emailService, err := services.NewAWSSESEmailService(
		cfg.Email.AWSRegion,
		cfg.Email.FromAddress,
		cfg.Email.BaseURL,
		logger,
	)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize services
	loginService := services.NewLoginService(userRepo, secretRepo, loginLogRepo, db, failureDelay, cfg.Auth.Issuer, logger, auditLogger)
	registrationService := services.NewRegistrationService(userRepo, magicLinkRepo, db, emailService, cfg.Auth.BindTokenTTL, cfg.Auth.LocalEmailDomain, logger, auditLogger)
	bindService := services.NewBindService(userRepo, secretRepo, magicLinkRepo, db, emailService, cfg.Auth.Issuer, cfg.Auth.BindTokenTTL, cfg.Auth.ResendCooldown, logger, auditLogger)
	passwordResetService := services.NewPasswordResetService(userRepo, resetRepo, db, emailService, cfg.Auth.ResetTokenTTL, logger, auditLogger)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{}
	authHandler := handlers.NewAuthHandler(loginService, codec, ipConfig)
	registerHandler := handlers.NewRegisterHandler(registrationService, ipConfig)
	bindHandler := handlers.NewBindHandler(bindService, ipConfig)
	passwordResetHandler := handlers.NewPasswordResetHandler(passwordResetService, ipConfig)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig()))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, authHandler, registerHandler, bindHandler, passwordResetHandler)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
