package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/visitor-analytics-go/internal/config"
	"github.com/openclaw/visitor-analytics-go/internal/database"
	"github.com/openclaw/visitor-analytics-go/internal/handler"
	"github.com/openclaw/visitor-analytics-go/internal/jobs"
	"github.com/openclaw/visitor-analytics-go/internal/middleware"
	"github.com/openclaw/visitor-analytics-go/internal/redis"
	"github.com/openclaw/visitor-analytics-go/internal/repository"
	"github.com/openclaw/visitor-analytics-go/internal/service"
	"github.com/openclaw/visitor-analytics-go/internal/sse"
	"github.com/openclaw/visitor-analytics-go/internal/warehouse"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to read .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	if cfg.AutoMigrate {
		if err := db.Migrate(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
	}

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	visitorRepo := repository.NewVisitorSessionRepository(db.DB)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	var (
		exporter    service.DwellExporter = warehouse.NoopExporter{}
		statsReader service.StatsReader
	)
	if cfg.WarehouseEnabled() {
		chConn, err := warehouse.Open(context.Background(), warehouse.Options{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUsername,
			Password: cfg.ClickHousePassword,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to clickhouse")
		}
		defer chConn.Close()

		if err := warehouse.EnsureSchema(context.Background(), chConn); err != nil {
			log.Fatal().Err(err).Msg("failed to prepare clickhouse schema")
		}

		store := warehouse.NewStore(chConn)
		dwellExporter := warehouse.NewExporter(
			store, cfg.ExportBatchSize, cfg.ExportFlushInterval(), warehouse.DefaultQueueSize, nil,
		)
		dwellExporter.Start()
		defer func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
			defer closeCancel()
			if err := dwellExporter.Close(closeCtx); err != nil {
				log.Error().Err(err).Msg("dwell exporter did not drain")
			}
		}()

		exporter = dwellExporter
		statsReader = store
	} else {
		log.Info().Msg("clickhouse not configured, warehouse export disabled")
	}

	visitorService := service.NewVisitorService(visitorRepo, broker, exporter, cfg.SessionIDMaxAttempts)
	adminService := service.NewAdminService(
		cfg.AdminPasswordHash, cfg.AdminJWTSecret, cfg.AdminTokenTTL(),
		service.NewRedisTokenRevocations(redisClient.Client), statsReader, nil,
	)
	if !adminService.Enabled() {
		log.Warn().Msg("ADMIN_PASSWORD_HASH or ADMIN_JWT_SECRET not set, admin routes disabled")
	}

	rateLimiter := service.NewRateLimiter(redisClient.Client, nil)
	ingestRateLimitMiddleware := middleware.NewIPRateLimitMiddleware(
		rateLimiter, cfg.IngestRateLimitPerMin, config.IngestRateLimitWindow, "ingest", true,
	)
	adminAuthMiddleware := middleware.NewAdminAuthMiddleware(adminService)
	loginRateLimiter := middleware.NewLoginRateLimiter(config.AdminLoginMaxAttempts, config.AdminLoginWindow, nil)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)
	corsMiddleware := middleware.NewCORS(cfg.AllowedOrigins)

	visitorHandler := handler.NewVisitorHandler(
		visitorService, ingestRateLimitMiddleware.Handler, adminAuthMiddleware.Handler,
	)
	eventsHandler := handler.NewEventsHandler(broker)
	adminHandler := handler.NewAdminHandler(
		adminService, adminAuthMiddleware.Handler, loginRateLimiter.Handler, eventsHandler,
	)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(bodyLimitMiddleware.Handler)
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Use(corsMiddleware)
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Mount("/", visitorHandler.Routes())
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(corsMiddleware)
		r.Mount("/", adminHandler.Routes())
	})

	var retentionJob *jobs.RetentionJob
	if retention := cfg.SessionRetention(); retention > 0 {
		retentionJob = jobs.NewRetentionJob(visitorRepo, retention, config.RetentionJobInterval, nil)
		retentionJob.Start()
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	if retentionJob != nil {
		retentionJob.Stop()
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
