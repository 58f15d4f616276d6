package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/job-supervisor/internal/api/handler"
	"github.com/cuongbtq/job-supervisor/internal/api/router"
	"github.com/cuongbtq/job-supervisor/internal/config"
	"github.com/cuongbtq/job-supervisor/internal/signalling"
	"github.com/cuongbtq/job-supervisor/internal/supervisor"
	"github.com/cuongbtq/job-supervisor/internal/supervisor/archive"
	"github.com/cuongbtq/job-supervisor/internal/supervisor/storage"
	"github.com/cuongbtq/job-supervisor/shared/logger"
	"github.com/cuongbtq/job-supervisor/shared/postgresql"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("SUPERVISOR_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/supervisor-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateServiceConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging.LoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting supervisor service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := postgresql.NewClient(ctx, cfg.Database.PostgresConfig(), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	var archiver supervisor.Archiver
	if cfg.Archive.Enabled {
		a, err := initArchiver(ctx, &cfg.Archive, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize archive: %w", err)
		}
		archiver = a
	}

	manager, err := supervisor.NewManager(&supervisor.Config{
		Logger:          appLogger.Logger,
		Dialer:          signalling.AMQPDialer(cfg.RabbitMQ.ClientConfig(), appLogger.Logger),
		Signalling:      cfg.RabbitMQ.SignallingConfig(),
		Store:           storage.NewStorage(dbClient.DB(), appLogger.Logger),
		Archiver:        archiver,
		MaxSupervisions: cfg.Supervisor.MaxSupervisions,
		PollInterval:    cfg.Supervisor.PollInterval,
		FailureLevels:   signalling.NewLevelSet(cfg.Supervisor.FailureLevels...),
		DefaultLevels:   signalling.NewLevelSet(cfg.Supervisor.DefaultLevels...),
		MaxDuration:     cfg.Supervisor.MaxDuration,
	})
	if err != nil {
		return fmt.Errorf("failed to create supervisor: %w", err)
	}

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := router.SetupRouter(&handler.Dependencies{
		Logger:      appLogger.Logger,
		Supervisor:  manager,
		Database:    dbClient,
		ServiceName: cfg.App.Name,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	appLogger.Info("Supervisor service is running",
		slog.String("address", addr),
		slog.Int("max_supervisions", cfg.Supervisor.MaxSupervisions),
		slog.Duration("poll_interval", cfg.Supervisor.PollInterval),
	)

	var serveErr error
	select {
	case <-ctx.Done():
		appLogger.Info("Received signal, shutting down gracefully")
	case serveErr = <-errChan:
		appLogger.Error("HTTP server failed", slog.Any("error", serveErr))
	}

	httpCtx, httpCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
	}

	supCtx, supCancel := context.WithTimeout(context.Background(), cfg.Supervisor.ShutdownTimeout)
	defer supCancel()
	if err := manager.Shutdown(supCtx); err != nil {
		appLogger.Warn("Supervisor shutdown timeout exceeded", slog.Any("error", err))
	}

	appLogger.Info("Supervisor service shutdown complete")
	return serveErr
}

// initArchiver creates the OpenSearch archiver and makes sure its index exists
func initArchiver(ctx context.Context, cfg *config.ArchiveConfig, logger *slog.Logger) (*archive.OpenSearchArchiver, error) {
	a, err := archive.NewOpenSearchArchiver(cfg.ArchiverConfig(), logger)
	if err != nil {
		return nil, err
	}

	if err := a.EnsureIndex(ctx); err != nil {
		return nil, err
	}
	return a, nil
}
