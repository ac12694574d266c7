package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pixelpress/pixelpress/internal/api"
	"github.com/pixelpress/pixelpress/internal/audit"
	"github.com/pixelpress/pixelpress/internal/config"
	"github.com/pixelpress/pixelpress/internal/logger"
	"github.com/pixelpress/pixelpress/internal/queue"
	"github.com/pixelpress/pixelpress/internal/repository"
	"github.com/pixelpress/pixelpress/internal/service"
	"github.com/pixelpress/pixelpress/internal/storage"
)

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLog := logger.NewDefault()
	logger.SetDefaultLogger(appLog)
	defer logger.Sync()

	ctx := context.Background()

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLog.Fatalf("Failed to initialize database: %v", err)
	}

	jobRepo := repository.NewGormJobRepository(db)

	// Initialize storage
	objectStorage, err := storage.New(&cfg.Storage)
	if err != nil {
		appLog.Fatalf("Failed to initialize storage: %v", err)
	}
	if s3, ok := objectStorage.(*storage.S3Storage); ok {
		if err := s3.EnsureBucket(ctx); err != nil {
			appLog.Fatalf("Failed to ensure storage bucket: %v", err)
		}
	}

	// Initialize queue
	jobQueue, err := queue.New(ctx, &cfg.Queue, cfg.Worker.MaxAttempts)
	if err != nil {
		appLog.Fatalf("Failed to initialize queue: %v", err)
	}
	defer jobQueue.Close()

	// Initialize services
	auditSink := audit.NewLogSink()
	jobService := service.NewJobService(jobRepo, objectStorage, jobQueue, auditSink, cfg.Pipeline.MaxUploadMB<<20)

	// Setup router and HTTP server
	router := api.SetupRouter(jobService, &cfg.Server, appLog)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLog.Infof("API server listening on :%d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for termination signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Errorf("Server forced to shutdown: %v", err)
	}
}
