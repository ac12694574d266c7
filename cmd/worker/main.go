package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pixelpress/pixelpress/internal/audit"
	"github.com/pixelpress/pixelpress/internal/config"
	"github.com/pixelpress/pixelpress/internal/logger"
	"github.com/pixelpress/pixelpress/internal/metrics"
	"github.com/pixelpress/pixelpress/internal/queue"
	"github.com/pixelpress/pixelpress/internal/repository"
	"github.com/pixelpress/pixelpress/internal/service"
	"github.com/pixelpress/pixelpress/internal/storage"
	"github.com/pixelpress/pixelpress/internal/transform"
	"github.com/pixelpress/pixelpress/internal/worker"
)

func main() {
	// Load configuration
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

	// Initialize vision service; the pipeline skips AI cropping when disabled
	var analyzer service.Analyzer
	if cfg.Vision.Enabled {
		vision := service.NewVisionService(&service.VisionConfig{
			Enabled: true,
			Model:   cfg.Vision.Model,
			APIKey:  cfg.Vision.APIKey,
			BaseURL: cfg.Vision.BaseURL,
		})
		if vision.Available() {
			analyzer = vision
			appLog.Infof("AI analysis enabled with model %s", vision.GetModel())
		} else {
			appLog.Warn("AI analysis configured but no API key present, skipping")
		}
	}

	// Build the pipeline
	presets := transform.PresetsFromConfig(cfg.Pipeline.Presets)
	auditSink := audit.NewLogSink()
	pipeline := service.NewPipelineService(jobRepo, objectStorage, analyzer, presets, auditSink)

	// Expose Prometheus metrics
	if cfg.Worker.MetricsPort > 0 {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Worker.MetricsPort)
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			appLog.Infof("Metrics listening on %s", addr)
			if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
				appLog.Errorf("Metrics server error: %v", err)
			}
		}()
	}

	// Start the worker pool
	pool := worker.NewPool(jobQueue, jobRepo, pipeline, &cfg.Worker)
	pool.Start(ctx)

	// Wait for termination signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down worker pool")
	pool.Stop()
}
