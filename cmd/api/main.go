package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	sourcer "github.com/zombar/imagesourcer"
	"github.com/zombar/imagesourcer/api"
	"github.com/zombar/imagesourcer/db"
	"github.com/zombar/imagesourcer/metrics"
	"github.com/zombar/imagesourcer/storage"
)

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Setup structured logging with JSON output
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("imagesourcer service initializing", "version", "1.0.0")

	// Default values
	defaultPort := getEnv("PORT", "8080")
	defaultBatchSize := getEnv("QUEUE_BATCH_SIZE", "10")
	defaultWorkers := getEnv("MAX_WORKERS", "3")

	batchSize, err := strconv.Atoi(defaultBatchSize)
	if err != nil || batchSize < 1 {
		logger.Warn("invalid QUEUE_BATCH_SIZE value, using default",
			"provided", defaultBatchSize,
			"default", 10,
		)
		batchSize = 10
	}

	maxWorkers, err := strconv.Atoi(defaultWorkers)
	if err != nil || maxWorkers < 1 {
		logger.Warn("invalid MAX_WORKERS value, using default",
			"provided", defaultWorkers,
			"default", 3,
		)
		maxWorkers = 3
	}

	// Command-line flags (override environment variables)
	port := flag.String("port", defaultPort, "Server port")
	disableCORS := flag.Bool("disable-cors", false, "Disable CORS")
	flag.Parse()

	// PostgreSQL database configuration (required)
	dbHost := getEnv("DB_HOST", "")
	if dbHost == "" {
		logger.Error("DB_HOST environment variable is required")
		os.Exit(1)
	}

	dbPort := getEnv("DB_PORT", "5432")
	dbUser := getEnv("DB_USER", "catalog")
	dbPassword := getEnv("DB_PASSWORD", "catalog_dev_pass")
	dbName := getEnv("DB_NAME", "catalog")

	dbConfig := db.Config{
		DSN: fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable", dbHost, dbPort, dbUser, dbPassword, dbName),
	}
	logger.Info("using PostgreSQL database", "host", dbHost, "port", dbPort, "database", dbName)

	// Object storage: S3-compatible when a bucket is configured, local
	// filesystem otherwise
	objects, storageKind, err := buildObjectStore()
	if err != nil {
		logger.Error("failed to initialize object storage", "error", err)
		os.Exit(1)
	}
	logger.Info("object storage initialized", "backend", storageKind)

	sourcerConfig := sourcer.DefaultConfig()
	sourcerConfig.QueueBatchSize = batchSize
	sourcerConfig.MaxWorkers = maxWorkers

	config := api.Config{
		Addr:          ":" + *port,
		DBConfig:      dbConfig,
		SourcerConfig: sourcerConfig,
		CORSEnabled:   !*disableCORS,
	}

	server, err := api.NewServer(config, objects)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	// Periodic gauge updates: connection pool stats and queue depth
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			metrics.UpdateDBStats(server.DB().DB())
			server.UpdateQueueMetrics(context.Background())
		}
	}()
	logger.Info("metrics updater initialized")

	// Start server in a goroutine
	go func() {
		logger.Info("imagesourcer service starting",
			"port", *port,
			"database_host", dbHost,
			"database_name", dbName,
			"storage_backend", storageKind,
			"queue_batch_size", batchSize,
			"max_workers", maxWorkers,
		)

		if err := server.Start(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	logger.Info("shutting down gracefully")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// buildObjectStore selects the storage backend from the environment
func buildObjectStore() (storage.ObjectStore, string, error) {
	bucket := getEnv("S3_BUCKET", "")
	if bucket == "" {
		localConfig := storage.Config{
			BasePath:      getEnv("STORAGE_BASE_PATH", "./storage"),
			PublicBaseURL: getEnv("STORAGE_PUBLIC_URL", "http://localhost:8080/static"),
		}
		local, err := storage.New(localConfig)
		if err != nil {
			return nil, "", err
		}
		return local, "local", nil
	}

	s3Config := storage.S3Config{
		Endpoint:        getEnv("S3_ENDPOINT", ""),
		Region:          getEnv("S3_REGION", "us-east-1"),
		Bucket:          bucket,
		AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		UsePathStyle:    getEnv("S3_USE_PATH_STYLE", "") == "true",
		PublicBaseURL:   getEnv("S3_PUBLIC_URL", ""),
	}
	s3Store, err := storage.NewS3Storage(context.Background(), s3Config)
	if err != nil {
		return nil, "", err
	}
	return s3Store, "s3", nil
}
