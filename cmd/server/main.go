package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maneesh/qrshare/internal/chunker"
	"github.com/maneesh/qrshare/internal/config"
	"github.com/maneesh/qrshare/internal/handlers"
	"github.com/maneesh/qrshare/internal/logging"
	"github.com/maneesh/qrshare/internal/storage"
	"github.com/maneesh/qrshare/internal/tracing"
)

func main() {
	log.Println("Starting QRShare backend...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With("service", cfg.ServiceName)

	log.Printf("Service: %s, Port: %s, Storage: %s", cfg.ServiceName, cfg.ServicePort, cfg.StorageBackend)

	shutdownTracer, err := tracing.InitTracer(cfg.ServiceName, cfg.JaegerEndpoint, cfg.TracingEnabled)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	ctx := context.Background()
	deps := handlers.Deps{
		Chunker:    chunker.NewChunker(cfg.GetChunkSizeBytes()),
		MaxUpload:  cfg.GetMaxUploadBytes(),
		SessionTTL: cfg.GetSessionTTL(),
		Logger:     logger,
	}

	switch cfg.StorageBackend {
	case config.BackendMemory:
		log.Println("Using in-memory storage; data is lost on exit")
		deps.Store = storage.NewMemoryStore()
		deps.Blobs = storage.NewMemoryBlobs()
		deps.Feed = storage.NewMemoryFeed()
		deps.Cache = storage.NoCache{}

	default:
		log.Println("Connecting to MinIO...")
		minioClient, err := storage.NewMinioClient(ctx, logger,
			cfg.MinIOEndpoint,
			cfg.MinIOAccessKey,
			cfg.MinIOSecretKey,
			cfg.MinIOBucketName,
			cfg.MinIOUseSSL,
		)
		if err != nil {
			log.Fatalf("Failed to initialize MinIO client: %v", err)
		}

		log.Println("Connecting to TiDB...")
		tidbClient, err := storage.NewTiDBClient(cfg.GetDSN())
		if err != nil {
			log.Fatalf("Failed to initialize TiDB client: %v", err)
		}
		defer tidbClient.Close()
		if err := tidbClient.RunMigrations(ctx); err != nil {
			log.Fatalf("Failed to migrate TiDB schema: %v", err)
		}

		log.Println("Connecting to Redis...")
		redisClient, err := storage.NewRedisClient(ctx, logger, cfg.GetRedisAddr(), cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("Failed to initialize Redis client: %v", err)
		}
		defer redisClient.Close()

		deps.Store = tidbClient
		deps.Blobs = minioClient
		deps.Cache = redisClient
		deps.Feed = redisClient
	}

	srv := &http.Server{
		Addr:        ":" + cfg.ServicePort,
		Handler:     handlers.NewRouter(deps),
		ReadTimeout: 5 * time.Minute,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("Server listening on port %s", cfg.ServicePort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
