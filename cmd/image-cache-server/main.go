package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tendant/simple-image-cache/internal/cache"
	"github.com/tendant/simple-image-cache/internal/config"
	"github.com/tendant/simple-image-cache/internal/dispatch"
	"github.com/tendant/simple-image-cache/internal/facade"
	"github.com/tendant/simple-image-cache/internal/handlers"
	"github.com/tendant/simple-image-cache/internal/objectstore"
	"github.com/tendant/simple-image-cache/internal/processor"
	"github.com/tendant/simple-image-cache/internal/record"
	"github.com/tendant/simple-image-cache/internal/transform"
)

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.RedisURL == "" {
		log.Fatalf("REDIS_URL is required")
	}
	if cfg.DatabaseURL == "" {
		log.Fatalf("DATABASE_URL is required")
	}
	if cfg.MinioEndpoint == "" {
		log.Fatalf("MINIO_ENDPOINT is required")
	}

	log.Printf("Image Cache Server")
	log.Printf("  Mode: %s (dedup: %s)", cfg.Mode, cfg.DedupMode)
	log.Printf("  HTTP address: %s", cfg.HTTPAddr)
	log.Printf("  Cache TTL: %v, lock TTL: %v", cfg.CacheTTL, cfg.LockTTL)

	ctx := context.Background()

	// Durable record store
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatalf("Failed to set goose dialect: %v", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Printf("✓ Database ready")

	// Cache and lock store
	cacheStore, err := cache.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to create redis store: %v", err)
	}
	defer cacheStore.Close()

	if err := cacheStore.Ping(ctx); err != nil {
		log.Fatalf("Failed to ping redis: %v", err)
	}
	log.Printf("✓ Cache store ready")

	// Object store
	objects, err := objectstore.NewMinioStore(ctx, objectstore.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		log.Fatalf("Failed to create object store: %v", err)
	}
	log.Printf("✓ Object store ready (bucket: %s)", objects.Bucket())

	records := record.NewPostgresGateway(db)
	engine := transform.NewEngine()

	pipeline := processor.NewPipeline(engine, objects, records, cacheStore, cfg.CacheTTL, cfg.SignedURLTTL)

	dispatcher := dispatch.NewDispatcher(pipeline, cfg.Workers, cfg.QueueSize)
	dispatcher.Start()
	defer dispatcher.Stop()

	orchestrator := facade.NewOrchestrator(cacheStore, records, objects, engine, pipeline, dispatcher, &cfg)

	// HTTP server
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)

	imageHandler := handlers.NewImageHandler(orchestrator, cfg.MaxUploadBytes)
	imageHandler.Register(r)

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		log.Printf("✓ Image cache server ready on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// handleHealth returns health status
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}
