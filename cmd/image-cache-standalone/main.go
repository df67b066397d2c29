package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
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

// Standalone server for quick testing: in-memory cache and record stores
// plus filesystem object storage (./dev-data). No external services needed.
func main() {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	storageDir := os.Getenv("STORAGE_DIR")
	if storageDir == "" {
		storageDir = "./dev-data"
	}

	log.Printf("Image Cache Standalone Server")
	log.Printf("  Mode: %s (embedded stores, storage dir: %s)", cfg.Mode, storageDir)
	log.Printf("  HTTP address: %s", cfg.HTTPAddr)

	cacheStore := cache.NewMemoryStore()
	records := record.NewMemoryGateway()

	objects, err := objectstore.NewFilesystemStore(storageDir, cfg.MinioBucket)
	if err != nil {
		log.Fatalf("Failed to create filesystem store: %v", err)
	}

	engine := transform.NewEngine()
	pipeline := processor.NewPipeline(engine, objects, records, cacheStore, cfg.CacheTTL, cfg.SignedURLTTL)

	dispatcher := dispatch.NewDispatcher(pipeline, cfg.Workers, cfg.QueueSize)
	dispatcher.Start()
	defer dispatcher.Stop()

	orchestrator := facade.NewOrchestrator(cacheStore, records, objects, engine, pipeline, dispatcher, &cfg)

	r := chi.NewRouter()
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)

	imageHandler := handlers.NewImageHandler(orchestrator, cfg.MaxUploadBytes)
	imageHandler.Register(r)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
			"mode":   "standalone",
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		log.Printf("✓ Standalone server ready on %s", cfg.HTTPAddr)
		log.Printf("")
		log.Printf("Quick test:")
		log.Printf("  curl -F file=@photo.jpg -F x=0 -F y=0 -F w=100 -F h=100 http://localhost%s/v1/images", cfg.HTTPAddr)
		log.Printf("")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
