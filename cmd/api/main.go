package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"

	"offer-attribution/internal/cache"
	"offer-attribution/internal/config"
	"offer-attribution/internal/database"
	"offer-attribution/internal/events"
	"offer-attribution/internal/features"
	"offer-attribution/internal/handler"
	"offer-attribution/internal/logging"
	"offer-attribution/internal/middleware"
	"offer-attribution/internal/service"
	"offer-attribution/internal/tracing"
)

func main() {
	configFile := flag.String("config", "", "Path to JSON config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := logging.Setup(cfg.Logging); err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize tracing
	tracer := tracing.Noop()
	if cfg.Tracing.Enabled {
		tracer, err = tracing.InitTracing(ctx, cfg.Tracing)
		if err != nil {
			log.Fatalf("Failed to initialize tracing: %v", err)
		}
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Failed to flush traces")
		}
	}()

	// Initialize database
	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	runCache := newCache(ctx, cfg.Cache)
	defer runCache.Close()

	featureManager := features.NewManagerFromConfig(cfg.Features)
	eventManager := events.NewManager(cfg.Features.EventHooksEnabled)
	defer eventManager.Shutdown()

	svc := service.NewService(service.Options{
		Store:    db,
		Cache:    runCache,
		CacheTTL: time.Duration(cfg.Cache.TTL) * time.Second,
		Events:   eventManager,
		Features: featureManager,
		Tracer:   tracer,
	})

	h := handler.NewHandlerWithOptions(svc, handler.NewHandlerOptions{
		MaxBodySize: cfg.Security.MaxRequestBodySize,
	})

	// Setup router
	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(log.StandardLogger()))
	r.Use(chimw.Recoverer)

	if cfg.RateLimit.Enabled {
		rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Rate, time.Duration(cfg.RateLimit.Window)*time.Second)
		defer rateLimiter.Stop()
		r.Use(middleware.RateLimitMiddleware(rateLimiter))
	}

	r.Use(middleware.TracingMiddleware(tracer.Provider()))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg.Security.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Routes
	h.Routes(r)
	r.Get("/health", h.Health)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.WithFields(log.Fields{
		"addr":     addr,
		"database": cfg.Database.Path,
		"features": featureManager.All(),
	}).Info("Starting HTTP server")

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	case <-ctx.Done():
		log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Error closing server")
		}
	}
}

// newCache connects to Redis when an address is configured and falls back
// to an in-process cache otherwise.
func newCache(ctx context.Context, cfg config.CacheConfig) cache.Cache {
	if cfg.RedisAddr == "" {
		log.Info("No Redis address configured, using in-memory cache")
		return cache.NewInMemoryCache()
	}

	redisCache, err := cache.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.WithError(err).WithField("addr", cfg.RedisAddr).Warn("Redis unavailable, using in-memory cache")
		return cache.NewInMemoryCache()
	}
	return redisCache
}

func allowedOrigins(value string) []string {
	var origins []string
	for _, origin := range strings.Split(value, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
