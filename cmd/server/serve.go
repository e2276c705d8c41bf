package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/shophub/storefront/internal/cart"
	"github.com/shophub/storefront/internal/catalog"
	"github.com/shophub/storefront/internal/metrics"
	"github.com/shophub/storefront/internal/order"
	"github.com/shophub/storefront/internal/review"
	"github.com/shophub/storefront/internal/shop"
	"github.com/shophub/storefront/internal/store"
)

// openStorage picks the backend from cfg: PostgreSQL (optionally behind a
// Redis cache), else Redis, else SQLite, else memory.
func openStorage(ctx context.Context, cfg config) (store.KV, func(), error) {
	var cleanup []func()
	done := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	var rdb *redis.Client
	if cfg.redisURL != "" {
		opt, err := redis.ParseURL(cfg.redisURL)
		if err != nil {
			return nil, done, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	switch {
	case cfg.databaseURL != "":
		pool, err := pgxpool.New(ctx, cfg.databaseURL)
		if err != nil {
			done()
			return nil, func() {}, fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresKV(pool)
		if err := pg.Migrate(ctx); err != nil {
			done()
			return nil, func() {}, err
		}
		slog.Info("connected to PostgreSQL")

		if rdb != nil {
			slog.Info("Redis cache enabled", "ttl", cfg.cacheTTL)
			return store.NewCachedKV(pg, rdb, cfg.cacheTTL), done, nil
		}
		return pg, done, nil

	case rdb != nil:
		slog.Info("using Redis store")
		return store.NewRedisKV(rdb, "shophub:"), done, nil

	case cfg.sqlitePath != "":
		lite, err := store.OpenSQLite(ctx, cfg.sqlitePath)
		if err != nil {
			done()
			return nil, func() {}, err
		}
		cleanup = append(cleanup, func() { lite.Close() })
		slog.Info("using SQLite store", "path", cfg.sqlitePath)
		return lite, done, nil

	default:
		slog.Warn("no storage configured, using in-memory store (data will not persist)")
		return store.NewMemoryKV(), done, nil
	}
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.LoadFile(path)
}

func loadCategories(path string) (*catalog.Categories, error) {
	if path == "" {
		return catalog.DefaultCategories()
	}
	return catalog.LoadCategoriesFile(path)
}

func newRouter(svc *shop.Service, hub *shop.WSHub, limiter *shop.RateLimiter) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"storefront"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Cart change notifications. Not rate limited or timed out:
		// the connection is long-lived.
		r.Get("/ws", hub.HandleWS)

		r.Group(func(r chi.Router) {
			if limiter != nil {
				r.Use(limiter.Middleware)
			}
			r.Use(middleware.Timeout(30 * time.Second))
			svc.Routes(r)
		})
	})
	return r
}

func serve(ctx context.Context, cfg config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv, cleanup, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	products, err := loadCatalog(cfg.catalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	categories, err := loadCategories(cfg.categories)
	if err != nil {
		return fmt.Errorf("load categories: %w", err)
	}
	slog.Info("catalog loaded", "products", len(products.All()), "categories", len(categories.All()))

	// --- WebSocket hub ---
	hub := shop.NewWSHub()
	go hub.Run(ctx)

	// --- Storefront service ---
	svc := shop.NewService(cart.NewRegistry(kv, nil), products, categories, order.NewBook(kv), review.NewBook(kv), hub)

	var limiter *shop.RateLimiter
	if cfg.rateLimit > 0 {
		limiter = shop.NewRateLimiter(ctx, cfg.rateLimit, cfg.rateBurst, 5*time.Minute)
	}

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.port,
		Handler:      newRouter(svc, hub, limiter),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("storefront listening", "port", cfg.port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	// Graceful shutdown.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down storefront...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	slog.Info("storefront stopped")
	return nil
}
