package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// config is read from the environment, then overridden by flags.
type config struct {
	port        string
	databaseURL string
	redisURL    string
	sqlitePath  string
	catalogPath string
	categories  string
	rateLimit   float64
	rateBurst   int
	cacheTTL    time.Duration
	debug       bool
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return fallback
	}
	return v
}

func newRootCmd() *cobra.Command {
	var cfg config

	root := &cobra.Command{
		Use:   "storefront",
		Short: "ShopHub storefront API: catalog, carts and orders",
		PersistentPreRun: func(*cobra.Command, []string) {
			level := slog.LevelInfo
			if cfg.debug {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
		},
		// Running without a subcommand serves.
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfg)
		},
		SilenceUsage: true,
	}

	f := root.PersistentFlags()
	f.StringVar(&cfg.port, "port", envOr("PORT", "8080"), "HTTP listen port (PORT)")
	f.StringVar(&cfg.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string (DATABASE_URL)")
	f.StringVar(&cfg.redisURL, "redis-url", os.Getenv("REDIS_URL"), "Redis URL; a cache in front of PostgreSQL, or the store itself (REDIS_URL)")
	f.StringVar(&cfg.sqlitePath, "sqlite-path", os.Getenv("SQLITE_PATH"), "SQLite database file (SQLITE_PATH)")
	f.StringVar(&cfg.catalogPath, "catalog", os.Getenv("CATALOG_PATH"), "product catalog YAML; built-in catalog when empty (CATALOG_PATH)")
	f.StringVar(&cfg.categories, "categories", os.Getenv("CATEGORIES_PATH"), "category YAML; built-in categories when empty (CATEGORIES_PATH)")
	f.Float64Var(&cfg.rateLimit, "rate-limit", envFloat("RATE_LIMIT_RPS", 20), "requests per second per client IP; 0 disables (RATE_LIMIT_RPS)")
	f.IntVar(&cfg.rateBurst, "rate-burst", 40, "rate limiter burst size")
	f.DurationVar(&cfg.cacheTTL, "cache-ttl", 30*time.Second, "Redis cache TTL when fronting PostgreSQL")
	f.BoolVar(&cfg.debug, "debug", false, "enable debug logging")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfg)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create storage tables and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			kv, cleanup, err := openStorage(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			cleanup()
			slog.Info("storage ready", "backend", fmt.Sprintf("%T", kv))
			return nil
		},
	})
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("storefront failed", "err", err)
		os.Exit(1)
	}
}
