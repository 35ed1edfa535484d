package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/query-metrics/pkg/config"
	"github.com/Sternrassler/query-metrics/pkg/logging"
	"github.com/Sternrassler/query-metrics/pkg/metrics"
	"github.com/Sternrassler/query-metrics/pkg/middleware"
	"github.com/Sternrassler/query-metrics/pkg/querysource"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Item is the demo model served by /items.
type Item struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"size:64" json:"name"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "query-metrics-demo",
		Short: "Serve an instrumented demo application",
		Long: `Serve a small HTTP application whose database and redis queries are
counted per request and exported as Prometheus metrics on /metrics.

Configuration is read from QUERY_METRICS_* environment variables and an
optional config file.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.New(), configFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to a config file (yaml, json or toml)")

	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})
	logger := logging.NewLogger(logging.ComponentServer)

	db, err := openDatabase(cfg.DatabaseDSN)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		logger.Info().Str("redis_url", cfg.RedisURL).Msg("Connected to Redis")
	}

	collector := metrics.NewCollector(metrics.Registry)
	if err := collector.ExposeApplicationInfo(cfg.AppVersion, map[string]string{"service": "query-metrics-demo"}); err != nil {
		return err
	}

	opts := middleware.Options{
		Collector:               collector,
		ObserveDuplicateQueries: cfg.ObserveDuplicateQueries,
		PrintDuplicateQueries:   cfg.PrintDuplicateQueries,
		Logger:                  logging.NewLogger(logging.ComponentMiddleware),
	}

	if err := middleware.NewTaskRunner(opts).Run(ctx, "seed_items", func(ctx context.Context) error {
		return seedItems(ctx, db)
	}); err != nil {
		return fmt.Errorf("seed items: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newHandler(opts, db, rdb, prometheus.DefaultGatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.ListenAddr).
			Bool("observe_duplicate_queries", cfg.ObserveDuplicateQueries).
			Bool("print_duplicate_queries", cfg.PrintDuplicateQueries).
			Msg("Starting query metrics demo server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Use(querysource.NewGormPlugin("default", logging.NewLogger(logging.ComponentQuerySource))); err != nil {
		return nil, fmt.Errorf("install query source: %w", err)
	}
	if err := db.AutoMigrate(&Item{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	rdb.AddHook(querysource.NewRedisHook("cache", logging.NewLogger(logging.ComponentQuerySource)))
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return rdb, nil
}

func seedItems(ctx context.Context, db *gorm.DB) error {
	var n int64
	if err := db.WithContext(ctx).Model(&Item{}).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	items := []Item{{Name: "alpha"}, {Name: "beta"}, {Name: "gamma"}}
	return db.WithContext(ctx).Create(&items).Error
}

func newHandler(opts middleware.Options, db *gorm.DB, rdb *redis.Client, gatherer prometheus.Gatherer) http.Handler {
	app := http.NewServeMux()
	app.HandleFunc("GET /items", listItemsHandler(db, rdb, opts.Logger))
	app.HandleFunc("GET /items/{id}", getItemHandler(db))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/", middleware.QueryCount(opts)(app))

	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// listItemsHandler loads the item list twice, once for the count and once
// for the body, which shows up as a duplicate query.
func listItemsHandler(db *gorm.DB, rdb *redis.Client, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var items []Item
		if err := db.WithContext(ctx).Find(&items).Error; err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		total := len(items)
		if err := db.WithContext(ctx).Find(&items).Error; err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		if rdb != nil {
			if err := rdb.Incr(ctx, "demo:items:views").Err(); err != nil {
				logger.Warn().Err(err).Msg("Failed to count view")
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{"total": total, "items": items})
	}
}

func getItemHandler(db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var item Item
		err := db.WithContext(r.Context()).First(&item, "id = ?", r.PathValue("id")).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			http.Error(w, "item not found", http.StatusNotFound)
		case err != nil:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		default:
			writeJSON(w, http.StatusOK, item)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
