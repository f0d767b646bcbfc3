package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aretw0/eddy"
	"github.com/aretw0/eddy/internal/logging"
	"github.com/aretw0/eddy/pkg/adapters/memory"
	rediscache "github.com/aretw0/eddy/pkg/adapters/redis"
	"github.com/aretw0/eddy/pkg/codec"
	"github.com/aretw0/eddy/pkg/config"
	"github.com/aretw0/eddy/pkg/ports"
)

var rootCmd = &cobra.Command{
	Use:   "eddy",
	Short: "Eddy is an interactive pipeline exploration engine",
	Long: `Eddy materializes only the minimal sub-graph needed to answer each
request, caches intermediate results under structural fingerprints, and
replays background-captured source data across evaluations.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringArray("set", nil, "Config override as key=value (repeatable)")
	rootCmd.PersistentFlags().String("cache", "memory", "Element cache backend: memory or redis")
	rootCmd.PersistentFlags().String("redis-addr", "localhost:6379", "Redis address for --cache redis")
	rootCmd.PersistentFlags().String("redis-password", "", "Redis password for --cache redis")
	rootCmd.PersistentFlags().Int("redis-db", 0, "Redis database for --cache redis")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Address to serve Prometheus metrics on (empty disables)")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	sets, _ := cmd.Flags().GetStringArray("set")
	if len(sets) > 0 {
		overrides := make(map[string]any, len(sets))
		for _, kv := range sets {
			key, value, ok := strings.Cut(kv, "=")
			if !ok {
				return nil, fmt.Errorf("invalid --set %q, want key=value", kv)
			}
			overrides[key] = value
		}
		if err := cfg.Merge(overrides); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	name, _ := cmd.Flags().GetString("log-level")
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		level = slog.LevelInfo
	}
	return logging.New(level)
}

func newCache(cmd *cobra.Command) (ports.ElementCache, error) {
	backend, _ := cmd.Flags().GetString("cache")
	switch backend {
	case "memory":
		return memory.NewCache(codec.JSON{}), nil
	case "redis":
		addr, _ := cmd.Flags().GetString("redis-addr")
		password, _ := cmd.Flags().GetString("redis-password")
		db, _ := cmd.Flags().GetInt("redis-db")
		return rediscache.New(addr, password, db, codec.JSON{}), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q, want memory or redis", backend)
	}
}

// newSession wires a session from the root flags and, when requested, starts
// the metrics endpoint.
func newSession(cmd *cobra.Command) (*eddy.Session, *slog.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cmd)
	cache, err := newCache(cmd)
	if err != nil {
		return nil, nil, err
	}

	reg := prometheus.NewRegistry()
	sess := eddy.New(
		eddy.WithConfig(cfg),
		eddy.WithCache(cache),
		eddy.WithLogger(logger),
		eddy.WithMetricsRegisterer(reg),
	)

	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		serveMetrics(addr, reg, logger)
	}
	return sess, logger, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := http.ListenAndServe(addr, r); err != nil {
			logger.Error("metrics server stopped", "err", err)
		}
	}()
}
