// Command sketchd is the drawing collection server.
//
// Usage:
//
//	sketchd -config sketchd.yaml      # serve
//	sketchd -reindex                  # index PNGs copied into the partitions, then exit
//	sketchd -prepare                  # rebuild X.npy / y.npy, then exit
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/net/netutil"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/emosketch/collector"
	"github.com/hazyhaar/emosketch/dbopen"
	"github.com/hazyhaar/emosketch/shield"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", env("SKETCHD_CONFIG", ""), "path to sketchd.yaml config file")
	listen := flag.String("listen", env("SKETCHD_LISTEN", ""), "listen address (overrides config)")
	logLevel := flag.String("log-level", env("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	reindex := flag.Bool("reindex", false, "index unknown drawings and exit")
	prepare := flag.Bool("prepare", false, "build the dataset and exit")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *listen, *reindex, *prepare); err != nil {
		logger.Error("sketchd: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, listen string, reindex, prepare bool) error {
	cfg := collector.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = collector.LoadConfig(configPath); err != nil {
			return err
		}
	}
	if listen != "" {
		cfg.Listen = listen
	}

	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll(), dbopen.WithSchema(shield.Schema))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	c, err := collector.New(cfg, db, logger)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}

	// One-shot modes.
	if reindex || prepare {
		out := map[string]any{}
		if reindex {
			n, err := c.Store().Reindex(ctx)
			if err != nil {
				return fmt.Errorf("reindex: %w", err)
			}
			out["indexed"] = n
		}
		if prepare {
			res, err := c.Prepare(ctx)
			if err != nil {
				return fmt.Errorf("prepare: %w", err)
			}
			out["dataset"] = res
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if err := shield.SeedRules(ctx, db, cfg.RateLimits); err != nil {
		return fmt.Errorf("seed rate limits: %w", err)
	}
	rl := shield.NewRateLimiter(db)
	rl.StartReloader(ctx)

	go cleanupEvents(ctx, logger, c, cfg.EventRetentionDays)

	// Router.
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(rl, cfg.MaxBodyBytes()) {
		r.Use(mw)
	}
	c.Routes(r)

	if cfg.MCP {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "sketchd", Version: version}, nil)
		c.RegisterMCP(mcpSrv)
		h := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil)
		r.Handle("/mcp", h)
		r.Handle("/mcp/*", h)
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}
	if cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConns)
	}

	srv := &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("sketchd: listening", "addr", ln.Addr().String(), "data_dir", cfg.DataDir, "mcp", cfg.MCP)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("sketchd: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("sketchd: stopped")
	return nil
}

// cleanupEvents drops old business events at startup and then daily.
func cleanupEvents(ctx context.Context, logger *slog.Logger, c *collector.Collector, days int) {
	if days <= 0 {
		return
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		n, err := c.Events().Cleanup(ctx, days)
		if err != nil {
			logger.Warn("event cleanup", "error", err)
		} else if n > 0 {
			logger.Info("event cleanup", "deleted", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
