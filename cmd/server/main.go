// Command server runs the bookmarks API edge: request admission (principal
// resolution, tiered rate limiting, identity and consent checks) in front of
// the account endpoints, plus health and metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"bookmarks/internal/platform/config"
	"bookmarks/internal/platform/logger"
)

const (
	shutdownTimeout     = 10 * time.Second
	maintenanceInterval = 30 * time.Second
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	log := logger.New(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("initializing bookmarks server",
		"addr", cfg.Server.Addr,
		"environment", cfg.Server.Environment,
	)

	app, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close(log)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           app.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		app.maintain(gctx, log, maintenanceInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

// loadConfig reads the environment, then applies command-line overrides.
func loadConfig(args []string) (config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Config{}, err
	}

	flags := pflag.NewFlagSet("server", pflag.ContinueOnError)
	addr := flags.String("addr", cfg.Server.Addr, "listen address (BOOKMARKS_ADDR)")
	routeTiers := flags.String("route-tiers", cfg.Admission.RouteTiersFile, "YAML route tier table layered over the defaults (ROUTE_TIERS_FILE)")
	logLevel := flags.String("log-level", cfg.Server.LogLevel, "debug, info, warn or error (LOG_LEVEL)")
	if err := flags.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg.Server.Addr = *addr
	cfg.Admission.RouteTiersFile = *routeTiers
	cfg.Server.LogLevel = *logLevel
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func (a *app) close(log *slog.Logger) {
	if err := a.db.Close(); err != nil {
		log.Error("close database", "error", err)
	}
	if err := a.redis.Close(); err != nil {
		log.Error("close redis", "error", err)
	}
}
