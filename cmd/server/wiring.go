package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bookmarks/internal/admission/degrade"
	admission "bookmarks/internal/admission/middleware"
	"bookmarks/internal/admission/principal"
	"bookmarks/internal/admission/tier"
	identitycache "bookmarks/internal/identity/cache"
	identitymetrics "bookmarks/internal/identity/metrics"
	identityservice "bookmarks/internal/identity/service"
	identitystore "bookmarks/internal/identity/store"
	"bookmarks/internal/platform/config"
	"bookmarks/internal/platform/database"
	"bookmarks/internal/platform/health"
	"bookmarks/internal/platform/metrics"
	"bookmarks/internal/platform/redis"
	"bookmarks/internal/platform/tracer"
	rlconfig "bookmarks/internal/ratelimit/config"
	rlmetrics "bookmarks/internal/ratelimit/metrics"
	rlmodels "bookmarks/internal/ratelimit/models"
	ratelimit "bookmarks/internal/ratelimit/service"
	"bookmarks/internal/ratelimit/store/counter"
	httptransport "bookmarks/internal/transport/http"
	"bookmarks/migrations"
	"bookmarks/pkg/platform/middleware/request"
)

// app holds the long-lived resources main owns.
type app struct {
	router   http.Handler
	db       *database.Pool
	redis    *redis.Client
	counters *counter.RedisStore
}

func build(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	redisClient, err := redis.New(ctx, cfg.Redis, reg)
	if redisClient == nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	if err != nil {
		log.Warn("redis unavailable at startup, admission will fail open until it recovers", "error", err)
	}

	db, err := database.New(ctx, database.DefaultConfig(cfg.Database.URL))
	if err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := migrate(ctx, db, log); err != nil {
			return nil, closeAll(db, redisClient, err)
		}
	}
	reg.MustRegister(collectors.NewDBStatsCollector(db.DB(), "bookmarks"))

	policy := degrade.New(
		degrade.WithLogger(log),
		degrade.WithMetrics(degrade.NewMetrics(reg)),
	)
	otel := tracer.NewOTel("bookmarks")

	counters, err := counter.NewRedisStore(redisClient,
		counter.WithTimeout(cfg.Identity.StoreTimeout),
		counter.WithLogger(log),
	)
	if err != nil {
		return nil, closeAll(db, redisClient, fmt.Errorf("counter store: %w", err))
	}
	if _, err := counters.EnsureScript(ctx); err != nil {
		log.Warn("rate limit script not loaded", "error", err)
	}
	limiter, err := ratelimit.New(counters, policy,
		ratelimit.WithConfig(limiterConfig(cfg)),
		ratelimit.WithLogger(log),
		ratelimit.WithMetrics(rlmetrics.New(reg)),
		ratelimit.WithTracer(otel),
	)
	if err != nil {
		return nil, closeAll(db, redisClient, fmt.Errorf("limiter: %w", err))
	}

	cache, err := identitycache.NewRedis(redisClient, policy,
		identitycache.WithTimeout(cfg.Identity.StoreTimeout),
		identitycache.WithLogger(log),
	)
	if err != nil {
		return nil, closeAll(db, redisClient, fmt.Errorf("identity cache: %w", err))
	}
	users, err := identitystore.NewPostgres(db.DB(), cache, identitystore.WithTokenPrefix(cfg.Auth.PATPrefix))
	if err != nil {
		return nil, closeAll(db, redisClient, fmt.Errorf("user store: %w", err))
	}
	identity, err := identityservice.New(cache, users,
		identityservice.WithTTL(cfg.Identity.CacheTTL),
		identityservice.WithFetchTimeout(cfg.Identity.FetchTimeout),
		identityservice.WithLogger(log),
		identityservice.WithMetrics(identitymetrics.New(reg)),
		identityservice.WithTracer(otel),
	)
	if err != nil {
		return nil, closeAll(db, redisClient, fmt.Errorf("identity service: %w", err))
	}

	resolver, err := principal.New(principal.Config{
		SigningKey: cfg.Auth.JWTSigningKey,
		Issuer:     cfg.Auth.JWTIssuer,
		Audience:   cfg.Auth.JWTAudience,
		PATPrefix:  cfg.Auth.PATPrefix,
	}, principal.WithTokenVerifier(users))
	if err != nil {
		return nil, closeAll(db, redisClient, fmt.Errorf("principal resolver: %w", err))
	}

	tiers, err := loadTiers(cfg.Admission.RouteTiersFile)
	if err != nil {
		return nil, closeAll(db, redisClient, err)
	}
	log.Info("route tiers loaded", "routes", tiers.Len(), "file", cfg.Admission.RouteTiersFile)

	appMetrics := metrics.New(reg)
	gate, err := admission.New(resolver, tiers, limiter, identity,
		admission.WithConfig(admission.Config{
			RequiredConsentVersion:     cfg.Admission.RequiredConsentVersion,
			AllowProgrammaticSensitive: cfg.Admission.AllowProgrammaticSensitive,
		}),
		admission.WithLogger(log),
		admission.WithMetrics(appMetrics),
	)
	if err != nil {
		return nil, closeAll(db, redisClient, fmt.Errorf("admission: %w", err))
	}

	healthHandler := health.New(cfg.Server.Environment)
	healthHandler.RegisterCheck("database", db.Health)
	healthHandler.RegisterOptionalCheck("redis", "connected", "unavailable", redisClient.Health)

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Logger:    log,
		Latency:   request.NewMetrics(reg),
		Health:    healthHandler,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Admission: gate.Handler,
		Account:   httptransport.NewAccountHandler(users, log, appMetrics),
	})

	return &app{
		router:   router,
		db:       db,
		redis:    redisClient,
		counters: counters,
	}, nil
}

// maintain reloads the counter script after Redis restarts and samples pool
// statistics until ctx is done.
func (a *app) maintain(ctx context.Context, log *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.redis.RecordPoolStats()
			loaded, err := a.counters.EnsureScript(ctx)
			if err != nil {
				log.Debug("rate limit script check failed", "error", err)
				continue
			}
			if loaded {
				log.Info("rate limit script reloaded")
			}
		}
	}
}

func limiterConfig(cfg config.Config) *rlconfig.Config {
	return &rlconfig.Config{
		Limits: map[rlmodels.Tier]rlconfig.Limit{
			rlmodels.TierGeneral:   {Short: cfg.Limits.GeneralShort, Long: cfg.Limits.GeneralLong},
			rlmodels.TierSensitive: {Short: cfg.Limits.SensitiveShort, Long: cfg.Limits.SensitiveLong},
		},
		ShortWindow:  cfg.Limits.ShortWindow,
		LongWindow:   cfg.Limits.LongWindow,
		StoreTimeout: cfg.Identity.StoreTimeout,
	}
}

func migrate(ctx context.Context, db *database.Pool, log *slog.Logger) error {
	files, err := migrations.Up()
	if err != nil {
		return err
	}
	applied, err := database.Migrate(ctx, db.DB(), files)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info("database migrations checked", "applied", applied, "known", len(files))
	return nil
}

func loadTiers(path string) (*tier.Table, error) {
	if path == "" {
		return tier.Default(), nil
	}
	t, err := tier.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("route tiers: %w", err)
	}
	return t, nil
}

func closeAll(db *database.Pool, rc *redis.Client, err error) error {
	_ = db.Close()
	_ = rc.Close()
	return err
}
