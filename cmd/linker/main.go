package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nyffc/contractor-linkage/internal/audit"
	"github.com/nyffc/contractor-linkage/internal/linkage/aggregate"
	"github.com/nyffc/contractor-linkage/internal/linkage/matcher"
	"github.com/nyffc/contractor-linkage/internal/linkage/similarity"
	"github.com/nyffc/contractor-linkage/internal/server/cache"
	"github.com/nyffc/contractor-linkage/internal/server/handler"
	"github.com/nyffc/contractor-linkage/internal/store"
	"github.com/nyffc/contractor-linkage/pkg/config"
	"github.com/nyffc/contractor-linkage/pkg/health"
	"github.com/nyffc/contractor-linkage/pkg/kafka"
	"github.com/nyffc/contractor-linkage/pkg/logger"
	"github.com/nyffc/contractor-linkage/pkg/metrics"
	"github.com/nyffc/contractor-linkage/pkg/middleware"
	"github.com/nyffc/contractor-linkage/pkg/postgres"
	pkgredis "github.com/nyffc/contractor-linkage/pkg/redis"
	"github.com/nyffc/contractor-linkage/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting linkage service", "port", cfg.Server.Port, "sources", len(cfg.Matching.Sources))

	if len(cfg.Matching.Sources) == 0 {
		slog.Error("no reference sources configured")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	// Postgres is only required when a source is table-backed; CSV-only
	// deployments run without it.
	var pgClient *postgres.Client
	needsPostgres := false
	for _, src := range cfg.Matching.Sources {
		if src.CSVPath == "" {
			needsPostgres = true
		}
	}
	if needsPostgres {
		err := resilience.Retry(ctx, "postgres-connect", resilience.RetryConfig{MaxAttempts: 5}, func() error {
			var connErr error
			pgClient, connErr = postgres.New(cfg.Postgres)
			return connErr
		})
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pgClient.Close()
	}

	var st *store.Store
	if pgClient != nil {
		st = store.New(pgClient)
	}

	scorer := similarity.PartialRatio{}
	defaultOpts := matcher.Options{
		Threshold:    cfg.Matching.Threshold,
		AvgThreshold: cfg.Matching.AvgThreshold,
		Blocking:     matcher.Blocking(cfg.Matching.Blocking),
	}

	sets := make([]*matcher.ReferenceSet, 0, len(cfg.Matching.Sources))
	for _, src := range cfg.Matching.Sources {
		tbl, err := store.LoadSource(ctx, st, src)
		if err != nil {
			slog.Error("failed to load reference source", "source", src.Name, "error", err)
			os.Exit(1)
		}
		rs, err := matcher.NewReferenceSet(src.Name, tbl, src.NameColumns, src.AddressCol, scorer)
		if err != nil {
			slog.Error("failed to build reference set", "source", src.Name, "error", err)
			os.Exit(1)
		}
		m.ReferenceRecords.WithLabelValues(src.Name).Set(float64(rs.Len()))
		sets = append(sets, rs)
	}

	slog.Info("precomputing merged reference space")
	agg, err := aggregate.New(ctx, sets, defaultOpts, scorer)
	if err != nil {
		slog.Error("failed to build aggregator", "error", err)
		os.Exit(1)
	}
	m.MergedGroups.Set(float64(agg.NumGroups()))

	var resolveCache *cache.ResolveCache
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, resolve caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		resolveCache = cache.New(redisClient, cfg.Redis)
		slog.Info("resolve cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	auditProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.MatchAudit)
	defer auditProducer.Close()
	collector := audit.NewCollector(auditProducer, 10000)
	collector.Start(ctx)
	defer collector.Close()

	aggregator := audit.NewAggregator()
	auditConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.MatchAudit, audit.HandleEvent(aggregator))
	go func() {
		if err := aggregator.Start(ctx, auditConsumer); err != nil {
			slog.Error("audit aggregator error", "error", err)
		}
	}()
	auditH := audit.NewHandler(aggregator)

	checker := health.NewChecker()
	checker.Register("reference_sets", func(ctx context.Context) health.ComponentHealth {
		if agg.NumGroups() > 0 {
			return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d merged groups", agg.NumGroups())}
		}
		return health.ComponentHealth{Status: health.StatusDown, Message: "no reference data"}
	})
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if pgClient == nil {
			return health.ComponentHealth{Status: health.StatusUp, Message: "not required"}
		}
		if err := pgClient.DB.PingContext(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	h := handler.New(agg, resolveCache, collector, m, defaultOpts)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/match", h.Match)
	mux.HandleFunc("POST /api/v1/resolve", h.Resolve)
	mux.HandleFunc("GET /api/v1/sources", h.Sources)
	mux.HandleFunc("GET /api/v1/sources/{source}/records", h.SourceRecords)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("GET /api/v1/stats", auditH.Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("linkage service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("linkage service stopped")
}
