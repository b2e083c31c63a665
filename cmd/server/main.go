package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"custodia/internal/archive"
	"custodia/internal/attestation"
	"custodia/internal/audit"
	"custodia/internal/custody"
	"custodia/internal/evidence"
	"custodia/internal/guard"
	"custodia/internal/guidmap"
	"custodia/internal/investigation"
	"custodia/internal/ledger"
	"custodia/internal/platform/config"
	"custodia/internal/platform/events"
	"custodia/internal/platform/httpserver"
	"custodia/internal/platform/logger"
	"custodia/internal/platform/metrics"
	platformredis "custodia/internal/platform/redis"
	"custodia/internal/rbac"
	"custodia/internal/transfer"
	httptransport "custodia/internal/transport/http"
)

// main wires the dependency graph and owns the process lifecycle. Business
// logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	if cfg.PostgresDSN != "" {
		var err error
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Error("open postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if _, err := db.ExecContext(ctx, ledger.Schema()); err != nil {
			log.Error("apply ledger schema", "error", err)
			os.Exit(1)
		}
	}

	var redisClient *platformredis.Client
	if cfg.RedisURL != "" {
		var err error
		redisClient, err = platformredis.New(cfg.RedisURL)
		if err != nil {
			log.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
	}

	var publisher events.Publisher = events.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := events.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		if err != nil {
			log.Error("connect kafka", "error", err)
			os.Exit(1)
		}
		defer kafka.Close()
		publisher = kafka
	}

	m := metrics.New()

	sides := make([]*httptransport.Side, 0, len(cfg.Ledgers))
	for _, name := range cfg.Ledgers {
		mode := ledger.Mode(name)
		if mode != ledger.ModeHot && mode != ledger.ModeCold {
			log.Error("unknown ledger variant", "ledger", name)
			os.Exit(1)
		}
		sides = append(sides, buildSide(cfg, log, mode, db, redisClient, publisher, m))
	}

	router := httptransport.NewRouter(log, cfg.JWTSigningKey, sides...)
	srv := httpserver.New(cfg.Addr, router)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("server listening", "addr", cfg.Addr, "ledgers", cfg.Ledgers)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

// buildSide assembles one ledger variant's store and service stack. Both
// variants share the postgres connection but keep disjoint key spaces.
func buildSide(cfg config.Server, log *slog.Logger, mode ledger.Mode, db *sql.DB, redisClient *platformredis.Client, publisher events.Publisher, m *metrics.Metrics) *httptransport.Side {
	var store ledger.Store
	if db != nil {
		store = ledger.NewPostgres(db, string(mode))
	} else {
		store = ledger.NewMemoryStore()
	}

	var reader attestation.ConfigReader = attestation.NewStoreReader(store)
	var invalidator attestation.Invalidator
	if redisClient != nil {
		cached := attestation.NewCachedReader(reader, redisClient, mode, time.Minute, log)
		reader = cached
		invalidator = cached
	}

	recorder := audit.NewRecorder(store, log, m)
	matrix := rbac.MatrixFor(mode)
	g := guard.New(attestation.NewGate(reader), matrix, recorder, m)

	return &httptransport.Side{
		Mode:           mode,
		Attestation:    attestation.NewService(store, recorder, invalidator, cfg.AttestationTTL),
		Investigations: investigation.NewService(store, g, publisher),
		Evidence:       evidence.NewService(store, g, publisher),
		Custody:        custody.NewService(store, g, publisher),
		GUIDs:          guidmap.NewService(store, g),
		Archive:        archive.NewService(store, g, publisher),
		Transfers:      transfer.NewService(store, g, publisher, m, log, mode),
		Audits:         audit.NewService(store, matrix, recorder),
	}
}
