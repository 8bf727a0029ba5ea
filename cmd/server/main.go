// Command server wires the registration intake pipeline: the relational
// store, the search index, the biometric engine client and the HTTP surface.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"intake/internal/admin"
	"intake/internal/biometric"
	biometricmetrics "intake/internal/biometric/metrics"
	pairstore "intake/internal/biometric/store"
	areastore "intake/internal/businessarea/store"
	"intake/internal/deduplication"
	"intake/internal/deduplication/engine"
	dedupmetrics "intake/internal/deduplication/metrics"
	"intake/internal/events"
	ticketstore "intake/internal/grievance/store"
	"intake/internal/merge"
	mergemetrics "intake/internal/merge/metrics"
	"intake/internal/photos"
	"intake/internal/platform/config"
	"intake/internal/platform/httpserver"
	"intake/internal/platform/logger"
	platformredis "intake/internal/platform/redis"
	householdstore "intake/internal/registration/store/household"
	individualstore "intake/internal/registration/store/individual"
	programstore "intake/internal/registration/store/program"
	rdistore "intake/internal/registration/store/rdi"
	"intake/internal/screening"
	"intake/internal/searchindex"
	httptransport "intake/internal/transport/http"
	"intake/pkg/platform/tx"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
	if err != nil {
		log.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}
	if redisClient == nil {
		log.Error("redis is required for biometric run leases")
		os.Exit(1)
	}
	defer redisClient.Close()

	index, err := searchindex.NewElastic(
		cfg.Search.Addresses, cfg.Search.Username, cfg.Search.Password, cfg.Search.IndexName)
	if err != nil {
		log.Error("connect search index", "error", err)
		os.Exit(1)
	}

	photoStore, err := photos.NewMinio(cfg.Photos)
	if err != nil {
		log.Error("connect photo store", "error", err)
		os.Exit(1)
	}

	var publisher events.Publisher = events.Noop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := events.NewKafka(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		if err != nil {
			log.Error("connect kafka", "error", err)
			os.Exit(1)
		}
		defer kafka.Close()
		publisher = kafka
	}

	individuals := individualstore.NewPostgres(pool)
	imports := rdistore.NewPostgres(pool)
	households := householdstore.NewPostgres(pool)
	programs := programstore.NewPostgres(pool)
	areas := areastore.NewPostgres(pool)
	tickets := ticketstore.NewPostgres(pool)
	pairs := pairstore.NewPostgres(pool)
	runner := tx.NewPgxRunner(pool)

	eng := engine.New(index)
	dedupService := deduplication.NewService(
		eng, index, individuals, imports, areas, log,
		deduplication.WithMetrics(dedupmetrics.New()),
		deduplication.WithPublisher(publisher),
	)

	biometricService := biometric.NewService(
		biometric.NewClient(cfg.Biometric),
		programs, imports, individuals, areas, pairs, photoStore,
		biometric.NewRedisLeaser(redisClient.Client), log,
		biometric.WithMetrics(biometricmetrics.New()),
		biometric.WithPublisher(publisher),
		biometric.WithNotificationBaseURL(cfg.Biometric.NotificationBaseURL),
	)
	poller := biometric.NewPoller(biometricService, imports, cfg.Biometric.PollInterval, log)

	mergeService := merge.NewService(
		runner, imports, individuals, households, programs, areas, tickets, pairs, index, eng, log,
		merge.WithMetrics(mergemetrics.New()),
		merge.WithPublisher(publisher),
		merge.WithScreener(screening.Noop{}),
		merge.WithDeduplicator(dedupService),
	)

	adminService := admin.NewService(
		runner, imports, individuals, households, tickets, pairs, index, log)

	handler := httptransport.NewHandler(
		dedupService, mergeService, biometricService, adminService,
		cfg.Server.WebhookSecret,
		map[string]httptransport.HealthChecker{
			"postgres": pool.Ping,
			"redis":    redisClient.Health,
		},
		log,
	)
	srv := httpserver.New(cfg.Server.Addr, httptransport.NewRouter(handler))

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		poller.Run(ctx)
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("shutdown", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
