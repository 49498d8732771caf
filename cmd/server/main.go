package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"supporterhub/internal/classifier"
	"supporterhub/internal/identity"
	"supporterhub/internal/ingestion"
	"supporterhub/internal/ingestion/consumer"
	"supporterhub/internal/jobs"
	"supporterhub/internal/merge"
	"supporterhub/internal/platform/config"
	"supporterhub/internal/platform/httpserver"
	"supporterhub/internal/platform/logger"
	"supporterhub/internal/platform/metrics"
	platformredis "supporterhub/internal/platform/redis"
	"supporterhub/internal/poll"
	"supporterhub/internal/reconcile"
	"supporterhub/internal/tagsync"
	httptransport "supporterhub/internal/transport/http"
	id "supporterhub/pkg/domain"
)

// main wires dependencies, starts the consumer, the job scheduler and the ops
// server, and shuts them down on SIGINT or SIGTERM. Business logic lives in
// the internal packages.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("supporterhub stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	m := metrics.New()

	st, dbPing, closeStore, err := openStore(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer closeStore()

	resolver, err := identity.New(st, identity.WithLogger(log))
	if err != nil {
		return err
	}
	processor, err := ingestion.New(st, st, resolver, ingestion.WithLogger(log), ingestion.WithMetrics(m))
	if err != nil {
		return err
	}
	merger, err := merge.New(st, st, st, merge.WithLogger(log), merge.WithMetrics(m))
	if err != nil {
		return err
	}

	wired, err := wireSources(cfg.Sources, log)
	if err != nil {
		return err
	}

	classifierJob, err := classifier.New(st, st, st,
		classifier.WithLogger(log), classifier.WithMetrics(m), classifier.WithConcurrency(cfg.Jobs.Concurrency))
	if err != nil {
		return err
	}
	reconcileJob, err := reconcile.New(st, processor, wired.registry.All(),
		reconcile.WithLogger(log), reconcile.WithMetrics(m))
	if err != nil {
		return err
	}
	tagsyncJob, err := tagsync.New(st, wired.audiences,
		tagsync.WithLogger(log), tagsync.WithMetrics(m), tagsync.WithConcurrency(cfg.Jobs.Concurrency))
	if err != nil {
		return err
	}
	poller, err := poll.New(st, processor, wired.polled,
		poll.WithLogger(log), poll.WithMetrics(m), poll.WithInitialLookback(cfg.Jobs.PollLookback))
	if err != nil {
		return err
	}

	redisClient, err := platformredis.New(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	var locker jobs.Locker = jobs.NewMemoryLocker()
	if redisClient != nil {
		defer redisClient.Close()
		locker = jobs.NewRedisLocker(redisClient.Client)
	} else {
		log.WarnContext(ctx, "no redis configured, job locks are process-local")
	}

	scheduler, err := jobs.New(locker, []jobs.Definition{
		{Name: classifier.JobName, Interval: cfg.Jobs.ClassifierInterval, Run: jobs.Adapt(classifierJob.Run)},
		{Name: reconcile.JobName, Interval: cfg.Jobs.ReconcileInterval, Run: jobs.Adapt(reconcileJob.Run)},
		{Name: tagsync.JobName, Interval: cfg.Jobs.TagSyncInterval, Run: jobs.Adapt(tagsyncJob.Run)},
		{Name: poll.JobName, Interval: cfg.Jobs.PollInterval, Run: jobs.Adapt(poller.Run)},
	}, jobs.WithLogger(log), jobs.WithMetrics(m), jobs.WithLockTTL(cfg.Jobs.LockTTL))
	if err != nil {
		return err
	}

	checks := []httptransport.Check{}
	if dbPing != nil {
		checks = append(checks, httptransport.Check{Name: "database", Probe: dbPing})
	}
	if redisClient != nil {
		checks = append(checks, httptransport.Check{Name: "redis", Probe: redisClient.Health})
	}

	errCh := make(chan error, 2)

	if brokers := cfg.Kafka.BrokerList(); len(brokers) > 0 {
		kc, err := newConsumer(ctx, cfg.Kafka, brokers, processor, m, log)
		if err != nil {
			return err
		}
		defer kc.Close()
		checks = append(checks, httptransport.Check{Name: "kafka", Probe: kc.Ping})
		go func() {
			if err := kc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	} else {
		log.WarnContext(ctx, "no kafka brokers configured, live ingestion disabled")
	}

	scheduler.Start(ctx)

	handler := httptransport.NewHandler(scheduler, merger, checks, log, httptransport.WithMetrics(m))
	srv := httpserver.New(ctx, cfg.Server, httptransport.NewRouter(handler, cfg.Server.AdminToken), log)
	go func() {
		log.InfoContext(ctx, "starting supporterhub ops server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	scheduler.Wait()
	return runErr
}

// newConsumer routes one inbound topic per source to the processor.
func newConsumer(ctx context.Context, cfg config.KafkaConfig, brokers []string, processor *ingestion.Processor, m *metrics.Metrics, log *slog.Logger) (*consumer.Consumer, error) {
	router := consumer.NewRouter(log)
	for _, source := range id.AllSources() {
		router.Register(cfg.TopicPrefix+source.String(), consumer.NewIngestHandler(source, processor, log))
	}
	kc, err := consumer.New(consumer.Config{
		Brokers:      brokers,
		Group:        cfg.Group,
		MaxAttempts:  cfg.MaxAttempts,
		RetryInitial: cfg.RetryInitial,
		RetryMax:     cfg.RetryMax,
		Partitions:   cfg.Partitions,
		Replication:  cfg.Replication,
	}, router, consumer.WithLogger(log), consumer.WithMetrics(m))
	if err != nil {
		return nil, err
	}
	if cfg.EnsureTopics {
		if err := kc.EnsureTopics(ctx); err != nil {
			kc.Close()
			return nil, err
		}
	}
	return kc, nil
}
