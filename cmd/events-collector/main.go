package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/events-collector/api"
	"github.com/angelmondragon/events-collector/api/controllers"
	"github.com/angelmondragon/events-collector/api/routes"
	"github.com/angelmondragon/events-collector/internal/analytics/buffer"
	"github.com/angelmondragon/events-collector/internal/analytics/deadletter"
	"github.com/angelmondragon/events-collector/internal/analytics/registry"
	"github.com/angelmondragon/events-collector/internal/analytics/validation"
	"github.com/angelmondragon/events-collector/internal/analytics/worker"
	"github.com/angelmondragon/events-collector/internal/analytics/writer"
	"github.com/angelmondragon/events-collector/pkg/bigquery"
	"github.com/angelmondragon/events-collector/pkg/clickhouse"
	"github.com/angelmondragon/events-collector/pkg/config"
	"github.com/angelmondragon/events-collector/pkg/kafka"
	"github.com/angelmondragon/events-collector/pkg/logger"
	"github.com/angelmondragon/events-collector/pkg/metrics"
	"github.com/angelmondragon/events-collector/pkg/migrate"
)

const serviceName = "events-collector"

type store interface {
	writer.TableInserter
	VerifyTables(ctx context.Context, tables []string) error
	Ping(ctx context.Context) error
	Close() error
}

type kafkaPinger struct {
	client *kgo.Client
}

func (p kafkaPinger) Ping(ctx context.Context) error {
	return kafka.Ping(ctx, p.client)
}

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: serviceName})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	ctx = logg.WithFields(ctx, map[string]any{
		"env":   cfg.App.Env,
		"store": cfg.Store.Driver,
	})

	reg, err := registry.Default()
	requireResource(ctx, logg, "event registry", err)

	st, err := openStore(ctx, cfg, logg)
	requireResource(ctx, logg, "store", err)
	defer func() {
		if err := st.Close(); err != nil {
			logg.Error(ctx, "failed to close store", err)
		}
	}()

	requireResource(ctx, logg, "destination tables", st.VerifyTables(ctx, reg.Tables()))

	storeWriter, err := writer.New(st, writer.RetryPolicy{
		MaxAttempts:    cfg.Writer.MaxAttempts,
		InitialBackoff: cfg.Writer.InitialBackoff,
		MaximumBackoff: cfg.Writer.MaximumBackoff,
	}, logg)
	requireResource(ctx, logg, "store writer", err)

	sink, err := deadletter.Open(ctx, cfg, logg)
	requireResource(ctx, logg, "dead-letter sink", err)
	defer func() {
		if err := sink.Close(); err != nil {
			logg.Error(ctx, "failed to close dead-letter sink", err)
		}
	}()

	consumer, err := kafka.NewConsumer(cfg.Kafka, logg)
	requireResource(ctx, logg, "kafka consumer", err)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	service, err := worker.NewService(worker.Options{
		Consumer:   consumer,
		Registry:   reg,
		Validator:  validation.New(),
		Inserter:   storeWriter,
		DeadLetter: sink,
		Metrics:    metrics.NewPipelineMetrics(promRegistry),
		Logger:     logg,
		Clock:      buffer.SystemClock{},
		Batch: buffer.Config{
			Size:          cfg.Batch.Size,
			FlushInterval: cfg.Batch.FlushInterval(),
		},
		PollTimeout:       cfg.Kafka.PollTimeout,
		CommitTimeout:     cfg.Kafka.CommitTimeout,
		DeadLetterTimeout: cfg.DeadLetter.PublishTimeout,
	})
	requireResource(ctx, logg, "pipeline service", err)

	router := routes.NewRouter(cfg, logg, promRegistry,
		controllers.Check{Name: "kafka", Pinger: kafkaPinger{client: consumer}},
		controllers.Check{Name: cfg.Store.Driver, Pinger: st},
	)
	opsServer := api.NewServer(cfg.App.OpsAddr, router, logg)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	logg.Info(runCtx, "events collector ready")

	g, gctx := errgroup.WithContext(runCtx)
	opsCtx, stopOps := context.WithCancel(gctx)
	defer stopOps()
	g.Go(func() error {
		// stop the ops surface once the pipeline has drained
		defer stopOps()
		return service.Run(gctx)
	})
	g.Go(func() error {
		return opsServer.Run(opsCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "events collector failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "events collector stopped")
}

func openStore(ctx context.Context, cfg *config.Config, logg *logger.Logger) (store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Store.Driver)) {
	case config.StoreDriverBigQuery:
		return bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	default:
		client, err := clickhouse.NewClient(ctx, cfg.ClickHouse, logg)
		if err != nil {
			return nil, err
		}
		if cfg.App.IsDev() && cfg.App.AutoMigrate {
			db := clickhouse.OpenDB(cfg.ClickHouse)
			defer db.Close()
			if err := migrate.MaybeRunDev(ctx, cfg, logg, db); err != nil {
				_ = client.Close()
				return nil, fmt.Errorf("dev migrations: %w", err)
			}
		}
		return client, nil
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
