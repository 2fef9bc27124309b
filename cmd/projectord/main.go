package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/seatwatch/projector/eventsrc"
	natsbroker "github.com/seatwatch/projector/infra/nats"
	"github.com/seatwatch/projector/infra/postgres"
	"github.com/seatwatch/projector/projection"
	"github.com/seatwatch/projector/retry"
	"github.com/seatwatch/projector/ticket"
)

type config struct {
	DSN           string        `env:"APP_DSN,required"`
	NATSURL       string        `env:"APP_NATS_URL,required"`
	EventsTopic   string        `env:"APP_EVENTS_TOPIC" envDefault:"tickets"`
	SubscriberID  string        `env:"APP_SUBSCRIBER_ID" envDefault:"projectord"`
	RetryInterval time.Duration `env:"APP_RETRY_INTERVAL" envDefault:"30s"`
	RebuildAll    bool          `env:"APP_REBUILD_ALL" envDefault:"false"`
}

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Create a context that we can cancel on shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		slog.Error("Failed to parse configuration", "error", err)
		os.Exit(1)
	}

	// Infrastructure
	db, err := postgres.NewDB(cfg.DSN)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("Database connection established")

	if err := postgres.EnsureSchema(ctx, db); err != nil {
		slog.Error("Failed to ensure database schema", "error", err)
		os.Exit(1)
	}

	broker, err := natsbroker.NewNATSBroker(cfg.NATSURL)
	if err != nil {
		slog.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer broker.Close()
	slog.Info("NATS connection established")

	eventStore := postgres.NewEventStore(db)
	checkpointStore := postgres.NewCheckpointStore(db)
	failureStore := postgres.NewFailureStore(db)
	ticketRepo := postgres.NewTicketReadModelRepository(db)

	// Projection engine
	manager := projection.NewManager(eventStore, checkpointStore, failureStore, db)
	if err := manager.Register(ctx, ticket.NewProjection(ticketRepo)); err != nil {
		slog.Error("Failed to register ticket projection", "error", err)
		os.Exit(1)
	}

	if cfg.RebuildAll {
		if err := manager.RebuildAll(ctx, 0); err != nil {
			slog.Error("Failed to rebuild projections", "error", err)
			os.Exit(1)
		}
	}

	// Live dispatch: events from the ingestion pipeline are fanned out to
	// the registered projections. Dispatch is fire-and-forget; failures
	// land in the failure log, so the message is always acked.
	handler := func(ctx context.Context, evt eventsrc.DomainEvent) error {
		manager.Project(ctx, evt)
		return nil
	}
	if err := broker.Subscribe(ctx, cfg.EventsTopic, cfg.SubscriberID, handler); err != nil {
		slog.Error("Failed to subscribe to topic", "error", err, "topic", cfg.EventsTopic)
		os.Exit(1)
	}

	// Failure retry worker
	worker := retry.NewWorker(failureStore, manager, retry.WithInterval(cfg.RetryInterval))
	worker.Start(ctx)
	defer worker.Stop()
	slog.Info("Failure retry worker started", "interval", cfg.RetryInterval.String())

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("Shutdown signal received. Exiting.")
}
