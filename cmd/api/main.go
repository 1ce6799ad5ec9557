package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/TrickeySolutions/aggregator-demo/actor"
	"github.com/TrickeySolutions/aggregator-demo/activity"
	"github.com/TrickeySolutions/aggregator-demo/auth"
	"github.com/TrickeySolutions/aggregator-demo/config"
	"github.com/TrickeySolutions/aggregator-demo/customer"
	"github.com/TrickeySolutions/aggregator-demo/db"
	"github.com/TrickeySolutions/aggregator-demo/httpapi"
	"github.com/TrickeySolutions/aggregator-demo/partner"
	"github.com/TrickeySolutions/aggregator-demo/queue"
	"github.com/TrickeySolutions/aggregator-demo/storage"
	"github.com/TrickeySolutions/aggregator-demo/textgen"
	"github.com/TrickeySolutions/aggregator-demo/turnstile"
	"github.com/TrickeySolutions/aggregator-demo/workflow"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("aggregator: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	engine := actor.NewEngine()
	hub := activity.NewHub()

	var sampler textgen.Generator
	if cfg.TextGenURL != "" {
		sampler = textgen.NewClient(cfg.TextGenURL, cfg.TextGenAPIKey)
	}

	activities := activity.NewService(engine, store, hub,
		turnstile.NewClient(cfg.TurnstileSecretKey), nil, sampler,
		cfg.ActivityTimeout, logger.Named("activity"))
	customers := customer.NewService(engine, store, activities, logger.Named("customer"))
	partners := partner.NewService(engine, store, sampler,
		cfg.PartnerMinLatency, cfg.PartnerMaxLatency, logger.Named("partner"))

	publisher, wireConsumers, closeQueue, err := buildQueue(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeQueue()

	quotes := workflow.NewQuoteOrchestrator(activities, partners, logger.Named("quote"))
	submissions := workflow.NewSubmissionOrchestrator(activities, quotes, publisher, logger.Named("submission"))
	activities.SetDispatcher(workflow.NewDispatcher(submissions, publisher, logger.Named("dispatch")))
	if err := wireConsumers(submissions.HandleSubmission, quotes.HandleQuote); err != nil {
		return err
	}

	sweeper, err := activity.NewSweeper(activities, cfg.SweepInterval, logger.Named("sweep"))
	if err != nil {
		return fmt.Errorf("build sweeper: %w", err)
	}
	if err := sweeper.Start(ctx); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}

	api := httpapi.NewServer(customers, activities, partners,
		auth.NewService(cfg.JWTSecret), logger.Named("http"))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: api.Handler(),
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sweeper.Stop(shutdownCtx)
	return srv.Shutdown(shutdownCtx)
}

func buildStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("no DATABASE_URL set, state is in-memory only")
		return storage.NewMemStore(), func() {}, nil
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	store, err := storage.NewPGStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("prepare store: %w", err)
	}
	return store, pool.Close, nil
}

// wireConsumersFunc registers the queue consumers once the orchestrators
// exist; the queue must be built before the orchestrators because they
// publish through it.
type wireConsumersFunc func(queue.SubmissionHandler, queue.PartnerQuoteHandler) error

func buildQueue(ctx context.Context, cfg config.Config, logger *zap.Logger) (queue.Publisher, wireConsumersFunc, func(), error) {
	if cfg.NatsURL == "" {
		logger.Warn("no NATS_URL set, using in-process queue")
		q := queue.NewMemQueue(logger.Named("queue"))
		wire := func(sub queue.SubmissionHandler, pq queue.PartnerQuoteHandler) error {
			q.ConsumeSubmissions(sub)
			q.ConsumePartnerQuotes(pq)
			return nil
		}
		return q, wire, q.Close, nil
	}

	nc, err := nats.Connect(cfg.NatsURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	q, err := queue.NewJetStreamQueue(ctx, nc, logger.Named("queue"))
	if err != nil {
		nc.Close()
		return nil, nil, nil, fmt.Errorf("prepare jetstream: %w", err)
	}
	wire := func(sub queue.SubmissionHandler, pq queue.PartnerQuoteHandler) error {
		if err := q.ConsumeSubmissions(ctx, sub); err != nil {
			return fmt.Errorf("consume submissions: %w", err)
		}
		if err := q.ConsumePartnerQuotes(ctx, pq); err != nil {
			return fmt.Errorf("consume partner quotes: %w", err)
		}
		return nil
	}
	closer := func() {
		q.Close()
		nc.Close()
	}
	return q, wire, closer, nil
}
