package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/blob"
	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/queue"
	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/store"
	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/worker/unitofwork"
	"github.com/DomenicoAnzalone/cloud-job-orchestrator/shared/rabbitmq"
)

// Config holds worker engine configuration.
type Config struct {
	Logger           *slog.Logger
	Store            store.Store
	Resolver         *blob.Resolver
	RabbitClient     *rabbitmq.Client
	Registry         *unitofwork.Registry
	Concurrency      int
	PrefetchCount    int
	JobTimeout       time.Duration
	DrainDeadLetters bool
}

// workItem is a decoded delivery flowing from the dispatcher to the pool.
type workItem struct {
	msg           queue.WorkMessage
	deliveryTag   uint64
	deliveryCount int
}

// Worker is the engine consuming work messages and driving job records
// through their lifecycle. Any number of Worker instances may run
// concurrently; coordination happens entirely through the store's
// conditional updates.
type Worker struct {
	logger           *slog.Logger
	rabbitClient     *rabbitmq.Client
	processor        *Processor
	workerID         string
	concurrency      int
	prefetchCount    int
	drainDeadLetters bool
	jobsChan         chan *workItem
	wg               sync.WaitGroup
	stopChan         chan struct{}
}

// NewWorker creates a worker engine instance with a unique worker ID.
func NewWorker(cfg *Config) *Worker {
	workerID := fmt.Sprintf("worker-%s", uuid.New().String()[:8])

	processor := NewProcessor(&ProcessorConfig{
		Logger:        cfg.Logger,
		Store:         cfg.Store,
		Resolver:      cfg.Resolver,
		Registry:      cfg.Registry,
		JobTimeout:    cfg.JobTimeout,
		MaxDeliveries: cfg.RabbitClient.MaxRedeliveries(),
	})

	return &Worker{
		logger:           cfg.Logger,
		rabbitClient:     cfg.RabbitClient,
		processor:        processor,
		workerID:         workerID,
		concurrency:      cfg.Concurrency,
		prefetchCount:    cfg.PrefetchCount,
		drainDeadLetters: cfg.DrainDeadLetters,
		jobsChan:         make(chan *workItem),
		stopChan:         make(chan struct{}),
	}
}

// Start begins consuming and processing work messages. Blocks until ctx
// is canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker engine",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	deliveries, err := w.rabbitClient.Consume(w.workerID, w.prefetchCount)
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	w.spawnPool(ctx)

	if w.drainDeadLetters {
		deadLetters, err := w.rabbitClient.ConsumeDeadLetters(w.workerID + "-dlq")
		if err != nil {
			return fmt.Errorf("failed to start dead-letter consumer: %w", err)
		}
		w.wg.Add(1)
		go w.drainLoop(ctx, deadLetters)
	}

	w.dispatch(ctx, deliveries)
	return nil
}

// Stop gracefully stops the worker, waiting for in-flight jobs.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker engine",
		slog.String("worker_id", w.workerID),
	)
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker engine stopped")
}
