package worker

import (
	"context"
	"errors"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/job"
	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/queue"
)

// drainLoop consumes the dead-letter queue and marks stranded jobs
// failed. A message lands here only after the broker exhausted its
// delivery limit, so the job never got a final verdict from a worker.
func (w *Worker) drainLoop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer w.wg.Done()

	w.logger.Info("Dead-letter drain started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Dead-letter drain stopped - context canceled")
			return

		case <-w.stopChan:
			w.logger.Info("Dead-letter drain stopped")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("Dead-letter delivery channel closed")
				return
			}

			w.drainOne(ctx, delivery)
		}
	}
}

func (w *Worker) drainOne(ctx context.Context, delivery amqp.Delivery) {
	// Dead letters are always acknowledged; there is nowhere further for
	// them to go.
	defer func() {
		if err := delivery.Ack(false); err != nil {
			w.logger.Error("Failed to ack dead letter", slog.Any("error", err))
		}
	}()

	msg, err := queue.Decode(delivery.Body)
	if err != nil {
		w.logger.Error("Malformed dead letter, dropping",
			slog.Any("error", err),
			slog.String("body", string(delivery.Body)),
		)
		return
	}

	logger := w.logger.With(
		slog.String("job_id", msg.JobID),
		slog.String("partition_key", msg.PartitionKey),
	)

	j, err := w.processor.store.Get(ctx, msg.JobID, msg.PartitionKey)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			logger.Warn("Dead letter for unknown job, dropping")
		} else {
			logger.Error("Failed to fetch job for dead letter", slog.Any("error", err))
		}
		return
	}

	if job.IsTerminal(j.Status) {
		logger.Info("Dead-lettered job already terminal",
			slog.String("status", j.Status),
		)
		return
	}

	if j.Status == job.StatusCancelRequested {
		w.processor.finishCancel(ctx, logger, j)
		return
	}

	// queued → failed and processing → failed fast paths.
	exhausted := &job.Error{
		Message: "message exhausted its redelivery budget and was dead-lettered",
		Type:    "ExhaustedRedelivery",
	}

	_, err = w.processor.store.ConditionalUpdate(ctx, j.ID, j.PartitionKey, j.Status, func(rec *job.Job) {
		rec.Status = job.StatusFailed
		rec.OutputRef = nil
		rec.Error = exhausted
	})
	if err != nil {
		if errors.Is(err, job.ErrPreconditionFailed) {
			logger.Info("Dead-letter drain lost race, leaving record as is")
			return
		}
		logger.Error("Failed to mark dead-lettered job failed", slog.Any("error", err))
		return
	}

	logger.Warn("Dead-lettered job marked failed",
		slog.Int("attempts", j.Attempts),
	)
}
