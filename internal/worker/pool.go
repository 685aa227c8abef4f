package worker

import (
	"context"
	"fmt"
	"log/slog"
)

// spawnPool starts the worker goroutines pulling from jobsChan.
func (w *Worker) spawnPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each pool goroutine.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Worker goroutine stopping",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Info("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case item, ok := <-w.jobsChan:
			if !ok {
				return
			}

			outcome := w.processor.Process(ctx, item.msg, item.deliveryCount)
			w.settle(item, outcome, workerName)
		}
	}
}

// settle acks or nacks the delivery according to the processing outcome.
func (w *Worker) settle(item *workItem, outcome Outcome, workerName string) {
	channel := w.rabbitClient.GetChannel()
	if channel == nil {
		w.logger.Error("No RabbitMQ channel available to settle delivery",
			slog.String("worker_name", workerName),
			slog.String("job_id", item.msg.JobID),
		)
		return
	}

	var err error
	switch outcome {
	case OutcomeAck:
		err = channel.Ack(item.deliveryTag, false)
	case OutcomeRelease:
		err = channel.Nack(item.deliveryTag, false, true)
	case OutcomeReject:
		err = channel.Nack(item.deliveryTag, false, false)
	}

	if err != nil {
		w.logger.Error("Failed to settle delivery",
			slog.String("worker_name", workerName),
			slog.String("job_id", item.msg.JobID),
			slog.Uint64("delivery_tag", item.deliveryTag),
			slog.Any("error", err),
		)
		return
	}

	w.logger.Debug("Delivery settled",
		slog.String("worker_name", workerName),
		slog.String("job_id", item.msg.JobID),
		slog.Int("outcome", int(outcome)),
	)
}
