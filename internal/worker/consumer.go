package worker

import (
	"context"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/queue"
	"github.com/DomenicoAnzalone/cloud-job-orchestrator/shared/rabbitmq"
)

// dispatch listens to RabbitMQ deliveries and hands decoded work items to
// the pool. Malformed messages are rejected straight to the dead-letter
// queue; they can never become valid by redelivery.
func (w *Worker) dispatch(ctx context.Context, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			msg, err := queue.Decode(delivery.Body)
			if err != nil {
				w.logger.Error("Failed to decode work message",
					slog.Any("error", err),
					slog.String("body", string(delivery.Body)),
				)
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to reject malformed message",
						slog.Any("error", nackErr),
					)
				}
				continue
			}

			item := &workItem{
				msg:           msg,
				deliveryTag:   delivery.DeliveryTag,
				deliveryCount: rabbitmq.DeliveryCount(&delivery),
			}

			select {
			case w.jobsChan <- item:
				w.logger.Debug("Work item dispatched to pool",
					slog.String("job_id", msg.JobID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				w.logger.Info("Dispatcher stopping, releasing in-flight delivery")
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to release message on shutdown",
						slog.Any("error", nackErr),
					)
				}
				return
			}
		}
	}
}
