package queue

import (
	"context"

	"github.com/DomenicoAnzalone/cloud-job-orchestrator/shared/rabbitmq"
)

// RabbitPublisher publishes work messages through the RabbitMQ client.
type RabbitPublisher struct {
	client *rabbitmq.Client
}

// NewRabbitPublisher wraps a connected RabbitMQ client.
func NewRabbitPublisher(client *rabbitmq.Client) *RabbitPublisher {
	return &RabbitPublisher{client: client}
}

func (p *RabbitPublisher) PublishWork(ctx context.Context, msg WorkMessage) error {
	body, err := Encode(msg)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, body, "application/json")
}
