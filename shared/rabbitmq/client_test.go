package rabbitmq

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func TestPublishBackoff(t *testing.T) {
	tests := []struct {
		name       string
		base       time.Duration
		multiplier float64
		attempt    int
		want       time.Duration
	}{
		{
			name:       "first retry waits the base delay",
			base:       100 * time.Millisecond,
			multiplier: 2,
			attempt:    0,
			want:       100 * time.Millisecond,
		},
		{
			name:       "doubling multiplier",
			base:       100 * time.Millisecond,
			multiplier: 2,
			attempt:    3,
			want:       800 * time.Millisecond,
		},
		{
			name:       "gentler configured multiplier",
			base:       200 * time.Millisecond,
			multiplier: 1.5,
			attempt:    2,
			want:       450 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, publishBackoff(tt.base, tt.multiplier, tt.attempt))
		})
	}
}

func TestDeliveryCount(t *testing.T) {
	tests := []struct {
		name     string
		delivery amqp.Delivery
		want     int
	}{
		{
			name:     "first delivery has no header",
			delivery: amqp.Delivery{},
			want:     1,
		},
		{
			name: "int32 header counts prior attempts",
			delivery: amqp.Delivery{
				Headers: amqp.Table{"x-delivery-count": int32(2)},
			},
			want: 3,
		},
		{
			name: "int64 header",
			delivery: amqp.Delivery{
				Headers: amqp.Table{"x-delivery-count": int64(4)},
			},
			want: 5,
		},
		{
			name: "unexpected header type falls back to first delivery",
			delivery: amqp.Delivery{
				Headers: amqp.Table{"x-delivery-count": "2"},
			},
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeliveryCount(&tt.delivery))
		})
	}
}
