package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/job"
	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/queue"
)

func newDrainWorker(h *processorHarness) *Worker {
	return &Worker{
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		processor: h.processor,
		workerID:  "worker-test",
	}
}

func deadLetter(t *testing.T, id string) amqp.Delivery {
	t.Helper()
	body, err := queue.Encode(workMsg(id))
	require.NoError(t, err)
	return amqp.Delivery{Body: body}
}

func TestDrainOne_MarksStrandedJobFailed(t *testing.T) {
	for _, status := range []string{job.StatusQueued, job.StatusProcessing} {
		t.Run(status, func(t *testing.T) {
			h := newProcessorHarness(t)
			w := newDrainWorker(h)
			h.seedJob(t, "job-dlq", status)

			w.drainOne(context.Background(), deadLetter(t, "job-dlq"))

			got := h.getJob(t, "job-dlq")
			assert.Equal(t, job.StatusFailed, got.Status)
			require.NotNil(t, got.Error)
			assert.Equal(t, "ExhaustedRedelivery", got.Error.Type)
			assert.Nil(t, got.OutputRef)
		})
	}
}

func TestDrainOne_TerminalJobUntouched(t *testing.T) {
	h := newProcessorHarness(t)
	w := newDrainWorker(h)
	h.seedJob(t, "job-done", job.StatusDone)

	w.drainOne(context.Background(), deadLetter(t, "job-done"))

	got := h.getJob(t, "job-done")
	assert.Equal(t, job.StatusDone, got.Status)
	assert.Nil(t, got.Error)
}

func TestDrainOne_FinishesPendingCancel(t *testing.T) {
	h := newProcessorHarness(t)
	w := newDrainWorker(h)
	h.seedJob(t, "job-cancel", job.StatusCancelRequested)

	w.drainOne(context.Background(), deadLetter(t, "job-cancel"))

	got := h.getJob(t, "job-cancel")
	assert.Equal(t, job.StatusCanceled, got.Status)
	assert.Nil(t, got.Error)
}

func TestDrainOne_UnknownJobDropped(t *testing.T) {
	h := newProcessorHarness(t)
	w := newDrainWorker(h)

	w.drainOne(context.Background(), deadLetter(t, "job-missing"))
}

func TestDrainOne_MalformedBodyDropped(t *testing.T) {
	h := newProcessorHarness(t)
	w := newDrainWorker(h)

	w.drainOne(context.Background(), amqp.Delivery{Body: []byte("not json")})
}
