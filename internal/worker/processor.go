package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/blob"
	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/job"
	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/queue"
	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/store"
	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/worker/unitofwork"
)

// Outcome tells the consumer loop what to do with the delivery.
type Outcome int

const (
	// OutcomeAck acknowledges the message: the job reached a terminal
	// state, or the delivery was absorbed as a no-op.
	OutcomeAck Outcome = iota
	// OutcomeRelease returns the message for redelivery; the record stays
	// processing for the next attempt.
	OutcomeRelease
	// OutcomeReject drops the message to the dead-letter queue without
	// requeueing (malformed or unprocessable deliveries).
	OutcomeReject
)

// Processor runs the job lifecycle state machine for one delivery.
// Every transition goes through the store's conditional update keyed on
// expected prior status; redelivered or duplicate messages are absorbed
// as no-ops rather than prevented.
type Processor struct {
	logger        *slog.Logger
	store         store.Store
	resolver      *blob.Resolver
	registry      *unitofwork.Registry
	jobTimeout    time.Duration
	maxDeliveries int
}

// ProcessorConfig holds Processor dependencies.
type ProcessorConfig struct {
	Logger        *slog.Logger
	Store         store.Store
	Resolver      *blob.Resolver
	Registry      *unitofwork.Registry
	JobTimeout    time.Duration
	MaxDeliveries int
}

// NewProcessor creates a Processor.
func NewProcessor(cfg *ProcessorConfig) *Processor {
	return &Processor{
		logger:        cfg.Logger,
		store:         cfg.Store,
		resolver:      cfg.Resolver,
		registry:      cfg.Registry,
		jobTimeout:    cfg.JobTimeout,
		maxDeliveries: cfg.MaxDeliveries,
	}
}

// Process handles one work message. deliveryCount is the broker's own
// attempt counter for this message, starting at 1.
func (p *Processor) Process(ctx context.Context, msg queue.WorkMessage, deliveryCount int) Outcome {
	logger := p.logger.With(
		slog.String("job_id", msg.JobID),
		slog.String("partition_key", msg.PartitionKey),
		slog.Int("delivery_count", deliveryCount),
	)

	j, err := p.store.Get(ctx, msg.JobID, msg.PartitionKey)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			// The message refers to a job this system never created, or
			// one already pruned. Terminal no-op, not a failure.
			logger.Warn("Work message for unknown job, discarding")
			return OutcomeAck
		}
		logger.Error("Failed to fetch job record", slog.Any("error", err))
		return OutcomeRelease
	}

	// Idempotency gate: reprocessing a terminal job must never re-run the
	// unit of work or re-stage output.
	if job.IsTerminal(j.Status) {
		logger.Info("Job already terminal, discarding redelivery",
			slog.String("status", j.Status),
		)
		return OutcomeAck
	}

	if j.Status == job.StatusCancelRequested {
		p.finishCancel(ctx, logger, j)
		return OutcomeAck
	}

	j, claimed := p.claim(ctx, logger, j)
	if !claimed {
		return OutcomeAck
	}

	unit, err := p.registry.Resolve(j.Type)
	if err != nil {
		logger.Error("No unit of work registered for job type",
			slog.String("job_type", j.Type),
		)
		p.finishFail(ctx, logger, j, &job.Error{
			Message: err.Error(),
			Type:    "UnknownJobType",
		})
		return OutcomeAck
	}

	if j.InputRef == nil {
		// Never staged by a submission; nothing to fetch, now or on any
		// redelivery.
		logger.Error("Job record has no input reference")
		p.finishFail(ctx, logger, j, &job.Error{
			Message: "job record has no staged input",
			Type:    "InputUnavailable",
		})
		return OutcomeAck
	}

	input, err := p.resolver.FetchInput(ctx, *j.InputRef)
	if err != nil {
		// Payload store hiccup: release for redelivery rather than failing
		// the job on a transient read.
		logger.Error("Failed to fetch input payload", slog.Any("error", err))
		return p.releaseOrFail(ctx, logger, j, deliveryCount, &job.Error{
			Message: err.Error(),
			Type:    "InputUnavailable",
		})
	}

	execCtx := ctx
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}

	logger.Info("Executing unit of work",
		slog.String("job_type", j.Type),
		slog.Int("attempt", j.Attempts),
	)

	result, err := unit.Execute(execCtx, unitofwork.Execution{
		JobID:        j.ID,
		PartitionKey: j.PartitionKey,
		Params:       j.Params,
		Input:        input,
		Progress:     p.progressSink(ctx, j),
	})
	if err != nil {
		logger.Error("Unit of work failed",
			slog.String("job_type", j.Type),
			slog.Int("attempt", j.Attempts),
			slog.Any("error", err),
		)
		return p.releaseOrFail(ctx, logger, j, deliveryCount, uowError(err))
	}

	outputRef, err := p.resolver.StageOutput(ctx, j.ID, j.PartitionKey, result.Output)
	if err != nil {
		logger.Error("Failed to stage output", slog.Any("error", err))
		return p.releaseOrFail(ctx, logger, j, deliveryCount, &job.Error{
			Message: err.Error(),
			Type:    "OutputStagingFailed",
		})
	}

	if len(result.Report) > 0 {
		if reportErr := p.resolver.StageReport(ctx, j.ID, j.PartitionKey, result.Report); reportErr != nil {
			logger.Warn("Failed to stage processing report", slog.Any("error", reportErr))
		}
	}

	p.finishDone(ctx, logger, j, outputRef)
	return OutcomeAck
}

// claim transitions the record into processing, incrementing attempts.
// A redelivered message arriving while a (presumed dead) prior attempt
// holds the record in processing re-claims it through the self-edge; a
// lost race on either edge is absorbed as a no-op.
func (p *Processor) claim(ctx context.Context, logger *slog.Logger, j *job.Job) (*job.Job, bool) {
	increment := func(rec *job.Job) {
		rec.Status = job.StatusProcessing
		rec.Attempts++
	}

	expected := j.Status
	if expected != job.StatusQueued && expected != job.StatusProcessing {
		return nil, false
	}

	updated, err := p.store.ConditionalUpdate(ctx, j.ID, j.PartitionKey, expected, increment)
	if err == nil {
		logger.Info("Job claimed",
			slog.String("from", expected),
			slog.Int("attempts", updated.Attempts),
		)
		return updated, true
	}

	if errors.Is(err, job.ErrPreconditionFailed) {
		// Another worker got there first, or cancellation raced us. The
		// conditional update is the tie-break: losing is a clean no-op.
		logger.Info("Lost claim race, discarding delivery")
		return nil, false
	}

	logger.Error("Failed to claim job", slog.Any("error", err))
	return nil, false
}

// releaseOrFail applies the retry rule: while the broker still has
// redeliveries left, release the message and leave the record processing;
// on the last delivery, record the failure.
func (p *Processor) releaseOrFail(ctx context.Context, logger *slog.Logger, j *job.Job, deliveryCount int, jobErr *job.Error) Outcome {
	if deliveryCount < p.maxDeliveries {
		logger.Info("Releasing message for redelivery",
			slog.Int("delivery_count", deliveryCount),
			slog.Int("max_deliveries", p.maxDeliveries),
		)
		return OutcomeRelease
	}

	logger.Warn("Redelivery budget exhausted, marking job failed",
		slog.Int("delivery_count", deliveryCount),
	)
	p.finishFail(ctx, logger, j, jobErr)
	return OutcomeAck
}

// finishDone attempts processing → done. If cancellation raced in, the
// cancelRequested → canceled edge wins instead.
func (p *Processor) finishDone(ctx context.Context, logger *slog.Logger, j *job.Job, outputRef job.PayloadRef) {
	_, err := p.store.ConditionalUpdate(ctx, j.ID, j.PartitionKey, job.StatusProcessing, func(rec *job.Job) {
		rec.Status = job.StatusDone
		rec.Progress = 1.0
		rec.OutputRef = &outputRef
		rec.Error = nil
	})
	if err == nil {
		logger.Info("Job completed",
			slog.String("output_location", outputRef.Location),
		)
		return
	}

	if errors.Is(err, job.ErrPreconditionFailed) {
		p.resolveRacedFinish(ctx, logger, j)
		return
	}

	logger.Error("Failed to record job completion", slog.Any("error", err))
}

// finishFail attempts a transition into failed from processing.
func (p *Processor) finishFail(ctx context.Context, logger *slog.Logger, j *job.Job, jobErr *job.Error) {
	_, err := p.store.ConditionalUpdate(ctx, j.ID, j.PartitionKey, job.StatusProcessing, func(rec *job.Job) {
		rec.Status = job.StatusFailed
		rec.OutputRef = nil
		rec.Error = jobErr
	})
	if err == nil {
		logger.Info("Job failed",
			slog.String("error_type", jobErr.Type),
			slog.String("error_message", jobErr.Message),
		)
		return
	}

	if errors.Is(err, job.ErrPreconditionFailed) {
		p.resolveRacedFinish(ctx, logger, j)
		return
	}

	logger.Error("Failed to record job failure", slog.Any("error", err))
}

// finishCancel completes a cooperative cancellation:
// cancelRequested → canceled.
func (p *Processor) finishCancel(ctx context.Context, logger *slog.Logger, j *job.Job) {
	_, err := p.store.ConditionalUpdate(ctx, j.ID, j.PartitionKey, job.StatusCancelRequested, func(rec *job.Job) {
		rec.Status = job.StatusCanceled
	})
	if err == nil {
		logger.Info("Job canceled")
		return
	}
	if !errors.Is(err, job.ErrPreconditionFailed) {
		logger.Error("Failed to record job cancellation", slog.Any("error", err))
	}
}

// resolveRacedFinish re-reads the record after losing a finishing CAS.
// The only live non-terminal possibility is a cancellation request that
// arrived mid-execution; honor it.
func (p *Processor) resolveRacedFinish(ctx context.Context, logger *slog.Logger, j *job.Job) {
	current, err := p.store.Get(ctx, j.ID, j.PartitionKey)
	if err != nil {
		logger.Error("Failed to re-read job after lost race", slog.Any("error", err))
		return
	}
	if current.Status == job.StatusCancelRequested {
		p.finishCancel(ctx, logger, current)
		return
	}
	logger.Info("Finishing transition lost race, treating as no-op",
		slog.String("status", current.Status),
	)
}

// progressSink returns a throttled progress reporter. Writes are
// best-effort monotonic updates; correctness never depends on them.
func (p *Processor) progressSink(ctx context.Context, j *job.Job) unitofwork.ProgressFunc {
	var last time.Time
	return func(progress float64) {
		if progress < 0 {
			progress = 0
		}
		if progress > 1 {
			progress = 1
		}
		now := time.Now()
		if progress < 1 && now.Sub(last) < 250*time.Millisecond {
			return
		}
		last = now

		if err := p.store.UpdateProgress(ctx, j.ID, j.PartitionKey, progress); err != nil {
			p.logger.Debug("Progress update dropped",
				slog.String("job_id", j.ID),
				slog.Any("error", err),
			)
		}
	}
}

func uowError(err error) *job.Error {
	var uowErr *job.UnitOfWorkError
	if errors.As(err, &uowErr) {
		return &job.Error{
			Message: uowErr.Err.Error(),
			Type:    "UnitOfWorkError",
			Step:    uowErr.Step,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &job.Error{
			Message: fmt.Sprintf("unit of work timed out: %v", err),
			Type:    "Timeout",
		}
	}
	return &job.Error{
		Message: err.Error(),
		Type:    "UnitOfWorkError",
	}
}
