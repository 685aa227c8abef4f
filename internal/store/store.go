package store

import (
	"context"
	"time"

	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/job"
)

// Mutation edits a job record in place during a conditional update. The
// store applies it only after verifying the expected status still holds,
// and advances UpdatedAt itself.
type Mutation func(*job.Job)

// Cursor marks a position in the (created_at, job_id) ordering for
// keyset pagination.
type Cursor struct {
	CreatedAt time.Time
	JobID     string
}

// Filter narrows a List call.
type Filter struct {
	PartitionKey string
	Status       string
	JobType      string
	PageSize     int
	Cursor       *Cursor
}

// Store is the job record store. ConditionalUpdate is the single
// concurrency-control primitive: it applies the mutation only if the
// stored status still equals expectedStatus at the moment of update,
// otherwise fails with job.ErrPreconditionFailed. Whichever caller
// observes the expected prior status wins the race; everyone else
// fails cleanly. A mutation producing a status that is not a legal
// lifecycle edge from expectedStatus is rejected with job.ErrConflict
// and nothing is written.
type Store interface {
	Create(ctx context.Context, j *job.Job) error
	Get(ctx context.Context, id, partitionKey string) (*job.Job, error)
	ConditionalUpdate(ctx context.Context, id, partitionKey, expectedStatus string, mutate Mutation) (*job.Job, error)

	// UpdateProgress is a best-effort monotonic write, only applied while
	// the job is processing. Not required for correctness.
	UpdateProgress(ctx context.Context, id, partitionKey string, progress float64) error

	// List returns up to PageSize+1 jobs so callers can detect a next page.
	List(ctx context.Context, filter Filter) ([]job.Job, error)
}
