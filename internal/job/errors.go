package job

import "errors"

var (
	// ErrNotFound is returned when a job cannot be found in the store
	ErrNotFound = errors.New("job not found")

	// ErrAlreadyExists is returned when creating a job whose id collides
	ErrAlreadyExists = errors.New("job already exists")

	// ErrPreconditionFailed is returned when a conditional update loses the
	// race: the stored status no longer matches the expected one. Callers
	// treat this as a no-op, never as a client-visible failure.
	ErrPreconditionFailed = errors.New("job status precondition failed")

	// ErrConflict is returned when a conditional update's mutation would
	// move the record along an edge the lifecycle does not permit
	// (e.g. queued straight to done)
	ErrConflict = errors.New("operation conflicts with current job status")

	// ErrUnknownJobType is returned when no unit of work is registered
	// for the job's type
	ErrUnknownJobType = errors.New("unknown job type")
)

// UnitOfWorkError wraps a failure from the actual processing step. It is
// recorded on the job record and drives the processing → failed edge.
type UnitOfWorkError struct {
	Step string
	Err  error
}

func (e *UnitOfWorkError) Error() string {
	if e.Step != "" {
		return "unit of work failed at " + e.Step + ": " + e.Err.Error()
	}
	return "unit of work failed: " + e.Err.Error()
}

func (e *UnitOfWorkError) Unwrap() error {
	return e.Err
}

// NewUnitOfWorkError wraps err with the pipeline step that produced it.
func NewUnitOfWorkError(step string, err error) error {
	return &UnitOfWorkError{Step: step, Err: err}
}
