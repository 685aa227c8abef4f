package unitofwork

import (
	"context"
	"fmt"

	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/job"
)

// ProgressFunc reports fractional completion in [0.0, 1.0]. Calls are
// best-effort; implementations must not fail the job when reporting fails.
type ProgressFunc func(progress float64)

// Execution carries everything a unit of work needs: job identity, the
// staged input payload, raw parameters, and a progress sink.
type Execution struct {
	JobID        string
	PartitionKey string
	Params       string
	Input        []byte
	Progress     ProgressFunc
}

// Result is what a unit of work produces. Report is an optional companion
// artifact stored next to the output.
type Result struct {
	Output []byte
	Report []byte
}

// UnitOfWork is the pluggable processing step executed for a job type.
// Swapping implementations never touches the worker's state machine.
type UnitOfWork interface {
	Execute(ctx context.Context, exec Execution) (*Result, error)
}

// Registry maps job types to their unit of work.
type Registry struct {
	units map[string]UnitOfWork
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{units: make(map[string]UnitOfWork)}
}

// Register binds a job type to a unit of work. Re-registering a type
// replaces the previous binding.
func (r *Registry) Register(jobType string, u UnitOfWork) {
	r.units[jobType] = u
}

// Resolve returns the unit of work for a job type.
func (r *Registry) Resolve(jobType string) (UnitOfWork, error) {
	u, ok := r.units[jobType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", job.ErrUnknownJobType, jobType)
	}
	return u, nil
}

// Types returns the registered job types.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.units))
	for t := range r.units {
		types = append(types, t)
	}
	return types
}
