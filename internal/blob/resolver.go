package blob

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/job"
)

const (
	inputFilename  = "source.csv"
	outputFilename = "result.csv"
	reportFilename = "report.json"
)

// placeholderPayload stands in for a real upload; the submission path
// stages it so the worker always finds an input at the derived location.
var placeholderPayload = []byte("name,age,city\nAlice,30,Rome\nBob,,Milan\nAlice,30,Rome\n")

// Resolver computes payload locations as a pure function of
// (partitionKey, jobId). Retries therefore always land on the same paths.
type Resolver struct {
	store           PayloadStore
	inputContainer  string
	outputContainer string
}

// NewResolver creates a Resolver writing inputs and outputs to the given
// containers.
func NewResolver(store PayloadStore, inputContainer, outputContainer string) *Resolver {
	return &Resolver{
		store:           store,
		inputContainer:  inputContainer,
		outputContainer: outputContainer,
	}
}

// InputRef derives the input payload reference for a job. Deterministic:
// same job, same path, always.
func (r *Resolver) InputRef(jobID, partitionKey string) job.PayloadRef {
	return job.PayloadRef{
		Container: r.inputContainer,
		Location:  fmt.Sprintf("%s/%s/%s", partitionKey, jobID, inputFilename),
	}
}

// OutputRef derives the output payload reference for a job.
func (r *Resolver) OutputRef(jobID, partitionKey string) job.PayloadRef {
	return job.PayloadRef{
		Container: r.outputContainer,
		Location:  fmt.Sprintf("%s/%s/%s", partitionKey, jobID, outputFilename),
	}
}

// ReportRef derives the location of the cleaning report written next to
// the result.
func (r *Resolver) ReportRef(jobID, partitionKey string) job.PayloadRef {
	return job.PayloadRef{
		Container: r.outputContainer,
		Location:  fmt.Sprintf("%s/%s/%s", partitionKey, jobID, reportFilename),
	}
}

// StageInput writes the placeholder input payload and returns its reference.
func (r *Resolver) StageInput(ctx context.Context, jobID, partitionKey string) (job.PayloadRef, error) {
	ref := r.InputRef(jobID, partitionKey)
	if err := r.store.Put(ctx, ref.Container, ref.Location, bytes.NewReader(placeholderPayload), "text/csv"); err != nil {
		return job.PayloadRef{}, fmt.Errorf("failed to stage input: %w", err)
	}
	return ref, nil
}

// FetchInput reads the staged input payload for a job.
func (r *Resolver) FetchInput(ctx context.Context, ref job.PayloadRef) ([]byte, error) {
	return r.store.Get(ctx, ref.Container, ref.Location)
}

// StageOutput writes the unit-of-work result and returns its reference.
func (r *Resolver) StageOutput(ctx context.Context, jobID, partitionKey string, result []byte) (job.PayloadRef, error) {
	ref := r.OutputRef(jobID, partitionKey)
	if err := r.store.Put(ctx, ref.Container, ref.Location, bytes.NewReader(result), "text/csv"); err != nil {
		return job.PayloadRef{}, fmt.Errorf("failed to stage output: %w", err)
	}
	return ref, nil
}

// StageReport writes the processing report next to the result. Best-effort
// companion artifact, not part of the job's correctness contract.
func (r *Resolver) StageReport(ctx context.Context, jobID, partitionKey string, report []byte) error {
	ref := r.ReportRef(jobID, partitionKey)
	if err := r.store.Put(ctx, ref.Container, ref.Location, bytes.NewReader(report), "application/json"); err != nil {
		return fmt.Errorf("failed to stage report: %w", err)
	}
	return nil
}

// IssueRetrievalLink returns a pre-authorized read URL for ref, valid for
// ttl from now.
func (r *Resolver) IssueRetrievalLink(ctx context.Context, ref job.PayloadRef, ttl time.Duration) (*RetrievalLink, error) {
	url, err := r.store.Presign(ctx, ref.Container, ref.Location, ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to issue retrieval link: %w", err)
	}
	return &RetrievalLink{
		URL:       url,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}, nil
}
