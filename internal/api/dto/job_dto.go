package dto

import (
	"encoding/json"
	"time"

	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/job"
)

// SubmitJobRequest is the body of POST /jobs. Params is passed through
// opaquely to the unit of work.
type SubmitJobRequest struct {
	Type   string          `json:"type" binding:"required"`
	Params json.RawMessage `json:"params"`
}

// SubmitJobResponse acknowledges an accepted submission.
type SubmitJobResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// OutputLinkResponse carries a time-limited retrieval link.
type OutputLinkResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ListJobsRequest holds the query parameters of GET /jobs.
type ListJobsRequest struct {
	Status   string `form:"status"`
	JobType  string `form:"type"`
	PageSize int    `form:"pageSize"`
	Cursor   string `form:"cursor"`
}

// ListJobsResponse is a page of job documents.
type ListJobsResponse struct {
	Jobs       []job.Job `json:"jobs"`
	NextCursor string    `json:"nextCursor,omitempty"`
}

// CancelJobResponse reports the status after a cancellation request.
type CancelJobResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
