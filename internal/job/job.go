package job

import "time"

// Job statuses. Terminal statuses never transition again.
const (
	StatusQueued          = "queued"
	StatusProcessing      = "processing"
	StatusDone            = "done"
	StatusFailed          = "failed"
	StatusCancelRequested = "cancelRequested"
	StatusCanceled        = "canceled"
)

// PayloadRef points into the payload store.
type PayloadRef struct {
	Container string `json:"container" db:"-"`
	Location  string `json:"location" db:"-"`
}

// Error is the structured failure detail recorded on a failed job.
// Polling is the only client channel, so failures must be data.
type Error struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Step    string `json:"step,omitempty"`
}

// Job is the durable record tracking one unit of submitted work.
// OutputRef is non-nil iff status is done; Error is non-nil iff failed.
type Job struct {
	ID           string      `json:"jobId"`
	PartitionKey string      `json:"partitionKey"`
	Type         string      `json:"type"`
	Status       string      `json:"status"`
	Progress     float64     `json:"progress"`
	Attempts     int         `json:"attempts"`
	Params       string      `json:"params,omitempty"`
	InputRef     *PayloadRef `json:"inputRef"`
	OutputRef    *PayloadRef `json:"outputRef"`
	Error        *Error      `json:"error"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// legalTransitions lists every edge the state machine permits.
// queued → failed is the fast path used by the dead-letter drain.
var legalTransitions = map[string][]string{
	StatusQueued:          {StatusProcessing, StatusCancelRequested, StatusCanceled, StatusFailed},
	StatusProcessing:      {StatusProcessing, StatusDone, StatusFailed, StatusCancelRequested, StatusCanceled},
	StatusCancelRequested: {StatusCanceled},
}

// CanTransition reports whether from → to is a legal edge.
// The self-edge processing → processing covers a redelivered message
// re-claiming a record whose prior attempt is presumed dead.
func CanTransition(from, to string) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func IsTerminal(status string) bool {
	switch status {
	case StatusDone, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// ValidStatus reports whether s is one of the known statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusDone, StatusFailed,
		StatusCancelRequested, StatusCanceled:
		return true
	}
	return false
}
