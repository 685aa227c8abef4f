package handler

import (
	"log/slog"
	"time"

	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/blob"
	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/queue"
	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/store"
)

// Dependencies holds everything the handlers need.
type Dependencies struct {
	Logger    *slog.Logger
	Store     store.Store
	Publisher queue.Publisher
	Resolver  *blob.Resolver
	// PartitionKey is the tenant key stamped on submissions. A single demo
	// value today, threaded explicitly so multi-tenant routing is a
	// drop-in extension.
	PartitionKey string
	// LinkTTL bounds the validity of issued retrieval links.
	LinkTTL time.Duration
}

// JobHandler serves the submission, status and cancellation endpoints.
type JobHandler struct {
	logger       *slog.Logger
	store        store.Store
	publisher    queue.Publisher
	resolver     *blob.Resolver
	partitionKey string
	linkTTL      time.Duration
}

// NewJobHandler creates a JobHandler.
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:       deps.Logger,
		store:        deps.Store,
		publisher:    deps.Publisher,
		resolver:     deps.Resolver,
		partitionKey: deps.PartitionKey,
		linkTTL:      deps.LinkTTL,
	}
}
