package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/api/dto"
	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/job"
	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/queue"
	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/store"
)

// SubmitJob handles POST /jobs.
// Creates the record, stages the input payload, publishes the work
// message, and returns 202 without waiting for processing. Create runs
// before publish; if publication fails the record stays queued and is
// redrivable out of band.
func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid submission body", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body: type is required"})
		return
	}

	now := time.Now().UTC()
	j := &job.Job{
		ID:           uuid.New().String(),
		PartitionKey: h.partitionKey,
		Type:         req.Type,
		Status:       job.StatusQueued,
		Progress:     0,
		Attempts:     0,
		Params:       string(req.Params),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// Locations are a pure function of (partitionKey, jobId), so the record
	// can carry its input reference before the payload is staged.
	inputRef := h.resolver.InputRef(j.ID, j.PartitionKey)
	j.InputRef = &inputRef

	if err := h.store.Create(c.Request.Context(), j); err != nil {
		h.logger.Error("Failed to create job record",
			slog.String("job_id", j.ID),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to create job"})
		return
	}

	if _, err := h.resolver.StageInput(c.Request.Context(), j.ID, j.PartitionKey); err != nil {
		h.logger.Error("Failed to stage input payload",
			slog.String("job_id", j.ID),
			slog.Any("error", err),
		)
		c.JSON(http.StatusBadGateway, dto.ErrorResponse{Error: "failed to stage input payload"})
		return
	}

	msg := queue.WorkMessage{
		JobID:        j.ID,
		PartitionKey: j.PartitionKey,
		Type:         j.Type,
	}
	if err := h.publisher.PublishWork(c.Request.Context(), msg); err != nil {
		// Accepted gap: the record exists but no message is in flight. The
		// job stays queued until an out-of-band redrive republishes it.
		h.logger.Error("Failed to publish work message, job left queued",
			slog.String("job_id", j.ID),
			slog.Any("error", err),
		)
		c.JSON(http.StatusBadGateway, dto.ErrorResponse{
			Error: fmt.Sprintf("job %s created but not enqueued", j.ID),
		})
		return
	}

	h.logger.Info("Job submitted",
		slog.String("job_id", j.ID),
		slog.String("job_type", j.Type),
	)

	c.Header("Location", "/jobs/"+j.ID)
	c.JSON(http.StatusAccepted, dto.SubmitJobResponse{
		JobID:  j.ID,
		Status: j.Status,
	})
}

// GetJob handles GET /jobs/:job_id.
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	j, err := h.store.Get(c.Request.Context(), jobID, h.partitionKey)
	if err != nil {
		h.renderStoreError(c, jobID, err)
		return
	}

	c.JSON(http.StatusOK, j)
}

// GetOutputLink handles GET /jobs/:job_id/output-link.
// 200 with a time-limited link when done, 409 while not done, 404 when
// the job never existed.
func (h *JobHandler) GetOutputLink(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	j, err := h.store.Get(c.Request.Context(), jobID, h.partitionKey)
	if err != nil {
		h.renderStoreError(c, jobID, err)
		return
	}

	if j.Status != job.StatusDone || j.OutputRef == nil {
		c.JSON(http.StatusConflict, dto.ErrorResponse{
			Error: fmt.Sprintf("job is %s, output available only when done", j.Status),
		})
		return
	}

	link, err := h.resolver.IssueRetrievalLink(c.Request.Context(), *j.OutputRef, h.linkTTL)
	if err != nil {
		h.logger.Error("Failed to issue retrieval link",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		c.JSON(http.StatusBadGateway, dto.ErrorResponse{Error: "failed to issue retrieval link"})
		return
	}

	c.JSON(http.StatusOK, dto.OutputLinkResponse{
		URL:       link.URL,
		ExpiresAt: link.ExpiresAt,
	})
}

// CancelJob handles POST /jobs/:job_id/cancel.
// Cancellation is cooperative: the record moves to cancelRequested and
// the worker honors it at its next state check. A job still queued may
// race straight into processing; both orders are legal.
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	j, err := h.store.Get(c.Request.Context(), jobID, h.partitionKey)
	if err != nil {
		h.renderStoreError(c, jobID, err)
		return
	}

	switch j.Status {
	case job.StatusCancelRequested, job.StatusCanceled:
		c.JSON(http.StatusAccepted, dto.CancelJobResponse{JobID: jobID, Status: j.Status})
		return
	case job.StatusDone, job.StatusFailed:
		c.JSON(http.StatusConflict, dto.ErrorResponse{
			Error: fmt.Sprintf("job already %s", j.Status),
		})
		return
	}

	requestCancel := func(rec *job.Job) {
		rec.Status = job.StatusCancelRequested
	}

	updated, err := h.store.ConditionalUpdate(c.Request.Context(), jobID, h.partitionKey, j.Status, requestCancel)
	if errors.Is(err, job.ErrPreconditionFailed) {
		// The status moved under us; one retry against the fresh status
		// covers the queued → processing race.
		current, getErr := h.store.Get(c.Request.Context(), jobID, h.partitionKey)
		if getErr != nil {
			h.renderStoreError(c, jobID, getErr)
			return
		}
		if job.IsTerminal(current.Status) {
			c.JSON(http.StatusConflict, dto.ErrorResponse{
				Error: fmt.Sprintf("job already %s", current.Status),
			})
			return
		}
		if current.Status == job.StatusCancelRequested {
			c.JSON(http.StatusAccepted, dto.CancelJobResponse{JobID: jobID, Status: current.Status})
			return
		}
		updated, err = h.store.ConditionalUpdate(c.Request.Context(), jobID, h.partitionKey, current.Status, requestCancel)
	}
	if err != nil {
		h.logger.Error("Failed to request cancellation",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: "job cannot be canceled"})
		return
	}

	h.logger.Info("Cancellation requested",
		slog.String("job_id", jobID),
	)

	c.JSON(http.StatusAccepted, dto.CancelJobResponse{JobID: jobID, Status: updated.Status})
}

// ListJobs handles GET /jobs with filters and cursor pagination.
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid query parameters"})
		return
	}

	if req.Status != "" && !job.ValidStatus(req.Status) {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid status filter"})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid cursor"})
		return
	}

	filter := store.Filter{
		PartitionKey: h.partitionKey,
		Status:       req.Status,
		JobType:      req.JobType,
		PageSize:     req.PageSize,
		Cursor:       cursor,
	}

	jobs, err := h.store.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to list jobs"})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	var nextCursor string
	if hasMore {
		last := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&store.Cursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.ID,
		})
	}

	if jobs == nil {
		jobs = []job.Job{}
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobs,
		NextCursor: nextCursor,
	})
}

// jobID validates the :job_id path parameter.
func (h *JobHandler) jobID(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "job_id must be a valid UUID"})
		return "", false
	}
	return jobID, true
}

func (h *JobHandler) renderStoreError(c *gin.Context, jobID string, err error) {
	if errors.Is(err, job.ErrNotFound) {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "job not found"})
		return
	}
	h.logger.Error("Store read failed",
		slog.String("job_id", jobID),
		slog.Any("error", err),
	)
	c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to read job"})
}
