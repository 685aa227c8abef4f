package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/blob"
	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/job"
	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/queue"
	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/store"
)

type fakePublisher struct {
	published []queue.WorkMessage
	err       error
}

func (f *fakePublisher) PublishWork(_ context.Context, msg queue.WorkMessage) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, msg)
	return nil
}

type handlerHarness struct {
	engine    *gin.Engine
	store     *store.MemoryStore
	payloads  *blob.MemoryStore
	resolver  *blob.Resolver
	publisher *fakePublisher
}

func newHandlerHarness(t *testing.T) *handlerHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	payloads := blob.NewMemoryStore()
	resolver := blob.NewResolver(payloads, "job-inputs", "job-outputs")
	jobs := store.NewMemoryStore()
	publisher := &fakePublisher{}

	h := NewJobHandler(&Dependencies{
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:        jobs,
		Publisher:    publisher,
		Resolver:     resolver,
		PartitionKey: "demo-user",
		LinkTTL:      15 * time.Minute,
	})

	engine := gin.New()
	engine.POST("/jobs", h.SubmitJob)
	engine.GET("/jobs", h.ListJobs)
	engine.GET("/jobs/:job_id", h.GetJob)
	engine.GET("/jobs/:job_id/output-link", h.GetOutputLink)
	engine.POST("/jobs/:job_id/cancel", h.CancelJob)

	return &handlerHarness{
		engine:    engine,
		store:     jobs,
		payloads:  payloads,
		resolver:  resolver,
		publisher: publisher,
	}
}

func (h *handlerHarness) do(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	return w
}

func (h *handlerHarness) seedJob(t *testing.T, status string, createdAt time.Time) *job.Job {
	t.Helper()

	id := uuid.New().String()
	inputRef := h.resolver.InputRef(id, "demo-user")
	j := &job.Job{
		ID:           id,
		PartitionKey: "demo-user",
		Type:         "csv_cleaning",
		Status:       status,
		InputRef:     &inputRef,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
	if status == job.StatusDone {
		outputRef := h.resolver.OutputRef(id, "demo-user")
		j.OutputRef = &outputRef
		j.Progress = 1.0
	}
	require.NoError(t, h.store.Create(context.Background(), j))
	return j
}

func TestSubmitJob(t *testing.T) {
	t.Run("accepts a submission", func(t *testing.T) {
		h := newHandlerHarness(t)

		w := h.do(t, http.MethodPost, "/jobs", `{"type":"csv_cleaning","params":{"duplicateRowsRemoval":"yes"}}`)

		require.Equal(t, http.StatusAccepted, w.Code)

		var resp struct {
			JobID  string `json:"jobId"`
			Status string `json:"status"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, job.StatusQueued, resp.Status)
		assert.Equal(t, "/jobs/"+resp.JobID, w.Header().Get("Location"))

		stored, err := h.store.Get(context.Background(), resp.JobID, "demo-user")
		require.NoError(t, err)
		assert.Equal(t, job.StatusQueued, stored.Status)
		assert.Equal(t, 0, stored.Attempts)
		assert.Equal(t, 0.0, stored.Progress)
		require.NotNil(t, stored.InputRef)
		assert.True(t, h.payloads.Exists(stored.InputRef.Container, stored.InputRef.Location))

		require.Len(t, h.publisher.published, 1)
		assert.Equal(t, resp.JobID, h.publisher.published[0].JobID)
		assert.Equal(t, "demo-user", h.publisher.published[0].PartitionKey)
		assert.Equal(t, "csv_cleaning", h.publisher.published[0].Type)
	})

	t.Run("rejects a body without type", func(t *testing.T) {
		h := newHandlerHarness(t)
		w := h.do(t, http.MethodPost, "/jobs", `{"params":{}}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("publish failure leaves the record queued", func(t *testing.T) {
		h := newHandlerHarness(t)
		h.publisher.err = errors.New("broker down")

		w := h.do(t, http.MethodPost, "/jobs", `{"type":"csv_cleaning"}`)
		assert.Equal(t, http.StatusBadGateway, w.Code)

		jobs, err := h.store.List(context.Background(), store.Filter{PartitionKey: "demo-user", PageSize: 10})
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, job.StatusQueued, jobs[0].Status)
	})
}

func TestGetJob(t *testing.T) {
	h := newHandlerHarness(t)
	j := h.seedJob(t, job.StatusProcessing, time.Now().UTC())

	t.Run("returns the record", func(t *testing.T) {
		w := h.do(t, http.MethodGet, "/jobs/"+j.ID, "")
		require.Equal(t, http.StatusOK, w.Code)

		var got job.Job
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, j.ID, got.ID)
		assert.Equal(t, job.StatusProcessing, got.Status)

		// Callers distinguish "no output yet" from "field missing".
		assert.Contains(t, w.Body.String(), `"outputRef":null`)
		assert.Contains(t, w.Body.String(), `"error":null`)
	})

	t.Run("unknown job", func(t *testing.T) {
		w := h.do(t, http.MethodGet, "/jobs/"+uuid.New().String(), "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		w := h.do(t, http.MethodGet, "/jobs/not-a-uuid", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetOutputLink(t *testing.T) {
	h := newHandlerHarness(t)

	t.Run("conflict while not done", func(t *testing.T) {
		j := h.seedJob(t, job.StatusProcessing, time.Now().UTC())
		w := h.do(t, http.MethodGet, "/jobs/"+j.ID+"/output-link", "")
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("conflict when failed", func(t *testing.T) {
		j := h.seedJob(t, job.StatusFailed, time.Now().UTC())
		w := h.do(t, http.MethodGet, "/jobs/"+j.ID+"/output-link", "")
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("link for a done job", func(t *testing.T) {
		j := h.seedJob(t, job.StatusDone, time.Now().UTC())
		w := h.do(t, http.MethodGet, "/jobs/"+j.ID+"/output-link", "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			URL       string    `json:"url"`
			ExpiresAt time.Time `json:"expiresAt"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Contains(t, resp.URL, j.ID)
		assert.True(t, resp.ExpiresAt.After(time.Now()))
	})

	t.Run("unknown job", func(t *testing.T) {
		w := h.do(t, http.MethodGet, "/jobs/"+uuid.New().String()+"/output-link", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestCancelJob(t *testing.T) {
	h := newHandlerHarness(t)

	t.Run("queued job moves to cancelRequested", func(t *testing.T) {
		j := h.seedJob(t, job.StatusQueued, time.Now().UTC())
		w := h.do(t, http.MethodPost, "/jobs/"+j.ID+"/cancel", "")
		require.Equal(t, http.StatusAccepted, w.Code)

		stored, err := h.store.Get(context.Background(), j.ID, "demo-user")
		require.NoError(t, err)
		assert.Equal(t, job.StatusCancelRequested, stored.Status)
	})

	t.Run("processing job moves to cancelRequested", func(t *testing.T) {
		j := h.seedJob(t, job.StatusProcessing, time.Now().UTC())
		w := h.do(t, http.MethodPost, "/jobs/"+j.ID+"/cancel", "")
		require.Equal(t, http.StatusAccepted, w.Code)

		stored, err := h.store.Get(context.Background(), j.ID, "demo-user")
		require.NoError(t, err)
		assert.Equal(t, job.StatusCancelRequested, stored.Status)
	})

	t.Run("repeated cancel is idempotent", func(t *testing.T) {
		j := h.seedJob(t, job.StatusCancelRequested, time.Now().UTC())
		w := h.do(t, http.MethodPost, "/jobs/"+j.ID+"/cancel", "")
		assert.Equal(t, http.StatusAccepted, w.Code)
	})

	t.Run("canceled job stays canceled", func(t *testing.T) {
		j := h.seedJob(t, job.StatusCanceled, time.Now().UTC())
		w := h.do(t, http.MethodPost, "/jobs/"+j.ID+"/cancel", "")
		assert.Equal(t, http.StatusAccepted, w.Code)
	})

	t.Run("done job cannot be canceled", func(t *testing.T) {
		j := h.seedJob(t, job.StatusDone, time.Now().UTC())
		w := h.do(t, http.MethodPost, "/jobs/"+j.ID+"/cancel", "")
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("failed job cannot be canceled", func(t *testing.T) {
		j := h.seedJob(t, job.StatusFailed, time.Now().UTC())
		w := h.do(t, http.MethodPost, "/jobs/"+j.ID+"/cancel", "")
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("unknown job", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/jobs/"+uuid.New().String()+"/cancel", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

// raceCancelStore makes the first cancellation update lose to a
// concurrent cancel request landing between the handler's read and its
// conditional update.
type raceCancelStore struct {
	store.Store
	raced bool
}

func (s *raceCancelStore) ConditionalUpdate(ctx context.Context, id, partitionKey, expectedStatus string, mutate store.Mutation) (*job.Job, error) {
	if !s.raced {
		s.raced = true
		if _, err := s.Store.ConditionalUpdate(ctx, id, partitionKey, expectedStatus, func(rec *job.Job) {
			rec.Status = job.StatusCancelRequested
		}); err != nil {
			return nil, err
		}
		return nil, job.ErrPreconditionFailed
	}
	return s.Store.ConditionalUpdate(ctx, id, partitionKey, expectedStatus, mutate)
}

func TestCancelJob_RacedCancelIsIdempotent(t *testing.T) {
	gin.SetMode(gin.TestMode)

	payloads := blob.NewMemoryStore()
	resolver := blob.NewResolver(payloads, "job-inputs", "job-outputs")
	jobs := store.NewMemoryStore()

	h := NewJobHandler(&Dependencies{
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:        &raceCancelStore{Store: jobs},
		Publisher:    &fakePublisher{},
		Resolver:     resolver,
		PartitionKey: "demo-user",
		LinkTTL:      15 * time.Minute,
	})

	engine := gin.New()
	engine.POST("/jobs/:job_id/cancel", h.CancelJob)

	id := uuid.New().String()
	inputRef := resolver.InputRef(id, "demo-user")
	now := time.Now().UTC()
	require.NoError(t, jobs.Create(context.Background(), &job.Job{
		ID:           id,
		PartitionKey: "demo-user",
		Type:         "csv_cleaning",
		Status:       job.StatusQueued,
		InputRef:     &inputRef,
		CreatedAt:    now,
		UpdatedAt:    now,
	}))

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/jobs/"+id+"/cancel", nil))

	assert.Equal(t, http.StatusAccepted, w.Code)

	stored, err := jobs.Get(context.Background(), id, "demo-user")
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelRequested, stored.Status)
}

func TestListJobs(t *testing.T) {
	h := newHandlerHarness(t)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		status := job.StatusQueued
		if i%2 == 0 {
			status = job.StatusDone
		}
		h.seedJob(t, status, base.Add(time.Duration(i)*time.Minute))
	}

	listResponse := func(t *testing.T, w *httptest.ResponseRecorder) (jobs []job.Job, next string) {
		t.Helper()
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Jobs       []job.Job `json:"jobs"`
			NextCursor string    `json:"nextCursor"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		return resp.Jobs, resp.NextCursor
	}

	t.Run("first page with cursor to the next", func(t *testing.T) {
		w := h.do(t, http.MethodGet, "/jobs?pageSize=2", "")
		jobs, next := listResponse(t, w)
		require.Len(t, jobs, 2)
		require.NotEmpty(t, next)

		w = h.do(t, http.MethodGet, "/jobs?pageSize=10&cursor="+next, "")
		rest, last := listResponse(t, w)
		assert.Len(t, rest, 3)
		assert.Empty(t, last)

		// No overlap between pages.
		seen := map[string]bool{}
		for _, j := range jobs {
			seen[j.ID] = true
		}
		for _, j := range rest {
			assert.False(t, seen[j.ID], "job %s appeared on both pages", j.ID)
		}
	})

	t.Run("status filter", func(t *testing.T) {
		w := h.do(t, http.MethodGet, "/jobs?status=done", "")
		jobs, _ := listResponse(t, w)
		assert.Len(t, jobs, 3)
		for _, j := range jobs {
			assert.Equal(t, job.StatusDone, j.Status)
		}
	})

	t.Run("invalid status filter", func(t *testing.T) {
		w := h.do(t, http.MethodGet, "/jobs?status=running", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid cursor", func(t *testing.T) {
		w := h.do(t, http.MethodGet, "/jobs?cursor=%25%25not-base64", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("empty result is an empty list", func(t *testing.T) {
		w := h.do(t, http.MethodGet, "/jobs?status=failed", "")
		jobs, next := listResponse(t, w)
		assert.NotNil(t, jobs)
		assert.Empty(t, jobs)
		assert.Empty(t, next)
	})
}

func TestCursorRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 123456789, time.UTC)
	token := EncodeJobCursor(&store.Cursor{CreatedAt: now, JobID: "job-9"})

	decoded, err := DecodeJobCursor(token)
	require.NoError(t, err)
	assert.Equal(t, now.UnixNano(), decoded.CreatedAt.UnixNano())
	assert.Equal(t, "job-9", decoded.JobID)

	t.Run("empty cursor is the first page", func(t *testing.T) {
		decoded, err := DecodeJobCursor("")
		require.NoError(t, err)
		assert.Nil(t, decoded)
	})

	t.Run("garbage cursor", func(t *testing.T) {
		_, err := DecodeJobCursor("@@@@")
		assert.Error(t, err)
	})

	t.Run("valid base64 with wrong shape", func(t *testing.T) {
		_, err := DecodeJobCursor("aGVsbG8=")
		assert.Error(t, err)
	})
}
