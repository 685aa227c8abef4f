package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/job"
)

// MemoryStore is an in-memory Store with the same conditional-update
// semantics as the Postgres implementation. Used in tests and local runs
// without a database.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*job.Job
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*job.Job),
	}
}

func key(id, partitionKey string) string {
	return partitionKey + "/" + id
}

func clone(j *job.Job) *job.Job {
	c := *j
	if j.InputRef != nil {
		ref := *j.InputRef
		c.InputRef = &ref
	}
	if j.OutputRef != nil {
		ref := *j.OutputRef
		c.OutputRef = &ref
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	return &c
}

func (s *MemoryStore) Create(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(j.ID, j.PartitionKey)
	if _, ok := s.jobs[k]; ok {
		return job.ErrAlreadyExists
	}
	s.jobs[k] = clone(j)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id, partitionKey string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[key(id, partitionKey)]
	if !ok {
		return nil, job.ErrNotFound
	}
	return clone(j), nil
}

func (s *MemoryStore) ConditionalUpdate(_ context.Context, id, partitionKey, expectedStatus string, mutate Mutation) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(id, partitionKey)
	stored, ok := s.jobs[k]
	if !ok {
		return nil, job.ErrNotFound
	}

	if stored.Status != expectedStatus {
		return nil, job.ErrPreconditionFailed
	}

	j := clone(stored)
	mutate(j)
	if !job.CanTransition(expectedStatus, j.Status) {
		return nil, job.ErrConflict
	}
	j.UpdatedAt = time.Now().UTC()
	s.jobs[k] = j

	return clone(j), nil
}

func (s *MemoryStore) UpdateProgress(_ context.Context, id, partitionKey string, progress float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[key(id, partitionKey)]
	if !ok || j.Status != job.StatusProcessing {
		return nil
	}
	if progress > j.Progress {
		j.Progress = progress
		j.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context, filter Filter) ([]job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []job.Job
	for _, j := range s.jobs {
		if filter.PartitionKey != "" && j.PartitionKey != filter.PartitionKey {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.JobType != "" && j.Type != filter.JobType {
			continue
		}
		jobs = append(jobs, *clone(j))
	}

	sort.Slice(jobs, func(i, k int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
		}
		return jobs[i].ID > jobs[k].ID
	})

	if filter.Cursor != nil {
		pos := 0
		for pos < len(jobs) {
			j := jobs[pos]
			if j.CreatedAt.Before(filter.Cursor.CreatedAt) ||
				(j.CreatedAt.Equal(filter.Cursor.CreatedAt) && j.ID < filter.Cursor.JobID) {
				break
			}
			pos++
		}
		jobs = jobs[pos:]
	}

	if filter.PageSize > 0 && len(jobs) > filter.PageSize+1 {
		jobs = jobs[:filter.PageSize+1]
	}

	return jobs, nil
}
