// Package memory provides an in-memory implementation of the storage
// interfaces, used for tests and database-less runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"reportpipe/internal/core/domain"
	"reportpipe/internal/infra/storage"
)

// Store holds jobs and cost events in process memory. Per-job serialization
// is provided by a mutex per job entry, mirroring the row lock the postgres
// implementation takes.
type Store struct {
	mu     sync.RWMutex
	jobs   map[string]*jobEntry
	events map[string][]*domain.CostEvent
}

type jobEntry struct {
	mu  sync.Mutex
	job domain.Job
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		jobs:   make(map[string]*jobEntry),
		events: make(map[string][]*domain.CostEvent),
	}
}

// -----------------------------------------------------------------------------
// Job Repository
// -----------------------------------------------------------------------------

// JobRepo implements storage.JobRepository in memory.
type JobRepo struct {
	store *Store
}

// NewJobRepo creates a new in-memory job repository.
func NewJobRepo(store *Store) *JobRepo {
	return &JobRepo{store: store}
}

func (r *JobRepo) Create(ctx context.Context, job *domain.Job) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	r.store.jobs[job.ID] = &jobEntry{job: *job}
	return nil
}

func (r *JobRepo) Get(ctx context.Context, id string) (*domain.Job, error) {
	r.store.mu.RLock()
	entry, ok := r.store.jobs[id]
	r.store.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	job := entry.job
	return &job, nil
}

func (r *JobRepo) Update(ctx context.Context, id string, patch domain.JobPatch) error {
	return r.WithJob(ctx, id, func(ctx context.Context, tx storage.JobTx) error {
		return tx.UpdateJob(ctx, patch)
	})
}

func (r *JobRepo) ListCompleted(ctx context.Context, userID string) ([]*domain.Job, error) {
	r.store.mu.RLock()
	entries := make([]*jobEntry, 0, len(r.store.jobs))
	for _, entry := range r.store.jobs {
		entries = append(entries, entry)
	}
	r.store.mu.RUnlock()

	var jobs []*domain.Job
	for _, entry := range entries {
		entry.mu.Lock()
		job := entry.job
		entry.mu.Unlock()
		if job.Status != domain.JobStatusCompleted {
			continue
		}
		if userID != "" && job.UserID != userID {
			continue
		}
		j := job
		jobs = append(jobs, &j)
	}
	return jobs, nil
}

func (r *JobRepo) WithJob(
	ctx context.Context,
	id string,
	fn func(ctx context.Context, tx storage.JobTx) error,
) error {
	r.store.mu.RLock()
	entry, ok := r.store.jobs[id]
	r.store.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	work := entry.job
	tx := &jobTx{store: r.store, job: &work}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	// Commit: publish the updated job and append buffered events.
	entry.job = work
	if len(tx.pending) > 0 {
		r.store.mu.Lock()
		r.store.events[id] = append(r.store.events[id], tx.pending...)
		r.store.mu.Unlock()
	}
	return nil
}

// jobTx buffers writes until WithJob commits them.
type jobTx struct {
	store   *Store
	job     *domain.Job
	pending []*domain.CostEvent
}

func (t *jobTx) Job() *domain.Job {
	return t.job
}

func (t *jobTx) InsertCostEvent(ctx context.Context, ev *domain.CostEvent) error {
	e := *ev
	if e.EventData == nil {
		e.EventData = map[string]any{}
	}
	t.pending = append(t.pending, &e)
	return nil
}

func (t *jobTx) UpdateJob(ctx context.Context, patch domain.JobPatch) error {
	t.job.Apply(patch)
	return nil
}

// -----------------------------------------------------------------------------
// Cost Event Repository
// -----------------------------------------------------------------------------

// CostEventRepo implements storage.CostEventRepository in memory.
type CostEventRepo struct {
	store *Store
}

// NewCostEventRepo creates a new in-memory cost event repository.
func NewCostEventRepo(store *Store) *CostEventRepo {
	return &CostEventRepo{store: store}
}

func (r *CostEventRepo) ListByJob(ctx context.Context, jobID string) ([]*domain.CostEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	events := make([]*domain.CostEvent, 0, len(r.store.events[jobID]))
	for _, ev := range r.store.events[jobID] {
		e := *ev
		events = append(events, &e)
	}
	return events, nil
}
