package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// JobStatus is the job lifecycle state machine. Transitions are monotonic,
// queued to running to one terminal state, except that cancelled may be
// requested at any time while running.
type JobStatus int

const (
	StatusQueued JobStatus = iota
	StatusRunning
	StatusFinished
	StatusFailed
	StatusCancelled
)

func (s JobStatus) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusFinished:
		return "finished"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusCancelled
}

// Job is one submitted batch of seed URLs.
type Job struct {
	ID       string
	SeedURLs []string
	Created  time.Time

	mu      sync.Mutex
	status  JobStatus
	results map[string][]string
	cancel  context.CancelFunc
	done    chan struct{}
}

func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Results returns a copy of the per-seed result mapping collected so far.
func (j *Job) Results() map[string][]string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[string][]string, len(j.results))
	for k, v := range j.results {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// Done is closed once the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

func (j *Job) setStatus(s JobStatus) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	j.status = s
	return true
}

func (j *Job) storeResult(seed string, emails []string) {
	j.mu.Lock()
	j.results[seed] = emails
	j.mu.Unlock()
}

// ProgressFunc receives one event per completed seed URL, in completion
// order.
type ProgressFunc func(done, total int, currentURL string, emails []string)

// JobStore is the persistence collaborator. The core calls it at lifecycle
// transitions and has no dependency on its storage format.
type JobStore interface {
	CreateJob(job *Job) error
	UpdateJob(jobID string, status JobStatus, results map[string][]string) error
	LogActivity(jobID, message string) error
}

// Notifier pushes terminal job states to an external dashboard.
type Notifier interface {
	Notify(jobID string, status JobStatus, results map[string][]string)
}

// JobRunner owns job submission, bounded-concurrency execution and
// cooperative cancellation.
type JobRunner struct {
	orchestrator *CrawlOrchestrator
	concurrency  int
	store        JobStore
	notifier     Notifier

	mu   sync.Mutex
	jobs map[string]*Job
}

func NewJobRunner(orchestrator *CrawlOrchestrator, concurrency int, store JobStore, notifier Notifier) *JobRunner {
	if concurrency < 1 {
		concurrency = 1
	}
	if store == nil {
		store = NewMemoryJobStore()
	}
	return &JobRunner{
		orchestrator: orchestrator,
		concurrency:  concurrency,
		store:        store,
		notifier:     notifier,
		jobs:         make(map[string]*Job),
	}
}

// SubmitJob creates a Job, starts it asynchronously and returns its ID
// immediately.
func (r *JobRunner) SubmitJob(seedURLs []string, progress ProgressFunc) (string, error) {
	if len(seedURLs) == 0 {
		return "", fmt.Errorf("no seed urls submitted")
	}
	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:       uuid.NewString(),
		SeedURLs: append([]string(nil), seedURLs...),
		Created:  time.Now(),
		status:   StatusQueued,
		results:  make(map[string][]string, len(seedURLs)),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()

	if err := r.store.CreateJob(job); err != nil {
		cancel()
		return "", fmt.Errorf("cannot persist job: %w", err)
	}
	r.store.LogActivity(job.ID, fmt.Sprintf("job queued with %d seed urls", len(seedURLs)))

	go r.run(ctx, job, progress)
	return job.ID, nil
}

// Cancel requests cooperative cancellation. Idempotent; unknown IDs are
// ignored.
func (r *JobRunner) Cancel(jobID string) {
	r.mu.Lock()
	job := r.jobs[jobID]
	r.mu.Unlock()
	if job == nil {
		return
	}
	job.mu.Lock()
	requested := !job.status.Terminal()
	job.mu.Unlock()
	if requested {
		job.cancel()
		r.store.LogActivity(jobID, "cancellation requested")
	}
}

// Lookup returns a submitted job by ID.
func (r *JobRunner) Lookup(jobID string) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[jobID]
}

func (r *JobRunner) run(ctx context.Context, job *Job, progress ProgressFunc) {
	defer close(job.done)
	defer job.cancel()

	job.setStatus(StatusRunning)
	r.store.UpdateJob(job.ID, StatusRunning, nil)

	var (
		progressMu sync.Mutex
		doneCount  int
		runErr     error
	)
	total := len(job.SeedURLs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, seed := range job.SeedURLs {
		seed := seed
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return nil
			}
			emails, err := r.orchestrator.Process(gctx, seed)
			if err != nil {
				if gctx.Err() != nil {
					// Cancellation is not an error; this seed just
					// stops contributing.
					return nil
				}
				log.Printf("job %s: seed %s failed: %v", job.ID, seed, err)
				progressMu.Lock()
				if runErr == nil {
					runErr = err
				}
				progressMu.Unlock()
				return nil
			}
			job.storeResult(seed, emails)

			// The callback runs under the lock so deliveries arrive in
			// strict completion order even when seeds finish together.
			progressMu.Lock()
			doneCount++
			if progress != nil {
				progress(doneCount, total, seed, emails)
			}
			progressMu.Unlock()
			return nil
		})
	}
	g.Wait()

	final := StatusFinished
	switch {
	case ctx.Err() != nil:
		final = StatusCancelled
	case runErr != nil:
		final = StatusFailed
	}
	job.setStatus(final)

	results := job.Results()
	r.store.UpdateJob(job.ID, final, results)
	r.store.LogActivity(job.ID, fmt.Sprintf("job %s with %d/%d seeds done", final, doneCount, total))
	if r.notifier != nil {
		r.notifier.Notify(job.ID, final, results)
	}
}

// Run executes a batch synchronously and returns the per-seed mapping, the
// terminal status and the job ID. Used by the CLI path.
func (r *JobRunner) Run(ctx context.Context, seedURLs []string, progress ProgressFunc) (map[string][]string, JobStatus, error) {
	jobID, err := r.SubmitJob(seedURLs, progress)
	if err != nil {
		return nil, StatusFailed, err
	}
	job := r.Lookup(jobID)
	select {
	case <-job.Done():
	case <-ctx.Done():
		r.Cancel(jobID)
		<-job.Done()
	}
	return job.Results(), job.Status(), nil
}

// MemoryJobStore is the in-process JobStore used by the binary and tests.
type MemoryJobStore struct {
	mu       sync.Mutex
	statuses map[string]JobStatus
	results  map[string]map[string][]string
	activity map[string][]string
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		statuses: make(map[string]JobStatus),
		results:  make(map[string]map[string][]string),
		activity: make(map[string][]string),
	}
}

func (m *MemoryJobStore) CreateJob(job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[job.ID] = StatusQueued
	return nil
}

func (m *MemoryJobStore) UpdateJob(jobID string, status JobStatus, results map[string][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[jobID] = status
	if results != nil {
		m.results[jobID] = results
	}
	return nil
}

func (m *MemoryJobStore) LogActivity(jobID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activity[jobID] = append(m.activity[jobID], message)
	return nil
}

// JobStatusOf returns the last stored status for tests and status queries.
func (m *MemoryJobStore) JobStatusOf(jobID string) JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statuses[jobID]
}
