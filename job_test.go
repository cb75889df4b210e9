package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobRunnerConcurrencyBound(t *testing.T) {
	f := newFakeFetcher()
	f.delay = 30 * time.Millisecond
	seeds := []string{"a.com", "b.com", "c.com", "d.com", "e.com", "f.com", "g.com", "h.com"}
	for _, s := range seeds {
		f.pages["http://"+s] = "<p>x@" + s + "</p>"
	}

	o := newTestOrchestrator(f, 0, 50, nil)
	runner := NewJobRunner(o, 3, NewMemoryJobStore(), nil)

	mapping, status, err := runner.Run(context.Background(), seeds, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, status)
	assert.Len(t, mapping, len(seeds))

	f.mu.Lock()
	peak := f.peak
	f.mu.Unlock()
	assert.LessOrEqual(t, peak, 3, "in-flight crawls must never exceed the worker budget")
}

func TestJobRunnerEmptyContentFinishes(t *testing.T) {
	f := newFakeFetcher()

	o := newTestOrchestrator(f, 1, 50, nil)
	store := NewMemoryJobStore()
	runner := NewJobRunner(o, 2, store, nil)

	mapping, status, err := runner.Run(context.Background(), []string{"a.com", "b.com"}, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, status)
	assert.Equal(t, map[string][]string{"a.com": {}, "b.com": {}}, mapping)
}

func TestJobResultsPreservesEmptySlices(t *testing.T) {
	job := &Job{
		results: map[string][]string{"a.com": {}, "b.com": {"x@b.com"}},
		done:    make(chan struct{}),
	}
	out := job.Results()
	require.NotNil(t, out["a.com"], "an empty result must copy as [] rather than nil")
	assert.Empty(t, out["a.com"])
	assert.Equal(t, []string{"x@b.com"}, out["b.com"])
}

func TestJobRunnerProgressInCompletionOrder(t *testing.T) {
	f := newFakeFetcher()
	f.pages["http://a.com"] = "<p>a@a.com</p>"
	f.pages["http://b.com"] = "<p>b@b.com</p>"

	o := newTestOrchestrator(f, 0, 50, nil)
	runner := NewJobRunner(o, 1, NewMemoryJobStore(), nil)

	var doneCounts []int
	progress := func(done, total int, currentURL string, emails []string) {
		doneCounts = append(doneCounts, done)
		assert.Equal(t, 2, total)
	}
	_, status, err := runner.Run(context.Background(), []string{"a.com", "b.com"}, progress)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, status)
	assert.Equal(t, []int{1, 2}, doneCounts)
}

func TestJobRunnerProgressMonotonicUnderConcurrency(t *testing.T) {
	f := newFakeFetcher()
	f.delay = 10 * time.Millisecond
	seeds := []string{"a.com", "b.com", "c.com", "d.com", "e.com", "f.com"}
	for _, s := range seeds {
		f.pages["http://"+s] = "<p>x@" + s + "</p>"
	}

	o := newTestOrchestrator(f, 0, 50, nil)
	runner := NewJobRunner(o, 4, NewMemoryJobStore(), nil)

	// Deliveries are serialized by the runner, so appending here needs no
	// extra locking even with four workers finishing together.
	var doneCounts []int
	progress := func(done, total int, currentURL string, emails []string) {
		doneCounts = append(doneCounts, done)
	}
	_, status, err := runner.Run(context.Background(), seeds, progress)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, status)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, doneCounts)
}

func TestJobRunnerCancellationKeepsPartialResults(t *testing.T) {
	f := newFakeFetcher()
	f.delay = 80 * time.Millisecond
	seeds := []string{"s1.com", "s2.com", "s3.com", "s4.com", "s5.com"}
	for _, s := range seeds {
		f.pages["http://"+s] = "<p>x@" + s + "</p>"
	}

	o := newTestOrchestrator(f, 0, 50, nil)
	runner := NewJobRunner(o, 1, NewMemoryJobStore(), nil)

	idCh := make(chan string, 1)
	progress := func(done, total int, currentURL string, emails []string) {
		if done == 1 {
			runner.Cancel(<-idCh)
		}
	}
	id, err := runner.SubmitJob(seeds, progress)
	require.NoError(t, err)
	idCh <- id

	job := runner.Lookup(id)
	require.NotNil(t, job)
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("job did not reach a terminal state")
	}

	assert.Equal(t, StatusCancelled, job.Status())
	results := job.Results()
	assert.Len(t, results, 1, "only the seed completed before cancellation keeps its result")
	assert.Contains(t, results, "s1.com")
}

func TestJobRunnerCancelIsIdempotent(t *testing.T) {
	f := newFakeFetcher()
	o := newTestOrchestrator(f, 0, 50, nil)
	runner := NewJobRunner(o, 1, NewMemoryJobStore(), nil)

	runner.Cancel("unknown-id")

	id, err := runner.SubmitJob([]string{"a.com"}, nil)
	require.NoError(t, err)
	job := runner.Lookup(id)
	<-job.Done()
	runner.Cancel(id)
	runner.Cancel(id)
	assert.True(t, job.Status().Terminal())
}

func TestSubmitJobRejectsEmptyBatch(t *testing.T) {
	f := newFakeFetcher()
	o := newTestOrchestrator(f, 0, 50, nil)
	runner := NewJobRunner(o, 1, NewMemoryJobStore(), nil)

	_, err := runner.SubmitJob(nil, nil)
	require.Error(t, err)
}

func TestJobStatusStateMachine(t *testing.T) {
	job := &Job{status: StatusQueued, results: map[string][]string{}, done: make(chan struct{})}

	assert.True(t, job.setStatus(StatusRunning))
	assert.True(t, job.setStatus(StatusFinished))
	assert.False(t, job.setStatus(StatusCancelled), "terminal states are final")
	assert.Equal(t, StatusFinished, job.Status())

	assert.Equal(t, "queued", StatusQueued.String())
	assert.Equal(t, "cancelled", StatusCancelled.String())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusRunning.Terminal())
}
