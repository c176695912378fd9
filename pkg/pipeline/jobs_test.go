package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobLifecycle(t *testing.T) {
	m := NewJobManager(nil)

	var (
		mu       sync.Mutex
		statuses []JobStatus
	)
	m.OnChange(func(j Job) {
		mu.Lock()
		statuses = append(statuses, j.Status)
		mu.Unlock()
	})

	job := m.Submit(context.Background(), "clustering", func(ctx context.Context, progress Progress) (any, error) {
		progress(0.5, "half way")
		return map[string]int{"n_clusters": 2}, nil
	})
	assert.Equal(t, JobQueued, job.Status)
	m.Wait()

	got, ok := m.GetJob(job.ID)
	require.True(t, ok)
	assert.Equal(t, JobCompleted, got.Status)
	assert.Equal(t, 1.0, got.Progress)
	assert.Equal(t, map[string]int{"n_clusters": 2}, got.Result)
	assert.True(t, got.Finished())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []JobStatus{JobQueued, JobRunning, JobRunning, JobCompleted}, statuses)
}

func TestJobFailureAndPanic(t *testing.T) {
	m := NewJobManager(nil)

	failed := m.Submit(context.Background(), "index", func(context.Context, Progress) (any, error) {
		return nil, errors.New("no embeddings")
	})
	panicked := m.Submit(context.Background(), "index", func(context.Context, Progress) (any, error) {
		panic("boom")
	})
	m.Wait()

	got, _ := m.GetJob(failed.ID)
	assert.Equal(t, JobFailed, got.Status)
	assert.Equal(t, "no embeddings", got.Error)

	got, _ = m.GetJob(panicked.ID)
	assert.Equal(t, JobFailed, got.Status)
	assert.Contains(t, got.Error, "boom")

	_, ok := m.GetJob("missing")
	assert.False(t, ok)
}

func TestProgressClamped(t *testing.T) {
	m := NewJobManager(nil)
	job := m.NewJob("x")
	m.SetProgress(job.ID, 3, "")
	got, _ := m.GetJob(job.ID)
	assert.Equal(t, 1.0, got.Progress)
}
