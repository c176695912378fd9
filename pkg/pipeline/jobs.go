package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobStatus represents the lifecycle of a background job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job keeps track of a long-running operation while it runs.
type Job struct {
	ID        string    `json:"job_id"`
	Type      string    `json:"job_type"`
	Status    JobStatus `json:"status"`
	Progress  float64   `json:"progress"`
	Message   string    `json:"message,omitempty"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Finished reports whether the job reached a terminal state.
func (j Job) Finished() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

// Progress lets a job function report how far along it is, in [0, 1].
type Progress func(fraction float64, message string)

// JobFunc is the body of a background job.
type JobFunc func(ctx context.Context, progress Progress) (any, error)

// JobManager stores job states indexed by job ID and runs submitted jobs on
// their own goroutines.
type JobManager struct {
	mu       sync.RWMutex
	jobs     map[string]*Job
	onChange func(Job)
	wg       sync.WaitGroup
	log      *zap.Logger
}

func NewJobManager(log *zap.Logger) *JobManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &JobManager{
		jobs: make(map[string]*Job),
		log:  log,
	}
}

// OnChange registers a hook called with a snapshot after every state change.
// It runs outside the manager's lock.
func (m *JobManager) OnChange(fn func(Job)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// NewJob registers a queued job of the given type.
func (m *JobManager) NewJob(jobType string) Job {
	now := time.Now()
	job := &Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Status:    JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	hook := m.onChange
	snapshot := *job
	m.mu.Unlock()

	if hook != nil {
		hook(snapshot)
	}
	return snapshot
}

func (m *JobManager) SetRunning(jobID string) {
	m.updateJob(jobID, func(job *Job) {
		job.Status = JobRunning
	})
}

func (m *JobManager) SetProgress(jobID string, fraction float64, message string) {
	m.updateJob(jobID, func(job *Job) {
		job.Progress = min(1, max(0, fraction))
		job.Message = message
	})
}

// CompleteJob stores the result and marks the job complete.
func (m *JobManager) CompleteJob(jobID string, result any) {
	m.updateJob(jobID, func(job *Job) {
		job.Status = JobCompleted
		job.Progress = 1
		job.Result = result
	})
}

// FailJob records a failure and attaches a user-facing error message.
func (m *JobManager) FailJob(jobID string, err error) {
	m.updateJob(jobID, func(job *Job) {
		job.Status = JobFailed
		job.Error = err.Error()
	})
}

// GetJob returns a snapshot of the job.
func (m *JobManager) GetJob(jobID string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

func (m *JobManager) updateJob(jobID string, update func(job *Job)) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	update(job)
	job.UpdatedAt = time.Now()
	hook := m.onChange
	snapshot := *job
	m.mu.Unlock()

	if hook != nil {
		hook(snapshot)
	}
}

// Submit queues fn and runs it in the background. The returned job is in
// the queued state. A panic inside fn fails the job instead of the process.
func (m *JobManager) Submit(ctx context.Context, jobType string, fn JobFunc) Job {
	job := m.NewJob(jobType)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx, job.ID, fn)
	}()
	return job
}

func (m *JobManager) run(ctx context.Context, jobID string, fn JobFunc) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			m.log.Error("Job panicked", zap.String("job_id", jobID), zap.Any("panic", p))
			m.FailJob(jobID, fmt.Errorf("internal error: %v", p))
		}
	}()

	m.SetRunning(jobID)
	result, err := fn(ctx, func(fraction float64, message string) {
		m.SetProgress(jobID, fraction, message)
	})
	if err != nil {
		m.log.Warn("Job failed", zap.String("job_id", jobID), zap.Error(err), zap.Duration("took", time.Since(start)))
		m.FailJob(jobID, err)
		return
	}
	m.log.Info("Job completed", zap.String("job_id", jobID), zap.Duration("took", time.Since(start)))
	m.CompleteJob(jobID, result)
}

// Wait blocks until every submitted job has finished.
func (m *JobManager) Wait() {
	m.wg.Wait()
}
