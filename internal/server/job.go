package server

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/gravbench/internal/experiment"
	"github.com/cwbudde/gravbench/internal/params"
	"github.com/cwbudde/gravbench/internal/store"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// JobConfig describes the experiment a job runs. Params override the
// optimizer's built-in defaults. Grid, when set, holds exactly two axes and
// turns the job into a grid search.
type JobConfig struct {
	Optimizer  string                     `json:"optimizer"`
	Problems   []string                   `json:"problems"`
	Dim        int                        `json:"dim"`
	Params     params.Params              `json:"params,omitempty"`
	Iterations int                        `json:"iterations"`
	Attempts   int                        `json:"attempts"`
	Seed       int64                      `json:"seed"`
	Workers    int                        `json:"workers,omitempty"`
	OnExists   experiment.OverwritePolicy `json:"onExists"`
	SaveData   bool                       `json:"saveData,omitempty"`
	Grid       []params.Axis              `json:"grid,omitempty"`
}

// Job represents an experiment running in the background
type Job struct {
	ID           string                 `json:"id"`
	State        JobState               `json:"state"`
	Config       JobConfig              `json:"config"`
	Done         int                    `json:"done"`
	Total        int                    `json:"total"`
	BestFitness  store.Float            `json:"bestFitness"`
	ExportErrors int                    `json:"exportErrors"`
	Cells        []experiment.CellStats `json:"cells,omitempty"`
	StartTime    time.Time              `json:"startTime"`
	EndTime      *time.Time             `json:"endTime,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	cancels     map[string]context.CancelFunc
	broadcaster *EventBroadcaster
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		cancels:     make(map[string]context.CancelFunc),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateJob creates a new job with the given configuration
func (jm *JobManager) CreateJob(config JobConfig) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:          uuid.New().String(),
		State:       StatePending,
		Config:      config,
		BestFitness: store.Float(math.Inf(1)),
		StartTime:   time.Now(),
	}

	jm.jobs[job.ID] = job
	return job
}

// GetJob returns a snapshot of a job by ID
func (jm *JobManager) GetJob(id string) (*Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return nil, false
	}
	snapshot := *job
	return &snapshot, true
}

// ListJobs returns snapshots of all jobs
func (jm *JobManager) ListJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]*Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		snapshot := *job
		jobs = append(jobs, &snapshot)
	}
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	updateFn(job)
	return nil
}

// GetRunningJobs returns all jobs currently in the running state
func (jm *JobManager) GetRunningJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	runningJobs := make([]*Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			snapshot := *job
			runningJobs = append(runningJobs, &snapshot)
		}
	}
	return runningJobs
}

// Start derives a cancellable context for the job from parent.
func (jm *JobManager) Start(parent context.Context, id string) context.Context {
	ctx, cancel := context.WithCancel(parent)

	jm.mu.Lock()
	jm.cancels[id] = cancel
	jm.mu.Unlock()
	return ctx
}

// CancelJob stops a pending or running job. The worker marks it cancelled.
func (jm *JobManager) CancelJob(id string) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}
	if job.State != StatePending && job.State != StateRunning {
		return fmt.Errorf("job %s is already %s", id, job.State)
	}
	cancel, ok := jm.cancels[id]
	if !ok {
		return fmt.Errorf("job %s has no worker", id)
	}
	cancel()
	return nil
}

// CancelAll stops every job that has a worker.
func (jm *JobManager) CancelAll() {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	for _, cancel := range jm.cancels {
		cancel()
	}
}

// release drops the cancel function of a finished job.
func (jm *JobManager) release(id string) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	if cancel, ok := jm.cancels[id]; ok {
		cancel()
		delete(jm.cancels, id)
	}
}
