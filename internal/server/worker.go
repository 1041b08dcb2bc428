package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cwbudde/gravbench/internal/bench"
	"github.com/cwbudde/gravbench/internal/experiment"
	"github.com/cwbudde/gravbench/internal/opt"
	"github.com/cwbudde/gravbench/internal/problem"
	"github.com/cwbudde/gravbench/internal/store"
)

// runJob executes an experiment job in the background, writing attempt
// artifacts to st.
func runJob(ctx context.Context, jm *JobManager, st store.Store, jobID string) error {
	defer jm.release(jobID)

	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	})
	if err != nil {
		return err
	}

	slog.Info("Starting job", "job_id", jobID, "optimizer", job.Config.Optimizer, "problems", job.Config.Problems)

	problems, err := buildProblems(job.Config)
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	defaults, err := opt.Defaults(job.Config.Optimizer)
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	total := len(problems) * job.Config.Attempts
	if len(job.Config.Grid) == 2 {
		total *= len(job.Config.Grid[0].Values) * len(job.Config.Grid[1].Values)
	}
	jm.UpdateJob(jobID, func(j *Job) {
		j.Total = total
	})

	runner, err := experiment.New(st, experiment.Config{
		ID:         jobID,
		Optimizer:  job.Config.Optimizer,
		Params:     defaults.Merge(job.Config.Params),
		Iterations: job.Config.Iterations,
		Attempts:   job.Config.Attempts,
		Seed:       job.Config.Seed,
		Workers:    job.Config.Workers,
		OnExists:   job.Config.OnExists,
		SaveData:   job.Config.SaveData,
	}, experiment.WithProgress(func(p experiment.Progress) {
		jm.UpdateJob(jobID, func(j *Job) {
			j.Done = p.Done
			j.Total = p.Total
			if best := float64(p.Result.FinalBest); best < float64(j.BestFitness) {
				j.BestFitness = p.Result.FinalBest
			}
		})
	}))
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	select {
	case <-ctx.Done():
		markJobCancelled(jm, jobID)
		return ctx.Err()
	default:
	}

	start := time.Now()
	progressDone := make(chan struct{})
	var monitor sync.WaitGroup
	monitor.Add(1)
	go func() {
		defer monitor.Done()
		monitorProgress(ctx, jm, jobID, start, progressDone)
	}()

	var report *experiment.Report
	if len(job.Config.Grid) == 2 {
		report, err = runner.GridSearch(ctx, problems, job.Config.Grid[0], job.Config.Grid[1])
	} else {
		report, err = runner.RunSuite(ctx, problems)
	}
	close(progressDone)
	monitor.Wait()

	if ctx.Err() != nil {
		markJobCancelled(jm, jobID)
		broadcastState(jm, jobID, start)
		return ctx.Err()
	}
	if err != nil {
		markJobFailed(jm, jobID, err)
		broadcastState(jm, jobID, start)
		return err
	}

	endTime := time.Now()
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.Done = report.Completed
		j.ExportErrors = report.ExportErrors
		j.Cells = report.Cells()
		j.EndTime = &endTime
	})
	if err != nil {
		return err
	}

	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", report.Duration,
		"completed", report.Completed,
		"export_errors", report.ExportErrors,
	)

	broadcastState(jm, jobID, start)
	return nil
}

// buildProblems resolves the benchmark names of a job config.
func buildProblems(cfg JobConfig) ([]*problem.Problem, error) {
	if len(cfg.Problems) == 0 {
		return nil, errors.New("no problems given")
	}
	problems := make([]*problem.Problem, 0, len(cfg.Problems))
	for _, name := range cfg.Problems {
		fn, err := bench.Lookup(name)
		if err != nil {
			return nil, err
		}
		prob, err := fn.Problem(cfg.Dim)
		if err != nil {
			return nil, fmt.Errorf("failed to build problem %s: %w", name, err)
		}
		problems = append(problems, prob)
	}
	return problems, nil
}

// monitorProgress periodically broadcasts progress events while the
// experiment runs
func monitorProgress(ctx context.Context, jm *JobManager, jobID string, startTime time.Time, done chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !broadcastState(jm, jobID, startTime) {
				return
			}
		}
	}
}

// broadcastState sends the current state of a job to its SSE clients.
func broadcastState(jm *JobManager, jobID string, startTime time.Time) bool {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return false
	}
	jm.broadcaster.Broadcast(newProgressEvent(job, attemptRate(job.Done, time.Since(startTime))))
	return true
}

// attemptRate returns finished attempts per second.
func attemptRate(done int, elapsed time.Duration) float64 {
	if elapsed <= 0 || done == 0 {
		return 0
	}
	return float64(done) / elapsed.Seconds()
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
}
