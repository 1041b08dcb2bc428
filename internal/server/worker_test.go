package server

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/cwbudde/gravbench/internal/params"
	"github.com/cwbudde/gravbench/internal/store"
)

func newTestStore(t *testing.T) *store.FSStore {
	t.Helper()
	st, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return st
}

func smallConfig() JobConfig {
	return JobConfig{
		Optimizer:  "gsa",
		Problems:   []string{"Sphere", "Rastrigin5_12"},
		Dim:        3,
		Params:     params.Params{"particle_count": params.Int(8)},
		Iterations: 10,
		Attempts:   2,
		Seed:       42,
		Workers:    2,
	}
}

func TestRunJob_Success(t *testing.T) {
	st := newTestStore(t)
	jm := NewJobManager()

	job := jm.CreateJob(smallConfig())

	if err := runJob(context.Background(), jm, st, job.ID); err != nil {
		t.Fatalf("runJob should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCompleted {
		t.Errorf("Job should be completed, got %s", updated.State)
	}
	if updated.Done != 4 || updated.Total != 4 {
		t.Errorf("Expected 4/4 attempts, got %d/%d", updated.Done, updated.Total)
	}
	if math.IsInf(float64(updated.BestFitness), 0) || updated.BestFitness < 0 {
		t.Errorf("BestFitness should be set, got %v", updated.BestFitness)
	}
	if len(updated.Cells) != 2 {
		t.Errorf("Expected stats for 2 problems, got %d", len(updated.Cells))
	}
	if updated.EndTime == nil {
		t.Error("EndTime should be set")
	}

	attempts, err := st.ListAttempts()
	if err != nil {
		t.Fatalf("ListAttempts failed: %v", err)
	}
	if len(attempts) != 4 {
		t.Errorf("Expected 4 stored attempts, got %d", len(attempts))
	}
}

func TestRunJob_Grid(t *testing.T) {
	st := newTestStore(t)
	jm := NewJobManager()

	cfg := smallConfig()
	cfg.Problems = []string{"Sphere"}
	cfg.Attempts = 1
	cfg.Grid = []params.Axis{
		{Key: "g0", Values: []params.Value{params.Float(10), params.Float(100)}},
		{Key: "alpha", Values: []params.Value{params.Float(5), params.Float(20)}},
	}
	job := jm.CreateJob(cfg)

	if err := runJob(context.Background(), jm, st, job.ID); err != nil {
		t.Fatalf("runJob should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.Total != 4 {
		t.Errorf("Expected 4 grid attempts, got %d", updated.Total)
	}
	if len(updated.Cells) != 4 {
		t.Errorf("Expected 4 cells, got %d", len(updated.Cells))
	}
}

func TestRunJob_UnknownProblem(t *testing.T) {
	jm := NewJobManager()
	cfg := smallConfig()
	cfg.Problems = []string{"NoSuchFunction"}

	job := jm.CreateJob(cfg)

	err := runJob(context.Background(), jm, newTestStore(t), job.ID)
	if err == nil {
		t.Error("runJob should fail with an unknown problem")
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateFailed {
		t.Errorf("Job should be failed, got %s", updated.State)
	}
	if updated.Error == "" {
		t.Error("Error message should be set")
	}
}

func TestRunJob_InvalidParams(t *testing.T) {
	jm := NewJobManager()
	cfg := smallConfig()
	cfg.Params = params.Params{"particle_count": params.Int(0)}

	job := jm.CreateJob(cfg)

	if err := runJob(context.Background(), jm, newTestStore(t), job.ID); err == nil {
		t.Error("runJob should fail with an invalid particle count")
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateFailed {
		t.Errorf("Job should be failed, got %s", updated.State)
	}
}

func TestRunJob_Cancellation(t *testing.T) {
	jm := NewJobManager()
	cfg := smallConfig()
	cfg.Iterations = 100000 // long-running
	cfg.Attempts = 20
	cfg.Workers = 1

	st := newTestStore(t)
	job := jm.CreateJob(cfg)
	ctx := jm.Start(context.Background(), job.ID)

	done := make(chan error)
	go func() {
		done <- runJob(ctx, jm, st, job.ID)
	}()

	time.Sleep(50 * time.Millisecond)
	if err := jm.CancelJob(job.ID); err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}

	err := <-done
	if err == nil {
		t.Error("runJob should return error when cancelled")
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCancelled {
		t.Errorf("Job should be cancelled, got %s", updated.State)
	}
	if updated.Done >= updated.Total {
		t.Errorf("Cancelled job should not finish every attempt, got %d/%d", updated.Done, updated.Total)
	}
}

func TestAttemptRate(t *testing.T) {
	if got := attemptRate(0, time.Second); got != 0 {
		t.Errorf("Expected 0, got %v", got)
	}
	if got := attemptRate(10, 0); got != 0 {
		t.Errorf("Expected 0, got %v", got)
	}
	if got := attemptRate(10, 2*time.Second); got != 5 {
		t.Errorf("Expected 5, got %v", got)
	}
}
