package server

import (
	"context"
	"testing"
	"time"
)

func TestJobManager_CreateJob(t *testing.T) {
	jm := NewJobManager()

	config := JobConfig{
		Optimizer:  "gsa",
		Problems:   []string{"Sphere"},
		Dim:        5,
		Iterations: 100,
		Attempts:   3,
		Seed:       42,
	}

	job := jm.CreateJob(config)

	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}

	if job.State != StatePending {
		t.Errorf("Initial state should be pending, got %s", job.State)
	}

	if job.Config.Optimizer != "gsa" || job.Config.Dim != 5 {
		t.Errorf("Config not set correctly")
	}
}

func TestJobManager_GetJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(JobConfig{Optimizer: "pso"})

	retrieved, exists := jm.GetJob(job.ID)
	if !exists {
		t.Error("Job should exist")
	}

	if retrieved.ID != job.ID {
		t.Error("Retrieved wrong job")
	}

	_, exists = jm.GetJob("nonexistent")
	if exists {
		t.Error("Should not find nonexistent job")
	}
}

func TestJobManager_GetJobReturnsSnapshot(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{Optimizer: "gsa"})

	snapshot, _ := jm.GetJob(job.ID)
	snapshot.Done = 99

	current, _ := jm.GetJob(job.ID)
	if current.Done != 0 {
		t.Errorf("Mutating a snapshot should not change the job, got done=%d", current.Done)
	}
}

func TestJobManager_ListJobs(t *testing.T) {
	jm := NewJobManager()

	if len(jm.ListJobs()) != 0 {
		t.Error("Should start with no jobs")
	}

	jm.CreateJob(JobConfig{Optimizer: "gsa"})
	jm.CreateJob(JobConfig{Optimizer: "pso"})

	jobs := jm.ListJobs()
	if len(jobs) != 2 {
		t.Errorf("Expected 2 jobs, got %d", len(jobs))
	}
}

func TestJobManager_UpdateJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(JobConfig{Optimizer: "gsa"})

	err := jm.UpdateJob(job.ID, func(j *Job) {
		j.State = StateRunning
		j.Done = 10
		j.BestFitness = 123.45
	})

	if err != nil {
		t.Errorf("Update should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateRunning {
		t.Error("State should be updated")
	}
	if updated.Done != 10 {
		t.Error("Done should be updated")
	}
	if updated.BestFitness != 123.45 {
		t.Error("BestFitness should be updated")
	}

	err = jm.UpdateJob("nonexistent", func(j *Job) {})
	if err == nil {
		t.Error("Update of nonexistent job should fail")
	}
}

func TestJobManager_GetRunningJobs(t *testing.T) {
	jm := NewJobManager()

	running := jm.CreateJob(JobConfig{Optimizer: "gsa"})
	jm.CreateJob(JobConfig{Optimizer: "gsa"})
	jm.UpdateJob(running.ID, func(j *Job) { j.State = StateRunning })

	jobs := jm.GetRunningJobs()
	if len(jobs) != 1 || jobs[0].ID != running.ID {
		t.Errorf("Expected only the running job, got %d jobs", len(jobs))
	}
}

func TestJobManager_CancelJob(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{Optimizer: "gsa"})

	if err := jm.CancelJob(job.ID); err == nil {
		t.Error("Cancelling a job without a worker should fail")
	}

	ctx := jm.Start(context.Background(), job.ID)
	if err := jm.CancelJob(job.ID); err != nil {
		t.Fatalf("Cancel should succeed: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("Job context should be cancelled")
	}

	if err := jm.CancelJob("nonexistent"); err == nil {
		t.Error("Cancelling a nonexistent job should fail")
	}

	jm.UpdateJob(job.ID, func(j *Job) { j.State = StateCompleted })
	if err := jm.CancelJob(job.ID); err == nil {
		t.Error("Cancelling a finished job should fail")
	}
}

func TestJobManager_CancelAll(t *testing.T) {
	jm := NewJobManager()
	a := jm.CreateJob(JobConfig{Optimizer: "gsa"})
	b := jm.CreateJob(JobConfig{Optimizer: "gsa"})

	ctxA := jm.Start(context.Background(), a.ID)
	ctxB := jm.Start(context.Background(), b.ID)
	jm.CancelAll()

	if ctxA.Err() == nil || ctxB.Err() == nil {
		t.Error("All job contexts should be cancelled")
	}
}

func TestJobManager_ThreadSafety(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(JobConfig{Optimizer: "gsa"})

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(n int) {
			jm.UpdateJob(job.ID, func(j *Job) {
				j.Done = n
				time.Sleep(1 * time.Millisecond)
			})
			jm.GetJob(job.ID)
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	_, exists := jm.GetJob(job.ID)
	if !exists {
		t.Error("Job should still exist after concurrent updates")
	}
}
