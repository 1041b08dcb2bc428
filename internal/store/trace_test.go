package store

import (
	"errors"
	"io"
	"math"
	"os"
	"sync"
	"testing"
	"time"
)

func TestTraceWriter_WriteAndRead(t *testing.T) {
	dir := t.TempDir()

	tw, err := NewTraceWriter(dir, false)
	if err != nil {
		t.Fatalf("NewTraceWriter failed: %v", err)
	}

	now := time.Now()
	entries := []TraceEntry{
		{Iteration: 0, BestFitness: 10, WorstFitness: 50, Evaluations: 30, Timestamp: now},
		{Iteration: 1, BestFitness: 5, WorstFitness: 40, Evaluations: 60, Timestamp: now.Add(time.Second)},
		{Iteration: 2, BestFitness: 1, WorstFitness: 30, Evaluations: 90, Timestamp: now.Add(2 * time.Second)},
	}
	for _, e := range entries {
		if err := tw.Write(e); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	tr, err := NewTraceReader(dir)
	if err != nil {
		t.Fatalf("NewTraceReader failed: %v", err)
	}
	defer tr.Close()

	read, err := tr.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(read) != len(entries) {
		t.Fatalf("Expected %d entries, got %d", len(entries), len(read))
	}
	for i := range entries {
		if read[i].Iteration != entries[i].Iteration || read[i].BestFitness != entries[i].BestFitness {
			t.Errorf("Entry %d mismatch: expected %+v, got %+v", i, entries[i], read[i])
		}
		if read[i].Evaluations != entries[i].Evaluations {
			t.Errorf("Entry %d: expected %d evaluations, got %d", i, entries[i].Evaluations, read[i].Evaluations)
		}
	}
}

func TestTraceWriter_Append(t *testing.T) {
	dir := t.TempDir()

	tw1, err := NewTraceWriter(dir, false)
	if err != nil {
		t.Fatalf("NewTraceWriter failed: %v", err)
	}
	tw1.Write(TraceEntry{Iteration: 0, BestFitness: 3})
	tw1.Close()

	tw2, err := NewTraceWriter(dir, true)
	if err != nil {
		t.Fatalf("NewTraceWriter (append) failed: %v", err)
	}
	tw2.Write(TraceEntry{Iteration: 1, BestFitness: 2})
	tw2.Close()

	tr, err := NewTraceReader(dir)
	if err != nil {
		t.Fatalf("NewTraceReader failed: %v", err)
	}
	defer tr.Close()

	read, _ := tr.ReadAll()
	if len(read) != 2 {
		t.Fatalf("Expected 2 entries after append, got %d", len(read))
	}
	if read[1].Iteration != 1 {
		t.Errorf("Expected appended iteration 1, got %d", read[1].Iteration)
	}
}

func TestTraceWriter_Flush(t *testing.T) {
	dir := t.TempDir()

	tw, err := NewTraceWriter(dir, false)
	if err != nil {
		t.Fatalf("NewTraceWriter failed: %v", err)
	}
	defer tw.Close()

	tw.Write(TraceEntry{Iteration: 0, BestFitness: 1})
	if err := tw.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	info, err := os.Stat(tw.Path())
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() == 0 {
		t.Error("Expected data on disk after Flush")
	}
}

func TestTraceReader_ReadIteratively(t *testing.T) {
	dir := t.TempDir()

	tw, _ := NewTraceWriter(dir, false)
	for i := 0; i < 5; i++ {
		tw.Write(TraceEntry{Iteration: i, BestFitness: Float(5 - i)})
	}
	tw.Close()

	tr, err := NewTraceReader(dir)
	if err != nil {
		t.Fatalf("NewTraceReader failed: %v", err)
	}
	defer tr.Close()

	count := 0
	for {
		entry, err := tr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if entry.Iteration != count {
			t.Errorf("Expected iteration %d, got %d", count, entry.Iteration)
		}
		count++
	}
	if count != 5 {
		t.Errorf("Expected 5 entries, got %d", count)
	}
}

func TestTraceReader_NotFound(t *testing.T) {
	_, err := NewTraceReader(t.TempDir())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestTraceWriter_NonFiniteFitness(t *testing.T) {
	dir := t.TempDir()

	tw, _ := NewTraceWriter(dir, false)
	if err := tw.Write(TraceEntry{Iteration: 0, BestFitness: 1, WorstFitness: Float(math.Inf(1))}); err != nil {
		t.Fatalf("Write with +Inf failed: %v", err)
	}
	tw.Close()

	tr, _ := NewTraceReader(dir)
	defer tr.Close()
	entry, err := tr.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !math.IsNaN(float64(entry.WorstFitness)) {
		t.Errorf("Expected NaN, got %v", entry.WorstFitness)
	}
}

func TestTraceWriter_ConcurrentWrites(t *testing.T) {
	dir := t.TempDir()

	tw, err := NewTraceWriter(dir, false)
	if err != nil {
		t.Fatalf("NewTraceWriter failed: %v", err)
	}

	const goroutines = 10
	const perGoroutine = 20
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				tw.Write(TraceEntry{Iteration: id*perGoroutine + i, BestFitness: 1})
			}
		}(g)
	}
	wg.Wait()
	tw.Close()

	tr, _ := NewTraceReader(dir)
	defer tr.Close()
	read, err := tr.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(read) != goroutines*perGoroutine {
		t.Errorf("Expected %d entries, got %d", goroutines*perGoroutine, len(read))
	}
}
