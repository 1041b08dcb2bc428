package store

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Float is a float64 that survives JSON encoding when it is not finite.
// NaN and ±Inf are written as null and read back as NaN.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func (f *Float) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = Float(math.NaN())
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// Floats converts a fitness series for persistence.
func Floats(xs []float64) []Float {
	out := make([]Float, len(xs))
	for i, x := range xs {
		out[i] = Float(x)
	}
	return out
}

// AttemptKey addresses one attempt in the output tree:
// <root>/<problem>[/<cell>]/<attempt>. Cell is empty outside grid searches.
type AttemptKey struct {
	Problem string `json:"problem"`
	Cell    string `json:"cell,omitempty"`
	Attempt int    `json:"attempt"`
}

func (k AttemptKey) String() string {
	if k.Cell == "" {
		return fmt.Sprintf("%s/%d", k.Problem, k.Attempt)
	}
	return fmt.Sprintf("%s/%s/%d", k.Problem, k.Cell, k.Attempt)
}

// AttemptMeta is the run context an attempt writer stamps into config.json.
type AttemptMeta struct {
	ExperimentID string
	Seed         int64
	Iterations   int
}

// AttemptConfig is the content of config.json: everything needed to
// reproduce the attempt.
type AttemptConfig struct {
	ExperimentID string         `json:"experiment_id"`
	Problem      string         `json:"problem"`
	Dim          int            `json:"dim"`
	Lower        float64        `json:"lower"`
	Upper        float64        `json:"upper"`
	Optimizer    string         `json:"optimizer"`
	Params       map[string]any `json:"params"`
	Iterations   int            `json:"iterations"`
	Attempt      int            `json:"attempt"`
	Cell         string         `json:"cell,omitempty"`
	Seed         int64          `json:"seed"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Validate checks if the config has the fields needed to reproduce a run.
func (c *AttemptConfig) Validate() error {
	if c.Problem == "" {
		return &ValidationError{Field: "Problem", Reason: "cannot be empty"}
	}
	if c.Optimizer == "" {
		return &ValidationError{Field: "Optimizer", Reason: "cannot be empty"}
	}
	if c.Dim <= 0 {
		return &ValidationError{Field: "Dim", Reason: "must be positive"}
	}
	if !(c.Lower < c.Upper) {
		return &ValidationError{Field: "Lower", Reason: "must be below Upper"}
	}
	if c.Attempt < 0 {
		return &ValidationError{Field: "Attempt", Reason: "cannot be negative"}
	}
	return nil
}

// Summary is the content of summary.json.
type Summary struct {
	Optimizer    string    `json:"optimizer"`
	Problem      string    `json:"problem"`
	Dim          int       `json:"dim"`
	Iterations   int       `json:"iterations"`
	Evaluations  int       `json:"evaluations"`
	BestFitness  []Float   `json:"best_fitness"`
	WorstFitness []Float   `json:"worst_fitness"`
	FinalBest    Float     `json:"final_best"`
	BestPosition []float64 `json:"best_position"`
	Timestamp    time.Time `json:"timestamp"`
}

// Validate checks that the fitness series line up with the iteration count.
func (s *Summary) Validate() error {
	if s.Optimizer == "" {
		return &ValidationError{Field: "Optimizer", Reason: "cannot be empty"}
	}
	if s.Iterations < 0 {
		return &ValidationError{Field: "Iterations", Reason: "cannot be negative"}
	}
	if len(s.BestFitness) != s.Iterations {
		return &ValidationError{
			Field:  "BestFitness",
			Reason: fmt.Sprintf("length mismatch: expected %d entries, got %d", s.Iterations, len(s.BestFitness)),
		}
	}
	if s.WorstFitness != nil && len(s.WorstFitness) != s.Iterations {
		return &ValidationError{
			Field:  "WorstFitness",
			Reason: fmt.Sprintf("length mismatch: expected %d entries, got %d", s.Iterations, len(s.WorstFitness)),
		}
	}
	if s.Evaluations < 0 {
		return &ValidationError{Field: "Evaluations", Reason: "cannot be negative"}
	}
	return nil
}

// ParticleData is one particle of an exported iteration.
type ParticleData struct {
	Fitness Float     `json:"fitness"`
	Pos     []float64 `json:"pos"`
	Vel     []float64 `json:"vel"`
	Mass    *float64  `json:"mass,omitempty"`
}

// IterationData is one element of data.json.
type IterationData struct {
	Iteration         int            `json:"iteration"`
	GlobalBestFitness Float          `json:"global_best_fitness"`
	Particles         []ParticleData `json:"particles"`
}

// GridAxis is one swept parameter.
type GridAxis struct {
	Key    string `json:"key"`
	Values []any  `json:"values"`
}

// GridSearchConfig is the content of grid_search_config.json, written once
// per problem of a sweep.
type GridSearchConfig struct {
	ExperimentID string    `json:"experiment_id"`
	Problem      string    `json:"problem"`
	Optimizer    string    `json:"optimizer"`
	Dim          int       `json:"dim,omitempty"`
	X            GridAxis  `json:"x"`
	Y            GridAxis  `json:"y"`
	Attempts     int       `json:"attempts"`
	Iterations   int       `json:"iterations"`
	Timestamp    time.Time `json:"timestamp"`
}

// AttemptInfo is the listing view of a finished attempt.
type AttemptInfo struct {
	AttemptKey
	Optimizer   string    `json:"optimizer"`
	Dim         int       `json:"dim"`
	Iterations  int       `json:"iterations"`
	Evaluations int       `json:"evaluations"`
	FinalBest   Float     `json:"final_best"`
	Timestamp   time.Time `json:"timestamp"`
	Path        string    `json:"path"`
}

// ValidationError represents an artifact validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
