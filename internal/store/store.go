package store

// AttemptWriter persists the artifacts of a single attempt.
// Implementations write each file atomically.
type AttemptWriter interface {
	// Key identifies the attempt.
	Key() AttemptKey

	// Dir is the directory the artifacts go to.
	Dir() string

	// WriteConfig writes config.json. Run metadata (seed, experiment ID,
	// iteration count, cell) is filled in from the writer's AttemptMeta.
	WriteConfig(cfg *AttemptConfig) error

	// WriteSummary writes summary.json.
	WriteSummary(summary *Summary) error

	// WriteData writes data.json with one entry per recorded iteration.
	WriteData(data []IterationData) error
}

// Store organizes attempt artifacts of experiments.
//
// Error handling conventions:
//   - Return ErrNotFound if an attempt doesn't exist (for Load/Delete)
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// Attempt returns a writer for the given attempt, creating its directory.
	Attempt(key AttemptKey, meta AttemptMeta) (AttemptWriter, error)

	// SaveGridConfig writes <root>/<problem>/grid_search_config.json.
	SaveGridConfig(cfg *GridSearchConfig) error

	// HasResults reports whether any output exists for the problem.
	HasResults(problem string) (bool, error)

	// ResetProblem removes every artifact of the problem.
	ResetProblem(problem string) error

	// LoadSummary reads summary.json of an attempt.
	LoadSummary(key AttemptKey) (*Summary, error)

	// ListAttempts returns metadata for every attempt that has a summary.
	ListAttempts() ([]AttemptInfo, error)

	// DeleteAttempt removes an attempt directory and all its artifacts.
	DeleteAttempt(key AttemptKey) error
}

// ErrNotFound is returned when a requested attempt does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing attempt.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	if e.Key != "" {
		return "attempt not found: " + e.Key
	}
	return "attempt not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
