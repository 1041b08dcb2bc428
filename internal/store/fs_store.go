package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	configFile     = "config.json"
	summaryFile    = "summary.json"
	dataFile       = "data.json"
	gridConfigFile = "grid_search_config.json"
	traceFile      = "trace.jsonl"
)

// FSStore implements the Store interface on the filesystem.
// Attempts live in <baseDir>/<problem>[/<cell>]/<attempt>/.
//
// Thread-safety: every file is written through a unique temp file and an
// atomic rename, and attempts never share a directory, so concurrent
// attempts need no locks.
type FSStore struct {
	baseDir string
}

// NewFSStore creates a new filesystem-based store.
// The baseDir will be created if it doesn't exist.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

// BaseDir returns the output root.
func (fs *FSStore) BaseDir() string {
	return fs.baseDir
}

func (fs *FSStore) problemDir(problem string) string {
	return filepath.Join(fs.baseDir, sanitize(problem))
}

func (fs *FSStore) attemptDir(key AttemptKey) string {
	dir := fs.problemDir(key.Problem)
	if key.Cell != "" {
		dir = filepath.Join(dir, sanitize(key.Cell))
	}
	return filepath.Join(dir, strconv.Itoa(key.Attempt))
}

// Attempt creates the attempt directory and returns its writer.
func (fs *FSStore) Attempt(key AttemptKey, meta AttemptMeta) (AttemptWriter, error) {
	if key.Problem == "" {
		return nil, fmt.Errorf("problem cannot be empty")
	}
	if key.Attempt < 0 {
		return nil, fmt.Errorf("attempt index cannot be negative: %d", key.Attempt)
	}

	dir := fs.attemptDir(key)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create attempt directory: %w", err)
	}
	return &AttemptDir{key: key, meta: meta, dir: dir}, nil
}

// SaveGridConfig writes grid_search_config.json next to the grid cells.
func (fs *FSStore) SaveGridConfig(cfg *GridSearchConfig) error {
	if cfg == nil {
		return fmt.Errorf("grid config cannot be nil")
	}
	if cfg.Problem == "" {
		return &ValidationError{Field: "Problem", Reason: "cannot be empty"}
	}
	if cfg.Timestamp.IsZero() {
		cfg.Timestamp = time.Now()
	}

	dir := fs.problemDir(cfg.Problem)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create problem directory: %w", err)
	}
	return writeJSONAtomic(filepath.Join(dir, gridConfigFile), cfg)
}

// LoadGridConfig reads grid_search_config.json of a problem.
func (fs *FSStore) LoadGridConfig(problem string) (*GridSearchConfig, error) {
	var cfg GridSearchConfig
	if err := readJSON(filepath.Join(fs.problemDir(problem), gridConfigFile), problem, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// HasResults reports whether the problem directory exists and is non-empty.
func (fs *FSStore) HasResults(problem string) (bool, error) {
	entries, err := os.ReadDir(fs.problemDir(problem))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read problem directory: %w", err)
	}
	return len(entries) > 0, nil
}

// ResetProblem removes the problem directory.
func (fs *FSStore) ResetProblem(problem string) error {
	dir := fs.problemDir(problem)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove problem directory: %w", err)
	}
	slog.Debug("Problem output removed", "problem", problem, "path", dir)
	return nil
}

// LoadSummary retrieves summary.json of an attempt.
func (fs *FSStore) LoadSummary(key AttemptKey) (*Summary, error) {
	var s Summary
	if err := readJSON(filepath.Join(fs.attemptDir(key), summaryFile), key.String(), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadConfig retrieves config.json of an attempt.
func (fs *FSStore) LoadConfig(key AttemptKey) (*AttemptConfig, error) {
	var c AttemptConfig
	if err := readJSON(filepath.Join(fs.attemptDir(key), configFile), key.String(), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadData retrieves data.json of an attempt.
func (fs *FSStore) LoadData(key AttemptKey) ([]IterationData, error) {
	var d []IterationData
	if err := readJSON(filepath.Join(fs.attemptDir(key), dataFile), key.String(), &d); err != nil {
		return nil, err
	}
	return d, nil
}

// ListAttempts walks the output tree and returns every attempt that has a
// summary.json, ordered by key.
func (fs *FSStore) ListAttempts() ([]AttemptInfo, error) {
	if _, err := os.Stat(fs.baseDir); os.IsNotExist(err) {
		return []AttemptInfo{}, nil
	}

	infos := []AttemptInfo{}
	err := filepath.WalkDir(fs.baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != summaryFile {
			return nil
		}

		dir := filepath.Dir(path)
		key, ok := fs.keyFromDir(dir)
		if !ok {
			return nil
		}

		summary, err := fs.LoadSummary(key)
		if err != nil {
			slog.Warn("Failed to load summary for listing", "path", path, "error", err)
			return nil
		}

		infos = append(infos, AttemptInfo{
			AttemptKey:  key,
			Optimizer:   summary.Optimizer,
			Dim:         summary.Dim,
			Iterations:  summary.Iterations,
			Evaluations: summary.Evaluations,
			FinalBest:   summary.FinalBest,
			Timestamp:   summary.Timestamp,
			Path:        dir,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan output directory: %w", err)
	}

	sort.Slice(infos, func(i, j int) bool {
		a, b := infos[i].AttemptKey, infos[j].AttemptKey
		if a.Problem != b.Problem {
			return a.Problem < b.Problem
		}
		if a.Cell != b.Cell {
			return a.Cell < b.Cell
		}
		return a.Attempt < b.Attempt
	})

	slog.Debug("Listed attempts", "count", len(infos))
	return infos, nil
}

// keyFromDir parses <problem>/<attempt> or <problem>/<cell>/<attempt>.
func (fs *FSStore) keyFromDir(dir string) (AttemptKey, bool) {
	rel, err := filepath.Rel(fs.baseDir, dir)
	if err != nil {
		return AttemptKey{}, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 || len(parts) > 3 {
		return AttemptKey{}, false
	}
	attempt, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return AttemptKey{}, false
	}
	key := AttemptKey{Problem: parts[0], Attempt: attempt}
	if len(parts) == 3 {
		key.Cell = parts[1]
	}
	return key, true
}

// DeleteAttempt removes the attempt directory and all its artifacts.
func (fs *FSStore) DeleteAttempt(key AttemptKey) error {
	dir := fs.attemptDir(key)

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return &NotFoundError{Key: key.String()}
	} else if err != nil {
		return fmt.Errorf("failed to stat attempt directory: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove attempt directory: %w", err)
	}

	slog.Debug("Attempt deleted", "attempt", key.String(), "path", dir)
	return nil
}

// AttemptDir is the filesystem AttemptWriter.
type AttemptDir struct {
	key  AttemptKey
	meta AttemptMeta
	dir  string
}

func (a *AttemptDir) Key() AttemptKey { return a.key }

func (a *AttemptDir) Dir() string { return a.dir }

// TracePath returns where trace.jsonl of this attempt goes.
func (a *AttemptDir) TracePath() string {
	return filepath.Join(a.dir, traceFile)
}

func (a *AttemptDir) WriteConfig(cfg *AttemptConfig) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	cfg.ExperimentID = a.meta.ExperimentID
	cfg.Seed = a.meta.Seed
	cfg.Iterations = a.meta.Iterations
	cfg.Attempt = a.key.Attempt
	cfg.Cell = a.key.Cell
	if cfg.Timestamp.IsZero() {
		cfg.Timestamp = time.Now()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return writeJSONAtomic(filepath.Join(a.dir, configFile), cfg)
}

func (a *AttemptDir) WriteSummary(summary *Summary) error {
	if summary == nil {
		return fmt.Errorf("summary cannot be nil")
	}
	if summary.Timestamp.IsZero() {
		summary.Timestamp = time.Now()
	}
	if err := summary.Validate(); err != nil {
		return err
	}
	return writeJSONAtomic(filepath.Join(a.dir, summaryFile), summary)
}

func (a *AttemptDir) WriteData(data []IterationData) error {
	return writeJSONAtomic(filepath.Join(a.dir, dataFile), data)
}

// writeJSONAtomic serializes v and moves it into place with a rename.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}

	slog.Debug("Artifact saved", "path", path)
	return nil
}

func readJSON(path, key string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &NotFoundError{Key: key}
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to deserialize %s: %w", filepath.Base(path), err)
	}
	return nil
}

// sanitize keeps a name usable as a single path component.
func sanitize(name string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(name)
}

var _ Store = (*FSStore)(nil)
