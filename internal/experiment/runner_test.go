package experiment

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/cwbudde/gravbench/internal/opt"
	"github.com/cwbudde/gravbench/internal/params"
	"github.com/cwbudde/gravbench/internal/problem"
	"github.com/cwbudde/gravbench/internal/store"
)

func sphere(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return sum
}

func rastrigin(x []float64) float64 {
	sum := 10 * float64(len(x))
	for _, v := range x {
		sum += v*v - 10*math.Cos(2*math.Pi*v)
	}
	return sum
}

func testProblem(t *testing.T, name string, f problem.Objective, dim int) *problem.Problem {
	t.Helper()
	p, err := problem.New(name, f, -5, 5, dim)
	require.NoError(t, err)
	return p
}

func testConfig(t *testing.T) Config {
	t.Helper()
	p, err := opt.Defaults("gsa")
	require.NoError(t, err)
	p["particle_count"] = params.Int(8)
	return Config{
		Optimizer:  "gsa",
		Params:     p,
		Iterations: 10,
		Attempts:   3,
		Seed:       42,
		Workers:    2,
	}
}

func newTestRunner(t *testing.T, dir string, cfg Config, opts ...Option) (*Runner, *store.FSStore) {
	t.Helper()
	st, err := store.NewFSStore(dir)
	require.NoError(t, err)
	opts = append(opts, WithTracerProvider(tracenoop.NewTracerProvider()), WithMeterProvider(metricnoop.NewMeterProvider()))
	r, err := New(st, cfg, opts...)
	require.NoError(t, err)
	return r, st
}

func TestRunSuite_WritesEveryAttempt(t *testing.T) {
	var mu sync.Mutex
	var seen []Progress
	r, st := newTestRunner(t, t.TempDir(), testConfig(t), WithProgress(func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, p)
	}))

	problems := []*problem.Problem{
		testProblem(t, "sphere", sphere, 3),
		testProblem(t, "rastrigin", rastrigin, 2),
	}
	report, err := r.RunSuite(context.Background(), problems)
	require.NoError(t, err)

	assert.Equal(t, 6, report.Completed)
	assert.Zero(t, report.Cancelled)
	assert.Zero(t, report.ExportErrors)
	assert.NotEmpty(t, report.ExperimentID)

	// Results are in task order regardless of completion order.
	for i, res := range report.Results {
		assert.Equal(t, problems[i/3].Name(), res.Key.Problem)
		assert.Equal(t, i%3, res.Key.Attempt)
		assert.Greater(t, res.Evaluations, 0)
	}

	require.Len(t, seen, 6)
	done := make(map[int]bool)
	for _, p := range seen {
		assert.Equal(t, 6, p.Total)
		done[p.Done] = true
	}
	assert.Len(t, done, 6, "every finished attempt should increment the counter once")

	infos, err := st.ListAttempts()
	require.NoError(t, err)
	assert.Len(t, infos, 6)

	cfg, err := st.LoadConfig(store.AttemptKey{Problem: "sphere", Attempt: 1})
	require.NoError(t, err)
	assert.Equal(t, report.ExperimentID, cfg.ExperimentID)
	assert.Equal(t, report.Results[1].Seed, cfg.Seed)
	assert.Equal(t, 10, cfg.Iterations)
	assert.Equal(t, "gsa", cfg.Optimizer)

	summary, err := st.LoadSummary(store.AttemptKey{Problem: "rastrigin", Attempt: 2})
	require.NoError(t, err)
	assert.Len(t, summary.BestFitness, 10)
	assert.Equal(t, report.Results[5].Evaluations, summary.Evaluations)
	assert.Equal(t, report.Results[5].FinalBest, summary.FinalBest)
}

func TestRun_DeterministicAcrossWorkerCounts(t *testing.T) {
	run := func(workers int) []AttemptResult {
		cfg := testConfig(t)
		cfg.Workers = workers
		cfg.Attempts = 4
		r, _ := newTestRunner(t, t.TempDir(), cfg)
		report, err := r.Run(context.Background(), testProblem(t, "sphere", sphere, 4))
		require.NoError(t, err)
		return report.Results
	}

	serial, parallel := run(1), run(4)
	require.Len(t, parallel, len(serial))
	for i := range serial {
		assert.Equal(t, serial[i].Seed, parallel[i].Seed)
		assert.Equal(t, serial[i].FinalBest, parallel[i].FinalBest, "attempt %d", i)
		assert.Equal(t, serial[i].Evaluations, parallel[i].Evaluations, "attempt %d", i)
	}
	assert.NotEqual(t, serial[0].Seed, serial[1].Seed)
}

func TestRun_ConfigErrorBeforeAnyIteration(t *testing.T) {
	cfg := testConfig(t)
	delete(cfg.Params, "g0")
	r, st := newTestRunner(t, t.TempDir(), cfg)

	_, err := r.Run(context.Background(), testProblem(t, "sphere", sphere, 2))
	require.Error(t, err)
	assert.ErrorIs(t, err, params.ErrInvalid)
	assert.Contains(t, err.Error(), "g0")

	exists, err := st.HasResults("sphere")
	require.NoError(t, err)
	assert.False(t, exists, "nothing should be written for an invalid configuration")
}

func TestNew_InvalidConfig(t *testing.T) {
	st, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)

	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"unknown optimizer", func(c *Config) { c.Optimizer = "simplex" }},
		{"zero iterations", func(c *Config) { c.Iterations = 0 }},
		{"zero attempts", func(c *Config) { c.Attempts = 0 }},
		{"negative workers", func(c *Config) { c.Workers = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.modify(&cfg)
			_, err := New(st, cfg)
			assert.Error(t, err)
		})
	}

	_, err = New(nil, testConfig(t))
	assert.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	st, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)
	cfg := testConfig(t)
	cfg.Workers = 0

	r, err := New(st, cfg)
	require.NoError(t, err)
	assert.Greater(t, r.Config().Workers, 0)
	assert.NotEmpty(t, r.Config().ID)
}

func TestOverwritePolicies(t *testing.T) {
	dir := t.TempDir()
	prob := testProblem(t, "sphere", sphere, 2)

	first, st := newTestRunner(t, dir, testConfig(t))
	_, err := first.Run(context.Background(), prob)
	require.NoError(t, err)

	t.Run("fail", func(t *testing.T) {
		r, _ := newTestRunner(t, dir, testConfig(t))
		_, err := r.Run(context.Background(), prob)
		assert.ErrorIs(t, err, ErrExists)

		var exists *ExistsError
		require.True(t, errors.As(err, &exists))
		assert.Equal(t, "sphere", exists.Problem)
	})

	t.Run("merge", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Attempts = 1
		cfg.OnExists = Merge
		r, _ := newTestRunner(t, dir, cfg)
		_, err := r.Run(context.Background(), prob)
		require.NoError(t, err)

		infos, err := st.ListAttempts()
		require.NoError(t, err)
		assert.Len(t, infos, 3)
	})

	t.Run("overwrite", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Attempts = 1
		cfg.OnExists = Overwrite
		r, _ := newTestRunner(t, dir, cfg)
		_, err := r.Run(context.Background(), prob)
		require.NoError(t, err)

		infos, err := st.ListAttempts()
		require.NoError(t, err)
		assert.Len(t, infos, 1)
	})
}

func TestGridSearch(t *testing.T) {
	cfg := testConfig(t)
	cfg.Attempts = 2
	r, st := newTestRunner(t, t.TempDir(), cfg)

	x := params.Axis{Key: "g0", Values: []params.Value{params.Float(100), params.Float(1000)}}
	y := params.Axis{Key: "alpha", Values: []params.Value{params.Float(1), params.Float(5)}}
	report, err := r.GridSearch(context.Background(), []*problem.Problem{testProblem(t, "sphere", sphere, 2)}, x, y)
	require.NoError(t, err)
	assert.Equal(t, 8, report.Completed)

	cells := report.Cells()
	require.Len(t, cells, 4)
	names := make([]string, len(cells))
	for i, c := range cells {
		names[i] = c.Cell
		assert.Equal(t, 2, c.Attempts)
		assert.LessOrEqual(t, float64(c.Best), float64(c.Mean))
	}
	assert.ElementsMatch(t, []string{"g0=100,alpha=1", "g0=100,alpha=5", "g0=1000,alpha=1", "g0=1000,alpha=5"}, names)

	cfgFile, err := st.LoadConfig(store.AttemptKey{Problem: "sphere", Cell: "g0=1000,alpha=5", Attempt: 1})
	require.NoError(t, err)
	assert.Equal(t, 1000.0, cfgFile.Params["g0"])
	assert.Equal(t, "g0=1000,alpha=5", cfgFile.Cell)

	grid, err := st.LoadGridConfig("sphere")
	require.NoError(t, err)
	assert.Equal(t, "g0", grid.X.Key)
	assert.Equal(t, "alpha", grid.Y.Key)
	assert.Equal(t, 2, grid.Attempts)
	assert.Equal(t, report.ExperimentID, grid.ExperimentID)
}

func TestGridSearch_CellsShareSeeds(t *testing.T) {
	r, _ := newTestRunner(t, t.TempDir(), testConfig(t))
	x := params.Axis{Key: "g0", Values: []params.Value{params.Float(100), params.Float(1000)}}
	y := params.Axis{Key: "alpha", Values: []params.Value{params.Float(5)}}

	report, err := r.GridSearch(context.Background(), []*problem.Problem{testProblem(t, "sphere", sphere, 2)}, x, y)
	require.NoError(t, err)
	require.Len(t, report.Results, 6)
	for a := 0; a < 3; a++ {
		assert.Equal(t, report.Results[a].Seed, report.Results[3+a].Seed)
	}
}

func TestGridSearch_InvalidAxes(t *testing.T) {
	r, _ := newTestRunner(t, t.TempDir(), testConfig(t))
	prob := testProblem(t, "sphere", sphere, 2)
	axis := params.Axis{Key: "g0", Values: []params.Value{params.Float(1)}}

	_, err := r.GridSearch(context.Background(), []*problem.Problem{prob}, axis, axis)
	assert.ErrorIs(t, err, params.ErrInvalid)

	_, err = r.GridSearch(context.Background(), []*problem.Problem{prob}, axis, params.Axis{Key: "alpha"})
	assert.ErrorIs(t, err, params.ErrInvalid)

	// A value of the wrong kind is a configuration error, raised up front.
	bad := params.Axis{Key: "particle_count", Values: []params.Value{params.Float(2.5)}}
	_, err = r.GridSearch(context.Background(), []*problem.Problem{prob}, axis, bad)
	assert.ErrorIs(t, err, params.ErrInvalid)
}

func TestGridSearchDim(t *testing.T) {
	cfg := testConfig(t)
	cfg.Attempts = 1
	r, st := newTestRunner(t, t.TempDir(), cfg)

	build := func(dim int) (*problem.Problem, error) {
		return problem.New("sphere", sphere, -5, 5, dim)
	}
	axis := params.Axis{Key: "g0", Values: []params.Value{params.Float(100), params.Float(1000)}}
	report, err := r.GridSearchDim(context.Background(), build, axis, []int{2, 4})
	require.NoError(t, err)
	assert.Equal(t, 4, report.Completed)

	summary, err := st.LoadSummary(store.AttemptKey{Problem: "sphere", Cell: "g0=1000,dim=4", Attempt: 0})
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Dim)

	grid, err := st.LoadGridConfig("sphere")
	require.NoError(t, err)
	assert.Equal(t, "dim", grid.Y.Key)
	assert.Len(t, grid.Y.Values, 2)

	_, err = r.GridSearchDim(context.Background(), build, axis, []int{0})
	assert.Error(t, err)
}

func TestRun_Cancelled(t *testing.T) {
	r, _ := newTestRunner(t, t.TempDir(), testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := r.Run(ctx, testProblem(t, "sphere", sphere, 2))
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Zero(t, report.Completed)
	assert.Equal(t, 3, report.Cancelled)
	assert.Empty(t, report.Cells())
}

func TestRun_SaveDataAndTrace(t *testing.T) {
	cfg := testConfig(t)
	cfg.Attempts = 1
	cfg.SaveData = true
	cfg.Trace = true
	r, st := newTestRunner(t, t.TempDir(), cfg)

	_, err := r.Run(context.Background(), testProblem(t, "sphere", sphere, 2))
	require.NoError(t, err)

	key := store.AttemptKey{Problem: "sphere", Attempt: 0}
	data, err := st.LoadData(key)
	require.NoError(t, err)
	require.Len(t, data, 10)
	assert.Len(t, data[0].Particles, 8)

	tr, err := store.NewTraceReader(filepath.Join(st.BaseDir(), "sphere", "0"))
	require.NoError(t, err)
	defer tr.Close()
	entries, err := tr.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 10)
	assert.Equal(t, 9, entries[9].Iteration)
}

func TestRun_MayflyWithoutSnapshotsIsNotAnExportError(t *testing.T) {
	cfg := Config{
		Optimizer:  "mayfly",
		Params:     params.Params{"particle_count": params.Int(20)},
		Iterations: 5,
		Attempts:   1,
		SaveData:   true,
	}
	r, st := newTestRunner(t, t.TempDir(), cfg)

	report, err := r.Run(context.Background(), testProblem(t, "sphere", sphere, 2))
	require.NoError(t, err)
	assert.Zero(t, report.ExportErrors)

	_, err = st.LoadData(store.AttemptKey{Problem: "sphere", Attempt: 0})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// failingStore hands out writers whose summary writes always fail.
type failingStore struct {
	*store.FSStore
}

func (s failingStore) Attempt(key store.AttemptKey, meta store.AttemptMeta) (store.AttemptWriter, error) {
	w, err := s.FSStore.Attempt(key, meta)
	if err != nil {
		return nil, err
	}
	return failingWriter{w}, nil
}

type failingWriter struct {
	store.AttemptWriter
}

func (failingWriter) WriteSummary(*store.Summary) error {
	return os.ErrPermission
}

func TestRun_ExportErrorsDoNotAbort(t *testing.T) {
	fs, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)
	r, err := New(failingStore{fs}, testConfig(t))
	require.NoError(t, err)

	report, err := r.Run(context.Background(), testProblem(t, "sphere", sphere, 2))
	require.NoError(t, err)
	assert.Equal(t, 3, report.Completed)
	assert.Equal(t, 3, report.ExportErrors)
	for _, res := range report.Results {
		assert.Equal(t, 1, res.ExportErrors)
		assert.Greater(t, res.Evaluations, 0, "in-memory results must survive export failures")
	}
}

func TestDeriveSeed(t *testing.T) {
	seen := make(map[int64]bool)
	for p := 0; p < 5; p++ {
		for a := 0; a < 20; a++ {
			s := deriveSeed(7, p, a)
			assert.False(t, seen[s], "seed collision at problem %d attempt %d", p, a)
			assert.GreaterOrEqual(t, s, int64(0))
			seen[s] = true
		}
	}
	assert.Equal(t, deriveSeed(7, 1, 2), deriveSeed(7, 1, 2))
	assert.NotEqual(t, deriveSeed(7, 1, 2), deriveSeed(8, 1, 2))
}

func TestParseOverwritePolicy(t *testing.T) {
	for _, p := range []OverwritePolicy{Fail, Overwrite, Merge} {
		got, err := ParseOverwritePolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	got, err := ParseOverwritePolicy("MERGE")
	require.NoError(t, err)
	assert.Equal(t, Merge, got)

	_, err = ParseOverwritePolicy("ask")
	assert.Error(t, err)
}
