package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/cwbudde/gravbench/internal/opt"
	"github.com/cwbudde/gravbench/internal/params"
	"github.com/cwbudde/gravbench/internal/problem"
	"github.com/cwbudde/gravbench/internal/store"
)

// Progress is passed to the progress callback after every finished attempt.
type Progress struct {
	Done   int
	Total  int
	Result AttemptResult
}

// Option configures a Runner.
type Option func(*Runner)

// WithProgress installs a callback invoked once per finished attempt. It
// runs on worker goroutines and must be safe for concurrent use.
func WithProgress(fn func(Progress)) Option {
	return func(r *Runner) { r.progress = fn }
}

// WithTracerProvider sets the provider of attempt spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Runner) { r.tracerProvider = tp }
}

// WithMeterProvider sets the provider of attempt metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(r *Runner) { r.meterProvider = mp }
}

// Runner executes the attempts of one experiment configuration.
// A Runner may be reused for several sweeps; each call gets its own report.
type Runner struct {
	store store.Store
	cfg   Config

	progress       func(Progress)
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	telemetry      *telemetry
}

// New validates cfg and returns a runner writing to st.
func New(st store.Store, cfg Config, opts ...Option) (*Runner, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if err := cfg.normalize(); err != nil {
		return nil, fmt.Errorf("invalid experiment config: %w", err)
	}

	r := &Runner{store: st, cfg: cfg}
	for _, o := range opts {
		o(r)
	}

	t, err := newTelemetry(r.tracerProvider, r.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	r.telemetry = t
	return r, nil
}

// Config returns the normalized configuration.
func (r *Runner) Config() Config { return r.cfg }

// task is one attempt waiting to run.
type task struct {
	prob         *problem.Problem
	problemIndex int
	key          store.AttemptKey
	params       params.Params
}

// Run runs the configured attempts against a single problem.
func (r *Runner) Run(ctx context.Context, prob *problem.Problem) (*Report, error) {
	return r.RunSuite(ctx, []*problem.Problem{prob})
}

// RunSuite runs the configured attempts against every problem. Attempts of
// all problems share the worker pool.
func (r *Runner) RunSuite(ctx context.Context, problems []*problem.Problem) (*Report, error) {
	if len(problems) == 0 {
		return nil, fmt.Errorf("no problems given")
	}

	var tasks []*task
	for pi, prob := range problems {
		for a := 0; a < r.cfg.Attempts; a++ {
			tasks = append(tasks, &task{
				prob:         prob,
				problemIndex: pi,
				key:          store.AttemptKey{Problem: prob.Name(), Attempt: a},
				params:       r.cfg.Params,
			})
		}
	}
	return r.execute(ctx, "experiment.run", tasks, nil)
}

// GridSearch sweeps the Cartesian product of two parameter axes. Every cell
// runs the configured number of attempts per problem and is stored under
// the cell name "x=..,y=..".
func (r *Runner) GridSearch(ctx context.Context, problems []*problem.Problem, x, y params.Axis) (*Report, error) {
	if len(problems) == 0 {
		return nil, fmt.Errorf("no problems given")
	}
	if err := validateAxes(x, y); err != nil {
		return nil, err
	}

	var tasks []*task
	for pi, prob := range problems {
		for _, xv := range x.Values {
			for _, yv := range y.Values {
				p := r.cfg.Params.With(x.Key, xv).With(y.Key, yv)
				cell := p.Display(x.Key, y.Key)
				for a := 0; a < r.cfg.Attempts; a++ {
					tasks = append(tasks, &task{
						prob:         prob,
						problemIndex: pi,
						key:          store.AttemptKey{Problem: prob.Name(), Cell: cell, Attempt: a},
						params:       p,
					})
				}
			}
		}
	}

	grids := make([]*store.GridSearchConfig, len(problems))
	for i, prob := range problems {
		grids[i] = &store.GridSearchConfig{
			Problem: prob.Name(),
			Dim:     prob.Dim(),
			X:       gridAxis(x),
			Y:       gridAxis(y),
		}
	}
	return r.execute(ctx, "experiment.grid_search", tasks, grids)
}

// GridSearchDim sweeps one parameter axis against a list of
// dimensionalities of the problem family built by build. Cells are named
// "key=..,dim=..".
func (r *Runner) GridSearchDim(ctx context.Context, build func(dim int) (*problem.Problem, error), axis params.Axis, dims []int) (*Report, error) {
	if err := axis.Validate(); err != nil {
		return nil, err
	}
	if len(dims) == 0 {
		return nil, fmt.Errorf("no dimensions given")
	}

	problems := make([]*problem.Problem, len(dims))
	for i, dim := range dims {
		prob, err := build(dim)
		if err != nil {
			return nil, fmt.Errorf("failed to build problem of dimension %d: %w", dim, err)
		}
		problems[i] = prob
	}

	var tasks []*task
	for _, v := range axis.Values {
		p := r.cfg.Params.With(axis.Key, v)
		for di, prob := range problems {
			cell := fmt.Sprintf("%s,dim=%d", p.Display(axis.Key), prob.Dim())
			for a := 0; a < r.cfg.Attempts; a++ {
				tasks = append(tasks, &task{
					prob:         prob,
					problemIndex: di,
					key:          store.AttemptKey{Problem: prob.Name(), Cell: cell, Attempt: a},
					params:       p,
				})
			}
		}
	}

	dimValues := make([]any, len(dims))
	for i, d := range dims {
		dimValues[i] = d
	}
	grid := &store.GridSearchConfig{
		Problem: problems[0].Name(),
		X:       gridAxis(axis),
		Y:       store.GridAxis{Key: "dim", Values: dimValues},
	}
	return r.execute(ctx, "experiment.grid_search_dim", tasks, []*store.GridSearchConfig{grid})
}

func validateAxes(x, y params.Axis) error {
	if err := x.Validate(); err != nil {
		return err
	}
	if err := y.Validate(); err != nil {
		return err
	}
	if x.Key == y.Key {
		return &params.Error{Key: x.Key, Reason: "cannot be swept on both axes"}
	}
	return nil
}

func gridAxis(a params.Axis) store.GridAxis {
	values := make([]any, len(a.Values))
	for i, v := range a.Values {
		values[i] = v.Interface()
	}
	return store.GridAxis{Key: a.Key, Values: values}
}

// execute validates every distinct configuration, applies the overwrite
// policy, writes the grid configs and runs all tasks on the worker pool.
func (r *Runner) execute(ctx context.Context, spanName string, tasks []*task, grids []*store.GridSearchConfig) (*Report, error) {
	if err := r.validate(tasks); err != nil {
		return nil, err
	}
	if err := r.prepareOutput(tasks); err != nil {
		return nil, err
	}

	ctx, span := r.telemetry.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("experiment_id", r.cfg.ID),
		attribute.String("optimizer", r.cfg.Optimizer),
		attribute.Int("attempts", len(tasks)),
		attribute.Int("workers", r.cfg.Workers),
	))
	defer span.End()

	report := &Report{
		ExperimentID: r.cfg.ID,
		Optimizer:    r.cfg.Optimizer,
		Results:      make([]AttemptResult, len(tasks)),
	}

	var gridErrors int
	for _, g := range grids {
		g.ExperimentID = r.cfg.ID
		g.Optimizer = r.cfg.Optimizer
		g.Attempts = r.cfg.Attempts
		g.Iterations = r.cfg.Iterations
		if err := r.store.SaveGridConfig(g); err != nil {
			slog.Error("Failed to save grid config", "problem", g.Problem, "error", err)
			gridErrors++
		}
	}

	slog.Info("Starting experiment",
		"experiment_id", r.cfg.ID,
		"optimizer", r.cfg.Optimizer,
		"attempts", len(tasks),
		"iterations", r.cfg.Iterations,
		"workers", r.cfg.Workers,
	)

	start := time.Now()
	var done atomic.Int64
	var progressMu sync.Mutex

	p := pool.New().WithMaxGoroutines(r.cfg.Workers)
	for i, t := range tasks {
		p.Go(func() {
			if ctx.Err() != nil {
				report.Results[i] = AttemptResult{Key: t.key, Err: ctx.Err(), Skipped: true}
				return
			}

			res := r.runAttempt(ctx, t)
			report.Results[i] = res
			if res.Err != nil {
				return
			}

			n := int(done.Add(1))
			if r.progress != nil {
				progressMu.Lock()
				r.progress(Progress{Done: n, Total: len(tasks), Result: res})
				progressMu.Unlock()
			}
		})
	}
	p.Wait()

	report.Duration = time.Since(start)
	report.tally()
	report.ExportErrors += gridErrors

	span.SetAttributes(
		attribute.Int("completed", report.Completed),
		attribute.Int("export_errors", report.ExportErrors),
	)

	slog.Info("Experiment finished",
		"experiment_id", r.cfg.ID,
		"completed", report.Completed,
		"cancelled", report.Cancelled,
		"export_errors", report.ExportErrors,
		"elapsed", report.Duration,
	)

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("experiment interrupted after %d of %d attempts: %w", report.Completed, len(tasks), err)
	}
	return report, nil
}

// validate builds every distinct (problem, parameter set) once so that
// configuration errors surface before any iteration runs.
func (r *Runner) validate(tasks []*task) error {
	type combo struct {
		prob *problem.Problem
		cell string
	}
	seen := make(map[combo]bool)
	for _, t := range tasks {
		c := combo{t.prob, t.key.Cell}
		if seen[c] {
			continue
		}
		seen[c] = true
		if err := opt.Validate(r.cfg.Optimizer, t.prob, t.params); err != nil {
			if t.key.Cell != "" {
				return fmt.Errorf("invalid parameters for %s/%s: %w", t.key.Problem, t.key.Cell, err)
			}
			return fmt.Errorf("invalid parameters for %s: %w", t.key.Problem, err)
		}
	}
	return nil
}

// prepareOutput applies the overwrite policy once per problem name.
func (r *Runner) prepareOutput(tasks []*task) error {
	seen := make(map[string]bool)
	for _, t := range tasks {
		name := t.key.Problem
		if seen[name] {
			continue
		}
		seen[name] = true

		exists, err := r.store.HasResults(name)
		if err != nil {
			return fmt.Errorf("failed to inspect output of %s: %w", name, err)
		}
		if !exists {
			continue
		}

		switch r.cfg.OnExists {
		case Fail:
			return &ExistsError{Problem: name}
		case Overwrite:
			slog.Warn("Overwriting existing output", "problem", name)
			if err := r.store.ResetProblem(name); err != nil {
				return fmt.Errorf("failed to reset output of %s: %w", name, err)
			}
		case Merge:
			slog.Info("Merging into existing output", "problem", name)
		}
	}
	return nil
}

// runAttempt runs one attempt to completion and exports its artifacts.
// Export failures are logged and counted; they never fail the attempt.
func (r *Runner) runAttempt(ctx context.Context, t *task) AttemptResult {
	ctx, span := r.telemetry.startAttempt(ctx, r.cfg.Optimizer, t)
	defer span.End()

	seed := deriveSeed(r.cfg.Seed, t.problemIndex, t.key.Attempt)
	res := AttemptResult{Key: t.key, Seed: seed}
	start := time.Now()
	log := slog.With("problem", t.key.Problem, "cell", t.key.Cell, "attempt", t.key.Attempt)

	exportFailed := func(what string, err error) {
		log.Error("Failed to export attempt", "artifact", what, "error", err)
		res.ExportErrors++
	}

	w, err := r.store.Attempt(t.key, store.AttemptMeta{
		ExperimentID: r.cfg.ID,
		Seed:         seed,
		Iterations:   r.cfg.Iterations,
	})
	if err != nil {
		exportFailed("directory", err)
	}

	optOpts := []opt.Option{opt.WithSnapshots(r.cfg.SaveData)}
	var tw *store.TraceWriter
	if r.cfg.Trace && w != nil {
		tw, err = store.NewTraceWriter(w.Dir(), false)
		if err != nil {
			exportFailed("trace", err)
		} else {
			optOpts = append(optOpts, opt.WithObserver(traceObserver(tw, exportFailed)))
		}
	}

	prob := t.prob.Clone()
	o, err := opt.New(r.cfg.Optimizer, prob, t.params, rand.New(rand.NewSource(seed)), optOpts...)
	if err != nil {
		// Configurations are validated up front; this only fires on a
		// problem whose objective changed between validation and run.
		res.Err = err
		closeTrace(tw, exportFailed)
		r.telemetry.finishAttempt(ctx, span, r.cfg.Optimizer, &res)
		return res
	}

	runErr := o.Run(ctx, r.cfg.Iterations)
	closeTrace(tw, exportFailed)
	res.Duration = time.Since(start)
	res.FinalBest = store.Float(o.GlobalBestFitness())
	res.Evaluations = prob.Evaluations()

	if runErr != nil {
		res.Err = runErr
		log.Info("Attempt cancelled", "iterations_done", len(o.History()))
		r.telemetry.finishAttempt(ctx, span, r.cfg.Optimizer, &res)
		return res
	}

	if w != nil {
		if err := o.SaveConfig(w, t.params); err != nil {
			exportFailed("config", err)
		}
		if err := o.SaveSummary(w); err != nil {
			exportFailed("summary", err)
		}
		if r.cfg.SaveData {
			if err := o.SaveData(w); errors.Is(err, opt.ErrNoSnapshots) {
				log.Warn("Optimizer does not export population data", "optimizer", o.Name())
			} else if err != nil {
				exportFailed("data", err)
			}
		}
	}

	log.Debug("Attempt finished",
		"final_best", res.FinalBest,
		"evaluations", res.Evaluations,
		"elapsed", res.Duration,
	)
	r.telemetry.finishAttempt(ctx, span, r.cfg.Optimizer, &res)
	return res
}

// traceObserver appends one trace line per iteration. Only the first write
// failure is reported.
func traceObserver(tw *store.TraceWriter, fail func(string, error)) opt.Observer {
	failed := false
	return func(iteration int, rec opt.Record, evaluations int) {
		if failed {
			return
		}
		err := tw.Write(store.TraceEntry{
			Iteration:    iteration,
			BestFitness:  store.Float(rec.Best),
			WorstFitness: store.Float(rec.Worst),
			Evaluations:  evaluations,
			Timestamp:    time.Now(),
		})
		if err != nil {
			failed = true
			fail("trace", err)
		}
	}
}

func closeTrace(tw *store.TraceWriter, fail func(string, error)) {
	if tw == nil {
		return
	}
	if err := tw.Close(); err != nil {
		fail("trace", err)
	}
}
