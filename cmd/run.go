package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/gravbench/internal/bench"
	"github.com/cwbudde/gravbench/internal/experiment"
	"github.com/cwbudde/gravbench/internal/opt"
	"github.com/cwbudde/gravbench/internal/params"
	"github.com/cwbudde/gravbench/internal/problem"
	"github.com/cwbudde/gravbench/internal/store"
)

// experimentFlags are shared by run and grid.
type experimentFlags struct {
	problems   []string
	dim        int
	optimizer  string
	paramsPath string
	set        []string
	iters      int
	attempts   int
	seed       int64
	workers    int
	out        string
	onExists   string
	saveData   bool
	trace      bool
}

func (f *experimentFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.problems, "problems", []string{"Sphere100"}, "Benchmark functions (comma separated, see --list)")
	cmd.Flags().IntVar(&f.dim, "dim", 10, "Problem dimensionality")
	cmd.Flags().StringVar(&f.optimizer, "optimizer", "gsa", "Optimizer: "+strings.Join(opt.Names(), ", "))
	cmd.Flags().StringVar(&f.paramsPath, "params", "", "YAML parameter file")
	cmd.Flags().StringArrayVar(&f.set, "set", nil, "Override a parameter (key=value, repeatable)")
	cmd.Flags().IntVar(&f.iters, "iters", 100, "Iterations per attempt")
	cmd.Flags().IntVar(&f.attempts, "attempts", 10, "Attempts per problem (and grid cell)")
	cmd.Flags().Int64Var(&f.seed, "seed", 42, "Base random seed")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "Concurrent attempts (0 = one per CPU)")
	cmd.Flags().StringVar(&f.out, "out", "./results", "Output directory")
	cmd.Flags().StringVar(&f.onExists, "on-exists", "fail", "Existing output policy: fail, overwrite, merge")
	cmd.Flags().BoolVar(&f.saveData, "save-data", false, "Write per-iteration particle snapshots (data.json)")
	cmd.Flags().BoolVar(&f.trace, "trace", false, "Write a JSONL trace of each attempt")
}

// resolve builds the experiment config. It returns the parameter file, if
// any, so grid can fall back to its axes.
func (f *experimentFlags) resolve(cmd *cobra.Command) (experiment.Config, *params.File, error) {
	optimizer := f.optimizer
	var file *params.File
	if f.paramsPath != "" {
		var err error
		file, err = params.LoadFile(f.paramsPath)
		if err != nil {
			return experiment.Config{}, nil, err
		}
		if file.Optimizer != "" && !cmd.Flags().Changed("optimizer") {
			optimizer = file.Optimizer
		}
	}

	p, err := opt.Defaults(optimizer)
	if err != nil {
		return experiment.Config{}, nil, err
	}
	if file != nil {
		p = p.Merge(file.Params)
	}
	for _, kv := range f.set {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return experiment.Config{}, nil, fmt.Errorf("invalid --set %q: expected key=value", kv)
		}
		p = p.With(strings.TrimSpace(key), params.Parse(value))
	}

	policy, err := experiment.ParseOverwritePolicy(f.onExists)
	if err != nil {
		return experiment.Config{}, nil, err
	}

	return experiment.Config{
		Optimizer:  optimizer,
		Params:     p,
		Iterations: f.iters,
		Attempts:   f.attempts,
		Seed:       f.seed,
		Workers:    f.workers,
		OnExists:   policy,
		SaveData:   f.saveData,
		Trace:      f.trace,
	}, file, nil
}

// newRunner opens the output store and wires console progress.
func (f *experimentFlags) newRunner(cfg experiment.Config) (*experiment.Runner, error) {
	st, err := store.NewFSStore(f.out)
	if err != nil {
		return nil, fmt.Errorf("failed to open output directory: %w", err)
	}
	return experiment.New(st, cfg, experiment.WithProgress(func(p experiment.Progress) {
		slog.Info("Attempt finished",
			"progress", fmt.Sprintf("%d/%d", p.Done, p.Total),
			"attempt", p.Result.Key.String(),
			"final_best", float64(p.Result.FinalBest),
			"duration", p.Result.Duration,
		)
	}))
}

var runFlags experimentFlags

var listBenchmarks bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run attempts of one optimizer against benchmark functions",
	Long: `Runs the configured number of independent attempts of an optimizer on every
given benchmark function and writes config.json and summary.json per attempt.`,
	RunE: runExperiment,
}

func init() {
	runFlags.register(runCmd)
	runCmd.Flags().BoolVar(&listBenchmarks, "list", false, "List benchmark functions and optimizers, then exit")
	rootCmd.AddCommand(runCmd)
}

func runExperiment(cmd *cobra.Command, args []string) error {
	if listBenchmarks {
		printCatalog(cmd.OutOrStdout())
		return nil
	}

	cfg, _, err := runFlags.resolve(cmd)
	if err != nil {
		return err
	}
	problems, err := resolveProblems(runFlags.problems, runFlags.dim)
	if err != nil {
		return err
	}
	runner, err := runFlags.newRunner(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	report, err := runner.RunSuite(ctx, problems)
	if report != nil {
		printReport(cmd.OutOrStdout(), report)
	}
	return err
}

// resolveProblems instantiates benchmark functions by name.
func resolveProblems(names []string, dim int) ([]*problem.Problem, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no problems given")
	}
	problems := make([]*problem.Problem, 0, len(names))
	for _, name := range names {
		fn, err := bench.Lookup(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		prob, err := fn.Problem(dim)
		if err != nil {
			return nil, err
		}
		problems = append(problems, prob)
	}
	return problems, nil
}

func printCatalog(w io.Writer) {
	fmt.Fprintln(w, "Benchmarks:")
	for _, name := range bench.Names() {
		fn, _ := bench.Lookup(name)
		fmt.Fprintf(w, "  %-20s [%g, %g]\n", fn.Name, fn.Lo, fn.Hi)
	}
	fmt.Fprintln(w, "Optimizers:")
	for _, name := range opt.Names() {
		fmt.Fprintf(w, "  %s\n", name)
	}
}

// printReport writes per-cell statistics as a table.
func printReport(w io.Writer, report *experiment.Report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROBLEM\tCELL\tATTEMPTS\tBEST\tMEDIAN\tMEAN\tSTD DEV")
	fmt.Fprintln(tw, "-------\t----\t--------\t----\t------\t----\t-------")
	for _, c := range report.Cells() {
		cell := c.Cell
		if cell == "" {
			cell = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.6g\t%.6g\t%.6g\t%.6g\n",
			c.Problem, cell, c.Attempts,
			float64(c.Best), float64(c.Median), float64(c.Mean), float64(c.StdDev))
	}
	tw.Flush()

	fmt.Fprintf(w, "\nExperiment %s: %d completed, %d cancelled, %d export errors in %s\n",
		report.ExperimentID, report.Completed, report.Cancelled, report.ExportErrors, report.Duration.Round(time.Millisecond))
}
