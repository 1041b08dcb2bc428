package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/cwbudde/gravbench/internal/bench"
	"github.com/cwbudde/gravbench/internal/opt"
	"github.com/cwbudde/gravbench/internal/params"
	"github.com/cwbudde/gravbench/internal/problem"
)

var (
	gridFlags experimentFlags
	gridX     string
	gridY     string
	gridDims  []int
)

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Sweep two parameters (or one parameter and the dimension)",
	Long: `Runs every cell of a parameter grid. Axes come from --x/--y, the parameter
file's grid section, or the optimizer's built-in axes, in that order.

With --dims the Y axis is the problem dimension and exactly one problem is swept.`,
	Example: `  gravbench grid --problems Rastrigin5_12 --x g0=100,1000,5000 --y alpha=1,5,10
  gravbench grid --problems Sphere100 --x alpha=1,5,20 --dims 2,10,30`,
	RunE: runGrid,
}

func init() {
	gridFlags.register(gridCmd)
	gridCmd.Flags().StringVar(&gridX, "x", "", "X axis as key=v1,v2,...")
	gridCmd.Flags().StringVar(&gridY, "y", "", "Y axis as key=v1,v2,...")
	gridCmd.Flags().IntSliceVar(&gridDims, "dims", nil, "Sweep these dimensions instead of a Y parameter")
	rootCmd.AddCommand(gridCmd)
}

func runGrid(cmd *cobra.Command, args []string) error {
	cfg, file, err := gridFlags.resolve(cmd)
	if err != nil {
		return err
	}
	x, y, err := gridAxes(cfg.Optimizer, file)
	if err != nil {
		return err
	}

	runner, err := gridFlags.newRunner(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if len(gridDims) > 0 {
		if len(gridFlags.problems) != 1 {
			return fmt.Errorf("--dims sweeps exactly one problem, got %d", len(gridFlags.problems))
		}
		fn, err := bench.Lookup(gridFlags.problems[0])
		if err != nil {
			return err
		}
		report, err := runner.GridSearchDim(ctx, func(dim int) (*problem.Problem, error) {
			return fn.Problem(dim)
		}, x, gridDims)
		if report != nil {
			printReport(cmd.OutOrStdout(), report)
		}
		return err
	}

	problems, err := resolveProblems(gridFlags.problems, gridFlags.dim)
	if err != nil {
		return err
	}
	report, err := runner.GridSearch(ctx, problems, x, y)
	if report != nil {
		printReport(cmd.OutOrStdout(), report)
	}
	return err
}

// gridAxes picks the sweep axes: flags first, then the parameter file, then
// the optimizer's built-in axes. Each axis falls back independently.
func gridAxes(optimizer string, file *params.File) (x, y params.Axis, err error) {
	if file != nil && len(file.Grid) > 0 {
		if len(file.Grid) != 2 {
			return x, y, fmt.Errorf("parameter file grid needs exactly 2 axes, got %d", len(file.Grid))
		}
		x, y = file.Grid[0], file.Grid[1]
	} else if gridX == "" || (gridY == "" && len(gridDims) == 0) {
		x, y, err = opt.DefaultAxes(optimizer)
		if err != nil {
			return x, y, fmt.Errorf("%w; pass --x and --y", err)
		}
	}

	if gridX != "" {
		if x, err = params.ParseAxis(gridX); err != nil {
			return x, y, err
		}
	}
	if gridY != "" {
		if y, err = params.ParseAxis(gridY); err != nil {
			return x, y, err
		}
	}
	return x, y, nil
}
