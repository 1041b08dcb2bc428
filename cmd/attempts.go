package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/gravbench/internal/store"
)

var (
	attemptsDir     string
	attemptsProblem string
	keepLast        int
	olderThanDays   int
	forceClean      bool
)

var attemptsCmd = &cobra.Command{
	Use:   "attempts",
	Short: "Manage stored attempt results",
	Long:  `List and clean the attempt directories written by run and grid.`,
}

var listAttemptsCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored attempts",
	Long:  `Display every attempt with its problem, cell, optimizer, final best fitness and size on disk.`,
	RunE:  runListAttempts,
}

var cleanAttemptsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete old attempts",
	Long: `Delete attempts based on a retention policy. --keep-last keeps the newest N
attempts of every problem and grid cell; --older-than deletes attempts older than N days.`,
	RunE: runCleanAttempts,
}

func init() {
	rootCmd.AddCommand(attemptsCmd)

	attemptsCmd.AddCommand(listAttemptsCmd)
	attemptsCmd.AddCommand(cleanAttemptsCmd)

	attemptsCmd.PersistentFlags().StringVar(&attemptsDir, "out", "./results", "Output directory written by run and grid")
	attemptsCmd.PersistentFlags().StringVar(&attemptsProblem, "problem", "", "Only consider attempts of this problem")

	cleanAttemptsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the newest N attempts per problem and cell (0 = keep all)")
	cleanAttemptsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete attempts older than N days (0 = no age limit)")
	cleanAttemptsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

// loadAttempts lists the attempts under attemptsDir, filtered by --problem.
func loadAttempts() (*store.FSStore, []store.AttemptInfo, error) {
	st, err := store.NewFSStore(attemptsDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open output directory: %w", err)
	}
	infos, err := st.ListAttempts()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	if attemptsProblem == "" {
		return st, infos, nil
	}
	filtered := infos[:0]
	for _, info := range infos {
		if info.Problem == attemptsProblem {
			filtered = append(filtered, info)
		}
	}
	return st, filtered, nil
}

func runListAttempts(cmd *cobra.Command, args []string) error {
	_, infos, err := loadAttempts()
	if err != nil {
		return err
	}

	out := outWriter(cmd)
	if len(infos) == 0 {
		fmt.Fprintln(out, "No attempts found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROBLEM\tCELL\tATTEMPT\tOPTIMIZER\tDIM\tFINAL BEST\tTIMESTAMP\tSIZE")
	fmt.Fprintln(w, "-------\t----\t-------\t---------\t---\t----------\t---------\t----")

	for _, info := range infos {
		size, err := getDirSize(info.Path)
		sizeStr := "unknown"
		if err == nil {
			sizeStr = formatBytes(size)
		}

		cell := info.Cell
		if cell == "" {
			cell = "-"
		}

		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%.6g\t%s\t%s\n",
			info.Problem,
			cell,
			info.Attempt,
			info.Optimizer,
			info.Dim,
			float64(info.FinalBest),
			info.Timestamp.Format("2006-01-02 15:04:05"),
			sizeStr,
		)
	}

	w.Flush()

	fmt.Fprintf(out, "\nTotal attempts: %d\n", len(infos))
	return nil
}

func runCleanAttempts(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	st, infos, err := loadAttempts()
	if err != nil {
		return err
	}

	out := outWriter(cmd)
	if len(infos) == 0 {
		fmt.Fprintln(out, "No attempts to clean.")
		return nil
	}

	toDelete := selectForDeletion(infos, keepLast, olderThanDays)
	if len(toDelete) == 0 {
		fmt.Fprintln(out, "No attempts match deletion criteria.")
		return nil
	}

	fmt.Fprintf(out, "Found %d attempt(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Fprintf(out, "  - %s (%s)\n", info.AttemptKey, info.Timestamp.Format("2006-01-02 15:04:05"))
	}

	if !forceClean {
		fmt.Fprint(out, "\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	deleted := 0
	failed := 0
	for _, info := range toDelete {
		if err := st.DeleteAttempt(info.AttemptKey); err != nil {
			slog.Error("Failed to delete attempt", "attempt", info.AttemptKey.String(), "error", err)
			failed++
		} else {
			slog.Debug("Deleted attempt", "attempt", info.AttemptKey.String())
			deleted++
		}
	}

	fmt.Fprintf(out, "\nDeleted %d attempt(s), %d failed.\n", deleted, failed)
	return nil
}

// selectForDeletion applies the retention policy. Attempts are grouped by
// problem and cell; keepLast keeps the newest N of every group.
func selectForDeletion(infos []store.AttemptInfo, keepLast int, olderThanDays int) []store.AttemptInfo {
	var toDelete []store.AttemptInfo
	selected := make(map[store.AttemptKey]bool)
	mark := func(info store.AttemptInfo) {
		if !selected[info.AttemptKey] {
			selected[info.AttemptKey] = true
			toDelete = append(toDelete, info)
		}
	}

	if olderThanDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -olderThanDays)
		for _, info := range infos {
			if info.Timestamp.Before(cutoff) {
				mark(info)
			}
		}
	}

	if keepLast > 0 {
		type group struct{ problem, cell string }
		groups := make(map[group][]store.AttemptInfo)
		var order []group
		for _, info := range infos {
			g := group{info.Problem, info.Cell}
			if _, ok := groups[g]; !ok {
				order = append(order, g)
			}
			groups[g] = append(groups[g], info)
		}

		for _, g := range order {
			members := groups[g]
			if len(members) <= keepLast {
				continue
			}
			// Oldest first
			sort.SliceStable(members, func(i, j int) bool {
				return members[i].Timestamp.Before(members[j].Timestamp)
			})
			for _, info := range members[:len(members)-keepLast] {
				mark(info)
			}
		}
	}

	return toDelete
}

func outWriter(cmd *cobra.Command) io.Writer {
	if cmd == nil {
		return os.Stdout
	}
	return cmd.OutOrStdout()
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
