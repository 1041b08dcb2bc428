package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/gravbench/internal/experiment"
	"github.com/cwbudde/gravbench/internal/store"
)

var (
	serverURL string
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

// jobStatus mirrors the status response of the server.
type jobStatus struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	Config struct {
		Optimizer  string   `json:"optimizer"`
		Problems   []string `json:"problems"`
		Dim        int      `json:"dim"`
		Iterations int      `json:"iterations"`
		Attempts   int      `json:"attempts"`
		Seed       int64    `json:"seed"`
	} `json:"config"`
	Done         int                    `json:"done"`
	Total        int                    `json:"total"`
	BestFitness  store.Float            `json:"bestFitness"`
	ExportErrors int                    `json:"exportErrors"`
	Cells        []experiment.CellStats `json:"cells"`
	Elapsed      float64                `json:"elapsed"`
	Rate         float64                `json:"rate"`
	Error        string                 `json:"error"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		return listJobs(out, fmt.Sprintf("%s/api/v1/jobs", serverURL))
	}
	jobID := args[0]
	return getJobStatus(out, fmt.Sprintf("%s/api/v1/jobs/%s/status", serverURL, jobID), jobID)
}

func fetchJSON(url string, v any) (int, error) {
	resp, err := http.Get(url)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("server returned error: %s", strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func listJobs(out io.Writer, url string) error {
	var jobs []jobStatus
	if _, err := fetchJSON(url, &jobs); err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return nil
	}

	fmt.Fprintf(out, "Found %d job(s):\n\n", len(jobs))
	for _, job := range jobs {
		fmt.Fprintf(out, "Job ID: %s\n", job.ID)
		fmt.Fprintf(out, "  State: %s\n", job.State)
		fmt.Fprintf(out, "  Optimizer: %s\n", job.Config.Optimizer)
		fmt.Fprintf(out, "  Problems: %s\n", strings.Join(job.Config.Problems, ", "))
		fmt.Fprintf(out, "  Progress: %d/%d attempts\n", job.Done, job.Total)
		if job.Done > 0 {
			fmt.Fprintf(out, "  Best: %.6g\n", float64(job.BestFitness))
		}
		fmt.Fprintln(out)
	}

	return nil
}

func getJobStatus(out io.Writer, url, jobID string) error {
	var status jobStatus
	code, err := fetchJSON(url, &status)
	if code == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Job: %s\n", status.ID)
	fmt.Fprintf(out, "State: %s\n", status.State)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  Optimizer: %s\n", status.Config.Optimizer)
	fmt.Fprintf(out, "  Problems: %s\n", strings.Join(status.Config.Problems, ", "))
	fmt.Fprintf(out, "  Dimension: %d\n", status.Config.Dim)
	fmt.Fprintf(out, "  Iterations: %d\n", status.Config.Iterations)
	fmt.Fprintf(out, "  Attempts: %d\n", status.Config.Attempts)
	fmt.Fprintf(out, "  Seed: %d\n", status.Config.Seed)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Progress:")
	fmt.Fprintf(out, "  Attempts: %d/%d\n", status.Done, status.Total)
	if status.Done > 0 {
		fmt.Fprintf(out, "  Best Fitness: %.6g\n", float64(status.BestFitness))
	}
	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Fprintf(out, "  Elapsed: %s\n", elapsed.Round(time.Millisecond))
	if status.Rate > 0 {
		fmt.Fprintf(out, "  Throughput: %.2f attempts/sec\n", status.Rate)
	}
	if status.ExportErrors > 0 {
		fmt.Fprintf(out, "  Export errors: %d\n", status.ExportErrors)
	}

	if len(status.Cells) > 0 {
		fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PROBLEM\tCELL\tATTEMPTS\tBEST\tMEDIAN\tMEAN")
		for _, c := range status.Cells {
			cell := c.Cell
			if cell == "" {
				cell = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%.6g\t%.6g\t%.6g\n",
				c.Problem, cell, c.Attempts, float64(c.Best), float64(c.Median), float64(c.Mean))
		}
		w.Flush()
	}

	if status.Error != "" {
		fmt.Fprintf(out, "\nError: %s\n", status.Error)
	}

	return nil
}
