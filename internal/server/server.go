package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cwbudde/gravbench/internal/bench"
	"github.com/cwbudde/gravbench/internal/opt"
	"github.com/cwbudde/gravbench/internal/store"
)

// Server represents the HTTP server
type Server struct {
	jobManager *JobManager
	store      store.Store
	addr       string
	server     *http.Server
}

// NewServer creates a new HTTP server whose jobs write to st
func NewServer(addr string, st store.Store) *Server {
	return &Server{
		jobManager: NewJobManager(),
		store:      st,
		addr:       addr,
	}
}

// Handler returns the routed and wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobsWithID)
	mux.HandleFunc("/api/v1/attempts", s.handleListAttempts)
	mux.HandleFunc("/api/v1/catalog", s.handleCatalog)

	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown cancels running jobs and gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	s.jobManager.CancelAll()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleJobs handles /api/v1/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobsWithID handles /api/v1/jobs/:id/*
func (s *Server) handleJobsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	jobID := parts[0]

	switch {
	case len(parts) == 1 || parts[1] == "status":
		s.handleGetJobStatus(w, r, jobID)
	case parts[1] == "stream":
		s.handleJobStream(w, r, jobID)
	case parts[1] == "cancel":
		s.handleCancelJob(w, r, jobID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// applyDefaults fills in unset job fields and rejects configs that cannot run
func applyDefaults(config *JobConfig) error {
	if config.Optimizer == "" {
		config.Optimizer = "gsa"
	}
	if _, err := opt.Defaults(config.Optimizer); err != nil {
		return err
	}
	if len(config.Problems) == 0 {
		config.Problems = []string{"Sphere"}
	}
	for _, name := range config.Problems {
		if _, err := bench.Lookup(name); err != nil {
			return err
		}
	}
	if config.Dim <= 0 {
		config.Dim = 10
	}
	if config.Iterations <= 0 {
		config.Iterations = 100
	}
	if config.Attempts <= 0 {
		config.Attempts = 5
	}
	if config.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", config.Workers)
	}
	switch len(config.Grid) {
	case 0:
	case 2:
		for _, axis := range config.Grid {
			if err := axis.Validate(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("grid needs exactly 2 axes, got %d", len(config.Grid))
	}
	return nil
}

// handleCreateJob handles POST /api/v1/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var config JobConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if err := applyDefaults(&config); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job := s.jobManager.CreateJob(config)

	ctx := s.jobManager.Start(context.Background(), job.ID)
	go runJob(ctx, s.jobManager, s.store, job.ID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(job)
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobManager.ListJobs()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobs)
}

// handleGetJobStatus handles GET /api/v1/jobs/:id/status
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	var elapsed time.Duration
	if job.EndTime != nil {
		elapsed = job.EndTime.Sub(job.StartTime)
	} else {
		elapsed = time.Since(job.StartTime)
	}

	response := map[string]interface{}{
		"id":           job.ID,
		"state":        job.State,
		"config":       job.Config,
		"done":         job.Done,
		"total":        job.Total,
		"bestFitness":  job.BestFitness,
		"exportErrors": job.ExportErrors,
		"cells":        job.Cells,
		"elapsed":      elapsed.Seconds(),
		"rate":         attemptRate(job.Done, elapsed),
		"startTime":    job.StartTime,
		"endTime":      job.EndTime,
		"error":        job.Error,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleCancelJob handles POST /api/v1/jobs/:id/cancel
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, exists := s.jobManager.GetJob(jobID); !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if err := s.jobManager.CancelJob(jobID); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleListAttempts handles GET /api/v1/attempts
func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	attempts, err := s.store.ListAttempts()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list attempts: %v", err), http.StatusInternalServerError)
		return
	}
	if problem := r.URL.Query().Get("problem"); problem != "" {
		filtered := attempts[:0]
		for _, a := range attempts {
			if a.Problem == problem {
				filtered = append(filtered, a)
			}
		}
		attempts = filtered
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(attempts)
}

// handleCatalog handles GET /api/v1/catalog
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]string{
		"optimizers": opt.Names(),
		"problems":   bench.Names(),
	})
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
