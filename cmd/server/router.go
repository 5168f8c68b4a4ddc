package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/guido-cesarano/taskpipe/pkg/logger"
	"github.com/guido-cesarano/taskpipe/pkg/ratelimit"
	"github.com/guido-cesarano/taskpipe/pkg/results"
	"github.com/guido-cesarano/taskpipe/pkg/schedule"
	"github.com/guido-cesarano/taskpipe/pkg/tasks"
	"github.com/robfig/cron/v3"
)

// app bundles what the HTTP handlers operate on. limiter may be nil.
type app struct {
	pipeline *pipeline
	results  *results.Store
	limiter  *ratelimit.Limiter
	sched    *schedule.Scheduler
}

// authMiddleware wraps an http.HandlerFunc and enforces API Key authentication.
func authMiddleware(next http.HandlerFunc, requiredKey string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// No key configured: dev mode
		if requiredKey == "" {
			next(w, r)
			return
		}

		if r.Header.Get("X-API-Key") != requiredKey {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}

// enableCORS wraps an http.HandlerFunc and adds CORS headers.
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Authorization, X-API-Key")

		// Preflight requests never reach auth
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// setupRouter configures the HTTP handlers and returns the mux.
// Every route is wrapped as CORS -> Auth -> Handler.
func setupRouter(a *app, apiKey string) *http.ServeMux {
	mux := http.NewServeMux()
	route := func(path, method string, h http.HandlerFunc) {
		mux.HandleFunc(path, enableCORS(authMiddleware(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != method {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
				return
			}
			h(w, r)
		}, apiKey)))
	}

	route("/enqueue", http.MethodPost, a.enqueue)
	route("/result", http.MethodGet, a.result)
	route("/failures", http.MethodGet, a.failures)
	route("/schedule", http.MethodPost, a.schedule)
	route("/unschedule", http.MethodPost, a.unschedule)
	route("/stats", http.MethodGet, a.stats)
	route("/pause", http.MethodPost, a.pause)
	route("/resume", http.MethodPost, a.resume)

	return mux
}

type taskRequest struct {
	Type     string      `json:"type"`     // Task type
	Payload  interface{} `json:"payload"`  // Task data
	Priority int         `json:"priority"` // Optional: 0=Low, 1=Default, 2=High
}

// enqueue submits a task to the first stage.
func (a *app) enqueue(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		http.Error(w, "Missing task type", http.StatusBadRequest)
		return
	}

	if a.limiter != nil {
		allowed, err := a.limiter.Allow(r.Context(), req.Type)
		if err != nil {
			// Fail open so a Redis outage does not block submissions
			logger.Log.Error().Err(err).Msg("Rate limit check failed")
		} else if !allowed {
			logger.Log.Warn().Str("type", req.Type).Msg("Rate limit exceeded")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
	}

	task := tasks.New(req.Type, req.Payload, req.Priority)
	a.pipeline.head().AddPriority(task, task.Priority)

	fmt.Fprintf(w, "Task enqueued: %s\n", task.ID)
}

// result returns the recorded outcome of a task.
func (a *app) result(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("id")
	if taskID == "" {
		http.Error(w, "Missing task ID", http.StatusBadRequest)
		return
	}

	rec, err := a.results.Get(r.Context(), taskID)
	if errors.Is(err, results.ErrNotFound) {
		http.Error(w, "Result not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, rec)
}

// failures lists the most recent failed tasks.
func (a *app) failures(w http.ResponseWriter, r *http.Request) {
	recs, err := a.results.Failures(r.Context(), 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, recs)
}

// schedule registers a cron entry submitting a task to the first stage.
func (a *app) schedule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Spec string `json:"spec"` // Cron expression (e.g. "@every 1m")
		taskRequest
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		http.Error(w, "Missing task type", http.StatusBadRequest)
		return
	}

	tmpl := tasks.New(req.Type, req.Payload, req.Priority)
	entryID, err := a.sched.Schedule(req.Spec, a.pipeline.head(), tmpl)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid cron spec: %v", err), http.StatusBadRequest)
		return
	}

	fmt.Fprintf(w, "Job scheduled with EntryID: %d\n", entryID)
}

// unschedule removes the cron entry named by ?id=.
func (a *app) unschedule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.URL.Query().Get("id"))
	if err != nil {
		http.Error(w, "Invalid entry ID", http.StatusBadRequest)
		return
	}
	if !a.sched.Remove(cron.EntryID(id)) {
		http.Error(w, "Entry not found", http.StatusNotFound)
		return
	}

	fmt.Fprintf(w, "Job removed: %d\n", id)
}

// stats returns the state of every stage.
func (a *app) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, a.pipeline.stats())
}

func (a *app) pause(w http.ResponseWriter, r *http.Request) {
	a.toggle(w, r, true)
}

func (a *app) resume(w http.ResponseWriter, r *http.Request) {
	a.toggle(w, r, false)
}

// toggle pauses or resumes the stage named by ?stage=, or all stages.
func (a *app) toggle(w http.ResponseWriter, r *http.Request, pause bool) {
	stages, ok := a.pipeline.selectStages(r.URL.Query().Get("stage"))
	if !ok {
		http.Error(w, "Unknown stage", http.StatusNotFound)
		return
	}

	for _, q := range stages {
		if pause {
			q.Pause()
		} else {
			q.Resume()
		}
	}
	writeJSON(w, a.pipeline.stats())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
