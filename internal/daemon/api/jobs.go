// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tombee/gantry/internal/daemon/httputil"
	"github.com/tombee/gantry/internal/daemon/runner"
	gantryerrors "github.com/tombee/gantry/pkg/errors"
)

// JobsHandler handles job-related API requests.
type JobsHandler struct {
	runner *runner.Runner
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(r *runner.Runner) *JobsHandler {
	return &JobsHandler{runner: r}
}

// RegisterRoutes registers job API routes on the router.
func (h *JobsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /jobs", h.handleCreate)
	mux.HandleFunc("GET /jobs", h.handleList)
	mux.HandleFunc("GET /jobs/{id}", h.handleGet)
	mux.HandleFunc("DELETE /jobs/{id}", h.handleCancel)
}

// CreateJobRequest is the request body for submitting a job.
type CreateJobRequest struct {
	Playbook  string            `json:"playbook"`
	Extra     string            `json:"extra,omitempty"`
	Target    string            `json:"target,omitempty"`
	ExtraVars map[string]string `json:"extra_vars,omitempty"`
}

// handleCreate handles POST /jobs.
func (h *JobsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	// Check if runner is draining (graceful shutdown in progress)
	if h.runner.IsDraining() {
		w.Header().Set("Retry-After", "10")
		writeError(w, http.StatusServiceUnavailable, "daemon is shutting down gracefully")
		return
	}

	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	if err := validateJobRequest(req); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	job, err := h.runner.Submit(r.Context(), runner.SubmitRequest{
		Playbook:  req.Playbook,
		Extra:     req.Extra,
		Target:    req.Target,
		ExtraVars: req.ExtraVars,
	})
	if err != nil {
		if errors.Is(err, runner.ErrDraining) {
			w.Header().Set("Retry-After", "10")
			writeError(w, http.StatusServiceUnavailable, "daemon is shutting down gracefully")
			return
		}
		httputil.WriteDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

// validateJobRequest rejects requests that could never become a valid
// workspace. Artifact names are bare file names, never paths.
func validateJobRequest(req CreateJobRequest) error {
	if req.Playbook == "" {
		return &gantryerrors.ValidationError{
			Field:      "playbook",
			Message:    "playbook name is required",
			Suggestion: "provide the playbook file name, e.g. create_hamlet_jcl.yml",
		}
	}
	for field, name := range map[string]string{"playbook": req.Playbook, "extra": req.Extra} {
		if name == "" {
			continue
		}
		if strings.ContainsAny(name, `/\`) || name == ".." {
			return &gantryerrors.ValidationError{
				Field:      field,
				Message:    "artifact names must not contain path separators",
				Suggestion: "use the bare file name",
			}
		}
	}
	return nil
}

// handleList handles GET /jobs.
func (h *JobsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := runner.ListFilter{}

	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = runner.JobStatus(status)
	}
	if playbook := r.URL.Query().Get("playbook"); playbook != "" {
		filter.Playbook = playbook
	}

	jobs := h.runner.List(filter)
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleGet handles GET /jobs/{id}.
func (h *JobsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "job ID required")
		return
	}

	job, err := h.runner.Get(id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// handleCancel handles DELETE /jobs/{id}. Cancelling an already
// finished job succeeds without changing it.
func (h *JobsHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "job ID required")
		return
	}

	if err := h.runner.Cancel(id); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "cancelled",
		"message": "job cancellation requested",
	})
}
