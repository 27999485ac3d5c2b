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

package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tombee/gantry/internal/engine"
	internallog "github.com/tombee/gantry/internal/log"
	"github.com/tombee/gantry/internal/workspace"
	gantryerrors "github.com/tombee/gantry/pkg/errors"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusTimeout   JobStatus = "timeout"
)

// Terminal reports whether the status is a final state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusTimeout:
		return true
	}
	return false
}

// ErrDraining is returned by Submit while the runner is shutting down.
var ErrDraining = gantryerrors.New("job runner is draining")

// MetricsCollector defines the interface for recording job metrics.
type MetricsCollector interface {
	RecordJobStart(ctx context.Context, jobID string)
	RecordJobComplete(ctx context.Context, jobID, playbook, status string, duration time.Duration)
}

// ContextBuilder assembles the scratch workspace for one job.
type ContextBuilder interface {
	Build(ctx context.Context, in workspace.BuildInput) (*workspace.Workspace, error)
}

// Engine runs one playbook invocation to completion.
type Engine interface {
	Run(ctx context.Context, spec engine.InvocationSpec) (*engine.Invocation, error)
}

// Job represents one playbook execution. Mutable fields are guarded by
// the owning Ledger's lock; external callers only ever see snapshots.
type Job struct {
	ID         string
	Playbook   string
	Extra      string
	Target     string
	Status     JobStatus
	ExtraVars  map[string]string
	Stdout     string
	Stderr     string
	ExitCode   *int
	Result     map[string]any
	Warning    string
	Error      string
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time

	// Internal
	ctx        context.Context
	cancel     context.CancelFunc
	cancelOnce sync.Once
	stopped    chan struct{}
}

// JobSnapshot is an immutable deep copy of Job state for external access.
// Contains no aliasing to internal mutable state.
type JobSnapshot struct {
	ID         string            `json:"job_id"`
	Playbook   string            `json:"playbook"`
	Extra      string            `json:"extra,omitempty"`
	Target     string            `json:"target,omitempty"`
	Status     JobStatus         `json:"status"`
	ExtraVars  map[string]string `json:"extra_vars,omitempty"`
	Stdout     string            `json:"stdout,omitempty"`
	Stderr     string            `json:"stderr,omitempty"`
	ExitCode   *int              `json:"exit_code,omitempty"`
	Result     map[string]any    `json:"result,omitempty"`
	Warning    string            `json:"warning,omitempty"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Duration   float64           `json:"duration_seconds,omitempty"`
}

// SubmitRequest contains the parameters for submitting a job.
type SubmitRequest struct {
	// Playbook is the playbook artifact name, e.g. "create_hamlet_jcl.yml".
	Playbook string

	// Extra is an optional auxiliary artifact staged next to the playbook.
	Extra string

	// Target overrides the configured inventory host alias.
	Target string

	// ExtraVars are passed to the engine one "-e key=value" each.
	ExtraVars map[string]string
}

// ListFilter contains filtering options for listing jobs.
type ListFilter struct {
	Status   JobStatus
	Playbook string
	Limit    int
}

// Config contains runner configuration.
type Config struct {
	MaxParallel    int
	DefaultTimeout time.Duration
	MaxRetained    int
	TargetName     string
}

// Runner owns the job ledger and executes submitted jobs with bounded
// concurrency.
type Runner struct {
	ledger  *Ledger
	builder ContextBuilder
	engine  Engine
	logger  *slog.Logger

	semaphore  chan struct{}
	defTimeout time.Duration
	targetName string

	mu      sync.RWMutex
	metrics MetricsCollector

	// draining indicates the runner is in graceful shutdown mode
	draining atomic.Bool
}

// New creates a new Runner with the given configuration.
func New(cfg Config, builder ContextBuilder, eng Engine) *Runner {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Minute
	}
	if cfg.TargetName == "" {
		cfg.TargetName = "target"
	}

	return &Runner{
		ledger:     NewLedger(cfg.MaxRetained),
		builder:    builder,
		engine:     eng,
		logger:     internallog.WithComponent(internallog.New(internallog.FromEnv()), "runner"),
		semaphore:  make(chan struct{}, cfg.MaxParallel),
		defTimeout: cfg.DefaultTimeout,
		targetName: cfg.TargetName,
	}
}

// SetMetrics sets the metrics collector for observability.
func (r *Runner) SetMetrics(metrics MetricsCollector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = metrics
}

func (r *Runner) getMetrics() MetricsCollector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics
}

// Submit registers a job and starts its execution in the background,
// returning an immutable snapshot in the pending state.
func (r *Runner) Submit(ctx context.Context, req SubmitRequest) (*JobSnapshot, error) {
	if r.draining.Load() {
		return nil, ErrDraining
	}
	if req.Playbook == "" {
		return nil, &gantryerrors.ValidationError{
			Field:      "playbook",
			Message:    "playbook name is required",
			Suggestion: "provide the playbook file name, e.g. site.yml",
		}
	}

	target := req.Target
	if target == "" {
		target = r.targetName
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:        uuid.NewString(),
		Playbook:  req.Playbook,
		Extra:     req.Extra,
		Target:    target,
		Status:    JobStatusPending,
		ExtraVars: copyVars(req.ExtraVars),
		CreatedAt: time.Now(),
		ctx:       jobCtx,
		cancel:    cancel,
		stopped:   make(chan struct{}),
	}

	r.ledger.Add(job)
	snapshot := r.ledger.Snapshot(job)

	go r.execute(job)

	return snapshot, nil
}

// Get returns an immutable snapshot of a job by ID.
func (r *Runner) Get(id string) (*JobSnapshot, error) {
	return r.ledger.Get(id)
}

// List returns immutable snapshots of all jobs, optionally filtered.
func (r *Runner) List(filter ListFilter) []*JobSnapshot {
	return r.ledger.List(filter)
}

// Cancel requests cancellation of a job. Cancelling a job that already
// reached a terminal state is a no-op success.
func (r *Runner) Cancel(id string) error {
	job, exists := r.ledger.GetInternal(id)
	if !exists {
		return &gantryerrors.NotFoundError{Resource: "job", ID: id}
	}

	if r.ledger.Status(job).Terminal() {
		return nil
	}

	// Signal cancellation via stopped channel (idempotent with sync.Once)
	job.cancelOnce.Do(func() {
		close(job.stopped)
	})

	// Also cancel the context for immediate effect
	job.cancel()

	return nil
}

// StartDraining puts the runner into draining mode.
func (r *Runner) StartDraining() {
	r.draining.Store(true)
}

// IsDraining returns true if the runner is in draining mode.
func (r *Runner) IsDraining() bool {
	return r.draining.Load()
}

// ActiveJobCount returns the number of jobs not yet in a terminal state.
func (r *Runner) ActiveJobCount() int {
	return r.ledger.ActiveCount()
}

// WaitForDrain waits for all active jobs to complete or until the timeout
// is reached.
func (r *Runner) WaitForDrain(ctx context.Context, timeout time.Duration) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeoutCh:
			remaining := r.ActiveJobCount()
			if remaining > 0 {
				return fmt.Errorf("drain timeout: %d job(s) still running", remaining)
			}
			return nil
		case <-ticker.C:
			if r.ActiveJobCount() == 0 {
				return nil
			}
		}
	}
}

func copyVars(vars map[string]string) map[string]string {
	if vars == nil {
		return nil
	}
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}
