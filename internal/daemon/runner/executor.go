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

// Job execution logic. Contains the core loop that takes a pending job
// through workspace assembly, the engine invocation, and the terminal
// transition, releasing the workspace on every path.
package runner

import (
	"context"
	"errors"
	"time"

	"github.com/tombee/gantry/internal/engine"
	internallog "github.com/tombee/gantry/internal/log"
	"github.com/tombee/gantry/internal/workspace"
	gantryerrors "github.com/tombee/gantry/pkg/errors"
)

// execute runs the job to a terminal state.
func (r *Runner) execute(job *Job) {
	// Check if cancelled before even starting
	select {
	case <-job.stopped:
		r.finish(job, JobStatusFailed, func(j *Job) {
			j.Error = "cancelled before execution started"
		})
		return
	default:
	}

	// Acquire semaphore
	select {
	case r.semaphore <- struct{}{}:
		defer func() { <-r.semaphore }()
	case <-job.stopped:
		r.finish(job, JobStatusFailed, func(j *Job) {
			j.Error = "cancelled while waiting for an execution slot"
		})
		return
	}

	logger := internallog.WithJobContext(r.logger, job.ID, job.Playbook)
	logger.Info("building execution context", internallog.TargetKey, job.Target)

	ws, err := r.builder.Build(job.ctx, workspace.BuildInput{
		Playbook:   job.Playbook,
		Extra:      job.Extra,
		TargetName: job.Target,
	})
	if err != nil {
		// The job never started running; pending goes straight to failed.
		logger.Error("execution context build failed", internallog.Error(err))
		r.finish(job, JobStatusFailed, func(j *Job) {
			j.Error = sanitizeError(err)
		})
		return
	}
	defer ws.Close()

	r.markRunning(job)
	logger.Info("job running")

	inv, err := r.engine.Run(job.ctx, engine.InvocationSpec{
		Playbook:   job.Playbook,
		Inventory:  "inventory.yml",
		ExtraVars:  job.ExtraVars,
		WorkDir:    ws.Dir,
		ConfigPath: ws.ConfigPath,
		Timeout:    r.defTimeout,
	})
	if err != nil {
		var te *gantryerrors.ExecutionTimeoutError
		switch {
		case errors.As(err, &te):
			logger.Warn("job timed out",
				internallog.DurationKey, r.defTimeout.Milliseconds())
			r.finish(job, JobStatusTimeout, func(j *Job) {
				j.Error = sanitizeError(err)
				j.Stdout = te.Stdout
				j.Stderr = te.Stderr
			})
		case errors.Is(err, context.Canceled):
			logger.Info("job cancelled")
			r.finish(job, JobStatusFailed, func(j *Job) {
				j.Error = "cancelled"
			})
		default:
			logger.Error("engine invocation failed", internallog.Error(err))
			r.finish(job, JobStatusFailed, func(j *Job) {
				j.Error = sanitizeError(err)
			})
		}
		return
	}

	outcome := engine.Interpret(inv, ws.ResultPath)

	status := JobStatusSucceeded
	if outcome.Status == engine.StatusFailed {
		status = JobStatusFailed
	}

	snap := r.finish(job, status, func(j *Job) {
		code := outcome.ExitCode
		j.ExitCode = &code
		j.Stdout = outcome.Stdout
		j.Stderr = outcome.Stderr
		j.Result = outcome.Result
		j.Warning = outcome.Warning
		if status == JobStatusFailed {
			j.Error = "playbook exited non-zero"
		}
	})

	logger.Info("job finished",
		internallog.StatusKey, string(status),
		internallog.DurationKey, int64(snap.Duration*1000))
}

// markRunning transitions a pending job to running and records the start.
func (r *Runner) markRunning(job *Job) {
	r.ledger.Mutate(job, func(j *Job) {
		now := time.Now()
		j.Status = JobStatusRunning
		j.StartedAt = &now
	})
	if m := r.getMetrics(); m != nil {
		m.RecordJobStart(context.Background(), job.ID)
	}
}

// finish moves a job to a terminal state exactly once and records
// completion metrics. Extra mutations run inside the same transition.
func (r *Runner) finish(job *Job, status JobStatus, fn func(*Job)) *JobSnapshot {
	snap := r.ledger.Mutate(job, func(j *Job) {
		if j.Status.Terminal() {
			return
		}
		now := time.Now()
		j.Status = status
		j.FinishedAt = &now
		if fn != nil {
			fn(j)
		}
	})
	job.cancel()

	if m := r.getMetrics(); m != nil {
		var duration time.Duration
		switch {
		case snap.StartedAt != nil && snap.FinishedAt != nil:
			duration = snap.FinishedAt.Sub(*snap.StartedAt)
		case snap.FinishedAt != nil:
			duration = snap.FinishedAt.Sub(snap.CreatedAt)
		}
		m.RecordJobComplete(context.Background(), snap.ID, snap.Playbook, string(snap.Status), duration)
	}
	return snap
}

// sanitizeError reduces an execution error to a kind plus summary safe to
// store on the job record: no filesystem paths, no key material.
func sanitizeError(err error) string {
	var notFound *gantryerrors.ArtifactNotFoundError
	if errors.As(err, &notFound) {
		return "artifact not found: " + notFound.Key
	}
	var fetch *gantryerrors.ArtifactFetchError
	if errors.As(err, &fetch) {
		return "artifact fetch failed: " + fetch.Key
	}
	var build *gantryerrors.ContextBuildError
	if errors.As(err, &build) {
		return "execution context build failed: " + build.Reason
	}
	var timeout *gantryerrors.ExecutionTimeoutError
	if errors.As(err, &timeout) {
		return "execution timed out after " + timeout.Timeout.String()
	}
	var infra *gantryerrors.InfrastructureError
	if errors.As(err, &infra) {
		return "infrastructure failure: " + infra.Op
	}
	var validation *gantryerrors.ValidationError
	if errors.As(err, &validation) {
		return validation.Message
	}
	return "execution failed"
}
