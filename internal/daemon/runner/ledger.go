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

// Job state management. The ledger owns every Job record and its lock;
// all mutation goes through Mutate and all reads come back as deep-copied
// snapshots so callers never alias internal state.
package runner

import (
	"sync"

	gantryerrors "github.com/tombee/gantry/pkg/errors"
)

// Ledger is an in-memory, insertion-ordered record of jobs with bounded
// retention. Oldest terminal records are pruned once the cap is exceeded;
// jobs still pending or running are never evicted.
type Ledger struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	order       []string
	maxRetained int
}

// NewLedger creates a ledger retaining at most maxRetained records.
// A non-positive cap defaults to 1000.
func NewLedger(maxRetained int) *Ledger {
	if maxRetained <= 0 {
		maxRetained = 1000
	}
	return &Ledger{
		jobs:        make(map[string]*Job),
		order:       make([]string, 0),
		maxRetained: maxRetained,
	}
}

// Add registers a new job and prunes old terminal records past the cap.
func (l *Ledger) Add(job *Job) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.jobs[job.ID] = job
	l.order = append(l.order, job.ID)
	l.prune()
}

// prune removes oldest terminal jobs while over the cap (must hold lock).
func (l *Ledger) prune() {
	if len(l.order) <= l.maxRetained {
		return
	}
	kept := l.order[:0]
	excess := len(l.order) - l.maxRetained
	for _, id := range l.order {
		job := l.jobs[id]
		if excess > 0 && job != nil && job.Status.Terminal() {
			delete(l.jobs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	l.order = kept
}

// Get returns an immutable snapshot of a job by ID.
func (l *Ledger) Get(id string) (*JobSnapshot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	job, ok := l.jobs[id]
	if !ok {
		return nil, &gantryerrors.NotFoundError{Resource: "job", ID: id}
	}
	return l.snapshotJob(job), nil
}

// GetInternal returns the mutable job record. Callers must not touch its
// guarded fields outside Mutate.
func (l *Ledger) GetInternal(id string) (*Job, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	job, ok := l.jobs[id]
	return job, ok
}

// Status returns the job's current status under the lock.
func (l *Ledger) Status(job *Job) JobStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return job.Status
}

// Mutate applies fn to the job under the ledger lock and returns a
// snapshot of the resulting state.
func (l *Ledger) Mutate(job *Job, fn func(*Job)) *JobSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(job)
	return l.snapshotJob(job)
}

// List returns snapshots in insertion order, optionally filtered.
func (l *Ledger) List(filter ListFilter) []*JobSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*JobSnapshot, 0, len(l.order))
	for _, id := range l.order {
		job := l.jobs[id]
		if job == nil {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Playbook != "" && job.Playbook != filter.Playbook {
			continue
		}
		out = append(out, l.snapshotJob(job))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// ActiveCount returns the number of jobs not yet terminal.
func (l *Ledger) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	count := 0
	for _, job := range l.jobs {
		if !job.Status.Terminal() {
			count++
		}
	}
	return count
}

// Snapshot returns an immutable snapshot of the job.
func (l *Ledger) Snapshot(job *Job) *JobSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshotJob(job)
}

// snapshotJob creates an immutable deep copy of a Job (must hold lock).
// Returns a snapshot with no aliasing to internal mutable state.
func (l *Ledger) snapshotJob(job *Job) *JobSnapshot {
	var extraVars map[string]string
	if job.ExtraVars != nil {
		extraVars = make(map[string]string, len(job.ExtraVars))
		for k, v := range job.ExtraVars {
			extraVars[k] = v
		}
	}

	var result map[string]any
	if job.Result != nil {
		result = make(map[string]any, len(job.Result))
		for k, v := range job.Result {
			result[k] = v
		}
	}

	var exitCode *int
	if job.ExitCode != nil {
		code := *job.ExitCode
		exitCode = &code
	}

	snap := &JobSnapshot{
		ID:         job.ID,
		Playbook:   job.Playbook,
		Extra:      job.Extra,
		Target:     job.Target,
		Status:     job.Status,
		ExtraVars:  extraVars,
		Stdout:     job.Stdout,
		Stderr:     job.Stderr,
		ExitCode:   exitCode,
		Result:     result,
		Warning:    job.Warning,
		Error:      job.Error,
		CreatedAt:  job.CreatedAt,
	}
	if job.StartedAt != nil {
		startedAt := *job.StartedAt
		snap.StartedAt = &startedAt
	}
	if job.FinishedAt != nil {
		finishedAt := *job.FinishedAt
		snap.FinishedAt = &finishedAt
	}
	if job.StartedAt != nil && job.FinishedAt != nil {
		snap.Duration = job.FinishedAt.Sub(*job.StartedAt).Seconds()
	}
	return snap
}
