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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gantryerrors "github.com/tombee/gantry/pkg/errors"
)

func newLedgerJob(id, playbook string, status JobStatus) *Job {
	return &Job{
		ID:        id,
		Playbook:  playbook,
		Status:    status,
		CreatedAt: time.Now(),
		stopped:   make(chan struct{}),
	}
}

func TestLedger_GetUnknown(t *testing.T) {
	l := NewLedger(10)

	_, err := l.Get("missing")

	var nf *gantryerrors.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "job", nf.Resource)
	assert.Equal(t, "missing", nf.ID)
}

func TestLedger_InsertionOrder(t *testing.T) {
	l := NewLedger(10)
	for i := 0; i < 3; i++ {
		l.Add(newLedgerJob(fmt.Sprintf("job-%d", i), "site.yml", JobStatusPending))
	}

	jobs := l.List(ListFilter{})
	require.Len(t, jobs, 3)
	for i, snap := range jobs {
		assert.Equal(t, fmt.Sprintf("job-%d", i), snap.ID)
	}
}

func TestLedger_ListFilters(t *testing.T) {
	l := NewLedger(10)
	l.Add(newLedgerJob("a", "one.yml", JobStatusSucceeded))
	l.Add(newLedgerJob("b", "two.yml", JobStatusFailed))
	l.Add(newLedgerJob("c", "one.yml", JobStatusRunning))

	byStatus := l.List(ListFilter{Status: JobStatusFailed})
	require.Len(t, byStatus, 1)
	assert.Equal(t, "b", byStatus[0].ID)

	byPlaybook := l.List(ListFilter{Playbook: "one.yml"})
	require.Len(t, byPlaybook, 2)

	limited := l.List(ListFilter{Limit: 2})
	assert.Len(t, limited, 2)
}

func TestLedger_RetentionPrunesOldestTerminal(t *testing.T) {
	l := NewLedger(3)
	l.Add(newLedgerJob("old-done", "a.yml", JobStatusSucceeded))
	l.Add(newLedgerJob("still-running", "b.yml", JobStatusRunning))
	l.Add(newLedgerJob("newer-done", "c.yml", JobStatusFailed))
	l.Add(newLedgerJob("newest", "d.yml", JobStatusPending))

	_, err := l.Get("old-done")
	var nf *gantryerrors.NotFoundError
	require.ErrorAs(t, err, &nf, "oldest terminal record should be pruned")

	for _, id := range []string{"still-running", "newer-done", "newest"} {
		_, err := l.Get(id)
		assert.NoError(t, err, "record %s should survive pruning", id)
	}
}

func TestLedger_NeverEvictsActiveJobs(t *testing.T) {
	l := NewLedger(2)
	l.Add(newLedgerJob("r1", "a.yml", JobStatusRunning))
	l.Add(newLedgerJob("r2", "b.yml", JobStatusRunning))
	l.Add(newLedgerJob("r3", "c.yml", JobStatusPending))

	// Over cap but nothing is terminal, so nothing can go.
	assert.Equal(t, 3, l.ActiveCount())
	for _, id := range []string{"r1", "r2", "r3"} {
		_, err := l.Get(id)
		assert.NoError(t, err)
	}
}

func TestLedger_MutateReturnsSnapshot(t *testing.T) {
	l := NewLedger(10)
	job := newLedgerJob("j", "site.yml", JobStatusPending)
	l.Add(job)

	snap := l.Mutate(job, func(j *Job) {
		now := time.Now()
		j.Status = JobStatusRunning
		j.StartedAt = &now
	})

	assert.Equal(t, JobStatusRunning, snap.Status)
	require.NotNil(t, snap.StartedAt)

	// Snapshot timestamps are copies, not pointers into the record.
	assert.NotSame(t, job.StartedAt, snap.StartedAt)
}
