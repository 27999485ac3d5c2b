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

package tracing

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsCollector collects Prometheus-compatible metrics for job execution
type MetricsCollector struct {
	meter metric.Meter

	// Counters
	jobsTotal          metric.Int64Counter
	artifactFetchTotal metric.Int64Counter

	// Histograms
	jobDuration metric.Float64Histogram

	// Gauges (using observable gauges)
	runningJobs   map[string]bool // Track running job IDs
	runningJobsMu sync.RWMutex
}

// NewMetricsCollector creates a new metrics collector using the given meter provider
func NewMetricsCollector(meterProvider metric.MeterProvider) (*MetricsCollector, error) {
	meter := meterProvider.Meter("gantry")

	mc := &MetricsCollector{
		meter:       meter,
		runningJobs: make(map[string]bool),
	}

	var err error

	mc.jobsTotal, err = meter.Int64Counter(
		"gantry_jobs_total",
		metric.WithDescription("Total number of jobs reaching a terminal state"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}

	mc.artifactFetchTotal, err = meter.Int64Counter(
		"gantry_artifact_fetches_total",
		metric.WithDescription("Total number of artifact fetch attempts"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, err
	}

	mc.jobDuration, err = meter.Float64Histogram(
		"gantry_job_duration_seconds",
		metric.WithDescription("Job wall-clock duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"gantry_jobs_running",
		metric.WithDescription("Number of jobs currently executing"),
		metric.WithUnit("{job}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			mc.runningJobsMu.RLock()
			count := len(mc.runningJobs)
			mc.runningJobsMu.RUnlock()
			observer.Observe(int64(count))
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return mc, nil
}

// RecordJobStart records that a job entered the running state.
func (mc *MetricsCollector) RecordJobStart(ctx context.Context, jobID string) {
	mc.runningJobsMu.Lock()
	mc.runningJobs[jobID] = true
	mc.runningJobsMu.Unlock()
}

// RecordJobComplete records a job reaching a terminal state. Safe to
// call for jobs that never started running; the gauge delete is a
// no-op in that case.
func (mc *MetricsCollector) RecordJobComplete(ctx context.Context, jobID, playbook, status string, duration time.Duration) {
	mc.runningJobsMu.Lock()
	delete(mc.runningJobs, jobID)
	mc.runningJobsMu.Unlock()

	attrs := []attribute.KeyValue{
		attribute.String("playbook", playbook),
		attribute.String("status", status),
	}

	mc.jobsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	mc.jobDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("playbook", playbook),
	))
}

// RecordArtifactFetch records one artifact fetch attempt by outcome
// (fetched, not_found, error).
func (mc *MetricsCollector) RecordArtifactFetch(ctx context.Context, outcome string) {
	mc.artifactFetchTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

// RunningJobs returns the number of jobs currently tracked as running.
func (mc *MetricsCollector) RunningJobs() int {
	mc.runningJobsMu.RLock()
	defer mc.runningJobsMu.RUnlock()
	return len(mc.runningJobs)
}
