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

// Package daemon assembles the job execution service: artifact fetcher,
// workspace builder, engine runner, job ledger, and the HTTP API.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tombee/gantry/internal/artifact"
	"github.com/tombee/gantry/internal/config"
	"github.com/tombee/gantry/internal/daemon/api"
	"github.com/tombee/gantry/internal/daemon/runner"
	"github.com/tombee/gantry/internal/engine"
	internallog "github.com/tombee/gantry/internal/log"
	"github.com/tombee/gantry/internal/tracing"
	"github.com/tombee/gantry/internal/workspace"
)

// Options carries build information into the daemon.
type Options struct {
	Version   string
	Commit    string
	BuildDate string
}

// Daemon is the long-running service instance.
type Daemon struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	fetcher      *artifact.Fetcher
	engine       *engine.Runner
	runner       *runner.Runner
	otelProvider *tracing.OTelProvider

	server *http.Server
	ln     net.Listener

	mu      sync.Mutex
	started bool
}

// New creates a new daemon instance.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Daemon, error) {
	logger := internallog.WithComponent(internallog.New(internallog.FromEnv()), "daemon")

	otelProvider, err := tracing.NewOTelProvider("gantry", opts.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	collector := otelProvider.MetricsCollector()

	fetcher, err := artifact.New(ctx, artifact.Config{
		Bucket: cfg.Artifacts.Bucket,
		Prefix: cfg.Artifacts.Prefix,
		Region: cfg.Artifacts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact fetcher: %w", err)
	}
	fetcher.SetMetrics(collector)

	pipelining := true
	if cfg.Engine.Pipelining != nil {
		pipelining = *cfg.Engine.Pipelining
	}
	builder := workspace.NewBuilder(fetcher, workspace.Config{
		PlaybookPrefix: cfg.Artifacts.PlaybookPrefix,
		ExtraPrefix:    cfg.Artifacts.ExtraPrefix,
		PrivateKeyKey:  cfg.Artifacts.PrivateKeyKey,
		Target: workspace.Target{
			Host:              cfg.Target.Host,
			User:              cfg.Target.User,
			PythonInterpreter: cfg.Target.PythonInterpreter,
			RemoteTmp:         cfg.Target.RemoteTmp,
		},
		Forks:           cfg.Engine.Forks,
		HostKeyChecking: cfg.Engine.HostKeyChecking,
		Pipelining:      pipelining,
		ResultFile:      cfg.Engine.ResultFile,
	})

	eng := engine.NewRunner(cfg.Engine.Binary)

	r := runner.New(runner.Config{
		MaxParallel:    cfg.Runner.MaxConcurrentJobs,
		DefaultTimeout: cfg.Engine.Timeout,
		MaxRetained:    cfg.Runner.MaxRetainedJobs,
	}, builder, eng)
	r.SetMetrics(collector)

	return &Daemon{
		cfg:          cfg,
		opts:         opts,
		logger:       logger,
		fetcher:      fetcher,
		engine:       eng,
		runner:       r,
		otelProvider: otelProvider,
	}, nil
}

// Runner exposes the job runner, primarily for tests.
func (d *Daemon) Runner() *runner.Runner {
	return d.runner
}

// Addr returns the bound listen address once Start has been called.
func (d *Daemon) Addr() string {
	if d.ln == nil {
		return ""
	}
	return d.ln.Addr().String()
}

// playbookLister adapts the artifact fetcher to the API's discovery
// surface by pinning the configured playbook prefix.
type playbookLister struct {
	fetcher *artifact.Fetcher
	prefix  string
}

func (l *playbookLister) ListPlaybooks(ctx context.Context) ([]string, error) {
	return l.fetcher.ListPlaybooks(ctx, l.prefix)
}

// Start binds the listener and serves the HTTP API until ctx is
// cancelled or the server fails.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	ln, err := net.Listen("tcp", d.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	d.ln = ln

	router := api.NewRouter(api.RouterConfig{
		Version:   d.opts.Version,
		Commit:    d.opts.Commit,
		BuildDate: d.opts.BuildDate,
	})

	api.NewJobsHandler(d.runner).RegisterRoutes(router.Mux())
	api.NewPlaybooksHandler(&playbookLister{
		fetcher: d.fetcher,
		prefix:  d.cfg.Artifacts.PlaybookPrefix,
	}).RegisterRoutes(router.Mux())

	router.SetEngineProber(d.engine)
	router.SetMetricsHandler(d.otelProvider.MetricsHandler())

	d.server = &http.Server{
		Handler:      router,
		ReadTimeout:  d.cfg.Server.ReadTimeout,
		WriteTimeout: d.cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	d.logger.Info("gantryd starting",
		slog.String("version", d.opts.Version),
		slog.String("listen_addr", ln.Addr().String()),
		slog.String("bucket", d.cfg.Artifacts.Bucket))

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

// Shutdown drains in-flight jobs and stops the HTTP server.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.logger.Info("shutdown requested",
		slog.Int("active_jobs", d.runner.ActiveJobCount()))

	// Stop accepting new jobs, then wait for the in-flight ones.
	d.runner.StartDraining()

	drainCtx, drainCancel := context.WithTimeout(ctx, d.cfg.Server.DrainTimeout)
	defer drainCancel()

	if err := d.runner.WaitForDrain(drainCtx, d.cfg.Server.DrainTimeout); err != nil {
		d.logger.Warn("drain timeout exceeded",
			slog.Int("remaining_jobs", d.runner.ActiveJobCount()),
			slog.Duration("drain_timeout", d.cfg.Server.DrainTimeout))
	} else {
		d.logger.Info("all jobs completed during drain")
	}

	if d.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, d.cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := d.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down HTTP server: %w", err)
		}
	}

	if d.otelProvider != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, d.cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := d.otelProvider.Shutdown(shutdownCtx); err != nil {
			d.logger.Warn("failed to shut down metrics provider",
				internallog.Error(err))
		}
	}

	d.logger.Info("shutdown complete")
	return nil
}
