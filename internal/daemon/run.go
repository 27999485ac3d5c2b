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

package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tombee/gantry/internal/config"
	"github.com/tombee/gantry/internal/log"
)

// RunOptions configures daemon execution.
type RunOptions struct {
	Version   string
	Commit    string
	BuildDate string

	// Config overrides
	ConfigPath string
	ListenAddr string
	Bucket     string
}

// Run starts the daemon and blocks until shutdown.
func Run(opts RunOptions) error {
	// Initialize structured logging from environment
	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	// Flag overrides flow through the environment so Load sees them
	// before it validates.
	if opts.ListenAddr != "" {
		os.Setenv("GANTRY_LISTEN_ADDR", opts.ListenAddr)
	}
	if opts.Bucket != "" {
		os.Setenv("GANTRY_S3_BUCKET", opts.Bucket)
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := New(ctx, cfg, Options{
		Version:   opts.Version,
		Commit:    opts.Commit,
		BuildDate: opts.BuildDate,
	})
	if err != nil {
		logger.Error("Failed to create daemon", slog.Any("error", err))
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", slog.String("signal", sig.String()))
		cancel()
		if err := d.Shutdown(context.Background()); err != nil {
			logger.Error("Error during shutdown", slog.Any("error", err))
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil {
			logger.Error("Daemon error", slog.Any("error", err))
			return fmt.Errorf("daemon error: %w", err)
		}
		return nil
	}
}
