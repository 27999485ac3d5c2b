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

// Package engine invokes the external automation engine as a bounded child
// process and interprets its results. The engine is treated as a black box:
// a command line in, an exit code plus captured output and an optional
// result file out.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/kballard/go-shellquote"
	internallog "github.com/tombee/gantry/internal/log"
	gantryerrors "github.com/tombee/gantry/pkg/errors"
)

// waitDelay is the grace period between context cancellation and the
// runtime forcibly closing the child's I/O.
const waitDelay = 5 * time.Second

// InvocationSpec describes one engine invocation.
type InvocationSpec struct {
	// Playbook is the playbook file name, resolved relative to WorkDir.
	Playbook string

	// Inventory is the inventory file name, resolved relative to WorkDir.
	Inventory string

	// ExtraVars are passed to the engine as one -e key=value flag pair
	// per variable. Values are never shell-interpolated.
	ExtraVars map[string]string

	// WorkDir is the prepared workspace; the child's working directory.
	WorkDir string

	// ConfigPath is the engine configuration file, exported via
	// ANSIBLE_CONFIG.
	ConfigPath string

	// Timeout is the wall-clock limit. The child process group is killed
	// when it expires.
	Timeout time.Duration
}

// Invocation is the raw result of a completed engine invocation.
type Invocation struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner invokes the engine binary.
type Runner struct {
	binary string
	logger *slog.Logger
}

// NewRunner creates a Runner for the given engine binary.
func NewRunner(binary string) *Runner {
	return &Runner{
		binary: binary,
		logger: internallog.WithComponent(internallog.New(internallog.FromEnv()), "engine"),
	}
}

// Run executes the engine once. Non-zero exit is a normal return, not an
// error. Deadline expiry yields ExecutionTimeoutError carrying partial
// output; spawn failures yield InfrastructureError. Single-shot: no retry.
func (r *Runner) Run(ctx context.Context, spec InvocationSpec) (*Invocation, error) {
	args := buildArgs(spec)

	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, r.binary, args...)
	cmd.Dir = spec.WorkDir
	cmd.Env = append(os.Environ(), "ANSIBLE_CONFIG="+spec.ConfigPath)

	// Output goes to files, not pipes. Piped stdio can hang the engine's
	// own blocking-mode probes and can stall the parent if the child
	// forks long-lived grandchildren that inherit the pipe.
	stdoutPath := filepath.Join(spec.WorkDir, "stdout.log")
	stderrPath := filepath.Join(spec.WorkDir, "stderr.log")

	stdout, err := os.Create(stdoutPath)
	if err != nil {
		return nil, &gantryerrors.InfrastructureError{Op: "create stdout capture file", Cause: err}
	}
	defer stdout.Close()

	stderr, err := os.Create(stderrPath)
	if err != nil {
		return nil, &gantryerrors.InfrastructureError{Op: "create stderr capture file", Cause: err}
	}
	defer stderr.Close()

	cmd.Stdout = stdout
	cmd.Stderr = stderr

	// The engine spawns SSH workers; kill the whole process group on
	// cancellation so nothing outlives the deadline.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = waitDelay

	r.logger.Debug("invoking engine",
		slog.String("command", shellquote.Join(append([]string{r.binary}, args...)...)),
		slog.String("dir", filepath.Base(spec.WorkDir)),
	)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	outText := readCapture(stdoutPath)
	errText := readCapture(stderrPath)

	if runCtx.Err() == context.DeadlineExceeded {
		return nil, &gantryerrors.ExecutionTimeoutError{
			Playbook: spec.Playbook,
			Timeout:  spec.Timeout,
			Stdout:   outText,
			Stderr:   errText,
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, &gantryerrors.InfrastructureError{Op: "spawn engine process", Cause: runErr}
		}
		return &Invocation{
			ExitCode: exitErr.ExitCode(),
			Stdout:   outText,
			Stderr:   errText,
			Duration: duration,
		}, nil
	}

	return &Invocation{
		ExitCode: 0,
		Stdout:   outText,
		Stderr:   errText,
		Duration: duration,
	}, nil
}

// Probe checks whether the engine binary is available and answers
// --version. Used by the health surface; never blocks for long.
func (r *Runner) Probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, r.binary, "--version")
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Run() == nil
}

// buildArgs assembles the argument vector. Extra vars are sorted so the
// invocation is reproducible for identical requests.
func buildArgs(spec InvocationSpec) []string {
	args := []string{"-i", spec.Inventory}

	keys := make([]string, 0, len(spec.ExtraVars))
	for k := range spec.ExtraVars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k+"="+spec.ExtraVars[k])
	}

	return append(args, spec.Playbook)
}

// readCapture reads back a capture file; a read failure yields empty
// output rather than masking the invocation result.
func readCapture(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}
