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

// Package workspace assembles the per-execution scratch directory: staged
// artifacts, a generated host inventory, and the engine configuration file.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	internallog "github.com/tombee/gantry/internal/log"
	gantryerrors "github.com/tombee/gantry/pkg/errors"
)

// ArtifactSource stages remote artifacts into local files.
type ArtifactSource interface {
	Fetch(ctx context.Context, key, destPath string) error
	FetchSecret(ctx context.Context, key, destPath string) error
}

// Config contains everything the builder needs to assemble a workspace.
type Config struct {
	// PlaybookPrefix is the object key prefix for playbooks.
	PlaybookPrefix string

	// ExtraPrefix is the object key prefix for auxiliary artifacts.
	ExtraPrefix string

	// PrivateKeyKey is the object key of the SSH private key.
	PrivateKeyKey string

	// Target describes the remote host written into the inventory.
	Target Target

	// Forks is the engine fan-out limit for the generated engine config.
	Forks int

	// HostKeyChecking enables strict host key verification.
	HostKeyChecking bool

	// Pipelining enables SSH connection multiplexing.
	Pipelining bool

	// ResultFile is the name of the structured result artifact.
	ResultFile string
}

// Target describes the remote execution target.
type Target struct {
	Host              string
	User              string
	PythonInterpreter string
	RemoteTmp         string
}

// BuildInput identifies the artifacts one execution needs.
type BuildInput struct {
	// Playbook is the playbook file name (no path separators).
	Playbook string

	// Extra is an optional auxiliary artifact name (e.g. a JCL member).
	Extra string

	// TargetName is the inventory host alias. Defaults to "target".
	TargetName string
}

// Workspace is a fully prepared scratch directory for one execution. It is
// exclusively owned by the invocation that created it and must be released
// with Close when that invocation completes.
type Workspace struct {
	// Dir is the scratch directory. The engine runs with this as its
	// working directory.
	Dir string

	// PlaybookPath is the staged playbook file.
	PlaybookPath string

	// InventoryPath is the generated inventory descriptor.
	InventoryPath string

	// KeyPath is the staged private key (mode 0600).
	KeyPath string

	// ConfigPath is the generated engine configuration file.
	ConfigPath string

	// ResultPath is where the playbook may leave its structured result.
	ResultPath string

	closeOnce sync.Once
	closeErr  error
}

// Close removes the scratch directory and everything under it. Safe to
// call more than once.
func (w *Workspace) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = os.RemoveAll(w.Dir)
	})
	return w.closeErr
}

// Builder assembles workspaces from fetched artifacts.
type Builder struct {
	source ArtifactSource
	cfg    Config
	logger *slog.Logger
}

// NewBuilder creates a workspace builder.
func NewBuilder(source ArtifactSource, cfg Config) *Builder {
	return &Builder{
		source: source,
		cfg:    cfg,
		logger: internallog.WithComponent(internallog.New(internallog.FromEnv()), "workspace"),
	}
}

// Build fetches all artifacts for the given input and assembles a scratch
// directory. On any failure the partially built directory is removed and a
// ContextBuildError is returned; the underlying artifact error stays
// reachable through Unwrap.
func (b *Builder) Build(ctx context.Context, in BuildInput) (*Workspace, error) {
	if err := validateArtifactName(in.Playbook); err != nil {
		return nil, err
	}
	if in.Extra != "" {
		if err := validateArtifactName(in.Extra); err != nil {
			return nil, err
		}
	}

	dir, err := os.MkdirTemp("", "gantry-job-*")
	if err != nil {
		return nil, &gantryerrors.ContextBuildError{
			Reason: "creating scratch directory",
			Cause:  err,
		}
	}

	ws := &Workspace{
		Dir:           dir,
		PlaybookPath:  filepath.Join(dir, in.Playbook),
		InventoryPath: filepath.Join(dir, "inventory.yml"),
		KeyPath:       filepath.Join(dir, "ssh_key.pem"),
		ConfigPath:    filepath.Join(dir, "ansible.cfg"),
		ResultPath:    filepath.Join(dir, b.cfg.ResultFile),
	}

	fail := func(reason string, cause error) (*Workspace, error) {
		os.RemoveAll(dir)
		return nil, &gantryerrors.ContextBuildError{Reason: reason, Cause: cause}
	}

	if err := b.source.Fetch(ctx, path.Join(b.cfg.PlaybookPrefix, in.Playbook), ws.PlaybookPath); err != nil {
		return fail("staging playbook "+in.Playbook, err)
	}

	if in.Extra != "" {
		if err := b.source.Fetch(ctx, path.Join(b.cfg.ExtraPrefix, in.Extra), filepath.Join(dir, in.Extra)); err != nil {
			return fail("staging artifact "+in.Extra, err)
		}
	}

	if err := b.source.FetchSecret(ctx, b.cfg.PrivateKeyKey, ws.KeyPath); err != nil {
		return fail("staging private key", err)
	}

	targetName := in.TargetName
	if targetName == "" {
		targetName = "target"
	}

	inv, err := renderInventory(b.cfg.Target, targetName, ws.KeyPath, b.cfg.HostKeyChecking, b.cfg.Pipelining)
	if err != nil {
		return fail("rendering inventory", err)
	}
	if err := os.WriteFile(ws.InventoryPath, inv, 0o644); err != nil {
		return fail("writing inventory", err)
	}

	if err := os.WriteFile(ws.ConfigPath, renderEngineConfig(b.cfg), 0o644); err != nil {
		return fail("writing engine config", err)
	}

	b.logger.Debug("workspace prepared",
		slog.String(internallog.PlaybookKey, in.Playbook),
		slog.String(internallog.TargetKey, targetName),
	)

	return ws, nil
}

// validateArtifactName rejects names that could escape the scratch
// directory or reference arbitrary object keys.
func validateArtifactName(name string) error {
	if name == "" {
		return &gantryerrors.ValidationError{
			Field:   "playbook",
			Message: "cannot be empty",
		}
	}
	if strings.ContainsAny(name, "/\\") || name == ".." || strings.Contains(name, "..") {
		return &gantryerrors.ValidationError{
			Field:      "playbook",
			Message:    fmt.Sprintf("%q must be a bare file name", name),
			Suggestion: "use the artifact name without any directory components",
		}
	}
	return nil
}
