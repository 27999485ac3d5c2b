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

package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestValidationError(t *testing.T) {
	tests := []struct {
		name string
		err  *ValidationError
		want string
	}{
		{
			name: "with field",
			err:  &ValidationError{Field: "playbook", Message: "cannot be empty"},
			want: "validation failed on playbook: cannot be empty",
		},
		{
			name: "without field",
			err:  &ValidationError{Message: "bad request"},
			want: "validation failed: bad request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNotFoundError(t *testing.T) {
	err := &NotFoundError{Resource: "job", ID: "abc123"}
	want := "job not found: abc123"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestArtifactNotFoundError(t *testing.T) {
	err := &ArtifactNotFoundError{Bucket: "artifacts", Key: "playbooks/run.yml"}
	want := "artifact not found: artifacts/playbooks/run.yml"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestArtifactFetchError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &ArtifactFetchError{Bucket: "artifacts", Key: "k", Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("Error() = %q, expected cause message included", err.Error())
	}
}

func TestContextBuildError(t *testing.T) {
	cause := errors.New("permission denied")
	err := &ContextBuildError{Reason: "creating scratch directory", Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}

	noCause := &ContextBuildError{Reason: "inventory missing"}
	if got := noCause.Error(); got != "failed to build execution context: inventory missing" {
		t.Errorf("Error() = %q", got)
	}
}

func TestExecutionTimeoutError(t *testing.T) {
	err := &ExecutionTimeoutError{
		Playbook: "create_hamlet_jcl.yml",
		Timeout:  30 * time.Minute,
		Stdout:   "PLAY [zos]",
	}

	want := "execution of create_hamlet_jcl.yml timed out after 30m0s"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if err.Stdout != "PLAY [zos]" {
		t.Error("partial stdout should be retained")
	}
}

func TestInfrastructureError_Unwrap(t *testing.T) {
	cause := errors.New("no such file or directory")
	err := &InfrastructureError{Op: "spawn engine process", Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestIsHelpers(t *testing.T) {
	wrapped := fmt.Errorf("submit: %w", &NotFoundError{Resource: "job", ID: "x"})
	if !IsNotFound(wrapped) {
		t.Error("IsNotFound should see through wrapping")
	}
	if !IsNotFound(&ArtifactNotFoundError{Bucket: "b", Key: "k"}) {
		t.Error("IsNotFound should match ArtifactNotFoundError")
	}
	if IsNotFound(errors.New("plain")) {
		t.Error("IsNotFound should reject unrelated errors")
	}

	if !IsTimeout(Wrap(&ExecutionTimeoutError{Playbook: "p"}, "run")) {
		t.Error("IsTimeout should see through wrapping")
	}
	if !IsValidation(&ValidationError{Message: "m"}) {
		t.Error("IsValidation should match ValidationError")
	}
	if !IsInfrastructure(&InfrastructureError{Op: "op", Cause: errors.New("x")}) {
		t.Error("IsInfrastructure should match InfrastructureError")
	}
}
