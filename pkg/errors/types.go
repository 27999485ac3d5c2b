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
	"fmt"
	"time"
)

// ValidationError represents user input validation failures.
// Use this for invalid request fields, malformed data, or constraint violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError represents a resource not found error.
// Use this when a requested resource does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "job", "playbook")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "artifacts.bucket")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ArtifactNotFoundError indicates that a requested object does not exist in
// the artifact store.
type ArtifactNotFoundError struct {
	// Bucket is the object store bucket that was queried
	Bucket string

	// Key is the object key that was not found
	Key string
}

// Error implements the error interface.
func (e *ArtifactNotFoundError) Error() string {
	return fmt.Sprintf("artifact not found: %s/%s", e.Bucket, e.Key)
}

// ArtifactFetchError represents a transport or storage failure while
// retrieving an artifact. The object may exist; the fetch did not complete.
type ArtifactFetchError struct {
	// Bucket is the object store bucket that was queried
	Bucket string

	// Key is the object key being fetched
	Key string

	// Cause is the underlying transport error
	Cause error
}

// Error implements the error interface.
func (e *ArtifactFetchError) Error() string {
	return fmt.Sprintf("failed to fetch artifact %s/%s: %v", e.Bucket, e.Key, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ArtifactFetchError) Unwrap() error {
	return e.Cause
}

// ContextBuildError indicates the execution workspace could not be assembled.
// Jobs that hit this never start running.
type ContextBuildError struct {
	// Reason explains which part of the workspace could not be built
	Reason string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ContextBuildError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to build execution context: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("failed to build execution context: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ContextBuildError) Unwrap() error {
	return e.Cause
}

// ExecutionTimeoutError indicates the engine process exceeded its deadline
// and was terminated. Partial output captured before termination is retained
// for diagnosis.
type ExecutionTimeoutError struct {
	// Playbook is the playbook that was executing
	Playbook string

	// Timeout is the configured deadline that was exceeded
	Timeout time.Duration

	// Stdout holds partial standard output captured before termination
	Stdout string

	// Stderr holds partial standard error captured before termination
	Stderr string
}

// Error implements the error interface.
func (e *ExecutionTimeoutError) Error() string {
	return fmt.Sprintf("execution of %s timed out after %v", e.Playbook, e.Timeout)
}

// InfrastructureError represents failures of the orchestrator's own
// machinery: process spawn failures, filesystem errors, and the like.
// These are not execution outcomes of the playbook itself.
type InfrastructureError struct {
	// Op describes the operation that failed (e.g., "spawn engine process")
	Op string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *InfrastructureError) Unwrap() error {
	return e.Cause
}
