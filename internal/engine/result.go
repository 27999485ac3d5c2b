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

package engine

import (
	"encoding/json"
	"fmt"
	"os"
)

// OutcomeStatus classifies a completed execution.
type OutcomeStatus string

const (
	StatusSucceeded OutcomeStatus = "succeeded"
	StatusFailed    OutcomeStatus = "failed"
)

// Outcome is the interpreted result of one invocation.
type Outcome struct {
	Status   OutcomeStatus
	ExitCode int
	Stdout   string
	Stderr   string

	// Result is the parsed structured result artifact, nil when absent
	// or unparseable.
	Result map[string]any

	// Warning records a non-fatal problem with the result artifact.
	// A warning never changes the Status.
	Warning string
}

// Interpret maps an invocation plus an optional result artifact to a
// typed outcome. Exit code zero is success; a missing or malformed result
// artifact records a warning but never downgrades success to failure.
// Non-zero exit is failure regardless of any result artifact.
func Interpret(inv *Invocation, resultPath string) *Outcome {
	out := &Outcome{
		ExitCode: inv.ExitCode,
		Stdout:   inv.Stdout,
		Stderr:   inv.Stderr,
	}

	if inv.ExitCode != 0 {
		out.Status = StatusFailed
		return out
	}

	out.Status = StatusSucceeded

	if resultPath == "" {
		return out
	}

	data, err := os.ReadFile(resultPath)
	if err != nil {
		if os.IsNotExist(err) {
			out.Warning = "playbook produced no result artifact"
		} else {
			out.Warning = fmt.Sprintf("result artifact unreadable: %v", err)
		}
		return out
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		out.Warning = fmt.Sprintf("result artifact is not valid JSON: %v", err)
		return out
	}

	out.Result = result
	return out
}
