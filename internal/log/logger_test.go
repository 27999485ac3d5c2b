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

package log

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected default level 'info', got %q", cfg.Level)
	}

	if cfg.Format != FormatJSON {
		t.Errorf("expected default format 'json', got %q", cfg.Format)
	}

	if cfg.Output != os.Stderr {
		t.Errorf("expected default output to be os.Stderr")
	}

	if cfg.AddSource {
		t.Errorf("expected default AddSource to be false")
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name       string
		envVars    map[string]string
		wantLevel  string
		wantFormat Format
		wantSource bool
	}{
		{
			name:       "defaults when no env vars",
			envVars:    map[string]string{},
			wantLevel:  "info",
			wantFormat: FormatJSON,
		},
		{
			name:       "GANTRY_DEBUG enables debug and source",
			envVars:    map[string]string{"GANTRY_DEBUG": "1"},
			wantLevel:  "debug",
			wantFormat: FormatJSON,
			wantSource: true,
		},
		{
			name:       "GANTRY_LOG_LEVEL takes precedence over LOG_LEVEL",
			envVars:    map[string]string{"GANTRY_LOG_LEVEL": "warn", "LOG_LEVEL": "error"},
			wantLevel:  "warn",
			wantFormat: FormatJSON,
		},
		{
			name:       "LOG_LEVEL used when GANTRY_LOG_LEVEL unset",
			envVars:    map[string]string{"LOG_LEVEL": "ERROR"},
			wantLevel:  "error",
			wantFormat: FormatJSON,
		},
		{
			name:       "LOG_FORMAT text",
			envVars:    map[string]string{"LOG_FORMAT": "text"},
			wantLevel:  "info",
			wantFormat: FormatText,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"GANTRY_DEBUG", "GANTRY_LOG_LEVEL", "LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE"} {
				t.Setenv(key, "")
				os.Unsetenv(key)
			}
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := FromEnv()
			if cfg.Level != tt.wantLevel {
				t.Errorf("Level = %q, want %q", cfg.Level, tt.wantLevel)
			}
			if cfg.Format != tt.wantFormat {
				t.Errorf("Format = %q, want %q", cfg.Format, tt.wantFormat)
			}
			if cfg.AddSource != tt.wantSource {
				t.Errorf("AddSource = %v, want %v", cfg.AddSource, tt.wantSource)
			}
		})
	}
}

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	logger.Info("job accepted", "job_id", "abc123")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry["msg"] != "job accepted" {
		t.Errorf("msg = %v, want 'job accepted'", entry["msg"])
	}
	if entry["job_id"] != "abc123" {
		t.Errorf("job_id = %v, want 'abc123'", entry["job_id"])
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "warn", Format: FormatJSON, Output: &buf})

	logger.Info("should be dropped")
	logger.Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should be dropped") {
		t.Error("info entry should have been filtered at warn level")
	}
	if !strings.Contains(out, "should appear") {
		t.Error("warn entry missing from output")
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	WithComponent(logger, "artifact_fetcher").Info("fetching")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry["component"] != "artifact_fetcher" {
		t.Errorf("component = %v, want 'artifact_fetcher'", entry["component"])
	}
}

func TestWithJobContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	WithJobContext(logger, "job-1", "site.yml").Info("started")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry[JobIDKey] != "job-1" {
		t.Errorf("%s = %v, want 'job-1'", JobIDKey, entry[JobIDKey])
	}
	if entry[PlaybookKey] != "site.yml" {
		t.Errorf("%s = %v, want 'site.yml'", PlaybookKey, entry[PlaybookKey])
	}
}
