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

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tombee/gantry/internal/daemon/runner"
	"github.com/tombee/gantry/internal/engine"
	"github.com/tombee/gantry/internal/workspace"
)

type stubBuilder struct{}

func (stubBuilder) Build(ctx context.Context, in workspace.BuildInput) (*workspace.Workspace, error) {
	dir := "/tmp/gantry-api-test"
	return &workspace.Workspace{Dir: dir, ConfigPath: dir + "/ansible.cfg"}, nil
}

type stubEngine struct{}

func (stubEngine) Run(ctx context.Context, spec engine.InvocationSpec) (*engine.Invocation, error) {
	return &engine.Invocation{ExitCode: 0, Stdout: "ok\n"}, nil
}

func setupTestServer(t *testing.T) (*Router, *runner.Runner) {
	t.Helper()

	r := runner.New(runner.Config{
		MaxParallel:    2,
		DefaultTimeout: 30 * time.Second,
		TargetName:     "mainframe1",
	}, stubBuilder{}, stubEngine{})

	router := NewRouter(RouterConfig{Version: "test"})
	NewJobsHandler(r).RegisterRoutes(router.Mux())

	return router, r
}

func postJob(t *testing.T, router *Router, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response body: %v", err)
	}
	return body
}

func TestCreateJob(t *testing.T) {
	router, _ := setupTestServer(t)

	w := postJob(t, router, `{"playbook":"create_hamlet_jcl.yml","extra_vars":{"jcl_file":"GENER3"}}`)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	if body["job_id"] == "" || body["job_id"] == nil {
		t.Error("Expected non-empty job_id")
	}
	if body["playbook"] != "create_hamlet_jcl.yml" {
		t.Errorf("Expected playbook create_hamlet_jcl.yml, got %v", body["playbook"])
	}
	if body["status"] != "pending" {
		t.Errorf("Expected status pending, got %v", body["status"])
	}
	if body["created_at"] == nil {
		t.Error("Expected created_at to be set")
	}
	if body["target"] != "mainframe1" {
		t.Errorf("Expected default target mainframe1, got %v", body["target"])
	}
}

func TestCreateJob_MissingPlaybook(t *testing.T) {
	router, _ := setupTestServer(t)

	w := postJob(t, router, `{"extra_vars":{"k":"v"}}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if !strings.Contains(body["error"].(string), "playbook") {
		t.Errorf("Expected error to mention playbook, got %v", body["error"])
	}
}

func TestCreateJob_RejectsPathSeparators(t *testing.T) {
	router, _ := setupTestServer(t)

	for _, playbook := range []string{"../steal.yml", "dir/steal.yml", `dir\steal.yml`} {
		w := postJob(t, router, `{"playbook":"`+strings.ReplaceAll(playbook, `\`, `\\`)+`"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400 for %q, got %d", playbook, w.Code)
		}
	}
}

func TestCreateJob_InvalidBody(t *testing.T) {
	router, _ := setupTestServer(t)

	w := postJob(t, router, `{not json`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", w.Code)
	}
}

func TestCreateJob_Draining(t *testing.T) {
	router, r := setupTestServer(t)

	r.StartDraining()
	w := postJob(t, router, `{"playbook":"site.yml"}`)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}
}

func TestGetJob(t *testing.T) {
	router, _ := setupTestServer(t)

	w := postJob(t, router, `{"playbook":"site.yml"}`)
	created := decodeBody(t, w)
	id := created["job_id"].(string)

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+id, nil)
	got := httptest.NewRecorder()
	router.ServeHTTP(got, req)

	if got.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", got.Code)
	}
	body := decodeBody(t, got)
	if body["job_id"] != id {
		t.Errorf("Expected job_id %s, got %v", id, body["job_id"])
	}
}

func TestGetJob_NotFound(t *testing.T) {
	router, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/no-such-job", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", w.Code)
	}
}

func TestListJobs(t *testing.T) {
	router, r := setupTestServer(t)

	for _, playbook := range []string{"a.yml", "b.yml"} {
		w := postJob(t, router, `{"playbook":"`+playbook+`"}`)
		if w.Code != http.StatusAccepted {
			t.Fatalf("Submit failed with %d", w.Code)
		}
	}

	// Wait until both jobs settle so the status filter is deterministic.
	deadline := time.Now().Add(5 * time.Second)
	for r.ActiveJobCount() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("Jobs never finished")
		}
		time.Sleep(10 * time.Millisecond)
	}

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["count"].(float64) != 2 {
		t.Errorf("Expected count 2, got %v", body["count"])
	}

	req = httptest.NewRequest(http.MethodGet, "/jobs?playbook=a.yml&status=succeeded", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	body = decodeBody(t, w)
	if body["count"].(float64) != 1 {
		t.Errorf("Expected filtered count 1, got %v", body["count"])
	}
}

func TestCancelJob(t *testing.T) {
	router, _ := setupTestServer(t)

	w := postJob(t, router, `{"playbook":"site.yml"}`)
	id := decodeBody(t, w)["job_id"].(string)

	req := httptest.NewRequest(http.MethodDelete, "/jobs/"+id, nil)
	got := httptest.NewRecorder()
	router.ServeHTTP(got, req)

	if got.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", got.Code, got.Body.String())
	}

	// Cancelling again must still succeed.
	req = httptest.NewRequest(http.MethodDelete, "/jobs/"+id, nil)
	again := httptest.NewRecorder()
	router.ServeHTTP(again, req)
	if again.Code != http.StatusOK {
		t.Errorf("Expected idempotent cancel to return 200, got %d", again.Code)
	}
}

func TestCancelJob_NotFound(t *testing.T) {
	router, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodDelete, "/jobs/no-such-job", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", w.Code)
	}
}
