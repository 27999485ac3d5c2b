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
	"context"
	"net/http"

	"github.com/tombee/gantry/internal/daemon/httputil"
)

// PlaybookLister enumerates the playbooks available in the artifact store.
type PlaybookLister interface {
	ListPlaybooks(ctx context.Context) ([]string, error)
}

// PlaybooksHandler handles playbook discovery requests.
type PlaybooksHandler struct {
	lister PlaybookLister
}

// NewPlaybooksHandler creates a new playbooks handler.
func NewPlaybooksHandler(lister PlaybookLister) *PlaybooksHandler {
	return &PlaybooksHandler{lister: lister}
}

// RegisterRoutes registers playbook API routes on the router.
func (h *PlaybooksHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /playbooks", h.handleList)
}

// handleList handles GET /playbooks.
func (h *PlaybooksHandler) handleList(w http.ResponseWriter, r *http.Request) {
	playbooks, err := h.lister.ListPlaybooks(r.Context())
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"playbooks": playbooks,
		"count":     len(playbooks),
	})
}
