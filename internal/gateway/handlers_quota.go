/*
Copyright 2025 RedisGate Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package gateway

import (
	"net/http"

	"github.com/redisgate/redisgate/internal/api"
	"github.com/redisgate/redisgate/internal/orchestrator"
)

// handleGetQuota returns the organization's quota usage report.
func (s *Server) handleGetQuota(w http.ResponseWriter, r *http.Request) {
	orgID, err := pathUUID(r, "orgID")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.membership(r, orgID); err != nil {
		writeError(w, err)
		return
	}

	info, err := s.quota.GetInfo(r.Context(), orgID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleUpdateQuota sets new ceilings. Admin or owner only.
func (s *Server) handleUpdateQuota(w http.ResponseWriter, r *http.Request) {
	orgID, err := pathUUID(r, "orgID")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := s.membership(r, orgID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !m.CanManage() {
		writeError(w, orchestrator.ErrNotPermitted)
		return
	}

	var req api.UpdateQuotaRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	org, err := s.quota.UpdateLimits(r.Context(), orgID, req.MaxInstances, req.MaxMemoryGB, req.MaxAPIKeys)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orgResponse(org))
}
