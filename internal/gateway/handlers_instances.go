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
	"github.com/redisgate/redisgate/internal/store"
)

func instanceResponse(inst *store.RedisInstance) api.RedisInstanceResponse {
	resp := api.RedisInstanceResponse{
		ID:                 inst.ID,
		Name:               inst.Name,
		Slug:               inst.Slug,
		OrganizationID:     inst.OrganizationID,
		APIKeyID:           inst.APIKeyID,
		Port:               inst.Port,
		Domain:             inst.Domain,
		Namespace:          inst.Namespace,
		RedisVersion:       inst.RedisVersion,
		MaxMemory:          inst.MaxMemory,
		CurrentMemory:      inst.CurrentMemory,
		Status:             inst.Status,
		HealthStatus:       inst.HealthStatus,
		CPUUsagePercent:    inst.CPUUsagePercent,
		MemoryUsagePercent: inst.MemoryUsagePercent,
		ConnectionsCount:   inst.ConnectionsCount,
		MaxConnections:     inst.MaxConnections,
		PersistenceEnabled: inst.PersistenceEnabled,
		BackupEnabled:      inst.BackupEnabled,
		LastBackupAt:       inst.LastBackupAt,
		CreatedAt:          inst.CreatedAt,
		UpdatedAt:          inst.UpdatedAt,
	}
	if inst.PodName != nil {
		resp.PodName = *inst.PodName
	}
	if inst.ServiceName != nil {
		resp.ServiceName = *inst.ServiceName
	}
	return resp
}

// handleCreateInstance provisions a Redis instance for the organization.
func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	orgID, err := pathUUID(r, "orgID")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	var req api.CreateRedisInstanceRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	user := CurrentUser(r.Context())
	params := orchestrator.CreateParams{
		OrganizationID: orgID,
		UserID:         user.ID,
		Name:           req.Name,
		Slug:           req.Slug,
		MaxMemory:      req.MaxMemory,
	}
	if req.RedisVersion != nil {
		params.RedisVersion = *req.RedisVersion
	}
	if req.PersistenceEnabled != nil {
		params.PersistenceEnabled = *req.PersistenceEnabled
	}
	if req.BackupEnabled != nil {
		params.BackupEnabled = *req.BackupEnabled
	}

	inst, err := s.instances.Create(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instanceResponse(inst))
}

// handleListInstances pages through the organization's instances.
func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	orgID, err := pathUUID(r, "orgID")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	user := CurrentUser(r.Context())
	p := pagination(r)
	instances, total, err := s.instances.List(r.Context(), orgID, user.ID, p.Limit, p.Offset())
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]api.RedisInstanceResponse, 0, len(instances))
	for i := range instances {
		items = append(items, instanceResponse(&instances[i]))
	}
	writeJSON(w, http.StatusOK, api.NewPaginatedResponse(items, total, p))
}

// handleGetInstance returns one instance.
func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	orgID, err := pathUUID(r, "orgID")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	instanceID, err := pathUUID(r, "instanceID")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	user := CurrentUser(r.Context())
	inst, err := s.instances.Get(r.Context(), orgID, user.ID, instanceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instanceResponse(inst))
}

// handleRefreshInstanceStatus re-reads the live Deployment state.
func (s *Server) handleRefreshInstanceStatus(w http.ResponseWriter, r *http.Request) {
	orgID, err := pathUUID(r, "orgID")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	instanceID, err := pathUUID(r, "instanceID")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	user := CurrentUser(r.Context())
	inst, err := s.instances.RefreshStatus(r.Context(), orgID, user.ID, instanceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instanceResponse(inst))
}

// handleDeleteInstance tears an instance down.
func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	orgID, err := pathUUID(r, "orgID")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	instanceID, err := pathUUID(r, "instanceID")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	user := CurrentUser(r.Context())
	if err := s.instances.Delete(r.Context(), orgID, user.ID, instanceID); err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Redis instance deleted")
}
