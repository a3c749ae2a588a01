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
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/redisgate/redisgate/internal/api"
	"github.com/redisgate/redisgate/internal/orchestrator"
	"github.com/redisgate/redisgate/internal/store"
)

// pathUUID parses a uuid route parameter.
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, errors.New("invalid " + name)
	}
	return id, nil
}

// pagination reads page/limit query parameters and normalizes them.
func pagination(r *http.Request) api.PaginationParams {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return api.PaginationParams{Page: page, Limit: limit}.Normalize()
}

// membership loads the caller's active membership, answering 403 material
// when absent.
func (s *Server) membership(r *http.Request, orgID uuid.UUID) (*store.Membership, error) {
	user := CurrentUser(r.Context())
	m, err := s.store.Organizations().GetMembership(r.Context(), orgID, user.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, orchestrator.ErrNotMember
	}
	return m, err
}

func orgResponse(org *store.Organization) api.OrganizationResponse {
	return api.OrganizationResponse{
		ID:                org.ID,
		Name:              org.Name,
		Slug:              org.Slug,
		MaxRedisInstances: org.MaxRedisInstances,
		MaxMemoryGB:       org.MaxMemoryGB,
		MaxAPIKeys:        org.MaxAPIKeys,
		IsActive:          org.IsActive,
		CreatedAt:         org.CreatedAt,
		UpdatedAt:         org.UpdatedAt,
	}
}

// handleCreateOrganization creates an organization with the caller as owner.
func (s *Server) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req api.CreateOrganizationRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	user := CurrentUser(r.Context())
	org := &store.Organization{Name: req.Name, Slug: req.Slug}
	if err := s.store.Organizations().Create(r.Context(), org, user.ID); err != nil {
		writeError(w, err)
		return
	}

	s.log.Info("organization created", "organization", org.ID, "owner", user.ID)
	writeJSON(w, http.StatusOK, orgResponse(org))
}

// handleListOrganizations pages through the caller's organizations.
func (s *Server) handleListOrganizations(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r.Context())
	p := pagination(r)

	orgs, total, err := s.store.Organizations().ListForUser(r.Context(), user.ID, p.Limit, p.Offset())
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]api.OrganizationResponse, 0, len(orgs))
	for i := range orgs {
		items = append(items, orgResponse(&orgs[i]))
	}
	writeJSON(w, http.StatusOK, api.NewPaginatedResponse(items, total, p))
}

// handleGetOrganization returns one organization the caller belongs to.
func (s *Server) handleGetOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, err := pathUUID(r, "orgID")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.membership(r, orgID); err != nil {
		writeError(w, err)
		return
	}

	org, err := s.store.Organizations().GetByID(r.Context(), orgID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orgResponse(org))
}

// handleUpdateOrganization renames an organization. Admin or owner only.
func (s *Server) handleUpdateOrganization(w http.ResponseWriter, r *http.Request) {
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

	var req api.UpdateOrganizationRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == nil {
		org, err := s.store.Organizations().GetByID(r.Context(), orgID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, orgResponse(org))
		return
	}

	org, err := s.store.Organizations().UpdateName(r.Context(), orgID, *req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orgResponse(org))
}

// handleDeleteOrganization deactivates an organization. Owner only.
func (s *Server) handleDeleteOrganization(w http.ResponseWriter, r *http.Request) {
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
	if m.Role != store.RoleOwner {
		writeError(w, orchestrator.ErrNotPermitted)
		return
	}

	if err := s.store.Organizations().Delete(r.Context(), orgID); err != nil {
		writeError(w, err)
		return
	}

	s.log.Info("organization deleted", "organization", orgID, "by", CurrentUser(r.Context()).ID)
	writeMessage(w, http.StatusOK, "Organization deleted")
}
