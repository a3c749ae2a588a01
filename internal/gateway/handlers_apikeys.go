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

	"github.com/google/uuid"

	"github.com/redisgate/redisgate/internal/api"
	"github.com/redisgate/redisgate/internal/auth"
	"github.com/redisgate/redisgate/internal/store"
)

// apiKeyResponse projects a key row. includeToken is true only at creation.
func apiKeyResponse(k *store.APIKey, includeToken bool) api.APIKeyResponse {
	resp := api.APIKeyResponse{
		ID:             k.ID,
		Name:           k.Name,
		KeyPrefix:      k.KeyPrefix,
		UserID:         k.UserID,
		OrganizationID: k.OrganizationID,
		Scopes:         []string(k.Scopes),
		IsActive:       k.IsActive,
		ExpiresAt:      k.ExpiresAt,
		CreatedAt:      k.CreatedAt,
	}
	if includeToken {
		resp.KeyToken = k.KeyToken
	}
	return resp
}

// handleCreateAPIKey mints a key after the quota admission check. The signed
// token is returned once and never again.
func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	orgID, err := pathUUID(r, "orgID")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.membership(r, orgID); err != nil {
		writeError(w, err)
		return
	}

	var req api.CreateAPIKeyRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.quota.CheckCanCreateAPIKey(r.Context(), orgID); err != nil {
		writeError(w, err)
		return
	}

	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = []string{"*"}
	}

	user := CurrentUser(r.Context())
	keyID := uuid.New()
	prefix := auth.KeyPrefix(keyID)

	token, err := s.tokens.IssueAPIKey(keyID, user.ID, orgID, scopes, prefix, req.ExpiresAt)
	if err != nil {
		writeError(w, err)
		return
	}

	key := &store.APIKey{
		ID:             keyID,
		Name:           req.Name,
		KeyToken:       token,
		KeyPrefix:      prefix,
		UserID:         user.ID,
		OrganizationID: orgID,
		Scopes:         scopes,
		ExpiresAt:      req.ExpiresAt,
		RateLimitRPS:   req.RateLimit,
	}
	if err := s.store.APIKeys().Create(r.Context(), key); err != nil {
		writeError(w, err)
		return
	}

	s.log.Info("api key created", "key", keyID, "organization", orgID)
	writeJSON(w, http.StatusOK, apiKeyResponse(key, true))
}

// handleListAPIKeys pages through the organization's keys without tokens.
func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	orgID, err := pathUUID(r, "orgID")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.membership(r, orgID); err != nil {
		writeError(w, err)
		return
	}

	p := pagination(r)
	keys, total, err := s.store.APIKeys().ListForOrganization(r.Context(), orgID, p.Limit, p.Offset())
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]api.APIKeyResponse, 0, len(keys))
	for i := range keys {
		items = append(items, apiKeyResponse(&keys[i], false))
	}
	writeJSON(w, http.StatusOK, api.NewPaginatedResponse(items, total, p))
}

// handleGetAPIKey returns one key without its token. Any active member may
// read keys within their organization.
func (s *Server) handleGetAPIKey(w http.ResponseWriter, r *http.Request) {
	orgID, err := pathUUID(r, "orgID")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	keyID, err := pathUUID(r, "keyID")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.membership(r, orgID); err != nil {
		writeError(w, err)
		return
	}

	key, err := s.store.APIKeys().GetByID(r.Context(), keyID)
	if err != nil {
		writeError(w, err)
		return
	}
	if key.OrganizationID != orgID {
		writeError(w, store.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, apiKeyResponse(key, false))
}

// handleRevokeAPIKey deactivates a key and drops its rate limit bucket so a
// future key starts fresh.
func (s *Server) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	orgID, err := pathUUID(r, "orgID")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	keyID, err := pathUUID(r, "keyID")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.membership(r, orgID); err != nil {
		writeError(w, err)
		return
	}

	key, err := s.store.APIKeys().GetByID(r.Context(), keyID)
	if err != nil {
		writeError(w, err)
		return
	}
	if key.OrganizationID != orgID {
		writeError(w, store.ErrNotFound)
		return
	}

	if err := s.store.APIKeys().Deactivate(r.Context(), keyID); err != nil {
		writeError(w, err)
		return
	}
	if s.limiter != nil {
		s.limiter.RemoveAPIKey(keyID)
	}

	s.log.Info("api key revoked", "key", keyID, "organization", orgID)
	writeMessage(w, http.StatusOK, "API key revoked")
}
