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
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/redisgate/redisgate/internal/api"
	"github.com/redisgate/redisgate/internal/auth"
	"github.com/redisgate/redisgate/internal/store"
)

// decodeAndValidate parses the JSON body into dst and runs struct validation.
func (s *Server) decodeAndValidate(r *http.Request, dst interface{}) error {
	maxBytes := int64(s.cfg.Server.MaxRequestSizeMB) << 20
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

func userResponse(u *store.User) api.UserResponse {
	resp := api.UserResponse{
		ID:         u.ID,
		Email:      u.Email,
		Username:   u.Username,
		IsActive:   u.IsActive,
		IsVerified: u.IsVerified,
		CreatedAt:  u.CreatedAt,
	}
	if u.FirstName != nil {
		resp.FirstName = *u.FirstName
	}
	if u.LastName != nil {
		resp.LastName = *u.LastName
	}
	return resp
}

// handleRegister creates a user account. Duplicate email or username answers
// 409.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	user := &store.User{
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: hash,
	}
	if req.FirstName != "" {
		user.FirstName = &req.FirstName
	}
	if req.LastName != "" {
		user.LastName = &req.LastName
	}

	if err := s.store.Users().Create(r.Context(), user); err != nil {
		writeError(w, err)
		return
	}

	s.log.Info("user registered", "user", user.ID, "email", user.Email)
	writeJSON(w, http.StatusOK, userResponse(user))
}

// handleLogin verifies credentials and issues a session token. When the user
// belongs to an organization, a full-scope API key is minted alongside so the
// dashboard can reach the proxy immediately.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := s.store.Users().GetByEmail(r.Context(), req.Email)
	if err != nil || !user.IsActive || !auth.VerifyPassword(req.Password, user.PasswordHash) {
		writeError(w, errInvalidCredentials)
		return
	}

	orgID, err := s.store.Organizations().PrimaryOrgForUser(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	token, err := s.tokens.IssueSession(user.ID, user.Email, orgID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := api.LoginResponse{
		Token:          token,
		User:           userResponse(user),
		OrganizationID: orgID,
	}

	if orgID != nil {
		keyToken, err := s.autoAPIKey(r, user, *orgID)
		if err != nil {
			// Login still succeeds; the key can be created explicitly.
			s.log.Error(err, "auto api key creation failed", "user", user.ID)
		} else {
			resp.APIKey = &keyToken
		}
	}

	s.log.Info("user logged in", "user", user.ID)
	writeJSON(w, http.StatusOK, resp)
}

// autoAPIKey mints the login-time convenience key with the wildcard scope.
func (s *Server) autoAPIKey(r *http.Request, user *store.User, orgID uuid.UUID) (string, error) {
	keyID := uuid.New()
	prefix := auth.KeyPrefix(keyID)
	scopes := []string{"*"}

	token, err := s.tokens.IssueAPIKey(keyID, user.ID, orgID, scopes, prefix, nil)
	if err != nil {
		return "", err
	}

	key := &store.APIKey{
		ID:             keyID,
		Name:           fmt.Sprintf("Auto-generated key for %s", user.Email),
		KeyToken:       token,
		KeyPrefix:      prefix,
		UserID:         user.ID,
		OrganizationID: orgID,
		Scopes:         scopes,
	}
	if err := s.store.APIKeys().Create(r.Context(), key); err != nil {
		return "", err
	}
	return token, nil
}

// handleMe returns the authenticated user.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r.Context())
	writeJSON(w, http.StatusOK, userResponse(user))
}
