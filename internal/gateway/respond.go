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
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/redisgate/redisgate/internal/api"
	"github.com/redisgate/redisgate/internal/auth"
	"github.com/redisgate/redisgate/internal/orchestrator"
	"github.com/redisgate/redisgate/internal/quota"
	"github.com/redisgate/redisgate/internal/redispool"
	"github.com/redisgate/redisgate/internal/store"
)

// Domain errors raised directly by handlers.
var (
	errInvalidCredentials = errors.New("invalid email or password")
	errRateLimited        = errors.New("rate limit exceeded")
	errScopeDenied        = errors.New("api key does not authorize this command")
	errOrgMismatch        = errors.New("api key does not belong to this organization")
)

// writeJSON writes a success envelope.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(api.Success(data))
}

// writeMessage writes a success envelope with a human-readable message only.
func writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	env := api.Success(nil)
	env.Message = message
	json.NewEncoder(w).Encode(env)
}

// writeErrorMessage writes a failure envelope with an explicit status.
func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(api.Error(message))
}

// writeError maps a domain error onto its HTTP status and writes the failure
// envelope.
func writeError(w http.ResponseWriter, err error) {
	writeErrorMessage(w, statusFor(err), err.Error())
}

// statusFor is the single place the error taxonomy turns into HTTP statuses.
func statusFor(err error) int {
	var quotaInstances *quota.MaxInstancesReachedError
	var quotaMemory *quota.MemoryLimitExceededError
	var quotaKeys *quota.MaxAPIKeysReachedError
	var quotaLimit *quota.InvalidLimitError

	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict

	case errors.Is(err, auth.ErrTokenMissing),
		errors.Is(err, auth.ErrTokenMalformed),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrTokenSignature),
		errors.Is(err, auth.ErrTokenRevoked),
		errors.Is(err, auth.ErrWrongTokenKind),
		errors.Is(err, errInvalidCredentials):
		return http.StatusUnauthorized

	case errors.Is(err, orchestrator.ErrNotMember),
		errors.Is(err, orchestrator.ErrNotPermitted),
		errors.Is(err, errScopeDenied),
		errors.Is(err, errOrgMismatch),
		errors.As(err, &quotaInstances),
		errors.As(err, &quotaMemory),
		errors.As(err, &quotaKeys):
		return http.StatusForbidden

	case errors.As(err, &quotaLimit):
		return http.StatusBadRequest

	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests

	case errors.Is(err, redispool.ErrNoConnection):
		return http.StatusNotFound

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
