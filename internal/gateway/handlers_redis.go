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
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/redisgate/redisgate/internal/api"
	"github.com/redisgate/redisgate/internal/store"
)

// proxyInstance resolves the target instance and enforces that the API key
// belongs to the same organization.
func (s *Server) proxyInstance(r *http.Request) (*store.RedisInstance, error) {
	instanceID, err := pathUUID(r, "instanceID")
	if err != nil {
		return nil, err
	}
	inst, err := s.store.Instances().GetByID(r.Context(), instanceID)
	if err != nil {
		return nil, err
	}
	key := CurrentAPIKey(r.Context())
	if inst.OrganizationID != key.OrganizationID {
		return nil, errOrgMismatch
	}
	return inst, nil
}

// execute runs one command against the instance's pooled client, recording
// latency and outcome. redis.Nil is surfaced as a null result, not an error.
func (s *Server) execute(r *http.Request, inst *store.RedisInstance, command string, args []interface{}) (interface{}, error) {
	claims := APIKeyClaims(r.Context())
	if !claims.HasScope(strings.ToLower(command)) {
		return nil, errScopeDenied
	}

	addr := fmt.Sprintf("%s:%d", inst.Host(), inst.Port)
	client, err := s.pool.GetOrConnect(r.Context(), inst.ID, addr, inst.Password)
	if err != nil {
		return nil, err
	}

	full := append([]interface{}{command}, args...)
	start := time.Now()
	result, err := client.Do(r.Context(), full...).Result()
	s.metrics.RecordRedisCommand(command, time.Since(start), err)

	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis command failed: %w", err)
	}
	return result, nil
}

// buildArgs assembles the argument list for a named proxy route from its path
// parameters. Every command value travels in the path, so the named routes
// are all plain GETs.
func buildArgs(r *http.Request, command string) ([]interface{}, error) {
	key := chi.URLParam(r, "key")

	switch command {
	case "PING":
		return nil, nil

	case "GET", "DEL", "INCR", "DECR", "EXISTS", "TTL", "LPOP", "SMEMBERS":
		return []interface{}{key}, nil

	case "SET", "LPUSH":
		return []interface{}{key, chi.URLParam(r, "value")}, nil

	case "EXPIRE":
		seconds := chi.URLParam(r, "seconds")
		if _, err := strconv.ParseInt(seconds, 10, 64); err != nil {
			return nil, errors.New("seconds must be an integer")
		}
		return []interface{}{key, seconds}, nil

	case "HSET":
		return []interface{}{key, chi.URLParam(r, "field"), chi.URLParam(r, "value")}, nil

	case "HGET":
		return []interface{}{key, chi.URLParam(r, "field")}, nil

	case "SADD", "SREM", "SISMEMBER":
		return []interface{}{key, chi.URLParam(r, "member")}, nil

	default:
		return nil, fmt.Errorf("unsupported command %s", command)
	}
}

// redisCommand builds the handler for one named proxy route. The command
// result is serialized directly as the envelope's data.
func (s *Server) redisCommand(command string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inst, err := s.proxyInstance(r)
		if err != nil {
			writeError(w, err)
			return
		}
		args, err := buildArgs(r, command)
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, err.Error())
			return
		}
		result, err := s.execute(r, inst, command, args)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// allowedCommands bounds the generic dispatch endpoint to the command
// families the named routes expose.
var allowedCommands = map[string]bool{
	"PING": true, "SET": true, "GET": true, "DEL": true,
	"INCR": true, "DECR": true, "EXISTS": true, "EXPIRE": true,
	"TTL": true, "HSET": true, "HGET": true, "HDEL": true,
	"HGETALL": true, "LPUSH": true, "LPOP": true, "RPUSH": true,
	"RPOP": true, "LRANGE": true, "LLEN": true, "SADD": true,
	"SMEMBERS": true, "SISMEMBER": true, "SREM": true, "SCARD": true,
	"KEYS": true, "TYPE": true, "INFO": true, "DBSIZE": true,
}

// handleRedisDispatch executes an arbitrary allowed command posted as
// {"command": ..., "args": [...]}.
func (s *Server) handleRedisDispatch(w http.ResponseWriter, r *http.Request) {
	inst, err := s.proxyInstance(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req api.RedisCommandRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	command := strings.ToUpper(req.Command)
	if !allowedCommands[command] {
		writeErrorMessage(w, http.StatusBadRequest,
			fmt.Sprintf("command %s is not allowed", command))
		return
	}

	args := make([]interface{}, 0, len(req.Args))
	for _, a := range req.Args {
		args = append(args, a)
	}

	result, err := s.execute(r, inst, command, args)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
