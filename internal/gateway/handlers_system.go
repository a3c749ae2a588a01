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
	"embed"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/redisgate/redisgate/internal/metrics"
)

//go:embed static/*.html
var staticFS embed.FS

// handleHealthLive answers as long as the process serves requests.
func (s *Server) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": metrics.Version,
	})
}

// handleHealthReady fails while the database is unreachable.
func (s *Server) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HealthCheck(r.Context()); err != nil {
		writeErrorMessage(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ready"})
}

// handleHealthDetailed reports each dependency. The gateway is degraded when
// the upstream pool holds no connections while instances exist.
func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := map[string]interface{}{}

	dbStart := time.Now()
	if err := s.store.HealthCheck(r.Context()); err != nil {
		status = "unhealthy"
		checks["database"] = map[string]interface{}{"status": "down", "error": err.Error()}
	} else {
		checks["database"] = map[string]interface{}{
			"status":     "up",
			"latency_ms": time.Since(dbStart).Milliseconds(),
		}
	}

	connections := s.pool.ConnectionCount()
	instanceCount, err := s.store.Instances().Count(r.Context())
	if err == nil && instanceCount > 0 && connections == 0 && status == "healthy" {
		status = "degraded"
	}
	checks["redis_pool"] = map[string]interface{}{
		"connections": connections,
		"instances":   instanceCount,
	}

	checks["kubernetes"] = map[string]interface{}{
		"development_mode": s.instances.DevelopmentMode(),
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":  status,
		"version": metrics.Version,
		"checks":  checks,
	})
}

// handleVersion reports the build version.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "redisgate",
		"version": metrics.Version,
	})
}

// handleStats serves the JSON counter snapshot plus table totals.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := s.metrics.TakeSnapshot()

	users, err := s.store.Users().Count(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	orgs, err := s.store.Organizations().Count(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	instances, err := s.store.Instances().Count(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	s.metrics.UsersTotal.Set(float64(users))
	s.metrics.OrganizationsTotal.Set(float64(orgs))
	s.metrics.RedisInstancesTotal.Set(float64(instances))
	s.metrics.RedisConnectionsActive.Set(float64(s.pool.ConnectionCount()))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requests":          snap,
		"users":             users,
		"organizations":     orgs,
		"redis_instances":   instances,
		"pool_connections":  s.pool.ConnectionCount(),
		"rate_limited_keys": s.limitedKeys(),
	})
}

func (s *Server) limitedKeys() int {
	if s.limiter == nil {
		return 0
	}
	return s.limiter.TrackedKeysCount()
}

// mountDashboard serves the embedded single-page dashboard.
func (s *Server) mountDashboard(r chi.Router) {
	serve := func(name string) http.HandlerFunc {
		return func(w http.ResponseWriter, req *http.Request) {
			data, err := staticFS.ReadFile("static/" + name)
			if err != nil {
				http.NotFound(w, req)
				return
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write(data)
		}
	}
	r.Get("/", serve("index.html"))
	r.Get("/dashboard", serve("dashboard.html"))
}
