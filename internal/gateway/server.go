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

// Package gateway assembles the HTTP surface: session-authenticated
// management routes, API-key-authenticated Redis proxy routes, and the
// operational endpoints.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"github.com/go-playground/validator/v10"

	"github.com/redisgate/redisgate/internal/auth"
	"github.com/redisgate/redisgate/internal/config"
	"github.com/redisgate/redisgate/internal/metrics"
	"github.com/redisgate/redisgate/internal/orchestrator"
	"github.com/redisgate/redisgate/internal/quota"
	"github.com/redisgate/redisgate/internal/ratelimit"
	"github.com/redisgate/redisgate/internal/redispool"
	"github.com/redisgate/redisgate/internal/store"
)

// Server wires every service behind the chi router.
type Server struct {
	cfg       *config.Config
	log       logr.Logger
	store     *store.Store
	tokens    *auth.TokenManager
	pool      *redispool.Pool
	limiter   *ratelimit.Limiter
	metrics   *metrics.Metrics
	quota     *quota.Service
	instances *orchestrator.Service
	validate  *validator.Validate

	httpServer *http.Server
}

// New builds the server. limiter may be nil when rate limiting is disabled.
func New(
	cfg *config.Config,
	log logr.Logger,
	st *store.Store,
	tokens *auth.TokenManager,
	pool *redispool.Pool,
	limiter *ratelimit.Limiter,
	m *metrics.Metrics,
	quotaSvc *quota.Service,
	instances *orchestrator.Service,
) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		store:     st,
		tokens:    tokens,
		pool:      pool,
		limiter:   limiter,
		metrics:   m,
		quota:     quotaSvc,
		instances: instances,
		validate:  validator.New(),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.BindAddress(),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if s.cfg.Security.EnableCORS {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	r.Use(s.trackMetrics)
	r.Use(s.recoverer)
	r.Use(middleware.Timeout(time.Duration(s.cfg.Server.RequestTimeoutSeconds) * time.Second))

	// Public routes.
	r.Get("/health", s.handleHealthLive)
	r.Get("/health/live", s.handleHealthLive)
	r.Get("/health/ready", s.handleHealthReady)
	r.Get("/health/detailed", s.handleHealthDetailed)
	r.Get("/version", s.handleVersion)
	if s.cfg.Metrics.Enabled {
		r.Method("GET", s.cfg.Metrics.Path, s.metrics.Handler())
		r.Get("/stats", s.handleStats)
	}
	s.mountDashboard(r)

	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/login", s.handleLogin)

	// Session-authenticated management API.
	r.Group(func(r chi.Router) {
		r.Use(s.sessionAuth)

		r.Get("/auth/me", s.handleMe)

		r.Route("/api/organizations", func(r chi.Router) {
			r.Post("/", s.handleCreateOrganization)
			r.Get("/", s.handleListOrganizations)

			r.Route("/{orgID}", func(r chi.Router) {
				r.Get("/", s.handleGetOrganization)
				r.Put("/", s.handleUpdateOrganization)
				r.Delete("/", s.handleDeleteOrganization)

				r.Get("/quota", s.handleGetQuota)
				r.Put("/quota", s.handleUpdateQuota)

				r.Route("/api-keys", func(r chi.Router) {
					r.Post("/", s.handleCreateAPIKey)
					r.Get("/", s.handleListAPIKeys)
					r.Get("/{keyID}", s.handleGetAPIKey)
					r.Delete("/{keyID}", s.handleRevokeAPIKey)
				})

				r.Route("/redis-instances", func(r chi.Router) {
					r.Post("/", s.handleCreateInstance)
					r.Get("/", s.handleListInstances)
					r.Get("/{instanceID}", s.handleGetInstance)
					r.Put("/{instanceID}/status", s.handleRefreshInstanceStatus)
					r.Delete("/{instanceID}", s.handleDeleteInstance)
				})
			})
		})
	})

	// API-key-authenticated Redis proxy.
	r.Route("/redis/{instanceID}", func(r chi.Router) {
		r.Use(s.apiKeyAuth)

		// Command values travel in the path, so every named route is a GET.
		r.Get("/ping", s.redisCommand("PING"))
		r.Get("/set/{key}/{value}", s.redisCommand("SET"))
		r.Get("/get/{key}", s.redisCommand("GET"))
		r.Get("/del/{key}", s.redisCommand("DEL"))
		r.Get("/incr/{key}", s.redisCommand("INCR"))
		r.Get("/decr/{key}", s.redisCommand("DECR"))
		r.Get("/exists/{key}", s.redisCommand("EXISTS"))
		r.Get("/expire/{key}/{seconds}", s.redisCommand("EXPIRE"))
		r.Get("/ttl/{key}", s.redisCommand("TTL"))
		r.Get("/hset/{key}/{field}/{value}", s.redisCommand("HSET"))
		r.Get("/hget/{key}/{field}", s.redisCommand("HGET"))
		r.Get("/lpush/{key}/{value}", s.redisCommand("LPUSH"))
		r.Get("/lpop/{key}", s.redisCommand("LPOP"))
		r.Get("/sadd/{key}/{member}", s.redisCommand("SADD"))
		r.Get("/smembers/{key}", s.redisCommand("SMEMBERS"))
		r.Get("/sismember/{key}/{member}", s.redisCommand("SISMEMBER"))
		r.Get("/srem/{key}/{member}", s.redisCommand("SREM"))

		r.Post("/", s.handleRedisDispatch)
	})

	return r
}

// recoverer turns panics into 500 envelopes instead of chi's plain text.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error(fmt.Errorf("%v", rec), "panic serving request",
					"method", r.Method, "path", r.URL.Path)
				writeErrorMessage(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Handler exposes the assembled router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests, then closes the upstream pool. The
// database handle is closed last by the caller so draining handlers keep a
// working store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down http server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("drain http server: %w", err)
	}
	s.pool.Close()
	return nil
}
