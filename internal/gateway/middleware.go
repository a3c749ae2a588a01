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
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/redisgate/redisgate/internal/auth"
	"github.com/redisgate/redisgate/internal/store"
)

type contextKey string

const (
	ctxKeyUser      contextKey = "current_user"
	ctxKeySession   contextKey = "session_claims"
	ctxKeyAPIKey    contextKey = "api_key"
	ctxKeyKeyClaims contextKey = "api_key_claims"
)

// CurrentUser returns the authenticated user stored by sessionAuth.
func CurrentUser(ctx context.Context) *store.User {
	u, _ := ctx.Value(ctxKeyUser).(*store.User)
	return u
}

// SessionClaims returns the verified session claims.
func SessionClaims(ctx context.Context) *auth.SessionClaims {
	c, _ := ctx.Value(ctxKeySession).(*auth.SessionClaims)
	return c
}

// CurrentAPIKey returns the API key record stored by apiKeyAuth.
func CurrentAPIKey(ctx context.Context) *store.APIKey {
	k, _ := ctx.Value(ctxKeyAPIKey).(*store.APIKey)
	return k
}

// APIKeyClaims returns the verified API-key claims.
func APIKeyClaims(ctx context.Context) *auth.APIKeyClaims {
	c, _ := ctx.Value(ctxKeyKeyClaims).(*auth.APIKeyClaims)
	return c
}

// trackMetrics records every request into the Prometheus collectors, using
// the chi route pattern as the route label to keep cardinality bounded.
func (s *Server) trackMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RecordHTTPRequest(r.Method, route, status, time.Since(start))
		if status == http.StatusUnauthorized {
			s.metrics.RecordAuthFailure()
		}
	})
}

// sessionAuth verifies the bearer session token and loads the user row.
// Deactivated users are rejected as revoked.
func (s *Server) sessionAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := auth.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, err)
			return
		}
		claims, err := s.tokens.VerifySession(raw)
		if err != nil {
			writeError(w, err)
			return
		}

		user, err := s.store.Users().GetByID(r.Context(), claims.UserID)
		if err != nil {
			writeError(w, auth.ErrTokenRevoked)
			return
		}
		if !user.IsActive {
			writeError(w, auth.ErrTokenRevoked)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyUser, user)
		ctx = context.WithValue(ctx, ctxKeySession, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// apiKeyAuth verifies the bearer API-key token, checks the stored key is
// still active and unexpired, and draws a rate limit token. Runs on the
// /redis proxy routes.
func (s *Server) apiKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := auth.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, err)
			return
		}
		claims, err := s.tokens.VerifyAPIKey(raw)
		if err != nil {
			writeError(w, err)
			return
		}

		key, err := s.store.APIKeys().GetByID(r.Context(), claims.APIKeyID)
		if err != nil {
			writeError(w, auth.ErrTokenRevoked)
			return
		}
		if !key.Valid(time.Now()) {
			writeError(w, auth.ErrTokenRevoked)
			return
		}

		if s.limiter != nil && !s.limiter.CheckAPIKey(key.ID, key.RateLimitRPS) {
			writeError(w, errRateLimited)
			return
		}

		s.metrics.RecordAPIKeyRequest(key.KeyPrefix)

		ctx := context.WithValue(r.Context(), ctxKeyAPIKey, key)
		ctx = context.WithValue(ctx, ctxKeyKeyClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
