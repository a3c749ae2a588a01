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

// Package metrics exposes the gateway's Prometheus collectors plus a cheap
// atomic snapshot used by the JSON stats endpoint.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Version is the reported gateway version.
const Version = "0.0.4"

var durationBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
}

// Metrics holds every collector the gateway records into. Constructing
// against a private registry keeps tests independent.
type Metrics struct {
	registry *prometheus.Registry
	started  time.Time

	HTTPRequests      *prometheus.CounterVec
	HTTPRequestErrors *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec

	RedisCommands      *prometheus.CounterVec
	RedisCommandErrors *prometheus.CounterVec
	RedisDuration      *prometheus.HistogramVec

	APIKeyRequests     *prometheus.CounterVec
	APIKeyAuthFailures prometheus.Counter

	DatabaseQueries  *prometheus.CounterVec
	DatabaseDuration *prometheus.HistogramVec

	RedisConnectionsActive prometheus.Gauge
	RedisInstancesTotal    prometheus.Gauge
	OrganizationsTotal     prometheus.Gauge
	UsersTotal             prometheus.Gauge

	totalRequests   atomic.Uint64
	successRequests atomic.Uint64
	errorRequests   atomic.Uint64
	redisCommands   atomic.Uint64
	authFailures    atomic.Uint64
}

// New builds the collector set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		started:  time.Now(),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redisgate_http_requests_total",
			Help: "HTTP requests processed, labelled by method, route and status class.",
		}, []string{"method", "route", "status"}),
		HTTPRequestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redisgate_http_request_errors_total",
			Help: "HTTP requests that ended in a 4xx or 5xx status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "redisgate_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: durationBuckets,
		}, []string{"method", "route"}),

		RedisCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redisgate_redis_commands_total",
			Help: "Redis commands proxied to upstream instances.",
		}, []string{"command"}),
		RedisCommandErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redisgate_redis_command_errors_total",
			Help: "Proxied Redis commands that returned an error.",
		}, []string{"command"}),
		RedisDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "redisgate_redis_command_duration_seconds",
			Help:    "Upstream Redis command latency.",
			Buckets: durationBuckets,
		}, []string{"command"}),

		APIKeyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redisgate_api_key_requests_total",
			Help: "Requests authenticated with an API key, labelled by key prefix.",
		}, []string{"key_prefix"}),
		APIKeyAuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redisgate_api_key_auth_failures_total",
			Help: "Requests rejected during authentication.",
		}),

		DatabaseQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redisgate_database_queries_total",
			Help: "Database operations, labelled by kind and outcome.",
		}, []string{"operation", "outcome"}),
		DatabaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "redisgate_database_query_duration_seconds",
			Help:    "Database operation latency.",
			Buckets: durationBuckets,
		}, []string{"operation"}),

		RedisConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "redisgate_redis_connections_active",
			Help: "Pooled upstream Redis connections.",
		}),
		RedisInstancesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "redisgate_redis_instances_total",
			Help: "Live Redis instances across all organizations.",
		}),
		OrganizationsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "redisgate_organizations_total",
			Help: "Registered organizations.",
		}),
		UsersTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "redisgate_users_total",
			Help: "Registered users.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequests, m.HTTPRequestErrors, m.HTTPDuration,
		m.RedisCommands, m.RedisCommandErrors, m.RedisDuration,
		m.APIKeyRequests, m.APIKeyAuthFailures,
		m.DatabaseQueries, m.DatabaseDuration,
		m.RedisConnectionsActive, m.RedisInstancesTotal,
		m.OrganizationsTotal, m.UsersTotal,
	)
	return m
}

// Handler serves the Prometheus text exposition for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest updates the HTTP collectors and the snapshot counters.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	statusLabel := statusClass(status)
	m.HTTPRequests.WithLabelValues(method, route, statusLabel).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())

	m.totalRequests.Add(1)
	if status >= 400 {
		m.HTTPRequestErrors.WithLabelValues(method, route, statusLabel).Inc()
		m.errorRequests.Add(1)
	} else {
		m.successRequests.Add(1)
	}
}

// RecordRedisCommand updates the proxy collectors.
func (m *Metrics) RecordRedisCommand(command string, elapsed time.Duration, err error) {
	m.RedisCommands.WithLabelValues(command).Inc()
	m.RedisDuration.WithLabelValues(command).Observe(elapsed.Seconds())
	m.redisCommands.Add(1)
	if err != nil {
		m.RedisCommandErrors.WithLabelValues(command).Inc()
	}
}

// RecordAPIKeyRequest counts a successfully authenticated API-key request.
func (m *Metrics) RecordAPIKeyRequest(keyPrefix string) {
	m.APIKeyRequests.WithLabelValues(keyPrefix).Inc()
}

// RecordAuthFailure counts a rejected authentication attempt.
func (m *Metrics) RecordAuthFailure() {
	m.APIKeyAuthFailures.Inc()
	m.authFailures.Add(1)
}

// RecordDatabaseQuery counts a database operation.
func (m *Metrics) RecordDatabaseQuery(operation string, elapsed time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.DatabaseQueries.WithLabelValues(operation, outcome).Inc()
	m.DatabaseDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// Snapshot is the JSON stats payload.
type Snapshot struct {
	TotalRequests   uint64  `json:"total_requests"`
	SuccessRequests uint64  `json:"success_requests"`
	ErrorRequests   uint64  `json:"error_requests"`
	RedisCommands   uint64  `json:"redis_commands"`
	AuthFailures    uint64  `json:"auth_failures"`
	SuccessRate     float64 `json:"success_rate"`
	ErrorRate       float64 `json:"error_rate"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	Version         string  `json:"version"`
}

// TakeSnapshot reads the atomic counters.
func (m *Metrics) TakeSnapshot() Snapshot {
	total := m.totalRequests.Load()
	success := m.successRequests.Load()
	errs := m.errorRequests.Load()

	snap := Snapshot{
		TotalRequests:   total,
		SuccessRequests: success,
		ErrorRequests:   errs,
		RedisCommands:   m.redisCommands.Load(),
		AuthFailures:    m.authFailures.Load(),
		UptimeSeconds:   time.Since(m.started).Seconds(),
		Version:         Version,
	}
	if total > 0 {
		snap.SuccessRate = float64(success) / float64(total) * 100
		snap.ErrorRate = float64(errs) / float64(total) * 100
	}
	return snap
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
