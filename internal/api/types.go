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

// Package api defines the JSON wire types shared by the gateway handlers:
// the response envelope, pagination, and the request/response DTOs.
package api

import (
	"time"

	"github.com/google/uuid"
)

// Envelope is the uniform JSON response wrapper. Exactly one of Data or Error
// is populated; Message carries optional human-readable detail.
type Envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Success wraps data in a successful envelope.
func Success(data interface{}) Envelope {
	return Envelope{Success: true, Data: data, Timestamp: time.Now().UTC()}
}

// Error wraps an error message in a failed envelope.
func Error(message string) Envelope {
	return Envelope{Success: false, Error: message, Timestamp: time.Now().UTC()}
}

// PaginationParams are the query parameters accepted by list endpoints.
type PaginationParams struct {
	Page  int
	Limit int
}

// Normalize clamps page/limit to the documented bounds: page is 1-based,
// limit defaults to 20 and is capped at 100.
func (p PaginationParams) Normalize() PaginationParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = 20
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	return p
}

// Offset returns the row offset for the normalized page.
func (p PaginationParams) Offset() int {
	return (p.Page - 1) * p.Limit
}

// PaginatedResponse wraps a page of items.
type PaginatedResponse[T any] struct {
	Items      []T   `json:"items"`
	TotalCount int64 `json:"total_count"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"total_pages"`
}

// NewPaginatedResponse computes TotalPages from the count and limit.
func NewPaginatedResponse[T any](items []T, total int64, p PaginationParams) PaginatedResponse[T] {
	pages := int((total + int64(p.Limit) - 1) / int64(p.Limit))
	return PaginatedResponse[T]{
		Items:      items,
		TotalCount: total,
		Page:       p.Page,
		Limit:      p.Limit,
		TotalPages: pages,
	}
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Username  string `json:"username" validate:"required,min=3,max=64"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// UserResponse is the public projection of a user row.
type UserResponse struct {
	ID         uuid.UUID `json:"id"`
	Email      string    `json:"email"`
	Username   string    `json:"username"`
	FirstName  string    `json:"first_name,omitempty"`
	LastName   string    `json:"last_name,omitempty"`
	IsActive   bool      `json:"is_active"`
	IsVerified bool      `json:"is_verified"`
	CreatedAt  time.Time `json:"created_at"`
}

// LoginResponse carries the session token and, when the user belongs to an
// organization, a freshly minted full-scope API key.
type LoginResponse struct {
	Token          string       `json:"token"`
	User           UserResponse `json:"user"`
	APIKey         *string      `json:"api_key"`
	OrganizationID *uuid.UUID   `json:"organization_id"`
}

// CreateOrganizationRequest is the body of POST /api/organizations. Slugs
// become Kubernetes object names, so they must be lowercase RFC 1123 labels.
type CreateOrganizationRequest struct {
	Name string `json:"name" validate:"required,min=1,max=128"`
	Slug string `json:"slug" validate:"required,min=1,max=64,lowercase,hostname_rfc1123"`
}

// UpdateOrganizationRequest is the body of PUT /api/organizations/:id.
type UpdateOrganizationRequest struct {
	Name *string `json:"name,omitempty"`
}

// OrganizationResponse is the public projection of an organization row.
type OrganizationResponse struct {
	ID                uuid.UUID `json:"id"`
	Name              string    `json:"name"`
	Slug              string    `json:"slug"`
	MaxRedisInstances int       `json:"max_redis_instances"`
	MaxMemoryGB       int       `json:"max_memory_gb"`
	MaxAPIKeys        int       `json:"max_api_keys"`
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// CreateAPIKeyRequest is the body of POST /api/organizations/:id/api-keys.
type CreateAPIKeyRequest struct {
	Name      string     `json:"name" validate:"required,min=1,max=128"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	RateLimit *int       `json:"rate_limit,omitempty"`
}

// APIKeyResponse is the public projection of an API key row. The full token
// is only returned at creation time.
type APIKeyResponse struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	KeyPrefix      string     `json:"key_prefix"`
	KeyToken       string     `json:"key_token,omitempty"`
	UserID         uuid.UUID  `json:"user_id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	Scopes         []string   `json:"scopes"`
	IsActive       bool       `json:"is_active"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// CreateRedisInstanceRequest is the body of
// POST /api/organizations/:id/redis-instances.
type CreateRedisInstanceRequest struct {
	Name               string  `json:"name" validate:"required,min=1,max=128"`
	Slug               string  `json:"slug" validate:"required,min=1,max=64,lowercase,hostname_rfc1123"`
	MaxMemory          int64   `json:"max_memory" validate:"required,gt=0"`
	RedisVersion       *string `json:"redis_version,omitempty"`
	PersistenceEnabled *bool   `json:"persistence_enabled,omitempty"`
	BackupEnabled      *bool   `json:"backup_enabled,omitempty"`
}

// RedisInstanceResponse is the public projection of an instance row.
type RedisInstanceResponse struct {
	ID                 uuid.UUID  `json:"id"`
	Name               string     `json:"name"`
	Slug               string     `json:"slug"`
	OrganizationID     uuid.UUID  `json:"organization_id"`
	APIKeyID           *uuid.UUID `json:"api_key_id,omitempty"`
	Port               int        `json:"port"`
	Domain             string     `json:"domain"`
	Namespace          string     `json:"namespace"`
	PodName            string     `json:"pod_name,omitempty"`
	ServiceName        string     `json:"service_name,omitempty"`
	RedisVersion       string     `json:"redis_version"`
	MaxMemory          int64      `json:"max_memory"`
	CurrentMemory      int64      `json:"current_memory"`
	Status             string     `json:"status"`
	HealthStatus       string     `json:"health_status"`
	CPUUsagePercent    float64    `json:"cpu_usage_percent"`
	MemoryUsagePercent float64    `json:"memory_usage_percent"`
	ConnectionsCount   int        `json:"connections_count"`
	MaxConnections     int        `json:"max_connections"`
	PersistenceEnabled bool       `json:"persistence_enabled"`
	BackupEnabled      bool       `json:"backup_enabled"`
	LastBackupAt       *time.Time `json:"last_backup_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// UpdateQuotaRequest is the body of PUT /api/organizations/:id/quota.
type UpdateQuotaRequest struct {
	MaxInstances *int `json:"max_instances,omitempty"`
	MaxMemoryGB  *int `json:"max_memory_gb,omitempty"`
	MaxAPIKeys   *int `json:"max_api_keys,omitempty"`
}

// RedisCommandRequest is the body of POST /redis/:instance_id.
type RedisCommandRequest struct {
	Command string   `json:"command" validate:"required"`
	Args    []string `json:"args"`
}
