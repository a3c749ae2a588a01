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

package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// User is a registered account.
type User struct {
	ID           uuid.UUID `db:"id"`
	Email        string    `db:"email"`
	Username     string    `db:"username"`
	PasswordHash string    `db:"password_hash"`
	FirstName    *string   `db:"first_name"`
	LastName     *string   `db:"last_name"`
	IsActive     bool      `db:"is_active"`
	IsVerified   bool      `db:"is_verified"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Organization is a tenant with quota ceilings.
type Organization struct {
	ID                uuid.UUID `db:"id"`
	Name              string    `db:"name"`
	Slug              string    `db:"slug"`
	MaxRedisInstances int       `db:"max_redis_instances"`
	MaxMemoryGB       int       `db:"max_memory_gb"`
	MaxAPIKeys        int       `db:"max_api_keys"`
	IsActive          bool      `db:"is_active"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

// Membership roles.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Membership links a user to an organization with a role.
type Membership struct {
	OrganizationID uuid.UUID `db:"organization_id"`
	UserID         uuid.UUID `db:"user_id"`
	Role           string    `db:"role"`
	IsActive       bool      `db:"is_active"`
	CreatedAt      time.Time `db:"created_at"`
}

// CanManage reports whether the role may mutate organization-owned resources.
func (m *Membership) CanManage() bool {
	return m.Role == RoleOwner || m.Role == RoleAdmin
}

// APIKey is a stored API-key record. KeyToken holds the full signed JWT.
type APIKey struct {
	ID             uuid.UUID      `db:"id"`
	Name           string         `db:"name"`
	KeyToken       string         `db:"key_token"`
	KeyPrefix      string         `db:"key_prefix"`
	UserID         uuid.UUID      `db:"user_id"`
	OrganizationID uuid.UUID      `db:"organization_id"`
	Scopes         pq.StringArray `db:"scopes"`
	IsActive       bool           `db:"is_active"`
	ExpiresAt      *time.Time     `db:"expires_at"`
	RateLimitRPS   *int           `db:"rate_limit_rps"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

// Valid reports whether the key is usable right now.
func (k *APIKey) Valid(now time.Time) bool {
	if !k.IsActive {
		return false
	}
	return k.ExpiresAt == nil || k.ExpiresAt.After(now)
}

// Instance lifecycle statuses.
const (
	StatusPending     = "pending"
	StatusRunning     = "running"
	StatusDevelopment = "development"
	StatusFailed      = "failed"
	StatusTerminating = "terminating"
)

// Instance health statuses.
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
	HealthUnknown   = "unknown"
)

// RedisInstance is the durable descriptor of a managed Redis server.
type RedisInstance struct {
	ID                 uuid.UUID  `db:"id"`
	Name               string     `db:"name"`
	Slug               string     `db:"slug"`
	OrganizationID     uuid.UUID  `db:"organization_id"`
	APIKeyID           *uuid.UUID `db:"api_key_id"`
	Port               int        `db:"port"`
	Domain             string     `db:"domain"`
	Namespace          string     `db:"namespace"`
	PodName            *string    `db:"pod_name"`
	ServiceName        *string    `db:"service_name"`
	RedisVersion       string     `db:"redis_version"`
	MaxMemory          int64      `db:"max_memory"`
	CurrentMemory      int64      `db:"current_memory"`
	Password           string     `db:"password"`
	PasswordHash       string     `db:"password_hash"`
	Status             string     `db:"status"`
	HealthStatus       string     `db:"health_status"`
	CPUUsagePercent    float64    `db:"cpu_usage_percent"`
	MemoryUsagePercent float64    `db:"memory_usage_percent"`
	ConnectionsCount   int        `db:"connections_count"`
	MaxConnections     int        `db:"max_connections"`
	PersistenceEnabled bool       `db:"persistence_enabled"`
	BackupEnabled      bool       `db:"backup_enabled"`
	LastBackupAt       *time.Time `db:"last_backup_at"`
	DeletedAt          *time.Time `db:"deleted_at"`
	CreatedAt          time.Time  `db:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"`
}

// Host resolves the upstream address the proxy dials: prefer the domain,
// then the in-cluster service name, then localhost for development mode.
func (i *RedisInstance) Host() string {
	if i.Domain != "" && i.Status != StatusDevelopment {
		return i.Domain
	}
	if i.ServiceName != nil && *i.ServiceName != "" && i.Status != StatusDevelopment {
		return *i.ServiceName
	}
	return "127.0.0.1"
}

// QuotaCounter is the per-organization usage aggregate maintained in lockstep
// with the set of non-deleted instances.
type QuotaCounter struct {
	OrganizationID   uuid.UUID `db:"organization_id"`
	CurrentInstances int       `db:"current_instances"`
	CurrentMemoryMB  int       `db:"current_memory_mb"`
}
