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
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// InstanceRepository persists Redis instance descriptors. Reads exclude
// soft-deleted rows unless stated otherwise.
type InstanceRepository struct {
	db  sqlx.ExtContext
	rec QueryRecorder
}

// NewInstanceRepositoryTx binds a repository to an open transaction so
// instance inserts and quota counter updates commit atomically.
func NewInstanceRepositoryTx(tx *sqlx.Tx) *InstanceRepository {
	return &InstanceRepository{db: tx}
}

const instanceColumns = `id, name, slug, organization_id, api_key_id, port,
	domain, namespace, pod_name, service_name, redis_version, max_memory,
	current_memory, password, password_hash, status, health_status,
	cpu_usage_percent, memory_usage_percent, connections_count,
	max_connections, persistence_enabled, backup_enabled, last_backup_at,
	deleted_at, created_at, updated_at`

// Create inserts the descriptor. Returns ErrDuplicate when the (org, slug) or
// domain uniqueness over non-deleted rows is violated.
func (r *InstanceRepository) Create(ctx context.Context, inst *RedisInstance) (err error) {
	start := time.Now()
	defer func() { observe(r.rec, "redis_instances.create", start, err) }()

	query := `
		INSERT INTO redis_instances (id, name, slug, organization_id,
			api_key_id, port, domain, namespace, pod_name, service_name,
			redis_version, max_memory, password, password_hash, status,
			health_status, max_connections, persistence_enabled, backup_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING current_memory, cpu_usage_percent, memory_usage_percent,
			connections_count, created_at, updated_at`
	err = r.db.QueryRowxContext(ctx, query,
		inst.ID, inst.Name, inst.Slug, inst.OrganizationID,
		inst.APIKeyID, inst.Port, inst.Domain, inst.Namespace, inst.PodName, inst.ServiceName,
		inst.RedisVersion, inst.MaxMemory, inst.Password, inst.PasswordHash, inst.Status,
		inst.HealthStatus, inst.MaxConnections, inst.PersistenceEnabled, inst.BackupEnabled,
	).Scan(&inst.CurrentMemory, &inst.CPUUsagePercent, &inst.MemoryUsagePercent,
		&inst.ConnectionsCount, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert redis instance: %w", err)
	}
	return nil
}

// GetByID fetches a live instance by primary key.
func (r *InstanceRepository) GetByID(ctx context.Context, id uuid.UUID) (_ *RedisInstance, err error) {
	start := time.Now()
	defer func() { observe(r.rec, "redis_instances.get_by_id", start, err) }()

	var inst RedisInstance
	query := fmt.Sprintf(`
		SELECT %s FROM redis_instances
		WHERE id = $1 AND deleted_at IS NULL`, instanceColumns)
	if err = sqlx.GetContext(ctx, r.db, &inst, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get redis instance: %w", err)
	}
	return &inst, nil
}

// GetBySlug fetches a live instance by (organization, slug).
func (r *InstanceRepository) GetBySlug(ctx context.Context, orgID uuid.UUID, slug string) (_ *RedisInstance, err error) {
	start := time.Now()
	defer func() { observe(r.rec, "redis_instances.get_by_slug", start, err) }()

	var inst RedisInstance
	query := fmt.Sprintf(`
		SELECT %s FROM redis_instances
		WHERE organization_id = $1 AND slug = $2 AND deleted_at IS NULL`, instanceColumns)
	if err = sqlx.GetContext(ctx, r.db, &inst, query, orgID, slug); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get redis instance by slug: %w", err)
	}
	return &inst, nil
}

// ListForOrganization returns the organization's live instances, newest first.
func (r *InstanceRepository) ListForOrganization(ctx context.Context, orgID uuid.UUID, limit, offset int) (_ []RedisInstance, _ int64, err error) {
	start := time.Now()
	defer func() { observe(r.rec, "redis_instances.list_for_organization", start, err) }()

	var instances []RedisInstance
	query := fmt.Sprintf(`
		SELECT %s FROM redis_instances
		WHERE organization_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, instanceColumns)
	if err = sqlx.SelectContext(ctx, r.db, &instances, query, orgID, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("list redis instances: %w", err)
	}

	var total int64
	countQuery := `
		SELECT COUNT(*) FROM redis_instances
		WHERE organization_id = $1 AND deleted_at IS NULL`
	if err = sqlx.GetContext(ctx, r.db, &total, countQuery, orgID); err != nil {
		return nil, 0, fmt.Errorf("count redis instances: %w", err)
	}
	return instances, total, nil
}

// UpdateStatus sets lifecycle and health status plus the observed pod name.
func (r *InstanceRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status, healthStatus string, podName *string) (err error) {
	start := time.Now()
	defer func() { observe(r.rec, "redis_instances.update_status", start, err) }()

	res, err := r.db.ExecContext(ctx, `
		UPDATE redis_instances
		SET status = $2, health_status = $3,
			pod_name = COALESCE($4, pod_name), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`,
		id, status, healthStatus, podName)
	if err != nil {
		return fmt.Errorf("update instance status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateObservedMetrics records usage figures reported by the upstream.
func (r *InstanceRepository) UpdateObservedMetrics(ctx context.Context, id uuid.UUID, currentMemory int64, cpuPercent, memPercent float64, connections int) (err error) {
	start := time.Now()
	defer func() { observe(r.rec, "redis_instances.update_observed_metrics", start, err) }()

	_, err = r.db.ExecContext(ctx, `
		UPDATE redis_instances
		SET current_memory = $2, cpu_usage_percent = $3,
			memory_usage_percent = $4, connections_count = $5,
			updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`,
		id, currentMemory, cpuPercent, memPercent, connections)
	if err != nil {
		return fmt.Errorf("update observed metrics: %w", err)
	}
	return nil
}

// SoftDelete marks the instance deleted and returns the deleted row so the
// caller can release quota and tear down the workload.
func (r *InstanceRepository) SoftDelete(ctx context.Context, id uuid.UUID) (_ *RedisInstance, err error) {
	start := time.Now()
	defer func() { observe(r.rec, "redis_instances.soft_delete", start, err) }()

	var inst RedisInstance
	query := fmt.Sprintf(`
		UPDATE redis_instances
		SET deleted_at = now(), status = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING %s`, instanceColumns)
	if err = sqlx.GetContext(ctx, r.db, &inst, query, id, StatusTerminating); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("soft delete redis instance: %w", err)
	}
	return &inst, nil
}

// HardDelete removes the row. Used by provisioning compensation when the
// descriptor insert succeeded but a later step failed.
func (r *InstanceRepository) HardDelete(ctx context.Context, id uuid.UUID) (err error) {
	start := time.Now()
	defer func() { observe(r.rec, "redis_instances.hard_delete", start, err) }()

	_, err = r.db.ExecContext(ctx, `DELETE FROM redis_instances WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("hard delete redis instance: %w", err)
	}
	return nil
}

// Count returns the number of live instances across all organizations.
func (r *InstanceRepository) Count(ctx context.Context) (_ int64, err error) {
	start := time.Now()
	defer func() { observe(r.rec, "redis_instances.count", start, err) }()

	var n int64
	query := `SELECT COUNT(*) FROM redis_instances WHERE deleted_at IS NULL`
	if err = sqlx.GetContext(ctx, r.db, &n, query); err != nil {
		return 0, fmt.Errorf("count redis instances: %w", err)
	}
	return n, nil
}
