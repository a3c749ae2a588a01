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

// OrganizationRepository persists organizations and memberships.
type OrganizationRepository struct {
	db  *sqlx.DB
	rec QueryRecorder
}

const orgColumns = `id, name, slug, max_redis_instances, max_memory_gb,
	max_api_keys, is_active, created_at, updated_at`

// Create inserts the organization and its owner membership in one
// transaction, so an organization can never exist without an active owner.
func (r *OrganizationRepository) Create(ctx context.Context, org *Organization, creator uuid.UUID) (err error) {
	start := time.Now()
	defer func() { observe(r.rec, "organizations.create", start, err) }()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin organization create: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO organizations (name, slug)
		VALUES ($1, $2)
		RETURNING id, max_redis_instances, max_memory_gb, max_api_keys,
			is_active, created_at, updated_at`
	err = tx.QueryRowxContext(ctx, query, org.Name, org.Slug).Scan(
		&org.ID, &org.MaxRedisInstances, &org.MaxMemoryGB, &org.MaxAPIKeys,
		&org.IsActive, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert organization: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO organization_memberships (organization_id, user_id, role)
		VALUES ($1, $2, $3)`, org.ID, creator, RoleOwner); err != nil {
		return fmt.Errorf("insert owner membership: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit organization create: %w", err)
	}
	return nil
}

// GetByID fetches an organization by primary key.
func (r *OrganizationRepository) GetByID(ctx context.Context, id uuid.UUID) (_ *Organization, err error) {
	start := time.Now()
	defer func() { observe(r.rec, "organizations.get_by_id", start, err) }()

	var org Organization
	query := fmt.Sprintf(`SELECT %s FROM organizations WHERE id = $1`, orgColumns)
	if err = sqlx.GetContext(ctx, r.db, &org, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get organization: %w", err)
	}
	return &org, nil
}

// ListForUser returns the organizations the user is an active member of,
// newest first, with the total count for pagination.
func (r *OrganizationRepository) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) (_ []Organization, _ int64, err error) {
	start := time.Now()
	defer func() { observe(r.rec, "organizations.list_for_user", start, err) }()

	var orgs []Organization
	query := fmt.Sprintf(`
		SELECT %s FROM organizations o
		WHERE EXISTS (
			SELECT 1 FROM organization_memberships m
			WHERE m.organization_id = o.id AND m.user_id = $1 AND m.is_active
		)
		ORDER BY o.created_at DESC
		LIMIT $2 OFFSET $3`, orgColumns)
	if err = sqlx.SelectContext(ctx, r.db, &orgs, query, userID, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("list organizations: %w", err)
	}

	var total int64
	countQuery := `
		SELECT COUNT(*) FROM organizations o
		WHERE EXISTS (
			SELECT 1 FROM organization_memberships m
			WHERE m.organization_id = o.id AND m.user_id = $1 AND m.is_active
		)`
	if err = sqlx.GetContext(ctx, r.db, &total, countQuery, userID); err != nil {
		return nil, 0, fmt.Errorf("count organizations: %w", err)
	}
	return orgs, total, nil
}

// UpdateName renames an organization.
func (r *OrganizationRepository) UpdateName(ctx context.Context, id uuid.UUID, name string) (_ *Organization, err error) {
	start := time.Now()
	defer func() { observe(r.rec, "organizations.update_name", start, err) }()

	var org Organization
	query := fmt.Sprintf(`
		UPDATE organizations SET name = $2, updated_at = now()
		WHERE id = $1
		RETURNING %s`, orgColumns)
	if err = sqlx.GetContext(ctx, r.db, &org, query, id, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update organization: %w", err)
	}
	return &org, nil
}

// Delete deactivates an organization. Instances and keys keep their own
// lifecycle; membership checks fail closed once the organization is inactive.
func (r *OrganizationRepository) Delete(ctx context.Context, id uuid.UUID) (err error) {
	start := time.Now()
	defer func() { observe(r.rec, "organizations.delete", start, err) }()

	res, err := r.db.ExecContext(ctx, `
		UPDATE organizations SET is_active = FALSE, updated_at = now()
		WHERE id = $1 AND is_active`, id)
	if err != nil {
		return fmt.Errorf("delete organization: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateQuotaLimits sets any non-nil ceiling. Range validation happens in the
// quota service.
func (r *OrganizationRepository) UpdateQuotaLimits(ctx context.Context, id uuid.UUID, maxInstances, maxMemoryGB, maxAPIKeys *int) (_ *Organization, err error) {
	start := time.Now()
	defer func() { observe(r.rec, "organizations.update_quota_limits", start, err) }()

	var org Organization
	query := fmt.Sprintf(`
		UPDATE organizations SET
			max_redis_instances = COALESCE($2, max_redis_instances),
			max_memory_gb = COALESCE($3, max_memory_gb),
			max_api_keys = COALESCE($4, max_api_keys),
			updated_at = now()
		WHERE id = $1
		RETURNING %s`, orgColumns)
	if err = sqlx.GetContext(ctx, r.db, &org, query, id, maxInstances, maxMemoryGB, maxAPIKeys); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update quota limits: %w", err)
	}
	return &org, nil
}

// GetMembership returns the active membership of userID in orgID, or
// ErrNotFound when the user is not an active member.
func (r *OrganizationRepository) GetMembership(ctx context.Context, orgID, userID uuid.UUID) (_ *Membership, err error) {
	start := time.Now()
	defer func() { observe(r.rec, "organizations.get_membership", start, err) }()

	var m Membership
	query := `
		SELECT organization_id, user_id, role, is_active, created_at
		FROM organization_memberships
		WHERE organization_id = $1 AND user_id = $2 AND is_active`
	if err = sqlx.GetContext(ctx, r.db, &m, query, orgID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return &m, nil
}

// PrimaryOrgForUser returns the id of the user's oldest active membership,
// or nil when the user belongs to no organization.
func (r *OrganizationRepository) PrimaryOrgForUser(ctx context.Context, userID uuid.UUID) (_ *uuid.UUID, err error) {
	start := time.Now()
	defer func() { observe(r.rec, "organizations.primary_org_for_user", start, err) }()

	var id uuid.UUID
	query := `
		SELECT organization_id FROM organization_memberships
		WHERE user_id = $1 AND is_active
		ORDER BY created_at ASC
		LIMIT 1`
	if err = sqlx.GetContext(ctx, r.db, &id, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get primary organization: %w", err)
	}
	return &id, nil
}

// Count returns the total number of organizations.
func (r *OrganizationRepository) Count(ctx context.Context) (_ int64, err error) {
	start := time.Now()
	defer func() { observe(r.rec, "organizations.count", start, err) }()

	var n int64
	if err = sqlx.GetContext(ctx, r.db, &n, `SELECT COUNT(*) FROM organizations`); err != nil {
		return 0, fmt.Errorf("count organizations: %w", err)
	}
	return n, nil
}
