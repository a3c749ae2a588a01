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

// APIKeyRepository persists API keys.
type APIKeyRepository struct {
	db  sqlx.ExtContext
	rec QueryRecorder
}

const apiKeyColumns = `id, name, key_token, key_prefix, user_id,
	organization_id, scopes, is_active, expires_at, rate_limit_rps,
	created_at, updated_at`

// Create inserts a new API key row. The key id must be pre-generated because
// it is embedded in the signed token before the insert.
func (r *APIKeyRepository) Create(ctx context.Context, k *APIKey) (err error) {
	start := time.Now()
	defer func() { observe(r.rec, "api_keys.create", start, err) }()

	query := `
		INSERT INTO api_keys (id, name, key_token, key_prefix, user_id,
			organization_id, scopes, expires_at, rate_limit_rps)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING is_active, created_at, updated_at`
	err = r.db.QueryRowxContext(ctx, query,
		k.ID, k.Name, k.KeyToken, k.KeyPrefix, k.UserID,
		k.OrganizationID, k.Scopes, k.ExpiresAt, k.RateLimitRPS,
	).Scan(&k.IsActive, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetByID fetches an API key by primary key.
func (r *APIKeyRepository) GetByID(ctx context.Context, id uuid.UUID) (_ *APIKey, err error) {
	start := time.Now()
	defer func() { observe(r.rec, "api_keys.get_by_id", start, err) }()

	var k APIKey
	query := fmt.Sprintf(`SELECT %s FROM api_keys WHERE id = $1`, apiKeyColumns)
	if err = sqlx.GetContext(ctx, r.db, &k, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &k, nil
}

// ListForOrganization returns the organization's keys, newest first.
func (r *APIKeyRepository) ListForOrganization(ctx context.Context, orgID uuid.UUID, limit, offset int) (_ []APIKey, _ int64, err error) {
	start := time.Now()
	defer func() { observe(r.rec, "api_keys.list_for_organization", start, err) }()

	var keys []APIKey
	query := fmt.Sprintf(`
		SELECT %s FROM api_keys
		WHERE organization_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, apiKeyColumns)
	if err = sqlx.SelectContext(ctx, r.db, &keys, query, orgID, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("list api keys: %w", err)
	}

	var total int64
	if err = sqlx.GetContext(ctx, r.db, &total,
		`SELECT COUNT(*) FROM api_keys WHERE organization_id = $1`, orgID); err != nil {
		return nil, 0, fmt.Errorf("count api keys: %w", err)
	}
	return keys, total, nil
}

// CountActive returns how many active keys the organization holds. Used by
// quota admission.
func (r *APIKeyRepository) CountActive(ctx context.Context, orgID uuid.UUID) (_ int, err error) {
	start := time.Now()
	defer func() { observe(r.rec, "api_keys.count_active", start, err) }()

	var n int
	query := `SELECT COUNT(*) FROM api_keys WHERE organization_id = $1 AND is_active`
	if err = sqlx.GetContext(ctx, r.db, &n, query, orgID); err != nil {
		return 0, fmt.Errorf("count active api keys: %w", err)
	}
	return n, nil
}

// Deactivate revokes a key. Idempotent; returns ErrNotFound only when no such
// key exists at all.
func (r *APIKeyRepository) Deactivate(ctx context.Context, id uuid.UUID) (err error) {
	start := time.Now()
	defer func() { observe(r.rec, "api_keys.deactivate", start, err) }()

	res, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET is_active = FALSE, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
