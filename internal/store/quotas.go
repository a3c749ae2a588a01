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
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// QuotaRepository persists per-organization usage counters. Mutations must
// run inside WithinTx together with the instance row change they account for.
type QuotaRepository struct {
	db  sqlx.ExtContext
	rec QueryRecorder
}

// NewQuotaRepositoryTx binds a repository to an open transaction.
func NewQuotaRepositoryTx(tx *sqlx.Tx) *QuotaRepository {
	return &QuotaRepository{db: tx}
}

// Get returns the counter row, treating a missing row as zero usage.
func (r *QuotaRepository) Get(ctx context.Context, orgID uuid.UUID) (_ *QuotaCounter, err error) {
	start := time.Now()
	defer func() { observe(r.rec, "quotas.get", start, err) }()

	var c QuotaCounter
	query := `
		SELECT $1::uuid AS organization_id,
			COALESCE((SELECT current_instances FROM instance_quotas WHERE organization_id = $1), 0) AS current_instances,
			COALESCE((SELECT current_memory_mb FROM instance_quotas WHERE organization_id = $1), 0) AS current_memory_mb`
	if err = sqlx.GetContext(ctx, r.db, &c, query, orgID); err != nil {
		return nil, fmt.Errorf("get quota counter: %w", err)
	}
	return &c, nil
}

// GetForUpdate locks the counter row for the rest of the transaction,
// creating it at zero first if absent.
func (r *QuotaRepository) GetForUpdate(ctx context.Context, orgID uuid.UUID) (_ *QuotaCounter, err error) {
	start := time.Now()
	defer func() { observe(r.rec, "quotas.get_for_update", start, err) }()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO instance_quotas (organization_id)
		VALUES ($1)
		ON CONFLICT (organization_id) DO NOTHING`, orgID)
	if err != nil {
		return nil, fmt.Errorf("ensure quota counter: %w", err)
	}

	var c QuotaCounter
	query := `
		SELECT organization_id, current_instances, current_memory_mb
		FROM instance_quotas
		WHERE organization_id = $1
		FOR UPDATE`
	if err = sqlx.GetContext(ctx, r.db, &c, query, orgID); err != nil {
		return nil, fmt.Errorf("lock quota counter: %w", err)
	}
	return &c, nil
}

// Reserve adds one instance and memoryMB to the counter.
func (r *QuotaRepository) Reserve(ctx context.Context, orgID uuid.UUID, memoryMB int) (err error) {
	start := time.Now()
	defer func() { observe(r.rec, "quotas.reserve", start, err) }()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO instance_quotas (organization_id, current_instances, current_memory_mb)
		VALUES ($1, 1, $2)
		ON CONFLICT (organization_id) DO UPDATE SET
			current_instances = instance_quotas.current_instances + 1,
			current_memory_mb = instance_quotas.current_memory_mb + EXCLUDED.current_memory_mb`,
		orgID, memoryMB)
	if err != nil {
		return fmt.Errorf("reserve quota: %w", err)
	}
	return nil
}

// Release subtracts one instance and memoryMB, clamping at zero so a replayed
// release can never drive the counter negative.
func (r *QuotaRepository) Release(ctx context.Context, orgID uuid.UUID, memoryMB int) (err error) {
	start := time.Now()
	defer func() { observe(r.rec, "quotas.release", start, err) }()

	_, err = r.db.ExecContext(ctx, `
		UPDATE instance_quotas SET
			current_instances = GREATEST(current_instances - 1, 0),
			current_memory_mb = GREATEST(current_memory_mb - $2, 0)
		WHERE organization_id = $1`,
		orgID, memoryMB)
	if err != nil {
		return fmt.Errorf("release quota: %w", err)
	}
	return nil
}
