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

package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/gomega"

	"github.com/redisgate/redisgate/internal/auth"
	"github.com/redisgate/redisgate/internal/kube"
	"github.com/redisgate/redisgate/internal/quota"
	"github.com/redisgate/redisgate/internal/redispool"
	"github.com/redisgate/redisgate/internal/store"
)

func newService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	st := store.NewWithDB(sqlx.NewDb(db, "sqlmock"), logr.Discard())
	pool := redispool.New(logr.Discard())
	t.Cleanup(pool.Close)
	// nil cluster orchestrator: development mode.
	return NewService(st, nil, pool, logr.Discard()), mock
}

func membershipRow(orgID, userID uuid.UUID, role string) *sqlmock.Rows {
	return sqlmock.NewRows(
		[]string{"organization_id", "user_id", "role", "is_active", "created_at"}).
		AddRow(orgID, userID, role, true, time.Now())
}

func orgRow(id uuid.UUID, maxInstances, maxMemoryGB int) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "name", "slug", "max_redis_instances", "max_memory_gb",
		"max_api_keys", "is_active", "created_at", "updated_at",
	}).AddRow(id, "Acme", "acme", maxInstances, maxMemoryGB, 10, true, now, now)
}

func quotaRow(orgID uuid.UUID, instances, memoryMB int) *sqlmock.Rows {
	return sqlmock.NewRows(
		[]string{"organization_id", "current_instances", "current_memory_mb"}).
		AddRow(orgID, instances, memoryMB)
}

func TestCreateInDevelopmentMode(t *testing.T) {
	g := NewWithT(t)
	svc, mock := newService(t)

	orgID, userID := uuid.New(), uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM organization_memberships`).
		WillReturnRows(membershipRow(orgID, userID, store.RoleMember))
	mock.ExpectQuery(`SELECT .+ FROM organizations WHERE id`).
		WillReturnRows(orgRow(orgID, 5, 10))
	mock.ExpectQuery(`SELECT .+ FROM redis_instances`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT .+ AS organization_id`).
		WillReturnRows(quotaRow(orgID, 0, 0))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO instance_quotas`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .+ FROM instance_quotas .+ FOR UPDATE`).
		WillReturnRows(quotaRow(orgID, 0, 0))
	now := time.Now()
	mock.ExpectQuery(`INSERT INTO redis_instances`).
		WillReturnRows(sqlmock.NewRows([]string{
			"current_memory", "cpu_usage_percent", "memory_usage_percent",
			"connections_count", "created_at", "updated_at",
		}).AddRow(int64(0), 0.0, 0.0, 0, now, now))
	mock.ExpectExec(`INSERT INTO instance_quotas .+ ON CONFLICT`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inst, err := svc.Create(context.Background(), CreateParams{
		OrganizationID: orgID,
		UserID:         userID,
		Name:           "Cache",
		Slug:           "cache",
		MaxMemory:      128 * 1024 * 1024,
	})
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(inst.Status).To(Equal(store.StatusDevelopment))
	g.Expect(inst.Domain).To(Equal("dev-cache"))
	g.Expect(*inst.ServiceName).To(Equal("redis-cache-service"))
	g.Expect(inst.Port).To(Equal(6379))
	g.Expect(inst.RedisVersion).To(Equal("7.2"))
	g.Expect(inst.Password).To(HaveLen(24))
	g.Expect(auth.VerifyPassword(inst.Password, inst.PasswordHash)).To(BeTrue())
	g.Expect(mock.ExpectationsWereMet()).To(Succeed())
}

// failingOrchestrator always fails the cluster apply.
type failingOrchestrator struct{}

func (f *failingOrchestrator) EnsureInstance(ctx context.Context, spec kube.Spec) (*kube.Placement, error) {
	return nil, errors.New("apiserver unreachable")
}

func (f *failingOrchestrator) DeleteInstance(ctx context.Context, namespace, slug string) error {
	return nil
}

func (f *failingOrchestrator) DeploymentReady(ctx context.Context, namespace, slug string) (bool, string, error) {
	return false, "", nil
}

func TestCreateFallsBackToDevelopmentWhenClusterApplyFails(t *testing.T) {
	g := NewWithT(t)
	svc, mock := newService(t)
	svc.orch = &failingOrchestrator{}

	orgID, userID := uuid.New(), uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM organization_memberships`).
		WillReturnRows(membershipRow(orgID, userID, store.RoleMember))
	mock.ExpectQuery(`SELECT .+ FROM organizations WHERE id`).
		WillReturnRows(orgRow(orgID, 5, 10))
	mock.ExpectQuery(`SELECT .+ FROM redis_instances`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT .+ AS organization_id`).
		WillReturnRows(quotaRow(orgID, 0, 0))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO instance_quotas`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .+ FROM instance_quotas .+ FOR UPDATE`).
		WillReturnRows(quotaRow(orgID, 0, 0))
	now := time.Now()
	mock.ExpectQuery(`INSERT INTO redis_instances`).
		WillReturnRows(sqlmock.NewRows([]string{
			"current_memory", "cpu_usage_percent", "memory_usage_percent",
			"connections_count", "created_at", "updated_at",
		}).AddRow(int64(0), 0.0, 0.0, 0, now, now))
	mock.ExpectExec(`INSERT INTO instance_quotas .+ ON CONFLICT`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inst, err := svc.Create(context.Background(), CreateParams{
		OrganizationID: orgID,
		UserID:         userID,
		Name:           "Cache",
		Slug:           "cache",
		MaxMemory:      128 * 1024 * 1024,
	})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(inst.Status).To(Equal(store.StatusDevelopment))
	g.Expect(inst.HealthStatus).To(Equal(store.HealthHealthy))
	g.Expect(inst.Domain).To(Equal("dev-cache"))
	g.Expect(inst.Port).To(Equal(kube.RedisPort))
	g.Expect(mock.ExpectationsWereMet()).To(Succeed())
}

func TestCreateDeniedByQuota(t *testing.T) {
	g := NewWithT(t)
	svc, mock := newService(t)

	orgID, userID := uuid.New(), uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM organization_memberships`).
		WillReturnRows(membershipRow(orgID, userID, store.RoleMember))
	mock.ExpectQuery(`SELECT .+ FROM organizations WHERE id`).
		WillReturnRows(orgRow(orgID, 1, 10))
	mock.ExpectQuery(`SELECT .+ FROM redis_instances`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT .+ AS organization_id`).
		WillReturnRows(quotaRow(orgID, 1, 256))

	_, err := svc.Create(context.Background(), CreateParams{
		OrganizationID: orgID,
		UserID:         userID,
		Name:           "Second",
		Slug:           "second",
		MaxMemory:      128 * 1024 * 1024,
	})

	var denied *quota.MaxInstancesReachedError
	g.Expect(err).To(BeAssignableToTypeOf(denied))
}

func TestCreateRejectsDuplicateSlug(t *testing.T) {
	g := NewWithT(t)
	svc, mock := newService(t)

	orgID, userID, instID := uuid.New(), uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM organization_memberships`).
		WillReturnRows(membershipRow(orgID, userID, store.RoleMember))
	mock.ExpectQuery(`SELECT .+ FROM organizations WHERE id`).
		WillReturnRows(orgRow(orgID, 5, 10))
	mock.ExpectQuery(`SELECT .+ FROM redis_instances`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "slug", "organization_id", "api_key_id", "port",
			"domain", "namespace", "pod_name", "service_name", "redis_version",
			"max_memory", "current_memory", "password", "status", "health_status",
			"cpu_usage_percent", "memory_usage_percent", "connections_count",
			"max_connections", "persistence_enabled", "backup_enabled",
			"last_backup_at", "deleted_at", "created_at", "updated_at",
		}).AddRow(instID, "Cache", "cache", orgID, nil, 6379,
			"dev-cache", "ns", nil, nil, "7.2",
			int64(1), int64(0), "", store.StatusDevelopment, store.HealthHealthy,
			0.0, 0.0, 0, 100, false, false,
			nil, nil, now, now))

	_, err := svc.Create(context.Background(), CreateParams{
		OrganizationID: orgID,
		UserID:         userID,
		Name:           "Cache",
		Slug:           "cache",
		MaxMemory:      64 * 1024 * 1024,
	})
	g.Expect(err).To(MatchError(store.ErrDuplicate))
}

func TestCreateRequiresMembership(t *testing.T) {
	g := NewWithT(t)
	svc, mock := newService(t)

	mock.ExpectQuery(`SELECT .+ FROM organization_memberships`).
		WillReturnError(sql.ErrNoRows)

	_, err := svc.Create(context.Background(), CreateParams{
		OrganizationID: uuid.New(),
		UserID:         uuid.New(),
		Slug:           "x",
		MaxMemory:      1,
	})
	g.Expect(err).To(MatchError(ErrNotMember))
}

func TestDeleteRequiresManageRole(t *testing.T) {
	g := NewWithT(t)
	svc, mock := newService(t)

	orgID, userID := uuid.New(), uuid.New()
	mock.ExpectQuery(`SELECT .+ FROM organization_memberships`).
		WillReturnRows(membershipRow(orgID, userID, store.RoleMember))

	err := svc.Delete(context.Background(), orgID, userID, uuid.New())
	g.Expect(err).To(MatchError(ErrNotPermitted))
}

func TestDeleteReleasesQuota(t *testing.T) {
	g := NewWithT(t)
	svc, mock := newService(t)

	orgID, userID, instID := uuid.New(), uuid.New(), uuid.New()
	now := time.Now()

	instanceCols := []string{
		"id", "name", "slug", "organization_id", "api_key_id", "port",
		"domain", "namespace", "pod_name", "service_name", "redis_version",
		"max_memory", "current_memory", "password", "status", "health_status",
		"cpu_usage_percent", "memory_usage_percent", "connections_count",
		"max_connections", "persistence_enabled", "backup_enabled",
		"last_backup_at", "deleted_at", "created_at", "updated_at",
	}
	row := func() *sqlmock.Rows {
		return sqlmock.NewRows(instanceCols).
			AddRow(instID, "Cache", "cache", orgID, nil, 6379,
				"dev-cache", "ns", nil, nil, "7.2",
				int64(256*1024*1024), int64(0), "", store.StatusDevelopment, store.HealthHealthy,
				0.0, 0.0, 0, 100, false, false,
				nil, nil, now, now)
	}

	mock.ExpectQuery(`SELECT .+ FROM organization_memberships`).
		WillReturnRows(membershipRow(orgID, userID, store.RoleAdmin))
	mock.ExpectQuery(`SELECT .+ FROM redis_instances`).
		WillReturnRows(row())

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE redis_instances`).
		WillReturnRows(row())
	mock.ExpectExec(`UPDATE instance_quotas SET`).
		WithArgs(orgID, 256).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	g.Expect(svc.Delete(context.Background(), orgID, userID, instID)).To(Succeed())
	g.Expect(mock.ExpectationsWereMet()).To(Succeed())
}
