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

// Package orchestrator drives the Redis instance lifecycle: quota-checked
// provisioning onto Kubernetes (or development mode when no cluster is
// reachable), status refresh against the live Deployment, and teardown with
// quota release.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/redisgate/redisgate/internal/auth"
	"github.com/redisgate/redisgate/internal/kube"
	"github.com/redisgate/redisgate/internal/quota"
	"github.com/redisgate/redisgate/internal/redispool"
	"github.com/redisgate/redisgate/internal/store"
)

// Permission errors surfaced as 403.
var (
	ErrNotMember    = errors.New("user is not a member of this organization")
	ErrNotPermitted = errors.New("operation requires admin or owner role")
)

// defaultRedisVersion is used when the create request omits a version.
const defaultRedisVersion = "7.2"

// defaultMaxConnections is the per-instance client connection ceiling.
const defaultMaxConnections = 100

// CreateParams is the validated input for instance provisioning.
type CreateParams struct {
	OrganizationID     uuid.UUID
	UserID             uuid.UUID
	Name               string
	Slug               string
	MaxMemory          int64
	RedisVersion       string
	PersistenceEnabled bool
	BackupEnabled      bool
}

// Service owns the instance lifecycle.
type Service struct {
	store *store.Store
	orch  kube.Orchestrator
	pool  *redispool.Pool
	log   logr.Logger
}

// NewService builds the lifecycle service. orch may be nil, in which case
// every created instance runs in development mode.
func NewService(st *store.Store, orch kube.Orchestrator, pool *redispool.Pool, log logr.Logger) *Service {
	return &Service{store: st, orch: orch, pool: pool, log: log}
}

// DevelopmentMode reports whether provisioning runs without a cluster.
func (s *Service) DevelopmentMode() bool {
	return s.orch == nil
}

// requireMembership distinguishes "not a member" from "no such organization"
// so handlers can answer 403 rather than 404.
func (s *Service) requireMembership(ctx context.Context, orgID, userID uuid.UUID) (*store.Membership, error) {
	m, err := s.store.Organizations().GetMembership(ctx, orgID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotMember
	}
	return m, err
}

// namespaceFor derives the per-organization namespace.
func namespaceFor(orgID uuid.UUID) string {
	return "redis-" + strings.ReplaceAll(orgID.String(), "-", "")
}

// Create provisions an instance. The quota re-check, descriptor insert and
// counter reservation commit in one serializable transaction; when the
// workload was already applied to the cluster and the transaction fails, the
// workload is torn down asynchronously.
func (s *Service) Create(ctx context.Context, params CreateParams) (*store.RedisInstance, error) {
	if _, err := s.requireMembership(ctx, params.OrganizationID, params.UserID); err != nil {
		return nil, err
	}

	org, err := s.store.Organizations().GetByID(ctx, params.OrganizationID)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.Instances().GetBySlug(ctx, params.OrganizationID, params.Slug); err == nil {
		return nil, store.ErrDuplicate
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	memoryMB := int(params.MaxMemory / 1024 / 1024)
	counter, err := s.store.Quotas().Get(ctx, params.OrganizationID)
	if err != nil {
		return nil, err
	}
	if err := quota.CheckAdmission(org, counter, memoryMB); err != nil {
		return nil, err
	}

	password, err := auth.GenerateRedisPassword()
	if err != nil {
		return nil, err
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	version := params.RedisVersion
	if version == "" {
		version = defaultRedisVersion
	}

	inst := &store.RedisInstance{
		ID:                 uuid.New(),
		Name:               params.Name,
		Slug:               params.Slug,
		OrganizationID:     params.OrganizationID,
		Namespace:          namespaceFor(params.OrganizationID),
		RedisVersion:       version,
		MaxMemory:          params.MaxMemory,
		Password:           password,
		PasswordHash:       passwordHash,
		MaxConnections:     defaultMaxConnections,
		PersistenceEnabled: params.PersistenceEnabled,
		BackupEnabled:      params.BackupEnabled,
		HealthStatus:       store.HealthUnknown,
	}

	applied := false
	if s.orch != nil {
		placement, err := s.orch.EnsureInstance(ctx, kube.Spec{
			InstanceID:     inst.ID.String(),
			OrganizationID: params.OrganizationID.String(),
			Name:           params.Name,
			Slug:           params.Slug,
			Namespace:      inst.Namespace,
			RedisVersion:   version,
			MaxMemoryBytes: params.MaxMemory,
			Password:       password,
		})
		if err != nil {
			s.log.Error(err, "kubernetes apply failed, falling back to development mode",
				"organization", params.OrganizationID, "slug", params.Slug)
		} else {
			applied = true
			svc := placement.ServiceName
			inst.ServiceName = &svc
			inst.Domain = placement.Domain
			inst.Port = placement.Port
			inst.Status = store.StatusPending
		}
	}
	if !applied {
		svc := "redis-" + params.Slug + "-service"
		inst.ServiceName = &svc
		inst.Domain = "dev-" + params.Slug
		inst.Port = kube.RedisPort
		inst.Status = store.StatusDevelopment
		inst.HealthStatus = store.HealthHealthy
	}

	err = s.store.WithinTx(ctx, func(tx *sqlx.Tx) error {
		quotas := store.NewQuotaRepositoryTx(tx)
		locked, err := quotas.GetForUpdate(ctx, params.OrganizationID)
		if err != nil {
			return err
		}
		if err := quota.CheckAdmission(org, locked, memoryMB); err != nil {
			return err
		}
		if err := store.NewInstanceRepositoryTx(tx).Create(ctx, inst); err != nil {
			return err
		}
		return quotas.Reserve(ctx, params.OrganizationID, memoryMB)
	})
	if err != nil {
		if applied {
			s.compensate(inst.Namespace, params.Slug)
		}
		return nil, err
	}

	s.log.Info("redis instance created",
		"instance", inst.ID, "organization", params.OrganizationID,
		"slug", params.Slug, "status", inst.Status)
	return inst, nil
}

// compensate tears down an applied workload whose descriptor insert failed.
// Runs detached from the request so a slow API server cannot hold the
// response.
func (s *Service) compensate(namespace, slug string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := s.orch.DeleteInstance(ctx, namespace, slug); err != nil {
			s.log.Error(err, "failed to tear down orphaned workload",
				"namespace", namespace, "instance", slug)
		}
	}()
}

// Get returns the instance after verifying the caller's membership.
func (s *Service) Get(ctx context.Context, orgID, userID, instanceID uuid.UUID) (*store.RedisInstance, error) {
	if _, err := s.requireMembership(ctx, orgID, userID); err != nil {
		return nil, err
	}
	inst, err := s.store.Instances().GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.OrganizationID != orgID {
		return nil, store.ErrNotFound
	}
	return inst, nil
}

// List returns the organization's instances for an active member.
func (s *Service) List(ctx context.Context, orgID, userID uuid.UUID, limit, offset int) ([]store.RedisInstance, int64, error) {
	if _, err := s.requireMembership(ctx, orgID, userID); err != nil {
		return nil, 0, err
	}
	return s.store.Instances().ListForOrganization(ctx, orgID, limit, offset)
}

// RefreshStatus queries the live Deployment and persists the observed state.
// Development-mode instances keep their status. Any active member may
// refresh.
func (s *Service) RefreshStatus(ctx context.Context, orgID, userID, instanceID uuid.UUID) (*store.RedisInstance, error) {
	inst, err := s.Get(ctx, orgID, userID, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status == store.StatusDevelopment || s.orch == nil {
		return inst, nil
	}

	ready, podName, err := s.orch.DeploymentReady(ctx, inst.Namespace, inst.Slug)
	if err != nil {
		return nil, fmt.Errorf("query deployment: %w", err)
	}

	status := store.StatusPending
	health := store.HealthUnknown
	if ready {
		status = store.StatusRunning
		health = store.HealthHealthy
	}
	var pod *string
	if podName != "" {
		pod = &podName
	}
	if err := s.store.Instances().UpdateStatus(ctx, instanceID, status, health, pod); err != nil {
		return nil, err
	}
	return s.store.Instances().GetByID(ctx, instanceID)
}

// Delete soft-deletes the instance, releases its quota in the same
// transaction, closes its pooled connection and tears down the workload
// best-effort. Requires admin or owner role.
func (s *Service) Delete(ctx context.Context, orgID, userID, instanceID uuid.UUID) error {
	membership, err := s.requireMembership(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if !membership.CanManage() {
		return ErrNotPermitted
	}

	inst, err := s.store.Instances().GetByID(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.OrganizationID != orgID {
		return store.ErrNotFound
	}

	memoryMB := int(inst.MaxMemory / 1024 / 1024)
	err = s.store.WithinTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := store.NewInstanceRepositoryTx(tx).SoftDelete(ctx, instanceID); err != nil {
			return err
		}
		return store.NewQuotaRepositoryTx(tx).Release(ctx, orgID, memoryMB)
	})
	if err != nil {
		return err
	}

	s.pool.RemoveInstance(instanceID)

	if inst.APIKeyID != nil {
		if err := s.store.APIKeys().Deactivate(ctx, *inst.APIKeyID); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.log.Error(err, "failed to deactivate bound api key",
				"instance", instanceID, "apiKey", *inst.APIKeyID)
		}
	}

	if s.orch != nil && inst.Status != store.StatusDevelopment {
		if err := s.orch.DeleteInstance(ctx, inst.Namespace, inst.Slug); err != nil {
			s.log.Error(err, "workload teardown failed, instance already soft-deleted",
				"instance", instanceID)
		}
	}

	s.log.Info("redis instance deleted", "instance", instanceID, "organization", orgID)
	return nil
}
