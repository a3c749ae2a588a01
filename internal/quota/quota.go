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

// Package quota implements organization-level admission control for Redis
// instances and API keys. Ceilings live on the organization row; usage lives
// in a counter table updated in the same transaction as the resource change.
package quota

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/redisgate/redisgate/internal/store"
)

// Ceiling defaults applied when an organization row predates the quota
// columns and reports zero.
const (
	DefaultMaxInstances = 5
	DefaultMaxMemoryGB  = 10
	DefaultMaxAPIKeys   = 10
)

// Accepted ranges for quota limit updates.
const (
	MaxInstancesCeiling = 1000
	MaxMemoryGBCeiling  = 10000
	MaxAPIKeysCeiling   = 1000
)

// warnThresholdPercent is the usage level at which Info adds warnings.
const warnThresholdPercent = 90.0

// MaxInstancesReachedError denies instance creation on the count ceiling.
type MaxInstancesReachedError struct {
	Current int
	Max     int
}

func (e *MaxInstancesReachedError) Error() string {
	return fmt.Sprintf("Maximum number of Redis instances reached (%d/%d)", e.Current, e.Max)
}

// MemoryLimitExceededError denies instance creation on the memory ceiling.
type MemoryLimitExceededError struct {
	RequestedMB int
	AvailableMB int
	TotalGB     int
}

func (e *MemoryLimitExceededError) Error() string {
	return fmt.Sprintf("Memory limit exceeded: requested %d MB, available %d MB of %d GB total",
		e.RequestedMB, e.AvailableMB, e.TotalGB)
}

// MaxAPIKeysReachedError denies API key creation on the count ceiling.
type MaxAPIKeysReachedError struct {
	Current int
	Max     int
}

func (e *MaxAPIKeysReachedError) Error() string {
	return fmt.Sprintf("Maximum number of API keys reached (%d/%d)", e.Current, e.Max)
}

// InvalidLimitError rejects out-of-range quota limit updates.
type InvalidLimitError struct {
	Field string
	Value int
	Min   int
	Max   int
}

func (e *InvalidLimitError) Error() string {
	return fmt.Sprintf("%s must be between %d and %d, got %d", e.Field, e.Min, e.Max, e.Value)
}

// Info is the usage report served by GET quota.
type Info struct {
	OrganizationID   uuid.UUID `json:"organization_id"`
	MaxInstances     int       `json:"max_instances"`
	CurrentInstances int       `json:"current_instances"`
	InstancesPercent float64   `json:"instances_percent"`
	MaxMemoryGB      int       `json:"max_memory_gb"`
	CurrentMemoryMB  int       `json:"current_memory_mb"`
	MemoryPercent    float64   `json:"memory_percent"`
	MaxAPIKeys       int       `json:"max_api_keys"`
	CurrentAPIKeys   int       `json:"current_api_keys"`
	APIKeysPercent   float64   `json:"api_keys_percent"`
	Warnings         []string  `json:"warnings,omitempty"`
}

// Service answers quota questions against the store.
type Service struct {
	store *store.Store
	log   logr.Logger
}

// NewService builds a quota service.
func NewService(st *store.Store, log logr.Logger) *Service {
	return &Service{store: st, log: log}
}

// effective returns the organization's ceilings with zero values replaced by
// defaults.
func effective(org *store.Organization) (maxInstances, maxMemoryGB, maxAPIKeys int) {
	maxInstances = org.MaxRedisInstances
	if maxInstances <= 0 {
		maxInstances = DefaultMaxInstances
	}
	maxMemoryGB = org.MaxMemoryGB
	if maxMemoryGB <= 0 {
		maxMemoryGB = DefaultMaxMemoryGB
	}
	maxAPIKeys = org.MaxAPIKeys
	if maxAPIKeys <= 0 {
		maxAPIKeys = DefaultMaxAPIKeys
	}
	return
}

// CheckCanCreateInstance performs the read-only admission check used before
// provisioning starts. The authoritative check re-runs inside the
// provisioning transaction with the counter row locked.
func (s *Service) CheckCanCreateInstance(ctx context.Context, orgID uuid.UUID, requestedMemoryMB int) error {
	org, err := s.store.Organizations().GetByID(ctx, orgID)
	if err != nil {
		return err
	}
	counter, err := s.store.Quotas().Get(ctx, orgID)
	if err != nil {
		return err
	}
	return CheckAdmission(org, counter, requestedMemoryMB)
}

// CheckAdmission evaluates the instance ceilings against a usage counter.
// Callers inside a provisioning transaction pass the locked counter row.
func CheckAdmission(org *store.Organization, counter *store.QuotaCounter, requestedMemoryMB int) error {
	maxInstances, maxMemoryGB, _ := effective(org)

	if counter.CurrentInstances >= maxInstances {
		return &MaxInstancesReachedError{Current: counter.CurrentInstances, Max: maxInstances}
	}

	totalMB := maxMemoryGB * 1024
	availableMB := totalMB - counter.CurrentMemoryMB
	if requestedMemoryMB > availableMB {
		return &MemoryLimitExceededError{
			RequestedMB: requestedMemoryMB,
			AvailableMB: availableMB,
			TotalGB:     maxMemoryGB,
		}
	}
	return nil
}

// CheckCanCreateAPIKey enforces the API key count ceiling.
func (s *Service) CheckCanCreateAPIKey(ctx context.Context, orgID uuid.UUID) error {
	org, err := s.store.Organizations().GetByID(ctx, orgID)
	if err != nil {
		return err
	}
	_, _, maxKeys := effective(org)

	current, err := s.store.APIKeys().CountActive(ctx, orgID)
	if err != nil {
		return err
	}
	if current >= maxKeys {
		return &MaxAPIKeysReachedError{Current: current, Max: maxKeys}
	}
	return nil
}

// GetInfo assembles the usage report, with warnings for any dimension at or
// above 90 percent.
func (s *Service) GetInfo(ctx context.Context, orgID uuid.UUID) (*Info, error) {
	org, err := s.store.Organizations().GetByID(ctx, orgID)
	if err != nil {
		return nil, err
	}
	counter, err := s.store.Quotas().Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	apiKeys, err := s.store.APIKeys().CountActive(ctx, orgID)
	if err != nil {
		return nil, err
	}

	maxInstances, maxMemoryGB, maxKeys := effective(org)
	info := &Info{
		OrganizationID:   orgID,
		MaxInstances:     maxInstances,
		CurrentInstances: counter.CurrentInstances,
		InstancesPercent: percent(counter.CurrentInstances, maxInstances),
		MaxMemoryGB:      maxMemoryGB,
		CurrentMemoryMB:  counter.CurrentMemoryMB,
		MemoryPercent:    percent(counter.CurrentMemoryMB, maxMemoryGB*1024),
		MaxAPIKeys:       maxKeys,
		CurrentAPIKeys:   apiKeys,
		APIKeysPercent:   percent(apiKeys, maxKeys),
	}

	if info.InstancesPercent >= warnThresholdPercent {
		info.Warnings = append(info.Warnings,
			fmt.Sprintf("Instance usage at %.0f%% of quota", info.InstancesPercent))
	}
	if info.MemoryPercent >= warnThresholdPercent {
		info.Warnings = append(info.Warnings,
			fmt.Sprintf("Memory usage at %.0f%% of quota", info.MemoryPercent))
	}
	if info.APIKeysPercent >= warnThresholdPercent {
		info.Warnings = append(info.Warnings,
			fmt.Sprintf("API key usage at %.0f%% of quota", info.APIKeysPercent))
	}
	return info, nil
}

// UpdateLimits validates and applies new ceilings.
func (s *Service) UpdateLimits(ctx context.Context, orgID uuid.UUID, maxInstances, maxMemoryGB, maxAPIKeys *int) (*store.Organization, error) {
	if maxInstances != nil && (*maxInstances < 1 || *maxInstances > MaxInstancesCeiling) {
		return nil, &InvalidLimitError{Field: "max_instances", Value: *maxInstances, Min: 1, Max: MaxInstancesCeiling}
	}
	if maxMemoryGB != nil && (*maxMemoryGB < 1 || *maxMemoryGB > MaxMemoryGBCeiling) {
		return nil, &InvalidLimitError{Field: "max_memory_gb", Value: *maxMemoryGB, Min: 1, Max: MaxMemoryGBCeiling}
	}
	if maxAPIKeys != nil && (*maxAPIKeys < 1 || *maxAPIKeys > MaxAPIKeysCeiling) {
		return nil, &InvalidLimitError{Field: "max_api_keys", Value: *maxAPIKeys, Min: 1, Max: MaxAPIKeysCeiling}
	}

	org, err := s.store.Organizations().UpdateQuotaLimits(ctx, orgID, maxInstances, maxMemoryGB, maxAPIKeys)
	if err != nil {
		return nil, err
	}
	s.log.Info("quota limits updated", "organization", orgID)
	return org, nil
}

func percent(current, max int) float64 {
	if max <= 0 {
		return 0
	}
	return float64(current) / float64(max) * 100
}
