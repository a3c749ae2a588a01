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

package quota

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	. "github.com/onsi/gomega"

	"github.com/redisgate/redisgate/internal/store"
)

func org(maxInstances, maxMemoryGB, maxKeys int) *store.Organization {
	return &store.Organization{
		MaxRedisInstances: maxInstances,
		MaxMemoryGB:       maxMemoryGB,
		MaxAPIKeys:        maxKeys,
	}
}

func TestAdmissionAllowsWithinCeilings(t *testing.T) {
	g := NewWithT(t)

	counter := &store.QuotaCounter{CurrentInstances: 2, CurrentMemoryMB: 1024}
	g.Expect(CheckAdmission(org(5, 10, 10), counter, 512)).To(Succeed())
}

func TestAdmissionDeniesOnInstanceCount(t *testing.T) {
	g := NewWithT(t)

	counter := &store.QuotaCounter{CurrentInstances: 5}
	err := CheckAdmission(org(5, 10, 10), counter, 128)

	var denied *MaxInstancesReachedError
	g.Expect(err).To(HaveOccurred())
	g.Expect(err).To(BeAssignableToTypeOf(denied))
	g.Expect(err.Error()).To(ContainSubstring("(5/5)"))
}

func TestAdmissionDeniesOnMemory(t *testing.T) {
	g := NewWithT(t)

	// 10 GB ceiling with 9.5 GB used leaves 512 MB.
	counter := &store.QuotaCounter{CurrentInstances: 1, CurrentMemoryMB: 9728}
	err := CheckAdmission(org(5, 10, 10), counter, 1024)

	var denied *MemoryLimitExceededError
	g.Expect(err).To(HaveOccurred())
	g.Expect(err).To(BeAssignableToTypeOf(denied))
	g.Expect(err.Error()).To(ContainSubstring("requested 1024 MB, available 512 MB of 10 GB"))
}

func TestAdmissionAppliesDefaultsForZeroCeilings(t *testing.T) {
	g := NewWithT(t)

	// A zero-valued organization falls back to 5 instances / 10 GB.
	counter := &store.QuotaCounter{CurrentInstances: 4}
	g.Expect(CheckAdmission(org(0, 0, 0), counter, 128)).To(Succeed())

	counter.CurrentInstances = 5
	g.Expect(CheckAdmission(org(0, 0, 0), counter, 128)).To(HaveOccurred())
}

func TestUpdateLimitsRejectsOutOfRange(t *testing.T) {
	g := NewWithT(t)
	s := NewService(nil, logr.Discard())

	bad := 0
	_, err := s.UpdateLimits(context.Background(), uuid.Nil, &bad, nil, nil)
	var invalid *InvalidLimitError
	g.Expect(err).To(BeAssignableToTypeOf(invalid))

	tooBig := 20000
	_, err = s.UpdateLimits(context.Background(), uuid.Nil, nil, &tooBig, nil)
	g.Expect(err).To(BeAssignableToTypeOf(invalid))
	g.Expect(err.Error()).To(ContainSubstring("max_memory_gb"))

	keys := 1001
	_, err = s.UpdateLimits(context.Background(), uuid.Nil, nil, nil, &keys)
	g.Expect(err).To(BeAssignableToTypeOf(invalid))
}
