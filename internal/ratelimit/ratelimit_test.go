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

package ratelimit

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	. "github.com/onsi/gomega"
)

func TestDefaultBucketExhausts(t *testing.T) {
	g := NewWithT(t)
	l := New(5)

	for i := 0; i < 5; i++ {
		g.Expect(l.CheckDefault()).To(BeTrue(), "request %d should pass", i)
	}
	g.Expect(l.CheckDefault()).To(BeFalse(), "burst exceeded")
}

func TestPerKeyBucketsAreIndependent(t *testing.T) {
	g := NewWithT(t)
	l := New(2)

	keyA, keyB := uuid.New(), uuid.New()
	g.Expect(l.CheckAPIKey(keyA, nil)).To(BeTrue())
	g.Expect(l.CheckAPIKey(keyA, nil)).To(BeTrue())
	g.Expect(l.CheckAPIKey(keyA, nil)).To(BeFalse())

	// keyB has its own untouched bucket.
	g.Expect(l.CheckAPIKey(keyB, nil)).To(BeTrue())
	g.Expect(l.TrackedKeysCount()).To(Equal(2))
}

func TestCustomRateOverridesDefault(t *testing.T) {
	g := NewWithT(t)
	l := New(1)

	custom := 4
	key := uuid.New()
	for i := 0; i < 4; i++ {
		g.Expect(l.CheckAPIKey(key, &custom)).To(BeTrue(), "request %d should pass", i)
	}
	g.Expect(l.CheckAPIKey(key, &custom)).To(BeFalse())
}

func TestRemoveAPIKeyResetsBucket(t *testing.T) {
	g := NewWithT(t)
	l := New(1)

	key := uuid.New()
	g.Expect(l.CheckAPIKey(key, nil)).To(BeTrue())
	g.Expect(l.CheckAPIKey(key, nil)).To(BeFalse())

	l.RemoveAPIKey(key)
	g.Expect(l.TrackedKeysCount()).To(Equal(0))
	g.Expect(l.CheckAPIKey(key, nil)).To(BeTrue(), "fresh bucket after removal")
}

func TestClearAll(t *testing.T) {
	g := NewWithT(t)
	l := New(10)

	for i := 0; i < 5; i++ {
		l.CheckAPIKey(uuid.New(), nil)
	}
	g.Expect(l.TrackedKeysCount()).To(Equal(5))
	l.ClearAll()
	g.Expect(l.TrackedKeysCount()).To(Equal(0))
}

func TestConcurrentCreationSingleBucket(t *testing.T) {
	g := NewWithT(t)
	l := New(1000)
	key := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.CheckAPIKey(key, nil)
		}()
	}
	wg.Wait()
	g.Expect(l.TrackedKeysCount()).To(Equal(1))
}
