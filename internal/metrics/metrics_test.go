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

package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/onsi/gomega"
)

func TestSnapshotRates(t *testing.T) {
	g := NewWithT(t)
	m := New()

	for i := 0; i < 8; i++ {
		m.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)
	}
	m.RecordHTTPRequest("POST", "/auth/login", 401, time.Millisecond)
	m.RecordHTTPRequest("GET", "/api/organizations", 500, time.Millisecond)

	snap := m.TakeSnapshot()
	g.Expect(snap.TotalRequests).To(Equal(uint64(10)))
	g.Expect(snap.SuccessRequests).To(Equal(uint64(8)))
	g.Expect(snap.ErrorRequests).To(Equal(uint64(2)))
	g.Expect(snap.SuccessRate).To(BeNumerically("==", 80))
	g.Expect(snap.ErrorRate).To(BeNumerically("==", 20))
	g.Expect(snap.Version).To(Equal(Version))
	g.Expect(snap.UptimeSeconds).To(BeNumerically(">=", 0))
}

func TestSnapshotEmpty(t *testing.T) {
	g := NewWithT(t)
	snap := New().TakeSnapshot()
	g.Expect(snap.TotalRequests).To(BeZero())
	g.Expect(snap.SuccessRate).To(BeZero())
	g.Expect(snap.ErrorRate).To(BeZero())
}

func TestRedisCommandCounters(t *testing.T) {
	g := NewWithT(t)
	m := New()

	m.RecordRedisCommand("GET", time.Millisecond, nil)
	m.RecordRedisCommand("SET", time.Millisecond, errors.New("timeout"))

	snap := m.TakeSnapshot()
	g.Expect(snap.RedisCommands).To(Equal(uint64(2)))
}

func TestHandlerExposesCollectors(t *testing.T) {
	g := NewWithT(t)
	m := New()

	m.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)
	m.RecordAPIKeyRequest("rg_abc")
	m.RecordAuthFailure()
	m.RecordDatabaseQuery("select", time.Millisecond, nil)
	m.RedisInstancesTotal.Set(4)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	g.Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	g.Expect(err).NotTo(HaveOccurred())

	text := string(body)
	g.Expect(text).To(ContainSubstring("redisgate_http_requests_total"))
	g.Expect(text).To(ContainSubstring("redisgate_api_key_requests_total"))
	g.Expect(text).To(ContainSubstring("redisgate_api_key_auth_failures_total 1"))
	g.Expect(text).To(ContainSubstring("redisgate_database_queries_total"))
	g.Expect(text).To(ContainSubstring("redisgate_redis_instances_total 4"))
}

func TestSeparateRegistriesDoNotCollide(t *testing.T) {
	g := NewWithT(t)
	// Two instances must register without a duplicate-collector panic.
	a, b := New(), New()
	a.RecordAuthFailure()
	g.Expect(b.TakeSnapshot().AuthFailures).To(BeZero())
}
