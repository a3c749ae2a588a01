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

package redispool

import (
	"context"
	"sync"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"
)

var _ = Describe("Pool", func() {
	var (
		srv  *miniredis.Miniredis
		pool *Pool
		ctx  context.Context
		id   uuid.UUID
	)

	BeforeEach(func() {
		var err error
		srv, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		pool = New(logr.Discard())
		ctx = context.Background()
		id = uuid.New()
	})

	AfterEach(func() {
		pool.Close()
		srv.Close()
	})

	Describe("Connect", func() {
		It("admits a reachable instance", func() {
			Expect(pool.Connect(ctx, id, srv.Addr(), "")).To(Succeed())
			Expect(pool.HasInstance(id)).To(BeTrue())
			Expect(pool.ConnectionCount()).To(Equal(1))
		})

		It("authenticates when the instance requires a password", func() {
			srv.RequireAuth("hunter2")
			Expect(pool.Connect(ctx, id, srv.Addr(), "hunter2")).To(Succeed())
			Expect(pool.HealthCheck(ctx, id)).To(Succeed())
		})

		It("reports the last error after exhausting attempts", func() {
			addr := srv.Addr()
			srv.Close()
			err := pool.Connect(ctx, id, addr, "")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("Failed to connect after 3 attempts"))
			Expect(pool.HasInstance(id)).To(BeFalse())
		})

		It("replaces an existing client for the same instance", func() {
			Expect(pool.Connect(ctx, id, srv.Addr(), "")).To(Succeed())
			Expect(pool.Connect(ctx, id, srv.Addr(), "")).To(Succeed())
			Expect(pool.ConnectionCount()).To(Equal(1))
		})
	})

	Describe("GetClient", func() {
		It("returns the pooled client", func() {
			Expect(pool.Connect(ctx, id, srv.Addr(), "")).To(Succeed())
			client, err := pool.GetClient(id)
			Expect(err).NotTo(HaveOccurred())
			Expect(client.Set(ctx, "k", "v", 0).Err()).To(Succeed())
			Expect(srv.Get("k")).To(Equal("v"))
		})

		It("fails for an unknown instance", func() {
			_, err := pool.GetClient(uuid.New())
			Expect(err).To(MatchError(ErrNoConnection))
		})
	})

	Describe("GetOrConnect", func() {
		It("dials lazily on first use", func() {
			Expect(pool.HasInstance(id)).To(BeFalse())
			client, err := pool.GetOrConnect(ctx, id, srv.Addr(), "")
			Expect(err).NotTo(HaveOccurred())
			Expect(client.Ping(ctx).Val()).To(Equal("PONG"))
			Expect(pool.HasInstance(id)).To(BeTrue())
		})

		It("shares one client across concurrent first uses", func() {
			const callers = 8
			clients := make([]*redis.Client, callers)
			errs := make([]error, callers)

			var wg sync.WaitGroup
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					clients[i], errs[i] = pool.GetOrConnect(ctx, id, srv.Addr(), "")
				}(i)
			}
			wg.Wait()

			Expect(pool.ConnectionCount()).To(Equal(1))
			for i := 0; i < callers; i++ {
				Expect(errs[i]).NotTo(HaveOccurred())
				Expect(clients[i]).To(BeIdenticalTo(clients[0]))
			}
			Expect(clients[0].Ping(ctx).Val()).To(Equal("PONG"))
		})
	})

	Describe("HealthCheck", func() {
		It("fails once the upstream goes away", func() {
			Expect(pool.Connect(ctx, id, srv.Addr(), "")).To(Succeed())
			srv.Close()
			Expect(pool.HealthCheck(ctx, id)).NotTo(Succeed())
		})
	})

	Describe("RemoveInstance", func() {
		It("drops the client and is idempotent", func() {
			Expect(pool.Connect(ctx, id, srv.Addr(), "")).To(Succeed())
			pool.RemoveInstance(id)
			Expect(pool.HasInstance(id)).To(BeFalse())
			pool.RemoveInstance(id)
			Expect(pool.ConnectionCount()).To(Equal(0))
		})
	})

	Describe("ReconnectInstance", func() {
		It("re-establishes a fresh client", func() {
			Expect(pool.Connect(ctx, id, srv.Addr(), "")).To(Succeed())
			Expect(pool.ReconnectInstance(ctx, id, srv.Addr(), "")).To(Succeed())
			Expect(pool.ConnectionCount()).To(Equal(1))
			Expect(pool.HealthCheck(ctx, id)).To(Succeed())
		})
	})
})
