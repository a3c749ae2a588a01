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

package kube

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	. "github.com/onsi/gomega"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
)

func testSpec() Spec {
	return Spec{
		InstanceID:     "11111111-2222-3333-4444-555555555555",
		OrganizationID: "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee",
		Name:           "Cache",
		Slug:           "cache",
		Namespace:      "redis-test",
		RedisVersion:   "7.2",
		MaxMemoryBytes: 128 * 1024 * 1024,
		Password:       "s3cret",
	}
}

func newFakeOrchestrator() (*clusterOrchestrator, client.Client) {
	cl := fake.NewClientBuilder().WithScheme(scheme.Scheme).Build()
	return &clusterOrchestrator{client: cl, log: logr.Discard()}, cl
}

func TestEnsureInstanceCreatesWorkload(t *testing.T) {
	g := NewWithT(t)
	o, cl := newFakeOrchestrator()
	ctx := context.Background()

	placement, err := o.EnsureInstance(ctx, testSpec())
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(placement.ServiceName).To(Equal("redis-cache-service"))
	g.Expect(placement.Domain).To(Equal("redis-cache-service.redis-test.svc.cluster.local"))
	g.Expect(placement.Port).To(Equal(RedisPort))

	dep := &appsv1.Deployment{}
	key := client.ObjectKey{Namespace: "redis-test", Name: "redis-cache"}
	g.Expect(cl.Get(ctx, key, dep)).To(Succeed())
	g.Expect(*dep.Spec.Replicas).To(Equal(int32(1)))

	container := dep.Spec.Template.Spec.Containers[0]
	g.Expect(container.Image).To(Equal("redis:7.2"))
	g.Expect(container.Args).To(ContainElements("--requirepass", "s3cret", "--maxmemory"))

	svc := &corev1.Service{}
	svcKey := client.ObjectKey{Namespace: "redis-test", Name: "redis-cache-service"}
	g.Expect(cl.Get(ctx, svcKey, svc)).To(Succeed())
	g.Expect(svc.Spec.Ports[0].Port).To(Equal(int32(RedisPort)))
}

func TestEnsureInstanceIsIdempotent(t *testing.T) {
	g := NewWithT(t)
	o, _ := newFakeOrchestrator()
	ctx := context.Background()

	_, err := o.EnsureInstance(ctx, testSpec())
	g.Expect(err).NotTo(HaveOccurred())
	_, err = o.EnsureInstance(ctx, testSpec())
	g.Expect(err).NotTo(HaveOccurred())
}

func TestDeleteInstanceToleratesMissingObjects(t *testing.T) {
	g := NewWithT(t)
	o, _ := newFakeOrchestrator()

	g.Expect(o.DeleteInstance(context.Background(), "redis-test", "cache")).To(Succeed())
}

func TestDeleteInstanceRemovesWorkload(t *testing.T) {
	g := NewWithT(t)
	o, cl := newFakeOrchestrator()
	ctx := context.Background()

	_, err := o.EnsureInstance(ctx, testSpec())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(o.DeleteInstance(ctx, "redis-test", "cache")).To(Succeed())

	dep := &appsv1.Deployment{}
	key := client.ObjectKey{Namespace: "redis-test", Name: "redis-cache"}
	g.Expect(cl.Get(ctx, key, dep)).NotTo(Succeed())
}

func TestDeploymentReadyBeforeAndAfterStatus(t *testing.T) {
	g := NewWithT(t)
	o, cl := newFakeOrchestrator()
	ctx := context.Background()

	ready, _, err := o.DeploymentReady(ctx, "redis-test", "cache")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ready).To(BeFalse(), "missing deployment is not ready")

	_, err = o.EnsureInstance(ctx, testSpec())
	g.Expect(err).NotTo(HaveOccurred())

	ready, _, err = o.DeploymentReady(ctx, "redis-test", "cache")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ready).To(BeFalse(), "no ready replicas yet")

	dep := &appsv1.Deployment{}
	key := client.ObjectKey{Namespace: "redis-test", Name: "redis-cache"}
	g.Expect(cl.Get(ctx, key, dep)).To(Succeed())
	dep.Status.ReadyReplicas = 1
	g.Expect(cl.Status().Update(ctx, dep)).To(Succeed())

	ready, _, err = o.DeploymentReady(ctx, "redis-test", "cache")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ready).To(BeTrue())
}
