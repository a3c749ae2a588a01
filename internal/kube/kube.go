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

// Package kube provisions Redis workloads on Kubernetes: one Deployment plus
// one ClusterIP Service per instance, in a per-organization namespace. When
// no cluster is reachable the gateway runs without an orchestrator and
// instances fall back to development mode.
package kube

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-logr/logr"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// opTimeout bounds every API server round trip.
const opTimeout = 30 * time.Second

// RedisPort is the in-cluster port every managed instance listens on.
const RedisPort = 6379

// Spec describes the workload to provision.
type Spec struct {
	InstanceID     string
	OrganizationID string
	Name           string
	Slug           string
	Namespace      string
	RedisVersion   string
	MaxMemoryBytes int64
	Password       string
}

// Placement reports where the workload landed.
type Placement struct {
	Namespace   string
	ServiceName string
	Domain      string
	Port        int
}

// Orchestrator is the provisioning surface the instance service depends on.
type Orchestrator interface {
	EnsureInstance(ctx context.Context, spec Spec) (*Placement, error)
	DeleteInstance(ctx context.Context, namespace, slug string) error
	DeploymentReady(ctx context.Context, namespace, slug string) (bool, string, error)
}

// clusterOrchestrator talks to a real API server through the
// controller-runtime client.
type clusterOrchestrator struct {
	client client.Client
	log    logr.Logger
}

// NewFromEnv connects using KUBECONFIG when set, otherwise the in-cluster
// service account. The returned error signals the caller to run in
// development mode; it is not fatal.
func NewFromEnv(log logr.Logger) (Orchestrator, error) {
	var cfg *rest.Config
	var err error
	if kubeconfig := os.Getenv("KUBECONFIG"); kubeconfig != "" {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		cfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("load kubernetes config: %w", err)
	}

	cl, err := client.New(cfg, client.Options{})
	if err != nil {
		return nil, fmt.Errorf("create kubernetes client: %w", err)
	}
	return &clusterOrchestrator{client: cl, log: log}, nil
}

func intOrString(port int) intstr.IntOrString {
	return intstr.FromInt32(int32(port))
}

func deploymentName(slug string) string { return "redis-" + slug }
func serviceName(slug string) string    { return "redis-" + slug + "-service" }

// ServiceDomain is the cluster-internal DNS name of the instance's service.
func ServiceDomain(slug, namespace string) string {
	return fmt.Sprintf("%s.%s.svc.cluster.local", serviceName(slug), namespace)
}

func labels(spec Spec) map[string]string {
	return map[string]string{
		"app":                          "redis",
		"app.kubernetes.io/managed-by": "redisgate",
		"redisgate.io/instance":        spec.Slug,
		"redisgate.io/instance-id":     spec.InstanceID,
		"redisgate.io/organization":    spec.OrganizationID,
	}
}

// EnsureInstance creates or updates the namespace, Deployment and Service.
func (o *clusterOrchestrator) EnsureInstance(ctx context.Context, spec Spec) (*Placement, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := o.ensureNamespace(ctx, spec.Namespace); err != nil {
		return nil, err
	}
	if err := o.apply(ctx, o.buildDeployment(spec)); err != nil {
		return nil, fmt.Errorf("apply deployment: %w", err)
	}
	if err := o.apply(ctx, o.buildService(spec)); err != nil {
		return nil, fmt.Errorf("apply service: %w", err)
	}

	o.log.Info("provisioned redis workload",
		"namespace", spec.Namespace, "instance", spec.Slug)
	return &Placement{
		Namespace:   spec.Namespace,
		ServiceName: serviceName(spec.Slug),
		Domain:      ServiceDomain(spec.Slug, spec.Namespace),
		Port:        RedisPort,
	}, nil
}

func (o *clusterOrchestrator) ensureNamespace(ctx context.Context, name string) error {
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: map[string]string{"app.kubernetes.io/managed-by": "redisgate"},
		},
	}
	if err := o.client.Create(ctx, ns); err != nil && !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("create namespace %s: %w", name, err)
	}
	return nil
}

// apply creates the object, falling back to update when it already exists.
func (o *clusterOrchestrator) apply(ctx context.Context, obj client.Object) error {
	if err := o.client.Create(ctx, obj); err != nil {
		if !apierrors.IsAlreadyExists(err) {
			return err
		}
		existing := obj.DeepCopyObject().(client.Object)
		if err := o.client.Get(ctx, client.ObjectKeyFromObject(obj), existing); err != nil {
			return err
		}
		obj.SetResourceVersion(existing.GetResourceVersion())
		if err := o.client.Update(ctx, obj); err != nil {
			return err
		}
	}
	return nil
}

func (o *clusterOrchestrator) buildDeployment(spec Spec) *appsv1.Deployment {
	lbls := labels(spec)
	maxMemory := fmt.Sprintf("%d", spec.MaxMemoryBytes)
	memoryLimit := resource.NewQuantity(spec.MaxMemoryBytes+64*1024*1024, resource.BinarySI)

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      deploymentName(spec.Slug),
			Namespace: spec.Namespace,
			Labels:    lbls,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(int32(1)),
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{"redisgate.io/instance": spec.Slug},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: lbls},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  "redis",
						Image: "redis:" + spec.RedisVersion,
						Args: []string{
							"--requirepass", spec.Password,
							"--maxmemory", maxMemory,
							"--maxmemory-policy", "allkeys-lru",
						},
						Ports: []corev1.ContainerPort{{
							Name:          "redis",
							ContainerPort: RedisPort,
						}},
						Resources: corev1.ResourceRequirements{
							Limits: corev1.ResourceList{
								corev1.ResourceMemory: *memoryLimit,
							},
						},
						ReadinessProbe: &corev1.Probe{
							ProbeHandler: corev1.ProbeHandler{
								TCPSocket: &corev1.TCPSocketAction{
									Port: intOrString(RedisPort),
								},
							},
							InitialDelaySeconds: 2,
							PeriodSeconds:       5,
						},
					}},
				},
			},
		},
	}
}

func (o *clusterOrchestrator) buildService(spec Spec) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      serviceName(spec.Slug),
			Namespace: spec.Namespace,
			Labels:    labels(spec),
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: map[string]string{"redisgate.io/instance": spec.Slug},
			Ports: []corev1.ServicePort{{
				Name:       "redis",
				Port:       RedisPort,
				TargetPort: intOrString(RedisPort),
			}},
		},
	}
}

// DeleteInstance removes the Deployment and Service. Missing objects are
// treated as already deleted.
func (o *clusterOrchestrator) DeleteInstance(ctx context.Context, namespace, slug string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	dep := &appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{
		Name: deploymentName(slug), Namespace: namespace,
	}}
	if err := o.client.Delete(ctx, dep); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete deployment: %w", err)
	}

	svc := &corev1.Service{ObjectMeta: metav1.ObjectMeta{
		Name: serviceName(slug), Namespace: namespace,
	}}
	if err := o.client.Delete(ctx, svc); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete service: %w", err)
	}

	o.log.Info("deleted redis workload", "namespace", namespace, "instance", slug)
	return nil
}

// DeploymentReady reports whether the instance's Deployment has a ready
// replica, along with the first pod name when one is running.
func (o *clusterOrchestrator) DeploymentReady(ctx context.Context, namespace, slug string) (bool, string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	dep := &appsv1.Deployment{}
	key := client.ObjectKey{Namespace: namespace, Name: deploymentName(slug)}
	if err := o.client.Get(ctx, key, dep); err != nil {
		if apierrors.IsNotFound(err) {
			return false, "", nil
		}
		return false, "", fmt.Errorf("get deployment: %w", err)
	}

	ready := dep.Status.ReadyReplicas > 0

	pods := &corev1.PodList{}
	err := o.client.List(ctx, pods,
		client.InNamespace(namespace),
		client.MatchingLabels{"redisgate.io/instance": slug})
	if err != nil {
		return ready, "", fmt.Errorf("list pods: %w", err)
	}
	podName := ""
	for _, pod := range pods.Items {
		if pod.Status.Phase == corev1.PodRunning {
			podName = pod.Name
			break
		}
	}
	return ready, podName, nil
}
