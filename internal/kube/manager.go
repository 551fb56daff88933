// Package kube reconciles the pipeline's declarative resources against the
// cluster control-plane and waits out rollouts. Every apply is a create-or-
// update upsert; nothing is ever deleted and recreated, and an apply that
// matches the live object is a no-op.
package kube

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/equality"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/utils/ptr"
)

const (
	rolloutPollInterval = 2 * time.Second
	logTailLines        = 50
	snapshotPodLimit    = 10
)

// Manager applies workloads and reads status from one cluster.
type Manager struct {
	client kubernetes.Interface
	logger *slog.Logger
}

// NewManager creates a manager from a resolved REST configuration.
func NewManager(cfg *rest.Config, logger *slog.Logger) (*Manager, error) {
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes client: %w", err)
	}
	return &Manager{client: clientset, logger: logger}, nil
}

// NewWithClient wraps an existing clientset, used by tests.
func NewWithClient(client kubernetes.Interface, logger *slog.Logger) *Manager {
	return &Manager{client: client, logger: logger}
}

// EnsureNamespace creates the namespace if it does not exist.
func (m *Manager) EnsureNamespace(ctx context.Context, name string) error {
	_, err := m.client.CoreV1().Namespaces().Create(ctx, namespaceFor(name), metav1.CreateOptions{})
	if err == nil {
		m.logger.Info("namespace created", "namespace", name)
		return nil
	}
	if errors.IsAlreadyExists(err) {
		return nil
	}
	return fmt.Errorf("create namespace: %w", err)
}

// ApplyDeployment upserts the workload's Deployment. An unchanged live
// object is left untouched.
func (m *Manager) ApplyDeployment(ctx context.Context, w Workload) error {
	desired := deploymentFor(w)
	deployments := m.client.AppsV1().Deployments(w.Namespace)

	_, err := deployments.Create(ctx, desired, metav1.CreateOptions{})
	if err == nil {
		m.logger.Info("deployment created", "namespace", w.Namespace, "name", w.Name, "image", w.Image)
		return nil
	}
	if !errors.IsAlreadyExists(err) {
		return fmt.Errorf("create deployment: %w", err)
	}

	existing, getErr := deployments.Get(ctx, desired.Name, metav1.GetOptions{})
	if getErr != nil {
		return fmt.Errorf("get deployment: %w", getErr)
	}
	if deploymentUnchanged(existing, desired) {
		m.logger.Info("deployment unchanged", "namespace", w.Namespace, "name", w.Name)
		return nil
	}

	desired.ResourceVersion = existing.ResourceVersion
	if _, err := deployments.Update(ctx, desired, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("update deployment: %w", err)
	}
	m.logger.Info("deployment updated", "namespace", w.Namespace, "name", w.Name, "image", w.Image)
	return nil
}

// ApplyService upserts the workload's Service, preserving cluster-assigned
// IPs on update.
func (m *Manager) ApplyService(ctx context.Context, w Workload) error {
	desired := serviceFor(w)
	services := m.client.CoreV1().Services(w.Namespace)

	_, err := services.Create(ctx, desired, metav1.CreateOptions{})
	if err == nil {
		m.logger.Info("service created", "namespace", w.Namespace, "name", w.Name)
		return nil
	}
	if !errors.IsAlreadyExists(err) {
		return fmt.Errorf("create service: %w", err)
	}

	existing, getErr := services.Get(ctx, desired.Name, metav1.GetOptions{})
	if getErr != nil {
		return fmt.Errorf("get service: %w", getErr)
	}
	if serviceUnchanged(existing, desired) {
		m.logger.Info("service unchanged", "namespace", w.Namespace, "name", w.Name)
		return nil
	}

	desired.ResourceVersion = existing.ResourceVersion
	desired.Spec.ClusterIP = existing.Spec.ClusterIP
	desired.Spec.ClusterIPs = existing.Spec.ClusterIPs
	if _, err := services.Update(ctx, desired, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("update service: %w", err)
	}
	m.logger.Info("service updated", "namespace", w.Namespace, "name", w.Name)
	return nil
}

// WaitForRollout blocks until the deployment's observed ready replicas match
// the desired count or the bound elapses. The last observed count is
// returned either way; applied resources are never reverted on timeout.
func (m *Manager) WaitForRollout(ctx context.Context, w Workload, timeout time.Duration) (int32, error) {
	var observed int32
	err := wait.PollUntilContextTimeout(ctx, rolloutPollInterval, timeout, true,
		func(ctx context.Context) (bool, error) {
			dep, err := m.client.AppsV1().Deployments(w.Namespace).Get(ctx, w.Name, metav1.GetOptions{})
			if err != nil {
				return false, err
			}
			observed = dep.Status.ReadyReplicas
			if dep.Status.ObservedGeneration < dep.Generation {
				return false, nil
			}
			done := dep.Status.UpdatedReplicas == w.Replicas &&
				dep.Status.ReadyReplicas == w.Replicas
			return done, nil
		})
	if err != nil {
		return observed, fmt.Errorf("rollout of %s/%s: %d/%d replicas ready: %w",
			w.Namespace, w.Name, observed, w.Replicas, err)
	}
	m.logger.Info("rollout complete", "namespace", w.Namespace, "name", w.Name, "replicas", observed)
	return observed, nil
}

// ServiceAddress returns the externally reachable address of the service's
// load balancer, or empty when none has been assigned yet.
func (m *Manager) ServiceAddress(ctx context.Context, namespace, name string) (string, error) {
	svc, err := m.client.CoreV1().Services(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("get service: %w", err)
	}
	for _, ingress := range svc.Status.LoadBalancer.Ingress {
		if ingress.Hostname != "" {
			return ingress.Hostname, nil
		}
		if ingress.IP != "" {
			return ingress.IP, nil
		}
	}
	return "", nil
}

// PodInfo is a condensed pod status line for diagnostics.
type PodInfo struct {
	Name    string
	Phase   string
	Ready   bool
	Message string
}

// Snapshot is a best-effort picture of the namespace for run diagnostics.
type Snapshot struct {
	Deployments []string
	Services    []string
	Pods        []PodInfo
	Logs        map[string]string
}

// Snapshot lists the namespace's resources and tails recent pod logs. Log
// collection failures are recorded inline rather than failing the snapshot.
func (m *Manager) Snapshot(ctx context.Context, namespace string) (Snapshot, error) {
	snap := Snapshot{Logs: map[string]string{}}

	deployments, err := m.client.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return snap, fmt.Errorf("list deployments: %w", err)
	}
	for _, dep := range deployments.Items {
		snap.Deployments = append(snap.Deployments, fmt.Sprintf("%s ready=%d/%d",
			dep.Name, dep.Status.ReadyReplicas, ptr.Deref(dep.Spec.Replicas, 0)))
	}

	services, err := m.client.CoreV1().Services(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return snap, fmt.Errorf("list services: %w", err)
	}
	for _, svc := range services.Items {
		snap.Services = append(snap.Services, fmt.Sprintf("%s type=%s", svc.Name, svc.Spec.Type))
	}

	pods, err := m.client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return snap, fmt.Errorf("list pods: %w", err)
	}
	for i := range pods.Items {
		if i >= snapshotPodLimit {
			break
		}
		pod := &pods.Items[i]
		snap.Pods = append(snap.Pods, PodInfo{
			Name:    pod.Name,
			Phase:   string(pod.Status.Phase),
			Ready:   isPodReady(pod),
			Message: pod.Status.Message,
		})
		snap.Logs[pod.Name] = m.podLogTail(ctx, namespace, pod.Name)
	}
	return snap, nil
}

func (m *Manager) podLogTail(ctx context.Context, namespace, name string) string {
	req := m.client.CoreV1().Pods(namespace).GetLogs(name, &corev1.PodLogOptions{
		TailLines: ptr.To(int64(logTailLines)),
	})
	raw, err := req.DoRaw(ctx)
	if err != nil {
		return fmt.Sprintf("<log collection failed: %v>", err)
	}
	return string(raw)
}

// deploymentUnchanged compares the fields this pipeline owns. Server-side
// defaulting fills many spec fields, so a full DeepEqual would always report
// drift; only pod template and replica intent are compared.
func deploymentUnchanged(existing, desired *appsv1.Deployment) bool {
	if ptr.Deref(existing.Spec.Replicas, 0) != ptr.Deref(desired.Spec.Replicas, 0) {
		return false
	}
	existingContainers := existing.Spec.Template.Spec.Containers
	desiredContainers := desired.Spec.Template.Spec.Containers
	if len(existingContainers) != len(desiredContainers) {
		return false
	}
	for i := range desiredContainers {
		if existingContainers[i].Image != desiredContainers[i].Image {
			return false
		}
	}
	return equality.Semantic.DeepEqual(existing.Spec.Template.Labels, desired.Spec.Template.Labels)
}

func serviceUnchanged(existing, desired *corev1.Service) bool {
	if existing.Spec.Type != desired.Spec.Type {
		return false
	}
	if !equality.Semantic.DeepEqual(existing.Spec.Selector, desired.Spec.Selector) {
		return false
	}
	if len(existing.Spec.Ports) != len(desired.Spec.Ports) {
		return false
	}
	for i := range desired.Spec.Ports {
		if existing.Spec.Ports[i].Port != desired.Spec.Ports[i].Port ||
			existing.Spec.Ports[i].TargetPort != desired.Spec.Ports[i].TargetPort {
			return false
		}
	}
	return true
}

func isPodReady(pod *corev1.Pod) bool {
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}
