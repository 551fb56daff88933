package kube

import (
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"
)

const managedByLabel = "app.kubernetes.io/managed-by"

// Workload is the typed desired state for one deployed application. It is
// rendered into namespace, Deployment and Service objects, replacing any
// text-level manifest templating: the image reference is a struct field, not
// a placeholder token.
type Workload struct {
	Namespace     string
	Name          string
	Image         string
	Replicas      int32
	ContainerPort int32
	ServicePort   int32
	HealthPath    string
}

func (w Workload) labels() map[string]string {
	return map[string]string{
		"app":          w.Name,
		managedByLabel: "deployer",
	}
}

func namespaceFor(name string) *corev1.Namespace {
	return &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: name},
	}
}

func deploymentFor(w Workload) *appsv1.Deployment {
	probe := func(initialDelay int32) *corev1.Probe {
		return &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				HTTPGet: &corev1.HTTPGetAction{
					Path: w.HealthPath,
					Port: intstr.FromInt32(w.ContainerPort),
				},
			},
			InitialDelaySeconds: initialDelay,
			PeriodSeconds:       30,
			TimeoutSeconds:      5,
		}
	}

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      w.Name,
			Namespace: w.Namespace,
			Labels:    w.labels(),
		},
		Spec: appsv1.DeploymentSpec{
			Replicas:             ptr.To(w.Replicas),
			RevisionHistoryLimit: ptr.To(int32(2)),
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{"app": w.Name},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: w.labels()},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  w.Name,
						Image: w.Image,
						Ports: []corev1.ContainerPort{{
							Name:          "http",
							ContainerPort: w.ContainerPort,
						}},
						Resources: corev1.ResourceRequirements{
							Requests: corev1.ResourceList{
								corev1.ResourceCPU:    resource.MustParse("100m"),
								corev1.ResourceMemory: resource.MustParse("128Mi"),
							},
							Limits: corev1.ResourceList{
								corev1.ResourceCPU:    resource.MustParse("500m"),
								corev1.ResourceMemory: resource.MustParse("256Mi"),
							},
						},
						ReadinessProbe: probe(5),
						LivenessProbe:  probe(15),
					}},
				},
			},
		},
	}
}

func serviceFor(w Workload) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      w.Name,
			Namespace: w.Namespace,
			Labels:    w.labels(),
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeLoadBalancer,
			Selector: map[string]string{"app": w.Name},
			Ports: []corev1.ServicePort{{
				Name:       "http",
				Port:       w.ServicePort,
				TargetPort: intstr.FromInt32(w.ContainerPort),
				Protocol:   corev1.ProtocolTCP,
			}},
		},
	}
}
