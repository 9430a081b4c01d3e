package kube

import (
	"fmt"
	"io"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"
)

// BuildDeploymentFragment produces a Deployment carrying only the fields the
// patch is about: the container image and the imagePullSecrets reference.
// It is a strategic-merge fragment, not a complete workload spec.
func BuildDeploymentFragment(patch Patch) (*appsv1.Deployment, error) {
	if patch.ImageRef == "" {
		return nil, fmt.Errorf("kube: image reference is required")
	}

	name := patch.Deployment
	if name == "" {
		name = "open-webui"
	}
	container := patch.Container
	if container == "" {
		container = name
	}
	namespace := patch.Namespace
	if namespace == "" {
		namespace = "default"
	}

	return &appsv1.Deployment{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "apps/v1",
			Kind:       "Deployment",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
		},
		Spec: appsv1.DeploymentSpec{
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					ImagePullSecrets: []corev1.LocalObjectReference{
						{Name: patch.SecretName},
					},
					Containers: []corev1.Container{
						{
							Name:  container,
							Image: patch.ImageRef,
						},
					},
				},
			},
		},
	}, nil
}

// Render writes the pull secret and deployment fragment as a multi-document
// YAML stream for review.
func Render(w io.Writer, secret *corev1.Secret, deployment *appsv1.Deployment) error {
	secretYAML, err := yaml.Marshal(secret)
	if err != nil {
		return fmt.Errorf("kube: marshaling secret: %w", err)
	}
	deployYAML, err := yaml.Marshal(deployment)
	if err != nil {
		return fmt.Errorf("kube: marshaling deployment: %w", err)
	}

	if _, err := fmt.Fprintf(w, "---\n%s---\n%s", secretYAML, deployYAML); err != nil {
		return err
	}
	return nil
}
