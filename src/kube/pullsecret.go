// Package kube renders the Kubernetes pull-secret and deployment fragment
// referencing a published image. Everything here is pure data
// transformation: stevedore produces manifests for human review and an
// external cluster client applies them. No cluster is ever touched.
package kube

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/henn-dt/stevedore/src/credential"
)

// registryAuth models one dockerconfigjson auth entry.
type registryAuth struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Auth     string `json:"auth"`
}

// dockerConfigJSON is the root structure for dockerconfigjson secret data.
type dockerConfigJSON struct {
	Auths map[string]registryAuth `json:"auths"`
}

// Patch describes the pull-secret and image reference a deployment needs.
type Patch struct {
	SecretName string
	Namespace  string
	ImageRef   string
	Deployment string
	Container  string
}

// BuildPullSecret assembles a kubernetes.io/dockerconfigjson Secret from the
// credential. The token ends up base64-encoded inside the secret data — that
// is the format the cluster expects, not an attempt at protection; the
// rendered document must be handled like the credential itself.
func BuildPullSecret(cred *credential.Credential, patch Patch) (*corev1.Secret, error) {
	if patch.SecretName == "" {
		return nil, fmt.Errorf("kube: secret name is required")
	}

	cfg := dockerConfigJSON{
		Auths: map[string]registryAuth{
			cred.Server: {
				Username: cred.Username,
				Email:    cred.Email,
				Auth:     base64.StdEncoding.EncodeToString([]byte(cred.Username + ":" + cred.Token)),
			},
		},
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("kube: marshaling dockerconfigjson: %w", err)
	}

	namespace := patch.Namespace
	if namespace == "" {
		namespace = "default"
	}

	return &corev1.Secret{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "v1",
			Kind:       "Secret",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      patch.SecretName,
			Namespace: namespace,
		},
		Type: corev1.SecretTypeDockerConfigJson,
		Data: map[string][]byte{
			corev1.DockerConfigJsonKey: data,
		},
	}, nil
}
