package kube

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"

	"github.com/henn-dt/stevedore/src/credential"
)

func testCredential() *credential.Credential {
	return &credential.Credential{
		Server:   "ghcr.io",
		Username: "henn-ci",
		Token:    "ghp_secrettoken",
		Email:    "ci@henn.com",
	}
}

func testPatch() Patch {
	return Patch{
		SecretName: "ghcr-pull",
		Namespace:  "webui",
		ImageRef:   "ghcr.io/henn-dt/open-webui:rag-debug",
		Deployment: "open-webui",
	}
}

func TestBuildPullSecret(t *testing.T) {
	secret, err := BuildPullSecret(testCredential(), testPatch())
	require.NoError(t, err)

	assert.Equal(t, "ghcr-pull", secret.Name)
	assert.Equal(t, "webui", secret.Namespace)
	assert.Equal(t, corev1.SecretTypeDockerConfigJson, secret.Type)

	var cfg struct {
		Auths map[string]struct {
			Username string `json:"username"`
			Email    string `json:"email"`
			Auth     string `json:"auth"`
		} `json:"auths"`
	}
	require.NoError(t, json.Unmarshal(secret.Data[corev1.DockerConfigJsonKey], &cfg))

	entry, ok := cfg.Auths["ghcr.io"]
	require.True(t, ok)
	assert.Equal(t, "henn-ci", entry.Username)
	assert.Equal(t, "ci@henn.com", entry.Email)

	decoded, err := base64.StdEncoding.DecodeString(entry.Auth)
	require.NoError(t, err)
	assert.Equal(t, "henn-ci:ghp_secrettoken", string(decoded), "auth is user:token, the format kubelet expects")
}

func TestBuildPullSecretRequiresName(t *testing.T) {
	patch := testPatch()
	patch.SecretName = ""

	_, err := BuildPullSecret(testCredential(), patch)
	require.Error(t, err)
}

func TestBuildDeploymentFragment(t *testing.T) {
	dep, err := BuildDeploymentFragment(testPatch())
	require.NoError(t, err)

	assert.Equal(t, "open-webui", dep.Name)
	assert.Equal(t, "webui", dep.Namespace)

	podSpec := dep.Spec.Template.Spec
	require.Len(t, podSpec.ImagePullSecrets, 1)
	assert.Equal(t, "ghcr-pull", podSpec.ImagePullSecrets[0].Name)
	require.Len(t, podSpec.Containers, 1)
	assert.Equal(t, "open-webui", podSpec.Containers[0].Name, "container name defaults to the deployment name")
	assert.Equal(t, "ghcr.io/henn-dt/open-webui:rag-debug", podSpec.Containers[0].Image)
}

func TestBuildDeploymentFragmentRequiresImage(t *testing.T) {
	patch := testPatch()
	patch.ImageRef = ""

	_, err := BuildDeploymentFragment(patch)
	require.Error(t, err)
}

func TestRenderMultiDocument(t *testing.T) {
	secret, err := BuildPullSecret(testCredential(), testPatch())
	require.NoError(t, err)
	dep, err := BuildDeploymentFragment(testPatch())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, secret, dep))

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "---\n"), "one document separator per manifest")
	assert.Contains(t, out, "kind: Secret")
	assert.Contains(t, out, "kind: Deployment")
	assert.Contains(t, out, "kubernetes.io/dockerconfigjson")
	assert.NotContains(t, out, "ghp_secrettoken", "the raw token only appears base64-encoded")
}
