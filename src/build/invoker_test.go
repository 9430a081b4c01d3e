package build

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henn-dt/stevedore/src/config"
)

// captureEngine records the specs it is asked to build.
type captureEngine struct {
	specs []Spec
}

func (e *captureEngine) Build(ctx context.Context, spec Spec) (*Outcome, error) {
	e.specs = append(e.specs, spec)
	return &Outcome{Variant: spec.Variant, ImageRef: spec.LocalRef}, nil
}

func (e *captureEngine) EnsureBuilder(ctx context.Context) error { return nil }

func invokerConfig() *config.Config {
	return &config.Config{
		Repository:          "henn-dt/open-webui",
		Platforms:           []string{"linux/amd64", "linux/arm64"},
		Context:             ".",
		BuildTimeoutSeconds: 60,
	}
}

func TestBuildMultiPlatformPushesFromBuilder(t *testing.T) {
	engine := &captureEngine{}
	inv := NewInvoker(engine, invokerConfig(), nil)

	out, err := inv.Build(context.Background(), config.Variant{
		Name:      "debug-with-ollama",
		BuildArgs: map[string]string{"USE_OLLAMA": "true"},
	}, "ghcr.io/henn-dt/open-webui:rag-debug-with-ollama")
	require.NoError(t, err)

	require.Len(t, engine.specs, 1)
	spec := engine.specs[0]
	assert.Equal(t, "debug-with-ollama", spec.Variant)
	assert.Equal(t, []string{"linux/amd64", "linux/arm64"}, spec.Platforms)
	assert.Equal(t, map[string]string{"USE_OLLAMA": "true"}, spec.BuildArgs)

	// A manifest list cannot be loaded into the daemon, so the build tags
	// the destination directly and pushes from the builder.
	assert.Equal(t, "ghcr.io/henn-dt/open-webui:rag-debug-with-ollama", spec.LocalRef)
	assert.True(t, spec.Push)
	assert.False(t, spec.Load)

	assert.Equal(t, spec.LocalRef, out.ImageRef)
}

func TestBuildSinglePlatformLoads(t *testing.T) {
	engine := &captureEngine{}
	inv := NewInvoker(engine, invokerConfig(), nil)

	_, err := inv.Build(context.Background(), config.Variant{
		Name:      "debug",
		Platforms: []string{"linux/amd64"},
	}, "ghcr.io/henn-dt/open-webui:rag-debug")
	require.NoError(t, err)

	require.Len(t, engine.specs, 1)
	spec := engine.specs[0]
	assert.Equal(t, []string{"linux/amd64"}, spec.Platforms, "variant platforms override the default set")
	assert.Equal(t, "stevedore/open-webui:debug", spec.LocalRef)
	assert.True(t, spec.Load)
	assert.False(t, spec.Push, "loaded builds are pushed explicitly after tagging")
}

func TestAutoInjectBuildArgs(t *testing.T) {
	dockerfile := filepath.Join(t.TempDir(), "Dockerfile")
	require.NoError(t, os.WriteFile(dockerfile, []byte(`
FROM python:3.11-slim AS base
ARG VERSION
ARG COMMIT
ARG USE_OLLAMA=false
RUN echo hi
`), 0o644))

	cfg := invokerConfig()
	cfg.Dockerfile = dockerfile
	engine := &captureEngine{}
	inv := NewInvoker(engine, cfg, &VersionInfo{Version: "1.2.3", SHA: "abc1234"})

	_, err := inv.Build(context.Background(), config.Variant{
		Name:      "debug",
		BuildArgs: map[string]string{"VERSION": "pinned"},
	}, "ghcr.io/henn-dt/open-webui:rag-debug")
	require.NoError(t, err)

	args := engine.specs[0].BuildArgs
	assert.Equal(t, "pinned", args["VERSION"], "explicit build args win over injection")
	assert.Equal(t, "abc1234", args["COMMIT"])
	assert.NotContains(t, args, "BUILD_DATE", "undeclared args are not injected")
}

func TestLocalRef(t *testing.T) {
	assert.Equal(t, "stevedore/open-webui:debug", LocalRef("henn-dt/open-webui", "debug"))
	assert.Equal(t, "stevedore/api:default", LocalRef("api", "default"))
}
