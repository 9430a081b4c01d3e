// Package build invokes the external container build engine (docker buildx)
// and reports per-variant outcomes. It marshals arguments and parses output
// status; layer construction, emulation, and caching belong to the engine.
package build

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/henn-dt/stevedore/src/logger"
)

// Buildx wraps docker buildx commands.
type Buildx struct {
	Verbose bool
	Stdout  io.Writer
	Stderr  io.Writer
}

// NewBuildx creates a Buildx runner with default output writers.
func NewBuildx(verbose bool) *Buildx {
	return &Buildx{
		Verbose: verbose,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
}

// stderrTailLimit bounds how much engine stderr is carried in a BuildError.
const stderrTailLimit = 2048

// pushedDigestRe matches the digest line docker push prints on success:
//
//	latest: digest: sha256:abc... size: 1234
var pushedDigestRe = regexp.MustCompile(`digest:\s*(sha256:[a-f0-9]{64})`)

// Build executes a single buildx invocation for the given spec.
// The resulting digest comes from --metadata-file: the manifest (list)
// digest for pushed builds, the local image digest for loaded builds.
func (bx *Buildx) Build(ctx context.Context, spec Spec) (*Outcome, error) {
	metaFile, err := os.CreateTemp("", "stevedore-meta-*.json")
	if err != nil {
		return nil, fmt.Errorf("creating metadata file: %w", err)
	}
	metaPath := metaFile.Name()
	metaFile.Close()
	defer os.Remove(metaPath)

	args := bx.buildArgs(spec, metaPath)

	if bx.Verbose {
		fmt.Fprintf(bx.Stderr, "exec: docker %s\n", strings.Join(args, " "))
	}
	logger.Log.Debug().Str("variant", spec.Variant).Strs("args", args).Msg("buildx build")

	var tail tailBuffer
	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Stdout = bx.Stdout
	cmd.Stderr = io.MultiWriter(bx.Stderr, &tail)

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{
			Variant:    spec.Variant,
			ExitCode:   exitCode(err),
			StderrTail: tail.String(),
		}
	}

	out := &Outcome{Variant: spec.Variant, ImageRef: spec.LocalRef}
	out.Digest, _ = readMetadataDigest(metaPath)
	return out, nil
}

// buildArgs constructs the docker buildx build argument list.
func (bx *Buildx) buildArgs(spec Spec, metaPath string) []string {
	args := []string{"buildx", "build"}

	if spec.Dockerfile != "" {
		args = append(args, "--file", spec.Dockerfile)
	}
	if spec.Target != "" {
		args = append(args, "--target", spec.Target)
	}
	if len(spec.Platforms) > 0 {
		args = append(args, "--platform", strings.Join(spec.Platforms, ","))
	}
	for _, k := range sortedKeys(spec.BuildArgs) {
		args = append(args, "--build-arg", fmt.Sprintf("%s=%s", k, spec.BuildArgs[k]))
	}
	if spec.LocalRef != "" {
		args = append(args, "--tag", spec.LocalRef)
	}
	if spec.Load {
		args = append(args, "--load")
	}
	if spec.Push {
		args = append(args, "--push")
	}
	args = append(args, "--metadata-file", metaPath)

	buildContext := spec.Context
	if buildContext == "" {
		buildContext = "."
	}
	args = append(args, buildContext)

	return args
}

// EnsureBuilder checks that a buildx builder is available and creates one if
// needed. Multi-platform builds require a non-default builder instance.
func (bx *Buildx) EnsureBuilder(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "docker", "buildx", "inspect")
	if err := cmd.Run(); err != nil {
		create := exec.CommandContext(ctx, "docker", "buildx", "create", "--use", "--name", "stevedore")
		create.Stdout = bx.Stderr
		create.Stderr = bx.Stderr
		if createErr := create.Run(); createErr != nil {
			return fmt.Errorf("creating buildx builder: %w", createErr)
		}
	}
	return nil
}

// Login authenticates the docker daemon against a registry. The token goes
// through stdin so it never appears in the process table.
func (bx *Buildx) Login(ctx context.Context, server, username, token string) error {
	cmd := exec.CommandContext(ctx, "docker", "login", server, "--username", username, "--password-stdin")
	cmd.Stdin = strings.NewReader(token)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	logger.Log.Debug().Str("server", server).Str("username", username).Msg("docker login")

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("docker login %s failed (exit %d)", server, exitCode(err))
	}
	return nil
}

// Tag applies an additional reference to a local image.
func (bx *Buildx) Tag(ctx context.Context, src, dst string) error {
	cmd := exec.CommandContext(ctx, "docker", "tag", src, dst)
	var tail tailBuffer
	cmd.Stderr = &tail

	logger.Log.Debug().Str("src", src).Str("dst", dst).Msg("docker tag")

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("docker tag %s %s: %s", src, dst, strings.TrimSpace(tail.String()))
	}
	return nil
}

// Push pushes a reference and returns the manifest digest the daemon reports.
func (bx *Buildx) Push(ctx context.Context, ref string) (digest.Digest, error) {
	var out bytes.Buffer
	var tail tailBuffer

	cmd := exec.CommandContext(ctx, "docker", "push", ref)
	cmd.Stdout = io.MultiWriter(&out, bx.Stdout)
	cmd.Stderr = io.MultiWriter(bx.Stderr, &tail)

	logger.Log.Debug().Str("ref", ref).Msg("docker push")

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("docker push %s failed (exit %d): %s", ref, exitCode(err), strings.TrimSpace(tail.String()))
	}

	m := pushedDigestRe.FindStringSubmatch(out.String())
	if m == nil {
		return "", fmt.Errorf("docker push %s: no digest in engine output", ref)
	}
	return digest.Parse(m[1])
}

// readMetadataDigest extracts the image digest from a buildx metadata file.
func readMetadataDigest(path string) (digest.Digest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var meta struct {
		ContainerImageDigest string `json:"containerimage.digest"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return "", fmt.Errorf("parsing buildx metadata: %w", err)
	}
	if meta.ContainerImageDigest == "" {
		return "", nil
	}
	return digest.Parse(meta.ContainerImageDigest)
}

// exitCode extracts the process exit code from an exec error.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// tailBuffer keeps the last stderrTailLimit bytes written to it.
type tailBuffer struct {
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > stderrTailLimit {
		t.buf = t.buf[len(t.buf)-stderrTailLimit:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string { return string(t.buf) }
