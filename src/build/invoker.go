package build

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/henn-dt/stevedore/src/config"
)

// Engine is the subset of Buildx the invoker depends on.
type Engine interface {
	Build(ctx context.Context, spec Spec) (*Outcome, error)
	EnsureBuilder(ctx context.Context) error
}

// Invoker turns configured variants into engine invocations.
type Invoker struct {
	engine  Engine
	cfg     *config.Config
	version *VersionInfo
	timeout time.Duration
}

// NewInvoker creates an Invoker. version may be nil when the working tree is
// not a git repository.
func NewInvoker(engine Engine, cfg *config.Config, version *VersionInfo) *Invoker {
	return &Invoker{
		engine:  engine,
		cfg:     cfg,
		version: version,
		timeout: time.Duration(cfg.BuildTimeoutSeconds) * time.Second,
	}
}

// Prepare bootstraps the builder instance. Called once before any Build.
func (inv *Invoker) Prepare(ctx context.Context) error {
	return inv.engine.EnsureBuilder(ctx)
}

// Build runs one engine invocation for the variant and returns its outcome.
// pushRef is the variant's resolved destination reference; multi-platform
// builds push to it directly from the builder, single-platform builds load
// into the daemon under a local name for the explicit push stage.
// Failures are returned as *build.Error and are never retried here.
func (inv *Invoker) Build(ctx context.Context, v config.Variant, pushRef string) (*Outcome, error) {
	spec := inv.specFor(v, pushRef)

	if inv.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := inv.engine.Build(ctx, spec)
	if err != nil {
		return nil, err
	}
	out.Duration = time.Since(start)
	return out, nil
}

// specFor resolves a variant into a concrete build spec.
func (inv *Invoker) specFor(v config.Variant, pushRef string) Spec {
	platforms := inv.cfg.EffectivePlatforms(v)

	args := make(map[string]string, len(v.BuildArgs)+3)
	for k, val := range v.BuildArgs {
		args[k] = val
	}
	inv.autoInjectBuildArgs(args)

	spec := Spec{
		Variant:    v.Name,
		Dockerfile: inv.cfg.Dockerfile,
		Context:    inv.cfg.Context,
		Target:     inv.cfg.Target,
		Platforms:  platforms,
		BuildArgs:  args,
	}

	// A multi-platform manifest list never enters the local daemon, so it
	// must be pushed by the builder itself.
	if len(platforms) > 1 && pushRef != "" {
		spec.LocalRef = pushRef
		spec.Push = true
	} else {
		spec.LocalRef = LocalRef(inv.cfg.Repository, v.Name)
		spec.Load = true
	}
	return spec
}

// autoInjectBuildArgs adds VERSION, COMMIT, and BUILD_DATE when the
// Dockerfile declares matching ARGs and no explicit override exists.
func (inv *Invoker) autoInjectBuildArgs(args map[string]string) {
	if inv.version == nil {
		return
	}

	path := inv.cfg.Dockerfile
	if path == "" {
		path = "Dockerfile"
	}
	info, err := ParseDockerfile(path)
	if err != nil {
		return
	}

	declared := make(map[string]bool, len(info.Args))
	for _, a := range info.Args {
		declared[a] = true
	}

	if declared["VERSION"] {
		if _, ok := args["VERSION"]; !ok {
			args["VERSION"] = inv.version.Version
		}
	}
	if declared["COMMIT"] {
		if _, ok := args["COMMIT"]; !ok {
			args["COMMIT"] = inv.version.SHA
		}
	}
	if declared["BUILD_DATE"] {
		if _, ok := args["BUILD_DATE"]; !ok {
			args["BUILD_DATE"] = time.Now().UTC().Format(time.RFC3339)
		}
	}
}

// LocalRef returns the daemon-local reference for a variant's build output.
// The repository basename keeps refs readable; the stevedore/ prefix keeps
// them out of the way of real repositories.
func LocalRef(repository, variant string) string {
	base := repository
	if i := strings.LastIndex(repository, "/"); i >= 0 {
		base = repository[i+1:]
	}
	return fmt.Sprintf("stevedore/%s:%s", base, variant)
}
