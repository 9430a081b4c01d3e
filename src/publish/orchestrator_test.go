package publish

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henn-dt/stevedore/src/build"
	"github.com/henn-dt/stevedore/src/config"
	"github.com/henn-dt/stevedore/src/credential"
	"github.com/henn-dt/stevedore/src/registry"
)

type fakeAuth struct {
	err   error
	calls int
}

func (f *fakeAuth) Login(ctx context.Context, cred *credential.Credential) (Session, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &fakeSession{stored: goodDigest}, nil
}

type fakeBuilder struct {
	mu       sync.Mutex
	built    []string
	pushRefs map[string]string
	fail     map[string]error
}

func (f *fakeBuilder) Prepare(ctx context.Context) error { return nil }

func (f *fakeBuilder) Build(ctx context.Context, v config.Variant, pushRef string) (*build.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.built = append(f.built, v.Name)
	if f.pushRefs == nil {
		f.pushRefs = make(map[string]string)
	}
	f.pushRefs[v.Name] = pushRef
	if err := f.fail[v.Name]; err != nil {
		return nil, err
	}
	return &build.Outcome{Variant: v.Name, ImageRef: "stevedore/open-webui:" + v.Name}, nil
}

type fakeTargetPusher struct {
	push func(ctx context.Context, session Session, localRef string, built digest.Digest, target Target) Result
}

func (f *fakeTargetPusher) Push(ctx context.Context, session Session, localRef string, built digest.Digest, target Target) Result {
	if f.push != nil {
		return f.push(ctx, session, localRef, built, target)
	}
	return Result{Target: target, Digest: goodDigest, Succeeded: true}
}

func orchConfig() *config.Config {
	cfg := webUIConfig()
	cfg.ConcurrencyLimit = 2
	return cfg
}

func goodSource() credential.StaticSource {
	return credential.StaticSource{
		Server:   "ghcr.io",
		Username: "henn-ci",
		Token:    "dummy-token",
		Email:    "ci@henn.com",
	}
}

func newTestOrchestrator(cfg *config.Config, source credential.Source, auth Authenticator, builder Builder, pusher TargetPusher) *Orchestrator {
	return NewOrchestrator(cfg, source, auth, builder, pusher, &build.VersionInfo{Version: "1.0.0", Branch: "main", SHA: "abc1234"})
}

func TestRunPublishesAllVariants(t *testing.T) {
	builder := &fakeBuilder{}
	orch := newTestOrchestrator(orchConfig(), goodSource(), &fakeAuth{}, builder, &fakeTargetPusher{})

	sum, err := orch.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.True(t, sum.OK())
	assert.Equal(t, StateDone, orch.State())
	assert.Len(t, sum.Published(), 2)
	assert.ElementsMatch(t, []string{"debug", "debug-with-ollama"}, builder.built)

	// Builds receive their resolved destination so multi-platform variants
	// can push straight from the builder.
	assert.Equal(t, "ghcr.io/henn-dt/open-webui:rag-debug", builder.pushRefs["debug"])
	assert.Equal(t, "ghcr.io/henn-dt/open-webui:rag-debug-with-ollama", builder.pushRefs["debug-with-ollama"])

	for _, vo := range sum.Variants {
		assert.Equal(t, StatusPublished, vo.Status)
		assert.Equal(t, goodDigest.String(), vo.Digest)
		assert.NotEmpty(t, vo.Target)
	}
}

func TestRunForwardsBuildDigestToPusher(t *testing.T) {
	builder := &fakeBuilder{}
	var gotLocal string
	var gotBuilt digest.Digest
	var mu sync.Mutex
	pusher := &fakeTargetPusher{push: func(ctx context.Context, session Session, localRef string, built digest.Digest, target Target) Result {
		mu.Lock()
		gotLocal, gotBuilt = localRef, built
		mu.Unlock()
		return Result{Target: target, Digest: goodDigest, Succeeded: true}
	}}

	cfg := orchConfig()
	cfg.Variants = cfg.Variants[:1]
	orch := newTestOrchestrator(cfg, goodSource(), &fakeAuth{}, builderWithDigest(builder), pusher)

	_, err := orch.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, "ghcr.io/henn-dt/open-webui:rag-debug", gotLocal)
	assert.Equal(t, goodDigest, gotBuilt, "the builder-reported digest reaches verification")
}

// builderWithDigest wraps a fakeBuilder to emulate a build-time push: the
// outcome reference is the destination and carries the engine digest.
type digestBuilder struct{ inner *fakeBuilder }

func builderWithDigest(inner *fakeBuilder) *digestBuilder { return &digestBuilder{inner: inner} }

func (d *digestBuilder) Prepare(ctx context.Context) error { return d.inner.Prepare(ctx) }

func (d *digestBuilder) Build(ctx context.Context, v config.Variant, pushRef string) (*build.Outcome, error) {
	out, err := d.inner.Build(ctx, v, pushRef)
	if err != nil {
		return nil, err
	}
	out.ImageRef = pushRef
	out.Digest = goodDigest
	return out, nil
}

func TestRunFailsFastOnMissingCredential(t *testing.T) {
	source := credential.StaticSource{Server: "ghcr.io", Username: "henn-ci", Email: "ci@henn.com"} // no token
	auth := &fakeAuth{}
	builder := &fakeBuilder{}
	orch := newTestOrchestrator(orchConfig(), source, auth, builder, &fakeTargetPusher{})

	_, err := orch.Run(context.Background(), nil)

	var missing *credential.MissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "token", missing.Field)

	assert.Zero(t, auth.calls, "no login before credentials resolve")
	assert.Empty(t, builder.built, "no build may start without credentials")
	assert.Equal(t, StateFailed, orch.State())
	assert.Equal(t, StageConfig, orch.FailedStage())
	assert.Equal(t, ExitConfig, ExitCode(err))
}

func TestRunRejectsUnknownVariantBeforeNetwork(t *testing.T) {
	auth := &fakeAuth{}
	builder := &fakeBuilder{}
	orch := newTestOrchestrator(orchConfig(), goodSource(), auth, builder, &fakeTargetPusher{})

	_, err := orch.Run(context.Background(), []string{"debug", "nightly"})

	var unknown *UnknownVariantError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "nightly", unknown.Variant)
	assert.Zero(t, auth.calls)
	assert.Empty(t, builder.built)
	assert.Equal(t, ExitConfig, ExitCode(err))
}

func TestRunFailsOnAuthRejection(t *testing.T) {
	auth := &fakeAuth{err: &registry.AuthError{Server: "ghcr.io", StatusCode: 401}}
	builder := &fakeBuilder{}
	orch := newTestOrchestrator(orchConfig(), goodSource(), auth, builder, &fakeTargetPusher{})

	_, err := orch.Run(context.Background(), nil)

	var authErr *registry.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Empty(t, builder.built)
	assert.Equal(t, StateFailed, orch.State())
	assert.Equal(t, StageAuth, orch.FailedStage())
	assert.Equal(t, ExitAuth, ExitCode(err))
}

func TestRunLoginTimeout(t *testing.T) {
	auth := &fakeAuth{err: context.DeadlineExceeded}
	builder := &fakeBuilder{}
	orch := newTestOrchestrator(orchConfig(), goodSource(), auth, builder, &fakeTargetPusher{})

	_, err := orch.Run(context.Background(), nil)

	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, StageAuth, timeout.Stage)
	assert.Empty(t, builder.built)
	assert.Equal(t, StageAuth, orch.FailedStage())
	assert.Equal(t, ExitTimeout, ExitCode(err))
}

func TestRunBuildFailureDoesNotStopSiblings(t *testing.T) {
	builder := &fakeBuilder{fail: map[string]error{
		"debug": &build.Error{Variant: "debug", ExitCode: 1, StderrTail: "step 4/9 failed"},
	}}
	orch := newTestOrchestrator(orchConfig(), goodSource(), &fakeAuth{}, builder, &fakeTargetPusher{})

	sum, err := orch.Run(context.Background(), nil)

	var buildErr *build.Error
	require.ErrorAs(t, err, &buildErr)
	assert.Equal(t, "debug", buildErr.Variant)
	assert.Equal(t, ExitBuild, ExitCode(err))

	assert.Equal(t, StateFailed, orch.State())
	assert.Equal(t, StageBuild, orch.FailedStage())

	require.Len(t, sum.Published(), 1, "the healthy variant must still publish")
	assert.Equal(t, "debug-with-ollama", sum.Published()[0].Variant)
	require.Len(t, sum.Failed(), 1)
	assert.Equal(t, "debug", sum.Failed()[0].Variant)
}

func TestRunStateTrailsActualProgress(t *testing.T) {
	builder := &fakeBuilder{fail: map[string]error{
		"debug":             &build.Error{Variant: "debug", ExitCode: 1},
		"debug-with-ollama": &build.Error{Variant: "debug-with-ollama", ExitCode: 1},
	}}
	var pushCalls int
	var mu sync.Mutex
	orch := newTestOrchestrator(orchConfig(), goodSource(), &fakeAuth{}, builder, &fakeTargetPusher{})
	orch.pusher = &fakeTargetPusher{push: func(ctx context.Context, session Session, localRef string, built digest.Digest, target Target) Result {
		mu.Lock()
		pushCalls++
		mu.Unlock()
		return Result{Target: target, Digest: goodDigest, Succeeded: true}
	}}

	sum, err := orch.Run(context.Background(), nil)
	require.Error(t, err)

	assert.Zero(t, pushCalls, "nothing built, nothing to push")
	assert.Equal(t, StateFailed, orch.State())
	assert.Empty(t, sum.Published())
}

func TestRunStateTaggedDuringPush(t *testing.T) {
	var stateAtPush State
	var mu sync.Mutex
	cfg := orchConfig()
	cfg.Variants = cfg.Variants[:1]
	orch := newTestOrchestrator(cfg, goodSource(), &fakeAuth{}, &fakeBuilder{}, nil)
	orch.pusher = &fakeTargetPusher{push: func(ctx context.Context, session Session, localRef string, built digest.Digest, target Target) Result {
		mu.Lock()
		stateAtPush = orch.State()
		mu.Unlock()
		return Result{Target: target, Digest: goodDigest, Succeeded: true}
	}}

	_, err := orch.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StateTagged, stateAtPush, "pushes run only after a real build produced an image")
	assert.Equal(t, StateDone, orch.State())
}

func TestRunDigestMismatchFailsOnlyItsVariant(t *testing.T) {
	pusher := &fakeTargetPusher{push: func(ctx context.Context, session Session, localRef string, built digest.Digest, target Target) Result {
		if target.Tag == "rag-debug" {
			return Result{Target: target, Err: &DigestMismatchError{Target: target, Expected: goodDigest, Actual: evilDigest}}
		}
		return Result{Target: target, Digest: goodDigest, Succeeded: true}
	}}
	orch := newTestOrchestrator(orchConfig(), goodSource(), &fakeAuth{}, &fakeBuilder{}, pusher)

	sum, err := orch.Run(context.Background(), nil)

	var mismatch *DigestMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, ExitDigest, ExitCode(err))
	assert.Equal(t, StagePush, orch.FailedStage())

	require.Len(t, sum.Failed(), 1)
	assert.Equal(t, "debug", sum.Failed()[0].Variant)
	require.Len(t, sum.Published(), 1)
	assert.Equal(t, "debug-with-ollama", sum.Published()[0].Variant)
}

func TestRunCancellationSplitsOutcomes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pusher := &fakeTargetPusher{push: func(ctx context.Context, session Session, localRef string, built digest.Digest, target Target) Result {
		if target.Tag == "rag-debug-with-ollama" {
			cancel()
			<-ctx.Done()
			return Result{Target: target, Cancelled: true, Err: ctx.Err()}
		}
		return Result{Target: target, Digest: goodDigest, Succeeded: true}
	}}
	orch := newTestOrchestrator(orchConfig(), goodSource(), &fakeAuth{}, &fakeBuilder{}, pusher)

	sum, err := orch.Run(ctx, nil)
	require.Error(t, err)

	assert.False(t, sum.OK())
	published := sum.Published()
	cancelled := sum.Cancelled()
	require.Len(t, published, 1)
	require.Len(t, cancelled, 1)
	assert.Equal(t, "debug", published[0].Variant)
	assert.Equal(t, "debug-with-ollama", cancelled[0].Variant)
}

func TestRunGatesVariantsByBranch(t *testing.T) {
	cfg := orchConfig()
	cfg.Variants[1].Branches = []string{"release/*"}

	builder := &fakeBuilder{}
	orch := newTestOrchestrator(cfg, goodSource(), &fakeAuth{}, builder, &fakeTargetPusher{})

	sum, err := orch.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"debug"}, builder.built, "debug-with-ollama is gated to release branches")
	assert.Len(t, sum.Variants, 1)
}

func TestRunNoVariantsForBranch(t *testing.T) {
	cfg := orchConfig()
	for i := range cfg.Variants {
		cfg.Variants[i].Branches = []string{"release/*"}
	}

	orch := newTestOrchestrator(cfg, goodSource(), &fakeAuth{}, &fakeBuilder{}, &fakeTargetPusher{})

	_, err := orch.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, StageConfig, orch.FailedStage())
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"generic", errors.New("boom"), ExitFailure},
		{"credential missing", &credential.MissingError{Field: "token"}, ExitConfig},
		{"unknown variant", &UnknownVariantError{Variant: "x"}, ExitConfig},
		{"auth", &registry.AuthError{Server: "ghcr.io", StatusCode: 403}, ExitAuth},
		{"build", &build.Error{Variant: "debug", ExitCode: 1}, ExitBuild},
		{"push", &PushError{Target: testTarget(), Reason: errors.New("reset")}, ExitPush},
		{"digest", &DigestMismatchError{Target: testTarget(), Expected: goodDigest, Actual: evilDigest}, ExitDigest},
		{"timeout", &TimeoutError{Stage: StagePush}, ExitTimeout},
		{"auth timeout", &TimeoutError{Stage: StageAuth}, ExitTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}
