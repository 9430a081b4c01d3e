package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/henn-dt/stevedore/src/build"
	"github.com/henn-dt/stevedore/src/config"
	"github.com/henn-dt/stevedore/src/credential"
	"github.com/henn-dt/stevedore/src/logger"
)

// State is the orchestrator's position in the publish pipeline.
type State string

const (
	StateIdle          State = "idle"
	StateAuthenticated State = "authenticated"
	StateBuilt         State = "built"
	StateTagged        State = "tagged"
	StatePublished     State = "published"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// Builder is the build-invoker half the orchestrator depends on. pushRef is
// the variant's resolved destination; multi-platform builds push to it
// directly from the builder.
type Builder interface {
	Prepare(ctx context.Context) error
	Build(ctx context.Context, v config.Variant, pushRef string) (*build.Outcome, error)
}

// TargetPusher makes one resolved target available through the shared
// session. built is the digest the builder reported, when it pushed itself.
type TargetPusher interface {
	Push(ctx context.Context, session Session, localRef string, built digest.Digest, target Target) Result
}

// Orchestrator sequences the publish pipeline:
// authenticate → build per variant → resolve tags → push per target → done.
// It owns the session-scoped credential and the ordered results; no other
// component retains state across calls. There is no cross-stage recovery —
// each stage's own retry policy is the only retry boundary.
type Orchestrator struct {
	cfg     *config.Config
	source  credential.Source
	auth    Authenticator
	builder Builder
	pusher  TargetPusher
	version *build.VersionInfo

	state       State
	failedStage Stage
}

// NewOrchestrator wires an orchestrator. version may be nil outside a git
// repository.
func NewOrchestrator(cfg *config.Config, source credential.Source, auth Authenticator, builder Builder, pusher TargetPusher, version *build.VersionInfo) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		source:  source,
		auth:    auth,
		builder: builder,
		pusher:  pusher,
		version: version,
		state:   StateIdle,
	}
}

// State returns the current pipeline state.
func (o *Orchestrator) State() State { return o.state }

// FailedStage returns the stage a failed run stopped in.
func (o *Orchestrator) FailedStage() Stage { return o.failedStage }

// Run executes the pipeline for the selected variants (all configured
// variants when only is empty). The returned summary enumerates every
// variant's terminal outcome; the returned error is the run's representative
// failure, nil when every variant published.
func (o *Orchestrator) Run(ctx context.Context, only []string) (*Summary, error) {
	start := time.Now()
	sum := &Summary{}
	defer func() { sum.Duration = time.Since(start) }()

	variants, err := o.selectVariants(only)
	if err != nil {
		return sum, o.fail(StageConfig, err)
	}

	// Tag resolution is pure — run it before credentials, builds, or any
	// network traffic so configuration mistakes fail fast.
	names := make([]string, len(variants))
	for i, v := range variants {
		names[i] = v.Name
	}
	targets, err := ResolveAll(o.cfg, names, o.version)
	if err != nil {
		return sum, o.fail(StageTag, err)
	}

	cred, err := o.source.Resolve()
	if err != nil {
		return sum, o.fail(StageConfig, err)
	}

	loginCtx := ctx
	if o.cfg.LoginTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		loginCtx, cancel = context.WithTimeout(ctx, time.Duration(o.cfg.LoginTimeoutSeconds)*time.Second)
		defer cancel()
	}
	session, err := o.auth.Login(loginCtx, cred)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = &TimeoutError{Stage: StageAuth}
		}
		return sum, o.fail(StageAuth, err)
	}
	o.state = StateAuthenticated
	logger.Log.Info().Str("registry", o.cfg.Registry).Msg("authenticated")

	if err := o.builder.Prepare(ctx); err != nil {
		return sum, o.fail(StageBuild, err)
	}

	// State only advances past Authenticated when at least one build
	// actually produced an image.
	outcomes := o.buildAll(ctx, variants, targets, sum)
	if len(outcomes) > 0 {
		o.state = StateBuilt
	}

	// Record targets for every variant, built or not, so a summary row
	// always names its destination.
	for i := range sum.Variants {
		if target, ok := targets[sum.Variants[i].Variant]; ok {
			sum.Variants[i].Target = target.Ref()
		}
	}
	if len(outcomes) > 0 {
		o.state = StateTagged
	}

	o.pushAll(ctx, session, variants, targets, outcomes, sum)
	if len(sum.Published()) > 0 {
		o.state = StatePublished
	}

	if err := sum.Err(); err != nil {
		o.state = StateFailed
		o.failedStage = stageOf(err)
		return sum, err
	}

	o.state = StateDone
	return sum, nil
}

// selectVariants returns the run's variant set: the named subset when only
// is non-empty, otherwise every configured variant passing its branch gate.
func (o *Orchestrator) selectVariants(only []string) ([]config.Variant, error) {
	if len(only) > 0 {
		selected := make([]config.Variant, 0, len(only))
		for _, name := range only {
			v, ok := o.cfg.Variant(name)
			if !ok {
				return nil, &UnknownVariantError{Variant: name}
			}
			selected = append(selected, v)
		}
		return selected, nil
	}

	branch := ""
	if o.version != nil {
		branch = o.version.Branch
	}

	var selected []config.Variant
	for _, v := range o.cfg.Variants {
		if !config.MatchPatterns(v.Branches, branch) {
			logger.Log.Debug().Str("variant", v.Name).Str("branch", branch).Msg("variant gated off for branch")
			continue
		}
		selected = append(selected, v)
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("no variants selected for branch %q", branch)
	}
	return selected, nil
}

// buildAll builds every variant, bounded by the configured concurrency
// limit. A failed build marks its variant failed and does not stop the
// others; a cancelled run marks unfinished variants cancelled.
func (o *Orchestrator) buildAll(ctx context.Context, variants []config.Variant, targets map[string]Target, sum *Summary) map[string]*build.Outcome {
	sem := semaphore.NewWeighted(int64(o.cfg.ConcurrencyLimit))

	var mu sync.Mutex
	outcomes := make(map[string]*build.Outcome, len(variants))

	var wg sync.WaitGroup
	for _, v := range variants {
		row := sum.addVariant(v.Name, o.cfg.EffectivePlatforms(v))

		wg.Add(1)
		go func(v config.Variant, row *VariantOutcome) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				mu.Lock()
				row.markCancelled(err)
				mu.Unlock()
				return
			}
			defer sem.Release(1)

			out, err := o.builder.Build(ctx, v, targets[v.Name].Ref())
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ctx.Err() != nil && !errors.Is(err, context.DeadlineExceeded) {
					row.markCancelled(err)
					return
				}
				if errors.Is(err, context.DeadlineExceeded) {
					err = &TimeoutError{Stage: StageBuild}
				}
				row.markFailed(err)
				logger.Log.Error().Str("variant", v.Name).Err(err).Msg("build failed")
				return
			}
			outcomes[v.Name] = out
			row.BuildDuration = out.Duration
		}(v, row)
	}
	wg.Wait()

	return outcomes
}

// pushAll pushes each built variant's target concurrently through the shared
// session. Pushes to the same target are serialized so digest verification
// is never ambiguous.
func (o *Orchestrator) pushAll(ctx context.Context, session Session, variants []config.Variant, targets map[string]Target, outcomes map[string]*build.Outcome, sum *Summary) {
	locks := make(map[string]*sync.Mutex, len(targets))
	for _, t := range targets {
		locks[t.Ref()] = &sync.Mutex{}
	}

	var mu sync.Mutex
	g := new(errgroup.Group)

	for _, v := range variants {
		out, built := outcomes[v.Name]
		if !built {
			continue // build already recorded this variant's terminal state
		}
		target := targets[v.Name]
		row := sum.variant(v.Name)

		g.Go(func() error {
			lock := locks[target.Ref()]
			lock.Lock()
			defer lock.Unlock()

			result := o.pusher.Push(ctx, session, out.ImageRef, out.Digest, target)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case result.Succeeded:
				row.markPublished(result.Digest.String())
			case result.Cancelled:
				row.markCancelled(result.Err)
			default:
				row.markFailed(result.Err)
				logger.Log.Error().Str("target", target.Ref()).Err(result.Err).Msg("push failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// fail records a terminal failure for fail-stop stages (config, auth).
func (o *Orchestrator) fail(stage Stage, err error) error {
	o.state = StateFailed
	o.failedStage = stage
	return err
}

// stageOf maps a representative error back to its pipeline stage.
func stageOf(err error) Stage {
	var (
		buildErr   *build.Error
		digestErr  *DigestMismatchError
		pushErr    *PushError
		timeoutErr *TimeoutError
	)
	switch {
	case errors.As(err, &buildErr):
		return StageBuild
	case errors.As(err, &digestErr), errors.As(err, &pushErr):
		return StagePush
	case errors.As(err, &timeoutErr):
		return timeoutErr.Stage
	default:
		return StagePush
	}
}
