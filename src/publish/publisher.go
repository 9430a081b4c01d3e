package publish

import (
	"context"
	"errors"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/henn-dt/stevedore/src/logger"
)

// Pusher is the engine-side half of a push: re-tag a local image and push a
// reference, returning the digest the daemon reports.
type Pusher interface {
	Tag(ctx context.Context, src, dst string) error
	Push(ctx context.Context, ref string) (digest.Digest, error)
}

// Session resolves what the registry actually stored under a reference.
// Satisfied by *registry.Session.
type Session interface {
	ResolveDigest(ctx context.Context, ref string) (digest.Digest, error)
}

// Publisher pushes resolved targets and confirms each push against the
// registry. Push failures and per-attempt timeouts are transient and retried
// with exponential backoff; digest mismatches are not.
type Publisher struct {
	engine   Pusher
	attempts int
	timeout  time.Duration

	// backoff is the first retry delay; it doubles per attempt.
	// Overridable in tests.
	backoff time.Duration
}

// NewPublisher creates a Publisher. attempts is the total push budget per
// target (minimum 1).
func NewPublisher(engine Pusher, attempts int, timeout time.Duration) *Publisher {
	if attempts < 1 {
		attempts = 1
	}
	return &Publisher{
		engine:   engine,
		attempts: attempts,
		timeout:  timeout,
		backoff:  2 * time.Second,
	}
}

// Push makes target available in the registry and confirms the stored
// manifest digest. For loaded builds it tags localRef as target and pushes;
// when built is non-empty and localRef already names the target (the builder
// pushed the multi-platform image itself), only registry verification runs.
// Exactly one Result is produced per target regardless of how many attempts
// were needed. A per-attempt timeout consumes an attempt like any other
// transient failure; the error surfaces only once the budget is exhausted.
func (p *Publisher) Push(ctx context.Context, session Session, localRef string, built digest.Digest, target Target) Result {
	var lastErr error

	for attempt := 1; attempt <= p.attempts; attempt++ {
		if attempt > 1 {
			delay := p.backoff << (attempt - 2)
			logger.Log.Debug().Str("target", target.Ref()).Int("attempt", attempt).Dur("delay", delay).Msg("retrying push")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return cancelledResult(target, ctx.Err())
			}
		}

		result := p.pushOnce(ctx, session, localRef, built, target)
		if result.Succeeded || result.Cancelled {
			return result
		}

		// Mismatch signals an integrity problem, not a flaky network.
		var mismatch *DigestMismatchError
		if errors.As(result.Err, &mismatch) {
			return result
		}

		lastErr = result.Err
	}

	return Result{Target: target, Err: lastErr}
}

// pushOnce performs a single tag/push/verify round trip under the push
// timeout.
func (p *Publisher) pushOnce(parent context.Context, session Session, localRef string, built digest.Digest, target Target) Result {
	ctx := parent
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, p.timeout)
		defer cancel()
	}

	ref := target.Ref()

	pushed := built
	switch {
	case localRef != "" && localRef != ref:
		if err := p.engine.Tag(ctx, localRef, ref); err != nil {
			return p.classify(parent, target, err)
		}
		var err error
		pushed, err = p.engine.Push(ctx, ref)
		if err != nil {
			return p.classify(parent, target, err)
		}
	case built == "":
		var err error
		pushed, err = p.engine.Push(ctx, ref)
		if err != nil {
			return p.classify(parent, target, err)
		}
	default:
		// The builder already pushed this exact reference and reported
		// its digest; nothing to tag or push, only verify.
	}

	stored, err := session.ResolveDigest(ctx, ref)
	if err != nil {
		return p.classify(parent, target, err)
	}

	if stored != pushed {
		return Result{
			Target: target,
			Err:    &DigestMismatchError{Target: target, Expected: pushed, Actual: stored},
		}
	}

	return Result{Target: target, Digest: stored, Succeeded: true}
}

// classify separates operator cancellation and deadline expiry from
// transient push failures. A caller-level deadline is a hard push timeout;
// cancellation without a deadline is an operator abort.
func (p *Publisher) classify(parent context.Context, target Target, err error) Result {
	if parent.Err() != nil {
		if errors.Is(parent.Err(), context.DeadlineExceeded) {
			return Result{Target: target, Err: &TimeoutError{Stage: StagePush}}
		}
		return cancelledResult(target, parent.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Result{Target: target, Err: &TimeoutError{Stage: StagePush}}
	}
	return Result{Target: target, Err: &PushError{Target: target, Reason: err}}
}

func cancelledResult(target Target, err error) Result {
	return Result{Target: target, Cancelled: true, Err: err}
}
