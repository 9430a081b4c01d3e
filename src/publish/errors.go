package publish

import (
	"errors"
	"fmt"

	"github.com/opencontainers/go-digest"

	"github.com/henn-dt/stevedore/src/build"
	"github.com/henn-dt/stevedore/src/credential"
	"github.com/henn-dt/stevedore/src/registry"
)

// Stage names the pipeline stage an error originated from.
type Stage string

const (
	StageConfig Stage = "config"
	StageAuth   Stage = "auth"
	StageBuild  Stage = "build"
	StageTag    Stage = "tag"
	StagePush   Stage = "push"
)

// UnknownVariantError reports a requested variant that matches no configured
// naming convention. Caught before any network activity.
type UnknownVariantError struct {
	Variant string
}

func (e *UnknownVariantError) Error() string {
	return fmt.Sprintf("unknown variant %q", e.Variant)
}

// PushError reports a failed push. Pushes fail for transient reasons
// (network, registry load), so they are eligible for bounded retry.
type PushError struct {
	Target Target
	Reason error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("pushing %s: %v", e.Target.Ref(), e.Reason)
}

func (e *PushError) Unwrap() error { return e.Reason }

// DigestMismatchError reports a push whose stored manifest digest does not
// match what the engine pushed. Not retryable — it signals a corrupted or
// tampered push and must surface loudly.
type DigestMismatchError struct {
	Target   Target
	Expected digest.Digest
	Actual   digest.Digest
}

func (e *DigestMismatchError) Error() string {
	return fmt.Sprintf("digest mismatch for %s: pushed %s, registry has %s",
		e.Target.Ref(), e.Expected, e.Actual)
}

// TimeoutError reports a stage that exceeded its deadline. Never treated as
// success.
type TimeoutError struct {
	Stage Stage
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s stage timed out", e.Stage)
}

// Process exit codes, one per failure category, for scripting integration.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitConfig  = 2
	ExitAuth    = 3
	ExitBuild   = 4
	ExitPush    = 5
	ExitDigest  = 6
	ExitTimeout = 7
)

// ExitCode maps an error to its process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var (
		credMissing *credential.MissingError
		credInvalid *credential.InvalidError
		authErr     *registry.AuthError
		buildErr    *build.Error
		variantErr  *UnknownVariantError
		digestErr   *DigestMismatchError
		pushErr     *PushError
		timeoutErr  *TimeoutError
	)

	switch {
	case errors.As(err, &credMissing), errors.As(err, &credInvalid), errors.As(err, &variantErr):
		return ExitConfig
	case errors.As(err, &authErr):
		return ExitAuth
	case errors.As(err, &buildErr):
		return ExitBuild
	case errors.As(err, &digestErr):
		return ExitDigest
	case errors.As(err, &timeoutErr):
		return ExitTimeout
	case errors.As(err, &pushErr):
		return ExitPush
	default:
		return ExitFailure
	}
}
