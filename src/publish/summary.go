package publish

import (
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/henn-dt/stevedore/src/build"
)

// Terminal statuses for a variant in the run summary.
const (
	StatusPublished = "published"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusPending   = "pending"
)

// VariantOutcome is one variant's terminal state in the summary.
type VariantOutcome struct {
	Variant       string        `json:"variant"`
	Platforms     []string      `json:"platforms"`
	Target        string        `json:"target,omitempty"`
	Digest        string        `json:"digest,omitempty"`
	Status        string        `json:"status"`
	Error         string        `json:"error,omitempty"`
	BuildDuration time.Duration `json:"build_duration_ns,omitempty"`

	err error
}

func (vo *VariantOutcome) markPublished(digest string) {
	vo.Status = StatusPublished
	vo.Digest = digest
}

func (vo *VariantOutcome) markFailed(err error) {
	vo.Status = StatusFailed
	vo.err = err
	vo.Error = err.Error()
}

func (vo *VariantOutcome) markCancelled(err error) {
	vo.Status = StatusCancelled
	vo.err = err
	if err != nil {
		vo.Error = err.Error()
	}
}

// Summary enumerates every variant's terminal outcome for a run. No
// per-variant failure is ever dropped.
type Summary struct {
	Variants []*VariantOutcome `json:"variants"`
	Duration time.Duration     `json:"duration_ns"`
}

func (s *Summary) addVariant(name string, platforms []string) *VariantOutcome {
	vo := &VariantOutcome{
		Variant:   name,
		Platforms: platforms,
		Status:    StatusPending,
	}
	s.Variants = append(s.Variants, vo)
	return vo
}

func (s *Summary) variant(name string) *VariantOutcome {
	for _, vo := range s.Variants {
		if vo.Variant == name {
			return vo
		}
	}
	return s.addVariant(name, nil)
}

// Published returns the variants that reached the registry, digest-verified.
func (s *Summary) Published() []*VariantOutcome { return s.withStatus(StatusPublished) }

// Failed returns the variants with a terminal failure.
func (s *Summary) Failed() []*VariantOutcome { return s.withStatus(StatusFailed) }

// Cancelled returns the variants interrupted by operator abort.
func (s *Summary) Cancelled() []*VariantOutcome { return s.withStatus(StatusCancelled) }

func (s *Summary) withStatus(status string) []*VariantOutcome {
	var out []*VariantOutcome
	for _, vo := range s.Variants {
		if vo.Status == status {
			out = append(out, vo)
		}
	}
	return out
}

// OK reports whether every variant published.
func (s *Summary) OK() bool {
	for _, vo := range s.Variants {
		if vo.Status != StatusPublished {
			return false
		}
	}
	return len(s.Variants) > 0
}

// Err returns the run's representative error: the most severe per-variant
// failure (integrity first, then deterministic build failures, then
// timeouts, then transient push failures), or a cancellation error when the
// run was aborted. Nil when every variant published.
func (s *Summary) Err() error {
	if s.OK() {
		return nil
	}

	var firstFailed, firstCancelled error
	var buildFailure, timeout, push error
	for _, vo := range s.Variants {
		switch vo.Status {
		case StatusFailed:
			if firstFailed == nil {
				firstFailed = vo.err
			}
			var digestErr *DigestMismatchError
			if errors.As(vo.err, &digestErr) {
				return vo.err
			}
			classifyFailure(vo.err, &buildFailure, &timeout, &push)
		case StatusCancelled:
			if firstCancelled == nil {
				firstCancelled = vo.err
			}
		}
	}

	switch {
	case buildFailure != nil:
		return buildFailure
	case timeout != nil:
		return timeout
	case push != nil:
		return push
	case firstFailed != nil:
		return firstFailed
	default:
		return firstCancelled
	}
}

// classifyFailure buckets a variant failure for Err's precedence order,
// keeping the first error seen in each bucket.
func classifyFailure(err error, buildFailure, timeout, push *error) {
	var (
		buildErr   *build.Error
		timeoutErr *TimeoutError
		pushErr    *PushError
	)
	switch {
	case errors.As(err, &buildErr):
		if *buildFailure == nil {
			*buildFailure = err
		}
	case errors.As(err, &timeoutErr):
		if *timeout == nil {
			*timeout = err
		}
	case errors.As(err, &pushErr):
		if *push == nil {
			*push = err
		}
	}
}

// WriteJSON emits the machine-parseable summary.
func (s *Summary) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
