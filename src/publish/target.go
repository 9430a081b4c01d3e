// Package publish orchestrates the publish pipeline: resolve tags, build
// each variant, push every target through one shared registry session, and
// verify digests. It sequences the collaborators; the engine and registry
// packages do the actual work.
package publish

import (
	"fmt"
	"regexp"

	"github.com/opencontainers/go-digest"
)

// Target is a fully resolved push destination.
type Target struct {
	Registry   string
	Repository string
	Tag        string
}

// Ref returns the full image reference for the target.
func (t Target) Ref() string {
	return fmt.Sprintf("%s/%s:%s", t.Registry, t.Repository, t.Tag)
}

// tagRe is the registry tag grammar: alphanumeric or underscore first, then
// alphanumeric plus . _ - up to 128 characters total.
var tagRe = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9._-]{0,127}$`)

// ValidTag reports whether s is a well-formed registry tag token.
func ValidTag(s string) bool {
	return tagRe.MatchString(s)
}

// Result is the immutable outcome of one push attempt chain for a target.
type Result struct {
	Target    Target
	Digest    digest.Digest
	Succeeded bool
	Cancelled bool
	Err       error
}
