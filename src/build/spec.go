package build

import (
	"fmt"
	"sort"
	"time"

	"github.com/opencontainers/go-digest"
)

// Spec is a single resolved build invocation: one variant, one platform set.
type Spec struct {
	Variant    string
	Dockerfile string
	Context    string
	Target     string
	Platforms  []string
	BuildArgs  map[string]string

	// LocalRef is the image reference the build is tagged with. Loaded
	// builds use a daemon-local name (e.g. "stevedore/open-webui:debug");
	// pushed builds carry the destination reference itself.
	LocalRef string

	// Load loads the result into the daemon so it can be re-tagged and
	// pushed explicitly. Multi-platform builds cannot load.
	Load bool

	// Push pushes the result straight from the builder. Multi-platform
	// images never enter the daemon, so build-time push is the only way
	// they reach the registry.
	Push bool
}

// MultiPlatform reports whether the spec targets more than one platform.
func (s Spec) MultiPlatform() bool { return len(s.Platforms) > 1 }

// Outcome captures a successful build: the local reference and the digest
// the engine reported.
type Outcome struct {
	Variant  string
	ImageRef string
	Digest   digest.Digest
	Duration time.Duration
}

// Error reports a failed engine invocation. Build failures are deterministic
// given the same inputs, so callers must not retry automatically.
type Error struct {
	Variant    string
	ExitCode   int
	StderrTail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("build of variant %q failed (exit %d)", e.Variant, e.ExitCode)
}

// sortedKeys returns map keys in stable order, so generated argument lists
// are deterministic.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
