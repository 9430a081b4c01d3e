package config

import (
	"regexp"
	"strings"
)

// MatchPatterns evaluates a list of patterns against a value (OR logic).
// Any pattern matching means the value is allowed.
// Empty list = always allowed (no filter).
// Supports ! negation — a negated pattern excludes even if others include.
//
// Evaluation: exclude patterns (!) are checked first. If any exclude matches,
// the value is rejected. Then include patterns are checked — if any matches,
// the value is allowed. If only exclude patterns exist and none matched,
// the value is allowed (exclude-only = allowlist by negation).
func MatchPatterns(patterns []string, value string) bool {
	if len(patterns) == 0 {
		return true
	}

	var includes []string
	var excludes []string
	for _, p := range patterns {
		if strings.HasPrefix(p, "!") {
			excludes = append(excludes, p[1:])
		} else {
			includes = append(includes, p)
		}
	}

	// Excludes checked first — any exclude match = rejected
	for _, p := range excludes {
		re, err := regexp.Compile(p)
		if err != nil {
			if p == value {
				return false
			}
			continue
		}
		if re.MatchString(value) {
			return false
		}
	}

	// No includes = exclude-only mode (everything not excluded is allowed)
	if len(includes) == 0 {
		return true
	}

	// Any include match = allowed
	for _, p := range includes {
		re, err := regexp.Compile(p)
		if err != nil {
			if p == value {
				return true
			}
			continue
		}
		if re.MatchString(value) {
			return true
		}
	}

	return false
}
