package config

import (
	"fmt"
	"net"
	"strings"
)

// Validate checks the configuration for problems that must fail fast —
// before any build or network activity happens.
func (c *Config) Validate() error {
	if c.Registry == "" {
		return fmt.Errorf("config: registry is required")
	}
	if strings.Contains(c.Registry, "://") {
		return fmt.Errorf("config: registry %q must be a host, not a URL", c.Registry)
	}
	host := c.Registry
	if h, _, err := net.SplitHostPort(c.Registry); err == nil {
		host = h
	}
	if strings.ContainsAny(host, " /\\@") {
		return fmt.Errorf("config: registry %q is not a well-formed host", c.Registry)
	}

	if c.Repository == "" {
		return fmt.Errorf("config: repository is required")
	}
	if len(c.Variants) == 0 {
		return fmt.Errorf("config: at least one variant is required")
	}
	if c.ConcurrencyLimit < 1 {
		return fmt.Errorf("config: concurrency_limit must be >= 1")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("config: retry_attempts must be >= 1")
	}
	if c.PushTimeoutSeconds < 1 {
		return fmt.Errorf("config: push_timeout_seconds must be >= 1")
	}
	if c.BuildTimeoutSeconds < 1 {
		return fmt.Errorf("config: build_timeout_seconds must be >= 1")
	}
	if c.LoginTimeoutSeconds < 1 {
		return fmt.Errorf("config: login_timeout_seconds must be >= 1")
	}

	seen := make(map[string]bool, len(c.Variants))
	for _, v := range c.Variants {
		if v.Name == "" {
			return fmt.Errorf("config: variant with empty name")
		}
		if seen[v.Name] {
			return fmt.Errorf("config: duplicate variant name %q", v.Name)
		}
		seen[v.Name] = true

		if len(c.EffectivePlatforms(v)) == 0 {
			return fmt.Errorf("config: variant %q has no platforms and no top-level default", v.Name)
		}
	}

	return nil
}

// Variant returns the named variant, or false if not configured.
func (c *Config) Variant(name string) (Variant, bool) {
	for _, v := range c.Variants {
		if v.Name == name {
			return v, true
		}
	}
	return Variant{}, false
}
