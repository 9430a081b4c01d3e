// Package config loads and validates the stevedore publish configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Default config files, tried in order when no path is given.
var defaultConfigFiles = []string{".stevedore.yml", ".stevedore.yaml", ".stevedore.toml"}

// Config is the top-level stevedore configuration.
type Config struct {
	// Registry is the destination registry host (e.g. "ghcr.io").
	Registry string `yaml:"registry" toml:"registry"`

	// Repository is the image path within the registry (e.g. "henn-dt/open-webui").
	Repository string `yaml:"repository" toml:"repository"`

	// BaseTag is the {base} value tag templates expand against.
	BaseTag string `yaml:"base_tag" toml:"base_tag"`

	// Platforms is the default platform set for variants that declare none.
	Platforms []string `yaml:"platforms" toml:"platforms"`

	// Credentials is the env var prefix for registry auth
	// (e.g. "GHCR" → GHCR_USER / GHCR_TOKEN / GHCR_EMAIL).
	Credentials string `yaml:"credentials" toml:"credentials"`

	// Email is the fallback pull-secret email when <PREFIX>_EMAIL is unset.
	Email string `yaml:"email" toml:"email"`

	Dockerfile string `yaml:"dockerfile" toml:"dockerfile"`
	Context    string `yaml:"context" toml:"context"`
	Target     string `yaml:"target" toml:"target"`

	ConcurrencyLimit    int `yaml:"concurrency_limit" toml:"concurrency_limit"`
	PushTimeoutSeconds  int `yaml:"push_timeout_seconds" toml:"push_timeout_seconds"`
	BuildTimeoutSeconds int `yaml:"build_timeout_seconds" toml:"build_timeout_seconds"`
	LoginTimeoutSeconds int `yaml:"login_timeout_seconds" toml:"login_timeout_seconds"`
	RetryAttempts       int `yaml:"retry_attempts" toml:"retry_attempts"`

	Variants []Variant    `yaml:"variants" toml:"variants"`
	Deploy   DeployConfig `yaml:"deploy" toml:"deploy"`
}

// Variant is a named build configuration.
type Variant struct {
	Name string `yaml:"name" toml:"name"`

	// Tag is the destination tag template for this variant. Empty means the
	// convention applies: "{base}" for the variant named "default",
	// "{base}-<name>" otherwise. Templates may use {base}, {version},
	// {major}, {minor}, {patch}, {branch}, {sha}.
	Tag string `yaml:"tag" toml:"tag"`

	BuildArgs map[string]string `yaml:"build_args" toml:"build_args"`

	// Platforms overrides the top-level platform set when non-empty.
	Platforms []string `yaml:"platforms" toml:"platforms"`

	// Branches gates this variant to matching branches.
	// Standard pattern syntax: regex, literal, or !negated. Empty = always.
	Branches []string `yaml:"branches" toml:"branches"`
}

// EffectivePlatforms returns the variant's platform set, falling back to the
// top-level default.
func (c *Config) EffectivePlatforms(v Variant) []string {
	if len(v.Platforms) > 0 {
		return v.Platforms
	}
	return c.Platforms
}

// DeployConfig configures the rendered Kubernetes pull-secret and deployment
// fragment. Stevedore renders these as data; it never applies them.
type DeployConfig struct {
	SecretName string `yaml:"secret_name" toml:"secret_name"`
	Namespace  string `yaml:"namespace" toml:"namespace"`
	Deployment string `yaml:"deployment" toml:"deployment"`
	Container  string `yaml:"container" toml:"container"`
}

// Load reads configuration from a YAML or TOML file (chosen by extension).
// If path is empty, the default files are tried in order. A missing file
// yields defaults only.
func Load(path string) (*Config, error) {
	if path == "" {
		for _, candidate := range defaultConfigFiles {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
		if path == "" {
			return defaults(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return defaults(), nil
		}
		return nil, err
	}

	cfg := defaults()
	switch filepath.Ext(path) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Context:             ".",
		ConcurrencyLimit:    2,
		PushTimeoutSeconds:  300,
		BuildTimeoutSeconds: 1800,
		LoginTimeoutSeconds: 60,
		RetryAttempts:       3,
		Deploy: DeployConfig{
			Namespace: "default",
		},
	}
}
