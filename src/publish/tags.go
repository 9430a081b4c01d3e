package publish

import (
	"fmt"
	"strings"

	"github.com/henn-dt/stevedore/src/build"
	"github.com/henn-dt/stevedore/src/config"
)

// ResolveTarget computes the single destination target for a variant. It is
// a pure function of its inputs: identical inputs yield identical output.
//
// The tag comes from the variant's configured template when set, otherwise
// from the fixed convention: "{base}" for the variant named "default",
// "{base}-<name>" for everything else. Templates expand {base} plus the
// version fields from v (nil v leaves version fields untouched only when the
// template never references them — a referenced-but-unknown field is an
// error, not a silent passthrough).
func ResolveTarget(cfg *config.Config, variant string, v *build.VersionInfo) (Target, error) {
	vc, ok := cfg.Variant(variant)
	if !ok {
		return Target{}, &UnknownVariantError{Variant: variant}
	}

	tmpl := vc.Tag
	if tmpl == "" {
		if vc.Name == "default" {
			tmpl = "{base}"
		} else {
			tmpl = "{base}-" + vc.Name
		}
	}

	tag, err := expandTag(tmpl, cfg.BaseTag, v)
	if err != nil {
		return Target{}, fmt.Errorf("variant %q: %w", variant, err)
	}
	if !ValidTag(tag) {
		return Target{}, fmt.Errorf("variant %q: resolved tag %q is not a valid tag token", variant, tag)
	}

	return Target{
		Registry:   cfg.Registry,
		Repository: cfg.Repository,
		Tag:        tag,
	}, nil
}

// ResolveAll resolves targets for every named variant and rejects tag
// collisions between variants. Runs before any network activity.
func ResolveAll(cfg *config.Config, variants []string, v *build.VersionInfo) (map[string]Target, error) {
	targets := make(map[string]Target, len(variants))
	byTag := make(map[string]string, len(variants))

	for _, name := range variants {
		target, err := ResolveTarget(cfg, name, v)
		if err != nil {
			return nil, err
		}
		if other, dup := byTag[target.Tag]; dup {
			return nil, fmt.Errorf("variants %q and %q both resolve to tag %q", other, name, target.Tag)
		}
		byTag[target.Tag] = name
		targets[name] = target
	}

	return targets, nil
}

// expandTag substitutes template fields into a tag template.
func expandTag(tmpl, base string, v *build.VersionInfo) (string, error) {
	tag := strings.ReplaceAll(tmpl, "{base}", base)

	fields := map[string]string{}
	if v != nil {
		fields = map[string]string{
			"{version}": v.Version,
			"{major}":   v.Major,
			"{minor}":   v.Minor,
			"{patch}":   v.Patch,
			"{branch}":  sanitizeTag(v.Branch),
			"{sha}":     v.SHA,
		}
	}
	for field, value := range fields {
		tag = strings.ReplaceAll(tag, field, value)
	}

	if i := strings.IndexByte(tag, '{'); i >= 0 {
		return "", fmt.Errorf("tag template %q references unresolved field", tmpl)
	}
	return tag, nil
}

// sanitizeTag replaces characters not allowed in registry tags.
func sanitizeTag(s string) string {
	r := strings.NewReplacer(
		"/", "-",
		" ", "-",
	)
	return r.Replace(s)
}
