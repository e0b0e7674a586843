package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/wippyai/spin-shim/errors"
)

// DefaultVariablesPrefix is the env prefix used when runtime config names no
// env provider.
const DefaultVariablesPrefix = "SPIN_VARIABLE"

// RuntimeConfig is the subset of runtime-config.toml the shim acts on.
type RuntimeConfig struct {
	Path              string
	VariablesProvider []VariablesProvider
	// Undecoded lists top-level keys present in the file but not used.
	Undecoded []string
}

// VariablesProvider describes one [[variables_provider]] table.
type VariablesProvider struct {
	Type   string `toml:"type"`
	Prefix string `toml:"prefix"`
}

type runtimeFile struct {
	VariablesProvider []VariablesProvider `toml:"variables_provider"`
}

// LoadRuntimeConfig reads path if it exists. A missing file yields
// (nil, nil): the runtime config is optional.
func LoadRuntimeConfig(path string) (*RuntimeConfig, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.New(errors.PhaseConfig, errors.KindIO).
			Path(path).Detail("stat runtime config").Cause(err).Build()
	}

	var raw runtimeFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidData).
			Path(path).Detail("parse runtime config").Cause(err).Build()
	}

	rc := &RuntimeConfig{Path: path}
	for _, p := range raw.VariablesProvider {
		p.Type = strings.TrimSpace(p.Type)
		if p.Type == "" {
			return nil, errors.New(errors.PhaseConfig, errors.KindInvalidData).
				Path(path).Detail("variables_provider entry without type").Build()
		}
		rc.VariablesProvider = append(rc.VariablesProvider, p)
	}

	seen := make(map[string]bool)
	for _, key := range meta.Undecoded() {
		top := key[0]
		if !seen[top] {
			seen[top] = true
			rc.Undecoded = append(rc.Undecoded, top)
		}
	}
	return rc, nil
}

// VariablePrefixes returns the env prefixes variables are resolved from, in
// priority order. Unknown provider types are reported, not fatal.
func (rc *RuntimeConfig) VariablePrefixes() (prefixes []string, ignored []string) {
	if rc != nil {
		for _, p := range rc.VariablesProvider {
			if p.Type != "env" {
				ignored = append(ignored, fmt.Sprintf("variables_provider type %q", p.Type))
				continue
			}
			prefix := p.Prefix
			if prefix == "" {
				prefix = DefaultVariablesPrefix
			}
			prefixes = append(prefixes, prefix)
		}
	}
	if len(prefixes) == 0 {
		prefixes = []string{DefaultVariablesPrefix}
	}
	return prefixes, ignored
}
