package app

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/wippyai/spin-shim/errors"
)

// Variables holds resolved application variable values by name.
type Variables map[string]string

var templatePattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// ResolveVariables resolves every application variable from env. Each
// prefix is tried in order as PREFIX_NAME with the name upper-cased; the
// default applies when no prefix matches. A required variable without a
// value fails.
func ResolveVariables(a *App, env map[string]string, prefixes []string) (Variables, error) {
	names := make([]string, 0, len(a.Variables))
	for name := range a.Variables {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(Variables, len(names))
	for _, name := range names {
		if value, ok := lookupVariable(env, prefixes, name); ok {
			out[name] = value
			continue
		}
		v := a.Variables[name]
		if v.Required() {
			return nil, errors.New(errors.PhaseConfig, errors.KindNotFound).
				Detail("no value for required variable %q", name).Build()
		}
		out[name] = *v.Default
	}
	return out, nil
}

func lookupVariable(env map[string]string, prefixes []string, name string) (string, bool) {
	key := strings.ToUpper(name)
	for _, prefix := range prefixes {
		if value, ok := env[strings.TrimSuffix(prefix, "_")+"_"+key]; ok {
			return value, true
		}
	}
	return "", false
}

// ComponentConfig expands {{ name }} templates in the component's config
// into a fresh map.
func (v Variables) ComponentConfig(c *Component) (map[string]string, error) {
	out := make(map[string]string, len(c.Config))
	for key, tmpl := range c.Config {
		value, err := v.expand(tmpl)
		if err != nil {
			return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Component(c.ID).Detail("config key %q", key).Cause(err).Build()
		}
		out[key] = value
	}
	return out, nil
}

func (v Variables) expand(tmpl string) (string, error) {
	var missing string
	expanded := templatePattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := templatePattern.FindStringSubmatch(m)[1]
		value, ok := v[name]
		if !ok && missing == "" {
			missing = name
		}
		return value
	})
	if missing != "" {
		return "", fmt.Errorf("unknown variable %q", missing)
	}
	return expanded, nil
}
