package app

import (
	"sort"

	"github.com/wippyai/spin-shim/errors"
)

// Retain returns a copy of a keeping only the components named in ids and
// the triggers bound to them. The input is not modified.
//
// Every id must exist. A retained component that chains to another
// component through an allowed outbound host of the form
// http://<id>.spin.internal, or that depends on another component by id,
// must have that component retained too.
func Retain(a *App, ids []string) (*App, error) {
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := a.Component(id); !ok {
			return nil, errors.New(errors.PhaseLoad, errors.KindUnresolved).
				Component(id).Detail("specified component %q not found in application", id).Build()
		}
		keep[id] = true
	}

	out := a.Clone()

	components := out.Components[:0]
	for _, c := range out.Components {
		if keep[c.ID] {
			components = append(components, c)
		}
	}
	out.Components = components

	triggers := out.Triggers[:0]
	for _, t := range out.Triggers {
		if keep[t.ComponentID()] {
			triggers = append(triggers, t)
		}
	}
	out.Triggers = triggers

	for i := range out.Components {
		if err := checkReferences(a, &out.Components[i], keep); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func checkReferences(a *App, c *Component, keep map[string]bool) error {
	for _, host := range c.AllowedOutboundHosts() {
		target, ok := serviceChainHost(host)
		if !ok || keep[target] {
			continue
		}
		if _, exists := a.Component(target); !exists {
			continue
		}
		return errors.New(errors.PhaseLoad, errors.KindUnresolved).
			Component(target).
			Detail("component %q cannot be retained without %q, which it reaches through service chaining", c.ID, target).
			Build()
	}

	names := make([]string, 0, len(c.Dependencies))
	for name := range c.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, exists := a.Component(name); !exists || keep[name] {
			continue
		}
		return errors.New(errors.PhaseLoad, errors.KindUnresolved).
			Component(name).
			Detail("component %q cannot be retained without its dependency %q", c.ID, name).
			Build()
	}
	return nil
}
