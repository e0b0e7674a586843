package httptrigger

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/wippyai/spin-shim/app"
	"github.com/wippyai/spin-shim/errors"
)

const wildcardSuffix = "/..."

// Executor types. An unset type serves components exporting
// wasi:http/incoming-handler through the handler and everything else
// through WAGI.
const (
	ExecutorSpin = "spin"
	ExecutorWagi = "wagi"
)

// Executor selects how a component is invoked for a request.
type Executor struct {
	Type       string   `json:"type"`
	Entrypoint string   `json:"entrypoint"`
	Argv       string   `json:"argv"`
	Args       []string `json:"-"`
}

type triggerConfig struct {
	Route     any       `json:"route"`
	Executor  *Executor `json:"executor"`
	Component string    `json:"component"`
}

// Route is one routable HTTP trigger.
type Route struct {
	Executor  Executor
	Component string
	// Pattern is the full route including the base, as declared.
	Pattern string
	// Prefix is Pattern without the wildcard suffix.
	Prefix   string
	Wildcard bool
}

// Match is a route selected for a request path.
type Match struct {
	Route *Route
	// PathInfo is the part of the request path after the matched prefix.
	PathInfo string
}

// Router picks the route for a request path. The longest matching prefix
// wins; an exact route beats a wildcard of the same prefix.
type Router struct {
	routes []Route
	base   string
}

// NewRouter builds the router for every HTTP trigger of a. Private routes
// are not routable.
func NewRouter(a *app.App, triggerType string) (*Router, error) {
	base := "/"
	if b, ok := a.TriggerMetadata(triggerType)["base"].(string); ok && b != "" {
		base = b
	}

	r := &Router{base: base}
	for _, t := range a.TriggersOfType(triggerType) {
		var cfg triggerConfig
		if err := t.DecodeConfig(&cfg); err != nil {
			return nil, err
		}
		if cfg.Component == "" {
			return nil, errors.New(errors.PhaseLaunch, errors.KindInvalidInput).
				Trigger(triggerType).Detail("trigger %s has no component", t.ID).Build()
		}
		if _, ok := a.Component(cfg.Component); !ok {
			return nil, errors.New(errors.PhaseLaunch, errors.KindNotFound).
				Trigger(triggerType).Component(cfg.Component).Detail("trigger %s references unknown component", t.ID).Build()
		}

		pattern, routable := cfg.Route.(string)
		if !routable {
			continue
		}

		var exec Executor
		if cfg.Executor != nil {
			exec = *cfg.Executor
		}
		switch exec.Type {
		case "", ExecutorSpin, ExecutorWagi:
		default:
			return nil, errors.New(errors.PhaseLaunch, errors.KindUnsupported).
				Trigger(triggerType).Component(cfg.Component).
				Detail("executor %q", exec.Type).Build()
		}
		exec.Args = strings.Fields(exec.Argv)

		full := joinBase(base, pattern)
		route := Route{Component: cfg.Component, Executor: exec, Pattern: full}
		if strings.HasSuffix(full, wildcardSuffix) {
			route.Wildcard = true
			route.Prefix = strings.TrimSuffix(full, wildcardSuffix)
		} else {
			route.Prefix = full
		}
		for _, existing := range r.routes {
			if existing.Pattern == route.Pattern {
				return nil, errors.New(errors.PhaseLaunch, errors.KindInvalidInput).
					Trigger(triggerType).
					Detail("duplicate route %q for components %q and %q", full, existing.Component, route.Component).Build()
			}
		}
		r.routes = append(r.routes, route)
	}

	sort.SliceStable(r.routes, func(i, j int) bool {
		if len(r.routes[i].Prefix) != len(r.routes[j].Prefix) {
			return len(r.routes[i].Prefix) > len(r.routes[j].Prefix)
		}
		return !r.routes[i].Wildcard && r.routes[j].Wildcard
	})
	return r, nil
}

// Base returns the base path all routes are mounted under.
func (r *Router) Base() string { return r.base }

// Routes returns the routes in match priority order.
func (r *Router) Routes() []Route { return r.routes }

// Route returns the match for p, if any.
func (r *Router) Route(p string) (Match, bool) {
	for i := range r.routes {
		route := &r.routes[i]
		if !route.Wildcard {
			if p == route.Prefix {
				return Match{Route: route}, true
			}
			continue
		}
		if route.Prefix == "" {
			return Match{Route: route, PathInfo: p}, true
		}
		if p == route.Prefix {
			return Match{Route: route}, true
		}
		if strings.HasPrefix(p, route.Prefix+"/") {
			return Match{Route: route, PathInfo: p[len(route.Prefix):]}, true
		}
	}
	return Match{}, false
}

func joinBase(base, route string) string {
	wildcard := strings.HasSuffix(route, wildcardSuffix) || route == "..."
	route = strings.TrimSuffix(strings.TrimSuffix(route, "..."), "/")
	joined := path.Join("/", base, route)
	if joined == "/" {
		joined = ""
	}
	if wildcard {
		return joined + wildcardSuffix
	}
	if joined == "" {
		return "/"
	}
	return joined
}

func (r Route) String() string {
	return fmt.Sprintf("%s -> %s", r.Pattern, r.Component)
}
