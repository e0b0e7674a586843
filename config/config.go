// Package config turns the container environment and the optional
// runtime-config.toml into explicit values threaded through a run.
//
// Nothing below the CLI reads the process environment; every consumer gets
// its settings from a Config value.
package config

import (
	"sort"
	"strconv"
	"strings"

	spinshim "github.com/wippyai/spin-shim"
)

// Config holds the settings of one shim invocation.
type Config struct {
	Env                map[string]string
	Runtime            *RuntimeConfig
	HTTPListenAddr     string
	Hostname           string
	ComponentsToRetain []string
	Args               []string
	Paths              spinshim.Paths

	// MaxInstanceMemory is the per-instance memory limit in bytes; 0 means
	// no limit was configured.
	MaxInstanceMemory uint64

	// Warnings collects recoverable problems found while parsing, such as
	// an unparsable memory limit.
	Warnings []string
}

// FromInvocation builds a Config from the environment carried by inv.
func FromInvocation(inv spinshim.Invocation, paths spinshim.Paths) Config {
	cfg := FromEnv(inv.Env)
	cfg.Hostname = inv.Hostname
	cfg.Args = append([]string(nil), inv.Args...)
	cfg.Paths = paths.WithDefaults()
	return cfg
}

// FromEnv parses the recognized SPIN_* keys out of env.
func FromEnv(env map[string]string) Config {
	cfg := Config{
		Env:            copyEnv(env),
		HTTPListenAddr: spinshim.DefaultHTTPListenAddr,
		Paths:          spinshim.DefaultPaths(),
	}

	if addr := strings.TrimSpace(env[spinshim.EnvHTTPListenAddr]); addr != "" {
		cfg.HTTPListenAddr = addr
	}

	if raw, ok := env[spinshim.EnvComponentsToRetain]; ok {
		cfg.ComponentsToRetain = ParseList(raw)
	}

	if raw, ok := env[spinshim.EnvMaxInstanceMemory]; ok {
		limit, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			cfg.Warnings = append(cfg.Warnings,
				"ignoring invalid "+spinshim.EnvMaxInstanceMemory+" value "+strconv.Quote(raw))
		} else {
			cfg.MaxInstanceMemory = limit
		}
	}

	return cfg
}

// ParseList splits a comma-separated list, trimming blanks and dropping
// empty entries.
func ParseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ParseEnvList converts KEY=VALUE strings into a map. Entries without '='
// map to an empty value; later entries win.
func ParseEnvList(kvs []string) map[string]string {
	env := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, _ := strings.Cut(kv, "=")
		if k == "" {
			continue
		}
		env[k] = v
	}
	return env
}

// EnvList renders env as sorted KEY=VALUE strings.
func EnvList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the value of key in the invocation environment.
func (c Config) Lookup(key string) (string, bool) {
	v, ok := c.Env[key]
	return v, ok
}

func copyEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}
