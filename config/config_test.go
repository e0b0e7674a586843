package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	spinshim "github.com/wippyai/spin-shim"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv(nil)
	if cfg.HTTPListenAddr != spinshim.DefaultHTTPListenAddr {
		t.Errorf("HTTPListenAddr = %q, want %q", cfg.HTTPListenAddr, spinshim.DefaultHTTPListenAddr)
	}
	if cfg.ComponentsToRetain != nil {
		t.Errorf("ComponentsToRetain = %v, want nil", cfg.ComponentsToRetain)
	}
	if cfg.MaxInstanceMemory != 0 {
		t.Errorf("MaxInstanceMemory = %d, want 0", cfg.MaxInstanceMemory)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	env := map[string]string{
		spinshim.EnvHTTPListenAddr:     "127.0.0.1:3000",
		spinshim.EnvComponentsToRetain: " api, ,worker ",
		spinshim.EnvMaxInstanceMemory:  "1048576",
		"OTHER":                        "x",
	}
	cfg := FromEnv(env)

	if cfg.HTTPListenAddr != "127.0.0.1:3000" {
		t.Errorf("HTTPListenAddr = %q", cfg.HTTPListenAddr)
	}
	if want := []string{"api", "worker"}; !reflect.DeepEqual(cfg.ComponentsToRetain, want) {
		t.Errorf("ComponentsToRetain = %v, want %v", cfg.ComponentsToRetain, want)
	}
	if cfg.MaxInstanceMemory != 1048576 {
		t.Errorf("MaxInstanceMemory = %d", cfg.MaxInstanceMemory)
	}
	if v, ok := cfg.Lookup("OTHER"); !ok || v != "x" {
		t.Errorf("Lookup(OTHER) = %q, %v", v, ok)
	}

	env["OTHER"] = "mutated"
	if v, _ := cfg.Lookup("OTHER"); v != "x" {
		t.Error("Config must not alias the caller's env map")
	}
}

func TestFromEnv_InvalidMemoryIgnored(t *testing.T) {
	cfg := FromEnv(map[string]string{spinshim.EnvMaxInstanceMemory: "lots"})
	if cfg.MaxInstanceMemory != 0 {
		t.Errorf("MaxInstanceMemory = %d, want 0", cfg.MaxInstanceMemory)
	}
	if len(cfg.Warnings) != 1 {
		t.Errorf("expected one warning, got %v", cfg.Warnings)
	}
}

func TestFromInvocation(t *testing.T) {
	inv := spinshim.Invocation{
		Env:      map[string]string{spinshim.EnvHTTPListenAddr: ":8080"},
		Hostname: "pod-1",
		Args:     []string{"a", "b"},
	}
	cfg := FromInvocation(inv, spinshim.Paths{Manifest: "/tmp/spin.toml"})
	if cfg.Hostname != "pod-1" || cfg.HTTPListenAddr != ":8080" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Paths.Manifest != "/tmp/spin.toml" || cfg.Paths.LockedApp != spinshim.LockedAppFilePath {
		t.Errorf("Paths = %+v", cfg.Paths)
	}
	if !reflect.DeepEqual(cfg.Args, []string{"a", "b"}) {
		t.Errorf("Args = %v", cfg.Args)
	}
}

func TestParseEnvList(t *testing.T) {
	env := ParseEnvList([]string{"A=1", "B=x=y", "C", "=skip", "A=2"})
	want := map[string]string{"A": "2", "B": "x=y", "C": ""}
	if !reflect.DeepEqual(env, want) {
		t.Errorf("ParseEnvList = %v, want %v", env, want)
	}
	if got := EnvList(want); !reflect.DeepEqual(got, []string{"A=2", "B=x=y", "C="}) {
		t.Errorf("EnvList = %v", got)
	}
}

func TestLoadRuntimeConfig(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		rc, err := LoadRuntimeConfig(filepath.Join(t.TempDir(), "runtime-config.toml"))
		if err != nil || rc != nil {
			t.Fatalf("LoadRuntimeConfig = %v, %v; want nil, nil", rc, err)
		}
	})

	t.Run("providers", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "runtime-config.toml")
		body := `
[[variables_provider]]
type = "env"
prefix = "MYAPP"

[[variables_provider]]
type = "vault"

[key_value_store.default]
type = "spin"
`
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		rc, err := LoadRuntimeConfig(path)
		if err != nil {
			t.Fatalf("LoadRuntimeConfig: %v", err)
		}
		prefixes, ignored := rc.VariablePrefixes()
		if !reflect.DeepEqual(prefixes, []string{"MYAPP"}) {
			t.Errorf("prefixes = %v", prefixes)
		}
		if len(ignored) != 1 {
			t.Errorf("ignored = %v", ignored)
		}
		if !reflect.DeepEqual(rc.Undecoded, []string{"key_value_store"}) {
			t.Errorf("Undecoded = %v", rc.Undecoded)
		}
	})

	t.Run("invalid toml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "runtime-config.toml")
		if err := os.WriteFile(path, []byte("[[variables_provider"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadRuntimeConfig(path); err == nil {
			t.Fatal("expected parse error")
		}
	})

	t.Run("nil config uses default prefix", func(t *testing.T) {
		var rc *RuntimeConfig
		prefixes, _ := rc.VariablePrefixes()
		if !reflect.DeepEqual(prefixes, []string{DefaultVariablesPrefix}) {
			t.Errorf("prefixes = %v", prefixes)
		}
	})
}
