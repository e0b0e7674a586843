package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"

	spinshim "github.com/wippyai/spin-shim"
	"github.com/wippyai/spin-shim/cache"
	shimerrors "github.com/wippyai/spin-shim/errors"
	"github.com/wippyai/spin-shim/source"
)

var wasmHeader = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func newLoader(t *testing.T) (*Loader, *cache.Cache, spinshim.Paths) {
	t.Helper()
	root := t.TempDir()
	c, err := cache.New(filepath.Join(root, "cache"))
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	paths := spinshim.Paths{
		Manifest:  filepath.Join(root, "spin.toml"),
		LockedApp: filepath.Join(root, "spin.json"),
	}
	return NewLoader(c, paths, nil), c, paths
}

func lockedApp(componentDigest, fileDigest string) string {
	files := ""
	if fileDigest != "" {
		files = `, "files": [{"path": "/static/a.txt", "content": {"digest": "` + fileDigest + `"}}]`
	}
	return `{
  "spin_lock_version": 1,
  "metadata": {"name": "hello", "triggers": {"http": {"base": "/"}}},
  "triggers": [
    {"id": "trigger-hello", "trigger_type": "http", "trigger_config": {"route": "/hello", "component": "hello"}}
  ],
  "components": [
    {"id": "hello", "source": {"content_type": "application/wasm", "content": {"digest": "` + componentDigest + `"}}` + files + `}
  ]
}`
}

func TestLoad_RegistryApplicationRoundTrip(t *testing.T) {
	l, c, paths := newLoader(t)
	wasm := append(append([]byte{}, wasmHeader...), 0x42)
	d := digest.FromBytes(wasm)
	if _, err := c.WriteWasm(wasm, d); err != nil {
		t.Fatalf("WriteWasm: %v", err)
	}
	asset := []byte("static asset")
	fd := digest.FromBytes(asset)
	if _, err := c.WriteData(asset, fd); err != nil {
		t.Fatalf("WriteData: %v", err)
	}
	if err := os.WriteFile(paths.LockedApp, []byte(lockedApp(d.String(), fd.String())), 0o644); err != nil {
		t.Fatal(err)
	}

	a, err := l.Load(context.Background(), source.RegistryApplication{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	comp, ok := a.Component("hello")
	if !ok {
		t.Fatal("component hello missing")
	}
	got, err := comp.Source.Content.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, wasm) {
		t.Errorf("component bytes = %x, want %x", got, wasm)
	}
	fileBytes, err := comp.Files[0].Content.Read()
	if err != nil {
		t.Fatalf("file Read: %v", err)
	}
	if !bytes.Equal(fileBytes, asset) {
		t.Errorf("file bytes = %q, want %q", fileBytes, asset)
	}
	if a.Name() != "hello" {
		t.Errorf("Name() = %q", a.Name())
	}
	if base := a.TriggerMetadata("http")["base"]; base != "/" {
		t.Errorf("http base = %v, want /", base)
	}
}

func TestLoad_RegistryApplicationMissingContent(t *testing.T) {
	l, _, paths := newLoader(t)
	d := digest.FromBytes([]byte("never cached"))
	if err := os.WriteFile(paths.LockedApp, []byte(lockedApp(d.String(), "")), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := l.Load(context.Background(), source.RegistryApplication{})
	if !errors.Is(err, shimerrors.ErrUnresolved) {
		t.Fatalf("err = %v, want unresolved", err)
	}
	var se *shimerrors.Error
	if !errors.As(err, &se) || se.Component != "hello" {
		t.Errorf("error should name component hello: %v", err)
	}
}

func TestLoad_RegistryApplicationMissingLockFile(t *testing.T) {
	l, _, _ := newLoader(t)
	_, err := l.Load(context.Background(), source.RegistryApplication{})
	if err == nil || !strings.Contains(err.Error(), "locked app") {
		t.Fatalf("err = %v, want locked app not found", err)
	}
}

func TestLoad_RegistryPackage(t *testing.T) {
	l, _, _ := newLoader(t)
	path := filepath.Join(t.TempDir(), "greeter.wasm")
	if err := os.WriteFile(path, wasmHeader, 0o644); err != nil {
		t.Fatal(err)
	}

	a, err := l.Load(context.Background(), source.RegistryPackage{Path: path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if a.Name() != "greeter" {
		t.Errorf("Name() = %q, want greeter", a.Name())
	}
	if len(a.Components) != 1 || a.Components[0].ID != "greeter" {
		t.Fatalf("components = %+v", a.Components)
	}
	if len(a.Triggers) != 1 || a.Triggers[0].TriggerType != "http" {
		t.Fatalf("triggers = %+v", a.Triggers)
	}
	var cfg struct{ Route, Component string }
	if err := a.Triggers[0].DecodeConfig(&cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Route != PackageRoute || cfg.Component != "greeter" {
		t.Errorf("trigger config = %+v", cfg)
	}
}

func TestLoad_LocalManifest(t *testing.T) {
	dir := t.TempDir()
	manifest := `
spin_manifest_version = 2

[application]
name = "demo"
version = "1.0.0"

[application.trigger.redis]
address = "redis://localhost:6379"

[variables]
greeting = { default = "hello" }
token = { required = true, secret = true }

[[trigger.http]]
route = "/api/..."
component = "api"

[[trigger.redis]]
channel = "events"
component = "worker"

[component.api]
source = "api.wasm"
files = ["static/*.txt"]
allowed_outbound_hosts = ["http://worker.spin.internal"]
[component.api.variables]
message = "{{ greeting }} world"

[component.worker]
source = "target/worker.wasm"
environment = { MODE = "batch" }
`
	if err := os.WriteFile(filepath.Join(dir, "spin.toml"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "static"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "static", "index.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	l, _, _ := newLoader(t)
	a, err := l.Load(context.Background(), source.LocalFile{Path: filepath.Join(dir, "spin.toml")})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if a.Name() != "demo" {
		t.Errorf("Name() = %q", a.Name())
	}
	if len(a.Components) != 2 || len(a.Triggers) != 2 {
		t.Fatalf("components=%d triggers=%d", len(a.Components), len(a.Triggers))
	}
	api, _ := a.Component("api")
	path, err := api.Source.Content.LocalPath()
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(dir, "api.wasm") {
		t.Errorf("api source = %q", path)
	}
	if len(api.Files) != 1 || api.Files[0].Path != "static/index.txt" {
		t.Errorf("api files = %+v", api.Files)
	}
	if hosts := api.AllowedOutboundHosts(); len(hosts) != 1 {
		t.Errorf("allowed hosts = %v", hosts)
	}
	worker, _ := a.Component("worker")
	if worker.Env["MODE"] != "batch" {
		t.Errorf("worker env = %v", worker.Env)
	}
	if !a.Variables["token"].Required() || !a.Variables["token"].Secret {
		t.Errorf("token variable = %+v", a.Variables["token"])
	}
	if addr := a.TriggerMetadata("redis")["address"]; addr != "redis://localhost:6379" {
		t.Errorf("redis address = %v", addr)
	}
	redis := a.TriggersOfType("redis")
	if len(redis) != 1 || redis[0].ComponentID() != "worker" {
		t.Errorf("redis triggers = %+v", redis)
	}
}

func TestLoadManifest_Errors(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		want     string
	}{
		{"no version", "[application]\nname = \"x\"\n", "spin_manifest_version"},
		{"version 1", "spin_manifest_version = 1\n", "only 2 is supported"},
		{
			"unknown component",
			"spin_manifest_version = 2\n[[trigger.http]]\nroute = \"/\"\ncomponent = \"ghost\"\n",
			"ghost",
		},
		{
			"variable both required and default",
			"spin_manifest_version = 2\n[variables]\nv = { required = true, default = \"x\" }\n",
			"cannot be both required",
		},
		{
			"remote source",
			"spin_manifest_version = 2\n[component.c]\nsource = { url = \"https://example.com/c.wasm\", digest = \"sha256:00\" }\n",
			"remote component sources",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "spin.toml")
			if err := os.WriteFile(path, []byte(tt.manifest), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := LoadManifest(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	t.Run("unknown must_understand", func(t *testing.T) {
		_, err := Decode([]byte(`{"spin_lock_version":1,"must_understand":["teleportation"],"triggers":[],"components":[]}`))
		if err == nil || !strings.Contains(err.Error(), "teleportation") {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("unsupported version", func(t *testing.T) {
		_, err := Decode([]byte(`{"spin_lock_version":7}`))
		if err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("invalid json", func(t *testing.T) {
		if _, err := Decode([]byte(`{`)); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("inline bytes", func(t *testing.T) {
		a, err := Decode([]byte(`{"spin_lock_version":1,"triggers":[],"components":[
			{"id":"a","source":{"content_type":"application/wasm","content":{"inline":[0,97,115,109]}}},
			{"id":"b","source":{"content_type":"application/wasm","content":{"inline":"AGFzbQ=="}}}
		]}`))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		for _, c := range a.Components {
			got, err := c.Source.Content.Read()
			if err != nil {
				t.Fatalf("%s: %v", c.ID, err)
			}
			if !bytes.Equal(got, wasmHeader[:4]) {
				t.Errorf("%s inline = %x", c.ID, got)
			}
		}
	})
}

func TestClone_Independent(t *testing.T) {
	a, err := Decode([]byte(lockedApp("sha256:"+strings.Repeat("a", 64), "")))
	if err != nil {
		t.Fatal(err)
	}
	b := a.Clone()
	b.Components[0].ID = "changed"
	b.Metadata["name"] = "changed"
	if a.Components[0].ID != "hello" || a.Name() != "hello" {
		t.Error("clone shares state with the original")
	}
}

func TestServiceChainHost(t *testing.T) {
	tests := []struct {
		host string
		id   string
		ok   bool
	}{
		{"http://backend.spin.internal", "backend", true},
		{"https://backend.spin.internal:443", "backend", true},
		{"http://*.spin.internal", "", false},
		{"https://example.com", "", false},
		{"backend.spin.internal", "backend", true},
	}
	for _, tt := range tests {
		id, ok := serviceChainHost(tt.host)
		if id != tt.id || ok != tt.ok {
			t.Errorf("serviceChainHost(%q) = %q, %v; want %q, %v", tt.host, id, ok, tt.id, tt.ok)
		}
	}
}
