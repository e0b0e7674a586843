package trigger

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/wippyai/spin-shim/app"
	"github.com/wippyai/spin-shim/engine"
	"github.com/wippyai/spin-shim/internal/wasmtest"
)

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.New(context.Background(), engine.Config{})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() { e.Close(context.Background()) })
	return e
}

func inlineComponent(id string, wasm []byte) app.Component {
	return app.Component{
		ID: id,
		Source: app.ComponentSource{
			ContentType: app.ContentTypeWasm,
			Content:     app.ContentRef{Inline: wasm},
		},
	}
}

func TestComponentLoader_Run(t *testing.T) {
	a := &app.App{Components: []app.Component{
		inlineComponent("printer", wasmtest.Print("printed")),
		inlineComponent("echo", wasmtest.Echo("")),
	}}
	l := NewComponentLoader(newEngine(t), a, nil, nil, nil)
	defer l.Close()

	var out bytes.Buffer
	if err := l.Run(context.Background(), Call{Component: "printer", Stdout: &out}); err != nil {
		t.Fatalf("Run printer: %v", err)
	}
	if out.String() != "printed" {
		t.Errorf("stdout = %q", out.String())
	}

	out.Reset()
	if err := l.Run(context.Background(), Call{Component: "echo", Stdin: strings.NewReader("payload"), Stdout: &out}); err != nil {
		t.Fatalf("Run echo: %v", err)
	}
	if out.String() != "payload" {
		t.Errorf("stdout = %q", out.String())
	}
}

func TestComponentLoader_PrepareOnce(t *testing.T) {
	a := &app.App{Components: []app.Component{inlineComponent("c", wasmtest.Noop())}}
	l := NewComponentLoader(newEngine(t), a, nil, nil, nil)
	defer l.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Prepare(context.Background(), "c"); err != nil {
				t.Errorf("Prepare: %v", err)
			}
		}()
	}
	wg.Wait()

	first, _ := l.prepare(context.Background(), "c")
	second, _ := l.prepare(context.Background(), "c")
	if first.module != second.module {
		t.Error("component compiled more than once")
	}
}

func TestComponentLoader_Errors(t *testing.T) {
	a := &app.App{Components: []app.Component{
		inlineComponent("bad", []byte("not wasm")),
		{ID: "missing-file", Source: app.ComponentSource{Content: app.ContentRef{Source: "file:///does/not/exist.wasm"}}},
	}}
	l := NewComponentLoader(newEngine(t), a, nil, nil, nil)
	defer l.Close()

	for _, id := range []string{"bad", "missing-file", "unknown"} {
		if err := l.Prepare(context.Background(), id); err == nil {
			t.Errorf("Prepare(%q) should fail", id)
		}
	}
}

func TestComponentLoader_StagesFiles(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "page.html"), []byte("<html/>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(src, "assets", "css"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "assets", "css", "site.css"), []byte("body{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := inlineComponent("web", wasmtest.Noop())
	c.Files = []app.ContentPath{
		{Path: "static/page.html", Content: app.ContentRef{Source: app.FileURL(filepath.Join(src, "page.html"))}},
		{Path: "/assets", Content: app.ContentRef{Source: app.FileURL(filepath.Join(src, "assets"))}},
		{Path: "inline.txt", Content: app.ContentRef{Inline: []byte("inline")}},
	}
	l := NewComponentLoader(newEngine(t), &app.App{Components: []app.Component{c}}, nil, nil, nil)

	p, err := l.prepare(context.Background(), "web")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if len(p.mounts) != 2 {
		t.Fatalf("mounts = %+v", p.mounts)
	}

	staged, dir := p.mounts[0], p.mounts[1]
	if staged.GuestPath != "/" || !staged.ReadOnly {
		t.Errorf("staged mount = %+v", staged)
	}
	want := engine.Mount{HostPath: filepath.Join(src, "assets"), GuestPath: "/assets", ReadOnly: true}
	if dir != want {
		t.Errorf("directory mount = %+v, want %+v", dir, want)
	}

	root := staged.HostPath
	for rel, want := range map[string]string{
		"static/page.html": "<html/>",
		"inline.txt":       "inline",
	} {
		got, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			t.Errorf("%s not staged: %v", rel, err)
			continue
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", rel, got, want)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "assets")); !os.IsNotExist(err) {
		t.Error("directory content was copied into the staging directory")
	}

	// The directory is mounted, not copied: files written after Prepare
	// are visible through the mount.
	if err := os.WriteFile(filepath.Join(src, "assets", "late.txt"), []byte("late"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(dir.HostPath, "late.txt"))
	if err != nil || string(got) != "late" {
		t.Errorf("late file through mount = %q, %v", got, err)
	}

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Error("staging directory not removed on Close")
	}
	if _, err := os.Stat(filepath.Join(src, "assets", "css", "site.css")); err != nil {
		t.Errorf("Close touched a mounted directory: %v", err)
	}
	if err := l.Prepare(context.Background(), "web"); err == nil {
		t.Error("Prepare after Close should fail")
	}
}

func TestComponentLoader_DirectoryOnlyNeedsNoStaging(t *testing.T) {
	src := t.TempDir()
	c := inlineComponent("web", wasmtest.Noop())
	c.Files = []app.ContentPath{
		{Path: "/", Content: app.ContentRef{Source: app.FileURL(src)}},
	}
	l := NewComponentLoader(newEngine(t), &app.App{Components: []app.Component{c}}, nil, nil, nil)
	defer l.Close()

	p, err := l.prepare(context.Background(), "web")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	want := []engine.Mount{{HostPath: src, GuestPath: "/", ReadOnly: true}}
	if len(p.mounts) != 1 || p.mounts[0] != want[0] {
		t.Errorf("mounts = %+v, want %+v", p.mounts, want)
	}
	if l.stageRoot != "" {
		t.Errorf("staging directory %s created for a directory-only component", l.stageRoot)
	}
}

func TestComponentLoader_ConfigEnv(t *testing.T) {
	c := inlineComponent("c", wasmtest.Noop())
	c.Env = map[string]string{"MODE": "dev"}
	c.Config = map[string]string{"api-url": "https://{{ host }}/v1"}
	l := NewComponentLoader(newEngine(t), &app.App{Components: []app.Component{c}}, app.Variables{"host": "example.com"}, nil, nil)
	defer l.Close()

	p, err := l.prepare(context.Background(), "c")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if p.env["SPIN_CONFIG_API_URL"] != "https://example.com/v1" {
		t.Errorf("config env = %v", p.env)
	}
	if p.env["MODE"] != "dev" {
		t.Errorf("component env = %v", p.env)
	}
}

func TestComponentIDs(t *testing.T) {
	a := &app.App{Triggers: []app.Trigger{
		{ID: "1", TriggerType: "redis", TriggerConfig: []byte(`{"component":"b"}`)},
		{ID: "2", TriggerType: "redis", TriggerConfig: []byte(`{"component":"a"}`)},
		{ID: "3", TriggerType: "redis", TriggerConfig: []byte(`{"component":"b"}`)},
		{ID: "4", TriggerType: "http", TriggerConfig: []byte(`{"component":"c"}`)},
	}}
	got := ComponentIDs(a, "redis")
	if strings.Join(got, ",") != "a,b" {
		t.Errorf("ComponentIDs = %v", got)
	}
}

func TestComponentLoader_RunConfig(t *testing.T) {
	c := inlineComponent("api", wasmtest.Run(false))
	c.Env = map[string]string{"MODE": "prod", "KEEP": "1"}
	c.Metadata = map[string]any{"allowed_outbound_hosts": []any{"https://example.com"}}
	var stderr bytes.Buffer
	l := NewComponentLoader(newEngine(t), &app.App{Components: []app.Component{c}}, nil, &stderr, nil)
	defer l.Close()

	p, err := l.prepare(context.Background(), "api")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	rc := l.runConfig(p, Call{Component: "api", Env: map[string]string{"MODE": "test"}})
	if rc.Env["MODE"] != "test" || rc.Env["KEEP"] != "1" {
		t.Errorf("env = %v", rc.Env)
	}
	if len(rc.AllowedOutboundHosts) != 1 || rc.AllowedOutboundHosts[0] != "https://example.com" {
		t.Errorf("outbound hosts = %v", rc.AllowedOutboundHosts)
	}
	if rc.Stderr != &stderr {
		t.Error("loader stderr not used as default")
	}

	if err := l.Run(context.Background(), Call{Component: "api"}); err != nil {
		t.Errorf("Run: %v", err)
	}
	handles, err := l.HandlesHTTP(context.Background(), "api")
	if err != nil || handles {
		t.Errorf("HandlesHTTP = %v, %v", handles, err)
	}
}
