package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/opencontainers/go-digest"

	spinshim "github.com/wippyai/spin-shim"
	"github.com/wippyai/spin-shim/app"
)

// writeLayout writes an OCI image layout holding one image whose config is
// config and whose layers are layers.
func writeLayout(t *testing.T, ref string, config descriptorBlob, layers ...descriptorBlob) string {
	t.Helper()
	dir := t.TempDir()

	writeBlob := func(data []byte) digest.Digest {
		d := digest.FromBytes(data)
		blobDir := filepath.Join(dir, "blobs", d.Algorithm().String())
		if err := os.MkdirAll(blobDir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(blobDir, d.Encoded()), data, 0o644); err != nil {
			t.Fatal(err)
		}
		return d
	}

	m := imageManifest{SchemaVersion: 2, MediaType: "application/vnd.oci.image.manifest.v1+json"}
	m.Config = descriptor{MediaType: config.mediaType, Digest: writeBlob(config.data), Size: int64(len(config.data))}
	for _, l := range layers {
		m.Layers = append(m.Layers, descriptor{MediaType: l.mediaType, Digest: writeBlob(l.data), Size: int64(len(l.data))})
	}
	raw, _ := json.Marshal(m)
	md := descriptor{MediaType: m.MediaType, Digest: writeBlob(raw), Size: int64(len(raw))}
	if ref != "" {
		md.Annotations = map[string]string{refNameAnnotation: ref}
	}
	index, _ := json.Marshal(imageIndex{SchemaVersion: 2, Manifests: []descriptor{md}})
	if err := os.WriteFile(filepath.Join(dir, "index.json"), index, 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

type descriptorBlob struct {
	mediaType string
	data      []byte
}

func TestReadLayout(t *testing.T) {
	locked := []byte(`{"spin_lock_version": 1}`)
	wasm := []byte("\x00asm\x01\x00\x00\x00")
	dir := writeLayout(t, "latest",
		descriptorBlob{spinshim.MediaTypeSpinConfig, locked},
		descriptorBlob{spinshim.MediaTypeWasm, wasm},
		descriptorBlob{spinshim.MediaTypeData, []byte("asset")},
	)

	for _, ref := range []string{"", "latest"} {
		layers, err := readLayout(dir, ref)
		if err != nil {
			t.Fatalf("readLayout(%q): %v", ref, err)
		}
		if len(layers) != 3 {
			t.Fatalf("layers = %d, want 3", len(layers))
		}
		if layers[0].MediaType != spinshim.MediaTypeSpinConfig || !bytes.Equal(layers[0].Data, locked) {
			t.Errorf("first layer = %s", layers[0].MediaType)
		}
		if layers[1].Digest != digest.FromBytes(wasm) {
			t.Errorf("wasm digest = %s", layers[1].Digest)
		}
	}
}

func TestReadLayout_SkipsUnknownConfig(t *testing.T) {
	dir := writeLayout(t, "",
		descriptorBlob{"application/vnd.oci.image.config.v1+json", []byte(`{}`)},
		descriptorBlob{spinshim.MediaTypeWasmPackage, []byte("pkg")},
	)
	layers, err := readLayout(dir, "")
	if err != nil {
		t.Fatalf("readLayout: %v", err)
	}
	if len(layers) != 1 || layers[0].MediaType != spinshim.MediaTypeWasmPackage {
		t.Errorf("layers = %+v", layers)
	}
}

func TestReadLayout_Errors(t *testing.T) {
	t.Run("unknown ref", func(t *testing.T) {
		dir := writeLayout(t, "v1", descriptorBlob{spinshim.MediaTypeSpinConfig, []byte(`{}`)})
		if _, err := readLayout(dir, "v2"); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("corrupt blob", func(t *testing.T) {
		wasm := []byte("\x00asm\x01\x00\x00\x00")
		dir := writeLayout(t, "", descriptorBlob{spinshim.MediaTypeSpinConfig, []byte(`{}`)},
			descriptorBlob{spinshim.MediaTypeWasm, wasm})
		d := digest.FromBytes(wasm)
		path := filepath.Join(dir, "blobs", "sha256", d.Encoded())
		if err := os.WriteFile(path, []byte("\x00asm\x01\x00\x00\x01"), 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := readLayout(dir, "")
		if err == nil || !strings.Contains(err.Error(), "does not match") {
			t.Errorf("err = %v, want digest mismatch", err)
		}
	})

	t.Run("missing index", func(t *testing.T) {
		if _, err := readLayout(t.TempDir(), ""); err == nil {
			t.Error("expected error")
		}
	})
}

func TestSourceFlags_Invocation(t *testing.T) {
	sf := sourceFlags{file: "/apps/spin.toml", stateDir: "/state", env: []string{"SPIN_HTTP_LISTEN_ADDR=127.0.0.1:3000"}, hostname: "node"}
	inv, err := sf.invocation([]string{"--flag"})
	if err != nil {
		t.Fatalf("invocation: %v", err)
	}
	if !inv.IsFile() || inv.Hostname != "node" || inv.Env["SPIN_HTTP_LISTEN_ADDR"] != "127.0.0.1:3000" {
		t.Errorf("inv = %+v", inv)
	}
	if len(inv.Args) != 1 || inv.Args[0] != "--flag" {
		t.Errorf("args = %v", inv.Args)
	}

	p := sf.paths()
	if p.Manifest != "/apps/spin.toml" || p.LockedApp != "/state/spin.json" || p.RuntimeConfig != "/state/runtime-config.toml" {
		t.Errorf("paths = %+v", p)
	}

	if _, err := (&sourceFlags{}).invocation(nil); err == nil {
		t.Error("expected error without a source")
	}
	if _, err := (&sourceFlags{file: "a", layout: "b"}).invocation(nil); err == nil {
		t.Error("expected error with two sources")
	}
}

func testApp() *app.App {
	def := "hi"
	return &app.App{
		Metadata:  map[string]any{"name": "demo"},
		Variables: map[string]app.Variable{"greeting": {Default: &def}, "token": {Secret: true, Default: &def}, "key": {}},
		Triggers: []app.Trigger{
			{ID: "web", TriggerType: "http", TriggerConfig: json.RawMessage(`{"component":"api","route":"/..."}`)},
			{ID: "jobs", TriggerType: "redis", TriggerConfig: json.RawMessage(`{"component":"worker","channel":"jobs"}`)},
		},
		Components: []app.Component{
			{ID: "api", Source: app.ComponentSource{Content: app.ContentRef{Source: "file:///cache/api.wasm"}}},
			{ID: "worker", Source: app.ComponentSource{Content: app.ContentRef{Inline: []byte{1, 2, 3}}}},
		},
	}
}

func TestPrintApp(t *testing.T) {
	var out bytes.Buffer
	printApp(&out, testApp())
	got := out.String()
	for _, want := range []string{
		"Application: demo",
		`greeting = "hi"`,
		"token = <secret>",
		"key (required)",
		"http",
		"-> api",
		"file:///cache/api.wasm",
		"inline (3 bytes)",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestPrintAppJSON(t *testing.T) {
	var out bytes.Buffer
	if err := printAppJSON(&out, testApp()); err != nil {
		t.Fatalf("printAppJSON: %v", err)
	}
	decoded, err := app.Decode(out.Bytes())
	if err != nil {
		t.Fatalf("output is not a locked app: %v\n%s", err, out.String())
	}
	if decoded.Name() != "demo" || len(decoded.Components) != len(testApp().Components) {
		t.Errorf("decoded app = %+v", decoded)
	}
}

func TestInteractiveModel_Navigation(t *testing.T) {
	m := newInteractiveModel(testApp(), nil)
	if len(m.infos) != 2 || m.infos[0].triggers[0] != "http" || m.infos[1].triggers[0] != "redis" {
		t.Fatalf("infos = %+v", m.infos)
	}

	key := func(s string) tea.KeyMsg {
		switch s {
		case "enter":
			return tea.KeyMsg{Type: tea.KeyEnter}
		case "esc":
			return tea.KeyMsg{Type: tea.KeyEsc}
		default:
			return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
		}
	}

	m.Update(key("j"))
	if m.selected != 1 {
		t.Errorf("selected = %d after j", m.selected)
	}
	m.Update(key("j"))
	if m.selected != 1 {
		t.Errorf("selected = %d past the end", m.selected)
	}

	m.Update(key("enter"))
	if m.state != stateSelectComponent {
		t.Error("entered input before the engine loaded")
	}

	m.Update(loadedMsg{})
	m.Update(key("enter"))
	if m.state != stateInputStdin {
		t.Fatalf("state = %d, want input", m.state)
	}

	m.Update(runResultMsg{stdout: "done"})
	if m.state != stateShowResult || !strings.Contains(m.View(), "done") {
		t.Errorf("result view = %q", m.View())
	}

	m.Update(key("esc"))
	if m.state != stateSelectComponent || m.stdout != "" {
		t.Error("esc did not reset")
	}
}
