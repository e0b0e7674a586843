package shim

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"

	spinshim "github.com/wippyai/spin-shim"
	"github.com/wippyai/spin-shim/errors"
	"github.com/wippyai/spin-shim/internal/wasmtest"
	"github.com/wippyai/spin-shim/trigger"
)

type fakeTrigger struct {
	typ     string
	start   func(ctx context.Context, rc *trigger.RunContext) (trigger.Task, error)
	started atomic.Int32
}

func (f *fakeTrigger) Type() string { return f.typ }

func (f *fakeTrigger) Start(ctx context.Context, rc *trigger.RunContext) (trigger.Task, error) {
	f.started.Add(1)
	return f.start(ctx, rc)
}

func exitsWith(err error) func(context.Context, *trigger.RunContext) (trigger.Task, error) {
	return func(context.Context, *trigger.RunContext) (trigger.Task, error) {
		return func(context.Context) error { return err }, nil
	}
}

func blocks(context.Context, *trigger.RunContext) (trigger.Task, error) {
	return func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, nil
}

type component struct {
	id   string
	wasm []byte
}

type appTrigger struct {
	typ       string
	component string
}

// lockedLayers builds a registry invocation: the locked app followed by
// one wasm layer per component.
func lockedLayers(triggers []appTrigger, components []component) []spinshim.Layer {
	var trig, comps []string
	var layers []spinshim.Layer
	for i, t := range triggers {
		trig = append(trig, fmt.Sprintf(
			`{"id": "t%d", "trigger_type": %q, "trigger_config": {"component": %q, "route": "/%s"}}`,
			i, t.typ, t.component, t.component))
	}
	for _, c := range components {
		d := digest.FromBytes(c.wasm)
		comps = append(comps, fmt.Sprintf(
			`{"id": %q, "source": {"content_type": "application/wasm", "content": {"digest": %q}}}`,
			c.id, d.String()))
		layers = append(layers, spinshim.Layer{MediaType: spinshim.MediaTypeWasm, Digest: d, Data: c.wasm})
	}
	locked := []byte(`{"spin_lock_version": 1, "metadata": {"name": "test-app"}, "triggers": [` +
		strings.Join(trig, ",") + `], "components": [` + strings.Join(comps, ",") + `]}`)
	manifest := spinshim.Layer{MediaType: spinshim.MediaTypeSpinConfig, Digest: digest.FromBytes(locked), Data: locked}
	return append([]spinshim.Layer{manifest}, layers...)
}

func newShim(t *testing.T, stdout *bytes.Buffer, triggers ...trigger.Trigger) *Shim {
	t.Helper()
	root := t.TempDir()
	opts := Options{
		CacheDir: filepath.Join(root, "cache"),
		Paths: spinshim.Paths{
			Manifest:      filepath.Join(root, "spin.toml"),
			LockedApp:     filepath.Join(root, "spin.json"),
			RuntimeConfig: filepath.Join(root, "runtime-config.toml"),
			WorkingDir:    root,
		},
		Stdin:    strings.NewReader(""),
		Stdout:   stdout,
		Stderr:   &bytes.Buffer{},
		Triggers: triggers,
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestRun_CleanExit(t *testing.T) {
	var componentCount int
	http := &fakeTrigger{typ: "http", start: func(_ context.Context, rc *trigger.RunContext) (trigger.Task, error) {
		componentCount = len(rc.App.Components)
		return func(context.Context) error { return nil }, nil
	}}
	s := newShim(t, &bytes.Buffer{}, http)

	layers := lockedLayers(
		[]appTrigger{{"http", "hello"}},
		[]component{{"hello", wasmtest.Noop()}},
	)
	code, err := s.Run(context.Background(), spinshim.Invocation{Layers: layers})
	if code != ExitOK || err != nil {
		t.Fatalf("Run = %d, %v", code, err)
	}
	if componentCount != 1 {
		t.Errorf("components = %d", componentCount)
	}
}

func TestRun_Failures(t *testing.T) {
	tests := []struct {
		name     string
		layers   []spinshim.Layer
		triggers []*fakeTrigger
		want     error
	}{
		{
			name: "unsupported trigger",
			layers: lockedLayers(
				[]appTrigger{{"http", "a"}, {"cron", "a"}},
				[]component{{"a", wasmtest.Noop()}},
			),
			triggers: []*fakeTrigger{{typ: "http", start: blocks}},
			want:     errors.ErrUnsupportedTrigger,
		},
		{
			name:     "missing component layer",
			layers:   lockedLayers([]appTrigger{{"http", "a"}}, []component{{"a", wasmtest.Noop()}})[:1],
			triggers: []*fakeTrigger{{typ: "http", start: blocks}},
			want:     errors.ErrUnresolved,
		},
		{
			name:   "launch failure",
			layers: lockedLayers([]appTrigger{{"http", "a"}}, []component{{"a", wasmtest.Noop()}}),
			triggers: []*fakeTrigger{{typ: "http", start: func(context.Context, *trigger.RunContext) (trigger.Task, error) {
				return nil, stderrors.New("address in use")
			}}},
			want: errors.ErrTriggerLaunch,
		},
		{
			name: "first task fails",
			layers: lockedLayers(
				[]appTrigger{{"http", "a"}, {"redis", "a"}},
				[]component{{"a", wasmtest.Noop()}},
			),
			triggers: []*fakeTrigger{
				{typ: "http", start: blocks},
				{typ: "redis", start: exitsWith(stderrors.New("connection reset"))},
			},
			want: errors.ErrTriggerRuntime,
		},
		{
			name: "multiple packages",
			layers: []spinshim.Layer{
				{MediaType: spinshim.MediaTypeWasmPackage, Digest: digest.FromString("a"), Data: []byte("a")},
				{MediaType: spinshim.MediaTypeWasmPackage, Digest: digest.FromString("b"), Data: []byte("b")},
			},
			want: errors.ErrInvalidSource,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			triggers := make([]trigger.Trigger, 0, len(tt.triggers))
			for _, f := range tt.triggers {
				triggers = append(triggers, f)
			}
			s := newShim(t, &bytes.Buffer{}, triggers...)

			code, err := s.Run(context.Background(), spinshim.Invocation{Layers: tt.layers})
			if code != ExitFailure {
				t.Errorf("code = %d, want %d", code, ExitFailure)
			}
			if !stderrors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRun_UnsupportedLaunchesNothing(t *testing.T) {
	http := &fakeTrigger{typ: "http", start: blocks}
	s := newShim(t, &bytes.Buffer{}, http)
	layers := lockedLayers([]appTrigger{{"http", "a"}, {"cron", "a"}}, []component{{"a", wasmtest.Noop()}})

	if _, err := s.Run(context.Background(), spinshim.Invocation{Layers: layers}); err == nil {
		t.Fatal("expected error")
	}
	if http.started.Load() != 0 {
		t.Error("http trigger was started")
	}
}

func TestRun_CancellationIsCleanExit(t *testing.T) {
	ready := make(chan struct{})
	http := &fakeTrigger{typ: "http", start: func(ctx context.Context, rc *trigger.RunContext) (trigger.Task, error) {
		close(ready)
		return blocks(ctx, rc)
	}}
	s := newShim(t, &bytes.Buffer{}, http)
	layers := lockedLayers([]appTrigger{{"http", "a"}}, []component{{"a", wasmtest.Noop()}})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-ready
		cancel()
	}()

	done := make(chan struct{})
	var code int
	var err error
	go func() {
		code, err = s.Run(ctx, spinshim.Invocation{Layers: layers})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if code != ExitOK || err != nil {
		t.Errorf("Run = %d, %v, want 0, nil", code, err)
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	s := newShim(t, &bytes.Buffer{}, &fakeTrigger{typ: "http", start: blocks})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	layers := lockedLayers([]appTrigger{{"http", "a"}}, []component{{"a", wasmtest.Noop()}})
	code, err := s.Run(ctx, spinshim.Invocation{Layers: layers})
	if code != ExitOK || err != nil {
		t.Errorf("Run = %d, %v, want 0, nil", code, err)
	}
}

func TestRun_RetainComponents(t *testing.T) {
	var kept []string
	http := &fakeTrigger{typ: "http", start: func(_ context.Context, rc *trigger.RunContext) (trigger.Task, error) {
		for _, c := range rc.App.Components {
			kept = append(kept, c.ID)
		}
		return func(context.Context) error { return nil }, nil
	}}
	s := newShim(t, &bytes.Buffer{}, http)

	layers := lockedLayers(
		[]appTrigger{{"http", "a"}, {"http", "b"}},
		[]component{{"a", wasmtest.Noop()}, {"b", wasmtest.Print("b")}},
	)
	inv := spinshim.Invocation{Layers: layers, Env: map[string]string{"SPIN_COMPONENTS_TO_RETAIN": "b"}}
	if code, err := s.Run(context.Background(), inv); code != ExitOK || err != nil {
		t.Fatalf("Run = %d, %v", code, err)
	}
	if len(kept) != 1 || kept[0] != "b" {
		t.Errorf("kept = %v, want [b]", kept)
	}

	inv.Env["SPIN_COMPONENTS_TO_RETAIN"] = "missing"
	code, err := s.Run(context.Background(), inv)
	if code != ExitFailure || !stderrors.Is(err, errors.ErrUnresolved) {
		t.Errorf("Run = %d, %v, want unresolved", code, err)
	}
}

func TestRun_CommandTrigger(t *testing.T) {
	var stdout bytes.Buffer
	s := newShim(t, &stdout)

	layers := lockedLayers(
		[]appTrigger{{"command", "hello"}},
		[]component{{"hello", wasmtest.Print("hello from wasm\n")}},
	)
	code, err := s.Run(context.Background(), spinshim.Invocation{Layers: layers, Hostname: "pod-1"})
	if code != ExitOK || err != nil {
		t.Fatalf("Run = %d, %v", code, err)
	}
	if stdout.String() != "hello from wasm\n" {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestRun_CommandExitCode(t *testing.T) {
	s := newShim(t, &bytes.Buffer{})
	layers := lockedLayers([]appTrigger{{"command", "fail"}}, []component{{"fail", wasmtest.Exit(2)}})

	code, err := s.Run(context.Background(), spinshim.Invocation{Layers: layers})
	if code != ExitFailure || !stderrors.Is(err, errors.ErrTriggerRuntime) {
		t.Errorf("Run = %d, %v, want runtime failure", code, err)
	}
}

func TestRun_CommandComponent(t *testing.T) {
	tests := []struct {
		name string
		wasm []byte
		code int
	}{
		{"run ok", wasmtest.Run(false), ExitOK},
		{"run err", wasmtest.Run(true), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newShim(t, &bytes.Buffer{})
			layers := lockedLayers([]appTrigger{{"command", "cli"}}, []component{{"cli", tt.wasm}})

			code, err := s.Run(context.Background(), spinshim.Invocation{Layers: layers})
			if code != tt.code {
				t.Fatalf("Run = %d, %v, want %d", code, err, tt.code)
			}
			if tt.code == ExitFailure && !stderrors.Is(err, errors.ErrTriggerRuntime) {
				t.Errorf("err = %v, want runtime failure", err)
			}
		})
	}
}

func TestRun_RuntimeConfigVariables(t *testing.T) {
	var got string
	http := &fakeTrigger{typ: "http", start: func(_ context.Context, rc *trigger.RunContext) (trigger.Task, error) {
		got = rc.Variables["greeting"]
		return func(context.Context) error { return nil }, nil
	}}
	s := newShim(t, &bytes.Buffer{}, http)

	rtc := "[[variables_provider]]\ntype = \"env\"\nprefix = \"MYAPP\"\n"
	if err := os.WriteFile(s.paths.RuntimeConfig, []byte(rtc), 0o644); err != nil {
		t.Fatal(err)
	}

	locked := `{"spin_lock_version": 1, "metadata": {"name": "vars"},
  "variables": {"greeting": {"default": "hi"}},
  "triggers": [{"id": "t", "trigger_type": "http", "trigger_config": {"component": "a", "route": "/"}}],
  "components": [{"id": "a", "source": {"content_type": "application/wasm", "content": {"digest": "` + digest.FromBytes(wasmtest.Noop()).String() + `"}}}]}`
	layers := []spinshim.Layer{
		{MediaType: spinshim.MediaTypeSpinConfig, Digest: digest.FromString(locked), Data: []byte(locked)},
		{MediaType: spinshim.MediaTypeWasm, Digest: digest.FromBytes(wasmtest.Noop()), Data: wasmtest.Noop()},
	}
	inv := spinshim.Invocation{Layers: layers, Env: map[string]string{"MYAPP_GREETING": "hello"}}
	if code, err := s.Run(context.Background(), inv); code != ExitOK || err != nil {
		t.Fatalf("Run = %d, %v", code, err)
	}
	if got != "hello" {
		t.Errorf("greeting = %q, want hello", got)
	}
}

func TestPrecompile(t *testing.T) {
	s := newShim(t, &bytes.Buffer{})
	layers := []spinshim.Layer{
		{MediaType: spinshim.MediaTypeWasm, Digest: digest.FromBytes(wasmtest.Noop()), Data: wasmtest.Noop()},
		{MediaType: spinshim.MediaTypeData, Digest: digest.FromString("x"), Data: []byte("x")},
		{MediaType: spinshim.MediaTypeWasm, Digest: digest.FromBytes(wasmtest.Run(false)), Data: wasmtest.Run(false)},
	}
	done, err := s.Precompile(context.Background(), layers)
	if err != nil {
		t.Fatalf("Precompile: %v", err)
	}
	if len(done) != 3 || !done[0] || done[1] || !done[2] {
		t.Errorf("Precompile = %v, want [true false true]", done)
	}
	if len(s.CanPrecompile()) != 64 {
		t.Errorf("CanPrecompile = %q", s.CanPrecompile())
	}
}

func TestSupportedLayerTypes(t *testing.T) {
	s := newShim(t, &bytes.Buffer{})
	got := s.SupportedLayerTypes()
	if len(got) != 5 {
		t.Fatalf("SupportedLayerTypes = %v", got)
	}
	for _, want := range []string{spinshim.MediaTypeWasm, spinshim.MediaTypeSpinConfig, spinshim.MediaTypeWasmPackage} {
		found := false
		for _, g := range got {
			found = found || g == want
		}
		if !found {
			t.Errorf("missing %s", want)
		}
	}
}
