package engine

import (
	"bytes"
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"

	spinshim "github.com/wippyai/spin-shim"
	"github.com/wippyai/spin-shim/errors"
	"github.com/wippyai/spin-shim/internal/wasmtest"
)

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { e.Close(context.Background()) })
	return e
}

func compile(t *testing.T, e *Engine, wasm []byte) *Module {
	t.Helper()
	mod, err := e.Compile(context.Background(), wasm)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return mod
}

func TestConfig_MemoryLimitPages(t *testing.T) {
	tests := []struct {
		bytes uint64
		want  uint32
	}{
		{0, 0},
		{1, 1},
		{PageSize, 1},
		{PageSize + 1, 2},
		{16 << 20, 256},
		{1 << 40, maxPages},
	}
	for _, tc := range tests {
		got := Config{MaxInstanceMemory: tc.bytes}.MemoryLimitPages()
		if got != tc.want {
			t.Errorf("MemoryLimitPages(%d) = %d, want %d", tc.bytes, got, tc.want)
		}
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		cfg  Config
		name string
	}{
		{Config{}, "default config"},
		{Config{MaxInstanceMemory: 16 << 20}, "16MB limit"},
		{Config{CompilationCacheDir: t.TempDir()}, "compilation cache"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newEngine(t, tc.cfg)
			if e.runtime == nil {
				t.Error("engine runtime should not be nil")
			}
		})
	}
}

func TestCompile_Component(t *testing.T) {
	e := newEngine(t, Config{})

	mod := compile(t, e, wasmtest.Run(false))
	if !mod.IsComponent() {
		t.Error("component not reported as component")
	}
	if mod.HandlesHTTP() {
		t.Error("command component reported as HTTP handler")
	}
	if got := mod.Exports(); len(got) != 1 || got[0] != wasmtest.RunExport {
		t.Errorf("Exports() = %v", got)
	}
	if got := mod.Imports(); len(got) != 0 {
		t.Errorf("Imports() = %v", got)
	}
	if err := mod.Close(context.Background()); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestCompile_MalformedComponent(t *testing.T) {
	e := newEngine(t, Config{})
	header := []byte{0x00, 0x61, 0x73, 0x6d, 0x0d, 0x00, 0x01, 0x00}

	_, err := e.Compile(context.Background(), header)
	var se *errors.Error
	if !stderrors.As(err, &se) || se.Phase != errors.PhaseCompile {
		t.Fatalf("err = %v, want compile error", err)
	}
}

func TestCompile_InvalidBinary(t *testing.T) {
	e := newEngine(t, Config{})
	if _, err := e.Compile(context.Background(), []byte("not wasm")); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestIsComponent(t *testing.T) {
	if IsComponent(wasmtest.Noop()) {
		t.Error("core module reported as component")
	}
	if !IsComponent([]byte{0x00, 0x61, 0x73, 0x6d, 0x0d, 0x00, 0x01, 0x00}) {
		t.Error("component not detected")
	}
	if IsComponent([]byte{0x00}) {
		t.Error("short input reported as component")
	}
}

func TestModule_Run(t *testing.T) {
	e := newEngine(t, Config{})
	ctx := context.Background()

	tests := []struct {
		name     string
		wasm     []byte
		stdin    string
		wantOut  string
		wantExit uint32
		wantErr  bool
	}{
		{name: "noop", wasm: wasmtest.Noop()},
		{name: "exit zero", wasm: wasmtest.Exit(0)},
		{name: "exit non-zero", wasm: wasmtest.Exit(3), wantErr: true, wantExit: 3},
		{name: "trap", wasm: wasmtest.Trap(), wantErr: true},
		{name: "print", wasm: wasmtest.Print("hello"), wantOut: "hello"},
		{name: "echo", wasm: wasmtest.Echo("> "), stdin: "ping", wantOut: "> ping"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mod := compile(t, e, tc.wasm)
			var stdout bytes.Buffer
			err := mod.Run(ctx, RunConfig{
				Name:   tc.name,
				Stdin:  strings.NewReader(tc.stdin),
				Stdout: &stdout,
			})
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if tc.wantExit != 0 {
					var exitErr *ExitError
					if !stderrors.As(err, &exitErr) || exitErr.Code != tc.wantExit {
						t.Errorf("err = %v, want exit %d", err, tc.wantExit)
					}
				}
				return
			}
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if stdout.String() != tc.wantOut {
				t.Errorf("stdout = %q, want %q", stdout.String(), tc.wantOut)
			}
		})
	}
}

func TestModule_RunConcurrent(t *testing.T) {
	e := newEngine(t, Config{})
	mod := compile(t, e, wasmtest.Echo(""))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var out bytes.Buffer
			in := strings.Repeat("x", i+1)
			if err := mod.Run(context.Background(), RunConfig{Stdin: strings.NewReader(in), Stdout: &out}); err != nil {
				errs <- err
				return
			}
			if out.String() != in {
				errs <- stderrors.New("unexpected output " + out.String())
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestModule_RunCancelled(t *testing.T) {
	e := newEngine(t, Config{})
	mod := compile(t, e, wasmtest.Spin())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mod.Run(ctx, RunConfig{Name: "spin"}) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !stderrors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestInitWASI_Concurrent(t *testing.T) {
	e := newEngine(t, Config{})
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.InitWASI(context.Background()); err != nil {
				t.Errorf("InitWASI: %v", err)
			}
		}()
	}
	wg.Wait()
	if !e.wasiInitDone.Load() {
		t.Error("WASI not marked initialized")
	}
}

func TestModule_ImportsExports(t *testing.T) {
	e := newEngine(t, Config{})
	mod := compile(t, e, wasmtest.Print("x"))

	if got := mod.Imports(); len(got) != 1 || got[0] != "wasi_snapshot_preview1.fd_write" {
		t.Errorf("Imports() = %v", got)
	}
	if got := mod.Exports(); len(got) != 1 || got[0] != "_start" {
		t.Errorf("Exports() = %v", got)
	}
}

func TestPrecompile(t *testing.T) {
	ctx := context.Background()
	layer := func(mediaType string, data []byte) spinshim.Layer {
		return spinshim.Layer{MediaType: mediaType, Digest: digest.FromBytes(data), Data: data}
	}
	layers := []spinshim.Layer{
		layer(spinshim.MediaTypeWasm, wasmtest.Noop()),
		layer(spinshim.MediaTypeData, []byte("asset")),
		layer(spinshim.MediaTypeWasm, wasmtest.Run(false)),
		layer(spinshim.MediaTypeWasmPackage, wasmtest.Print("pkg")),
	}

	t.Run("requires cache", func(t *testing.T) {
		e := newEngine(t, Config{})
		if _, err := e.Precompile(ctx, layers); err == nil {
			t.Fatal("expected error without compilation cache")
		}
	})

	t.Run("compiles module and component layers", func(t *testing.T) {
		e := newEngine(t, Config{CompilationCacheDir: t.TempDir()})
		got, err := e.Precompile(ctx, layers)
		if err != nil {
			t.Fatalf("Precompile: %v", err)
		}
		want := []bool{true, false, true, true}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("layer %d compiled = %v, want %v", i, got[i], want[i])
			}
		}
	})

	t.Run("invalid module", func(t *testing.T) {
		e := newEngine(t, Config{CompilationCacheDir: t.TempDir()})
		bad := []spinshim.Layer{layer(spinshim.MediaTypeWasm, []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0xff})}
		if _, err := e.Precompile(ctx, bad); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestCompatibilityHash(t *testing.T) {
	a, b := CompatibilityHash(), CompatibilityHash()
	if a != b {
		t.Errorf("hash not stable: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(a))
	}
}
