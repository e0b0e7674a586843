package engine

import (
	"context"
	stderrors "errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tetratelabs/wazero/sys"

	"github.com/wippyai/spin-shim/errors"
	"github.com/wippyai/spin-shim/internal/wasmtest"
)

func TestModule_RunComponent(t *testing.T) {
	e := newEngine(t, Config{})
	ctx := context.Background()

	tests := []struct {
		name     string
		wasm     []byte
		wantExit uint32
	}{
		{name: "ok", wasm: wasmtest.Run(false)},
		{name: "err", wasm: wasmtest.Run(true), wantExit: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mod := compile(t, e, tc.wasm)
			err := mod.Run(ctx, RunConfig{Name: tc.name, Args: []string{"--flag"}})
			if tc.wantExit == 0 {
				if err != nil {
					t.Fatalf("Run: %v", err)
				}
				return
			}
			var exitErr *ExitError
			if !stderrors.As(err, &exitErr) || exitErr.Code != tc.wantExit {
				t.Fatalf("err = %v, want exit %d", err, tc.wantExit)
			}
		})
	}
}

func TestModule_RunComponentRepeated(t *testing.T) {
	e := newEngine(t, Config{CompilationCacheDir: t.TempDir()})
	mod := compile(t, e, wasmtest.Run(false))

	for i := 0; i < 3; i++ {
		if err := mod.Run(context.Background(), RunConfig{}); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
}

func TestModule_RunComponentWithoutRunExport(t *testing.T) {
	e := newEngine(t, Config{})
	mod := compile(t, e, wasmtest.Handler())

	err := mod.Run(context.Background(), RunConfig{})
	var se *errors.Error
	if !stderrors.As(err, &se) || se.Kind != errors.KindUnsupported {
		t.Fatalf("err = %v, want unsupported", err)
	}
}

func TestModule_HandleHTTP(t *testing.T) {
	e := newEngine(t, Config{})
	ctx := context.Background()

	t.Run("core module", func(t *testing.T) {
		mod := compile(t, e, wasmtest.Noop())
		if mod.HandlesHTTP() {
			t.Fatal("core module reported as HTTP handler")
		}
		req := httptest.NewRequest("GET", "/", nil)
		if _, err := mod.HandleHTTP(ctx, RunConfig{}, req, nil); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("handler without response", func(t *testing.T) {
		mod := compile(t, e, wasmtest.Handler())
		if !mod.HandlesHTTP() {
			t.Fatal("handler component not detected")
		}
		if got := mod.Exports(); len(got) != 1 || got[0] != wasmtest.HandlerExport {
			t.Errorf("Exports() = %v", got)
		}

		req := httptest.NewRequest("POST", "/hello", strings.NewReader("ping"))
		resp, err := mod.HandleHTTP(ctx, RunConfig{Name: "web"}, req, []byte("ping"))
		if resp != nil {
			t.Errorf("resp = %+v, want nil", resp)
		}
		if err == nil || !strings.Contains(err.Error(), "without setting a response") {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestExitStatus(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		ctx      context.Context
		err      error
		name     string
		wantExit uint32
		wantNil  bool
		wantCtx  bool
	}{
		{name: "nil", ctx: context.Background(), wantNil: true},
		{name: "exit zero", ctx: context.Background(), err: sys.NewExitError(0), wantNil: true},
		{name: "exit non-zero", ctx: context.Background(), err: sys.NewExitError(3), wantExit: 3},
		{name: "exit error", ctx: context.Background(), err: &ExitError{Code: 1}, wantExit: 1},
		{name: "cancelled", ctx: cancelled, err: sys.NewExitError(sys.ExitCodeContextCanceled), wantCtx: true},
		{name: "trap", ctx: context.Background(), err: stderrors.New("unreachable")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := exitStatus(tc.ctx, "app", tc.err)
			switch {
			case tc.wantNil:
				if err != nil {
					t.Errorf("err = %v, want nil", err)
				}
			case tc.wantCtx:
				if !stderrors.Is(err, context.Canceled) {
					t.Errorf("err = %v, want context.Canceled", err)
				}
			case tc.wantExit != 0:
				var exitErr *ExitError
				if !stderrors.As(err, &exitErr) || exitErr.Code != tc.wantExit {
					t.Errorf("err = %v, want exit %d", err, tc.wantExit)
				}
			default:
				var se *errors.Error
				if !stderrors.As(err, &se) || se.Kind != errors.KindRuntime || se.Component != "app" {
					t.Errorf("err = %v, want runtime error", err)
				}
			}
		})
	}
}

func TestRunFailed(t *testing.T) {
	tests := []struct {
		name    string
		results []any
		want    bool
	}{
		{"no results", nil, false},
		{"ok", []any{map[string]any{"ok": nil}}, false},
		{"err", []any{map[string]any{"err": nil}}, true},
		{"not a result", []any{uint32(1)}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := runFailed(tc.results); got != tc.want {
				t.Errorf("runFailed(%v) = %v, want %v", tc.results, got, tc.want)
			}
		})
	}
}

func TestToKebabCase(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"Exit", "exit"},
		{"GetEnvironment", "get-environment"},
		{"MethodOutputStreamBlockingWriteAndFlush", "method-output-stream-blocking-write-and-flush"},
		{"SetHTTPStatus", "set-http-status"},
		{"ResourceDropIncomingRequest", "resource-drop-incoming-request"},
	}
	for _, tc := range tests {
		if got := toKebabCase(tc.in); got != tc.want {
			t.Errorf("toKebabCase(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestKebabToWitName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"poll", "poll"},
		{"method-pollable-ready", "[method]pollable.ready"},
		{"method-outgoing-response-set-status-code", "[method]outgoing-response.set-status-code"},
		{"static-incoming-body-finish", "[static]incoming-body.finish"},
		{"constructor-fields", "[constructor]fields"},
		{"resource-drop-input-stream", "[resource-drop]input-stream"},
		{"method-", "method-"},
	}
	for _, tc := range tests {
		if got := kebabToWitName(tc.in); got != tc.want {
			t.Errorf("kebabToWitName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSplitLowerName(t *testing.T) {
	tests := []struct {
		in, ns, fn string
	}{
		{"wasi:io/streams@0.2.0#[method]output-stream.write", "wasi:io/streams@0.2.0", "[method]output-stream.write"},
		{"wasi:cli/run@0.2.0#run", "wasi:cli/run@0.2.0", "run"},
		{"plain", "", "plain"},
	}
	for _, tc := range tests {
		ns, fn := splitLowerName(tc.in)
		if ns != tc.ns || fn != tc.fn {
			t.Errorf("splitLowerName(%q) = %q, %q", tc.in, ns, fn)
		}
	}
}

func TestParseNamespaceVersion(t *testing.T) {
	base, v, ok := parseNamespaceVersion("wasi:io/streams@0.2.8")
	if !ok || base != "wasi:io/streams" {
		t.Fatalf("parseNamespaceVersion = %q, %v, %v", base, v, ok)
	}
	older, _, _ := parseNamespaceVersion("wasi:io/streams@0.2.0")
	if older != base {
		t.Errorf("bases differ: %q %q", older, base)
	}
	if _, _, ok := parseNamespaceVersion("wasi:io/streams"); ok {
		t.Error("unversioned namespace reported a version")
	}
}

func TestIsResourceDropImport(t *testing.T) {
	if !isResourceDropImport("[resource-drop]fields") {
		t.Error("resource drop not detected")
	}
	if isResourceDropImport("[resource-drop]") || isResourceDropImport("[method]fields.get") {
		t.Error("false positive")
	}
}
