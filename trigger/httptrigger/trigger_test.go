package httptrigger

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wippyai/spin-shim/app"
	"github.com/wippyai/spin-shim/config"
	"github.com/wippyai/spin-shim/engine"
	"github.com/wippyai/spin-shim/internal/wasmtest"
	"github.com/wippyai/spin-shim/trigger"
)

func httpTrigger(id, route, component string) app.Trigger {
	cfg, _ := json.Marshal(map[string]any{"route": route, "component": component})
	return app.Trigger{ID: id, TriggerType: "http", TriggerConfig: cfg}
}

func component(id string, wasm []byte) app.Component {
	return app.Component{ID: id, Source: app.ComponentSource{
		ContentType: app.ContentTypeWasm,
		Content:     app.ContentRef{Inline: wasm},
	}}
}

func testApp(base string) *app.App {
	a := &app.App{
		Metadata: map[string]any{"name": "web"},
		Triggers: []app.Trigger{
			httpTrigger("root", "/...", "fallback"),
			httpTrigger("hello", "/hello", "hello"),
			httpTrigger("api", "/api/...", "echo"),
		},
		Components: []app.Component{
			component("fallback", wasmtest.Print("Content-Type: text/plain\nStatus: 404 Not Found\n\nnothing here")),
			component("hello", wasmtest.Print("Content-Type: text/plain\nX-Component: hello\n\nhello world")),
			component("echo", wasmtest.Echo("Content-Type: text/plain\n\n")),
		},
	}
	if base != "" {
		a.Metadata["triggers"] = map[string]any{"http": map[string]any{"base": base}}
	}
	return a
}

func TestRouter(t *testing.T) {
	tests := []struct {
		base      string
		path      string
		component string
		pathInfo  string
		found     bool
	}{
		{"", "/hello", "hello", "", true},
		{"", "/hello/more", "fallback", "/hello/more", true},
		{"", "/api", "echo", "", true},
		{"", "/api/users/1", "echo", "/users/1", true},
		{"", "/apix", "fallback", "/apix", true},
		{"", "/", "fallback", "/", true},
		{"/app", "/app/hello", "hello", "", true},
		{"/app", "/app/api/x", "echo", "/x", true},
		{"/app", "/other", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.base+tt.path, func(t *testing.T) {
			r, err := NewRouter(testApp(tt.base), "http")
			if err != nil {
				t.Fatalf("NewRouter: %v", err)
			}
			m, ok := r.Route(tt.path)
			if ok != tt.found {
				t.Fatalf("found = %v, want %v", ok, tt.found)
			}
			if !ok {
				return
			}
			if m.Route.Component != tt.component {
				t.Errorf("component = %q, want %q", m.Route.Component, tt.component)
			}
			if m.PathInfo != tt.pathInfo {
				t.Errorf("PathInfo = %q, want %q", m.PathInfo, tt.pathInfo)
			}
		})
	}
}

func TestRouter_Errors(t *testing.T) {
	t.Run("duplicate route", func(t *testing.T) {
		a := testApp("")
		a.Triggers = append(a.Triggers, httpTrigger("dup", "/hello", "echo"))
		if _, err := NewRouter(a, "http"); err == nil || !strings.Contains(err.Error(), "duplicate route") {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("unknown component", func(t *testing.T) {
		a := testApp("")
		a.Triggers = append(a.Triggers, httpTrigger("ghost", "/ghost", "ghost"))
		if _, err := NewRouter(a, "http"); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("unsupported executor", func(t *testing.T) {
		a := testApp("")
		cfg, _ := json.Marshal(map[string]any{"route": "/x", "component": "echo", "executor": map[string]any{"type": "wasi-http-proxy"}})
		a.Triggers = append(a.Triggers, app.Trigger{ID: "x", TriggerType: "http", TriggerConfig: cfg})
		if _, err := NewRouter(a, "http"); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("private route skipped", func(t *testing.T) {
		a := testApp("")
		cfg, _ := json.Marshal(map[string]any{"route": map[string]any{"private": true}, "component": "echo"})
		a.Triggers = append(a.Triggers, app.Trigger{ID: "p", TriggerType: "http", TriggerConfig: cfg})
		r, err := NewRouter(a, "http")
		if err != nil {
			t.Fatalf("NewRouter: %v", err)
		}
		if len(r.Routes()) != 3 {
			t.Errorf("routes = %v", r.Routes())
		}
	})
}

func TestParseCGIResponse(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		status  int
		body    string
		wantErr bool
	}{
		{name: "plain", out: "Content-Type: text/plain\n\nhi", status: 200, body: "hi"},
		{name: "crlf", out: "Content-Type: text/plain\r\n\r\nhi", status: 200, body: "hi"},
		{name: "status", out: "Status: 201 Created\nContent-Type: text/plain\n\nmade", status: 201, body: "made"},
		{name: "redirect", out: "Location: /elsewhere\n\n", status: 302},
		{name: "bad status", out: "Status: abc\n\n", wantErr: true},
		{name: "no headers", out: "just a body", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := parseCGIResponse([]byte(tt.out))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if resp.status != tt.status || string(resp.body) != tt.body {
				t.Errorf("got %d %q, want %d %q", resp.status, resp.body, tt.status, tt.body)
			}
			if resp.header.Get("Status") != "" {
				t.Error("Status header should be consumed")
			}
		})
	}
}

func TestCGIEnv(t *testing.T) {
	r := httptest.NewRequest("POST", "http://example.com:8080/api/users?x=1", strings.NewReader("body"))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("X-Request-Id", "abc")
	r.Header.Set("Authorization", "secret")
	route := &Route{Pattern: "/api/...", Prefix: "/api", Wildcard: true}

	env := cgiEnv(r, Match{Route: route, PathInfo: "/users"}, "/", 4)
	want := map[string]string{
		"REQUEST_METHOD":    "POST",
		"SCRIPT_NAME":       "/api",
		"PATH_INFO":         "/users",
		"QUERY_STRING":      "x=1",
		"SERVER_NAME":       "example.com",
		"SERVER_PORT":       "8080",
		"CONTENT_TYPE":      "application/json",
		"CONTENT_LENGTH":    "4",
		"HTTP_X_REQUEST_ID": "abc",
		"X_MATCHED_ROUTE":   "/api/...",
		"X_FULL_URL":        "http://example.com:8080/api/users?x=1",
	}
	for k, v := range want {
		if env[k] != v {
			t.Errorf("%s = %q, want %q", k, env[k], v)
		}
	}
	if _, ok := env["HTTP_AUTHORIZATION"]; ok {
		t.Error("Authorization must not be passed to the component")
	}
}

func TestCGIArgs(t *testing.T) {
	r := httptest.NewRequest("GET", "/run?alpha+beta", nil)
	if got := cgiArgs(Executor{}, r, "/run"); strings.Join(got, " ") != "alpha beta" {
		t.Errorf("default args = %v", got)
	}
	r = httptest.NewRequest("GET", "/run?k=v", nil)
	if got := cgiArgs(Executor{}, r, "/run"); len(got) != 0 {
		t.Errorf("keyword query should not become args: %v", got)
	}
	exec := Executor{Args: strings.Fields("prog --name ${SCRIPT_NAME}")}
	if got := cgiArgs(exec, r, "/run"); strings.Join(got, " ") != "--name /run" {
		t.Errorf("template args = %v", got)
	}
}

func newRunContext(t *testing.T, a *app.App, addr string) *trigger.RunContext {
	t.Helper()
	e, err := engine.New(context.Background(), engine.Config{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close(context.Background()) })
	loader := trigger.NewComponentLoader(e, a, nil, nil, nil)
	t.Cleanup(func() { loader.Close() })
	cfg := config.FromEnv(nil)
	cfg.HTTPListenAddr = addr
	return &trigger.RunContext{App: a, Components: loader, Config: cfg}
}

func TestHandler(t *testing.T) {
	rc := newRunContext(t, testApp(""), "")
	router, err := NewRouter(rc.App, "http")
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(NewHandler(router, rc.Components, nil))
	defer srv.Close()

	tests := []struct {
		method string
		path   string
		body   string
		status int
		want   string
		header string
	}{
		{"GET", "/hello", "", 200, "hello world", "hello"},
		{"POST", "/api/echo", "ping", 200, "ping", ""},
		{"GET", "/missing", "", 404, "nothing here", ""},
		{"GET", HealthPath, "", 200, "OK", ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+tt.path, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if string(body) != tt.want {
				t.Errorf("body = %q, want %q", body, tt.want)
			}
			if tt.header != "" && resp.Header.Get("X-Component") != tt.header {
				t.Errorf("X-Component = %q", resp.Header.Get("X-Component"))
			}
		})
	}
}

func TestHandler_ComponentFailure(t *testing.T) {
	a := &app.App{
		Triggers:   []app.Trigger{httpTrigger("t", "/...", "trap")},
		Components: []app.Component{component("trap", wasmtest.Trap())},
	}
	rc := newRunContext(t, a, "")
	router, err := NewRouter(a, "http")
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	NewHandler(router, rc.Components, nil).ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestTrigger_StartServeShutdown(t *testing.T) {
	rc := newRunContext(t, testApp(""), "127.0.0.1:0")
	tr := New()
	var bound net.Listener
	tr.listen = func(network, addr string) (net.Listener, error) {
		ln, err := net.Listen(network, addr)
		bound = ln
		return ln, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	task, err := tr.Start(ctx, rc)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- task(ctx) }()

	resp, err := http.Get("http://" + bound.Addr().String() + "/hello")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "hello world" {
		t.Errorf("body = %q", body)
	}

	cancel()
	select {
	case err := <-done:
		if !stderrors.Is(err, context.Canceled) {
			t.Errorf("task err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("task did not stop")
	}
}

func TestTrigger_BindFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()

	rc := newRunContext(t, testApp(""), busy.Addr().String())
	if _, err := New().Start(context.Background(), rc); err == nil {
		t.Fatal("expected bind failure")
	}
}

func TestHandler_Executors(t *testing.T) {
	withExecutor := func(id, route, comp, exec string) app.Trigger {
		cfg := map[string]any{"route": route, "component": comp}
		if exec != "" {
			cfg["executor"] = map[string]any{"type": exec}
		}
		data, _ := json.Marshal(cfg)
		return app.Trigger{ID: id, TriggerType: "http", TriggerConfig: data}
	}
	a := &app.App{
		Triggers: []app.Trigger{
			withExecutor("auto", "/auto", "handler", ""),
			withExecutor("spin", "/spin", "handler", ExecutorSpin),
			withExecutor("wagi", "/wagi", "hello", ExecutorWagi),
			withExecutor("core", "/core", "hello", ""),
			withExecutor("forced", "/forced", "hello", ExecutorSpin),
		},
		Components: []app.Component{
			component("handler", wasmtest.Handler()),
			component("hello", wasmtest.Print("Content-Type: text/plain\n\nhello world")),
		},
	}
	rc := newRunContext(t, a, "")
	router, err := NewRouter(a, "http")
	if err != nil {
		t.Fatal(err)
	}
	h := NewHandler(router, rc.Components, nil)

	tests := []struct {
		path   string
		status int
		body   string
	}{
		// The fixture handler sets no response, which is a server error.
		{"/auto", http.StatusInternalServerError, ""},
		{"/spin", http.StatusInternalServerError, ""},
		{"/wagi", http.StatusOK, "hello world"},
		{"/core", http.StatusOK, "hello world"},
		{"/forced", http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest("GET", tt.path, nil))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.body != "" && rec.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.body)
			}
		})
	}

	handles, err := rc.Components.HandlesHTTP(context.Background(), "handler")
	if err != nil || !handles {
		t.Errorf("HandlesHTTP(handler) = %v, %v", handles, err)
	}
}

func TestWriteResponse_DefaultStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	writeResponse(rec, 0, http.Header{"X-Test": {"a", "b"}}, []byte("body"))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Values("X-Test"); len(got) != 2 {
		t.Errorf("X-Test = %v", got)
	}
	if rec.Body.String() != "body" {
		t.Errorf("body = %q", rec.Body.String())
	}
}
