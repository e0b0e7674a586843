package commandtrigger

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/wippyai/spin-shim/app"
	"github.com/wippyai/spin-shim/engine"
	"github.com/wippyai/spin-shim/errors"
	"github.com/wippyai/spin-shim/internal/wasmtest"
	"github.com/wippyai/spin-shim/trigger"
)

func commandTrigger(id, component string) app.Trigger {
	raw, _ := json.Marshal(map[string]any{"component": component})
	return app.Trigger{ID: id, TriggerType: "command", TriggerConfig: raw}
}

func component(id string, wasm []byte) app.Component {
	return app.Component{ID: id, Source: app.ComponentSource{
		ContentType: app.ContentTypeWasm,
		Content:     app.ContentRef{Inline: wasm},
	}}
}

func start(t *testing.T, a *app.App, stdin string, stdout *bytes.Buffer) (trigger.Task, error) {
	t.Helper()
	e, err := engine.New(context.Background(), engine.Config{})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() { e.Close(context.Background()) })
	loader := trigger.NewComponentLoader(e, a, nil, nil, nil)
	t.Cleanup(func() { loader.Close() })
	return New().Start(context.Background(), &trigger.RunContext{
		App:        a,
		Components: loader,
		Stdin:      strings.NewReader(stdin),
		Stdout:     stdout,
	})
}

func TestCommand(t *testing.T) {
	tests := []struct {
		name       string
		app        *app.App
		stdin      string
		wantOut    string
		wantCode   uint32
		wantFailed bool
	}{
		{
			name: "prints",
			app: &app.App{
				Triggers:   []app.Trigger{commandTrigger("t", "hello")},
				Components: []app.Component{component("hello", wasmtest.Print("hello\n"))},
			},
			wantOut: "hello\n",
		},
		{
			name: "reads stdin",
			app: &app.App{
				Triggers:   []app.Trigger{commandTrigger("t", "cat")},
				Components: []app.Component{component("cat", wasmtest.Echo("> "))},
			},
			stdin:   "input",
			wantOut: "> input",
		},
		{
			name: "runs in order",
			app: &app.App{
				Triggers:   []app.Trigger{commandTrigger("first", "a"), commandTrigger("second", "b")},
				Components: []app.Component{component("b", wasmtest.Print("b")), component("a", wasmtest.Print("a"))},
			},
			wantOut: "ab",
		},
		{
			name: "exit zero",
			app: &app.App{
				Triggers:   []app.Trigger{commandTrigger("t", "ok")},
				Components: []app.Component{component("ok", wasmtest.Exit(0))},
			},
		},
		{
			name: "exit code stops the sequence",
			app: &app.App{
				Triggers:   []app.Trigger{commandTrigger("first", "fail"), commandTrigger("second", "after")},
				Components: []app.Component{component("fail", wasmtest.Exit(4)), component("after", wasmtest.Print("after"))},
			},
			wantCode:   4,
			wantFailed: true,
		},
		{
			name: "component run ok",
			app: &app.App{
				Triggers:   []app.Trigger{commandTrigger("first", "cli"), commandTrigger("second", "after")},
				Components: []app.Component{component("cli", wasmtest.Run(false)), component("after", wasmtest.Print("after"))},
			},
			wantOut: "after",
		},
		{
			name: "component run err",
			app: &app.App{
				Triggers:   []app.Trigger{commandTrigger("t", "cli")},
				Components: []app.Component{component("cli", wasmtest.Run(true))},
			},
			wantCode:   1,
			wantFailed: true,
		},
		{
			name: "trap",
			app: &app.App{
				Triggers:   []app.Trigger{commandTrigger("t", "bad")},
				Components: []app.Component{component("bad", wasmtest.Trap())},
			},
			wantFailed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			task, err := start(t, tt.app, tt.stdin, &out)
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			err = task(context.Background())
			if (err != nil) != tt.wantFailed {
				t.Fatalf("task = %v, wantFailed %v", err, tt.wantFailed)
			}
			if tt.wantCode != 0 {
				var exit *engine.ExitError
				if !stderrors.As(err, &exit) || exit.Code != tt.wantCode {
					t.Errorf("err = %v, want exit code %d", err, tt.wantCode)
				}
			}
			if out.String() != tt.wantOut {
				t.Errorf("stdout = %q, want %q", out.String(), tt.wantOut)
			}
		})
	}
}

func TestCommand_MissingComponent(t *testing.T) {
	a := &app.App{Triggers: []app.Trigger{{ID: "t", TriggerType: "command", TriggerConfig: json.RawMessage(`{}`)}}}
	_, err := start(t, a, "", &bytes.Buffer{})
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindInvalidInput {
		t.Fatalf("err = %v, want invalid input", err)
	}
}
