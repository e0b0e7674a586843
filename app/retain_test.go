package app

import (
	"errors"
	"strings"
	"testing"

	shimerrors "github.com/wippyai/spin-shim/errors"
)

const chainedApp = `{
  "spin_lock_version": 1,
  "metadata": {"name": "chain"},
  "triggers": [
    {"id": "t-front", "trigger_type": "http", "trigger_config": {"route": "/", "component": "front"}},
    {"id": "t-back", "trigger_type": "http", "trigger_config": {"route": "/back", "component": "back"}},
    {"id": "t-jobs", "trigger_type": "redis", "trigger_config": {"channel": "jobs", "component": "jobs"}}
  ],
  "components": [
    {"id": "front", "metadata": {"allowed_outbound_hosts": ["http://back.spin.internal"]},
     "source": {"content_type": "application/wasm", "content": {"source": "file:///front.wasm"}}},
    {"id": "back", "source": {"content_type": "application/wasm", "content": {"source": "file:///back.wasm"}}},
    {"id": "jobs", "source": {"content_type": "application/wasm", "content": {"source": "file:///jobs.wasm"}},
     "dependencies": {"back": {"source": {"content_type": "application/wasm", "content": {"source": "file:///back.wasm"}}}}}
  ]
}`

func mustDecode(t *testing.T, data string) *App {
	t.Helper()
	a, err := Decode([]byte(data))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return a
}

func TestRetain(t *testing.T) {
	tests := []struct {
		name           string
		ids            []string
		wantComponents []string
		wantTriggers   []string
		wantMissing    string
	}{
		{name: "leaf", ids: []string{"back"}, wantComponents: []string{"back"}, wantTriggers: []string{"t-back"}},
		{name: "chain satisfied", ids: []string{"front", "back"}, wantComponents: []string{"front", "back"}, wantTriggers: []string{"t-front", "t-back"}},
		{name: "chain broken", ids: []string{"front"}, wantMissing: "back"},
		{name: "dependency broken", ids: []string{"jobs"}, wantMissing: "back"},
		{name: "unknown id", ids: []string{"ghost"}, wantMissing: "ghost"},
		{name: "all", ids: []string{"front", "back", "jobs"}, wantComponents: []string{"front", "back", "jobs"}, wantTriggers: []string{"t-front", "t-back", "t-jobs"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := mustDecode(t, chainedApp)
			got, err := Retain(a, tt.ids)

			if tt.wantMissing != "" {
				if !errors.Is(err, shimerrors.ErrUnresolved) {
					t.Fatalf("err = %v, want unresolved", err)
				}
				var se *shimerrors.Error
				if !errors.As(err, &se) || se.Component != tt.wantMissing {
					t.Errorf("error should name %q: %v", tt.wantMissing, err)
				}
				if !strings.Contains(err.Error(), tt.wantMissing) {
					t.Errorf("message should name %q: %v", tt.wantMissing, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Retain: %v", err)
			}

			var ids []string
			for _, c := range got.Components {
				ids = append(ids, c.ID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.wantComponents, ",") {
				t.Errorf("components = %v, want %v", ids, tt.wantComponents)
			}
			var triggers []string
			for _, tr := range got.Triggers {
				triggers = append(triggers, tr.ID)
			}
			if strings.Join(triggers, ",") != strings.Join(tt.wantTriggers, ",") {
				t.Errorf("triggers = %v, want %v", triggers, tt.wantTriggers)
			}
			if len(a.Components) != 3 || len(a.Triggers) != 3 {
				t.Error("Retain modified its input")
			}
		})
	}
}
