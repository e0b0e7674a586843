package app

import (
	"testing"
)

func strPtr(s string) *string { return &s }

func TestResolveVariables(t *testing.T) {
	a := &App{Variables: map[string]Variable{
		"greeting": {Default: strPtr("hello")},
		"api_key":  {Secret: true},
	}}

	tests := []struct {
		name     string
		env      map[string]string
		prefixes []string
		want     Variables
		wantErr  bool
	}{
		{
			name:     "defaults and env",
			env:      map[string]string{"SPIN_VARIABLE_API_KEY": "k1"},
			prefixes: []string{"SPIN_VARIABLE"},
			want:     Variables{"greeting": "hello", "api_key": "k1"},
		},
		{
			name:     "env overrides default",
			env:      map[string]string{"SPIN_VARIABLE_API_KEY": "k1", "SPIN_VARIABLE_GREETING": "hi"},
			prefixes: []string{"SPIN_VARIABLE"},
			want:     Variables{"greeting": "hi", "api_key": "k1"},
		},
		{
			name:     "first prefix wins",
			env:      map[string]string{"APP_API_KEY": "a", "SPIN_VARIABLE_API_KEY": "b"},
			prefixes: []string{"APP_", "SPIN_VARIABLE"},
			want:     Variables{"greeting": "hello", "api_key": "a"},
		},
		{
			name:     "required missing",
			env:      map[string]string{},
			prefixes: []string{"SPIN_VARIABLE"},
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveVariables(a, tt.env, tt.prefixes)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveVariables: %v", err)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestComponentConfig(t *testing.T) {
	vars := Variables{"greeting": "hello", "name": "spin"}

	c := &Component{ID: "c", Config: map[string]string{
		"message": "{{ greeting }}, {{name}}!",
		"plain":   "static",
	}}
	got, err := vars.ComponentConfig(c)
	if err != nil {
		t.Fatalf("ComponentConfig: %v", err)
	}
	if got["message"] != "hello, spin!" || got["plain"] != "static" {
		t.Errorf("config = %v", got)
	}
	got["plain"] = "mutated"
	if c.Config["plain"] != "static" {
		t.Error("ComponentConfig must return a fresh map")
	}

	bad := &Component{ID: "c", Config: map[string]string{"k": "{{ missing }}"}}
	if _, err := vars.ComponentConfig(bad); err == nil {
		t.Error("expected error for unknown variable")
	}
}
