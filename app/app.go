package app

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/wippyai/spin-shim/errors"
)

// LockVersion is the locked app format version the shim reads and writes.
const LockVersion = 1

// Features a locked app may list in must_understand.
const (
	FeatureHostRequirements      = "host_requirements"
	FeatureComponentDependencies = "component_dependencies"
)

// App is the canonical, fully resolved application descriptor. It is built
// once per run and shared read-only by every trigger task.
type App struct {
	Metadata         map[string]any      `json:"metadata,omitempty"`
	HostRequirements map[string]any      `json:"host_requirements,omitempty"`
	Variables        map[string]Variable `json:"variables,omitempty"`
	MustUnderstand   []string            `json:"must_understand,omitempty"`
	Triggers         []Trigger           `json:"triggers"`
	Components       []Component         `json:"components"`
	SpinLockVersion  int                 `json:"spin_lock_version"`
}

// Variable is an application variable. A variable without a default is
// required.
type Variable struct {
	Default *string `json:"default,omitempty"`
	Secret  bool    `json:"secret"`
}

// Required reports whether the variable has no default.
func (v Variable) Required() bool {
	return v.Default == nil
}

// Trigger binds a trigger type to a component through trigger_config.
type Trigger struct {
	ID            string          `json:"id"`
	TriggerType   string          `json:"trigger_type"`
	TriggerConfig json.RawMessage `json:"trigger_config,omitempty"`
}

// Component is one wasm component and its mounts.
type Component struct {
	Metadata     map[string]any        `json:"metadata,omitempty"`
	Env          map[string]string     `json:"env,omitempty"`
	Config       map[string]string     `json:"config,omitempty"`
	Dependencies map[string]Dependency `json:"dependencies,omitempty"`
	ID           string                `json:"id"`
	Source       ComponentSource       `json:"source"`
	Files        []ContentPath         `json:"files,omitempty"`
}

// ComponentSource is the wasm binary of a component.
type ComponentSource struct {
	ContentType string     `json:"content_type"`
	Content     ContentRef `json:"content"`
}

// Dependency is a component-model dependency of a component.
type Dependency struct {
	Export  *string         `json:"export,omitempty"`
	Inherit json.RawMessage `json:"inherit,omitempty"`
	Source  ComponentSource `json:"source"`
}

// ContentPath is a file or directory mounted into a component at Path.
type ContentPath struct {
	Path    string     `json:"path"`
	Content ContentRef `json:"content"`
}

// ContentRef points at content by URL, inline bytes or digest.
type ContentRef struct {
	Source string      `json:"source,omitempty"`
	Digest string      `json:"digest,omitempty"`
	Inline InlineBytes `json:"inline,omitempty"`
}

// InlineBytes accepts either a base64 string or a JSON array of byte values.
type InlineBytes []byte

// UnmarshalJSON implements json.Unmarshaler.
func (b *InlineBytes) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return err
		}
		*b = decoded
		return nil
	}
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("inline byte %d out of range", v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// Name returns the application name from metadata, or "" if absent.
func (a *App) Name() string {
	name, _ := a.Metadata["name"].(string)
	return name
}

// Component returns the component with the given id.
func (a *App) Component(id string) (*Component, bool) {
	for i := range a.Components {
		if a.Components[i].ID == id {
			return &a.Components[i], true
		}
	}
	return nil, false
}

// TriggersOfType returns the triggers whose type is triggerType, in
// declaration order.
func (a *App) TriggersOfType(triggerType string) []Trigger {
	var out []Trigger
	for _, t := range a.Triggers {
		if t.TriggerType == triggerType {
			out = append(out, t)
		}
	}
	return out
}

// TriggerMetadata returns the application-level settings for a trigger
// type, stored under metadata.triggers.<type>.
func (a *App) TriggerMetadata(triggerType string) map[string]any {
	triggers, _ := a.Metadata["triggers"].(map[string]any)
	settings, _ := triggers[triggerType].(map[string]any)
	return settings
}

// Clone returns a deep copy of the app. Consumers that need to change a
// descriptor work on a clone; the shared copy is never mutated.
func (a *App) Clone() *App {
	data, err := json.Marshal(a)
	if err != nil {
		panic("app: clone marshal: " + err.Error())
	}
	var out App
	if err := json.Unmarshal(data, &out); err != nil {
		panic("app: clone unmarshal: " + err.Error())
	}
	return &out
}

// Decode parses a locked app and checks the must_understand list.
func Decode(data []byte) (*App, error) {
	var a App
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, errors.ParseFailed(errors.PhaseLoad, "locked app", err)
	}
	if a.SpinLockVersion != 0 && a.SpinLockVersion != LockVersion {
		return nil, errors.Unsupported(errors.PhaseLoad,
			fmt.Sprintf("locked app version %d", a.SpinLockVersion))
	}
	for _, feature := range a.MustUnderstand {
		if feature != FeatureHostRequirements && feature != FeatureComponentDependencies {
			return nil, errors.Unsupported(errors.PhaseLoad,
				fmt.Sprintf("cannot load app: must understand unknown feature %q", feature))
		}
	}
	return &a, nil
}

// Encode renders the app as indented locked app JSON.
func (a *App) Encode() ([]byte, error) {
	return json.MarshalIndent(a, "", "  ")
}

// ComponentID returns trigger_config.component, or "" when absent.
func (t Trigger) ComponentID() string {
	var cfg struct {
		Component string `json:"component"`
	}
	if len(t.TriggerConfig) == 0 {
		return ""
	}
	if err := json.Unmarshal(t.TriggerConfig, &cfg); err != nil {
		return ""
	}
	return cfg.Component
}

// DecodeConfig unmarshals trigger_config into out.
func (t Trigger) DecodeConfig(out any) error {
	if len(t.TriggerConfig) == 0 {
		return nil
	}
	if err := json.Unmarshal(t.TriggerConfig, out); err != nil {
		return errors.New(errors.PhaseLoad, errors.KindInvalidData).
			Trigger(t.TriggerType).Detail("decode trigger_config of %s", t.ID).Cause(err).Build()
	}
	return nil
}

// AllowedOutboundHosts returns metadata.allowed_outbound_hosts.
func (c *Component) AllowedOutboundHosts() []string {
	raw, _ := c.Metadata["allowed_outbound_hosts"].([]any)
	out := make([]string, 0, len(raw))
	for _, h := range raw {
		if s, ok := h.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// FileURL converts an absolute filesystem path to a file:// URL.
func FileURL(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}

// LocalPath returns the filesystem path behind a file:// source.
func (r ContentRef) LocalPath() (string, error) {
	if r.Source == "" {
		return "", fmt.Errorf("content has no source")
	}
	u, err := url.Parse(r.Source)
	if err != nil {
		return "", fmt.Errorf("parse content source %q: %w", r.Source, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("content source %q is not a local file", r.Source)
	}
	return filepath.FromSlash(u.Path), nil
}

// Read returns the referenced bytes: inline content first, then the local
// file named by Source.
func (r ContentRef) Read() ([]byte, error) {
	if r.Inline != nil {
		return []byte(r.Inline), nil
	}
	path, err := r.LocalPath()
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// serviceChainHost extracts the component id from an allowed outbound host
// of the form scheme://<id>.spin.internal[:port].
func serviceChainHost(host string) (string, bool) {
	rest := host
	if _, after, ok := strings.Cut(host, "://"); ok {
		rest = after
	}
	rest, _, _ = strings.Cut(rest, "/")
	if h, _, ok := strings.Cut(rest, ":"); ok {
		rest = h
	}
	id, ok := strings.CutSuffix(rest, ".spin.internal")
	if !ok || id == "" || id == "*" {
		return "", false
	}
	return id, true
}
