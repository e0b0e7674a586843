package app

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"

	"github.com/wippyai/spin-shim/errors"
)

// ManifestVersion is the only spin.toml manifest version understood.
const ManifestVersion = 2

// ContentTypeWasm is the content type of every component source.
const ContentTypeWasm = "application/wasm"

type manifestFile struct {
	Application manifestApplication          `toml:"application"`
	Variables   map[string]manifestVariable  `toml:"variables"`
	Trigger     map[string][]map[string]any  `toml:"trigger"`
	Component   map[string]manifestComponent `toml:"component"`
	Version     int                          `toml:"spin_manifest_version"`
}

type manifestApplication struct {
	Trigger     map[string]map[string]any `toml:"trigger"`
	Name        string                    `toml:"name"`
	Version     string                    `toml:"version"`
	Description string                    `toml:"description"`
	Authors     []string                  `toml:"authors"`
}

type manifestVariable struct {
	Default  *string `toml:"default"`
	Required bool    `toml:"required"`
	Secret   bool    `toml:"secret"`
}

type manifestComponent struct {
	Source               any               `toml:"source"`
	Environment          map[string]string `toml:"environment"`
	Variables            map[string]string `toml:"variables"`
	Dependencies         map[string]any    `toml:"dependencies"`
	Build                map[string]any    `toml:"build"`
	Description          string            `toml:"description"`
	Files                []any             `toml:"files"`
	ExcludeFiles         []string          `toml:"exclude_files"`
	AllowedOutboundHosts []string          `toml:"allowed_outbound_hosts"`
	KeyValueStores       []string          `toml:"key_value_stores"`
	SQLiteDatabases      []string          `toml:"sqlite_databases"`
	AIModels             []string          `toml:"ai_models"`
}

// LoadManifest reads a version 2 spin.toml and produces the equivalent
// locked app. Component sources and files are referenced in place through
// file:// URLs relative to the manifest directory.
func LoadManifest(path string) (*App, error) {
	var m manifestFile
	meta, err := toml.DecodeFile(path, &m)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(errors.PhaseLoad, "manifest", path)
		}
		return nil, errors.ParseFailed(errors.PhaseLoad, "manifest "+path, err)
	}
	if !meta.IsDefined("spin_manifest_version") {
		return nil, errors.InvalidInput(errors.PhaseLoad, "manifest has no spin_manifest_version")
	}
	if m.Version != ManifestVersion {
		return nil, errors.Unsupported(errors.PhaseLoad,
			fmt.Sprintf("spin_manifest_version %d (only %d is supported)", m.Version, ManifestVersion))
	}

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindIO, err, "resolve manifest directory")
	}
	return lockManifest(&m, dir, path)
}

func lockManifest(m *manifestFile, dir, path string) (*App, error) {
	a := &App{
		SpinLockVersion: LockVersion,
		Metadata:        map[string]any{"name": m.Application.Name},
		Variables:       make(map[string]Variable, len(m.Variables)),
	}
	if m.Application.Version != "" {
		a.Metadata["version"] = m.Application.Version
	}
	if m.Application.Description != "" {
		a.Metadata["description"] = m.Application.Description
	}
	if len(m.Application.Authors) > 0 {
		authors := make([]any, len(m.Application.Authors))
		for i, s := range m.Application.Authors {
			authors[i] = s
		}
		a.Metadata["authors"] = authors
	}
	if abs, err := filepath.Abs(path); err == nil {
		a.Metadata["origin"] = FileURL(abs)
	}
	if len(m.Application.Trigger) > 0 {
		triggers := make(map[string]any, len(m.Application.Trigger))
		for typ, settings := range m.Application.Trigger {
			triggers[typ] = settings
		}
		a.Metadata["triggers"] = triggers
	}

	for name, v := range m.Variables {
		if v.Required && v.Default != nil {
			return nil, errors.InvalidInput(errors.PhaseLoad,
				fmt.Sprintf("variable %q cannot be both required and have a default", name))
		}
		if !v.Required && v.Default == nil {
			return nil, errors.InvalidInput(errors.PhaseLoad,
				fmt.Sprintf("variable %q must either be required or have a default", name))
		}
		a.Variables[name] = Variable{Default: v.Default, Secret: v.Secret}
	}

	ids := make([]string, 0, len(m.Component))
	for id := range m.Component {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		c, err := lockComponent(id, m.Component[id], dir)
		if err != nil {
			return nil, err
		}
		a.Components = append(a.Components, c)
	}

	types := make([]string, 0, len(m.Trigger))
	for typ := range m.Trigger {
		types = append(types, typ)
	}
	sort.Strings(types)
	for _, typ := range types {
		for i, table := range m.Trigger[typ] {
			t, inline, err := lockTrigger(typ, i, table, dir)
			if err != nil {
				return nil, err
			}
			if inline != nil {
				a.Components = append(a.Components, *inline)
			}
			if id := t.ComponentID(); id != "" {
				if _, ok := a.Component(id); !ok {
					return nil, errors.New(errors.PhaseLoad, errors.KindNotFound).
						Trigger(typ).Component(id).Detail("trigger %s references unknown component", t.ID).Build()
				}
			}
			a.Triggers = append(a.Triggers, t)
		}
	}
	return a, nil
}

func lockTrigger(typ string, index int, table map[string]any, dir string) (Trigger, *Component, error) {
	cfg := make(map[string]any, len(table))
	for k, v := range table {
		cfg[k] = v
	}

	var inline *Component
	switch c := cfg["component"].(type) {
	case string, nil:
	case map[string]any:
		id := fmt.Sprintf("%s-trigger-%d", typ, index)
		if s, ok := cfg["id"].(string); ok && s != "" {
			id = s + "-component"
		}
		var mc manifestComponent
		if err := remarshal(c, &mc); err != nil {
			return Trigger{}, nil, errors.ParseFailed(errors.PhaseLoad, "inline component of "+typ+" trigger", err)
		}
		locked, err := lockComponent(id, mc, dir)
		if err != nil {
			return Trigger{}, nil, err
		}
		inline = &locked
		cfg["component"] = id
	default:
		return Trigger{}, nil, errors.InvalidInput(errors.PhaseLoad,
			fmt.Sprintf("%s trigger %d: component must be an id or a table", typ, index))
	}

	id, _ := cfg["id"].(string)
	delete(cfg, "id")
	if id == "" {
		id = fmt.Sprintf("%s-%d", typ, index)
		if comp, ok := cfg["component"].(string); ok && comp != "" {
			id = fmt.Sprintf("%s-%s-%d", typ, comp, index)
		}
	}

	raw, err := marshalJSON(cfg)
	if err != nil {
		return Trigger{}, nil, errors.ParseFailed(errors.PhaseLoad, typ+" trigger config", err)
	}
	return Trigger{ID: id, TriggerType: typ, TriggerConfig: raw}, inline, nil
}

func lockComponent(id string, mc manifestComponent, dir string) (Component, error) {
	c := Component{
		ID:       id,
		Metadata: map[string]any{},
		Env:      mc.Environment,
		Config:   mc.Variables,
	}

	switch src := mc.Source.(type) {
	case string:
		c.Source = ComponentSource{
			ContentType: ContentTypeWasm,
			Content:     ContentRef{Source: FileURL(absUnder(dir, src))},
		}
	case map[string]any:
		return Component{}, errors.New(errors.PhaseLoad, errors.KindUnsupported).
			Component(id).Detail("remote component sources are not fetched by the shim").Build()
	case nil:
		return Component{}, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
			Component(id).Detail("component has no source").Build()
	default:
		return Component{}, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
			Component(id).Detail("component source must be a path").Build()
	}

	if mc.Description != "" {
		c.Metadata["description"] = mc.Description
	}
	setStrings(c.Metadata, "allowed_outbound_hosts", mc.AllowedOutboundHosts)
	setStrings(c.Metadata, "key_value_stores", mc.KeyValueStores)
	setStrings(c.Metadata, "databases", mc.SQLiteDatabases)
	setStrings(c.Metadata, "ai_models", mc.AIModels)

	files, err := lockFiles(id, mc.Files, mc.ExcludeFiles, dir)
	if err != nil {
		return Component{}, err
	}
	c.Files = files

	if len(mc.Dependencies) > 0 {
		c.Dependencies = make(map[string]Dependency, len(mc.Dependencies))
		for name, dep := range mc.Dependencies {
			d, err := lockDependency(id, name, dep, dir)
			if err != nil {
				return Component{}, err
			}
			c.Dependencies[name] = d
		}
	}
	return c, nil
}

func lockDependency(component, name string, dep any, dir string) (Dependency, error) {
	table, ok := dep.(map[string]any)
	if !ok {
		return Dependency{}, errors.New(errors.PhaseLoad, errors.KindUnsupported).
			Component(component).Detail("dependency %q: registry version references are not fetched by the shim", name).Build()
	}
	p, _ := table["path"].(string)
	if p == "" {
		return Dependency{}, errors.New(errors.PhaseLoad, errors.KindUnsupported).
			Component(component).Detail("dependency %q: only local path dependencies are supported", name).Build()
	}
	d := Dependency{Source: ComponentSource{
		ContentType: ContentTypeWasm,
		Content:     ContentRef{Source: FileURL(absUnder(dir, p))},
	}}
	if export, ok := table["export"].(string); ok {
		d.Export = &export
	}
	return d, nil
}

// lockFiles expands component file mounts. A string is a glob relative to
// the manifest directory, with ** matching any number of directories; every
// matched file is mounted at the same relative path. A table maps source to
// destination. exclude_files patterns use the same syntax.
func lockFiles(component string, entries []any, exclude []string, dir string) ([]ContentPath, error) {
	for _, p := range exclude {
		if !doublestar.ValidatePattern(p) {
			return nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
				Component(component).Detail("exclude_files pattern %q", p).Build()
		}
	}

	fsys := os.DirFS(dir)
	var out []ContentPath
	for _, entry := range entries {
		switch e := entry.(type) {
		case string:
			pattern := strings.TrimPrefix(filepath.ToSlash(e), "./")
			matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
			if err != nil {
				return nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
					Component(component).Detail("files pattern %q", e).Cause(err).Build()
			}
			sort.Strings(matches)
			for _, rel := range matches {
				if excluded(rel, exclude) {
					continue
				}
				out = append(out, ContentPath{
					Path:    rel,
					Content: ContentRef{Source: FileURL(filepath.Join(dir, filepath.FromSlash(rel)))},
				})
			}
		case map[string]any:
			src, _ := e["source"].(string)
			dst, _ := e["destination"].(string)
			if src == "" || dst == "" {
				return nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
					Component(component).Detail("files entry needs both source and destination").Build()
			}
			out = append(out, ContentPath{
				Path:    dst,
				Content: ContentRef{Source: FileURL(absUnder(dir, src))},
			})
		default:
			return nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
				Component(component).Detail("files entry must be a pattern or a table").Build()
		}
	}
	return out, nil
}

// excluded reports whether the slash-separated rel matches any pattern.
// Patterns are validated by lockFiles.
func excluded(rel string, patterns []string) bool {
	for _, p := range patterns {
		if doublestar.MatchUnvalidated(strings.TrimPrefix(p, "./"), rel) {
			return true
		}
	}
	return false
}

func absUnder(dir, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(dir, p)
}

func setStrings(m map[string]any, key string, values []string) {
	if len(values) == 0 {
		return
	}
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	m[key] = out
}

// remarshal converts a decoded TOML table into a typed struct by
// re-encoding it.
func remarshal(in map[string]any, out any) error {
	var sb strings.Builder
	if err := toml.NewEncoder(&sb).Encode(in); err != nil {
		return err
	}
	_, err := toml.Decode(sb.String(), out)
	return err
}
