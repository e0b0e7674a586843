package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"
	"go.uber.org/zap"

	spinshim "github.com/wippyai/spin-shim"
	"github.com/wippyai/spin-shim/cache"
	"github.com/wippyai/spin-shim/errors"
	"github.com/wippyai/spin-shim/source"
)

// PackageRoute is the route of the HTTP trigger synthesized for a packaged
// component.
const PackageRoute = "/..."

// Loader builds the application descriptor for a resolved source.
type Loader struct {
	cache  *cache.Cache
	logger *zap.Logger
	paths  spinshim.Paths
}

// NewLoader creates a loader resolving registry content against c. A nil
// logger disables logging.
func NewLoader(c *cache.Cache, paths spinshim.Paths, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{cache: c, paths: paths.WithDefaults(), logger: logger}
}

// Load produces the canonical descriptor for src.
func (l *Loader) Load(ctx context.Context, src source.Source) (*App, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.logger.Debug("loading application", zap.Stringer("source", src))

	switch s := src.(type) {
	case source.LocalFile:
		return LoadManifest(s.Path)
	case source.RegistryApplication:
		return l.loadLocked(l.paths.LockedApp)
	case source.RegistryPackage:
		return FromWasmFile(s.Path)
	default:
		return nil, errors.InvalidInput(errors.PhaseLoad, fmt.Sprintf("unknown source %v", src))
	}
}

func (l *Loader) loadLocked(path string) (*App, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(errors.PhaseLoad, "locked app", path)
		}
		return nil, errors.New(errors.PhaseLoad, errors.KindIO).
			Path(path).Detail("read locked app").Cause(err).Build()
	}
	a, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if err := l.resolveContent(a); err != nil {
		return nil, err
	}
	l.logger.Info("loaded locked app",
		zap.String("name", a.Name()),
		zap.Int("components", len(a.Components)),
		zap.Int("triggers", len(a.Triggers)))
	return a, nil
}

// resolveContent rewrites every digest reference in a registry app to the
// cache entry holding it.
func (l *Loader) resolveContent(a *App) error {
	for i := range a.Components {
		c := &a.Components[i]
		if err := l.resolveRef(c.ID, &c.Source.Content, l.cache.WasmPath, l.cache.HasWasm); err != nil {
			return err
		}
		for j := range c.Files {
			if err := l.resolveRef(c.ID, &c.Files[j].Content, l.cache.DataPath, l.cache.HasData); err != nil {
				return err
			}
		}
		for name, dep := range c.Dependencies {
			if err := l.resolveRef(c.ID, &dep.Source.Content, l.cache.WasmPath, l.cache.HasWasm); err != nil {
				return errors.Unresolved(c.ID, "dependency "+name, err)
			}
			c.Dependencies[name] = dep
		}
	}
	return nil
}

func (l *Loader) resolveRef(component string, ref *ContentRef, pathOf func(digest.Digest) string, has func(digest.Digest) bool) error {
	if ref.Digest == "" || ref.Inline != nil {
		return nil
	}
	d, err := digest.Parse(ref.Digest)
	if err != nil {
		return errors.Unresolved(component, fmt.Sprintf("invalid content digest %q", ref.Digest), err)
	}
	if !has(d) {
		return errors.New(errors.PhaseLoad, errors.KindUnresolved).
			Component(component).Digest(d.String()).Detail("content not found in cache").Build()
	}
	ref.Source = FileURL(pathOf(d))
	return nil
}

// FromWasmFile synthesizes a one-component app around a wasm file. The
// component id and app name derive from the file stem; a single HTTP
// trigger routes every path to it.
func FromWasmFile(path string) (*App, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindNotFound).
			Path(path).Detail("wasm package").Cause(err).Build()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindIO, err, "resolve package path")
	}
	stem := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	if stem == "" {
		stem = "component"
	}

	cfg, _ := marshalJSON(map[string]any{"route": PackageRoute, "component": stem})
	return &App{
		SpinLockVersion: LockVersion,
		Metadata: map[string]any{
			"name":     stem,
			"origin":   FileURL(abs),
			"triggers": map[string]any{"http": map[string]any{"base": "/"}},
		},
		Triggers: []Trigger{{
			ID:            "trigger--" + stem,
			TriggerType:   "http",
			TriggerConfig: cfg,
		}},
		Components: []Component{{
			ID:     stem,
			Source: ComponentSource{ContentType: ContentTypeWasm, Content: ContentRef{Source: FileURL(abs)}},
		}},
	}, nil
}

func marshalJSON(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
