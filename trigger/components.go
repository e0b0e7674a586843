package trigger

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/spin-shim/app"
	"github.com/wippyai/spin-shim/engine"
	"github.com/wippyai/spin-shim/errors"
)

// ConfigEnvPrefix prefixes component config keys exposed as environment
// variables.
const ConfigEnvPrefix = "SPIN_CONFIG_"

// Call is one component invocation.
type Call struct {
	Stdin     io.Reader
	Stdout    io.Writer
	Stderr    io.Writer
	Env       map[string]string
	Component string
	Args      []string
}

// ComponentLoader compiles each component once and runs instances of it.
// It is shared by every trigger of a run and is safe for concurrent use.
type ComponentLoader struct {
	engine    *engine.Engine
	app       *app.App
	variables app.Variables
	logger    *zap.Logger
	stderr    io.Writer
	stageRoot string

	mu       sync.Mutex
	prepared map[string]*prepared
	closed   bool
}

type prepared struct {
	once     sync.Once
	err      error
	module   *engine.Module
	env      map[string]string
	mounts   []engine.Mount
	outbound []string
}

// NewComponentLoader creates a loader for the components of a. Guest
// stderr goes to stderr when no per-call writer is given.
func NewComponentLoader(e *engine.Engine, a *app.App, vars app.Variables, stderr io.Writer, logger *zap.Logger) *ComponentLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stderr == nil {
		stderr = io.Discard
	}
	return &ComponentLoader{
		engine:    e,
		app:       a,
		variables: vars,
		logger:    logger,
		stderr:    stderr,
		prepared:  make(map[string]*prepared),
	}
}

// Prepare compiles the component and stages its files. Repeated calls
// return the first result.
func (l *ComponentLoader) Prepare(ctx context.Context, id string) error {
	_, err := l.prepare(ctx, id)
	return err
}

func (l *ComponentLoader) prepare(ctx context.Context, id string) (*prepared, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, errors.InvalidInput(errors.PhaseRun, "component loader is closed")
	}
	p, ok := l.prepared[id]
	if !ok {
		p = &prepared{}
		l.prepared[id] = p
	}
	l.mu.Unlock()

	p.once.Do(func() {
		p.err = l.build(context.WithoutCancel(ctx), id, p)
	})
	return p, p.err
}

func (l *ComponentLoader) build(ctx context.Context, id string, p *prepared) error {
	c, ok := l.app.Component(id)
	if !ok {
		return errors.NotFound(errors.PhaseLoad, "component", id)
	}

	wasm, err := c.Source.Content.Read()
	if err != nil {
		return errors.Unresolved(id, "read component source", err)
	}
	mod, err := l.engine.Compile(ctx, wasm)
	if err != nil {
		var se *errors.Error
		if stderrors.As(err, &se) && se.Component == "" {
			se.Component = id
		}
		return err
	}

	cfg, err := l.variables.ComponentConfig(c)
	if err != nil {
		return err
	}
	env := make(map[string]string, len(c.Env)+len(cfg))
	for k, v := range cfg {
		env[ConfigEnvPrefix+envKey(k)] = v
	}
	for k, v := range c.Env {
		env[k] = v
	}

	mounts, err := l.stage(c)
	if err != nil {
		return err
	}

	p.module = mod
	p.env = env
	p.mounts = mounts
	p.outbound = c.AllowedOutboundHosts()
	l.logger.Debug("component prepared",
		zap.String("component", id),
		zap.Int("files", len(c.Files)),
		zap.Strings("imports", mod.Imports()))
	return nil
}

// stage mounts local directories read-only at their guest paths, so
// changes on the host stay visible. Inline content and single files are
// written to a private directory mounted read-only at the guest root.
func (l *ComponentLoader) stage(c *app.Component) ([]engine.Mount, error) {
	var dirs []engine.Mount
	root := ""

	for _, f := range c.Files {
		guest := path.Clean("/" + f.Path)

		var src string
		if f.Content.Inline == nil {
			var err error
			if src, err = f.Content.LocalPath(); err != nil {
				return nil, stageError(c.ID, f.Path, err)
			}
			info, err := os.Stat(src)
			if err != nil {
				return nil, stageError(c.ID, f.Path, err)
			}
			if info.IsDir() {
				dirs = append(dirs, engine.Mount{HostPath: src, GuestPath: guest, ReadOnly: true})
				continue
			}
		}

		if root == "" {
			var err error
			if root, err = l.componentStageDir(c.ID); err != nil {
				return nil, err
			}
		}
		dst := filepath.Join(root, filepath.FromSlash(guest))
		var err error
		if f.Content.Inline != nil {
			err = writeStaged(dst, f.Content.Inline)
		} else {
			err = copyFile(src, dst)
		}
		if err != nil {
			return nil, stageError(c.ID, f.Path, err)
		}
	}

	if root == "" {
		return dirs, nil
	}
	return append([]engine.Mount{{HostPath: root, GuestPath: "/", ReadOnly: true}}, dirs...), nil
}

func (l *ComponentLoader) componentStageDir(id string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stageRoot == "" {
		dir, err := os.MkdirTemp("", "spin-shim-files-")
		if err != nil {
			return "", errors.Wrap(errors.PhaseLoad, errors.KindIO, err, "create staging directory")
		}
		l.stageRoot = dir
	}
	dir := filepath.Join(l.stageRoot, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(errors.PhaseLoad, errors.KindIO, err, "create component staging directory")
	}
	return dir, nil
}

// Run executes one instance of call.Component. Call env entries override
// the component's own.
func (l *ComponentLoader) Run(ctx context.Context, call Call) error {
	p, err := l.prepare(ctx, call.Component)
	if err != nil {
		return err
	}
	return p.module.Run(ctx, l.runConfig(p, call))
}

// HandlesHTTP reports whether the component exports
// wasi:http/incoming-handler. Components that do not are served as WAGI.
func (l *ComponentLoader) HandlesHTTP(ctx context.Context, id string) (bool, error) {
	p, err := l.prepare(ctx, id)
	if err != nil {
		return false, err
	}
	return p.module.HandlesHTTP(), nil
}

// ServeHTTP runs the component's incoming-handler for req, whose body has
// already been read into body.
func (l *ComponentLoader) ServeHTTP(ctx context.Context, call Call, req *http.Request, body []byte) (*engine.Response, error) {
	p, err := l.prepare(ctx, call.Component)
	if err != nil {
		return nil, err
	}
	return p.module.HandleHTTP(ctx, l.runConfig(p, call), req, body)
}

func (l *ComponentLoader) runConfig(p *prepared, call Call) engine.RunConfig {
	env := make(map[string]string, len(p.env)+len(call.Env))
	for k, v := range p.env {
		env[k] = v
	}
	for k, v := range call.Env {
		env[k] = v
	}

	stderr := call.Stderr
	if stderr == nil {
		stderr = l.stderr
	}

	return engine.RunConfig{
		Name:                 call.Component,
		Args:                 call.Args,
		Env:                  env,
		Stdin:                call.Stdin,
		Stdout:               call.Stdout,
		Stderr:               stderr,
		Mounts:               p.mounts,
		AllowedOutboundHosts: p.outbound,
	}
}

// Close removes staged files. Instances started afterwards fail.
func (l *ComponentLoader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.stageRoot == "" {
		return nil
	}
	return os.RemoveAll(l.stageRoot)
}

// ComponentIDs returns the distinct components bound by triggers of the
// given type, sorted.
func ComponentIDs(a *app.App, triggerType string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range a.TriggersOfType(triggerType) {
		id := t.ComponentID()
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func envKey(k string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(k))
}

func stageError(component, p string, err error) error {
	return errors.New(errors.PhaseLoad, errors.KindIO).
		Component(component).Path(p).Detail("stage file").Cause(err).Build()
}

func writeStaged(dst string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
