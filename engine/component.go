package engine

import (
	"context"
	stderrors "errors"
	"net/http"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wippyai/spin-shim/component"
	"github.com/wippyai/spin-shim/errors"
	"github.com/wippyai/spin-shim/linker"
	wasihttp "github.com/wippyai/spin-shim/wasi/preview2/http"
)

// Component exports the engine knows how to drive.
const (
	RunInterface     = "wasi:cli/run"
	HandlerInterface = "wasi:http/incoming-handler"
)

// compiledComponent is a validated component with its canon metadata.
// Host state is per run: each run gets its own runtime, linker and WASI
// host set, and shares compiled code through the engine's cache.
type compiledComponent struct {
	validated *component.ValidatedComponent
	registry  *component.CanonRegistry
	pre       *linker.InstancePre
	run       string
	handle    string
}

func (e *Engine) compileComponent(ctx context.Context, wasm []byte) (*compiledComponent, error) {
	validated, err := component.DecodeAndValidate(wasm)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCompile, errors.KindInvalidData, err, "decode component")
	}
	comp := validated.Raw

	resolver := component.NewTypeResolverWithInstances(comp.TypeIndexSpace, comp.InstanceTypes)
	registry, err := component.NewCanonRegistry(comp, resolver)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCompile, errors.KindInvalidData, err, "build canon registry")
	}

	c := &compiledComponent{validated: validated, registry: registry}
	c.run = c.findExport(RunInterface, "run")
	c.handle = c.findExport(HandlerInterface, "handle")

	// Linking against a throwaway host set rejects unsatisfiable imports
	// now and fills the compilation cache for later runs.
	hosts := newHostSet(RunConfig{})
	defer hosts.close()
	l := linker.New(e.runtime, linker.Options{SemverMatching: true})
	if err := c.bind(l, hosts.hosts); err != nil {
		return nil, err
	}
	pre, err := l.Instantiate(ctx, validated)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLink, errors.KindInvalidData, err, "link component")
	}
	c.pre = pre

	Logger().Debug("component compiled",
		zap.Int("core_modules", len(comp.CoreModules)),
		zap.String("run", c.run),
		zap.String("handle", c.handle))
	return c, nil
}

// findExport returns the lifted export name of fn on iface at any version.
func (c *compiledComponent) findExport(iface, fn string) string {
	for _, lift := range c.registry.AllLifts() {
		ns, name := splitLowerName(lift.Name)
		if name != fn {
			continue
		}
		if base, _, _ := parseNamespaceVersion(ns); base == iface {
			return lift.Name
		}
	}
	return ""
}

func (c *compiledComponent) imports() []string {
	lowers := c.registry.AllLowers()
	out := make([]string, 0, len(lowers))
	for _, def := range lowers {
		out = append(out, def.Name)
	}
	sort.Strings(out)
	return out
}

func (c *compiledComponent) exports() []string {
	out := make([]string, 0, len(c.validated.Raw.Exports))
	for _, exp := range c.validated.Raw.Exports {
		out = append(out, exp.Name)
	}
	sort.Strings(out)
	return out
}

func (c *compiledComponent) close(ctx context.Context) error {
	if c.pre == nil {
		return nil
	}
	return c.pre.Close(ctx)
}

// invoke instantiates the component on a fresh runtime with hosts bound,
// runs call, and maps guest exits and traps to errors.
func (c *compiledComponent) invoke(ctx context.Context, e *Engine, hosts *hostSet, name string,
	call func(context.Context, *linker.Instance) error,
) error {
	rt := e.newRuntime(ctx)
	defer rt.Close(context.WithoutCancel(ctx))

	l := linker.New(rt, linker.Options{SemverMatching: true})
	if err := c.bind(l, hosts.hosts); err != nil {
		return err
	}
	pre, err := l.Instantiate(ctx, c.validated)
	if err != nil {
		return errors.New(errors.PhaseLink, errors.KindRuntime).
			Component(name).Detail("link component").Cause(err).Build()
	}

	inst, err := pre.NewInstance(ctx)
	if err == nil {
		defer inst.Close(context.WithoutCancel(ctx))
		err = call(linker.WithInstance(ctx, inst), inst)
	}
	return exitStatus(ctx, name, err)
}

// exitStatus maps a run error: a zero exit status is success, cancellation
// reports ctx.Err().
func exitStatus(ctx context.Context, name string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var exitErr *sys.ExitError
	if stderrors.As(err, &exitErr) {
		if exitErr.ExitCode() == 0 {
			return nil
		}
		return &ExitError{Name: name, Code: exitErr.ExitCode()}
	}

	var exit *ExitError
	if stderrors.As(err, &exit) {
		return exit
	}
	return errors.New(errors.PhaseRun, errors.KindRuntime).
		Component(name).Detail("component trapped").Cause(err).Build()
}

func (m *Module) runComponent(ctx context.Context, rc RunConfig) error {
	c := m.component
	name := rc.name()
	if c.run == "" {
		return errors.Unsupported(errors.PhaseRun, "component without a "+RunInterface+" export")
	}

	hosts := newHostSet(rc)
	defer hosts.close()

	Logger().Debug("running component", zap.String("name", name), zap.String("export", c.run))

	return c.invoke(ctx, m.engine, hosts, name, func(ctx context.Context, inst *linker.Instance) error {
		results, err := inst.Call(ctx, c.run)
		if err != nil {
			return err
		}
		if runFailed(results) {
			return &ExitError{Name: name, Code: 1}
		}
		return nil
	})
}

// runFailed reports whether run returned the err case of result<_, _>.
func runFailed(results []any) bool {
	if len(results) == 0 {
		return false
	}
	m, ok := results[0].(map[string]any)
	if !ok {
		return false
	}
	_, failed := m["err"]
	return failed
}

// Response is the HTTP response a component handler produced.
type Response struct {
	Header http.Header
	Body   []byte
	Status int
}

// HandlesHTTP reports whether the module is a component exporting
// wasi:http/incoming-handler.
func (m *Module) HandlesHTTP() bool {
	return m.component != nil && m.component.handle != ""
}

// HandleHTTP runs the component's incoming-handler for one request. The
// request body has already been read into body. Stdin, Args and Entrypoint
// of rc are ignored.
func (m *Module) HandleHTTP(ctx context.Context, rc RunConfig, req *http.Request, body []byte) (*Response, error) {
	if !m.HandlesHTTP() {
		return nil, errors.Unsupported(errors.PhaseRun, "module without a "+HandlerInterface+" export")
	}
	c := m.component
	name := rc.name()

	rc.Stdin = nil
	hosts := newHostSet(rc)
	defer hosts.close()

	request, outparam := hosts.http.Begin(&wasihttp.Request{Request: req, Body: body})

	err := c.invoke(ctx, m.engine, hosts, name, func(ctx context.Context, inst *linker.Instance) error {
		_, err := inst.CallRaw(ctx, c.handle, uint64(request), uint64(outparam))
		return err
	})
	if err != nil {
		return nil, err
	}

	resp := hosts.http.GetResponse()
	if resp == nil {
		return nil, errors.New(errors.PhaseRun, errors.KindRuntime).
			Component(name).Detail("handler returned without setting a response").Build()
	}

	header := make(http.Header, len(resp.Headers))
	for k, vs := range resp.Headers {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	return &Response{Status: int(resp.StatusCode), Header: header, Body: resp.Body}, nil
}

// newRuntime creates a runtime sharing the engine's configuration and
// compilation cache.
func (e *Engine) newRuntime(ctx context.Context) wazero.Runtime {
	return wazero.NewRuntimeWithConfig(ctx, e.runtimeCfg)
}
