package engine

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/spin-shim/component"
	"github.com/wippyai/spin-shim/errors"
	"github.com/wippyai/spin-shim/linker"
	"github.com/wippyai/spin-shim/transcoder"
	"github.com/wippyai/spin-shim/wasi/preview2"
	"github.com/wippyai/spin-shim/wasi/preview2/cli"
	"github.com/wippyai/spin-shim/wasi/preview2/clocks"
	"github.com/wippyai/spin-shim/wasi/preview2/filesystem"
	wasihttp "github.com/wippyai/spin-shim/wasi/preview2/http"
	wasiio "github.com/wippyai/spin-shim/wasi/preview2/io"
	"github.com/wippyai/spin-shim/wasi/preview2/random"
)

// Host is a struct-based host interface. Exported methods other than
// Namespace are bound as functions of the WIT interface Namespace returns,
// named by converting PascalCase to kebab-case.
type Host interface {
	Namespace() string
}

// ExplicitRegistrar lets a host name its functions directly, for WIT names
// such as "[method]fields.append" that kebab-case conversion cannot produce.
type ExplicitRegistrar interface {
	Register() map[string]any
}

type hostFunc struct {
	handler   any
	namespace string
	name      string
}

func hostFuncs(h Host) []hostFunc {
	ns := h.Namespace()

	if er, ok := h.(ExplicitRegistrar); ok {
		funcs := er.Register()
		out := make([]hostFunc, 0, len(funcs))
		for name, fn := range funcs {
			out = append(out, hostFunc{namespace: ns, name: name, handler: fn})
		}
		return out
	}

	rv := reflect.ValueOf(h)
	rt := rv.Type()
	out := make([]hostFunc, 0, rt.NumMethod())
	for i := 0; i < rt.NumMethod(); i++ {
		m := rt.Method(i)
		if !m.IsExported() || m.Name == "Namespace" {
			continue
		}
		out = append(out, hostFunc{namespace: ns, name: toKebabCase(m.Name), handler: rv.Method(i).Interface()})
	}
	return out
}

// hostSet is the WASI preview2 state of one component run.
type hostSet struct {
	wasi  *preview2.WASI
	http  *wasihttp.TypesHost
	hosts []Host
}

func newHostSet(rc RunConfig) *hostSet {
	w := preview2.New().WithArgs(append([]string{rc.name()}, rc.Args...))
	if rc.Env != nil {
		w = w.WithEnv(rc.Env)
	}
	if rc.Stdin != nil {
		w = w.WithStdinReader(rc.Stdin)
	}
	if rc.Stdout != nil {
		w = w.WithStdout(rc.Stdout)
	}
	if rc.Stderr != nil {
		w = w.WithStderr(rc.Stderr)
	}

	preopens := make(map[string]string, len(rc.Mounts))
	var readOnly []string
	for _, mnt := range rc.Mounts {
		preopens[mnt.GuestPath] = mnt.HostPath
		if mnt.ReadOnly {
			readOnly = append(readOnly, mnt.GuestPath)
		}
	}
	w = w.WithPreopens(preopens)

	res := w.Resources()
	streams := wasiio.NewHost(res)
	httpTypes := wasihttp.NewTypesHost(res)

	return &hostSet{
		wasi: w,
		http: httpTypes,
		hosts: []Host{
			streams.Error,
			streams.Poll,
			streams.Streams,
			clocks.NewMonotonicClockHost(res),
			clocks.NewWallClockHost(),
			random.NewSecureRandomHost(),
			random.NewInsecureRandomHost(),
			random.NewInsecureSeedHost(),
			cli.NewEnvironmentHost(w.Env(), w.Args(), w.Cwd()),
			cli.NewExitHost(),
			cli.NewStdioHost(res, w.Stdin(), w.StdoutResource(), w.StderrResource()),
			cli.NewStdoutHost(res, w.StdoutResource()),
			cli.NewStderrHost(res, w.StderrResource()),
			cli.NewTerminalStdinHost(),
			cli.NewTerminalStdoutHost(),
			cli.NewTerminalStderrHost(),
			filesystem.NewTypesHost(res),
			filesystem.NewPreopensHost(res, w.Preopens()).WithReadOnly(readOnly...),
			httpTypes,
			wasihttp.NewOutgoingHandlerHost(res).WithAllowedHosts(rc.AllowedOutboundHosts),
		},
	}
}

func (s *hostSet) close() {
	s.wasi.Close()
}

// bind defines every host function the component imports on l. Host
// functions the component does not import are skipped.
func (c *compiledComponent) bind(l *linker.Linker, hosts []Host) error {
	compiler := transcoder.NewCompiler()
	for _, h := range hosts {
		for _, hf := range hostFuncs(h) {
			if err := c.bindFunc(l, hf, compiler); err != nil {
				return errors.Registration(hf.namespace, hf.name, err)
			}
		}
	}
	return nil
}

func (c *compiledComponent) bindFunc(l *linker.Linker, hf hostFunc, compiler *transcoder.Compiler) error {
	ns := l.Namespace(hf.namespace)

	def := c.findLower(hf.namespace, hf.name)
	if def == nil {
		// Resource drops live in core space, not in canon lowers.
		witName := kebabToWitName(hf.name)
		if !isResourceDropImport(witName) {
			return nil
		}
		fn, err := resourceDropFunc(hf.handler)
		if err != nil {
			return err
		}
		params := []api.ValueType{api.ValueTypeI32}
		ns.DefineFunc(witName, fn, params, nil)
		if witName != hf.name {
			ns.DefineFunc(hf.name, fn, params, nil)
		}
		return nil
	}

	w, err := newHostLower(def, hf.handler, compiler)
	if err != nil {
		return err
	}
	fn := w.rawFunc()
	params, results := w.flatParamTypes(), w.flatResultTypes()

	_, witName := splitLowerName(def.Name)
	ns.DefineFunc(witName, fn, params, results)
	if witName != hf.name {
		ns.DefineFunc(hf.name, fn, params, results)
	}
	return nil
}

// findLower looks up the canon.lower for a host function. A host at X.Y.Z
// satisfies imports of X.Y.W where W <= Z; exact names win.
func (c *compiledComponent) findLower(namespace, name string) *component.LowerDef {
	variants := []string{name}
	if witName := kebabToWitName(name); witName != name {
		variants = append(variants, witName)
	}

	for _, n := range variants {
		if def := c.registry.FindLower(namespace + "#" + n); def != nil {
			return def
		}
	}

	hostBase, hostVersion, ok := parseNamespaceVersion(namespace)
	if !ok {
		return nil
	}

	for _, def := range c.registry.AllLowers() {
		lowerNs, lowerFunc := splitLowerName(def.Name)
		if lowerNs == "" || !contains(variants, lowerFunc) {
			continue
		}
		base, version, ok := parseNamespaceVersion(lowerNs)
		if ok && base == hostBase && hostVersion.Compatible(version) {
			return def
		}
	}
	return nil
}

// parseNamespaceVersion splits "wasi:io/streams@0.2.8" into its base path
// and version.
func parseNamespaceVersion(namespace string) (string, linker.Version, bool) {
	idx := strings.LastIndexByte(namespace, '@')
	if idx == -1 {
		return namespace, linker.Version{}, false
	}
	version, ok := linker.ParseVersion(namespace[idx+1:])
	return namespace[:idx], version, ok
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func resourceDropFunc(handler any) (api.GoModuleFunc, error) {
	switch h := handler.(type) {
	case func(context.Context, uint32):
		return func(ctx context.Context, _ api.Module, stack []uint64) {
			h(ctx, uint32(stack[0]))
		}, nil
	case func(uint32):
		return func(_ context.Context, _ api.Module, stack []uint64) {
			h(uint32(stack[0]))
		}, nil
	}
	return nil, fmt.Errorf("resource-drop handler must be func(context.Context, uint32), got %T", handler)
}
