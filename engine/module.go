package engine

import (
	"context"
	"crypto/rand"
	stderrors "errors"
	"fmt"
	"io"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wippyai/spin-shim/errors"
)

// DefaultEntrypoint is the WASI command entrypoint.
const DefaultEntrypoint = "_start"

// Module is a compiled core module or component. Each Run creates a fresh
// instance, so a Module may run concurrently.
type Module struct {
	engine    *Engine
	compiled  wazero.CompiledModule
	component *compiledComponent
}

// Mount exposes a host directory to the guest.
type Mount struct {
	HostPath  string
	GuestPath string
	ReadOnly  bool
}

// RunConfig describes one instance run.
type RunConfig struct {
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
	Env        map[string]string
	Name       string
	Entrypoint string
	Args       []string
	Mounts     []Mount

	// AllowedOutboundHosts gates wasi:http outgoing requests of components.
	AllowedOutboundHosts []string
}

func (rc RunConfig) name() string {
	if rc.Name == "" {
		return "module"
	}
	return rc.Name
}

// ExitError reports a non-zero WASI exit status.
type ExitError struct {
	Name string
	Code uint32
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Name, e.Code)
}

// IsComponent reports whether the module is a component.
func (m *Module) IsComponent() bool {
	return m.component != nil
}

// Imports lists the module's imports as module.name pairs, or the
// interface#function names a component lowers.
func (m *Module) Imports() []string {
	if m.component != nil {
		return m.component.imports()
	}
	var out []string
	for _, def := range m.compiled.ImportedFunctions() {
		mod, name, _ := def.Import()
		out = append(out, mod+"."+name)
	}
	return out
}

// Exports lists the names of the module's exported functions, or a
// component's exported interfaces and functions.
func (m *Module) Exports() []string {
	if m.component != nil {
		return m.component.exports()
	}
	defs := m.compiled.ExportedFunctions()
	out := make([]string, 0, len(defs))
	for name := range defs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Run instantiates the module and calls its entrypoint; a component runs
// its wasi:cli/run export instead. A zero exit status and a normal return
// are both success, and a component returning the err case exits with 1.
// Cancelling ctx closes the instance and Run returns ctx.Err().
func (m *Module) Run(ctx context.Context, rc RunConfig) error {
	if m.component != nil {
		return m.runComponent(ctx, rc)
	}
	if err := m.engine.InitWASI(ctx); err != nil {
		return err
	}

	entry := rc.Entrypoint
	if entry == "" {
		entry = DefaultEntrypoint
	}
	name := rc.name()

	modCfg := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions(entry).
		WithArgs(append([]string{name}, rc.Args...)...).
		WithSysWalltime().
		WithSysNanotime().
		WithRandSource(rand.Reader)

	if rc.Stdin != nil {
		modCfg = modCfg.WithStdin(rc.Stdin)
	}
	if rc.Stdout != nil {
		modCfg = modCfg.WithStdout(rc.Stdout)
	}
	if rc.Stderr != nil {
		modCfg = modCfg.WithStderr(rc.Stderr)
	}

	keys := make([]string, 0, len(rc.Env))
	for k := range rc.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		modCfg = modCfg.WithEnv(k, rc.Env[k])
	}

	if len(rc.Mounts) > 0 {
		fsCfg := wazero.NewFSConfig()
		for _, mnt := range rc.Mounts {
			if mnt.ReadOnly {
				fsCfg = fsCfg.WithReadOnlyDirMount(mnt.HostPath, mnt.GuestPath)
			} else {
				fsCfg = fsCfg.WithDirMount(mnt.HostPath, mnt.GuestPath)
			}
		}
		modCfg = modCfg.WithFSConfig(fsCfg)
	}

	Logger().Debug("running module", zap.String("name", name), zap.String("entrypoint", entry))

	mod, err := m.engine.runtime.InstantiateModule(ctx, m.compiled, modCfg)
	if mod != nil {
		defer mod.Close(context.WithoutCancel(ctx))
	}
	var exitErr *sys.ExitError
	if err != nil && !stderrors.As(err, &exitErr) && ctx.Err() == nil {
		return errors.New(errors.PhaseRun, errors.KindRuntime).
			Component(name).Detail("module trapped").Cause(err).Build()
	}
	return exitStatus(ctx, name, err)
}

// Close releases the compiled module.
func (m *Module) Close(ctx context.Context) error {
	if m.component != nil {
		return m.component.close(ctx)
	}
	return m.compiled.Close(ctx)
}
