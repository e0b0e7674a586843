package engine

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/wippyai/spin-shim/errors"
)

// PageSize is the size of one WebAssembly memory page.
const PageSize = 65536

// maxPages is the largest memory a 32-bit module can address.
const maxPages = 65536

// Engine compiles and runs core modules and components. Core modules run on
// a shared runtime; components get a runtime per run. All runtimes share
// one compilation cache. It is safe for concurrent use.
type Engine struct {
	runtime      wazero.Runtime
	runtimeCfg   wazero.RuntimeConfig
	cache        wazero.CompilationCache
	cfg          Config
	wasiInitMu   sync.Mutex
	wasiInitDone atomic.Bool
}

// Config holds configuration for engine creation
type Config struct {
	// MaxInstanceMemory caps linear memory per instance in bytes, rounded up
	// to whole pages. 0 means the wazero default (4GB).
	MaxInstanceMemory uint64

	// CompilationCacheDir enables the on-disk compilation cache when set.
	CompilationCacheDir string
}

// MemoryLimitPages converts the byte limit into wasm pages.
func (c Config) MemoryLimitPages() uint32 {
	if c.MaxInstanceMemory == 0 {
		return 0
	}
	pages := (c.MaxInstanceMemory + PageSize - 1) / PageSize
	if pages > maxPages {
		return maxPages
	}
	return uint32(pages)
}

// New creates an engine. Running instances are closed when their context
// is cancelled.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)

	if pages := cfg.MemoryLimitPages(); pages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(pages)
	}

	cache := wazero.NewCompilationCache()
	if cfg.CompilationCacheDir != "" {
		var err error
		cache, err = wazero.NewCompilationCacheWithDir(cfg.CompilationCacheDir)
		if err != nil {
			return nil, errors.New(errors.PhaseCompile, errors.KindIO).
				Path(cfg.CompilationCacheDir).Detail("open compilation cache").Cause(err).Build()
		}
	}
	runtimeCfg = runtimeCfg.WithCompilationCache(cache)

	Logger().Debug("engine created",
		zap.Uint32("memory_limit_pages", cfg.MemoryLimitPages()),
		zap.String("compilation_cache", cfg.CompilationCacheDir))

	return &Engine{
		runtime:    wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		runtimeCfg: runtimeCfg,
		cache:      cache,
		cfg:        cfg,
	}, nil
}

// Close releases the runtime and every module compiled by it.
func (e *Engine) Close(ctx context.Context) error {
	err := e.runtime.Close(ctx)
	if cerr := e.cache.Close(ctx); err == nil {
		err = cerr
	}
	return err
}

// InitWASI instantiates WASI preview1 on the shared runtime for core
// modules. Safe for concurrent calls from multiple modules sharing the same
// engine.
func (e *Engine) InitWASI(ctx context.Context) error {
	if e.wasiInitDone.Load() {
		return nil
	}

	e.wasiInitMu.Lock()
	defer e.wasiInitMu.Unlock()

	if e.wasiInitDone.Load() {
		return nil
	}

	if e.runtime.Module(wasi_snapshot_preview1.ModuleName) != nil {
		e.wasiInitDone.Store(true)
		return nil
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, e.runtime); err != nil {
		if e.runtime.Module(wasi_snapshot_preview1.ModuleName) == nil {
			return errors.Wrap(errors.PhaseCompile, errors.KindRuntime, err, "instantiate WASI")
		}
	}

	e.wasiInitDone.Store(true)
	return nil
}

// Compile validates and compiles a core module or a component. Components
// are linked against the WASI preview2 hosts here, so unsatisfiable imports
// fail at compile time.
func (e *Engine) Compile(ctx context.Context, wasm []byte) (*Module, error) {
	if IsComponent(wasm) {
		c, err := e.compileComponent(ctx, wasm)
		if err != nil {
			return nil, err
		}
		return &Module{engine: e, component: c}, nil
	}
	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCompile, errors.KindInvalidData, err, "compile module")
	}
	return &Module{engine: e, compiled: compiled}, nil
}

// IsComponent reports whether data is a component-model binary: the wasm
// magic followed by a layer/version word other than 1.
func IsComponent(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	if data[0] != 0x00 || data[1] != 0x61 || data[2] != 0x73 || data[3] != 0x6D {
		return false
	}
	return binary.LittleEndian.Uint32(data[4:8]) > 1
}
