package engine

import (
	"context"
	"encoding/hex"
	"runtime"
	"runtime/debug"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	spinshim "github.com/wippyai/spin-shim"
	"github.com/wippyai/spin-shim/errors"
)

const wazeroModule = "github.com/tetratelabs/wazero"

// Features describes the engine settings that change compiled output.
const Features = "core-v2,wasi-preview1,component-model,wasi-preview2"

// WazeroVersion returns the wazero module version linked into the binary,
// or "unknown" when build info is unavailable.
func WazeroVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, dep := range info.Deps {
		if dep.Path == wazeroModule {
			if dep.Replace != nil {
				return dep.Replace.Version
			}
			return dep.Version
		}
	}
	return "unknown"
}

// CompatibilityHash identifies engines whose precompiled artifacts are
// interchangeable. It changes with the wazero version, the platform and
// the feature set.
func CompatibilityHash() string {
	h := blake3.New()
	h.Write([]byte(wazeroModule + "@" + WazeroVersion()))
	h.Write([]byte{0})
	h.Write([]byte(runtime.GOOS + "/" + runtime.GOARCH))
	h.Write([]byte{0})
	h.Write([]byte(Features))
	return hex.EncodeToString(h.Sum(nil))
}

// Precompile compiles every wasm module layer into the engine's compilation
// cache. The result has one entry per layer: true when the layer was
// compiled, false when it was skipped. Components are linked against the
// WASI preview2 hosts so that their core modules land in the cache too.
// Layers of other media types are skipped.
func (e *Engine) Precompile(ctx context.Context, layers []spinshim.Layer) ([]bool, error) {
	if e.cfg.CompilationCacheDir == "" {
		return nil, errors.InvalidInput(errors.PhaseCompile, "precompile requires a compilation cache directory")
	}

	out := make([]bool, len(layers))
	for i, layer := range layers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if layer.MediaType != spinshim.MediaTypeWasm && layer.MediaType != spinshim.MediaTypeWasmPackage {
			continue
		}
		if err := e.precompileLayer(ctx, layer.Data); err != nil {
			return nil, errors.New(errors.PhaseCompile, errors.KindInvalidData).
				Digest(layer.Digest.String()).Detail("precompile layer %d", i).Cause(err).Build()
		}
		out[i] = true
		Logger().Debug("precompiled layer", zap.Stringer("digest", layer.Digest))
	}
	return out, nil
}

func (e *Engine) precompileLayer(ctx context.Context, wasm []byte) error {
	if IsComponent(wasm) {
		c, err := e.compileComponent(ctx, wasm)
		if err != nil {
			return err
		}
		return c.close(ctx)
	}
	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return err
	}
	return compiled.Close(ctx)
}
