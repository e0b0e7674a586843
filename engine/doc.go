// Package engine runs application components on wazero.
//
// Compile accepts both core WebAssembly modules and component-model
// binaries:
//
//	Engine  - the runtime, its memory limit and compilation cache
//	Module  - a compiled module or component; every Run creates a fresh instance
//
// # Execution
//
// Core modules run against WASI preview1. Module.Run instantiates the module
// with the given args, env, stdio and directory mounts and calls its
// entrypoint (_start by default).
//
// Components run against the WASI preview2 hosts in wasi/preview2. Run calls
// the wasi:cli/run export; HandleHTTP drives wasi:http/incoming-handler and
// returns the response the guest set on its outparam. Each component run
// gets its own wazero runtime, linker and host state, while compiled code is
// shared through the engine's compilation cache. Host functions are bound by
// reflection: exported methods of a Host are converted to kebab-case WIT
// names and matched against the component's canon lowers, with semver
// matching between host and import versions.
//
// Instances close when the run context is cancelled, which is how trigger
// shutdown interrupts long-running guests. A non-zero exit status is
// returned as *ExitError; a component whose run export returns err exits
// with status 1.
//
// # Precompilation
//
// With Config.CompilationCacheDir set, compiled machine code is persisted
// on disk. Precompile fills that cache ahead of time from wasm layers, and
// CompatibilityHash names the engine build the artifacts belong to so that
// caches from other wazero versions or platforms are never reused.
//
// # Known Limitations
//
// wasi:sockets is not provided. Component model async (streams, futures and
// tasks) is not supported.
package engine
