// Package spinshim is the control layer of a containerd shim that runs Spin
// WebAssembly applications.
//
// The host container runtime invokes the shim once per container start with
// either a list of OCI content layers or a local manifest file. The shim
// resolves the layers into a content-addressed cache, builds one locked
// application descriptor, launches one task per trigger type the descriptor
// declares, and exits with the outcome of whichever task finishes first.
//
// # Architecture Overview
//
//	spinshim/            Root package with Layer, Invocation, media types and paths
//	├── errors/          Structured error types (phase + kind + context)
//	├── config/          Environment and runtime-config.toml handling
//	├── cache/           Content-addressed layer cache and archive unpacking
//	├── source/          Layer classification and source resolution
//	├── app/             Locked application descriptor and its loaders
//	├── engine/          wazero-backed compile and run engine
//	├── trigger/         Trigger selection, supervision and executors
//	└── shim/            End-to-end orchestration returning an exit code
//
// # Quick Start
//
//	s, err := shim.New(shim.Options{CacheDir: "/.spin-cache", Logger: logger})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	code, err := s.Run(ctx, spinshim.Invocation{Layers: layers, Env: env})
//	os.Exit(code)
//
// # Sources
//
// An invocation resolves to exactly one of three sources:
//
//	LocalFile            spin.toml on the container filesystem
//	RegistryApplication  locked app JSON plus cached wasm/data layers
//	RegistryPackage      a single packaged component layer
//
// # Triggers
//
// Supported trigger types are http, redis, mqtt, sqs and command. Duplicate
// declarations of one type start a single task. The first task to exit
// decides the run; the others are cancelled and joined.
package spinshim
