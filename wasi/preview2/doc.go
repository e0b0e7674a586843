// Package preview2 implements the WASI Preview2 component model interfaces.
//
// This package provides resources and host implementations for the WASI Preview2
// specification, enabling WebAssembly components to interact with the host system.
//
// # Quick Start
//
// Create a WASI context per run; the engine binds its hosts to the
// component's canon lowers:
//
//	wasi := preview2.New().
//	    WithEnv(map[string]string{"SPIN_CONFIG_GREETING": "hi"}).
//	    WithArgs([]string{"hello"}).
//	    WithStdout(os.Stdout)
//
// # Configuration Options
//
// The WASI context can be configured with various options:
//
//   - WithEnv: Set environment variables accessible to the component
//   - WithArgs: Set command-line arguments (argv)
//   - WithCwd: Set the current working directory
//   - WithStdin, WithStdinReader: Provide data for stdin reads
//   - WithStdout, WithStderr: Forward guest output to a writer
//   - WithPreopens: Map host directories to component paths
//
// # Resource Management
//
// WASI Preview2 uses a resource-oriented design where handles represent
// capabilities granted to components:
//
//   - ResourceTable: Manages handle lifecycle and ownership
//   - Resource: Interface for all WASI resources (streams, files, fields)
//   - Pollable: Interface for resources that support async polling
//
// Resources are automatically cleaned up when the component exits or when
// handles are explicitly dropped.
//
// # Implemented Interfaces
//
// Sub-packages provide implementations of specific WASI interfaces:
//
//   - cli: Command-line environment (get-environment, get-arguments, exit)
//   - clocks: Wall clock and monotonic clock with subscription support
//   - filesystem: File and directory operations with capability-based access
//   - io: Input/output streams with blocking and non-blocking modes
//   - random: Cryptographic (get-random-bytes) and insecure random sources
//   - http: HTTP client (outgoing-handler) and server (incoming-handler)
//
// # Capturing Output
//
// Without WithStdout/WithStderr the streams buffer in memory:
//
//	stdout := wasi.Stdout()
//	stderr := wasi.Stderr()
//
// # Thread Safety
//
// A single WASI context should be used with one component instance at a time.
// For concurrent component execution, create separate WASI contexts.
package preview2
