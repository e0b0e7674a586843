// Package app defines the application descriptor shared by every trigger
// and builds it from a resolved source.
//
// The descriptor is JSON-compatible with the Spin locked app format. It is
// produced one of three ways:
//
//   - from a version 2 spin.toml on the container filesystem (LoadManifest)
//   - from a locked app written by the source resolver, with every digest
//     reference rewritten to its cache entry
//   - synthesized around a single packaged component (FromWasmFile)
//
// After loading, Retain narrows the descriptor to an allow-list of
// components and ResolveVariables computes variable values. The result is
// shared read-only by all trigger tasks.
package app
